package model

import (
	"sort"
	"strings"

	"github.com/leapstack-labs/leapmetrics/pkg/dialect"
)

// Join is an edge of the join graph: how View joins onto Base.
type Join struct {
	Base         string
	View         string
	Type         string
	Relationship string
	// SQLOn is the join condition with ${view.field} references.
	SQLOn  string
	Weight int

	project *Project
}

// SQLJoinType returns the join keyword, for example "LEFT JOIN".
func (j *Join) SQLJoinType() string {
	switch j.Type {
	case JoinInner:
		return "JOIN"
	case JoinFullOuter:
		return "FULL OUTER JOIN"
	case JoinCross:
		return "CROSS JOIN"
	}
	return "LEFT JOIN"
}

// ReplacedSQLOn renders the join condition for dialect d.
func (j *Join) ReplacedSQLOn(d dialect.Dialect) (string, error) {
	sql := j.SQLOn
	for _, ref := range References(sql) {
		viewName, name := SplitFieldName(ref)
		if viewName == "" {
			viewName = j.View
		}
		field, err := j.project.GetField(name, WithView(viewName))
		if err != nil {
			return "", err
		}
		replacement, err := field.SQLQuery(d, "", false)
		if err != nil {
			return "", err
		}
		sql = strings.ReplaceAll(sql, "${"+ref+"}", replacement)
	}
	return sql, nil
}

// RequiredViews returns the views the join condition references.
func (j *Join) RequiredViews() []string {
	seen := map[string]bool{}
	for _, ref := range References(j.SQLOn) {
		viewName, _ := SplitFieldName(ref)
		if viewName != "" {
			seen[viewName] = true
		}
	}
	views := make([]string, 0, len(seen))
	for v := range seen {
		views = append(views, v)
	}
	sort.Strings(views)
	return views
}
