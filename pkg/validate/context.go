package validate

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/leapstack-labs/leapmetrics/pkg/model"
)

// Context is the object a rule is checking, with the objects enclosing it.
// Project is always set; the rest depend on the rule's kind.
type Context struct {
	Project    *model.Project
	Model      *model.Model
	View       *model.View
	Field      *model.Field
	Identifier *model.Identifier
	Topic      *model.Topic
	Dashboard  *model.Dashboard
}

// source returns the declaration of the innermost object.
func (c *Context) source() model.Source {
	switch {
	case c.Field != nil:
		return c.Field.Source
	case c.Identifier != nil:
		return c.Identifier.Source
	case c.View != nil:
		return c.View.Source
	case c.Topic != nil:
		return c.Topic.Source
	case c.Dashboard != nil:
		return c.Dashboard.Source
	case c.Model != nil:
		return c.Model.Source
	}
	return model.Source{}
}

// Errorf returns a diagnostic for the current object located at the
// property path, for example "timeframes" or "filters.0.field". An empty
// path locates the object itself.
func (c *Context) Errorf(path, format string, args ...any) Diagnostic {
	src := c.source()
	pos := src.Position
	if path != "" {
		pos = src.Pos(path)
	}
	d := Diagnostic{
		Message: fmt.Sprintf(format, args...),
		File:    src.File,
		Line:    pos.Line,
		Column:  pos.Column,
	}
	if c.Model != nil {
		d.ModelName = c.Model.Name
	}
	if c.View != nil {
		d.ViewName = c.View.Name
		if d.ModelName == "" {
			d.ModelName = c.View.ModelName
		}
	}
	if c.Field != nil {
		d.FieldName = c.Field.Name
	}
	if c.Topic != nil {
		d.TopicName = c.Topic.Label
	}
	if c.Dashboard != nil {
		d.DashboardName = c.Dashboard.Name
	}
	return d
}

var nameRegex = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// ValidName reports whether name only uses letters, numbers and
// underscores.
func ValidName(name string) bool { return nameRegex.MatchString(name) }

// NameError is the message for an invalid object name.
func NameError(kind, name string) string {
	return fmt.Sprintf("%s name: %s is invalid. Please reference the naming conventions "+
		"(only letters, numbers, or underscores)", strings.ToUpper(kind[:1])+kind[1:], name)
}

// closeMatchCutoff is the minimum similarity of a suggestion.
const closeMatchCutoff = 0.6

// Suggest returns the candidate most similar to name, or the empty string
// when none is similar enough.
func Suggest(name string, candidates []string) string {
	type scored struct {
		name  string
		ratio float64
	}
	var matches []scored
	for _, c := range candidates {
		m := difflib.NewMatcher(strings.Split(name, ""), strings.Split(c, ""))
		if r := m.Ratio(); r >= closeMatchCutoff {
			matches = append(matches, scored{c, r})
		}
	}
	if len(matches) == 0 {
		return ""
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].ratio > matches[j].ratio })
	return matches[0].name
}

// DidYouMean returns " Did you mean x?" for the closest candidate, or the
// empty string.
func DidYouMean(name string, candidates []string) string {
	if s := Suggest(name, candidates); s != "" {
		return " Did you mean " + s + "?"
	}
	return ""
}
