package query

import (
	"strconv"
	"strings"

	"github.com/leapstack-labs/leapmetrics/pkg/dialect"
)

// cte is a named common table expression.
type cte struct {
	name string
	sql  string
}

// statement assembles one SELECT. Every clause holds rendered SQL; the
// statement only decides layout.
type statement struct {
	with    []cte
	selects []string
	from    string
	joins   []string
	where   []string
	groupBy []string
	having  []string
	orderBy []string
	limit   int
	// top renders the limit as SELECT TOP n.
	top bool
}

func newStatement(d dialect.Dialect) *statement {
	name := d.Name()
	return &statement{top: name == dialect.SQLServer || name == dialect.AzureSynapse}
}

func (s *statement) addCTE(name, sql string) {
	s.with = append(s.with, cte{name: name, sql: sql})
}

func (s *statement) hasCTE(name string) bool {
	for _, c := range s.with {
		if c.name == name {
			return true
		}
	}
	return false
}

func (s *statement) join(kind, table, on string) {
	if on == "" {
		s.joins = append(s.joins, kind+" "+table)
		return
	}
	s.joins = append(s.joins, kind+" "+table+" ON "+on)
}

func (s *statement) orderByField(alias string, desc bool) {
	dir := " ASC"
	if desc {
		dir = " DESC"
	}
	s.orderBy = append(s.orderBy, alias+dir)
}

// String renders the statement without a terminating semicolon.
func (s *statement) String() string {
	var b strings.Builder
	if len(s.with) > 0 {
		b.WriteString("WITH ")
		for i, c := range s.with {
			if i > 0 {
				b.WriteString(" ,")
			}
			b.WriteString(c.name)
			b.WriteString(" AS (")
			b.WriteString(c.sql)
			b.WriteString(")")
		}
		b.WriteString(" ")
	}
	b.WriteString("SELECT ")
	if s.top && s.limit > 0 {
		b.WriteString("TOP ")
		b.WriteString(strconv.Itoa(s.limit))
		b.WriteString(" ")
	}
	b.WriteString(strings.Join(s.selects, ","))
	if s.from != "" {
		b.WriteString(" FROM ")
		b.WriteString(s.from)
	}
	for _, j := range s.joins {
		b.WriteString(" ")
		b.WriteString(j)
	}
	if len(s.where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(s.where, " AND "))
	}
	if len(s.groupBy) > 0 {
		b.WriteString(" GROUP BY ")
		b.WriteString(strings.Join(s.groupBy, ","))
	}
	if len(s.having) > 0 {
		b.WriteString(" HAVING ")
		b.WriteString(strings.Join(s.having, " AND "))
	}
	if len(s.orderBy) > 0 {
		b.WriteString(" ORDER BY ")
		b.WriteString(strings.Join(s.orderBy, ","))
	}
	if !s.top && s.limit > 0 {
		b.WriteString(" LIMIT ")
		b.WriteString(strconv.Itoa(s.limit))
	}
	return b.String()
}

// finish renders the statement as a complete query for d.
func finish(d dialect.Dialect, sql string) string {
	if d.Features().Semicolon {
		return sql + ";"
	}
	return sql
}

func as(sql, alias string) string { return sql + " as " + alias }

// appendUnique appends the select items whose alias is not present yet.
func appendUnique(selects []string, items ...string) []string {
	for _, item := range items {
		alias := item
		if i := strings.LastIndex(item, " as "); i >= 0 {
			alias = item[i+4:]
		}
		dup := false
		for _, s := range selects {
			if strings.HasSuffix(s, " as "+alias) || s == alias {
				dup = true
				break
			}
		}
		if !dup {
			selects = append(selects, item)
		}
	}
	return selects
}
