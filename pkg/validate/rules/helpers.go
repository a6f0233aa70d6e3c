// Package rules registers the built-in validation rules.
//
//   - VM: models (names, connections, access grants, mappings)
//   - VV: views (names, tables, default dates, primary keys, filters)
//   - VF: fields (types, required properties, references, timeframes)
//   - VI: identifiers (types and explicit joins)
//   - VT: topics (views, joins, filters)
//   - VD: dashboards (elements and filters)
//   - VP: project wide uniqueness
package rules

import (
	"fmt"
	"reflect"
	"slices"
	"sort"
	"strings"

	"github.com/leapstack-labs/leapmetrics/pkg/model"
	"github.com/leapstack-labs/leapmetrics/pkg/validate"
)

// properties lists the yaml keys of a declaration struct plus extra.
func properties(v any, extra ...string) []string {
	t := reflect.TypeOf(v)
	out := slices.Clone(extra)
	for i := range t.NumField() {
		tag, _, _ := strings.Cut(t.Field(i).Tag.Get("yaml"), ",")
		if tag != "" && tag != "-" {
			out = append(out, tag)
		}
	}
	sort.Strings(out)
	return out
}

var (
	modelProperties      = properties(model.Model{}, "type")
	viewProperties       = properties(model.View{}, "type")
	fieldProperties      = properties(model.Field{}, "convert_tz")
	identifierProperties = properties(model.Identifier{})
	topicProperties      = properties(model.Topic{}, "type")
	dashboardProperties  = properties(model.Dashboard{}, "type")
)

// invalidProperties reports keys of raw that are not in valid.
func invalidProperties(ctx *validate.Context, raw map[string]any, valid []string, entity string) []validate.Diagnostic {
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var diags []validate.Diagnostic
	for _, k := range keys {
		if !slices.Contains(valid, k) {
			diags = append(diags, ctx.Errorf(k, "Property %s is present on %s, but it is not a valid property.%s",
				k, entity, validate.DidYouMean(k, valid)))
		}
	}
	return diags
}

func isString(v any) bool {
	_, ok := v.(string)
	return ok
}

// isBool accepts booleans and the yes/no spelling.
func isBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return true
	case string:
		return slices.Contains([]string{"yes", "no", "true", "false"}, strings.ToLower(b))
	}
	return false
}

func isList(v any) bool {
	_, ok := v.([]any)
	return ok
}

func isStringList(v any) bool {
	list, ok := v.([]any)
	if !ok {
		return false
	}
	for _, item := range list {
		if !isString(item) {
			return false
		}
	}
	return true
}

// typeChecks maps property names to a predicate and the expectation it
// enforces.
type typeCheck struct {
	key    string
	ok     func(any) bool
	expect string
}

var (
	mustBeString     = func(key string) typeCheck { return typeCheck{key, isString, "a string"} }
	mustBeBool       = func(key string) typeCheck { return typeCheck{key, isBool, "a boolean (true or false)"} }
	mustBeStringList = func(key string) typeCheck { return typeCheck{key, isStringList, "a list of strings"} }
	mustBeList       = func(key string) typeCheck { return typeCheck{key, isList, "a list"} }
)

// checkTypes reports each present property whose value fails its check,
// then each property the loader could not decode that no check covered.
func checkTypes(ctx *validate.Context, raw map[string]any, invalid []model.PropertyError, where string, checks ...typeCheck) []validate.Diagnostic {
	var diags []validate.Diagnostic
	flagged := make(map[string]bool)
	for _, c := range checks {
		v, ok := raw[c.key]
		if !ok || c.ok(v) {
			continue
		}
		flagged[c.key] = true
		diags = append(diags, ctx.Errorf(c.key, "The %s property, %v must be %s %s", c.key, v, c.expect, where))
	}
	for _, e := range invalid {
		if flagged[e.Key] {
			continue
		}
		diags = append(diags, ctx.Errorf(e.Key, "The %s property, %v is not a valid value %s", e.Key, e.Value, where))
	}
	return diags
}

// grantErrors reports required access grants that no model declares.
func grantErrors(ctx *validate.Context, m *model.Model, grants []string, where string) []validate.Diagnostic {
	var diags []validate.Diagnostic
	for i, name := range grants {
		if m != nil {
			if _, ok := m.AccessGrant(name); ok {
				continue
			}
		} else if anyModelGrant(ctx.Project, name) {
			continue
		}
		var known []string
		for _, mm := range ctx.Project.ListModels() {
			for _, g := range mm.AccessGrants {
				known = append(known, g.Name)
			}
		}
		diags = append(diags, ctx.Errorf(fmt.Sprintf("required_access_grants.%d", i),
			"The access grant %s %s does not exist.%s", name, where, validate.DidYouMean(name, known)))
	}
	return diags
}

func anyModelGrant(p *model.Project, name string) bool {
	for _, m := range p.ListModels() {
		if _, ok := m.AccessGrant(name); ok {
			return true
		}
	}
	return false
}

// fieldExists reports whether name resolves, qualifying a bare name with
// view.
func fieldExists(p *model.Project, view, name string) bool {
	name = strings.NewReplacer("${", "", "}", "").Replace(name)
	if !strings.Contains(name, ".") && view != "" {
		name = view + "." + name
	}
	_, ok := p.TryGetField(name)
	return ok
}

// fieldNames lists the names a view's fields answer to, for suggestions.
func fieldNames(p *model.Project, view string) []string {
	fields, err := p.ListFields(view, true)
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(fields))
	for _, f := range fields {
		names = append(names, f.Alias(false))
	}
	return names
}

// unknownField is the message for a field reference that does not resolve.
func unknownField(p *model.Project, view, name, where string) string {
	viewName, fieldName := model.SplitFieldName(name)
	if viewName == "" {
		viewName = view
	}
	return fmt.Sprintf("Field %s %s is unreachable.%s", name, where, validate.DidYouMean(fieldName, fieldNames(p, viewName)))
}

// filterErrors checks field filters declared under key.
func filterErrors(ctx *validate.Context, key, view string, filters []model.FieldFilter, where string) []validate.Diagnostic {
	label := key[strings.LastIndex(key, ".")+1:]
	label = strings.ToUpper(label[:1]) + strings.ReplaceAll(label[1:], "_", " ")
	var diags []validate.Diagnostic
	for i, f := range filters {
		path := fmt.Sprintf("%s.%d", key, i)
		switch {
		case f.Field == "":
			diags = append(diags, ctx.Errorf(path, "%s %d %s is missing the required key field", label, i, where))
		case !fieldExists(ctx.Project, view, f.Field):
			diags = append(diags, ctx.Errorf(path+".field", "%s", unknownField(ctx.Project, view, f.Field, "in "+strings.ToLower(label)+" "+where)))
		}
		if f.Value == nil {
			diags = append(diags, ctx.Errorf(path, "%s on %s %s is missing the required key value", label, f.Field, where))
		}
	}
	return diags
}
