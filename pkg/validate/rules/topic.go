package rules

import (
	"fmt"
	"slices"
	"strings"

	"github.com/leapstack-labs/leapmetrics/pkg/model"
	"github.com/leapstack-labs/leapmetrics/pkg/validate"
)

func init() {
	validate.Register(validate.RuleDef{
		ID: "VT01", Name: "topic-views", Kind: validate.KindTopic,
		Description: "Topics name an existing base view and join existing views",
		Severity:    validate.SeverityError,
		Check:       checkTopicViews,
	})
	validate.Register(validate.RuleDef{
		ID: "VT02", Name: "topic-joins", Kind: validate.KindTopic,
		Description: "Topic join overrides are valid",
		Severity:    validate.SeverityError,
		Check:       checkTopicJoins,
	})
	validate.Register(validate.RuleDef{
		ID: "VT03", Name: "topic-filters", Kind: validate.KindTopic,
		Description: "Topic filters reference fields of the topic's views",
		Severity:    validate.SeverityError,
		Check:       checkTopicFilters,
	})
	validate.Register(validate.RuleDef{
		ID: "VT04", Name: "topic-properties", Kind: validate.KindTopic,
		Description: "Topics only use known properties",
		Severity:    validate.SeverityError,
		Check: func(ctx *validate.Context) []validate.Diagnostic {
			t := ctx.Topic
			where := "in the topic " + t.Label
			diags := checkTypes(ctx, t.Raw, t.Invalid, where, mustBeString("label"), mustBeString("base_view"),
				mustBeString("model_name"), mustBeString("description"), mustBeBool("hidden"),
				mustBeStringList("required_access_grants"))
			if t.Label == "" {
				diags = append(diags, ctx.Errorf("", "Topic is missing the required key label"))
			}
			diags = append(diags, grantErrors(ctx, topicModel(ctx), t.RequiredAccessGrants, where)...)
			return append(diags, invalidProperties(ctx, t.Raw, topicProperties, "Topic "+t.Label)...)
		},
	})
}

// topicModel returns the model of the topic's base view, or nil.
func topicModel(ctx *validate.Context) *model.Model {
	if v, err := ctx.Project.GetView(ctx.Topic.BaseView); err == nil {
		return v.Model()
	}
	return nil
}

func viewNames(p *model.Project) []string {
	var names []string
	for _, v := range p.ListViews() {
		names = append(names, v.Name)
	}
	return names
}

func checkTopicViews(ctx *validate.Context) []validate.Diagnostic {
	t := ctx.Topic
	if t.BaseView == "" {
		return []validate.Diagnostic{ctx.Errorf("", "Topic %s is missing the required key base_view", t.Label)}
	}
	all := viewNames(ctx.Project)
	var diags []validate.Diagnostic
	base, err := ctx.Project.GetView(t.BaseView)
	if err != nil {
		diags = append(diags, ctx.Errorf("base_view", "The base_view %s in topic %s does not exist.%s",
			t.BaseView, t.Label, validate.DidYouMean(t.BaseView, all)))
	}
	for _, name := range t.ViewNames()[1:] {
		v, err := ctx.Project.GetView(name)
		if err != nil {
			diags = append(diags, ctx.Errorf("views."+name, "The view %s in topic %s does not exist.%s",
				name, t.Label, validate.DidYouMean(name, all)))
			continue
		}
		if base != nil && v.ModelName != base.ModelName {
			diags = append(diags, ctx.Errorf("views."+name, "The view %s in topic %s belongs to the model %s, "+
				"but the base_view %s belongs to the model %s", name, t.Label, v.ModelName, base.Name, base.ModelName))
		}
	}
	return diags
}

func checkTopicJoins(ctx *validate.Context) []validate.Diagnostic {
	t := ctx.Topic
	var diags []validate.Diagnostic
	for _, name := range t.ViewNames()[1:] {
		tv := t.Views[name]
		path := "views." + name + ".join"
		if tv.Join == nil {
			if _, ok := ctx.Project.Join(t.BaseView, name); !ok {
				if _, err := ctx.Project.GetView(name); err == nil {
					diags = append(diags, ctx.Errorf("views."+name, "The view %s in topic %s cannot be joined to the base_view %s. "+
						"Add an identifier or a join override", name, t.Label, t.BaseView))
				}
			}
			continue
		}
		j := tv.Join
		if j.SQLOn == "" {
			diags = append(diags, ctx.Errorf(path, "The join override for view %s in topic %s is missing the required key sql_on",
				name, t.Label))
		} else {
			for _, ref := range model.References(j.SQLOn) {
				if !fieldExists(ctx.Project, "", ref) {
					diags = append(diags, ctx.Errorf(path+".sql_on", "Could not locate reference %s in the join override for "+
						"view %s in topic %s", ref, name, t.Label))
				}
			}
		}
		if j.Relationship != "" && !slices.Contains(model.Relationships, j.Relationship) {
			diags = append(diags, ctx.Errorf(path+".relationship", "The relationship %s for view %s in topic %s is invalid. "+
				"Valid relationships are: %s", j.Relationship, name, t.Label, strings.Join(model.Relationships, ", ")))
		}
		if j.JoinType != "" && !slices.Contains(model.JoinTypes, j.JoinType) {
			diags = append(diags, ctx.Errorf(path+".join_type", "The join_type %s for view %s in topic %s is invalid. "+
				"Valid join types are: %s", j.JoinType, name, t.Label, strings.Join(model.JoinTypes, ", ")))
		}
	}
	return diags
}

func checkTopicFilters(ctx *validate.Context) []validate.Diagnostic {
	t := ctx.Topic
	views := t.ViewNames()
	var diags []validate.Diagnostic
	check := func(key, field string, i int) {
		viewName, _ := model.SplitFieldName(field)
		path := fmt.Sprintf("%s.%d.field", key, i)
		switch {
		case viewName == "":
			diags = append(diags, ctx.Errorf(path, "The field %s in the %s of topic %s must be qualified with a view name, "+
				"for example view_name.field_name", field, key, t.Label))
		case !slices.Contains(views, viewName):
			diags = append(diags, ctx.Errorf(path, "The field %s in the %s of topic %s belongs to the view %s, "+
				"which is not part of the topic", field, key, t.Label, viewName))
		}
	}
	for i, f := range t.AlwaysFilter {
		if f.Field != "" {
			check("always_filter", f.Field, i)
		}
	}
	diags = append(diags, filterErrors(ctx, "always_filter", "", t.AlwaysFilter, "in topic "+t.Label)...)
	for i, af := range t.AccessFilters {
		check("access_filters", af.Field, i)
		if af.Field != "" && !fieldExists(ctx.Project, "", af.Field) {
			diags = append(diags, ctx.Errorf(fmt.Sprintf("access_filters.%d.field", i), "%s",
				unknownField(ctx.Project, "", af.Field, "in access filter in topic "+t.Label)))
		}
		if af.UserAttribute == "" {
			diags = append(diags, ctx.Errorf(fmt.Sprintf("access_filters.%d", i),
				"Access filter in topic %s is missing the required property user_attribute", t.Label))
		}
	}
	return diags
}
