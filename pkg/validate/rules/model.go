package rules

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/leapstack-labs/leapmetrics/pkg/model"
	"github.com/leapstack-labs/leapmetrics/pkg/validate"
)

var weekStartDays = []string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"}

func init() {
	validate.Register(validate.RuleDef{
		ID: "VM01", Name: "model-name", Kind: validate.KindModel,
		Description: "Model names only use letters, numbers and underscores",
		Severity:    validate.SeverityError,
		Check: func(ctx *validate.Context) []validate.Diagnostic {
			if validate.ValidName(ctx.Model.Name) {
				return nil
			}
			return []validate.Diagnostic{ctx.Errorf("name", "%s", validate.NameError("model", ctx.Model.Name))}
		},
	})
	validate.Register(validate.RuleDef{
		ID: "VM02", Name: "model-properties", Kind: validate.KindModel,
		Description: "Models declare a connection and only known properties",
		Severity:    validate.SeverityError,
		Check:       checkModelProperties,
	})
	validate.Register(validate.RuleDef{
		ID: "VM03", Name: "model-access-grants", Kind: validate.KindModel,
		Description: "Access grants are complete and required grants exist",
		Severity:    validate.SeverityError,
		Check:       checkModelAccessGrants,
	})
	validate.Register(validate.RuleDef{
		ID: "VM04", Name: "model-mappings", Kind: validate.KindModel,
		Description: "Mappings use unreserved names and reference existing fields",
		Severity:    validate.SeverityError,
		Check:       checkMappings,
	})
}

func checkModelProperties(ctx *validate.Context) []validate.Diagnostic {
	m := ctx.Model
	where := "in the model " + m.Name
	var diags []validate.Diagnostic
	if m.Connection == "" {
		diags = append(diags, ctx.Errorf("", "Model %s is missing the required key connection", m.Name))
	}
	diags = append(diags, checkTypes(ctx, m.Raw, m.Invalid, where,
		mustBeString("label"), mustBeString("connection"), mustBeString("week_start_day"),
		mustBeBool("default_convert_timezone"), mustBeStringList("required_access_grants"))...)
	if m.WeekStartDay != "" && !slices.Contains(weekStartDays, strings.ToLower(m.WeekStartDay)) {
		diags = append(diags, ctx.Errorf("week_start_day", "The week_start_day property, %s must be one of %s %s",
			m.WeekStartDay, strings.Join(weekStartDays, ", "), where))
	}
	return append(diags, invalidProperties(ctx, m.Raw, modelProperties, "Model "+m.Name)...)
}

func checkModelAccessGrants(ctx *validate.Context) []validate.Diagnostic {
	m := ctx.Model
	var diags []validate.Diagnostic
	for i, g := range m.AccessGrants {
		path := fmt.Sprintf("access_grants.%d", i)
		switch {
		case g.Name == "":
			diags = append(diags, ctx.Errorf(path, "Access grant %d in the model %s is missing the required key name", i, m.Name))
		case g.UserAttribute == "":
			diags = append(diags, ctx.Errorf(path, "Access grant %s in the model %s is missing the required key user_attribute", g.Name, m.Name))
		case len(g.AllowedValues) == 0:
			diags = append(diags, ctx.Errorf(path, "Access grant %s in the model %s must have at least one allowed_values entry", g.Name, m.Name))
		}
	}
	return append(diags, grantErrors(ctx, m, m.RequiredAccessGrants, "in the model "+m.Name)...)
}

func checkMappings(ctx *validate.Context) []validate.Diagnostic {
	m := ctx.Model
	names := make([]string, 0, len(m.Mappings))
	for name := range m.Mappings {
		names = append(names, name)
	}
	sort.Strings(names)

	var diags []validate.Diagnostic
	for _, name := range names {
		path := "mappings." + name
		if slices.Contains(model.ReservedMappingNames, strings.ToLower(name)) {
			diags = append(diags, ctx.Errorf(path, "Mapping name %s in the model %s is a reserved word and cannot be used. "+
				"Reserved words are %s", name, m.Name, strings.Join(model.ReservedMappingNames, ", ")))
		}
		mapping := m.Mappings[name]
		if mapping == nil || len(mapping.Fields) == 0 {
			diags = append(diags, ctx.Errorf(path, "Mapping %s in the model %s must list at least one field", name, m.Name))
			continue
		}
		for i, field := range mapping.Fields {
			if !fieldExists(ctx.Project, "", field) {
				diags = append(diags, ctx.Errorf(fmt.Sprintf("%s.fields.%d", path, i), "%s",
					unknownField(ctx.Project, "", field, "in mapping "+name+" in the model "+m.Name)))
			}
		}
	}
	return diags
}
