package rules

import (
	"fmt"
	"strings"

	"github.com/leapstack-labs/leapmetrics/pkg/model"
	"github.com/leapstack-labs/leapmetrics/pkg/validate"
)

func init() {
	validate.Register(validate.RuleDef{
		ID: "VV01", Name: "view-name", Kind: validate.KindView,
		Description: "View names only use letters, numbers and underscores",
		Severity:    validate.SeverityError,
		Check: func(ctx *validate.Context) []validate.Diagnostic {
			if validate.ValidName(ctx.View.Name) {
				return nil
			}
			return []validate.Diagnostic{ctx.Errorf("name", "%s", validate.NameError("view", ctx.View.Name))}
		},
	})
	validate.Register(validate.RuleDef{
		ID: "VV02", Name: "view-model", Kind: validate.KindView,
		Description: "Views belong to an existing model",
		Severity:    validate.SeverityError,
		Check: func(ctx *validate.Context) []validate.Diagnostic {
			if ctx.Model != nil {
				return nil
			}
			if ctx.View.ModelName == "" {
				return []validate.Diagnostic{ctx.Errorf("", "Could not find a model in view %s. "+
					"Use the model_name property to specify the model.", ctx.View.Name)}
			}
			return []validate.Diagnostic{ctx.Errorf("model_name", "Could not find the model %s referenced in view %s",
				ctx.View.ModelName, ctx.View.Name)}
		},
	})
	validate.Register(validate.RuleDef{
		ID: "VV03", Name: "view-properties", Kind: validate.KindView,
		Description: "Views declare a table and only known properties of the right type",
		Severity:    validate.SeverityError,
		Check:       checkViewProperties,
	})
	validate.Register(validate.RuleDef{
		ID: "VV04", Name: "view-default-date", Kind: validate.KindView,
		Description: "The default date and event dimension resolve",
		Severity:    validate.SeverityError,
		Check:       checkDefaultDate,
	})
	validate.Register(validate.RuleDef{
		ID: "VV05", Name: "view-missing-primary-key", Kind: validate.KindView,
		Description: "Views should declare a primary key",
		Severity:    validate.SeverityWarning,
		Check: func(ctx *validate.Context) []validate.Diagnostic {
			if ctx.View.PrimaryKey() != nil {
				return nil
			}
			return []validate.Diagnostic{ctx.Errorf("", "The view %s does not have a primary key, "+
				"specify one using the tag primary_key: yes", ctx.View.Name)}
		},
	})
	validate.Register(validate.RuleDef{
		ID: "VV06", Name: "view-single-primary-key", Kind: validate.KindView,
		Description: "Views declare at most one primary key",
		Severity:    validate.SeverityError,
		Check: func(ctx *validate.Context) []validate.Diagnostic {
			var keys []string
			for _, f := range ctx.View.Fields {
				if f.PrimaryKey {
					keys = append(keys, f.Name)
				}
			}
			if len(keys) < 2 {
				return nil
			}
			return []validate.Diagnostic{ctx.Errorf("fields", "Multiple primary keys found in view %s: %s. "+
				"Only one primary key is allowed", ctx.View.Name, strings.Join(keys, ", "))}
		},
	})
	validate.Register(validate.RuleDef{
		ID: "VV07", Name: "view-unique-fields", Kind: validate.KindView,
		Description: "Field names are unique within a view",
		Severity:    validate.SeverityError,
		Check: func(ctx *validate.Context) []validate.Diagnostic {
			seen := make(map[string]bool)
			var diags []validate.Diagnostic
			for i, f := range ctx.View.Fields {
				if seen[f.Name] {
					diags = append(diags, ctx.Errorf(fmt.Sprintf("fields.%d", i),
						"Duplicate field names in view %s: %s", ctx.View.Name, f.Name))
				}
				seen[f.Name] = true
			}
			return diags
		},
	})
	validate.Register(validate.RuleDef{
		ID: "VV08", Name: "view-access", Kind: validate.KindView,
		Description: "Access grants exist and access filters reference fields and attributes",
		Severity:    validate.SeverityError,
		Check:       checkViewAccess,
	})
	validate.Register(validate.RuleDef{
		ID: "VV09", Name: "view-always-filter", Kind: validate.KindView,
		Description: "Always filters reference existing fields",
		Severity:    validate.SeverityError,
		Check: func(ctx *validate.Context) []validate.Diagnostic {
			return filterErrors(ctx, "always_filter", ctx.View.Name, ctx.View.AlwaysFilter, "in view "+ctx.View.Name)
		},
	})
}

func checkViewProperties(ctx *validate.Context) []validate.Diagnostic {
	v := ctx.View
	where := "in the view " + v.Name
	var diags []validate.Diagnostic
	if v.SQLTableName == "" {
		diags = append(diags, ctx.Errorf("", "View %s is missing the required key sql_table_name", v.Name))
	} else if _, err := v.TableName(); err != nil {
		diags = append(diags, ctx.Errorf("sql_table_name", "%s", err.Error()))
	}
	diags = append(diags, checkTypes(ctx, v.Raw, v.Invalid, where,
		mustBeString("label"), mustBeString("description"), mustBeString("sql_table_name"),
		mustBeString("default_date"), mustBeString("row_label"), mustBeBool("hidden"),
		mustBeStringList("required_access_grants"), mustBeList("fields"))...)
	return append(diags, invalidProperties(ctx, v.Raw, viewProperties, "View "+v.Name)...)
}

func checkDefaultDate(ctx *validate.Context) []validate.Diagnostic {
	v := ctx.View
	var diags []validate.Diagnostic
	if v.DefaultDate != "" {
		name := v.DefaultDate
		if !strings.Contains(name, ".") {
			name = v.Name + "." + name
		}
		f, err := ctx.Project.GetFieldByName(name)
		switch {
		case err != nil:
			diags = append(diags, ctx.Errorf("default_date", "Default date %s is unreachable in view %s", v.DefaultDate, v.Name))
		case f.FieldType != model.FieldDimensionGroup || f.Type != model.TypeTime:
			diags = append(diags, ctx.Errorf("default_date", "Default date %s in view %s is not of field_type: "+
				"dimension_group and type: time", v.DefaultDate, v.Name))
		}
	}
	if v.EventDimension != "" {
		if _, err := v.EventDimensionField(); err != nil {
			diags = append(diags, ctx.Errorf("event_dimension", "The event_dimension %s in view %s is unreachable",
				v.EventDimension, v.Name))
		}
	}
	return diags
}

func checkViewAccess(ctx *validate.Context) []validate.Diagnostic {
	v := ctx.View
	diags := grantErrors(ctx, ctx.Model, v.RequiredAccessGrants, "in view "+v.Name)
	for i, af := range v.AccessFilters {
		path := fmt.Sprintf("access_filters.%d", i)
		if af.Field == "" || !fieldExists(ctx.Project, v.Name, af.Field) {
			diags = append(diags, ctx.Errorf(path+".field", "%s",
				unknownField(ctx.Project, v.Name, af.Field, "in access filter in view "+v.Name)))
		}
		if af.UserAttribute == "" {
			diags = append(diags, ctx.Errorf(path, "Access filter in view %s is missing the required property user_attribute", v.Name))
		}
	}
	return diags
}
