package rules

import (
	"fmt"

	"github.com/leapstack-labs/leapmetrics/pkg/validate"
)

func init() {
	validate.Register(validate.RuleDef{
		ID: "VD01", Name: "dashboard-name", Kind: validate.KindDashboard,
		Description: "Dashboards have a valid name and known properties",
		Severity:    validate.SeverityError,
		Check: func(ctx *validate.Context) []validate.Diagnostic {
			d := ctx.Dashboard
			var diags []validate.Diagnostic
			if !validate.ValidName(d.Name) {
				diags = append(diags, ctx.Errorf("name", "%s", validate.NameError("dashboard", d.Name)))
			}
			diags = append(diags, grantErrors(ctx, nil, d.RequiredAccessGrants, "in dashboard "+d.Name)...)
			diags = append(diags, checkTypes(ctx, d.Raw, d.Invalid, "in dashboard "+d.Name)...)
			return append(diags, invalidProperties(ctx, d.Raw, dashboardProperties, "Dashboard "+d.Name)...)
		},
	})
	validate.Register(validate.RuleDef{
		ID: "VD02", Name: "dashboard-elements", Kind: validate.KindDashboard,
		Description: "Dashboard elements reference existing models and fields",
		Severity:    validate.SeverityError,
		Check:       checkDashboardElements,
	})
	validate.Register(validate.RuleDef{
		ID: "VD03", Name: "dashboard-filters", Kind: validate.KindDashboard,
		Description: "Dashboard filters reference existing fields",
		Severity:    validate.SeverityError,
		Check: func(ctx *validate.Context) []validate.Diagnostic {
			d := ctx.Dashboard
			return filterErrors(ctx, "filters", "", d.Filters, "in dashboard "+d.Name)
		},
	})
}

func checkDashboardElements(ctx *validate.Context) []validate.Diagnostic {
	d := ctx.Dashboard
	var diags []validate.Diagnostic
	for i, el := range d.Elements {
		path := fmt.Sprintf("elements.%d", i)
		where := fmt.Sprintf("in element %d of dashboard %s", i, d.Name)
		if el.Model != "" {
			if _, err := ctx.Project.GetModel(el.Model); err != nil {
				diags = append(diags, ctx.Errorf(path+".model", "The model %s %s does not exist", el.Model, where))
			}
		}
		metrics := el.Metrics
		if el.Metric != "" {
			metrics = append([]string{el.Metric}, metrics...)
		}
		if len(metrics) == 0 {
			diags = append(diags, ctx.Errorf(path, "Dashboard element %d of dashboard %s must declare a metric", i, d.Name))
		}
		for _, name := range metrics {
			f, ok := ctx.Project.TryGetField(name)
			switch {
			case !ok:
				diags = append(diags, ctx.Errorf(path+".metric", "%s", unknownField(ctx.Project, "", name, where)))
			case !f.IsMeasure():
				diags = append(diags, ctx.Errorf(path+".metric", "The metric %s %s is a %s, not a measure", name, where, f.FieldType))
			}
		}
		for j, name := range el.SliceBy {
			if !fieldExists(ctx.Project, "", name) {
				diags = append(diags, ctx.Errorf(fmt.Sprintf("%s.slice_by.%d", path, j), "%s",
					unknownField(ctx.Project, "", name, "in slice_by "+where)))
			}
		}
		diags = append(diags, filterErrors(ctx, path+".filters", "", el.Filters, where)...)
	}
	return diags
}
