package rules

import (
	"slices"
	"sort"
	"strings"

	"github.com/leapstack-labs/leapmetrics/pkg/validate"
)

// customerTag marks the dimension identifying a customer in a join graph.
const customerTag = "customer"

func init() {
	validate.Register(validate.RuleDef{
		ID: "VP01", Name: "unique-dashboards", Kind: validate.KindProject,
		Description: "Dashboard names are unique across the project",
		Severity:    validate.SeverityError,
		Check: func(ctx *validate.Context) []validate.Diagnostic {
			var diags []validate.Diagnostic
			for _, name := range ctx.Project.DuplicateDashboards() {
				diags = append(diags, ctx.Errorf("", "Duplicate dashboard names found in your project for the name %s. "+
					"Please make sure all dashboard names are unique", name))
			}
			return diags
		},
	})
	validate.Register(validate.RuleDef{
		ID: "VP02", Name: "unique-customer-tag", Kind: validate.KindProject,
		Description: "At most one field per join graph carries the customer tag",
		Severity:    validate.SeverityError,
		Check:       checkCustomerTags,
	})
}

func checkCustomerTags(ctx *validate.Context) []validate.Diagnostic {
	fields, err := ctx.Project.ListFields("", true)
	if err != nil {
		return nil
	}
	byGraph := make(map[string][]string)
	for _, f := range fields {
		if !f.HasTag(customerTag) || f.View().JoinAsOf() != "" {
			continue
		}
		hashes, err := ctx.Project.WeakJoinGraphHashes(f.View().Name)
		if err != nil {
			continue
		}
		id := f.View().Name + "." + f.Name
		for _, h := range hashes {
			if !slices.Contains(byGraph[h], id) {
				byGraph[h] = append(byGraph[h], id)
			}
		}
	}
	graphs := make([]string, 0, len(byGraph))
	for g := range byGraph {
		graphs = append(graphs, g)
	}
	sort.Strings(graphs)

	var diags []validate.Diagnostic
	for _, g := range graphs {
		ids := byGraph[g]
		if len(ids) < 2 {
			continue
		}
		sort.Strings(ids)
		diags = append(diags, ctx.Errorf("", "Multiple fields found with the tag %s in the same join graph: %s. "+
			"Only one field per join graph can be tagged %s", customerTag, strings.Join(ids, ", "), customerTag))
	}
	return diags
}
