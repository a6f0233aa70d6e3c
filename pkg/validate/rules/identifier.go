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
		ID: "VI01", Name: "identifier-type", Kind: validate.KindIdentifier,
		Description: "Identifiers have a valid name and type",
		Severity:    validate.SeverityError,
		Check:       checkIdentifierType,
	})
	validate.Register(validate.RuleDef{
		ID: "VI02", Name: "identifier-join", Kind: validate.KindIdentifier,
		Description: "Explicit joins reference an existing view with valid options",
		Severity:    validate.SeverityError,
		Check:       checkIdentifierJoin,
	})
	validate.Register(validate.RuleDef{
		ID: "VI03", Name: "identifier-properties", Kind: validate.KindIdentifier,
		Description: "Identifiers only use known properties",
		Severity:    validate.SeverityError,
		Check: func(ctx *validate.Context) []validate.Diagnostic {
			id := ctx.Identifier
			diags := checkTypes(ctx, id.Raw, id.Invalid, "in the identifier "+id.Name+" in view "+ctx.View.Name,
				mustBeString("sql"), mustBeString("sql_on"), mustBeString("reference"),
				mustBeString("join_as"), mustBeString("join_as_label"), mustBeString("join_as_field_prefix"),
				mustBeStringList("only_join"), mustBeStringList("allowed_fanouts"))
			return append(diags, invalidProperties(ctx, id.Raw, identifierProperties,
				"Identifier "+id.Name+" in view "+ctx.View.Name)...)
		},
	})
}

func checkIdentifierType(ctx *validate.Context) []validate.Diagnostic {
	id := ctx.Identifier
	var diags []validate.Diagnostic
	if id.Name == "" {
		diags = append(diags, ctx.Errorf("", "Identifier in view %s is missing the required key name", ctx.View.Name))
	} else if !validate.ValidName(id.Name) {
		diags = append(diags, ctx.Errorf("name", "%s", validate.NameError("identifier", id.Name)))
	}
	if !slices.Contains(model.IdentifierTypes, id.Type) {
		diags = append(diags, ctx.Errorf("type", "The identifier %s in view %s has an invalid type %q. "+
			"Valid types are: %s", id.Name, ctx.View.Name, id.Type, strings.Join(model.IdentifierTypes, ", ")))
	}
	if id.Type != model.IdentifierJoin && id.SQL != "" {
		_, missing := refsOf(ctx, id.SQL)
		for _, ref := range missing {
			diags = append(diags, ctx.Errorf("sql", "Could not locate reference %s in the identifier %s in view %s",
				ref, id.Name, ctx.View.Name))
		}
	}
	return diags
}

func checkIdentifierJoin(ctx *validate.Context) []validate.Diagnostic {
	id := ctx.Identifier
	var diags []validate.Diagnostic
	for i, name := range id.OnlyJoin {
		if _, err := ctx.Project.GetView(name); err != nil {
			diags = append(diags, ctx.Errorf(fmt.Sprintf("only_join.%d", i),
				"The view %s in only_join of identifier %s in view %s does not exist", name, id.Name, ctx.View.Name))
		}
	}
	if id.Type != model.IdentifierJoin {
		if id.JoinAs != "" && id.Reference == "" {
			diags = append(diags, ctx.Errorf("join_as", "The identifier %s in view %s uses join_as but has no "+
				"reference", id.Name, ctx.View.Name))
		}
		return diags
	}
	if id.Reference == "" {
		diags = append(diags, ctx.Errorf("", "The join identifier %s in view %s is missing the required key reference",
			id.Name, ctx.View.Name))
	} else if _, err := ctx.Project.GetView(id.Reference); err != nil {
		var views []string
		for _, v := range ctx.Project.ListViews() {
			views = append(views, v.Name)
		}
		diags = append(diags, ctx.Errorf("reference", "The reference %s in the identifier %s in view %s is not a view.%s",
			id.Reference, id.Name, ctx.View.Name, validate.DidYouMean(id.Reference, views)))
	}
	if id.SQLOn == "" {
		diags = append(diags, ctx.Errorf("", "The join identifier %s in view %s is missing the required key sql_on",
			id.Name, ctx.View.Name))
	} else {
		_, missing := refsOf(ctx, id.SQLOn)
		for _, ref := range missing {
			diags = append(diags, ctx.Errorf("sql_on", "Could not locate reference %s in the sql_on of identifier %s in view %s",
				ref, id.Name, ctx.View.Name))
		}
	}
	if id.Relationship != "" && !slices.Contains(model.Relationships, id.Relationship) {
		diags = append(diags, ctx.Errorf("relationship", "The relationship %s of identifier %s in view %s is invalid. "+
			"Valid relationships are: %s", id.Relationship, id.Name, ctx.View.Name, strings.Join(model.Relationships, ", ")))
	}
	if id.JoinType != "" && !slices.Contains(model.JoinTypes, id.JoinType) {
		diags = append(diags, ctx.Errorf("join_type", "The join_type %s of identifier %s in view %s is invalid. "+
			"Valid join types are: %s", id.JoinType, id.Name, ctx.View.Name, strings.Join(model.JoinTypes, ", ")))
	}
	return diags
}

// refsOf resolves the ${view.field} references of an identifier's SQL
// against the enclosing view. ${TABLE} is skipped.
func refsOf(ctx *validate.Context, sql string) (found, missing []string) {
	for _, ref := range model.References(sql) {
		if ref == "TABLE" || strings.HasSuffix(ref, ".SQL_TABLE_NAME") {
			continue
		}
		if fieldExists(ctx.Project, ctx.View.Name, ref) {
			found = append(found, ref)
		} else {
			missing = append(missing, ref)
		}
	}
	return found, missing
}
