package rules

import (
	"fmt"
	"slices"
	"strings"

	"github.com/leapstack-labs/leapmetrics/pkg/model"
	"github.com/leapstack-labs/leapmetrics/pkg/validate"
)

var windowChoices = []string{"min", "max"}

func init() {
	validate.Register(validate.RuleDef{
		ID: "VF01", Name: "field-name", Kind: validate.KindField,
		Description: "Field names are valid and not SQL keywords",
		Severity:    validate.SeverityError,
		Check:       checkFieldName,
	})
	validate.Register(validate.RuleDef{
		ID: "VF02", Name: "field-type", Kind: validate.KindField,
		Description: "field_type and type take known values",
		Severity:    validate.SeverityError,
		Check:       checkFieldType,
	})
	validate.Register(validate.RuleDef{
		ID: "VF03", Name: "field-properties", Kind: validate.KindField,
		Description: "Field properties are known and of the right type",
		Severity:    validate.SeverityError,
		Check:       checkFieldProperties,
	})
	validate.Register(validate.RuleDef{
		ID: "VF04", Name: "field-sql", Kind: validate.KindField,
		Description: "Fields declare the SQL their type needs",
		Severity:    validate.SeverityError,
		Check:       checkFieldSQL,
	})
	validate.Register(validate.RuleDef{
		ID: "VF05", Name: "field-case-deprecated", Kind: validate.KindField,
		Description: "The case property is deprecated",
		Severity:    validate.SeverityWarning,
		Check: func(ctx *validate.Context) []validate.Diagnostic {
			if ctx.Field.Case == nil {
				return nil
			}
			return []validate.Diagnostic{ctx.Errorf("case", "Field %s in view %s uses the deprecated case property. "+
				"Use a CASE WHEN expression in the sql property instead", ctx.Field.Name, ctx.View.Name)}
		},
	})
	validate.Register(validate.RuleDef{
		ID: "VF06", Name: "field-dimension-group", Kind: validate.KindField,
		Description: "Dimension groups declare valid timeframes, intervals and datatypes",
		Severity:    validate.SeverityError,
		Check:       checkDimensionGroup,
	})
	validate.Register(validate.RuleDef{
		ID: "VF07", Name: "field-references", Kind: validate.KindField,
		Description: "Field references resolve and render",
		Severity:    validate.SeverityError,
		Check:       checkReferences,
	})
	validate.Register(validate.RuleDef{
		ID: "VF08", Name: "field-canon-date", Kind: validate.KindField,
		Description: "A measure's canon_date is a time dimension group",
		Severity:    validate.SeverityError,
		Check:       checkCanonDate,
	})
	validate.Register(validate.RuleDef{
		ID: "VF09", Name: "field-drill-fields", Kind: validate.KindField,
		Description: "Drill fields reference existing fields",
		Severity:    validate.SeverityError,
		Check: func(ctx *validate.Context) []validate.Diagnostic {
			var diags []validate.Diagnostic
			for i, name := range ctx.Field.DrillFields {
				if !fieldExists(ctx.Project, ctx.View.Name, name) {
					diags = append(diags, ctx.Errorf(fmt.Sprintf("drill_fields.%d", i), "%s",
						unknownField(ctx.Project, ctx.View.Name, name, "in drill_fields of field "+ctx.Field.Name)))
				}
			}
			return diags
		},
	})
	validate.Register(validate.RuleDef{
		ID: "VF10", Name: "field-filters", Kind: validate.KindField,
		Description: "Measure filters reference other existing fields",
		Severity:    validate.SeverityError,
		Check:       checkFieldFilters,
	})
	validate.Register(validate.RuleDef{
		ID: "VF11", Name: "field-access-grants", Kind: validate.KindField,
		Description: "Required access grants exist",
		Severity:    validate.SeverityError,
		Check: func(ctx *validate.Context) []validate.Diagnostic {
			return grantErrors(ctx, ctx.Model, ctx.Field.RequiredAccessGrants,
				"in field "+ctx.Field.Name+" in view "+ctx.View.Name)
		},
	})
	validate.Register(validate.RuleDef{
		ID: "VF12", Name: "field-value-format", Kind: validate.KindField,
		Description: "value_format_name takes a known value",
		Severity:    validate.SeverityError,
		Check: func(ctx *validate.Context) []validate.Diagnostic {
			f := ctx.Field
			if f.ValueFormatName == "" || slices.Contains(model.ValueFormatNames, f.ValueFormatName) {
				return nil
			}
			return []validate.Diagnostic{ctx.Errorf("value_format_name", "Field %s has an invalid value_format_name %s. "+
				"Valid values are: %s", f.Name, f.ValueFormatName, strings.Join(model.ValueFormatNames, ", "))}
		},
	})
	validate.Register(validate.RuleDef{
		ID: "VF13", Name: "field-tiers", Kind: validate.KindField,
		Description: "Tier dimensions declare ascending tiers",
		Severity:    validate.SeverityError,
		Check: func(ctx *validate.Context) []validate.Diagnostic {
			f := ctx.Field
			if f.Type != model.TypeTier {
				return nil
			}
			if len(f.Tiers) == 0 {
				return []validate.Diagnostic{ctx.Errorf("", "Field %s is of type tier but does not declare tiers", f.Name)}
			}
			if !slices.IsSorted(f.Tiers) {
				return []validate.Diagnostic{ctx.Errorf("tiers", "The tiers of field %s must be in ascending order", f.Name)}
			}
			return nil
		},
	})
	validate.Register(validate.RuleDef{
		ID: "VF14", Name: "field-measure-options", Kind: validate.KindField,
		Description: "Cumulative and non-additive measures are complete",
		Severity:    validate.SeverityError,
		Check:       checkMeasureOptions,
	})
}

func checkFieldName(ctx *validate.Context) []validate.Diagnostic {
	f := ctx.Field
	if !validate.ValidName(f.Name) {
		return []validate.Diagnostic{ctx.Errorf("name", "%s", validate.NameError("field", f.Name))}
	}
	if f.FieldType == model.FieldDimensionGroup {
		return nil
	}
	if slices.Contains(model.SQLKeywords, f.Name) {
		return []validate.Diagnostic{ctx.Errorf("name", "Field name: %s in view %s is a reserved SQL keyword and "+
			"cannot be used as a field name", f.Name, ctx.View.Name)}
	}
	return nil
}

func checkFieldType(ctx *validate.Context) []validate.Diagnostic {
	f := ctx.Field
	if f.FieldType == "" {
		return []validate.Diagnostic{ctx.Errorf("", "Field %s in view %s is missing the required key field_type. "+
			"Valid field types are: %s", f.Name, ctx.View.Name, strings.Join(model.FieldTypes, ", "))}
	}
	var valid []string
	switch f.FieldType {
	case model.FieldDimension:
		valid = model.DimensionTypes
	case model.FieldDimensionGroup:
		valid = model.DimensionGroupTypes
	case model.FieldMeasure:
		valid = model.MeasureTypes
	default:
		return []validate.Diagnostic{ctx.Errorf("field_type", "Field %s in view %s has an invalid field_type %s. "+
			"Valid field types are: %s", f.Name, ctx.View.Name, f.FieldType, strings.Join(model.FieldTypes, ", "))}
	}
	if f.Type == "" {
		if f.FieldType == model.FieldDimension {
			return nil
		}
		return []validate.Diagnostic{ctx.Errorf("", "Field %s in view %s is missing the required key type", f.Name, ctx.View.Name)}
	}
	if !slices.Contains(valid, f.Type) {
		return []validate.Diagnostic{ctx.Errorf("type", "Field %s in view %s has an invalid type %s. "+
			"Valid types for %s are: %s", f.Name, ctx.View.Name, f.Type, f.FieldType, strings.Join(valid, ", "))}
	}
	return nil
}

func checkFieldProperties(ctx *validate.Context) []validate.Diagnostic {
	f := ctx.Field
	where := "in the field " + f.Name + " in view " + ctx.View.Name
	diags := checkTypes(ctx, f.Raw, f.Invalid, where,
		mustBeString("label"), mustBeString("group_label"), mustBeString("description"),
		mustBeString("sql"), mustBeString("sql_start"), mustBeString("sql_end"),
		mustBeString("sql_distinct_key"), mustBeString("canon_date"), mustBeString("measure"),
		mustBeString("datatype"), mustBeString("value_format_name"), mustBeString("link"),
		mustBeBool("hidden"), mustBeBool("primary_key"), mustBeBool("primary_key_count"),
		mustBeBool("convert_timezone"), mustBeBool("convert_tz"), mustBeBool("searchable"),
		mustBeBool("window"), mustBeBool("is_merged_result"), mustBeBool("update_where_timeframe"),
		mustBeStringList("timeframes"), mustBeStringList("intervals"), mustBeStringList("tags"),
		mustBeStringList("drill_fields"), mustBeStringList("synonyms"),
		mustBeStringList("required_access_grants"))
	return append(diags, invalidProperties(ctx, f.Raw, fieldProperties, "Field "+f.Name+" in view "+ctx.View.Name)...)
}

func checkFieldSQL(ctx *validate.Context) []validate.Diagnostic {
	f := ctx.Field
	switch {
	case f.Type == model.TypeCumulative:
		if f.MeasureRef == "" {
			return []validate.Diagnostic{ctx.Errorf("", "Field %s in view %s is a cumulative measure and must declare "+
				"the measure property", f.Name, ctx.View.Name)}
		}
		return nil
	case f.Type == model.TypeDuration:
		if f.SQLStart == "" || f.SQLEnd == "" {
			return []validate.Diagnostic{ctx.Errorf("", "Field %s in view %s is a duration dimension group and must "+
				"declare both sql_start and sql_end", f.Name, ctx.View.Name)}
		}
		return nil
	case f.IsMeasure() && f.Type == model.TypeCount:
		return nil
	case f.SQL == "" && f.Case == nil:
		return []validate.Diagnostic{ctx.Errorf("", "Field %s in view %s is missing the required key sql", f.Name, ctx.View.Name)}
	}
	if f.SQL != "" && f.Type == model.TypeNumber && f.IsMeasure() && strings.Contains(f.SQL, "${TABLE}") {
		return []validate.Diagnostic{ctx.Errorf("sql", "Field %s in view %s is a number measure and may only reference "+
			"other measures, not ${TABLE}", f.Name, ctx.View.Name)}
	}
	return nil
}

func checkDimensionGroup(ctx *validate.Context) []validate.Diagnostic {
	f := ctx.Field
	if f.FieldType != model.FieldDimensionGroup {
		if len(f.Timeframes) > 0 || len(f.Intervals) > 0 {
			return []validate.Diagnostic{ctx.Errorf("", "Field %s in view %s declares timeframes or intervals but is "+
				"not a dimension_group", f.Name, ctx.View.Name)}
		}
		return nil
	}
	var diags []validate.Diagnostic
	switch f.Type {
	case model.TypeTime:
		if len(f.Timeframes) == 0 {
			diags = append(diags, ctx.Errorf("", "Field %s in view %s is a time dimension group and must declare "+
				"timeframes", f.Name, ctx.View.Name))
		}
		for i, tf := range f.Timeframes {
			if !slices.Contains(model.Timeframes, tf) {
				diags = append(diags, ctx.Errorf(fmt.Sprintf("timeframes.%d", i), "Field %s in view %s has an invalid "+
					"timeframe %s. Valid timeframes are: %s", f.Name, ctx.View.Name, tf, strings.Join(model.Timeframes, ", ")))
			}
		}
		if f.Datatype != "" && !slices.Contains(model.Datatypes, f.Datatype) {
			diags = append(diags, ctx.Errorf("datatype", "Field %s in view %s has an invalid datatype %s. "+
				"Valid datatypes are: %s", f.Name, ctx.View.Name, f.Datatype, strings.Join(model.Datatypes, ", ")))
		}
	case model.TypeDuration:
		for i, interval := range f.Intervals {
			if !slices.Contains(model.Intervals, interval) {
				diags = append(diags, ctx.Errorf(fmt.Sprintf("intervals.%d", i), "Field %s in view %s has an invalid "+
					"interval %s. Valid intervals are: %s", f.Name, ctx.View.Name, interval, strings.Join(model.Intervals, ", ")))
			}
		}
	}
	return diags
}

// referencedSQL lists the templates a field's references are read from.
func referencedSQL(f *model.Field) []string {
	switch {
	case f.Type == model.TypeDuration:
		return []string{f.SQLStart, f.SQLEnd}
	case f.Type == model.TypeCumulative:
		if f.MeasureRef == "" {
			return nil
		}
		ref := f.MeasureRef
		if !strings.HasPrefix(ref, "${") {
			ref = "${" + ref + "}"
		}
		return []string{ref}
	}
	return []string{f.SQL, f.SQLDistinctKey}
}

// renderable returns f resolved to its first timeframe or interval when it
// is a dimension group.
func renderable(f *model.Field) *model.Field {
	if !f.IsDimensionGroupTemplate() {
		return f
	}
	switch {
	case f.Type == model.TypeTime && len(f.Timeframes) > 0:
		return f.WithDimensionGroup(f.Timeframes[0])
	case f.Type == model.TypeDuration && len(f.Intervals) > 0:
		return f.WithDimensionGroup(f.Intervals[0] + "s")
	case f.Type == model.TypeDuration:
		return f.WithDimensionGroup(model.Intervals[0] + "s")
	}
	return nil
}

func checkReferences(ctx *validate.Context) []validate.Diagnostic {
	f := ctx.Field
	var diags []validate.Diagnostic
	for _, sql := range referencedSQL(f) {
		if sql == "" {
			continue
		}
		_, missing := f.ReferencedFields(sql)
		for _, ref := range missing {
			diags = append(diags, ctx.Errorf("sql", "Could not locate reference %s in field %s in view %s.%s",
				ref, f.Name, ctx.View.Name, validate.DidYouMean(refName(ref), fieldNames(ctx.Project, refView(ref, ctx.View.Name)))))
		}
	}
	if len(diags) > 0 || f.Type == model.TypeCumulative || ctx.Model == nil {
		return diags
	}
	d, err := ctx.Project.Dialect(ctx.Model)
	if err != nil {
		return nil
	}
	target := renderable(f)
	if target == nil {
		return nil
	}
	if _, err := target.Render(d, model.RenderOptions{}); err != nil {
		return []validate.Diagnostic{ctx.Errorf("sql", "%s", err.Error())}
	}
	return nil
}

func refName(ref string) string {
	_, name := model.SplitFieldName(ref)
	return name
}

func refView(ref, view string) string {
	if v, _ := model.SplitFieldName(ref); v != "" {
		return v
	}
	return view
}

func checkCanonDate(ctx *validate.Context) []validate.Diagnostic {
	f := ctx.Field
	if !f.IsMeasure() || f.CanonDateRef == "" {
		return nil
	}
	date, err := ctx.Project.GetFieldByName(f.CanonDate())
	if err != nil {
		return []validate.Diagnostic{ctx.Errorf("canon_date", "Canon date %s is unreachable in field %s.%s",
			f.CanonDateRef, f.Name, validate.DidYouMean(refName(f.CanonDate()), fieldNames(ctx.Project, refView(f.CanonDate(), ctx.View.Name))))}
	}
	if date.FieldType != model.FieldDimensionGroup || date.Type != model.TypeTime {
		return []validate.Diagnostic{ctx.Errorf("canon_date", "Canon date %s in field %s is not of field_type: "+
			"dimension_group and type: time", f.CanonDateRef, f.Name)}
	}
	return nil
}

func checkFieldFilters(ctx *validate.Context) []validate.Diagnostic {
	f := ctx.Field
	if len(f.Filters) > 0 && !f.IsMeasure() {
		return []validate.Diagnostic{ctx.Errorf("filters", "Field %s in view %s has filters but only measures "+
			"may declare filters", f.Name, ctx.View.Name)}
	}
	where := "in field " + f.Name + " in view " + ctx.View.Name
	diags := filterErrors(ctx, "filters", ctx.View.Name, f.Filters, where)
	for i, filter := range f.Filters {
		_, name := model.SplitFieldName(filter.Field)
		if name == f.Name {
			diags = append(diags, ctx.Errorf(fmt.Sprintf("filters.%d.field", i), "Field %s in view %s filters on itself. "+
				"A measure may not reference itself in its filters", f.Name, ctx.View.Name))
		}
	}
	return diags
}

func checkMeasureOptions(ctx *validate.Context) []validate.Diagnostic {
	f := ctx.Field
	var diags []validate.Diagnostic
	if f.Type == model.TypeCumulative && f.MeasureRef != "" {
		m, err := f.MeasureField()
		switch {
		case err != nil:
			diags = append(diags, ctx.Errorf("measure", "The measure %s referenced by cumulative field %s is unreachable",
				f.MeasureRef, f.Name))
		case !m.IsMeasure():
			diags = append(diags, ctx.Errorf("measure", "The measure property of cumulative field %s must reference a "+
				"measure, %s is a %s", f.Name, f.MeasureRef, m.FieldType))
		case m.Type == model.TypeCumulative:
			diags = append(diags, ctx.Errorf("measure", "Cumulative field %s cannot accumulate another cumulative "+
				"measure %s", f.Name, f.MeasureRef))
		}
	}
	if f.CumulativeWhere != "" && f.Type != model.TypeCumulative {
		diags = append(diags, ctx.Errorf("cumulative_where", "Field %s declares cumulative_where but is not a "+
			"cumulative measure", f.Name))
	}

	n := f.NonAdditiveDimension
	if n == nil {
		return diags
	}
	if !f.IsMeasure() {
		return append(diags, ctx.Errorf("non_additive_dimension", "Field %s in view %s declares non_additive_dimension "+
			"but is not a measure", f.Name, ctx.View.Name))
	}
	if n.Name == "" {
		diags = append(diags, ctx.Errorf("non_additive_dimension", "The non_additive_dimension of field %s is missing "+
			"the required key name", f.Name))
	} else if !fieldExists(ctx.Project, ctx.View.Name, n.Name) {
		diags = append(diags, ctx.Errorf("non_additive_dimension.name", "%s",
			unknownField(ctx.Project, ctx.View.Name, n.Name, "in non_additive_dimension of field "+f.Name)))
	}
	if !slices.Contains(windowChoices, n.WindowChoice) {
		diags = append(diags, ctx.Errorf("non_additive_dimension.window_choice", "The window_choice %q of field %s "+
			"must be one of %s", n.WindowChoice, f.Name, strings.Join(windowChoices, ", ")))
	}
	for i, g := range n.WindowGroupings {
		if !fieldExists(ctx.Project, ctx.View.Name, g) {
			diags = append(diags, ctx.Errorf(fmt.Sprintf("non_additive_dimension.window_groupings.%d", i), "%s",
				unknownField(ctx.Project, ctx.View.Name, g, "in window_groupings of field "+f.Name)))
		}
	}
	return diags
}
