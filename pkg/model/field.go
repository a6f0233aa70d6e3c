package model

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Field is a named computed column of a view: a dimension, a dimension group
// or a measure. Fields are immutable once the project is built; the
// timeframe or interval of a dimension group is carried on a copy returned by
// the project's lookups.
type Field struct {
	// Name is the lowercase field name, unique within its view.
	Name string `yaml:"name"`
	// FieldType is dimension, dimension_group or measure.
	FieldType string `yaml:"field_type"`
	// Type is the value type for dimensions or the aggregate for measures.
	Type        string `yaml:"type"`
	Label       string `yaml:"label"`
	GroupLabel  string `yaml:"group_label"`
	Description string `yaml:"description"`
	Hidden      bool   `yaml:"hidden"`
	// PrimaryKey marks the view's grain.
	PrimaryKey bool `yaml:"primary_key"`
	// PrimaryKeyCount makes a fanned-out count a plain COUNT(DISTINCT ...).
	PrimaryKeyCount bool `yaml:"primary_key_count"`

	// SQL is the raw template. It may reference ${TABLE} and ${view.field}.
	SQL            string `yaml:"sql"`
	SQLStart       string `yaml:"sql_start"`
	SQLEnd         string `yaml:"sql_end"`
	SQLDistinctKey string `yaml:"sql_distinct_key"`

	Timeframes      []string `yaml:"timeframes"`
	Intervals       []string `yaml:"intervals"`
	Datatype        string   `yaml:"datatype"`
	ConvertTimezone *bool    `yaml:"convert_timezone"`

	Tiers                []float64             `yaml:"tiers"`
	Case                 *Case                 `yaml:"case"`
	Filters              []FieldFilter         `yaml:"filters"`
	NonAdditiveDimension *NonAdditiveDimension `yaml:"non_additive_dimension"`

	// CanonDateRef overrides the view's default_date for this measure.
	CanonDateRef string `yaml:"canon_date"`
	// MeasureRef is the measure a cumulative measure accumulates.
	MeasureRef           string `yaml:"measure"`
	CumulativeWhere      string `yaml:"cumulative_where"`
	UpdateWhereTimeframe *bool  `yaml:"update_where_timeframe"`
	MergedResult         *bool  `yaml:"is_merged_result"`
	// Window marks SQL containing a window function.
	Window bool `yaml:"window"`

	Tags                 []string       `yaml:"tags"`
	RequiredAccessGrants []string       `yaml:"required_access_grants"`
	ValueFormatName      string         `yaml:"value_format_name"`
	Synonyms             []string       `yaml:"synonyms"`
	LabelPrefix          string         `yaml:"label_prefix"`
	DrillFields          []string       `yaml:"drill_fields"`
	Searchable           bool           `yaml:"searchable"`
	Link                 string         `yaml:"link"`
	Extra                map[string]any `yaml:"extra"`

	// Raw is the declaration as loaded, kept for validation.
	Raw     map[string]any  `yaml:"-"`
	Source  Source          `yaml:"-"`
	Invalid []PropertyError `yaml:"-"`

	view           *View
	dimensionGroup string
}

// Case is a CASE expression declared as a list of labelled conditions.
type Case struct {
	Whens []CaseWhen `yaml:"whens"`
	Else  string     `yaml:"else"`
}

// CaseWhen is one branch of a Case.
type CaseWhen struct {
	SQL   string `yaml:"sql"`
	Label string `yaml:"label"`
}

// FieldFilter restricts the rows a measure aggregates. Value uses the
// filter grammar understood by ParseFilterValue.
type FieldFilter struct {
	Field string `yaml:"field"`
	Value any    `yaml:"value"`

	// literal replaces the parsed value with raw SQL compared by equality.
	literal string
}

// NonAdditiveDimension turns a measure into a snapshot metric evaluated at
// the minimum or maximum of the named dimension.
type NonAdditiveDimension struct {
	Name                         string   `yaml:"name"`
	WindowChoice                 string   `yaml:"window_choice"`
	WindowGroupings              []string `yaml:"window_groupings"`
	WindowAwareOfQueryDimensions *bool    `yaml:"window_aware_of_query_dimensions"`
	NullsAreEqual                bool     `yaml:"nulls_are_equal"`
}

// AwareOfQueryDimensions reports whether the window partitions by the query's
// dimensions. Defaults to true.
func (n *NonAdditiveDimension) AwareOfQueryDimensions() bool {
	return n.WindowAwareOfQueryDimensions == nil || *n.WindowAwareOfQueryDimensions
}

// View returns the view the field belongs to.
func (f *Field) View() *View { return f.view }

// DimensionGroup returns the timeframe or interval of a resolved dimension
// group, or the empty string.
func (f *Field) DimensionGroup() string { return f.dimensionGroup }

// IsDimensionGroupTemplate reports whether f is an unexpanded dimension group.
func (f *Field) IsDimensionGroupTemplate() bool {
	return f.FieldType == FieldDimensionGroup && f.dimensionGroup == ""
}

// IsMeasure reports whether f is a measure.
func (f *Field) IsMeasure() bool { return f.FieldType == FieldMeasure }

// ID returns the qualified identifier view.alias.
func (f *Field) ID() string {
	return f.view.Name + "." + f.Alias(false)
}

// Alias returns the column alias. Time groups alias as name_timeframe and
// durations as intervals_name. withView prefixes the view name.
func (f *Field) Alias(withView bool) string {
	alias := f.Name
	if f.FieldType == FieldDimensionGroup && f.dimensionGroup != "" {
		switch f.Type {
		case TypeTime:
			alias = f.Name + "_" + f.dimensionGroup
		case TypeDuration:
			alias = f.dimensionGroup + "_" + f.Name
		}
	}
	if withView {
		return f.view.Name + "_" + alias
	}
	return alias
}

// DisplayLabel returns the label shown to users.
func (f *Field) DisplayLabel() string {
	var label string
	titler := cases.Title(language.English)
	group := titler.String(strings.ReplaceAll(f.dimensionGroup, "_", " "))
	switch {
	case f.Label != "" && f.Type == TypeTime && f.dimensionGroup != "":
		label = f.Label + " " + group
	case f.Label != "" && f.Type == TypeDuration && f.dimensionGroup != "":
		label = group + " " + f.Label
	case f.Label != "":
		label = f.Label
	default:
		text := strings.ReplaceAll(f.Alias(false), "_", " ")
		if len(text) <= 4 {
			label = strings.ToUpper(text)
		} else {
			label = titler.String(text)
		}
	}
	if prefix := f.labelPrefix(); prefix != "" {
		return prefix + " " + label
	}
	return label
}

func (f *Field) labelPrefix() string {
	if f.LabelPrefix != "" {
		return f.LabelPrefix
	}
	if f.view != nil {
		return f.view.FieldPrefix
	}
	return ""
}

// DimensionGroupNames lists the names a dimension group answers to.
func (f *Field) DimensionGroupNames() []string {
	if f.FieldType != FieldDimensionGroup {
		return nil
	}
	var names []string
	switch f.Type {
	case TypeTime:
		for _, tf := range f.Timeframes {
			names = append(names, f.Name+"_"+tf)
		}
	case TypeDuration:
		for _, interval := range f.intervals() {
			names = append(names, interval+"s_"+f.Name)
		}
	}
	return names
}

func (f *Field) intervals() []string {
	if len(f.Intervals) > 0 {
		return f.Intervals
	}
	return Intervals
}

// Match reports whether name refers to f. For an unexpanded dimension
// group it also returns the timeframe or interval selected by name.
func (f *Field) Match(name string) (group string, ok bool) {
	viewName, fieldName := SplitFieldName(name)
	if viewName != "" && viewName != f.view.Name {
		return "", false
	}
	switch {
	case f.IsDimensionGroupTemplate():
		if !slices.Contains(f.DimensionGroupNames(), fieldName) {
			return "", false
		}
		if f.Type == TypeDuration {
			return strings.TrimSuffix(fieldName, "_"+f.Name), true
		}
		return strings.TrimPrefix(fieldName, f.Name+"_"), true
	case f.FieldType == FieldDimensionGroup:
		return f.dimensionGroup, f.Alias(false) == fieldName
	}
	return "", f.Name == fieldName
}

// WithDimensionGroup returns a copy of f resolved to group.
func (f *Field) WithDimensionGroup(group string) *Field {
	clone := *f
	clone.dimensionGroup = group
	return &clone
}

// SplitFieldName splits "view.field" into its parts. An unqualified name
// returns an empty view.
func SplitFieldName(name string) (view, field string) {
	if strings.Count(name, ".") == 1 {
		view, field, _ = strings.Cut(name, ".")
		return view, field
	}
	return "", name
}

// CanonDate returns the qualified name of the measure's canonical date
// dimension group, or the empty string.
func (f *Field) CanonDate() string {
	if f.CanonDateRef != "" {
		ref := strings.NewReplacer("${", "", "}", "").Replace(f.CanonDateRef)
		return f.qualify(ref)
	}
	if f.view.DefaultDate != "" {
		return f.qualify(f.view.DefaultDate)
	}
	return ""
}

func (f *Field) qualify(name string) string {
	if strings.Contains(name, ".") {
		return name
	}
	return f.view.Name + "." + name
}

// NonAdditive returns the non-additive dimension with its names qualified by
// the owning view.
func (f *Field) NonAdditive() *NonAdditiveDimension {
	if f.NonAdditiveDimension == nil {
		return nil
	}
	n := *f.NonAdditiveDimension
	n.Name = f.qualify(n.Name)
	n.WindowGroupings = make([]string, len(f.NonAdditiveDimension.WindowGroupings))
	for i, g := range f.NonAdditiveDimension.WindowGroupings {
		n.WindowGroupings[i] = f.qualify(g)
	}
	return &n
}

// NonAdditiveAlias is the column the snapshot CTE exposes the window value as.
func (f *Field) NonAdditiveAlias() string {
	n := f.NonAdditive()
	if n == nil {
		return ""
	}
	_, name := SplitFieldName(n.Name)
	return fmt.Sprintf("%s_%s_%s", f.view.Name, n.WindowChoice, strings.ToLower(name))
}

// NonAdditiveCTEAlias is the name of the snapshot CTE for this measure.
func (f *Field) NonAdditiveCTEAlias() string {
	n := f.NonAdditive()
	if n == nil {
		return ""
	}
	_, name := SplitFieldName(n.Name)
	return fmt.Sprintf("cte_%s_%s", f.Name, strings.ToLower(name))
}

// UpdatesWhereTimeframe reports whether cumulative where filters follow the
// query's date grain. Defaults to true.
func (f *Field) UpdatesWhereTimeframe() bool {
	return f.UpdateWhereTimeframe == nil || *f.UpdateWhereTimeframe
}

// CTEPrefix names the CTE that materializes a cumulative measure.
func (f *Field) CTEPrefix(aggregated bool) string {
	if f.Type != TypeCumulative {
		return ""
	}
	prefix := "subquery"
	if aggregated {
		prefix = "aggregated"
	}
	return prefix + "_" + f.Alias(true)
}

// ConvertsTimezone reports whether the project timezone applies to f.
func (f *Field) ConvertsTimezone() bool {
	if f.ConvertTimezone != nil {
		return *f.ConvertTimezone
	}
	if m := f.view.Model(); m != nil && m.DefaultConvertTimezone != nil {
		return *m.DefaultConvertTimezone
	}
	return true
}

// EffectiveDatatype returns the declared datatype, defaulting to timestamp
// for dimension groups.
func (f *Field) EffectiveDatatype() string {
	if f.Datatype == "" && f.FieldType == FieldDimensionGroup {
		return "timestamp"
	}
	return f.Datatype
}

// lookup resolves a ${...} reference made from f's SQL.
func (f *Field) lookup(ref, defaultView string) (*Field, error) {
	viewName, name := SplitFieldName(ref)
	if viewName == "" {
		viewName = defaultView
		if viewName == "" {
			viewName = f.view.Name
		}
	}
	return f.view.project.GetField(name, WithView(viewName))
}

// References returns the ${...} placeholders in sql, in order.
func References(sql string) []string {
	var refs []string
	for {
		start := strings.Index(sql, "${")
		if start < 0 {
			return refs
		}
		end := strings.Index(sql[start:], "}")
		if end < 0 {
			return refs
		}
		refs = append(refs, sql[start+2:start+end])
		sql = sql[start+end+1:]
	}
}

// ReferencedFields returns the fields sql references, flattening number
// measures into the fields they reference. References that do not resolve
// are returned by name in missing.
func (f *Field) ReferencedFields(sql string) (fields []*Field, missing []string) {
	return f.referencedFields(sql, 0)
}

func (f *Field) referencedFields(sql string, depth int) (fields []*Field, missing []string) {
	if depth > MaxReferenceDepth {
		return nil, nil
	}
	for _, ref := range References(sql) {
		if ref == "TABLE" {
			continue
		}
		field, err := f.lookup(ref, "")
		if err != nil {
			missing = append(missing, ref)
			continue
		}
		if field.Type == TypeNumber && field.IsMeasure() {
			nested, nestedMissing := field.referencedFields(field.rawTemplate(), depth+1)
			fields = append(fields, nested...)
			missing = append(missing, nestedMissing...)
			continue
		}
		fields = append(fields, field)
	}
	return fields, missing
}

// ReferencedFieldIDs returns the distinct view.name of every field f's SQL
// depends on.
func (f *Field) ReferencedFieldIDs() []string {
	var refs []*Field
	switch {
	case f.Type == TypeCumulative:
		if m, err := f.MeasureField(); err == nil {
			refs = []*Field{m}
		}
	case f.Type == TypeDuration:
		start, _ := f.ReferencedFields(f.SQLStart)
		end, _ := f.ReferencedFields(f.SQLEnd)
		refs = append(start, end...)
	default:
		refs, _ = f.ReferencedFields(f.rawTemplate())
	}
	seen := make(map[string]bool)
	var ids []string
	for _, r := range refs {
		id := r.view.Name + "." + r.Name
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// MeasureField returns the measure a cumulative measure accumulates.
func (f *Field) MeasureField() (*Field, error) {
	if f.MeasureRef == "" {
		return nil, fmt.Errorf("cumulative field %s has no measure", f.ID())
	}
	return f.lookup(strings.NewReplacer("${", "", "}", "").Replace(f.MeasureRef), "")
}

// IsMergedResult reports whether f can only be computed by merging separate
// queries. Number measures over measures with different canon dates are
// merged results unless declared otherwise.
func (f *Field) IsMergedResult() bool {
	if f.MergedResult != nil {
		return *f.MergedResult
	}
	if f.Type != TypeNumber || !f.IsMeasure() {
		return false
	}
	refs, _ := f.ReferencedFields(f.rawTemplate())
	dates := make(map[string]bool)
	for _, r := range refs {
		if r.IsMeasure() && r.Type != TypeCumulative {
			dates[r.CanonDate()] = true
		}
	}
	return len(dates) > 1
}

// LosesJoinAbility reports whether the measures a number measure references
// live in differently joinable parts of the model, so it cannot join other
// views directly.
func (f *Field) LosesJoinAbility() bool {
	if f.MergedResult != nil {
		return *f.MergedResult
	}
	if f.Type != TypeNumber || !f.IsMeasure() {
		return false
	}
	refs, _ := f.ReferencedFields(f.rawTemplate())
	var sets []string
	for _, r := range refs {
		if !r.IsMeasure() || r.Type == TypeCumulative || r.CanonDate() == "" {
			continue
		}
		viewName, _ := SplitFieldName(r.CanonDate())
		hashes, err := f.view.project.WeakJoinGraphHashes(viewName)
		if err != nil {
			continue
		}
		sets = append(sets, strings.Join(hashes, ","))
	}
	for _, s := range sets {
		if s != sets[0] {
			return true
		}
	}
	return false
}

// IsCumulative reports whether f is cumulative or references a cumulative
// measure.
func (f *Field) IsCumulative() bool {
	if f.Type == TypeCumulative {
		return true
	}
	refs, _ := f.ReferencedFields(f.rawTemplate())
	for _, r := range refs {
		if r.Type == TypeCumulative {
			return true
		}
	}
	return false
}

// RequiredViews returns the views f's SQL touches, including its own.
func (f *Field) RequiredViews() []string {
	seen := map[string]bool{f.view.Name: true}
	f.collectRequiredViews(seen, 0)
	views := make([]string, 0, len(seen))
	for v := range seen {
		views = append(views, v)
	}
	sort.Strings(views)
	return views
}

func (f *Field) collectRequiredViews(seen map[string]bool, depth int) {
	if depth > MaxReferenceDepth {
		return
	}
	var templates []string
	switch {
	case f.rawTemplate() != "":
		templates = []string{f.rawTemplate()}
	case f.SQLStart != "" && f.SQLEnd != "":
		templates = []string{f.SQLStart, f.SQLEnd}
	}
	for _, sql := range templates {
		for _, ref := range References(sql) {
			if ref == "TABLE" {
				continue
			}
			field, err := f.lookup(ref, "")
			if err != nil {
				continue
			}
			seen[field.view.Name] = true
			field.collectRequiredViews(seen, depth+1)
		}
	}
}

// JoinGraphs returns the join graphs f can be queried in: the components
// that reach its view plus the merged result graphs it belongs to.
func (f *Field) JoinGraphs() ([]string, error) {
	if f.view.Model() == nil {
		return nil, fmt.Errorf("could not find a model in view %s, please pass the model or set the model_name argument in the view", f.view.Name)
	}
	base, err := f.view.project.WeakJoinGraphHashes(f.view.Name)
	if err != nil {
		return nil, err
	}
	if f.IsCumulative() {
		return base, nil
	}
	merged, err := f.view.project.mergedGraph(f.view.Model())
	if err != nil {
		return nil, err
	}
	var extended []string
	for _, root := range merged.Predecessors(f.ID()) {
		extended = append(extended, MergedResultPrefix+root)
	}
	if f.LosesJoinAbility() {
		return extended, nil
	}
	out := append(slices.Clone(base), extended...)
	sort.Strings(out)
	return out, nil
}

// HasTag reports whether f carries tag.
func (f *Field) HasTag(tag string) bool {
	return slices.Contains(f.Tags, tag)
}
