package model

// Dashboard is a named collection of saved queries. It is only validated and
// access checked here; rendering happens elsewhere.
type Dashboard struct {
	Name                 string             `yaml:"name"`
	Label                string             `yaml:"label"`
	Description          string             `yaml:"description"`
	Layout               string             `yaml:"layout"`
	Filters              []FieldFilter      `yaml:"filters"`
	Elements             []DashboardElement `yaml:"elements"`
	RequiredAccessGrants []string           `yaml:"required_access_grants"`

	Raw     map[string]any  `yaml:"-"`
	Source  Source          `yaml:"-"`
	Invalid []PropertyError `yaml:"-"`
}

// DashboardElement is one tile of a dashboard.
type DashboardElement struct {
	Title   string        `yaml:"title"`
	Type    string        `yaml:"type"`
	Model   string        `yaml:"model"`
	Metric  string        `yaml:"metric"`
	Metrics []string      `yaml:"metrics"`
	SliceBy []string      `yaml:"slice_by"`
	Filters []FieldFilter `yaml:"filters"`
}

// DisplayLabel returns the label, falling back to the name.
func (d *Dashboard) DisplayLabel() string {
	if d.Label != "" {
		return d.Label
	}
	return d.Name
}
