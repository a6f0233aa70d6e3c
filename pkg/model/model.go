package model

import (
	"sort"
	"strings"
)

// Model groups views under a warehouse connection and declares the access
// grants and field mappings they share.
type Model struct {
	Name       string `yaml:"name"`
	Label      string `yaml:"label"`
	Connection string `yaml:"connection"`
	// WeekStartDay shifts week truncation, defaulting to monday.
	WeekStartDay           string              `yaml:"week_start_day"`
	DefaultConvertTimezone *bool               `yaml:"default_convert_timezone"`
	AccessGrants           []AccessGrant       `yaml:"access_grants"`
	RequiredAccessGrants   []string            `yaml:"required_access_grants"`
	Mappings               map[string]*Mapping `yaml:"mappings"`

	Raw     map[string]any  `yaml:"-"`
	Source  Source          `yaml:"-"`
	Invalid []PropertyError `yaml:"-"`
}

// AccessGrant allows access when the user's attribute is one of
// AllowedValues.
type AccessGrant struct {
	Name          string   `yaml:"name"`
	UserAttribute string   `yaml:"user_attribute"`
	AllowedValues []string `yaml:"allowed_values"`
}

// Mapping is a logical field that resolves to whichever of Fields can be
// joined or merged with the rest of a query.
type Mapping struct {
	Fields      []string `yaml:"fields"`
	Description string   `yaml:"description"`
	GroupLabel  string   `yaml:"group_label"`
}

// ReservedMappingNames cannot be declared as mappings.
var ReservedMappingNames = []string{"date", "week", "month", "quarter", "year"}

// AccessGrant returns the grant with the given name.
func (m *Model) AccessGrant(name string) (AccessGrant, bool) {
	for _, g := range m.AccessGrants {
		if g.Name == name {
			return g, true
		}
	}
	return AccessGrant{}, false
}

// MappingReference is one candidate a mapped field may be swapped for.
type MappingReference struct {
	Field      string
	ToJoinHash string
}

// ResolvedMapping describes a field of a mapping and the other fields it is
// interchangeable with.
type ResolvedMapping struct {
	Name         string
	FieldType    string
	FromJoinHash string
	References   []MappingReference
}

// ResolvedMappings expands the model's mappings into one entry per member
// field, keyed by that field's name. Fields that do not resolve are skipped.
func (p *Project) ResolvedMappings(m *Model, dimensionsOnly bool) map[string]ResolvedMapping {
	out := make(map[string]ResolvedMapping)
	names := make([]string, 0, len(m.Mappings))
	for name := range m.Mappings {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		mapping := m.Mappings[name]
		type member struct {
			name  string
			field *Field
			hash  string
		}
		var members []member
		for _, ref := range mapping.Fields {
			f, err := p.GetField(ref)
			if err != nil {
				continue
			}
			if dimensionsOnly && f.IsMeasure() {
				continue
			}
			hash, err := p.JoinGraphHash(f.view.Name)
			if err != nil {
				continue
			}
			members = append(members, member{name: strings.ToLower(ref), field: f, hash: hash})
		}
		for _, from := range members {
			rm := ResolvedMapping{Name: name, FieldType: from.field.FieldType, FromJoinHash: from.hash}
			for _, to := range members {
				if to.name != from.name {
					rm.References = append(rm.References, MappingReference{Field: to.name, ToJoinHash: to.hash})
				}
			}
			out[from.name] = rm
		}
	}
	return out
}
