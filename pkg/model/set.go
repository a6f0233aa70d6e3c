package model

import (
	"slices"
	"strings"

	"github.com/leapstack-labs/leapmetrics/pkg/core"
)

// AllFields expands to every field of a set's view.
const AllFields = "ALL_FIELDS"

// Set is a named list of fields. Entries may include other sets with
// "name*", exclude sets with "-name*" and exclude single fields with
// "-field".
type Set struct {
	Name     string   `yaml:"name"`
	ViewName string   `yaml:"view_name"`
	Fields   []string `yaml:"fields"`

	Source Source `yaml:"-"`

	project *Project
}

// FieldNames resolves the set to qualified field names in declaration order.
func (s *Set) FieldNames() ([]string, error) {
	return s.fieldNames(0)
}

func (s *Set) fieldNames(depth int) ([]string, error) {
	if depth > MaxReferenceDepth {
		return nil, nil
	}
	var include, exclude []string
	for _, entry := range s.Fields {
		switch {
		case strings.Contains(entry, "*") && strings.Contains(entry, "-"):
			names, err := s.expand(strings.NewReplacer("*", "", "-", "").Replace(entry), depth)
			if err != nil {
				return nil, err
			}
			exclude = append(exclude, names...)
		case strings.Contains(entry, "*"):
			names, err := s.expand(strings.ReplaceAll(entry, "*", ""), depth)
			if err != nil {
				return nil, err
			}
			include = append(include, names...)
		case strings.HasPrefix(entry, "-"):
			name, err := s.qualify(strings.TrimPrefix(entry, "-"))
			if err != nil {
				return nil, err
			}
			exclude = append(exclude, name)
		default:
			name, err := s.qualify(entry)
			if err != nil {
				return nil, err
			}
			include = append(include, name)
		}
	}

	var out []string
	for _, name := range include {
		if !slices.Contains(exclude, name) && !slices.Contains(out, name) {
			out = append(out, name)
		}
	}
	return out, nil
}

func (s *Set) expand(name string, depth int) ([]string, error) {
	if name == AllFields {
		v, ok := s.project.state().views[s.ViewName]
		if !ok {
			return nil, nil
		}
		var names []string
		for _, f := range v.ListFields(true, true) {
			names = append(names, v.Name+"."+f.Alias(false))
		}
		return names, nil
	}
	viewName, setName := SplitFieldName(name)
	if viewName == "" {
		viewName = s.ViewName
	}
	other := s.project.GetSet(setName, viewName)
	if other == nil {
		s.project.Logger().Warn("could not find set, disregarding those fields", "set", setName, "in", s.Name)
		return nil, nil
	}
	return other.fieldNames(depth + 1)
}

func (s *Set) qualify(name string) (string, error) {
	viewName, fieldName := SplitFieldName(name)
	if viewName == "" {
		viewName = s.ViewName
	}
	if viewName == "" {
		return "", core.Errorf("Cannot find a valid view name for the field %s in set %s", fieldName, s.Name)
	}
	return viewName + "." + fieldName, nil
}
