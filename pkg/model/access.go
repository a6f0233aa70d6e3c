package model

import (
	"fmt"
	"slices"

	"github.com/leapstack-labs/leapmetrics/pkg/core"
)

// User is the identity access grants and access filters are evaluated
// against.
type User struct {
	// Attributes are matched against access grant user attributes. A missing
	// or nil attribute passes every grant on it.
	Attributes map[string]any `json:"attributes"`
}

// Attribute returns the user attribute as a string.
func (u *User) Attribute(name string) (string, bool) {
	if u == nil {
		return "", false
	}
	v, ok := u.Attributes[name]
	if !ok || v == nil {
		return "", false
	}
	return fmt.Sprint(v), true
}

// grantsAllow reports whether the current user passes every named grant.
// Grants are looked up in m, or in every model when m is nil.
func (p *Project) grantsAllow(st *projectState, m *Model, required []string) bool {
	if st.user == nil || len(required) == 0 {
		return true
	}
	for _, name := range required {
		grant, ok := p.findGrant(st, m, name)
		if !ok {
			continue
		}
		value, ok := st.user.Attribute(grant.UserAttribute)
		if !ok {
			continue
		}
		if !slices.Contains(grant.AllowedValues, value) {
			return false
		}
	}
	return true
}

func (p *Project) findGrant(st *projectState, m *Model, name string) (AccessGrant, bool) {
	if m != nil {
		return m.AccessGrant(name)
	}
	for _, model := range st.models {
		if g, ok := model.AccessGrant(name); ok {
			return g, true
		}
	}
	return AccessGrant{}, false
}

func (p *Project) checkModelAccess(st *projectState, m *Model) error {
	if !p.grantsAllow(st, m, m.RequiredAccessGrants) {
		return core.NewAccessDenied(core.ObjectModel, m.Name,
			"Could not find or you do not have access to model %s", m.Name)
	}
	return nil
}

func (p *Project) checkViewAccess(st *projectState, v *View) error {
	m := st.models[v.ModelName]
	if m != nil {
		if err := p.checkModelAccess(st, m); err != nil {
			return err
		}
	}
	if !p.grantsAllow(st, m, v.RequiredAccessGrants) {
		return core.NewAccessDenied(core.ObjectView, v.Name,
			"Could not find or you do not have access to view %s", v.Name)
	}
	return nil
}

func (p *Project) checkFieldAccess(st *projectState, f *Field) error {
	if err := p.checkViewAccess(st, f.view); err != nil {
		return err
	}
	if !p.grantsAllow(st, st.models[f.view.ModelName], f.RequiredAccessGrants) {
		return core.NewAccessDenied(core.ObjectField, f.Name,
			"Could not find or you do not have access to field %s", f.Name)
	}
	return nil
}

func (p *Project) checkTopicAccess(st *projectState, t *Topic) error {
	m := st.models[t.ModelName]
	if m != nil {
		if err := p.checkModelAccess(st, m); err != nil {
			return core.NewAccessDenied(core.ObjectTopic, t.Label,
				"Could not find or you do not have access to topic %s", t.Label)
		}
	}
	if !p.grantsAllow(st, m, t.RequiredAccessGrants) {
		return core.NewAccessDenied(core.ObjectTopic, t.Label,
			"Could not find or you do not have access to topic %s", t.Label)
	}
	return nil
}

// AccessFilterSQL renders the access filters of a view for the current user
// as SQL conditions. Filters on attributes the user does not carry are
// skipped.
func (p *Project) AccessFilterSQL(filters []AccessFilter, render func(*Field) (string, error)) ([]string, error) {
	st := p.state()
	if st.user == nil {
		return nil, nil
	}
	var out []string
	for _, af := range filters {
		value, ok := st.user.Attribute(af.UserAttribute)
		if !ok {
			continue
		}
		f, err := p.GetFieldByName(af.Field)
		if err != nil {
			return nil, err
		}
		sql, err := render(f)
		if err != nil {
			return nil, err
		}
		out = append(out, fmt.Sprintf("%s = '%s'", sql, value))
	}
	return out, nil
}
