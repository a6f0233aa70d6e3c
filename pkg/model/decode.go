package model

import (
	"fmt"
	"reflect"
	"slices"
	"sort"
	"strings"

	"github.com/go-viper/mapstructure/v2"
)

// Object types a declaration may carry in its top-level "type" key.
const (
	ObjectTypeModel     = "model"
	ObjectTypeView      = "view"
	ObjectTypeTopic     = "topic"
	ObjectTypeDashboard = "dashboard"
)

// yesNoHook accepts the "yes"/"no" spelling for boolean properties.
func yesNoHook(from, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to.Kind() != reflect.Bool {
		return data, nil
	}
	switch strings.ToLower(data.(string)) {
	case "yes", "true":
		return true, nil
	case "no", "false":
		return false, nil
	}
	return data, nil
}

// PropertyError is a declared property whose value does not fit its type.
// The property is left at its zero value.
type PropertyError struct {
	Key   string
	Value any
	Err   error
}

func (e PropertyError) Error() string {
	return fmt.Sprintf("property %s: %v", e.Key, e.Err)
}

func decodeInto(raw map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "yaml",
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.ComposeDecodeHookFunc(yesNoHook),
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(raw)
}

// decode fills out from raw. When the whole declaration does not decode,
// each key is tried alone and the ones that fail are dropped and returned.
func decode(raw map[string]any, out any) ([]PropertyError, error) {
	if err := decodeInto(raw, out); err == nil {
		return nil, nil
	}
	target := reflect.ValueOf(out).Elem()
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var invalid []PropertyError
	valid := make(map[string]any, len(raw))
	for _, k := range keys {
		single := reflect.New(target.Type()).Interface()
		if err := decodeInto(map[string]any{k: raw[k]}, single); err != nil {
			invalid = append(invalid, PropertyError{Key: k, Value: raw[k], Err: err})
			continue
		}
		valid[k] = raw[k]
	}
	target.Set(reflect.Zero(target.Type()))
	if err := decodeInto(valid, out); err != nil {
		return nil, err
	}
	return invalid, nil
}

// DecodeModel builds a Model from its declaration.
func DecodeModel(raw map[string]any, src Source) (*Model, error) {
	m := &Model{}
	invalid, err := decode(raw, m)
	if err != nil {
		return nil, fmt.Errorf("decode model %v: %w", raw["name"], err)
	}
	m.Raw, m.Source, m.Invalid = raw, src, invalid
	return m, nil
}

// viewLists are the view keys decoded one element at a time, so a bad field
// does not drop its siblings.
var viewLists = []string{"fields", "identifiers", "sets"}

// DecodeView builds a View from its declaration. Field and view names are
// lowercased, and the legacy convert_tz key is accepted.
func DecodeView(raw map[string]any, src Source) (*View, error) {
	v := &View{}
	top := make(map[string]any, len(raw))
	for k, val := range raw {
		if !slices.Contains(viewLists, k) {
			top[k] = val
		}
	}
	invalid, err := decode(top, v)
	if err != nil {
		return nil, fmt.Errorf("decode view %v: %w", raw["name"], err)
	}
	v.Name = strings.ToLower(v.Name)
	v.Raw, v.Source, v.Invalid = raw, src, invalid

	for _, key := range viewLists {
		items, errs := viewItems(raw, key)
		v.Invalid = append(v.Invalid, errs...)
		for _, it := range items {
			path := fmt.Sprintf("%s.%d", key, it.index)
			switch key {
			case "fields":
				f := &Field{}
				if f.Invalid, err = decode(it.raw, f); err != nil {
					return nil, fmt.Errorf("decode view %v %s: %w", raw["name"], path, err)
				}
				f.Name = strings.ToLower(f.Name)
				f.Raw, f.Source = it.raw, src.Sub(path)
				if tz, ok := it.raw["convert_tz"].(bool); ok && f.ConvertTimezone == nil {
					f.ConvertTimezone = &tz
				}
				v.Fields = append(v.Fields, f)
			case "identifiers":
				id := &Identifier{}
				if id.Invalid, err = decode(it.raw, id); err != nil {
					return nil, fmt.Errorf("decode view %v %s: %w", raw["name"], path, err)
				}
				id.Raw, id.Source = it.raw, src.Sub(path)
				v.Identifiers = append(v.Identifiers, id)
			case "sets":
				s := &Set{}
				errs, err := decode(it.raw, s)
				if err != nil {
					return nil, fmt.Errorf("decode view %v %s: %w", raw["name"], path, err)
				}
				for _, e := range errs {
					e.Key = path + "." + e.Key
					v.Invalid = append(v.Invalid, e)
				}
				s.Source = src.Sub(path)
				v.Sets = append(v.Sets, s)
			}
		}
	}
	return v, nil
}

type viewItem struct {
	index int
	raw   map[string]any
}

// viewItems returns the mappings listed under key, with errors for a key
// that is not a list and for elements that are not mappings.
func viewItems(raw map[string]any, key string) ([]viewItem, []PropertyError) {
	val, ok := raw[key]
	if !ok || val == nil {
		return nil, nil
	}
	list, ok := val.([]any)
	if !ok {
		return nil, []PropertyError{{Key: key, Value: val, Err: fmt.Errorf("expected a list, got %T", val)}}
	}
	var (
		items []viewItem
		errs  []PropertyError
	)
	for i, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			errs = append(errs, PropertyError{Key: fmt.Sprintf("%s.%d", key, i), Value: item,
				Err: fmt.Errorf("expected a mapping, got %T", item)})
			continue
		}
		items = append(items, viewItem{index: i, raw: m})
	}
	return items, errs
}

// DecodeTopic builds a Topic from its declaration.
func DecodeTopic(raw map[string]any, src Source) (*Topic, error) {
	t := &Topic{}
	invalid, err := decode(raw, t)
	if err != nil {
		return nil, fmt.Errorf("decode topic %v: %w", raw["label"], err)
	}
	t.Raw, t.Source, t.Invalid = raw, src, invalid
	return t, nil
}

// DecodeDashboard builds a Dashboard from its declaration.
func DecodeDashboard(raw map[string]any, src Source) (*Dashboard, error) {
	d := &Dashboard{}
	invalid, err := decode(raw, d)
	if err != nil {
		return nil, fmt.Errorf("decode dashboard %v: %w", raw["name"], err)
	}
	d.Raw, d.Source, d.Invalid = raw, src, invalid
	return d, nil
}
