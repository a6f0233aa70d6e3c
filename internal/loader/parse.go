// Package loader reads a project directory of YAML declarations into
// model objects, keeping the file position of every key so diagnostics can
// point at the offending line.
package loader

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/leapstack-labs/leapmetrics/pkg/model"
)

// Objects holds decoded declarations in load order.
type Objects struct {
	Models     []*model.Model
	Views      []*model.View
	Topics     []*model.Topic
	Dashboards []*model.Dashboard
}

// Len returns the number of objects.
func (o *Objects) Len() int {
	return len(o.Models) + len(o.Views) + len(o.Topics) + len(o.Dashboards)
}

// Merge appends the objects of other.
func (o *Objects) Merge(other *Objects) {
	o.Models = append(o.Models, other.Models...)
	o.Views = append(o.Views, other.Views...)
	o.Topics = append(o.Topics, other.Topics...)
	o.Dashboards = append(o.Dashboards, other.Dashboards...)
}

// FileError reports a file that could not be parsed or decoded.
type FileError struct {
	File string
	Line int
	Err  error
}

func (e *FileError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %v", e.File, e.Line, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.File, e.Err)
}

func (e *FileError) Unwrap() error { return e.Err }

// ErrNoType is wrapped by errors for documents without a type key.
var ErrNoType = errors.New("missing the required key type")

// Parse decodes every YAML document in data. name is recorded as the
// source file of each object. A property value of the wrong type does not
// fail the file: it is kept in the object's Invalid list for validation.
func Parse(name string, data []byte) (*Objects, error) {
	objs := &Objects{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	for {
		var doc yaml.Node
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &FileError{File: name, Err: err}
		}
		if len(doc.Content) == 0 {
			continue
		}
		root := doc.Content[0]
		if root.Kind != yaml.MappingNode {
			return nil, &FileError{File: name, Line: root.Line, Err: errors.New("expected a mapping at the top level")}
		}
		var raw map[string]any
		if err := root.Decode(&raw); err != nil {
			return nil, &FileError{File: name, Line: root.Line, Err: err}
		}
		src := model.Source{
			File:     name,
			Position: model.Position{Line: root.Line, Column: root.Column},
			Keys:     make(map[string]model.Position),
		}
		collectKeys(root, "", src.Keys)
		if err := objs.add(raw, src); err != nil {
			return nil, &FileError{File: name, Line: root.Line, Err: err}
		}
	}
	return objs, nil
}

func (o *Objects) add(raw map[string]any, src model.Source) error {
	typ, _ := raw["type"].(string)
	switch typ {
	case model.ObjectTypeModel:
		m, err := model.DecodeModel(raw, src)
		if err != nil {
			return err
		}
		o.Models = append(o.Models, m)
	case model.ObjectTypeView:
		v, err := model.DecodeView(raw, src)
		if err != nil {
			return err
		}
		o.Views = append(o.Views, v)
	case model.ObjectTypeTopic:
		t, err := model.DecodeTopic(raw, src)
		if err != nil {
			return err
		}
		o.Topics = append(o.Topics, t)
	case model.ObjectTypeDashboard:
		d, err := model.DecodeDashboard(raw, src)
		if err != nil {
			return err
		}
		o.Dashboards = append(o.Dashboards, d)
	case "":
		return ErrNoType
	default:
		return fmt.Errorf("unknown type %q, expected one of model, view, topic, dashboard", typ)
	}
	return nil
}

// collectKeys records the position of every mapping key and sequence item
// under node, keyed by dotted path ("fields.2.sql").
func collectKeys(node *yaml.Node, prefix string, keys map[string]model.Position) {
	join := func(k string) string {
		if prefix == "" {
			return k
		}
		return prefix + "." + k
	}
	switch node.Kind {
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			k, v := node.Content[i], node.Content[i+1]
			if k.Value == "<<" {
				continue
			}
			path := join(k.Value)
			keys[path] = model.Position{Line: k.Line, Column: k.Column}
			collectKeys(v, path, keys)
		}
	case yaml.SequenceNode:
		for i, item := range node.Content {
			path := join(strconv.Itoa(i))
			keys[path] = model.Position{Line: item.Line, Column: item.Column}
			collectKeys(item, path, keys)
		}
	case yaml.AliasNode:
		if node.Alias != nil {
			collectKeys(node.Alias, prefix, keys)
		}
	}
}
