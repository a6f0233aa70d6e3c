package model

import "strings"

// Position is a 1-based line and column in a source file.
type Position struct {
	Line   int
	Column int
}

// Source records where an object was declared. Keys maps dotted property
// paths relative to the object (for example "fields.2.sql") to positions.
type Source struct {
	File string
	Position
	Keys map[string]Position
}

// Pos returns the position of the property at path, falling back to the
// closest declared parent and finally to the object itself.
func (s Source) Pos(path ...string) Position {
	key := strings.Join(path, ".")
	for key != "" {
		if p, ok := s.Keys[key]; ok {
			return p
		}
		i := strings.LastIndex(key, ".")
		if i < 0 {
			break
		}
		key = key[:i]
	}
	return s.Position
}

// Sub returns the source of a nested object declared under prefix.
func (s Source) Sub(prefix string) Source {
	sub := Source{File: s.File, Position: s.Pos(prefix), Keys: make(map[string]Position)}
	for k, p := range s.Keys {
		if rest, ok := strings.CutPrefix(k, prefix+"."); ok {
			sub.Keys[rest] = p
		}
	}
	return sub
}
