// Package modeltest provides the commerce project shared by the model, query
// and validation tests.
package modeltest

import (
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapmetrics/internal/loader"
	_ "github.com/leapstack-labs/leapmetrics/pkg/dialects/all" // Register dialects
	"github.com/leapstack-labs/leapmetrics/pkg/model"
)

//go:embed testdata/*.yml
var testdata embed.FS

// Connections maps the fixture's connection names to their types.
var Connections = map[string]string{
	"testing_snowflake": "snowflake",
	"testing_bigquery":  "bigquery",
}

// Objects holds the decoded fixture declarations.
type Objects = loader.Objects

// Load decodes the fixture files. Each call returns fresh objects, so tests
// may mutate them.
func Load() (*Objects, error) {
	names, err := fs.Glob(testdata, "testdata/*.yml")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	objs := &Objects{}
	for _, name := range names {
		data, err := testdata.ReadFile(name)
		if err != nil {
			return nil, err
		}
		parsed, err := loader.Parse(name, data)
		if err != nil {
			return nil, err
		}
		objs.Merge(parsed)
	}
	return objs, nil
}

// FromYAML builds a project from inline declarations, one object per
// document.
func FromYAML(t testing.TB, docs ...string) *model.Project {
	t.Helper()
	objs := &Objects{}
	for i, doc := range docs {
		parsed, err := loader.Parse(fmt.Sprintf("doc%d.yml", i), []byte(doc))
		require.NoError(t, err)
		objs.Merge(parsed)
	}
	p, err := model.NewProject(objs.Models, objs.Views, objs.Topics, objs.Dashboards,
		model.WithConnections(Connections))
	require.NoError(t, err)
	return p
}

// Project builds the fixture project with the given options added to the
// fixture connections.
func Project(t testing.TB, opts ...model.Option) *model.Project {
	t.Helper()
	objs, err := Load()
	require.NoError(t, err)
	opts = append([]model.Option{model.WithConnections(Connections)}, opts...)
	p, err := model.NewProject(objs.Models, objs.Views, objs.Topics, objs.Dashboards, opts...)
	require.NoError(t, err)
	return p
}
