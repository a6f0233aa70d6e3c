package loader

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapmetrics/internal/testutil"
	_ "github.com/leapstack-labs/leapmetrics/pkg/dialects/all"
	"github.com/leapstack-labs/leapmetrics/pkg/model"
)

const modelYAML = `type: model
name: shop
connection: warehouse
`

const viewYAML = `type: view
name: orders
model_name: shop
sql_table_name: analytics.orders
identifiers:
  - name: order_id
    type: primary
    sql: ${id}
fields:
  - name: id
    field_type: dimension
    type: string
    primary_key: yes
    sql: ${TABLE}.id
  - name: revenue
    field_type: measure
    type: sum
    sql: ${TABLE}.revenue
`

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	}
	return dir
}

func TestParse_Positions(t *testing.T) {
	objs, err := Parse("views/orders.yml", []byte(viewYAML))
	require.NoError(t, err)
	require.Len(t, objs.Views, 1)

	src := objs.Views[0].Source
	assert.Equal(t, "views/orders.yml", src.File)
	assert.Equal(t, model.Position{Line: 1, Column: 1}, src.Position)
	assert.Equal(t, model.Position{Line: 4, Column: 1}, src.Pos("sql_table_name"))
	assert.Equal(t, model.Position{Line: 9, Column: 1}, src.Pos("fields"))
	assert.Equal(t, model.Position{Line: 15, Column: 5}, src.Pos("fields", "1"))
	assert.Equal(t, model.Position{Line: 18, Column: 5}, src.Pos("fields", "1", "sql"))
	assert.Equal(t, model.Position{Line: 15, Column: 5}, src.Pos("fields", "1", "filters"), "falls back to parent")
}

func TestParse_MultipleDocuments(t *testing.T) {
	objs, err := Parse("shop.yml", []byte(modelYAML+"---\n"+viewYAML))
	require.NoError(t, err)
	assert.Len(t, objs.Models, 1)
	assert.Len(t, objs.Views, 1)
	assert.Equal(t, 2, objs.Len())
	assert.Equal(t, 5, objs.Views[0].Source.Line)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"invalid yaml", "type: view\n  name: [", "bad.yml"},
		{"not a mapping", "- a\n- b\n", "bad.yml:1: expected a mapping at the top level"},
		{"unknown type", "type: cube\nname: x\n", `bad.yml:1: unknown type "cube"`},
		{"missing type", "name: x\n", "bad.yml:1: missing the required key type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse("bad.yml", []byte(tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			var fe *FileError
			assert.True(t, errors.As(err, &fe))
		})
	}
}

func TestParse_InvalidValueKeepsDeclaration(t *testing.T) {
	tests := []struct {
		name      string
		content   string
		viewKey   string
		fieldKey  string
		wantValue any
	}{
		{"non boolean hidden", viewYAML + "    hidden: maybe\n", "", "hidden", "maybe"},
		{"mapping label", viewYAML + "    label: {a: 1}\n", "", "label", map[string]any{"a": 1}},
		{"non numeric tiers", viewYAML + "    tiers: [a, b]\n", "", "tiers", []any{"a", "b"}},
		{"view hidden", viewYAML + "hidden: maybe\n", "hidden", "", "maybe"},
		{"field not a mapping", strings.Replace(viewYAML, "fields:\n", "fields:\n  - revenue\n", 1), "fields.0", "", "revenue"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			objs, err := Parse("views/orders.yml", []byte(tt.content))
			require.NoError(t, err)
			require.Len(t, objs.Views, 1)
			v := objs.Views[0]
			require.Len(t, v.Fields, 2)
			assert.Equal(t, "revenue", v.Fields[1].Name)
			assert.Equal(t, "sum", v.Fields[1].Type)

			invalid := v.Invalid
			if tt.fieldKey != "" {
				assert.Empty(t, v.Invalid)
				invalid = v.Fields[1].Invalid
				assert.Equal(t, tt.wantValue, v.Fields[1].Raw[tt.fieldKey])
			}
			require.Len(t, invalid, 1)
			assert.Equal(t, tt.viewKey+tt.fieldKey, invalid[0].Key)
			assert.Equal(t, tt.wantValue, invalid[0].Value)
		})
	}
}

func TestLoader_LoadDir(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"leapmetrics.yaml":  "connections: []\n",
		"models/shop.yml":   modelYAML,
		"views/orders.yaml": viewYAML,
		"views/notes.yml":   "title: not a declaration\n",
		".cache/stale.yml":  "type: cube\n",
		"views/README.md":   "# views\n",
	})

	logger, rec := testutil.NewRecorder()
	l := New(logger, WithSkip("leapmetrics.yaml"), WithWeekStartDay("sunday"))
	files, err := l.Files(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "models", "shop.yml"),
		filepath.Join(dir, "views", "notes.yml"),
		filepath.Join(dir, "views", "orders.yaml"),
	}, files)

	objs, err := l.LoadDir(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, objs.Models, 1)
	require.Len(t, objs.Views, 1)
	assert.Equal(t, "sunday", objs.Models[0].WeekStartDay)
	assert.Equal(t, "views/orders.yaml", objs.Views[0].Source.File)

	warnings := rec.Entries(slog.LevelWarn)
	require.Len(t, warnings, 1)
	assert.Equal(t, "skipping file without a type", warnings[0].Message)
	assert.Equal(t, filepath.Join("views", "notes.yml"), warnings[0].Attrs["file"])
}

func TestLoader_ParseErrorFailsLoad(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"shop.yml": modelYAML,
		"bad.yml":  "type: cube\n",
	})
	_, err := New(nil).LoadDir(context.Background(), dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad.yml")
}

func TestLoader_ProjectAndReload(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"shop.yml":   modelYAML,
		"orders.yml": viewYAML,
	})
	l := New(nil)
	p, err := l.Project(context.Background(), dir, model.WithConnections(map[string]string{"warehouse": "snowflake"}))
	require.NoError(t, err)
	_, err = p.GetField("orders.revenue")
	require.NoError(t, err)

	updated := viewYAML + `  - name: cost
    field_type: measure
    type: sum
    sql: ${TABLE}.cost
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "orders.yml"), []byte(updated), 0o600))
	require.NoError(t, l.Reload(context.Background(), p, dir))
	_, err = p.GetField("orders.cost")
	assert.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "orders.yml"), []byte("type: cube\n"), 0o600))
	assert.Error(t, l.Reload(context.Background(), p, dir))
	_, err = p.GetField("orders.cost")
	assert.NoError(t, err, "failed reload keeps the previous objects")
}
