package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapmetrics/internal/cli/commands"
	"github.com/leapstack-labs/leapmetrics/internal/state"
)

const projectConfig = `connections:
  - name: warehouse
    type: duckdb
`

const shopModel = `type: model
name: shop
connection: warehouse
`

const ordersView = `type: view
name: orders
model_name: shop
sql_table_name: (SELECT 'a' AS id, 'Email' AS channel, CAST(10 AS DOUBLE) AS revenue, DATE '2024-01-01' AS order_date UNION ALL SELECT 'b', 'Web', CAST(5 AS DOUBLE), DATE '2024-01-02' UNION ALL SELECT 'c', 'Email', CAST(2.5 AS DOUBLE), DATE '2024-01-03')
default_date: order
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
  - name: order
    field_type: dimension_group
    type: time
    timeframes: [raw, date]
    sql: ${TABLE}.order_date
  - name: channel
    field_type: dimension
    type: string
    sql: ${TABLE}.channel
  - name: revenue
    field_type: measure
    type: sum
    sql: ${TABLE}.revenue
`

func writeProject(t *testing.T, view string) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"leapmetrics.yaml": projectConfig,
		"models/shop.yml":  shopModel,
		"views/orders.yml": view,
	}
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	}
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetIn(strings.NewReader(""))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "leapmetrics v"+Version)
	assert.Contains(t, out, "snowflake")
	assert.Contains(t, out, "adapters: ")
}

func TestQueryCommand(t *testing.T) {
	dir := writeProject(t, ordersView)

	tests := []struct {
		name string
		args []string
		want []string
	}{
		{
			name: "compile",
			args: []string{"query", "-m", "revenue", "-d", "channel"},
			want: []string{"orders.channel as orders_channel", "SUM(orders.revenue) as orders_revenue", "FROM (SELECT 'a' AS id"},
		},
		{
			name: "compile as json",
			args: []string{"query", "-m", "revenue", "--format", "json"},
			want: []string{`"query_type": "duckdb"`, `"connection": "warehouse"`},
		},
		{
			name: "run as csv",
			args: []string{"query", "-m", "revenue", "-d", "channel", "--run", "--format", "csv"},
			want: []string{"orders_channel,orders_revenue", "Email,12.5", "Web,5"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, append([]string{"--project-dir", dir}, tt.args...)...)
			require.NoError(t, err)
			for _, want := range tt.want {
				assert.Contains(t, out, want)
			}
		})
	}

	out, err := execute(t, "--project-dir", dir, "history", "--format", "json")
	require.NoError(t, err)
	var recs []state.QueryRecord
	require.NoError(t, json.Unmarshal([]byte(out), &recs))
	require.Len(t, recs, len(tests))
	require.NotNil(t, recs[0].RowCount, "the newest query was run")
	assert.Equal(t, 2, *recs[0].RowCount)
	assert.Nil(t, recs[1].RowCount)

	out, err = execute(t, "--project-dir", dir, "history", recs[0].ID)
	require.NoError(t, err)
	assert.Contains(t, out, "SUM(orders.revenue)")
}

func TestQueryCommand_Errors(t *testing.T) {
	dir := writeProject(t, ordersView)

	_, err := execute(t, "--project-dir", dir, "query")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no metrics or dimensions given")

	_, err = execute(t, "--project-dir", dir, "query", "-m", "margin")
	require.Error(t, err)

	_, err = execute(t, "--project-dir", dir, "query", "-m", "revenue", "--format", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown format "xml"`)
}

func TestQueryCommand_Stdin(t *testing.T) {
	dir := writeProject(t, ordersView)
	cmd := NewRootCmd()
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetIn(strings.NewReader(`{"metrics": ["revenue"], "dimensions": ["channel"], "limit": 1}`))
	cmd.SetArgs([]string{"--project-dir", dir, "query"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "LIMIT 1")
}

func TestMQLCommand(t *testing.T) {
	dir := writeProject(t, ordersView)
	out, err := execute(t, "--project-dir", dir, "mql", "SELECT * FROM MQL(revenue BY channel)")
	require.NoError(t, err)
	assert.Contains(t, out, "SELECT * FROM (SELECT orders.channel as orders_channel")
}

func TestValidateCommand(t *testing.T) {
	out, err := execute(t, "--project-dir", writeProject(t, ordersView), "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "Project is valid")

	broken := strings.Replace(ordersView, "type: sum", "type: total", 1)
	out, err = execute(t, "--project-dir", writeProject(t, broken), "validate", "--format", "json")
	var failed *commands.ValidationFailedError
	require.ErrorAs(t, err, &failed)
	assert.GreaterOrEqual(t, failed.Errors, 1)
	assert.Contains(t, out, `"rule_id": "VF02"`)
}

func TestListAndDefine(t *testing.T) {
	dir := writeProject(t, ordersView)

	out, err := execute(t, "--project-dir", dir, "list", "metrics", "--format", "json")
	require.NoError(t, err)
	var fields []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &fields))
	require.Len(t, fields, 1)
	assert.Equal(t, "orders.revenue", fields[0]["id"])

	out, err = execute(t, "--project-dir", dir, "list", "views", "--format", "csv")
	require.NoError(t, err)
	assert.Contains(t, out, "orders,shop")

	out, err = execute(t, "--project-dir", dir, "define", "revenue")
	require.NoError(t, err)
	assert.Contains(t, out, "orders.revenue")
}

func TestRulesCommand(t *testing.T) {
	out, err := execute(t, "rules", "VF02", "--format", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"id": "VF02"`)

	_, err = execute(t, "rules", "ZZ99")
	require.Error(t, err)
}

func TestInitCommand(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "metrics")
	out, err := execute(t, "init", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "created leapmetrics.yaml")
	for _, f := range []string{"leapmetrics.yaml", ".gitignore", "models/shop.yml", "views/orders.yml"} {
		assert.FileExists(t, filepath.Join(dir, f))
	}

	_, err = execute(t, "init", dir)
	require.Error(t, err, "existing config without --force")
	_, err = execute(t, "init", dir, "--force")
	require.NoError(t, err)
}
