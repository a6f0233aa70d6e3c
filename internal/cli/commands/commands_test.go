package commands

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapmetrics/pkg/adapter"
)

func TestRequestFromOptions(t *testing.T) {
	tests := []struct {
		name    string
		stdin   string
		opts    QueryOptions
		want    map[string]any
		wantErr string
	}{
		{
			name: "flags",
			opts: QueryOptions{Metrics: []string{"revenue"}, Dimensions: []string{"channel"}, Limit: 5, OrderBy: "revenue desc"},
			want: map[string]any{
				"metrics": []string{"revenue"}, "dimensions": []string{"channel"},
				"limit": 5, "order_by": "revenue desc",
			},
		},
		{
			name:  "stdin",
			stdin: `{"metrics": ["revenue"], "where": "${channel} = 'Email'"}`,
			want:  map[string]any{"metrics": []any{"revenue"}, "where": "${channel} = 'Email'"},
		},
		{
			name:  "flags override stdin",
			stdin: `{"metrics": ["revenue"], "topic": "Orders"}`,
			opts:  QueryOptions{Topic: "Sales", Having: "${revenue} > 10"},
			want:  map[string]any{"metrics": []any{"revenue"}, "topic": "Sales", "having": "${revenue} > 10"},
		},
		{name: "empty", wantErr: "no metrics or dimensions given"},
		{name: "bad stdin", stdin: "metrics: revenue", wantErr: "stdin is not a JSON request"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := requestFromOptions(strings.NewReader(tt.stdin), &tt.opts)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, raw)
		})
	}
}

func TestRenderResults(t *testing.T) {
	rs := &adapter.ResultSet{
		Columns: []string{"channel", "revenue"},
		Rows:    [][]any{{"Email", 12.5}, {[]byte("Web"), nil}},
	}

	tests := []struct {
		format string
		want   []string
	}{
		{formatJSON, []string{`"channel": "Web"`, `"revenue": null`, `"revenue": 12.5`}},
		{formatCSV, []string{"channel,revenue", "Email,12.5", "Web,NULL"}},
		{formatMarkdown, []string{"| channel | revenue |", "| Email | 12.5 |"}},
		{formatTable, []string{"Email", "NULL", "(2 rows)"}},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, renderResults(&buf, rs, tt.format))
			for _, want := range tt.want {
				assert.Contains(t, buf.String(), want)
			}
		})
	}

	var buf bytes.Buffer
	require.NoError(t, renderResults(&buf, &adapter.ResultSet{Columns: []string{"a"}}, formatTable))
	assert.Equal(t, "(0 rows)\n", buf.String())
}

func TestCheckFormat(t *testing.T) {
	for _, f := range []string{"table", "json", "csv", "md", "markdown"} {
		assert.NoError(t, checkFormat(f), f)
	}
	assert.Error(t, checkFormat("xml"))
}

func TestCommandMetadata(t *testing.T) {
	tests := []struct {
		newCmd func() *cobra.Command
		use    string
		flags  []string
	}{
		{NewQueryCommand, "query", []string{"metrics", "dimensions", "where", "having", "order-by", "limit", "run", "format", "request"}},
		{NewServeCommand, "serve", []string{"addr", "jwt-secret", "watch"}},
		{NewHistoryCommand, "history [id]", []string{"limit", "format"}},
		{NewValidateCommand, "validate", []string{"format", "disable", "errors-only"}},
		{NewREPLCommand, "repl", []string{"format"}},
		{NewDoctorCommand, "doctor", []string{"format", "offline"}},
	}
	for _, tt := range tests {
		t.Run(tt.use, func(t *testing.T) {
			c := tt.newCmd()
			assert.Equal(t, tt.use, c.Use)
			assert.NotEmpty(t, c.Short)
			for _, f := range tt.flags {
				assert.NotNil(t, c.Flags().Lookup(f), "flag %q should exist", f)
			}
		})
	}

	list := NewListCommand()
	var subs []string
	for _, c := range list.Commands() {
		subs = append(subs, c.Name())
	}
	assert.ElementsMatch(t, []string{"metrics", "dimensions", "views", "models", "topics"}, subs)
}
