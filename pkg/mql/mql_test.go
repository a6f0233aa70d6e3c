package mql_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapmetrics/internal/testutil"
	"github.com/leapstack-labs/leapmetrics/pkg/core"
	"github.com/leapstack-labs/leapmetrics/pkg/model/modeltest"
	"github.com/leapstack-labs/leapmetrics/pkg/mql"
	"github.com/leapstack-labs/leapmetrics/pkg/query"
)

const revenueByChannel = "SELECT order_lines.sales_channel as order_lines_channel," +
	"SUM(order_lines.revenue) as order_lines_total_item_revenue " +
	"FROM analytics.order_line_items order_lines GROUP BY order_lines.sales_channel " +
	"ORDER BY order_lines_total_item_revenue DESC"

func converter(t *testing.T) *mql.Converter {
	t.Helper()
	logger := testutil.NewTestLogger(t)
	return mql.NewConverter(query.New(modeltest.Project(t), query.WithLogger(logger)), logger)
}

func TestLexer(t *testing.T) {
	tokens := mql.NewLexer("total_revenue BY orders.channel\nWHERE x != 'it''s' -- note\n)").Tokens()

	var types []mql.TokenType
	for _, tok := range tokens {
		types = append(types, tok.Type)
	}
	assert.Equal(t, []mql.TokenType{
		mql.IDENT, mql.BY, mql.IDENT, mql.WHERE, mql.IDENT, mql.OP, mql.STRING, mql.RPAREN, mql.EOF,
	}, types)

	assert.Equal(t, "orders.channel", tokens[2].Literal)
	assert.Equal(t, "'it''s'", tokens[6].Literal)
	assert.Equal(t, mql.Position{Line: 2, Column: 1, Offset: 32}, tokens[3].Pos)
	assert.Equal(t, 3, tokens[7].Pos.Line)
}

func TestLexer_Unterminated(t *testing.T) {
	tokens := mql.NewLexer("'open").Tokens()
	assert.Equal(t, mql.ILLEGAL, tokens[0].Type)
}

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want query.Request
	}{
		{
			name: "metrics by dimensions",
			in:   "total_item_revenue BY channel",
			want: query.Request{Metrics: []string{"total_item_revenue"}, Dimensions: []string{"channel"}},
		},
		{
			name: "lower case keywords",
			in:   "total_item_revenue by channel, new_vs_repeat",
			want: query.Request{Metrics: []string{"total_item_revenue"}, Dimensions: []string{"channel", "new_vs_repeat"}},
		},
		{
			name: "every clause",
			in: "total_item_revenue BY region, new_vs_repeat WHERE region != 'West' " +
				"HAVING total_item_revenue > -12 ORDER BY total_item_revenue DESC LIMIT 5",
			want: query.Request{
				Metrics:    []string{"total_item_revenue"},
				Dimensions: []string{"region", "new_vs_repeat"},
				Where:      []query.Filter{{Literal: "region != 'West'"}},
				Having:     []query.Filter{{Literal: "total_item_revenue > -12"}},
				OrderBy:    []query.OrderBy{{Field: "total_item_revenue", Sort: "desc"}},
				Limit:      5,
			},
		},
		{
			name: "nested parentheses in where",
			in:   "total_item_revenue WHERE (channel = 'Email' OR (channel = 'Social'))",
			want: query.Request{
				Metrics: []string{"total_item_revenue"},
				Where:   []query.Filter{{Literal: "(channel = 'Email' OR (channel = 'Social'))"}},
			},
		},
		{
			name: "dimensions only",
			in:   "BY channel",
			want: query.Request{Dimensions: []string{"channel"}},
		},
		{
			name: "funnel",
			in:   "number_of_orders FOR orders FUNNEL new_vs_repeat = 'New' THEN new_vs_repeat = 'Repeat' WITHIN 3 days",
			want: query.Request{
				Metrics: []string{"number_of_orders"},
				Funnel: &query.Funnel{
					ViewName: "orders",
					Steps: [][]query.Filter{
						{{Literal: "new_vs_repeat = 'New'"}},
						{{Literal: "new_vs_repeat = 'Repeat'"}},
					},
					Within: query.Within{Value: 3, Unit: "days"},
				},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := mql.Parse(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		in   string
		msg  string
	}{
		{"empty", "  ", "Empty MQL statement"},
		{"unbalanced", "total_item_revenue WHERE (channel = 'Email'", "Unbalanced parentheses in WHERE clause"},
		{"stray close", "total_item_revenue WHERE channel = 'Email')", "Unbalanced parentheses in WHERE clause"},
		{"bad identifier", "total_item_revenue BY 'channel'", "Could not parse identifier 'channel'"},
		{"order without by", "total_item_revenue ORDER total_item_revenue", "Could not parse total_item_revenue"},
		{"bad limit", "total_item_revenue LIMIT ten", "LIMIT must be a whole number"},
		{"funnel unit", "number_of_orders FUNNEL a = 1 THEN a = 2 WITHIN 3 fortnights", "Unknown WITHIN unit fortnights"},
		{"funnel without window", "number_of_orders FUNNEL a = 1 THEN a = 2", "FUNNEL requires a WITHIN clause"},
		{"trailing tokens", "total_item_revenue channel", "Could not parse channel"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := mql.Parse(tt.in)
			require.Error(t, err)
			var parseErr *core.ParseError
			require.ErrorAs(t, err, &parseErr)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestFind(t *testing.T) {
	sql := "SELECT * FROM MQL(a BY b) x JOIN mql(c BY (d)) y ON x.b=y.d WHERE s = 'MQL('"
	calls, err := mql.Find(sql)
	require.NoError(t, err)
	require.Len(t, calls, 2)
	assert.Equal(t, "a BY b", calls[0].Body)
	assert.Equal(t, "MQL(a BY b)", sql[calls[0].Start:calls[0].End])
	assert.Equal(t, "c BY (d)", calls[1].Body)
}

func TestConvert(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "from subquery",
			in:   "SELECT * FROM MQL(total_item_revenue BY channel)",
			want: "SELECT * FROM (" + revenueByChannel + ");",
		},
		{
			name: "keyword case does not matter",
			in:   "SELECT * FROM MQL(total_item_revenue by channel)",
			want: "SELECT * FROM (" + revenueByChannel + ");",
		},
		{
			name: "alias and surrounding sql kept",
			in:   "SELECT rev.order_lines_channel FROM MQL(total_item_revenue By channel) as rev;",
			want: "SELECT rev.order_lines_channel FROM (" + revenueByChannel + ") as rev;",
		},
		{
			name: "whole statement",
			in:   "MQL(total_item_revenue BY channel)",
			want: revenueByChannel + ";",
		},
		{
			name: "pass through",
			in:   "SELECT 1",
			want: "SELECT 1;",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := converter(t).Convert(tt.in, query.Request{})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConvert_Where(t *testing.T) {
	got, err := converter(t).Convert("SELECT * FROM MQL(total_item_revenue BY channel WHERE channel = 'Email')", query.Request{})
	require.NoError(t, err)
	assert.Contains(t, got, "WHERE order_lines.sales_channel = 'Email'")
}

func TestConvert_InheritsQueryType(t *testing.T) {
	got, err := converter(t).Convert("SELECT * FROM MQL(total_item_revenue BY channel)", query.Request{QueryType: "trino"})
	require.NoError(t, err)
	assert.NotContains(t, got, ";")
}

func TestConvert_Errors(t *testing.T) {
	tests := []struct {
		name string
		in   string
		msg  string
	}{
		{"missing close", "SELECT * FROM MQL(total_item_revenue by channel", "Expected beginning and ending parenthesis"},
		{"missing open", "SELECT * FROM MQL", "Expected beginning and ending parenthesis"},
		{"bad body", "SELECT * FROM MQL(total_item_revenue BY)", "Could not parse identifier"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := converter(t).Convert(tt.in, query.Request{})
			var parseErr *core.ParseError
			require.ErrorAs(t, err, &parseErr)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestConvert_UnknownField(t *testing.T) {
	_, err := converter(t).Convert("SELECT * FROM MQL(no_such_metric)", query.Request{})
	require.Error(t, err)
	assert.True(t, core.IsAccessDenied(err))
}
