package query_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapmetrics/internal/testutil"
	"github.com/leapstack-labs/leapmetrics/pkg/core"
	"github.com/leapstack-labs/leapmetrics/pkg/model"
	"github.com/leapstack-labs/leapmetrics/pkg/model/modeltest"
	"github.com/leapstack-labs/leapmetrics/pkg/query"
)

func compiler(t *testing.T) *query.Compiler {
	t.Helper()
	return query.New(modeltest.Project(t), query.WithLogger(testutil.NewTestLogger(t)))
}

func compile(t *testing.T, req query.Request) string {
	t.Helper()
	res, err := compiler(t).Compile(req)
	require.NoError(t, err)
	return res.SQL
}

func TestCompile_Single(t *testing.T) {
	tests := []struct {
		name string
		req  query.Request
		want string
	}{
		{
			name: "metric by dimension",
			req:  query.Request{Metrics: []string{"total_item_revenue"}, Dimensions: []string{"channel"}},
			want: "SELECT order_lines.sales_channel as order_lines_channel,SUM(order_lines.revenue) as order_lines_total_item_revenue " +
				"FROM analytics.order_line_items order_lines GROUP BY order_lines.sales_channel " +
				"ORDER BY order_lines_total_item_revenue DESC;",
		},
		{
			name: "metric only",
			req:  query.Request{Metrics: []string{"total_item_revenue"}},
			want: "SELECT SUM(order_lines.revenue) as order_lines_total_item_revenue FROM analytics.order_line_items order_lines " +
				"ORDER BY order_lines_total_item_revenue DESC;",
		},
		{
			name: "dimension only",
			req:  query.Request{Dimensions: []string{"channel"}},
			want: "SELECT order_lines.sales_channel as order_lines_channel FROM analytics.order_line_items order_lines " +
				"GROUP BY order_lines.sales_channel ORDER BY order_lines_channel ASC;",
		},
		{
			name: "where and limit",
			req: query.Request{
				Metrics:    []string{"total_item_revenue"},
				Dimensions: []string{"channel"},
				Where:      []query.Filter{{Field: "channel", Expression: model.EqualTo, Value: "Email"}},
				Limit:      10,
			},
			want: "SELECT order_lines.sales_channel as order_lines_channel,SUM(order_lines.revenue) as order_lines_total_item_revenue " +
				"FROM analytics.order_line_items order_lines WHERE order_lines.sales_channel='Email' " +
				"GROUP BY order_lines.sales_channel ORDER BY order_lines_total_item_revenue DESC LIMIT 10;",
		},
		{
			name: "having and explicit order",
			req: query.Request{
				Metrics:    []string{"total_item_revenue"},
				Dimensions: []string{"channel"},
				Having:     []query.Filter{{Field: "total_item_revenue", Expression: model.GreaterThan, Value: 100}},
				OrderBy:    []query.OrderBy{{Field: "channel", Sort: "asc"}},
			},
			want: "SELECT order_lines.sales_channel as order_lines_channel,SUM(order_lines.revenue) as order_lines_total_item_revenue " +
				"FROM analytics.order_line_items order_lines GROUP BY order_lines.sales_channel " +
				"HAVING SUM(order_lines.revenue)>100 ORDER BY order_lines_channel ASC;",
		},
		{
			name: "measure filter in where moves to having",
			req: query.Request{
				Metrics:    []string{"total_item_revenue"},
				Dimensions: []string{"channel"},
				Where:      []query.Filter{{Field: "total_item_revenue", Expression: model.GreaterThan, Value: 100}},
			},
			want: "SELECT order_lines.sales_channel as order_lines_channel,SUM(order_lines.revenue) as order_lines_total_item_revenue " +
				"FROM analytics.order_line_items order_lines GROUP BY order_lines.sales_channel " +
				"HAVING SUM(order_lines.revenue)>100 ORDER BY order_lines_total_item_revenue DESC;",
		},
		{
			name: "join to one side",
			req:  query.Request{Metrics: []string{"total_item_revenue"}, Dimensions: []string{"orders.new_vs_repeat"}},
			want: "SELECT orders.new_vs_repeat as orders_new_vs_repeat,SUM(order_lines.revenue) as order_lines_total_item_revenue " +
				"FROM analytics.order_line_items order_lines LEFT JOIN analytics.orders orders ON order_lines.order_unique_id=orders.id " +
				"GROUP BY orders.new_vs_repeat ORDER BY order_lines_total_item_revenue DESC;",
		},
		{
			name: "primary key dimension drops group by",
			req:  query.Request{Metrics: []string{"orders.total_revenue"}, Dimensions: []string{"orders.id"}},
			want: "SELECT orders.id as orders_id,orders.revenue as orders_total_revenue FROM analytics.orders orders;",
		},
		{
			name: "bigquery groups by alias",
			req: query.Request{
				Metrics:    []string{"total_item_revenue"},
				Dimensions: []string{"channel"},
				QueryType:  "bigquery",
			},
			want: "SELECT order_lines.sales_channel as order_lines_channel,SUM(order_lines.revenue) as order_lines_total_item_revenue " +
				"FROM analytics.order_line_items order_lines GROUP BY order_lines_channel " +
				"ORDER BY order_lines_total_item_revenue DESC;",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, compile(t, tt.req))
		})
	}
}

func TestCompile_Result(t *testing.T) {
	res, err := compiler(t).Compile(query.Request{Metrics: []string{"total_item_revenue"}})
	require.NoError(t, err)
	assert.Equal(t, "snowflake", res.QueryType)
	assert.Equal(t, "testing_snowflake", res.Connection)
}

func TestCompile_Deterministic(t *testing.T) {
	req := query.Request{
		Metrics:    []string{"total_item_revenue", "orders.number_of_orders"},
		Dimensions: []string{"customers.region", "channel"},
	}
	first := compile(t, req)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, compile(t, req))
	}
}

func TestCompile_SymmetricAggregates(t *testing.T) {
	got := compile(t, query.Request{Metrics: []string{"average_order_value"}, Dimensions: []string{"channel"}})

	assert.Contains(t, got, "FROM analytics.order_line_items order_lines LEFT JOIN analytics.orders orders ON order_lines.order_unique_id=orders.id")
	assert.NotContains(t, got, "AVG(orders.revenue)")
	assert.Contains(t, got, "NULLIF(COUNT(DISTINCT CASE WHEN  (orders.revenue)  IS NOT NULL THEN  orders.id  ELSE NULL END), 0)")
}

func TestCompile_Errors(t *testing.T) {
	tests := []struct {
		name string
		req  query.Request
		msg  string
	}{
		{
			name: "window measure in where",
			req: query.Request{
				Metrics: []string{"revenue_share"},
				Where:   []query.Filter{{Field: "revenue_share", Expression: model.GreaterThan, Value: 0.1}},
			},
			msg: "Window functions filters cannot be in WHERE clauses. Please move the filter to the HAVING clause.",
		},
		{
			name: "window measure in or",
			req: query.Request{
				Metrics:    []string{"revenue_share"},
				Dimensions: []string{"channel"},
				Having: []query.Filter{{LogicalOperator: "OR", Conditions: []query.Filter{
					{Field: "revenue_share", Expression: model.GreaterThan, Value: 0.1},
					{Field: "total_item_revenue", Expression: model.GreaterThan, Value: 100},
				}}},
			},
			msg: "Window functions filters cannot be in OR statements. Please move the filter to a top level AND condition.",
		},
		{
			name: "having with primary key",
			req: query.Request{
				Metrics:    []string{"orders.total_revenue"},
				Dimensions: []string{"orders.id"},
				Having:     []query.Filter{{Field: "orders.total_revenue", Expression: model.GreaterThan, Value: 1}},
			},
			msg: "You cannot include the 'having' argument with the table's primary key as a dimension",
		},
		{
			name: "cumulative funnel",
			req: query.Request{
				Metrics: []string{"total_lifetime_revenue"},
				Funnel: &query.Funnel{
					Steps:  [][]query.Filter{{{Field: "channel", Expression: model.EqualTo, Value: "Email"}}},
					Within: query.Within{Value: 3, Unit: "days"},
				},
			},
			msg: "Cumulative metrics cannot be used with funnel queries",
		},
		{
			name: "funnel without steps",
			req:  query.Request{Metrics: []string{"orders.number_of_orders"}, Funnel: &query.Funnel{}},
			msg:  "Funnel query must have 'steps' and 'within' keys",
		},
		{
			name: "unknown field",
			req:  query.Request{Metrics: []string{"does_not_exist"}},
			msg:  "Field does_not_exist not found",
		},
		{
			name: "empty request",
			req:  query.Request{},
			msg:  "A query must request at least one metric or dimension",
		},
		{
			name: "empty merged request",
			req:  query.Request{MergedResult: true, Where: []query.Filter{{Field: "channel", Expression: model.EqualTo, Value: "Email"}}},
			msg:  "A query must request at least one metric or dimension",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := compiler(t).Compile(tt.req)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestCompile_EmptyRequestIsQueryError(t *testing.T) {
	_, err := compiler(t).Compile(query.Request{})
	var qErr *core.QueryError
	require.True(t, errors.As(err, &qErr), "got %v", err)
}

func TestCompile_MergedDimensionsOnly(t *testing.T) {
	got := compile(t, query.Request{Dimensions: []string{"orders.order_month"}, MergedResult: true})
	assert.Contains(t, got, "DATE_TRUNC('MONTH', orders.order_date) as orders_order_month")
}

func TestCompile_ArgumentError(t *testing.T) {
	_, err := compiler(t).Compile(query.Request{
		Metrics:    []string{"orders.total_revenue"},
		Dimensions: []string{"orders.id"},
		OrderBy:    []query.OrderBy{{Field: "orders.total_revenue", Sort: "desc"}},
	})
	var argErr *core.ArgumentError
	require.True(t, errors.As(err, &argErr))
}

func TestCompile_UnknownFieldIsAccessDenied(t *testing.T) {
	_, err := compiler(t).Compile(query.Request{Metrics: []string{"does_not_exist"}})
	assert.True(t, core.IsAccessDenied(err))
}

func TestCompile_WindowDimension(t *testing.T) {
	got := compile(t, query.Request{Metrics: []string{"total_item_revenue"}, Dimensions: []string{"order_sequence"}})

	assert.Contains(t, got, "WITH order_lines_window_functions AS (SELECT dense_rank() over (partition by order_lines.customer_id")
	assert.Contains(t, got, "as order_lines_order_sequence,order_lines.* FROM analytics.order_line_items order_lines)")
	assert.Contains(t, got, "SELECT order_lines_order_sequence as order_lines_order_sequence,SUM(order_lines.revenue) as order_lines_total_item_revenue "+
		"FROM order_lines_window_functions order_lines GROUP BY order_lines_order_sequence")
}

func TestCompile_WindowMeasureHaving(t *testing.T) {
	got := compile(t, query.Request{
		Metrics:    []string{"total_item_revenue", "revenue_share"},
		Dimensions: []string{"channel"},
		Having:     []query.Filter{{Field: "revenue_share", Expression: model.GreaterThan, Value: 0.1}},
	})
	want := "WITH measure_window_functions AS (SELECT order_lines.sales_channel as order_lines_channel," +
		"SUM(order_lines.revenue) as order_lines_total_item_revenue," +
		"RATIO_TO_REPORT((SUM(order_lines.revenue))) OVER () as order_lines_revenue_share " +
		"FROM analytics.order_line_items order_lines GROUP BY order_lines.sales_channel) " +
		"SELECT * FROM measure_window_functions WHERE order_lines_revenue_share>0.1 " +
		"ORDER BY order_lines_total_item_revenue DESC;"
	assert.Equal(t, want, got)
}

func TestCompile_NonAdditive(t *testing.T) {
	got := compile(t, query.Request{Metrics: []string{"mrr.mrr_end_of_month"}, Dimensions: []string{"mrr.plan_name"}})
	want := "WITH cte_mrr_end_of_month_record_raw AS (SELECT mrr.plan_name as mrr_plan_name," +
		"MAX(mrr.record_date) as mrr_max_record_raw FROM analytics.mrr_by_customer mrr " +
		"GROUP BY mrr.plan_name ORDER BY mrr_max_record_raw DESC) " +
		"SELECT mrr.plan_name as mrr_plan_name," +
		"SUM(case when mrr.record_date=cte_mrr_end_of_month_record_raw.mrr_max_record_raw then mrr.mrr else 0 end) as mrr_mrr_end_of_month " +
		"FROM analytics.mrr_by_customer mrr JOIN cte_mrr_end_of_month_record_raw ON mrr.plan_name=cte_mrr_end_of_month_record_raw.mrr_plan_name " +
		"GROUP BY mrr.plan_name ORDER BY mrr_mrr_end_of_month DESC;"
	assert.Equal(t, want, got)
}

func TestCompile_NonAdditiveWithoutDimensions(t *testing.T) {
	got := compile(t, query.Request{Metrics: []string{"mrr.mrr_end_of_month"}})
	assert.Contains(t, got, "JOIN cte_mrr_end_of_month_record_raw ON 1=1")
	assert.Contains(t, got, "WITH cte_mrr_end_of_month_record_raw AS (SELECT MAX(mrr.record_date) as mrr_max_record_raw")
}

func TestCompile_Cumulative(t *testing.T) {
	got := compile(t, query.Request{Metrics: []string{"total_lifetime_revenue"}})
	want := "WITH date_spine AS (select dateadd(day, seq4(), '2000-01-01') as date from table(generator(rowcount => 365*40))) " +
		",subquery_order_lines_total_lifetime_revenue AS (SELECT DATE_TRUNC('DAY', order_lines.order_date) as order_lines_order_date," +
		"order_lines.revenue as order_lines_total_item_revenue FROM analytics.order_line_items order_lines) " +
		",aggregated_order_lines_total_lifetime_revenue AS (SELECT SUM(order_lines_total_item_revenue) as order_lines_total_item_revenue " +
		"FROM date_spine JOIN subquery_order_lines_total_lifetime_revenue " +
		"ON subquery_order_lines_total_lifetime_revenue.order_lines_order_date<=date_spine.date " +
		"WHERE date_spine.date<=current_date) " +
		"SELECT aggregated_order_lines_total_lifetime_revenue.order_lines_total_item_revenue as order_lines_total_lifetime_revenue " +
		"FROM aggregated_order_lines_total_lifetime_revenue;"
	assert.Equal(t, want, got)
}

func TestCompile_CumulativeWithBase(t *testing.T) {
	got := compile(t, query.Request{Metrics: []string{"total_lifetime_revenue", "total_item_revenue"}})
	assert.Contains(t, got, ",base AS (SELECT SUM(order_lines.revenue) as order_lines_total_item_revenue")
	assert.Contains(t, got, "FROM base LEFT JOIN aggregated_order_lines_total_lifetime_revenue ON 1=1")
	assert.Contains(t, got, "base.order_lines_total_item_revenue as order_lines_total_item_revenue")
}

func mergedNames(t *testing.T) (orders, sessions string) {
	t.Helper()
	p := modeltest.Project(t)
	oh, err := p.JoinGraphHash("orders")
	require.NoError(t, err)
	sh, err := p.JoinGraphHash("sessions")
	require.NoError(t, err)
	return "orders_order__cte_" + oh, "sessions_session__cte_" + sh
}

func TestCompile_MergedResult(t *testing.T) {
	o, s := mergedNames(t)
	got := compile(t, query.Request{Metrics: []string{"revenue_per_session"}, Dimensions: []string{"orders.order_month"}})

	want := fmt.Sprintf("WITH %[1]s AS (SELECT DATE_TRUNC('MONTH', orders.order_date) as orders_order_month,"+
		"SUM(orders.revenue) as orders_total_revenue FROM analytics.orders orders "+
		"GROUP BY DATE_TRUNC('MONTH', orders.order_date) ORDER BY orders_total_revenue DESC) "+
		",%[2]s AS (SELECT DATE_TRUNC('MONTH', sessions.session_date) as sessions_session_month,"+
		"COUNT(sessions.id) as sessions_number_of_sessions FROM analytics.sessions sessions "+
		"GROUP BY DATE_TRUNC('MONTH', sessions.session_date) ORDER BY sessions_number_of_sessions DESC) "+
		"SELECT %[1]s.orders_total_revenue as orders_total_revenue,"+
		"%[2]s.sessions_number_of_sessions as sessions_number_of_sessions,"+
		"ifnull(%[1]s.orders_order_month, %[2]s.sessions_session_month) as orders_order_month,"+
		"ifnull(%[2]s.sessions_session_month, %[1]s.orders_order_month) as sessions_session_month,"+
		"orders_total_revenue / nullif(sessions_number_of_sessions, 0) as orders_revenue_per_session "+
		"FROM %[1]s FULL OUTER JOIN %[2]s ON %[1]s.orders_order_month=%[2]s.sessions_session_month;", o, s)
	assert.Equal(t, want, got)
}

func TestCompile_MergedFallback(t *testing.T) {
	o, s := mergedNames(t)
	req := query.Request{Metrics: []string{"orders.total_revenue", "sessions.number_of_sessions"}}

	got := compile(t, req)
	assert.Contains(t, got, "WITH "+o+" AS (SELECT SUM(orders.revenue) as orders_total_revenue FROM analytics.orders orders")
	assert.Contains(t, got, "FROM "+o+" FULL OUTER JOIN "+s+" ON 1=1;")

	req.SingleQuery = true
	_, err := compiler(t).Compile(req)
	require.Error(t, err)
	assert.True(t, core.IsJoinError(err))
	assert.Contains(t, err.Error(), "There was no join path between the views")
}

func TestCompile_MergedMapping(t *testing.T) {
	_, s := mergedNames(t)
	got := compile(t, query.Request{
		Metrics:      []string{"orders.total_revenue", "sessions.number_of_sessions"},
		Dimensions:   []string{"orders.campaign"},
		MergedResult: true,
	})
	assert.Contains(t, got, "SELECT sessions.utm_campaign as sessions_utm_campaign,COUNT(sessions.id)")
	assert.Contains(t, got, "ifnull("+s+".sessions_utm_campaign,")
}

func TestCompile_MergedRejectsFunnel(t *testing.T) {
	_, err := compiler(t).Compile(query.Request{
		Metrics:      []string{"orders.number_of_orders"},
		MergedResult: true,
		Funnel: &query.Funnel{
			Steps:  [][]query.Filter{{{Field: "orders.new_vs_repeat", Expression: model.EqualTo, Value: "New"}}},
			Within: query.Within{Value: 3, Unit: "days"},
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Funnel queries are not supported in merged results queries")
}

func TestCompile_Funnel(t *testing.T) {
	got := compile(t, query.Request{
		Metrics: []string{"orders.number_of_orders"},
		Funnel: &query.Funnel{
			Steps: [][]query.Filter{
				{{Field: "orders.new_vs_repeat", Expression: model.EqualTo, Value: "New"}},
				{{Field: "orders.new_vs_repeat", Expression: model.EqualTo, Value: "Repeat"}},
			},
			Within: query.Within{Value: 3, Unit: "days"},
		},
	})

	assert.Contains(t, got, ",step_1 AS (SELECT *,orders_order_raw as step_1_time FROM base WHERE base.orders_new_vs_repeat='New')")
	assert.Contains(t, got, ",step_2 AS (SELECT base.*,step_1.step_1_time as step_1_time FROM base JOIN step_1 "+
		"ON base.customers_customer_id=step_1.customers_customer_id and step_1.orders_order_raw<base.orders_order_raw "+
		"WHERE base.orders_new_vs_repeat='Repeat' AND DATEDIFF('DAY', step_1.step_1_time, base.orders_order_raw) <= 3)")
	assert.Contains(t, got, "(SELECT 'Step 1' as step,1 as step_order,")
	assert.Contains(t, got, " UNION ALL (SELECT 'Step 2' as step,2 as step_order,")
	assert.Contains(t, got, "SELECT * FROM result_cte;")
}

func TestCompile_SubqueryFilter(t *testing.T) {
	got := compile(t, query.Request{
		Metrics:    []string{"total_item_revenue"},
		Dimensions: []string{"channel"},
		Where: []query.Filter{{
			Field:      "orders.id",
			Expression: model.IsInQuery,
			Subquery: &query.Subquery{
				Request: query.Request{Metrics: []string{"orders.total_revenue"}, Dimensions: []string{"orders.id"}},
				Field:   "orders.id",
			},
		}},
	})
	assert.Contains(t, got, "WITH filter_subquery_0 AS (SELECT orders.id as orders_id,orders.revenue as orders_total_revenue FROM analytics.orders orders)")
	assert.Contains(t, got, "WHERE orders.id IN (SELECT DISTINCT orders_id FROM filter_subquery_0)")
}

func TestCompile_Topic(t *testing.T) {
	got := compile(t, query.Request{
		Metrics:    []string{"total_item_revenue"},
		Dimensions: []string{"discounts.discount_code"},
		Topic:      "Order lines Topic",
	})
	assert.Contains(t, got, "LEFT JOIN analytics_live.discounts discounts ON order_lines.order_unique_id=discounts.order_id")
}
