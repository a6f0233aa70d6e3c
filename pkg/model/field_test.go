package model_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapmetrics/internal/testutil"
	"github.com/leapstack-labs/leapmetrics/pkg/core"
	"github.com/leapstack-labs/leapmetrics/pkg/dialect"
	"github.com/leapstack-labs/leapmetrics/pkg/model"
	"github.com/leapstack-labs/leapmetrics/pkg/model/modeltest"
)

func snowflake(t *testing.T) dialect.Dialect {
	t.Helper()
	d, err := dialect.MustGet(dialect.Snowflake)
	require.NoError(t, err)
	return d
}

func TestField_SQLQuery(t *testing.T) {
	p := modeltest.Project(t)
	d := snowflake(t)

	tests := []struct {
		name  string
		field string
		want  string
	}{
		{"sum", "total_item_revenue", "SUM(order_lines.revenue)"},
		{"string dimension", "channel", "order_lines.sales_channel"},
		{"nested dimension", "parent_channel", "CASE WHEN order_lines.sales_channel ilike '%social%' then 'Social' ELSE 'Not Social' END"},
		{"yesno", "is_on_sale_sql", "(CASE WHEN order_lines.product_name ilike '%sale%' then TRUE else FALSE END)"},
		{"count of field", "orders.number_of_orders", "COUNT(orders.id)"},
		{"implicit count", "order_lines.count", "COUNT(order_lines.order_line_id)"},
		{"average", "average_order_value", "AVG(orders.revenue)"},
		{"number measure", "line_item_aov", "(SUM(order_lines.revenue)) / (COUNT(orders.id))"},
		{"filtered measure", "total_item_costs",
			"SUM(case when order_lines.product_name = 'Portable Charger' then order_lines.item_costs end)"},
		{"time date", "order_lines.order_date", "DATE_TRUNC('DAY', order_lines.order_date)"},
		{"time week", "order_lines.order_week", "DATE_TRUNC('WEEK', CAST(order_lines.order_date AS DATE))"},
		{"time raw", "order_lines.order_raw", "order_lines.order_date"},
		{"day of week", "order_lines.order_day_of_week", "TO_CHAR(CAST(order_lines.order_date AS TIMESTAMP), 'Dy')"},
		{"duration", "days_waiting", "DATEDIFF('DAY', order_lines.shipped_date, order_lines.delivered_date)"},
		{"duration weeks", "weeks_waiting", "DATEDIFF('WEEK', order_lines.shipped_date, order_lines.delivered_date)"},
		{"tier", "item_revenue_tier",
			"case when order_lines.revenue < 0 then 'Below 0' " +
				"when order_lines.revenue >= 0 and order_lines.revenue < 20 then '[0,20)' " +
				"when order_lines.revenue >= 20 and order_lines.revenue < 50 then '[20,50)' " +
				"when order_lines.revenue >= 50 and order_lines.revenue < 100 then '[50,100)' " +
				"when order_lines.revenue >= 100 then '[100,inf)' else 'Unknown' end"},
		{"window dimension as alias", "order_sequence", "order_lines_order_sequence"},
		{"window measure", "revenue_share", "RATIO_TO_REPORT((SUM(order_lines.revenue))) OVER ()"},
		{"non additive", "mrr_end_of_month",
			"SUM(case when mrr.record_date=cte_mrr_end_of_month_record_raw.mrr_max_record_raw then mrr.mrr else 0 end)"},
		{"non additive with grouping", "mrr_end_of_month_by_account",
			"SUM(case when DATE_TRUNC('DAY', mrr.record_date)=cte_mrr_end_of_month_by_account_record_date.mrr_max_record_date " +
				"and mrr.customer_id=cte_mrr_end_of_month_by_account_record_date.mrr_customer_id then mrr.mrr else 0 end)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := p.GetField(tt.field)
			require.NoError(t, err)
			got, err := f.SQLQuery(d, "", false)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestField_SQLQueryAliasOnly(t *testing.T) {
	p := modeltest.Project(t)
	d := snowflake(t)

	f, err := p.GetField("total_item_revenue")
	require.NoError(t, err)
	got, err := f.SQLQuery(d, "", true)
	require.NoError(t, err)
	assert.Equal(t, "SUM(order_lines_total_item_revenue)", got)

	f, err = p.GetField("total_lifetime_revenue")
	require.NoError(t, err)
	got, err = f.SQLQuery(d, "", true)
	require.NoError(t, err)
	assert.Equal(t, "aggregated_order_lines_total_lifetime_revenue.order_lines_total_item_revenue", got)
}

func TestField_RenderExpandsWindow(t *testing.T) {
	p := modeltest.Project(t)
	f, err := p.GetField("order_sequence")
	require.NoError(t, err)
	require.True(t, f.IsWindow())

	got, err := f.Render(snowflake(t), model.RenderOptions{ExpandWindows: true})
	require.NoError(t, err)
	assert.Equal(t,
		"dense_rank() over (partition by order_lines.customer_id order by DATE_TRUNC('DAY', order_lines.order_date) asc)",
		got)
}

func TestField_SymmetricAggregates(t *testing.T) {
	p := modeltest.Project(t)
	d := snowflake(t)

	const symmetricRevenue = "COALESCE(CAST((SUM(DISTINCT (CAST(FLOOR(COALESCE(orders.revenue, 0) * (1000000 * 1.0)) AS DECIMAL(38,0))) " +
		"+ (TO_NUMBER(MD5(orders.id), 'XXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXX') % 1.0e27)::NUMERIC(38, 0)) " +
		"- SUM(DISTINCT (TO_NUMBER(MD5(orders.id), 'XXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXX') % 1.0e27)::NUMERIC(38, 0))) " +
		"AS DOUBLE PRECISION) / CAST((1000000*1.0) AS DOUBLE PRECISION), 0)"

	tests := []struct {
		name         string
		field        string
		functionalPK string
		want         string
	}{
		{"same grain", "orders.total_revenue", "orders.id", "SUM(orders.revenue)"},
		{"fanned out sum", "orders.total_revenue", "order_lines.order_line_id", symmetricRevenue},
		{"fanned out average", "orders.average_order_value", "order_lines.order_line_id",
			"(" + symmetricRevenue + " / NULLIF(COUNT(DISTINCT CASE WHEN  (orders.revenue)  IS NOT NULL THEN  orders.id  ELSE NULL END), 0))"},
		{"fanned out count", "orders.number_of_orders", "order_lines.order_line_id",
			"NULLIF(COUNT(DISTINCT CASE WHEN  (orders.id)  IS NOT NULL THEN  orders.id  ELSE NULL END), 0)"},
		{"same grain primary key count", "orders.number_of_distinct_orders", "orders.id", "COUNT(orders.id)"},
		{"fanned out primary key count", "orders.number_of_distinct_orders", "order_lines.order_line_id",
			"COUNT(DISTINCT(orders.id))"},
		{"no single grain", "orders.total_revenue", model.DoesNotExist, symmetricRevenue},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := p.GetField(tt.field)
			require.NoError(t, err)
			got, err := f.SQLQuery(d, tt.functionalPK, false)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestField_SymmetricAggregatesUnsupported(t *testing.T) {
	p := modeltest.Project(t)
	druid, err := dialect.MustGet(dialect.Druid)
	require.NoError(t, err)

	f, err := p.GetField("orders.total_revenue")
	require.NoError(t, err)
	got, err := f.SQLQuery(druid, "order_lines.order_line_id", false)
	require.NoError(t, err)
	assert.Equal(t, "SUM(orders.revenue)", got)
}

func TestField_WeekStartDay(t *testing.T) {
	objs, err := modeltest.Load()
	require.NoError(t, err)
	objs.Models[0].WeekStartDay = "sunday"
	p, err := model.NewProject(objs.Models, objs.Views, objs.Topics, objs.Dashboards,
		model.WithConnections(modeltest.Connections))
	require.NoError(t, err)

	f, err := p.GetField("order_lines.order_week")
	require.NoError(t, err)
	got, err := f.SQLQuery(snowflake(t), "", false)
	require.NoError(t, err)
	assert.Equal(t, "DATE_TRUNC('WEEK', CAST(order_lines.order_date AS DATE) + 1) - 1", got)
}

func TestField_Timezone(t *testing.T) {
	p := modeltest.Project(t,
		model.WithTimezone("America/New_York"),
		model.WithLogger(testutil.NewTestLogger(t)))

	f, err := p.GetField("order_lines.order_date")
	require.NoError(t, err)
	got, err := f.SQLQuery(snowflake(t), "", false)
	require.NoError(t, err)
	assert.Equal(t,
		"DATE_TRUNC('DAY', CAST(CAST(CONVERT_TIMEZONE('America/New_York', order_lines.order_date) AS TIMESTAMP_NTZ) AS TIMESTAMP))",
		got)
}

func TestField_CumulativeHasNoStandaloneSQL(t *testing.T) {
	p := modeltest.Project(t)
	f, err := p.GetField("total_lifetime_revenue")
	require.NoError(t, err)

	_, err = f.SQLQuery(snowflake(t), "", false)
	var qe *core.QueryError
	require.True(t, errors.As(err, &qe))
	assert.Contains(t, qe.Message, "You cannot call sql_query() on cumulative type field")
}

func TestField_CircularReference(t *testing.T) {
	v := &model.View{
		Name:         "loops",
		SQLTableName: "analytics.loops",
		Fields: []*model.Field{
			{Name: "a", FieldType: model.FieldDimension, Type: model.TypeString, SQL: "${b}"},
			{Name: "b", FieldType: model.FieldDimension, Type: model.TypeString, SQL: "${a} || 'x'"},
		},
	}
	p, err := model.NewProject(nil, []*model.View{v}, nil, nil)
	require.NoError(t, err)

	f, err := p.GetField("loops.a")
	require.NoError(t, err)
	_, err = f.SQLQuery(snowflake(t), "", false)
	require.Error(t, err)
	assert.Equal(t, "Circular reference detected while resolving field loops.a: loops.a -> loops.b -> loops.a", err.Error())
}

func TestField_DimensionReferencingMeasure(t *testing.T) {
	v := &model.View{
		Name: "bad",
		Fields: []*model.Field{
			{Name: "revenue", FieldType: model.FieldMeasure, Type: model.TypeSum, SQL: "${TABLE}.revenue"},
			{Name: "doubled", FieldType: model.FieldDimension, Type: model.TypeNumber, SQL: "${revenue} * 2"},
		},
	}
	p, err := model.NewProject(nil, []*model.View{v}, nil, nil)
	require.NoError(t, err)

	f, err := p.GetField("bad.doubled")
	require.NoError(t, err)
	_, err = f.SQLQuery(snowflake(t), "", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Field doubled has the wrong type")
}

func TestField_AliasAndLabel(t *testing.T) {
	p := modeltest.Project(t)

	tests := []struct {
		field     string
		alias     string
		withView  string
		label     string
		id        string
		canonDate string
	}{
		{"total_item_revenue", "total_item_revenue", "order_lines_total_item_revenue", "Total Item Revenue", "order_lines.total_item_revenue", "order_lines.order"},
		{"order_lines.order_month", "order_month", "order_lines_order_month", "Order Month", "order_lines.order_month", "order_lines.order"},
		{"days_waiting", "days_waiting", "order_lines_days_waiting", "Days Waiting", "order_lines.days_waiting", "order_lines.order"},
		{"number_of_sessions", "number_of_sessions", "sessions_number_of_sessions", "Number Of Sessions", "sessions.number_of_sessions", "sessions.session"},
	}
	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			f, err := p.GetField(tt.field)
			require.NoError(t, err)
			assert.Equal(t, tt.alias, f.Alias(false))
			assert.Equal(t, tt.withView, f.Alias(true))
			assert.Equal(t, tt.alias, f.Alias(false), "alias is stable")
			assert.Equal(t, tt.label, f.DisplayLabel())
			assert.Equal(t, tt.id, f.ID())
			assert.Equal(t, tt.canonDate, f.CanonDate())
		})
	}
}

func TestField_MergedResultDetection(t *testing.T) {
	p := modeltest.Project(t)

	f, err := p.GetField("revenue_per_session")
	require.NoError(t, err)
	assert.True(t, f.IsMergedResult())
	assert.True(t, f.LosesJoinAbility())

	// Measures with different canon dates are merged.
	f, err = p.GetField("line_item_aov")
	require.NoError(t, err)
	assert.True(t, f.IsMergedResult())
	assert.True(t, f.LosesJoinAbility())

	f, err = p.GetField("revenue_share")
	require.NoError(t, err)
	assert.False(t, f.IsMergedResult())

	f, err = p.GetField("total_lifetime_revenue")
	require.NoError(t, err)
	assert.True(t, f.IsCumulative())
}

func TestField_RequiredViews(t *testing.T) {
	p := modeltest.Project(t)

	f, err := p.GetField("line_item_aov")
	require.NoError(t, err)
	assert.Equal(t, []string{"order_lines", "orders"}, f.RequiredViews())
	assert.Equal(t, []string{"order_lines.total_item_revenue", "orders.number_of_orders"}, f.ReferencedFieldIDs())
}
