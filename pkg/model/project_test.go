package model_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapmetrics/pkg/core"
	"github.com/leapstack-labs/leapmetrics/pkg/model"
	"github.com/leapstack-labs/leapmetrics/pkg/model/modeltest"
)

func fieldIDs(fields []*model.Field) []string {
	ids := make([]string, len(fields))
	for i, f := range fields {
		ids[i] = f.ID()
	}
	return ids
}

func TestProject_GetField(t *testing.T) {
	p := modeltest.Project(t)

	tests := []struct {
		name   string
		lookup string
		opts   []model.FieldOption
		wantID string
	}{
		{"unqualified", "total_item_revenue", nil, "order_lines.total_item_revenue"},
		{"qualified", "orders.total_revenue", nil, "orders.total_revenue"},
		{"case insensitive", "ORDER_LINES.Channel", nil, "order_lines.channel"},
		{"with view option", "customer_id", []model.FieldOption{model.WithView("sessions")}, "sessions.customer_id"},
		{"time group", "order_lines.order_month", nil, "order_lines.order_month"},
		{"duration group", "weeks_waiting", nil, "order_lines.weeks_waiting"},
		{"implicit count", "sessions.count", nil, "sessions.count"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := p.GetField(tt.lookup, tt.opts...)
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, f.ID())
		})
	}
}

func TestProject_GetFieldErrors(t *testing.T) {
	p := modeltest.Project(t)

	t.Run("ambiguous", func(t *testing.T) {
		_, err := p.GetField("customer_id")
		require.Error(t, err)
		assert.Equal(t, "Multiple fields found for the name customer_id - those fields were "+
			"['customers.customer_id', 'mrr.customer_id', 'order_lines.customer_id', 'orders.customer_id', 'sessions.customer_id']"+
			"\n\nPlease specify a view name like this: 'view_name.field_name'", err.Error())
	})

	t.Run("not found", func(t *testing.T) {
		_, err := p.GetField("fake_field")
		var denied *core.AccessDeniedError
		require.True(t, errors.As(err, &denied))
		assert.Equal(t, core.ObjectField, denied.ObjectType)
		assert.Equal(t, "fake_field", denied.ObjectName)
		assert.Contains(t, denied.Message, "Field fake_field not found, please check")
	})

	t.Run("not found in view", func(t *testing.T) {
		_, err := p.GetField("orders.item_costs")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Field item_costs not found in view orders")
	})

	t.Run("unknown view", func(t *testing.T) {
		_, err := p.GetField("returns.amount")
		assert.True(t, core.IsAccessDenied(err))
	})

	t.Run("timeframe not declared", func(t *testing.T) {
		_, err := p.GetField("customers.first_order_quarter")
		assert.True(t, core.IsAccessDenied(err))
	})
}

func TestProject_GetFieldByNameMatchesGroups(t *testing.T) {
	p := modeltest.Project(t)

	f, err := p.GetFieldByName("orders.order")
	require.NoError(t, err)
	assert.True(t, f.IsDimensionGroupTemplate())
	assert.Equal(t, []string{"raw", "time", "date", "week", "month", "quarter", "year"}, f.Timeframes)
}

func TestProject_AccessGrants(t *testing.T) {
	tests := []struct {
		name       string
		department any
		field      string
		deniedType string
		deniedName string
	}{
		{"no user", nil, "orders.total_revenue", "", ""},
		{"allowed by both grants", "sales", "orders.total_revenue", "", ""},
		{"denied by view grant", "engineering", "orders.total_revenue", core.ObjectView, "orders"},
		{"denied by field grant", "finance", "orders.total_revenue", core.ObjectField, "total_revenue"},
		{"other fields of the view", "finance", "orders.number_of_orders", "", ""},
		{"ungated view", "marketing", "order_lines.total_item_revenue", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := modeltest.Project(t)
			if tt.department != nil {
				p.SetUser(&model.User{Attributes: map[string]any{"department": tt.department}})
			}
			_, err := p.GetField(tt.field)
			if tt.deniedType == "" {
				require.NoError(t, err)
				return
			}
			var denied *core.AccessDeniedError
			require.True(t, errors.As(err, &denied), "expected access denied, got %v", err)
			assert.Equal(t, tt.deniedType, denied.ObjectType)
			assert.Equal(t, tt.deniedName, denied.ObjectName)
		})
	}
}

func TestProject_AccessMissingAttributePasses(t *testing.T) {
	p := modeltest.Project(t)
	p.SetUser(&model.User{Attributes: map[string]any{"region": "emea"}})

	_, err := p.GetField("orders.total_revenue")
	assert.NoError(t, err)
	_, err = p.GetDashboard("sales_dashboard")
	assert.NoError(t, err)
}

func TestProject_AccessListings(t *testing.T) {
	p := modeltest.Project(t)
	p.SetUser(&model.User{Attributes: map[string]any{"department": "finance"}})

	metrics, err := p.ListMetrics("orders", false)
	require.NoError(t, err)
	ids := fieldIDs(metrics)
	assert.NotContains(t, ids, "orders.total_revenue")
	assert.Contains(t, ids, "orders.number_of_orders")

	p.SetUser(&model.User{Attributes: map[string]any{"department": "marketing"}})
	var names []string
	for _, v := range p.ListViews() {
		names = append(names, v.Name)
	}
	assert.Equal(t, []string{"customers", "discounts", "mrr", "order_lines", "sessions"}, names)
	assert.Empty(t, p.ListDashboards())

	_, err = p.GetView("orders")
	assert.True(t, core.IsAccessDenied(err))
	_, err = p.GetDashboard("sales_dashboard")
	assert.True(t, core.IsAccessDenied(err))
	_, err = p.ListFields("orders", false)
	assert.True(t, core.IsAccessDenied(err))
}

func TestProject_Listings(t *testing.T) {
	p := modeltest.Project(t)

	dims, err := p.ListDimensions("customers", false)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"customers.customer_id", "customers.region", "customers.gender",
		"customers.first_order_date", "customers.first_order_week",
		"customers.first_order_month", "customers.first_order_year",
	}, fieldIDs(dims))

	visible, err := p.ListFields("order_lines", false)
	require.NoError(t, err)
	assert.NotContains(t, fieldIDs(visible), "order_lines.order_line_id")
	all, err := p.ListFields("order_lines", true)
	require.NoError(t, err)
	assert.Contains(t, fieldIDs(all), "order_lines.order_line_id")
	assert.Contains(t, fieldIDs(all), "order_lines.days_waiting")

	require.Len(t, p.ListModels(), 1)
	assert.Equal(t, "test_model", p.ListModels()[0].Name)
	require.Len(t, p.ListTopics(), 1)
	assert.Equal(t, "Order lines Topic", p.ListTopics()[0].Label)

	topic, err := p.GetTopic("order LINES topic")
	require.NoError(t, err)
	assert.Equal(t, []string{"order_lines", "customers", "discounts", "orders"}, topic.ViewNames())

	d, err := p.GetDashboard("sales_dashboard")
	require.NoError(t, err)
	assert.Equal(t, "Sales dashboard", d.DisplayLabel())
	require.Len(t, d.Elements, 1)
	assert.Equal(t, []string{"order_lines.channel"}, d.Elements[0].SliceBy)
}

func TestProject_Define(t *testing.T) {
	p := modeltest.Project(t)

	sql, err := p.Define("total_item_revenue")
	require.NoError(t, err)
	assert.Equal(t, "SUM(order_lines.revenue)", sql)

	_, err = p.Define("not_a_metric")
	assert.True(t, core.IsAccessDenied(err))
}

func TestProject_DialectFromConnection(t *testing.T) {
	p := modeltest.Project(t)
	m, err := p.GetModel("test_model")
	require.NoError(t, err)

	d, err := p.Dialect(m)
	require.NoError(t, err)
	assert.Equal(t, "snowflake", d.Name())

	d, err = p.Dialect(nil)
	require.NoError(t, err)
	assert.Equal(t, model.DefaultDialect, d.Name())

	_, err = p.Dialect(&model.Model{Name: "other", Connection: "missing"})
	require.Error(t, err)
	assert.Equal(t, "Could not find the connection named missing in your profile", err.Error())
}

func TestProject_AddAndRemoveField(t *testing.T) {
	p := modeltest.Project(t)

	// Resolve once so the lookup is cached before the mutation.
	_, err := p.GetField("total_item_revenue")
	require.NoError(t, err)

	err = p.AddField("order_lines", &model.Field{
		Name:      "total_item_margin",
		FieldType: model.FieldMeasure,
		Type:      model.TypeNumber,
		SQL:       "${total_item_revenue} - ${total_item_costs}",
	})
	require.NoError(t, err)

	sql, err := p.Define("total_item_margin")
	require.NoError(t, err)
	assert.Equal(t, "(SUM(order_lines.revenue)) - (SUM(case when order_lines.product_name = 'Portable Charger' then order_lines.item_costs end))", sql)

	err = p.AddField("order_lines", &model.Field{Name: "total_item_margin", FieldType: model.FieldMeasure, Type: model.TypeSum})
	assert.Error(t, err)

	require.NoError(t, p.RemoveField("order_lines", "total_item_revenue"))
	_, err = p.GetField("total_item_revenue")
	assert.True(t, core.IsAccessDenied(err))

	// Dependents now fail to render instead of using a stale field.
	_, err = p.Define("total_item_margin")
	assert.Error(t, err)

	err = p.RemoveField("order_lines", "total_item_revenue")
	assert.True(t, core.IsAccessDenied(err))
}

func TestProject_DuplicateNames(t *testing.T) {
	objs, err := modeltest.Load()
	require.NoError(t, err)

	views := append(objs.Views, &model.View{Name: "orders", ModelName: "test_model"})
	_, err = model.NewProject(objs.Models, views, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Duplicate view names found in your project for the name orders")

	models := append(objs.Models, &model.Model{Name: "test_model"})
	_, err = model.NewProject(models, nil, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Duplicate model names found in your project for the name test_model")
}

func TestProject_ReplaceObjectsKeepsUser(t *testing.T) {
	p := modeltest.Project(t)
	u := &model.User{Attributes: map[string]any{"department": "engineering"}}
	p.SetUser(u)

	objs, err := modeltest.Load()
	require.NoError(t, err)
	require.NoError(t, p.ReplaceObjects(objs.Models, objs.Views, objs.Topics, objs.Dashboards))

	assert.Same(t, u, p.User())
	_, err = p.GetView("orders")
	assert.True(t, core.IsAccessDenied(err))
}

func TestProject_AccessFilterSQL(t *testing.T) {
	p := modeltest.Project(t)
	filters := []model.AccessFilter{
		{Field: "customers.region", UserAttribute: "region"},
		{Field: "customers.gender", UserAttribute: "gender"},
	}
	render := func(f *model.Field) (string, error) {
		return f.SQLQuery(snowflake(t), "", false)
	}

	out, err := p.AccessFilterSQL(filters, render)
	require.NoError(t, err)
	assert.Empty(t, out)

	p.SetUser(&model.User{Attributes: map[string]any{"region": "emea"}})
	out, err = p.AccessFilterSQL(filters, render)
	require.NoError(t, err)
	assert.Equal(t, []string{"customers.region = 'emea'"}, out)
}
