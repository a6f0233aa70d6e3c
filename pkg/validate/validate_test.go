package validate

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapmetrics/pkg/model/modeltest"
)

func TestParseSeverity(t *testing.T) {
	tests := []struct {
		in      string
		want    Severity
		wantErr bool
	}{
		{"error", SeverityError, false},
		{"Warning", SeverityWarning, false},
		{"warn", SeverityWarning, false},
		{"fatal", SeverityError, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSeverity(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDiagnostic_JSON(t *testing.T) {
	d := Diagnostic{RuleID: "VV05", Severity: SeverityWarning, Message: "Warning: x", ViewName: "orders"}
	data, err := json.Marshal(d)
	require.NoError(t, err)
	assert.JSONEq(t, `{"rule_id":"VV05","severity":"warning","message":"Warning: x","view_name":"orders"}`, string(data))

	var back Diagnostic
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, d, back)
}

func TestDiagnostic_String(t *testing.T) {
	assert.Equal(t, "views/orders.yml:3:5: bad", Diagnostic{Message: "bad", File: "views/orders.yml", Line: 3, Column: 5}.String())
	assert.Equal(t, "bad", Diagnostic{Message: "bad"}.String())
}

func TestSuggest(t *testing.T) {
	tests := []struct {
		name       string
		candidates []string
		want       string
	}{
		{"defualt_date", []string{"label", "default_date", "description"}, "default_date"},
		{"revenu", []string{"revenue", "revenue_share"}, "revenue"},
		{"zzz", []string{"revenue", "orders"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Suggest(tt.name, tt.candidates))
		})
	}
	assert.Equal(t, " Did you mean revenue?", DidYouMean("revenu", []string{"revenue"}))
	assert.Empty(t, DidYouMean("zzz", []string{"revenue"}))
}

func TestValidName(t *testing.T) {
	assert.True(t, ValidName("order_lines_2"))
	assert.False(t, ValidName("order lines"))
	assert.False(t, ValidName("orders-2"))
	assert.False(t, ValidName(""))
}

func TestAnalyzer_RecoversPanickingRule(t *testing.T) {
	Register(RuleDef{
		ID: "ZZ01", Name: "panics", Kind: KindModel, Severity: SeverityError,
		Check: func(*Context) []Diagnostic { panic("boom") },
	})
	Register(RuleDef{
		ID: "ZZ02", Name: "repeats", Kind: KindView, Severity: SeverityWarning,
		Check: func(ctx *Context) []Diagnostic {
			return []Diagnostic{ctx.Errorf("", "same for every view")}
		},
	})
	t.Cleanup(func() {
		globalRegistry.mu.Lock()
		delete(globalRegistry.rules, "ZZ01")
		delete(globalRegistry.rules, "ZZ02")
		globalRegistry.mu.Unlock()
	})

	diags := NewAnalyzer(nil, nil).Analyze(modeltest.Project(t))
	require.Len(t, diags, 2)

	assert.Equal(t, "ZZ01", diags[0].RuleID)
	assert.Equal(t, "test_model", diags[0].ModelName)
	assert.Contains(t, diags[0].Message, "Rule ZZ01 (panics) could not check this object: boom")

	assert.Equal(t, "ZZ02", diags[1].RuleID)
	assert.Equal(t, "Warning: same for every view", diags[1].Message)
	assert.Equal(t, "customers", diags[1].ViewName)
	assert.Equal(t, "testdata/customers.yml", diags[1].File)
}

func TestRegistry(t *testing.T) {
	before := Count()
	Register(RuleDef{ID: "ZZ10", Name: "noop", Kind: KindTopic, Check: func(*Context) []Diagnostic { return nil }})
	t.Cleanup(func() {
		globalRegistry.mu.Lock()
		delete(globalRegistry.rules, "ZZ10")
		globalRegistry.mu.Unlock()
	})

	assert.Equal(t, before+1, Count())
	rule, ok := GetByID("ZZ10")
	require.True(t, ok)
	assert.Equal(t, "noop", rule.Name)
	var ids []string
	for _, r := range GetByKind(KindTopic) {
		ids = append(ids, r.ID)
	}
	assert.Contains(t, ids, "ZZ10")
}
