package snowflake

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapmetrics/pkg/adapter"
)

func TestBuildDSN(t *testing.T) {
	tests := []struct {
		name    string
		config  adapter.Config
		want    string
		wantErr string
	}{
		{
			name: "full",
			config: adapter.Config{
				Account: "xy12345.us-east-1", Username: "analyst", Password: "secret",
				Database: "ANALYTICS", Schema: "PUBLIC", Warehouse: "COMPUTE_WH", Role: "REPORTER",
			},
			want: "analyst:secret@xy12345.us-east-1/ANALYTICS/PUBLIC?role=REPORTER&warehouse=COMPUTE_WH",
		},
		{
			name:   "account only",
			config: adapter.Config{Account: "acme", Username: "svc"},
			want:   "svc:@acme",
		},
		{
			name:    "missing account",
			config:  adapter.Config{Name: "sf", Username: "svc"},
			wantErr: "snowflake connection sf is missing the account",
		},
		{
			name:    "missing user",
			config:  adapter.Config{Name: "sf", Account: "acme"},
			wantErr: "snowflake connection sf is missing the username",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := buildDSN(tt.config)
			if tt.wantErr != "" {
				require.EqualError(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRegistered(t *testing.T) {
	assert.True(t, adapter.IsRegistered("snowflake"))
	assert.Equal(t, "snowflake", New(nil).DialectName())
}
