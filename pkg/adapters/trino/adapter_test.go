package trino

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/leapstack-labs/leapmetrics/pkg/adapter"
)

func TestBuildDSN(t *testing.T) {
	tests := []struct {
		name   string
		config adapter.Config
		want   string
	}{
		{
			name:   "defaults",
			config: adapter.Config{},
			want:   "http://leapmetrics@localhost:8080",
		},
		{
			name: "catalog and schema",
			config: adapter.Config{
				Host: "trino.internal", Port: 443, Username: "analyst", Password: "pw",
				Catalog: "hive", Schema: "sales", Options: map[string]string{"ssl": "true"},
			},
			want: "https://analyst:pw@trino.internal:443?catalog=hive&schema=sales",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, buildDSN(tt.config))
		})
	}
}
