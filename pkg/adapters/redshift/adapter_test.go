package redshift

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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
			config: adapter.Config{Host: "cluster.redshift.amazonaws.com", Database: "dev"},
			want:   "host=cluster.redshift.amazonaws.com port=5439 dbname=dev sslmode=require",
		},
		{
			name: "credentials and sslmode",
			config: adapter.Config{
				Host: "localhost", Port: 5440, Database: "dev", Username: "awsuser", Password: "pw",
				Options: map[string]string{"sslmode": "disable"},
			},
			want: "host=localhost port=5440 dbname=dev sslmode=disable user=awsuser password=pw",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, buildDSN(tt.config))
		})
	}
}

func TestConnectRequiresHost(t *testing.T) {
	err := New(nil).Connect(context.Background(), adapter.Config{Name: "rs", Type: "redshift"})
	require.EqualError(t, err, "redshift connection rs is missing the host")
}
