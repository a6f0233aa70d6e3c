package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool(t *testing.T) {
	created := 0
	Register("test_adapter_pool", func(_ *slog.Logger) Adapter {
		created++
		return &stubAdapter{}
	})
	lookup := func(name string) (Config, error) {
		if name != "warehouse" {
			return Config{}, fmt.Errorf("connection %q not found", name)
		}
		return Config{Name: name, Type: "test_adapter_pool"}, nil
	}
	pool := NewPool(lookup, nil)
	ctx := context.Background()

	first, err := pool.Get(ctx, "warehouse")
	require.NoError(t, err)
	second, err := pool.Get(ctx, "warehouse")
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, created)

	rs, err := pool.Query(ctx, "warehouse", "SELECT 1")
	require.NoError(t, err)
	assert.Equal(t, 0, rs.Len())

	_, err = pool.Get(ctx, "missing")
	assert.EqualError(t, err, `connection "missing" not found`)

	require.NoError(t, pool.Close())
	_, err = pool.Get(ctx, "warehouse")
	require.NoError(t, err)
	assert.Equal(t, 2, created, "closed connections are reopened")
}
