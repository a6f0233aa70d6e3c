package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinErrorMatchesQueryError(t *testing.T) {
	err := fmt.Errorf("resolve: %w", NewJoinError("graph", "views %s and %s cannot be joined", "a", "b"))

	var qe *QueryError
	require.True(t, errors.As(err, &qe))
	assert.Equal(t, "views a and b cannot be joined", qe.Message)

	var je *JoinError
	require.True(t, errors.As(err, &je))
	assert.Equal(t, "graph", je.Location)
	assert.True(t, IsJoinError(err))
	assert.False(t, IsAccessDenied(err))
}

func TestAccessDenied(t *testing.T) {
	err := NewAccessDenied(ObjectView, "orders", "Could not find or you do not have access to view %s", "orders")

	assert.True(t, IsAccessDenied(err))
	assert.Equal(t, "orders", err.ObjectName)
	assert.Equal(t, ObjectView, err.ObjectType)
	assert.Equal(t, "Could not find or you do not have access to view orders", err.Error())
}
