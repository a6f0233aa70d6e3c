package core

import (
	"errors"
	"fmt"
)

// Object kinds reported by AccessDeniedError.
const (
	ObjectField     = "field"
	ObjectView      = "view"
	ObjectModel     = "model"
	ObjectTopic     = "topic"
	ObjectDashboard = "dashboard"
	ObjectMapping   = "mapping"
)

// AccessDeniedError is returned when an object does not exist or is hidden
// from the current user by an access grant. Both cases produce the same
// message.
type AccessDeniedError struct {
	Message    string
	ObjectName string
	ObjectType string
}

func (e *AccessDeniedError) Error() string { return e.Message }

// NewAccessDenied builds an AccessDeniedError with a formatted message.
func NewAccessDenied(objectType, objectName, format string, args ...any) *AccessDeniedError {
	return &AccessDeniedError{
		Message:    fmt.Sprintf(format, args...),
		ObjectName: objectName,
		ObjectType: objectType,
	}
}

// QueryError reports a request that cannot be compiled to SQL.
type QueryError struct {
	Message string
}

func (e *QueryError) Error() string { return e.Message }

// Errorf returns a *QueryError with a formatted message.
func Errorf(format string, args ...any) *QueryError {
	return &QueryError{Message: fmt.Sprintf(format, args...)}
}

// JoinError is a QueryError raised when the required views cannot be joined
// in a single statement. Location records where the join was attempted
// ("graph" or "topic").
type JoinError struct {
	QueryError
	Location string
}

// NewJoinError returns a *JoinError for the given location.
func NewJoinError(location, format string, args ...any) *JoinError {
	return &JoinError{
		QueryError: QueryError{Message: fmt.Sprintf(format, args...)},
		Location:   location,
	}
}

// Unwrap exposes the embedded QueryError so errors.As matches both types.
func (e *JoinError) Unwrap() error { return &e.QueryError }

// ParseError reports malformed MQL or filter input.
type ParseError struct {
	Message string
}

func (e *ParseError) Error() string { return e.Message }

// NewParseError returns a *ParseError with a formatted message.
func NewParseError(format string, args ...any) *ParseError {
	return &ParseError{Message: fmt.Sprintf(format, args...)}
}

// ArgumentError reports a request argument that conflicts with the query shape.
type ArgumentError struct {
	Message string
}

func (e *ArgumentError) Error() string { return e.Message }

// IsAccessDenied reports whether err is or wraps an AccessDeniedError.
func IsAccessDenied(err error) bool {
	var target *AccessDeniedError
	return errors.As(err, &target)
}

// IsJoinError reports whether err is or wraps a JoinError.
func IsJoinError(err error) bool {
	var target *JoinError
	return errors.As(err, &target)
}
