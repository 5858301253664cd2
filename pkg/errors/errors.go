// Package errors defines the typed errors returned by the graph store and the
// layers around it. Every expected failure (missing entity, unknown type, a
// capacity limit) is an explicit value, never a panic.
package errors

import (
	"errors"
	"fmt"
)

// ErrorType represents the category of a domain error
type ErrorType string

const (
	// ErrorTypeNotFound indicates a missing node or edge reference
	ErrorTypeNotFound ErrorType = "NOT_FOUND"

	// ErrorTypeInvalidType indicates a node or edge type outside its closed enumeration
	ErrorTypeInvalidType ErrorType = "INVALID_TYPE"

	// ErrorTypeLimitExceeded indicates a node-count or per-node edge-count cap was reached
	ErrorTypeLimitExceeded ErrorType = "LIMIT_EXCEEDED"

	// ErrorTypeValidation indicates malformed input
	ErrorTypeValidation ErrorType = "VALIDATION"

	// ErrorTypeConflict indicates the entity already exists
	ErrorTypeConflict ErrorType = "CONFLICT"

	// ErrorTypeInternal indicates an unexpected failure inside a tenant actor
	ErrorTypeInternal ErrorType = "INTERNAL"

	// ErrorTypeUnavailable indicates a stopped actor or an unreachable collaborator
	ErrorTypeUnavailable ErrorType = "UNAVAILABLE"
)

// DomainError is a typed error with a stable code and optional details.
type DomainError struct {
	Type    ErrorType      `json:"type"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Cause   error          `json:"-"`
}

// New creates a domain error of the given type
func New(errType ErrorType, code, message string) *DomainError {
	return &DomainError{
		Type:    errType,
		Code:    code,
		Message: message,
	}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Type, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Type, e.Code, e.Message)
}

// WithCause adds a cause to the error
func (e *DomainError) WithCause(cause error) *DomainError {
	e.Cause = cause
	return e
}

// WithDetail adds a detail to the error
func (e *DomainError) WithDetail(key string, value any) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// Is matches on type, and on code as well when the target carries one.
// The sentinels below have no code, so errors.Is(err, ErrNotFound) matches
// every not-found error regardless of which entity was missing.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	if e.Type != t.Type {
		return false
	}
	return t.Code == "" || e.Code == t.Code
}

// Unwrap returns the underlying cause
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Sentinels for errors.Is
var (
	ErrNotFound      = &DomainError{Type: ErrorTypeNotFound}
	ErrInvalidType   = &DomainError{Type: ErrorTypeInvalidType}
	ErrLimitExceeded = &DomainError{Type: ErrorTypeLimitExceeded}
	ErrValidation    = &DomainError{Type: ErrorTypeValidation}
	ErrConflict      = &DomainError{Type: ErrorTypeConflict}
	ErrInternal      = &DomainError{Type: ErrorTypeInternal}
	ErrUnavailable   = &DomainError{Type: ErrorTypeUnavailable}
)

// NodeNotFound reports a missing node
func NodeNotFound(id string) *DomainError {
	return New(ErrorTypeNotFound, "NODE_NOT_FOUND", fmt.Sprintf("node %q not found", id)).
		WithDetail("node_id", id)
}

// EdgeNotFound reports a missing edge
func EdgeNotFound(from, to, edgeType string) *DomainError {
	return New(ErrorTypeNotFound, "EDGE_NOT_FOUND",
		fmt.Sprintf("edge %s -[%s]-> %s not found", from, edgeType, to)).
		WithDetail("from", from).
		WithDetail("to", to).
		WithDetail("type", edgeType)
}

// InvalidNodeType reports a node type outside the enumeration
func InvalidNodeType(value string) *DomainError {
	return New(ErrorTypeInvalidType, "INVALID_NODE_TYPE", fmt.Sprintf("invalid node type %q", value)).
		WithDetail("type", value)
}

// InvalidEdgeType reports an edge type outside the enumeration
func InvalidEdgeType(value string) *DomainError {
	return New(ErrorTypeInvalidType, "INVALID_EDGE_TYPE", fmt.Sprintf("invalid edge type %q", value)).
		WithDetail("type", value)
}

// NodeLimitExceeded reports a tenant graph at its node cap
func NodeLimitExceeded(limit int) *DomainError {
	return New(ErrorTypeLimitExceeded, "NODE_LIMIT_EXCEEDED",
		fmt.Sprintf("maximum of %d nodes reached", limit)).
		WithDetail("limit", limit)
}

// EdgeLimitExceeded reports a node at its out-degree cap
func EdgeLimitExceeded(nodeID string, limit int) *DomainError {
	return New(ErrorTypeLimitExceeded, "EDGE_LIMIT_EXCEEDED",
		fmt.Sprintf("node %q already has %d outgoing edges", nodeID, limit)).
		WithDetail("node_id", nodeID).
		WithDetail("limit", limit)
}

// Validation reports malformed input
func Validation(code, message string) *DomainError {
	return New(ErrorTypeValidation, code, message)
}

// Conflict reports an entity that already exists
func Conflict(code, message string) *DomainError {
	return New(ErrorTypeConflict, code, message)
}

// Internal reports an unexpected failure
func Internal(message string, cause error) *DomainError {
	return New(ErrorTypeInternal, "INTERNAL", message).WithCause(cause)
}

// Unavailable reports a component that cannot serve the request
func Unavailable(component string) *DomainError {
	return New(ErrorTypeUnavailable, "UNAVAILABLE", fmt.Sprintf("%s is unavailable", component))
}

// GetDomainError extracts a DomainError from an error chain
func GetDomainError(err error) *DomainError {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	return nil
}

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsInvalidType checks if an error is an invalid type error
func IsInvalidType(err error) bool {
	return errors.Is(err, ErrInvalidType)
}

// IsLimitExceeded checks if an error is a limit exceeded error
func IsLimitExceeded(err error) bool {
	return errors.Is(err, ErrLimitExceeded)
}

// IsConflict checks if an error is a conflict error
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsValidation checks if an error is a validation error
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}
