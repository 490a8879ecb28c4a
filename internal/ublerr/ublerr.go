// Package ublerr is the tagged error taxonomy shared by every subsystem.
// Coordinators return *Error; the HTTP and JSON-RPC adapters are the only
// places that convert a Kind into a status or RPC code.
package ublerr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the stable error code carried across every boundary.
type Kind string

const (
	Unauthorized       Kind = "unauthorized"
	Forbidden          Kind = "forbidden"
	NotAMember         Kind = "not_a_member"
	OriginNotAllowed   Kind = "origin_not_allowed"
	NotFound           Kind = "not_found"
	ValidationError    Kind = "validation_error"
	MessageTooLarge    Kind = "message_too_large"
	InvalidRoomID      Kind = "invalid_room_id"
	Conflict           Kind = "conflict"
	DuplicateRequest   Kind = "duplicate_request"
	IdempotencyEvicted Kind = "idempotency_evicted"
	RateLimited        Kind = "rate_limited"
	NonCanonicalizable Kind = "non_canonicalizable"
	Internal           Kind = "internal_error"
)

// Error is a tagged error with optional structured data.
type Error struct {
	Kind    Kind           `json:"error"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// New builds an error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithData attaches structured context to the error.
func (e *Error) WithData(key string, value any) *Error {
	if e.Data == nil {
		e.Data = make(map[string]any)
	}
	e.Data[key] = value
	return e
}

// Wrap converts an arbitrary error into an internal Error, passing tagged
// errors through unchanged.
func Wrap(err error) *Error {
	if err == nil {
		return nil
	}
	var ue *Error
	if errors.As(err, &ue) {
		return ue
	}
	return &Error{Kind: Internal, Message: err.Error()}
}

// IsKind reports whether err is a tagged error of the given kind.
func IsKind(err error, kind Kind) bool {
	var ue *Error
	return errors.As(err, &ue) && ue.Kind == kind
}

// HTTPStatus maps the error kind to an HTTP status code.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case Unauthorized:
		return http.StatusUnauthorized
	case Forbidden, NotAMember, OriginNotAllowed:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	case ValidationError, MessageTooLarge, InvalidRoomID, NonCanonicalizable:
		return http.StatusBadRequest
	case Conflict, DuplicateRequest, IdempotencyEvicted:
		return http.StatusConflict
	case RateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// RPCCode maps the error kind to a JSON-RPC 2.0 error code.
func (e *Error) RPCCode() int {
	switch e.Kind {
	case Unauthorized:
		return -32001
	case Forbidden, NotAMember, OriginNotAllowed:
		return -32003
	case NotFound:
		return -32004
	case ValidationError, MessageTooLarge, InvalidRoomID, NonCanonicalizable:
		return -32602
	case Conflict, DuplicateRequest, IdempotencyEvicted:
		return -32600
	case RateLimited:
		return -32029
	default:
		return -32603
	}
}
