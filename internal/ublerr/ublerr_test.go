package ublerr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapPassesTaggedErrorsThrough(t *testing.T) {
	orig := New(NotFound, "room %s not found", "r:x")
	wrapped := Wrap(fmt.Errorf("handler: %w", orig))
	assert.Same(t, orig, wrapped)

	plain := Wrap(errors.New("disk full"))
	assert.Equal(t, Internal, plain.Kind)
	assert.Equal(t, "disk full", plain.Message)

	assert.Nil(t, Wrap(nil))
}

func TestIsKind(t *testing.T) {
	err := fmt.Errorf("outer: %w", New(MessageTooLarge, "too big"))
	assert.True(t, IsKind(err, MessageTooLarge))
	assert.False(t, IsKind(err, NotFound))
	assert.False(t, IsKind(errors.New("plain"), NotFound))
}

func TestWithData(t *testing.T) {
	err := New(IdempotencyEvicted, "evicted").WithData("client_request_id", "cli:1")
	assert.Equal(t, "cli:1", err.Data["client_request_id"])
}

func TestStatusMapping(t *testing.T) {
	cases := []struct {
		kind   Kind
		status int
		rpc    int
	}{
		{Unauthorized, http.StatusUnauthorized, -32001},
		{Forbidden, http.StatusForbidden, -32003},
		{NotAMember, http.StatusForbidden, -32003},
		{OriginNotAllowed, http.StatusForbidden, -32003},
		{NotFound, http.StatusNotFound, -32004},
		{ValidationError, http.StatusBadRequest, -32602},
		{MessageTooLarge, http.StatusBadRequest, -32602},
		{InvalidRoomID, http.StatusBadRequest, -32602},
		{NonCanonicalizable, http.StatusBadRequest, -32602},
		{Conflict, http.StatusConflict, -32600},
		{DuplicateRequest, http.StatusConflict, -32600},
		{IdempotencyEvicted, http.StatusConflict, -32600},
		{RateLimited, http.StatusTooManyRequests, -32029},
		{Internal, http.StatusInternalServerError, -32603},
	}
	for _, tc := range cases {
		err := New(tc.kind, "x")
		assert.Equal(t, tc.status, err.HTTPStatus(), "kind %s", tc.kind)
		assert.Equal(t, tc.rpc, err.RPCCode(), "kind %s", tc.kind)
	}
}
