package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAsFindsWrappedError(t *testing.T) {
	base := Conflict(ReasonAlreadyPaid, "participant already paid")
	wrapped := fmt.Errorf("settle participant: %w", base)

	got := As(wrapped)
	if assert.NotNil(t, got) {
		assert.Equal(t, CodeStateConflict, got.Code())
		assert.Equal(t, ReasonAlreadyPaid, got.Reason())
	}
	assert.True(t, HasReason(wrapped, ReasonAlreadyPaid))
	assert.Equal(t, http.StatusConflict, HTTPStatus(wrapped))
	assert.False(t, Retryable(wrapped))
}

func TestUncodedErrorsAreTransient(t *testing.T) {
	err := errors.New("connection reset")
	assert.Nil(t, As(err))
	assert.Equal(t, CodeTransient, CodeOf(err))
	assert.Equal(t, http.StatusServiceUnavailable, HTTPStatus(err))
	assert.True(t, Retryable(err))
}

func TestStatusTable(t *testing.T) {
	cases := []struct {
		err    error
		status int
		retry  bool
	}{
		{Validation("bad"), http.StatusBadRequest, false},
		{NotFound(ReasonOrderNotFound, "missing"), http.StatusNotFound, true},
		{New(CodeForbidden, ReasonNotOwner, "nope"), http.StatusForbidden, false},
		{Transient(errors.New("db"), "write failed"), http.StatusServiceUnavailable, true},
		{nil, http.StatusOK, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.status, HTTPStatus(tc.err))
		assert.Equal(t, tc.retry, Retryable(tc.err))
	}
}

func TestTransientUnwrapsCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Transient(cause, "insert tickets")
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "insert tickets")
}
