package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tcases := []struct {
		name     string
		err      error
		expected Kind
	}{
		{
			name:     "app error",
			err:      NotFoundf("booking %d not found", 42),
			expected: NotFound,
		},
		{
			name:     "wrapped app error",
			err:      fmt.Errorf("transition: %w", Conflictf("booking is already ACCEPTED")),
			expected: Conflict,
		},
		{
			name:     "plain error",
			err:      errors.New("boom"),
			expected: Internal,
		},
		{
			name:     "nil error",
			err:      nil,
			expected: Internal,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, KindOf(tc.err))
		})
	}
}

func TestKind_HTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, NotFound.HTTPStatus())
	assert.Equal(t, http.StatusForbidden, Forbidden.HTTPStatus())
	assert.Equal(t, http.StatusConflict, Conflict.HTTPStatus())
	assert.Equal(t, http.StatusBadRequest, InvalidArgument.HTTPStatus())
	assert.Equal(t, http.StatusServiceUnavailable, Unavailable.HTTPStatus())
	assert.Equal(t, http.StatusInternalServerError, Internal.HTTPStatus())
}

func TestKind_Retryable(t *testing.T) {
	assert.True(t, Unavailable.Retryable(), "expected unavailable to be retryable")
	assert.False(t, Conflict.Retryable(), "expected conflict not to be retryable")
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(Unavailable, cause, "store unreachable")

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "store unreachable: connection refused", err.Error())
	assert.True(t, Is(err, Unavailable))
	assert.False(t, Is(nil, Unavailable))
}

func TestMessage(t *testing.T) {
	assert.Equal(t, "only the provider can accept", Message(Forbiddenf("only the provider can accept")))
	assert.Equal(t, "internal server error", Message(Wrap(Internal, errors.New("secret"), "query failed")))
	assert.Equal(t, "internal server error", Message(errors.New("secret")))
}
