package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

var errSample = New(KindConflict, "SAMPLE", "sample conflict")

func TestEnrichedCopiesMatchSentinel(t *testing.T) {
	err := errSample.With("current_status", "RELEASED").WithMessage("sample conflict (current: RELEASED)")

	assert.True(t, errors.Is(err, errSample))
	assert.True(t, errors.Is(fmt.Errorf("wrapped: %w", err), errSample))
	assert.Equal(t, "RELEASED", err.Details["current_status"])
	assert.Nil(t, errSample.Details, "sentinel must not be mutated")
	assert.Equal(t, KindConflict, KindOf(err))
}

func TestKindOfPlainError(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.False(t, Is(nil, KindInternal))
}

func TestWrapExposesCause(t *testing.T) {
	cause := errors.New("lock timeout")
	err := Wrap(KindTransient, "STORE_CONTENTION", "wallet is busy", cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "wallet is busy: lock timeout", err.Error())
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(KindInvalidArgument))
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(KindUnknown))
	assert.Equal(t, http.StatusNotFound, HTTPStatus(KindNotFound))
	assert.Equal(t, http.StatusConflict, HTTPStatus(KindConflict))
	assert.Equal(t, http.StatusServiceUnavailable, HTTPStatus(KindTransient))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(KindInternal))
}
