package gwerrors

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsValidation_MatchesWrappedError(t *testing.T) {
	ve := NewValidationError("openai", "bad request")
	wrapped := fmt.Errorf("dispatch failed: %w", ve)
	assert.True(t, IsValidation(wrapped))
	assert.False(t, IsTransport(wrapped))
}

func TestIsTransport_MatchesWrappedError(t *testing.T) {
	te := NewTransportError("openai", "upstream 500", errors.New("connection reset"))
	wrapped := fmt.Errorf("dispatch failed: %w", te)
	assert.True(t, IsTransport(wrapped))
	assert.False(t, IsValidation(wrapped))
}

func TestBaseError_UnwrapExposesCause(t *testing.T) {
	cause := errors.New("socket timeout")
	te := NewTransportError("anthropic", "failed", cause)
	assert.ErrorIs(t, te, cause)
}

func TestBaseError_WithDetailAndRetry(t *testing.T) {
	e := NewCircuitOpenError("openai", 5*time.Second)
	assert.Equal(t, "openai", e.Details["provider"])
	assert.True(t, e.Retryable)
	require := e.RetryAfter
	assert.NotNil(t, require)
	assert.Equal(t, 5*time.Second, *require)
}

func TestDispatchError_ErrorMessageIncludesCode(t *testing.T) {
	e := NewDispatchError("ALL_PROVIDERS_FAILED", 503, "no provider succeeded", nil)
	assert.Contains(t, e.Error(), "ALL_PROVIDERS_FAILED")
	assert.Contains(t, e.Error(), "no provider succeeded")
}

func TestSentinelErrors_AreDistinguishable(t *testing.T) {
	assert.True(t, errors.Is(fmt.Errorf("wrap: %w", ErrModelNotFound), ErrModelNotFound))
	assert.False(t, errors.Is(ErrModelNotFound, ErrRegistryUninit))
}
