package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOf(t *testing.T) {
	err := New(CodeUnknownAgent, "agent a1 not found")
	code, ok := CodeOf(err)
	assert.True(t, ok)
	assert.Equal(t, CodeUnknownAgent, code)
	assert.Equal(t, CategoryNotFound, err.Category())
}

func TestCodeOfWrapped(t *testing.T) {
	inner := New(CodeNoQuorum, "insufficient live agents")
	outer := fmt.Errorf("request_consensus failed: %w", inner)

	code, ok := CodeOf(outer)
	assert.True(t, ok)
	assert.Equal(t, CodeNoQuorum, code)
}

func TestCodeOfPlainError(t *testing.T) {
	_, ok := CodeOf(fmt.Errorf("plain"))
	assert.False(t, ok)
}

func TestIs(t *testing.T) {
	err := New(CodeInvalidTransition, "FAILED -> BUSY requires a heartbeat")
	assert.True(t, Is(err, CodeInvalidTransition))
	assert.False(t, Is(err, CodeNoQuorum))
}

func TestWithContext(t *testing.T) {
	err := New(CodeUnknownKey, "missing key").WithContext("key", "requests")
	assert.Equal(t, "requests", err.Context["key"])
}

func TestWrapPreservesCause(t *testing.T) {
	cause := fmt.Errorf("disk full")
	err := Wrap(CodeStorageFailure, "failed to write pattern", cause)
	assert.ErrorIs(t, err, cause)
}
