package errclass

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassOf(t *testing.T) {
	err := New(RemoteUnavailable, "faultclient.set", errors.New("socket closed"))
	assert.Equal(t, RemoteUnavailable, ClassOf(err))
	assert.True(t, Is(err, RemoteUnavailable))
	assert.False(t, Is(err, Transient))
}

func TestClassOfUnclassified(t *testing.T) {
	assert.Equal(t, Fatal, ClassOf(errors.New("raw error")))
}

func TestReason(t *testing.T) {
	err := NewReason(Malformed, "entity-not-found", "faultclient.clear", nil)
	assert.Equal(t, "entity-not-found", ReasonOf(err))
	assert.Equal(t, Malformed, ClassOf(err))
}

func TestErrorString(t *testing.T) {
	err := New(Transient, "bmc.ping", errors.New("timeout"))
	assert.Contains(t, err.Error(), "transient")
	assert.Contains(t, err.Error(), "bmc.ping")
	assert.Contains(t, err.Error(), "timeout")
}

func TestUnwrap(t *testing.T) {
	inner := errors.New("inner")
	err := New(Fatal, "op", inner)
	assert.True(t, errors.Is(err, inner))
}
