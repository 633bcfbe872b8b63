package retrypolicy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextDoublesUpToCap(t *testing.T) {
	p := New(100*time.Millisecond, 800*time.Millisecond, 0)

	d, ok := p.Next()
	assert.True(t, ok)
	assert.Equal(t, 100*time.Millisecond, d)

	d, ok = p.Next()
	assert.True(t, ok)
	assert.Equal(t, 200*time.Millisecond, d)

	d, ok = p.Next()
	assert.True(t, ok)
	assert.Equal(t, 400*time.Millisecond, d)

	d, ok = p.Next()
	assert.True(t, ok)
	assert.Equal(t, 800*time.Millisecond, d)

	// Stays capped.
	d, ok = p.Next()
	assert.True(t, ok)
	assert.Equal(t, 800*time.Millisecond, d)
}

func TestMaxTries(t *testing.T) {
	p := New(10*time.Millisecond, 0, 2)

	_, ok := p.Next()
	assert.True(t, ok)
	_, ok = p.Next()
	assert.True(t, ok)
	_, ok = p.Next()
	assert.False(t, ok)
}

func TestReset(t *testing.T) {
	p := New(10*time.Millisecond, 0, 0)
	p.Next()
	p.Next()
	assert.Equal(t, 2, p.Attempts())

	p.Reset()
	assert.Equal(t, 0, p.Attempts())

	d, ok := p.Next()
	assert.True(t, ok)
	assert.Equal(t, 10*time.Millisecond, d)
}
