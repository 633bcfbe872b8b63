package persist

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestLockStateRoundTrip(t *testing.T) {
	s := openStore(t)

	_, ok, err := s.GetLockState("worker-0")
	require.NoError(t, err)
	assert.False(t, ok, "unknown host has no persisted state")

	require.NoError(t, s.PutLockState(LockState{Hostname: "worker-0", Locked: true, Persist: true}))
	ls, ok, err := s.GetLockState("worker-0")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, ls.Locked)
	assert.True(t, ls.Persist)

	// Upsert flips in place.
	require.NoError(t, s.PutLockState(LockState{Hostname: "worker-0", Locked: false}))
	ls, _, err = s.GetLockState("worker-0")
	require.NoError(t, err)
	assert.False(t, ls.Locked)
}

func TestListLockStates(t *testing.T) {
	s := openStore(t)
	require.NoError(t, s.PutLockState(LockState{Hostname: "worker-0", Locked: true}))
	require.NoError(t, s.PutLockState(LockState{Hostname: "worker-1", Locked: false}))

	all, err := s.ListLockStates()
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestARCacheKeyedByHostAndCause(t *testing.T) {
	s := openStore(t)
	require.NoError(t, s.PutARCache(ARCacheEntry{Hostname: "worker-0", Cause: "goenable", Count: 2}))
	require.NoError(t, s.PutARCache(ARCacheEntry{Hostname: "worker-0", Cause: "config", Count: 1, Disabled: true}))

	e, ok, err := s.GetARCache("worker-0", "goenable")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, e.Count)
	assert.False(t, e.Disabled)

	e, ok, err = s.GetARCache("worker-0", "config")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, e.Disabled)
}

func TestBMCCacheRoundTrip(t *testing.T) {
	s := openStore(t)
	require.NoError(t, s.PutBMCCache(BMCCacheEntry{Hostname: "worker-0", Protocol: "redfish", PowerState: "on"}))

	e, ok, err := s.GetBMCCache("worker-0")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "redfish", e.Protocol)
	assert.Equal(t, "on", e.PowerState)
}
