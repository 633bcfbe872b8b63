// Package persist is a small BoltDB-backed crash-recovery cache
// (bolt.Open, one bucket per kind, JSON-marshaled values). It is
// not a replacement for the engine's authoritative in-memory ownership
// of Host Records: it persists only the handful of fields
// an operator would not want to lose across a controller restart —
// administrative lock state, auto-recovery counters/latch, and the BMC
// protocol-selection + learned power-state cache — read once at
// startup and written on the same transitions that already touch the
// disk flag files.
package persist

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketLockState = []byte("lock_state")
	bucketAR        = []byte("auto_recovery")
	bucketBMCCache  = []byte("bmc_cache")
)

// LockState mirrors NODE_LOCKED_FILE for one host.
type LockState struct {
	Hostname string `json:"hostname"`
	Locked   bool   `json:"locked"`
	Persist  bool   `json:"persist"` // LOCK_PERSIST accompanied the lock
}

// ARCacheEntry mirrors the auto-recovery counters and latch for one
// host and cause.
type ARCacheEntry struct {
	Hostname string `json:"hostname"`
	Cause    string `json:"cause"`
	Count    int    `json:"count"`
	Disabled bool   `json:"disabled"`
	TaskStr  string `json:"task_string"`
}

// BMCCacheEntry mirrors the learned BMC protocol selection and power
// state for one host.
type BMCCacheEntry struct {
	Hostname   string `json:"hostname"`
	Protocol   string `json:"protocol"`
	PowerState string `json:"power_state"`
}

// Store is the BoltDB-backed persistence handle.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if absent) the persistence file under dataDir.
func Open(dataDir string) (*Store, error) {
	dbPath := filepath.Join(dataDir, "mtce.db")

	db, err := bolt.Open(dbPath, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("persist: open %s: %w", dbPath, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketLockState, bucketAR, bucketBMCCache} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// PutLockState upserts lock state for one host.
func (s *Store) PutLockState(ls LockState) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(ls)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketLockState).Put([]byte(ls.Hostname), data)
	})
}

// GetLockState reads lock state for one host, returning ok=false if
// never persisted (a freshly-added host defaults to locked).
func (s *Store) GetLockState(hostname string) (ls LockState, ok bool, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketLockState).Get([]byte(hostname))
		if data == nil {
			return nil
		}
		ok = true
		return json.Unmarshal(data, &ls)
	})
	return ls, ok, err
}

// ListLockStates returns every persisted lock state, for startup reload.
func (s *Store) ListLockStates() ([]LockState, error) {
	var out []LockState
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketLockState).ForEach(func(_, v []byte) error {
			var ls LockState
			if err := json.Unmarshal(v, &ls); err != nil {
				return err
			}
			out = append(out, ls)
			return nil
		})
	})
	return out, err
}

func arKey(hostname, cause string) []byte {
	return []byte(hostname + "/" + cause)
}

// PutARCache upserts the auto-recovery cache entry for (host, cause).
func (s *Store) PutARCache(e ARCacheEntry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketAR).Put(arKey(e.Hostname, e.Cause), data)
	})
}

// GetARCache reads the auto-recovery cache entry for (host, cause).
func (s *Store) GetARCache(hostname, cause string) (e ARCacheEntry, ok bool, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketAR).Get(arKey(hostname, cause))
		if data == nil {
			return nil
		}
		ok = true
		return json.Unmarshal(data, &e)
	})
	return e, ok, err
}

// PutBMCCache upserts the learned BMC protocol/power-state cache for a host.
func (s *Store) PutBMCCache(e BMCCacheEntry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketBMCCache).Put([]byte(e.Hostname), data)
	})
}

// GetBMCCache reads the learned BMC cache for a host.
func (s *Store) GetBMCCache(hostname string) (e BMCCacheEntry, ok bool, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketBMCCache).Get([]byte(hostname))
		if data == nil {
			return nil
		}
		ok = true
		return json.Unmarshal(data, &e)
	})
	return e, ok, err
}
