// Package state implements convergent shared state: a MemoryProvider
// persistence layer and the StateSynchronizer that drives quorum-gathering
// synchronization, conflict resolution, and delta replication on top of it.
package state

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	bolt "go.etcd.io/bbolt"

	"github.com/superdisco-agents/moai-flow-sub006/pkg/errors"
	"github.com/superdisco-agents/moai-flow-sub006/pkg/types"
)

// MemoryProvider is the persistence contract a StateSynchronizer requires:
// put/get by key, and list_since for delta replication. Implementations are
// swarm-scoped by the swarmID argument so one provider can back several
// swarms.
type MemoryProvider interface {
	Put(swarmID, key string, version *types.StateVersion) error
	Get(swarmID, key string) (*types.StateVersion, bool, error)
	ListSince(swarmID string, sinceVersion int64) ([]*types.StateVersion, error)
}

var bucketState = []byte("state_versions")

// stored is the on-disk JSON shape for one StateVersion, keyed by
// "<swarmID>/<key>" within the single state_versions bucket.
type stored struct {
	SwarmID string             `json:"swarm_id"`
	Version *types.StateVersion `json:"version"`
}

// BoltMemoryProvider is a bbolt-backed MemoryProvider.
type BoltMemoryProvider struct {
	mu sync.Mutex
	db *bolt.DB
}

// NewBoltMemoryProvider opens (creating if absent) a bbolt database under
// dataDir and prepares its single bucket.
func NewBoltMemoryProvider(dataDir string) (*BoltMemoryProvider, error) {
	dbPath := filepath.Join(dataDir, "moai-state.db")
	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, errors.Wrap(errors.CodeStorageFailure, "failed to open state database", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketState)
		return err
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(errors.CodeStorageFailure, "failed to create state bucket", err)
	}

	return &BoltMemoryProvider{db: db}, nil
}

// Close closes the underlying database.
func (p *BoltMemoryProvider) Close() error {
	return p.db.Close()
}

func storageKey(swarmID, key string) []byte {
	return []byte(swarmID + "/" + key)
}

// Put persists version under (swarmID, key), overwriting any prior value.
func (p *BoltMemoryProvider) Put(swarmID, key string, version *types.StateVersion) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	data, err := json.Marshal(&stored{SwarmID: swarmID, Version: version})
	if err != nil {
		return errors.Wrap(errors.CodeStorageFailure, "failed to marshal state version", err)
	}

	err = p.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketState).Put(storageKey(swarmID, key), data)
	})
	if err != nil {
		return errors.Wrap(errors.CodeStorageFailure, "failed to persist state version", err)
	}
	return nil
}

// Get returns the persisted version for (swarmID, key), or (nil, false, nil)
// if none exists.
func (p *BoltMemoryProvider) Get(swarmID, key string) (*types.StateVersion, bool, error) {
	var s stored
	found := false

	err := p.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketState).Get(storageKey(swarmID, key))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &s)
	})
	if err != nil {
		return nil, false, errors.Wrap(errors.CodeStorageFailure, "failed to read state version", err)
	}
	if !found {
		return nil, false, nil
	}
	return s.Version, true, nil
}

// ListSince returns every persisted version for swarmID with
// version > sinceVersion, in ascending version order.
func (p *BoltMemoryProvider) ListSince(swarmID string, sinceVersion int64) ([]*types.StateVersion, error) {
	prefix := []byte(swarmID + "/")
	var out []*types.StateVersion

	err := p.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketState).Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var s stored
			if err := json.Unmarshal(v, &s); err != nil {
				return fmt.Errorf("unmarshal %s: %w", k, err)
			}
			if s.Version.Version > sinceVersion {
				out = append(out, s.Version)
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(errors.CodeStorageFailure, "failed to list state versions", err)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}
