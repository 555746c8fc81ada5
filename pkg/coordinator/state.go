package coordinator

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/superdisco-agents/moai-flow-sub006/pkg/types"
)

func (c *Coordinator) stateLockFor(key string) *sync.Mutex {
	c.stateLocksMu.Lock()
	defer c.stateLocksMu.Unlock()
	l, ok := c.stateLocks[key]
	if !ok {
		l = &sync.Mutex{}
		c.stateLocks[key] = l
	}
	return l
}

// SynchronizeState is the coordinator's local fast path for single-writer
// state updates (spec: synchronize_state(key, value)): it stamps
// version = prior+1, timestamp = now, persists, and broadcasts an
// informational state_update. It returns ok even when some recipients of
// the broadcast are unreachable — delivery is advisory, persistence is
// authoritative.
func (c *Coordinator) SynchronizeState(key string, value any) error {
	start := time.Now()
	lock := c.stateLockFor(key)
	lock.Lock()
	defer lock.Unlock()

	prior, found, err := c.stateProvider.Get(c.swarmID, key)
	if err != nil {
		c.runErrorHooks("state_sync_failure", err.Error(), "", map[string]any{"key": key})
		return err
	}
	version := int64(1)
	if found {
		version = prior.Version + 1
	}

	next := &types.StateVersion{
		Key:         key,
		Value:       value,
		Version:     version,
		Timestamp:   time.Now(),
		OriginAgent: c.agentID,
	}

	if err := c.stateProvider.Put(c.swarmID, key, next); err != nil {
		c.runErrorHooks("state_sync_failure", err.Error(), "", map[string]any{"key": key})
		return err
	}

	c.Broadcast(types.Message{
		ID:        uuid.New().String(),
		SenderID:  c.agentID,
		Kind:      types.MessageStateUpdate,
		Timestamp: next.Timestamp,
		Payload: map[string]any{
			"key":     key,
			"value":   value,
			"version": version,
		},
	})

	c.runPostTaskHooks("state_sync", c.agentID, time.Since(start).Milliseconds(), true, map[string]any{
		"key":     key,
		"version": version,
	})
	return nil
}

// GetLocalState returns the coordinator-local fast-path version for key,
// or nil if it has never been written.
func (c *Coordinator) GetLocalState(key string) (*types.StateVersion, error) {
	version, found, err := c.stateProvider.Get(c.swarmID, key)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return version, nil
}

// SynchronizeQuorum runs the full multi-writer reconciliation protocol
// (broadcast state_request, collect state_response up to quorum or
// deadline, resolve disagreement, persist, broadcast state_update) rather
// than the single-writer fast path SynchronizeState uses. Exposed
// alongside the fast path for callers that need the stronger guarantee.
func (c *Coordinator) SynchronizeQuorum(key string, timeoutMs int64) error {
	return c.synchronizer.SynchronizeState(c.swarmID, key, timeoutMs)
}

// DeltaSync returns every version persisted for this coordinator's swarm
// with version > sinceVersion, in ascending version order.
func (c *Coordinator) DeltaSync(sinceVersion int64) ([]*types.StateVersion, error) {
	return c.synchronizer.DeltaSync(c.swarmID, sinceVersion)
}

// GetState returns the persisted version for key, regardless of whether it
// was last written through SynchronizeState or SynchronizeQuorum — both
// paths share the same underlying MemoryProvider record.
func (c *Coordinator) GetState(key string) (*types.StateVersion, error) {
	return c.synchronizer.GetState(c.swarmID, key)
}
