package topology

import (
	"sync"

	"github.com/superdisco-agents/moai-flow-sub006/pkg/types"
)

// RingTopology connects each agent to the next in a fixed, insertion-order
// direction. Delivery between two agents traverses up to N-1 hops around
// the ring; broadcast traverses the ring once.
type RingTopology struct {
	mu       sync.RWMutex
	order    []string
	metadata map[string]map[string]any
}

// NewRing builds an empty ring.
func NewRing() *RingTopology {
	return &RingTopology{metadata: make(map[string]map[string]any)}
}

func (t *RingTopology) Kind() Kind { return Ring }

func (t *RingTopology) Connect(agentID string, metadata map[string]any) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.metadata[agentID]; exists {
		t.metadata[agentID] = metadata
		return nil
	}
	t.metadata[agentID] = metadata
	t.order = append(t.order, agentID)
	return nil
}

func (t *RingTopology) Disconnect(agentID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.metadata[agentID]; !exists {
		return nil
	}
	delete(t.metadata, agentID)
	for i, id := range t.order {
		if id == agentID {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	return nil
}

func (t *RingTopology) indexOf(agentID string) int {
	for i, id := range t.order {
		if id == agentID {
			return i
		}
	}
	return -1
}

func (t *RingTopology) Route(sender, recipient string, message types.Message) bool {
	if sender == recipient {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.indexOf(sender) >= 0 && t.indexOf(recipient) >= 0
}

func (t *RingTopology) Broadcast(sender string, message types.Message, exclude map[string]bool) int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.indexOf(sender) < 0 {
		return 0
	}

	count := 0
	for _, id := range t.order {
		if id == sender || exclude[id] {
			continue
		}
		count++
	}
	return count
}

// Neighbors returns the single next agent in ring order (the ring is
// directed: delivery always proceeds forward).
func (t *RingTopology) Neighbors(agentID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := len(t.order)
	if n < 2 {
		return nil
	}
	idx := t.indexOf(agentID)
	if idx < 0 {
		return nil
	}
	return []string{t.order[(idx+1)%n]}
}

func (t *RingTopology) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := len(t.order)
	connections := n
	if n < 2 {
		connections = 0
	}
	return Snapshot{
		Kind:            Ring,
		ConnectionCount: connections,
		HealthHints:     map[string]any{"agent_count": n},
	}
}

func (t *RingTopology) AgentIDs() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}
