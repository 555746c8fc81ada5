package topology

import (
	"sync"

	"github.com/superdisco-agents/moai-flow-sub006/pkg/types"
)

// StarTopology has one hub agent; every other agent is a spoke reachable
// only through the hub. Spoke-to-spoke messages are relayed through the hub.
type StarTopology struct {
	mu     sync.RWMutex
	hub    string
	spokes map[string]map[string]any
}

// NewStar builds a star rooted at hubID. The hub counts as a member from
// construction on, whether or not it is ever connected; Connect(hubID) is a
// no-op.
func NewStar(hubID string) *StarTopology {
	return &StarTopology{hub: hubID, spokes: make(map[string]map[string]any)}
}

func (t *StarTopology) Kind() Kind { return Star }

func (t *StarTopology) Connect(agentID string, metadata map[string]any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if agentID == t.hub {
		return nil
	}
	t.spokes[agentID] = metadata
	return nil
}

func (t *StarTopology) Disconnect(agentID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.spokes, agentID)
	return nil
}

func (t *StarTopology) isKnown(id string) bool {
	if id == t.hub {
		return true
	}
	_, ok := t.spokes[id]
	return ok
}

func (t *StarTopology) Route(sender, recipient string, message types.Message) bool {
	if sender == recipient {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.isKnown(sender) && t.isKnown(recipient)
}

// Broadcast fans out to every spoke. When sender is the hub, all spokes are
// reached directly (hub_broadcast). When sender is a spoke, the message is
// relayed to the hub and then to every other spoke.
func (t *StarTopology) Broadcast(sender string, message types.Message, exclude map[string]bool) int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if !t.isKnown(sender) {
		return 0
	}

	count := 0
	if sender != t.hub && !exclude[t.hub] {
		count++ // the hub itself receives the relay
	}
	for id := range t.spokes {
		if id == sender || exclude[id] {
			continue
		}
		count++
	}
	return count
}

func (t *StarTopology) Neighbors(agentID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if agentID == t.hub {
		out := make([]string, 0, len(t.spokes))
		for id := range t.spokes {
			out = append(out, id)
		}
		return out
	}
	if _, ok := t.spokes[agentID]; ok {
		return []string{t.hub}
	}
	return nil
}

func (t *StarTopology) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return Snapshot{
		Kind:            Star,
		ConnectionCount: len(t.spokes),
		HealthHints:     map[string]any{"hub": t.hub, "spoke_count": len(t.spokes)},
	}
}

func (t *StarTopology) AgentIDs() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.spokes)+1)
	out = append(out, t.hub)
	for id := range t.spokes {
		out = append(out, id)
	}
	return out
}

// Hub returns the current hub id.
func (t *StarTopology) Hub() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.hub
}
