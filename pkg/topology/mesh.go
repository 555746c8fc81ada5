package topology

import (
	"sync"

	"github.com/superdisco-agents/moai-flow-sub006/pkg/types"
)

// MeshTopology is a full clique: every connected pair can reach each other
// directly. Recommended for swarms of 10 agents or fewer, since connection
// bookkeeping is conceptually O(N^2).
type MeshTopology struct {
	mu    sync.RWMutex
	peers map[string]map[string]any
}

// NewMesh builds an empty mesh.
func NewMesh() *MeshTopology {
	return &MeshTopology{peers: make(map[string]map[string]any)}
}

func (t *MeshTopology) Kind() Kind { return Mesh }

func (t *MeshTopology) Connect(agentID string, metadata map[string]any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.peers[agentID] = metadata
	return nil
}

func (t *MeshTopology) Disconnect(agentID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.peers, agentID)
	return nil
}

func (t *MeshTopology) Route(sender, recipient string, message types.Message) bool {
	if sender == recipient {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, senderOK := t.peers[sender]
	_, recipientOK := t.peers[recipient]
	return senderOK && recipientOK
}

func (t *MeshTopology) Broadcast(sender string, message types.Message, exclude map[string]bool) int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if _, ok := t.peers[sender]; !ok {
		return 0
	}

	count := 0
	for id := range t.peers {
		if id == sender || exclude[id] {
			continue
		}
		count++
	}
	return count
}

func (t *MeshTopology) Neighbors(agentID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if _, ok := t.peers[agentID]; !ok {
		return nil
	}
	out := make([]string, 0, len(t.peers)-1)
	for id := range t.peers {
		if id != agentID {
			out = append(out, id)
		}
	}
	return out
}

func (t *MeshTopology) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := len(t.peers)
	connections := n * (n - 1) / 2
	return Snapshot{
		Kind:            Mesh,
		ConnectionCount: connections,
		HealthHints:     map[string]any{"agent_count": n},
	}
}

func (t *MeshTopology) AgentIDs() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.peers))
	for id := range t.peers {
		out = append(out, id)
	}
	return out
}
