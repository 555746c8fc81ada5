package topology

import (
	"sync"

	"github.com/superdisco-agents/moai-flow-sub006/pkg/errors"
	"github.com/superdisco-agents/moai-flow-sub006/pkg/types"
)

// HierarchicalTopology is a rooted tree. Every non-root agent's metadata
// must carry layer and parent_id; direct messages between arbitrary pairs
// are delivered by recording them against the recipient (no path-finding
// at this layer — the tree shape only governs broadcast fan-out).
type HierarchicalTopology struct {
	mu       sync.RWMutex
	root     string
	metadata map[string]map[string]any
	children map[string][]string
	parent   map[string]string
}

// NewHierarchical builds a tree rooted at rootAgentID.
func NewHierarchical(rootAgentID string) *HierarchicalTopology {
	return &HierarchicalTopology{
		root:     rootAgentID,
		metadata: make(map[string]map[string]any),
		children: make(map[string][]string),
		parent:   make(map[string]string),
	}
}

// RootAgentID returns the fixed root of the tree.
func (t *HierarchicalTopology) RootAgentID() string {
	return t.root
}

func (t *HierarchicalTopology) Kind() Kind { return Hierarchical }

// Connect requires metadata.parent_id for any agent other than the root.
// metadata.layer is informational and not validated beyond presence.
func (t *HierarchicalTopology) Connect(agentID string, metadata map[string]any) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if agentID == t.root {
		t.metadata[agentID] = metadata
		return nil
	}

	agent := &types.Agent{Metadata: metadata}
	parentID, ok := agent.ParentID()
	if !ok {
		return errors.New(errors.CodeInvalidMetadata, "hierarchical topology requires parent_id for non-root agent "+agentID)
	}
	if _, ok := agent.Layer(); !ok {
		return errors.New(errors.CodeInvalidMetadata, "hierarchical topology requires layer for non-root agent "+agentID)
	}

	// Detach from any prior parent first (re-connect moves the node).
	if oldParent, exists := t.parent[agentID]; exists {
		t.removeChild(oldParent, agentID)
	}

	t.metadata[agentID] = metadata
	t.parent[agentID] = parentID
	t.children[parentID] = append(t.children[parentID], agentID)
	return nil
}

func (t *HierarchicalTopology) removeChild(parentID, childID string) {
	kids := t.children[parentID]
	for i, id := range kids {
		if id == childID {
			t.children[parentID] = append(kids[:i], kids[i+1:]...)
			return
		}
	}
}

func (t *HierarchicalTopology) Disconnect(agentID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if agentID == t.root {
		return nil
	}
	if parentID, ok := t.parent[agentID]; ok {
		t.removeChild(parentID, agentID)
		delete(t.parent, agentID)
	}
	delete(t.metadata, agentID)
	delete(t.children, agentID)
	return nil
}

func (t *HierarchicalTopology) known(agentID string) bool {
	if agentID == t.root {
		return true
	}
	_, ok := t.metadata[agentID]
	return ok
}

func (t *HierarchicalTopology) Route(sender, recipient string, message types.Message) bool {
	if sender == recipient {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.known(sender) && t.known(recipient)
}

// descendants collects every node reachable downward from id, not
// including id itself.
func (t *HierarchicalTopology) descendants(id string) []string {
	var out []string
	var walk func(string)
	walk = func(n string) {
		for _, c := range t.children[n] {
			out = append(out, c)
			walk(c)
		}
	}
	walk(id)
	return out
}

func (t *HierarchicalTopology) Broadcast(sender string, message types.Message, exclude map[string]bool) int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if !t.known(sender) {
		return 0
	}

	targets := t.descendants(sender)

	count := 0
	for _, id := range targets {
		if exclude[id] {
			continue
		}
		count++
	}
	return count
}

func (t *HierarchicalTopology) Neighbors(agentID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if !t.known(agentID) {
		return nil
	}

	out := make([]string, 0, len(t.children[agentID])+1)
	out = append(out, t.children[agentID]...)
	if parentID, ok := t.parent[agentID]; ok {
		out = append(out, parentID)
	}
	return out
}

func (t *HierarchicalTopology) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	connections := 0
	for _, kids := range t.children {
		connections += len(kids)
	}
	nodeCount := len(t.metadata)
	if _, ok := t.metadata[t.root]; !ok {
		nodeCount++
	}
	return Snapshot{
		Kind:            Hierarchical,
		ConnectionCount: connections,
		HealthHints:     map[string]any{"root": t.root, "node_count": nodeCount},
	}
}

func (t *HierarchicalTopology) AgentIDs() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]string, 0, len(t.metadata)+1)
	out = append(out, t.root)
	for id := range t.metadata {
		if id != t.root {
			out = append(out, id)
		}
	}
	return out
}
