package topology

import (
	"sync"

	"github.com/superdisco-agents/moai-flow-sub006/pkg/types"
)

// Adaptive thresholds per spec: fewer than 5 agents uses Mesh, 5 through 10
// uses Star, more than 10 uses Hierarchical.
const (
	adaptiveMeshCeiling = 5
	adaptiveStarCeiling = 10
)

// AdaptiveTopology wraps an inner topology and reconfigures it whenever the
// agent count crosses a threshold. Migration preserves every agent's
// metadata verbatim.
type AdaptiveTopology struct {
	mu            sync.Mutex
	inner         Topology
	configRoot    string // preferred Hierarchical root, if set
	metadataStore map[string]map[string]any
}

// NewAdaptive builds an Adaptive topology starting empty (Mesh). If
// configuredRoot is non-empty it is preferred as the Hierarchical root once
// the swarm grows past the Star ceiling. Otherwise the first id of the
// current inner topology's AgentIDs is used: the Star hub or Hierarchical
// root when there is one, and an arbitrary agent when the inner topology is
// Mesh (Mesh keeps no connection order).
func NewAdaptive(configuredRoot string) *AdaptiveTopology {
	return &AdaptiveTopology{
		inner:         NewMesh(),
		configRoot:    configuredRoot,
		metadataStore: make(map[string]map[string]any),
	}
}

func (t *AdaptiveTopology) Kind() Kind { return Adaptive }

// chooseKind returns which underlying topology a swarm of this size should
// run under.
func chooseKind(count int) Kind {
	switch {
	case count < adaptiveMeshCeiling:
		return Mesh
	case count <= adaptiveStarCeiling:
		return Star
	default:
		return Hierarchical
	}
}

func (t *AdaptiveTopology) hubFor(agentIDs []string) string {
	if t.configRoot != "" {
		return t.configRoot
	}
	if len(agentIDs) > 0 {
		return agentIDs[0]
	}
	return ""
}

// reconfigureLocked rebuilds t.inner into whichever topology fits the
// current agent count, reinserting every agent's metadata verbatim. Called
// with t.mu held.
func (t *AdaptiveTopology) reconfigureLocked(agentIDs []string) {
	target := chooseKind(len(agentIDs))
	if target == t.inner.Kind() {
		return
	}

	var next Topology
	switch target {
	case Star:
		next = NewStar(t.hubFor(agentIDs))
	case Hierarchical:
		next = NewHierarchical(t.hubFor(agentIDs))
	default:
		next = NewMesh()
	}

	for _, id := range agentIDs {
		md := t.metadataStore[id]
		if err := next.Connect(id, md); err == nil || target != Hierarchical {
			continue
		}
		// The Hierarchical target rejects an agent whose metadata lacks
		// layer/parent_id. Such an agent is placed directly under the root
		// at layer 1; the stored metadata itself is left unchanged.
		placed := map[string]any{"parent_id": t.hubFor(agentIDs), "layer": 1}
		for k, v := range md {
			placed[k] = v
		}
		_ = next.Connect(id, placed)
	}

	t.inner = next
}

func (t *AdaptiveTopology) Connect(agentID string, metadata map[string]any) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.inner.Connect(agentID, metadata); err != nil {
		return err
	}
	t.metadataStore[agentID] = metadata

	t.reconfigureLocked(t.inner.AgentIDs())
	return nil
}

func (t *AdaptiveTopology) Disconnect(agentID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.inner.Disconnect(agentID); err != nil {
		return err
	}
	delete(t.metadataStore, agentID)

	t.reconfigureLocked(t.inner.AgentIDs())
	return nil
}

func (t *AdaptiveTopology) Route(sender, recipient string, message types.Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inner.Route(sender, recipient, message)
}

func (t *AdaptiveTopology) Broadcast(sender string, message types.Message, exclude map[string]bool) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inner.Broadcast(sender, message, exclude)
}

func (t *AdaptiveTopology) Neighbors(agentID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inner.Neighbors(agentID)
}

func (t *AdaptiveTopology) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	inner := t.inner.Snapshot()
	return Snapshot{
		Kind:            Adaptive,
		ConnectionCount: inner.ConnectionCount,
		HealthHints: map[string]any{
			"inner_kind": inner.Kind,
			"inner":      inner.HealthHints,
		},
	}
}

func (t *AdaptiveTopology) AgentIDs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inner.AgentIDs()
}

// InnerKind exposes which concrete topology Adaptive currently runs under.
func (t *AdaptiveTopology) InnerKind() Kind {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inner.Kind()
}
