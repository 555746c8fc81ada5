// Package topology implements the five network topologies a swarm can run
// under: Mesh, Hierarchical, Star, Ring, and Adaptive. Every implementation
// upholds the same invariants: no self-edge, broadcast never reaches the
// sender, route returns false (never panics) for an unknown endpoint, and
// neighbors always reflects current structure rather than history.
package topology

import (
	"github.com/superdisco-agents/moai-flow-sub006/pkg/types"
)

// Kind names a topology implementation.
type Kind string

const (
	Mesh         Kind = "mesh"
	Hierarchical Kind = "hierarchical"
	Star         Kind = "star"
	Ring         Kind = "ring"
	Adaptive     Kind = "adaptive"
)

// Snapshot is the structural summary returned by Topology.Snapshot.
type Snapshot struct {
	Kind            Kind
	ConnectionCount int
	HealthHints     map[string]any
}

// Topology is the routing and membership contract every implementation
// satisfies. Topologies hold only agent ids and the metadata needed for
// routing decisions; the coordinator is the sole owner of full Agent
// records.
type Topology interface {
	Kind() Kind
	Connect(agentID string, metadata map[string]any) error
	Disconnect(agentID string) error
	Route(sender, recipient string, message types.Message) bool
	Broadcast(sender string, message types.Message, exclude map[string]bool) int
	Neighbors(agentID string) []string
	Snapshot() Snapshot
	// AgentIDs returns every agent currently connected, in no particular
	// order. Used by Adaptive to rebuild into a different topology and by
	// the coordinator when it needs a membership list independent of the
	// registry.
	AgentIDs() []string
}
