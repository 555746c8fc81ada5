// Package types defines the shared data model of the swarm coordination
// core: agents, messages, proposals, consensus results, state versions,
// heartbeat records, patterns, and hooks (spec §3).
package types

import "time"

// AgentState is the lifecycle state of a registered agent.
type AgentState string

const (
	AgentActive AgentState = "ACTIVE"
	AgentIdle   AgentState = "IDLE"
	AgentBusy   AgentState = "BUSY"
	AgentFailed AgentState = "FAILED"
)

// Agent is a registered participant in a swarm. The coordinator exclusively
// owns Agent records; topologies and monitors reference agents by id only.
type Agent struct {
	ID            string
	Metadata      map[string]any
	State         AgentState
	LastHeartbeat time.Time
	RegisteredAt  time.Time
}

// Metadata convenience accessors. Missing keys return the zero value.

func (a *Agent) Type() string {
	if v, ok := a.Metadata["type"].(string); ok {
		return v
	}
	return ""
}

func (a *Agent) Layer() (int, bool) {
	v, ok := a.Metadata["layer"]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

func (a *Agent) ParentID() (string, bool) {
	v, ok := a.Metadata["parent_id"].(string)
	return v, ok && v != ""
}

func (a *Agent) Capabilities() []string {
	v, ok := a.Metadata["capabilities"]
	if !ok {
		return nil
	}
	switch caps := v.(type) {
	case []string:
		return caps
	case []any:
		out := make([]string, 0, len(caps))
		for _, c := range caps {
			if s, ok := c.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// MessageKind enumerates the kinds of messages that flow through a topology.
type MessageKind string

const (
	MessageDirect         MessageKind = "direct"
	MessageBroadcast      MessageKind = "broadcast"
	MessageStateRequest   MessageKind = "state_request"
	MessageStateResponse  MessageKind = "state_response"
	MessageStateUpdate    MessageKind = "state_update"
	MessageConsensusVote  MessageKind = "consensus_vote"
	MessageHeartbeat      MessageKind = "heartbeat"
	MessageCustom         MessageKind = "custom"
)

// Message is an in-process record passed between agents through a topology.
type Message struct {
	ID          string
	SenderID    string
	RecipientID string // empty for broadcasts
	Payload     any
	Timestamp   time.Time
	Kind        MessageKind
}

// Proposal carries a one-shot decision request into the ConsensusManager.
type Proposal struct {
	ProposalID string
	Payload    any
	Timestamp  time.Time
	// Votes seeds an initial per-agent vote map, consumed by the gossip
	// strategy and optionally honored by others.
	Votes map[string]string
}

// Decision is the outcome of a consensus round.
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
	DecisionTimeout  Decision = "timeout"
	DecisionNoQuorum Decision = "no_quorum"
)

// ConsensusResult is the structured outcome of request_consensus.
type ConsensusResult struct {
	ProposalID    string
	Decision      Decision
	VotesFor      int
	VotesAgainst  int
	Abstain       int
	Participants  []string
	VoteDetail    map[string]string
	Threshold     float64
	Algorithm     string
	Metadata      map[string]any
	DecidedAt     time.Time
}

// StateVersion is one (possibly resolved) version of a synchronized key.
type StateVersion struct {
	Key         string
	Value       any
	Version     int64
	Timestamp   time.Time
	OriginAgent string
	Metadata    map[string]any
}

// VectorClock extracts metadata["vector_clock"] as a map[string]int, if present.
func (s *StateVersion) VectorClock() (map[string]int, bool) {
	raw, ok := s.Metadata["vector_clock"]
	if !ok {
		return nil, false
	}
	switch vc := raw.(type) {
	case map[string]int:
		return vc, true
	case map[string]any:
		out := make(map[string]int, len(vc))
		for k, v := range vc {
			switch n := v.(type) {
			case int:
				out[k] = n
			case float64:
				out[k] = int(n)
			}
		}
		return out, true
	default:
		return nil, false
	}
}

// CRDTType is the flavor of convergent merge metadata["crdt_type"] selects.
type CRDTType string

const (
	CRDTCounter  CRDTType = "counter"
	CRDTSet      CRDTType = "set"
	CRDTMap      CRDTType = "map"
	CRDTRegister CRDTType = "register"
)

func (s *StateVersion) CRDTTypeOf() (CRDTType, bool) {
	v, ok := s.Metadata["crdt_type"].(string)
	return CRDTType(v), ok
}

// HeartbeatRecord is one liveness signal stored in an agent's ring buffer.
type HeartbeatRecord struct {
	AgentID   string
	Timestamp time.Time
	Metadata  map[string]any
}

// HealthState is derived from elapsed time since the last heartbeat, never
// stored directly.
type HealthState string

const (
	HealthHealthy  HealthState = "HEALTHY"
	HealthDegraded HealthState = "DEGRADED"
	HealthCritical HealthState = "CRITICAL"
	HealthFailed   HealthState = "FAILED"
)

// PatternType enumerates the kinds of execution patterns collected.
type PatternType string

const (
	PatternTaskCompletion  PatternType = "task_completion"
	PatternErrorOccurrence PatternType = "error_occurrence"
	PatternAgentUsage      PatternType = "agent_usage"
	PatternUserCorrection  PatternType = "user_correction"
)

// Pattern is a durable record of an execution event.
type Pattern struct {
	PatternID string
	Type      PatternType
	Timestamp time.Time
	Data      map[string]any
	Context   map[string]any
}

// HookPhase is the point in a task's lifecycle a hook runs at.
type HookPhase string

const (
	HookPhasePre   HookPhase = "PRE"
	HookPhasePost  HookPhase = "POST"
	HookPhaseError HookPhase = "ERROR"
)

// HookPriority orders hooks within the same phase.
type HookPriority int

const (
	HookPriorityHigh   HookPriority = 0
	HookPriorityNormal HookPriority = 1
	HookPriorityLow    HookPriority = 2
)

// HookFunc is the handler a Hook invokes; ctx carries event_type-specific
// data (the task context).
type HookFunc func(ctx map[string]any) HookResult

// Hook is a registered extension point.
type Hook struct {
	Name      string
	Phase     HookPhase
	Priority  HookPriority
	EventType string
	Handler   HookFunc
	// registrationOrder is stamped by the registry at Register time and
	// used as the priority tiebreaker.
	registrationOrder int
}

// RegistrationOrder exposes the registry-assigned tiebreak order.
func (h *Hook) RegistrationOrder() int { return h.registrationOrder }

// SetRegistrationOrder is called exactly once by HookRegistry.Register.
func (h *Hook) SetRegistrationOrder(n int) { h.registrationOrder = n }

// HookResult is what a single hook invocation reports back.
type HookResult struct {
	HookName  string
	Success   bool
	Error     string
	Metadata  map[string]any
	TimedOut  bool
	Duration  time.Duration
}
