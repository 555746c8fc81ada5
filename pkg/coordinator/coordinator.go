// Package coordinator implements the SwarmCoordinator: the agent registry,
// message router, topology owner, and wiring point for every other
// component (consensus, state synchronization, heartbeat monitoring).
package coordinator

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/superdisco-agents/moai-flow-sub006/pkg/conflict"
	"github.com/superdisco-agents/moai-flow-sub006/pkg/config"
	"github.com/superdisco-agents/moai-flow-sub006/pkg/consensus"
	"github.com/superdisco-agents/moai-flow-sub006/pkg/errors"
	"github.com/superdisco-agents/moai-flow-sub006/pkg/heartbeat"
	"github.com/superdisco-agents/moai-flow-sub006/pkg/hooks"
	"github.com/superdisco-agents/moai-flow-sub006/pkg/log"
	"github.com/superdisco-agents/moai-flow-sub006/pkg/metrics"
	"github.com/superdisco-agents/moai-flow-sub006/pkg/patterns"
	"github.com/superdisco-agents/moai-flow-sub006/pkg/state"
	"github.com/superdisco-agents/moai-flow-sub006/pkg/topology"
	"github.com/superdisco-agents/moai-flow-sub006/pkg/types"
)

const (
	DefaultMessageHistoryCapacity   = 1000
	DefaultConsensusHistoryCapacity = 200

	// defaultLocalAgentID identifies versions and messages the coordinator
	// itself originates, distinct from any registered swarm agent.
	defaultLocalAgentID = "coordinator"
)

// Options configures a Coordinator's owned components. Zero values fall
// back to the documented defaults of the packages they configure.
type Options struct {
	SwarmID                 string
	AgentID                 string // identity stamped on locally-originated state versions; defaults to "coordinator"
	MessageHistoryCapacity  int
	ConsensusHistoryCapacity int

	HeartbeatIntervalMs      int64
	HeartbeatFailureThreshold float64
	HeartbeatHistorySize     int
	HeartbeatCheckIntervalMs int64

	ConflictStrategy conflict.Strategy

	// Config drives the hook registry and pattern collector. A nil value
	// falls back to config.Default().
	Config *config.Config
}

// Coordinator is the SwarmCoordinator: it owns the agent registry, the
// active topology, message history, and the heartbeat/consensus/state
// collaborators every public operation delegates to.
type Coordinator struct {
	swarmID string
	agentID string
	logger  zerolog.Logger

	mu     sync.RWMutex
	agents map[string]*types.Agent

	topoMu       sync.Mutex
	topo         topology.Topology
	topologyRoot string // preferred hierarchical/adaptive root

	historyMu  sync.Mutex
	history    []types.Message
	historyCap int

	subsMu      sync.Mutex
	subscribers map[chan types.Message]bool

	heartbeatMonitor          *heartbeat.Monitor
	heartbeatIntervalMs       int64
	heartbeatFailureThreshold float64
	heartbeatHistorySize      int

	consensusManager     *consensus.Manager
	consensusHistoryMu   sync.Mutex
	consensusHistory     []*types.ConsensusResult
	consensusHistoryCap  int

	stateProvider state.MemoryProvider
	synchronizer  *state.Synchronizer
	stateLocksMu  sync.Mutex
	stateLocks    map[string]*sync.Mutex

	cfg             config.Config
	hookRegistry    *hooks.Registry
	patternCollector *patterns.Collector
}

// New builds a Coordinator around an already-constructed topology,
// ConsensusManager, and MemoryProvider — the leaves of the dependency
// order this package sits at the top of.
func New(opts Options, topo topology.Topology, consensusManager *consensus.Manager, stateProvider state.MemoryProvider) *Coordinator {
	historyCap := opts.MessageHistoryCapacity
	if historyCap <= 0 {
		historyCap = DefaultMessageHistoryCapacity
	}
	consensusHistoryCap := opts.ConsensusHistoryCapacity
	if consensusHistoryCap <= 0 {
		consensusHistoryCap = DefaultConsensusHistoryCapacity
	}
	conflictStrategy := opts.ConflictStrategy
	if conflictStrategy == "" {
		conflictStrategy = conflict.StrategyLWW
	}
	agentID := opts.AgentID
	if agentID == "" {
		agentID = defaultLocalAgentID
	}
	cfg := config.Default()
	if opts.Config != nil {
		cfg = *opts.Config
	}

	c := &Coordinator{
		swarmID:                   opts.SwarmID,
		agentID:                   agentID,
		logger:                    log.WithComponent("coordinator"),
		agents:                    make(map[string]*types.Agent),
		topo:                      topo,
		historyCap:                historyCap,
		subscribers:               make(map[chan types.Message]bool),
		heartbeatMonitor:          heartbeat.NewMonitor(opts.HeartbeatCheckIntervalMs),
		heartbeatIntervalMs:       opts.HeartbeatIntervalMs,
		heartbeatFailureThreshold: opts.HeartbeatFailureThreshold,
		heartbeatHistorySize:      opts.HeartbeatHistorySize,
		consensusManager:          consensusManager,
		consensusHistoryCap:       consensusHistoryCap,
		stateProvider:             stateProvider,
		stateLocks:                make(map[string]*sync.Mutex),
		cfg:                       cfg,
		hookRegistry:              hooks.NewRegistry(cfg.Hooks.TimeoutMs, cfg.Hooks.GracefulDegradation),
	}
	switch t := topo.(type) {
	case *topology.StarTopology:
		c.topologyRoot = t.Hub()
	case *topology.HierarchicalTopology:
		c.topologyRoot = t.RootAgentID()
	}
	if cfg.Patterns.Enabled {
		c.patternCollector = patterns.NewCollector(cfg.Patterns.Storage, cfg.Patterns.RetentionDays)
	}
	c.registerBuiltinHooks()
	c.heartbeatMonitor.ConfigureAlerts(heartbeat.AlertConfig{
		OnFailed:  true,
		Callbacks: []heartbeat.Callback{c.onHealthTransition},
	})
	// The coordinator satisfies state.Broadcaster itself, so the full
	// quorum-based synchronizer (spec §4.5) can run directly against it
	// alongside the coordinator's own single-writer fast path (§4.2).
	c.synchronizer = state.NewSynchronizer(agentID, c, conflict.NewResolver(), stateProvider, conflictStrategy)
	return c
}

// Shutdown stops the background heartbeat checker.
func (c *Coordinator) Shutdown() {
	c.heartbeatMonitor.Shutdown()
}

// onHealthTransition is the HeartbeatMonitor callback that drives "any
// state -> FAILED on heartbeat timeout": a degrade all the way to FAILED
// health marks the agent FAILED in the registry, regardless of what state
// it was previously in.
func (c *Coordinator) onHealthTransition(agentID string, from, to types.HealthState) {
	if to != types.HealthFailed {
		return
	}
	c.mu.Lock()
	agent, ok := c.agents[agentID]
	transitioned := ok && agent.State != types.AgentFailed
	if transitioned {
		agent.State = types.AgentFailed
		c.logger.Warn().Str("agent_id", agentID).Msg("agent marked failed after heartbeat timeout")
	}
	c.mu.Unlock()
	c.refreshAgentGauge()

	if transitioned {
		c.runErrorHooks("heartbeat_timeout", "agent "+agentID+" failed heartbeat monitoring", "", map[string]any{
			"agent_id":   agentID,
			"from_state": string(from),
		})
	}
}

// RegisterAgent adds a new agent in ACTIVE state with heartbeat stamped to
// now. Re-registering an existing id fails with CodeDuplicateAgent.
// Hierarchical topologies require layer and parent_id for any non-root
// agent; a metadata shape violation fails with CodeInvalidMetadata.
func (c *Coordinator) RegisterAgent(id string, metadata map[string]any) error {
	c.mu.Lock()
	if _, exists := c.agents[id]; exists {
		c.mu.Unlock()
		return errors.New(errors.CodeDuplicateAgent, "agent already registered: "+id)
	}

	now := time.Now()
	agent := &types.Agent{
		ID:            id,
		Metadata:      metadata,
		State:         types.AgentActive,
		LastHeartbeat: now,
		RegisteredAt:  now,
	}

	c.topoMu.Lock()
	err := c.topo.Connect(id, metadata)
	c.topoMu.Unlock()
	if err != nil {
		c.mu.Unlock()
		return errors.Wrap(errors.CodeInvalidMetadata, "topology rejected agent metadata", err)
	}

	c.agents[id] = agent
	c.mu.Unlock()

	if err := c.heartbeatMonitor.StartMonitoring(id, c.heartbeatIntervalMs, c.heartbeatFailureThreshold, c.heartbeatHistorySize); err != nil {
		c.logger.Warn().Str("agent_id", id).Err(err).Msg("heartbeat monitor rejected newly registered agent")
	}
	c.refreshAgentGauge()
	return nil
}

// UnregisterAgent removes id from the registry and the active topology.
func (c *Coordinator) UnregisterAgent(id string) error {
	c.mu.Lock()
	if _, exists := c.agents[id]; !exists {
		c.mu.Unlock()
		return errors.New(errors.CodeUnknownAgent, "unknown agent: "+id)
	}
	delete(c.agents, id)
	c.mu.Unlock()

	c.topoMu.Lock()
	_ = c.topo.Disconnect(id)
	c.topoMu.Unlock()

	if err := c.heartbeatMonitor.StopMonitoring(id); err != nil {
		c.logger.Debug().Str("agent_id", id).Err(err).Msg("agent was not monitored at unregister time")
	}
	c.refreshAgentGauge()
	return nil
}

// SendMessage routes a direct message from one agent to another through
// the active topology. The sender's heartbeat is refreshed as a side
// effect of any successful send.
func (c *Coordinator) SendMessage(from, to string, payload any) error {
	c.mu.RLock()
	sender, senderOK := c.agents[from]
	_, recipientOK := c.agents[to]
	c.mu.RUnlock()

	if !senderOK {
		return errors.New(errors.CodeUnknownAgent, "unknown sender: "+from)
	}
	if !recipientOK {
		return errors.New(errors.CodeUnknownAgent, "unknown recipient: "+to)
	}

	msg := types.Message{
		ID:          uuid.New().String(),
		SenderID:    from,
		RecipientID: to,
		Payload:     payload,
		Timestamp:   time.Now(),
		Kind:        types.MessageDirect,
	}

	c.topoMu.Lock()
	delivered := c.topo.Route(from, to, msg)
	c.topoMu.Unlock()

	if !delivered {
		return errors.New(errors.CodeTopologyError, "topology could not route message from "+from+" to "+to)
	}

	c.mu.Lock()
	sender.LastHeartbeat = time.Now()
	c.mu.Unlock()

	c.recordMessage(msg)
	return nil
}

// BroadcastMessage fans payload out from `from` to every connected agent
// except those in exclude. Unknown ids in exclude are silently ignored.
func (c *Coordinator) BroadcastMessage(from string, payload any, exclude []string) int {
	excludeSet := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		excludeSet[id] = true
	}

	msg := types.Message{
		ID:        uuid.New().String(),
		SenderID:  from,
		Payload:   payload,
		Timestamp: time.Now(),
		Kind:      types.MessageBroadcast,
	}

	c.topoMu.Lock()
	delivered := c.topo.Broadcast(from, msg, excludeSet)
	c.topoMu.Unlock()

	c.recordMessage(msg)
	return delivered
}

// recordMessage appends msg to the bounded FIFO message history and
// increments the per-kind message counter.
func (c *Coordinator) recordMessage(msg types.Message) {
	c.historyMu.Lock()
	c.history = append(c.history, msg)
	if len(c.history) > c.historyCap {
		c.history = c.history[len(c.history)-c.historyCap:]
	}
	c.historyMu.Unlock()
	metrics.MessagesTotal.WithLabelValues(string(msg.Kind)).Inc()
}

// AgentStatus is the structured result of GetAgentStatus.
type AgentStatus struct {
	Agent               *types.Agent
	HeartbeatAgeSeconds float64
	TopologyRole        string
}

// GetAgentStatus returns a snapshot of agent id's record plus two derived
// fields, or nil if the id is not registered.
func (c *Coordinator) GetAgentStatus(id string) *AgentStatus {
	c.mu.RLock()
	agent, ok := c.agents[id]
	c.mu.RUnlock()
	if !ok {
		return nil
	}

	clone := *agent
	c.topoMu.Lock()
	neighbors := c.topo.Neighbors(id)
	kind := c.topo.Kind()
	c.topoMu.Unlock()

	return &AgentStatus{
		Agent:               &clone,
		HeartbeatAgeSeconds: time.Since(agent.LastHeartbeat).Seconds(),
		TopologyRole:        topologyRole(kind, id, c.topologyRoot, neighbors),
	}
}

func topologyRole(kind topology.Kind, id, root string, neighbors []string) string {
	switch kind {
	case topology.Hierarchical:
		if id == root {
			return "root"
		}
		return "node"
	case topology.Star:
		if id == root {
			return "hub"
		}
		return "spoke"
	default:
		if len(neighbors) == 0 {
			return "isolated"
		}
		return "peer"
	}
}

// TopologyInfo is the structured result of GetTopologyInfo.
type TopologyInfo struct {
	Kind            topology.Kind
	AgentCount      int
	ConnectionCount int
	StateCounts     map[types.AgentState]int
	MessageCount    int
	Health          string
}

// GetTopologyInfo aggregates the current topology's shape with the
// registry's per-state counts and a health classification: healthy (no
// FAILED agents), degraded (0 < failed < 30%), critical (failed >= 30%).
func (c *Coordinator) GetTopologyInfo() TopologyInfo {
	c.mu.RLock()
	stateCounts := map[types.AgentState]int{}
	for _, a := range c.agents {
		stateCounts[a.State]++
	}
	agentCount := len(c.agents)
	c.mu.RUnlock()

	c.topoMu.Lock()
	snap := c.topo.Snapshot()
	kind := c.topo.Kind()
	c.topoMu.Unlock()

	c.historyMu.Lock()
	messageCount := len(c.history)
	c.historyMu.Unlock()

	health := classifyTopologyHealth(stateCounts[types.AgentFailed], agentCount)
	metrics.TopologyHealth.Set(healthGaugeValue(health))

	return TopologyInfo{
		Kind:            kind,
		AgentCount:      agentCount,
		ConnectionCount: snap.ConnectionCount,
		StateCounts:     stateCounts,
		MessageCount:    messageCount,
		Health:          health,
	}
}

func classifyTopologyHealth(failed, total int) string {
	if total == 0 || failed == 0 {
		return "healthy"
	}
	ratio := float64(failed) / float64(total)
	if ratio >= 0.3 {
		return "critical"
	}
	return "degraded"
}

func healthGaugeValue(health string) float64 {
	switch health {
	case "degraded":
		return 1
	case "critical":
		return 2
	default:
		return 0
	}
}

// SwitchTopology atomically rebuilds into a new topology of the given
// kind, preserving every registered agent's metadata and state. On any
// failure (e.g. a hierarchical target rejecting an agent's metadata) the
// previously active topology remains in effect and an error is returned.
func (c *Coordinator) SwitchTopology(kind topology.Kind, options map[string]any) error {
	next, err := buildTopology(kind, options)
	if err != nil {
		return err
	}

	c.mu.RLock()
	snapshot := make([]*types.Agent, 0, len(c.agents))
	for _, a := range c.agents {
		clone := *a
		snapshot = append(snapshot, &clone)
	}
	c.mu.RUnlock()

	for _, a := range snapshot {
		if err := next.Connect(a.ID, a.Metadata); err != nil {
			return errors.Wrap(errors.CodeInvalidOptions, "new topology rejected agent "+a.ID, err)
		}
	}

	c.topoMu.Lock()
	c.topo = next
	if root, ok := options["root_agent_id"].(string); ok {
		c.topologyRoot = root
	} else if hub, ok := options["hub_agent_id"].(string); ok {
		c.topologyRoot = hub
	}
	c.topoMu.Unlock()

	metrics.TopologySwitchesTotal.Inc()
	return nil
}

func buildTopology(kind topology.Kind, options map[string]any) (topology.Topology, error) {
	switch kind {
	case topology.Mesh:
		return topology.NewMesh(), nil
	case topology.Ring:
		return topology.NewRing(), nil
	case topology.Star:
		hub, ok := options["hub_agent_id"].(string)
		if !ok || hub == "" {
			return nil, errors.New(errors.CodeInvalidOptions, "star topology requires options.hub_agent_id")
		}
		return topology.NewStar(hub), nil
	case topology.Hierarchical:
		root, ok := options["root_agent_id"].(string)
		if !ok || root == "" {
			return nil, errors.New(errors.CodeInvalidOptions, "hierarchical topology requires options.root_agent_id")
		}
		return topology.NewHierarchical(root), nil
	case topology.Adaptive:
		root, _ := options["root_agent_id"].(string)
		return topology.NewAdaptive(root), nil
	default:
		return nil, errors.New(errors.CodeInvalidOptions, "unknown topology kind: "+string(kind))
	}
}

// UpdateAgentHeartbeat refreshes id's last heartbeat, resurrecting it to
// ACTIVE if it had been marked FAILED.
func (c *Coordinator) UpdateAgentHeartbeat(id string) error {
	c.mu.Lock()
	agent, ok := c.agents[id]
	if !ok {
		c.mu.Unlock()
		return errors.New(errors.CodeUnknownAgent, "unknown agent: "+id)
	}
	agent.LastHeartbeat = time.Now()
	resurrected := agent.State == types.AgentFailed
	if resurrected {
		agent.State = types.AgentActive
	}
	c.mu.Unlock()

	if err := c.heartbeatMonitor.RecordHeartbeat(id, nil); err != nil {
		c.logger.Debug().Str("agent_id", id).Err(err).Msg("heartbeat recorded for an agent the monitor lost track of")
	}
	if resurrected {
		c.logger.Info().Str("agent_id", id).Msg("agent resurrected to active by heartbeat")
	}
	c.refreshAgentGauge()
	return nil
}

// validManualStates are the only states set_agent_state may target or
// leave from; FAILED is system-managed exclusively by the heartbeat
// monitor and re-registration.
var validManualStates = map[types.AgentState]bool{
	types.AgentActive: true,
	types.AgentIdle:   true,
	types.AgentBusy:   true,
}

// SetAgentState performs a manual ACTIVE/IDLE/BUSY transition. FAILED can
// be neither the current nor the requested state through this operation.
func (c *Coordinator) SetAgentState(id string, target types.AgentState) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	agent, ok := c.agents[id]
	if !ok {
		return errors.New(errors.CodeUnknownAgent, "unknown agent: "+id)
	}
	if !validManualStates[agent.State] || !validManualStates[target] {
		return errors.New(errors.CodeInvalidTransition, "cannot manually transition agent "+id+" between "+string(agent.State)+" and "+string(target))
	}
	agent.State = target
	c.refreshAgentGaugeLocked()
	return nil
}

func (c *Coordinator) refreshAgentGauge() {
	c.mu.RLock()
	defer c.mu.RUnlock()
	c.refreshAgentGaugeLocked()
}

// refreshAgentGaugeLocked must be called with c.mu held (read or write).
func (c *Coordinator) refreshAgentGaugeLocked() {
	counts := map[types.AgentState]int{}
	for _, a := range c.agents {
		counts[a.State]++
	}
	for _, st := range []types.AgentState{types.AgentActive, types.AgentIdle, types.AgentBusy, types.AgentFailed} {
		metrics.AgentsTotal.WithLabelValues(string(st)).Set(float64(counts[st]))
	}
}

// LiveAgentCount returns the number of registered agents not in FAILED
// state. Implements state.Broadcaster.
func (c *Coordinator) LiveAgentCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	count := 0
	for _, a := range c.agents {
		if a.State != types.AgentFailed {
			count++
		}
	}
	return count
}

// LiveAgentIDs returns the ids of every non-FAILED agent. RequestConsensus
// uses it as the participant set.
func (c *Coordinator) LiveAgentIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.agents))
	for id, a := range c.agents {
		if a.State != types.AgentFailed {
			out = append(out, id)
		}
	}
	return out
}

// AgentsByCapability returns the ids of every registered agent whose
// metadata.capabilities includes cap.
func (c *Coordinator) AgentsByCapability(cap string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []string
	for id, a := range c.agents {
		for _, have := range a.Capabilities() {
			if have == cap {
				out = append(out, id)
				break
			}
		}
	}
	return out
}

// AgentsByType returns the ids of every registered agent whose
// metadata.type equals t.
func (c *Coordinator) AgentsByType(t string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []string
	for id, a := range c.agents {
		if a.Type() == t {
			out = append(out, id)
		}
	}
	return out
}

// Broadcast implements state.Broadcaster: it records the message, routes
// it through the active topology, and publishes it to every pub/sub
// subscriber (the channel StateSynchronizer listens on for responses).
func (c *Coordinator) Broadcast(msg types.Message) int {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	c.topoMu.Lock()
	delivered := c.topo.Broadcast(msg.SenderID, msg, nil)
	c.topoMu.Unlock()

	c.recordMessage(msg)
	c.publish(msg)
	return delivered
}

// Subscribe implements state.Broadcaster: it returns a buffered channel
// that receives every subsequent Broadcast call's message.
func (c *Coordinator) Subscribe() chan types.Message {
	ch := make(chan types.Message, 64)
	c.subsMu.Lock()
	c.subscribers[ch] = true
	c.subsMu.Unlock()
	return ch
}

// Unsubscribe implements state.Broadcaster.
func (c *Coordinator) Unsubscribe(ch chan types.Message) {
	c.subsMu.Lock()
	if _, ok := c.subscribers[ch]; ok {
		delete(c.subscribers, ch)
		close(ch)
	}
	c.subsMu.Unlock()
}

func (c *Coordinator) publish(msg types.Message) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	for ch := range c.subscribers {
		select {
		case ch <- msg:
		default:
			// Subscriber buffer full: drop rather than block the broadcaster.
		}
	}
}

// RequestConsensus delegates to the ConsensusManager using every
// non-FAILED agent as the participant set, and records the outcome in a
// bounded FIFO history.
func (c *Coordinator) RequestConsensus(proposal *types.Proposal, strategyName string, timeoutMs int64) (*types.ConsensusResult, error) {
	start := time.Now()
	participants := c.LiveAgentIDs()
	if len(participants) == 0 {
		err := errors.New(errors.CodeNoQuorum, "no live agents to form a consensus quorum")
		c.runErrorHooks("no_quorum", err.Error(), "", map[string]any{"proposal_id": proposal.ProposalID})
		return nil, err
	}

	result, err := c.consensusManager.RequestConsensus(proposal, participants, strategyName, timeoutMs)
	if result != nil {
		c.recordConsensusResult(result)
	}

	durationMs := time.Since(start).Milliseconds()
	if err != nil {
		c.runErrorHooks("consensus_failure", err.Error(), "", map[string]any{"proposal_id": proposal.ProposalID})
	} else {
		c.runPostTaskHooks("consensus", c.agentID, durationMs, result.Decision == types.DecisionApproved, map[string]any{
			"proposal_id": proposal.ProposalID,
			"decision":    string(result.Decision),
			"strategy":    strategyName,
		})
	}
	return result, err
}

func (c *Coordinator) recordConsensusResult(result *types.ConsensusResult) {
	c.consensusHistoryMu.Lock()
	defer c.consensusHistoryMu.Unlock()
	c.consensusHistory = append(c.consensusHistory, result)
	if len(c.consensusHistory) > c.consensusHistoryCap {
		c.consensusHistory = c.consensusHistory[len(c.consensusHistory)-c.consensusHistoryCap:]
	}
}

// GetConsensusHistory returns the bounded history of past consensus
// results, oldest first.
func (c *Coordinator) GetConsensusHistory() []*types.ConsensusResult {
	c.consensusHistoryMu.Lock()
	defer c.consensusHistoryMu.Unlock()
	out := make([]*types.ConsensusResult, len(c.consensusHistory))
	copy(out, c.consensusHistory)
	return out
}
