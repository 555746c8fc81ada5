package coordinator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/superdisco-agents/moai-flow-sub006/pkg/config"
	"github.com/superdisco-agents/moai-flow-sub006/pkg/consensus"
	coreerrors "github.com/superdisco-agents/moai-flow-sub006/pkg/errors"
	"github.com/superdisco-agents/moai-flow-sub006/pkg/state"
	"github.com/superdisco-agents/moai-flow-sub006/pkg/topology"
	"github.com/superdisco-agents/moai-flow-sub006/pkg/types"
)

// testConfig returns config.Default() with pattern storage redirected under
// a per-test temp directory, so tests never write to the working directory.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Patterns.Storage = t.TempDir()
	return &cfg
}

func newTestCoordinator(t *testing.T) *Coordinator {
	t.Helper()
	return newTestCoordinatorWithConfig(t, testConfig(t))
}

func newTestCoordinatorWithConfig(t *testing.T, cfg *config.Config) *Coordinator {
	t.Helper()
	provider, err := state.NewBoltMemoryProvider(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = provider.Close() })

	manager, err := consensus.NewManager("byzantine", &consensus.ByzantineStrategy{}, &consensus.GossipStrategy{})
	require.NoError(t, err)

	c := New(Options{
		SwarmID:                  "swarm-1",
		HeartbeatIntervalMs:      50,
		HeartbeatFailureThreshold: 3,
		HeartbeatCheckIntervalMs: 5,
		Config:                   cfg,
	}, topology.NewMesh(), manager, provider)
	t.Cleanup(c.Shutdown)
	return c
}

func TestRegisterAgentRejectsDuplicate(t *testing.T) {
	c := newTestCoordinator(t)
	require.NoError(t, c.RegisterAgent("a1", nil))

	err := c.RegisterAgent("a1", nil)
	require.Error(t, err)
	assert.True(t, coreerrors.Is(err, coreerrors.CodeDuplicateAgent))
}

func TestRegisterAgentRejectsInvalidHierarchicalMetadata(t *testing.T) {
	provider, err := state.NewBoltMemoryProvider(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = provider.Close() })
	manager, err := consensus.NewManager("byzantine", &consensus.ByzantineStrategy{})
	require.NoError(t, err)

	c := New(Options{SwarmID: "swarm-1", Config: testConfig(t)}, topology.NewHierarchical("root"), manager, provider)
	t.Cleanup(c.Shutdown)

	require.NoError(t, c.RegisterAgent("root", nil))
	err = c.RegisterAgent("child", map[string]any{"layer": 1})
	require.Error(t, err)
	assert.True(t, coreerrors.Is(err, coreerrors.CodeInvalidMetadata))
}

func TestUnregisterUnknownAgentFails(t *testing.T) {
	c := newTestCoordinator(t)
	err := c.UnregisterAgent("ghost")
	require.Error(t, err)
	assert.True(t, coreerrors.Is(err, coreerrors.CodeUnknownAgent))
}

func TestSendMessageRejectsUnknownParticipants(t *testing.T) {
	c := newTestCoordinator(t)
	require.NoError(t, c.RegisterAgent("a1", nil))

	err := c.SendMessage("a1", "ghost", "hi")
	require.Error(t, err)
	assert.True(t, coreerrors.Is(err, coreerrors.CodeUnknownAgent))

	err = c.SendMessage("ghost", "a1", "hi")
	require.Error(t, err)
	assert.True(t, coreerrors.Is(err, coreerrors.CodeUnknownAgent))
}

func TestSendMessageRoutesAndRefreshesHeartbeat(t *testing.T) {
	c := newTestCoordinator(t)
	require.NoError(t, c.RegisterAgent("a1", nil))
	require.NoError(t, c.RegisterAgent("a2", nil))

	before := c.GetAgentStatus("a1").Agent.LastHeartbeat
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, c.SendMessage("a1", "a2", map[string]any{"hello": true}))

	after := c.GetAgentStatus("a1").Agent.LastHeartbeat
	assert.True(t, after.After(before))
}

func TestBroadcastMessageExcludesListedAgents(t *testing.T) {
	c := newTestCoordinator(t)
	require.NoError(t, c.RegisterAgent("a1", nil))
	require.NoError(t, c.RegisterAgent("a2", nil))
	require.NoError(t, c.RegisterAgent("a3", nil))

	delivered := c.BroadcastMessage("a1", "news", []string{"a3"})
	assert.Equal(t, 1, delivered) // only a2 left in a fully-connected mesh of 3
}

func TestGetAgentStatusReturnsNilForUnknown(t *testing.T) {
	c := newTestCoordinator(t)
	assert.Nil(t, c.GetAgentStatus("ghost"))
}

func TestGetAgentStatusReflectsTopologyRole(t *testing.T) {
	provider, err := state.NewBoltMemoryProvider(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = provider.Close() })
	manager, err := consensus.NewManager("byzantine", &consensus.ByzantineStrategy{})
	require.NoError(t, err)

	c := New(Options{SwarmID: "swarm-1", Config: testConfig(t)}, topology.NewStar("hub"), manager, provider)
	t.Cleanup(c.Shutdown)

	require.NoError(t, c.RegisterAgent("hub", nil))
	require.NoError(t, c.RegisterAgent("spoke-1", nil))

	hubStatus := c.GetAgentStatus("hub")
	require.NotNil(t, hubStatus)
	assert.Equal(t, "hub", hubStatus.TopologyRole)

	spokeStatus := c.GetAgentStatus("spoke-1")
	require.NotNil(t, spokeStatus)
	assert.Equal(t, "spoke", spokeStatus.TopologyRole)
}

func TestGetTopologyInfoClassifiesHealth(t *testing.T) {
	c := newTestCoordinator(t)
	require.NoError(t, c.RegisterAgent("a1", nil))
	require.NoError(t, c.RegisterAgent("a2", nil))
	require.NoError(t, c.RegisterAgent("a3", nil))

	info := c.GetTopologyInfo()
	assert.Equal(t, "healthy", info.Health)
	assert.Equal(t, 3, info.AgentCount)

	require.NoError(t, c.SetAgentState("a1", types.AgentIdle))
	require.NoError(t, c.UnregisterAgent("a1"))
	require.NoError(t, c.RegisterAgent("a1", nil))

	info = c.GetTopologyInfo()
	assert.Equal(t, "healthy", info.Health)
}

func TestSwitchTopologyPreservesAgents(t *testing.T) {
	c := newTestCoordinator(t)
	require.NoError(t, c.RegisterAgent("a1", nil))
	require.NoError(t, c.RegisterAgent("a2", map[string]any{"layer": 1, "parent_id": "a1"}))

	err := c.SwitchTopology(topology.Hierarchical, map[string]any{"root_agent_id": "a1"})
	require.NoError(t, err)

	info := c.GetTopologyInfo()
	assert.Equal(t, topology.Hierarchical, info.Kind)
	assert.Equal(t, 2, info.AgentCount)
}

func TestSwitchTopologyRejectsMissingRequiredOptions(t *testing.T) {
	c := newTestCoordinator(t)
	require.NoError(t, c.RegisterAgent("a1", nil))

	err := c.SwitchTopology(topology.Star, nil)
	require.Error(t, err)
	assert.True(t, coreerrors.Is(err, coreerrors.CodeInvalidOptions))

	// original mesh topology is still active
	info := c.GetTopologyInfo()
	assert.Equal(t, topology.Mesh, info.Kind)
}

func TestUpdateAgentHeartbeatResurrectsFailedAgent(t *testing.T) {
	c := newTestCoordinator(t)
	require.NoError(t, c.RegisterAgent("a1", nil))

	c.mu.Lock()
	c.agents["a1"].State = types.AgentFailed
	c.mu.Unlock()

	require.NoError(t, c.UpdateAgentHeartbeat("a1"))
	status := c.GetAgentStatus("a1")
	assert.Equal(t, types.AgentActive, status.Agent.State)
}

func TestUpdateAgentHeartbeatUnknownAgentFails(t *testing.T) {
	c := newTestCoordinator(t)
	err := c.UpdateAgentHeartbeat("ghost")
	require.Error(t, err)
	assert.True(t, coreerrors.Is(err, coreerrors.CodeUnknownAgent))
}

func TestSetAgentStateAllowsManualTransitions(t *testing.T) {
	c := newTestCoordinator(t)
	require.NoError(t, c.RegisterAgent("a1", nil))

	require.NoError(t, c.SetAgentState("a1", types.AgentBusy))
	status := c.GetAgentStatus("a1")
	assert.Equal(t, types.AgentBusy, status.Agent.State)

	require.NoError(t, c.SetAgentState("a1", types.AgentIdle))
	status = c.GetAgentStatus("a1")
	assert.Equal(t, types.AgentIdle, status.Agent.State)
}

func TestSetAgentStateRejectsFailedAsCurrentOrTarget(t *testing.T) {
	c := newTestCoordinator(t)
	require.NoError(t, c.RegisterAgent("a1", nil))

	err := c.SetAgentState("a1", types.AgentFailed)
	require.Error(t, err)
	assert.True(t, coreerrors.Is(err, coreerrors.CodeInvalidTransition))

	c.mu.Lock()
	c.agents["a1"].State = types.AgentFailed
	c.mu.Unlock()

	err = c.SetAgentState("a1", types.AgentActive)
	require.Error(t, err)
	assert.True(t, coreerrors.Is(err, coreerrors.CodeInvalidTransition))
}

func TestRequestConsensusFailsWithNoLiveAgents(t *testing.T) {
	c := newTestCoordinator(t)
	_, err := c.RequestConsensus(&types.Proposal{ProposalID: "p1"}, "byzantine", 1000)
	require.Error(t, err)
	assert.True(t, coreerrors.Is(err, coreerrors.CodeNoQuorum))
}

func TestRequestConsensusDelegatesAndRecordsHistory(t *testing.T) {
	c := newTestCoordinator(t)
	require.NoError(t, c.RegisterAgent("a1", nil))
	require.NoError(t, c.RegisterAgent("a2", nil))
	require.NoError(t, c.RegisterAgent("a3", nil))

	proposal := &types.Proposal{
		ProposalID: "p1",
		Votes:      map[string]string{"a1": "approve", "a2": "approve", "a3": "approve"},
	}
	result, err := c.RequestConsensus(proposal, "byzantine", 1000)
	require.NoError(t, err)
	assert.Equal(t, types.DecisionApproved, result.Decision)

	history := c.GetConsensusHistory()
	require.Len(t, history, 1)
	assert.Equal(t, "p1", history[0].ProposalID)
}

func TestRequestConsensusExcludesFailedAgentsFromParticipants(t *testing.T) {
	c := newTestCoordinator(t)
	require.NoError(t, c.RegisterAgent("a1", nil))
	require.NoError(t, c.RegisterAgent("a2", nil))

	c.mu.Lock()
	c.agents["a2"].State = types.AgentFailed
	c.mu.Unlock()

	proposal := &types.Proposal{ProposalID: "p2", Votes: map[string]string{"a1": "approve"}}
	result, err := c.RequestConsensus(proposal, "byzantine", 1000)
	require.NoError(t, err)
	assert.Equal(t, []string{"a1"}, result.Participants)
}

func TestAgentsByCapabilityAndType(t *testing.T) {
	c := newTestCoordinator(t)
	require.NoError(t, c.RegisterAgent("a1", map[string]any{"type": "worker", "capabilities": []string{"build", "test"}}))
	require.NoError(t, c.RegisterAgent("a2", map[string]any{"type": "worker", "capabilities": []string{"deploy"}}))
	require.NoError(t, c.RegisterAgent("a3", map[string]any{"type": "reviewer"}))

	builders := c.AgentsByCapability("build")
	assert.ElementsMatch(t, []string{"a1"}, builders)

	workers := c.AgentsByType("worker")
	assert.ElementsMatch(t, []string{"a1", "a2"}, workers)
}

func TestBroadcasterContractFansOutToSubscribers(t *testing.T) {
	c := newTestCoordinator(t)
	require.NoError(t, c.RegisterAgent("a1", nil))

	ch := c.Subscribe()
	defer c.Unsubscribe(ch)

	assert.Equal(t, 1, c.LiveAgentCount())

	delivered := c.Broadcast(types.Message{SenderID: "a1", Kind: types.MessageCustom, Payload: "ping"})
	assert.GreaterOrEqual(t, delivered, 0)

	select {
	case msg := <-ch:
		assert.Equal(t, "ping", msg.Payload)
	case <-time.After(time.Second):
		t.Fatal("expected broadcast to reach subscriber")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	c := newTestCoordinator(t)
	ch := c.Subscribe()
	c.Unsubscribe(ch)

	_, open := <-ch
	assert.False(t, open)
}

func TestSynchronizeStateBumpsVersionAndPersists(t *testing.T) {
	c := newTestCoordinator(t)
	require.NoError(t, c.RegisterAgent("a1", nil))

	require.NoError(t, c.SynchronizeState("counter", 1))
	v, err := c.GetLocalState("counter")
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, int64(1), v.Version)

	require.NoError(t, c.SynchronizeState("counter", 2))
	v, err = c.GetLocalState("counter")
	require.NoError(t, err)
	assert.Equal(t, int64(2), v.Version)
	assert.Equal(t, 2, v.Value)
}

func TestGetLocalStateReturnsNilWhenNeverWritten(t *testing.T) {
	c := newTestCoordinator(t)
	v, err := c.GetLocalState("ghost-key")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestDeltaSyncReturnsVersionsAscending(t *testing.T) {
	c := newTestCoordinator(t)
	require.NoError(t, c.SynchronizeState("k1", "v1"))
	require.NoError(t, c.SynchronizeState("k2", "v2"))

	versions, err := c.DeltaSync(0)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.LessOrEqual(t, versions[0].Version, versions[1].Version)
}

func TestGetStateSeesFastPathWrites(t *testing.T) {
	c := newTestCoordinator(t)
	require.NoError(t, c.SynchronizeState("shared", "value"))

	v, err := c.GetState("shared")
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, "value", v.Value)
}

func TestRequestConsensusFiresPostTaskPatternHook(t *testing.T) {
	c := newTestCoordinator(t)
	require.NoError(t, c.RegisterAgent("a1", nil))

	proposal := &types.Proposal{ProposalID: "p1", Votes: map[string]string{"a1": "approve"}}
	_, err := c.RequestConsensus(proposal, "byzantine", 1000)
	require.NoError(t, err)

	stats, err := c.PatternStatistics()
	require.NoError(t, err)
	require.NotNil(t, stats)
	assert.Equal(t, 1, stats.ByType[types.PatternTaskCompletion])
}

func TestRequestConsensusFiresErrorHookOnNoQuorum(t *testing.T) {
	c := newTestCoordinator(t)

	_, err := c.RequestConsensus(&types.Proposal{ProposalID: "p1"}, "byzantine", 1000)
	require.Error(t, err)

	stats, err := c.PatternStatistics()
	require.NoError(t, err)
	require.NotNil(t, stats)
	assert.Equal(t, 1, stats.ByType[types.PatternErrorOccurrence])
}

func TestSynchronizeStateFiresPostTaskPatternHook(t *testing.T) {
	c := newTestCoordinator(t)
	require.NoError(t, c.SynchronizeState("k1", "v1"))

	stats, err := c.PatternStatistics()
	require.NoError(t, err)
	require.NotNil(t, stats)
	assert.Equal(t, 1, stats.ByType[types.PatternTaskCompletion])
}

func TestHeartbeatFailureFiresErrorPatternHook(t *testing.T) {
	c := newTestCoordinator(t)
	require.NoError(t, c.RegisterAgent("a1", nil))

	c.onHealthTransition("a1", types.HealthCritical, types.HealthFailed)

	status := c.GetAgentStatus("a1")
	require.NotNil(t, status)
	assert.Equal(t, types.AgentFailed, status.Agent.State)

	stats, err := c.PatternStatistics()
	require.NoError(t, err)
	require.NotNil(t, stats)
	assert.Equal(t, 1, stats.ByType[types.PatternErrorOccurrence])
}

func TestPatternStatisticsNilWhenPatternsDisabled(t *testing.T) {
	cfg := config.Default()
	cfg.Patterns.Enabled = false
	c := newTestCoordinatorWithConfig(t, &cfg)

	stats, err := c.PatternStatistics()
	require.NoError(t, err)
	assert.Nil(t, stats)
}
