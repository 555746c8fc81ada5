package heartbeat

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreerrors "github.com/superdisco-agents/moai-flow-sub006/pkg/errors"
	"github.com/superdisco-agents/moai-flow-sub006/pkg/types"
)

func TestStartMonitoringDuplicateRejected(t *testing.T) {
	m := NewMonitor(10)
	defer m.Shutdown()

	require.NoError(t, m.StartMonitoring("a1", 100, 3, 10))
	err := m.StartMonitoring("a1", 100, 3, 10)
	require.Error(t, err)
	assert.True(t, coreerrors.Is(err, coreerrors.CodeAlreadyMonitored))
}

func TestStopMonitoringUnknown(t *testing.T) {
	m := NewMonitor(10)
	defer m.Shutdown()

	err := m.StopMonitoring("ghost")
	require.Error(t, err)
	assert.True(t, coreerrors.Is(err, coreerrors.CodeNotMonitored))
}

func TestIntervalZeroTreatedAsOne(t *testing.T) {
	m := NewMonitor(5)
	defer m.Shutdown()

	require.NoError(t, m.StartMonitoring("a1", 0, 3, 10))
	time.Sleep(20 * time.Millisecond)

	state, err := m.CheckAgentHealth("a1")
	require.NoError(t, err)
	assert.NotEqual(t, types.HealthHealthy, state, "with interval=1ms, 20ms elapsed should not read healthy")
}

func TestRecordHeartbeatUpdatesHistoryAndResetsHealth(t *testing.T) {
	m := NewMonitor(5)
	defer m.Shutdown()

	require.NoError(t, m.StartMonitoring("a1", 50, 3, 10))
	require.NoError(t, m.RecordHeartbeat("a1", map[string]any{"seq": 1}))

	history, err := m.GetHeartbeatHistory("a1", nil)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "a1", history[0].AgentID)

	state, err := m.CheckAgentHealth("a1")
	require.NoError(t, err)
	assert.Equal(t, types.HealthHealthy, state)
}

func TestHeartbeatHistoryRingBufferEviction(t *testing.T) {
	m := NewMonitor(1000)
	defer m.Shutdown()

	require.NoError(t, m.StartMonitoring("a1", 1000, 3, 3)) // capacity 3
	for i := 0; i < 5; i++ {
		require.NoError(t, m.RecordHeartbeat("a1", map[string]any{"seq": i}))
	}

	history, err := m.GetHeartbeatHistory("a1", nil)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, 2, history[0].Metadata["seq"])
	assert.Equal(t, 4, history[2].Metadata["seq"])
}

func TestStateTransitionsHealthyToFailedAndRecovery(t *testing.T) {
	m := NewMonitor(10) // check every 10ms
	defer m.Shutdown()

	require.NoError(t, m.StartMonitoring("a1", 30, 3, 10)) // interval=30ms, threshold=3x -> failed at 90ms

	var mu sync.Mutex
	var transitions []string
	m.ConfigureAlerts(AlertConfig{
		OnDegraded: true,
		OnCritical: true,
		OnFailed:   true,
		Callbacks: []Callback{
			func(agentID string, from, to types.HealthState) {
				mu.Lock()
				transitions = append(transitions, string(to))
				mu.Unlock()
			},
		},
	})

	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	seen := append([]string(nil), transitions...)
	mu.Unlock()

	require.NotEmpty(t, seen)
	assert.Equal(t, "FAILED", seen[len(seen)-1])

	require.NoError(t, m.RecordHeartbeat("a1", nil))
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	seenAfterRecovery := append([]string(nil), transitions...)
	mu.Unlock()
	assert.Equal(t, "HEALTHY", seenAfterRecovery[len(seenAfterRecovery)-1])
}

func TestGetUnhealthyAgentsFiltersBySeverity(t *testing.T) {
	m := NewMonitor(5)
	defer m.Shutdown()

	require.NoError(t, m.StartMonitoring("healthy", 1000, 3, 10))
	require.NoError(t, m.StartMonitoring("dying", 20, 3, 10))

	time.Sleep(150 * time.Millisecond) // "dying" crosses into FAILED (20ms * 3)

	unhealthy := m.GetUnhealthyAgents(types.HealthCritical)
	assert.Contains(t, unhealthy, "dying")
	assert.NotContains(t, unhealthy, "healthy")
}

func TestRecordHeartbeatUnmonitoredAgent(t *testing.T) {
	m := NewMonitor(10)
	defer m.Shutdown()

	err := m.RecordHeartbeat("ghost", nil)
	require.Error(t, err)
	assert.True(t, coreerrors.Is(err, coreerrors.CodeNotMonitored))
}

func TestShutdownStopsBackgroundChecker(t *testing.T) {
	m := NewMonitor(5)
	require.NoError(t, m.StartMonitoring("a1", 10, 3, 10))
	m.Shutdown()
	// Shutdown must return promptly; a second call must not hang either.
	m.Shutdown()
}
