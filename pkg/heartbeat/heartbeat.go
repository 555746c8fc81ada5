// Package heartbeat implements liveness detection with graded health
// states, derived from elapsed time since an agent's last heartbeat rather
// than stored directly.
package heartbeat

import (
	"sync"
	"time"

	"github.com/superdisco-agents/moai-flow-sub006/pkg/errors"
	"github.com/superdisco-agents/moai-flow-sub006/pkg/log"
	"github.com/superdisco-agents/moai-flow-sub006/pkg/metrics"
	"github.com/superdisco-agents/moai-flow-sub006/pkg/types"
)

// Defaults used when start_monitoring omits per-agent overrides.
const (
	DefaultIntervalMs       = 5000
	DefaultFailureThreshold = 3.0
	DefaultHistorySize      = 100
	DefaultCheckIntervalMs  = 1000
)

var stateRank = map[types.HealthState]int{
	types.HealthHealthy:  0,
	types.HealthDegraded: 1,
	types.HealthCritical: 2,
	types.HealthFailed:   3,
}

// Callback is invoked on a state transition: from -> to.
type Callback func(agentID string, from, to types.HealthState)

// AlertConfig gates which transitions invoke the registered callbacks.
// Recovery to HEALTHY always fires regardless of these flags.
type AlertConfig struct {
	OnDegraded bool
	OnCritical bool
	OnFailed   bool
	Callbacks  []Callback
}

// TimeRange bounds a GetHeartbeatHistory query. A zero value in either
// field means unbounded on that side.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

type ringBuffer struct {
	records []types.HeartbeatRecord
	cap     int
	next    int
	size    int
}

func newRingBuffer(capacity int) *ringBuffer {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	return &ringBuffer{records: make([]types.HeartbeatRecord, capacity), cap: capacity}
}

func (b *ringBuffer) push(r types.HeartbeatRecord) {
	b.records[b.next] = r
	b.next = (b.next + 1) % b.cap
	if b.size < b.cap {
		b.size++
	}
}

// snapshot returns records oldest-first.
func (b *ringBuffer) snapshot() []types.HeartbeatRecord {
	out := make([]types.HeartbeatRecord, 0, b.size)
	start := (b.next - b.size + b.cap) % b.cap
	for i := 0; i < b.size; i++ {
		out = append(out, b.records[(start+i)%b.cap])
	}
	return out
}

type agentMonitor struct {
	mu               sync.Mutex
	agentID          string
	intervalMs       int64
	failureThreshold float64
	history          *ringBuffer
	lastHeartbeat    time.Time
	lastState        types.HealthState
}

// Monitor is the HeartbeatMonitor: per-agent ring buffers plus one
// background checker goroutine that emits transition callbacks.
type Monitor struct {
	mu     sync.RWMutex
	agents map[string]*agentMonitor

	alertsMu sync.RWMutex
	alerts   AlertConfig

	checkIntervalMs int64
	stopCh          chan struct{}
	wg              sync.WaitGroup
	stopOnce        sync.Once
}

// NewMonitor builds a Monitor and starts its background checker at
// checkIntervalMs. A non-positive checkIntervalMs falls back to
// DefaultCheckIntervalMs.
func NewMonitor(checkIntervalMs int64) *Monitor {
	if checkIntervalMs <= 0 {
		checkIntervalMs = DefaultCheckIntervalMs
	}
	m := &Monitor{
		agents:          make(map[string]*agentMonitor),
		checkIntervalMs: checkIntervalMs,
		stopCh:          make(chan struct{}),
	}
	m.wg.Add(1)
	go m.runChecker()
	return m
}

// StartMonitoring begins tracking agentID. intervalMs <= 0 defaults to
// DefaultIntervalMs, except the documented boundary case: intervalMs == 0
// is treated as 1 so the state-transition math never divides by zero or
// produces an infinite DEGRADED window. failureThreshold <= 0 defaults to
// DefaultFailureThreshold.
func (m *Monitor) StartMonitoring(agentID string, intervalMs int64, failureThreshold float64, historySize int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.agents[agentID]; exists {
		return errors.New(errors.CodeAlreadyMonitored, "agent already monitored: "+agentID)
	}

	interval := intervalMs
	if interval == 0 {
		interval = 1
	} else if interval < 0 {
		interval = DefaultIntervalMs
	}

	threshold := failureThreshold
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}

	m.agents[agentID] = &agentMonitor{
		agentID:          agentID,
		intervalMs:       interval,
		failureThreshold: threshold,
		history:          newRingBuffer(historySize),
		lastHeartbeat:    time.Now(),
		lastState:        types.HealthHealthy,
	}
	return nil
}

// StopMonitoring stops tracking agentID.
func (m *Monitor) StopMonitoring(agentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.agents[agentID]; !exists {
		return errors.New(errors.CodeNotMonitored, "agent not monitored: "+agentID)
	}
	delete(m.agents, agentID)
	return nil
}

func (m *Monitor) lookup(agentID string) (*agentMonitor, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	am, ok := m.agents[agentID]
	return am, ok
}

// RecordHeartbeat appends a heartbeat to agentID's ring buffer and
// immediately re-evaluates its health, firing a recovery callback inline
// if the agent had degraded.
func (m *Monitor) RecordHeartbeat(agentID string, metadata map[string]any) error {
	am, ok := m.lookup(agentID)
	if !ok {
		return errors.New(errors.CodeNotMonitored, "agent not monitored: "+agentID)
	}

	now := time.Now()
	am.mu.Lock()
	am.lastHeartbeat = now
	am.history.push(types.HeartbeatRecord{AgentID: agentID, Timestamp: now, Metadata: metadata})
	am.mu.Unlock()

	m.evaluateAndEmit(am)
	return nil
}

// classify computes the HealthState for elapsed time since the last
// heartbeat given interval and failureThreshold (spec §4.6 transition
// rules).
func classify(elapsedMs float64, intervalMs int64, failureThreshold float64) types.HealthState {
	interval := float64(intervalMs)
	switch {
	case elapsedMs < interval:
		return types.HealthHealthy
	case elapsedMs < 2*interval:
		return types.HealthDegraded
	case elapsedMs < failureThreshold*interval:
		return types.HealthCritical
	default:
		return types.HealthFailed
	}
}

// CheckAgentHealth computes the current HealthState for agentID without
// mutating transition-dedup state.
func (m *Monitor) CheckAgentHealth(agentID string) (types.HealthState, error) {
	am, ok := m.lookup(agentID)
	if !ok {
		return "", errors.New(errors.CodeNotMonitored, "agent not monitored: "+agentID)
	}

	am.mu.Lock()
	elapsed := time.Since(am.lastHeartbeat).Seconds() * 1000
	state := classify(elapsed, am.intervalMs, am.failureThreshold)
	am.mu.Unlock()

	return state, nil
}

// GetUnhealthyAgents returns every monitored agent whose current
// HealthState is at or above minState in severity.
func (m *Monitor) GetUnhealthyAgents(minState types.HealthState) []string {
	m.mu.RLock()
	snapshot := make([]*agentMonitor, 0, len(m.agents))
	for _, am := range m.agents {
		snapshot = append(snapshot, am)
	}
	m.mu.RUnlock()

	threshold := stateRank[minState]
	var out []string
	for _, am := range snapshot {
		am.mu.Lock()
		elapsed := time.Since(am.lastHeartbeat).Seconds() * 1000
		state := classify(elapsed, am.intervalMs, am.failureThreshold)
		id := am.agentID
		am.mu.Unlock()

		if stateRank[state] >= threshold {
			out = append(out, id)
		}
	}
	return out
}

// GetHeartbeatHistory returns agentID's recorded heartbeats, oldest first,
// optionally bounded by timeRange.
func (m *Monitor) GetHeartbeatHistory(agentID string, timeRange *TimeRange) ([]types.HeartbeatRecord, error) {
	am, ok := m.lookup(agentID)
	if !ok {
		return nil, errors.New(errors.CodeNotMonitored, "agent not monitored: "+agentID)
	}

	am.mu.Lock()
	all := am.history.snapshot()
	am.mu.Unlock()

	if timeRange == nil {
		return all, nil
	}

	out := make([]types.HeartbeatRecord, 0, len(all))
	for _, r := range all {
		if !timeRange.Start.IsZero() && r.Timestamp.Before(timeRange.Start) {
			continue
		}
		if !timeRange.End.IsZero() && r.Timestamp.After(timeRange.End) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// ConfigureAlerts replaces the active alert gating and callback list.
func (m *Monitor) ConfigureAlerts(cfg AlertConfig) {
	m.alertsMu.Lock()
	m.alerts = cfg
	m.alertsMu.Unlock()
}

// shouldAlert reports whether a transition from->to should invoke the
// registered callbacks given the current AlertConfig. Recovery to HEALTHY
// always alerts; other transitions are gated by their matching flag.
func (m *Monitor) shouldAlert(from, to types.HealthState) bool {
	m.alertsMu.RLock()
	cfg := m.alerts
	m.alertsMu.RUnlock()

	if to == types.HealthHealthy {
		return from != types.HealthHealthy
	}
	switch to {
	case types.HealthDegraded:
		return cfg.OnDegraded
	case types.HealthCritical:
		return cfg.OnCritical
	case types.HealthFailed:
		return cfg.OnFailed
	default:
		return false
	}
}

func (m *Monitor) emit(agentID string, from, to types.HealthState) {
	m.alertsMu.RLock()
	callbacks := append([]Callback(nil), m.alerts.Callbacks...)
	m.alertsMu.RUnlock()

	metrics.HeartbeatTransitionsTotal.WithLabelValues(string(from), string(to)).Inc()

	for _, cb := range callbacks {
		cb(agentID, from, to)
	}
}

// evaluateAndEmit recomputes am's HealthState, and if it differs from the
// last-emitted state, fires the registered callbacks exactly once and
// updates the dedup marker. No Monitor-level lock is held while callbacks
// run.
func (m *Monitor) evaluateAndEmit(am *agentMonitor) {
	am.mu.Lock()
	elapsed := time.Since(am.lastHeartbeat).Seconds() * 1000
	newState := classify(elapsed, am.intervalMs, am.failureThreshold)
	oldState := am.lastState
	agentID := am.agentID
	if newState != oldState {
		am.lastState = newState
	}
	am.mu.Unlock()

	if newState == oldState {
		return
	}
	if m.shouldAlert(oldState, newState) {
		m.emit(agentID, oldState, newState)
	}
}

func (m *Monitor) runChecker() {
	defer m.wg.Done()
	ticker := time.NewTicker(time.Duration(m.checkIntervalMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.tick()
		case <-m.stopCh:
			return
		}
	}
}

func (m *Monitor) tick() {
	m.mu.RLock()
	snapshot := make([]*agentMonitor, 0, len(m.agents))
	for _, am := range m.agents {
		snapshot = append(snapshot, am)
	}
	m.mu.RUnlock()

	for _, am := range snapshot {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					log.WithComponent("heartbeat").Warn().
						Str("agent_id", am.agentID).
						Interface("panic", rec).
						Msg("heartbeat check tick recovered from panic; continuing on next tick")
				}
			}()
			m.evaluateAndEmit(am)
		}()
	}
}

// Shutdown stops the background checker gracefully and waits for it to
// exit.
func (m *Monitor) Shutdown() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
	m.wg.Wait()
}
