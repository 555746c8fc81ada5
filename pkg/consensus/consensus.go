// Package consensus implements the ConsensusManager and its three
// interchangeable strategies (Byzantine, Raft, Gossip). Every strategy
// implements the same propose signature and returns the same
// types.ConsensusResult shape; callers are oblivious to the algorithm.
package consensus

import (
	"sort"
	"sync"
	"time"

	"github.com/superdisco-agents/moai-flow-sub006/pkg/errors"
	"github.com/superdisco-agents/moai-flow-sub006/pkg/metrics"
	"github.com/superdisco-agents/moai-flow-sub006/pkg/types"
)

// Strategy is one pluggable consensus algorithm.
type Strategy interface {
	Name() string
	Propose(proposal *types.Proposal, participants []string, timeoutMs int64) (*types.ConsensusResult, error)
}

// Manager stores a registry of named strategies and a default, and routes
// request_consensus calls to whichever is selected.
type Manager struct {
	mu          sync.RWMutex
	strategies  map[string]Strategy
	defaultName string
}

// NewManager builds a Manager with strategies registered and defaultName
// selected as the fallback when a caller omits a strategy name.
func NewManager(defaultName string, strategies ...Strategy) (*Manager, error) {
	m := &Manager{strategies: make(map[string]Strategy, len(strategies))}
	for _, s := range strategies {
		m.strategies[s.Name()] = s
	}
	if _, ok := m.strategies[defaultName]; !ok {
		return nil, errors.New(errors.CodeInvalidOptions, "default strategy not registered: "+defaultName)
	}
	m.defaultName = defaultName
	return m, nil
}

// Register adds or replaces a named strategy.
func (m *Manager) Register(s Strategy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.strategies[s.Name()] = s
}

// RequestConsensus delegates to the named strategy, or the manager's
// default when strategyName is empty.
func (m *Manager) RequestConsensus(proposal *types.Proposal, participants []string, strategyName string, timeoutMs int64) (*types.ConsensusResult, error) {
	m.mu.RLock()
	name := strategyName
	if name == "" {
		name = m.defaultName
	}
	strategy, ok := m.strategies[name]
	m.mu.RUnlock()

	if !ok {
		return nil, errors.New(errors.CodeInvalidOptions, "unknown consensus strategy: "+name)
	}

	timer := metrics.NewTimer()
	result, err := strategy.Propose(proposal, participants, timeoutMs)
	timer.ObserveDurationVec(metrics.ConsensusDuration, name)

	outcome := "error"
	if result != nil {
		outcome = string(result.Decision)
	}
	metrics.ConsensusDecisionsTotal.WithLabelValues(name, outcome).Inc()

	return result, err
}

// plurality returns the option with the most votes among tally, breaking
// ties by lexicographically smallest option string, along with its count.
func plurality(tally map[string]int) (string, int) {
	if len(tally) == 0 {
		return "", 0
	}
	options := make([]string, 0, len(tally))
	for opt := range tally {
		options = append(options, opt)
	}
	sort.Strings(options)

	best := options[0]
	bestCount := tally[best]
	for _, opt := range options[1:] {
		if tally[opt] > bestCount {
			best = opt
			bestCount = tally[opt]
		}
	}
	return best, bestCount
}

func now() time.Time { return time.Now() }
