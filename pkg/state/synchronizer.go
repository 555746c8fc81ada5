package state

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/superdisco-agents/moai-flow-sub006/pkg/conflict"
	"github.com/superdisco-agents/moai-flow-sub006/pkg/errors"
	"github.com/superdisco-agents/moai-flow-sub006/pkg/log"
	"github.com/superdisco-agents/moai-flow-sub006/pkg/metrics"
	"github.com/superdisco-agents/moai-flow-sub006/pkg/types"
)

// Broadcaster is the slice of coordinator behavior a StateSynchronizer
// needs: fan a message out to every connected agent, know how many agents
// are currently live, and let the synchronizer listen for the responses
// that come back through the topology.
type Broadcaster interface {
	Broadcast(msg types.Message) int
	LiveAgentCount() int
	Subscribe() chan types.Message
	Unsubscribe(ch chan types.Message)
}

// stateRequestPayload/stateResponsePayload/stateUpdatePayload are the
// payload shapes carried on state_request/state_response/state_update
// messages.
type stateRequestPayload struct {
	Key       string
	RequestID string
}

type stateResponsePayload struct {
	RequestID string
	Version   *types.StateVersion
}

type stateUpdatePayload struct {
	Key     string
	Value   any
	Version int64
}

// Synchronizer drives quorum-gathering synchronization, delta replication,
// and point lookups of convergent shared state.
type Synchronizer struct {
	AgentID  string
	Strategy conflict.Strategy

	broadcaster Broadcaster
	resolver    *conflict.Resolver
	provider    MemoryProvider

	keyLocksMu sync.Mutex
	keyLocks   map[string]*sync.Mutex
}

// NewSynchronizer builds a Synchronizer. strategy selects the conflict
// resolution algorithm applied when responses disagree; it defaults to LWW
// if empty.
func NewSynchronizer(agentID string, broadcaster Broadcaster, resolver *conflict.Resolver, provider MemoryProvider, strategy conflict.Strategy) *Synchronizer {
	if strategy == "" {
		strategy = conflict.StrategyLWW
	}
	return &Synchronizer{
		AgentID:     agentID,
		Strategy:    strategy,
		broadcaster: broadcaster,
		resolver:    resolver,
		provider:    provider,
		keyLocks:    make(map[string]*sync.Mutex),
	}
}

func (s *Synchronizer) lockFor(swarmID, key string) *sync.Mutex {
	id := swarmID + "/" + key
	s.keyLocksMu.Lock()
	defer s.keyLocksMu.Unlock()

	l, ok := s.keyLocks[id]
	if !ok {
		l = &sync.Mutex{}
		s.keyLocks[id] = l
	}
	return l
}

// SynchronizeState runs the full synchronize_state protocol: broadcast a
// request, gather responses up to a deadline, resolve any disagreement,
// broadcast the resolved update, and persist the result. Only one call per
// (swarmID, key) proceeds at a time; concurrent callers serialize rather
// than error.
func (s *Synchronizer) SynchronizeState(swarmID, key string, timeoutMs int64) error {
	lock := s.lockFor(swarmID, key)
	lock.Lock()
	defer lock.Unlock()

	timer := metrics.NewTimer()
	outcome, err := s.synchronizeLocked(swarmID, key, timeoutMs)
	timer.ObserveDuration(metrics.SyncDuration)
	metrics.SyncOutcomesTotal.WithLabelValues(outcome).Inc()
	return err
}

func (s *Synchronizer) synchronizeLocked(swarmID, key string, timeoutMs int64) (string, error) {
	requestID := uuid.New().String()
	liveCount := s.broadcaster.LiveAgentCount()

	if liveCount == 0 {
		log.WithComponent("state").Warn().Str("swarm_id", swarmID).Str("key", key).
			Msg("synchronize_state has no live agents to query")
		return "insufficient_responses", errors.New(errors.CodeInsufficientResponses, "no live agents to synchronize against")
	}

	responses, collected := s.collectResponses(swarmID, key, requestID, timeoutMs, liveCount)
	required := int(math.Ceil(float64(liveCount) / 2))

	if collected == 0 {
		log.WithComponent("state").Warn().Str("swarm_id", swarmID).Str("key", key).Msg("synchronize_state timed out with no responses")
		return "timeout", errors.New(errors.CodeSyncTimeout, "no state_response received before deadline")
	}
	if collected < required {
		log.WithComponent("state").Warn().Str("swarm_id", swarmID).Str("key", key).
			Int("collected", collected).Int("required", required).
			Msg("synchronize_state did not reach quorum")
		return "insufficient_responses", errors.New(errors.CodeInsufficientResponses, "fewer responses than quorum required").
			WithContext("collected", collected).WithContext("required", required)
	}

	resolved, err := s.resolveResponses(key, responses)
	if err != nil {
		return "insufficient_responses", err
	}

	resolved.Version = maxResponseVersion(responses) + 1
	resolved.OriginAgent = s.AgentID
	resolved.Timestamp = time.Now()
	resolved.Key = key

	s.broadcaster.Broadcast(types.Message{
		ID:        uuid.New().String(),
		SenderID:  s.AgentID,
		Kind:      types.MessageStateUpdate,
		Timestamp: time.Now(),
		Payload: stateUpdatePayload{
			Key:     key,
			Value:   resolved.Value,
			Version: resolved.Version,
		},
	})

	if err := s.provider.Put(swarmID, key, resolved); err != nil {
		return "insufficient_responses", err
	}
	return "ok", nil
}

// collectResponses broadcasts a state_request and gathers state_response
// messages whose request_id matches until the deadline elapses or every
// live agent has responded.
func (s *Synchronizer) collectResponses(swarmID, key, requestID string, timeoutMs int64, liveCount int) ([]*types.StateVersion, int) {
	ch := s.broadcaster.Subscribe()
	defer s.broadcaster.Unsubscribe(ch)

	s.broadcaster.Broadcast(types.Message{
		ID:        uuid.New().String(),
		SenderID:  s.AgentID,
		Kind:      types.MessageStateRequest,
		Timestamp: time.Now(),
		Payload:   stateRequestPayload{Key: key, RequestID: requestID},
	})

	deadline := time.After(time.Duration(timeoutMs) * time.Millisecond)
	var responses []*types.StateVersion

	for len(responses) < liveCount {
		select {
		case msg, ok := <-ch:
			if !ok {
				return responses, len(responses)
			}
			if msg.Kind != types.MessageStateResponse {
				continue
			}
			payload, ok := msg.Payload.(stateResponsePayload)
			if !ok || payload.RequestID != requestID {
				continue
			}
			responses = append(responses, payload.Version)
		case <-deadline:
			return responses, len(responses)
		}
	}
	return responses, len(responses)
}

func (s *Synchronizer) resolveResponses(key string, responses []*types.StateVersion) (*types.StateVersion, error) {
	byAgent := make(map[string]*types.StateVersion, len(responses))
	for i, r := range responses {
		agent := r.OriginAgent
		if agent == "" {
			agent = fmt.Sprintf("anon-%d", i)
		}
		byAgent[agent] = r
	}

	if len(conflict.DetectConflicts(byAgent)) == 0 {
		return cloneVersion(responses[0]), nil
	}

	resolved, err := s.resolver.Resolve(s.Strategy, key, responses)
	if err != nil {
		return nil, err
	}
	return cloneVersion(resolved), nil
}

func cloneVersion(v *types.StateVersion) *types.StateVersion {
	clone := *v
	return &clone
}

func maxResponseVersion(responses []*types.StateVersion) int64 {
	var max int64
	for _, r := range responses {
		if r.Version > max {
			max = r.Version
		}
	}
	return max
}

// DeltaSync returns every version persisted for swarmID with
// version > sinceVersion, in ascending version order. It never blocks on
// SynchronizeState.
func (s *Synchronizer) DeltaSync(swarmID string, sinceVersion int64) ([]*types.StateVersion, error) {
	return s.provider.ListSince(swarmID, sinceVersion)
}

// GetState returns the persisted version for (swarmID, key), or (nil, nil)
// if no version has been synchronized yet.
func (s *Synchronizer) GetState(swarmID, key string) (*types.StateVersion, error) {
	version, found, err := s.provider.Get(swarmID, key)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return version, nil
}
