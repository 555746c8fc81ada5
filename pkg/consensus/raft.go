package consensus

import (
	"encoding/json"
	"io"
	"time"

	"github.com/hashicorp/raft"

	"github.com/superdisco-agents/moai-flow-sub006/pkg/errors"
	"github.com/superdisco-agents/moai-flow-sub006/pkg/types"
)

// proposalCommand is the Raft log entry payload for a one-shot decision.
type proposalCommand struct {
	ProposalID string `json:"proposal_id"`
	Payload    any    `json:"payload"`
}

// proposalFSM is the minimal Raft FSM needed to commit a single proposal;
// it carries no durable cluster state beyond the decision lifetime.
type proposalFSM struct{}

func (f *proposalFSM) Apply(entry *raft.Log) interface{} {
	var cmd proposalCommand
	if err := json.Unmarshal(entry.Data, &cmd); err != nil {
		return err
	}
	return nil
}

func (f *proposalFSM) Snapshot() (raft.FSMSnapshot, error) {
	return &proposalSnapshot{}, nil
}

func (f *proposalFSM) Restore(rc io.ReadCloser) error {
	return rc.Close()
}

type proposalSnapshot struct{}

func (s *proposalSnapshot) Persist(sink raft.SnapshotSink) error { return sink.Close() }
func (s *proposalSnapshot) Release()                             {}

// RaftStrategy runs a one-shot leader election and log commit using a real
// in-memory hashicorp/raft.Raft instance per proposal. The instance is a
// single-server cluster whose only voter is the first participant; the
// other participants run no raft node and the entry is not replicated to
// them. VotesFor reports the computed majority, not collected votes. The log is not persisted beyond the decision's lifetime — the
// spec explicitly scopes Raft's durability to what a single decision
// needs, not cross-restart cluster state.
type RaftStrategy struct {
	ElectionTimeout  time.Duration
	HeartbeatTimeout time.Duration
}

func (r *RaftStrategy) Name() string { return "raft" }

func (r *RaftStrategy) Propose(proposal *types.Proposal, participants []string, timeoutMs int64) (*types.ConsensusResult, error) {
	n := len(participants)
	if n == 0 {
		return nil, errors.New(errors.CodeNoQuorum, "raft consensus requires at least one participant")
	}
	majority := n/2 + 1
	leaderID := participants[0]

	deadline := time.Duration(timeoutMs) * time.Millisecond
	if deadline <= 0 {
		deadline = 5 * time.Second
	}

	config := raft.DefaultConfig()
	config.LocalID = raft.ServerID(leaderID)
	config.LogOutput = io.Discard
	if r.HeartbeatTimeout > 0 {
		config.HeartbeatTimeout = r.HeartbeatTimeout
		config.LeaderLeaseTimeout = r.HeartbeatTimeout
	}
	if r.ElectionTimeout > 0 {
		config.ElectionTimeout = r.ElectionTimeout
	}

	_, transport := raft.NewInmemTransport(raft.ServerAddress(leaderID))
	logStore := raft.NewInmemStore()
	stableStore := raft.NewInmemStore()
	snapshotStore := raft.NewInmemSnapshotStore()
	fsm := &proposalFSM{}

	node, err := raft.NewRaft(config, fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return nil, errors.Wrap(errors.CodeProviderFailure, "failed to start raft node", err)
	}
	defer node.Shutdown()

	bootstrapFuture := node.BootstrapCluster(raft.Configuration{
		Servers: []raft.Server{{ID: config.LocalID, Address: transport.LocalAddr()}},
	})
	if err := bootstrapFuture.Error(); err != nil {
		return nil, errors.Wrap(errors.CodeProviderFailure, "failed to bootstrap raft cluster", err)
	}

	if !waitForLeader(node, deadline) {
		return &types.ConsensusResult{
			ProposalID:   proposal.ProposalID,
			Decision:     types.DecisionTimeout,
			Participants: append([]string(nil), participants...),
			Algorithm:    "raft",
			Threshold:    float64(majority) / float64(n),
			Metadata:     map[string]any{"leader_candidate": leaderID, "reason": "no leader elected before deadline"},
			DecidedAt:    now(),
		}, nil
	}

	cmd := proposalCommand{ProposalID: proposal.ProposalID, Payload: proposal.Payload}
	data, err := json.Marshal(cmd)
	if err != nil {
		return nil, errors.Wrap(errors.CodeProviderFailure, "failed to marshal raft command", err)
	}

	applyFuture := node.Apply(data, deadline)
	if err := applyFuture.Error(); err != nil {
		return &types.ConsensusResult{
			ProposalID:   proposal.ProposalID,
			Decision:     types.DecisionTimeout,
			Participants: append([]string(nil), participants...),
			Algorithm:    "raft",
			Threshold:    float64(majority) / float64(n),
			Metadata:     map[string]any{"leader": leaderID, "apply_error": err.Error()},
			DecidedAt:    now(),
		}, nil
	}

	stats := node.Stats()

	return &types.ConsensusResult{
		ProposalID:   proposal.ProposalID,
		Decision:     types.DecisionApproved,
		VotesFor:     majority,
		Participants: append([]string(nil), participants...),
		Threshold:    float64(majority) / float64(n),
		Algorithm:    "raft",
		Metadata: map[string]any{
			"leader":     leaderID,
			"term":       stats["term"],
			"log_index":  applyFuture.Index(),
			"last_index": stats["last_log_index"],
		},
		DecidedAt: now(),
	}, nil
}

func waitForLeader(node *raft.Raft, deadline time.Duration) bool {
	if node.State() == raft.Leader {
		return true
	}
	timer := time.NewTimer(deadline)
	defer timer.Stop()

	for {
		select {
		case isLeader := <-node.LeaderCh():
			if isLeader {
				return true
			}
		case <-timer.C:
			return node.State() == raft.Leader
		}
	}
}
