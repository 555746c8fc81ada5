package consensus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreerrors "github.com/superdisco-agents/moai-flow-sub006/pkg/errors"
	"github.com/superdisco-agents/moai-flow-sub006/pkg/types"
)

func TestGossipSingleParticipantConvergesImmediately(t *testing.T) {
	strategy := &GossipStrategy{}
	proposal := &types.Proposal{ProposalID: "p1", Votes: map[string]string{"a1": "approve"}}

	result, err := strategy.Propose(proposal, []string{"a1"}, 1000)
	require.NoError(t, err)
	assert.Equal(t, types.DecisionApproved, result.Decision)
	assert.Equal(t, true, result.Metadata["converged"])
	assert.Equal(t, 0, result.Metadata["rounds_executed"])
}

func TestGossipConvergesOnUnanimousVote(t *testing.T) {
	strategy := &GossipStrategy{Fanout: 3, MaxRounds: 5, ConvergenceThreshold: 0.95}
	votes := map[string]string{}
	participants := make([]string, 0, 10)
	for i := 0; i < 10; i++ {
		id := "agent-" + string(rune('a'+i))
		participants = append(participants, id)
		votes[id] = "approve"
	}
	proposal := &types.Proposal{ProposalID: "p2", Votes: votes}

	result, err := strategy.Propose(proposal, participants, 1000)
	require.NoError(t, err)
	assert.Equal(t, types.DecisionApproved, result.Decision)
	assert.Equal(t, true, result.Metadata["converged"])
}

func TestGossipTruncatesFanoutWhenParticipantsAtOrBelowFanout(t *testing.T) {
	strategy := &GossipStrategy{Fanout: 5, MaxRounds: 3, ConvergenceThreshold: 0.99}
	votes := map[string]string{"a1": "approve", "a2": "approve", "a3": "reject"}
	proposal := &types.Proposal{ProposalID: "p3", Votes: votes}

	result, err := strategy.Propose(proposal, []string{"a1", "a2", "a3"}, 1000)
	require.NoError(t, err)
	assert.NotNil(t, result)
	assert.LessOrEqual(t, result.Metadata["rounds_executed"], 3)
}

func TestGossipRejectsEmptyParticipants(t *testing.T) {
	strategy := &GossipStrategy{}
	_, err := strategy.Propose(&types.Proposal{ProposalID: "p4"}, nil, 1000)
	require.Error(t, err)
	assert.True(t, coreerrors.Is(err, coreerrors.CodeNoQuorum))
}

func TestGossipDistributionSumsToParticipantCount(t *testing.T) {
	strategy := &GossipStrategy{Fanout: 2, MaxRounds: 4, ConvergenceThreshold: 0.9}
	votes := map[string]string{"a1": "approve", "a2": "reject", "a3": "approve", "a4": "reject", "a5": "approve"}
	proposal := &types.Proposal{ProposalID: "p5", Votes: votes}

	result, err := strategy.Propose(proposal, []string{"a1", "a2", "a3", "a4", "a5"}, 1000)
	require.NoError(t, err)
	distribution := result.Metadata["distribution"].(map[string]int)
	total := 0
	for _, v := range distribution {
		total += v
	}
	assert.Equal(t, 5, total)
}
