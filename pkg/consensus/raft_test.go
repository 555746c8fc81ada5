package consensus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreerrors "github.com/superdisco-agents/moai-flow-sub006/pkg/errors"
	"github.com/superdisco-agents/moai-flow-sub006/pkg/types"
)

func TestRaftApprovesAfterLeaderElection(t *testing.T) {
	strategy := &RaftStrategy{
		HeartbeatTimeout: 30 * time.Millisecond,
		ElectionTimeout:  30 * time.Millisecond,
	}
	proposal := &types.Proposal{ProposalID: "p1", Payload: map[string]any{"op": "scale_up"}}

	result, err := strategy.Propose(proposal, []string{"leader-1", "follower-1", "follower-2"}, 2000)
	require.NoError(t, err)
	assert.Equal(t, types.DecisionApproved, result.Decision)
	assert.Equal(t, 2, result.VotesFor) // majority of 3
	assert.Equal(t, "leader-1", result.Metadata["leader"])
	assert.NotNil(t, result.Metadata["log_index"])
}

func TestRaftTimesOutWhenDeadlineTooShortForElection(t *testing.T) {
	strategy := &RaftStrategy{
		HeartbeatTimeout: 200 * time.Millisecond,
		ElectionTimeout:  200 * time.Millisecond,
	}
	proposal := &types.Proposal{ProposalID: "p2"}

	// A 1ms budget cannot outlast even a fast single-node leader election.
	result, err := strategy.Propose(proposal, []string{"leader-1"}, 1)
	require.NoError(t, err)
	assert.Equal(t, types.DecisionTimeout, result.Decision)
	assert.Equal(t, "no leader elected before deadline", result.Metadata["reason"])
}

func TestRaftRejectsEmptyParticipants(t *testing.T) {
	strategy := &RaftStrategy{}
	_, err := strategy.Propose(&types.Proposal{ProposalID: "p3"}, nil, 1000)
	require.Error(t, err)
	assert.True(t, coreerrors.Is(err, coreerrors.CodeNoQuorum))
}

func TestRaftMajorityReflectsOddAndEvenParticipantCounts(t *testing.T) {
	strategy := &RaftStrategy{HeartbeatTimeout: 30 * time.Millisecond, ElectionTimeout: 30 * time.Millisecond}

	result, err := strategy.Propose(&types.Proposal{ProposalID: "p4"}, []string{"n1", "n2", "n3", "n4"}, 2000)
	require.NoError(t, err)
	assert.Equal(t, 3, result.VotesFor) // 4/2+1
}
