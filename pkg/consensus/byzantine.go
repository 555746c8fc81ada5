package consensus

import (
	"github.com/superdisco-agents/moai-flow-sub006/pkg/errors"
	"github.com/superdisco-agents/moai-flow-sub006/pkg/types"
)

// defaultFaultTolerance is used when ByzantineStrategy.FaultTolerance is <= 0:
// the largest f such that N >= 3f+1 for the given participant count.
func defaultFaultTolerance(n int) int {
	if n <= 0 {
		return 0
	}
	return (n - 1) / 3
}

// ByzantineStrategy decides a proposal from one tally of proposal.Votes
// checked against the PBFT 2f+1 commit threshold: tolerance is by
// participant count, not signed votes (spec non-goal — no cryptographic
// identity). The pre-prepare/prepare/commit/reply phases are not run as
// separate rounds, and no per-phase counts are reported.
type ByzantineStrategy struct {
	// FaultTolerance is f, the number of simultaneous crash/equivocation
	// faults tolerated. <= 0 derives the largest admissible f from the
	// participant count at propose time.
	FaultTolerance int
}

func (b *ByzantineStrategy) Name() string { return "byzantine" }

// Propose tallies each participant's vote (proposal.Votes[agent_id], or
// abstain if the participant sent none — modeling a crashed or
// unresponsive node), then checks whether the leading option cleared the
// 2f+1 commit threshold. timeoutMs is not used; a leading option short of
// the threshold is reported as DecisionTimeout.
func (b *ByzantineStrategy) Propose(proposal *types.Proposal, participants []string, timeoutMs int64) (*types.ConsensusResult, error) {
	n := len(participants)
	if n == 0 {
		return nil, errors.New(errors.CodeNoQuorum, "byzantine consensus requires at least one participant")
	}

	f := b.FaultTolerance
	if f <= 0 {
		f = defaultFaultTolerance(n)
	}
	if n < 3*f+1 {
		return nil, errors.New(errors.CodeNoQuorum, "participant count below Byzantine safety bound 3f+1").
			WithContext("n", n).WithContext("f", f)
	}

	primary := participants[0]

	tally := make(map[string]int)
	voteDetail := make(map[string]string, n)
	abstain := 0
	for _, p := range participants {
		v, ok := proposal.Votes[p]
		if !ok || v == "" {
			abstain++
			voteDetail[p] = "abstain"
			continue
		}
		tally[v]++
		voteDetail[p] = v
	}

	leadingOption, leadingCount := plurality(tally)
	commitThreshold := 2*f + 1

	decision := types.DecisionTimeout
	if leadingCount >= commitThreshold {
		if leadingOption == "reject" {
			decision = types.DecisionRejected
		} else {
			decision = types.DecisionApproved
		}
	}

	return &types.ConsensusResult{
		ProposalID:   proposal.ProposalID,
		Decision:     decision,
		VotesFor:     tally["approve"],
		VotesAgainst: tally["reject"],
		Abstain:      abstain,
		Participants: append([]string(nil), participants...),
		VoteDetail:   voteDetail,
		Threshold:    float64(commitThreshold) / float64(n),
		Algorithm:    "byzantine",
		Metadata: map[string]any{
			"primary":          primary,
			"fault_tolerance":  f,
			"commit_threshold": commitThreshold,
			"leading_option":   leadingOption,
			"leading_count":    leadingCount,
		},
		DecidedAt: now(),
	}, nil
}
