package consensus

import (
	"math/rand"

	"github.com/superdisco-agents/moai-flow-sub006/pkg/errors"
	"github.com/superdisco-agents/moai-flow-sub006/pkg/types"
)

// GossipStrategy simulates epidemic tally propagation: every round, each
// agent samples k distinct peers and adopts the majority tally across the
// sampled set, until the leading option covers convergenceThreshold of the
// population or maxRounds is exhausted.
type GossipStrategy struct {
	Fanout               int
	MaxRounds            int
	ConvergenceThreshold float64
}

const (
	DefaultFanout               = 3
	DefaultMaxRounds            = 5
	DefaultConvergenceThreshold = 0.95
)

func (g *GossipStrategy) Name() string { return "gossip" }

func (g *GossipStrategy) Propose(proposal *types.Proposal, participants []string, timeoutMs int64) (*types.ConsensusResult, error) {
	n := len(participants)
	if n == 0 {
		return nil, errors.New(errors.CodeNoQuorum, "gossip consensus requires at least one participant")
	}

	fanout := g.Fanout
	if fanout <= 0 {
		fanout = DefaultFanout
	}
	if n <= fanout {
		fanout = n - 1
	}
	maxRounds := g.MaxRounds
	if maxRounds <= 0 {
		maxRounds = DefaultMaxRounds
	}
	threshold := g.ConvergenceThreshold
	if threshold <= 0 {
		threshold = DefaultConvergenceThreshold
	}

	tallies := make(map[string]string, n)
	voteDetail := make(map[string]string, n)
	for _, p := range participants {
		v := proposal.Votes[p]
		if v == "" {
			v = "approve"
		}
		tallies[p] = v
		voteDetail[p] = v
	}

	if n == 1 {
		only := participants[0]
		return &types.ConsensusResult{
			ProposalID:   proposal.ProposalID,
			Decision:     decisionFromOption(tallies[only]),
			VotesFor:     boolToCount(tallies[only] == "approve"),
			VotesAgainst: boolToCount(tallies[only] == "reject"),
			Participants: participants,
			VoteDetail:   voteDetail,
			Algorithm:    "gossip",
			Metadata: map[string]any{
				"rounds_executed": 0,
				"converged":       true,
				"distribution":    map[string]int{tallies[only]: 1},
				"total_messages":  0,
			},
			DecidedAt: now(),
		}, nil
	}

	roundsExecuted := 0
	converged := false
	var leadingOption string
	var distribution map[string]int

	for round := 0; round < maxRounds; round++ {
		roundsExecuted++
		next := make(map[string]string, n)
		for _, p := range participants {
			peers := samplePeers(participants, p, fanout)
			seen := map[string]int{tallies[p]: 1}
			for _, peer := range peers {
				seen[tallies[peer]]++
			}
			option, _ := plurality(seen)
			next[p] = option
		}
		tallies = next

		distribution = make(map[string]int, len(tallies))
		for _, v := range tallies {
			distribution[v]++
		}
		leadingOption, _ = plurality(distribution)
		fraction := float64(distribution[leadingOption]) / float64(n)
		if fraction >= threshold {
			converged = true
			break
		}
	}

	decision := types.DecisionTimeout
	if converged {
		decision = decisionFromOption(leadingOption)
	} else {
		if _, solePlurality := hasStrictPlurality(distribution); solePlurality {
			decision = decisionFromOption(leadingOption)
		}
	}

	for p, v := range tallies {
		voteDetail[p] = v
	}

	return &types.ConsensusResult{
		ProposalID:   proposal.ProposalID,
		Decision:     decision,
		VotesFor:     distribution["approve"],
		VotesAgainst: distribution["reject"],
		Participants: participants,
		VoteDetail:   voteDetail,
		Algorithm:    "gossip",
		Metadata: map[string]any{
			"rounds_executed": roundsExecuted,
			"converged":       converged,
			"distribution":    distribution,
			"total_messages":  n * fanout * roundsExecuted,
		},
		DecidedAt: now(),
	}, nil
}

func decisionFromOption(option string) types.Decision {
	if option == "reject" {
		return types.DecisionRejected
	}
	return types.DecisionApproved
}

func boolToCount(b bool) int {
	if b {
		return 1
	}
	return 0
}

// hasStrictPlurality reports whether exactly one option holds strictly
// more votes than every other in distribution.
func hasStrictPlurality(distribution map[string]int) (string, bool) {
	best, bestCount := plurality(distribution)
	for opt, count := range distribution {
		if opt != best && count == bestCount {
			return best, false
		}
	}
	return best, bestCount > 0
}

func samplePeers(participants []string, self string, k int) []string {
	if k <= 0 {
		return nil
	}
	pool := make([]string, 0, len(participants)-1)
	for _, p := range participants {
		if p != self {
			pool = append(pool, p)
		}
	}
	rand.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
	if k > len(pool) {
		k = len(pool)
	}
	return pool[:k]
}
