// Package matrix assembles the full delegate-by-proposal voting matrix and
// its per-delegate and per-proposal aggregates.
package matrix

import (
	"math"
	"sort"

	"github.com/samber/lo"

	"github.com/daoscope/govmatrix/internal/model"
	"github.com/daoscope/govmatrix/internal/votes"
)

// Result is the assembled matrix plus derived aggregates.
type Result struct {
	Records           []model.MatrixRecord
	DelegateSummaries []model.DelegateSummary
	ProposalSummaries []model.ProposalSummary

	VotesExtracted int
	UniqueVoters   int
	Participation  float64
}

// cell is one matched vote keyed by voter address within a proposal.
type cell struct {
	outcome model.Outcome
	vote    model.Vote
}

// Build produces the complete cross-join of delegates and proposals. Every
// (delegate, proposal) pair yields exactly one record; delegates without a
// matching vote get an explicit Did Not Vote row so absence is visible in
// the output rather than implied by a missing row.
func Build(delegates []model.Delegate, proposals []model.Proposal, votesByProposal map[string][]model.Vote) Result {
	res := Result{
		Records: make([]model.MatrixRecord, 0, len(delegates)*len(proposals)),
	}

	delegateAgg := make(map[string]*model.DelegateSummary, len(delegates))
	voterSeen := make(map[string]struct{})

	for _, p := range proposals {
		voteMap := buildVoteMap(votesByProposal[p.Key()])
		res.VotesExtracted += len(votesByProposal[p.Key()])

		ps := model.ProposalSummary{
			ProposalID:        p.ID,
			Title:             p.DisplayTitle(),
			Status:            p.Status,
			EligibleDelegates: len(delegates),
			StartTimestamp:    p.StartTimestamp,
			EndTimestamp:      p.EndTimestamp,
		}

		for _, d := range delegates {
			if d.Key() == "" {
				continue
			}

			rec := baseRecord(d, p)

			if c, ok := voteMap[d.Key()]; ok {
				rec.Vote = c.outcome
				rec.VotingAmount = c.vote.Amount
				rec.RawType = c.vote.Type
				rec.Reason = c.vote.Reason
				rec.VoteTime = c.vote.BlockTimestamp
				rec.BlockNumber = c.vote.BlockNumber
				rec.TxHash = c.vote.TxHash
				rec.Participated = true

				ps.UniqueVoters++
				voterSeen[d.Key()] = struct{}{}
			}

			res.Records = append(res.Records, rec)
			tallyDelegate(delegateAgg, d, rec)
			tallyProposal(&ps, rec)
		}

		ps.ParticipationRate = rate(ps.UniqueVoters, ps.EligibleDelegates)
		res.ProposalSummaries = append(res.ProposalSummaries, ps)
	}

	res.DelegateSummaries = finalizeDelegates(delegateAgg, len(proposals))
	res.UniqueVoters = len(voterSeen)

	participated := lo.CountBy(res.Records, func(r model.MatrixRecord) bool { return r.Participated })
	res.Participation = rate(participated, len(res.Records))

	sort.Slice(res.ProposalSummaries, func(i, j int) bool {
		return res.ProposalSummaries[i].UniqueVoters > res.ProposalSummaries[j].UniqueVoters
	})

	return res
}

// buildVoteMap indexes votes by lower-cased voter address. When a voter
// appears more than once on the same proposal the later record wins.
func buildVoteMap(vv []model.Vote) map[string]cell {
	m := make(map[string]cell, len(vv))
	for _, v := range vv {
		if v.VoterKey() == "" {
			continue
		}
		m[v.VoterKey()] = cell{outcome: votes.Normalize(v), vote: v}
	}
	return m
}

func baseRecord(d model.Delegate, p model.Proposal) model.MatrixRecord {
	return model.MatrixRecord{
		DelegateAddress:   d.Address,
		DelegateName:      d.DisplayName(),
		DelegateENS:       d.ENS,
		DelegateVotes:     d.VotesCount,
		DelegatorsCount:   d.DelegatorsCount,
		HasStatement:      d.HasStatement(),
		SeekingDelegation: d.SeekingDelegation,

		ProposalID:     p.ID,
		OnchainID:      p.OnchainID,
		ProposalTitle:  p.DisplayTitle(),
		ProposalStatus: p.Status,
		StartTimestamp: p.StartTimestamp,
		EndTimestamp:   p.EndTimestamp,

		Vote:         model.OutcomeDidNotVote,
		VotingAmount: "0",
	}
}

func tallyDelegate(agg map[string]*model.DelegateSummary, d model.Delegate, rec model.MatrixRecord) {
	ds, ok := agg[d.Key()]
	if !ok {
		ds = &model.DelegateSummary{
			Address:           d.Address,
			Name:              d.DisplayName(),
			ENS:               d.ENS,
			VotingPower:       d.VotesCount,
			DelegatorsCount:   d.DelegatorsCount,
			HasStatement:      d.HasStatement(),
			SeekingDelegation: d.SeekingDelegation,
		}
		agg[d.Key()] = ds
	}

	ds.TotalProposals++
	if !rec.Participated {
		return
	}
	ds.VotesCast++
	switch rec.Vote {
	case model.OutcomeFor:
		ds.For++
	case model.OutcomeAgainst:
		ds.Against++
	case model.OutcomeAbstain:
		ds.Abstain++
	case model.OutcomeVoted:
		ds.Voted++
	default:
		ds.Unknown++
	}
}

func tallyProposal(ps *model.ProposalSummary, rec model.MatrixRecord) {
	if !rec.Participated {
		return
	}
	switch rec.Vote {
	case model.OutcomeFor:
		ps.For++
	case model.OutcomeAgainst:
		ps.Against++
	case model.OutcomeAbstain:
		ps.Abstain++
	case model.OutcomeVoted:
		ps.Voted++
	default:
		ps.Unknown++
	}
}

func finalizeDelegates(agg map[string]*model.DelegateSummary, totalProposals int) []model.DelegateSummary {
	out := lo.Map(lo.Values(agg), func(ds *model.DelegateSummary, _ int) model.DelegateSummary {
		ds.ParticipationRate = rate(ds.VotesCast, totalProposals)
		return *ds
	})

	// Highest voting power first so the most influential delegates lead
	// the summary; ties break on address for a stable order.
	sort.Slice(out, func(i, j int) bool {
		if out[i].VotingPower != out[j].VotingPower {
			return out[i].VotingPower > out[j].VotingPower
		}
		return out[i].Address < out[j].Address
	})
	return out
}

// rate returns num/denom as a percentage rounded to two decimals.
func rate(num, denom int) float64 {
	if denom == 0 {
		return 0
	}
	return math.Round(float64(num)/float64(denom)*10000) / 100
}
