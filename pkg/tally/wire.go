package tally

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/daoscope/govmatrix/internal/model"
)

// The service is loose about scalar encodings: counts and amounts arrive as
// JSON strings or numbers depending on entity kind, and nested objects are
// frequently null. The flex types absorb that here so the rest of the code
// works with plain Go values.

type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	*f = flexString(b)
	return nil
}

func (f flexString) String() string { return string(f) }

type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = 0
		return nil
	}
	s := strings.Trim(string(b), `"`)
	if s == "" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		*f = 0
		return nil
	}
	*f = flexFloat(v)
	return nil
}

type flexInt int64

func (f *flexInt) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = 0
		return nil
	}
	s := strings.Trim(string(b), `"`)
	if s == "" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		f2, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			*f = 0
			return nil
		}
		*f = flexInt(int64(f2))
		return nil
	}
	*f = flexInt(v)
	return nil
}

type pageInfo struct {
	FirstCursor string `json:"firstCursor"`
	LastCursor  string `json:"lastCursor"`
	Count       int    `json:"count"`
}

type wireAccount struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	ENS     string `json:"ens"`
	Bio     string `json:"bio"`
	Twitter string `json:"twitter"`
}

type wireStatement struct {
	Statement         string `json:"statement"`
	StatementSummary  string `json:"statementSummary"`
	IsSeekingDelegate bool   `json:"isSeekingDelegation"`
}

type wireDelegate struct {
	ID              flexString     `json:"id"`
	Account         *wireAccount   `json:"account"`
	VotesCount      flexFloat      `json:"votesCount"`
	DelegatorsCount flexInt        `json:"delegatorsCount"`
	Statement       *wireStatement `json:"statement"`
}

func (w wireDelegate) toModel() (model.Delegate, bool) {
	if w.Account == nil || w.Account.Address == "" {
		return model.Delegate{}, false
	}
	d := model.Delegate{
		ID:              w.ID.String(),
		Address:         w.Account.Address,
		Name:            w.Account.Name,
		ENS:             w.Account.ENS,
		Bio:             w.Account.Bio,
		Twitter:         w.Account.Twitter,
		VotesCount:      float64(w.VotesCount),
		DelegatorsCount: int(w.DelegatorsCount),
	}
	if w.Statement != nil {
		d.Statement = w.Statement.Statement
		d.StatementSummary = w.Statement.StatementSummary
		d.SeekingDelegation = w.Statement.IsSeekingDelegate
	}
	return d, true
}

type wireBlock struct {
	Timestamp flexString `json:"timestamp"`
	Number    flexInt    `json:"number"`
}

type wireMetadata struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

type wireVoteStat struct {
	Type        string     `json:"type"`
	VotesCount  flexString `json:"votesCount"`
	VotersCount flexInt    `json:"votersCount"`
	Percent     flexFloat  `json:"percent"`
}

type wireProposal struct {
	ID        flexString     `json:"id"`
	OnchainID flexString     `json:"onchainId"`
	Metadata  *wireMetadata  `json:"metadata"`
	Proposer  *wireAccount   `json:"proposer"`
	Status    string         `json:"status"`
	Start     *wireBlock     `json:"start"`
	End       *wireBlock     `json:"end"`
	VoteStats []wireVoteStat `json:"voteStats"`
	Quorum    flexString     `json:"quorum"`
}

func (w wireProposal) toModel() (model.Proposal, bool) {
	if w.ID.String() == "" {
		return model.Proposal{}, false
	}
	p := model.Proposal{
		ID:        w.ID.String(),
		OnchainID: w.OnchainID.String(),
		Status:    model.ParseProposalStatus(w.Status),
		Quorum:    w.Quorum.String(),
	}
	if w.Metadata != nil {
		p.Title = w.Metadata.Title
		p.Description = w.Metadata.Description
	}
	if w.Proposer != nil {
		p.ProposerAddr = w.Proposer.Address
		p.ProposerName = w.Proposer.Name
	}
	if w.Start != nil {
		p.StartTimestamp = w.Start.Timestamp.String()
		p.StartBlock = int64(w.Start.Number)
	}
	if w.End != nil {
		p.EndTimestamp = w.End.Timestamp.String()
		p.EndBlock = int64(w.End.Number)
	}
	for _, s := range w.VoteStats {
		p.VoteStats = append(p.VoteStats, model.VoteStat{
			Type:        s.Type,
			VotesCount:  s.VotesCount.String(),
			VotersCount: int(s.VotersCount),
			Percent:     float64(s.Percent),
		})
	}
	return p, true
}

type wireVote struct {
	ID     flexString   `json:"id"`
	Type   string       `json:"type"`
	Amount flexString   `json:"amount"`
	Reason string       `json:"reason"`
	Voter  *wireAccount `json:"voter"`
	Block  *wireBlock   `json:"block"`
	TxHash string       `json:"txHash"`
}

func (w wireVote) toModel() (model.Vote, bool) {
	if w.Voter == nil || w.Voter.Address == "" {
		return model.Vote{}, false
	}
	// A record with no identity and no on- or off-chain signal is noise.
	if w.ID.String() == "" && w.Type == "" && w.TxHash == "" && w.Reason == "" && w.Block == nil {
		return model.Vote{}, false
	}
	v := model.Vote{
		ID:           w.ID.String(),
		VoterAddress: w.Voter.Address,
		VoterName:    w.Voter.Name,
		VoterENS:     w.Voter.ENS,
		Type:         w.Type,
		Amount:       w.Amount.String(),
		Reason:       w.Reason,
		TxHash:       w.TxHash,
	}
	if v.Amount == "" {
		v.Amount = "0"
	}
	if w.Block != nil {
		v.BlockTimestamp = w.Block.Timestamp.String()
		v.BlockNumber = int64(w.Block.Number)
	}
	return v, true
}

type wireOrganization struct {
	ID             flexString `json:"id"`
	Slug           string     `json:"slug"`
	Name           string     `json:"name"`
	ChainIDs       []string   `json:"chainIds"`
	GovernorIDs    []string   `json:"governorIds"`
	ProposalsCount flexInt    `json:"proposalsCount"`
	DelegatesCount flexInt    `json:"delegatesCount"`
	DelegatesVotes flexString `json:"delegatesVotesCount"`
	TokenOwners    flexInt    `json:"tokenOwnersCount"`
	HasActiveProps bool       `json:"hasActiveProposals"`
}

func (w wireOrganization) toModel() model.Organization {
	return model.Organization{
		ID:             w.ID.String(),
		Slug:           w.Slug,
		Name:           w.Name,
		ChainIDs:       w.ChainIDs,
		GovernorIDs:    w.GovernorIDs,
		ProposalsCount: int(w.ProposalsCount),
		DelegatesCount: int(w.DelegatesCount),
		DelegatedVotes: w.DelegatesVotes.String(),
		TokenOwners:    int(w.TokenOwners),
		HasActiveProps: w.HasActiveProps,
	}
}

type wireGovernor struct {
	ID             flexString `json:"id"`
	Name           string     `json:"name"`
	Slug           string     `json:"slug"`
	Kind           string     `json:"kind"`
	Quorum         flexString `json:"quorum"`
	DelegatesCount flexInt    `json:"delegatesCount"`
	DelegatesVotes flexString `json:"delegatesVotesCount"`
	TokenOwners    flexInt    `json:"tokenOwnersCount"`
	ProposalStats  struct {
		Total  flexInt `json:"total"`
		Passed flexInt `json:"passed"`
		Failed flexInt `json:"failed"`
		Active flexInt `json:"active"`
	} `json:"proposalStats"`
	Token struct {
		Symbol   string     `json:"symbol"`
		Decimals flexInt    `json:"decimals"`
		Supply   flexString `json:"supply"`
	} `json:"token"`
}

func (w wireGovernor) toModel() model.Governor {
	return model.Governor{
		ID:              w.ID.String(),
		Name:            w.Name,
		Slug:            w.Slug,
		Kind:            w.Kind,
		Quorum:          w.Quorum.String(),
		DelegatesCount:  int(w.DelegatesCount),
		DelegatedVotes:  w.DelegatesVotes.String(),
		TokenOwners:     int(w.TokenOwners),
		ProposalsTotal:  int(w.ProposalStats.Total),
		ProposalsPassed: int(w.ProposalStats.Passed),
		ProposalsFailed: int(w.ProposalStats.Failed),
		ProposalsActive: int(w.ProposalStats.Active),
		TokenSymbol:     w.Token.Symbol,
		TokenDecimals:   int(w.Token.Decimals),
		TokenSupply:     w.Token.Supply.String(),
	}
}
