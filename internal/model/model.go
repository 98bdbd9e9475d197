package model

import (
	"strings"
	"time"
)

// ProposalStatus is the lifecycle state reported by the governance service.
type ProposalStatus string

const (
	StatusPending   ProposalStatus = "pending"
	StatusActive    ProposalStatus = "active"
	StatusSucceeded ProposalStatus = "succeeded"
	StatusDefeated  ProposalStatus = "defeated"
	StatusExecuted  ProposalStatus = "executed"
	StatusCanceled  ProposalStatus = "canceled"
	StatusQueued    ProposalStatus = "queued"
	StatusExpired   ProposalStatus = "expired"
	StatusUnknown   ProposalStatus = "unknown"
)

// ParseProposalStatus maps a raw service status string to a ProposalStatus.
// Unrecognized values map to StatusUnknown rather than failing.
func ParseProposalStatus(raw string) ProposalStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "pending":
		return StatusPending
	case "active":
		return StatusActive
	case "succeeded", "passed":
		return StatusSucceeded
	case "defeated", "failed":
		return StatusDefeated
	case "executed":
		return StatusExecuted
	case "canceled", "cancelled":
		return StatusCanceled
	case "queued":
		return StatusQueued
	case "expired":
		return StatusExpired
	default:
		return StatusUnknown
	}
}

// Organization is a governance organization (DAO). The declared counts are
// expected totals for completeness checks only, never ground truth.
type Organization struct {
	ID             string   `json:"id"`
	Slug           string   `json:"slug"`
	Name           string   `json:"name"`
	ChainIDs       []string `json:"chain_ids,omitempty"`
	GovernorIDs    []string `json:"governor_ids"`
	ProposalsCount int      `json:"proposals_count"`
	DelegatesCount int      `json:"delegates_count"`
	DelegatedVotes string   `json:"delegates_votes_count,omitempty"`
	TokenOwners    int      `json:"token_owners_count,omitempty"`
	HasActiveProps bool     `json:"has_active_proposals,omitempty"`
}

// Governor holds the declared counts and token metadata for one governor
// contract. Counts are advisory hints, same as the organization's.
type Governor struct {
	ID              string `json:"id"`
	Name            string `json:"name,omitempty"`
	Slug            string `json:"slug,omitempty"`
	Kind            string `json:"kind,omitempty"`
	Quorum          string `json:"quorum,omitempty"`
	DelegatesCount  int    `json:"delegates_count"`
	DelegatedVotes  string `json:"delegates_votes_count,omitempty"`
	TokenOwners     int    `json:"token_owners_count,omitempty"`
	ProposalsTotal  int    `json:"proposals_total"`
	ProposalsPassed int    `json:"proposals_passed"`
	ProposalsFailed int    `json:"proposals_failed"`
	ProposalsActive int    `json:"proposals_active"`
	TokenSymbol     string `json:"token_symbol,omitempty"`
	TokenDecimals   int    `json:"token_decimals,omitempty"`
	TokenSupply     string `json:"token_supply,omitempty"`
}

// Delegate is an account holding voting power. Identity is the lower-cased
// address; later records with the same address are deduplicated, never
// overwritten.
type Delegate struct {
	ID                string  `json:"id"`
	Address           string  `json:"address"`
	Name              string  `json:"name,omitempty"`
	ENS               string  `json:"ens,omitempty"`
	Bio               string  `json:"bio,omitempty"`
	Twitter           string  `json:"twitter,omitempty"`
	VotesCount        float64 `json:"votes_count"`
	DelegatorsCount   int     `json:"delegators_count"`
	Statement         string  `json:"statement,omitempty"`
	StatementSummary  string  `json:"statement_summary,omitempty"`
	SeekingDelegation bool    `json:"seeking_delegation"`
}

// Key returns the delegate's stable identity key.
func (d Delegate) Key() string {
	return strings.ToLower(d.Address)
}

// DisplayName returns the best available human-readable name.
func (d Delegate) DisplayName() string {
	if d.Name != "" {
		return d.Name
	}
	if d.ENS != "" {
		return d.ENS
	}
	if len(d.Address) > 10 {
		return d.Address[:10] + "..."
	}
	return d.Address
}

// HasStatement reports whether the delegate published a non-empty statement.
func (d Delegate) HasStatement() bool {
	return strings.TrimSpace(d.Statement) != ""
}

// VoteStat is a per-outcome tally reported by the service on a proposal.
// Counts here bound, but do not replace, the proposal's actual vote records.
type VoteStat struct {
	Type        string  `json:"type"`
	VotesCount  string  `json:"votes_count"`
	VotersCount int     `json:"voters_count"`
	Percent     float64 `json:"percent"`
}

// Proposal is a governance proposal.
type Proposal struct {
	ID             string         `json:"id"`
	OnchainID      string         `json:"onchain_id,omitempty"`
	Title          string         `json:"title,omitempty"`
	Description    string         `json:"description,omitempty"`
	Status         ProposalStatus `json:"status"`
	ProposerAddr   string         `json:"proposer_address,omitempty"`
	ProposerName   string         `json:"proposer_name,omitempty"`
	StartTimestamp string         `json:"start_timestamp,omitempty"`
	EndTimestamp   string         `json:"end_timestamp,omitempty"`
	StartBlock     int64          `json:"start_block,omitempty"`
	EndBlock       int64          `json:"end_block,omitempty"`
	Quorum         string         `json:"quorum,omitempty"`
	VoteStats      []VoteStat     `json:"vote_stats,omitempty"`
}

// Key returns the proposal's stable identity key.
func (p Proposal) Key() string {
	return p.ID
}

// DisplayTitle returns the title or a fallback derived from the id.
func (p Proposal) DisplayTitle() string {
	if p.Title != "" {
		return p.Title
	}
	return "Proposal " + p.ID
}

// ExpectedVoteCount sums the reported per-outcome voter counts. It is an
// upper-bound hint for vote pagination, not an authoritative total; zero
// means no hint is available.
func (p Proposal) ExpectedVoteCount() int {
	total := 0
	for _, s := range p.VoteStats {
		total += s.VotersCount
	}
	return total
}

// Vote is a single recorded vote on a proposal. Amount is a string-encoded
// arbitrary-precision integer as reported by the service.
type Vote struct {
	ID             string `json:"id"`
	VoterAddress   string `json:"voter_address"`
	VoterName      string `json:"voter_name,omitempty"`
	VoterENS       string `json:"voter_ens,omitempty"`
	Type           string `json:"type"`
	Amount         string `json:"amount"`
	Reason         string `json:"reason,omitempty"`
	BlockTimestamp string `json:"block_timestamp,omitempty"`
	BlockNumber    int64  `json:"block_number,omitempty"`
	TxHash         string `json:"tx_hash,omitempty"`
}

// Key returns the vote's stable identity key within its proposal.
func (v Vote) Key() string {
	return v.ID
}

// VoterKey returns the lower-cased voter address for joining against the
// delegate set.
func (v Vote) VoterKey() string {
	return strings.ToLower(v.VoterAddress)
}

// Outcome is a normalized vote outcome.
type Outcome string

const (
	OutcomeFor        Outcome = "For"
	OutcomeAgainst    Outcome = "Against"
	OutcomeAbstain    Outcome = "Abstain"
	OutcomeVoted      Outcome = "Voted"
	OutcomeUnknown    Outcome = "Unknown"
	OutcomeDidNotVote Outcome = "Did Not Vote"
)

// MatrixRecord is one (delegate, proposal) cell of the voting matrix. It is
// derived output handed to the exporter, never a persisted primary entity.
type MatrixRecord struct {
	DelegateAddress   string  `json:"delegate_address"`
	DelegateName      string  `json:"delegate_name"`
	DelegateENS       string  `json:"delegate_ens"`
	DelegateVotes     float64 `json:"delegate_votes_count"`
	DelegatorsCount   int     `json:"delegate_delegators_count"`
	HasStatement      bool    `json:"has_statement"`
	SeekingDelegation bool    `json:"seeking_delegation"`

	ProposalID     string         `json:"proposal_id"`
	OnchainID      string         `json:"proposal_onchain_id"`
	ProposalTitle  string         `json:"proposal_title"`
	ProposalStatus ProposalStatus `json:"proposal_status"`
	StartTimestamp string         `json:"proposal_start_timestamp"`
	EndTimestamp   string         `json:"proposal_end_timestamp"`

	Vote         Outcome `json:"vote"`
	VotingAmount string  `json:"voting_amount"`
	RawType      string  `json:"vote_type_raw"`
	Reason       string  `json:"vote_reason"`
	VoteTime     string  `json:"vote_timestamp"`
	BlockNumber  int64   `json:"vote_block_number"`
	TxHash       string  `json:"vote_tx_hash"`
	Participated bool    `json:"participated"`
}

// DelegateSummary aggregates one delegate's activity across all proposals.
type DelegateSummary struct {
	Address           string  `json:"address"`
	Name              string  `json:"name"`
	ENS               string  `json:"ens"`
	VotesCast         int     `json:"votes_cast"`
	TotalProposals    int     `json:"total_proposals"`
	For               int     `json:"votes_for"`
	Against           int     `json:"votes_against"`
	Abstain           int     `json:"votes_abstain"`
	Voted             int     `json:"votes_voted"`
	Unknown           int     `json:"votes_unknown"`
	VotingPower       float64 `json:"voting_power"`
	DelegatorsCount   int     `json:"delegators_count"`
	HasStatement      bool    `json:"has_statement"`
	SeekingDelegation bool    `json:"seeking_delegation"`
	ParticipationRate float64 `json:"participation_rate"`
}

// ProposalSummary aggregates one proposal's participation across delegates.
type ProposalSummary struct {
	ProposalID        string         `json:"proposal_id"`
	Title             string         `json:"title"`
	Status            ProposalStatus `json:"status"`
	UniqueVoters      int            `json:"unique_voters"`
	EligibleDelegates int            `json:"eligible_delegates"`
	For               int            `json:"votes_for"`
	Against           int            `json:"votes_against"`
	Abstain           int            `json:"votes_abstain"`
	Voted             int            `json:"votes_voted"`
	Unknown           int            `json:"votes_unknown"`
	StartTimestamp    string         `json:"start_timestamp"`
	EndTimestamp      string         `json:"end_timestamp"`
	ParticipationRate float64        `json:"participation_rate"`
}

// RunReport summarizes a completed (or emergency-exported) extraction run.
type RunReport struct {
	RunID            string    `json:"run_id"`
	OrgName          string    `json:"org_name"`
	OrgSlug          string    `json:"org_slug"`
	StartedAt        time.Time `json:"started_at"`
	FinishedAt       time.Time `json:"finished_at"`
	Delegates        int       `json:"delegates"`
	Proposals        int       `json:"proposals"`
	TotalRecords     int       `json:"total_records"`
	VotesExtracted   int       `json:"votes_extracted"`
	UniqueVoters     int       `json:"unique_voters"`
	Participation    float64   `json:"overall_participation_rate"`
	Requests         int64     `json:"api_requests"`
	RequestSuccesses int64     `json:"api_successes"`
	RequestFailures  int64     `json:"api_failures"`
	RateLimited      int64     `json:"api_rate_limited"`
	Emergency        bool      `json:"emergency_export"`
}
