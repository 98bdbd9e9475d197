package store

import (
	"context"
	"time"

	"github.com/daoscope/govmatrix/internal/model"
)

// CachedVotes holds the vote set fetched so far for a single proposal.
// Complete is true only when the final page has been reached; partial
// sets are kept so an interrupted run can resume from the stored cursor.
type CachedVotes struct {
	ProposalID string       `json:"proposal_id"`
	Votes      []model.Vote `json:"votes"`
	Complete   bool         `json:"complete"`
	CachedAt   time.Time    `json:"cached_at"`
}

// VoteStore persists per-proposal vote sets and resume cursors between runs.
type VoteStore interface {
	// Votes
	GetVotes(ctx context.Context, proposalID string) (*CachedVotes, error)
	SetVotes(ctx context.Context, proposalID string, votes []model.Vote, complete bool) error

	// Resume cursors
	GetVoteCursor(ctx context.Context, proposalID string) (string, error)
	SetVoteCursor(ctx context.Context, proposalID, cursor string) error
	DeleteVoteCursor(ctx context.Context, proposalID string) error

	// Maintenance
	Clear(ctx context.Context) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
