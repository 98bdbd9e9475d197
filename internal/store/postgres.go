package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/daoscope/govmatrix/internal/model"
)

// Pool is the subset of pgxpool.Pool used by the store. pgxmock satisfies
// it, which keeps the Postgres backend unit-testable without a server.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements VoteStore using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS vote_cache (
	proposal_id TEXT PRIMARY KEY,
	votes       JSONB NOT NULL,
	vote_count  INTEGER NOT NULL DEFAULT 0,
	complete    BOOLEAN NOT NULL DEFAULT false,
	cached_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS vote_cursors (
	proposal_id  TEXT PRIMARY KEY,
	after_cursor TEXT NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_vote_cache_complete ON vote_cache(complete);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) GetVotes(ctx context.Context, proposalID string) (*CachedVotes, error) {
	var cv CachedVotes
	var votesJSON []byte

	err := s.pool.QueryRow(ctx,
		`SELECT proposal_id, votes, complete, cached_at FROM vote_cache WHERE proposal_id = $1`,
		proposalID,
	).Scan(&cv.ProposalID, &votesJSON, &cv.Complete, &cv.CachedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get votes %s", proposalID)
	}
	if err := json.Unmarshal(votesJSON, &cv.Votes); err != nil {
		return nil, eris.Wrapf(err, "postgres: unmarshal votes %s", proposalID)
	}
	return &cv, nil
}

func (s *PostgresStore) SetVotes(ctx context.Context, proposalID string, votes []model.Vote, complete bool) error {
	votesJSON, err := json.Marshal(votes)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal votes")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO vote_cache (proposal_id, votes, vote_count, complete, cached_at) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (proposal_id) DO UPDATE SET votes = $2, vote_count = $3, complete = $4, cached_at = $5`,
		proposalID, votesJSON, len(votes), complete, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: set votes %s", proposalID)
}

func (s *PostgresStore) GetVoteCursor(ctx context.Context, proposalID string) (string, error) {
	var cursor string
	err := s.pool.QueryRow(ctx,
		`SELECT after_cursor FROM vote_cursors WHERE proposal_id = $1`,
		proposalID,
	).Scan(&cursor)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", eris.Wrapf(err, "postgres: get vote cursor %s", proposalID)
	}
	return cursor, nil
}

func (s *PostgresStore) SetVoteCursor(ctx context.Context, proposalID, cursor string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO vote_cursors (proposal_id, after_cursor, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (proposal_id) DO UPDATE SET after_cursor = $2, updated_at = $3`,
		proposalID, cursor, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: set vote cursor %s", proposalID)
}

func (s *PostgresStore) DeleteVoteCursor(ctx context.Context, proposalID string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM vote_cursors WHERE proposal_id = $1`,
		proposalID,
	)
	return eris.Wrapf(err, "postgres: delete vote cursor %s", proposalID)
}

func (s *PostgresStore) Clear(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM vote_cache`)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: clear vote cache")
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM vote_cursors`); err != nil {
		return int(tag.RowsAffected()), eris.Wrap(err, "postgres: clear vote cursors")
	}
	return int(tag.RowsAffected()), nil
}

var _ VoteStore = (*PostgresStore)(nil)
var _ VoteStore = (*SQLiteStore)(nil)
