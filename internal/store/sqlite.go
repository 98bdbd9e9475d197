package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/daoscope/govmatrix/internal/model"
)

// SQLiteStore implements VoteStore using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS vote_cache (
	proposal_id TEXT PRIMARY KEY,
	votes       TEXT NOT NULL,
	vote_count  INTEGER NOT NULL DEFAULT 0,
	complete    INTEGER NOT NULL DEFAULT 0,
	cached_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS vote_cursors (
	proposal_id  TEXT PRIMARY KEY,
	after_cursor TEXT NOT NULL,
	updated_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_vote_cache_complete ON vote_cache(complete);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GetVotes(ctx context.Context, proposalID string) (*CachedVotes, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT proposal_id, votes, complete, cached_at FROM vote_cache WHERE proposal_id = ?`,
		proposalID,
	)

	var cv CachedVotes
	var votesJSON string
	var complete int
	err := row.Scan(&cv.ProposalID, &votesJSON, &complete, &cv.CachedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get votes %s", proposalID)
	}
	if err := json.Unmarshal([]byte(votesJSON), &cv.Votes); err != nil {
		return nil, eris.Wrapf(err, "sqlite: unmarshal votes %s", proposalID)
	}
	cv.Complete = complete != 0
	return &cv, nil
}

func (s *SQLiteStore) SetVotes(ctx context.Context, proposalID string, votes []model.Vote, complete bool) error {
	votesJSON, err := json.Marshal(votes)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal votes")
	}

	completeInt := 0
	if complete {
		completeInt = 1
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO vote_cache (proposal_id, votes, vote_count, complete, cached_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (proposal_id) DO UPDATE SET votes = ?2, vote_count = ?3, complete = ?4, cached_at = ?5`,
		proposalID, string(votesJSON), len(votes), completeInt, time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: set votes %s", proposalID)
}

func (s *SQLiteStore) GetVoteCursor(ctx context.Context, proposalID string) (string, error) {
	var cursor string
	err := s.db.QueryRowContext(ctx,
		`SELECT after_cursor FROM vote_cursors WHERE proposal_id = ?`,
		proposalID,
	).Scan(&cursor)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", eris.Wrapf(err, "sqlite: get vote cursor %s", proposalID)
	}
	return cursor, nil
}

func (s *SQLiteStore) SetVoteCursor(ctx context.Context, proposalID, cursor string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO vote_cursors (proposal_id, after_cursor, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (proposal_id) DO UPDATE SET after_cursor = ?2, updated_at = ?3`,
		proposalID, cursor, time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: set vote cursor %s", proposalID)
}

func (s *SQLiteStore) DeleteVoteCursor(ctx context.Context, proposalID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM vote_cursors WHERE proposal_id = ?`,
		proposalID,
	)
	return eris.Wrapf(err, "sqlite: delete vote cursor %s", proposalID)
}

func (s *SQLiteStore) Clear(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM vote_cache`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: clear vote cache")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: rows affected")
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM vote_cursors`); err != nil {
		return int(n), eris.Wrap(err, "sqlite: clear vote cursors")
	}
	return int(n), nil
}
