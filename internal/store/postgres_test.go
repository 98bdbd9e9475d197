package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_GetVotes_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT proposal_id, votes, complete, cached_at FROM vote_cache`).
		WithArgs("prop-missing").
		WillReturnError(pgx.ErrNoRows)

	cv, err := s.GetVotes(context.Background(), "prop-missing")
	require.NoError(t, err)
	assert.Nil(t, cv)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetVotes_Found(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	cachedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	votesJSON := []byte(`[{"id":"v1","voter_address":"0xAbC","type":"for","amount":"1000"}]`)

	mock.ExpectQuery(`SELECT proposal_id, votes, complete, cached_at FROM vote_cache`).
		WithArgs("prop-1").
		WillReturnRows(pgxmock.NewRows([]string{"proposal_id", "votes", "complete", "cached_at"}).
			AddRow("prop-1", votesJSON, true, cachedAt))

	cv, err := s.GetVotes(context.Background(), "prop-1")
	require.NoError(t, err)
	require.NotNil(t, cv)
	assert.True(t, cv.Complete)
	require.Len(t, cv.Votes, 1)
	assert.Equal(t, "v1", cv.Votes[0].ID)
	assert.Equal(t, "0xAbC", cv.Votes[0].VoterAddress)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetVotes_Upsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO vote_cache`).
		WithArgs("prop-1", pgxmock.AnyArg(), 2, true, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.SetVotes(context.Background(), "prop-1", sampleVotes(), true)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_VoteCursor_GetMissing(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT after_cursor FROM vote_cursors`).
		WithArgs("prop-1").
		WillReturnError(pgx.ErrNoRows)

	cursor, err := s.GetVoteCursor(context.Background(), "prop-1")
	require.NoError(t, err)
	assert.Empty(t, cursor)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_VoteCursor_SetAndDelete(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO vote_cursors`).
		WithArgs("prop-1", "cursor-abc", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`DELETE FROM vote_cursors`).
		WithArgs("prop-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	require.NoError(t, s.SetVoteCursor(context.Background(), "prop-1", "cursor-abc"))
	require.NoError(t, s.DeleteVoteCursor(context.Background(), "prop-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Clear(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`DELETE FROM vote_cache`).
		WillReturnResult(pgxmock.NewResult("DELETE", 4))
	mock.ExpectExec(`DELETE FROM vote_cursors`).
		WillReturnResult(pgxmock.NewResult("DELETE", 2))

	n, err := s.Clear(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetVotes_QueryError(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT proposal_id, votes, complete, cached_at FROM vote_cache`).
		WithArgs("prop-1").
		WillReturnError(assert.AnError)

	_, err := s.GetVotes(context.Background(), "prop-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "get votes")
	assert.NoError(t, mock.ExpectationsWereMet())
}
