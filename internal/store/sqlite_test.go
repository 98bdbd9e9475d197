package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daoscope/govmatrix/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func sampleVotes() []model.Vote {
	return []model.Vote{
		{ID: "v1", VoterAddress: "0xAbC", Type: "for", Amount: "1000"},
		{ID: "v2", VoterAddress: "0xDeF", Type: "against", Amount: "250"},
	}
}

func TestSQLite_Votes_SetAndGet(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.SetVotes(ctx, "prop-1", sampleVotes(), true))

	cv, err := st.GetVotes(ctx, "prop-1")
	require.NoError(t, err)
	require.NotNil(t, cv)
	assert.Equal(t, "prop-1", cv.ProposalID)
	assert.True(t, cv.Complete)
	require.Len(t, cv.Votes, 2)
	assert.Equal(t, "v1", cv.Votes[0].ID)
	assert.Equal(t, "0xDeF", cv.Votes[1].VoterAddress)
}

func TestSQLite_Votes_Missing(t *testing.T) {
	st := newTestSQLiteStore(t)

	cv, err := st.GetVotes(context.Background(), "nonexistent")
	require.NoError(t, err)
	assert.Nil(t, cv)
}

func TestSQLite_Votes_UpsertReplacesPartial(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	// Partial write first, then the completed set for the same proposal.
	require.NoError(t, st.SetVotes(ctx, "prop-1", sampleVotes()[:1], false))

	cv, err := st.GetVotes(ctx, "prop-1")
	require.NoError(t, err)
	require.NotNil(t, cv)
	assert.False(t, cv.Complete)
	assert.Len(t, cv.Votes, 1)

	require.NoError(t, st.SetVotes(ctx, "prop-1", sampleVotes(), true))

	cv, err = st.GetVotes(ctx, "prop-1")
	require.NoError(t, err)
	require.NotNil(t, cv)
	assert.True(t, cv.Complete)
	assert.Len(t, cv.Votes, 2)
}

func TestSQLite_Votes_EmptySet(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.SetVotes(ctx, "prop-quiet", nil, true))

	cv, err := st.GetVotes(ctx, "prop-quiet")
	require.NoError(t, err)
	require.NotNil(t, cv)
	assert.True(t, cv.Complete)
	assert.Empty(t, cv.Votes)
}

func TestSQLite_VoteCursor_RoundTrip(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	cursor, err := st.GetVoteCursor(ctx, "prop-1")
	require.NoError(t, err)
	assert.Empty(t, cursor)

	require.NoError(t, st.SetVoteCursor(ctx, "prop-1", "cursor-abc"))

	cursor, err = st.GetVoteCursor(ctx, "prop-1")
	require.NoError(t, err)
	assert.Equal(t, "cursor-abc", cursor)

	require.NoError(t, st.SetVoteCursor(ctx, "prop-1", "cursor-def"))

	cursor, err = st.GetVoteCursor(ctx, "prop-1")
	require.NoError(t, err)
	assert.Equal(t, "cursor-def", cursor)
}

func TestSQLite_VoteCursor_Delete(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.SetVoteCursor(ctx, "prop-1", "cursor-abc"))
	require.NoError(t, st.DeleteVoteCursor(ctx, "prop-1"))

	cursor, err := st.GetVoteCursor(ctx, "prop-1")
	require.NoError(t, err)
	assert.Empty(t, cursor)

	// Deleting again is a no-op.
	require.NoError(t, st.DeleteVoteCursor(ctx, "prop-1"))
}

func TestSQLite_Clear(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.SetVotes(ctx, "prop-1", sampleVotes(), true))
	require.NoError(t, st.SetVotes(ctx, "prop-2", sampleVotes()[:1], false))
	require.NoError(t, st.SetVoteCursor(ctx, "prop-2", "cursor-abc"))

	n, err := st.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	cv, err := st.GetVotes(ctx, "prop-1")
	require.NoError(t, err)
	assert.Nil(t, cv)

	cursor, err := st.GetVoteCursor(ctx, "prop-2")
	require.NoError(t, err)
	assert.Empty(t, cursor)
}
