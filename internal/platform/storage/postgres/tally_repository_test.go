package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairvote/fairvote/internal/domain"
	"github.com/fairvote/fairvote/internal/platform/ids"
)

func testTally(id domain.ElectionID) domain.Tally {
	now := time.Now().UTC().Truncate(time.Second)
	return domain.Tally{
		ElectionID: id,
		Title:      "Board election",
		CreatorID:  "u-org",
		Candidates: []string{"Ava", "Noah"},
		Counts:     map[string]int64{"Ava": 0, "Noah": 0},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestTallyRepository_CreateAndFind_RoundTripsCounts(t *testing.T) {
	db := setupDB(t)
	repo := NewTallyRepository(db)

	ctx := context.Background()
	id := domain.ElectionID(ids.NewULID())
	require.NoError(t, repo.Create(ctx, testTally(id)))

	got, err := repo.FindByElection(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"Ava": 0, "Noah": 0}, got.Counts)
	assert.Equal(t, int64(0), got.TotalVotes)
	assert.False(t, got.IsPublished)
}

func TestTallyRepository_FindByElection_WhenAbsent_ReturnsNotFound(t *testing.T) {
	db := setupDB(t)
	repo := NewTallyRepository(db)

	_, err := repo.FindByElection(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTallyRepository_Publish_MergesWithoutTouchingDenormalizedFields(t *testing.T) {
	db := setupDB(t)
	repo := NewTallyRepository(db)

	ctx := context.Background()
	id := domain.ElectionID(ids.NewULID())
	require.NoError(t, repo.Create(ctx, testTally(id)))

	counts := map[string]int64{"Ava": 3, "Noah": 1}
	require.NoError(t, repo.Publish(ctx, id, counts, 4, time.Now().UTC()))

	got, err := repo.FindByElection(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, counts, got.Counts)
	assert.Equal(t, int64(4), got.TotalVotes)
	assert.True(t, got.IsClosed)
	assert.True(t, got.IsPublished)
	// Unrelated fields stay as created.
	assert.Equal(t, "Board election", got.Title)
	assert.Equal(t, []string{"Ava", "Noah"}, got.Candidates)
}

func TestTallyRepository_Publish_WhenAbsent_ReturnsNotFound(t *testing.T) {
	db := setupDB(t)
	repo := NewTallyRepository(db)

	err := repo.Publish(context.Background(), "missing", map[string]int64{}, 0, time.Now().UTC())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
