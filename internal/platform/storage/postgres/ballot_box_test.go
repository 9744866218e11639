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

func newBallot(gen *ids.Generator, electionID domain.ElectionID, voter domain.UserID, selections ...string) domain.Ballot {
	return domain.Ballot{
		ID:         domain.BallotID(gen.New()),
		ElectionID: electionID,
		VoterID:    voter,
		VoterEmail: string(voter) + "@x.com",
		Selections: selections,
		CreatedAt:  time.Now().UTC().Truncate(time.Second),
	}
}

func TestBallotBox_Cast_IncrementsTallyAndStoresBallot(t *testing.T) {
	db := setupDB(t)
	box := NewBallotBox(db)
	tallies := NewTallyRepository(db)
	ballots := NewBallotRepository(db)

	ctx := context.Background()
	gen := ids.NewGenerator()
	electionID := domain.ElectionID(gen.New())
	require.NoError(t, tallies.Create(ctx, testTally(electionID)))

	require.NoError(t, box.Cast(ctx, newBallot(gen, electionID, "u-a", "Ava", "Noah")))

	tally, err := tallies.FindByElection(ctx, electionID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), tally.Counts["Ava"])
	assert.Equal(t, int64(1), tally.Counts["Noah"])
	assert.Equal(t, int64(2), tally.TotalVotes)

	stored, err := ballots.FindByVoter(ctx, electionID, "u-a")
	require.NoError(t, err)
	assert.Equal(t, []string{"Ava", "Noah"}, stored.Selections)
}

func TestBallotBox_Cast_SecondBallotSameVoter_FailsWithoutSideEffects(t *testing.T) {
	db := setupDB(t)
	box := NewBallotBox(db)
	tallies := NewTallyRepository(db)

	ctx := context.Background()
	gen := ids.NewGenerator()
	electionID := domain.ElectionID(gen.New())
	require.NoError(t, tallies.Create(ctx, testTally(electionID)))

	require.NoError(t, box.Cast(ctx, newBallot(gen, electionID, "u-a", "Ava")))

	err := box.Cast(ctx, newBallot(gen, electionID, "u-a", "Noah"))
	assert.ErrorIs(t, err, domain.ErrAlreadyVoted)

	tally, err := tallies.FindByElection(ctx, electionID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), tally.TotalVotes)
	assert.Equal(t, int64(0), tally.Counts["Noah"])
}

func TestBallotBox_Cast_DistinctVotersAccumulate(t *testing.T) {
	db := setupDB(t)
	box := NewBallotBox(db)
	tallies := NewTallyRepository(db)

	ctx := context.Background()
	gen := ids.NewGenerator()
	electionID := domain.ElectionID(gen.New())
	require.NoError(t, tallies.Create(ctx, testTally(electionID)))

	require.NoError(t, box.Cast(ctx, newBallot(gen, electionID, "u-a", "Ava")))
	require.NoError(t, box.Cast(ctx, newBallot(gen, electionID, "u-b", "Ava", "Noah")))
	require.NoError(t, box.Cast(ctx, newBallot(gen, electionID, "u-c", "Noah")))

	tally, err := tallies.FindByElection(ctx, electionID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), tally.Counts["Ava"])
	assert.Equal(t, int64(2), tally.Counts["Noah"])
	assert.Equal(t, int64(4), tally.TotalVotes)

	// Invariant: the total always equals the sum of the counts.
	var sum int64
	for _, count := range tally.Counts {
		sum += count
	}
	assert.Equal(t, sum, tally.TotalVotes)
}

func TestBallotBox_Cast_WhenTallyMissing_Fails(t *testing.T) {
	db := setupDB(t)
	box := NewBallotBox(db)
	ballots := NewBallotRepository(db)

	ctx := context.Background()
	gen := ids.NewGenerator()
	electionID := domain.ElectionID(gen.New())

	err := box.Cast(ctx, newBallot(gen, electionID, "u-a", "Ava"))
	assert.ErrorIs(t, err, domain.ErrTallyMissing)

	// No partial effects: the ballot must not exist either.
	_, err = ballots.FindByVoter(ctx, electionID, "u-a")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestBallotBox_Cast_ScopedPerElection(t *testing.T) {
	db := setupDB(t)
	box := NewBallotBox(db)
	tallies := NewTallyRepository(db)

	ctx := context.Background()
	gen := ids.NewGenerator()
	first := domain.ElectionID(gen.New())
	second := domain.ElectionID(gen.New())
	require.NoError(t, tallies.Create(ctx, testTally(first)))
	require.NoError(t, tallies.Create(ctx, testTally(second)))

	// The same voter may vote once in each election.
	require.NoError(t, box.Cast(ctx, newBallot(gen, first, "u-a", "Ava")))
	require.NoError(t, box.Cast(ctx, newBallot(gen, second, "u-a", "Noah")))

	firstTally, err := tallies.FindByElection(ctx, first)
	require.NoError(t, err)
	secondTally, err := tallies.FindByElection(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), firstTally.TotalVotes)
	assert.Equal(t, int64(1), secondTally.TotalVotes)
}
