package voting

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fairvote/fairvote/internal/domain"
	"github.com/fairvote/fairvote/internal/platform/ids"
)

type serviceDependencies struct {
	electionRepo *inMemoryElectionRepo
	ballotRepo   *inMemoryBallotRepo
	tallyRepo    *inMemoryTallyRepo
	box          *memoryBallotBox
	cache        *recordingCache
	clock        *staticClock
	idGen        *ids.Generator
	baseTime     time.Time
}

func newServiceDeps() serviceDependencies {
	base := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)

	electionRepo := newInMemoryElectionRepo()
	ballotRepo := newInMemoryBallotRepo()
	tallyRepo := newInMemoryTallyRepo()

	return serviceDependencies{
		electionRepo: electionRepo,
		ballotRepo:   ballotRepo,
		tallyRepo:    tallyRepo,
		box:          &memoryBallotBox{ballots: ballotRepo, tallies: tallyRepo},
		cache:        newRecordingCache(),
		clock:        &staticClock{now: base},
		idGen:        ids.NewGenerator(),
		baseTime:     base,
	}
}

func (d serviceDependencies) newService() *Service {
	return NewService(
		d.electionRepo,
		d.ballotRepo,
		d.tallyRepo,
		d.box,
		d.cache,
		nil,
		d.clock,
		d.idGen,
	)
}

type staticClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *staticClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *staticClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type inMemoryElectionRepo struct {
	mu   sync.Mutex
	data map[domain.ElectionID]domain.Election
}

func newInMemoryElectionRepo() *inMemoryElectionRepo {
	return &inMemoryElectionRepo{data: make(map[domain.ElectionID]domain.Election)}
}

func (r *inMemoryElectionRepo) Create(_ context.Context, e domain.Election) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[e.ID] = e
	return nil
}

func (r *inMemoryElectionRepo) FindByID(_ context.Context, id domain.ElectionID) (domain.Election, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.data[id]
	if !ok {
		return domain.Election{}, domain.ErrNotFound
	}
	return e, nil
}

func (r *inMemoryElectionRepo) ListByCreator(_ context.Context, creator domain.UserID) ([]domain.Election, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []domain.Election
	for _, e := range r.data {
		if e.CreatorID == creator {
			result = append(result, e)
		}
	}
	return result, nil
}

func (r *inMemoryElectionRepo) ListByEligibleEmail(_ context.Context, email string) ([]domain.Election, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []domain.Election
	for _, e := range r.data {
		for _, eligible := range e.EligibleEmails {
			if eligible == email {
				result = append(result, e)
				break
			}
		}
	}
	return result, nil
}

func (r *inMemoryElectionRepo) SetClosed(_ context.Context, id domain.ElectionID, closed bool, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.data[id]
	if !ok {
		return domain.ErrNotFound
	}
	e.IsClosed = closed
	e.UpdatedAt = at
	r.data[id] = e
	return nil
}

func (r *inMemoryElectionRepo) MarkPublished(_ context.Context, id domain.ElectionID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.data[id]
	if !ok {
		return domain.ErrNotFound
	}
	e.IsPublished = true
	e.UpdatedAt = at
	r.data[id] = e
	return nil
}

type ballotKey struct {
	election domain.ElectionID
	voter    domain.UserID
}

type inMemoryBallotRepo struct {
	mu   sync.Mutex
	data map[ballotKey]domain.Ballot
}

func newInMemoryBallotRepo() *inMemoryBallotRepo {
	return &inMemoryBallotRepo{data: make(map[ballotKey]domain.Ballot)}
}

func (r *inMemoryBallotRepo) FindByVoter(_ context.Context, electionID domain.ElectionID, voter domain.UserID) (domain.Ballot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.data[ballotKey{electionID, voter}]
	if !ok {
		return domain.Ballot{}, domain.ErrNotFound
	}
	return b, nil
}

func (r *inMemoryBallotRepo) ListByElection(_ context.Context, electionID domain.ElectionID) ([]domain.Ballot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []domain.Ballot
	for key, b := range r.data {
		if key.election == electionID {
			result = append(result, b)
		}
	}
	return result, nil
}

func (r *inMemoryBallotRepo) insert(b domain.Ballot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := ballotKey{b.ElectionID, b.VoterID}
	if _, ok := r.data[key]; ok {
		return domain.ErrAlreadyVoted
	}
	r.data[key] = b
	return nil
}

type inMemoryTallyRepo struct {
	mu   sync.Mutex
	data map[domain.ElectionID]domain.Tally
}

func newInMemoryTallyRepo() *inMemoryTallyRepo {
	return &inMemoryTallyRepo{data: make(map[domain.ElectionID]domain.Tally)}
}

func (r *inMemoryTallyRepo) Create(_ context.Context, t domain.Tally) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[t.ElectionID] = cloneTally(t)
	return nil
}

func (r *inMemoryTallyRepo) FindByElection(_ context.Context, id domain.ElectionID) (domain.Tally, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.data[id]
	if !ok {
		return domain.Tally{}, domain.ErrNotFound
	}
	return cloneTally(t), nil
}

func (r *inMemoryTallyRepo) Publish(_ context.Context, id domain.ElectionID, counts map[string]int64, totalVotes int64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.data[id]
	if !ok {
		return domain.ErrNotFound
	}
	t.Counts = counts
	t.TotalVotes = totalVotes
	t.IsClosed = true
	t.IsPublished = true
	t.UpdatedAt = at
	r.data[id] = cloneTally(t)
	return nil
}

func (r *inMemoryTallyRepo) apply(id domain.ElectionID, fn func(*domain.Tally)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.data[id]
	if !ok {
		return domain.ErrTallyMissing
	}
	fn(&t)
	r.data[id] = cloneTally(t)
	return nil
}

func cloneTally(t domain.Tally) domain.Tally {
	counts := make(map[string]int64, len(t.Counts))
	for k, v := range t.Counts {
		counts[k] = v
	}
	t.Counts = counts
	return t
}

// memoryBallotBox is the in-process equivalent of the serializable store
// transaction: one mutex serializes every cast, so the existence check, the
// tally increment and the ballot insert form a single atomic unit.
type memoryBallotBox struct {
	mu      sync.Mutex
	ballots *inMemoryBallotRepo
	tallies *inMemoryTallyRepo
}

func (b *memoryBallotBox) Cast(ctx context.Context, ballot domain.Ballot) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.ballots.FindByVoter(ctx, ballot.ElectionID, ballot.VoterID); err == nil {
		return domain.ErrAlreadyVoted
	}

	if err := b.tallies.apply(ballot.ElectionID, func(t *domain.Tally) {
		for _, candidate := range ballot.Selections {
			t.Counts[candidate]++
		}
		t.TotalVotes += int64(len(ballot.Selections))
		t.UpdatedAt = ballot.CreatedAt
	}); err != nil {
		return err
	}

	return b.ballots.insert(ballot)
}

type recordingCache struct {
	mu          sync.Mutex
	data        map[domain.ElectionID]domain.PublicResult
	invalidated []domain.ElectionID
}

func newRecordingCache() *recordingCache {
	return &recordingCache{data: make(map[domain.ElectionID]domain.PublicResult)}
}

func (c *recordingCache) Get(_ context.Context, id domain.ElectionID) (domain.PublicResult, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	result, ok := c.data[id]
	return result, ok, nil
}

func (c *recordingCache) Set(_ context.Context, id domain.ElectionID, result domain.PublicResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[id] = result
	return nil
}

func (c *recordingCache) Invalidate(_ context.Context, id domain.ElectionID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, id)
	c.invalidated = append(c.invalidated, id)
	return nil
}

type rejectAllThrottle struct{}

func (rejectAllThrottle) Check(context.Context, string) error {
	return fmt.Errorf("throttled")
}
