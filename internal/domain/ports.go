package domain

import (
	"context"
	"time"
)

type ElectionRepository interface {
	Create(ctx context.Context, e Election) error
	FindByID(ctx context.Context, id ElectionID) (Election, error)
	ListByCreator(ctx context.Context, creator UserID) ([]Election, error)
	ListByEligibleEmail(ctx context.Context, email string) ([]Election, error)
	SetClosed(ctx context.Context, id ElectionID, closed bool, at time.Time) error
	MarkPublished(ctx context.Context, id ElectionID, at time.Time) error
}

type BallotRepository interface {
	FindByVoter(ctx context.Context, electionID ElectionID, voter UserID) (Ballot, error)
	ListByElection(ctx context.Context, electionID ElectionID) ([]Ballot, error)
}

// BallotBox is the single write path for votes. Cast atomically verifies that
// no ballot exists for (ballot.ElectionID, ballot.VoterID), increments the
// tally counts and total, and stores the ballot — all in one serializable
// unit. It returns ErrAlreadyVoted or ErrTallyMissing without partial effects;
// write-write conflicts are retried internally.
type BallotBox interface {
	Cast(ctx context.Context, ballot Ballot) error
}

type TallyRepository interface {
	Create(ctx context.Context, t Tally) error
	FindByElection(ctx context.Context, id ElectionID) (Tally, error)
	// Publish merge-writes counts, total and the closed/published flags,
	// leaving unrelated tally fields untouched.
	Publish(ctx context.Context, id ElectionID, counts map[string]int64, totalVotes int64, at time.Time) error
}

// ResultsCache fronts the public results read path. A miss is (zero, false,
// nil); errors are reserved for backend failures.
type ResultsCache interface {
	Get(ctx context.Context, id ElectionID) (PublicResult, bool, error)
	Set(ctx context.Context, id ElectionID, result PublicResult) error
	Invalidate(ctx context.Context, id ElectionID) error
}

type Throttle interface {
	Check(ctx context.Context, key string) error
}

type Clock interface {
	Now() time.Time
}

type VotingService interface {
	CreateElection(ctx context.Context, creator Identity, in NewElection) (Election, error)
	VisibleElections(ctx context.Context, caller Identity) ([]Election, error)
	GetElection(ctx context.Context, caller Identity, id ElectionID) (Election, error)
	CastVote(ctx context.Context, voter Identity, id ElectionID, selections []string) error
	CloseElection(ctx context.Context, caller Identity, id ElectionID) error
	ReopenElection(ctx context.Context, caller Identity, id ElectionID) error
	Publish(ctx context.Context, caller Identity, id ElectionID) (Tally, error)
	Dashboard(ctx context.Context, caller Identity, id ElectionID) (DashboardSnapshot, error)
	PublicResults(ctx context.Context, id ElectionID) (PublicResult, error)
}

// NewElection is the creation payload before validation and normalization.
type NewElection struct {
	Title          string   `json:"title"`
	Candidates     []string `json:"candidates"`
	EligibleEmails []string `json:"eligible_emails"`
	MaxSelections  int      `json:"max_selections"`
}
