package domain

import (
	"errors"
	"strings"
	"time"
)

type (
	ElectionID string
	BallotID   string
	UserID     string
)

// Errors shared across ports; adapters translate driver errors into these at
// the boundary so the service layer only reasons about domain failures.
var (
	ErrNotFound     = errors.New("record not found")
	ErrAlreadyVoted = errors.New("voter already cast a ballot")
	ErrTallyMissing = errors.New("tally record missing")
)

// Identity is the signed-in caller as resolved by the session layer.
type Identity struct {
	ID    UserID `json:"user_id"`
	Email string `json:"email"`
}

// Election defines a private vote: who may participate, the candidate list and
// how many selections each ballot may carry. Status flags are mutated only by
// the creator.
type Election struct {
	ID             ElectionID `json:"id"`
	Title          string     `json:"title"`
	CreatorID      UserID     `json:"creator_id"`
	CreatorEmail   string     `json:"creator_email"`
	MaxSelections  int        `json:"max_selections"`
	Candidates     []string   `json:"candidates"`
	EligibleEmails []string   `json:"eligible_emails"`
	IsClosed       bool       `json:"is_closed"`
	IsPublished    bool       `json:"is_published"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Ballot is one voter's immutable submission. Identity is the
// (ElectionID, VoterID) pair: at most one ballot per voter per election.
type Ballot struct {
	ID         BallotID   `json:"id"`
	ElectionID ElectionID `json:"election_id"`
	VoterID    UserID     `json:"voter_id"`
	VoterEmail string     `json:"voter_email"`
	Selections []string   `json:"selections"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Tally holds the running aggregate for one election, denormalized so the
// public view reads a single record. Invariant: TotalVotes equals the sum of
// Counts after every successful cast and every publish.
type Tally struct {
	ElectionID  ElectionID       `json:"election_id"`
	Title       string           `json:"title"`
	CreatorID   UserID           `json:"creator_id"`
	Candidates  []string         `json:"candidates"`
	Counts      map[string]int64 `json:"counts"`
	TotalVotes  int64            `json:"total_votes"`
	IsClosed    bool             `json:"is_closed"`
	IsPublished bool             `json:"is_published"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// DashboardSnapshot is the organizer's live view, derived from the ballot log
// on demand and never persisted. Voters lists attendance (who voted), not
// selections.
type DashboardSnapshot struct {
	ElectionID ElectionID       `json:"election_id"`
	Counts     map[string]int64 `json:"counts"`
	TotalVotes int64            `json:"total_votes"`
	Voters     []string         `json:"voters"`
}

// PublicResult is the published projection: aggregate counts only, no voter
// identity and no ballots.
type PublicResult struct {
	ElectionID ElectionID       `json:"election_id"`
	Title      string           `json:"title"`
	Candidates []string         `json:"candidates"`
	Counts     map[string]int64 `json:"counts"`
	TotalVotes int64            `json:"total_votes"`
	IsClosed   bool             `json:"is_closed"`
}

// NormalizeEmail applies the canonical form used everywhere an address is
// stored or compared: trimmed and lower-cased.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
