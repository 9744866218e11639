// Package voting implements the election rules: creation, vote casting,
// close/reopen, recount/publish and the two result projections.
package voting

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/fairvote/fairvote/internal/domain"
	"github.com/fairvote/fairvote/internal/platform/ids"
	"github.com/fairvote/fairvote/internal/platform/metrics"
)

var (
	ErrInvalidElection     = errors.New("invalid election")
	ErrInvalidSelection    = errors.New("invalid selection")
	ErrElectionClosed      = errors.New("election closed")
	ErrNotEligible         = errors.New("voter not eligible")
	ErrNotOwner            = errors.New("caller is not the organizer")
	ErrElectionNotFound    = errors.New("election not found")
	ErrResultsNotPublished = errors.New("results not published")
)

// Service concentrates the voting rules and delegates storage to the injected
// ports. Cache and throttle are optional; a nil value disables the feature.
type Service struct {
	elections domain.ElectionRepository
	ballots   domain.BallotRepository
	tallies   domain.TallyRepository
	box       domain.BallotBox
	cache     domain.ResultsCache
	throttle  domain.Throttle
	clock     domain.Clock
	ids       *ids.Generator
}

func NewService(
	elections domain.ElectionRepository,
	ballots domain.BallotRepository,
	tallies domain.TallyRepository,
	box domain.BallotBox,
	cache domain.ResultsCache,
	throttle domain.Throttle,
	clock domain.Clock,
	idsGen *ids.Generator,
) *Service {
	if idsGen == nil {
		idsGen = ids.DefaultGenerator()
	}
	return &Service{
		elections: elections,
		ballots:   ballots,
		tallies:   tallies,
		box:       box,
		cache:     cache,
		throttle:  throttle,
		clock:     clock,
		ids:       idsGen,
	}
}

// CreateElection validates and normalizes the definition, then writes the
// election and its zeroed tally. The two writes are not one atomic unit; a
// failed tally write is surfaced so the organizer can retry (a vote against
// the gap fails with the tally-missing error until then).
func (s *Service) CreateElection(ctx context.Context, creator domain.Identity, in domain.NewElection) (domain.Election, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return domain.Election{}, fmt.Errorf("%w: title required", ErrInvalidElection)
	}

	candidates, err := normalizeCandidates(in.Candidates)
	if err != nil {
		return domain.Election{}, err
	}

	if in.MaxSelections < 1 || in.MaxSelections > len(candidates) {
		return domain.Election{}, fmt.Errorf("%w: max selections must be between 1 and %d", ErrInvalidElection, len(candidates))
	}

	emails := normalizeEmails(in.EligibleEmails)
	if len(emails) == 0 {
		return domain.Election{}, fmt.Errorf("%w: at least one eligible email required", ErrInvalidElection)
	}

	now := s.clock.Now()
	election := domain.Election{
		ID:             domain.ElectionID(s.ids.New()),
		Title:          title,
		CreatorID:      creator.ID,
		CreatorEmail:   domain.NormalizeEmail(creator.Email),
		MaxSelections:  in.MaxSelections,
		Candidates:     candidates,
		EligibleEmails: emails,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.elections.Create(ctx, election); err != nil {
		return domain.Election{}, err
	}

	counts := make(map[string]int64, len(candidates))
	for _, candidate := range candidates {
		counts[candidate] = 0
	}
	tally := domain.Tally{
		ElectionID: election.ID,
		Title:      title,
		CreatorID:  creator.ID,
		Candidates: candidates,
		Counts:     counts,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.tallies.Create(ctx, tally); err != nil {
		return domain.Election{}, fmt.Errorf("election created but tally write failed: %w", err)
	}

	return election, nil
}

// VisibleElections returns the caller's own elections plus those whose
// eligible list contains the caller's email, newest first.
func (s *Service) VisibleElections(ctx context.Context, caller domain.Identity) ([]domain.Election, error) {
	owned, err := s.elections.ListByCreator(ctx, caller.ID)
	if err != nil {
		return nil, err
	}

	eligible, err := s.elections.ListByEligibleEmail(ctx, domain.NormalizeEmail(caller.Email))
	if err != nil {
		return nil, err
	}

	seen := make(map[domain.ElectionID]bool, len(owned))
	merged := make([]domain.Election, 0, len(owned)+len(eligible))
	for _, e := range owned {
		seen[e.ID] = true
		merged = append(merged, e)
	}
	for _, e := range eligible {
		if !seen[e.ID] {
			merged = append(merged, e)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].CreatedAt.After(merged[j].CreatedAt)
	})
	return merged, nil
}

func (s *Service) GetElection(ctx context.Context, caller domain.Identity, id domain.ElectionID) (domain.Election, error) {
	election, err := s.findElection(ctx, id)
	if err != nil {
		return domain.Election{}, err
	}
	if election.CreatorID != caller.ID && !isEligible(election, caller.Email) {
		return domain.Election{}, ErrNotEligible
	}
	return election, nil
}

// CastVote performs the pre-transaction checks (closed, eligibility, selection
// bounds and membership) and hands the ballot to the atomic ballot box. The
// closed check deliberately stays outside the transaction, matching the
// original close/reopen semantics.
func (s *Service) CastVote(ctx context.Context, voter domain.Identity, id domain.ElectionID, selections []string) error {
	election, err := s.findElection(ctx, id)
	if err != nil {
		return err
	}

	if election.IsClosed {
		return ErrElectionClosed
	}
	if !isEligible(election, voter.Email) {
		return ErrNotEligible
	}

	chosen, err := normalizeSelections(selections, election)
	if err != nil {
		return err
	}

	if s.throttle != nil {
		if err := s.throttle.Check(ctx, "vote:"+string(voter.ID)); err != nil {
			return err
		}
	}

	ballot := domain.Ballot{
		ID:         domain.BallotID(s.ids.New()),
		ElectionID: election.ID,
		VoterID:    voter.ID,
		VoterEmail: domain.NormalizeEmail(voter.Email),
		Selections: chosen,
		CreatedAt:  s.clock.Now(),
	}

	return s.box.Cast(ctx, ballot)
}

func (s *Service) CloseElection(ctx context.Context, caller domain.Identity, id domain.ElectionID) error {
	return s.setClosed(ctx, caller, id, true)
}

// ReopenElection resumes voting. It never un-publishes or clears the tally;
// the running count keeps incrementing from where it left off.
func (s *Service) ReopenElection(ctx context.Context, caller domain.Identity, id domain.ElectionID) error {
	return s.setClosed(ctx, caller, id, false)
}

func (s *Service) setClosed(ctx context.Context, caller domain.Identity, id domain.ElectionID, closed bool) error {
	election, err := s.findElection(ctx, id)
	if err != nil {
		return err
	}
	if election.CreatorID != caller.ID {
		return ErrNotOwner
	}
	if election.IsClosed == closed {
		// Idempotent: flipping to the current state is a no-op.
		return nil
	}
	return s.elections.SetClosed(ctx, id, closed, s.clock.Now())
}

// Publish freezes voting, ensures the tally is correct and flips the public
// flag. A running tally with votes is trusted as-is; an empty or
// never-incremented one is recomputed from the ballot log. Nothing is written
// until the counts are fully computed.
func (s *Service) Publish(ctx context.Context, caller domain.Identity, id domain.ElectionID) (domain.Tally, error) {
	election, err := s.findElection(ctx, id)
	if err != nil {
		return domain.Tally{}, err
	}
	if election.CreatorID != caller.ID {
		return domain.Tally{}, ErrNotOwner
	}

	if !election.IsClosed {
		if err := s.elections.SetClosed(ctx, id, true, s.clock.Now()); err != nil {
			return domain.Tally{}, err
		}
	}

	tally, err := s.tallies.FindByElection(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		// Tally record lost at creation; recreate it before the merge write.
		tally = domain.Tally{
			ElectionID: election.ID,
			Title:      election.Title,
			CreatorID:  election.CreatorID,
			Candidates: election.Candidates,
			Counts:     map[string]int64{},
			CreatedAt:  s.clock.Now(),
			UpdatedAt:  s.clock.Now(),
		}
		if err := s.tallies.Create(ctx, tally); err != nil {
			return domain.Tally{}, err
		}
	} else if err != nil {
		return domain.Tally{}, err
	}

	counts := tally.Counts
	totalVotes := tally.TotalVotes
	if len(counts) == 0 || totalVotes == 0 {
		start := time.Now()
		counts, totalVotes, err = s.recountFromBallots(ctx, election)
		if err != nil {
			return domain.Tally{}, err
		}
		metrics.ObserveRecountDuration(time.Since(start).Seconds())
		metrics.IncPublish("recount")
	} else {
		metrics.IncPublish("running")
	}

	now := s.clock.Now()
	if err := s.tallies.Publish(ctx, id, counts, totalVotes, now); err != nil {
		return domain.Tally{}, err
	}
	if err := s.elections.MarkPublished(ctx, id, now); err != nil {
		return domain.Tally{}, err
	}

	if s.cache != nil {
		// Eager invalidation keeps re-publishes visible before the TTL.
		_ = s.cache.Invalidate(ctx, id)
	}

	tally.Counts = counts
	tally.TotalVotes = totalVotes
	tally.IsClosed = true
	tally.IsPublished = true
	tally.UpdatedAt = now
	return tally, nil
}

// Dashboard derives the organizer's live snapshot straight from the ballot
// log, independent of the tally: per-candidate counts, total votes and the
// attendance list (who voted, never what they voted for is exposed beyond the
// aggregate).
func (s *Service) Dashboard(ctx context.Context, caller domain.Identity, id domain.ElectionID) (domain.DashboardSnapshot, error) {
	election, err := s.findElection(ctx, id)
	if err != nil {
		return domain.DashboardSnapshot{}, err
	}
	if election.CreatorID != caller.ID {
		return domain.DashboardSnapshot{}, ErrNotOwner
	}

	ballots, err := s.ballots.ListByElection(ctx, id)
	if err != nil {
		return domain.DashboardSnapshot{}, err
	}

	counts := zeroCounts(election.Candidates)
	var totalVotes int64
	voterSet := make(map[string]bool, len(ballots))
	for _, ballot := range ballots {
		for _, candidate := range ballot.Selections {
			counts[candidate]++
		}
		totalVotes += int64(len(ballot.Selections))
		voterSet[ballot.VoterEmail] = true
	}

	voters := make([]string, 0, len(voterSet))
	for email := range voterSet {
		voters = append(voters, email)
	}
	sort.Strings(voters)

	return domain.DashboardSnapshot{
		ElectionID: id,
		Counts:     counts,
		TotalVotes: totalVotes,
		Voters:     voters,
	}, nil
}

// PublicResults reads only the tally and only once published. The cache is
// advisory: a cache failure falls through to the store.
func (s *Service) PublicResults(ctx context.Context, id domain.ElectionID) (domain.PublicResult, error) {
	if s.cache != nil {
		if cached, ok, err := s.cache.Get(ctx, id); err == nil && ok {
			return cached, nil
		}
	}

	tally, err := s.tallies.FindByElection(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.PublicResult{}, ErrElectionNotFound
		}
		return domain.PublicResult{}, err
	}
	if !tally.IsPublished {
		return domain.PublicResult{}, ErrResultsNotPublished
	}

	result := domain.PublicResult{
		ElectionID: tally.ElectionID,
		Title:      tally.Title,
		Candidates: tally.Candidates,
		Counts:     tally.Counts,
		TotalVotes: tally.TotalVotes,
		IsClosed:   tally.IsClosed,
	}

	if s.cache != nil {
		_ = s.cache.Set(ctx, id, result)
	}
	return result, nil
}

func (s *Service) findElection(ctx context.Context, id domain.ElectionID) (domain.Election, error) {
	election, err := s.elections.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Election{}, ErrElectionNotFound
		}
		return domain.Election{}, err
	}
	return election, nil
}

func (s *Service) recountFromBallots(ctx context.Context, election domain.Election) (map[string]int64, int64, error) {
	ballots, err := s.ballots.ListByElection(ctx, election.ID)
	if err != nil {
		return nil, 0, err
	}

	counts := zeroCounts(election.Candidates)
	var totalVotes int64
	for _, ballot := range ballots {
		for _, candidate := range ballot.Selections {
			counts[candidate]++
		}
		totalVotes += int64(len(ballot.Selections))
	}
	return counts, totalVotes, nil
}

func normalizeCandidates(raw []string) ([]string, error) {
	candidates := make([]string, 0, len(raw))
	seen := make(map[string]bool, len(raw))
	for _, name := range raw {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("%w: empty candidate name", ErrInvalidElection)
		}
		if seen[name] {
			return nil, fmt.Errorf("%w: duplicate candidate %q", ErrInvalidElection, name)
		}
		seen[name] = true
		candidates = append(candidates, name)
	}
	if len(candidates) < 2 {
		return nil, fmt.Errorf("%w: at least two candidates required", ErrInvalidElection)
	}
	return candidates, nil
}

func normalizeEmails(raw []string) []string {
	seen := make(map[string]bool, len(raw))
	emails := make([]string, 0, len(raw))
	for _, email := range raw {
		normalized := domain.NormalizeEmail(email)
		if normalized == "" || seen[normalized] {
			continue
		}
		seen[normalized] = true
		emails = append(emails, normalized)
	}
	sort.Strings(emails)
	return emails
}

// normalizeSelections collapses duplicates (set semantics) and checks the
// size bounds and candidate membership before any write is attempted.
func normalizeSelections(raw []string, election domain.Election) ([]string, error) {
	known := make(map[string]bool, len(election.Candidates))
	for _, candidate := range election.Candidates {
		known[candidate] = true
	}

	seen := make(map[string]bool, len(raw))
	chosen := make([]string, 0, len(raw))
	for _, selection := range raw {
		selection = strings.TrimSpace(selection)
		if selection == "" || seen[selection] {
			continue
		}
		if !known[selection] {
			return nil, fmt.Errorf("%w: unknown candidate %q", ErrInvalidSelection, selection)
		}
		seen[selection] = true
		chosen = append(chosen, selection)
	}

	if len(chosen) < 1 {
		return nil, fmt.Errorf("%w: at least one selection required", ErrInvalidSelection)
	}
	if len(chosen) > election.MaxSelections {
		return nil, fmt.Errorf("%w: at most %d selections allowed", ErrInvalidSelection, election.MaxSelections)
	}
	return chosen, nil
}

func isEligible(election domain.Election, email string) bool {
	normalized := domain.NormalizeEmail(email)
	for _, eligible := range election.EligibleEmails {
		if eligible == normalized {
			return true
		}
	}
	return false
}

func zeroCounts(candidates []string) map[string]int64 {
	counts := make(map[string]int64, len(candidates))
	for _, candidate := range candidates {
		counts[candidate] = 0
	}
	return counts
}

var _ domain.VotingService = (*Service)(nil)
