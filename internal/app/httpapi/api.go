// Package httpapi exposes the REST handlers and translates HTTP requests into
// voting-service calls.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/fairvote/fairvote/internal/app/voting"
	"github.com/fairvote/fairvote/internal/domain"
	"github.com/fairvote/fairvote/internal/platform/auth"
	"github.com/fairvote/fairvote/internal/platform/metrics"
	"github.com/fairvote/fairvote/internal/platform/ratelimit"
)

// Authenticator resolves bearer tokens; auth.Sessions implements it.
type Authenticator interface {
	SignIn(ctx context.Context, email string) (string, domain.Identity, error)
	Identity(ctx context.Context, token string) (domain.Identity, error)
	SignOut(ctx context.Context, token string) error
}

// API bundles the HTTP handlers bound to the voting service and sessions.
type API struct {
	service  domain.VotingService
	sessions Authenticator
	logger   *slog.Logger
}

func New(service domain.VotingService, sessions Authenticator, logger *slog.Logger) *API {
	return &API{service: service, sessions: sessions, logger: logger}
}

func (a *API) Register(mux *http.ServeMux) {
	// Routes stay centralized so tests and alternative servers reuse them.
	mux.HandleFunc("/healthz", a.handleHealthz)
	mux.HandleFunc("/auth/signin", a.handleSignIn)
	mux.HandleFunc("/auth/signout", a.handleSignOut)
	mux.HandleFunc("/auth/me", a.handleMe)
	mux.HandleFunc("/elections", a.handleElections)
	mux.HandleFunc("/elections/", a.handleElectionSubroutes)
}

func (a *API) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type signInRequest struct {
	Email string `json:"email"`
}

type signInResponse struct {
	Token  string        `json:"token"`
	UserID domain.UserID `json:"user_id"`
	Email  string        `json:"email"`
}

func (a *API) handleSignIn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req signInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	token, identity, err := a.sessions.SignIn(r.Context(), req.Email)
	if err != nil {
		a.logger.Warn("sign-in failed", "err", err)
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, signInResponse{Token: token, UserID: identity.ID, Email: identity.Email})
}

func (a *API) handleSignOut(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := a.sessions.SignOut(r.Context(), bearerToken(r)); err != nil {
		a.logger.Error("sign-out failed", "err", err)
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "signed out"})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	identity, ok := a.identity(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, identity)
}

func (a *API) handleElections(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listElections(w, r)
	case http.MethodPost:
		a.createElection(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (a *API) handleElectionSubroutes(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/elections/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}

	id := domain.ElectionID(parts[0])

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		a.getElection(w, r, id)
	case len(parts) == 2 && parts[1] == "votes" && r.Method == http.MethodPost:
		a.castVote(w, r, id)
	case len(parts) == 2 && parts[1] == "dashboard" && r.Method == http.MethodGet:
		a.dashboard(w, r, id)
	case len(parts) == 2 && parts[1] == "close" && r.Method == http.MethodPost:
		a.closeElection(w, r, id)
	case len(parts) == 2 && parts[1] == "reopen" && r.Method == http.MethodPost:
		a.reopenElection(w, r, id)
	case len(parts) == 2 && parts[1] == "publish" && r.Method == http.MethodPost:
		a.publish(w, r, id)
	case len(parts) == 2 && parts[1] == "results" && r.Method == http.MethodGet:
		a.publicResults(w, r, id)
	default:
		http.NotFound(w, r)
	}
}

func (a *API) createElection(w http.ResponseWriter, r *http.Request) {
	identity, ok := a.identity(w, r)
	if !ok {
		return
	}

	var req domain.NewElection
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	election, err := a.service.CreateElection(r.Context(), identity, req)
	if err != nil {
		a.logger.Warn("create election failed", "err", err, "creator", identity.ID)
		respondError(w, err)
		return
	}

	a.logger.Info("election created", "election", election.ID, "creator", identity.ID)
	respondJSON(w, http.StatusCreated, election)
}

func (a *API) listElections(w http.ResponseWriter, r *http.Request) {
	identity, ok := a.identity(w, r)
	if !ok {
		return
	}

	elections, err := a.service.VisibleElections(r.Context(), identity)
	if err != nil {
		a.logger.Error("list elections failed", "err", err)
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, elections)
}

func (a *API) getElection(w http.ResponseWriter, r *http.Request, id domain.ElectionID) {
	identity, ok := a.identity(w, r)
	if !ok {
		return
	}

	election, err := a.service.GetElection(r.Context(), identity, id)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, election)
}

type voteRequest struct {
	Selections []string `json:"selections"`
}

func (a *API) castVote(w http.ResponseWriter, r *http.Request, id domain.ElectionID) {
	identity, ok := a.identity(w, r)
	if !ok {
		metrics.ObserveVoteRequest("unauthenticated")
		return
	}

	var req voteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		metrics.ObserveVoteRequest("invalid_payload")
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	if err := a.service.CastVote(r.Context(), identity, id, req.Selections); err != nil {
		status := voteStatusLabel(err)
		metrics.ObserveVoteRequest(status)
		a.logger.Warn("vote rejected", "err", err, "election", id, "voter", identity.ID, "status", status)
		respondError(w, err)
		return
	}

	metrics.ObserveVoteRequest("accepted")
	a.logger.Info("vote recorded", "election", id, "voter", identity.ID)
	respondJSON(w, http.StatusCreated, map[string]string{"status": "recorded"})
}

func (a *API) dashboard(w http.ResponseWriter, r *http.Request, id domain.ElectionID) {
	identity, ok := a.identity(w, r)
	if !ok {
		return
	}

	snapshot, err := a.service.Dashboard(r.Context(), identity, id)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, snapshot)
}

func (a *API) closeElection(w http.ResponseWriter, r *http.Request, id domain.ElectionID) {
	identity, ok := a.identity(w, r)
	if !ok {
		return
	}
	if err := a.service.CloseElection(r.Context(), identity, id); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

func (a *API) reopenElection(w http.ResponseWriter, r *http.Request, id domain.ElectionID) {
	identity, ok := a.identity(w, r)
	if !ok {
		return
	}
	if err := a.service.ReopenElection(r.Context(), identity, id); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "open"})
}

func (a *API) publish(w http.ResponseWriter, r *http.Request, id domain.ElectionID) {
	identity, ok := a.identity(w, r)
	if !ok {
		return
	}

	tally, err := a.service.Publish(r.Context(), identity, id)
	if err != nil {
		a.logger.Error("publish failed", "err", err, "election", id)
		respondError(w, err)
		return
	}

	a.logger.Info("results published", "election", id, "total_votes", tally.TotalVotes)
	respondJSON(w, http.StatusOK, tally)
}

func (a *API) publicResults(w http.ResponseWriter, r *http.Request, id domain.ElectionID) {
	result, err := a.service.PublicResults(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// identity resolves the bearer token or writes a 401 and returns ok=false.
func (a *API) identity(w http.ResponseWriter, r *http.Request) (domain.Identity, bool) {
	identity, err := a.sessions.Identity(r.Context(), bearerToken(r))
	if err != nil {
		if errors.Is(err, auth.ErrSessionNotFound) {
			respondJSON(w, http.StatusUnauthorized, map[string]string{"error": "sign in required"})
		} else {
			a.logger.Error("session lookup failed", "err", err)
			respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "session lookup failed"})
		}
		return domain.Identity{}, false
	}
	return identity, true
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func respondError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, voting.ErrInvalidElection),
		errors.Is(err, voting.ErrInvalidSelection),
		errors.Is(err, auth.ErrInvalidEmail):
		status = http.StatusBadRequest
	case errors.Is(err, auth.ErrSessionNotFound):
		status = http.StatusUnauthorized
	case errors.Is(err, voting.ErrNotOwner), errors.Is(err, voting.ErrNotEligible):
		status = http.StatusForbidden
	case errors.Is(err, voting.ErrElectionNotFound),
		errors.Is(err, voting.ErrResultsNotPublished),
		errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, voting.ErrElectionClosed),
		errors.Is(err, domain.ErrAlreadyVoted),
		errors.Is(err, domain.ErrTallyMissing):
		status = http.StatusConflict
	case errors.Is(err, ratelimit.ErrRateLimitExceeded):
		status = http.StatusTooManyRequests
	}

	respondJSON(w, status, map[string]string{"error": err.Error()})
}

func voteStatusLabel(err error) string {
	switch {
	case errors.Is(err, domain.ErrAlreadyVoted):
		return "already_voted"
	case errors.Is(err, domain.ErrTallyMissing):
		return "tally_missing"
	case errors.Is(err, voting.ErrElectionClosed):
		return "closed"
	case errors.Is(err, voting.ErrNotEligible):
		return "not_eligible"
	case errors.Is(err, voting.ErrInvalidSelection):
		return "invalid"
	case errors.Is(err, voting.ErrElectionNotFound):
		return "not_found"
	case errors.Is(err, ratelimit.ErrRateLimitExceeded):
		return "rate_limited"
	default:
		return "error"
	}
}
