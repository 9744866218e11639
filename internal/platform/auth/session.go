// Package auth is the session layer standing in for an external identity
// provider: it issues bearer tokens for an email and resolves them back to a
// stable identity.
package auth

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fairvote/fairvote/internal/domain"
	"github.com/fairvote/fairvote/internal/platform/ids"
)

var (
	ErrInvalidEmail    = errors.New("invalid email address")
	ErrSessionNotFound = errors.New("session not found or expired")
)

// Sessions stores tokens in Redis with a TTL. Tokens are ULIDs; the user id is
// derived from the normalized email so the same address always maps to the
// same voter.
type Sessions struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	ids    *ids.Generator
}

func NewSessions(client *redis.Client, prefix string, ttl time.Duration, idGen *ids.Generator) *Sessions {
	if prefix == "" {
		prefix = "session"
	}
	if idGen == nil {
		idGen = ids.DefaultGenerator()
	}
	return &Sessions{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		ids:    idGen,
	}
}

func (s *Sessions) SignIn(ctx context.Context, email string) (string, domain.Identity, error) {
	normalized := domain.NormalizeEmail(email)
	if !plausibleEmail(normalized) {
		return "", domain.Identity{}, ErrInvalidEmail
	}

	identity := domain.Identity{
		ID:    UserIDForEmail(normalized),
		Email: normalized,
	}

	payload, err := json.Marshal(identity)
	if err != nil {
		return "", domain.Identity{}, fmt.Errorf("auth: encode identity: %w", err)
	}

	token := s.ids.New()
	if err := s.client.Set(ctx, s.key(token), payload, s.ttl).Err(); err != nil {
		return "", domain.Identity{}, fmt.Errorf("auth: store session: %w", err)
	}

	return token, identity, nil
}

func (s *Sessions) Identity(ctx context.Context, token string) (domain.Identity, error) {
	if token == "" {
		return domain.Identity{}, ErrSessionNotFound
	}

	raw, err := s.client.Get(ctx, s.key(token)).Result()
	if errors.Is(err, redis.Nil) {
		return domain.Identity{}, ErrSessionNotFound
	}
	if err != nil {
		return domain.Identity{}, fmt.Errorf("auth: load session: %w", err)
	}

	var identity domain.Identity
	if err := json.Unmarshal([]byte(raw), &identity); err != nil {
		return domain.Identity{}, fmt.Errorf("auth: invalid session payload: %w", err)
	}
	return identity, nil
}

func (s *Sessions) SignOut(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := s.client.Del(ctx, s.key(token)).Err(); err != nil {
		return fmt.Errorf("auth: delete session: %w", err)
	}
	return nil
}

func (s *Sessions) key(token string) string {
	return fmt.Sprintf("%s:%s", s.prefix, token)
}

// UserIDForEmail derives the stable voter id from a normalized address. SHA-1
// keeps the raw address out of ballot voter_id columns.
func UserIDForEmail(normalized string) domain.UserID {
	sum := sha1.Sum([]byte(normalized))
	return domain.UserID("u" + hex.EncodeToString(sum[:10]))
}

func plausibleEmail(email string) bool {
	at := strings.Index(email, "@")
	return at > 0 && at < len(email)-1 && !strings.ContainsAny(email, " \t")
}
