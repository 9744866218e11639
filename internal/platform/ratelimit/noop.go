package ratelimit

import (
	"context"

	"github.com/fairvote/fairvote/internal/domain"
)

// Noop is the throttle used when rate limiting is disabled.
type Noop struct{}

func NewNoop() Noop {
	return Noop{}
}

func (Noop) Check(ctx context.Context, key string) error {
	return nil
}

var _ domain.Throttle = Noop{}
