package stripewebhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lumenfund/giving-backend/pkg/redis"
)

// IdempotencyGuard remembers Stripe event IDs it has already admitted so a
// redelivered webhook can be acknowledged without re-running its handler.
// The marker is only a fast path: the ledger's unique payment-intent index
// is what actually prevents double-booking, so losing Redis state costs a
// redundant handler run, never a duplicate row.
type IdempotencyGuard struct {
	store redis.IdempotencyStore
	ttl   time.Duration
	scope string
}

func NewIdempotencyGuard(store redis.IdempotencyStore, ttl time.Duration, scope string) (*IdempotencyGuard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	if scope == "" {
		return nil, errors.New("scope is required")
	}
	return &IdempotencyGuard{store: store, ttl: ttl, scope: scope}, nil
}

// CheckAndMark reports whether the event was seen before, marking it seen
// otherwise. Stripe retries with the same event ID, so SETNX on that ID is
// race-free across concurrent deliveries.
func (g *IdempotencyGuard) CheckAndMark(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return false, errors.New("event id is required")
	}
	fresh, err := g.store.SetNX(ctx, g.store.IdempotencyKey(g.scope, eventID), "1", g.ttl)
	if err != nil {
		return false, fmt.Errorf("mark stripe event %s: %w", eventID, err)
	}
	return !fresh, nil
}

// Delete clears the marker after a failed handler run so Stripe's retry is
// processed instead of short-circuited.
func (g *IdempotencyGuard) Delete(ctx context.Context, eventID string) error {
	if eventID == "" {
		return errors.New("event id is required")
	}
	return g.store.Del(ctx, g.store.IdempotencyKey(g.scope, eventID))
}
