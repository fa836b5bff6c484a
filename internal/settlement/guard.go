package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/imc400/tuka-backend/pkg/redis"
)

// EventState is what the guard knows about a processor event id.
type EventState int

const (
	EventNew EventState = iota
	EventInFlight
	EventDone
)

const (
	markProcessing  = "processing"
	markDone        = "done"
	defaultClaimTTL = 2 * time.Minute
)

// EventGuard drops redelivered processor events before they reach the ledger.
// An event is claimed for claimTTL while it settles and only remembered for
// ttl once settlement succeeded, so a crash mid-settlement never hides the
// event from redelivery for longer than the claim.
type EventGuard struct {
	store    redis.IdempotencyStore
	ttl      time.Duration
	claimTTL time.Duration
	scope    string
}

func NewEventGuard(store redis.IdempotencyStore, ttl, claimTTL time.Duration, scope string) (*EventGuard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	if scope == "" {
		return nil, errors.New("scope is required")
	}
	if claimTTL <= 0 {
		claimTTL = defaultClaimTTL
	}
	return &EventGuard{store: store, ttl: ttl, claimTTL: claimTTL, scope: scope}, nil
}

// Begin claims eventID. EventNew means the caller owns it and must call
// Complete or Release.
func (g *EventGuard) Begin(ctx context.Context, eventID string) (EventState, error) {
	if eventID == "" {
		return EventNew, errors.New("event id is required")
	}
	key := g.store.IdempotencyKey(g.scope, eventID)
	claimed, err := g.store.SetNX(ctx, key, markProcessing, g.claimTTL)
	if err != nil {
		return EventNew, fmt.Errorf("claim event: %w", err)
	}
	if claimed {
		return EventNew, nil
	}
	mark, err := g.store.Get(ctx, key)
	switch {
	case errors.Is(err, goredis.Nil):
		// claim lapsed between the two calls; let the processor come back
		return EventInFlight, nil
	case err != nil:
		return EventNew, fmt.Errorf("read event mark: %w", err)
	case mark == markDone:
		return EventDone, nil
	default:
		return EventInFlight, nil
	}
}

// Complete remembers eventID as settled for the full dedupe window.
func (g *EventGuard) Complete(ctx context.Context, eventID string) error {
	if eventID == "" {
		return errors.New("event id is required")
	}
	return g.store.Set(ctx, g.store.IdempotencyKey(g.scope, eventID), markDone, g.ttl)
}

// Release forgets the event so a processor retry is handled again.
func (g *EventGuard) Release(ctx context.Context, eventID string) error {
	if eventID == "" {
		return errors.New("event id is required")
	}
	return g.store.Del(ctx, g.store.IdempotencyKey(g.scope, eventID))
}
