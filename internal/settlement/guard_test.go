package settlement

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

type memoryStore struct {
	mu   sync.Mutex
	keys map[string]string
	ttls map[string]time.Duration
}

func newMemoryStore() *memoryStore {
	return &memoryStore{keys: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (m *memoryStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.keys[key]; ok {
		return v, nil
	}
	return "", goredis.Nil
}

func (m *memoryStore) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[key] = fmt.Sprint(value)
	m.ttls[key] = ttl
	return nil
}

func (m *memoryStore) SetNX(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[key]; ok {
		return false, nil
	}
	m.keys[key] = fmt.Sprint(value)
	m.ttls[key] = ttl
	return true, nil
}

func (m *memoryStore) IdempotencyKey(scope, id string) string {
	return "idempotency:" + scope + ":" + id
}

func (m *memoryStore) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.keys, key)
		delete(m.ttls, key)
	}
	return nil
}

func TestEventGuardLifecycle(t *testing.T) {
	store := newMemoryStore()
	guard, err := NewEventGuard(store, time.Hour, time.Minute, "payments")
	if err != nil {
		t.Fatalf("new guard: %v", err)
	}
	ctx := context.Background()
	key := store.IdempotencyKey("payments", "evt_1")

	state, err := guard.Begin(ctx, "evt_1")
	if err != nil || state != EventNew {
		t.Fatalf("first delivery: state=%v err=%v", state, err)
	}
	if store.keys[key] != markProcessing || store.ttls[key] != time.Minute {
		t.Fatalf("expected short claim, got %q/%s", store.keys[key], store.ttls[key])
	}

	state, err = guard.Begin(ctx, "evt_1")
	if err != nil || state != EventInFlight {
		t.Fatalf("concurrent delivery: state=%v err=%v", state, err)
	}

	if err := guard.Complete(ctx, "evt_1"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if store.keys[key] != markDone || store.ttls[key] != time.Hour {
		t.Fatalf("expected settled mark, got %q/%s", store.keys[key], store.ttls[key])
	}
	state, err = guard.Begin(ctx, "evt_1")
	if err != nil || state != EventDone {
		t.Fatalf("redelivery: state=%v err=%v", state, err)
	}
}

func TestEventGuardReleaseAndLapsedClaim(t *testing.T) {
	store := newMemoryStore()
	guard, err := NewEventGuard(store, time.Hour, 0, "payments")
	if err != nil {
		t.Fatalf("new guard: %v", err)
	}
	ctx := context.Background()

	if _, err := guard.Begin(ctx, "evt_2"); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if got := store.ttls[store.IdempotencyKey("payments", "evt_2")]; got != defaultClaimTTL {
		t.Fatalf("expected default claim ttl, got %s", got)
	}
	if err := guard.Release(ctx, "evt_2"); err != nil {
		t.Fatalf("release: %v", err)
	}
	state, err := guard.Begin(ctx, "evt_2")
	if err != nil || state != EventNew {
		t.Fatalf("after release: state=%v err=%v", state, err)
	}

	// a claim left by a crashed worker expires on its own
	delete(store.keys, store.IdempotencyKey("payments", "evt_2"))
	state, err = guard.Begin(ctx, "evt_2")
	if err != nil || state != EventNew {
		t.Fatalf("after lapse: state=%v err=%v", state, err)
	}
}

func TestEventGuardValidation(t *testing.T) {
	if _, err := NewEventGuard(nil, time.Hour, time.Minute, "payments"); err == nil {
		t.Fatalf("expected error for nil store")
	}
	if _, err := NewEventGuard(newMemoryStore(), time.Hour, time.Minute, ""); err == nil {
		t.Fatalf("expected error for empty scope")
	}
	if _, err := NewEventGuard(newMemoryStore(), -time.Second, time.Minute, "payments"); err == nil {
		t.Fatalf("expected error for negative ttl")
	}
	guard, _ := NewEventGuard(newMemoryStore(), 0, time.Minute, "payments")
	if _, err := guard.Begin(context.Background(), ""); err == nil {
		t.Fatalf("expected error for empty event id")
	}
	if err := guard.Complete(context.Background(), ""); err == nil {
		t.Fatalf("expected error for empty event id")
	}
}
