package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/imc400/tuka-backend/pkg/config"
	"github.com/redis/go-redis/v9"
)

func TestIncrWithTTLArmsWindowOnce(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}

	for want := int64(1); want <= 3; want++ {
		count, err := client.IncrWithTTL(ctx, "rl:ip:checkout:10.0.0.1", time.Second)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if count != want {
			t.Fatalf("expected counter %d got %d", want, count)
		}
	}
	if mock.pexpireCalls != 1 {
		t.Fatalf("expected window armed once, got %d", mock.pexpireCalls)
	}
	if got := mock.pexpire["rl:ip:checkout:10.0.0.1"]; got != 1000 {
		t.Fatalf("expected pexpire 1000ms, got %d", got)
	}
	if _, err := client.IncrWithTTL(ctx, "k", 0); err == nil {
		t.Fatalf("expected error for empty window")
	}
}

func TestQuoteRoundTripAndDelete(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}

	key := client.QuoteKey("q-1")
	if err := client.Set(ctx, key, `{"stores":[]}`, 10*time.Minute); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	value, err := client.Get(ctx, key)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if value != `{"stores":[]}` {
		t.Fatalf("unexpected quote payload %q", value)
	}

	if err := client.Del(ctx, key); err != nil {
		t.Fatalf("del failed: %v", err)
	}
	if _, err := client.Get(ctx, key); err != redis.Nil {
		t.Fatalf("expected redis.Nil after delete, got %v", err)
	}
}

func TestSetNXOnlyFirstWriterWins(t *testing.T) {
	ctx := context.Background()
	client := &Client{store: newMockCmdable()}
	key := client.IdempotencyKey("payments_webhook", "evt_1")

	first, err := client.SetNX(ctx, key, "1", time.Hour)
	if err != nil || !first {
		t.Fatalf("expected first SetNX to win, got ok=%v err=%v", first, err)
	}
	second, err := client.SetNX(ctx, key, "1", time.Hour)
	if err != nil || second {
		t.Fatalf("expected second SetNX to lose, got ok=%v err=%v", second, err)
	}
}

func TestDeleteIfValueChecksOwner(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}
	key := "tuka:cron:lock:prod"
	mock.data[key] = "owner-a"

	deleted, err := client.DeleteIfValue(ctx, key, "owner-b")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if deleted {
		t.Fatalf("foreign owner must not delete the key")
	}
	if _, ok := mock.data[key]; !ok {
		t.Fatalf("key removed by foreign owner")
	}

	deleted, err = client.DeleteIfValue(ctx, key, "owner-a")
	if err != nil || !deleted {
		t.Fatalf("expected owner delete, got deleted=%v err=%v", deleted, err)
	}
	if _, ok := mock.data[key]; ok {
		t.Fatalf("key still present after owner delete")
	}
}

func TestExpireIfValue(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}
	key := "tuka:cron:lock:staging"
	mock.data[key] = "owner-a"

	extended, err := client.ExpireIfValue(ctx, key, "owner-a", 90*time.Second)
	if err != nil || !extended {
		t.Fatalf("expected extension, got extended=%v err=%v", extended, err)
	}
	if got := mock.pexpire[key]; got != 90000 {
		t.Fatalf("expected pexpire 90000ms, got %d", got)
	}

	extended, err = client.ExpireIfValue(ctx, key, "owner-b", time.Minute)
	if err != nil || extended {
		t.Fatalf("foreign owner must not extend, got extended=%v err=%v", extended, err)
	}
	if _, err := client.ExpireIfValue(ctx, key, "owner-a", 0); err == nil {
		t.Fatalf("expected error for non-positive ttl")
	}
}

func TestUninitializedClient(t *testing.T) {
	client := &Client{}
	if err := client.Ping(context.Background()); err != errNotInitialized {
		t.Fatalf("expected errNotInitialized, got %v", err)
	}
	if _, err := client.DeleteIfValue(context.Background(), "k", "v"); err != errNotInitialized {
		t.Fatalf("expected errNotInitialized, got %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("close on empty client should be a no-op, got %v", err)
	}
}

func TestOptionsFromConfig(t *testing.T) {
	if _, err := optionsFromConfig(config.RedisConfig{}); err == nil {
		t.Fatalf("expected error without url or address")
	}
	opts, err := optionsFromConfig(config.RedisConfig{
		URL:         "redis://:secret@cache.internal:6380/2",
		PoolSize:    20,
		DialTimeout: 3 * time.Second,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.Addr != "cache.internal:6380" || opts.DB != 2 || opts.Password != "secret" {
		t.Fatalf("url fields not applied: %+v", opts)
	}
	if opts.PoolSize != 20 || opts.DialTimeout != 3*time.Second {
		t.Fatalf("config fallbacks not applied: pool=%d dial=%s", opts.PoolSize, opts.DialTimeout)
	}
}

func TestKeyBuilders(t *testing.T) {
	client := &Client{}
	if got := client.IdempotencyKey("scope", "id"); got != "tuka:idempotency:scope:id" {
		t.Fatalf("unexpected idempotency key %s", got)
	}
	if got := client.QuoteKey("abc"); got != "tuka:quote:abc" {
		t.Fatalf("unexpected quote key %s", got)
	}
	if got := client.IdempotencyKey("", "evt"); got != "tuka:idempotency:evt" {
		t.Fatalf("empty parts should be skipped, got %s", got)
	}
}

type mockCmdable struct {
	data         map[string]string
	incr         map[string]int64
	pexpire      map[string]int64
	pexpireCalls int
}

func newMockCmdable() *mockCmdable {
	return &mockCmdable{
		data:    make(map[string]string),
		incr:    make(map[string]int64),
		pexpire: make(map[string]int64),
	}
}

func (m *mockCmdable) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func (m *mockCmdable) Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	m.data[key] = fmt.Sprint(value)
	return redis.NewStatusResult("OK", nil)
}

func (m *mockCmdable) Get(ctx context.Context, key string) *redis.StringCmd {
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *mockCmdable) SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd {
	if _, exists := m.data[key]; exists {
		return redis.NewBoolResult(false, nil)
	}
	m.data[key] = fmt.Sprint(value)
	return redis.NewBoolResult(true, nil)
}

func (m *mockCmdable) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	for _, key := range keys {
		delete(m.data, key)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}

func (m *mockCmdable) Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd {
	key := keys[0]
	if script == incrWindowScript {
		m.incr[key]++
		if m.incr[key] == 1 {
			m.pexpire[key] = args[0].(int64)
			m.pexpireCalls++
		}
		return redis.NewCmdResult(m.incr[key], nil)
	}
	if m.data[key] != fmt.Sprint(args[0]) {
		return redis.NewCmdResult(int64(0), nil)
	}
	switch script {
	case deleteIfValueScript:
		delete(m.data, key)
	case expireIfValueScript:
		m.pexpire[key] = args[1].(int64)
		m.pexpireCalls++
	default:
		return redis.NewCmdResult(nil, fmt.Errorf("unexpected script %q", script))
	}
	return redis.NewCmdResult(int64(1), nil)
}
