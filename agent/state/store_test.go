package state

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	contractx "github.com/tanpawarit/chative-voicebot/agent/contract"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestStore(t *testing.T, opts ...StoreOption) (*KVStore, *MemoryKV, *fakeClock) {
	t.Helper()

	clock := &fakeClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	kv := NewMemoryKV(WithMemoryClock(clock.Now))
	store, err := NewStore(kv, append([]StoreOption{WithClock(clock.Now)}, opts...)...)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	return store, kv, clock
}

func TestKVStoreGetOrCreateNewSession(t *testing.T) {
	t.Parallel()

	store, _, _ := newTestStore(t)
	sess, err := store.GetOrCreate(context.Background(), "+7000")
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	if sess.CallerID != "+7000" || !sess.IsEmpty() || sess.Stage != StageIdle {
		t.Fatalf("unexpected new session: %#v", sess)
	}
}

func TestKVStoreAppendTurnPersists(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, _, _ := newTestStore(t)

	if err := store.AppendTurn(ctx, "+7000", contractx.RoleCaller, "hello"); err != nil {
		t.Fatalf("AppendTurn() error = %v", err)
	}
	if err := store.AppendTurn(ctx, "+7000", contractx.RoleAssistant, "hi there"); err != nil {
		t.Fatalf("AppendTurn() error = %v", err)
	}

	sess, err := store.GetOrCreate(ctx, "+7000")
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	if len(sess.Turns) != 2 || sess.Turns[1].Role != contractx.RoleAssistant {
		t.Fatalf("turns = %#v", sess.Turns)
	}
}

func TestKVStoreSessionExpiresAfterInactivity(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, _, clock := newTestStore(t, WithTTL(300*time.Second))

	if err := store.AppendTurn(ctx, "+7000", contractx.RoleCaller, "hello"); err != nil {
		t.Fatalf("AppendTurn() error = %v", err)
	}

	clock.Advance(299 * time.Second)
	sess, err := store.GetOrCreate(ctx, "+7000")
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	if sess.IsEmpty() {
		t.Fatalf("session should survive within ttl")
	}

	clock.Advance(302 * time.Second)
	sess, err = store.GetOrCreate(ctx, "+7000")
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	if !sess.IsEmpty() {
		t.Fatalf("session should be fresh after ttl, got %#v", sess.Turns)
	}
}

func TestKVStoreSlotsRoundTripAndIsolation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, _, _ := newTestStore(t)
	start := time.Date(2025, 3, 2, 10, 0, 0, 0, time.UTC)
	slots := []contractx.Slot{
		{ServiceID: 1, StaffID: 2, Label: "10:00", Start: start},
		{ServiceID: 1, StaffID: 2, Label: "10:30", Start: start.Add(30 * time.Minute)},
	}

	if err := store.SetSlots(ctx, "call-1", slots, 0); err != nil {
		t.Fatalf("SetSlots() error = %v", err)
	}

	got, err := store.GetSlots(ctx, "call-1")
	if err != nil {
		t.Fatalf("GetSlots() error = %v", err)
	}
	if len(got) != 2 || got[1].Label != "10:30" || !got[0].Start.Equal(start) {
		t.Fatalf("GetSlots() = %#v", got)
	}

	other, err := store.GetSlots(ctx, "call-2")
	if err != nil {
		t.Fatalf("GetSlots(other) error = %v", err)
	}
	if other != nil {
		t.Fatalf("other call should have no slots, got %#v", other)
	}
}

func TestKVStoreSlotsExpireIndependently(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, _, clock := newTestStore(t, WithTTL(time.Hour))

	if err := store.SetSlots(ctx, "call-1", []contractx.Slot{{Label: "10:00"}}, time.Minute); err != nil {
		t.Fatalf("SetSlots() error = %v", err)
	}
	if err := store.AppendTurn(ctx, "+7000", contractx.RoleCaller, "hi"); err != nil {
		t.Fatalf("AppendTurn() error = %v", err)
	}

	clock.Advance(2 * time.Minute)

	slots, err := store.GetSlots(ctx, "call-1")
	if err != nil {
		t.Fatalf("GetSlots() error = %v", err)
	}
	if slots != nil {
		t.Fatalf("slots should have expired, got %#v", slots)
	}
	sess, err := store.GetOrCreate(ctx, "+7000")
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	if sess.IsEmpty() {
		t.Fatalf("session should outlive slot offer")
	}
}

func TestKVStoreClearIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, kv, _ := newTestStore(t)

	if err := store.AppendTurn(ctx, "+7000", contractx.RoleCaller, "hi"); err != nil {
		t.Fatalf("AppendTurn() error = %v", err)
	}
	if err := store.SetSlots(ctx, "call-1", []contractx.Slot{{Label: "10:00"}}, 0); err != nil {
		t.Fatalf("SetSlots() error = %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := store.Clear(ctx, "+7000", "call-1"); err != nil {
			t.Fatalf("Clear() #%d error = %v", i+1, err)
		}
	}
	if kv.Len() != 0 {
		t.Fatalf("kv should be empty after Clear, has %d entries", kv.Len())
	}

	if err := store.Clear(ctx, "", " "); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("Clear() with no ids error = %v, want ErrInvalidSession", err)
	}
}

func TestKVStoreSetStage(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, _, _ := newTestStore(t)

	if err := store.SetStage(ctx, "+7000", StageSlotsOffered); err != nil {
		t.Fatalf("SetStage() error = %v", err)
	}
	sess, err := store.GetOrCreate(ctx, "+7000")
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	if sess.Stage != StageSlotsOffered {
		t.Fatalf("Stage = %q, want %q", sess.Stage, StageSlotsOffered)
	}

	if err := store.SetStage(ctx, "+7000", Stage("nope")); !errors.Is(err, ErrInvalidStage) {
		t.Fatalf("SetStage(invalid) error = %v, want ErrInvalidStage", err)
	}
}

func TestKVStoreKeysUsePrefix(t *testing.T) {
	t.Parallel()

	store, _, _ := newTestStore(t, WithKeyPrefix("vb:"))
	got, err := store.sessionKey("+7000")
	if err != nil {
		t.Fatalf("sessionKey() error = %v", err)
	}
	if got != "vb:+7000:session" {
		t.Fatalf("sessionKey() = %q", got)
	}
	got, err = store.slotsKey("call-9")
	if err != nil {
		t.Fatalf("slotsKey() error = %v", err)
	}
	if got != "vb:call-9:slots" {
		t.Fatalf("slotsKey() = %q", got)
	}
	if _, err := store.sessionKey("  "); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("sessionKey(blank) error = %v, want ErrInvalidSession", err)
	}
}

func TestMemoryKVSweep(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	kv := NewMemoryKV(WithMemoryClock(clock.Now))

	_ = kv.Set(ctx, "short", []byte("a"), time.Second)
	_ = kv.Set(ctx, "long", []byte("b"), time.Hour)
	_ = kv.Set(ctx, "forever", []byte("c"), 0)

	clock.Advance(time.Minute)
	n, err := kv.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if n != 1 || kv.Len() != 2 {
		t.Fatalf("Sweep() removed %d, remaining %d", n, kv.Len())
	}
	if _, err := kv.Get(ctx, "short"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(short) error = %v, want ErrNotFound", err)
	}
}

func TestNewStoreRejectsNilBackend(t *testing.T) {
	t.Parallel()

	if _, err := NewStore(nil); err == nil {
		t.Fatalf("NewStore(nil) should fail")
	}
}
