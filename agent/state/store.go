package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/chative-voicebot/agent/contract"
)

var (
	ErrNotFound       = errors.New("key not found")
	ErrInvalidSession = errors.New("session id is empty")
)

const (
	defaultKeyPrefix  = "call:"
	defaultSessionTTL = 300 * time.Second
	defaultSlotTTL    = time.Hour
)

// Store is the call-scoped state contract used by the orchestrator.
// Conversational memory is keyed by caller id, slot offers by call id, and
// the two expire independently.
type Store interface {
	GetOrCreate(ctx context.Context, callerID string) (*CallSession, error)
	AppendTurn(ctx context.Context, callerID string, role contractx.Role, text string) error
	SetStage(ctx context.Context, callerID string, stage Stage) error
	SetSlots(ctx context.Context, callID string, slots []contractx.Slot, ttl time.Duration) error
	GetSlots(ctx context.Context, callID string) ([]contractx.Slot, error)
	Clear(ctx context.Context, callerID, callID string) error
}

// KV is a byte store with per-key expiry. Get returns ErrNotFound for
// missing or expired keys; Del of a missing key is not an error.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// Sweeper is implemented by backends that need expired entries purged.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

type Config struct {
	TTL           time.Duration `envconfig:"TTL" default:"300s"`
	SlotTTL       time.Duration `split_words:"true" default:"3600s"`
	KeyPrefix     string        `split_words:"true" default:"call:"`
	SweepInterval time.Duration `split_words:"true" default:"1m"`
}

// StoreOption customizes KVStore.
type StoreOption func(*KVStore)

func WithKeyPrefix(prefix string) StoreOption {
	return func(s *KVStore) {
		trimmed := strings.TrimSpace(prefix)
		if trimmed != "" {
			s.keyPrefix = trimmed
		}
	}
}

func WithTTL(ttl time.Duration) StoreOption {
	return func(s *KVStore) {
		s.ttl = ttl
	}
}

func WithSlotTTL(ttl time.Duration) StoreOption {
	return func(s *KVStore) {
		s.slotTTL = ttl
	}
}

func WithClock(now func() time.Time) StoreOption {
	return func(s *KVStore) {
		if now != nil {
			s.now = now
		}
	}
}

// FromConfig turns cfg into store options.
func FromConfig(cfg Config) []StoreOption {
	return []StoreOption{
		WithTTL(cfg.TTL),
		WithSlotTTL(cfg.SlotTTL),
		WithKeyPrefix(cfg.KeyPrefix),
	}
}

// KVStore implements Store on top of any KV backend.
type KVStore struct {
	kv        KV
	keyPrefix string
	ttl       time.Duration
	slotTTL   time.Duration
	now       func() time.Time
}

var _ Store = (*KVStore)(nil)

func NewStore(kv KV, opts ...StoreOption) (*KVStore, error) {
	if kv == nil {
		return nil, errors.New("kv backend is required")
	}

	store := &KVStore{
		kv:        kv,
		keyPrefix: defaultKeyPrefix,
		ttl:       defaultSessionTTL,
		slotTTL:   defaultSlotTTL,
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}

	if store.ttl < 0 || store.slotTTL < 0 {
		return nil, errors.New("ttl must be >= 0")
	}
	return store, nil
}

func (s *KVStore) GetOrCreate(ctx context.Context, callerID string) (*CallSession, error) {
	key, err := s.sessionKey(callerID)
	if err != nil {
		return nil, err
	}
	now := s.now()

	raw, err := s.kv.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return NewCallSession(callerID, now), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	var sess CallSession
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	if err := sess.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session loaded from store: %w", err)
	}
	if sess.Expired(now, s.ttl) {
		return NewCallSession(callerID, now), nil
	}
	return &sess, nil
}

func (s *KVStore) AppendTurn(ctx context.Context, callerID string, role contractx.Role, text string) error {
	sess, err := s.GetOrCreate(ctx, callerID)
	if err != nil {
		return err
	}
	if err := sess.AppendTurn(role, text, s.now()); err != nil {
		return err
	}
	return s.save(ctx, sess)
}

func (s *KVStore) SetStage(ctx context.Context, callerID string, stage Stage) error {
	if !stage.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStage, stage)
	}
	sess, err := s.GetOrCreate(ctx, callerID)
	if err != nil {
		return err
	}
	sess.Stage = stage
	sess.Touch(s.now())
	return s.save(ctx, sess)
}

func (s *KVStore) SetSlots(ctx context.Context, callID string, slots []contractx.Slot, ttl time.Duration) error {
	key, err := s.slotsKey(callID)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = s.slotTTL
	}
	if slots == nil {
		slots = []contractx.Slot{}
	}

	payload, err := json.Marshal(slots)
	if err != nil {
		return fmt.Errorf("marshal slots: %w", err)
	}
	return s.kv.Set(ctx, key, payload, ttl)
}

// GetSlots returns the cached offer for callID, or nil when nothing is cached.
func (s *KVStore) GetSlots(ctx context.Context, callID string) ([]contractx.Slot, error) {
	key, err := s.slotsKey(callID)
	if err != nil {
		return nil, err
	}

	raw, err := s.kv.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load slots: %w", err)
	}

	var slots []contractx.Slot
	if err := json.Unmarshal(raw, &slots); err != nil {
		return nil, fmt.Errorf("unmarshal slots: %w", err)
	}
	return slots, nil
}

// Clear drops the caller's history and the call's slot offer. Clearing
// already-cleared state is a no-op.
func (s *KVStore) Clear(ctx context.Context, callerID, callID string) error {
	keys := make([]string, 0, 2)
	if key, err := s.sessionKey(callerID); err == nil {
		keys = append(keys, key)
	}
	if key, err := s.slotsKey(callID); err == nil {
		keys = append(keys, key)
	}
	if len(keys) == 0 {
		return ErrInvalidSession
	}
	return s.kv.Del(ctx, keys...)
}

func (s *KVStore) save(ctx context.Context, sess *CallSession) error {
	if err := sess.Validate(); err != nil {
		return err
	}
	key, err := s.sessionKey(sess.CallerID)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	return s.kv.Set(ctx, key, payload, s.ttl)
}

func (s *KVStore) sessionKey(callerID string) (string, error) {
	callerID = strings.TrimSpace(callerID)
	if callerID == "" {
		return "", ErrInvalidSession
	}
	return s.keyPrefix + callerID + ":session", nil
}

func (s *KVStore) slotsKey(callID string) (string, error) {
	callID = strings.TrimSpace(callID)
	if callID == "" {
		return "", ErrInvalidSession
	}
	return s.keyPrefix + callID + ":slots", nil
}

func ttlSeconds(ttl time.Duration) int64 {
	seconds := ttl / time.Second
	if seconds <= 0 {
		return 1
	}
	if ttl%time.Second != 0 {
		seconds++
	}
	return int64(seconds)
}
