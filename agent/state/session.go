package state

import (
	"errors"
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/chative-voicebot/agent/contract"
)

// Stage marks where a call is in the dialogue loop:
// idle -> listening -> resolved -> (slots_offered | booking_attempted | closing) -> idle.
type Stage string

const (
	StageIdle             Stage = "idle"
	StageListening        Stage = "listening"
	StageResolved         Stage = "resolved"
	StageSlotsOffered     Stage = "slots_offered"
	StageBookingAttempted Stage = "booking_attempted"
	StageClosing          Stage = "closing"
)

func (s Stage) Valid() bool {
	switch s {
	case StageIdle, StageListening, StageResolved, StageSlotsOffered, StageBookingAttempted, StageClosing:
		return true
	}
	return false
}

// CallSession is the conversational memory for one calling line.
type CallSession struct {
	CallerID     string           `json:"caller_id"`
	Turns        []contractx.Turn `json:"turns,omitempty"`
	Stage        Stage            `json:"stage"`
	CreatedAt    time.Time        `json:"created_at"`
	LastActivity time.Time        `json:"last_activity"`
}

var (
	ErrNilSession   = errors.New("call session is nil")
	ErrInvalidRole  = errors.New("turn role is invalid")
	ErrInvalidStage = errors.New("session stage is invalid")
)

func NewCallSession(callerID string, now time.Time) *CallSession {
	return &CallSession{
		CallerID:     callerID,
		Stage:        StageIdle,
		CreatedAt:    now.UTC(),
		LastActivity: now.UTC(),
	}
}

func (s *CallSession) Touch(now time.Time) {
	s.LastActivity = now.UTC()
}

// Expired reports whether the session has been inactive for longer than ttl.
// A non-positive ttl never expires.
func (s *CallSession) Expired(now time.Time, ttl time.Duration) bool {
	if s == nil || ttl <= 0 || s.LastActivity.IsZero() {
		return false
	}
	return now.Sub(s.LastActivity) > ttl
}

func (s *CallSession) AppendTurn(role contractx.Role, text string, now time.Time) error {
	if s == nil {
		return ErrNilSession
	}
	if !role.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	s.Turns = append(s.Turns, contractx.Turn{Role: role, Text: text})
	s.Touch(now)
	return nil
}

// History returns a copy of the last limit turns; limit <= 0 means all.
func (s *CallSession) History(limit int) []contractx.Turn {
	if s == nil || len(s.Turns) == 0 {
		return nil
	}
	start := 0
	if limit > 0 && len(s.Turns) > limit {
		start = len(s.Turns) - limit
	}
	out := make([]contractx.Turn, len(s.Turns)-start)
	copy(out, s.Turns[start:])
	return out
}

func (s *CallSession) IsEmpty() bool {
	return s == nil || len(s.Turns) == 0
}

func (s *CallSession) Validate() error {
	if s == nil {
		return ErrNilSession
	}
	if strings.TrimSpace(s.CallerID) == "" {
		return ErrInvalidSession
	}
	if s.Stage != "" && !s.Stage.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStage, s.Stage)
	}
	for i, t := range s.Turns {
		if !t.Role.Valid() {
			return fmt.Errorf("%w: turn %d has role %q", ErrInvalidRole, i, t.Role)
		}
	}
	return nil
}
