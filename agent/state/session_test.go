package state

import (
	"errors"
	"testing"
	"time"

	contractx "github.com/tanpawarit/chative-voicebot/agent/contract"
)

func TestCallSessionAppendTurnAndHistory(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	sess := NewCallSession("+79990001122", now)

	texts := []string{"hi", "hello", "slots?", "here", "book first"}
	for i, text := range texts {
		role := contractx.RoleCaller
		if i%2 == 1 {
			role = contractx.RoleAssistant
		}
		if err := sess.AppendTurn(role, text, now.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("AppendTurn(%d) error = %v", i, err)
		}
	}

	got := sess.History(2)
	if len(got) != 2 || got[0].Text != "here" || got[1].Text != "book first" {
		t.Fatalf("History(2) = %#v", got)
	}
	if len(sess.History(0)) != len(texts) {
		t.Fatalf("History(0) len = %d, want %d", len(sess.History(0)), len(texts))
	}

	got[0].Text = "mutated"
	if sess.Turns[3].Text != "here" {
		t.Fatalf("History must return a copy")
	}
	if !sess.LastActivity.Equal(now.Add(4 * time.Second)) {
		t.Fatalf("LastActivity = %v", sess.LastActivity)
	}
}

func TestCallSessionAppendTurnRejectsUnknownRole(t *testing.T) {
	t.Parallel()

	sess := NewCallSession("c", time.Now())
	err := sess.AppendTurn(contractx.Role("system"), "x", time.Now())
	if !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("AppendTurn() error = %v, want ErrInvalidRole", err)
	}
	if !sess.IsEmpty() {
		t.Fatalf("session should stay empty")
	}
}

func TestCallSessionExpired(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	sess := NewCallSession("c", now)

	if sess.Expired(now.Add(300*time.Second), 300*time.Second) {
		t.Fatalf("session at exactly ttl should not be expired")
	}
	if !sess.Expired(now.Add(301*time.Second), 300*time.Second) {
		t.Fatalf("session past ttl should be expired")
	}
	if sess.Expired(now.Add(24*time.Hour), 0) {
		t.Fatalf("zero ttl never expires")
	}
}

func TestCallSessionValidate(t *testing.T) {
	t.Parallel()

	var nilSess *CallSession
	if !errors.Is(nilSess.Validate(), ErrNilSession) {
		t.Fatalf("nil session should fail with ErrNilSession")
	}
	if !errors.Is((&CallSession{CallerID: " "}).Validate(), ErrInvalidSession) {
		t.Fatalf("blank caller id should fail with ErrInvalidSession")
	}
	if !errors.Is((&CallSession{CallerID: "c", Stage: "dancing"}).Validate(), ErrInvalidStage) {
		t.Fatalf("unknown stage should fail with ErrInvalidStage")
	}
}
