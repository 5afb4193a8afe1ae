package orchestratornode

import (
	"errors"
	"strings"
	"time"

	contractx "github.com/tanpawarit/chative-voicebot/agent/contract"
	statex "github.com/tanpawarit/chative-voicebot/agent/state"
)

const UnknownCaller = contractx.UnknownCaller

var ErrNilGraphState = errors.New("graph state is nil")

type GraphInput struct {
	Event contractx.Event
}

type GraphOutput struct {
	Reply contractx.Reply
}

// GraphState carries one webhook event through the graph.
type GraphState struct {
	EventType    contractx.EventType
	CallerID     string
	CallID       string
	RecordingURL string
	Now          time.Time

	Transcript string
	Session    *statex.CallSession
	History    []contractx.Turn

	FAQHit        bool
	ResolveFailed bool
	Directive     contractx.Directive
	Stage         statex.Stage

	ReplyText   string
	PlaybackURL string
	Status      string
}

// SlotKey names the slot offer for this call. Events without a call id fall
// back to the caller id so an offer can still be booked on the next turn.
func (s *GraphState) SlotKey() string {
	if s.CallID != "" {
		return s.CallID
	}
	return s.CallerID
}

func ValidateEvent(in GraphInput, nowFn func() time.Time) (*GraphState, error) {
	callerID := contractx.NormalizeCallerID(in.Event.CallerID)

	return &GraphState{
		EventType:    contractx.EventType(strings.TrimSpace(string(in.Event.Type))),
		CallerID:     callerID,
		CallID:       strings.TrimSpace(in.Event.CallID),
		RecordingURL: strings.TrimSpace(in.Event.RecordingURL),
		Now:          nowFn().UTC(),
		Stage:        statex.StageIdle,
	}, nil
}
