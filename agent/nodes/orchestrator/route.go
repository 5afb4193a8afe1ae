package orchestratornode

import (
	"context"

	contractx "github.com/tanpawarit/chative-voicebot/agent/contract"
)

const (
	NodeValidateEvent   = "validate_event"
	NodeClearSession    = "clear_session"
	NodeAcknowledge     = "acknowledge"
	NodeTranscribe      = "transcribe"
	NodeLoadSession     = "load_session"
	NodeMatchFAQ        = "match_faq"
	NodeResolveIntent   = "resolve_intent"
	NodeDispatchAction  = "dispatch_action"
	NodeRecordTurns     = "record_turns"
	NodeSynthesizeReply = "synthesize_reply"
	NodeFinalizeReply   = "finalize_reply"
)

// RouteEvent: End clears, a captured utterance is transcribed, anything else
// is acknowledged.
func RouteEvent(_ context.Context, in *GraphState) (string, error) {
	if in == nil {
		return "", ErrNilGraphState
	}
	switch {
	case in.EventType == contractx.EventEnd:
		return NodeClearSession, nil
	case in.EventType == contractx.EventSpeechCaptured && in.RecordingURL != "":
		return NodeTranscribe, nil
	default:
		return NodeAcknowledge, nil
	}
}

// RouteTranscript skips the conversation entirely when nothing was heard.
func RouteTranscript(_ context.Context, in *GraphState) (string, error) {
	if in == nil {
		return "", ErrNilGraphState
	}
	if in.Transcript == "" {
		return NodeSynthesizeReply, nil
	}
	return NodeLoadSession, nil
}

func RouteFAQ(_ context.Context, in *GraphState) (string, error) {
	if in == nil {
		return "", ErrNilGraphState
	}
	if in.FAQHit {
		return NodeRecordTurns, nil
	}
	return NodeResolveIntent, nil
}
