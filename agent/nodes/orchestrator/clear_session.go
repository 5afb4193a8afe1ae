package orchestratornode

import (
	"context"

	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/chative-voicebot/agent/contract"
	statex "github.com/tanpawarit/chative-voicebot/agent/state"
)

// ClearSession drops the caller's history and the call's slot offer. A store
// failure is logged; the entries still expire on their own.
func ClearSession(ctx context.Context, in *GraphState, store statex.Store) (*GraphState, error) {
	if in == nil {
		return nil, ErrNilGraphState
	}

	if err := store.Clear(ctx, in.CallerID, in.SlotKey()); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("failed to clear call state")
	}
	in.Stage = statex.StageIdle
	in.Status = contractx.StatusCleared
	return in, nil
}

func Acknowledge(in *GraphState) (*GraphState, error) {
	if in == nil {
		return nil, ErrNilGraphState
	}
	in.Status = contractx.StatusOK
	return in, nil
}
