package orchestratornode

import (
	"context"

	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/chative-voicebot/agent/contract"
	statex "github.com/tanpawarit/chative-voicebot/agent/state"
)

// RecordTurns appends the caller's words and the reply to the session and
// stores the stage reached. Persist failures only cost history.
func RecordTurns(ctx context.Context, in *GraphState, store statex.Store) (*GraphState, error) {
	if in == nil {
		return nil, ErrNilGraphState
	}

	if err := store.AppendTurn(ctx, in.CallerID, contractx.RoleCaller, in.Transcript); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("failed to record caller turn")
	}
	if in.ReplyText != "" {
		if err := store.AppendTurn(ctx, in.CallerID, contractx.RoleAssistant, in.ReplyText); err != nil {
			log.Ctx(ctx).Warn().Err(err).Msg("failed to record assistant turn")
		}
	}
	if err := store.SetStage(ctx, in.CallerID, in.Stage); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("stage", string(in.Stage)).Msg("failed to record stage")
	}
	return in, nil
}
