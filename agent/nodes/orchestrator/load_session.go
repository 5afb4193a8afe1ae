package orchestratornode

import (
	"context"

	"github.com/rs/zerolog/log"

	statex "github.com/tanpawarit/chative-voicebot/agent/state"
)

// LoadSession fetches the caller's conversation. An unreachable store never
// fails the turn; the caller just gets a fresh session.
func LoadSession(ctx context.Context, in *GraphState, store statex.Store, historyLimit int) (*GraphState, error) {
	if in == nil {
		return nil, ErrNilGraphState
	}

	sess, err := store.GetOrCreate(ctx, in.CallerID)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("failed to load call session, starting fresh")
		sess = statex.NewCallSession(in.CallerID, in.Now)
	}

	in.Session = sess
	in.History = sess.History(historyLimit)
	return in, nil
}
