package orchestratornode

import (
	"context"

	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/chative-voicebot/agent/contract"
	statex "github.com/tanpawarit/chative-voicebot/agent/state"
)

// ResolveIntent asks the resolver for a directive. When the model cannot be
// reached the turn continues with an apology.
func ResolveIntent(ctx context.Context, in *GraphState, resolver contractx.IntentResolver, phrases Phrases) (*GraphState, error) {
	if in == nil {
		return nil, ErrNilGraphState
	}

	d, err := resolver.Resolve(ctx, in.History, in.Transcript)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("intent resolution failed")
		in.ResolveFailed = true
		d = contractx.Say(phrases.Apology)
	}

	in.Directive = d
	in.Stage = statex.StageResolved
	log.Ctx(ctx).Info().Str("act", d.Tag()).Msg("directive resolved")
	return in, nil
}
