package orchestratornode

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/chative-voicebot/agent/contract"
	statex "github.com/tanpawarit/chative-voicebot/agent/state"
)

func MatchFAQ(ctx context.Context, in *GraphState, faq contractx.FAQMatcher) (*GraphState, error) {
	if in == nil {
		return nil, ErrNilGraphState
	}
	if faq == nil {
		return in, nil
	}

	answer, ok := faq.Match(in.Transcript)
	if !ok || strings.TrimSpace(answer) == "" {
		return in, nil
	}

	log.Ctx(ctx).Info().Msg("answered from faq")
	in.FAQHit = true
	in.Directive = contractx.Say(answer)
	in.ReplyText = answer
	in.Stage = statex.StageResolved
	return in, nil
}
