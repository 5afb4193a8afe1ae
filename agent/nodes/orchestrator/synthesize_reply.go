package orchestratornode

import (
	"context"
	"fmt"

	contractx "github.com/tanpawarit/chative-voicebot/agent/contract"
)

// SynthesizeReply voices the reply text and stores the playback URL.
func SynthesizeReply(ctx context.Context, in *GraphState, publisher contractx.Publisher) (*GraphState, error) {
	if in == nil {
		return nil, ErrNilGraphState
	}

	url, err := publisher.Publish(ctx, in.ReplyText)
	if err != nil {
		return nil, fmt.Errorf("synthesize reply: %w", err)
	}
	in.PlaybackURL = url
	return in, nil
}
