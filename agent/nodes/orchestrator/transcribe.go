package orchestratornode

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/chative-voicebot/agent/contract"
	statex "github.com/tanpawarit/chative-voicebot/agent/state"
)

// Transcribe downloads the recording and converts it to text. Download or
// recognition failures are treated like silence: the caller is asked to
// repeat.
func Transcribe(
	ctx context.Context,
	in *GraphState,
	fetcher contractx.RecordingFetcher,
	stt contractx.Transcriber,
	phrases Phrases,
) (*GraphState, error) {
	if in == nil {
		return nil, ErrNilGraphState
	}
	in.Stage = statex.StageListening

	text, err := transcribeRecording(ctx, in.RecordingURL, fetcher, stt)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("speech recognition failed")
	}
	in.Transcript = strings.TrimSpace(text)

	if in.Transcript == "" {
		in.ReplyText = phrases.Clarify
		return in, nil
	}
	log.Ctx(ctx).Info().Str("transcript", in.Transcript).Msg("caller speech recognized")
	return in, nil
}

func transcribeRecording(ctx context.Context, url string, fetcher contractx.RecordingFetcher, stt contractx.Transcriber) (string, error) {
	audio, err := fetcher.Fetch(ctx, url)
	if err != nil {
		return "", err
	}
	return stt.Transcribe(ctx, audio)
}
