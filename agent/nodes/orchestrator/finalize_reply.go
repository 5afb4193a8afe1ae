package orchestratornode

import (
	contractx "github.com/tanpawarit/chative-voicebot/agent/contract"
)

// FinalizeReply answers with the playback URL for spoken turns and with the
// status otherwise.
func FinalizeReply(in *GraphState) (GraphOutput, error) {
	if in == nil {
		return GraphOutput{}, ErrNilGraphState
	}

	if in.PlaybackURL == "" {
		status := in.Status
		if status == "" {
			status = contractx.StatusOK
		}
		return GraphOutput{Reply: contractx.Reply{Status: status}}, nil
	}
	return GraphOutput{Reply: contractx.Reply{
		PlaybackURL: in.PlaybackURL,
		Text:        in.ReplyText,
	}}, nil
}
