package prompt

import (
	"errors"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
)

// LoadSystemPrompt reads the intent system prompt from path. A missing file
// yields an empty prompt.
func LoadSystemPrompt(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Warn().Str("path", path).Msg("system prompt not found, using empty prompt")
		} else {
			log.Warn().Err(err).Str("path", path).Msg("failed to read system prompt")
		}
		return ""
	}
	return strings.TrimSpace(string(raw))
}
