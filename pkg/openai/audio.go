package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	contractx "github.com/tanpawarit/chative-voicebot/agent/contract"
	"github.com/tanpawarit/chative-voicebot/pkg/retry"
)

const maxAudioBytes = 16 << 20

type AudioConfig struct {
	APIKey   string        `envconfig:"API_KEY" split_words:"true"`
	BaseURL  string        `envconfig:"BASE_URL" split_words:"true" default:"https://api.openai.com/v1"`
	STTModel string        `envconfig:"STT_MODEL" split_words:"true" default:"whisper-1"`
	TTSModel string        `envconfig:"TTS_MODEL" split_words:"true" default:"tts-1"`
	Voice    string        `envconfig:"VOICE" default:"alloy"`
	Language string        `envconfig:"LANGUAGE" default:"ru"`
	Format   string        `envconfig:"FORMAT" default:"mp3"`
	Timeout  time.Duration `envconfig:"TIMEOUT" default:"30s"`
}

// AudioClient provides speech recognition and synthesis through the OpenAI
// audio endpoints.
type AudioClient struct {
	sdk    openaisdk.Client
	cfg    AudioConfig
	policy retry.Policy
	extra  []option.RequestOption
}

type AudioOption func(*AudioClient)

func WithRetry(p retry.Policy) AudioOption {
	return func(c *AudioClient) {
		c.policy = p
	}
}

// WithRequestOptions appends raw SDK options, e.g. a test HTTP client.
func WithRequestOptions(opts ...option.RequestOption) AudioOption {
	return func(c *AudioClient) {
		c.extra = append(c.extra, opts...)
	}
}

var (
	_ contractx.Transcriber = (*AudioClient)(nil)
	_ contractx.Synthesizer = (*AudioClient)(nil)
)

func NewAudioClient(cfg AudioConfig, opts ...AudioOption) (*AudioClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("%w: openai audio api key is required", contractx.ErrValidation)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if strings.TrimSpace(cfg.Format) == "" {
		cfg.Format = "mp3"
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
		option.WithRequestTimeout(cfg.Timeout),
		option.WithMaxRetries(0),
	}
	if trimmed := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"); trimmed != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(trimmed))
	}

	c := &AudioClient{
		cfg:    cfg,
		policy: retry.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	c.sdk = openaisdk.NewClient(append(reqOpts, c.extra...)...)
	return c, nil
}

func (c *AudioClient) Transcribe(ctx context.Context, audio []byte) (string, error) {
	if len(audio) == 0 {
		return "", nil
	}

	return retry.Do(ctx, c.policy.Named("openai.transcribe"), func(ctx context.Context) (string, error) {
		params := openaisdk.AudioTranscriptionNewParams{
			File:  openaisdk.File(bytes.NewReader(audio), "recording."+c.cfg.Format, "audio/mpeg"),
			Model: openaisdk.AudioModel(c.cfg.STTModel),
		}
		if lang := strings.TrimSpace(c.cfg.Language); lang != "" {
			params.Language = openaisdk.String(lang)
		}

		res, err := c.sdk.Audio.Transcriptions.New(ctx, params)
		if err != nil {
			return "", fmt.Errorf("%w: openai transcription: %v", contractx.ErrProvider, err)
		}
		return strings.TrimSpace(res.Text), nil
	})
}

func (c *AudioClient) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("openai: nothing to synthesize")
	}

	return retry.Do(ctx, c.policy.Named("openai.synthesize"), func(ctx context.Context) ([]byte, error) {
		resp, err := c.sdk.Audio.Speech.New(ctx, openaisdk.AudioSpeechNewParams{
			Input:          text,
			Model:          openaisdk.SpeechModel(c.cfg.TTSModel),
			Voice:          openaisdk.AudioSpeechNewParamsVoice(c.cfg.Voice),
			ResponseFormat: openaisdk.AudioSpeechNewParamsResponseFormat(c.cfg.Format),
		})
		if err != nil {
			return nil, fmt.Errorf("%w: openai speech: %v", contractx.ErrProvider, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("%w: openai speech status=%d", contractx.ErrProvider, resp.StatusCode)
		}
		audio, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes))
		if err != nil {
			return nil, fmt.Errorf("read openai speech: %w", err)
		}
		return audio, nil
	})
}

// Format is the container of synthesized audio, used as the file extension.
func (c *AudioClient) Format() string {
	return c.cfg.Format
}
