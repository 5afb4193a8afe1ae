// Package gcpspeech recognizes caller audio with Google Cloud Speech-to-Text.
package gcpspeech

import (
	"context"
	"fmt"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/api/option"

	contractx "github.com/tanpawarit/chative-voicebot/agent/contract"
	"github.com/tanpawarit/chative-voicebot/pkg/retry"
)

type Config struct {
	CredentialsFile string `envconfig:"CREDENTIALS_FILE" split_words:"true"`
	Language        string `envconfig:"LANGUAGE" default:"ru-RU"`
	// Encoding is a RecognitionConfig_AudioEncoding name. Empty lets the
	// service read WAV/FLAC headers.
	Encoding        string `envconfig:"ENCODING" default:""`
	SampleRateHertz int32  `envconfig:"SAMPLE_RATE_HERTZ" split_words:"true" default:"0"`
}

type recognizeFunc func(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error)

// Client implements Transcriber on top of the Recognize RPC.
type Client struct {
	cfg       Config
	encoding  speechpb.RecognitionConfig_AudioEncoding
	recognize recognizeFunc
	close     func() error
	policy    retry.Policy
}

type Option func(*Client)

func WithRetry(p retry.Policy) Option {
	return func(c *Client) {
		c.policy = p
	}
}

var _ contractx.Transcriber = (*Client)(nil)

func New(ctx context.Context, cfg Config, opts ...Option) (*Client, error) {
	var clientOpts []option.ClientOption
	if path := strings.TrimSpace(cfg.CredentialsFile); path != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(path))
	}

	sc, err := speech.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: create speech client: %v", contractx.ErrProvider, err)
	}

	c, err := newClient(cfg, func(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
		return sc.Recognize(ctx, req)
	}, opts...)
	if err != nil {
		_ = sc.Close()
		return nil, err
	}
	c.close = sc.Close
	return c, nil
}

func newClient(cfg Config, recognize recognizeFunc, opts ...Option) (*Client, error) {
	encoding, err := parseEncoding(cfg.Encoding)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.Language) == "" {
		cfg.Language = "ru-RU"
	}

	c := &Client{
		cfg:       cfg,
		encoding:  encoding,
		recognize: recognize,
		close:     func() error { return nil },
		policy:    retry.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

func parseEncoding(name string) (speechpb.RecognitionConfig_AudioEncoding, error) {
	name = strings.ToUpper(strings.TrimSpace(name))
	if name == "" {
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED, nil
	}
	v, ok := speechpb.RecognitionConfig_AudioEncoding_value[name]
	if !ok {
		return 0, fmt.Errorf("%w: unknown speech encoding %q", contractx.ErrValidation, name)
	}
	return speechpb.RecognitionConfig_AudioEncoding(v), nil
}

func (c *Client) Close() error {
	return c.close()
}

// Transcribe joins the top alternative of every result.
func (c *Client) Transcribe(ctx context.Context, audio []byte) (string, error) {
	if len(audio) == 0 {
		return "", nil
	}

	req := &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:        c.encoding,
			SampleRateHertz: c.cfg.SampleRateHertz,
			LanguageCode:    c.cfg.Language,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: audio},
		},
	}

	return retry.Do(ctx, c.policy.Named("gcpspeech.transcribe"), func(ctx context.Context) (string, error) {
		resp, err := c.recognize(ctx, req)
		if err != nil {
			return "", fmt.Errorf("%w: google recognize: %v", contractx.ErrProvider, err)
		}

		parts := make([]string, 0, len(resp.GetResults()))
		for _, result := range resp.GetResults() {
			alts := result.GetAlternatives()
			if len(alts) == 0 {
				continue
			}
			if text := strings.TrimSpace(alts[0].GetTranscript()); text != "" {
				parts = append(parts, text)
			}
		}
		return strings.Join(parts, " "), nil
	})
}
