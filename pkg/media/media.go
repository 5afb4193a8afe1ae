// Package media moves audio in and out of the bot: it downloads caller
// recordings and publishes synthesized replies as static files.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/chative-voicebot/agent/contract"
	"github.com/tanpawarit/chative-voicebot/pkg/retry"
)

const (
	DefaultMaxRecordingBytes = 10 << 20
	StaticRoute              = "/static"
)

// Fetcher downloads recordings over HTTP.
type Fetcher struct {
	httpClient *http.Client
	policy     retry.Policy
	maxBytes   int64
}

type FetcherOption func(*Fetcher)

func WithFetchHTTPClient(client *http.Client) FetcherOption {
	return func(f *Fetcher) {
		if client != nil {
			f.httpClient = client
		}
	}
}

func WithFetchRetry(p retry.Policy) FetcherOption {
	return func(f *Fetcher) {
		f.policy = p
	}
}

func WithMaxBytes(n int64) FetcherOption {
	return func(f *Fetcher) {
		if n > 0 {
			f.maxBytes = n
		}
	}
}

var _ contractx.RecordingFetcher = (*Fetcher)(nil)

func NewFetcher(opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		policy:     retry.Default(),
		maxBytes:   DefaultMaxRecordingBytes,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("%w: recording url %q", contractx.ErrInvalidEvent, rawURL)
	}

	return retry.Do(ctx, f.policy.Named("media.fetch_recording"), func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return nil, fmt.Errorf("build recording request: %w", err)
		}
		resp, err := f.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: download recording: %v", contractx.ErrProvider, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("%w: recording status=%d", contractx.ErrProvider, resp.StatusCode)
		}
		audio, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
		if err != nil {
			return nil, fmt.Errorf("read recording: %w", err)
		}
		if int64(len(audio)) > f.maxBytes {
			return nil, fmt.Errorf("%w: recording exceeds %d bytes", contractx.ErrInvalidEvent, f.maxBytes)
		}
		return audio, nil
	})
}

// Publisher synthesizes text, stores the audio under dir and returns the
// public URL it is served from.
type Publisher struct {
	synth   contractx.Synthesizer
	dir     string
	baseURL string
	format  string
	newName func() string
}

var _ contractx.Publisher = (*Publisher)(nil)

func NewPublisher(synth contractx.Synthesizer, dir, baseURL, format string) (*Publisher, error) {
	if synth == nil {
		return nil, errors.New("media: synthesizer is required")
	}
	dir = strings.TrimSpace(dir)
	if dir == "" {
		dir = "static"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("media: create static dir: %w", err)
	}
	format = strings.TrimPrefix(strings.TrimSpace(format), ".")
	if format == "" {
		format = "mp3"
	}

	return &Publisher{
		synth:   synth,
		dir:     dir,
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		format:  format,
		newName: func() string { return uuid.NewString() },
	}, nil
}

func (p *Publisher) Publish(ctx context.Context, text string) (string, error) {
	audio, err := p.synth.Synthesize(ctx, text)
	if err != nil {
		return "", err
	}

	name := p.newName() + "." + p.format
	path := filepath.Join(p.dir, name)
	if err := os.WriteFile(path, audio, 0o644); err != nil {
		return "", fmt.Errorf("media: write audio: %w", err)
	}

	log.Ctx(ctx).Debug().Str("file", name).Int("bytes", len(audio)).Msg("reply audio published")
	return p.baseURL + StaticRoute + "/" + name, nil
}

func (p *Publisher) Dir() string {
	return p.dir
}
