// Package speechkit is a client for Yandex SpeechKit recognition and
// synthesis over REST.
package speechkit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	contractx "github.com/tanpawarit/chative-voicebot/agent/contract"
	"github.com/tanpawarit/chative-voicebot/pkg/retry"
)

const (
	maxResponseSizeBytes = 16 << 20
	iamRefreshMargin     = 5 * time.Minute
	defaultIAMLifetime   = 12 * time.Hour
)

type Config struct {
	APIKey     string        `envconfig:"API_KEY" split_words:"true"`
	IAMToken   string        `envconfig:"IAM_TOKEN" split_words:"true"`
	OAuthToken string        `envconfig:"OAUTH_TOKEN" split_words:"true"`
	FolderID   string        `envconfig:"FOLDER_ID" split_words:"true"`
	Lang       string        `envconfig:"LANG" default:"ru-RU"`
	Voice      string        `envconfig:"VOICE" default:"alena"`
	Format     string        `envconfig:"FORMAT" default:"mp3"`
	STTFormat  string        `envconfig:"STT_FORMAT" split_words:"true" default:"oggopus"`
	STTURL     string        `envconfig:"STT_URL" split_words:"true" default:"https://stt.api.cloud.yandex.net/speech/v1/stt:recognize"`
	TTSURL     string        `envconfig:"TTS_URL" split_words:"true" default:"https://tts.api.cloud.yandex.net/speech/v1/tts:synthesize"`
	IAMURL     string        `envconfig:"IAM_URL" split_words:"true" default:"https://iam.api.cloud.yandex.net/iam/v1/tokens"`
	Timeout    time.Duration `envconfig:"TIMEOUT" default:"15s"`
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" && strings.TrimSpace(c.IAMToken) == "" && strings.TrimSpace(c.OAuthToken) == "" {
		return fmt.Errorf("%w: speechkit needs an api key, iam token or oauth token", contractx.ErrValidation)
	}
	return nil
}

// Client implements Transcriber and Synthesizer. When configured with an
// OAuth token it exchanges it for an IAM token and caches the result.
type Client struct {
	cfg        Config
	httpClient *http.Client
	policy     retry.Policy
	now        func() time.Time

	mu        sync.Mutex
	iamToken  string
	iamExpiry time.Time
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func WithRetry(p retry.Policy) Option {
	return func(c *Client) {
		c.policy = p
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

var (
	_ contractx.Transcriber = (*Client)(nil)
	_ contractx.Synthesizer = (*Client)(nil)
)

func New(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if strings.TrimSpace(cfg.Format) == "" {
		cfg.Format = "mp3"
	}

	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		policy:     retry.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// Format is the synthesized audio container, used as the file extension.
func (c *Client) Format() string {
	return c.cfg.Format
}

// Authenticate returns the Authorization header value for SpeechKit calls.
func (c *Client) Authenticate(ctx context.Context) (string, error) {
	if key := strings.TrimSpace(c.cfg.APIKey); key != "" {
		return "Api-Key " + key, nil
	}
	if token := strings.TrimSpace(c.cfg.IAMToken); token != "" {
		return "Bearer " + token, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.iamToken != "" && c.now().Before(c.iamExpiry.Add(-iamRefreshMargin)) {
		return "Bearer " + c.iamToken, nil
	}

	token, expiry, err := c.exchangeOAuth(ctx)
	if err != nil {
		return "", err
	}
	c.iamToken, c.iamExpiry = token, expiry
	return "Bearer " + token, nil
}

func (c *Client) invalidateToken() {
	c.mu.Lock()
	c.iamToken = ""
	c.iamExpiry = time.Time{}
	c.mu.Unlock()
}

type iamResponse struct {
	IAMToken  string `json:"iamToken"`
	ExpiresAt string `json:"expiresAt"`
}

func (c *Client) exchangeOAuth(ctx context.Context) (string, time.Time, error) {
	body, err := json.Marshal(map[string]string{"yandexPassportOauthToken": strings.TrimSpace(c.cfg.OAuthToken)})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("marshal iam request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.IAMURL, bytes.NewReader(body))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("build iam request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	raw, status, err := c.do(req)
	if err != nil {
		return "", time.Time{}, err
	}
	if status != http.StatusOK {
		return "", time.Time{}, fmt.Errorf("%w: iam token exchange status=%d body=%s", contractx.ErrUnauthorized, status, raw)
	}

	var parsed iamResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", time.Time{}, fmt.Errorf("decode iam response: %w", err)
	}
	if strings.TrimSpace(parsed.IAMToken) == "" {
		return "", time.Time{}, fmt.Errorf("%w: iam response without token", contractx.ErrUnauthorized)
	}

	expiry, err := time.Parse(time.RFC3339Nano, parsed.ExpiresAt)
	if err != nil {
		expiry = c.now().Add(defaultIAMLifetime)
	}
	return parsed.IAMToken, expiry, nil
}

type recognizeResponse struct {
	Result       string `json:"result"`
	ErrorCode    string `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

// Transcribe recognizes a short utterance. Silence comes back as "".
func (c *Client) Transcribe(ctx context.Context, audio []byte) (string, error) {
	if len(audio) == 0 {
		return "", nil
	}

	return retry.Do(ctx, c.policy.Named("speechkit.transcribe"), func(ctx context.Context) (string, error) {
		q := url.Values{}
		if c.cfg.Lang != "" {
			q.Set("lang", c.cfg.Lang)
		}
		if c.cfg.STTFormat != "" {
			q.Set("format", c.cfg.STTFormat)
		}
		if c.cfg.FolderID != "" {
			q.Set("folderId", c.cfg.FolderID)
		}
		endpoint := c.cfg.STTURL
		if encoded := q.Encode(); encoded != "" {
			endpoint += "?" + encoded
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(audio))
		if err != nil {
			return "", fmt.Errorf("build stt request: %w", err)
		}
		req.Header.Set("Content-Type", "application/octet-stream")

		raw, err := c.authorized(ctx, req)
		if err != nil {
			return "", err
		}

		var parsed recognizeResponse
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return "", fmt.Errorf("decode stt response: %w", err)
		}
		if parsed.ErrorCode != "" {
			return "", fmt.Errorf("%w: speechkit stt %s: %s", contractx.ErrProvider, parsed.ErrorCode, parsed.ErrorMessage)
		}
		return strings.TrimSpace(parsed.Result), nil
	})
}

// Synthesize returns encoded audio for text in the configured voice.
func (c *Client) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("speechkit: nothing to synthesize")
	}

	return retry.Do(ctx, c.policy.Named("speechkit.synthesize"), func(ctx context.Context) ([]byte, error) {
		form := url.Values{}
		form.Set("text", text)
		form.Set("lang", c.cfg.Lang)
		form.Set("voice", c.cfg.Voice)
		form.Set("format", c.cfg.Format)
		if c.cfg.FolderID != "" {
			form.Set("folderId", c.cfg.FolderID)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TTSURL, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, fmt.Errorf("build tts request: %w", err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		raw, err := c.authorized(ctx, req)
		if err != nil {
			return nil, err
		}
		if len(raw) == 0 {
			return nil, fmt.Errorf("%w: speechkit tts returned no audio", contractx.ErrProvider)
		}
		return raw, nil
	})
}

// authorized sends req with credentials and returns the 2xx body. A 401
// drops the cached IAM token so the next attempt re-authenticates.
func (c *Client) authorized(ctx context.Context, req *http.Request) ([]byte, error) {
	header, err := c.Authenticate(ctx)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", header)

	raw, status, err := c.do(req)
	if err != nil {
		return nil, err
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		c.invalidateToken()
		return nil, fmt.Errorf("%w: speechkit status=%d", contractx.ErrUnauthorized, status)
	case status < http.StatusOK || status >= http.StatusMultipleChoices:
		return nil, fmt.Errorf("%w: speechkit status=%d body=%s", contractx.ErrProvider, status, raw)
	}
	return raw, nil
}

func (c *Client) do(req *http.Request) ([]byte, int, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: execute speechkit request: %v", contractx.ErrProvider, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSizeBytes))
	if err != nil {
		return nil, 0, fmt.Errorf("read speechkit response: %w", err)
	}
	return raw, resp.StatusCode, nil
}
