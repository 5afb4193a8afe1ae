// Package yclients talks to the YClients booking REST API.
package yclients

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

	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/chative-voicebot/agent/contract"
	"github.com/tanpawarit/chative-voicebot/pkg/retry"
)

const (
	maxResponseSizeBytes = 2 << 20
	acceptHeader         = "application/vnd.yclients.v2+json"
	recordTimeLayout     = "2006-01-02T15:04:05"
)

type Config struct {
	PartnerToken string        `envconfig:"PARTNER_TOKEN" split_words:"true" required:"true"`
	Login        string        `envconfig:"USER_LOGIN" split_words:"true"`
	Password     string        `envconfig:"USER_PASSWORD" split_words:"true"`
	CompanyID    int           `envconfig:"COMPANY_ID" split_words:"true" required:"true"`
	ServiceIDs   []int         `envconfig:"SERVICE_IDS" split_words:"true"`
	StaffIDs     []int         `envconfig:"STAFF_IDS" split_words:"true"`
	MaxSlots     int           `envconfig:"MAX_SLOTS" split_words:"true" default:"3"`
	BaseURL      string        `envconfig:"BASE_URL" split_words:"true" default:"https://api.yclients.com/api/v1"`
	Timeout      time.Duration `envconfig:"TIMEOUT" default:"15s"`
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.PartnerToken) == "" {
		return fmt.Errorf("%w: yclients partner token is required", contractx.ErrValidation)
	}
	if c.CompanyID <= 0 {
		return fmt.Errorf("%w: yclients company id is required", contractx.ErrValidation)
	}
	if len(c.ServiceIDs) == 0 || len(c.StaffIDs) == 0 {
		return fmt.Errorf("%w: at least one service id and staff id are required", contractx.ErrValidation)
	}
	return nil
}

// Client implements contract.Scheduler. The user token obtained from /auth
// is cached and dropped whenever the API answers 401.
type Client struct {
	cfg        Config
	baseURL    string
	httpClient *http.Client
	policy     retry.Policy
	loc        *time.Location

	mu        sync.Mutex
	userToken string
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

// WithLocation sets the timezone booking datetimes are rendered in.
func WithLocation(loc *time.Location) Option {
	return func(c *Client) {
		if loc != nil {
			c.loc = loc
		}
	}
}

var _ contractx.Scheduler = (*Client)(nil)

func New(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("%w: invalid yclients base url: %v", contractx.ErrValidation, err)
	}
	if cfg.MaxSlots <= 0 {
		cfg.MaxSlots = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	c := &Client{
		cfg:        cfg,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		policy:     retry.Default(),
		loc:        time.UTC,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

func (c *Client) ServiceIDs() []int { return append([]int(nil), c.cfg.ServiceIDs...) }

func (c *Client) StaffIDs() []int { return append([]int(nil), c.cfg.StaffIDs...) }

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Meta    json.RawMessage `json:"meta"`
}

type authData struct {
	UserToken string `json:"user_token"`
}

// Authenticate returns the cached user token, logging in when there is none.
// Without login credentials the partner token alone is used.
func (c *Client) Authenticate(ctx context.Context) (string, error) {
	if strings.TrimSpace(c.cfg.Login) == "" {
		return "", nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.userToken != "" {
		return c.userToken, nil
	}

	body, err := json.Marshal(map[string]string{
		"login":    c.cfg.Login,
		"password": c.cfg.Password,
	})
	if err != nil {
		return "", fmt.Errorf("marshal auth request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build auth request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.PartnerToken)
	req.Header.Set("Accept", acceptHeader)
	req.Header.Set("Content-Type", "application/json")

	env, status, err := c.send(req)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return "", fmt.Errorf("%w: yclients auth status=%d", contractx.ErrUnauthorized, status)
	}

	var data authData
	if err := json.Unmarshal(env.Data, &data); err != nil || strings.TrimSpace(data.UserToken) == "" {
		return "", fmt.Errorf("%w: yclients auth returned no user token", contractx.ErrUnauthorized)
	}
	c.userToken = data.UserToken
	return c.userToken, nil
}

func (c *Client) invalidateToken() {
	c.mu.Lock()
	c.userToken = ""
	c.mu.Unlock()
}

// GetSlots returns up to MaxSlots bookable times on the first open date for
// the service and staff member.
func (c *Client) GetSlots(ctx context.Context, serviceID, staffID int) ([]contractx.Slot, error) {
	return retry.Do(ctx, c.policy.Named("yclients.get_slots"), func(ctx context.Context) ([]contractx.Slot, error) {
		datesPath := fmt.Sprintf("/book_dates/%d/%d", c.cfg.CompanyID, staffID)
		env, err := c.call(ctx, http.MethodGet, datesPath, nil, nil)
		if err != nil {
			return nil, err
		}
		date, ok := firstDate(env.Data)
		if !ok {
			return nil, nil
		}

		timesPath := fmt.Sprintf("/book_times/%d/%d/%d", c.cfg.CompanyID, staffID, serviceID)
		env, err = c.call(ctx, http.MethodGet, timesPath, url.Values{"date": {date}}, nil)
		if err != nil {
			return nil, err
		}

		var times []bookTime
		if err := json.Unmarshal(env.Data, &times); err != nil {
			return nil, fmt.Errorf("%w: decode book_times: %v", contractx.ErrProvider, err)
		}
		if len(times) > c.cfg.MaxSlots {
			times = times[:c.cfg.MaxSlots]
		}

		slots := make([]contractx.Slot, 0, len(times))
		for _, bt := range times {
			slots = append(slots, contractx.Slot{
				ServiceID: serviceID,
				StaffID:   staffID,
				Label:     bt.Time,
				Start:     bt.start(date, c.loc),
			})
		}
		return slots, nil
	})
}

type bookTime struct {
	Time     string `json:"time"`
	Datetime string `json:"datetime"`
}

func (b bookTime) start(date string, loc *time.Location) time.Time {
	if ts, err := time.Parse(time.RFC3339, b.Datetime); err == nil {
		return ts
	}
	if ts, err := time.ParseInLocation("2006-01-02 15:04", date+" "+b.Time, loc); err == nil {
		return ts
	}
	return time.Time{}
}

// firstDate accepts both the {"booking_dates": [...]} object and a plain
// list of {"date": ...} entries.
func firstDate(raw json.RawMessage) (string, bool) {
	var obj struct {
		BookingDates []string `json:"booking_dates"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && len(obj.BookingDates) > 0 {
		return obj.BookingDates[0], true
	}

	var list []struct {
		Date string `json:"date"`
	}
	if err := json.Unmarshal(raw, &list); err == nil && len(list) > 0 && list[0].Date != "" {
		return list[0].Date, true
	}
	return "", false
}

type recordRequest struct {
	Phone    string          `json:"phone"`
	Fullname string          `json:"fullname"`
	Services []recordService `json:"services"`
	StaffID  int             `json:"staff_id"`
	Datetime string          `json:"datetime"`
	APIID    string          `json:"api_id,omitempty"`
}

type recordService struct {
	ID int `json:"id"`
}

type recordData struct {
	ID         int64  `json:"id"`
	RecordHash string `json:"record_hash"`
}

type meta struct {
	Message string `json:"message"`
}

// CreateBooking posts a record. A rejection by YClients is reported as an
// unsuccessful result; only transport failures return an error.
func (c *Client) CreateBooking(ctx context.Context, req contractx.BookingRequest) (contractx.BookingResult, error) {
	payload := recordRequest{
		Phone:    req.Phone,
		Fullname: req.FullName,
		Services: []recordService{{ID: req.ServiceID}},
		StaffID:  req.StaffID,
		Datetime: req.Start.In(c.loc).Format(recordTimeLayout),
		APIID:    req.CallID,
	}

	return retry.Do(ctx, c.policy.Named("yclients.create_booking"), func(ctx context.Context) (contractx.BookingResult, error) {
		path := fmt.Sprintf("/records/%d", c.cfg.CompanyID)
		env, err := c.call(ctx, http.MethodPost, path, nil, payload)
		var rejected *rejectedError
		if errors.As(err, &rejected) {
			log.Ctx(ctx).Warn().Int("status", rejected.status).Str("call_id", req.CallID).Msg("yclients rejected booking")
			return contractx.BookingResult{Success: false, Message: rejected.message}, nil
		}
		if err != nil {
			return contractx.BookingResult{}, err
		}

		result := contractx.BookingResult{Success: env.Success}
		var data recordData
		if err := json.Unmarshal(env.Data, &data); err == nil {
			result.RecordID = data.ID
			result.RecordHash = data.RecordHash
		}
		var m meta
		if err := json.Unmarshal(env.Meta, &m); err == nil {
			result.Message = m.Message
		}
		return result, nil
	})
}

type rejectedError struct {
	status  int
	message string
}

func (e *rejectedError) Error() string {
	return fmt.Sprintf("yclients rejected request status=%d: %s", e.status, e.message)
}

// call performs an authenticated request. 401 invalidates the user token,
// 5xx is a provider error and other 4xx come back as *rejectedError.
func (c *Client) call(ctx context.Context, method, path string, query url.Values, body any) (*envelope, error) {
	userToken, err := c.Authenticate(ctx)
	if err != nil {
		return nil, err
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal yclients request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("build yclients request: %w", err)
	}
	auth := "Bearer " + c.cfg.PartnerToken
	if userToken != "" {
		auth += ", User " + userToken
	}
	req.Header.Set("Authorization", auth)
	req.Header.Set("Accept", acceptHeader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	env, status, err := c.send(req)
	if err != nil {
		return nil, err
	}
	switch {
	case status == http.StatusUnauthorized:
		c.invalidateToken()
		return nil, fmt.Errorf("%w: yclients %s %s", contractx.ErrUnauthorized, method, path)
	case status >= http.StatusInternalServerError || status == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: yclients %s %s status=%d", contractx.ErrProvider, method, path, status)
	case status >= http.StatusBadRequest:
		var m meta
		_ = json.Unmarshal(env.Meta, &m)
		return nil, &rejectedError{status: status, message: m.Message}
	}
	return env, nil
}

func (c *Client) send(req *http.Request) (*envelope, int, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: execute yclients request: %v", contractx.ErrProvider, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSizeBytes))
	if err != nil {
		return nil, 0, fmt.Errorf("read yclients response: %w", err)
	}

	env := &envelope{}
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, env); err != nil && resp.StatusCode < http.StatusBadRequest {
			return nil, resp.StatusCode, fmt.Errorf("%w: decode yclients response: %v", contractx.ErrProvider, err)
		}
	}
	return env, resp.StatusCode, nil
}
