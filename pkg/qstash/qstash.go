// Package qstash verifies webhook deliveries signed by Upstash QStash.
package qstash

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/rs/zerolog/hlog"

	contractx "github.com/tanpawarit/chative-voicebot/agent/contract"
)

const (
	SignatureHeader = "Upstash-Signature"
	issuer          = "Upstash"
	maxBodyBytes    = 1 << 20
)

var ErrInvalidSignature = errors.New("invalid qstash signature")

// Config enables verification when the current signing key is set. URL is
// the public webhook address QStash signs as the subject; empty skips that
// check.
type Config struct {
	URL               string        `split_words:"true"`
	CurrentSigningKey string        `split_words:"true"`
	NextSigningKey    string        `split_words:"true"`
	ClockSkew         time.Duration `split_words:"true" default:"30s"`
}

func (c Config) Enabled() bool {
	return strings.TrimSpace(c.CurrentSigningKey) != ""
}

type Verifier struct {
	url       string
	keys      []string
	clockSkew time.Duration
	now       func() time.Time
}

func NewVerifier(cfg Config) (*Verifier, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("%w: qstash current signing key is required", contractx.ErrValidation)
	}

	keys := []string{strings.TrimSpace(cfg.CurrentSigningKey)}
	if next := strings.TrimSpace(cfg.NextSigningKey); next != "" {
		keys = append(keys, next)
	}

	return &Verifier{
		url:       strings.TrimSpace(cfg.URL),
		keys:      keys,
		clockSkew: cfg.ClockSkew,
		now:       time.Now,
	}, nil
}

func MustNew(cfg Config) *Verifier {
	v, err := NewVerifier(cfg)
	if err != nil {
		panic(err)
	}
	return v
}

// Verify checks the signature against the current key, then the next key.
func (v *Verifier) Verify(signature string, body []byte) error {
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return fmt.Errorf("%w: missing %s header", ErrInvalidSignature, SignatureHeader)
	}

	var lastErr error
	for _, key := range v.keys {
		if err := v.verifyWithKey(signature, body, key); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}

func (v *Verifier) verifyWithKey(signature string, body []byte, key string) error {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithoutClaimsValidation())
	if _, err := parser.ParseWithClaims(signature, claims, func(*jwt.Token) (any, error) {
		return []byte(key), nil
	}); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	now := v.now()
	if !claims.VerifyExpiresAt(now.Add(-v.clockSkew).Unix(), true) {
		return fmt.Errorf("%w: token expired", ErrInvalidSignature)
	}
	if !claims.VerifyNotBefore(now.Add(v.clockSkew).Unix(), false) {
		return fmt.Errorf("%w: token not yet valid", ErrInvalidSignature)
	}
	if !claims.VerifyIssuer(issuer, true) {
		return fmt.Errorf("%w: unexpected issuer", ErrInvalidSignature)
	}
	if v.url != "" {
		if sub, _ := claims["sub"].(string); sub != v.url {
			return fmt.Errorf("%w: unexpected subject %q", ErrInvalidSignature, sub)
		}
	}

	want, _ := claims["body"].(string)
	if strings.TrimRight(want, "=") != BodyHash(body) {
		return fmt.Errorf("%w: body hash mismatch", ErrInvalidSignature)
	}
	return nil
}

// BodyHash is the unpadded base64url SHA-256 of body, as carried in the
// "body" claim.
func BodyHash(body []byte) string {
	sum := sha256.Sum256(body)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// Middleware rejects requests whose signature does not verify and hands the
// original body on to next.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		_ = r.Body.Close()
		if err != nil {
			writeError(w, http.StatusBadRequest, "failed to read body")
			return
		}

		if err := v.Verify(r.Header.Get(SignatureHeader), body); err != nil {
			hlog.FromRequest(r).Warn().Err(err).Msg("rejected unsigned webhook delivery")
			writeError(w, http.StatusUnauthorized, "invalid signature")
			return
		}

		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r)
	})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
