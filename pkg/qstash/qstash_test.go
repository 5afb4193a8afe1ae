package qstash

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

const webhookURL = "https://bot.example.com/vox/webhook"

func sign(t *testing.T, key string, body []byte, claims jwt.MapClaims) string {
	t.Helper()

	base := jwt.MapClaims{
		"iss":  "Upstash",
		"sub":  webhookURL,
		"exp":  time.Now().Add(5 * time.Minute).Unix(),
		"nbf":  time.Now().Add(-time.Minute).Unix(),
		"body": BodyHash(body) + "=",
	}
	for k, v := range claims {
		base[k] = v
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, base).SignedString([]byte(key))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return token
}

func newVerifier(t *testing.T) *Verifier {
	t.Helper()

	v, err := NewVerifier(Config{URL: webhookURL, CurrentSigningKey: "current", NextSigningKey: "next"})
	if err != nil {
		t.Fatalf("NewVerifier() error = %v", err)
	}
	return v
}

func TestVerifyAcceptsCurrentAndNextKeys(t *testing.T) {
	t.Parallel()

	v := newVerifier(t)
	body := []byte(`{"event":"End"}`)

	if err := v.Verify(sign(t, "current", body, nil), body); err != nil {
		t.Fatalf("Verify(current) error = %v", err)
	}
	if err := v.Verify(sign(t, "next", body, nil), body); err != nil {
		t.Fatalf("Verify(next) error = %v", err)
	}
}

func TestVerifyRejects(t *testing.T) {
	t.Parallel()

	v := newVerifier(t)
	body := []byte(`{"event":"End"}`)

	cases := map[string]string{
		"wrong key":     sign(t, "other", body, nil),
		"tampered body": sign(t, "current", []byte(`{"event":"SpeechCaptured"}`), nil),
		"expired":       sign(t, "current", body, jwt.MapClaims{"exp": time.Now().Add(-time.Hour).Unix()}),
		"wrong issuer":  sign(t, "current", body, jwt.MapClaims{"iss": "someone"}),
		"wrong subject": sign(t, "current", body, jwt.MapClaims{"sub": "https://evil.example.com"}),
		"empty":         "",
	}
	for name, token := range cases {
		if err := v.Verify(token, body); err == nil {
			t.Fatalf("%s: Verify() should fail", name)
		}
	}
}

func TestMiddleware(t *testing.T) {
	t.Parallel()

	v := newVerifier(t)
	body := `{"event":"End","callerid":"+7"}`

	var seen string
	handler := v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		seen = string(raw)
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/vox/webhook", strings.NewReader(body))
	req.Header.Set(SignatureHeader, sign(t, "current", []byte(body), nil))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || seen != body {
		t.Fatalf("signed request: code=%d body=%q", rec.Code, seen)
	}

	req = httptest.NewRequest(http.MethodPost, "/vox/webhook", strings.NewReader(body))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unsigned request: code=%d, want 401", rec.Code)
	}
}

func TestNewVerifierRequiresKey(t *testing.T) {
	t.Parallel()

	if (Config{}).Enabled() {
		t.Fatalf("empty config must be disabled")
	}
	if _, err := NewVerifier(Config{}); err == nil {
		t.Fatalf("NewVerifier() without key should fail")
	}
}
