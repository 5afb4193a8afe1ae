package media

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	contractx "github.com/tanpawarit/chative-voicebot/agent/contract"
	"github.com/tanpawarit/chative-voicebot/pkg/retry"
)

func noSleep(context.Context, time.Duration) error { return nil }

type fakeSynth struct {
	audio []byte
	err   error
	texts []string
}

func (f *fakeSynth) Synthesize(ctx context.Context, text string) ([]byte, error) {
	f.texts = append(f.texts, text)
	return f.audio, f.err
}

func TestFetcherRetriesThenReturnsBody(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("recording"))
	}))
	t.Cleanup(server.Close)

	f := NewFetcher(WithFetchHTTPClient(server.Client()), WithFetchRetry(retry.Default().WithSleep(noSleep)))
	got, err := f.Fetch(context.Background(), server.URL+"/rec.mp3")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if string(got) != "recording" || calls.Load() != 2 {
		t.Fatalf("Fetch() = %q after %d calls", got, calls.Load())
	}
}

func TestFetcherRejectsBadURLAndOversize(t *testing.T) {
	t.Parallel()

	f := NewFetcher()
	if _, err := f.Fetch(context.Background(), "file:///etc/passwd"); !errors.Is(err, contractx.ErrInvalidEvent) {
		t.Fatalf("Fetch(file://) error = %v, want ErrInvalidEvent", err)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 32)))
	}))
	t.Cleanup(server.Close)

	f = NewFetcher(WithFetchHTTPClient(server.Client()), WithMaxBytes(16), WithFetchRetry(retry.Default().WithSleep(noSleep)))
	if _, err := f.Fetch(context.Background(), server.URL); !errors.Is(err, contractx.ErrInvalidEvent) {
		t.Fatalf("Fetch(oversize) error = %v, want ErrInvalidEvent", err)
	}
}

func TestPublisherWritesFileAndReturnsURL(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "static")
	synth := &fakeSynth{audio: []byte("mp3")}
	p, err := NewPublisher(synth, dir, "https://bot.example.com/", "mp3")
	if err != nil {
		t.Fatalf("NewPublisher() error = %v", err)
	}
	p.newName = func() string { return "fixed" }

	got, err := p.Publish(context.Background(), "Здравствуйте")
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if got != "https://bot.example.com/static/fixed.mp3" {
		t.Fatalf("Publish() = %q", got)
	}
	raw, err := os.ReadFile(filepath.Join(dir, "fixed.mp3"))
	if err != nil || string(raw) != "mp3" {
		t.Fatalf("stored file = %q, %v", raw, err)
	}
	if len(synth.texts) != 1 || synth.texts[0] != "Здравствуйте" {
		t.Fatalf("synth texts = %#v", synth.texts)
	}
}

func TestPublisherPropagatesSynthesisError(t *testing.T) {
	t.Parallel()

	boom := errors.New("tts down")
	p, err := NewPublisher(&fakeSynth{err: boom}, t.TempDir(), "http://localhost", "")
	if err != nil {
		t.Fatalf("NewPublisher() error = %v", err)
	}
	if _, err := p.Publish(context.Background(), "text"); !errors.Is(err, boom) {
		t.Fatalf("Publish() error = %v, want %v", err, boom)
	}
}
