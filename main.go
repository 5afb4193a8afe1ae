package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	orchestrator "github.com/tanpawarit/chative-voicebot/agent/agents/orchestrator"
	contractx "github.com/tanpawarit/chative-voicebot/agent/contract"
	"github.com/tanpawarit/chative-voicebot/agent/faq"
	"github.com/tanpawarit/chative-voicebot/agent/intent"
	"github.com/tanpawarit/chative-voicebot/agent/llm"
	nodex "github.com/tanpawarit/chative-voicebot/agent/nodes/orchestrator"
	"github.com/tanpawarit/chative-voicebot/agent/prompt"
	statex "github.com/tanpawarit/chative-voicebot/agent/state"
	"github.com/tanpawarit/chative-voicebot/agent/webhook"
	configx "github.com/tanpawarit/chative-voicebot/pkg/config"
	"github.com/tanpawarit/chative-voicebot/pkg/gcpspeech"
	_ "github.com/tanpawarit/chative-voicebot/pkg/logger/autoload"
	"github.com/tanpawarit/chative-voicebot/pkg/media"
	openaix "github.com/tanpawarit/chative-voicebot/pkg/openai"
	qstashx "github.com/tanpawarit/chative-voicebot/pkg/qstash"
	"github.com/tanpawarit/chative-voicebot/pkg/retry"
	"github.com/tanpawarit/chative-voicebot/pkg/speechkit"
	"github.com/tanpawarit/chative-voicebot/pkg/yclients"
)

type AppConfig struct {
	Addr            string  `envconfig:"ADDR" default:":8000"`
	BaseURL         string  `envconfig:"BASE_URL" default:"http://localhost:8000"`
	StaticDir       string  `envconfig:"STATIC_DIR" default:"static"`
	FAQPath         string  `envconfig:"FAQ_PATH" default:"faq.json"`
	PromptPath      string  `envconfig:"PROMPT_PATH" default:"prompt.txt"`
	FAQCutoff       float64 `envconfig:"FAQ_CUTOFF" default:"0.6"`
	HistoryLimit    int     `envconfig:"HISTORY_LIMIT" default:"20"`
	StoreBackend    string  `envconfig:"STORE_BACKEND" default:"memory"`
	SpeechProvider  string  `envconfig:"SPEECH_PROVIDER" default:"speechkit"`
	STTProvider     string  `envconfig:"STT_PROVIDER"`
	RateLimitPerMin int     `envconfig:"RATE_LIMIT_PER_MIN" default:"60"`
	RateLimitBurst  int     `envconfig:"RATE_LIMIT_BURST" default:"10"`
}

type speechStack struct {
	stt    contractx.Transcriber
	tts    contractx.Synthesizer
	format string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatal().Err(err).Msg("voicebot stopped")
	}
}

func run(ctx context.Context) error {
	appCfg := configx.MustNew[AppConfig]("")
	retryCfg := configx.MustNew[retry.Config]("RETRY")
	policy := retry.FromConfig(*retryCfg)

	sessionCfg := configx.MustNew[statex.Config]("SESSION")
	store, closeStore, err := newStore(ctx, appCfg.StoreBackend, *sessionCfg)
	if err != nil {
		return err
	}
	defer closeStore()

	speech, closeSpeech, err := newSpeech(ctx, appCfg.SpeechProvider, appCfg.STTProvider, policy)
	if err != nil {
		return err
	}
	defer closeSpeech()

	llmCfg := configx.MustNew[llm.Config]("LLM")
	chatModelCfg := llmCfg.ChatModel()
	chatModel, err := chatModelCfg.New(ctx)
	if err != nil {
		return err
	}
	resolver, err := intent.New(ctx, chatModel, prompt.LoadSystemPrompt(appCfg.PromptPath),
		intent.WithHistoryLimit(appCfg.HistoryLimit),
		intent.WithRetry(policy),
	)
	if err != nil {
		return err
	}

	scheduleCfg := configx.MustNew[orchestrator.ScheduleConfig]("SCHEDULE")
	booking, err := scheduleCfg.BookingDefaults()
	if err != nil {
		return err
	}

	yclientsCfg := configx.MustNew[yclients.Config]("YCLIENTS")
	scheduler, err := yclients.New(*yclientsCfg, yclients.WithRetry(policy), yclients.WithLocation(booking.Location))
	if err != nil {
		return err
	}

	publisher, err := media.NewPublisher(speech.tts, appCfg.StaticDir, appCfg.BaseURL, speech.format)
	if err != nil {
		return err
	}

	engine, err := orchestrator.New(orchestrator.Deps{
		Store:     store,
		FAQ:       faq.NewMatcher(faq.Load(appCfg.FAQPath), faq.WithCutoff(appCfg.FAQCutoff)),
		Resolver:  resolver,
		Fetcher:   media.NewFetcher(media.WithFetchRetry(policy)),
		STT:       speech.stt,
		Publisher: publisher,
		Scheduler: scheduler,
	}, orchestrator.Config{
		ServiceIDs:   scheduler.ServiceIDs(),
		StaffIDs:     scheduler.StaffIDs(),
		HistoryLimit: appCfg.HistoryLimit,
		SlotTTL:      sessionCfg.SlotTTL,
		Booking:      booking,
		Phrases:      nodex.Phrases{GuestName: scheduleCfg.GuestName},
	})
	if err != nil {
		return err
	}

	routerCfg := webhook.Config{
		StaticDir:       publisher.Dir(),
		RateLimitPerMin: appCfg.RateLimitPerMin,
		RateLimitBurst:  appCfg.RateLimitBurst,
	}
	qstashCfg := configx.MustNew[qstashx.Config]("QSTASH")
	if qstashCfg.Enabled() {
		routerCfg.Signed = qstashx.MustNew(*qstashCfg).Middleware
		log.Info().Msg("qstash signature verification enabled")
	}

	srv := &http.Server{
		Addr:              appCfg.Addr,
		Handler:           webhook.NewRouter(log.Logger, engine, routerCfg),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	log.Info().Str("addr", appCfg.Addr).Str("store", appCfg.StoreBackend).Msg("voicebot listening")
	return runServer(ctx, srv)
}

// newStore builds the session store for backend and starts the expiry sweep
// where the backend needs one.
func newStore(ctx context.Context, backend string, sessionCfg statex.Config) (statex.Store, func(), error) {
	opts := statex.FromConfig(sessionCfg)
	noop := func() {}

	var (
		kv     statex.KV
		closer io.Closer
	)
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", "memory":
		kv = statex.NewMemoryKV()
	case "redis":
		redisCfg := configx.MustNew[statex.RedisConfig]("REDIS")
		client, err := statex.NewRedisClient(ctx, *redisCfg)
		if err != nil {
			return nil, noop, err
		}
		redisKV, err := statex.NewRedisKV(client)
		if err != nil {
			return nil, noop, err
		}
		kv, closer = redisKV, client
	case "upstash":
		upstashCfg := configx.MustNew[statex.UpstashRedisConfig]("UPSTASH_REDIS")
		upstashKV, err := statex.NewUpstashKV(*upstashCfg)
		if err != nil {
			return nil, noop, err
		}
		kv = upstashKV
	case "postgres":
		pgCfg := configx.MustNew[statex.PostgresConfig]("POSTGRES")
		db, err := statex.NewPostgresDB(*pgCfg)
		if err != nil {
			return nil, noop, err
		}
		pgKV, err := statex.NewPostgresKV(db)
		if err != nil {
			_ = db.Close()
			return nil, noop, err
		}
		if err := pgKV.CreateTable(ctx); err != nil {
			_ = db.Close()
			return nil, noop, err
		}
		kv, closer = pgKV, db
	default:
		return nil, noop, fmt.Errorf("%w: unknown store backend %q", contractx.ErrValidation, backend)
	}

	store, err := statex.NewStore(kv, opts...)
	if err != nil {
		return nil, noop, err
	}
	if sweeper, ok := kv.(statex.Sweeper); ok {
		go statex.RunSweeper(ctx, sweeper, sessionCfg.SweepInterval)
	}

	cleanup := func() {
		if closer == nil {
			return
		}
		if err := closer.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close session store")
		}
	}
	return store, cleanup, nil
}

// newSpeech picks the synthesis provider and, unless sttProvider overrides
// it, the same provider for recognition.
func newSpeech(ctx context.Context, provider, sttProvider string, policy retry.Policy) (speechStack, func(), error) {
	noop := func() {}
	provider = strings.ToLower(strings.TrimSpace(provider))
	sttProvider = strings.ToLower(strings.TrimSpace(sttProvider))
	if sttProvider == "" {
		sttProvider = provider
	}

	var stack speechStack
	switch provider {
	case "speechkit":
		client, err := newSpeechKit(policy)
		if err != nil {
			return stack, noop, err
		}
		stack.tts, stack.format = client, client.Format()
		if sttProvider == provider {
			stack.stt = client
		}
	case "openai":
		client, err := newOpenAIAudio(policy)
		if err != nil {
			return stack, noop, err
		}
		stack.tts, stack.format = client, client.Format()
		if sttProvider == provider {
			stack.stt = client
		}
	default:
		return stack, noop, fmt.Errorf("%w: unknown speech provider %q", contractx.ErrValidation, provider)
	}

	cleanup := noop
	switch {
	case stack.stt != nil:
	case sttProvider == "speechkit":
		client, err := newSpeechKit(policy)
		if err != nil {
			return stack, noop, err
		}
		stack.stt = client
	case sttProvider == "openai":
		client, err := newOpenAIAudio(policy)
		if err != nil {
			return stack, noop, err
		}
		stack.stt = client
	case sttProvider == "gcp":
		gcpCfg := configx.MustNew[gcpspeech.Config]("GCP_SPEECH")
		client, err := gcpspeech.New(ctx, *gcpCfg, gcpspeech.WithRetry(policy))
		if err != nil {
			return stack, noop, err
		}
		stack.stt = client
		cleanup = func() {
			if err := client.Close(); err != nil {
				log.Warn().Err(err).Msg("failed to close google speech client")
			}
		}
	default:
		return stack, noop, fmt.Errorf("%w: unknown stt provider %q", contractx.ErrValidation, sttProvider)
	}

	log.Info().Str("tts", provider).Str("stt", sttProvider).Msg("speech providers ready")
	return stack, cleanup, nil
}

func newSpeechKit(policy retry.Policy) (*speechkit.Client, error) {
	cfg := configx.MustNew[speechkit.Config]("SPEECHKIT")
	return speechkit.New(*cfg, speechkit.WithRetry(policy))
}

func newOpenAIAudio(policy retry.Policy) (*openaix.AudioClient, error) {
	cfg := configx.MustNew[openaix.AudioConfig]("OPENAI_AUDIO")
	return openaix.NewAudioClient(*cfg, openaix.WithRetry(policy))
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		log.Info().Msg("voicebot shut down")
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
