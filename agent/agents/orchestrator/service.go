package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/cloudwego/eino/compose"
	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/chative-voicebot/agent/contract"
	nodex "github.com/tanpawarit/chative-voicebot/agent/nodes/orchestrator"
	statex "github.com/tanpawarit/chative-voicebot/agent/state"
)

const DefaultHistoryLimit = 20

// Deps are the collaborators one call turn touches.
type Deps struct {
	Store     statex.Store
	FAQ       contractx.FAQMatcher
	Resolver  contractx.IntentResolver
	Fetcher   contractx.RecordingFetcher
	STT       contractx.Transcriber
	Publisher contractx.Publisher
	Scheduler contractx.Scheduler
}

type Config struct {
	ServiceIDs      []int
	StaffIDs        []int
	HistoryLimit    int
	SlotTTL         time.Duration
	MaxOfferedSlots int
	Booking         nodex.BookingDefaults
	Phrases         nodex.Phrases
}

// Orchestrator runs one webhook event through the call graph. Events for the
// same caller are handled one at a time.
type Orchestrator struct {
	store     statex.Store
	faq       contractx.FAQMatcher
	resolver  contractx.IntentResolver
	fetcher   contractx.RecordingFetcher
	stt       contractx.Transcriber
	publisher contractx.Publisher

	dispatcher   *nodex.Dispatcher
	phrases      nodex.Phrases
	historyLimit int
	locks        *callerLocks

	graphRunner compose.Runnable[nodex.GraphInput, nodex.GraphOutput]

	now func() time.Time
}

func New(deps Deps, cfg Config) (*Orchestrator, error) {
	if deps.Store == nil {
		return nil, errors.New("state store is required")
	}
	if deps.Resolver == nil {
		return nil, errors.New("intent resolver is required")
	}
	if deps.Fetcher == nil {
		return nil, errors.New("recording fetcher is required")
	}
	if deps.STT == nil {
		return nil, errors.New("transcriber is required")
	}
	if deps.Publisher == nil {
		return nil, errors.New("reply publisher is required")
	}
	if deps.Scheduler == nil {
		return nil, errors.New("scheduler is required")
	}

	historyLimit := cfg.HistoryLimit
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	phrases := cfg.Phrases.WithDefaults()

	o := &Orchestrator{
		store:     deps.Store,
		faq:       deps.FAQ,
		resolver:  deps.Resolver,
		fetcher:   deps.Fetcher,
		stt:       deps.STT,
		publisher: deps.Publisher,
		dispatcher: &nodex.Dispatcher{
			Scheduler:  deps.Scheduler,
			Store:      deps.Store,
			ServiceIDs: append([]int(nil), cfg.ServiceIDs...),
			StaffIDs:   append([]int(nil), cfg.StaffIDs...),
			SlotTTL:    cfg.SlotTTL,
			MaxOffered: cfg.MaxOfferedSlots,
			Booking:    cfg.Booking,
			Phrases:    phrases,
		},
		phrases:      phrases,
		historyLimit: historyLimit,
		locks:        newCallerLocks(),
		now:          time.Now,
	}

	graphRunner, err := o.compileHandleEventGraph(context.Background())
	if err != nil {
		return nil, err
	}
	o.graphRunner = graphRunner

	return o, nil
}

// HandleEvent processes one webhook event and returns the reply body. The
// only error callers see is a failure to voice the reply.
func (o *Orchestrator) HandleEvent(ctx context.Context, ev contractx.Event) (contractx.Reply, error) {
	callerID := contractx.NormalizeCallerID(ev.CallerID)

	logger := log.Ctx(ctx).With().
		Str("caller_id", callerID).
		Str("call_id", ev.CallID).
		Str("event", string(ev.Type)).
		Logger()
	ctx = logger.WithContext(ctx)

	unlock := o.locks.Lock(callerID)
	defer unlock()

	out, err := o.graphRunner.Invoke(ctx, nodex.GraphInput{Event: ev})
	if err != nil {
		logger.Error().Err(err).Msg("failed to handle call event")
		return contractx.Reply{}, err
	}
	return out.Reply, nil
}
