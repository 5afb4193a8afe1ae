package orchestratornode

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	contractx "github.com/tanpawarit/chative-voicebot/agent/contract"
	statex "github.com/tanpawarit/chative-voicebot/agent/state"
)

type fakeScheduler struct {
	mu       sync.Mutex
	slots    map[[2]int][]contractx.Slot
	slotsErr error
	result   contractx.BookingResult
	bookErr  error
	calls    int
	bookings []contractx.BookingRequest
}

func (f *fakeScheduler) GetSlots(_ context.Context, serviceID, staffID int) ([]contractx.Slot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.slotsErr != nil {
		return nil, f.slotsErr
	}
	return f.slots[[2]int{serviceID, staffID}], nil
}

func (f *fakeScheduler) CreateBooking(_ context.Context, req contractx.BookingRequest) (contractx.BookingResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bookings = append(f.bookings, req)
	return f.result, f.bookErr
}

type failingFetcher struct{}

func (failingFetcher) Fetch(context.Context, string) ([]byte, error) {
	return nil, errors.New("connection reset")
}

var testNow = time.Date(2025, 3, 3, 10, 5, 0, 0, time.UTC)

func newTestDispatcher(t *testing.T, sched *fakeScheduler) *Dispatcher {
	t.Helper()

	store, err := statex.NewStore(statex.NewMemoryKV())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	return &Dispatcher{
		Scheduler:  sched,
		Store:      store,
		ServiceIDs: []int{1},
		StaffIDs:   []int{10, 20},
		SlotTTL:    time.Hour,
		Booking: BookingDefaults{
			Location:     time.UTC,
			WorkStart:    9 * time.Hour,
			WorkEnd:      18 * time.Hour,
			SlotDuration: 30 * time.Minute,
			Buffer:       10 * time.Minute,
		},
		Phrases: DefaultPhrases(),
	}
}

func slotAt(service, staff int, hour int) contractx.Slot {
	start := time.Date(2025, 3, 4, hour, 0, 0, 0, time.UTC)
	return contractx.Slot{ServiceID: service, StaffID: staff, Label: start.Format("15:04"), Start: start}
}

func stateFor(d contractx.Directive) *GraphState {
	return &GraphState{CallerID: "+7000", CallID: "call-1", Now: testNow, Transcript: "hi", Directive: d}
}

func TestRouteEvent(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   GraphState
		want string
	}{
		{GraphState{EventType: contractx.EventEnd}, NodeClearSession},
		{GraphState{EventType: contractx.EventSpeechCaptured, RecordingURL: "https://r/1.mp3"}, NodeTranscribe},
		{GraphState{EventType: contractx.EventSpeechCaptured}, NodeAcknowledge},
		{GraphState{EventType: "Ringing"}, NodeAcknowledge},
	}
	for _, tc := range cases {
		got, err := RouteEvent(context.Background(), &tc.in)
		if err != nil || got != tc.want {
			t.Fatalf("RouteEvent(%q) = %q, %v, want %q", tc.in.EventType, got, err, tc.want)
		}
	}
	if _, err := RouteEvent(context.Background(), nil); !errors.Is(err, ErrNilGraphState) {
		t.Fatalf("RouteEvent(nil) error = %v", err)
	}
}

func TestValidateEventDefaultsCaller(t *testing.T) {
	t.Parallel()

	got, err := ValidateEvent(GraphInput{Event: contractx.Event{Type: " End ", CallID: " c1 "}}, func() time.Time { return testNow })
	if err != nil {
		t.Fatalf("ValidateEvent() error = %v", err)
	}
	if got.CallerID != UnknownCaller || got.CallID != "c1" || got.EventType != contractx.EventEnd {
		t.Fatalf("ValidateEvent() = %#v", got)
	}
}

func TestTranscribeFailureAsksToRepeat(t *testing.T) {
	t.Parallel()

	in := &GraphState{RecordingURL: "https://r/1.mp3"}
	got, err := Transcribe(context.Background(), in, failingFetcher{}, nil, DefaultPhrases())
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if got.Transcript != "" || got.ReplyText != DefaultPhrases().Clarify {
		t.Fatalf("Transcribe() = %#v", got)
	}
	if next, _ := RouteTranscript(context.Background(), got); next != NodeSynthesizeReply {
		t.Fatalf("RouteTranscript() = %q, want %q", next, NodeSynthesizeReply)
	}
}

func TestParseWorkHours(t *testing.T) {
	t.Parallel()

	start, end, err := ParseWorkHours("09:00-18:30")
	if err != nil {
		t.Fatalf("ParseWorkHours() error = %v", err)
	}
	if start != 9*time.Hour || end != 18*time.Hour+30*time.Minute {
		t.Fatalf("ParseWorkHours() = %v, %v", start, end)
	}
	for _, bad := range []string{"", "09:00", "18:00-09:00", "9am-5pm"} {
		if _, _, err := ParseWorkHours(bad); !errors.Is(err, contractx.ErrValidation) {
			t.Fatalf("ParseWorkHours(%q) error = %v, want ErrValidation", bad, err)
		}
	}
}

func TestDefaultSlot(t *testing.T) {
	t.Parallel()

	b := BookingDefaults{
		Location:     time.UTC,
		WorkStart:    9 * time.Hour,
		WorkEnd:      18 * time.Hour,
		SlotDuration: 30 * time.Minute,
		Buffer:       10 * time.Minute,
	}
	day := func(d, h, m int) time.Time { return time.Date(2025, 3, d, h, m, 0, 0, time.UTC) }

	cases := []struct {
		now  time.Time
		want time.Time
	}{
		{day(3, 7, 0), day(3, 9, 0)},
		{day(3, 10, 5), day(3, 10, 30)},
		{day(3, 10, 20), day(3, 10, 30)},
		{day(3, 17, 20), day(3, 17, 30)},
		{day(3, 17, 45), day(4, 9, 0)},
		{day(3, 23, 0), day(4, 9, 0)},
	}
	for _, tc := range cases {
		got := b.DefaultSlot(tc.now, 1, 10)
		if !got.Start.Equal(tc.want) {
			t.Fatalf("DefaultSlot(%v) = %v, want %v", tc.now, got.Start, tc.want)
		}
		if got.ServiceID != 1 || got.StaffID != 10 {
			t.Fatalf("DefaultSlot ids = %d/%d", got.ServiceID, got.StaffID)
		}
	}
}

func TestDispatchShowSlotsKeepsPairOrderAndCaches(t *testing.T) {
	t.Parallel()

	sched := &fakeScheduler{slots: map[[2]int][]contractx.Slot{
		{1, 10}: {slotAt(1, 10, 10), slotAt(1, 10, 11)},
		{1, 20}: {slotAt(1, 20, 12), slotAt(1, 20, 13)},
	}}
	d := newTestDispatcher(t, sched)

	got, err := DispatchAction(context.Background(), stateFor(contractx.ShowSlots("")), d)
	if err != nil {
		t.Fatalf("DispatchAction() error = %v", err)
	}
	want := d.Phrases.SlotsPrefix + "10:00, 11:00, 12:00"
	if got.ReplyText != want {
		t.Fatalf("ReplyText = %q, want %q", got.ReplyText, want)
	}
	if got.Stage != statex.StageSlotsOffered {
		t.Fatalf("Stage = %q", got.Stage)
	}

	cached, err := d.Store.GetSlots(context.Background(), "call-1")
	if err != nil {
		t.Fatalf("GetSlots() error = %v", err)
	}
	if len(cached) != 4 || cached[3].Label != "13:00" {
		t.Fatalf("cached slots = %#v", cached)
	}
}

func TestDispatchShowSlotsLabelFallback(t *testing.T) {
	t.Parallel()

	sched := &fakeScheduler{slots: map[[2]int][]contractx.Slot{
		{1, 10}: {{ServiceID: 1, StaffID: 10}},
	}}
	d := newTestDispatcher(t, sched)

	got, _ := DispatchAction(context.Background(), stateFor(contractx.ShowSlots("")), d)
	if got.ReplyText != d.Phrases.SlotsPrefix+d.Phrases.SlotFallback {
		t.Fatalf("ReplyText = %q", got.ReplyText)
	}
}

func TestDispatchShowSlotsEmptyAndFailure(t *testing.T) {
	t.Parallel()

	empty := newTestDispatcher(t, &fakeScheduler{})
	got, _ := DispatchAction(context.Background(), stateFor(contractx.ShowSlots("")), empty)
	if got.ReplyText != empty.Phrases.NoSlots {
		t.Fatalf("ReplyText = %q, want no-slots phrase", got.ReplyText)
	}

	failing := newTestDispatcher(t, &fakeScheduler{slotsErr: contractx.ErrProvider})
	got, _ = DispatchAction(context.Background(), stateFor(contractx.ShowSlots("")), failing)
	if got.ReplyText != failing.Phrases.SlotsFailed {
		t.Fatalf("ReplyText = %q, want slots-failed phrase", got.ReplyText)
	}
}

func TestDispatchBookOutOfRangeUsesFirstSlot(t *testing.T) {
	t.Parallel()

	sched := &fakeScheduler{result: contractx.BookingResult{Success: true, RecordID: 77}}
	d := newTestDispatcher(t, sched)
	offered := []contractx.Slot{slotAt(1, 10, 10), slotAt(1, 20, 12)}
	if err := d.Store.SetSlots(context.Background(), "call-1", offered, time.Hour); err != nil {
		t.Fatalf("SetSlots() error = %v", err)
	}

	got, err := DispatchAction(context.Background(), stateFor(contractx.Book(5, "")), d)
	if err != nil {
		t.Fatalf("DispatchAction() error = %v", err)
	}
	if got.ReplyText != d.Phrases.Booked || got.Stage != statex.StageBookingAttempted {
		t.Fatalf("reply = %q stage = %q", got.ReplyText, got.Stage)
	}

	if len(sched.bookings) != 1 {
		t.Fatalf("bookings = %d, want 1", len(sched.bookings))
	}
	req := sched.bookings[0]
	if !req.Start.Equal(offered[0].Start) {
		t.Fatalf("Start = %v, want %v", req.Start, offered[0].Start)
	}
	if req.Phone != "+7000" || req.CallID != "call-1" || req.FullName != d.Phrases.GuestName {
		t.Fatalf("request = %#v", req)
	}
	if req.ServiceID != 1 || req.StaffID != 10 {
		t.Fatalf("ids = %d/%d, want first configured", req.ServiceID, req.StaffID)
	}
}

func TestDispatchBookSecondOfferedSlot(t *testing.T) {
	t.Parallel()

	sched := &fakeScheduler{result: contractx.BookingResult{Success: true}}
	d := newTestDispatcher(t, sched)
	offered := []contractx.Slot{slotAt(1, 10, 10), slotAt(1, 20, 12)}
	_ = d.Store.SetSlots(context.Background(), "call-1", offered, time.Hour)

	if _, err := DispatchAction(context.Background(), stateFor(contractx.Book(1, "")), d); err != nil {
		t.Fatalf("DispatchAction() error = %v", err)
	}
	if !sched.bookings[0].Start.Equal(offered[1].Start) {
		t.Fatalf("Start = %v, want %v", sched.bookings[0].Start, offered[1].Start)
	}
}

func TestDispatchBookWithoutOfferUsesDefaultSlot(t *testing.T) {
	t.Parallel()

	sched := &fakeScheduler{result: contractx.BookingResult{Success: true}}
	d := newTestDispatcher(t, sched)

	if _, err := DispatchAction(context.Background(), stateFor(contractx.Book(0, "")), d); err != nil {
		t.Fatalf("DispatchAction() error = %v", err)
	}
	want := time.Date(2025, 3, 3, 10, 30, 0, 0, time.UTC)
	if !sched.bookings[0].Start.Equal(want) {
		t.Fatalf("Start = %v, want %v", sched.bookings[0].Start, want)
	}
}

func TestDispatchBookRejectedOrFailed(t *testing.T) {
	t.Parallel()

	for _, sched := range []*fakeScheduler{
		{result: contractx.BookingResult{Success: false, Message: "slot taken"}},
		{bookErr: fmt.Errorf("%w: 503", contractx.ErrProvider)},
	} {
		d := newTestDispatcher(t, sched)
		got, err := DispatchAction(context.Background(), stateFor(contractx.Book(0, "")), d)
		if err != nil {
			t.Fatalf("DispatchAction() error = %v", err)
		}
		if got.ReplyText != d.Phrases.BookingFailed {
			t.Fatalf("ReplyText = %q, want booking-failed phrase", got.ReplyText)
		}
	}
}

func TestDispatchSkipsActionsAfterResolveFailure(t *testing.T) {
	t.Parallel()

	sched := &fakeScheduler{}
	d := newTestDispatcher(t, sched)
	in := stateFor(contractx.Say(d.Phrases.Apology))
	in.ResolveFailed = true

	got, _ := DispatchAction(context.Background(), in, d)
	if got.ReplyText != d.Phrases.Apology || sched.calls != 0 || len(sched.bookings) != 0 {
		t.Fatalf("reply = %q, scheduler calls = %d", got.ReplyText, sched.calls)
	}
}

func TestDispatchSayAndGoodbye(t *testing.T) {
	t.Parallel()

	d := newTestDispatcher(t, &fakeScheduler{})

	got, _ := DispatchAction(context.Background(), stateFor(contractx.Say("Чем могу помочь?")), d)
	if got.ReplyText != "Чем могу помочь?" {
		t.Fatalf("say ReplyText = %q", got.ReplyText)
	}

	got, _ = DispatchAction(context.Background(), stateFor(contractx.Goodbye("пока")), d)
	if got.ReplyText != d.Phrases.Goodbye || got.Stage != statex.StageClosing {
		t.Fatalf("goodbye = %q / %q", got.ReplyText, got.Stage)
	}
}

func TestRecordTurnsPersistsBothSides(t *testing.T) {
	t.Parallel()

	store, err := statex.NewStore(statex.NewMemoryKV())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	in := stateFor(contractx.Say("hello"))
	in.ReplyText = "hello"
	in.Stage = statex.StageResolved

	if _, err := RecordTurns(context.Background(), in, store); err != nil {
		t.Fatalf("RecordTurns() error = %v", err)
	}
	sess, err := store.GetOrCreate(context.Background(), "+7000")
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	if len(sess.Turns) != 2 || sess.Turns[0].Text != "hi" || sess.Turns[1].Role != contractx.RoleAssistant {
		t.Fatalf("turns = %#v", sess.Turns)
	}
	if sess.Stage != statex.StageResolved {
		t.Fatalf("stage = %q", sess.Stage)
	}
}

func TestFinalizeReply(t *testing.T) {
	t.Parallel()

	out, err := FinalizeReply(&GraphState{Status: contractx.StatusCleared})
	if err != nil || out.Reply.Status != contractx.StatusCleared || out.Reply.PlaybackURL != "" {
		t.Fatalf("FinalizeReply(cleared) = %#v, %v", out, err)
	}

	out, _ = FinalizeReply(&GraphState{})
	if out.Reply.Status != contractx.StatusOK {
		t.Fatalf("FinalizeReply(empty) = %#v", out)
	}

	out, _ = FinalizeReply(&GraphState{PlaybackURL: "http://h/static/a.mp3", ReplyText: "hi", Status: contractx.StatusOK})
	if out.Reply.Status != "" || out.Reply.PlaybackURL != "http://h/static/a.mp3" || out.Reply.Text != "hi" {
		t.Fatalf("FinalizeReply(spoken) = %#v", out)
	}
}
