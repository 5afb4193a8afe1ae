package orchestratornode

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	contractx "github.com/tanpawarit/chative-voicebot/agent/contract"
	statex "github.com/tanpawarit/chative-voicebot/agent/state"
)

const DefaultOfferedSlots = 3

// Dispatcher carries what the action handlers need.
type Dispatcher struct {
	Scheduler  contractx.Scheduler
	Store      statex.Store
	ServiceIDs []int
	StaffIDs   []int
	SlotTTL    time.Duration
	// MaxOffered caps how many labels are read out.
	MaxOffered int
	Booking    BookingDefaults
	Phrases    Phrases
}

// DispatchAction executes the directive and sets the reply text.
func DispatchAction(ctx context.Context, in *GraphState, d *Dispatcher) (*GraphState, error) {
	if in == nil {
		return nil, ErrNilGraphState
	}
	if in.ResolveFailed {
		in.ReplyText = in.Directive.Text
		return in, nil
	}

	switch in.Directive.Act {
	case contractx.ActShowSlots:
		in.ReplyText, in.Stage = d.showSlots(ctx, in)
	case contractx.ActBook:
		in.ReplyText = d.book(ctx, in)
		in.Stage = statex.StageBookingAttempted
	case contractx.ActGoodbye:
		in.ReplyText = d.Phrases.Goodbye
		in.Stage = statex.StageClosing
	default:
		in.ReplyText = in.Directive.Text
	}
	return in, nil
}

type slotPair struct {
	serviceID int
	staffID   int
}

func (d *Dispatcher) pairs() []slotPair {
	out := make([]slotPair, 0, len(d.ServiceIDs)*len(d.StaffIDs))
	for _, service := range d.ServiceIDs {
		for _, staff := range d.StaffIDs {
			out = append(out, slotPair{serviceID: service, staffID: staff})
		}
	}
	return out
}

// FetchSlots queries every service/staff pair concurrently and concatenates
// the results in pair order.
func (d *Dispatcher) FetchSlots(ctx context.Context) ([]contractx.Slot, error) {
	pairs := d.pairs()
	results := make([][]contractx.Slot, len(pairs))

	g, gctx := errgroup.WithContext(ctx)
	for i, p := range pairs {
		g.Go(func() error {
			slots, err := d.Scheduler.GetSlots(gctx, p.serviceID, p.staffID)
			if err != nil {
				return err
			}
			results[i] = slots
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []contractx.Slot
	for _, slots := range results {
		all = append(all, slots...)
	}
	return all, nil
}

func (d *Dispatcher) showSlots(ctx context.Context, in *GraphState) (string, statex.Stage) {
	if d.Scheduler == nil {
		return d.Phrases.SlotsFailed, statex.StageResolved
	}

	slots, err := d.FetchSlots(ctx)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to fetch slots")
		return d.Phrases.SlotsFailed, statex.StageResolved
	}

	if err := d.Store.SetSlots(ctx, in.SlotKey(), slots, d.SlotTTL); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("failed to cache slot offer")
	}
	if len(slots) == 0 {
		return d.Phrases.NoSlots, statex.StageSlotsOffered
	}

	limit := d.MaxOffered
	if limit <= 0 {
		limit = DefaultOfferedSlots
	}
	labels := make([]string, 0, limit)
	for _, s := range slots {
		if len(labels) == limit {
			break
		}
		label := strings.TrimSpace(s.Label)
		if label == "" {
			label = d.Phrases.SlotFallback
		}
		labels = append(labels, label)
	}

	log.Ctx(ctx).Info().Int("slots", len(slots)).Msg("slots offered")
	return d.Phrases.SlotsPrefix + strings.Join(labels, d.Phrases.SlotsSeparator), statex.StageSlotsOffered
}

// ChooseSlot picks the offered slot at index, or the first one when index is
// out of range. With nothing offered it falls back to the default slot.
func (d *Dispatcher) ChooseSlot(offered []contractx.Slot, index int, now time.Time) contractx.Slot {
	serviceID, staffID := first(d.ServiceIDs), first(d.StaffIDs)
	if len(offered) == 0 {
		return d.Booking.DefaultSlot(now, serviceID, staffID)
	}
	if index < 0 || index >= len(offered) {
		index = 0
	}
	choice := offered[index]
	if choice.Start.IsZero() {
		choice.Start = d.Booking.DefaultSlot(now, serviceID, staffID).Start
	}
	return choice
}

func (d *Dispatcher) book(ctx context.Context, in *GraphState) string {
	if d.Scheduler == nil {
		return d.Phrases.BookingFailed
	}

	offered, err := d.Store.GetSlots(ctx, in.SlotKey())
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("failed to read cached slots, booking default slot")
		offered = nil
	}
	choice := d.ChooseSlot(offered, in.Directive.Index, in.Now)

	serviceID, staffID := first(d.ServiceIDs), first(d.StaffIDs)
	if serviceID == 0 {
		serviceID = choice.ServiceID
	}
	if staffID == 0 {
		staffID = choice.StaffID
	}

	res, err := d.Scheduler.CreateBooking(ctx, contractx.BookingRequest{
		FullName:  d.Phrases.GuestName,
		Phone:     in.CallerID,
		ServiceID: serviceID,
		StaffID:   staffID,
		Start:     choice.Start,
		CallID:    in.CallID,
	})
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("booking request failed")
		return d.Phrases.BookingFailed
	}
	if !res.Success {
		log.Ctx(ctx).Warn().Str("message", res.Message).Msg("booking rejected")
		return d.Phrases.BookingFailed
	}

	log.Ctx(ctx).Info().Int64("record_id", res.RecordID).Time("start", choice.Start).Msg("booking created")
	return d.Phrases.Booked
}

func first(ids []int) int {
	if len(ids) == 0 {
		return 0
	}
	return ids[0]
}
