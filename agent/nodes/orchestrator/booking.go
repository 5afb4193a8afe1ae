package orchestratornode

import (
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/chative-voicebot/agent/contract"
)

// BookingDefaults describe the working day used to pick a slot when the
// caller books without an offer on file.
type BookingDefaults struct {
	Location     *time.Location
	WorkStart    time.Duration
	WorkEnd      time.Duration
	SlotDuration time.Duration
	Buffer       time.Duration
}

// ParseWorkHours reads "HH:MM-HH:MM" into offsets from midnight.
func ParseWorkHours(s string) (time.Duration, time.Duration, error) {
	from, to, ok := strings.Cut(strings.TrimSpace(s), "-")
	if !ok {
		return 0, 0, fmt.Errorf("%w: work hours %q, want HH:MM-HH:MM", contractx.ErrValidation, s)
	}
	start, err := parseClock(from)
	if err != nil {
		return 0, 0, err
	}
	end, err := parseClock(to)
	if err != nil {
		return 0, 0, err
	}
	if end <= start {
		return 0, 0, fmt.Errorf("%w: work hours %q end before they start", contractx.ErrValidation, s)
	}
	return start, end, nil
}

func parseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: clock %q: %v", contractx.ErrValidation, s, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

func (b BookingDefaults) normalized() BookingDefaults {
	if b.Location == nil {
		b.Location = time.UTC
	}
	if b.WorkEnd <= b.WorkStart {
		b.WorkStart, b.WorkEnd = 9*time.Hour, 18*time.Hour
	}
	if b.SlotDuration <= 0 {
		b.SlotDuration = 30 * time.Minute
	}
	if b.Buffer < 0 {
		b.Buffer = 0
	}
	return b
}

// DefaultSlot is the first slot-aligned start at least Buffer after now that
// fits inside working hours, rolling over to the next working day.
func (b BookingDefaults) DefaultSlot(now time.Time, serviceID, staffID int) contractx.Slot {
	b = b.normalized()

	local := now.In(b.Location)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, b.Location)
	open := day.Add(b.WorkStart)
	earliest := local.Add(b.Buffer)

	start := open
	if earliest.After(open) {
		steps := (earliest.Sub(open) + b.SlotDuration - 1) / b.SlotDuration
		start = open.Add(steps * b.SlotDuration)
	}
	if start.Add(b.SlotDuration).After(day.Add(b.WorkEnd)) {
		next := time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, b.Location)
		start = next.Add(b.WorkStart)
	}

	return contractx.Slot{
		ServiceID: serviceID,
		StaffID:   staffID,
		Label:     start.Format("15:04"),
		Start:     start,
	}
}
