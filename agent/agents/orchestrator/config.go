package orchestrator

import (
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/chative-voicebot/agent/contract"
	nodex "github.com/tanpawarit/chative-voicebot/agent/nodes/orchestrator"
)

// ScheduleConfig describes the working day used for best-effort bookings.
type ScheduleConfig struct {
	TZ           string        `envconfig:"TZ" default:"Europe/Moscow"`
	WorkHours    string        `split_words:"true" default:"09:00-18:00"`
	SlotDuration time.Duration `split_words:"true" default:"30m"`
	SlotBuffer   time.Duration `split_words:"true" default:"10m"`
	GuestName    string        `split_words:"true"`
}

func (c ScheduleConfig) Validate() error {
	_, err := c.BookingDefaults()
	return err
}

func (c ScheduleConfig) BookingDefaults() (nodex.BookingDefaults, error) {
	loc, err := time.LoadLocation(strings.TrimSpace(c.TZ))
	if err != nil {
		return nodex.BookingDefaults{}, fmt.Errorf("%w: timezone %q: %v", contractx.ErrValidation, c.TZ, err)
	}
	start, end, err := nodex.ParseWorkHours(c.WorkHours)
	if err != nil {
		return nodex.BookingDefaults{}, err
	}
	if c.SlotDuration <= 0 {
		return nodex.BookingDefaults{}, fmt.Errorf("%w: slot duration must be positive", contractx.ErrValidation)
	}

	return nodex.BookingDefaults{
		Location:     loc,
		WorkStart:    start,
		WorkEnd:      end,
		SlotDuration: c.SlotDuration,
		Buffer:       c.SlotBuffer,
	}, nil
}
