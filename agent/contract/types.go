package contract

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// EventType is the platform event name delivered in the webhook body.
type EventType string

const (
	EventSpeechCaptured EventType = "SpeechCaptured"
	EventEnd            EventType = "End"
)

// UnknownCaller keys events that arrive without a caller id.
const UnknownCaller = "unknown"

// NormalizeCallerID trims id and maps a blank id to UnknownCaller.
func NormalizeCallerID(id string) string {
	if id = strings.TrimSpace(id); id == "" {
		return UnknownCaller
	}
	return id
}

// Event is one inbound webhook delivery.
type Event struct {
	Type         EventType `json:"event"`
	CallerID     string    `json:"callerid"`
	CallID       string    `json:"call_id"`
	RecordingURL string    `json:"recording_url,omitempty"`
}

// Reply is what the webhook answers with. Status is set for non-spoken
// outcomes; PlaybackURL and Text for spoken turns.
type Reply struct {
	Status      string `json:"status,omitempty"`
	PlaybackURL string `json:"playback_url,omitempty"`
	Text        string `json:"text,omitempty"`
}

const (
	StatusCleared = "cleared"
	StatusOK      = "ok"
)

type Role string

const (
	RoleCaller    Role = "user"
	RoleAssistant Role = "assistant"
)

func (r Role) Valid() bool {
	return r == RoleCaller || r == RoleAssistant
}

type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// Slot is a bookable time offered by the scheduling provider.
type Slot struct {
	ServiceID int       `json:"service_id"`
	StaffID   int       `json:"staff_id"`
	Label     string    `json:"label"`
	Start     time.Time `json:"start"`
}

type BookingRequest struct {
	FullName  string
	Phone     string
	ServiceID int
	StaffID   int
	Start     time.Time
	// CallID is sent as the provider's external reference.
	CallID string
}

type BookingResult struct {
	Success    bool
	RecordID   int64
	RecordHash string
	Message    string
}

type Action string

const (
	ActSay       Action = "say"
	ActShowSlots Action = "show_slots"
	ActBook      Action = "book"
	ActGoodbye   Action = "goodbye"
)

// Directive is the resolved next step for a call. Index is only meaningful
// for ActBook.
type Directive struct {
	Act   Action
	Index int
	Text  string
	Hints []string
}

func Say(text string) Directive {
	return Directive{Act: ActSay, Text: text}
}

func ShowSlots(text string) Directive {
	return Directive{Act: ActShowSlots, Text: text}
}

func Book(index int, text string) Directive {
	if index < 0 {
		index = 0
	}
	return Directive{Act: ActBook, Index: index, Text: text}
}

func Goodbye(text string) Directive {
	return Directive{Act: ActGoodbye, Text: text}
}

// Tag renders the directive as its wire tag, e.g. "book:1".
func (d Directive) Tag() string {
	if d.Act == ActBook {
		return fmt.Sprintf("%s:%d", ActBook, d.Index)
	}
	return string(d.Act)
}

// ParseAction reads an act tag. Booking accepts "book", "book:2", "book(2)",
// "book 2" and "book_2"; a missing or unreadable index means 0.
func ParseAction(tag string) (Action, int, bool) {
	tag = strings.ToLower(strings.TrimSpace(tag))
	switch Action(tag) {
	case ActSay, ActShowSlots, ActGoodbye:
		return Action(tag), 0, true
	}

	rest, ok := strings.CutPrefix(tag, string(ActBook))
	if !ok || (rest != "" && !strings.ContainsRune(" :_(", rune(rest[0]))) {
		return "", 0, false
	}
	rest = strings.Trim(rest, " :_()")
	if rest == "" {
		return ActBook, 0, true
	}
	idx, err := strconv.Atoi(rest)
	if err != nil || idx < 0 {
		return ActBook, 0, true
	}
	return ActBook, idx, true
}
