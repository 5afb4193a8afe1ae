package contract

import "context"

// IntentResolver turns caller text plus history into a directive.
type IntentResolver interface {
	Resolve(ctx context.Context, history []Turn, text string) (Directive, error)
}

type FAQMatcher interface {
	Match(text string) (string, bool)
}

type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

type Scheduler interface {
	GetSlots(ctx context.Context, serviceID, staffID int) ([]Slot, error)
	CreateBooking(ctx context.Context, req BookingRequest) (BookingResult, error)
}

// RecordingFetcher downloads the caller's captured audio.
type RecordingFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Publisher synthesizes text and returns a playable URL.
type Publisher interface {
	Publish(ctx context.Context, text string) (string, error)
}
