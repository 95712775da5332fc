package audit

import "time"

// Event is one finished conversation: which flow, how it ended and which
// seller it concerned. Events are appended in chronological order.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	UserID    int64     `json:"user_id"`
	Flow      string    `json:"flow"`
	Outcome   string    `json:"outcome"`
	Seller    string    `json:"seller,omitempty"`
}

// Outcomes recorded by the conversation engine.
const (
	OutcomeCompleted = "completed"
	OutcomeAborted   = "aborted"
	OutcomeCancelled = "cancelled"
)

// Recorder abstracts persistence of audit events.
// Implementations must be safe for concurrent use.
type Recorder interface {
	Append(event Event) error
	Load() ([]Event, error)
}
