package domain

import "time"

// Direction tells whether a message was received from or sent to a guest.
type Direction string

const (
	DirectionIn  Direction = "IN"
	DirectionOut Direction = "OUT"
)

// HandledBy records which actor produced the reply for an exchange.
type HandledBy string

const (
	HandledByComplaint  HandledBy = "complaint-auto"
	HandledByNightDefer HandledBy = "night-defer-auto"
	HandledByLLM        HandledBy = "llm-orchestrated"
)

// GuestStateUnknown is used when no booking information exists for a sender.
const GuestStateUnknown = "UNKNOWN"

// Message is one directed SMS event.
//
// OUT rows always carry ReplyTo pointing at the IN row that triggered them,
// and Resolved is always the negation of NeedFollowup.
type Message struct {
	ID           string
	Direction    Direction
	Phone        string
	Text         string
	CreatedAt    time.Time
	Intent       *string
	Confidence   *float64
	FlowType     *string
	Slots        map[string]any
	EndFlow      bool
	GuestState   string
	HandledBy    HandledBy
	NeedFollowup bool
	Resolved     bool
	ReplyTo      *string
}

// IntentName returns the classified intent or "" when unclassified.
func (m Message) IntentName() string {
	if m.Intent == nil {
		return ""
	}
	return *m.Intent
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
