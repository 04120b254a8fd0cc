package domain

import "time"

// Well known intent names.
const (
	IntentGeneric    = "GENERIC"
	IntentComplaint  = "COMPLAINT"
	IntentNightDefer = "NIGHT_DEFER"
)

// Well known template sub-intents.
const (
	SubIntentDefault = "DEFAULT"
	SubIntentNight   = "NIGHT"
)

// IntentDefinition describes one category of guest inquiry.
type IntentDefinition struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	IsAction    bool      `json:"is_action"`
	IsComplaint bool      `json:"is_complaint"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ReplyTemplate is a canned reply grouped by intent and sub-intent. Seq is the
// insertion order and breaks ties between equal SortOrder values.
type ReplyTemplate struct {
	ID        string    `json:"id"`
	Intent    string    `json:"intent"`
	SubIntent string    `json:"sub_intent"`
	Text      string    `json:"text"`
	SortOrder int       `json:"sort_order"`
	Active    bool      `json:"active"`
	Seq       int64     `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// KnowledgeEntry is a titled snippet used as prompt context.
type KnowledgeEntry struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Category  string    `json:"category"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
