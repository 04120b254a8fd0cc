package domain

import "time"

// FollowupStatus is the lifecycle state of a follow-up queue entry.
type FollowupStatus string

const (
	FollowupPending    FollowupStatus = "PENDING"
	FollowupInProgress FollowupStatus = "IN_PROGRESS"
	FollowupResolved   FollowupStatus = "RESOLVED"
	FollowupDismissed  FollowupStatus = "DISMISSED"
)

// Valid reports whether s is one of the known statuses.
func (s FollowupStatus) Valid() bool {
	switch s {
	case FollowupPending, FollowupInProgress, FollowupResolved, FollowupDismissed:
		return true
	}
	return false
}

// Terminal reports whether no further work is expected for the entry.
func (s FollowupStatus) Terminal() bool {
	return s == FollowupResolved || s == FollowupDismissed
}

// FollowupReason explains why a message was routed to a human.
type FollowupReason string

const (
	ReasonComplaint   FollowupReason = "COMPLAINT"
	ReasonNightAction FollowupReason = "NIGHT_ACTION"
	ReasonLLMFlagged  FollowupReason = "LLM_FLAGGED"
)

// Valid reports whether r is one of the known reasons.
func (r FollowupReason) Valid() bool {
	switch r {
	case ReasonComplaint, ReasonNightAction, ReasonLLMFlagged:
		return true
	}
	return false
}

// FollowupEntry is a queue item for human review. One exists for an inbound
// message exactly when that message was persisted with NeedFollowup set.
type FollowupEntry struct {
	ID         string
	MessageID  string
	Phone      string
	Status     FollowupStatus
	Reason     FollowupReason
	Memo       string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	ResolvedAt *time.Time
}
