// Package gueststate reports a sender's booking status.
package gueststate

import (
	"context"

	"guesthouse-sms-agent/internal/domain"
)

// Lookup returns an open-ended state tag for a phone number.
type Lookup interface {
	Lookup(ctx context.Context, phone string) (string, error)
}

// StaticLookup returns the same state for every sender.
type StaticLookup struct {
	State string
}

// NewStaticLookup returns a lookup answering state, or UNKNOWN when empty.
func NewStaticLookup(state string) StaticLookup {
	if state == "" {
		state = domain.GuestStateUnknown
	}
	return StaticLookup{State: state}
}

func (s StaticLookup) Lookup(_ context.Context, _ string) (string, error) {
	if s.State == "" {
		return domain.GuestStateUnknown, nil
	}
	return s.State, nil
}
