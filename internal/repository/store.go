package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"guesthouse-sms-agent/internal/domain"
)

var (
	// ErrNotFound is returned when the addressed record does not exist.
	ErrNotFound = errors.New("repository: not found")
	// ErrConflict is returned when a create collides with an existing record.
	ErrConflict = errors.New("repository: conflict")
	// ErrUnitFinished is returned when a unit of work is used after Commit or Rollback.
	ErrUnitFinished = errors.New("repository: unit of work already finished")
)

const defaultFollowupLimit = 100

// UnitOfWork records the handling of exactly one inbound message. Nothing is
// visible to other readers until Commit succeeds; Rollback discards
// everything that was staged.
type UnitOfWork interface {
	InsertInbound(ctx context.Context, msg domain.Message) (domain.Message, error)
	RecentHistory(ctx context.Context, phone string, limit int) ([]domain.Message, error)
	InsertOutbound(ctx context.Context, msg domain.Message) (domain.Message, error)
	InsertFollowup(ctx context.Context, entry domain.FollowupEntry) (domain.FollowupEntry, error)
	UpdateInbound(ctx context.Context, msg domain.Message) error
	Commit(ctx context.Context) error
	Rollback() error
}

// FollowupFilter narrows ListFollowups. Zero values match everything.
type FollowupFilter struct {
	Status domain.FollowupStatus
	Reason domain.FollowupReason
	Limit  int
}

// Store is the persistence surface shared by the SQLite and DynamoDB backends.
type Store interface {
	Begin(ctx context.Context) (UnitOfWork, error)
	ListMessages(ctx context.Context, phone string, limit int) ([]domain.Message, error)

	ListIntents(ctx context.Context) ([]domain.IntentDefinition, error)
	CreateIntent(ctx context.Context, in domain.IntentDefinition) (domain.IntentDefinition, error)
	UpdateIntent(ctx context.Context, in domain.IntentDefinition) (domain.IntentDefinition, error)
	DeleteIntent(ctx context.Context, name string) error

	ListTemplates(ctx context.Context, activeOnly bool) ([]domain.ReplyTemplate, error)
	CreateTemplate(ctx context.Context, t domain.ReplyTemplate) (domain.ReplyTemplate, error)
	UpdateTemplate(ctx context.Context, t domain.ReplyTemplate) (domain.ReplyTemplate, error)
	DeleteTemplate(ctx context.Context, id string) error

	ListKnowledge(ctx context.Context, categories []string, limit int) ([]domain.KnowledgeEntry, error)
	CreateKnowledge(ctx context.Context, e domain.KnowledgeEntry) (domain.KnowledgeEntry, error)
	UpdateKnowledge(ctx context.Context, e domain.KnowledgeEntry) (domain.KnowledgeEntry, error)
	DeleteKnowledge(ctx context.Context, id string) error

	ListFollowups(ctx context.Context, filter FollowupFilter) ([]domain.FollowupEntry, error)
	GetFollowup(ctx context.Context, id string) (domain.FollowupEntry, error)
	UpdateFollowup(ctx context.Context, entry domain.FollowupEntry) (domain.FollowupEntry, error)

	Close() error
}

// Option configures a store backend.
type Option func(*storeOptions)

type storeOptions struct {
	now func() time.Time
}

// WithClock overrides the time source used to stamp records.
func WithClock(now func() time.Time) Option {
	return func(o *storeOptions) {
		if now != nil {
			o.now = now
		}
	}
}

func buildOptions(opts []Option) storeOptions {
	o := storeOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

var newUUID = func() string {
	return uuid.NewString()
}

func followupLimit(n int) int {
	if n <= 0 {
		return defaultFollowupLimit
	}
	return n
}
