package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"guesthouse-sms-agent/internal/domain"
)

// batch is everything one unit of work wants to persist.
type batch struct {
	inbound  domain.Message
	outbound *domain.Message
	followup *domain.FollowupEntry
}

// uowBackend is implemented by each storage engine.
type uowBackend interface {
	recentMessages(ctx context.Context, phone string, limit int) ([]domain.Message, error)
	commitBatch(ctx context.Context, b batch) error
}

// unitOfWork stages writes in memory and hands them to the backend in a single
// atomic commit. Staging keeps the backend free of open write transactions
// while the caller waits on the language model.
type unitOfWork struct {
	backend uowBackend
	now     func() time.Time

	mu       sync.Mutex
	inbound  *domain.Message
	outbound *domain.Message
	followup *domain.FollowupEntry
	finished bool
}

func newUnitOfWork(backend uowBackend, now func() time.Time) *unitOfWork {
	return &unitOfWork{backend: backend, now: now}
}

func (u *unitOfWork) InsertInbound(_ context.Context, msg domain.Message) (domain.Message, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.finished {
		return domain.Message{}, ErrUnitFinished
	}
	if u.inbound != nil {
		return domain.Message{}, errors.New("repository: InsertInbound: inbound message already recorded")
	}
	if strings.TrimSpace(msg.Phone) == "" {
		return domain.Message{}, errors.New("repository: InsertInbound: phone is required")
	}

	msg.ID = newUUID()
	msg.Direction = domain.DirectionIn
	msg.ReplyTo = nil
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = u.now().UTC()
	}
	msg.Resolved = !msg.NeedFollowup
	u.inbound = &msg
	return msg, nil
}

func (u *unitOfWork) RecentHistory(ctx context.Context, phone string, limit int) ([]domain.Message, error) {
	u.mu.Lock()
	if u.finished {
		u.mu.Unlock()
		return nil, ErrUnitFinished
	}
	var staged []domain.Message
	for _, m := range []*domain.Message{u.inbound, u.outbound} {
		if m != nil && m.Phone == phone {
			staged = append(staged, *m)
		}
	}
	u.mu.Unlock()

	if limit <= 0 {
		return nil, nil
	}
	committed, err := u.backend.recentMessages(ctx, phone, limit)
	if err != nil {
		return nil, fmt.Errorf("repository: RecentHistory: %w", err)
	}

	all := append(committed, staged...)
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}

func (u *unitOfWork) InsertOutbound(_ context.Context, msg domain.Message) (domain.Message, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.finished {
		return domain.Message{}, ErrUnitFinished
	}
	if u.inbound == nil {
		return domain.Message{}, errors.New("repository: InsertOutbound: no inbound message recorded")
	}
	if u.outbound != nil {
		return domain.Message{}, errors.New("repository: InsertOutbound: outbound message already recorded")
	}
	if msg.ReplyTo == nil {
		msg.ReplyTo = &u.inbound.ID
	}
	if *msg.ReplyTo != u.inbound.ID {
		return domain.Message{}, fmt.Errorf("repository: InsertOutbound: reply_to %q does not match inbound %q", *msg.ReplyTo, u.inbound.ID)
	}

	msg.ID = newUUID()
	msg.Direction = domain.DirectionOut
	if msg.Phone == "" {
		msg.Phone = u.inbound.Phone
	}
	msg.CreatedAt = u.now().UTC()
	if !msg.CreatedAt.After(u.inbound.CreatedAt) {
		msg.CreatedAt = u.inbound.CreatedAt.Add(time.Nanosecond)
	}
	msg.Resolved = !msg.NeedFollowup
	u.outbound = &msg
	return msg, nil
}

func (u *unitOfWork) InsertFollowup(_ context.Context, entry domain.FollowupEntry) (domain.FollowupEntry, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.finished {
		return domain.FollowupEntry{}, ErrUnitFinished
	}
	if u.inbound == nil {
		return domain.FollowupEntry{}, errors.New("repository: InsertFollowup: no inbound message recorded")
	}
	if u.followup != nil {
		return domain.FollowupEntry{}, errors.New("repository: InsertFollowup: follow-up already recorded")
	}
	if entry.MessageID == "" {
		entry.MessageID = u.inbound.ID
	}
	if entry.MessageID != u.inbound.ID {
		return domain.FollowupEntry{}, fmt.Errorf("repository: InsertFollowup: message %q does not match inbound %q", entry.MessageID, u.inbound.ID)
	}
	if !entry.Reason.Valid() {
		return domain.FollowupEntry{}, fmt.Errorf("repository: InsertFollowup: unknown reason %q", entry.Reason)
	}

	now := u.now().UTC()
	entry.ID = newUUID()
	if entry.Phone == "" {
		entry.Phone = u.inbound.Phone
	}
	if entry.Status == "" {
		entry.Status = domain.FollowupPending
	}
	entry.CreatedAt = now
	entry.UpdatedAt = now
	u.followup = &entry
	return entry, nil
}

func (u *unitOfWork) UpdateInbound(_ context.Context, msg domain.Message) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.finished {
		return ErrUnitFinished
	}
	if u.inbound == nil || msg.ID != u.inbound.ID {
		return fmt.Errorf("repository: UpdateInbound: %w", ErrNotFound)
	}
	updated := *u.inbound
	updated.Intent = msg.Intent
	updated.Confidence = msg.Confidence
	updated.FlowType = msg.FlowType
	updated.Slots = msg.Slots
	updated.EndFlow = msg.EndFlow
	updated.GuestState = msg.GuestState
	updated.HandledBy = msg.HandledBy
	updated.NeedFollowup = msg.NeedFollowup
	updated.Resolved = !msg.NeedFollowup
	u.inbound = &updated
	return nil
}

func (u *unitOfWork) Commit(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.finished {
		return ErrUnitFinished
	}
	if u.inbound == nil {
		return errors.New("repository: Commit: no inbound message recorded")
	}
	if u.inbound.NeedFollowup != (u.followup != nil) {
		return errors.New("repository: Commit: follow-up entry does not match need_followup")
	}

	u.finished = true
	b := batch{inbound: *u.inbound, outbound: u.outbound, followup: u.followup}
	if err := u.backend.commitBatch(ctx, b); err != nil {
		return fmt.Errorf("repository: Commit: %w", err)
	}
	return nil
}

// Rollback discards staged writes. It is safe to call after Commit.
func (u *unitOfWork) Rollback() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.finished = true
	u.inbound, u.outbound, u.followup = nil, nil, nil
	return nil
}
