package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"guesthouse-sms-agent/internal/configcache"
	"guesthouse-sms-agent/internal/domain"
	"guesthouse-sms-agent/internal/repository"
)

type fakeReloader struct {
	err   error
	calls int
}

func (f *fakeReloader) Load(_ context.Context) (*configcache.Snapshot, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return configcache.Empty(), nil
}

func requireCode(t *testing.T, err error, code ErrorCode) {
	t.Helper()
	var ucErr *Error
	require.ErrorAs(t, err, &ucErr)
	require.Equal(t, code, ucErr.Code)
}

func TestNewAdminService_Validates(t *testing.T) {
	_, err := NewAdminService(nil, &fakeReloader{})
	require.Error(t, err)
	p := newPipeline(t, nil)
	_, err = NewAdminService(p.store, nil)
	require.Error(t, err)
}

func TestAdmin_ReloadConfig(t *testing.T) {
	p := newPipeline(t, nil)
	reloader := &fakeReloader{}
	admin, err := NewAdminService(p.store, reloader)
	require.NoError(t, err)

	require.NoError(t, admin.ReloadConfig(context.Background()))
	require.Equal(t, 1, reloader.calls)

	reloader.err = errors.New("locked")
	requireCode(t, admin.ReloadConfig(context.Background()), ErrorInternal)
}

func TestAdmin_IntentCRUD(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t, nil)

	created, err := p.admin.CreateIntent(ctx, domain.IntentDefinition{Name: " parking ", Description: "  주차 문의 ", IsAction: true})
	require.NoError(t, err)
	require.Equal(t, "PARKING", created.Name)
	require.Equal(t, "주차 문의", created.Description)

	_, err = p.admin.CreateIntent(ctx, domain.IntentDefinition{Name: "PARKING"})
	requireCode(t, err, ErrorConflict)
	_, err = p.admin.CreateIntent(ctx, domain.IntentDefinition{Name: "  "})
	requireCode(t, err, ErrorInvalidInput)

	updated, err := p.admin.UpdateIntent(ctx, "parking", domain.IntentDefinition{Description: "주차"})
	require.NoError(t, err)
	require.False(t, updated.IsAction)

	_, err = p.admin.UpdateIntent(ctx, "missing", domain.IntentDefinition{})
	requireCode(t, err, ErrorNotFound)

	require.NoError(t, p.admin.DeleteIntent(ctx, "Parking"))
	requireCode(t, p.admin.DeleteIntent(ctx, "PARKING"), ErrorNotFound)

	all, err := p.admin.ListIntents(ctx)
	require.NoError(t, err)
	require.Len(t, all, len(DefaultIntents))
}

func TestAdmin_TemplateCRUD(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t, nil)

	_, err := p.admin.CreateTemplate(ctx, domain.ReplyTemplate{Intent: "PARTY"})
	requireCode(t, err, ErrorInvalidInput)

	created, err := p.admin.CreateTemplate(ctx, domain.ReplyTemplate{Intent: "party", Text: " 파티는 8시 ", Active: true})
	require.NoError(t, err)
	require.Equal(t, "PARTY", created.Intent)
	require.Equal(t, domain.SubIntentDefault, created.SubIntent)
	require.Equal(t, "파티는 8시", created.Text)

	created.Text = "파티는 9시"
	updated, err := p.admin.UpdateTemplate(ctx, created.ID, created)
	require.NoError(t, err)
	require.Equal(t, "파티는 9시", updated.Text)

	_, err = p.admin.UpdateTemplate(ctx, " ", created)
	requireCode(t, err, ErrorInvalidInput)

	require.NoError(t, p.admin.DeleteTemplate(ctx, created.ID))
	requireCode(t, p.admin.DeleteTemplate(ctx, created.ID), ErrorNotFound)
}

func TestAdmin_KnowledgeCRUD(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t, nil)

	_, err := p.admin.CreateKnowledge(ctx, domain.KnowledgeEntry{Title: "t", Category: "party"})
	requireCode(t, err, ErrorInvalidInput)

	created, err := p.admin.CreateKnowledge(ctx, domain.KnowledgeEntry{Title: "BBQ", Category: "party", Content: "8pm"})
	require.NoError(t, err)
	require.Equal(t, "PARTY", created.Category)

	_, err = p.admin.CreateKnowledge(ctx, domain.KnowledgeEntry{Title: "Wifi", Category: "wifi", Content: "guest1234"})
	require.NoError(t, err)

	party, err := p.admin.ListKnowledge(ctx, "Party")
	require.NoError(t, err)
	require.Len(t, party, 1)
	all, err := p.admin.ListKnowledge(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)

	created.Content = "9pm"
	updated, err := p.admin.UpdateKnowledge(ctx, created.ID, created)
	require.NoError(t, err)
	require.Equal(t, "9pm", updated.Content)

	require.NoError(t, p.admin.DeleteKnowledge(ctx, created.ID))
	requireCode(t, p.admin.DeleteKnowledge(ctx, created.ID), ErrorNotFound)
}

func TestAdmin_Followups(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t, nil)
	p.llm.set(checkinAnswer, nil)
	_, err := p.svc.Handle(ctx, InboundInput{From: guestPhone, Text: "체크인?", ReceivedAt: at(t, 4)})
	require.NoError(t, err)

	resolvedAt := time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC)
	admin, err := NewAdminService(p.store, &fakeReloader{}, WithAdminClock(func() time.Time { return resolvedAt }))
	require.NoError(t, err)

	_, err = admin.ListFollowups(ctx, FollowupQuery{Status: "bogus"})
	requireCode(t, err, ErrorInvalidInput)
	_, err = admin.ListFollowups(ctx, FollowupQuery{Reason: "bogus"})
	requireCode(t, err, ErrorInvalidInput)

	pending, err := admin.ListFollowups(ctx, FollowupQuery{Status: "pending", Reason: "night_action"})
	require.NoError(t, err)
	require.Len(t, pending, 1)

	memo := "아침에 전화드림"
	inProgress := "IN_PROGRESS"
	fu, err := admin.PatchFollowup(ctx, pending[0].ID, FollowupPatch{Status: &inProgress, Memo: &memo})
	require.NoError(t, err)
	require.Equal(t, domain.FollowupInProgress, fu.Status)
	require.Equal(t, memo, fu.Memo)
	require.Nil(t, fu.ResolvedAt)

	resolved := "resolved"
	fu, err = admin.PatchFollowup(ctx, fu.ID, FollowupPatch{Status: &resolved})
	require.NoError(t, err)
	require.Equal(t, domain.FollowupResolved, fu.Status)
	require.NotNil(t, fu.ResolvedAt)
	require.True(t, resolvedAt.Equal(*fu.ResolvedAt))
	require.Equal(t, memo, fu.Memo)

	bogus := "DONE"
	_, err = admin.PatchFollowup(ctx, fu.ID, FollowupPatch{Status: &bogus})
	requireCode(t, err, ErrorInvalidInput)
	_, err = admin.PatchFollowup(ctx, "missing", FollowupPatch{Memo: &memo})
	requireCode(t, err, ErrorNotFound)

	pending, err = admin.ListFollowups(ctx, FollowupQuery{Status: string(domain.FollowupPending)})
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestAdmin_SeedDefaultsIsIdempotent(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t, nil)

	report, err := p.admin.SeedDefaults(ctx)
	require.NoError(t, err)
	require.Equal(t, SeedReport{}, report)

	intents, err := p.store.ListIntents(ctx)
	require.NoError(t, err)
	require.Len(t, intents, len(DefaultIntents))
	templates, err := p.store.ListTemplates(ctx, false)
	require.NoError(t, err)
	require.Len(t, templates, len(DefaultTemplates)+1)
}

func TestStoreError(t *testing.T) {
	requireCode(t, storeError("x", repository.ErrNotFound), ErrorNotFound)
	requireCode(t, storeError("x", repository.ErrConflict), ErrorConflict)
	requireCode(t, storeError("x", errors.New("disk")), ErrorInternal)
}
