package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"guesthouse-sms-agent/internal/configcache"
	"guesthouse-sms-agent/internal/domain"
	"guesthouse-sms-agent/internal/policy"
	"guesthouse-sms-agent/internal/repository"
)

type AdminStore interface {
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

	ListFollowups(ctx context.Context, filter repository.FollowupFilter) ([]domain.FollowupEntry, error)
	GetFollowup(ctx context.Context, id string) (domain.FollowupEntry, error)
	UpdateFollowup(ctx context.Context, entry domain.FollowupEntry) (domain.FollowupEntry, error)
}

type ConfigReloader interface {
	Load(ctx context.Context) (*configcache.Snapshot, error)
}

// AdminService validates administrative edits before they reach the store.
// Edits to intents and templates take effect after ReloadConfig.
type AdminService struct {
	store  AdminStore
	cache  ConfigReloader
	now    func() time.Time
	logger *slog.Logger
}

type AdminOption func(*AdminService)

func WithAdminClock(now func() time.Time) AdminOption {
	return func(s *AdminService) {
		if now != nil {
			s.now = now
		}
	}
}

func WithAdminLogger(logger *slog.Logger) AdminOption {
	return func(s *AdminService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewAdminService(store AdminStore, cache ConfigReloader, opts ...AdminOption) (*AdminService, error) {
	if store == nil {
		return nil, errors.New("usecase: admin store must not be nil")
	}
	if cache == nil {
		return nil, errors.New("usecase: config reloader must not be nil")
	}
	s := &AdminService{store: store, cache: cache, now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ReloadConfig rebuilds the config snapshot from storage.
func (s *AdminService) ReloadConfig(ctx context.Context) error {
	if _, err := s.cache.Load(ctx); err != nil {
		return newError(ErrorInternal, "config_reload_error", err)
	}
	return nil
}

func (s *AdminService) ListIntents(ctx context.Context) ([]domain.IntentDefinition, error) {
	out, err := s.store.ListIntents(ctx)
	if err != nil {
		return nil, storeError("list_intents_error", err)
	}
	return out, nil
}

func (s *AdminService) CreateIntent(ctx context.Context, in domain.IntentDefinition) (domain.IntentDefinition, error) {
	in.Name = normalizeIntentName(in.Name)
	if in.Name == "" {
		return domain.IntentDefinition{}, newError(ErrorInvalidInput, "name is required", nil)
	}
	in.Description = strings.TrimSpace(in.Description)
	out, err := s.store.CreateIntent(ctx, in)
	if err != nil {
		return domain.IntentDefinition{}, storeError("create_intent_error", err)
	}
	return out, nil
}

func (s *AdminService) UpdateIntent(ctx context.Context, name string, in domain.IntentDefinition) (domain.IntentDefinition, error) {
	in.Name = normalizeIntentName(name)
	if in.Name == "" {
		return domain.IntentDefinition{}, newError(ErrorInvalidInput, "name is required", nil)
	}
	in.Description = strings.TrimSpace(in.Description)
	out, err := s.store.UpdateIntent(ctx, in)
	if err != nil {
		return domain.IntentDefinition{}, storeError("update_intent_error", err)
	}
	return out, nil
}

func (s *AdminService) DeleteIntent(ctx context.Context, name string) error {
	name = normalizeIntentName(name)
	if name == "" {
		return newError(ErrorInvalidInput, "name is required", nil)
	}
	if err := s.store.DeleteIntent(ctx, name); err != nil {
		return storeError("delete_intent_error", err)
	}
	return nil
}

func (s *AdminService) ListTemplates(ctx context.Context) ([]domain.ReplyTemplate, error) {
	out, err := s.store.ListTemplates(ctx, false)
	if err != nil {
		return nil, storeError("list_templates_error", err)
	}
	return out, nil
}

func (s *AdminService) CreateTemplate(ctx context.Context, t domain.ReplyTemplate) (domain.ReplyTemplate, error) {
	if err := normalizeTemplate(&t); err != nil {
		return domain.ReplyTemplate{}, err
	}
	out, err := s.store.CreateTemplate(ctx, t)
	if err != nil {
		return domain.ReplyTemplate{}, storeError("create_template_error", err)
	}
	return out, nil
}

func (s *AdminService) UpdateTemplate(ctx context.Context, id string, t domain.ReplyTemplate) (domain.ReplyTemplate, error) {
	t.ID = strings.TrimSpace(id)
	if t.ID == "" {
		return domain.ReplyTemplate{}, newError(ErrorInvalidInput, "id is required", nil)
	}
	if err := normalizeTemplate(&t); err != nil {
		return domain.ReplyTemplate{}, err
	}
	out, err := s.store.UpdateTemplate(ctx, t)
	if err != nil {
		return domain.ReplyTemplate{}, storeError("update_template_error", err)
	}
	return out, nil
}

func (s *AdminService) DeleteTemplate(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return newError(ErrorInvalidInput, "id is required", nil)
	}
	if err := s.store.DeleteTemplate(ctx, id); err != nil {
		return storeError("delete_template_error", err)
	}
	return nil
}

// ListKnowledge returns every entry, or only those in category when set.
func (s *AdminService) ListKnowledge(ctx context.Context, category string) ([]domain.KnowledgeEntry, error) {
	var categories []string
	if c := strings.ToUpper(strings.TrimSpace(category)); c != "" {
		categories = []string{c}
	}
	out, err := s.store.ListKnowledge(ctx, categories, 0)
	if err != nil {
		return nil, storeError("list_knowledge_error", err)
	}
	return out, nil
}

func (s *AdminService) CreateKnowledge(ctx context.Context, e domain.KnowledgeEntry) (domain.KnowledgeEntry, error) {
	if err := normalizeKnowledge(&e); err != nil {
		return domain.KnowledgeEntry{}, err
	}
	out, err := s.store.CreateKnowledge(ctx, e)
	if err != nil {
		return domain.KnowledgeEntry{}, storeError("create_knowledge_error", err)
	}
	return out, nil
}

func (s *AdminService) UpdateKnowledge(ctx context.Context, id string, e domain.KnowledgeEntry) (domain.KnowledgeEntry, error) {
	e.ID = strings.TrimSpace(id)
	if e.ID == "" {
		return domain.KnowledgeEntry{}, newError(ErrorInvalidInput, "id is required", nil)
	}
	if err := normalizeKnowledge(&e); err != nil {
		return domain.KnowledgeEntry{}, err
	}
	out, err := s.store.UpdateKnowledge(ctx, e)
	if err != nil {
		return domain.KnowledgeEntry{}, storeError("update_knowledge_error", err)
	}
	return out, nil
}

func (s *AdminService) DeleteKnowledge(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return newError(ErrorInvalidInput, "id is required", nil)
	}
	if err := s.store.DeleteKnowledge(ctx, id); err != nil {
		return storeError("delete_knowledge_error", err)
	}
	return nil
}

type FollowupQuery struct {
	Status string
	Reason string
	Limit  int
}

func (s *AdminService) ListFollowups(ctx context.Context, q FollowupQuery) ([]domain.FollowupEntry, error) {
	filter := repository.FollowupFilter{Limit: q.Limit}
	if v := strings.ToUpper(strings.TrimSpace(q.Status)); v != "" {
		filter.Status = domain.FollowupStatus(v)
		if !filter.Status.Valid() {
			return nil, newError(ErrorInvalidInput, "unknown status", nil)
		}
	}
	if v := strings.ToUpper(strings.TrimSpace(q.Reason)); v != "" {
		filter.Reason = domain.FollowupReason(v)
		if !filter.Reason.Valid() {
			return nil, newError(ErrorInvalidInput, "unknown reason", nil)
		}
	}
	if q.Limit < 0 {
		return nil, newError(ErrorInvalidInput, "limit must not be negative", nil)
	}
	out, err := s.store.ListFollowups(ctx, filter)
	if err != nil {
		return nil, storeError("list_followups_error", err)
	}
	return out, nil
}

// FollowupPatch is a partial update; nil fields are left unchanged.
type FollowupPatch struct {
	Status *string
	Memo   *string
}

// PatchFollowup applies p. Moving to RESOLVED stamps ResolvedAt; moving away
// from it clears the stamp.
func (s *AdminService) PatchFollowup(ctx context.Context, id string, p FollowupPatch) (domain.FollowupEntry, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.FollowupEntry{}, newError(ErrorInvalidInput, "id is required", nil)
	}
	var status domain.FollowupStatus
	if p.Status != nil {
		status = domain.FollowupStatus(strings.ToUpper(strings.TrimSpace(*p.Status)))
		if !status.Valid() {
			return domain.FollowupEntry{}, newError(ErrorInvalidInput, "unknown status", nil)
		}
	}

	entry, err := s.store.GetFollowup(ctx, id)
	if err != nil {
		return domain.FollowupEntry{}, storeError("get_followup_error", err)
	}
	if p.Memo != nil {
		entry.Memo = *p.Memo
	}
	if status != "" && status != entry.Status {
		entry.Status = status
		if status == domain.FollowupResolved {
			now := s.now().UTC()
			entry.ResolvedAt = &now
		} else {
			entry.ResolvedAt = nil
		}
	}

	out, err := s.store.UpdateFollowup(ctx, entry)
	if err != nil {
		return domain.FollowupEntry{}, storeError("update_followup_error", err)
	}
	s.logger.InfoContext(ctx, "followup updated", "followup_id", out.ID, "status", out.Status)
	return out, nil
}

type SeedReport struct {
	IntentsCreated   int
	TemplatesCreated int
}

// DefaultIntents are installed by SeedDefaults.
var DefaultIntents = []domain.IntentDefinition{
	{Name: "CHECKIN", Description: "체크인 시간, 얼리 체크인, 도착 안내", IsAction: true},
	{Name: "CHECKOUT", Description: "체크아웃 시간, 레이트 체크아웃, 짐 보관", IsAction: true},
	{Name: "RESERVATION", Description: "예약 생성, 변경, 취소", IsAction: true},
	{Name: "PARTY", Description: "파티 참석 신청과 일정 문의", IsAction: true},
	{Name: domain.IntentComplaint, Description: "불만, 파손, 환불 요청", IsComplaint: true},
	{Name: domain.IntentGeneric, Description: "그 밖의 일반 문의"},
}

// DefaultTemplates are installed by SeedDefaults when no template exists for
// the same intent and sub-intent.
var DefaultTemplates = []domain.ReplyTemplate{
	{Intent: domain.IntentComplaint, SubIntent: domain.SubIntentDefault, Text: policy.DefaultComplaintReply, Active: true},
	{Intent: domain.IntentNightDefer, SubIntent: domain.SubIntentDefault, Text: policy.DefaultNightDeferReply, Active: true},
}

// SeedDefaults installs DefaultIntents and DefaultTemplates. Running it again
// creates nothing.
func (s *AdminService) SeedDefaults(ctx context.Context) (SeedReport, error) {
	var report SeedReport
	for _, in := range DefaultIntents {
		_, err := s.store.CreateIntent(ctx, in)
		switch {
		case err == nil:
			report.IntentsCreated++
		case errors.Is(err, repository.ErrConflict):
		default:
			return report, storeError("seed_intent_error", err)
		}
	}

	existing, err := s.store.ListTemplates(ctx, false)
	if err != nil {
		return report, storeError("seed_list_templates_error", err)
	}
	have := map[[2]string]bool{}
	for _, t := range existing {
		have[[2]string{t.Intent, t.SubIntent}] = true
	}
	for _, t := range DefaultTemplates {
		if have[[2]string{t.Intent, t.SubIntent}] {
			continue
		}
		if _, err := s.store.CreateTemplate(ctx, t); err != nil {
			return report, storeError("seed_template_error", err)
		}
		report.TemplatesCreated++
	}
	s.logger.InfoContext(ctx, "defaults seeded", "intents", report.IntentsCreated, "templates", report.TemplatesCreated)
	return report, nil
}

func normalizeIntentName(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}

func normalizeTemplate(t *domain.ReplyTemplate) error {
	t.Intent = normalizeIntentName(t.Intent)
	t.SubIntent = strings.ToUpper(strings.TrimSpace(t.SubIntent))
	t.Text = strings.TrimSpace(t.Text)
	if t.Intent == "" || t.Text == "" {
		return newError(ErrorInvalidInput, "intent and text are required", nil)
	}
	if t.SubIntent == "" {
		t.SubIntent = domain.SubIntentDefault
	}
	return nil
}

func normalizeKnowledge(e *domain.KnowledgeEntry) error {
	e.Title = strings.TrimSpace(e.Title)
	e.Category = strings.ToUpper(strings.TrimSpace(e.Category))
	e.Content = strings.TrimSpace(e.Content)
	if e.Title == "" || e.Category == "" || e.Content == "" {
		return newError(ErrorInvalidInput, "title, category and content are required", nil)
	}
	return nil
}
