package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"guesthouse-sms-agent/internal/configcache"
	"guesthouse-sms-agent/internal/domain"
	"guesthouse-sms-agent/internal/orchestrator"
	"guesthouse-sms-agent/internal/policy"
	"guesthouse-sms-agent/internal/repository"
)

const (
	historyWindow = orchestrator.MaxHistory
	// One extra row because the staged inbound message is part of the read.
	historyFetch = historyWindow + 1
)

var tracer = otel.Tracer("guesthouse-sms-agent/internal/usecase")

type UnitStarter interface {
	Begin(ctx context.Context) (repository.UnitOfWork, error)
}

type ConfigSource interface {
	Get() *configcache.Snapshot
	EnsureLoaded(ctx context.Context) (*configcache.Snapshot, error)
}

type KnowledgeRetriever interface {
	Retrieve(ctx context.Context, scopeIntent string) ([]domain.KnowledgeEntry, error)
}

type Classifier interface {
	Classify(ctx context.Context, in orchestrator.Input) domain.OrchestrationResult
}

type GuestStateLookup interface {
	Lookup(ctx context.Context, phone string) (string, error)
}

type SMSSender interface {
	Send(ctx context.Context, to, text string) error
}

// InboundDeps are the collaborators of the inbound pipeline. All are required.
type InboundDeps struct {
	Store      UnitStarter
	Config     ConfigSource
	Knowledge  KnowledgeRetriever
	Classifier Classifier
	GuestState GuestStateLookup
	Sender     SMSSender
}

type InboundService struct {
	deps      InboundDeps
	now       func() time.Time
	location  *time.Location
	logger    *slog.Logger
	locks     *senderLocks
	serialize bool
}

type InboundOption func(*InboundService)

func WithClock(now func() time.Time) InboundOption {
	return func(s *InboundService) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLocation sets the guesthouse timezone used for the night window.
func WithLocation(loc *time.Location) InboundOption {
	return func(s *InboundService) {
		if loc != nil {
			s.location = loc
		}
	}
}

func WithLogger(logger *slog.Logger) InboundOption {
	return func(s *InboundService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSenderSerialization toggles the per-sender lock. It is on by default.
func WithSenderSerialization(enabled bool) InboundOption {
	return func(s *InboundService) {
		s.serialize = enabled
	}
}

type InboundInput struct {
	From       string
	Text       string
	ReceivedAt time.Time
}

type InboundOutput struct {
	IncomingID   string
	OutgoingID   *string
	Intent       string
	FlowType     *string
	EndFlow      bool
	ReplyText    string
	HandledBy    domain.HandledBy
	NeedFollowup bool
}

func NewInboundService(deps InboundDeps, opts ...InboundOption) (*InboundService, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("usecase: store must not be nil")
	case deps.Config == nil:
		return nil, errors.New("usecase: config cache must not be nil")
	case deps.Knowledge == nil:
		return nil, errors.New("usecase: knowledge retriever must not be nil")
	case deps.Classifier == nil:
		return nil, errors.New("usecase: classifier must not be nil")
	case deps.GuestState == nil:
		return nil, errors.New("usecase: guest state lookup must not be nil")
	case deps.Sender == nil:
		return nil, errors.New("usecase: sms sender must not be nil")
	}
	s := &InboundService{
		deps:      deps,
		now:       time.Now,
		location:  time.UTC,
		logger:    slog.Default(),
		locks:     newSenderLocks(),
		serialize: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Handle processes one inbound SMS. Everything it records commits together or
// not at all; the reply is sent only after a successful commit.
func (s *InboundService) Handle(ctx context.Context, in InboundInput) (out InboundOutput, err error) {
	ctx, span := tracer.Start(ctx, "usecase.InboundService.Handle")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	from := strings.TrimSpace(in.From)
	text := strings.TrimSpace(in.Text)
	if from == "" || text == "" {
		return InboundOutput{}, newError(ErrorInvalidInput, ReasonFromTextRequired, nil)
	}
	receivedAt := in.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = s.now()
	}

	if s.serialize {
		unlock := s.locks.Lock(from)
		defer unlock()
	}

	guestState := s.lookupGuestState(ctx, from)
	snap := s.snapshot(ctx)

	uow, err := s.deps.Store.Begin(ctx)
	if err != nil {
		return InboundOutput{}, newError(ErrorInternal, "store_begin_error", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = uow.Rollback()
		}
	}()

	inbound, err := uow.InsertInbound(ctx, domain.Message{
		Phone:      from,
		Text:       text,
		GuestState: guestState,
	})
	if err != nil {
		return InboundOutput{}, newError(ErrorInternal, "store_insert_inbound_error", err)
	}
	span.SetAttributes(attribute.String("sms.incoming_id", inbound.ID))

	recent, err := uow.RecentHistory(ctx, from, historyFetch)
	if err != nil {
		return InboundOutput{}, newError(ErrorInternal, "store_history_error", err)
	}
	history := priorHistory(recent, inbound.ID)

	knowledge, err := s.deps.Knowledge.Retrieve(ctx, activeTopic(history))
	if err != nil {
		return InboundOutput{}, newError(ErrorInternal, "knowledge_retrieve_error", err)
	}

	result := s.classify(ctx, orchestrator.Input{
		Text:       text,
		GuestState: guestState,
		History:    history,
		Knowledge:  knowledge,
		Intents:    snap.Intents,
	})

	decision := policy.Decide(policy.Input{
		Result:           result,
		Night:            policy.IsNightTime(receivedAt, s.location),
		ActionIntents:    snap.ActionIntents(),
		ComplaintIntents: snap.ComplaintIntents(),
		Templates:        snap,
	})
	span.SetAttributes(
		attribute.String("sms.intent", decision.Intent),
		attribute.String("sms.mode", string(decision.Mode)),
		attribute.Bool("sms.need_followup", decision.NeedFollowup),
	)

	classified := inbound
	classified.Intent = domain.StringPtr(decision.Intent)
	classified.Confidence = result.Confidence
	classified.FlowType = decision.FlowType
	classified.Slots = decision.Slots
	classified.EndFlow = decision.EndFlow
	classified.HandledBy = decision.HandledBy
	classified.NeedFollowup = decision.NeedFollowup
	classified.Resolved = !decision.NeedFollowup

	reply := strings.TrimSpace(decision.ReplyText)
	var outgoingID *string
	if reply != "" {
		outbound, err := uow.InsertOutbound(ctx, domain.Message{
			Phone:        from,
			Text:         reply,
			ReplyTo:      &inbound.ID,
			Intent:       classified.Intent,
			Confidence:   classified.Confidence,
			FlowType:     classified.FlowType,
			Slots:        classified.Slots,
			EndFlow:      classified.EndFlow,
			GuestState:   guestState,
			HandledBy:    classified.HandledBy,
			NeedFollowup: classified.NeedFollowup,
			Resolved:     classified.Resolved,
		})
		if err != nil {
			return InboundOutput{}, newError(ErrorInternal, "store_insert_outbound_error", err)
		}
		outgoingID = &outbound.ID
	}

	if decision.NeedFollowup {
		if _, err := uow.InsertFollowup(ctx, domain.FollowupEntry{
			MessageID: inbound.ID,
			Phone:     from,
			Reason:    decision.Reason,
			Memo:      text,
		}); err != nil {
			return InboundOutput{}, newError(ErrorInternal, "store_insert_followup_error", err)
		}
	}

	if err := uow.UpdateInbound(ctx, classified); err != nil {
		return InboundOutput{}, newError(ErrorInternal, "store_update_inbound_error", err)
	}
	if err := uow.Commit(ctx); err != nil {
		return InboundOutput{}, newError(ErrorInternal, "store_commit_error", err)
	}
	committed = true

	s.logger.InfoContext(ctx, "inbound sms handled",
		"incoming_id", inbound.ID,
		"intent", decision.Intent,
		"mode", decision.Mode,
		"handled_by", decision.HandledBy,
		"need_followup", decision.NeedFollowup,
	)

	if outgoingID != nil {
		s.send(ctx, from, reply, inbound.ID, *outgoingID)
	}

	return InboundOutput{
		IncomingID:   inbound.ID,
		OutgoingID:   outgoingID,
		Intent:       decision.Intent,
		FlowType:     decision.FlowType,
		EndFlow:      decision.EndFlow,
		ReplyText:    reply,
		HandledBy:    decision.HandledBy,
		NeedFollowup: decision.NeedFollowup,
	}, nil
}

func (s *InboundService) lookupGuestState(ctx context.Context, phone string) string {
	state, err := s.deps.GuestState.Lookup(ctx, phone)
	if err != nil {
		s.logger.WarnContext(ctx, "guest state lookup failed", "err", err)
		return domain.GuestStateUnknown
	}
	if strings.TrimSpace(state) == "" {
		return domain.GuestStateUnknown
	}
	return state
}

// snapshot falls back to the last good snapshot, then to an empty one, so a
// storage hiccup never blocks handling.
func (s *InboundService) snapshot(ctx context.Context) *configcache.Snapshot {
	snap, err := s.deps.Config.EnsureLoaded(ctx)
	if err == nil && snap != nil {
		return snap
	}
	s.logger.WarnContext(ctx, "config snapshot unavailable", "err", err)
	if snap = s.deps.Config.Get(); snap != nil {
		return snap
	}
	return configcache.Empty()
}

func (s *InboundService) classify(ctx context.Context, in orchestrator.Input) domain.OrchestrationResult {
	ctx, span := tracer.Start(ctx, "orchestrator.Classify",
		trace.WithAttributes(attribute.Int("sms.history_len", len(in.History)), attribute.Int("sms.knowledge_len", len(in.Knowledge))))
	defer span.End()
	return s.deps.Classifier.Classify(ctx, in)
}

func (s *InboundService) send(ctx context.Context, to, text, incomingID, outgoingID string) {
	if err := s.deps.Sender.Send(ctx, to, text); err != nil {
		s.logger.ErrorContext(ctx, "sms send failed",
			"err", err,
			"incoming_id", incomingID,
			"outgoing_id", outgoingID,
		)
	}
}

// priorHistory drops the message being handled and keeps the newest rows.
func priorHistory(recent []domain.Message, currentID string) []domain.Message {
	history := make([]domain.Message, 0, len(recent))
	for _, m := range recent {
		if m.ID != currentID {
			history = append(history, m)
		}
	}
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}
	return history
}

// activeTopic is the intent of the sender's latest prior inbound message.
func activeTopic(history []domain.Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Direction == domain.DirectionIn {
			return history[i].IntentName()
		}
	}
	return ""
}
