package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"guesthouse-sms-agent/internal/domain"
	"guesthouse-sms-agent/internal/usecase"
)

const maxBodyBytes = 1 << 20

type InboundUseCase interface {
	Handle(ctx context.Context, in usecase.InboundInput) (usecase.InboundOutput, error)
}

type AdminUseCase interface {
	ReloadConfig(ctx context.Context) error

	ListIntents(ctx context.Context) ([]domain.IntentDefinition, error)
	CreateIntent(ctx context.Context, in domain.IntentDefinition) (domain.IntentDefinition, error)
	UpdateIntent(ctx context.Context, name string, in domain.IntentDefinition) (domain.IntentDefinition, error)
	DeleteIntent(ctx context.Context, name string) error

	ListTemplates(ctx context.Context) ([]domain.ReplyTemplate, error)
	CreateTemplate(ctx context.Context, t domain.ReplyTemplate) (domain.ReplyTemplate, error)
	UpdateTemplate(ctx context.Context, id string, t domain.ReplyTemplate) (domain.ReplyTemplate, error)
	DeleteTemplate(ctx context.Context, id string) error

	ListKnowledge(ctx context.Context, category string) ([]domain.KnowledgeEntry, error)
	CreateKnowledge(ctx context.Context, e domain.KnowledgeEntry) (domain.KnowledgeEntry, error)
	UpdateKnowledge(ctx context.Context, id string, e domain.KnowledgeEntry) (domain.KnowledgeEntry, error)
	DeleteKnowledge(ctx context.Context, id string) error

	ListFollowups(ctx context.Context, q usecase.FollowupQuery) ([]domain.FollowupEntry, error)
	PatchFollowup(ctx context.Context, id string, p usecase.FollowupPatch) (domain.FollowupEntry, error)
}

// Handler serves the webhook and admin API. The same routing table backs
// both the HTTP server and the Lambda entry point.
type Handler struct {
	inbound InboundUseCase
	admin   AdminUseCase
	logger  *slog.Logger
	root    http.Handler
}

type Option func(*Handler)

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

func NewHandler(inbound InboundUseCase, admin AdminUseCase, opts ...Option) (*Handler, error) {
	if inbound == nil {
		return nil, errors.New("handler: inbound use case must not be nil")
	}
	if admin == nil {
		return nil, errors.New("handler: admin use case must not be nil")
	}
	h := &Handler{inbound: inbound, admin: admin, logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	h.root = otelhttp.NewHandler(h.routes(), "guesthouse-sms-agent")
	return h, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.root.ServeHTTP(w, r)
}

func (h *Handler) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(CorrelationIDMiddleware)
	r.Use(LoggingMiddleware(h.logger))
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Post("/sms/webhook", h.webhook)

	r.Route("/admin", func(r chi.Router) {
		r.Post("/reload-config", h.reloadConfig)

		r.Get("/intents", h.listIntents)
		r.Post("/intents", h.createIntent)
		r.Put("/intents/{name}", h.updateIntent)
		r.Delete("/intents/{name}", h.deleteIntent)

		r.Get("/templates", h.listTemplates)
		r.Post("/templates", h.createTemplate)
		r.Put("/templates/{id}", h.updateTemplate)
		r.Delete("/templates/{id}", h.deleteTemplate)

		r.Get("/knowledge", h.listKnowledge)
		r.Post("/knowledge", h.createKnowledge)
		r.Put("/knowledge/{id}", h.updateKnowledge)
		r.Delete("/knowledge/{id}", h.deleteKnowledge)

		r.Get("/followups", h.listFollowups)
		r.Patch("/followups/{id}", h.patchFollowup)
	})
	return r
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type okResponse struct {
	OK bool `json:"ok"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeUseCaseError maps a usecase error code to its HTTP status. Reasons of
// internal errors stay in the log.
func (h *Handler) writeUseCaseError(w http.ResponseWriter, r *http.Request, err error) {
	AddError(r.Context(), err)
	var ucErr *usecase.Error
	if !errors.As(err, &ucErr) {
		h.logger.ErrorContext(r.Context(), "unexpected handler error", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: string(usecase.ErrorInternal)})
		return
	}
	switch ucErr.Code {
	case usecase.ErrorInvalidInput:
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: string(ucErr.Code), Message: ucErr.Reason})
	case usecase.ErrorNotFound:
		writeJSON(w, http.StatusNotFound, errorResponse{Error: string(ucErr.Code), Message: ucErr.Reason})
	case usecase.ErrorConflict:
		writeJSON(w, http.StatusConflict, errorResponse{Error: string(ucErr.Code), Message: ucErr.Reason})
	default:
		h.logger.ErrorContext(r.Context(), "admin request failed", "reason", ucErr.Reason, "err", ucErr.Err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: string(usecase.ErrorInternal)})
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "invalid request body", Err: err}
	}
	return nil
}
