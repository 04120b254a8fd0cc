package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"guesthouse-sms-agent/internal/domain"
	"guesthouse-sms-agent/internal/usecase"
)

func (h *Handler) reloadConfig(w http.ResponseWriter, r *http.Request) {
	if err := h.admin.ReloadConfig(r.Context()); err != nil {
		AddError(r.Context(), err)
		h.logger.ErrorContext(r.Context(), "config reload failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (h *Handler) listIntents(w http.ResponseWriter, r *http.Request) {
	out, err := h.admin.ListIntents(r.Context())
	if err != nil {
		h.writeUseCaseError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(out))
}

func (h *Handler) createIntent(w http.ResponseWriter, r *http.Request) {
	var in domain.IntentDefinition
	if err := decodeJSON(w, r, &in); err != nil {
		h.writeUseCaseError(w, r, err)
		return
	}
	out, err := h.admin.CreateIntent(r.Context(), in)
	if err != nil {
		h.writeUseCaseError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (h *Handler) updateIntent(w http.ResponseWriter, r *http.Request) {
	var in domain.IntentDefinition
	if err := decodeJSON(w, r, &in); err != nil {
		h.writeUseCaseError(w, r, err)
		return
	}
	out, err := h.admin.UpdateIntent(r.Context(), chi.URLParam(r, "name"), in)
	if err != nil {
		h.writeUseCaseError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) deleteIntent(w http.ResponseWriter, r *http.Request) {
	if err := h.admin.DeleteIntent(r.Context(), chi.URLParam(r, "name")); err != nil {
		h.writeUseCaseError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// templateRequest defaults Active to true when the field is omitted.
type templateRequest struct {
	Intent    string `json:"intent"`
	SubIntent string `json:"sub_intent"`
	Text      string `json:"text"`
	SortOrder int    `json:"sort_order"`
	Active    *bool  `json:"active"`
}

func (t templateRequest) toDomain() domain.ReplyTemplate {
	active := true
	if t.Active != nil {
		active = *t.Active
	}
	return domain.ReplyTemplate{
		Intent:    t.Intent,
		SubIntent: t.SubIntent,
		Text:      t.Text,
		SortOrder: t.SortOrder,
		Active:    active,
	}
}

func (h *Handler) listTemplates(w http.ResponseWriter, r *http.Request) {
	out, err := h.admin.ListTemplates(r.Context())
	if err != nil {
		h.writeUseCaseError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(out))
}

func (h *Handler) createTemplate(w http.ResponseWriter, r *http.Request) {
	var req templateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeUseCaseError(w, r, err)
		return
	}
	out, err := h.admin.CreateTemplate(r.Context(), req.toDomain())
	if err != nil {
		h.writeUseCaseError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (h *Handler) updateTemplate(w http.ResponseWriter, r *http.Request) {
	var req templateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeUseCaseError(w, r, err)
		return
	}
	out, err := h.admin.UpdateTemplate(r.Context(), chi.URLParam(r, "id"), req.toDomain())
	if err != nil {
		h.writeUseCaseError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) deleteTemplate(w http.ResponseWriter, r *http.Request) {
	if err := h.admin.DeleteTemplate(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeUseCaseError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listKnowledge(w http.ResponseWriter, r *http.Request) {
	out, err := h.admin.ListKnowledge(r.Context(), r.URL.Query().Get("category"))
	if err != nil {
		h.writeUseCaseError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(out))
}

func (h *Handler) createKnowledge(w http.ResponseWriter, r *http.Request) {
	var e domain.KnowledgeEntry
	if err := decodeJSON(w, r, &e); err != nil {
		h.writeUseCaseError(w, r, err)
		return
	}
	out, err := h.admin.CreateKnowledge(r.Context(), e)
	if err != nil {
		h.writeUseCaseError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (h *Handler) updateKnowledge(w http.ResponseWriter, r *http.Request) {
	var e domain.KnowledgeEntry
	if err := decodeJSON(w, r, &e); err != nil {
		h.writeUseCaseError(w, r, err)
		return
	}
	out, err := h.admin.UpdateKnowledge(r.Context(), chi.URLParam(r, "id"), e)
	if err != nil {
		h.writeUseCaseError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) deleteKnowledge(w http.ResponseWriter, r *http.Request) {
	if err := h.admin.DeleteKnowledge(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeUseCaseError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type followupResponse struct {
	ID         string     `json:"id"`
	MessageID  string     `json:"message_id"`
	Phone      string     `json:"phone"`
	Status     string     `json:"status"`
	Reason     string     `json:"reason"`
	Memo       string     `json:"memo"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	ResolvedAt *time.Time `json:"resolved_at"`
}

func toFollowupResponse(f domain.FollowupEntry) followupResponse {
	return followupResponse{
		ID:         f.ID,
		MessageID:  f.MessageID,
		Phone:      f.Phone,
		Status:     string(f.Status),
		Reason:     string(f.Reason),
		Memo:       f.Memo,
		CreatedAt:  f.CreatedAt,
		UpdatedAt:  f.UpdatedAt,
		ResolvedAt: f.ResolvedAt,
	}
}

type followupPatchRequest struct {
	Status *string `json:"status"`
	Memo   *string `json:"memo"`
}

func (h *Handler) listFollowups(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := usecase.FollowupQuery{Status: q.Get("status"), Reason: q.Get("reason")}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			h.writeUseCaseError(w, r, &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "limit must be an integer", Err: err})
			return
		}
		query.Limit = n
	}

	entries, err := h.admin.ListFollowups(r.Context(), query)
	if err != nil {
		h.writeUseCaseError(w, r, err)
		return
	}
	out := make([]followupResponse, 0, len(entries))
	for _, f := range entries {
		out = append(out, toFollowupResponse(f))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) patchFollowup(w http.ResponseWriter, r *http.Request) {
	var req followupPatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeUseCaseError(w, r, err)
		return
	}
	out, err := h.admin.PatchFollowup(r.Context(), chi.URLParam(r, "id"), usecase.FollowupPatch{Status: req.Status, Memo: req.Memo})
	if err != nil {
		h.writeUseCaseError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toFollowupResponse(out))
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
