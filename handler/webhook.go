package handler

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"guesthouse-sms-agent/internal/usecase"
)

var (
	fromKeys       = []string{"from", "From", "sender", "phone"}
	textKeys       = []string{"text", "Text", "body", "Body", "message"}
	receivedAtKeys = []string{"receivedAt", "received_at", "timestamp"}
)

type webhookResponse struct {
	OK         bool    `json:"ok"`
	IncomingID string  `json:"incoming_id"`
	OutgoingID *string `json:"outgoing_id"`
	Intent     string  `json:"intent"`
	FlowType   *string `json:"flow_type"`
	EndFlow    bool    `json:"end_flow"`
}

func (h *Handler) webhook(w http.ResponseWriter, r *http.Request) {
	in := parseWebhook(w, r)
	AddLogField(r.Context(), "from", in.From)

	out, err := h.inbound.Handle(r.Context(), in)
	if err != nil {
		AddError(r.Context(), err)
		var ucErr *usecase.Error
		if errors.As(err, &ucErr) && ucErr.Code == usecase.ErrorInvalidInput {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: ucErr.Reason})
			return
		}
		h.logger.ErrorContext(r.Context(), "webhook failed", "err", err, "correlation_id", CorrelationID(r.Context()))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal_server_error"})
		return
	}

	AddLogField(r.Context(), "incoming_id", out.IncomingID)
	writeJSON(w, http.StatusOK, webhookResponse{
		OK:         true,
		IncomingID: out.IncomingID,
		OutgoingID: out.OutgoingID,
		Intent:     out.Intent,
		FlowType:   out.FlowType,
		EndFlow:    out.EndFlow,
	})
}

// parseWebhook accepts the JSON shapes of common SMS gateways and
// form-encoded Twilio callbacks. An unreadable body yields an empty input,
// which the use case rejects.
func parseWebhook(w http.ResponseWriter, r *http.Request) usecase.InboundInput {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/x-www-form-urlencoded" {
		if err := r.ParseForm(); err != nil {
			return usecase.InboundInput{}
		}
		return usecase.InboundInput{
			From:       firstForm(r, fromKeys),
			Text:       firstForm(r, textKeys),
			ReceivedAt: parseTimestamp(firstForm(r, receivedAtKeys)),
		}
	}

	var payload map[string]any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		return usecase.InboundInput{}
	}
	in := usecase.InboundInput{
		From: firstString(payload, fromKeys),
		Text: firstString(payload, textKeys),
	}
	for _, k := range receivedAtKeys {
		if v, ok := payload[k]; ok {
			in.ReceivedAt = parseTimestampValue(v)
			break
		}
	}
	return in
}

func firstForm(r *http.Request, keys []string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(r.PostForm.Get(k)); v != "" {
			return v
		}
	}
	return ""
}

// firstString returns the first non-empty value among keys. Numbers are
// accepted for phone fields sent unquoted.
func firstString(payload map[string]any, keys []string) string {
	for _, k := range keys {
		switch v := payload[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

func parseTimestampValue(v any) time.Time {
	switch t := v.(type) {
	case string:
		return parseTimestamp(t)
	case float64:
		if t <= 0 {
			return time.Time{}
		}
		return time.Unix(int64(t), 0).UTC()
	}
	return time.Time{}
}

// parseTimestamp reads RFC3339 or unix seconds. Anything else is treated as
// absent so the receipt time defaults to now.
func parseTimestamp(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil && n > 0 {
		return time.Unix(n, 0).UTC()
	}
	return time.Time{}
}
