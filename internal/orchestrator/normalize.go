package orchestrator

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"guesthouse-sms-agent/internal/domain"
)

// FallbackReply is sent when the model cannot produce a usable answer.
const FallbackReply = "죄송합니다. 시스템이 아직 준비 중입니다. 잠시 후 담당자가 확인하여 연락드리겠습니다."

// Fallback is the canonical result for malformed output and model failures.
func Fallback() domain.OrchestrationResult {
	return domain.OrchestrationResult{
		ReplyText:    FallbackReply,
		Intent:       domain.IntentGeneric,
		Slots:        map[string]any{},
		NeedFollowup: true,
	}
}

// Normalize turns raw model output into a result. It reports false when raw
// is not a single JSON object, in which case the fallback is returned.
func Normalize(raw string) (domain.OrchestrationResult, bool) {
	obj, err := decodeObject(raw)
	if err != nil {
		return Fallback(), false
	}

	res := domain.OrchestrationResult{
		ReplyText:    stringField(obj["reply_text"]),
		Intent:       stringField(obj["intent"]),
		Slots:        map[string]any{},
		NeedFollowup: truthy(obj["need_followup"]),
		EndFlow:      truthy(obj["end_flow"]),
		IsComplaint:  truthy(obj["is_complaint"]),
	}
	if strings.TrimSpace(res.Intent) == "" {
		res.Intent = domain.IntentGeneric
	}
	if flow, ok := obj["flow_type"].(string); ok && flow != "" {
		res.FlowType = &flow
	}
	if slots, ok := obj["slots"].(map[string]any); ok {
		res.Slots = slots
	}
	if c, ok := obj["confidence"].(float64); ok {
		c = min(max(c, 0), 1)
		res.Confidence = &c
	}
	return res, true
}

func decodeObject(raw string) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewBufferString(strings.TrimSpace(raw)))
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("orchestrator: decode output: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, errors.New("orchestrator: decode output: trailing data")
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("orchestrator: decode output: got %T, want object", v)
	}
	return obj, nil
}

func stringField(v any) string {
	s, _ := v.(string)
	return s
}

// truthy mirrors loose boolean coercion: empty values and zero are false.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}
