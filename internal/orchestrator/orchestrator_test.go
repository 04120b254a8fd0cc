package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"guesthouse-sms-agent/internal/domain"
)

type capturingLLM struct {
	answer    string
	err       error
	model     string
	captured  []domain.ChatMessage
	callCount int
}

func (c *capturingLLM) Chat(_ context.Context, model string, msgs []domain.ChatMessage) (string, error) {
	c.callCount++
	c.model = model
	c.captured = msgs
	return c.answer, c.err
}

type statusErr struct{ code int }

func (e *statusErr) Error() string       { return fmt.Sprintf("status %d", e.code) }
func (e *statusErr) HTTPStatusCode() int { return e.code }

func TestNew_ValidatesClient(t *testing.T) {
	_, err := New(nil, "gpt-4o-mini")
	require.Error(t, err)
}

func TestClassify_ParsesModelOutput(t *testing.T) {
	llm := &capturingLLM{answer: `{
		"reply_text": "체크인은 오후 3시부터입니다.",
		"intent": "CHECKIN",
		"flow_type": "CHECKIN_FLOW",
		"slots": {"guests": 2},
		"need_followup": false,
		"end_flow": true,
		"confidence": 0.92
	}`}
	o, err := New(llm, "gpt-4o-mini")
	require.NoError(t, err)

	res := o.Classify(context.Background(), Input{Text: "체크인 몇 시에요?"})
	require.Equal(t, "gpt-4o-mini", llm.model)
	require.Equal(t, "체크인은 오후 3시부터입니다.", res.ReplyText)
	require.Equal(t, "CHECKIN", res.Intent)
	require.NotNil(t, res.FlowType)
	require.Equal(t, "CHECKIN_FLOW", *res.FlowType)
	require.Equal(t, map[string]any{"guests": float64(2)}, res.Slots)
	require.False(t, res.NeedFollowup)
	require.True(t, res.EndFlow)
	require.InDelta(t, 0.92, *res.Confidence, 1e-9)
}

func TestClassify_TransportErrorFallsBack(t *testing.T) {
	for _, err := range []error{errors.New("dial tcp: timeout"), &statusErr{code: 503}} {
		o, newErr := New(&capturingLLM{err: err}, "gpt-4o-mini")
		require.NoError(t, newErr)

		res := o.Classify(context.Background(), Input{Text: "hi"})
		require.Equal(t, Fallback(), res)
		require.True(t, res.NeedFollowup)
	}
}

func TestClassify_UnconfiguredModelFallsBack(t *testing.T) {
	llm := &capturingLLM{answer: `{"reply_text":"x"}`}
	o, err := New(llm, "  ")
	require.NoError(t, err)

	res := o.Classify(context.Background(), Input{Text: "hi"})
	require.Equal(t, FallbackReply, res.ReplyText)
	require.Zero(t, llm.callCount)
}

func TestClassify_PromptStructure(t *testing.T) {
	llm := &capturingLLM{answer: `{}`}
	o, err := New(llm, "m")
	require.NoError(t, err)

	var history []domain.Message
	for i := 0; i < 12; i++ {
		dir := domain.DirectionIn
		if i%2 == 1 {
			dir = domain.DirectionOut
		}
		history = append(history, domain.Message{Direction: dir, Text: fmt.Sprintf("turn-%d", i)})
	}

	o.Classify(context.Background(), Input{
		Text:       "  latest question ",
		GuestState: "CHECKED_IN",
		History:    history,
		Knowledge:  []domain.KnowledgeEntry{{Category: "PARTY", Title: "BBQ", Content: "Party  starts\nat 8pm"}},
		Intents:    []domain.IntentDefinition{{Name: "PARTY", Description: "bbq party"}, {Name: "GENERIC"}},
	})

	msgs := llm.captured
	require.Len(t, msgs, 2+MaxHistory+1)
	require.Equal(t, domain.RoleSystem, msgs[0].Role)
	require.Contains(t, msgs[0].Content, "Output Contract:")
	require.Equal(t, domain.RoleSystem, msgs[1].Role)
	require.Contains(t, msgs[1].Content, "Guest State: CHECKED_IN")
	require.Contains(t, msgs[1].Content, "- PARTY: bbq party")
	require.Contains(t, msgs[1].Content, "- GENERIC\n")
	require.Contains(t, msgs[1].Content, "[PARTY] BBQ: Party starts at 8pm")

	require.Equal(t, domain.ChatMessage{Role: domain.RoleUser, Content: "turn-2"}, msgs[2])
	require.Equal(t, domain.ChatMessage{Role: domain.RoleAssistant, Content: "turn-11"}, msgs[2+MaxHistory-1])
	require.Equal(t, domain.ChatMessage{Role: domain.RoleUser, Content: "latest question"}, msgs[len(msgs)-1])
}

func TestBuildContextPrompt_Defaults(t *testing.T) {
	got := buildContextPrompt(Input{})
	require.True(t, strings.HasPrefix(got, "Guest State: UNKNOWN"))
	require.Contains(t, got, "- GENERIC")
	require.Contains(t, got, "(none)")
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		ok     bool
		assert func(t *testing.T, res domain.OrchestrationResult)
	}{
		{
			name: "not json",
			raw:  "Sorry, I cannot help",
			ok:   false,
			assert: func(t *testing.T, res domain.OrchestrationResult) {
				require.Equal(t, Fallback(), res)
			},
		},
		{
			name: "array",
			raw:  `["a"]`,
			ok:   false,
			assert: func(t *testing.T, res domain.OrchestrationResult) {
				require.Equal(t, domain.IntentGeneric, res.Intent)
				require.True(t, res.NeedFollowup)
			},
		},
		{
			name: "trailing data",
			raw:  `{"intent":"A"} {"intent":"B"}`,
			ok:   false,
			assert: func(t *testing.T, res domain.OrchestrationResult) {
				require.Equal(t, FallbackReply, res.ReplyText)
			},
		},
		{
			name: "empty object",
			raw:  `{}`,
			ok:   true,
			assert: func(t *testing.T, res domain.OrchestrationResult) {
				require.Equal(t, "", res.ReplyText)
				require.Equal(t, domain.IntentGeneric, res.Intent)
				require.Nil(t, res.FlowType)
				require.Equal(t, map[string]any{}, res.Slots)
				require.False(t, res.NeedFollowup)
				require.False(t, res.EndFlow)
				require.False(t, res.IsComplaint)
				require.Nil(t, res.Confidence)
			},
		},
		{
			name: "wrong types",
			raw:  `{"reply_text": 5, "intent": "", "flow_type": "", "slots": [1], "need_followup": "yes", "end_flow": 0, "confidence": "high"}`,
			ok:   true,
			assert: func(t *testing.T, res domain.OrchestrationResult) {
				require.Equal(t, "", res.ReplyText)
				require.Equal(t, domain.IntentGeneric, res.Intent)
				require.Nil(t, res.FlowType)
				require.Equal(t, map[string]any{}, res.Slots)
				require.True(t, res.NeedFollowup)
				require.False(t, res.EndFlow)
				require.Nil(t, res.Confidence)
			},
		},
		{
			name: "non string intent and null flow",
			raw:  `{"intent": 3, "flow_type": null, "is_complaint": true}`,
			ok:   true,
			assert: func(t *testing.T, res domain.OrchestrationResult) {
				require.Equal(t, domain.IntentGeneric, res.Intent)
				require.Nil(t, res.FlowType)
				require.True(t, res.IsComplaint)
			},
		},
		{
			name: "confidence clamped",
			raw:  `{"confidence": 1.7}`,
			ok:   true,
			assert: func(t *testing.T, res domain.OrchestrationResult) {
				require.Equal(t, 1.0, *res.Confidence)
			},
		},
		{
			name: "negative confidence clamped",
			raw:  `{"confidence": -2}`,
			ok:   true,
			assert: func(t *testing.T, res domain.OrchestrationResult) {
				require.Equal(t, 0.0, *res.Confidence)
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res, ok := Normalize(tc.raw)
			require.Equal(t, tc.ok, ok)
			tc.assert(t, res)
		})
	}
}

func TestTruthy(t *testing.T) {
	require.False(t, truthy(nil))
	require.False(t, truthy(""))
	require.False(t, truthy(float64(0)))
	require.False(t, truthy([]any{}))
	require.True(t, truthy("false"))
	require.True(t, truthy(float64(1)))
	require.True(t, truthy(map[string]any{"a": 1}))
}
