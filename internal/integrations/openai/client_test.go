package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"guesthouse-sms-agent/internal/domain"
	"guesthouse-sms-agent/internal/orchestrator"
	"guesthouse-sms-agent/internal/testutil"
)

// fakeGetter is a minimal paramstore.Getter stub for use within this package.
type fakeGetter struct {
	val    string
	err    error
	name   string
	onCall func()
}

func (f *fakeGetter) GetParameter(_ context.Context, name string) (string, error) {
	f.name = name
	if f.onCall != nil {
		f.onCall()
	}
	return f.val, f.err
}

func TestChatURL(t *testing.T) {
	cases := []struct {
		base string
		want string
	}{
		{"https://api.openai.com/v1", "https://api.openai.com/v1/chat/completions"},
		{"https://api.openai.com/v1/", "https://api.openai.com/v1/chat/completions"},
		{"http://localhost:8080", "http://localhost:8080/v1/chat/completions"},
		{"", "https://api.openai.com/v1/chat/completions"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, chatURL(tc.base), "base=%q", tc.base)
	}
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(nil, "/guesthouse")
	require.ErrorContains(t, err, "nil")

	_, err = NewClient(&fakeGetter{}, "  / ")
	require.ErrorContains(t, err, "prefix")

	c, err := NewClient(nil, "", WithAPIKey("sk-static"))
	require.NoError(t, err)
	require.Equal(t, "sk-static", c.staticKey)
}

func TestAPIClient_KeyFetchedOnce(t *testing.T) {
	calls := 0
	g := &fakeGetter{val: `{"token":"sk-from-ssm"}`, onCall: func() { calls++ }}
	c, err := NewClient(g, "/guesthouse/")
	require.NoError(t, err)

	_, err = c.apiClient(context.Background())
	require.NoError(t, err)
	_, err = c.apiClient(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, calls)
	require.Equal(t, "/guesthouse/open-ai-token", g.name)
}

func TestAPIClient_FailedLookupRetried(t *testing.T) {
	g := &fakeGetter{err: errors.New("ssm unavailable")}
	c, err := NewClient(g, "/guesthouse")
	require.NoError(t, err)

	_, err = c.apiClient(context.Background())
	require.ErrorContains(t, err, "ssm unavailable")

	g.err, g.val = nil, `{"token":"sk-later"}`
	_, err = c.apiClient(context.Background())
	require.NoError(t, err)
}

func TestFetchAPIKey(t *testing.T) {
	cases := []struct {
		name    string
		getter  Getter
		param   string
		want    string
		wantErr string
	}{
		{name: "json token", getter: &fakeGetter{val: `{"token":"sk-json"}`}, param: "/p/open-ai-token", want: "sk-json"},
		{name: "missing field", getter: &fakeGetter{val: `{"other":"v"}`}, param: "/p/open-ai-token", wantErr: "API token is empty"},
		{name: "malformed", getter: &fakeGetter{val: `{"broken`}, param: "/p/open-ai-token", wantErr: "unmarshal"},
		{name: "getter error", getter: &fakeGetter{err: errors.New("ssm down")}, param: "/p/open-ai-token", wantErr: "ssm down"},
		{name: "nil getter", getter: nil, param: "/p/open-ai-token", wantErr: "nil"},
		{name: "empty name", getter: &fakeGetter{val: `{"token":"x"}`}, param: " ", wantErr: "empty"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := fetchAPIKeyFromParamStore(context.Background(), tc.getter, tc.param)
			if tc.wantErr != "" {
				require.ErrorContains(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := NewClient(
		&fakeGetter{val: `{"token":"sk-test"}`},
		"/guesthouse",
		WithBaseURL(srv.URL),
		WithHTTPClient(&http.Client{Timeout: 2 * time.Second}),
	)
	require.NoError(t, err)
	return c
}

func TestClient_Chat_HappyPath(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &captured))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-123",
			"object": "chat.completion",
			"created": 1670000000,
			"choices": [{
				"index": 0,
				"message": {"role": "assistant", "content": "{\"intent\":\"CHECKIN\"}"}
			}]
		}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	resp, err := c.Chat(context.Background(), "gpt-mock", []domain.ChatMessage{
		{Role: domain.RoleSystem, Content: "policy"},
		{Role: domain.RoleUser, Content: "hi"},
	})
	require.NoError(t, err)
	require.Equal(t, `{"intent":"CHECKIN"}`, resp)

	require.Equal(t, "gpt-mock", captured["model"])
	require.Equal(t, map[string]any{"type": "json_object"}, captured["response_format"])
	temp, ok := captured["temperature"].(float64)
	require.True(t, ok, "temperature must be sent")
	require.Greater(t, temp, 0.0)
	require.Less(t, temp, 1e-30)
	msgs, ok := captured["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 2)
}

func TestClient_Chat_StatusErrors(t *testing.T) {
	for _, code := range []int{400, 429, 500} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(code)
			_, _ = w.Write([]byte(`{"error":{"message":"upstream said no","type":"server_error"}}`))
		}))

		c := newTestClient(t, srv)
		_, err := c.Chat(context.Background(), "gpt-mock", []domain.ChatMessage{{Role: "user", Content: "hi"}})
		srv.Close()

		var statusErr *HTTPStatusError
		require.ErrorAs(t, err, &statusErr, "code %d", code)
		require.Equal(t, code, statusErr.HTTPStatusCode())
		require.Contains(t, err.Error(), "upstream said no")
	}
}

func TestClient_Chat_NonJSONErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(502)
		_, _ = w.Write([]byte(`<html>bad gateway</html>`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Chat(context.Background(), "gpt-mock", nil)
	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, 502, statusErr.StatusCode)
}

func TestClient_Chat_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Chat(context.Background(), "gpt-mock", nil)
	require.ErrorContains(t, err, "no choices")
}

func TestClient_Chat_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	c, err := NewClient(nil, "", WithAPIKey("sk"), WithBaseURL(srv.URL),
		WithHTTPClient(&http.Client{Timeout: 50 * time.Millisecond}))
	require.NoError(t, err)
	_, err = c.Chat(context.Background(), "gpt-mock", nil)
	require.ErrorContains(t, err, "request failed")
}

func TestClient_Chat_EmptyModel(t *testing.T) {
	c, err := NewClient(&fakeGetter{val: `{"token":"sk-test"}`}, "/guesthouse")
	require.NoError(t, err)
	_, err = c.Chat(context.Background(), "", nil)
	require.ErrorContains(t, err, "model")
}

func TestClient_Chat_ReplayedCassette(t *testing.T) {
	rec, stop := testutil.NewVCRRecorder(t, "openai_classify")
	defer stop()

	c, err := NewClient(nil, "", WithAPIKey("sk-replay"), WithHTTPClient(testutil.VCRHTTPClient(rec)))
	require.NoError(t, err)

	o, err := orchestrator.New(c, "gpt-4o-mini")
	require.NoError(t, err)

	res := o.Classify(context.Background(), orchestrator.Input{Text: "체크인 몇 시에요?"})
	require.Equal(t, "CHECKIN", res.Intent)
	require.Equal(t, "체크인은 오후 3시부터 가능합니다.", res.ReplyText)
	require.Nil(t, res.FlowType)
	require.False(t, res.NeedFollowup)
	require.True(t, res.EndFlow)
	require.NotNil(t, res.Confidence)
}
