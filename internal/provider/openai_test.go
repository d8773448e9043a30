package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/legalqa/legalqa/internal/chaterr"
	"github.com/legalqa/legalqa/internal/session"
)

type chatCall struct {
	auth     string
	messages []map[string]any
	body     map[string]any
}

// chatServer fakes /chat/completions. reply decides the content per call.
type chatServer struct {
	*httptest.Server
	mu    sync.Mutex
	calls []chatCall
}

func newChatServer(t *testing.T, status int, reply func(messages []map[string]any) string) *chatServer {
	t.Helper()
	cs := &chatServer{}
	cs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		var msgs []map[string]any
		for _, m := range body["messages"].([]any) {
			msgs = append(msgs, m.(map[string]any))
		}
		cs.mu.Lock()
		cs.calls = append(cs.calls, chatCall{auth: r.Header.Get("Authorization"), messages: msgs, body: body})
		cs.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"bad","type":"invalid_request_error"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "test",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": reply(msgs)},
			}},
		})
	}))
	t.Cleanup(cs.Close)
	return cs
}

func fixed(s string) func([]map[string]any) string {
	return func([]map[string]any) string { return s }
}

func TestOpenAIRequiresKey(t *testing.T) {
	a := NewOpenAIAdapter(OpenAI, RemoteConfig{})
	assert.ErrorIs(t, a.Ready(context.Background(), ""), chaterr.ErrBackendUnavailable)
	assert.ErrorIs(t, a.Ready(context.Background(), "   "), chaterr.ErrBackendUnavailable)
	assert.NoError(t, a.Ready(context.Background(), "sk-test"))

	_, err := a.Invoke(context.Background(), &Request{})
	assert.ErrorIs(t, err, chaterr.ErrBackendUnavailable)
}

func TestOpenAIInvoke(t *testing.T) {
	srv := newChatServer(t, http.StatusOK, fixed("  Consideration is required.  "))
	a := NewOpenAIAdapter(OpenAI, RemoteConfig{BaseURL: srv.URL + "/v1/", SystemPrompt: "Be precise."})

	turns := []session.Turn{
		{Role: session.RoleUser, Content: "Is a promise binding?"},
		{Role: session.RoleAssistant, Content: "Sometimes."},
		{Role: session.RoleUser, Content: "When?"},
	}
	res, err := a.Invoke(context.Background(), &Request{Turns: turns, APIKey: "sk-request"})
	require.NoError(t, err)
	assert.Equal(t, "Consideration is required.", a.Clean(res.Raw))

	require.Len(t, srv.calls, 1)
	call := srv.calls[0]
	assert.Equal(t, "Bearer sk-request", call.auth)
	require.Len(t, call.messages, 4)
	assert.Equal(t, "system", call.messages[0]["role"])
	assert.Equal(t, "user", call.messages[1]["role"])
	assert.Equal(t, "assistant", call.messages[2]["role"])
	assert.Equal(t, "When?", call.messages[3]["content"])
	assert.Equal(t, "gpt-3.5-turbo", call.body["model"])
}

func TestOpenAIConfiguredKeyFallback(t *testing.T) {
	srv := newChatServer(t, http.StatusOK, fixed("ok"))
	a := NewOpenAIAdapter(OpenAI, RemoteConfig{BaseURL: srv.URL + "/v1/", APIKey: "sk-server"})

	require.NoError(t, a.Ready(context.Background(), ""))
	_, err := a.Invoke(context.Background(), &Request{Turns: []session.Turn{{Role: session.RoleUser, Content: "hi"}}})
	require.NoError(t, err)
	assert.Equal(t, "Bearer sk-server", srv.calls[0].auth)
}

func TestOpenAIErrors(t *testing.T) {
	turns := []session.Turn{{Role: session.RoleUser, Content: "hi"}}

	failing := newChatServer(t, http.StatusUnauthorized, nil)
	a := NewOpenAIAdapter(OpenAI, RemoteConfig{BaseURL: failing.URL + "/v1/"})
	_, err := a.Invoke(context.Background(), &Request{Turns: turns, APIKey: "bad"})
	require.ErrorIs(t, err, chaterr.ErrBackendInvocationFailed)
	assert.Contains(t, err.Error(), "HTTP 401")
	assert.Len(t, failing.calls, 1, "retries must be disabled")

	empty := newChatServer(t, http.StatusOK, fixed(""))
	a = NewOpenAIAdapter(OpenAI, RemoteConfig{BaseURL: empty.URL + "/v1/"})
	_, err = a.Invoke(context.Background(), &Request{Turns: turns, APIKey: "k"})
	assert.ErrorIs(t, err, chaterr.ErrBackendResponseInvalid)
}

func TestOpenAIFormatPromptTranscript(t *testing.T) {
	a := NewOpenAIAdapter(OpenAI, RemoteConfig{SystemPrompt: "sys"})
	got := a.FormatPrompt([]session.Turn{{Role: session.RoleUser, Content: "hi"}})
	assert.Equal(t, "system: sys\nuser: hi\n", got)
}
