package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/legalqa/legalqa/internal/chaterr"
	"github.com/legalqa/legalqa/internal/session"
)

func anthropicServer(t *testing.T, status int, content []map[string]any, seen *map[string]any, key *string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			http.NotFound(w, r)
			return
		}
		if seen != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(seen))
		}
		if key != nil {
			*key = r.Header.Get("X-Api-Key")
		}
		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"type":"error","error":{"type":"overloaded_error","message":"busy"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":            "msg_1",
			"type":          "message",
			"role":          "assistant",
			"model":         "claude-test",
			"content":       content,
			"stop_reason":   "end_turn",
			"stop_sequence": nil,
			"usage":         map[string]any{"input_tokens": 3, "output_tokens": 4},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestAnthropicInvoke(t *testing.T) {
	var seen map[string]any
	var key string
	srv := anthropicServer(t, http.StatusOK, []map[string]any{
		{"type": "text", "text": "Negligence needs "},
		{"type": "text", "text": "duty and breach."},
	}, &seen, &key)

	a := NewAnthropicAdapter(RemoteConfig{BaseURL: srv.URL, SystemPrompt: "Legal assistant."})
	res, err := a.Invoke(context.Background(), &Request{
		Turns:  []session.Turn{{Role: session.RoleUser, Content: "What is negligence?"}},
		APIKey: "ak-request",
	})
	require.NoError(t, err)
	assert.Equal(t, "Negligence needs duty and breach.", a.Clean(res.Raw))
	assert.Equal(t, "ak-request", key)
	assert.EqualValues(t, 1024, seen["max_tokens"])
	msgs := seen["messages"].([]any)
	require.Len(t, msgs, 1)
	assert.Equal(t, "user", msgs[0].(map[string]any)["role"])
	assert.NotEmpty(t, seen["system"])
}

func TestAnthropicErrors(t *testing.T) {
	turns := []session.Turn{{Role: session.RoleUser, Content: "hi"}}

	a := NewAnthropicAdapter(RemoteConfig{})
	assert.ErrorIs(t, a.Ready(context.Background(), ""), chaterr.ErrBackendUnavailable)

	srv := anthropicServer(t, http.StatusServiceUnavailable, nil, nil, nil)
	a = NewAnthropicAdapter(RemoteConfig{BaseURL: srv.URL})
	_, err := a.Invoke(context.Background(), &Request{Turns: turns, APIKey: "k"})
	require.ErrorIs(t, err, chaterr.ErrBackendInvocationFailed)
	assert.Contains(t, err.Error(), "HTTP 503")

	empty := anthropicServer(t, http.StatusOK, []map[string]any{}, nil, nil)
	a = NewAnthropicAdapter(RemoteConfig{BaseURL: empty.URL})
	_, err = a.Invoke(context.Background(), &Request{Turns: turns, APIKey: "k"})
	assert.ErrorIs(t, err, chaterr.ErrBackendResponseInvalid)
}
