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

// llamaServer fakes the llama.cpp OpenAI-compatible endpoints.
func llamaServer(t *testing.T, reply string, status int, seen *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/models":
			_, _ = w.Write([]byte(`{"object":"list","data":[{"id":"local","object":"model","created":0,"owned_by":"llamacpp"}]}`))
		case "/v1/completions":
			if seen != nil {
				require.NoError(t, json.NewDecoder(r.Body).Decode(seen))
			}
			if status != http.StatusOK {
				w.WriteHeader(status)
				_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
				return
			}
			resp := map[string]any{
				"id":      "cmpl-1",
				"object":  "text_completion",
				"created": 1,
				"model":   "local",
				"choices": []map[string]any{{"index": 0, "text": reply, "finish_reason": "stop", "logprobs": nil}},
			}
			_ = json.NewEncoder(w).Encode(resp)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestLocalInvoke(t *testing.T) {
	var seen map[string]any
	srv := llamaServer(t, "A tort is a civil wrong.<end_of_turn>", http.StatusOK, &seen)
	a := NewLocalAdapter(Gemma, LocalConfig{BaseURL: srv.URL + "/v1/", Model: "gemma-2b"})

	require.NoError(t, a.Ready(context.Background(), ""))

	turns := []session.Turn{{Role: session.RoleUser, Content: "What is a tort?"}}
	prompt := a.FormatPrompt(turns)
	res, err := a.Invoke(context.Background(), &Request{Prompt: prompt})
	require.NoError(t, err)
	assert.Equal(t, "A tort is a civil wrong.", a.Clean(res.Raw))
	assert.False(t, res.UsedSearch)

	assert.Equal(t, prompt, seen["prompt"])
	assert.Equal(t, "gemma-2b", seen["model"])
	assert.EqualValues(t, 1024, seen["max_tokens"])
	assert.Equal(t, []any{"<end_of_turn>", "<start_of_turn>"}, seen["stop"])
}

func TestLocalConfigOverrides(t *testing.T) {
	var seen map[string]any
	srv := llamaServer(t, "ok", http.StatusOK, &seen)
	a := NewLocalAdapter(Phi, LocalConfig{BaseURL: srv.URL + "/v1/", Config: GenerationConfig{MaxTokens: 64}})

	_, err := a.Invoke(context.Background(), &Request{Prompt: "p", Config: GenerationConfig{Temperature: 0.2}})
	require.NoError(t, err)
	assert.EqualValues(t, 64, seen["max_tokens"])
	assert.InDelta(t, 0.2, seen["temperature"], 1e-9)
	assert.InDelta(t, 0.95, seen["top_p"], 1e-9)
}

func TestLocalSystemPromptFolded(t *testing.T) {
	a := NewLocalAdapter(Gemma, LocalConfig{SystemPrompt: "You are a legal assistant."})
	turns := []session.Turn{{Role: session.RoleUser, Content: "Hi"}}
	assert.Equal(t,
		"<start_of_turn>user\nYou are a legal assistant.\n\nHi<end_of_turn>\n<start_of_turn>model\n",
		a.FormatPrompt(turns))
	assert.Equal(t, "Hi", turns[0].Content, "caller's turns must not change")
}

func TestLocalNotLoaded(t *testing.T) {
	a := NewLocalAdapter(Phi, LocalConfig{})
	err := a.Ready(context.Background(), "")
	assert.ErrorIs(t, err, chaterr.ErrBackendUnavailable)
}

func TestLocalServerDown(t *testing.T) {
	srv := llamaServer(t, "", http.StatusOK, nil)
	url := srv.URL + "/v1/"
	srv.Close()

	a := NewLocalAdapter(Gemma, LocalConfig{BaseURL: url})
	assert.ErrorIs(t, a.Ready(context.Background(), ""), chaterr.ErrBackendUnavailable)
}

func TestLocalInvocationFailed(t *testing.T) {
	srv := llamaServer(t, "", http.StatusInternalServerError, nil)
	a := NewLocalAdapter(Gemma3, LocalConfig{BaseURL: srv.URL + "/v1/"})

	_, err := a.Invoke(context.Background(), &Request{Prompt: "p"})
	require.ErrorIs(t, err, chaterr.ErrBackendInvocationFailed)
	assert.Contains(t, err.Error(), "HTTP 500")
}

func TestLocalEmptyOutput(t *testing.T) {
	srv := llamaServer(t, "  ", http.StatusOK, nil)
	a := NewLocalAdapter(Gemma, LocalConfig{BaseURL: srv.URL + "/v1/"})

	_, err := a.Invoke(context.Background(), &Request{Prompt: "p"})
	assert.ErrorIs(t, err, chaterr.ErrBackendResponseInvalid)
}

func TestLocalCancelled(t *testing.T) {
	srv := llamaServer(t, "ok", http.StatusOK, nil)
	a := NewLocalAdapter(Gemma, LocalConfig{BaseURL: srv.URL + "/v1/"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := a.Invoke(ctx, &Request{Prompt: "p"})
	assert.ErrorIs(t, err, chaterr.ErrBackendInvocationFailed)
	assert.ErrorIs(t, err, context.Canceled)
}
