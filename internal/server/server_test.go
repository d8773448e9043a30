package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/legalqa/legalqa/internal/chaterr"
	"github.com/legalqa/legalqa/internal/metrics"
	"github.com/legalqa/legalqa/internal/pipeline"
	"github.com/legalqa/legalqa/internal/provider"
	"github.com/legalqa/legalqa/internal/retrieval"
	"github.com/legalqa/legalqa/internal/session"
	"github.com/legalqa/legalqa/internal/store"
	"github.com/legalqa/legalqa/internal/tokenizer"
)

type stubAdapter struct {
	desc   provider.Descriptor
	reply  string
	err    error
	stages bool
}

func (a *stubAdapter) Descriptor() provider.Descriptor { return a.desc }

func (a *stubAdapter) Ready(_ context.Context, apiKey string) error {
	if a.desc.Family == provider.RetrievalAugmented && apiKey == "" {
		return chaterr.New(chaterr.BackendUnavailable, "API key required")
	}
	return nil
}

func (a *stubAdapter) FormatPrompt(turns []session.Turn) string {
	return session.Format(turns, a.desc.Delimiters)
}

func (a *stubAdapter) Invoke(_ context.Context, req *provider.Request) (*provider.Result, error) {
	if a.err != nil {
		return nil, a.err
	}
	if a.stages && req.OnStage != nil {
		req.OnStage(retrieval.StageConfidence)
		req.OnStage(retrieval.StageSearching)
	}
	return &provider.Result{Raw: a.reply, UsedSearch: a.stages}, nil
}

func (a *stubAdapter) Clean(raw string) string { return raw }

type testEnv struct {
	srv   *httptest.Server
	store *store.SQLStore
}

func newTestEnv(t *testing.T, maxTokens int, adapters ...provider.Adapter) *testEnv {
	t.Helper()
	st, err := store.NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	counter := tokenizer.CounterFunc(func(s string) int { return len(s) })
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	p := pipeline.New(session.NewStore(maxTokens, counter), provider.NewRegistry(adapters...), st, pipeline.WithMetrics(m))
	s := New(p, st, WithMetrics(m), WithMetricsHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, store: st}
}

func (e *testEnv) do(t *testing.T, method, path, user, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set(userHeader, user)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func gemma(reply string) *stubAdapter {
	return &stubAdapter{desc: provider.Descriptors[provider.Gemma], reply: reply}
}

func TestChatRoundTrip(t *testing.T) {
	env := newTestEnv(t, 1000, gemma("You have 30 days."))

	resp := env.do(t, http.MethodPost, "/api/chat", "alice", `{"message":"How long to appeal?","backendId":"gemma"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/x-ndjson", resp.Header.Get("Content-Type"))

	out := decode[pipeline.Response](t, resp)
	assert.Equal(t, "You have 30 days.", out.Response)
	assert.Equal(t, 1000, out.MaxTokens)
	assert.Equal(t, len("How long to appeal?")+len("You have 30 days."), out.TokenCount)
	require.NotEmpty(t, out.ConversationID)

	// The conversation is stored under alice with a derived title.
	got := env.do(t, http.MethodGet, "/api/chats/"+out.ConversationID, "alice", "")
	require.Equal(t, http.StatusOK, got.StatusCode)
	chat := decode[chatResponse](t, got)
	assert.Equal(t, "How long to appeal?", chat.Title)
	assert.Equal(t, []messageResponse{
		{Role: "user", Content: "How long to appeal?"},
		{Role: "assistant", Content: "You have 30 days."},
	}, chat.Messages)

	// Other users cannot see it.
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/chats/"+out.ConversationID, "bob", "").StatusCode)
}

func TestChatRejectsForeignConversation(t *testing.T) {
	env := newTestEnv(t, 1000, gemma("Noted."))

	out := decode[pipeline.Response](t, env.do(t, http.MethodPost, "/api/chat", "alice", `{"message":"alice secret","backendId":"gemma"}`))
	require.NotEmpty(t, out.ConversationID)

	body := `{"message":"what did she say?","backendId":"gemma","conversationId":"` + out.ConversationID + `"}`
	resp := env.do(t, http.MethodPost, "/api/chat", "mallory", body)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	rec := decode[pipeline.ErrorRecord](t, resp)
	assert.Equal(t, "invalid_request", rec.Kind)

	msgs, err := env.store.LoadTurns(context.Background(), out.ConversationID)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestChatLegacyModelField(t *testing.T) {
	env := newTestEnv(t, 1000, &stubAdapter{desc: provider.Descriptors[provider.Gemma3], reply: "ok"})

	resp := env.do(t, http.MethodPost, "/api/chat", "alice", `{"message":"hi","model":"gemma-3-4b-it-q6_k"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestChatErrorStatuses(t *testing.T) {
	failing := gemma("")
	failing.err = chaterr.New(chaterr.BackendInvocationFailed, "connection refused")
	env := newTestEnv(t, 20, failing)

	tests := []struct {
		name   string
		user   string
		body   string
		status int
		kind   string
	}{
		{"no user", "", `{"message":"hi","backendId":"gemma"}`, http.StatusUnauthorized, ""},
		{"empty message", "alice", `{"message":"","backendId":"gemma"}`, http.StatusBadRequest, "invalid_request"},
		{"unknown backend", "alice", `{"message":"hi","backendId":"llama"}`, http.StatusBadRequest, "unknown_backend"},
		{"unconfigured backend", "alice", `{"message":"hi","backendId":"phi"}`, http.StatusServiceUnavailable, "backend_unavailable"},
		{"over budget", "alice", `{"message":"this message is far too long","backendId":"gemma"}`, http.StatusConflict, "budget_exceeded"},
		{"backend failure", "alice", `{"message":"hi","backendId":"gemma"}`, http.StatusBadGateway, "backend_invocation_failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, http.MethodPost, "/api/chat", tt.user, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			rec := decode[map[string]any](t, resp)
			assert.NotEmpty(t, rec["error"])
			if tt.kind != "" {
				assert.Equal(t, tt.kind, rec["kind"])
			}
		})
	}
}

func TestChatBudgetErrorCarriesCounts(t *testing.T) {
	env := newTestEnv(t, 10, gemma("x"))

	resp := env.do(t, http.MethodPost, "/api/chat", "alice", `{"message":"eleven char","backendId":"gemma"}`)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	rec := decode[pipeline.ErrorRecord](t, resp)
	require.NotNil(t, rec.TokenCount)
	require.NotNil(t, rec.MaxTokens)
	assert.Equal(t, 0, *rec.TokenCount)
	assert.Equal(t, 10, *rec.MaxTokens)
}

func TestChatStreamsProgress(t *testing.T) {
	rag := &stubAdapter{desc: provider.Descriptors[provider.Gemini], reply: "grounded", stages: true}
	env := newTestEnv(t, 1000, rag)

	resp := env.do(t, http.MethodPost, "/api/chat", "alice", `{"message":"new ruling?","backendId":"gemini","apiKey":"k","stream":true}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var lines []map[string]any
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		var rec map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		lines = append(lines, rec)
	}
	require.NotEmpty(t, lines)
	assert.Equal(t, "buffer_prepared", lines[0]["status"])

	var statuses []any
	for _, l := range lines[:len(lines)-1] {
		statuses = append(statuses, l["status"])
	}
	assert.Contains(t, statuses, "searching")

	last := lines[len(lines)-1]
	assert.Equal(t, "grounded", last["response"])
	assert.Equal(t, true, last["usedSearch"])
}

func TestRemoteKeyFromHeader(t *testing.T) {
	rag := &stubAdapter{desc: provider.Descriptors[provider.Gemini], reply: "ok"}
	env := newTestEnv(t, 1000, rag)

	resp := env.do(t, http.MethodPost, "/api/chat", "alice", `{"message":"q","backendId":"gemini"}`)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodPost, env.srv.URL+"/api/chat", strings.NewReader(`{"message":"q","backendId":"gemini"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(userHeader, "alice")
	req.Header.Set(apiKeyHeader, "k")
	withKey, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer withKey.Body.Close()
	assert.Equal(t, http.StatusOK, withKey.StatusCode)
}

func TestSessionClear(t *testing.T) {
	env := newTestEnv(t, 1000, gemma("ok"))
	env.do(t, http.MethodPost, "/api/chat", "alice", `{"message":"hi","backendId":"gemma"}`)

	stats := decode[pipeline.Stats](t, env.do(t, http.MethodGet, "/api/session", "alice", ""))
	assert.Equal(t, 2, stats.Turns)

	cleared := decode[pipeline.Stats](t, env.do(t, http.MethodPost, "/api/session/clear", "alice", ""))
	assert.Equal(t, 0, cleared.Turns)
	assert.Equal(t, 1000, cleared.MaxTokens)
}

func TestChatsCRUD(t *testing.T) {
	env := newTestEnv(t, 1000, gemma("ok"))
	ctx := context.Background()

	a, err := env.store.CreateConversation(ctx, "First", "alice")
	require.NoError(t, err)
	b, err := env.store.CreateConversation(ctx, "Second", "alice")
	require.NoError(t, err)
	_, err = env.store.CreateConversation(ctx, "Bob's", "bob")
	require.NoError(t, err)

	list := decode[[]store.Conversation](t, env.do(t, http.MethodGet, "/api/chats", "alice", ""))
	assert.Len(t, list, 2)

	groups := decode[store.Groups](t, env.do(t, http.MethodGet, "/api/chats?group=age", "alice", ""))
	assert.Len(t, groups.Today, 2)

	renamed := env.do(t, http.MethodPut, "/api/chats/"+a+"/title", "alice", `{"title":"Tenancy"}`)
	require.Equal(t, http.StatusOK, renamed.StatusCode)
	assert.Equal(t, "Tenancy", decode[store.Conversation](t, renamed).Title)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPut, "/api/chats/"+a+"/title", "alice", `{"title":" "}`).StatusCode)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodPut, "/api/chats/"+a+"/title", "bob", `{"title":"x"}`).StatusCode)

	assert.Equal(t, http.StatusNoContent, env.do(t, http.MethodDelete, "/api/chats/"+b, "alice", "").StatusCode)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/chats/"+b, "alice", "").StatusCode)

	deleted := decode[map[string]int](t, env.do(t, http.MethodDelete, "/api/chats", "alice", ""))
	assert.Equal(t, 1, deleted["deleted"])

	bobs := decode[[]store.Conversation](t, env.do(t, http.MethodGet, "/api/chats", "bob", ""))
	assert.Len(t, bobs, 1)
}

func TestBackendsAndHealth(t *testing.T) {
	env := newTestEnv(t, 1000, gemma("ok"), &stubAdapter{desc: provider.Descriptors[provider.Gemini]})

	descs := decode[[]map[string]any](t, env.do(t, http.MethodGet, "/api/backends", "", ""))
	require.Len(t, descs, 2)
	assert.Equal(t, "gemini", descs[0]["id"])
	assert.Equal(t, true, descs[0]["supportsRetrieval"])

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/healthz", "", "").StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, 1000, gemma("ok"))
	env.do(t, http.MethodPost, "/api/chat", "alice", `{"message":"hi","backendId":"gemma"}`)

	resp := env.do(t, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var sb strings.Builder
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		sb.WriteString(sc.Text() + "\n")
	}
	assert.Contains(t, sb.String(), `legalqa_turns_total{backend="gemma",outcome="ok"} 1`)
	assert.Contains(t, sb.String(), `legalqa_http_requests_total{method="POST",route="/api/chat",status="2xx"} 1`)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusConflict, StatusFor(chaterr.ErrHistoryTooLong))
	assert.Equal(t, http.StatusConflict, StatusFor(chaterr.ErrResponseExceedsBudget))
	assert.Equal(t, http.StatusBadGateway, StatusFor(chaterr.ErrBackendResponseInvalid))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(chaterr.ErrPersistenceFailed))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(context.Canceled))
}
