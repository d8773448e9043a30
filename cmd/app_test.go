package cmd

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/legalqa/legalqa/internal/chaterr"
	"github.com/legalqa/legalqa/internal/config"
	"github.com/legalqa/legalqa/internal/provider"
	"github.com/legalqa/legalqa/internal/tokenizer"
)

func TestBuildRegistry(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Backends["phi"].Disabled = true
	delete(cfg.Backends, "openai")

	reg := buildRegistry(cfg, buildAugmenter(cfg, testLogger(), nil))

	var ids []provider.ID
	for _, d := range reg.Descriptors() {
		ids = append(ids, d.ID)
	}
	assert.ElementsMatch(t, []provider.ID{provider.Gemma, provider.Gemma3, provider.Anthropic, provider.Gemini}, ids)

	a, err := reg.Get("gemini")
	require.NoError(t, err)
	assert.IsType(t, &provider.RAGAdapter{}, a)
	assert.True(t, a.Descriptor().SupportsRetrieval)

	a, err = reg.Get("claude")
	require.NoError(t, err)
	assert.IsType(t, &provider.AnthropicAdapter{}, a)

	a, err = reg.Get("gemma3")
	require.NoError(t, err)
	assert.Equal(t, provider.PipeDelimited, a.Descriptor().Family)

	_, err = reg.Get("phi")
	assert.Equal(t, chaterr.BackendUnavailable, chaterr.KindOf(err))
	_, err = reg.Get("mistral")
	assert.Equal(t, chaterr.UnknownBackend, chaterr.KindOf(err))
}

func TestRemoteBackendNeedsKey(t *testing.T) {
	cfg := config.DefaultConfig()
	reg := buildRegistry(cfg, buildAugmenter(cfg, testLogger(), nil))

	a, err := reg.Get("openai")
	require.NoError(t, err)
	assert.Equal(t, chaterr.BackendUnavailable, chaterr.KindOf(a.Ready(context.Background(), "")))
	assert.NoError(t, a.Ready(context.Background(), "sk-test"))
}

func TestOpenStoreNone(t *testing.T) {
	st, err := openStore(context.Background(), config.DatabaseConfig{Driver: "none"})
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestOpenStoreSQLite(t *testing.T) {
	path := t.TempDir() + "/chat.db"
	st, err := openStore(context.Background(), config.DatabaseConfig{Driver: "sqlite", DSN: path})
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.NoError(t, st.Close())
}

func TestNewCounterFallsBackToEstimate(t *testing.T) {
	var buf bytes.Buffer
	c := newCounter("no_such_encoding", zerolog.New(&buf))
	assert.IsType(t, tokenizer.Estimate{}, c)
	assert.Equal(t, 3, c.Count("hello world"))
	assert.Contains(t, buf.String(), `"level":"warn"`)
	assert.Contains(t, buf.String(), "no_such_encoding")
}

func TestNewCounterEstimate(t *testing.T) {
	var buf bytes.Buffer
	c := newCounter("estimate", zerolog.New(&buf))
	assert.IsType(t, tokenizer.Estimate{}, c)
	assert.Empty(t, buf.String())
}

func testLogger() zerolog.Logger { return zerolog.Nop() }
