package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/legalqa/legalqa/internal/config"
	"github.com/legalqa/legalqa/internal/logging"
	"github.com/legalqa/legalqa/internal/metrics"
	"github.com/legalqa/legalqa/internal/pipeline"
	"github.com/legalqa/legalqa/internal/provider"
	"github.com/legalqa/legalqa/internal/retrieval"
	"github.com/legalqa/legalqa/internal/search"
	"github.com/legalqa/legalqa/internal/session"
	"github.com/legalqa/legalqa/internal/store"
	"github.com/legalqa/legalqa/internal/tokenizer"
)

// app holds everything a command needs, built from one configuration.
type app struct {
	cfg      *config.Config
	log      zerolog.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	store    *store.SQLStore
	pipeline *pipeline.Pipeline

	closers []io.Closer
}

// newApp wires the pipeline. Logs go to logOut.
func newApp(ctx context.Context, logOut io.Writer) (*app, error) {
	cfg, err := initConfig()
	if err != nil {
		return nil, err
	}

	log, logCloser, err := logging.New(cfg.Log, logOut)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log, closers: []io.Closer{logCloser}}

	counter := newCounter(cfg.Tokenizer, log)

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	a.metrics = metrics.New(a.registry)

	if a.store, err = openStore(ctx, cfg.Database); err != nil {
		a.Close()
		return nil, err
	}
	if a.store != nil {
		a.closers = append(a.closers, a.store)
	}

	augmenter := buildAugmenter(cfg, log, a.metrics)
	backends := buildRegistry(cfg, augmenter)

	opts := []pipeline.Option{
		pipeline.WithLogger(log),
		pipeline.WithMetrics(a.metrics),
		pipeline.WithAugmenter(augmenter),
		pipeline.WithInvokeTimeout(cfg.InvokeTimeout),
	}
	// A nil *SQLStore must not become a non-nil interface.
	var storage pipeline.Storage
	if a.store != nil {
		storage = a.store
	}
	a.pipeline = pipeline.New(session.NewStore(cfg.MaxTokens, counter), backends, storage, opts...)

	log.Debug().
		Int("max_tokens", cfg.MaxTokens).
		Str("tokenizer", cfg.Tokenizer).
		Str("database", cfg.Database.Driver).
		Int("backends", len(backends.Descriptors())).
		Msg("app ready")
	return a, nil
}

// Close releases the store and the log file.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// conversations returns the store, or nil when storage is disabled.
func (a *app) conversations() store.Store {
	if a.store == nil {
		return nil
	}
	return a.store
}

func openStore(ctx context.Context, db config.DatabaseConfig) (*store.SQLStore, error) {
	switch db.Driver {
	case "none":
		return nil, nil
	case "postgres":
		st, err := store.Open(ctx, store.Postgres, db.DSN)
		if err != nil {
			return nil, fmt.Errorf("open conversation store: %w", err)
		}
		return st, nil
	}
	path := db.DSN
	if path == "" {
		var err error
		if path, err = store.DefaultDBPath(); err != nil {
			return nil, fmt.Errorf("conversation db path: %w", err)
		}
	}
	st, err := store.Open(ctx, store.SQLite, path)
	if err != nil {
		return nil, fmt.Errorf("open conversation store: %w", err)
	}
	return st, nil
}

// buildAugmenter wires web retrieval from the search settings.
// newCounter loads the configured tokenizer. Budgets still work on the
// character estimate when the BPE table cannot be loaded.
func newCounter(scheme string, log zerolog.Logger) tokenizer.Counter {
	counter, err := tokenizer.New(scheme)
	if err != nil {
		log.Warn().Err(err).Str("tokenizer", scheme).Msg("falling back to estimated token counts")
		return tokenizer.Estimate{}
	}
	return counter
}

func buildAugmenter(cfg *config.Config, log zerolog.Logger, m *metrics.Metrics) *retrieval.Augmenter {
	searcher := search.NewClient(cfg.Search.Provider, cfg.Search.APIKey)
	fetcher := search.NewFetcher()
	return retrieval.New(searcher, fetcher,
		retrieval.WithMaxResults(cfg.Search.MaxResults),
		retrieval.WithFetchTimeout(cfg.Search.FetchTimeout),
		retrieval.WithSnippetChars(cfg.Search.SnippetChars),
		retrieval.WithLogger(log),
		retrieval.WithRecorder(m),
	)
}

// buildRegistry creates an adapter for every configured, enabled backend.
func buildRegistry(cfg *config.Config, augmenter *retrieval.Augmenter) *provider.Registry {
	reg := provider.NewRegistry()
	for _, id := range provider.AllIDs {
		bc, ok := cfg.Backends[string(id)]
		if !ok || bc == nil || bc.Disabled {
			continue
		}
		system := bc.SystemPrompt
		if system == "" {
			system = cfg.SystemPrompt
		}
		gen := provider.GenerationConfig{
			MaxTokens:   bc.MaxTokens,
			Temperature: bc.Temperature,
			TopP:        bc.TopP,
			Stop:        bc.Stop,
		}
		remote := provider.RemoteConfig{
			BaseURL:      bc.BaseURL,
			Model:        bc.Model,
			APIKey:       bc.APIKey,
			SystemPrompt: system,
			Config:       gen,
		}

		switch provider.Descriptors[id].Family {
		case provider.TurnDelimited, provider.PipeDelimited:
			reg.Register(provider.NewLocalAdapter(id, provider.LocalConfig{
				BaseURL:      bc.BaseURL,
				Model:        bc.Model,
				SystemPrompt: system,
				Config:       gen,
			}))
		case provider.RetrievalAugmented:
			reg.Register(provider.NewRAGAdapter(id, provider.NewOpenAIAdapter(id, remote), augmenter))
		default:
			if id == provider.Anthropic {
				reg.Register(provider.NewAnthropicAdapter(remote))
			} else {
				reg.Register(provider.NewOpenAIAdapter(id, remote))
			}
		}
	}
	return reg
}
