// Package retrieval grounds answers in live web results when the model is not
// confident it can answer from its own knowledge.
//
// An answer goes through up to three model calls: a yes/no confidence check,
// a search-query rewrite, and a synthesis over extracted page snippets.
// Individual result pages that fail are skipped; the turn only fails when a
// model call fails.
package retrieval

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/legalqa/legalqa/internal/chaterr"
	"github.com/legalqa/legalqa/internal/session"
)

const (
	DefaultMaxResults   = 3
	MaxResultsCap       = 5
	DefaultFetchTimeout = 5 * time.Second
	DefaultSnippetChars = 300
	defaultConcurrency  = 5
	maxRewriteChars     = 300
)

// Stage is a step of the retrieval flow, reported as it starts.
type Stage string

const (
	StageConfidence   Stage = "confidence"
	StageSearching    Stage = "searching"
	StageSynthesizing Stage = "synthesizing"
	// StageGenerating precedes the call that produces the final answer.
	StageGenerating Stage = "generating"
)

// Generator produces one reply for a role-tagged conversation.
type Generator interface {
	Generate(ctx context.Context, turns []session.Turn) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, turns []session.Turn) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, turns []session.Turn) (string, error) {
	return f(ctx, turns)
}

// Searcher returns result URLs for a query, best first.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]string, error)
}

// Fetcher returns the body of a page, giving up after timeout.
type Fetcher interface {
	Fetch(ctx context.Context, url string, timeout time.Duration) (string, error)
}

// Recorder observes per-page outcomes. The metrics package implements it.
type Recorder interface {
	ObserveSnippet(ok bool)
}

// Augmenter runs the confidence / search / synthesis flow.
type Augmenter struct {
	searcher     Searcher
	fetcher      Fetcher
	maxResults   int
	fetchTimeout time.Duration
	snippetChars int
	concurrency  int
	log          zerolog.Logger
	rec          Recorder
}

// Option configures an Augmenter.
type Option func(*Augmenter)

// WithMaxResults sets how many search results are fetched, clamped to 1..5.
func WithMaxResults(n int) Option {
	return func(a *Augmenter) {
		switch {
		case n <= 0:
			n = DefaultMaxResults
		case n > MaxResultsCap:
			n = MaxResultsCap
		}
		a.maxResults = n
	}
}

// WithFetchTimeout bounds each page fetch.
func WithFetchTimeout(d time.Duration) Option {
	return func(a *Augmenter) {
		if d > 0 {
			a.fetchTimeout = d
		}
	}
}

// WithSnippetChars caps the length of each extracted snippet.
func WithSnippetChars(n int) Option {
	return func(a *Augmenter) {
		if n > 0 {
			a.snippetChars = n
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(a *Augmenter) { a.log = l }
}

func WithRecorder(r Recorder) Option {
	return func(a *Augmenter) { a.rec = r }
}

// New creates an Augmenter.
func New(searcher Searcher, fetcher Fetcher, opts ...Option) *Augmenter {
	a := &Augmenter{
		searcher:     searcher,
		fetcher:      fetcher,
		maxResults:   DefaultMaxResults,
		fetchTimeout: DefaultFetchTimeout,
		snippetChars: DefaultSnippetChars,
		concurrency:  defaultConcurrency,
		log:          zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// MaxResults is the configured K.
func (a *Augmenter) MaxResults() int { return a.maxResults }

// Answer replies to the last user turn of history. usedSearch reports
// whether the search branch was taken, even when it yielded nothing.
func (a *Augmenter) Answer(ctx context.Context, gen Generator, history []session.Turn, onStage func(Stage)) (answer string, usedSearch bool, err error) {
	query, err := lastQuery(history)
	if err != nil {
		return "", false, err
	}
	report := func(s Stage) {
		if onStage != nil {
			onStage(s)
		}
	}

	report(StageConfidence)
	verdict, err := gen.Generate(ctx, []session.Turn{{Role: session.RoleUser, Content: confidencePrompt(query)}})
	switch {
	case chaterr.KindOf(err) == chaterr.BackendResponseInvalid:
		// An unusable verdict counts as "no".
		a.log.Warn().Err(err).Str("query", query).Msg("confidence reply unusable, searching")
		verdict = ""
	case err != nil:
		return "", false, err
	}
	if ParseConfidence(verdict) {
		a.log.Debug().Str("query", query).Msg("confident, answering without search")
		report(StageGenerating)
		answer, err = gen.Generate(ctx, history)
		return answer, false, err
	}

	report(StageSearching)
	snippets := a.gather(ctx, a.rewrite(ctx, gen, query))

	report(StageSynthesizing)
	turns := make([]session.Turn, 0, len(history))
	turns = append(turns, history[:len(history)-1]...)
	turns = append(turns, session.Turn{Role: session.RoleUser, Content: GroundedPrompt(query, snippets)})
	report(StageGenerating)
	answer, err = gen.Generate(ctx, turns)
	return answer, true, err
}

// Gather searches for query and returns the snippets it could extract,
// skipping the confidence check. A failed search yields no snippets.
func (a *Augmenter) Gather(ctx context.Context, query string) []Snippet {
	return a.gather(ctx, query)
}

func (a *Augmenter) rewrite(ctx context.Context, gen Generator, query string) string {
	out, err := gen.Generate(ctx, []session.Turn{{Role: session.RoleUser, Content: rewritePrompt(query)}})
	if err != nil {
		a.log.Warn().Err(err).Msg("query rewrite failed, searching with the original question")
		return query
	}
	if q := cleanQuery(out); q != "" {
		return q
	}
	return query
}

func (a *Augmenter) gather(ctx context.Context, query string) []Snippet {
	if a.searcher == nil {
		return nil
	}
	urls, err := a.searcher.Search(ctx, query, a.maxResults)
	if err != nil {
		a.log.Warn().Err(err).Str("query", query).Msg("search failed")
		return nil
	}
	if len(urls) > a.maxResults {
		urls = urls[:a.maxResults]
	}
	a.log.Debug().Str("query", query).Int("results", len(urls)).Msg("search complete")
	return a.collect(ctx, urls)
}

// collect fetches every URL concurrently and keeps the snippets in result
// order. Failed pages are logged and dropped.
func (a *Augmenter) collect(ctx context.Context, urls []string) []Snippet {
	results := make([]*Snippet, len(urls))

	var g errgroup.Group
	g.SetLimit(a.concurrency)
	for i, u := range urls {
		g.Go(func() error {
			snip, err := a.fetchOne(ctx, u)
			if a.rec != nil {
				a.rec.ObserveSnippet(err == nil)
			}
			if err != nil {
				a.log.Warn().Err(err).Str("url", u).Msg("skipping search result")
				return nil
			}
			results[i] = &snip
			return nil
		})
	}
	_ = g.Wait()

	out := make([]Snippet, 0, len(results))
	for _, s := range results {
		if s != nil {
			out = append(out, *s)
		}
	}
	return out
}

func (a *Augmenter) fetchOne(ctx context.Context, u string) (Snippet, error) {
	if a.fetcher == nil {
		return Snippet{}, &chaterr.Error{Kind: chaterr.SearchItemFailed, URL: u, Msg: "no fetcher configured"}
	}
	body, err := a.fetcher.Fetch(ctx, u, a.fetchTimeout)
	if err != nil {
		return Snippet{}, &chaterr.Error{Kind: chaterr.SearchItemFailed, URL: u, Msg: "fetch " + u, Err: err}
	}
	snip, err := Extract(u, body, a.snippetChars)
	if err != nil {
		return Snippet{}, &chaterr.Error{Kind: chaterr.SearchItemFailed, URL: u, Msg: "extract " + u, Err: err}
	}
	return snip, nil
}

// ParseConfidence reports whether a confidence reply is an unambiguous yes.
// Anything else, including empty or malformed output, counts as no.
func ParseConfidence(reply string) bool {
	s := strings.ToLower(strings.TrimSpace(reply))
	s = strings.Trim(s, " \t\r\n\"'`.!*")
	return s == "yes"
}

func cleanQuery(out string) string {
	for _, line := range strings.Split(out, "\n") {
		line = strings.Trim(strings.TrimSpace(line), "\"'`")
		line = strings.TrimSpace(strings.TrimPrefix(line, "Search query:"))
		if line == "" {
			continue
		}
		if len(line) > maxRewriteChars {
			return ""
		}
		return line
	}
	return ""
}

func lastQuery(history []session.Turn) (string, error) {
	if len(history) == 0 {
		return "", chaterr.New(chaterr.InvalidRequest, "no question to answer")
	}
	last := history[len(history)-1]
	if last.Role != session.RoleUser || strings.TrimSpace(last.Content) == "" {
		return "", chaterr.New(chaterr.InvalidRequest, "last turn is not a user question")
	}
	return last.Content, nil
}
