package provider

import (
	"context"

	"github.com/legalqa/legalqa/internal/retrieval"
	"github.com/legalqa/legalqa/internal/session"
)

// RAGAdapter is a remote backend that decides per turn whether to ground its
// answer in web search results.
type RAGAdapter struct {
	desc      Descriptor
	inner     *OpenAIAdapter
	augmenter *retrieval.Augmenter
}

// NewRAGAdapter wraps inner, which performs every model call of the
// retrieval flow.
func NewRAGAdapter(id ID, inner *OpenAIAdapter, augmenter *retrieval.Augmenter) *RAGAdapter {
	desc := Descriptors[id]
	desc.Family = RetrievalAugmented
	desc.SupportsRetrieval = true
	desc.Defaults = inner.Descriptor().Defaults
	return &RAGAdapter{desc: desc, inner: inner, augmenter: augmenter}
}

func (a *RAGAdapter) Descriptor() Descriptor { return a.desc }

func (a *RAGAdapter) Ready(ctx context.Context, apiKey string) error {
	if err := a.inner.Ready(ctx, apiKey); err != nil {
		return unavailable(a.desc.ID, "API key required")
	}
	return nil
}

func (a *RAGAdapter) FormatPrompt(turns []session.Turn) string {
	return a.inner.FormatPrompt(turns)
}

func (a *RAGAdapter) Invoke(ctx context.Context, req *Request) (*Result, error) {
	apiKey := a.inner.key(req.APIKey)
	if apiKey == "" {
		return nil, unavailable(a.desc.ID, "API key required")
	}
	cfg := a.desc.Defaults.Merge(req.Config)

	gen := retrieval.GeneratorFunc(func(ctx context.Context, turns []session.Turn) (string, error) {
		text, err := a.inner.complete(ctx, apiKey, turns, cfg)
		if err != nil {
			return "", err
		}
		return a.inner.Clean(text), nil
	})

	answer, used, err := a.augmenter.Answer(ctx, gen, req.Turns, req.OnStage)
	if err != nil {
		return nil, err
	}
	return &Result{Raw: answer, UsedSearch: used}, nil
}

func (a *RAGAdapter) Clean(raw string) string { return cleanRoleTagged(raw) }
