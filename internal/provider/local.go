package provider

import (
	"context"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/legalqa/legalqa/internal/session"
)

const readyTimeout = 3 * time.Second

// LocalConfig points a local adapter at a llama.cpp server.
type LocalConfig struct {
	// BaseURL is the server's OpenAI-compatible root, e.g.
	// "http://127.0.0.1:8080/v1". Empty means the model is not loaded.
	BaseURL      string
	Model        string
	SystemPrompt string
	Config       GenerationConfig
}

// LocalAdapter drives a locally hosted model through the raw completions
// endpoint, so the prompt is exactly the delimited rendering of the buffer.
type LocalAdapter struct {
	desc   Descriptor
	client openai.Client
	cfg    LocalConfig
	clean  func(string) string
}

// NewLocalAdapter creates the adapter for a turn- or pipe-delimited backend.
func NewLocalAdapter(id ID, cfg LocalConfig) *LocalAdapter {
	desc := Descriptors[id]
	desc.Defaults = desc.Defaults.Merge(cfg.Config)
	if cfg.Model == "" {
		cfg.Model = string(id)
	}

	clean := cleanPipeDelimited
	if desc.Family == TurnDelimited {
		clean = cleanTurnDelimited
	}

	opts := []option.RequestOption{
		// llama.cpp ignores the key but the client requires one.
		option.WithAPIKey("local"),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &LocalAdapter{
		desc:   desc,
		client: openai.NewClient(opts...),
		cfg:    cfg,
		clean:  clean,
	}
}

func (a *LocalAdapter) Descriptor() Descriptor { return a.desc }

// Ready queries the server's model listing.
func (a *LocalAdapter) Ready(ctx context.Context, _ string) error {
	if a.cfg.BaseURL == "" {
		return unavailable(a.desc.ID, "model is not loaded")
	}
	ctx, cancel := context.WithTimeout(ctx, readyTimeout)
	defer cancel()
	if _, err := a.client.Models.List(ctx); err != nil {
		return unavailable(a.desc.ID, "model server not reachable: %v", err)
	}
	return nil
}

// FormatPrompt renders the delimited prompt. The system prompt, if any, is
// folded into the first user block since these models have no system role.
func (a *LocalAdapter) FormatPrompt(turns []session.Turn) string {
	if a.cfg.SystemPrompt != "" && len(turns) > 0 && turns[0].Role == session.RoleUser {
		withSystem := make([]session.Turn, len(turns))
		copy(withSystem, turns)
		withSystem[0].Content = a.cfg.SystemPrompt + "\n\n" + withSystem[0].Content
		turns = withSystem
	}
	return session.Format(turns, a.desc.Delimiters)
}

func (a *LocalAdapter) Invoke(ctx context.Context, req *Request) (*Result, error) {
	cfg := a.desc.Defaults.Merge(req.Config)
	stop := cfg.Stop
	if len(stop) == 0 {
		stop = a.desc.StopSequences
	}

	params := openai.CompletionNewParams{
		Model:  openai.CompletionNewParamsModel(a.cfg.Model),
		Prompt: openai.CompletionNewParamsPromptUnion{OfString: openai.String(req.Prompt)},
		Stop:   openai.CompletionNewParamsStopUnion{OfStringArray: stop},
	}
	if cfg.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(cfg.MaxTokens))
	}
	if cfg.Temperature > 0 {
		params.Temperature = openai.Float(cfg.Temperature)
	}
	if cfg.TopP > 0 {
		params.TopP = openai.Float(cfg.TopP)
	}

	resp, err := a.client.Completions.New(ctx, params)
	if err != nil {
		return nil, invocationError(a.desc.ID, err)
	}
	if len(resp.Choices) == 0 {
		return nil, invalidResponse(a.desc.ID, "response has no choices")
	}
	text := resp.Choices[0].Text
	if strings.TrimSpace(text) == "" {
		return nil, invalidResponse(a.desc.ID, "response text is empty")
	}
	return &Result{Raw: text}, nil
}

func (a *LocalAdapter) Clean(raw string) string { return a.clean(raw) }
