package provider

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"

	"github.com/legalqa/legalqa/internal/chaterr"
	"github.com/legalqa/legalqa/internal/session"
)

// AnthropicAdapter is a role-tagged backend on the Anthropic Messages API.
type AnthropicAdapter struct {
	desc   Descriptor
	client anthropic.Client
	cfg    RemoteConfig
}

func NewAnthropicAdapter(cfg RemoteConfig) *AnthropicAdapter {
	desc := Descriptors[Anthropic]
	desc.Defaults = desc.Defaults.Merge(cfg.Config)
	if cfg.Model == "" {
		cfg.Model = defaultRemoteModels[Anthropic]
	}

	opts := []anthropicoption.RequestOption{anthropicoption.WithMaxRetries(0)}
	if cfg.BaseURL != "" {
		opts = append(opts, anthropicoption.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, anthropicoption.WithHTTPClient(cfg.HTTPClient))
	}

	return &AnthropicAdapter{
		desc:   desc,
		client: anthropic.NewClient(opts...),
		cfg:    cfg,
	}
}

func (a *AnthropicAdapter) Descriptor() Descriptor { return a.desc }

func (a *AnthropicAdapter) Ready(_ context.Context, apiKey string) error {
	if a.key(apiKey) == "" {
		return unavailable(a.desc.ID, "API key required")
	}
	return nil
}

func (a *AnthropicAdapter) key(apiKey string) string {
	if k := strings.TrimSpace(apiKey); k != "" {
		return k
	}
	return strings.TrimSpace(a.cfg.APIKey)
}

func (a *AnthropicAdapter) FormatPrompt(turns []session.Turn) string {
	return transcript(a.cfg.SystemPrompt, turns)
}

func (a *AnthropicAdapter) Invoke(ctx context.Context, req *Request) (*Result, error) {
	apiKey := a.key(req.APIKey)
	if apiKey == "" {
		return nil, unavailable(a.desc.ID, "API key required")
	}
	cfg := a.desc.Defaults.Merge(req.Config)

	msgs := make([]anthropic.MessageParam, 0, len(req.Turns))
	for _, t := range req.Turns {
		block := anthropic.NewTextBlock(t.Content)
		if t.Role == session.RoleUser {
			msgs = append(msgs, anthropic.NewUserMessage(block))
		} else {
			msgs = append(msgs, anthropic.NewAssistantMessage(block))
		}
	}

	maxTokens := int64(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	params := anthropic.MessageNewParams{
		Model:         anthropic.Model(a.cfg.Model),
		Messages:      msgs,
		MaxTokens:     maxTokens,
		StopSequences: cfg.Stop,
	}
	if a.cfg.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: a.cfg.SystemPrompt}}
	}
	if cfg.Temperature > 0 {
		params.Temperature = anthropic.Float(cfg.Temperature)
	}
	if cfg.TopP > 0 {
		params.TopP = anthropic.Float(cfg.TopP)
	}

	resp, err := a.client.Messages.New(ctx, params, anthropicoption.WithAPIKey(apiKey))
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return nil, chaterr.Wrap(chaterr.BackendInvocationFailed, err, "API returned HTTP %d", apiErr.StatusCode).WithBackend(string(a.desc.ID))
		}
		return nil, invocationError(a.desc.ID, err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if strings.TrimSpace(sb.String()) == "" {
		return nil, invalidResponse(a.desc.ID, "response has no text content")
	}
	return &Result{Raw: sb.String()}, nil
}

func (a *AnthropicAdapter) Clean(raw string) string { return cleanRoleTagged(raw) }
