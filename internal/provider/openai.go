package provider

import (
	"context"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/legalqa/legalqa/internal/session"
)

// RemoteConfig configures a remote API backend.
type RemoteConfig struct {
	BaseURL string
	Model   string

	// APIKey is used when a request does not carry its own key.
	APIKey       string
	SystemPrompt string
	Config       GenerationConfig

	HTTPClient *http.Client
}

// OpenAIAdapter talks to any OpenAI-compatible chat completions API with
// role-tagged messages. The key travels with each request, never in the
// client.
type OpenAIAdapter struct {
	desc   Descriptor
	client openai.Client
	cfg    RemoteConfig
}

// NewOpenAIAdapter creates a role-tagged adapter. id selects the descriptor;
// Gemini reuses this adapter through its OpenAI-compatible endpoint.
func NewOpenAIAdapter(id ID, cfg RemoteConfig) *OpenAIAdapter {
	desc := Descriptors[id]
	desc.Family = RoleTagged
	desc.SupportsRetrieval = false
	desc.Defaults = desc.Defaults.Merge(cfg.Config)
	if cfg.Model == "" {
		cfg.Model = defaultRemoteModels[id]
	}

	opts := []option.RequestOption{option.WithMaxRetries(0)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	return &OpenAIAdapter{
		desc:   desc,
		client: openai.NewClient(opts...),
		cfg:    cfg,
	}
}

var defaultRemoteModels = map[ID]string{
	OpenAI:    "gpt-3.5-turbo",
	Gemini:    "gemini-2.0-flash",
	Anthropic: "claude-3-5-haiku-latest",
}

func (a *OpenAIAdapter) Descriptor() Descriptor { return a.desc }

// Ready only checks that a key is available; remote availability is
// discovered on invocation.
func (a *OpenAIAdapter) Ready(_ context.Context, apiKey string) error {
	if a.key(apiKey) == "" {
		return unavailable(a.desc.ID, "API key required")
	}
	return nil
}

func (a *OpenAIAdapter) key(apiKey string) string {
	if k := strings.TrimSpace(apiKey); k != "" {
		return k
	}
	return strings.TrimSpace(a.cfg.APIKey)
}

func (a *OpenAIAdapter) FormatPrompt(turns []session.Turn) string {
	return transcript(a.cfg.SystemPrompt, turns)
}

func (a *OpenAIAdapter) Invoke(ctx context.Context, req *Request) (*Result, error) {
	text, err := a.complete(ctx, a.key(req.APIKey), req.Turns, a.desc.Defaults.Merge(req.Config))
	if err != nil {
		return nil, err
	}
	return &Result{Raw: text}, nil
}

func (a *OpenAIAdapter) complete(ctx context.Context, apiKey string, turns []session.Turn, cfg GenerationConfig) (string, error) {
	if apiKey == "" {
		return "", unavailable(a.desc.ID, "API key required")
	}

	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(turns)+1)
	if a.cfg.SystemPrompt != "" {
		msgs = append(msgs, openai.SystemMessage(a.cfg.SystemPrompt))
	}
	for _, t := range turns {
		if t.Role == session.RoleUser {
			msgs = append(msgs, openai.UserMessage(t.Content))
		} else {
			msgs = append(msgs, openai.AssistantMessage(t.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(a.cfg.Model),
		Messages: msgs,
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
	if len(cfg.Stop) > 0 {
		params.Stop = openai.ChatCompletionNewParamsStopUnion{OfStringArray: cfg.Stop}
	}

	resp, err := a.client.Chat.Completions.New(ctx, params, option.WithAPIKey(apiKey))
	if err != nil {
		return "", invocationError(a.desc.ID, err)
	}
	if len(resp.Choices) == 0 {
		return "", invalidResponse(a.desc.ID, "response has no choices")
	}
	content := resp.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return "", invalidResponse(a.desc.ID, "response content is empty")
	}
	return content, nil
}

func (a *OpenAIAdapter) Clean(raw string) string { return cleanRoleTagged(raw) }
