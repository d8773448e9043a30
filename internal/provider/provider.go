// Package provider defines the backend adapters that turn a conversation
// buffer into a model reply.
//
// Each backend family differs only in how it renders the conversation, how it
// is invoked and how its raw output is cleaned. The pipeline drives every
// adapter through the same Adapter interface.
package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"

	"github.com/legalqa/legalqa/internal/chaterr"
	"github.com/legalqa/legalqa/internal/retrieval"
	"github.com/legalqa/legalqa/internal/session"
)

// ID names a backend. The set is closed; anything else is UnknownBackend.
type ID string

const (
	Gemma     ID = "gemma"
	Gemma3    ID = "gemma3"
	Phi       ID = "phi"
	OpenAI    ID = "openai"
	Anthropic ID = "anthropic"
	Gemini    ID = "gemini"
)

// AllIDs lists every known backend in display order.
var AllIDs = []ID{Gemma, Gemma3, Phi, OpenAI, Anthropic, Gemini}

var aliases = map[string]ID{
	"gemma-3-4b-it-q6_k": Gemma3,
	"gpt":                OpenAI,
	"claude":             Anthropic,
}

// ParseID resolves a backend name, accepting the historical model names.
func ParseID(s string) (ID, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if id, ok := aliases[name]; ok {
		return id, nil
	}
	for _, id := range AllIDs {
		if string(id) == name {
			return id, nil
		}
	}
	return "", chaterr.New(chaterr.UnknownBackend, "unknown backend %q", s)
}

// Family is how a backend expects its conversation.
type Family string

const (
	TurnDelimited      Family = "turn-delimited"
	PipeDelimited      Family = "pipe-delimited"
	RoleTagged         Family = "role-tagged"
	RetrievalAugmented Family = "retrieval-augmented"
)

// GenerationConfig holds sampling parameters. Zero values mean "leave to the
// backend".
type GenerationConfig struct {
	MaxTokens   int      `yaml:"max_tokens" json:"maxTokens,omitempty"`
	Temperature float64  `yaml:"temperature" json:"temperature,omitempty"`
	TopP        float64  `yaml:"top_p" json:"topP,omitempty"`
	Stop        []string `yaml:"stop" json:"stop,omitempty"`
}

// Merge returns c with every non-zero field of o applied on top.
func (c GenerationConfig) Merge(o GenerationConfig) GenerationConfig {
	if o.MaxTokens > 0 {
		c.MaxTokens = o.MaxTokens
	}
	if o.Temperature > 0 {
		c.Temperature = o.Temperature
	}
	if o.TopP > 0 {
		c.TopP = o.TopP
	}
	if len(o.Stop) > 0 {
		c.Stop = o.Stop
	}
	return c
}

// Descriptor is the immutable description of a backend.
type Descriptor struct {
	ID                ID                 `json:"id"`
	Family            Family             `json:"family"`
	Delimiters        session.Delimiters `json:"-"`
	StopSequences     []string           `json:"stopSequences,omitempty"`
	SupportsRetrieval bool               `json:"supportsRetrieval"`
	Defaults          GenerationConfig   `json:"defaults"`
}

// Descriptors holds the built-in description of every backend.
var Descriptors = map[ID]Descriptor{
	Gemma: {
		ID:            Gemma,
		Family:        TurnDelimited,
		Delimiters:    session.GemmaDelimiters,
		StopSequences: []string{"<end_of_turn>", "<start_of_turn>"},
		Defaults:      GenerationConfig{MaxTokens: 1024, Temperature: 0.7},
	},
	Gemma3: {
		ID:            Gemma3,
		Family:        PipeDelimited,
		Delimiters:    session.PipeDelimiters,
		StopSequences: []string{"<|end|>", "<|user|>"},
		Defaults:      GenerationConfig{MaxTokens: 2048, Temperature: 0.7, TopP: 0.9},
	},
	Phi: {
		ID:            Phi,
		Family:        PipeDelimited,
		Delimiters:    session.PipeDelimiters,
		StopSequences: []string{"<|end|>", "<|user|>"},
		Defaults:      GenerationConfig{MaxTokens: 512, Temperature: 0.7, TopP: 0.95},
	},
	OpenAI: {
		ID:       OpenAI,
		Family:   RoleTagged,
		Defaults: GenerationConfig{MaxTokens: 1024, Temperature: 0.7},
	},
	Anthropic: {
		ID:       Anthropic,
		Family:   RoleTagged,
		Defaults: GenerationConfig{MaxTokens: 1024, Temperature: 0.7},
	},
	Gemini: {
		ID:                Gemini,
		Family:            RetrievalAugmented,
		SupportsRetrieval: true,
		Defaults:          GenerationConfig{MaxTokens: 2048, Temperature: 0.7},
	},
}

// Request is one invocation.
type Request struct {
	// Prompt is the rendered prompt for delimited backends.
	Prompt string

	// Turns is the conversation for role-tagged backends.
	Turns []session.Turn

	// APIKey authenticates remote backends for this request only.
	APIKey string

	Config GenerationConfig

	// OnStage observes retrieval stages. May be nil.
	OnStage func(retrieval.Stage)
}

// Result is the raw output of an invocation.
type Result struct {
	Raw        string
	UsedSearch bool
}

// Adapter is the capability set every backend variant implements.
type Adapter interface {
	Descriptor() Descriptor

	// Ready reports BackendUnavailable when the backend cannot take a turn:
	// its server is down, it is not configured, or it needs a key that
	// apiKey does not supply.
	Ready(ctx context.Context, apiKey string) error

	// FormatPrompt renders turns for this backend. Role-tagged backends
	// return a readable transcript used only for logging.
	FormatPrompt(turns []session.Turn) string

	Invoke(ctx context.Context, req *Request) (*Result, error)

	// Clean strips backend artifacts from raw output. The result contains
	// none of the backend's delimiter tokens.
	Clean(raw string) string
}

// invocationError classifies a transport or API failure.
func invocationError(id ID, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := chaterr.As(err); ok {
		return err
	}
	msg := "invocation failed"
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		msg = fmt.Sprintf("API returned HTTP %d", apiErr.StatusCode)
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		msg = "invocation timed out"
	case errors.Is(err, context.Canceled):
		msg = "invocation cancelled"
	}
	return chaterr.Wrap(chaterr.BackendInvocationFailed, err, "%s", msg).WithBackend(string(id))
}

func unavailable(id ID, format string, args ...any) error {
	return chaterr.New(chaterr.BackendUnavailable, format, args...).WithBackend(string(id))
}

func invalidResponse(id ID, format string, args ...any) error {
	return chaterr.New(chaterr.BackendResponseInvalid, format, args...).WithBackend(string(id))
}

// transcript renders role-tagged turns for logs.
func transcript(system string, turns []session.Turn) string {
	var sb strings.Builder
	if system != "" {
		fmt.Fprintf(&sb, "system: %s\n", system)
	}
	for _, t := range turns {
		fmt.Fprintf(&sb, "%s: %s\n", t.Role, t.Content)
	}
	return sb.String()
}
