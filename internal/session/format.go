package session

import "strings"

// Delimiters describes how a turn-delimited model expects a conversation to
// be laid out. Each turn is rendered as Open + content + Close for its role,
// turns are joined by Separator, and the prompt ends with Continuation (the
// opening marker of the assistant turn the model should write).
type Delimiters struct {
	UserOpen       string
	UserClose      string
	AssistantOpen  string
	AssistantClose string
	Separator      string

	// Continuation defaults to AssistantOpen.
	Continuation string
}

// GemmaDelimiters is the <start_of_turn>/<end_of_turn> layout.
var GemmaDelimiters = Delimiters{
	UserOpen:       "<start_of_turn>user\n",
	UserClose:      "<end_of_turn>",
	AssistantOpen:  "<start_of_turn>model\n",
	AssistantClose: "<end_of_turn>",
	Separator:      "\n",
}

// PipeDelimiters is the <|user|>/<|assistant|>/<|end|> layout.
var PipeDelimiters = Delimiters{
	UserOpen:       "<|user|>\n",
	UserClose:      "<|end|>",
	AssistantOpen:  "<|assistant|>\n",
	AssistantClose: "<|end|>",
	Separator:      "\n",
	Continuation:   "<|assistant|>",
}

// Format renders turns in chronological order. The result never ends with a
// closing marker, so the model continues as the assistant. Output depends
// only on the turns and d.
func Format(turns []Turn, d Delimiters) string {
	var sb strings.Builder
	for _, t := range turns {
		switch t.Role {
		case RoleUser:
			sb.WriteString(d.UserOpen)
			sb.WriteString(t.Content)
			sb.WriteString(d.UserClose)
		default:
			sb.WriteString(d.AssistantOpen)
			sb.WriteString(t.Content)
			sb.WriteString(d.AssistantClose)
		}
		sb.WriteString(d.Separator)
	}
	if d.Continuation != "" {
		sb.WriteString(d.Continuation)
	} else {
		sb.WriteString(d.AssistantOpen)
	}
	return sb.String()
}

// Tokens lists every marker string in d, for output cleaning.
func (d Delimiters) Tokens() []string {
	var out []string
	seen := map[string]bool{}
	for _, s := range []string{d.UserOpen, d.UserClose, d.AssistantOpen, d.AssistantClose, d.Continuation} {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
