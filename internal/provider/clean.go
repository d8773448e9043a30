package provider

import (
	"regexp"
	"strings"
)

var (
	turnTokens = []string{"<start_of_turn>", "<end_of_turn>", "<bos>", "<eos>"}
	pipeTokens = []string{"<|user|>", "<|assistant|>", "<|end|>", "<|system|>", "<|endoftext|>"}

	// A turn opener followed by its role label, e.g. "<start_of_turn>model\n".
	turnHeader = regexp.MustCompile(`^(?:<bos>|<start_of_turn>\s*(?:model|user|assistant)?\s*|<end_of_turn>\s*)+`)
)

// cleanTurnDelimited removes a leading turn header and cuts the output at
// the first marker that leaks into the text, where the model would have
// started writing the next turn.
func cleanTurnDelimited(raw string) string {
	s := strings.TrimSpace(raw)
	s = turnHeader.ReplaceAllString(s, "")
	cut := len(s)
	for _, tok := range turnTokens {
		if i := strings.Index(s, tok); i >= 0 && i < cut {
			cut = i
		}
	}
	return strings.TrimSpace(s[:cut])
}

// cleanPipeDelimited removes every pipe marker wherever it appears.
func cleanPipeDelimited(raw string) string {
	s := raw
	for {
		before := s
		for _, tok := range pipeTokens {
			s = strings.ReplaceAll(s, tok, "")
		}
		if s == before {
			break
		}
	}
	return strings.TrimSpace(s)
}

// cleanRoleTagged trims surrounding whitespace; role-tagged APIs return the
// reply without markers.
func cleanRoleTagged(raw string) string {
	return strings.TrimSpace(raw)
}
