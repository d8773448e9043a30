package pipeline

import (
	"encoding/json"
	"io"

	"github.com/legalqa/legalqa/internal/chaterr"
)

// ErrorRecord is the wire form of a failed turn. Token counts are present
// only for the budget kinds.
type ErrorRecord struct {
	Error      string `json:"error"`
	Kind       string `json:"kind,omitempty"`
	Backend    string `json:"backend,omitempty"`
	TokenCount *int   `json:"tokenCount,omitempty"`
	Cost       *int   `json:"cost,omitempty"`
	MaxTokens  *int   `json:"maxTokens,omitempty"`
}

// ProgressRecord reports a state entry while a turn is running.
type ProgressRecord struct {
	Status State `json:"status"`
}

// NewErrorRecord converts err to its wire form. The wrapped cause is left
// out; it belongs in the log.
func NewErrorRecord(err error) ErrorRecord {
	e, ok := chaterr.As(err)
	if !ok {
		return ErrorRecord{Error: "internal error"}
	}
	rec := ErrorRecord{Error: e.Message(), Kind: string(e.Kind), Backend: e.Backend}
	if e.HasCounts() {
		cur, cost, max := e.Current, e.Cost, e.Max
		rec.TokenCount, rec.MaxTokens = &cur, &max
		if cost > 0 {
			rec.Cost = &cost
		}
	}
	return rec
}

// WriteRecord writes the outcome of a turn as one NDJSON line.
func WriteRecord(w io.Writer, resp *Response, err error) error {
	enc := json.NewEncoder(w)
	if err != nil {
		return enc.Encode(NewErrorRecord(err))
	}
	return enc.Encode(resp)
}

// WriteProgress writes a progress line.
func WriteProgress(w io.Writer, s State) error {
	return json.NewEncoder(w).Encode(ProgressRecord{Status: s})
}
