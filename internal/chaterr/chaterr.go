// Package chaterr defines the error taxonomy shared by the buffer, the
// backend adapters and the generation pipeline.
//
// Every failure a caller can act on is an *Error with a Kind. Callers branch
// on the kind with errors.Is against the exported sentinels, or with KindOf.
package chaterr

import (
	"errors"
	"fmt"
)

// Kind identifies a class of failure.
type Kind string

const (
	BudgetExceeded          Kind = "budget_exceeded"
	HistoryTooLong          Kind = "history_too_long"
	BackendUnavailable      Kind = "backend_unavailable"
	BackendInvocationFailed Kind = "backend_invocation_failed"
	BackendResponseInvalid  Kind = "backend_response_invalid"
	SearchItemFailed        Kind = "search_item_failed"
	ResponseExceedsBudget   Kind = "response_exceeds_budget"
	UnknownBackend          Kind = "unknown_backend"
	InvalidRequest          Kind = "invalid_request"
	SessionReset            Kind = "session_reset"
	PersistenceFailed       Kind = "persistence_failed"
	StorageFailed           Kind = "storage_failed"
)

// Sentinels for errors.Is. Only the Kind is compared.
var (
	ErrBudgetExceeded          = &Error{Kind: BudgetExceeded}
	ErrHistoryTooLong          = &Error{Kind: HistoryTooLong}
	ErrBackendUnavailable      = &Error{Kind: BackendUnavailable}
	ErrBackendInvocationFailed = &Error{Kind: BackendInvocationFailed}
	ErrBackendResponseInvalid  = &Error{Kind: BackendResponseInvalid}
	ErrSearchItemFailed        = &Error{Kind: SearchItemFailed}
	ErrResponseExceedsBudget   = &Error{Kind: ResponseExceedsBudget}
	ErrUnknownBackend          = &Error{Kind: UnknownBackend}
	ErrInvalidRequest          = &Error{Kind: InvalidRequest}
	ErrSessionReset            = &Error{Kind: SessionReset}
	ErrPersistenceFailed       = &Error{Kind: PersistenceFailed}
	ErrStorageFailed           = &Error{Kind: StorageFailed}
)

// Error is a classified failure. Token fields are only meaningful for the
// budget kinds; URL only for SearchItemFailed.
type Error struct {
	Kind    Kind
	Backend string
	Msg     string

	// Current is the token total already held (or required, for history
	// loads); Cost is the rejected turn's cost; Max is the budget.
	Current int
	Cost    int
	Max     int

	URL string
	Err error
}

// New returns an error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under kind. A nil err yields nil.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// Budget returns a token-budget error carrying the counts.
func Budget(kind Kind, current, cost, max int) *Error {
	return &Error{Kind: kind, Current: current, Cost: cost, Max: max}
}

// WithBackend returns a copy of e tagged with the backend identifier.
func (e *Error) WithBackend(id string) *Error {
	c := *e
	c.Backend = id
	return &c
}

func (e *Error) Error() string {
	msg := e.Message()
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

// Message is the error without its cause, safe to show to clients.
func (e *Error) Message() string {
	msg := e.Msg
	if msg == "" {
		msg = e.defaultMessage()
	}
	if e.Backend != "" {
		msg = e.Backend + ": " + msg
	}
	return msg
}

func (e *Error) defaultMessage() string {
	switch e.Kind {
	case BudgetExceeded:
		return fmt.Sprintf("message of %d tokens exceeds the remaining budget (%d/%d used)", e.Cost, e.Current, e.Max)
	case HistoryTooLong:
		return fmt.Sprintf("conversation history needs %d tokens, budget is %d", e.Current, e.Max)
	case ResponseExceedsBudget:
		return fmt.Sprintf("response of %d tokens does not fit the budget (%d/%d used)", e.Cost, e.Current, e.Max)
	case SearchItemFailed:
		return "search result " + e.URL + " could not be used"
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// HasCounts reports whether the token fields carry meaning.
func (e *Error) HasCounts() bool {
	switch e.Kind {
	case BudgetExceeded, HistoryTooLong, ResponseExceedsBudget:
		return true
	}
	return false
}

// KindOf returns the Kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// As is a shorthand for errors.As into *Error.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}
