package tui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/legalqa/legalqa/internal/chaterr"
	"github.com/legalqa/legalqa/internal/pipeline"
	"github.com/legalqa/legalqa/internal/provider"
)

// Turner runs chat turns for one user. *pipeline.Pipeline satisfies it.
type Turner interface {
	Run(ctx context.Context, userID string, req *pipeline.Request) (*pipeline.Response, error)
	Clear(userID string)
	Stats(userID string) pipeline.Stats
}

var _ Turner = (*pipeline.Pipeline)(nil)

var progressLabels = map[pipeline.State]string{
	pipeline.Generating:   "Thinking...",
	pipeline.Confidence:   "Checking what I know...",
	pipeline.Searching:    "Searching the web...",
	pipeline.Synthesizing: "Reading the results...",
}

const helpText = `Commands:
  /new              start a new conversation
  /clear            same as /new
  /tokens           show buffer usage
  /backend [id]     show or switch the backend
  /search           toggle web search hints
  /help             show this help
  /exit, /quit      leave`

// REPL is the interactive chat loop.
type REPL struct {
	Turner  Turner
	UserID  string
	Backend string
	APIKey  string
	Search  bool

	// ConversationID resumes a stored conversation on the first turn.
	ConversationID string

	fresh bool
}

// Run reads input until EOF or /exit. Turn errors are shown and the loop
// continues; only a failing terminal ends it with an error.
func (r *REPL) Run(ctx context.Context, ui IO) error {
	r.fresh = r.ConversationID == ""
	r.updateStatus(ui)

	for {
		if ctx.Err() != nil {
			return nil
		}
		input, err := ui.ReadInput()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if input == "" {
			continue
		}
		if strings.HasPrefix(input, "/") {
			if quit := r.command(ui, input); quit {
				return nil
			}
			continue
		}
		ui.UserMessage(input)
		r.turn(ctx, ui, input)
	}
}

// Once runs a single turn and returns its result. It backs the one-shot
// run command.
func (r *REPL) Once(ctx context.Context, message string, progress func(pipeline.State)) (*pipeline.Response, error) {
	return r.Turner.Run(ctx, r.UserID, r.request(message, progress))
}

func (r *REPL) request(message string, progress func(pipeline.State)) *pipeline.Request {
	req := &pipeline.Request{
		Message:           message,
		ConversationID:    r.ConversationID,
		BackendID:         r.Backend,
		IsNewConversation: r.fresh,
		UseSearch:         r.Search,
		APIKey:            r.APIKey,
		Progress:          progress,
	}
	return req
}

func (r *REPL) turn(ctx context.Context, ui IO, input string) {
	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if tc, ok := ui.(TurnCanceller); ok {
		tc.SetTurnCancel(cancel)
		defer tc.ClearTurnCancel()
	}

	resp, err := r.Turner.Run(turnCtx, r.UserID, r.request(input, func(s pipeline.State) {
		if label, ok := progressLabels[s]; ok {
			ui.Progress(label)
		}
	}))
	if err != nil {
		if errors.Is(err, context.Canceled) {
			ui.SystemMessage("[cancelled]")
		} else {
			ui.Error(describe(err))
		}
		r.updateStatus(ui)
		return
	}

	r.fresh = false
	r.ConversationID = resp.ConversationID
	ui.Reply(resp.Response)
	if resp.UsedSearch {
		ui.SystemMessage("Answer grounded in web search results.")
	}
	r.updateStatus(ui)
}

// command handles a slash command and reports whether to quit.
func (r *REPL) command(ui IO, input string) bool {
	fields := strings.Fields(input)
	switch fields[0] {
	case "/exit", "/quit":
		return true
	case "/new", "/clear":
		r.Turner.Clear(r.UserID)
		r.ConversationID = ""
		r.fresh = true
		ui.SystemMessage("Started a new conversation.")
	case "/tokens":
		st := r.Turner.Stats(r.UserID)
		ui.SystemMessage(fmt.Sprintf("%d turns, %d/%d tokens", st.Turns, st.TokenCount, st.MaxTokens))
	case "/backend":
		if len(fields) < 2 {
			ui.SystemMessage("Backend: " + r.Backend)
			break
		}
		id, err := provider.ParseID(fields[1])
		if err != nil {
			ui.Error(describe(err))
			break
		}
		r.Backend = string(id)
		ui.SystemMessage("Switched to " + r.Backend + ".")
	case "/search":
		r.Search = !r.Search
		state := "off"
		if r.Search {
			state = "on"
		}
		ui.SystemMessage("Web search " + state + ".")
	case "/help":
		ui.SystemMessage(helpText)
	default:
		ui.Error(fmt.Sprintf("unknown command %s (try /help)", fields[0]))
	}
	r.updateStatus(ui)
	return false
}

func (r *REPL) updateStatus(ui IO) {
	st := r.Turner.Stats(r.UserID)
	conv := st.ConversationID
	if conv == "" {
		conv = r.ConversationID
	}
	ui.SetStatus(Status{
		Backend:      r.Backend,
		Conversation: conv,
		Tokens:       st.TokenCount,
		MaxTokens:    st.MaxTokens,
		Search:       r.Search,
	})
}

// describe turns a chat error into a terminal message.
func describe(err error) string {
	msg := err.Error()
	switch chaterr.KindOf(err) {
	case chaterr.BudgetExceeded, chaterr.HistoryTooLong, chaterr.ResponseExceedsBudget:
		msg += " (use /new to start over)"
	case chaterr.BackendUnavailable:
		msg += " (try /backend to switch)"
	}
	return msg
}
