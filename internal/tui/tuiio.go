package tui

import (
	"io"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
)

// TuiIO implements IO by sending messages to a bubbletea Program. All
// methods are safe to call from any goroutine.
type TuiIO struct {
	program *tea.Program
	inputCh chan inputResult

	mu         sync.Mutex
	cancelTurn func()
}

var (
	_ IO            = (*TuiIO)(nil)
	_ TurnCanceller = (*TuiIO)(nil)
)

func (t *TuiIO) ReadInput() (string, error) {
	t.program.Send(readInputMsg{})

	// Block until the user submits or the program exits.
	res := <-t.inputCh
	if res.err != nil {
		return "", io.EOF
	}
	return res.text, nil
}

func (t *TuiIO) UserMessage(text string) { t.program.Send(userMsg{text: text}) }
func (t *TuiIO) Progress(label string)   { t.program.Send(progressMsg{label: label}) }
func (t *TuiIO) Reply(text string)       { t.program.Send(replyMsg{text: text}) }
func (t *TuiIO) SystemMessage(text string) {
	t.program.Send(systemMsg{text: text})
}
func (t *TuiIO) Error(msg string)    { t.program.Send(errorMsg{text: msg}) }
func (t *TuiIO) SetStatus(st Status) { t.program.Send(statusMsg{st: st}) }

// SetTurnCancel registers the cancel function of the running turn.
func (t *TuiIO) SetTurnCancel(cancel func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelTurn = cancel
}

// ClearTurnCancel drops the cancel function when the turn ends.
func (t *TuiIO) ClearTurnCancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelTurn = nil
}

// CancelTurn aborts the running turn. Returns true if one was running.
func (t *TuiIO) CancelTurn() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancelTurn == nil {
		return false
	}
	t.cancelTurn()
	t.cancelTurn = nil
	return true
}
