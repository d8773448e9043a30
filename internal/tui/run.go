package tui

import (
	"fmt"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
)

// RunTUI starts the program in alt-screen mode and runs loopFn
// concurrently. It blocks until the loop finishes or the user quits.
func RunTUI(loopFn func(ui IO) error) error {
	inputCh := make(chan inputResult, 1)
	tuiIO := &TuiIO{inputCh: inputCh}
	model := NewModel(inputCh, tuiIO.CancelTurn)

	p := tea.NewProgram(model, tea.WithAltScreen())
	tuiIO.program = p

	var (
		loopErr error
		wg      sync.WaitGroup
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		loopErr = loopFn(tuiIO)
		p.Send(loopDoneMsg{err: loopErr})
	}()

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	// Unblock a loop still waiting for input after the user quit.
	select {
	case inputCh <- inputResult{err: errInterrupted}:
	default:
	}
	wg.Wait()
	return loopErr
}
