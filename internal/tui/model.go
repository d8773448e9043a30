package tui

import (
	"errors"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
)

// Messages sent from the chat loop goroutine via program.Send.

type readInputMsg struct{}

type inputResult struct {
	text string
	err  error
}

type userMsg struct{ text string }
type progressMsg struct{ label string }
type replyMsg struct{ text string }
type systemMsg struct{ text string }
type errorMsg struct{ text string }
type statusMsg struct{ st Status }
type loopDoneMsg struct{ err error }

var errInterrupted = errors.New("interrupted")

const statusBarHeight = 1
const inputHeight = 1

// Model is the full-screen chat view.
type Model struct {
	viewport  viewport.Model
	textinput textinput.Model
	spinner   spinner.Model
	width     int
	height    int

	content   *strings.Builder
	inputMode bool
	// progress is the label next to the spinner while a turn runs.
	progress string

	inputCh chan inputResult
	status  Status

	// cancelTurn aborts the running turn. Returns false when idle.
	cancelTurn func() bool

	quitting bool
}

// NewModel creates the initial model.
func NewModel(inputCh chan inputResult, cancelTurn func() bool) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.CharLimit = 8192
	ti.Placeholder = "Ask a legal question, or /help"

	vp := viewport.New(80, 24)

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = spinnerStyle

	return Model{
		viewport:   vp,
		content:    &strings.Builder{},
		textinput:  ti,
		spinner:    sp,
		inputCh:    inputCh,
		cancelTurn: cancelTurn,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		vpHeight := m.height - statusBarHeight - inputHeight
		if vpHeight < 1 {
			vpHeight = 1
		}
		m.viewport.Width = m.width
		m.viewport.Height = vpHeight
		m.textinput.Width = m.width - 4

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			if m.inputMode {
				m.inputCh <- inputResult{err: errInterrupted}
				m.inputMode = false
				m.textinput.Blur()
			} else if m.cancelTurn != nil {
				m.cancelTurn()
			}
			m.quitting = true
			return m, tea.Quit
		case "esc":
			if !m.inputMode && m.cancelTurn != nil && m.cancelTurn() {
				m.progress = ""
			}
			return m, nil
		case "enter":
			if m.inputMode {
				text := strings.TrimSpace(m.textinput.Value())
				m.textinput.SetValue("")
				m.inputCh <- inputResult{text: text}
				m.inputMode = false
				m.textinput.Blur()
			}
			return m, nil
		}
		if m.inputMode {
			var cmd tea.Cmd
			m.textinput, cmd = m.textinput.Update(msg)
			cmds = append(cmds, cmd)
		}

	case readInputMsg:
		m.inputMode = true
		m.progress = ""
		m.textinput.Focus()
		cmds = append(cmds, textinput.Blink)

	case userMsg:
		m.appendLine(userStyle.Render("You: " + msg.text))

	case progressMsg:
		m.progress = msg.label

	case replyMsg:
		m.progress = ""
		m.appendLine(RenderMarkdown(msg.text, m.width))

	case systemMsg:
		m.appendLine(systemStyle.Render(msg.text))

	case errorMsg:
		m.progress = ""
		m.appendLine(errorStyle.Render("Error: " + msg.text))

	case statusMsg:
		m.status = msg.st

	case loopDoneMsg:
		m.quitting = true
		return m, tea.Quit
	}

	m.viewport.SetContent(m.renderContent())
	m.viewport.GotoBottom()

	var vpCmd tea.Cmd
	m.viewport, vpCmd = m.viewport.Update(msg)
	cmds = append(cmds, vpCmd)

	return m, tea.Batch(cmds...)
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}
	bar := statusBarStyle.Width(m.width).Render(m.status.String())

	var input string
	switch {
	case m.inputMode:
		input = m.textinput.View()
	case m.progress != "":
		input = systemStyle.Render("  esc to cancel")
	}
	return m.viewport.View() + "\n" + bar + "\n" + input
}

// renderContent appends the spinner line while a turn is running.
func (m *Model) renderContent() string {
	base := m.content.String()
	if m.progress == "" {
		return base
	}
	return base + "\n" + m.spinner.View() + " " + m.progress
}

func (m *Model) appendLine(text string) {
	m.content.WriteString(text)
	m.content.WriteString("\n")
}
