package tui

import (
	"io"
	"sync"
)

// ScriptIO feeds the chat loop a fixed list of inputs and records what it
// shows. It backs the one-shot run command and tests.
type ScriptIO struct {
	mu       sync.Mutex
	inputs   []string
	replies  []string
	system   []string
	errors   []string
	progress []string
	status   Status
}

var _ IO = (*ScriptIO)(nil)

// NewScriptIO creates a ScriptIO that returns inputs in order, then io.EOF.
func NewScriptIO(inputs ...string) *ScriptIO {
	return &ScriptIO{inputs: inputs}
}

func (s *ScriptIO) ReadInput() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.inputs) == 0 {
		return "", io.EOF
	}
	in := s.inputs[0]
	s.inputs = s.inputs[1:]
	return in, nil
}

func (s *ScriptIO) UserMessage(_ string) {}

func (s *ScriptIO) Progress(label string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = append(s.progress, label)
}

func (s *ScriptIO) Reply(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies = append(s.replies, text)
}

func (s *ScriptIO) SystemMessage(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.system = append(s.system, text)
}

func (s *ScriptIO) Error(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, msg)
}

func (s *ScriptIO) SetStatus(st Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = st
}

func (s *ScriptIO) Replies() []string    { return s.copyOf(&s.replies) }
func (s *ScriptIO) System() []string     { return s.copyOf(&s.system) }
func (s *ScriptIO) Errors() []string     { return s.copyOf(&s.errors) }
func (s *ScriptIO) Progresses() []string { return s.copyOf(&s.progress) }

func (s *ScriptIO) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *ScriptIO) copyOf(v *[]string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), (*v)...)
}
