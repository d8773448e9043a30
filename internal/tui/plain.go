package tui

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// PlainIO is the line-oriented terminal: one prompt per line, replies
// printed when complete. It is used when stdout is not a terminal or the
// full-screen mode is turned off.
type PlainIO struct {
	scanner  *bufio.Scanner
	out      io.Writer
	errOut   io.Writer
	markdown bool
	width    int
}

// NewPlainIO reads lines from in and writes to out and errOut. With markdown
// set, replies are rendered for the terminal.
func NewPlainIO(in io.Reader, out, errOut io.Writer, markdown bool) *PlainIO {
	s := bufio.NewScanner(in)
	s.Buffer(make([]byte, 1024*1024), 1024*1024)
	return &PlainIO{scanner: s, out: out, errOut: errOut, markdown: markdown, width: 80}
}

func (p *PlainIO) ReadInput() (string, error) {
	fmt.Fprint(p.out, "\n> ")
	if !p.scanner.Scan() {
		if err := p.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return strings.TrimSpace(p.scanner.Text()), nil
}

func (p *PlainIO) UserMessage(_ string) {
	// The user already sees what they typed.
}

func (p *PlainIO) Progress(label string) {
	fmt.Fprintln(p.errOut, systemStyle.Render("  "+label))
}

func (p *PlainIO) Reply(text string) {
	if p.markdown {
		text = RenderMarkdown(text, p.width)
	}
	fmt.Fprintf(p.out, "\n%s\n", text)
}

func (p *PlainIO) SystemMessage(text string) {
	fmt.Fprintln(p.out, systemStyle.Render(text))
}

func (p *PlainIO) Error(msg string) {
	fmt.Fprintln(p.errOut, errorStyle.Render("error: "+msg))
}

func (p *PlainIO) SetStatus(_ Status) {
	// Plain mode shows usage on /tokens only.
}
