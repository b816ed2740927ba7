// Package setup implements the interactive wizards that write a starter
// configuration and connect a channel.
package setup

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ClearValue, typed at an Optional prompt, clears the current value.
const ClearValue = "-"

// Prompter provides reusable terminal prompts backed by an io.Reader/Writer
// pair. In production these are os.Stdin and os.Stdout; tests can inject
// buffers for deterministic input.
type Prompter struct {
	scanner *bufio.Scanner
	w       io.Writer
}

// NewPrompter creates a Prompter wired to the given reader and writer.
func NewPrompter(r io.Reader, w io.Writer) *Prompter {
	return &Prompter{scanner: bufio.NewScanner(r), w: w}
}

// read prints the prompt and returns the trimmed answer. ok is false when
// input is exhausted.
func (p *Prompter) read(format string, args ...any) (string, bool) {
	_, _ = fmt.Fprintf(p.w, "  "+format+": ", args...)
	if !p.scanner.Scan() {
		return "", false
	}
	return strings.TrimSpace(p.scanner.Text()), true
}

// String prompts for a text value. Enter alone returns defaultVal; an empty
// defaultVal makes the field required and the prompt repeats.
func (p *Prompter) String(label, defaultVal string) string {
	for {
		var val string
		var ok bool
		if defaultVal != "" {
			val, ok = p.read("%s [%s]", label, defaultVal)
		} else {
			val, ok = p.read("%s", label)
		}
		if !ok {
			return defaultVal
		}
		if val != "" {
			return val
		}
		if defaultVal != "" {
			return defaultVal
		}
		_, _ = fmt.Fprintf(p.w, "  (required, please enter a value)\n")
	}
}

// Optional prompts for a value that may stay empty. Enter alone keeps
// defaultVal and ClearValue clears it.
func (p *Prompter) Optional(label, defaultVal string) string {
	hint := "blank to skip"
	if defaultVal != "" {
		hint = fmt.Sprintf("%s, %q to clear", defaultVal, ClearValue)
	}
	val, ok := p.read("%s [%s]", label, hint)
	switch {
	case !ok || val == "":
		return defaultVal
	case val == ClearValue:
		return ""
	default:
		return val
	}
}

// Secret prompts for a sensitive value such as a password. The input is not
// masked. When current is non-empty, Enter alone keeps it.
func (p *Prompter) Secret(label, current string) string {
	for {
		var val string
		var ok bool
		if current != "" {
			val, ok = p.read("%s [unchanged]", label)
		} else {
			val, ok = p.read("%s", label)
		}
		if !ok {
			return current
		}
		if val != "" {
			return val
		}
		if current != "" {
			return current
		}
		_, _ = fmt.Fprintf(p.w, "  (required, please enter a value)\n")
	}
}

// Confirm asks a yes/no question. defaultYes controls what happens when the
// user presses Enter without typing: true → yes, false → no.
func (p *Prompter) Confirm(label string, defaultYes bool) bool {
	hint := "[y/N]"
	if defaultYes {
		hint = "[Y/n]"
	}
	answer, ok := p.read("%s %s", label, hint)
	if !ok || answer == "" {
		return defaultYes
	}
	answer = strings.ToLower(answer)
	return answer == "y" || answer == "yes"
}

// Select presents a numbered list and returns the zero-based index of the
// chosen option. Enter alone picks def.
func (p *Prompter) Select(label string, options []string, def int) (int, error) {
	if len(options) == 0 {
		return -1, fmt.Errorf("no options to select from")
	}
	if def < 0 || def >= len(options) {
		def = 0
	}

	_, _ = fmt.Fprintf(p.w, "  %s:\n", label)
	for i, opt := range options {
		_, _ = fmt.Fprintf(p.w, "    %d) %s\n", i+1, opt)
	}

	for {
		val, ok := p.read("Choice [%d]", def+1)
		if !ok {
			return -1, fmt.Errorf("no input")
		}
		if val == "" {
			return def, nil
		}
		n, err := strconv.Atoi(val)
		if err != nil || n < 1 || n > len(options) {
			_, _ = fmt.Fprintf(p.w, "  (enter a number between 1 and %d)\n", len(options))
			continue
		}
		return n - 1, nil
	}
}
