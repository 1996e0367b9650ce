package engine

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// Confirmer asks the operator to approve a destructive phase.
type Confirmer interface {
	// Confirm presents the prompt and reports the answer. Only an
	// explicit yes approves.
	Confirm(prompt string) (bool, error)
}

// TerminalConfirmer prompts on the controlling terminal. When stdin is
// not a terminal the answer is no: an unattended run must not block on a
// prompt, and silently approving destruction is worse.
type TerminalConfirmer struct {
	in  *os.File
	out io.Writer
}

// NewTerminalConfirmer creates a confirmer over stdin/stderr.
func NewTerminalConfirmer() *TerminalConfirmer {
	return &TerminalConfirmer{in: os.Stdin, out: os.Stderr}
}

// Confirm prompts for a yes/no answer, defaulting to no.
func (c *TerminalConfirmer) Confirm(prompt string) (bool, error) {
	if !term.IsTerminal(int(c.in.Fd())) {
		fmt.Fprintf(c.out, "%s [y/N]: no (stdin is not a terminal)\n", prompt)
		return false, nil
	}
	fmt.Fprintf(c.out, "%s [y/N]: ", prompt)
	line, err := bufio.NewReader(c.in).ReadString('\n')
	if err != nil && line == "" {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

// StaticConfirmer answers every prompt the same way. It backs the
// --yes-style unattended approval path.
type StaticConfirmer struct {
	Answer bool
}

// Confirm returns the configured answer.
func (c StaticConfirmer) Confirm(string) (bool, error) {
	return c.Answer, nil
}
