package agent

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/farmmind/farmmind/pkg/models"
)

// Confirmer decides whether a high-risk tool call may run. Implementations
// block until an operator answers or the context ends; anything but an
// explicit yes is a refusal.
type Confirmer interface {
	Confirm(ctx context.Context, call models.ToolCall) (bool, error)
}

// AutoDeny refuses every high-risk call. It is the fallback when no
// operator channel is wired up.
type AutoDeny struct{}

func (AutoDeny) Confirm(ctx context.Context, call models.ToolCall) (bool, error) {
	return false, nil
}

// TerminalConfirmer asks on an interactive terminal.
type TerminalConfirmer struct {
	In  io.Reader
	Out io.Writer
}

func (c *TerminalConfirmer) Confirm(ctx context.Context, call models.ToolCall) (bool, error) {
	fmt.Fprintf(c.Out, "\nTool %q wants to run with arguments %s\nAllow? [y/N]: ", call.Name, call.Arguments)

	answers := make(chan string, 1)
	go func() {
		scanner := bufio.NewScanner(c.In)
		if scanner.Scan() {
			answers <- scanner.Text()
		} else {
			answers <- ""
		}
	}()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case answer := <-answers:
		return IsAffirmative(answer), nil
	}
}

// IsAffirmative reports whether free text counts as an explicit yes.
func IsAffirmative(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "y", "yes", "confirm", "approve", "ok", "proceed":
		return true
	}
	return false
}
