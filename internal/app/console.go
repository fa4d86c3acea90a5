package app

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/rbright/recital/internal/fsm"
	"github.com/rbright/recital/internal/prompt"
	"github.com/rbright/recital/internal/session"
)

// console renders session output as plain lines on the owner's terminal.
type console struct {
	mu     sync.Mutex
	out    io.Writer
	last   fsm.State
	ticker bool
}

var _ session.Presenter = (*console)(nil)

func newConsole(out io.Writer) *console {
	return &console{out: out, last: fsm.StateIdle}
}

func (c *console) StateChanged(_ context.Context, snap session.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if snap.State == c.last {
		return
	}
	c.last = snap.State
	switch snap.State {
	case fsm.StateRecording:
		c.line("● recording (attempt %d/%d)", snap.Attempts, snap.MaxAttempts)
	case fsm.StateStopping:
		c.line("■ stopping")
	case fsm.StateSubmitting:
		c.line("… grading")
	case fsm.StateLocked:
		c.line("session locked")
	}
}

func (c *console) ShowPrompt(_ context.Context, p prompt.Prompt, question int, total int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.line("")
	c.line("Question %d/%d", question, total)
	if text := strings.TrimSpace(p.Text); text != "" {
		c.line("  %s", text)
	}
}

func (c *console) CountdownTick(_ context.Context, remaining int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.line("starting in %d…", remaining)
}

func (c *console) TimerTick(_ context.Context, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, "\r  %s ", text)
	c.ticker = true
}

func (c *console) Interim(_ context.Context, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.line("  ~ %s", text)
}

func (c *console) Notify(_ context.Context, n session.Notice) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch n.Level {
	case session.NoticeError:
		c.line("error: %s", n.Message)
	case session.NoticeWarning:
		c.line("warning: %s", n.Message)
	default:
		c.line("%s", n.Message)
	}
}

func (c *console) ShowResult(_ context.Context, o session.Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.line("Score: %.0f", o.Result.Score)
	if o.Transcript != "" {
		c.line("  you said: %s", o.Transcript)
	}
	if o.Result.TargetText != "" {
		c.line("  target:   %s", o.Result.TargetText)
	}
	if o.Result.Feedback != "" {
		c.line("  %s", o.Result.Feedback)
	}
	for _, s := range o.Result.Strengths {
		c.line("  + %s", s)
	}
	for _, s := range o.Result.Improvements {
		c.line("  - %s", s)
	}
	if o.Remaining > 0 {
		c.line("%d attempt(s) left on this prompt; `recital next` moves on", o.Remaining)
	} else {
		c.line("no attempts left on this prompt; run `recital next`")
	}
}

func (c *console) Reauthenticate(context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.line("Your account session has expired. Sign in again, then restart with `recital run`.")
}

func (c *console) ModuleComplete(_ context.Context, next string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if next == "" {
		c.line("Module complete.")
		return
	}
	c.line("Module complete. Continue with `recital run --module %s`.", next)
}

// line ends any in-place timer output before writing. Callers hold mu.
func (c *console) line(format string, args ...any) {
	if c.ticker {
		fmt.Fprintln(c.out)
		c.ticker = false
	}
	fmt.Fprintf(c.out, format+"\n", args...)
}
