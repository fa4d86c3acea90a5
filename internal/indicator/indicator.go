// Package indicator renders controller output as desktop notifications and audio cues.
package indicator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rbright/recital/internal/config"
	"github.com/rbright/recital/internal/fsm"
	"github.com/rbright/recital/internal/prompt"
	"github.com/rbright/recital/internal/session"
	"github.com/rbright/recital/internal/transcript"
)

const (
	stickyTimeoutMS = 300000
	promptTimeoutMS = 8000
	infoTimeoutMS   = 4000
	tickTimeoutMS   = 1500
	maxBodyRunes    = 120
)

// notifier is one notification surface.
type notifier interface {
	Notify(ctx context.Context, text string, timeoutMS int) error
	Dismiss(ctx context.Context) error
}

// Indicator is the notification and cue presenter used by runtime sessions.
// It can route notifications via desktop DBus or beeep based on config backend.
type Indicator struct {
	cfg      config.IndicatorConfig
	logger   *slog.Logger
	messages messages
	surface  notifier
	cue      func(context.Context, cueKind) error

	mu   sync.Mutex
	last fsm.State

	soundMu sync.Mutex
}

var _ session.Presenter = (*Indicator)(nil)

// New creates an indicator from config.
func New(cfg config.IndicatorConfig, logger *slog.Logger) *Indicator {
	var surface notifier
	if strings.EqualFold(strings.TrimSpace(cfg.Backend), config.IndicatorBeeep) {
		surface = beeepNotifier{appName: appName(cfg)}
	} else {
		surface = &desktopNotifier{appName: appName(cfg)}
	}
	return &Indicator{
		cfg:      cfg,
		logger:   logger,
		messages: indicatorMessagesFromEnv(),
		surface:  surface,
		cue:      emitCue,
		last:     fsm.StateIdle,
	}
}

func appName(cfg config.IndicatorConfig) string {
	name := strings.TrimSpace(cfg.DesktopAppName)
	if name == "" {
		return "recital"
	}
	return name
}

// StateChanged reacts to state transitions only; repeated snapshots in one state are ignored.
func (i *Indicator) StateChanged(ctx context.Context, snap session.Snapshot) {
	i.mu.Lock()
	prev := i.last
	i.last = snap.State
	i.mu.Unlock()
	if prev == snap.State {
		return
	}

	switch snap.State {
	case fsm.StateRecording:
		i.playCue(cueStart)
		i.show(ctx, i.messages.recording, stickyTimeoutMS)
	case fsm.StateStopping:
		i.playCue(cueStop)
		i.show(ctx, i.messages.stopping, stickyTimeoutMS)
	case fsm.StateSubmitting:
		i.show(ctx, i.messages.grading, stickyTimeoutMS)
	case fsm.StateIdle:
		// A graded attempt leaves its result on screen.
		if prev == fsm.StateCountingDown || prev == fsm.StateRecording || prev == fsm.StateStopping {
			i.hide(ctx)
		}
	}
}

// ShowPrompt announces a newly loaded prompt.
func (i *Indicator) ShowPrompt(ctx context.Context, p prompt.Prompt, question int, total int) {
	i.show(ctx, fmt.Sprintf(i.messages.promptFormat, question, total, truncate(p.Text)), promptTimeoutMS)
}

// CountdownTick replaces the notification with the remaining pre-roll seconds.
func (i *Indicator) CountdownTick(ctx context.Context, remaining int) {
	i.show(ctx, fmt.Sprintf(i.messages.countdownFormat, remaining), tickTimeoutMS)
}

// TimerTick is console-only.
func (i *Indicator) TimerTick(context.Context, string) {}

// Interim is console-only.
func (i *Indicator) Interim(context.Context, string) {}

// Notify surfaces a controller notice. Errors and warnings use the error timeout.
func (i *Indicator) Notify(ctx context.Context, n session.Notice) {
	switch n.Level {
	case session.NoticeError:
		i.playCue(cueError)
		i.showError(ctx, n.Message)
	case session.NoticeWarning:
		i.showError(ctx, n.Message)
	default:
		i.show(ctx, n.Message, infoTimeoutMS)
	}
}

// ShowResult emits the completion cue and the score summary.
func (i *Indicator) ShowResult(ctx context.Context, o session.Outcome) {
	i.playCue(cueComplete)
	text := fmt.Sprintf(i.messages.scoreFormat, o.Result.Score)
	if feedback := strings.TrimSpace(o.Result.Feedback); feedback != "" {
		text += ": " + truncate(feedback)
	}
	i.show(ctx, text, promptTimeoutMS)
}

// Reauthenticate tells the user the account session must be renewed.
func (i *Indicator) Reauthenticate(ctx context.Context) {
	i.playCue(cueError)
	i.show(ctx, i.messages.reauth, stickyTimeoutMS)
}

// ModuleComplete announces the end of the module and the next one in the chain.
func (i *Indicator) ModuleComplete(ctx context.Context, next string) {
	i.playCue(cueComplete)
	text := i.messages.complete
	if next != "" {
		text = fmt.Sprintf(i.messages.completeNextFormat, next)
	}
	i.show(ctx, text, promptTimeoutMS)
}

func (i *Indicator) showError(ctx context.Context, text string) {
	if text == "" {
		text = i.messages.errorText
	}
	timeout := i.cfg.ErrorTimeoutMS
	if timeout <= 0 {
		timeout = 1200
	}
	i.show(ctx, text, timeout)
}

func (i *Indicator) show(ctx context.Context, text string, timeoutMS int) {
	if !i.cfg.Enable {
		return
	}
	i.run(ctx, func(ctx context.Context) error {
		return i.surface.Notify(ctx, text, timeoutMS)
	})
}

func (i *Indicator) hide(ctx context.Context) {
	if !i.cfg.Enable {
		return
	}
	i.run(ctx, i.surface.Dismiss)
}

// run executes a notification call with a bounded timeout.
func (i *Indicator) run(ctx context.Context, fn func(context.Context) error) {
	runCtx, cancel := context.WithTimeout(ctx, 400*time.Millisecond)
	defer cancel()
	if err := fn(runCtx); err != nil {
		i.log("indicator dispatch failed", err)
	}
}

// playCue serializes cue playback and emits audio asynchronously.
func (i *Indicator) playCue(kind cueKind) {
	if !i.cfg.SoundEnable {
		return
	}
	go func() {
		i.soundMu.Lock()
		defer i.soundMu.Unlock()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := i.cue(ctx, kind); err != nil {
			i.log("indicator audio cue failed", err)
		}
	}()
}

func (i *Indicator) log(message string, err error) {
	if i.logger == nil || err == nil {
		return
	}
	i.logger.Debug(message, "error", err.Error())
}

func truncate(text string) string {
	return transcript.Preview(text, maxBodyRunes, "...")
}
