// Package session coordinates recording lifecycle state, recognition passes, and grading.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/rbright/recital/internal/attempt"
	"github.com/rbright/recital/internal/backend"
	"github.com/rbright/recital/internal/countdown"
	"github.com/rbright/recital/internal/exercise"
	"github.com/rbright/recital/internal/fsm"
	"github.com/rbright/recital/internal/grading"
	"github.com/rbright/recital/internal/ipc"
	"github.com/rbright/recital/internal/prompt"
	"github.com/rbright/recital/internal/recognition"
	"github.com/rbright/recital/internal/timedisplay"
)

var (
	// ErrModuleComplete reports that the module's question budget is spent.
	ErrModuleComplete = errors.New("module complete")
	// ErrEmptyTranscript reports an attempt that ended without any finalized speech.
	ErrEmptyTranscript = errors.New("no speech captured")
)

// Options wires a Controller. Recognizer, Prompts and Grader are required.
type Options struct {
	Logger     *slog.Logger
	Clock      clockwork.Clock
	Profile    exercise.Profile
	Timing     Timing
	Recognizer Recognizer
	Prompts    prompt.Provider
	Grader     grading.Grader
	Player     Player
	Committer  Committer
	Presenter  Presenter
}

// Controller owns one module run. All session state is mutated on the Run goroutine;
// commands, recognizer callbacks, timers and background calls reach it as events.
type Controller struct {
	logger     *slog.Logger
	clock      clockwork.Clock
	profile    exercise.Profile
	timing     Timing
	recognizer Recognizer
	prompts    prompt.Provider
	gate       *grading.Gate
	player     Player
	commit     Committer
	presenter  Presenter

	mu       sync.RWMutex
	state    fsm.State
	snapshot Snapshot

	inbox *mailbox
	done  chan struct{}

	// Owned by the Run goroutine.
	ctx             context.Context
	sess            *Session
	attempts        *attempt.Limiter
	gen             uint64
	loadSeq         uint64
	loading         bool
	playing         bool
	questions       int
	countdown       *countdown.Handle
	display         *timedisplay.Driver
	restartTimer    clockwork.Timer
	submitTimer     clockwork.Timer
	restartFailures int
	failed          bool
	stoppedAt       time.Time
	unavailable     error
}

// NewController constructs a session controller with safe default fallbacks.
func NewController(opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	timing := opts.Timing
	if timing == (Timing{}) {
		timing = DefaultTiming()
	}
	if timing.MaxRestartFailures <= 0 {
		timing.MaxRestartFailures = DefaultTiming().MaxRestartFailures
	}
	committer := opts.Committer
	if committer == nil {
		committer = CommitFunc(func(context.Context, Attempt) error { return nil })
	}
	presenter := opts.Presenter
	if presenter == nil {
		presenter = noopPresenter{}
	}

	c := &Controller{
		logger:     logger,
		clock:      clock,
		profile:    opts.Profile,
		timing:     timing,
		recognizer: opts.Recognizer,
		prompts:    opts.Prompts,
		gate:       grading.NewGate(opts.Grader),
		player:     opts.Player,
		commit:     committer,
		presenter:  presenter,
		state:      fsm.StateIdle,
		inbox:      newMailbox(),
		done:       make(chan struct{}),
		ctx:        context.Background(),
		attempts:   attempt.New(opts.Profile.MaxAttempts),
	}
	if c.recognizer == nil {
		c.unavailable = recognition.ErrUnavailable
	} else if err := c.recognizer.Available(); err != nil {
		c.unavailable = err
	}
	c.snapshot = c.buildSnapshot()
	return c
}

// State returns the current FSM state snapshot.
func (c *Controller) State() fsm.State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Snapshot returns the last published presentation view.
func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot
}

// transition applies one FSM event to the controller state.
func (c *Controller) transition(event fsm.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	next, err := fsm.Transition(c.state, event)
	if err != nil {
		return err
	}
	c.state = next
	return nil
}

// mustTransition logs transitions the loop never expects to be rejected.
func (c *Controller) mustTransition(event fsm.Event) {
	if err := c.transition(event); err != nil {
		c.logger.Error("session transition rejected", "event", string(event), "error", err.Error())
	}
}

// Run loads the first prompt and serves events until quit or context cancellation.
func (c *Controller) Run(ctx context.Context) error {
	c.ctx = ctx
	defer close(c.done)

	if c.unavailable != nil {
		c.logger.Warn("speech recognition unavailable", "error", c.unavailable.Error())
		c.notify(NoticeError, "Speech recognition is unavailable; recording is disabled.")
	}
	c.publish()
	c.loadPrompt()

	for {
		for _, ev := range c.inbox.drain() {
			if c.apply(ev) {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			c.teardownAttempt()
			c.resetIfActive()
			return ctx.Err()
		case <-c.inbox.ready:
		}
	}
}

// Handle serves IPC commands for the running module.
func (c *Controller) Handle(ctx context.Context, req ipc.Request) ipc.Response {
	if req.Module != "" && req.Module != c.profile.Name {
		return fail(c.State(), fmt.Sprintf("module %s is running, not %s", c.profile.Name, req.Module))
	}
	if req.Command == "status" {
		return c.status()
	}

	select {
	case <-c.done:
		return ipc.Response{OK: false, State: string(c.State()), Error: "session has ended"}
	default:
	}

	reply := make(chan ipc.Response, 1)
	c.inbox.post(commandEvent{name: req.Command, reply: reply})

	select {
	case resp := <-reply:
		return resp
	case <-c.done:
		return ipc.Response{OK: false, State: string(c.State()), Error: "session has ended"}
	case <-ctx.Done():
		return ipc.Response{OK: false, State: string(c.State()), Error: ctx.Err().Error()}
	}
}

// apply runs one event on the loop goroutine and reports whether the loop should exit.
func (c *Controller) apply(ev event) bool {
	switch ev := ev.(type) {
	case commandEvent:
		resp, quit := c.command(ev.name)
		ev.reply <- resp
		return quit
	case promptLoaded:
		c.onPromptLoaded(ev)
	case playbackDone:
		c.onPlaybackDone(ev)
	case countdownDone:
		if ev.gen == c.gen && c.State() == fsm.StateCountingDown {
			c.countdown = nil
			_ = c.beginRecording()
		}
	case recResult:
		if ev.gen == c.gen {
			c.onResult(ev.text, ev.final)
		}
	case recFailed:
		if ev.gen == c.gen {
			c.onRecognitionError(ev.err)
		}
	case recEnded:
		if ev.gen == c.gen {
			c.onRecognitionEnd()
		}
	case restartDue:
		if ev.gen == c.gen {
			c.onRestartDue()
		}
	case submitDue:
		if ev.gen == c.gen {
			c.onSubmitDue()
		}
	case budgetExpired:
		if ev.gen == c.gen {
			c.onBudgetExpired()
		}
	case gradeDone:
		c.onGradeDone(ev)
	default:
		c.logger.Error("unknown session event", "type", fmt.Sprintf("%T", ev))
	}
	return false
}

func (c *Controller) command(name string) (ipc.Response, bool) {
	switch name {
	case "toggle":
		return c.toggle(), false
	case "stop":
		return c.requestStop("stop"), false
	case "next":
		return c.next(), false
	case "play":
		return c.play(), false
	case "retry":
		return c.retry(), false
	case "quit":
		c.teardownAttempt()
		c.resetIfActive()
		return ipc.Response{OK: true, State: string(c.State()), Message: "quitting"}, true
	default:
		return fail(c.State(), fmt.Sprintf("unknown command: %s", name)), false
	}
}

// toggle starts an attempt from idle or stops the one being recorded.
func (c *Controller) toggle() ipc.Response {
	state := c.State()
	switch state {
	case fsm.StateIdle:
		return c.startAttempt()
	case fsm.StateRecording:
		return c.requestStop("toggle")
	case fsm.StateStopping:
		return ipc.Response{OK: true, State: string(state), Message: "stop already requested"}
	case fsm.StateCountingDown:
		return fail(state, "countdown in progress")
	case fsm.StateSubmitting:
		return fail(state, "submission in progress")
	case fsm.StateLocked:
		return fail(state, backend.ErrSessionInvalid.Error())
	default:
		return fail(state, fmt.Sprintf("cannot toggle from state %s", state))
	}
}

func (c *Controller) startAttempt() ipc.Response {
	state := c.State()
	switch {
	case c.unavailable != nil:
		return fail(state, "speech recognition unavailable")
	case c.sess == nil && c.loading:
		return fail(state, "prompt is still loading")
	case c.sess == nil:
		return fail(state, "no prompt loaded; run `recital next`")
	case !c.sess.Limiter.CanAttempt():
		return fail(state, attemptLimitMessage(c.sess.Limiter.Count(), c.sess.Limiter.Max()))
	case c.playing:
		return fail(state, "prompt audio is still playing")
	case c.profile.RequiresPlayback && !c.sess.HasPlayed:
		return fail(state, "play the prompt first (`recital play`)")
	}

	c.gen++
	if !c.profile.PreRoll() {
		if err := c.beginRecording(); err != nil {
			return fail(c.State(), fmt.Sprintf("start recording: %v", err))
		}
		return ipc.Response{OK: true, State: string(c.State()), Message: "recording started"}
	}

	c.mustTransition(fsm.EventArm)
	gen := c.gen
	c.countdown = countdown.Start(c.clock, c.profile.CountdownSeconds,
		func(remaining int) { c.presenter.CountdownTick(c.ctx, remaining) },
		func() { c.inbox.post(countdownDone{gen: gen}) },
	)
	c.publish()
	return ipc.Response{OK: true, State: string(c.State()), Message: "countdown started"}
}

// beginRecording opens a recognition pass. The attempt is counted only once the
// recognizer has started.
func (c *Controller) beginRecording() error {
	c.recognizer.Configure(c.profile.Mode)
	c.recognizer.Bind(c.listenerFor(c.gen))
	if err := c.recognizer.Start(c.ctx); err != nil {
		c.logger.Warn("recognition start failed", "module", c.profile.Name, "error", err.Error())
		if c.State() == fsm.StateCountingDown {
			c.mustTransition(fsm.EventAbort)
		}
		c.notify(NoticeError, "Unable to start recording: "+startFailureMessage(err))
		c.publish()
		return err
	}

	c.sess.beginAttempt(c.clock.Now())
	c.failed = false
	c.restartFailures = 0
	c.mustTransition(fsm.EventBegin)
	c.startDisplay()
	c.logger.Info("recording started",
		"module", c.profile.Name,
		"session_id", c.sess.ID.String(),
		"mode", c.sess.Mode.String(),
		"attempt", c.sess.Limiter.Count(),
	)
	c.publish()
	return nil
}

func startFailureMessage(err error) string {
	if errors.Is(err, recognition.ErrAlreadyActive) {
		return "speech recognition is already running"
	}
	return recognitionMessage(recognition.Classify(err).Kind)
}

func (c *Controller) listenerFor(gen uint64) recognition.Listener {
	return recognition.ListenerFuncs{
		Result: func(text string, final bool) {
			c.inbox.post(recResult{gen: gen, text: text, final: final})
		},
		Error: func(err *recognition.Error) {
			c.inbox.post(recFailed{gen: gen, err: err})
		},
		End: func() {
			c.inbox.post(recEnded{gen: gen})
		},
	}
}

func (c *Controller) startDisplay() {
	gen := c.gen
	tick := func(text string) { c.presenter.TimerTick(c.ctx, text) }
	if c.profile.Timed() {
		c.display = timedisplay.StartRemaining(c.clock, c.sess.RecordingStartedAt, c.profile.Budget, tick, func() {
			c.inbox.post(budgetExpired{gen: gen})
		})
		return
	}
	c.display = timedisplay.StartElapsed(c.clock, c.sess.RecordingStartedAt, tick)
}

func (c *Controller) stopDisplay() {
	c.display.Stop()
	c.display = nil
}

// requestStop handles a user stop. The manual-stop flag is raised before the
// recognizer is asked to stop so its end event never schedules a restart.
func (c *Controller) requestStop(source string) ipc.Response {
	state := c.State()
	if state == fsm.StateStopping {
		return ipc.Response{OK: true, State: string(state), Message: "stop already requested"}
	}
	if state != fsm.StateRecording {
		return fail(state, fmt.Sprintf("cannot %s from state %s", source, state))
	}

	c.stopRecording()
	return ipc.Response{OK: true, State: string(state), Message: "stop requested"}
}

// stopRecording moves Recording to Stopping on user request or budget expiry.
func (c *Controller) stopRecording() {
	c.sess.ManualStop = true
	c.stoppedAt = c.clock.Now()
	c.stopDisplay()
	c.cancelRestart()
	c.recognizer.Stop()
	c.mustTransition(fsm.EventStop)

	if c.sess.Mode == recognition.Continuous {
		gen := c.gen
		c.submitTimer = c.clock.AfterFunc(c.timing.SubmitDelay, func() {
			c.inbox.post(submitDue{gen: gen})
		})
	}
	c.publish()
}

func (c *Controller) onResult(text string, final bool) {
	state := c.State()
	if state != fsm.StateRecording && state != fsm.StateStopping {
		return
	}

	if !final {
		c.presenter.Interim(c.ctx, text)
		return
	}

	if c.sess.Mode == recognition.SingleShot {
		if len(c.sess.Transcript) > 0 {
			return
		}
		c.sess.Transcript = []string{text}
		if state == fsm.StateRecording {
			c.stoppedAt = c.clock.Now()
			c.stopDisplay()
			c.mustTransition(fsm.EventStop)
		}
		c.finalize()
		return
	}

	c.sess.Transcript = append(c.sess.Transcript, text)
	c.presenter.Interim(c.ctx, c.sess.TranscriptText())
	c.publish()
}

func (c *Controller) onRecognitionError(err *recognition.Error) {
	state := c.State()
	if state != fsm.StateRecording && state != fsm.StateStopping {
		return
	}

	if c.sess.Mode == recognition.Continuous && !err.Kind.Fatal() {
		c.logger.Info("recognition pass error; restart pending",
			"kind", string(err.Kind),
			"error", err.Error(),
		)
		return
	}

	c.logger.Warn("recognition failed", "mode", c.sess.Mode.String(), "kind", string(err.Kind), "error", err.Error())
	if c.failed {
		return
	}
	c.failed = true
	c.notify(NoticeError, recognitionMessage(err.Kind))

	c.sess.ManualStop = true
	c.cancelRestart()
	c.cancelSubmit()
	if state == fsm.StateRecording {
		c.stoppedAt = c.clock.Now()
		c.stopDisplay()
		c.mustTransition(fsm.EventStop)
		c.publish()
	}
}

func (c *Controller) onRecognitionEnd() {
	state := c.State()
	switch {
	case state == fsm.StateRecording && c.sess.Mode == recognition.Continuous && !c.sess.ManualStop:
		c.scheduleRestart()
	case state == fsm.StateRecording:
		c.stopDisplay()
		c.notify(NoticeWarning, recognitionMessage(recognition.ErrorNoSpeech))
		c.mustTransition(fsm.EventAbort)
		c.publish()
	case state == fsm.StateStopping && c.failed:
		c.mustTransition(fsm.EventAbort)
		c.publish()
	case state == fsm.StateStopping && c.sess.Mode == recognition.SingleShot:
		c.notify(NoticeWarning, "No speech captured; nothing was submitted.")
		c.mustTransition(fsm.EventAbort)
		c.publish()
	}
}

func (c *Controller) scheduleRestart() {
	gen := c.gen
	c.logger.Debug("recognition ended; scheduling restart", "delay", c.timing.RestartDelay.String())
	c.restartTimer = c.clock.AfterFunc(c.timing.RestartDelay, func() {
		c.inbox.post(restartDue{gen: gen})
	})
}

func (c *Controller) onRestartDue() {
	c.restartTimer = nil
	if c.State() != fsm.StateRecording || c.sess.ManualStop {
		return
	}

	c.recognizer.Bind(c.listenerFor(c.gen))
	if err := c.recognizer.Start(c.ctx); err != nil {
		c.restartFailures++
		c.logger.Warn("recognition restart failed",
			"failures", c.restartFailures,
			"error", err.Error(),
		)
		if c.restartFailures < c.timing.MaxRestartFailures {
			c.scheduleRestart()
			return
		}

		c.notify(NoticeWarning, "Speech recognition could not restart; submitting what was captured.")
		c.sess.ManualStop = true
		c.stoppedAt = c.clock.Now()
		c.stopDisplay()
		c.mustTransition(fsm.EventStop)
		c.finalize()
		return
	}

	c.restartFailures = 0
	c.logger.Debug("recognition restarted", "session_id", c.sess.ID.String())
}

func (c *Controller) onSubmitDue() {
	c.submitTimer = nil
	if c.State() != fsm.StateStopping {
		return
	}
	if c.recognizer.Active() {
		c.recognizer.Abort()
	}
	c.finalize()
}

// onBudgetExpired forces a stop unless a user stop already won the race.
func (c *Controller) onBudgetExpired() {
	if c.State() != fsm.StateRecording {
		return
	}
	c.logger.Info("recording budget exhausted", "budget", c.profile.Budget.String())
	c.notify(NoticeInfo, "Time is up.")
	c.stopRecording()
}

// finalize submits the assembled transcript from Stopping, or returns to Idle when
// nothing was captured.
func (c *Controller) finalize() {
	c.cancelSubmit()
	text := c.sess.TranscriptText()
	if text == "" {
		c.logger.Info("attempt not submitted", "session_id", c.sess.ID.String(), "reason", ErrEmptyTranscript.Error())
		c.notify(NoticeWarning, "No speech captured; nothing was submitted.")
		c.mustTransition(fsm.EventAbort)
		c.publish()
		return
	}

	sub := grading.Submission{
		PromptID:   c.sess.Prompt.ID,
		Transcript: text,
		Duration:   c.stoppedAt.Sub(c.sess.RecordingStartedAt),
	}
	c.mustTransition(fsm.EventFinalize)
	c.publish()
	c.submit(sub)
}

func (c *Controller) submit(sub grading.Submission) {
	gen := c.gen
	ctx := c.ctx
	c.logger.Info("submitting attempt",
		"module", c.profile.Name,
		"session_id", c.sess.ID.String(),
		"duration_seconds", sub.DurationSeconds(),
		"transcript_chars", len(sub.Transcript),
	)
	go func() {
		result, err := c.gate.Submit(ctx, sub)
		c.inbox.post(gradeDone{gen: gen, sub: sub, result: result, err: err})
	}()
}

func (c *Controller) onGradeDone(ev gradeDone) {
	if ev.gen != c.gen || c.State() != fsm.StateSubmitting {
		c.logger.Debug("dropping stale grading result", "gen", ev.gen)
		return
	}

	switch {
	case errors.Is(ev.err, backend.ErrSessionInvalid):
		c.logger.Warn("backend session invalid during submission")
		c.invalidate()
	case ev.err != nil:
		c.logger.Error("submission failed", "error", ev.err.Error())
		sub := ev.sub
		c.sess.Pending = &sub
		c.notify(NoticeError, fmt.Sprintf("Submission failed: %v. Run `recital retry` to resend.", ev.err))
		c.mustTransition(fsm.EventSettle)
		c.publish()
	default:
		c.sess.Pending = nil
		outcome := Outcome{
			Module:     c.profile.Name,
			Prompt:     c.sess.Prompt,
			Transcript: ev.sub.Transcript,
			Duration:   ev.sub.Duration,
			Attempt:    c.sess.Limiter.Count(),
			Remaining:  c.sess.Limiter.Remaining(),
			Result:     ev.result,
		}
		c.presenter.ShowResult(c.ctx, outcome)
		if err := c.commit.Commit(c.ctx, Attempt{
			SessionID:  c.sess.ID.String(),
			Module:     c.profile.Name,
			Prompt:     c.sess.Prompt,
			Transcript: ev.sub.Transcript,
			Duration:   ev.sub.Duration,
			Number:     outcome.Attempt,
			Result:     ev.result,
		}); err != nil {
			c.logger.Warn("record attempt history failed", "error", err.Error())
		}
		c.mustTransition(fsm.EventSettle)
		c.publish()
	}
}

func (c *Controller) retry() ipc.Response {
	state := c.State()
	if state != fsm.StateIdle {
		return fail(state, fmt.Sprintf("cannot retry from state %s", state))
	}
	if c.sess == nil || c.sess.Pending == nil {
		return fail(state, "no failed submission to retry")
	}

	sub := *c.sess.Pending
	c.mustTransition(fsm.EventResubmit)
	c.publish()
	c.submit(sub)
	return ipc.Response{OK: true, State: string(state), Message: "resubmitting"}
}

func (c *Controller) next() ipc.Response {
	state := c.State()
	if state == fsm.StateLocked {
		return fail(state, backend.ErrSessionInvalid.Error())
	}
	if fsm.Active(state) {
		return fail(state, fmt.Sprintf("cannot next from state %s", state))
	}
	if c.loading {
		return fail(state, "prompt is already loading")
	}
	if c.questions >= c.profile.MaxQuestions {
		c.presenter.ModuleComplete(c.ctx, c.profile.Next)
		msg := ErrModuleComplete.Error()
		if c.profile.Next != "" {
			msg += fmt.Sprintf("; continue with `recital run --module %s`", c.profile.Next)
		}
		return fail(state, msg)
	}

	c.loadPrompt()
	return ipc.Response{OK: true, State: string(state), Message: "loading next prompt"}
}

// loadPrompt discards the current session and fetches the next prompt.
func (c *Controller) loadPrompt() {
	c.teardownAttempt()
	c.sess = nil
	c.playing = false
	c.loading = true
	c.loadSeq++
	seq := c.loadSeq
	ctx := c.ctx
	c.publish()

	go func() {
		p, err := c.prompts.Fetch(ctx, c.profile)
		c.inbox.post(promptLoaded{seq: seq, prompt: p, err: err})
	}()
}

func (c *Controller) onPromptLoaded(ev promptLoaded) {
	if ev.seq != c.loadSeq {
		return
	}
	c.loading = false

	switch {
	case errors.Is(ev.err, backend.ErrSessionInvalid):
		c.logger.Warn("backend session invalid while loading prompt")
		c.invalidate()
		return
	case ev.err != nil:
		c.logger.Error("load prompt failed", "module", c.profile.Name, "error", ev.err.Error())
		c.notify(NoticeError, fmt.Sprintf("Unable to load prompt: %v", ev.err))
		c.publish()
		return
	}

	c.sess = newSession(ev.prompt, c.profile.Mode, c.attempts)
	c.questions++
	c.logger.Info("prompt loaded",
		"module", c.profile.Name,
		"session_id", c.sess.ID.String(),
		"prompt_id", ev.prompt.IDString(),
		"question", c.questions,
	)
	c.presenter.ShowPrompt(c.ctx, ev.prompt, c.questions, c.profile.MaxQuestions)
	c.publish()
}

func (c *Controller) play() ipc.Response {
	state := c.State()
	switch {
	case state == fsm.StateLocked:
		return fail(state, backend.ErrSessionInvalid.Error())
	case c.sess == nil:
		return fail(state, "no prompt loaded")
	case state != fsm.StateIdle:
		return fail(state, fmt.Sprintf("cannot play from state %s", state))
	case c.playing:
		return ipc.Response{OK: true, State: string(state), Message: "already playing"}
	case c.player == nil:
		return fail(state, "prompt playback unavailable")
	}

	c.playing = true
	seq := c.loadSeq
	ctx := c.ctx
	p := c.sess.Prompt
	c.publish()
	go func() {
		c.inbox.post(playbackDone{seq: seq, err: c.player.Play(ctx, p)})
	}()
	return ipc.Response{OK: true, State: string(state), Message: "playing prompt"}
}

func (c *Controller) onPlaybackDone(ev playbackDone) {
	if ev.seq != c.loadSeq || c.sess == nil {
		return
	}
	c.playing = false
	if ev.err != nil {
		c.logger.Warn("prompt playback failed", "error", ev.err.Error())
		c.notify(NoticeError, fmt.Sprintf("Unable to play prompt: %v", ev.err))
	} else {
		c.sess.HasPlayed = true
	}
	c.publish()
}

// invalidate tears the attempt down and locks the controller until re-authentication.
func (c *Controller) invalidate() {
	c.teardownAttempt()
	c.mustTransition(fsm.EventInvalidate)
	c.publish()
	c.presenter.Reauthenticate(c.ctx)
}

// teardownAttempt cancels every timer and recognizer pass owned by the current
// attempt. Events already queued for it are dropped by the generation bump.
func (c *Controller) teardownAttempt() {
	c.countdown.Cancel()
	c.countdown = nil
	c.stopDisplay()
	c.cancelRestart()
	c.cancelSubmit()
	if c.recognizer != nil {
		c.recognizer.Abort()
	}
	c.gen++
}

func (c *Controller) resetIfActive() {
	if fsm.Active(c.State()) {
		c.mustTransition(fsm.EventReset)
		c.publish()
	}
}

func (c *Controller) cancelRestart() {
	if c.restartTimer != nil {
		c.restartTimer.Stop()
		c.restartTimer = nil
	}
}

func (c *Controller) cancelSubmit() {
	if c.submitTimer != nil {
		c.submitTimer.Stop()
		c.submitTimer = nil
	}
}

func (c *Controller) notify(level NoticeLevel, message string) {
	c.presenter.Notify(c.ctx, Notice{Level: level, Message: message})
}

// publish refreshes the snapshot and hands it to the presenter.
func (c *Controller) publish() {
	snap := c.buildSnapshot()
	c.mu.Lock()
	c.snapshot = snap
	c.mu.Unlock()
	c.presenter.StateChanged(c.ctx, snap)
}

func (c *Controller) buildSnapshot() Snapshot {
	state := c.State()
	snap := Snapshot{
		State:        state,
		Module:       c.profile.Name,
		Question:     c.questions,
		MaxQuestions: c.profile.MaxQuestions,
		MaxAttempts:  c.profile.MaxAttempts,
		Playing:      c.playing,
		Loading:      c.loading,
	}
	if c.sess == nil {
		return snap
	}

	snap.SessionID = c.sess.ID.String()
	snap.PromptID = c.sess.Prompt.IDString()
	snap.PromptText = c.sess.Prompt.Text
	snap.Attempts = c.sess.Limiter.Count()
	snap.MaxAttempts = c.sess.Limiter.Max()
	snap.HasPlayed = c.sess.HasPlayed
	snap.ManualStop = c.sess.ManualStop
	snap.PendingRetry = c.sess.Pending != nil
	snap.Transcript = c.sess.TranscriptText()
	snap.CanRecord = state == fsm.StateIdle &&
		c.unavailable == nil &&
		!c.playing &&
		c.sess.Limiter.CanAttempt() &&
		(!c.profile.RequiresPlayback || c.sess.HasPlayed)
	return snap
}

// status answers from the published snapshot without entering the loop.
func (c *Controller) status() ipc.Response {
	snap := c.Snapshot()
	msg := fmt.Sprintf("module %s", snap.Module)
	switch {
	case snap.Loading:
		msg += " | loading prompt"
	case snap.PromptID != "":
		msg += fmt.Sprintf(" | question %d/%d | attempts %d/%d", snap.Question, snap.MaxQuestions, snap.Attempts, snap.MaxAttempts)
		if snap.PendingRetry {
			msg += " | submission pending retry"
		}
	}
	return ipc.Response{OK: true, State: string(snap.State), Message: msg, Status: &ipc.Status{
		Module:       snap.Module,
		Question:     snap.Question,
		MaxQuestions: snap.MaxQuestions,
		Attempts:     snap.Attempts,
		MaxAttempts:  snap.MaxAttempts,
		Prompt:       snap.PromptText,
		CanRecord:    snap.CanRecord,
		HasPlayed:    snap.HasPlayed,
		PendingRetry: snap.PendingRetry,
	}}
}

func fail(state fsm.State, msg string) ipc.Response {
	return ipc.Response{OK: false, State: string(state), Error: msg}
}
