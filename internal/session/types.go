package session

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/rbright/recital/internal/attempt"
	"github.com/rbright/recital/internal/fsm"
	"github.com/rbright/recital/internal/grading"
	"github.com/rbright/recital/internal/prompt"
	"github.com/rbright/recital/internal/recognition"
	"github.com/rbright/recital/internal/transcript"
)

// Session is one prompt's capture lifecycle. It is replaced when the next prompt loads.
type Session struct {
	ID      uuid.UUID
	Prompt  prompt.Prompt
	Mode    recognition.Mode
	Limiter *attempt.Limiter

	// Transcript holds finalized fragments in arrival order.
	Transcript         []string
	RecordingStartedAt time.Time
	// ManualStop separates a requested stop from a spontaneous recognizer end.
	ManualStop bool
	HasPlayed  bool
	// Pending is a transcript whose submission failed and may be retried.
	Pending *grading.Submission
}

// newSession binds the controller's limiter to a freshly loaded prompt and zeroes it.
func newSession(p prompt.Prompt, mode recognition.Mode, limiter *attempt.Limiter) *Session {
	limiter.Reset()
	return &Session{
		ID:      uuid.New(),
		Prompt:  p,
		Mode:    mode,
		Limiter: limiter,
	}
}

// beginAttempt records a successfully started recognition pass.
func (s *Session) beginAttempt(now time.Time) {
	s.Limiter.Record()
	s.Transcript = nil
	s.ManualStop = false
	s.RecordingStartedAt = now
	s.Pending = nil
}

// TranscriptText joins finalized fragments with single spaces.
func (s *Session) TranscriptText() string {
	return transcript.Join(s.Transcript)
}

// Snapshot is the presentation view of the controller.
type Snapshot struct {
	State        fsm.State
	Module       string
	SessionID    string
	PromptID     string
	PromptText   string
	Question     int
	MaxQuestions int
	Attempts     int
	MaxAttempts  int
	CanRecord    bool
	HasPlayed    bool
	Playing      bool
	Loading      bool
	ManualStop   bool
	PendingRetry bool
	Transcript   string
}

type NoticeLevel string

const (
	NoticeInfo    NoticeLevel = "info"
	NoticeWarning NoticeLevel = "warning"
	NoticeError   NoticeLevel = "error"
)

// Notice is one user-visible message.
type Notice struct {
	Level   NoticeLevel
	Message string
}

// Outcome is a graded attempt ready for rendering.
type Outcome struct {
	Module     string
	Prompt     prompt.Prompt
	Transcript string
	Duration   time.Duration
	Attempt    int
	Remaining  int
	Result     grading.Result
}

// Presenter consumes controller output. CountdownTick and TimerTick arrive from timer
// goroutines; every other call comes from the controller loop.
type Presenter interface {
	StateChanged(context.Context, Snapshot)
	ShowPrompt(ctx context.Context, p prompt.Prompt, question int, total int)
	CountdownTick(ctx context.Context, remaining int)
	TimerTick(ctx context.Context, text string)
	Interim(ctx context.Context, text string)
	Notify(context.Context, Notice)
	ShowResult(context.Context, Outcome)
	Reauthenticate(context.Context)
	ModuleComplete(ctx context.Context, next string)
}

// noopPresenter preserves session flow when no presenter is wired.
type noopPresenter struct{}

func (noopPresenter) StateChanged(context.Context, Snapshot) {}
func (noopPresenter) ShowPrompt(context.Context, prompt.Prompt, int, int) {}
func (noopPresenter) CountdownTick(context.Context, int) {}
func (noopPresenter) TimerTick(context.Context, string) {}
func (noopPresenter) Interim(context.Context, string) {}
func (noopPresenter) Notify(context.Context, Notice) {}
func (noopPresenter) ShowResult(context.Context, Outcome) {}
func (noopPresenter) Reauthenticate(context.Context) {}
func (noopPresenter) ModuleComplete(context.Context, string) {}

// Presenters fans every call out to each non-nil presenter in order.
func Presenters(list ...Presenter) Presenter {
	out := make(multiPresenter, 0, len(list))
	for _, p := range list {
		if p != nil {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return noopPresenter{}
	}
	return out
}

type multiPresenter []Presenter

func (m multiPresenter) StateChanged(ctx context.Context, s Snapshot) {
	for _, p := range m {
		p.StateChanged(ctx, s)
	}
}

func (m multiPresenter) ShowPrompt(ctx context.Context, pr prompt.Prompt, question int, total int) {
	for _, p := range m {
		p.ShowPrompt(ctx, pr, question, total)
	}
}

func (m multiPresenter) CountdownTick(ctx context.Context, remaining int) {
	for _, p := range m {
		p.CountdownTick(ctx, remaining)
	}
}

func (m multiPresenter) TimerTick(ctx context.Context, text string) {
	for _, p := range m {
		p.TimerTick(ctx, text)
	}
}

func (m multiPresenter) Interim(ctx context.Context, text string) {
	for _, p := range m {
		p.Interim(ctx, text)
	}
}

func (m multiPresenter) Notify(ctx context.Context, n Notice) {
	for _, p := range m {
		p.Notify(ctx, n)
	}
}

func (m multiPresenter) ShowResult(ctx context.Context, o Outcome) {
	for _, p := range m {
		p.ShowResult(ctx, o)
	}
}

func (m multiPresenter) Reauthenticate(ctx context.Context) {
	for _, p := range m {
		p.Reauthenticate(ctx)
	}
}

func (m multiPresenter) ModuleComplete(ctx context.Context, next string) {
	for _, p := range m {
		p.ModuleComplete(ctx, next)
	}
}

// Recognizer is the controller-facing subset of recognition.Adapter.
type Recognizer interface {
	Available() error
	Configure(recognition.Mode)
	Bind(recognition.Listener)
	Start(context.Context) error
	Stop()
	Abort()
	Active() bool
}

// Player plays prompt audio and returns once it has been heard.
type Player interface {
	Play(context.Context, prompt.Prompt) error
}

// Timing holds the controller's fixed delays.
type Timing struct {
	// RestartDelay separates a spontaneous continuous-mode end from the next pass.
	RestartDelay time.Duration
	// SubmitDelay lets a last final result arrive after a continuous-mode stop.
	SubmitDelay time.Duration
	// MaxRestartFailures ends the attempt after this many consecutive failed restarts.
	MaxRestartFailures int
}

func DefaultTiming() Timing {
	return Timing{
		RestartDelay:       200 * time.Millisecond,
		SubmitDelay:        500 * time.Millisecond,
		MaxRestartFailures: 5,
	}
}
