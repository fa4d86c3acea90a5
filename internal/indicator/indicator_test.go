package indicator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rbright/recital/internal/config"
	"github.com/rbright/recital/internal/fsm"
	"github.com/rbright/recital/internal/grading"
	"github.com/rbright/recital/internal/prompt"
	"github.com/rbright/recital/internal/session"
)

type call struct {
	text    string
	timeout int
	dismiss bool
}

type fakeSurface struct {
	mu    sync.Mutex
	calls []call
}

func (f *fakeSurface) Notify(_ context.Context, text string, timeoutMS int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{text: text, timeout: timeoutMS})
	return nil
}

func (f *fakeSurface) Dismiss(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{dismiss: true})
	return nil
}

func (f *fakeSurface) snapshot() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

type cueRecorder struct {
	mu    sync.Mutex
	kinds []cueKind
}

func (r *cueRecorder) emit(_ context.Context, kind cueKind) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds = append(r.kinds, kind)
	return nil
}

func (r *cueRecorder) snapshot() []cueKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]cueKind(nil), r.kinds...)
}

func newTestIndicator(t *testing.T, mutate func(*config.IndicatorConfig)) (*Indicator, *fakeSurface, *cueRecorder) {
	t.Helper()
	cfg := config.Default().Indicator
	cfg.Enable = true
	cfg.SoundEnable = false
	cfg.ErrorTimeoutMS = 1600
	if mutate != nil {
		mutate(&cfg)
	}
	ind := New(cfg, nil)
	surface := &fakeSurface{}
	cues := &cueRecorder{}
	ind.surface = surface
	ind.cue = cues.emit
	return ind, surface, cues
}

func TestIndicatorAttemptLifecycle(t *testing.T) {
	ind, surface, _ := newTestIndicator(t, nil)
	ctx := context.Background()

	ind.ShowPrompt(ctx, prompt.Prompt{Text: "The cat  sat\non the mat."}, 1, 5)
	ind.StateChanged(ctx, session.Snapshot{State: fsm.StateCountingDown})
	ind.CountdownTick(ctx, 4)
	ind.StateChanged(ctx, session.Snapshot{State: fsm.StateRecording})
	ind.StateChanged(ctx, session.Snapshot{State: fsm.StateRecording})
	ind.StateChanged(ctx, session.Snapshot{State: fsm.StateStopping})
	ind.StateChanged(ctx, session.Snapshot{State: fsm.StateSubmitting})
	ind.ShowResult(ctx, session.Outcome{Result: grading.Result{Score: 91.6, Feedback: "Clear vowels."}})
	ind.StateChanged(ctx, session.Snapshot{State: fsm.StateIdle})

	require.Equal(t, []call{
		{text: "Question 1/5: The cat sat on the mat.", timeout: promptTimeoutMS},
		{text: "Starting in 4…", timeout: tickTimeoutMS},
		{text: "Recording…", timeout: stickyTimeoutMS},
		{text: "Finishing…", timeout: stickyTimeoutMS},
		{text: "Grading…", timeout: stickyTimeoutMS},
		{text: "Score 92: Clear vowels.", timeout: promptTimeoutMS},
	}, surface.snapshot())
}

func TestIndicatorDismissesAbortedAttempt(t *testing.T) {
	ind, surface, _ := newTestIndicator(t, nil)
	ctx := context.Background()

	ind.StateChanged(ctx, session.Snapshot{State: fsm.StateRecording})
	ind.StateChanged(ctx, session.Snapshot{State: fsm.StateIdle})

	calls := surface.snapshot()
	require.Len(t, calls, 2)
	require.True(t, calls[1].dismiss)
}

func TestIndicatorNoticesAndHandOffs(t *testing.T) {
	ind, surface, _ := newTestIndicator(t, nil)
	ctx := context.Background()

	ind.Notify(ctx, session.Notice{Level: session.NoticeInfo, Message: "Time is up."})
	ind.Notify(ctx, session.Notice{Level: session.NoticeError, Message: ""})
	ind.Reauthenticate(ctx)
	ind.ModuleComplete(ctx, "listen")
	ind.ModuleComplete(ctx, "")

	require.Equal(t, []call{
		{text: "Time is up.", timeout: infoTimeoutMS},
		{text: "Speech recognition error", timeout: 1600},
		{text: "Session expired. Sign in again, then run `recital run`.", timeout: stickyTimeoutMS},
		{text: "Module complete. Next: listen", timeout: promptTimeoutMS},
		{text: "Module complete", timeout: promptTimeoutMS},
	}, surface.snapshot())
}

func TestIndicatorErrorTimeoutFallback(t *testing.T) {
	ind, surface, _ := newTestIndicator(t, func(cfg *config.IndicatorConfig) {
		cfg.ErrorTimeoutMS = 0
	})

	ind.Notify(context.Background(), session.Notice{Level: session.NoticeWarning, Message: "careful"})
	require.Equal(t, []call{{text: "careful", timeout: 1200}}, surface.snapshot())
}

func TestIndicatorDisabledSkipsNotifications(t *testing.T) {
	ind, surface, _ := newTestIndicator(t, func(cfg *config.IndicatorConfig) {
		cfg.Enable = false
	})
	ctx := context.Background()

	ind.StateChanged(ctx, session.Snapshot{State: fsm.StateRecording})
	ind.Notify(ctx, session.Notice{Level: session.NoticeError, Message: "ignored"})
	ind.StateChanged(ctx, session.Snapshot{State: fsm.StateIdle})

	require.Empty(t, surface.snapshot())
}

func TestIndicatorPlaysCuesWhenSoundEnabled(t *testing.T) {
	ind, _, cues := newTestIndicator(t, func(cfg *config.IndicatorConfig) {
		cfg.SoundEnable = true
	})
	ctx := context.Background()

	ind.StateChanged(ctx, session.Snapshot{State: fsm.StateRecording})
	require.Eventually(t, func() bool { return len(cues.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	ind.StateChanged(ctx, session.Snapshot{State: fsm.StateStopping})
	require.Eventually(t, func() bool { return len(cues.snapshot()) == 2 }, time.Second, 5*time.Millisecond)
	ind.ShowResult(ctx, session.Outcome{})
	require.Eventually(t, func() bool { return len(cues.snapshot()) == 3 }, time.Second, 5*time.Millisecond)

	require.Equal(t, []cueKind{cueStart, cueStop, cueComplete}, cues.snapshot())
}

func TestNewSelectsBackend(t *testing.T) {
	cfg := config.Default().Indicator
	cfg.Backend = config.IndicatorBeeep
	_, ok := New(cfg, nil).surface.(beeepNotifier)
	require.True(t, ok)

	cfg.Backend = config.IndicatorDesktop
	cfg.DesktopAppName = ""
	desktop, ok := New(cfg, nil).surface.(*desktopNotifier)
	require.True(t, ok)
	require.Equal(t, "recital", desktop.appName)
}

func TestDesktopNotifierReplacesAndDismisses(t *testing.T) {
	argsFile := filepath.Join(t.TempDir(), "busctl-args.log")
	t.Setenv("BUSCTL_ARGS_FILE", argsFile)
	installBusctlStub(t, `
printf '%s\n' "$*" >> "${BUSCTL_ARGS_FILE}"
if [[ "${6:-}" == "Notify" ]]; then
  echo 'u 7'
fi
`)

	d := &desktopNotifier{appName: "recital"}
	ctx := context.Background()
	require.NoError(t, d.Notify(ctx, "Recording…", 300000))
	require.NoError(t, d.Notify(ctx, "Grading…", 300000))
	require.NoError(t, d.Dismiss(ctx))
	require.NoError(t, d.Dismiss(ctx))

	data, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)

	first := strings.Fields(lines[0])
	require.Equal(t, []string{"Notify", "susssasa{sv}i", "recital", "0", "Recording…", "0", "0", "300000"}, first[5:])
	second := strings.Fields(lines[1])
	require.Equal(t, "7", second[8])
	require.True(t, strings.HasSuffix(lines[2], "CloseNotification u 7"))
}

func TestDesktopNotifierReportsFailure(t *testing.T) {
	installBusctlStub(t, `
echo 'no bus' >&2
exit 1
`)

	err := (&desktopNotifier{appName: "recital"}).Notify(context.Background(), "x", 100)
	require.Error(t, err)
	require.Contains(t, err.Error(), "no bus")
}

func TestParseNotificationID(t *testing.T) {
	id, err := parseNotificationID("u 42")
	require.NoError(t, err)
	require.Equal(t, uint32(42), id)

	_, err = parseNotificationID("s nope")
	require.Error(t, err)
	_, err = parseNotificationID("u x")
	require.Error(t, err)
}

func TestCuePCMPresent(t *testing.T) {
	for _, kind := range []cueKind{cueStart, cueStop, cueComplete, cueError} {
		require.NotEmpty(t, cuePCM[kind])
	}
}

func TestRenderTone(t *testing.T) {
	got := renderTone(tone{hz: 440, length: 100 * time.Millisecond})
	require.Len(t, got, sampleCount(100*time.Millisecond))
	require.Equal(t, int16(0), got[0])

	require.Empty(t, renderTone(tone{hz: 0, length: 100 * time.Millisecond}))
	require.Empty(t, renderTone(tone{hz: 440}))
	require.Equal(t, 0, sampleCount(0))
}

func TestEmitCueRespectsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := emitCue(ctx, cueStart)
	require.True(t, errors.Is(err, context.Canceled))
}

func installBusctlStub(t *testing.T, body string) {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "busctl")
	script := "#!/usr/bin/env bash\nset -euo pipefail\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	t.Setenv("PATH", dir+":"+os.Getenv("PATH"))
}
