// Package app dispatches recital commands and owns the running module session.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rbright/recital/internal/asr"
	"github.com/rbright/recital/internal/audio"
	"github.com/rbright/recital/internal/backend"
	"github.com/rbright/recital/internal/cli"
	"github.com/rbright/recital/internal/config"
	"github.com/rbright/recital/internal/doctor"
	"github.com/rbright/recital/internal/exercise"
	"github.com/rbright/recital/internal/fsm"
	"github.com/rbright/recital/internal/grading"
	"github.com/rbright/recital/internal/history"
	"github.com/rbright/recital/internal/indicator"
	"github.com/rbright/recital/internal/ipc"
	"github.com/rbright/recital/internal/logging"
	"github.com/rbright/recital/internal/playback"
	"github.com/rbright/recital/internal/prompt"
	"github.com/rbright/recital/internal/recognition"
	"github.com/rbright/recital/internal/session"
	"github.com/rbright/recital/internal/transcript"
	"github.com/rbright/recital/internal/version"
)

const (
	exitOK             = 0
	exitError          = 1
	exitUsage          = 2
	exitSessionInvalid = 3

	forwardTimeout = 2 * time.Second
)

type Runner struct {
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger
}

func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	r := Runner{Stdout: stdout, Stderr: stderr}
	return r.Execute(ctx, args)
}

func (r Runner) Execute(ctx context.Context, args []string) int {
	parsed, err := cli.Parse(args)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n\n", err)
		fmt.Fprint(r.Stderr, cli.HelpText("recital"))
		return exitUsage
	}

	if parsed.ShowHelp {
		fmt.Fprint(r.Stdout, cli.HelpText("recital"))
		return exitOK
	}

	if parsed.Command == cli.CommandVersion {
		fmt.Fprintln(r.Stdout, version.String())
		return exitOK
	}

	cfgLoaded, err := config.Load(parsed.ConfigPath)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return exitError
	}

	logRuntime, err := logging.New(logging.Options{
		Level:      cfgLoaded.Config.Log.Level,
		MaxSizeMB:  cfgLoaded.Config.Log.MaxSizeMB,
		MaxBackups: cfgLoaded.Config.Log.MaxBackups,
	})
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: setup logging: %v\n", err)
		return exitError
	}
	defer func() { _ = logRuntime.Close() }()

	logger := r.Logger
	if logger == nil {
		logger = logRuntime.Logger
	}

	for _, w := range cfgLoaded.Warnings {
		msg := w.Message
		if w.Line > 0 {
			msg = fmt.Sprintf("line %d: %s", w.Line, w.Message)
		}
		fmt.Fprintf(r.Stderr, "warning: %s\n", msg)
		logger.Warn("config warning", "line", w.Line, "message", w.Message)
	}

	logger.Info("command start",
		"command", parsed.Command,
		"module", parsed.Module,
		"config", cfgLoaded.Path,
		"log", logRuntime.Path,
	)

	switch {
	case parsed.Command == cli.CommandDoctor:
		report := doctor.Run(ctx, cfgLoaded)
		fmt.Fprintln(r.Stdout, report.String())
		if report.SessionInvalid() {
			return exitSessionInvalid
		}
		if report.OK() {
			return exitOK
		}
		return exitError
	case parsed.Command == cli.CommandDevices:
		return r.commandDevices(ctx)
	case parsed.Command == cli.CommandHistory:
		return r.commandHistory(ctx, cfgLoaded.Config, parsed.Module, parsed.Limit)
	case parsed.Command == cli.CommandRun:
		return r.commandRun(ctx, cfgLoaded.Config, parsed.Module, logger)
	case parsed.Command.Forwarded():
		return r.forward(ctx, parsed.Command, parsed.Module)
	default:
		fmt.Fprintf(r.Stderr, "error: unsupported command %q\n", parsed.Command)
		return exitUsage
	}
}

func (r Runner) commandDevices(ctx context.Context) int {
	devices, err := audio.ListDevices(ctx)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return exitError
	}
	if len(devices) == 0 {
		fmt.Fprintln(r.Stdout, "no audio devices found")
		return exitError
	}

	for _, device := range devices {
		defaultMark := " "
		if device.Default {
			defaultMark = "*"
		}
		fmt.Fprintf(
			r.Stdout,
			"%s id=%s | description=%q | state=%s | available=%s | muted=%s\n",
			defaultMark,
			device.ID,
			device.Description,
			device.State,
			yesNo(device.Available),
			yesNo(device.Muted),
		)
	}

	return exitOK
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func (r Runner) commandHistory(ctx context.Context, cfg config.Config, module string, limit int) int {
	if module != "" {
		if _, err := exercise.Lookup(module); err != nil {
			fmt.Fprintf(r.Stderr, "error: %v\n", err)
			return exitUsage
		}
	}

	store, err := openHistory(ctx, cfg.History)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return exitError
	}
	defer store.Close()

	entries, err := store.Recent(ctx, module, limit)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return exitError
	}
	summary, err := store.Summary(ctx)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return exitError
	}

	if len(entries) == 0 {
		fmt.Fprintln(r.Stdout, "no graded attempts yet")
		return exitOK
	}
	for _, e := range entries {
		fmt.Fprintf(r.Stdout, "%s  %-6s  score=%3.0f  attempt=%d  %s\n",
			e.CreatedAt.Local().Format("2006-01-02 15:04"),
			e.Module,
			e.Score,
			e.Attempt,
			transcript.Preview(e.PromptText, 60, "…"),
		)
	}
	fmt.Fprintln(r.Stdout)
	for _, m := range summary {
		if module != "" && m.Module != module {
			continue
		}
		fmt.Fprintf(r.Stdout, "%s: %d submissions, average %.1f, best %.0f\n",
			m.Module, m.Submissions, m.AverageScore, m.BestScore)
	}
	return exitOK
}

func openHistory(ctx context.Context, cfg config.HistoryConfig) (*history.Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		var err error
		path, err = history.DefaultPath()
		if err != nil {
			return nil, err
		}
	}
	return history.Open(ctx, path)
}

func (r Runner) forward(ctx context.Context, command cli.Command, module string) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		if command == cli.CommandStatus || command == cli.CommandQuit {
			fmt.Fprintln(r.Stdout, "not running")
			return exitOK
		}
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return exitError
	}

	resp, err := ipc.Forward(ctx, socketPath, ipc.Request{Command: string(command), Module: module}, forwardTimeout)
	if err != nil {
		if errors.Is(err, ipc.ErrNotRunning) && (command == cli.CommandStatus || command == cli.CommandQuit) {
			fmt.Fprintln(r.Stdout, "not running")
			return exitOK
		}
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		var cmdErr *ipc.CommandError
		if errors.As(err, &cmdErr) && cmdErr.State == string(fsm.StateLocked) {
			return exitSessionInvalid
		}
		return exitError
	}

	if command == cli.CommandStatus {
		writeStatus(r.Stdout, resp)
		if resp.State == string(fsm.StateLocked) {
			return exitSessionInvalid
		}
		return exitOK
	}
	if resp.Message != "" {
		fmt.Fprintln(r.Stdout, resp.Message)
	}
	return exitOK
}

func writeStatus(w io.Writer, resp ipc.Response) {
	state := resp.State
	if state == "" {
		state = string(fsm.StateIdle)
	}
	st := resp.Status
	if st == nil {
		fmt.Fprintln(w, state)
		return
	}
	fmt.Fprintf(w, "%s  module=%s  question=%d/%d  attempts=%d/%d\n",
		state, st.Module, st.Question, st.MaxQuestions, st.Attempts, st.MaxAttempts)
	if st.Prompt != "" {
		fmt.Fprintf(w, "prompt: %s\n", st.Prompt)
	}
	if st.PendingRetry {
		fmt.Fprintln(w, "a failed submission is waiting; run `recital retry`")
	}
	if resp.Message != "" {
		fmt.Fprintln(w, resp.Message)
	}
}

func (r Runner) commandRun(ctx context.Context, cfg config.Config, module string, logger *slog.Logger) int {
	if module == "" {
		module = exercise.Read
	}
	profile, err := cfg.Profile(module)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return exitUsage
	}

	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return exitError
	}
	listener, err := ipc.Acquire(ctx, socketPath, ipc.AcquireOptions{
		ProbeTimeout: 180 * time.Millisecond,
		Retries:      8,
		Logger:       logger,
	})
	if err != nil {
		if errors.Is(err, ipc.ErrAlreadyRunning) {
			fmt.Fprintln(r.Stderr, "error: a recital session is already running; use `recital quit` to end it")
			return exitError
		}
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return exitError
	}
	defer func() {
		_ = listener.Close()
		_ = os.Remove(socketPath)
	}()

	client := backend.New(cfg.Backend.BaseURL, backend.Account{
		Email:     cfg.Account.Email,
		SessionID: cfg.Account.SessionID,
	}, cfg.BackendTimeout())
	client.UserAgent = version.UserAgent()

	mic := audio.NewMicrophone(cfg.Audio.Input, cfg.Audio.Fallback, cfg.Recognizer.SampleRate, logger)
	var adapter *recognition.Adapter
	engine, err := asr.NewEngine(cfg.Recognizer, mic, logger)
	if err != nil {
		logger.Error("recognizer setup failed", "error", err.Error())
		fmt.Fprintf(r.Stderr, "warning: %v; recording is disabled\n", err)
	} else {
		adapter = recognition.NewAdapter(engine, logger)
		adapter.SetInterim(cfg.Recognizer.Interim)
	}

	committer, closeHistory := r.historyCommitter(ctx, cfg.History, logger)
	defer closeHistory()

	console := newConsole(r.Stdout)
	opts := session.Options{
		Logger:    logger,
		Profile:   profile,
		Timing:    sessionTiming(cfg.Timing),
		Prompts:   prompt.NewClient(client),
		Grader:    grading.NewClient(client, profile),
		Player:    playback.NewPlayer(playback.Config{BaseURL: cfg.Backend.BaseURL, SynthArgv: cfg.Playback.SynthCmd.Argv}, logger),
		Committer: committer,
		Presenter: session.Presenters(console, indicator.New(cfg.Indicator, logger)),
	}
	if adapter != nil {
		opts.Recognizer = adapter
	}
	controller := session.NewController(opts)

	fmt.Fprintf(r.Stdout, "%s: run `recital toggle` to record, `recital quit` to finish\n", profile.Title)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	group, groupCtx := errgroup.WithContext(runCtx)
	group.Go(func() error {
		defer cancel()
		return controller.Run(groupCtx)
	})
	group.Go(func() error {
		return ipc.Serve(groupCtx, listener, controller)
	})

	err = group.Wait()
	final := controller.Snapshot()
	logger.Info("session finished",
		"module", profile.Name,
		"session_id", final.SessionID,
		"state", final.State,
		"questions", final.Question,
	)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("session failed", "error", err.Error())
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return exitError
	}
	if final.State == fsm.StateLocked {
		return exitSessionInvalid
	}
	return exitOK
}

// historyCommitter records graded attempts locally. A disabled or unopenable store
// degrades to the controller's no-op committer.
func (r Runner) historyCommitter(ctx context.Context, cfg config.HistoryConfig, logger *slog.Logger) (session.Committer, func()) {
	if !cfg.Enable {
		return nil, func() {}
	}
	store, err := openHistory(ctx, cfg)
	if err != nil {
		logger.Warn("history disabled", "error", err.Error())
		fmt.Fprintf(r.Stderr, "warning: history disabled: %v\n", err)
		return nil, func() {}
	}
	commit := session.CommitFunc(func(ctx context.Context, a session.Attempt) error {
		return store.Record(ctx, history.Entry{
			SessionID:  a.SessionID,
			Module:     a.Module,
			PromptID:   a.Prompt.IDString(),
			PromptText: a.Prompt.Text,
			Transcript: a.Transcript,
			Duration:   a.Duration,
			Score:      a.Result.Score,
			Feedback:   a.Result.Feedback,
			Attempt:    a.Number,
		})
	})
	return commit, func() { _ = store.Close() }
}

func sessionTiming(cfg config.TimingConfig) session.Timing {
	return session.Timing{
		RestartDelay:       time.Duration(cfg.RestartDelayMS) * time.Millisecond,
		SubmitDelay:        time.Duration(cfg.SubmitDelayMS) * time.Millisecond,
		MaxRestartFailures: cfg.MaxRestartFailures,
	}
}
