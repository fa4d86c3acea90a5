// Package doctor runs readiness diagnostics for config, account, backend, recognizer,
// audio, and prompt playback.
package doctor

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rbright/recital/internal/asr"
	"github.com/rbright/recital/internal/audio"
	"github.com/rbright/recital/internal/backend"
	"github.com/rbright/recital/internal/config"
	"github.com/rbright/recital/internal/exercise"
	"github.com/rbright/recital/internal/history"
	"github.com/rbright/recital/internal/version"
)

const probeTimeout = 3 * time.Second

// Check is one doctor assertion result.
type Check struct {
	Name    string
	Pass    bool
	Message string
	// Err is the underlying probe failure, when there was one.
	Err error
}

// Report is the full doctor output contract.
type Report struct {
	Checks []Check
}

// OK returns true when all checks pass.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// SessionInvalid reports whether the backend rejected the account session.
func (r Report) SessionInvalid() bool {
	for _, check := range r.Checks {
		if errors.Is(check.Err, backend.ErrSessionInvalid) {
			return true
		}
	}
	return false
}

// String renders the report as user-facing text output.
func (r Report) String() string {
	var b strings.Builder
	for _, check := range r.Checks {
		status := "OK"
		if !check.Pass {
			status = "FAIL"
		}
		fmt.Fprintf(&b, "[%s] %s: %s\n", status, check.Name, check.Message)
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Probes are the live checks. Tests substitute them.
type Probes struct {
	Backend    func(context.Context, config.Config) error
	Recognizer func(context.Context, config.Config) error
	Audio      func(context.Context, config.Config) (audio.Selection, error)
}

// LiveProbes reach the configured backend, recognizer and Pulse server.
func LiveProbes() Probes {
	return Probes{
		Backend:    probeBackend,
		Recognizer: probeRecognizer,
		Audio: func(ctx context.Context, cfg config.Config) (audio.Selection, error) {
			return audio.SelectDevice(ctx, cfg.Audio.Input, cfg.Audio.Fallback)
		},
	}
}

// Run executes all checks against live services.
func Run(ctx context.Context, loaded config.Loaded) Report {
	return RunWith(ctx, loaded, LiveProbes())
}

// RunWith executes all checks using probes.
func RunWith(ctx context.Context, loaded config.Loaded, probes Probes) Report {
	cfg := loaded.Config
	checks := []Check{checkConfig(loaded), checkAccount(cfg)}

	checks = append(checks, probe(ctx, "backend", func(ctx context.Context) (string, error) {
		if err := probes.Backend(ctx, cfg); err != nil {
			return "", err
		}
		return fmt.Sprintf("reachable at %s; account accepted", cfg.Backend.BaseURL), nil
	}))

	checks = append(checks, probe(ctx, "recognizer", func(ctx context.Context) (string, error) {
		if err := probes.Recognizer(ctx, cfg); err != nil {
			return "", err
		}
		return fmt.Sprintf("%s recognizer ready at %s", cfg.Recognizer.Backend, cfg.Recognizer.Endpoint), nil
	}))

	checks = append(checks, probe(ctx, "audio.device", func(ctx context.Context) (string, error) {
		selection, err := probes.Audio(ctx, cfg)
		if err != nil {
			return "", err
		}
		message := fmt.Sprintf("selected %q", selection.Device.ID)
		if selection.Warning != "" {
			message += " (" + selection.Warning + ")"
		}
		return message, nil
	}))

	checks = append(checks, checkSynth(cfg.Playback.SynthCmd))
	if cfg.Indicator.Enable && strings.EqualFold(strings.TrimSpace(cfg.Indicator.Backend), config.IndicatorDesktop) {
		checks = append(checks, checkBinary("busctl", "desktop notifications"))
	}
	if cfg.History.Enable {
		checks = append(checks, checkHistory(cfg.History))
	}

	return Report{Checks: checks}
}

func checkConfig(loaded config.Loaded) Check {
	if !loaded.Exists {
		return Check{Name: "config", Pass: true, Message: fmt.Sprintf("%q not found; using defaults", loaded.Path)}
	}
	message := fmt.Sprintf("loaded %q", loaded.Path)
	if n := len(loaded.Warnings); n > 0 {
		message += fmt.Sprintf(" with %d warning(s)", n)
	}
	return Check{Name: "config", Pass: true, Message: message}
}

func checkAccount(cfg config.Config) Check {
	var missing []string
	if strings.TrimSpace(cfg.Account.Email) == "" {
		missing = append(missing, "account.email")
	}
	if strings.TrimSpace(cfg.Account.SessionID) == "" {
		missing = append(missing, "account.session_id")
	}
	if len(missing) > 0 {
		return Check{Name: "account", Pass: false, Message: strings.Join(missing, " and ") + " not set"}
	}
	return Check{Name: "account", Pass: true, Message: fmt.Sprintf("signed in as %s", cfg.Account.Email)}
}

// probe runs fn under a bounded timeout and converts its outcome into a Check.
func probe(ctx context.Context, name string, fn func(context.Context) (string, error)) Check {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	message, err := fn(probeCtx)
	if err != nil {
		return Check{Name: name, Pass: false, Message: err.Error(), Err: err}
	}
	return Check{Name: name, Pass: true, Message: message}
}

func checkSynth(cmd config.CommandConfig) Check {
	if len(cmd.Argv) == 0 {
		return Check{Name: "playback.synth_cmd", Pass: true, Message: "not configured; prompts without audio_url cannot be played"}
	}
	check := checkBinary(cmd.Argv[0], "playback.synth_cmd is available")
	check.Name = "playback.synth_cmd"
	return check
}

// checkBinary validates that a binary exists in PATH.
func checkBinary(bin string, okMsg string) Check {
	path, err := exec.LookPath(bin)
	if err != nil {
		return Check{Name: bin, Pass: false, Message: fmt.Sprintf("binary not found in PATH: %s", bin), Err: err}
	}
	return Check{Name: bin, Pass: true, Message: fmt.Sprintf("found at %s (%s)", path, okMsg)}
}

func checkHistory(cfg config.HistoryConfig) Check {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		resolved, err := history.DefaultPath()
		if err != nil {
			return Check{Name: "history", Pass: false, Message: err.Error(), Err: err}
		}
		path = resolved
	}
	return Check{Name: "history", Pass: true, Message: fmt.Sprintf("recording attempts to %s", path)}
}

// probeBackend fetches a read-module prompt, which exercises both reachability and the account.
func probeBackend(ctx context.Context, cfg config.Config) error {
	profile, err := cfg.Profile(exercise.Read)
	if err != nil {
		return err
	}
	client := backend.New(cfg.Backend.BaseURL, backend.Account{
		Email:     cfg.Account.Email,
		SessionID: cfg.Account.SessionID,
	}, cfg.BackendTimeout())
	client.UserAgent = version.UserAgent()
	return client.GetJSON(ctx, profile.PromptPath, nil)
}

func probeRecognizer(ctx context.Context, cfg config.Config) error {
	engine, err := asr.NewEngine(cfg.Recognizer, nil, nil)
	if err != nil {
		return err
	}
	return engine.Ready(ctx)
}
