package doctor

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rbright/recital/internal/audio"
	"github.com/rbright/recital/internal/backend"
	"github.com/rbright/recital/internal/config"
)

func passingProbes() Probes {
	return Probes{
		Backend:    func(context.Context, config.Config) error { return nil },
		Recognizer: func(context.Context, config.Config) error { return nil },
		Audio: func(context.Context, config.Config) (audio.Selection, error) {
			return audio.Selection{Device: audio.Device{ID: "mic-1"}, Warning: "audio.input \"usb\" is muted; falling back to \"mic-1\""}, nil
		},
	}
}

func signedIn() config.Config {
	cfg := config.Default()
	cfg.Account.Email = "ana@example.com"
	cfg.Account.SessionID = "s-1"
	cfg.Indicator.Enable = false
	cfg.History.Enable = false
	return cfg
}

func findCheck(t *testing.T, report Report, name string) Check {
	t.Helper()
	for _, check := range report.Checks {
		if check.Name == name {
			return check
		}
	}
	t.Fatalf("check %q not found in %v", name, report.Checks)
	return Check{}
}

func TestReportOKAndString(t *testing.T) {
	report := Report{Checks: []Check{
		{Name: "one", Pass: true, Message: "good"},
		{Name: "two", Pass: false, Message: "bad"},
	}}

	require.False(t, report.OK())
	require.Equal(t, "[OK] one: good\n[FAIL] two: bad", report.String())
	require.True(t, Report{Checks: []Check{{Pass: true}}}.OK())
}

func TestRunWithAllProbesPassing(t *testing.T) {
	report := RunWith(context.Background(), config.Loaded{Path: "/tmp/recital.jsonc", Config: signedIn(), Exists: true}, passingProbes())

	require.True(t, report.OK(), report.String())
	require.False(t, report.SessionInvalid())
	require.Contains(t, findCheck(t, report, "config").Message, `loaded "/tmp/recital.jsonc"`)
	require.Equal(t, "signed in as ana@example.com", findCheck(t, report, "account").Message)
	require.Contains(t, findCheck(t, report, "recognizer").Message, "grpc recognizer ready")
	require.Contains(t, findCheck(t, report, "audio.device").Message, `selected "mic-1" (audio.input "usb" is muted`)
	require.Contains(t, findCheck(t, report, "playback.synth_cmd").Message, "not configured")
}

func TestRunWithReportsFailures(t *testing.T) {
	probes := passingProbes()
	probes.Backend = func(context.Context, config.Config) error {
		return backend.ErrSessionInvalid
	}
	probes.Recognizer = func(context.Context, config.Config) error {
		return errors.New("connection refused")
	}

	cfg := signedIn()
	cfg.Account.SessionID = ""
	report := RunWith(context.Background(), config.Loaded{Path: "/tmp/missing.jsonc", Config: cfg}, probes)

	require.False(t, report.OK())
	require.True(t, report.SessionInvalid())
	require.Contains(t, findCheck(t, report, "config").Message, "using defaults")
	require.Equal(t, "account.session_id not set", findCheck(t, report, "account").Message)
	require.False(t, findCheck(t, report, "backend").Pass)
	require.Equal(t, "connection refused", findCheck(t, report, "recognizer").Message)
}

func TestRunWithOptionalChecks(t *testing.T) {
	binDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(binDir, "fake-tts"), []byte("#!/usr/bin/env sh\nexit 0\n"), 0o755))
	t.Setenv("PATH", binDir)
	t.Setenv("XDG_DATA_HOME", "/tmp/data")

	cfg := signedIn()
	cfg.Playback.SynthCmd = config.CommandConfig{Raw: "fake-tts --voice en", Argv: []string{"fake-tts", "--voice", "en"}}
	cfg.Indicator.Enable = true
	cfg.Indicator.Backend = config.IndicatorDesktop
	cfg.History.Enable = true

	report := RunWith(context.Background(), config.Loaded{Path: "/tmp/recital.jsonc", Config: cfg, Exists: true}, passingProbes())

	require.True(t, findCheck(t, report, "playback.synth_cmd").Pass)
	require.False(t, findCheck(t, report, "busctl").Pass)
	require.Equal(t, "recording attempts to /tmp/data/recital/history.sqlite", findCheck(t, report, "history").Message)
}

func TestCheckBinary(t *testing.T) {
	require.True(t, checkBinary("sh", "shell available").Pass)

	missing := checkBinary("definitely-not-a-real-binary", "unused")
	require.False(t, missing.Pass)
	require.Contains(t, missing.Message, "binary not found")
}

func TestProbeBackendUsesReadPromptPath(t *testing.T) {
	var gotPath, gotAgent string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAgent = r.Header.Get("User-Agent")
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	t.Cleanup(server.Close)

	cfg := signedIn()
	cfg.Backend.BaseURL = server.URL
	require.NoError(t, probeBackend(context.Background(), cfg))
	require.Equal(t, "/api/moduleA/sentence", gotPath)
	require.Contains(t, gotAgent, "recital/")
}

func TestProbeBackendUnauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(server.Close)

	cfg := signedIn()
	cfg.Backend.BaseURL = server.URL
	require.ErrorIs(t, probeBackend(context.Background(), cfg), backend.ErrSessionInvalid)
}

func TestProbeRecognizerRejectsUnknownBackend(t *testing.T) {
	cfg := signedIn()
	cfg.Recognizer.Backend = "carrier-pigeon"
	require.ErrorContains(t, probeRecognizer(context.Background(), cfg), "unsupported recognizer backend")
}
