package config

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/rbright/recital/internal/exercise"
)

const (
	RecognizerGRPC      = "grpc"
	RecognizerWebSocket = "websocket"

	IndicatorDesktop = "desktop"
	IndicatorBeeep   = "beeep"
)

// Validate enforces config invariants and returns non-fatal warnings.
func Validate(cfg Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	if err := validateBaseURL(cfg.Backend.BaseURL); err != nil {
		return nil, err
	}
	if cfg.Backend.TimeoutMS <= 0 {
		return nil, fmt.Errorf("backend.timeout_ms must be > 0")
	}
	if strings.TrimSpace(cfg.Account.Email) == "" || strings.TrimSpace(cfg.Account.SessionID) == "" {
		warnings = append(warnings, Warning{Message: "account.email or account.session_id is empty; the backend will reject requests"})
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Recognizer.Backend)) {
	case RecognizerGRPC:
		if strings.TrimSpace(cfg.Recognizer.Endpoint) == "" {
			return nil, fmt.Errorf("recognizer.endpoint must not be empty")
		}
	case RecognizerWebSocket:
		u, err := url.Parse(strings.TrimSpace(cfg.Recognizer.Endpoint))
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
			return nil, fmt.Errorf("recognizer.endpoint must be a ws:// or wss:// URL when recognizer.backend=websocket")
		}
		if strings.TrimSpace(cfg.Recognizer.APIKey) == "" {
			warnings = append(warnings, Warning{Message: "recognizer.api_key is empty; hosted websocket recognizers usually require one"})
		}
	case "":
		return nil, fmt.Errorf("recognizer.backend must not be empty")
	default:
		return nil, fmt.Errorf("recognizer.backend must be one of: grpc, websocket")
	}
	if strings.TrimSpace(cfg.Recognizer.LanguageCode) == "" {
		return nil, fmt.Errorf("recognizer.language must not be empty")
	}
	if cfg.Recognizer.SampleRate <= 0 {
		return nil, fmt.Errorf("recognizer.sample_rate must be > 0")
	}
	if cfg.Recognizer.DialTimeoutMS <= 0 {
		return nil, fmt.Errorf("recognizer.dial_timeout_ms must be > 0")
	}
	if cfg.Recognizer.UtteranceEndMS < 0 {
		return nil, fmt.Errorf("recognizer.utterance_end_ms must be >= 0")
	}

	if cfg.Timing.CountdownSeconds < 0 {
		return nil, fmt.Errorf("timing.countdown_seconds must be >= 0")
	}
	if cfg.Timing.RestartDelayMS < 0 {
		return nil, fmt.Errorf("timing.restart_delay_ms must be >= 0")
	}
	if cfg.Timing.SubmitDelayMS < 0 {
		return nil, fmt.Errorf("timing.submit_delay_ms must be >= 0")
	}
	if cfg.Timing.MaxRestartFailures <= 0 {
		return nil, fmt.Errorf("timing.max_restart_failures must be > 0")
	}

	names := make([]string, 0, len(cfg.Modules))
	for name := range cfg.Modules {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := validateModule(name, cfg.Modules[name]); err != nil {
			return nil, err
		}
	}

	backend := strings.ToLower(strings.TrimSpace(cfg.Indicator.Backend))
	if backend == "" {
		return nil, fmt.Errorf("indicator.backend must not be empty")
	}
	if backend != IndicatorDesktop && backend != IndicatorBeeep {
		return nil, fmt.Errorf("indicator.backend must be one of: desktop, beeep")
	}
	if backend == IndicatorDesktop && strings.TrimSpace(cfg.Indicator.DesktopAppName) == "" {
		return nil, fmt.Errorf("indicator.desktop_app_name must not be empty when indicator.backend=desktop")
	}
	if cfg.Indicator.ErrorTimeoutMS < 0 {
		return nil, fmt.Errorf("indicator.error_timeout_ms must be >= 0")
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Log.Level)) {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}
	if cfg.Log.MaxSizeMB <= 0 {
		return nil, fmt.Errorf("log.max_size_mb must be > 0")
	}
	if cfg.Log.MaxBackups < 0 {
		return nil, fmt.Errorf("log.max_backups must be >= 0")
	}

	return warnings, nil
}

func validateBaseURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("backend.base_url must not be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("backend.base_url is invalid: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("backend.base_url must be an absolute http(s) URL")
	}
	return nil
}

func validateModule(name string, m ModuleConfig) error {
	if _, err := exercise.Lookup(name); err != nil {
		return fmt.Errorf("modules: %w", err)
	}
	if m.CountdownSeconds != nil && *m.CountdownSeconds < 0 {
		return fmt.Errorf("modules.%s.countdown_seconds must be >= 0", name)
	}
	if m.BudgetSeconds != nil && *m.BudgetSeconds < 0 {
		return fmt.Errorf("modules.%s.budget_seconds must be >= 0", name)
	}
	if m.MaxAttempts != nil && *m.MaxAttempts <= 0 {
		return fmt.Errorf("modules.%s.max_attempts must be > 0", name)
	}
	if m.MaxQuestions != nil && *m.MaxQuestions <= 0 {
		return fmt.Errorf("modules.%s.max_questions must be > 0", name)
	}
	return nil
}

// Profile resolves a module profile with timing and per-module overrides applied.
func (cfg Config) Profile(name string) (exercise.Profile, error) {
	profile, err := exercise.Lookup(name)
	if err != nil {
		return exercise.Profile{}, err
	}
	if profile.PreRoll() {
		profile.CountdownSeconds = cfg.Timing.CountdownSeconds
	}

	m := cfg.Modules[profile.Name]
	return profile.Apply(exercise.Override{
		CountdownSeconds: m.CountdownSeconds,
		BudgetSeconds:    m.BudgetSeconds,
		MaxAttempts:      m.MaxAttempts,
		MaxQuestions:     m.MaxQuestions,
	}), nil
}

// BackendTimeout returns the backend HTTP timeout.
func (cfg Config) BackendTimeout() time.Duration {
	return time.Duration(cfg.Backend.TimeoutMS) * time.Millisecond
}
