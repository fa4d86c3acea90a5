package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rbright/recital/internal/exercise"
	"github.com/rbright/recital/internal/recognition"
)

// Loaded captures resolved config path, parsed values, and non-fatal warnings.
type Loaded struct {
	Path     string
	Config   Config
	Warnings []Warning
	Exists   bool
}

// Load reads the config at the resolved path over Default. A missing file is not an
// error. Every module profile is resolved against the result so overrides that leave
// a module unusable are reported before a session starts.
func Load(explicitPath string) (Loaded, error) {
	path, err := ResolvePath(explicitPath)
	if err != nil {
		return Loaded{}, err
	}

	loaded := Loaded{Path: path, Config: Default()}
	content, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		loaded.Warnings = append(loaded.Warnings, Warning{
			Message: fmt.Sprintf("config file %q not found; using defaults", path),
		})
	case err != nil:
		return Loaded{}, fmt.Errorf("read config %q: %w", path, err)
	default:
		cfg, warnings, err := Parse(string(content), loaded.Config)
		if err != nil {
			return Loaded{}, fmt.Errorf("parse config %q: %w", path, err)
		}
		loaded.Config = cfg
		loaded.Warnings = warnings
		loaded.Exists = true
		if w, exposed := credentialExposure(path, cfg); exposed {
			loaded.Warnings = append(loaded.Warnings, w)
		}
	}

	warnings, err := checkProfiles(loaded.Config)
	if err != nil {
		return Loaded{}, fmt.Errorf("config %q: %w", path, err)
	}
	loaded.Warnings = append(loaded.Warnings, warnings...)
	return loaded, nil
}

// checkProfiles resolves each built-in module and flags combinations a learner cannot finish.
func checkProfiles(cfg Config) ([]Warning, error) {
	var warnings []Warning
	for _, name := range exercise.Names() {
		profile, err := cfg.Profile(name)
		if err != nil {
			return nil, err
		}
		if profile.RequiresPlayback && len(cfg.Playback.SynthCmd.Argv) == 0 {
			warnings = append(warnings, Warning{Message: fmt.Sprintf(
				"module %s needs prompt playback before recording; set playback.synth_cmd for prompts served without audio", name)})
		}
		if profile.Mode == recognition.Continuous && !profile.Timed() {
			warnings = append(warnings, Warning{Message: fmt.Sprintf(
				"modules.%s.budget_seconds is 0; attempts run until stopped", name)})
		}
	}
	return warnings, nil
}

// credentialExposure flags a session_id stored in a file other users can read.
func credentialExposure(path string, cfg Config) (Warning, bool) {
	if strings.TrimSpace(cfg.Account.SessionID) == "" {
		return Warning{}, false
	}
	info, err := os.Stat(path)
	if err != nil || info.Mode().Perm()&0o077 == 0 {
		return Warning{}, false
	}
	return Warning{Message: fmt.Sprintf(
		"config %q holds account.session_id and is readable by other users (mode %#o); run chmod 600", path, info.Mode().Perm())}, true
}
