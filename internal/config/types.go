// Package config resolves, parses, validates, and defaults recital configuration.
package config

// Config is the fully materialized runtime configuration used by recital.
type Config struct {
	Backend    BackendConfig
	Account    AccountConfig
	Recognizer RecognizerConfig
	Audio      AudioConfig
	Playback   PlaybackConfig
	Timing     TimingConfig
	Modules    map[string]ModuleConfig
	Indicator  IndicatorConfig
	History    HistoryConfig
	Log        LogConfig
}

// BackendConfig locates the grading and prompt service.
type BackendConfig struct {
	BaseURL   string
	TimeoutMS int
}

// AccountConfig identifies the learner to the backend.
type AccountConfig struct {
	Email     string
	SessionID string
}

// RecognizerConfig selects and addresses the streaming speech recognizer.
type RecognizerConfig struct {
	Backend        string
	Endpoint       string
	APIKey         string
	LanguageCode   string
	SampleRate     int
	DialTimeoutMS  int
	UtteranceEndMS int
	Interim        bool
}

// AudioConfig controls preferred and fallback input-source selection.
type AudioConfig struct {
	Input    string
	Fallback string
}

// PlaybackConfig controls prompt audio fallback.
type PlaybackConfig struct {
	SynthCmd CommandConfig
}

// TimingConfig holds controller delays shared by every module.
type TimingConfig struct {
	CountdownSeconds   int
	RestartDelayMS     int
	SubmitDelayMS      int
	MaxRestartFailures int
}

// ModuleConfig overrides one module's built-in limits. Nil fields keep the default.
type ModuleConfig struct {
	CountdownSeconds *int
	BudgetSeconds    *int
	MaxAttempts      *int
	MaxQuestions     *int
}

// IndicatorConfig controls notification and audio cue behavior.
type IndicatorConfig struct {
	Enable         bool
	Backend        string
	DesktopAppName string
	SoundEnable    bool
	ErrorTimeoutMS int
}

// HistoryConfig controls the local attempt history store.
type HistoryConfig struct {
	Enable bool
	Path   string
}

// LogConfig controls the JSON log file.
type LogConfig struct {
	Level      string
	MaxSizeMB  int
	MaxBackups int
}

// CommandConfig stores a raw command string and its parsed argv form.
type CommandConfig struct {
	Raw  string
	Argv []string
}

// Warning is a non-fatal parse/validation message.
type Warning struct {
	Line    int
	Message string
}
