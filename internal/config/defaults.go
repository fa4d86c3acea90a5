package config

// Default returns the canonical runtime configuration used when no file is present.
func Default() Config {
	return Config{
		Backend: BackendConfig{
			BaseURL:   "http://127.0.0.1:5000",
			TimeoutMS: 15000,
		},
		Recognizer: RecognizerConfig{
			Backend:        RecognizerGRPC,
			Endpoint:       "127.0.0.1:50051",
			LanguageCode:   "en-US",
			SampleRate:     16000,
			DialTimeoutMS:  3000,
			UtteranceEndMS: 1000,
			Interim:        true,
		},
		Audio: AudioConfig{
			Input:    "default",
			Fallback: "default",
		},
		Timing: TimingConfig{
			CountdownSeconds:   4,
			RestartDelayMS:     200,
			SubmitDelayMS:      500,
			MaxRestartFailures: 5,
		},
		Modules: map[string]ModuleConfig{},
		Indicator: IndicatorConfig{
			Enable:         true,
			Backend:        IndicatorDesktop,
			DesktopAppName: "recital",
			SoundEnable:    true,
			ErrorTimeoutMS: 1600,
		},
		History: HistoryConfig{Enable: true},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}
