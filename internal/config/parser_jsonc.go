package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

type jsoncConfig struct {
	Backend    *jsoncBackend          `json:"backend"`
	Account    *jsoncAccount          `json:"account"`
	Recognizer *jsoncRecognizer       `json:"recognizer"`
	Audio      *jsoncAudio            `json:"audio"`
	Playback   *jsoncPlayback         `json:"playback"`
	Timing     *jsoncTiming           `json:"timing"`
	Modules    map[string]jsoncModule `json:"modules"`
	Indicator  *jsoncIndicator        `json:"indicator"`
	History    *jsoncHistory          `json:"history"`
	Log        *jsoncLog              `json:"log"`
}

type jsoncBackend struct {
	BaseURL   *string `json:"base_url"`
	TimeoutMS *int    `json:"timeout_ms"`
}

type jsoncAccount struct {
	Email     *string `json:"email"`
	SessionID *string `json:"session_id"`
}

type jsoncRecognizer struct {
	Backend        *string `json:"backend"`
	Endpoint       *string `json:"endpoint"`
	APIKey         *string `json:"api_key"`
	Language       *string `json:"language"`
	SampleRate     *int    `json:"sample_rate"`
	DialTimeoutMS  *int    `json:"dial_timeout_ms"`
	UtteranceEndMS *int    `json:"utterance_end_ms"`
	Interim        *bool   `json:"interim_results"`
}

type jsoncAudio struct {
	Input    *string `json:"input"`
	Fallback *string `json:"fallback"`
}

type jsoncPlayback struct {
	SynthCmd *string `json:"synth_cmd"`
}

type jsoncTiming struct {
	CountdownSeconds   *int `json:"countdown_seconds"`
	RestartDelayMS     *int `json:"restart_delay_ms"`
	SubmitDelayMS      *int `json:"submit_delay_ms"`
	MaxRestartFailures *int `json:"max_restart_failures"`
}

type jsoncModule struct {
	CountdownSeconds *int `json:"countdown_seconds"`
	BudgetSeconds    *int `json:"budget_seconds"`
	MaxAttempts      *int `json:"max_attempts"`
	MaxQuestions     *int `json:"max_questions"`
}

type jsoncIndicator struct {
	Enable         *bool   `json:"enable"`
	Backend        *string `json:"backend"`
	DesktopAppName *string `json:"desktop_app_name"`
	SoundEnable    *bool   `json:"sound_enable"`
	ErrorTimeoutMS *int    `json:"error_timeout_ms"`
}

type jsoncHistory struct {
	Enable *bool   `json:"enable"`
	Path   *string `json:"path"`
}

type jsoncLog struct {
	Level      *string `json:"level"`
	MaxSizeMB  *int    `json:"max_size_mb"`
	MaxBackups *int    `json:"max_backups"`
}

func parseJSONC(content string, base Config) (Config, []Warning, error) {
	normalized, err := normalizeJSONC(content)
	if err != nil {
		return Config{}, nil, err
	}

	decoder := json.NewDecoder(strings.NewReader(normalized))
	decoder.DisallowUnknownFields()

	var payload jsoncConfig
	if err := decoder.Decode(&payload); err != nil {
		return Config{}, nil, wrapJSONDecodeError(normalized, err)
	}
	if err := ensureSingleJSONValue(decoder); err != nil {
		return Config{}, nil, wrapJSONDecodeError(normalized, err)
	}

	cfg := base
	warnings, err := payload.applyTo(&cfg)
	if err != nil {
		return Config{}, nil, err
	}

	validatedWarnings, err := Validate(cfg)
	if err != nil {
		return Config{}, nil, err
	}
	warnings = append(warnings, validatedWarnings...)
	return cfg, warnings, nil
}

func (payload jsoncConfig) applyTo(cfg *Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	if payload.Backend != nil {
		setString(&cfg.Backend.BaseURL, payload.Backend.BaseURL)
		setInt(&cfg.Backend.TimeoutMS, payload.Backend.TimeoutMS)
	}

	if payload.Account != nil {
		setString(&cfg.Account.Email, payload.Account.Email)
		setString(&cfg.Account.SessionID, payload.Account.SessionID)
	}

	if r := payload.Recognizer; r != nil {
		if r.Backend != nil {
			cfg.Recognizer.Backend = strings.ToLower(strings.TrimSpace(*r.Backend))
		}
		setString(&cfg.Recognizer.Endpoint, r.Endpoint)
		setString(&cfg.Recognizer.APIKey, r.APIKey)
		setString(&cfg.Recognizer.LanguageCode, r.Language)
		setInt(&cfg.Recognizer.SampleRate, r.SampleRate)
		setInt(&cfg.Recognizer.DialTimeoutMS, r.DialTimeoutMS)
		setInt(&cfg.Recognizer.UtteranceEndMS, r.UtteranceEndMS)
		if r.Interim != nil {
			cfg.Recognizer.Interim = *r.Interim
		}
	}

	if payload.Audio != nil {
		if payload.Audio.Input != nil {
			cfg.Audio.Input = *payload.Audio.Input
		}
		if payload.Audio.Fallback != nil {
			cfg.Audio.Fallback = *payload.Audio.Fallback
		}
	}

	if payload.Playback != nil && payload.Playback.SynthCmd != nil {
		synth, err := parseSynthCommand(*payload.Playback.SynthCmd)
		if err != nil {
			return nil, fmt.Errorf("invalid playback.synth_cmd: %w", err)
		}
		cfg.Playback.SynthCmd = synth
	}

	if t := payload.Timing; t != nil {
		setInt(&cfg.Timing.CountdownSeconds, t.CountdownSeconds)
		setInt(&cfg.Timing.RestartDelayMS, t.RestartDelayMS)
		setInt(&cfg.Timing.SubmitDelayMS, t.SubmitDelayMS)
		setInt(&cfg.Timing.MaxRestartFailures, t.MaxRestartFailures)
	}

	if payload.Modules != nil {
		modules := make(map[string]ModuleConfig, len(cfg.Modules)+len(payload.Modules))
		for name, m := range cfg.Modules {
			modules[name] = m
		}
		for name, m := range payload.Modules {
			key := strings.ToLower(strings.TrimSpace(name))
			if key == "" {
				return nil, fmt.Errorf("modules contains an empty module name")
			}
			modules[key] = ModuleConfig{
				CountdownSeconds: m.CountdownSeconds,
				BudgetSeconds:    m.BudgetSeconds,
				MaxAttempts:      m.MaxAttempts,
				MaxQuestions:     m.MaxQuestions,
			}
		}
		cfg.Modules = modules
	}

	if payload.Indicator != nil {
		if payload.Indicator.Enable != nil {
			cfg.Indicator.Enable = *payload.Indicator.Enable
		}
		if payload.Indicator.Backend != nil {
			cfg.Indicator.Backend = strings.TrimSpace(*payload.Indicator.Backend)
		}
		if payload.Indicator.DesktopAppName != nil {
			cfg.Indicator.DesktopAppName = strings.TrimSpace(*payload.Indicator.DesktopAppName)
		}
		if payload.Indicator.SoundEnable != nil {
			cfg.Indicator.SoundEnable = *payload.Indicator.SoundEnable
		}
		setInt(&cfg.Indicator.ErrorTimeoutMS, payload.Indicator.ErrorTimeoutMS)
	}

	if payload.History != nil {
		if payload.History.Enable != nil {
			cfg.History.Enable = *payload.History.Enable
		}
		setString(&cfg.History.Path, payload.History.Path)
	}

	if payload.Log != nil {
		setString(&cfg.Log.Level, payload.Log.Level)
		setInt(&cfg.Log.MaxSizeMB, payload.Log.MaxSizeMB)
		setInt(&cfg.Log.MaxBackups, payload.Log.MaxBackups)
	}

	return warnings, nil
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = strings.TrimSpace(*src)
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func normalizeJSONC(content string) (string, error) {
	withoutComments, err := stripJSONCComments(content)
	if err != nil {
		return "", err
	}
	return stripJSONCTrailingCommas(withoutComments), nil
}

func stripJSONCComments(content string) (string, error) {
	var out strings.Builder
	out.Grow(len(content))

	inString := false
	escape := false
	lineComment := false
	blockComment := false

	for i := 0; i < len(content); i++ {
		ch := content[i]

		if lineComment {
			if ch == '\n' {
				lineComment = false
				out.WriteByte(ch)
				continue
			}
			if ch == '\r' {
				lineComment = false
				out.WriteByte(ch)
				continue
			}
			out.WriteByte(' ')
			continue
		}

		if blockComment {
			if ch == '*' && i+1 < len(content) && content[i+1] == '/' {
				blockComment = false
				out.WriteString("  ")
				i++
				continue
			}
			if ch == '\n' || ch == '\r' || ch == '\t' {
				out.WriteByte(ch)
			} else {
				out.WriteByte(' ')
			}
			continue
		}

		if inString {
			out.WriteByte(ch)
			if escape {
				escape = false
				continue
			}
			if ch == '\\' {
				escape = true
				continue
			}
			if ch == '"' {
				inString = false
			}
			continue
		}

		if ch == '"' {
			inString = true
			out.WriteByte(ch)
			continue
		}

		if ch == '/' && i+1 < len(content) {
			next := content[i+1]
			if next == '/' {
				lineComment = true
				out.WriteString("  ")
				i++
				continue
			}
			if next == '*' {
				blockComment = true
				out.WriteString("  ")
				i++
				continue
			}
		}

		out.WriteByte(ch)
	}

	if blockComment {
		return "", fmt.Errorf("unterminated block comment in JSONC")
	}

	return out.String(), nil
}

func stripJSONCTrailingCommas(content string) string {
	var out strings.Builder
	out.Grow(len(content))

	inString := false
	escape := false

	for i := 0; i < len(content); i++ {
		ch := content[i]

		if inString {
			out.WriteByte(ch)
			if escape {
				escape = false
				continue
			}
			if ch == '\\' {
				escape = true
				continue
			}
			if ch == '"' {
				inString = false
			}
			continue
		}

		if ch == '"' {
			inString = true
			out.WriteByte(ch)
			continue
		}

		if ch == ',' {
			j := i + 1
			for j < len(content) && isJSONWhitespace(content[j]) {
				j++
			}
			if j < len(content) && (content[j] == '}' || content[j] == ']') {
				continue
			}
		}

		out.WriteByte(ch)
	}

	return out.String()
}

func isJSONWhitespace(ch byte) bool {
	switch ch {
	case ' ', '\n', '\r', '\t':
		return true
	default:
		return false
	}
}

func ensureSingleJSONValue(decoder *json.Decoder) error {
	var extra struct{}
	err := decoder.Decode(&extra)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err == nil {
		return fmt.Errorf("multiple JSON values are not allowed")
	}
	return err
}

func wrapJSONDecodeError(content string, err error) error {
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		line, col := offsetToLineCol(content, syntaxErr.Offset)
		return fmt.Errorf("line %d column %d: %w", line, col, err)
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		line, col := offsetToLineCol(content, typeErr.Offset)
		return fmt.Errorf("line %d column %d: %w", line, col, err)
	}

	return err
}

func offsetToLineCol(content string, offset int64) (int, int) {
	if offset <= 0 {
		return 1, 1
	}

	limit := int(offset)
	if limit > len(content) {
		limit = len(content)
	}

	line := 1
	col := 1
	for i := 0; i < limit-1; i++ {
		if content[i] == '\n' {
			line++
			col = 1
			continue
		}
		col++
	}
	return line, col
}
