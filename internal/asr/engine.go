package asr

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rbright/recital/internal/config"
	"github.com/rbright/recital/internal/recognition"
)

// Engine is a recognition engine that can also report endpoint readiness.
type Engine interface {
	recognition.Engine
	Ready(context.Context) error
}

var (
	_ Engine = (*GRPCEngine)(nil)
	_ Engine = (*WebSocketEngine)(nil)
)

// NewEngine builds the engine selected by cfg.Backend.
func NewEngine(cfg config.RecognizerConfig, source Source, logger *slog.Logger) (Engine, error) {
	dialTimeout := time.Duration(cfg.DialTimeoutMS) * time.Millisecond
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case config.RecognizerGRPC:
		return NewGRPCEngine(GRPCConfig{
			Endpoint:     cfg.Endpoint,
			APIKey:       cfg.APIKey,
			LanguageCode: cfg.LanguageCode,
			SampleRate:   cfg.SampleRate,
			DialTimeout:  dialTimeout,
		}, source, logger), nil
	case config.RecognizerWebSocket:
		return NewWebSocketEngine(WebSocketConfig{
			URL:            cfg.Endpoint,
			APIKey:         cfg.APIKey,
			LanguageCode:   cfg.LanguageCode,
			SampleRate:     cfg.SampleRate,
			UtteranceEndMs: cfg.UtteranceEndMS,
			DialTimeout:    dialTimeout,
		}, source, logger), nil
	default:
		return nil, fmt.Errorf("unsupported recognizer backend %q", cfg.Backend)
	}
}
