package audio

import (
	"context"
	"log/slog"

	"github.com/rbright/recital/internal/asr"
	"github.com/rbright/recital/internal/recognition"
)

// Microphone starts a fresh Pulse capture for each recognition pass.
type Microphone struct {
	input      string
	fallback   string
	sampleRate int
	logger     *slog.Logger

	list func(context.Context) ([]Device, error)
	open func(context.Context, Device, int) (asr.Capture, error)
}

var _ asr.Source = (*Microphone)(nil)

// NewMicrophone returns a Source bound to the configured input preferences.
func NewMicrophone(input string, fallback string, sampleRate int, logger *slog.Logger) *Microphone {
	return &Microphone{
		input:      input,
		fallback:   fallback,
		sampleRate: sampleRate,
		logger:     logger,
		list:       ListDevices,
		open: func(ctx context.Context, dev Device, rate int) (asr.Capture, error) {
			return StartCapture(ctx, dev, rate)
		},
	}
}

// Start selects a device and opens a capture. A missing Pulse server is reported as an
// unavailable service; an unusable device as denied microphone access.
func (m *Microphone) Start(ctx context.Context) (asr.Capture, error) {
	devices, err := m.list(ctx)
	if err != nil {
		return nil, recognition.NewError(recognition.ErrorServiceUnavailable, err)
	}
	selection, err := Select(devices, m.input, m.fallback)
	if err != nil {
		return nil, recognition.NewError(recognition.ErrorPermissionDenied, err)
	}
	if selection.Warning != "" && m.logger != nil {
		m.logger.Warn("audio input fallback", "warning", selection.Warning, "device", selection.Device.ID)
	}

	capture, err := m.open(ctx, selection.Device, m.sampleRate)
	if err != nil {
		return nil, recognition.NewError(recognition.ErrorServiceUnavailable, err)
	}
	if m.logger != nil {
		m.logger.Debug("audio capture started", "device", selection.Device.ID, "sample_rate", m.sampleRate)
	}
	return capture, nil
}
