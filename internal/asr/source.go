// Package asr provides streaming recognizer engines fed by live PCM capture.
package asr

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rbright/recital/internal/recognition"
)

// Capture is one running PCM capture.
type Capture interface {
	Chunks() <-chan []byte
	Stop() error
}

// Source starts PCM captures for recognition passes.
type Source interface {
	Start(ctx context.Context) (Capture, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(context.Context) (Capture, error)

func (f SourceFunc) Start(ctx context.Context) (Capture, error) {
	return f(ctx)
}

// captureError keeps the kind of a classified capture failure; anything else counts
// as denied microphone access.
func captureError(err error) error {
	wrapped := fmt.Errorf("start audio capture: %w", err)
	var recErr *recognition.Error
	if errors.As(err, &recErr) {
		return recognition.NewError(recErr.Kind, wrapped)
	}
	return recognition.NewError(recognition.ErrorPermissionDenied, wrapped)
}

// pipe carries one pass's segments from an engine receive loop to the adapter.
// Only the receive loop emits and finishes.
type pipe struct {
	segs    chan recognition.Segment
	capture Capture
	cancel  context.CancelFunc

	mu       sync.Mutex
	err      error
	aborted  bool
	finished bool
}

func newPipe(capture Capture, cancel context.CancelFunc) *pipe {
	return &pipe{
		segs:    make(chan recognition.Segment, 64),
		capture: capture,
		cancel:  cancel,
	}
}

func (p *pipe) Segments() <-chan recognition.Segment {
	return p.segs
}

func (p *pipe) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Stop ends capture; the engine flushes and the receive loop finishes on its own.
func (p *pipe) Stop() {
	_ = p.capture.Stop()
}

func (p *pipe) Abort() {
	p.mu.Lock()
	p.aborted = true
	p.mu.Unlock()
	_ = p.capture.Stop()
	p.cancel()
}

func (p *pipe) emit(seg recognition.Segment) {
	p.segs <- seg
}

func (p *pipe) finish(err error) {
	p.mu.Lock()
	if p.finished {
		p.mu.Unlock()
		return
	}
	p.finished = true
	if p.aborted {
		err = recognition.NewError(recognition.ErrorAborted, context.Canceled)
	}
	p.err = err
	p.mu.Unlock()

	_ = p.capture.Stop()
	p.cancel()
	close(p.segs)
}
