package recognition

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rbright/recital/internal/transcript"
)

// Adapter runs at most one recognition pass at a time and turns engine output into
// Listener events.
type Adapter struct {
	engine Engine
	logger *slog.Logger

	mu       sync.Mutex
	mode     Mode
	interim  bool
	listener Listener
	current  *pass
	passes   uint64
}

type pass struct {
	id       uint64
	mode     Mode
	stream   Stream
	listener Listener
	cancel   context.CancelFunc

	mu            sync.Mutex
	aborted       bool
	stopRequested bool
}

// NewAdapter wraps engine. A nil engine yields an adapter whose Available reports
// ErrUnavailable and whose Start always fails.
func NewAdapter(engine Engine, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Adapter{
		engine:   engine,
		logger:   logger,
		mode:     SingleShot,
		interim:  true,
		listener: ListenerFuncs{},
	}
}

// Available reports whether a recognizer engine is wired.
func (a *Adapter) Available() error {
	if a.engine == nil {
		return ErrUnavailable
	}
	return nil
}

// Configure sets the mode used by subsequent passes.
func (a *Adapter) Configure(mode Mode) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.mode = mode
}

// SetInterim toggles interim results for continuous passes. Single-shot passes never
// request them.
func (a *Adapter) SetInterim(enabled bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.interim = enabled
}

// Mode returns the configured mode.
func (a *Adapter) Mode() Mode {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mode
}

// Bind sets the listener captured by subsequent passes. A running pass keeps the
// listener it started with.
func (a *Adapter) Bind(listener Listener) {
	if listener == nil {
		listener = ListenerFuncs{}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listener = listener
}

// Active reports whether a pass is running.
func (a *Adapter) Active() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current != nil
}

// Start opens a new pass. It fails with ErrUnavailable without an engine and with
// ErrAlreadyActive while another pass runs. All pass events arrive asynchronously.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.engine == nil {
		return ErrUnavailable
	}
	if a.current != nil {
		return ErrAlreadyActive
	}

	passCtx, cancel := context.WithCancel(ctx)
	stream, err := a.engine.Open(passCtx, Options{Mode: a.mode, Interim: a.interim && a.mode == Continuous})
	if err != nil {
		cancel()
		return fmt.Errorf("open recognizer: %w", err)
	}

	a.passes++
	p := &pass{
		id:       a.passes,
		mode:     a.mode,
		stream:   stream,
		listener: a.listener,
		cancel:   cancel,
	}
	a.current = p
	a.logger.Debug("recognition pass started", "pass", p.id, "mode", p.mode.String())

	go a.pump(p)
	return nil
}

// Stop requests graceful termination of the running pass. The end is signalled by
// OnEnd.
func (a *Adapter) Stop() {
	a.mu.Lock()
	p := a.current
	a.mu.Unlock()
	if p == nil {
		return
	}

	p.mu.Lock()
	p.stopRequested = true
	p.mu.Unlock()
	p.stream.Stop()
}

// Abort tears down the running pass. No event of that pass is delivered after Abort
// returns, OnEnd included.
func (a *Adapter) Abort() {
	a.mu.Lock()
	p := a.current
	a.current = nil
	a.mu.Unlock()
	if p == nil {
		return
	}

	p.mu.Lock()
	p.aborted = true
	p.mu.Unlock()
	p.stream.Abort()
	p.cancel()
	a.logger.Debug("recognition pass aborted", "pass", p.id)
}

func (a *Adapter) pump(p *pass) {
	defer p.cancel()

	p.deliver(func(l Listener) { l.OnStart() })

	finals := 0
	for seg := range p.stream.Segments() {
		text := transcript.Clean(seg.Text)
		switch {
		case text == "":
		case seg.Final:
			if p.mode == SingleShot && finals > 0 {
				continue
			}
			finals++
			p.deliver(func(l Listener) { l.OnResult(text, true) })
			if p.mode == SingleShot {
				p.stream.Stop()
			}
		case p.mode == Continuous:
			p.deliver(func(l Listener) { l.OnResult(text, false) })
		}

		if seg.UtteranceEnd && p.mode == Continuous {
			p.stream.Stop()
		}
	}

	p.mu.Lock()
	aborted := p.aborted
	stopRequested := p.stopRequested
	p.mu.Unlock()

	if !aborted {
		if recErr := p.endError(finals, stopRequested); recErr != nil {
			a.logger.Debug("recognition pass error", "pass", p.id, "kind", string(recErr.Kind), "error", recErr.Error())
			p.deliver(func(l Listener) { l.OnError(recErr) })
		}
	}

	a.mu.Lock()
	if a.current == p {
		a.current = nil
	}
	a.mu.Unlock()

	a.logger.Debug("recognition pass ended", "pass", p.id, "finals", finals)
	p.deliver(func(l Listener) { l.OnEnd() })
}

// endError decides which error, if any, a finished pass reports.
func (p *pass) endError(finals int, stopRequested bool) *Error {
	if err := p.stream.Err(); err != nil {
		recErr := Classify(err)
		if recErr.Kind == ErrorAborted && stopRequested {
			return nil
		}
		return recErr
	}
	if finals == 0 && !stopRequested {
		return NewError(ErrorNoSpeech, nil)
	}
	return nil
}

func (p *pass) deliver(fn func(Listener)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.aborted {
		return
	}
	fn(p.listener)
}

