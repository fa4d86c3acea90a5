// Package recognition wraps a streaming speech engine behind a start/result/error/end
// event contract with single-shot and continuous modes.
package recognition

import (
	"context"
	"fmt"
	"strings"
)

// Mode selects single-shot or continuous recognition.
type Mode int

const (
	SingleShot Mode = iota + 1
	Continuous
)

func (m Mode) String() string {
	switch m {
	case SingleShot:
		return "single"
	case Continuous:
		return "continuous"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode parses "single" or "continuous".
func ParseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "single", "single-shot", "singleshot":
		return SingleShot, nil
	case "continuous":
		return Continuous, nil
	default:
		return 0, fmt.Errorf("unknown recognition mode %q", raw)
	}
}

// Options are passed to an engine for each recognition pass.
type Options struct {
	Mode    Mode
	Interim bool
}

// Segment is one recognized span of speech.
type Segment struct {
	Text  string
	Final bool
	// UtteranceEnd marks a silence boundary reported by the engine.
	UtteranceEnd bool
}

// Stream is one engine-level recognition pass.
//
// Segments is closed when the pass ends; Err is valid after that.
type Stream interface {
	Segments() <-chan Segment
	// Stop stops feeding audio and lets the engine flush pending results.
	Stop()
	// Abort tears the pass down immediately.
	Abort()
	Err() error
}

// Engine opens recognition passes.
type Engine interface {
	Open(ctx context.Context, opts Options) (Stream, error)
}

// EngineFunc adapts a function to Engine.
type EngineFunc func(context.Context, Options) (Stream, error)

func (f EngineFunc) Open(ctx context.Context, opts Options) (Stream, error) {
	return f(ctx, opts)
}

// Listener receives adapter events. Events are delivered from adapter goroutines,
// never from inside Start, Stop or Abort.
type Listener interface {
	OnStart()
	OnResult(text string, final bool)
	OnError(err *Error)
	OnEnd()
}

// ListenerFuncs adapts optional funcs to Listener.
type ListenerFuncs struct {
	Start  func()
	Result func(text string, final bool)
	Error  func(err *Error)
	End    func()
}

func (l ListenerFuncs) OnStart() {
	if l.Start != nil {
		l.Start()
	}
}

func (l ListenerFuncs) OnResult(text string, final bool) {
	if l.Result != nil {
		l.Result(text, final)
	}
}

func (l ListenerFuncs) OnError(err *Error) {
	if l.Error != nil {
		l.Error(err)
	}
}

func (l ListenerFuncs) OnEnd() {
	if l.End != nil {
		l.End()
	}
}
