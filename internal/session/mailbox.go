package session

import (
	"sync"

	"github.com/rbright/recital/internal/grading"
	"github.com/rbright/recital/internal/ipc"
	"github.com/rbright/recital/internal/prompt"
	"github.com/rbright/recital/internal/recognition"
)

// event is anything applied by the controller loop. Events raised by timers,
// recognizer passes or background calls carry the generation they belong to.
type event interface{}

type (
	commandEvent struct {
		name  string
		reply chan ipc.Response
	}
	countdownDone struct{ gen uint64 }
	recResult     struct {
		gen   uint64
		text  string
		final bool
	}
	recFailed struct {
		gen uint64
		err *recognition.Error
	}
	recEnded      struct{ gen uint64 }
	restartDue    struct{ gen uint64 }
	submitDue     struct{ gen uint64 }
	budgetExpired struct{ gen uint64 }
	gradeDone     struct {
		gen    uint64
		sub    grading.Submission
		result grading.Result
		err    error
	}
	promptLoaded struct {
		seq    uint64
		prompt prompt.Prompt
		err    error
	}
	playbackDone struct {
		seq uint64
		err error
	}
)

// mailbox is an unbounded queue; post never blocks.
type mailbox struct {
	mu    sync.Mutex
	queue []event
	ready chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{ready: make(chan struct{}, 1)}
}

func (m *mailbox) post(ev event) {
	m.mu.Lock()
	m.queue = append(m.queue, ev)
	m.mu.Unlock()

	select {
	case m.ready <- struct{}{}:
	default:
	}
}

func (m *mailbox) drain() []event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.queue
	m.queue = nil
	return out
}
