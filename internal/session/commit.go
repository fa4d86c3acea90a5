package session

import (
	"context"
	"time"

	"github.com/rbright/recital/internal/grading"
	"github.com/rbright/recital/internal/prompt"
)

// Attempt is a graded submission handed to the committer.
type Attempt struct {
	SessionID  string
	Module     string
	Prompt     prompt.Prompt
	Transcript string
	Duration   time.Duration
	Number     int
	Result     grading.Result
}

// Committer persists a graded attempt.
type Committer interface {
	Commit(context.Context, Attempt) error
}

// CommitFunc adapts a function to the Committer interface.
type CommitFunc func(context.Context, Attempt) error

func (f CommitFunc) Commit(ctx context.Context, a Attempt) error {
	return f(ctx, a)
}
