// Package grading submits transcripts to the scoring backend, at most one at a time.
package grading

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rbright/recital/internal/backend"
	"github.com/rbright/recital/internal/exercise"
)

// ErrInFlight indicates a submission is already pending for this session.
var ErrInFlight = errors.New("submission already in flight")

// Submission is one transcript handed to the grading service.
type Submission struct {
	PromptID   json.RawMessage
	Transcript string
	Duration   time.Duration
}

// DurationSeconds is the fractional recording duration sent on the wire.
func (s Submission) DurationSeconds() float64 {
	if s.Duration <= 0 {
		return 0
	}
	return s.Duration.Seconds()
}

// Result is the structured feedback returned for a graded submission.
type Result struct {
	Score        float64
	Feedback     string
	Strengths    []string
	Improvements []string
	TargetText   string
	Transcript   string
}

// RejectedError is a well-formed response with success=false.
type RejectedError struct {
	Message string
}

func (e *RejectedError) Error() string {
	if strings.TrimSpace(e.Message) == "" {
		return "grading service rejected the submission"
	}
	return "grading service rejected the submission: " + e.Message
}

// Grader scores one submission.
type Grader interface {
	Grade(ctx context.Context, sub Submission) (Result, error)
}

// GraderFunc adapts a function to Grader.
type GraderFunc func(context.Context, Submission) (Result, error)

func (f GraderFunc) Grade(ctx context.Context, sub Submission) (Result, error) {
	return f(ctx, sub)
}

// Gate admits at most one in-flight submission and fails closed otherwise.
type Gate struct {
	grader   Grader
	inFlight atomic.Bool
}

func NewGate(grader Grader) *Gate {
	return &Gate{grader: grader}
}

// Submit forwards sub to the grader, or returns ErrInFlight without calling it.
func (g *Gate) Submit(ctx context.Context, sub Submission) (Result, error) {
	if !g.inFlight.CompareAndSwap(false, true) {
		return Result{}, ErrInFlight
	}
	defer g.inFlight.Store(false)
	return g.grader.Grade(ctx, sub)
}

// InFlight reports whether a submission is pending.
func (g *Gate) InFlight() bool {
	return g.inFlight.Load()
}

// Client grades submissions for one module over HTTP.
type Client struct {
	backend *backend.Client
	profile exercise.Profile
}

func NewClient(b *backend.Client, profile exercise.Profile) *Client {
	return &Client{backend: b, profile: profile}
}

type response struct {
	Success            *bool    `json:"success"`
	Score              *float64 `json:"score"`
	PronunciationScore *float64 `json:"pronunciation_score"`
	Feedback           string   `json:"feedback"`
	Strengths          []string `json:"strengths"`
	Improvements       []string `json:"improvements"`
	TargetSentence     string   `json:"target_sentence"`
	TranscribedText    string   `json:"transcribed_text"`
	Error              string   `json:"error"`
}

// Grade posts the submission to the module submit path.
//
// It returns backend.ErrSessionInvalid on 401, *RejectedError on success=false and
// transport or decode errors otherwise.
func (c *Client) Grade(ctx context.Context, sub Submission) (Result, error) {
	body := map[string]any{
		c.profile.IDKey:    sub.PromptID,
		"transcribed_text": sub.Transcript,
		"duration":         sub.DurationSeconds(),
	}

	var resp response
	if err := c.backend.PostJSON(ctx, c.profile.SubmitPath, body, &resp); err != nil {
		return Result{}, fmt.Errorf("grade %s submission: %w", c.profile.Name, err)
	}
	if resp.Success != nil && !*resp.Success {
		return Result{}, &RejectedError{Message: resp.Error}
	}

	result := Result{
		Feedback:     resp.Feedback,
		Strengths:    resp.Strengths,
		Improvements: resp.Improvements,
		TargetText:   resp.TargetSentence,
		Transcript:   resp.TranscribedText,
	}
	switch {
	case resp.PronunciationScore != nil:
		result.Score = *resp.PronunciationScore
	case resp.Score != nil:
		result.Score = *resp.Score
	}
	if result.Transcript == "" {
		result.Transcript = sub.Transcript
	}
	return result, nil
}
