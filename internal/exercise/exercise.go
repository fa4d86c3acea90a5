// Package exercise describes the speaking exercise modules and their timing rules.
package exercise

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rbright/recital/internal/attempt"
	"github.com/rbright/recital/internal/countdown"
	"github.com/rbright/recital/internal/recognition"
)

const (
	Read   = "read"
	Listen = "listen"
	Topic  = "topic"
)

// Profile is the fixed behavior of one exercise module.
type Profile struct {
	Name  string
	Title string
	Mode  recognition.Mode

	// CountdownSeconds is the pre-roll before recording; zero starts recording at once.
	CountdownSeconds int
	// Budget is the hard recording limit; zero means the attempt runs until stopped.
	Budget time.Duration
	// RequiresPlayback gates recording on the prompt audio having played.
	RequiresPlayback bool

	MaxAttempts  int
	MaxQuestions int

	PromptPath string
	SubmitPath string
	IDKey      string
	TextKey    string

	// Next names the module offered once MaxQuestions prompts are done.
	Next string
}

// PreRoll reports whether the module counts down before recording.
func (p Profile) PreRoll() bool {
	return p.CountdownSeconds > 0
}

// Timed reports whether the module enforces a recording budget.
func (p Profile) Timed() bool {
	return p.Budget > 0
}

var defaults = map[string]Profile{
	Read: {
		Name:             Read,
		Title:            "Read & Speak",
		Mode:             recognition.SingleShot,
		CountdownSeconds: countdown.DefaultSeconds,
		MaxAttempts:      attempt.DefaultMax,
		MaxQuestions:     5,
		PromptPath:       "/api/moduleA/sentence",
		SubmitPath:       "/api/moduleA",
		IDKey:            "sentence_id",
		TextKey:          "sentence",
		Next:             Listen,
	},
	Listen: {
		Name:             Listen,
		Title:            "Listen & Repeat",
		Mode:             recognition.SingleShot,
		CountdownSeconds: countdown.DefaultSeconds,
		RequiresPlayback: true,
		MaxAttempts:      attempt.DefaultMax,
		MaxQuestions:     5,
		PromptPath:       "/api/moduleB/sentence",
		SubmitPath:       "/api/moduleB",
		IDKey:            "sentence_id",
		TextKey:          "sentence",
		Next:             Topic,
	},
	Topic: {
		Name:         Topic,
		Title:        "Topic Speaking",
		Mode:         recognition.Continuous,
		Budget:       120 * time.Second,
		MaxAttempts:  attempt.DefaultMax,
		MaxQuestions: 1,
		PromptPath:   "/api/moduleC/topic",
		SubmitPath:   "/api/moduleC",
		IDKey:        "topic_id",
		TextKey:      "topic",
	},
}

// Lookup returns the built-in profile for name.
func Lookup(name string) (Profile, error) {
	profile, ok := defaults[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Profile{}, fmt.Errorf("unknown module %q (expected one of %s)", name, strings.Join(Names(), ", "))
	}
	return profile, nil
}

// Names lists the built-in module names in sorted order.
func Names() []string {
	names := make([]string, 0, len(defaults))
	for name := range defaults {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Override carries optional per-module overrides from configuration.
type Override struct {
	CountdownSeconds *int
	BudgetSeconds    *int
	MaxAttempts      *int
	MaxQuestions     *int
}

// Apply returns a copy of p with the set override fields applied.
func (p Profile) Apply(o Override) Profile {
	if o.CountdownSeconds != nil {
		p.CountdownSeconds = *o.CountdownSeconds
	}
	if o.BudgetSeconds != nil {
		p.Budget = time.Duration(*o.BudgetSeconds) * time.Second
	}
	if o.MaxAttempts != nil {
		p.MaxAttempts = *o.MaxAttempts
	}
	if o.MaxQuestions != nil {
		p.MaxQuestions = *o.MaxQuestions
	}
	return p
}
