package ipc

import "slices"

// Commands are the requests a running module owner accepts.
var Commands = []string{"toggle", "stop", "next", "play", "retry", "status", "quit"}

// KnownCommand reports whether name is one of Commands.
func KnownCommand(name string) bool {
	return slices.Contains(Commands, name)
}

// Request is one command sent to the running module owner.
type Request struct {
	Command string `json:"command"`
	// Module names the module the sender expects to be running; empty matches any.
	Module string `json:"module,omitempty"`
}

type Response struct {
	OK      bool    `json:"ok"`
	State   string  `json:"state,omitempty"`
	Message string  `json:"message,omitempty"`
	Error   string  `json:"error,omitempty"`
	Status  *Status `json:"status,omitempty"`
}

// Status is the progress view returned by the status command.
type Status struct {
	Module       string `json:"module"`
	Question     int    `json:"question"`
	MaxQuestions int    `json:"max_questions"`
	Attempts     int    `json:"attempts"`
	MaxAttempts  int    `json:"max_attempts"`
	Prompt       string `json:"prompt,omitempty"`
	CanRecord    bool   `json:"can_record"`
	HasPlayed    bool   `json:"has_played"`
	PendingRetry bool   `json:"pending_retry"`
}
