// Package fsm defines the recording session state machine.
package fsm

import "fmt"

type State string

type Event string

const (
	StateIdle         State = "idle"
	StateCountingDown State = "countingdown"
	StateRecording    State = "recording"
	StateStopping     State = "stopping"
	StateSubmitting   State = "submitting"
	StateLocked       State = "locked"
)

const (
	EventArm        Event = "arm"
	EventBegin      Event = "begin"
	EventStop       Event = "stop"
	EventFinalize   Event = "finalize"
	EventSettle     Event = "settle"
	EventAbort      Event = "abort"
	EventResubmit   Event = "resubmit"
	EventReset      Event = "reset"
	EventInvalidate Event = "invalidate"
)

// Transition returns the state reached from current on event.
//
// Reset returns any known state to idle and invalidate locks any known state.
func Transition(current State, event Event) (State, error) {
	if !known(current) {
		return current, fmt.Errorf("unknown state %q", current)
	}
	switch event {
	case EventInvalidate:
		return StateLocked, nil
	case EventReset:
		return StateIdle, nil
	}

	switch current {
	case StateIdle:
		switch event {
		case EventArm:
			return StateCountingDown, nil
		case EventBegin:
			return StateRecording, nil
		case EventResubmit:
			return StateSubmitting, nil
		}
	case StateCountingDown:
		switch event {
		case EventBegin:
			return StateRecording, nil
		case EventAbort:
			return StateIdle, nil
		}
	case StateRecording:
		switch event {
		case EventStop:
			return StateStopping, nil
		case EventAbort:
			return StateIdle, nil
		}
	case StateStopping:
		switch event {
		case EventFinalize:
			return StateSubmitting, nil
		case EventAbort:
			return StateIdle, nil
		}
	case StateSubmitting:
		if event == EventSettle {
			return StateIdle, nil
		}
	}
	return current, invalidTransition(current, event)
}

// Active reports whether state holds one of the exclusive capture phases.
func Active(state State) bool {
	switch state {
	case StateCountingDown, StateRecording, StateStopping, StateSubmitting:
		return true
	default:
		return false
	}
}

func known(state State) bool {
	switch state {
	case StateIdle, StateCountingDown, StateRecording, StateStopping, StateSubmitting, StateLocked:
		return true
	default:
		return false
	}
}

func invalidTransition(state State, event Event) error {
	return fmt.Errorf("invalid transition: %s --(%s)--> ?", state, event)
}
