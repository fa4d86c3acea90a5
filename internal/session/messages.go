package session

import (
	"fmt"

	"github.com/rbright/recital/internal/recognition"
)

// recognitionMessage maps recognizer failures to user-facing text.
func recognitionMessage(kind recognition.ErrorKind) string {
	switch kind {
	case recognition.ErrorPermissionDenied:
		return "Microphone access denied. Check audio permissions and try again."
	case recognition.ErrorServiceUnavailable:
		return "Speech recognition service unavailable."
	case recognition.ErrorNoSpeech:
		return "No speech detected. Please try again."
	case recognition.ErrorNetwork:
		return "Speech recognition network error. Please try again."
	case recognition.ErrorAborted:
		return "Speech recognition stopped unexpectedly."
	default:
		return "Speech recognition failed."
	}
}

func attemptLimitMessage(used int, max int) string {
	return fmt.Sprintf("attempt limit reached (%d/%d); run `recital next` for a new prompt", used, max)
}
