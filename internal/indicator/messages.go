package indicator

import (
	"os"
	"strings"
)

type locale string

const (
	localeEnglish locale = "en"
)

type messages struct {
	recording          string
	stopping           string
	grading            string
	errorText          string
	reauth             string
	complete           string
	promptFormat       string
	countdownFormat    string
	scoreFormat        string
	completeNextFormat string
}

func indicatorMessagesFromEnv() messages {
	return indicatorMessages(resolveLocale(os.Getenv("LANG")))
}

func resolveLocale(raw string) locale {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if strings.HasPrefix(raw, "en") {
		return localeEnglish
	}
	return localeEnglish
}

func indicatorMessages(tag locale) messages {
	switch tag {
	case localeEnglish:
		fallthrough
	default:
		return messages{
			recording:          "Recording…",
			stopping:           "Finishing…",
			grading:            "Grading…",
			errorText:          "Speech recognition error",
			reauth:             "Session expired. Sign in again, then run `recital run`.",
			complete:           "Module complete",
			promptFormat:       "Question %d/%d: %s",
			countdownFormat:    "Starting in %d…",
			scoreFormat:        "Score %.0f",
			completeNextFormat: "Module complete. Next: %s",
		}
	}
}
