package config

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/rbright/recital/internal/prompt"
)

// parseSynthCommand turns playback.synth_cmd into argv. An empty or #-prefixed value
// disables synthesis. The prompt placeholder may fill at most one argument.
func parseSynthCommand(raw string) (CommandConfig, error) {
	cmd := CommandConfig{Raw: raw}
	line := strings.TrimSpace(raw)
	if line == "" || strings.HasPrefix(line, "#") {
		return cmd, nil
	}

	argv, err := splitArgv(line)
	if err != nil {
		return CommandConfig{}, err
	}

	holders := 0
	for i, arg := range argv {
		n := strings.Count(arg, prompt.TextPlaceholder)
		if n == 0 {
			continue
		}
		if i == 0 {
			return CommandConfig{}, fmt.Errorf("%s cannot stand in for the program name", prompt.TextPlaceholder)
		}
		holders += n
	}
	if holders > 1 {
		return CommandConfig{}, fmt.Errorf("%s may appear only once, found %d", prompt.TextPlaceholder, holders)
	}

	cmd.Argv = argv
	return cmd, nil
}

// splitArgv splits line on unquoted whitespace. Single and double quotes group words
// and a backslash takes the next rune literally, inside double quotes too.
func splitArgv(line string) ([]string, error) {
	var (
		argv    []string
		word    strings.Builder
		inWord  bool
		quote   rune
		escaped bool
	)

	for _, r := range line {
		if escaped {
			word.WriteRune(r)
			escaped = false
			continue
		}
		switch {
		case r == '\\' && quote != '\'':
			escaped, inWord = true, true
		case quote != 0 && r == quote:
			quote = 0
		case quote != 0:
			word.WriteRune(r)
		case r == '\'' || r == '"':
			quote, inWord = r, true
		case unicode.IsSpace(r):
			if inWord {
				argv = append(argv, word.String())
				word.Reset()
				inWord = false
			}
		default:
			word.WriteRune(r)
			inWord = true
		}
	}

	switch {
	case escaped:
		return nil, fmt.Errorf("unterminated escape sequence in command: %q", line)
	case quote != 0:
		return nil, fmt.Errorf("unterminated quote in command: %q", line)
	}
	if inWord {
		argv = append(argv, word.String())
	}
	return argv, nil
}
