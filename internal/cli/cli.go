// Package cli parses recital's command line.
package cli

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rbright/recital/internal/ipc"
)

type Command string

const (
	CommandRun     Command = "run"
	CommandToggle  Command = "toggle"
	CommandStop    Command = "stop"
	CommandNext    Command = "next"
	CommandPlay    Command = "play"
	CommandRetry   Command = "retry"
	CommandStatus  Command = "status"
	CommandQuit    Command = "quit"
	CommandHistory Command = "history"
	CommandDevices Command = "devices"
	CommandDoctor  Command = "doctor"
	CommandVersion Command = "version"
	CommandHelp    Command = "help"
)

var validCommands = map[Command]struct{}{
	CommandRun:     {},
	CommandToggle:  {},
	CommandStop:    {},
	CommandNext:    {},
	CommandPlay:    {},
	CommandRetry:   {},
	CommandStatus:  {},
	CommandQuit:    {},
	CommandHistory: {},
	CommandDevices: {},
	CommandDoctor:  {},
	CommandVersion: {},
	CommandHelp:    {},
}

// Forwarded reports whether the command is handled by the running session owner.
func (c Command) Forwarded() bool {
	return ipc.KnownCommand(string(c))
}

// DefaultHistoryLimit is the number of attempts `history` prints without --limit.
const DefaultHistoryLimit = 10

type Parsed struct {
	Command    Command
	ConfigPath string
	Module     string
	Limit      int
	ShowHelp   bool
}

func Parse(args []string) (Parsed, error) {
	parsed := Parsed{Command: CommandHelp, ShowHelp: true, Limit: DefaultHistoryLimit}

	for i := 0; i < len(args); i++ {
		arg := args[i]

		switch arg {
		case "-h", "--help":
			parsed.ShowHelp = true
			parsed.Command = CommandHelp
		case "--version":
			parsed.ShowHelp = false
			parsed.Command = CommandVersion
		case "--config":
			i++
			if i >= len(args) {
				return Parsed{}, errors.New("--config requires a path")
			}
			parsed.ConfigPath = args[i]
		case "--module", "-m":
			i++
			if i >= len(args) || strings.TrimSpace(args[i]) == "" {
				return Parsed{}, fmt.Errorf("%s requires a module name", arg)
			}
			parsed.Module = strings.ToLower(strings.TrimSpace(args[i]))
		case "--limit":
			i++
			if i >= len(args) {
				return Parsed{}, errors.New("--limit requires a number")
			}
			n, err := strconv.Atoi(args[i])
			if err != nil || n <= 0 {
				return Parsed{}, fmt.Errorf("--limit must be a positive integer, got %q", args[i])
			}
			parsed.Limit = n
		default:
			if strings.HasPrefix(arg, "-") {
				return Parsed{}, fmt.Errorf("unknown flag: %s", arg)
			}

			cmd := Command(arg)
			if _, ok := validCommands[cmd]; !ok {
				return Parsed{}, fmt.Errorf("unknown command: %s", arg)
			}

			parsed.Command = cmd
			parsed.ShowHelp = cmd == CommandHelp
			if i != len(args)-1 {
				return Parsed{}, fmt.Errorf("unexpected arguments after command %q", arg)
			}
		}
	}

	return parsed, nil
}

func HelpText(binaryName string) string {
	return fmt.Sprintf(`Usage:
  %[1]s [--config PATH] [--module NAME] [--limit N] <command>

Session:
  run       Start a practice session for --module (read, listen, topic; default read)
  toggle    Start recording, or stop and submit when already recording
  stop      Stop the current recording and submit what was captured
  next      Load the next prompt in the running module
  play      Play the current prompt's audio (required before recording in listen)
  retry     Resend the last transcript whose submission failed
  status    Print the running session's state and progress
  quit      End the running session

Other:
  history   Print recent graded attempts (filtered by --module when given)
  devices   List available input devices
  doctor    Run configuration and environment checks
  version   Print version information
  help      Show this help

Flags:
  --config PATH   Config file path (default: $XDG_CONFIG_HOME/recital/config.jsonc)
  -m, --module    Module name; forwarded commands fail if another module is running
  --limit N       Number of history rows (default %[2]d)
  -h, --help      Show help
  --version       Show version

Exit codes: 0 ok, 1 error, 2 usage error, 3 account session invalid (sign in again).
`, binaryName, DefaultHistoryLimit)
}
