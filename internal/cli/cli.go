// Package cli parses speakcoach command-line arguments.
package cli

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rbright/speakcoach/internal/event"
)

type Command string

const (
	CommandChat     Command = "chat"
	CommandDiagnose Command = "diagnose"
	CommandStatus   Command = "status"
	CommandCancel   Command = "cancel"
	CommandDevices  Command = "devices"
	CommandDoctor   Command = "doctor"
	CommandVersion  Command = "version"
	CommandHelp     Command = "help"
)

var validCommands = map[Command]struct{}{
	CommandChat:     {},
	CommandDiagnose: {},
	CommandStatus:   {},
	CommandCancel:   {},
	CommandDevices:  {},
	CommandDoctor:   {},
	CommandVersion:  {},
	CommandHelp:     {},
}

// Parsed is the resolved invocation.
type Parsed struct {
	Command    Command
	ConfigPath string
	ShowHelp   bool

	// chat
	File    string
	Retries int

	// diagnose
	Kind    event.Kind
	Content string
}

func Parse(args []string) (Parsed, error) {
	parsed := Parsed{Command: CommandHelp, ShowHelp: true}

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
			if err := parseCommandArgs(&parsed, args[i+1:]); err != nil {
				return Parsed{}, err
			}
			return parsed, nil
		}
	}

	return parsed, nil
}

func parseCommandArgs(parsed *Parsed, rest []string) error {
	switch parsed.Command {
	case CommandChat:
		return parseChatArgs(parsed, rest)
	case CommandDiagnose:
		return parseDiagnoseArgs(parsed, rest)
	default:
		if len(rest) > 0 {
			return fmt.Errorf("unexpected arguments after command %q", parsed.Command)
		}
		return nil
	}
}

func parseChatArgs(parsed *Parsed, rest []string) error {
	for i := 0; i < len(rest); i++ {
		arg := rest[i]
		switch {
		case arg == "--retries":
			i++
			if i >= len(rest) {
				return errors.New("--retries requires a count")
			}
			if err := setRetries(parsed, rest[i]); err != nil {
				return err
			}
		case strings.HasPrefix(arg, "--retries="):
			if err := setRetries(parsed, strings.TrimPrefix(arg, "--retries=")); err != nil {
				return err
			}
		case strings.HasPrefix(arg, "-") && arg != "-":
			return fmt.Errorf("unknown chat flag: %s", arg)
		default:
			if parsed.File != "" {
				return fmt.Errorf("chat takes one recording, got %q and %q", parsed.File, arg)
			}
			parsed.File = arg
		}
	}
	if parsed.File == "" {
		return errors.New("chat requires a recording file")
	}
	return nil
}

func setRetries(parsed *Parsed, raw string) error {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fmt.Errorf("--retries must be a non-negative integer, got %q", raw)
	}
	parsed.Retries = n
	return nil
}

func parseDiagnoseArgs(parsed *Parsed, rest []string) error {
	if len(rest) == 0 {
		return errors.New("diagnose requires a kind and content")
	}
	kind, err := event.ParseKind(rest[0])
	if err != nil {
		return err
	}
	content := strings.TrimSpace(strings.Join(rest[1:], " "))
	if content == "" {
		return errors.New("diagnose requires content to analyze")
	}
	parsed.Kind = kind
	parsed.Content = content
	return nil
}

func HelpText(binaryName string) string {
	return fmt.Sprintf(`Usage:
  %[1]s [--config PATH] <command> [args]

Commands:
  chat FILE [--retries N]    Upload a recording and stream the coach reply
  diagnose KIND CONTENT...   Run an advanced diagnosis (pronunciation, grammar, user-response)
  status                     Print the state of a running chat
  cancel                     Cancel a running chat
  devices                    List audio output devices
  doctor                     Run configuration and environment checks
  version                    Print version information
  help                       Show this help

Flags:
  --config PATH   Config file path (default: $XDG_CONFIG_HOME/speakcoach/config.jsonc)
  -h, --help      Show help
  --version       Show version
`, binaryName)
}
