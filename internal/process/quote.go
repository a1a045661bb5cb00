package process

import (
	"strings"

	"sqlferry/internal/logging"
)

// QuoteArg escapes one argument for a POSIX shell. Arguments made only of
// safe characters are returned unchanged.
func QuoteArg(arg string) string {
	if arg == "" {
		return "''"
	}
	if isShellSafe(arg) {
		return arg
	}
	return "'" + strings.ReplaceAll(arg, "'", `'\''`) + "'"
}

func isShellSafe(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case strings.ContainsRune("_@%+=:,./-", r):
		default:
			return false
		}
	}
	return true
}

// FormatCommand renders a command line that can be pasted into a shell, with
// every credential replaced by the redaction marker.
func FormatCommand(command Command) string {
	parts := make([]string, 0, len(command.Env)+len(command.Args)+1)
	for _, kv := range logging.RedactEnv(command.Env) {
		key, value, found := strings.Cut(logging.RedactSecrets(kv, command.Secrets...), "=")
		if !found {
			continue
		}
		parts = append(parts, key+"="+QuoteArg(value))
	}

	parts = append(parts, QuoteArg(command.Path))
	args := make([]string, len(command.Args))
	for i, arg := range command.Args {
		args[i] = logging.RedactSecrets(arg, command.Secrets...)
	}
	for _, arg := range logging.RedactArgs(args) {
		parts = append(parts, QuoteArg(arg))
	}
	return strings.Join(parts, " ")
}
