// Package shell segments a raw Bash command string into pipeline/chain
// segments and detects attempts to reach "docker" indirectly through a
// shell wrapper (eval, bash -c, xargs). It never interprets redirections,
// globs, or variable expansion beyond what is needed to find segment
// boundaries and keyword matches — that is the argument parser's job once
// a segment has been identified as a docker invocation.
package shell

import (
	"strings"

	"github.com/google/shlex"
)

// SplitCommands splits command on unquoted |, ||, &&, bare &, ;, and
// newlines, leaving $(...) subshells and `...` backticks intact as part of
// whichever segment they fall in.
func SplitCommands(command string) []string {
	var segments []string
	var current strings.Builder

	runes := []rune(command)
	inSingle, inDouble, escapeNext := false, false, false

	for i := 0; i < len(runes); i++ {
		ch := runes[i]

		if escapeNext {
			current.WriteRune(ch)
			escapeNext = false
			continue
		}

		if ch == '\\' && !inSingle {
			escapeNext = true
			current.WriteRune(ch)
			continue
		}

		if ch == '\'' && !inDouble {
			inSingle = !inSingle
			current.WriteRune(ch)
			continue
		}

		if ch == '"' && !inSingle {
			inDouble = !inDouble
			current.WriteRune(ch)
			continue
		}

		if inSingle || inDouble {
			current.WriteRune(ch)
			continue
		}

		if ch == '$' && i+1 < len(runes) && runes[i+1] == '(' {
			current.WriteRune(ch)
			consumed, n := consumeSubshell(runes[i+1:])
			current.WriteString(consumed)
			i += n
			continue
		}

		if ch == '`' {
			current.WriteRune(ch)
			i++
			for i < len(runes) {
				current.WriteRune(runes[i])
				if runes[i] == '`' {
					break
				}
				i++
			}
			continue
		}

		if ch == '|' {
			if i+1 < len(runes) && runes[i+1] == '|' {
				i++
			}
			pushSegment(&segments, current.String())
			current.Reset()
			continue
		}

		if ch == '&' {
			if i+1 < len(runes) && runes[i+1] == '&' {
				i++
				pushSegment(&segments, current.String())
				current.Reset()
				continue
			}
			pushSegment(&segments, current.String())
			current.Reset()
			continue
		}

		if ch == ';' || ch == '\n' {
			pushSegment(&segments, current.String())
			current.Reset()
			continue
		}

		current.WriteRune(ch)
	}

	pushSegment(&segments, current.String())
	if segments == nil {
		segments = []string{}
	}
	return segments
}

// consumeSubshell consumes a $(...) body starting at the opening '(' of
// runes, tracking quote state so nested/quoted parens don't affect depth.
// Returns the consumed text (including the closing paren) and how many
// runes of the input were consumed.
func consumeSubshell(runes []rune) (string, int) {
	var result strings.Builder
	depth := 0
	inSingle, inDouble, escapeNext := false, false, false

	i := 0
	for ; i < len(runes); i++ {
		ch := runes[i]
		result.WriteRune(ch)

		if escapeNext {
			escapeNext = false
			continue
		}
		if ch == '\\' && !inSingle {
			escapeNext = true
			continue
		}
		if ch == '\'' && !inDouble {
			inSingle = !inSingle
			continue
		}
		if ch == '"' && !inSingle {
			inDouble = !inDouble
			continue
		}
		if inSingle || inDouble {
			continue
		}
		if ch == '(' {
			depth++
		} else if ch == ')' {
			depth--
			if depth == 0 {
				i++
				break
			}
		}
	}
	return result.String(), i
}

func pushSegment(segments *[]string, segment string) {
	trimmed := strings.TrimSpace(segment)
	if trimmed != "" {
		*segments = append(*segments, trimmed)
	}
}

// DetectShellWrapper reports whether segment attempts to reach docker
// indirectly via eval, bash/sh/zsh -c, or xargs, optionally behind a single
// leading sudo.
func DetectShellWrapper(segment string) bool {
	trimmed := strings.TrimSpace(segment)
	cmdPart := SkipEnvAssignments(trimmed)

	if rest, ok := strings.CutPrefix(cmdPart, "eval "); ok && containsDockerKeyword(rest) {
		return true
	}

	if isShellDashCWithDocker(cmdPart) {
		return true
	}

	afterSudo, hasSudo := cutSudoPrefix(cmdPart)
	if hasSudo {
		if rest, ok := strings.CutPrefix(afterSudo, "eval "); ok && containsDockerKeyword(rest) {
			return true
		}
		if isShellDashCWithDocker(afterSudo) {
			return true
		}
		if strings.HasPrefix(afterSudo, "xargs ") || strings.HasPrefix(afterSudo, "xargs\t") {
			if containsDockerKeyword(strings.TrimPrefix(afterSudo, "xargs")) {
				return true
			}
		}
	}

	if strings.HasPrefix(cmdPart, "xargs ") || strings.HasPrefix(cmdPart, "xargs\t") {
		rest := strings.TrimLeft(strings.TrimPrefix(cmdPart, "xargs"), " \t")
		if containsDockerKeyword(rest) {
			return true
		}
	}

	return false
}

func cutSudoPrefix(cmd string) (string, bool) {
	if rest, ok := strings.CutPrefix(cmd, "sudo "); ok {
		return strings.TrimLeft(rest, " \t"), true
	}
	if rest, ok := strings.CutPrefix(cmd, "sudo\t"); ok {
		return strings.TrimLeft(rest, " \t"), true
	}
	return cmd, false
}

func containsDockerKeyword(s string) bool {
	return strings.Contains(s, "docker")
}

func isShellDashCWithDocker(cmd string) bool {
	shellPrefixes := []string{
		"bash ", "bash\t", "sh ", "sh\t", "zsh ", "zsh\t",
		"/bin/bash ", "/bin/bash\t", "/bin/sh ", "/bin/sh\t",
		"/usr/bin/bash ", "/usr/bin/bash\t", "/usr/bin/sh ", "/usr/bin/sh\t",
	}

	var args string
	matched := false
	for _, prefix := range shellPrefixes {
		if rest, ok := strings.CutPrefix(cmd, prefix); ok {
			args = strings.TrimLeft(rest, " \t")
			matched = true
			break
		}
	}
	if !matched {
		return false
	}

	if rest, ok := strings.CutPrefix(args, "-c "); ok {
		return containsDockerKeyword(rest)
	}
	if rest, ok := strings.CutPrefix(args, "-c\t"); ok {
		return containsDockerKeyword(rest)
	}

	parts := strings.SplitN(args, " ", 3)
	for idx, part := range parts {
		if part == "-c" && idx+1 < len(parts) {
			return containsDockerKeyword(strings.Join(parts[idx+1:], " "))
		}
	}
	return false
}

// IsDockerCommand reports whether segment (after skipping leading
// environment variable assignments and an optional "sudo") invokes docker
// or docker-compose.
func IsDockerCommand(segment string) bool {
	cmdPart := SkipEnvAssignments(strings.TrimSpace(segment))

	return cmdPart == "docker" ||
		strings.HasPrefix(cmdPart, "docker ") ||
		strings.HasPrefix(cmdPart, "docker\t") ||
		cmdPart == "docker-compose" ||
		strings.HasPrefix(cmdPart, "docker-compose ") ||
		strings.HasPrefix(cmdPart, "docker-compose\t") ||
		strings.HasPrefix(cmdPart, "sudo docker") ||
		strings.HasPrefix(cmdPart, "sudo docker-compose")
}

// SkipEnvAssignments skips any number of leading NAME=VALUE environment
// variable assignments and returns what follows.
func SkipEnvAssignments(cmd string) string {
	rest := cmd
	for {
		trimmed := strings.TrimLeft(rest, " \t")
		eqPos := strings.IndexByte(trimmed, '=')
		if eqPos < 0 {
			return trimmed
		}
		beforeEq := trimmed[:eqPos]
		if !isValidEnvName(beforeEq) {
			return trimmed
		}
		afterEq := trimmed[eqPos+1:]
		valueEnd := findValueEnd(afterEq)
		remaining := afterEq[valueEnd:]
		if remaining == "" {
			return trimmed
		}
		rest = remaining
	}
}

func isValidEnvName(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		isAlnum := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_'
		if !isAlnum {
			return false
		}
		if i == 0 && r >= '0' && r <= '9' {
			return false
		}
	}
	return true
}

func findValueEnd(s string) int {
	i := 0
	if i < len(s) && s[i] == '\'' {
		i++
		for i < len(s) && s[i] != '\'' {
			i++
		}
		if i < len(s) {
			i++
		}
	} else if i < len(s) && s[i] == '"' {
		i++
		for i < len(s) && s[i] != '"' {
			if s[i] == '\\' {
				i++
			}
			i++
		}
		if i < len(s) {
			i++
		}
	} else {
		for i < len(s) && s[i] != ' ' && s[i] != '\t' {
			i++
		}
	}
	for i < len(s) && (s[i] == ' ' || s[i] == '\t') {
		i++
	}
	return i
}

// ExtractDockerArgs strips leading env assignments, an optional sudo, and
// the docker/docker-compose binary name from segment, returning the
// remaining arguments word-split the way a shell would. docker-compose is
// normalized to a leading "compose" argument to match docker's own
// subcommand form.
func ExtractDockerArgs(segment string) []string {
	cmdPart := SkipEnvAssignments(strings.TrimSpace(segment))

	dockerPart := cmdPart
	if rest, ok := strings.CutPrefix(cmdPart, "sudo "); ok {
		dockerPart = strings.TrimLeft(rest, " \t")
	} else if rest, ok := strings.CutPrefix(cmdPart, "sudo\t"); ok {
		dockerPart = strings.TrimLeft(rest, " \t")
	}

	var argsPart string
	if rest, ok := strings.CutPrefix(dockerPart, "docker-compose"); ok {
		argsPart = "compose " + strings.TrimLeft(rest, " \t")
	} else if rest, ok := strings.CutPrefix(dockerPart, "docker"); ok {
		argsPart = strings.TrimLeft(rest, " \t")
	} else {
		return []string{}
	}

	args, err := shlex.Split(argsPart)
	if err != nil {
		return strings.Fields(argsPart)
	}
	if args == nil {
		args = []string{}
	}
	return args
}
