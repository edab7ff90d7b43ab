// Package pathvalidator classifies a host path string against the guard's
// home-anchored policy. It is the leaf dependency of the policy engine: the
// argument parser and compose analyser never make a path decision
// themselves, they only collect path strings for this package to classify.
package pathvalidator

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/chis/safe-docker/internal/config"
)

// Kind is the four-way classification of a single host path.
type Kind string

const (
	Allowed      Kind = "allowed"
	Sensitive    Kind = "sensitive"
	Denied       Kind = "denied"
	Unresolvable Kind = "unresolvable"
)

// Verdict is the result of classifying one path.
type Verdict struct {
	Kind   Kind
	Reason string
}

func allowed() Verdict                { return Verdict{Kind: Allowed} }
func sensitive(reason string) Verdict { return Verdict{Kind: Sensitive, Reason: reason} }
func denied(reason string) Verdict    { return Verdict{Kind: Denied, Reason: reason} }
func unresolvable(reason string) Verdict {
	return Verdict{Kind: Unresolvable, Reason: reason}
}

// Validate classifies path under cfg. cwd is used to resolve relative paths
// when real-filesystem canonicalisation is unavailable.
func Validate(path string, cfg *config.Config, cwd string) Verdict {
	if path == "" {
		return denied("empty path")
	}

	expanded := expandKnownVars(path, cwd)

	if hasUnresolvedVars(expanded) {
		return unresolvable("path contains an unresolved variable: " + path)
	}

	if cfg.BlockDockerSocket {
		if isDockerSocket(expanded) {
			return denied("docker socket mount is not allowed: " + path)
		}
		normalized := logicalNormalize(expanded, cwd)
		if isDockerSocket(normalized) {
			return denied("docker socket mount is not allowed: " + path)
		}
	}

	canonical, ok := canonicalize(expanded, cwd)
	if !ok {
		canonical = logicalNormalize(expanded, cwd)
	}

	if cfg.IsPathAllowed(canonical) {
		return allowed()
	}

	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return unresolvable("could not resolve $HOME to classify path: " + path)
	}
	homeCanonical := home
	if resolved, ok := canonicalize(home, cwd); ok {
		homeCanonical = resolved
	}

	if canonical == homeCanonical || strings.HasPrefix(canonical, homeCanonical+"/") {
		rel := strings.TrimPrefix(canonical, homeCanonical)
		rel = strings.TrimPrefix(rel, "/")
		if cfg.IsPathSensitive(rel) {
			return sensitive("path under $HOME matches a sensitive prefix: " + path)
		}
		return allowed()
	}

	return denied("path is outside $HOME: " + path)
}

// expandKnownVars expands only ~, ~/…, $HOME, ${HOME}, $PWD, ${PWD}. No
// other variable is expanded — spec.md §4.1 step 2.
func expandKnownVars(path, cwd string) string {
	home, _ := os.UserHomeDir()

	replacer := func(s string) string {
		s = strings.ReplaceAll(s, "${HOME}", home)
		s = strings.ReplaceAll(s, "${PWD}", cwd)
		return s
	}
	expanded := replacer(path)

	// $HOME / $PWD without braces: only replace when not immediately
	// followed by an identifier character (so $HOMEDIR is untouched).
	expanded = expandBareVar(expanded, "$HOME", home)
	expanded = expandBareVar(expanded, "$PWD", cwd)

	if expanded == "~" {
		return home
	}
	if strings.HasPrefix(expanded, "~/") {
		return home + expanded[1:]
	}
	return expanded
}

func expandBareVar(s, token, value string) string {
	var b strings.Builder
	for {
		idx := strings.Index(s, token)
		if idx == -1 {
			b.WriteString(s)
			break
		}
		after := idx + len(token)
		isBoundary := after >= len(s) || !isIdentChar(rune(s[after]))
		b.WriteString(s[:idx])
		if isBoundary {
			b.WriteString(value)
		} else {
			b.WriteString(token)
		}
		s = s[after:]
	}
	return b.String()
}

func isIdentChar(r rune) bool {
	return r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

// hasUnresolvedVars reports whether s still contains a `$` followed by a
// letter, underscore, or `{` — i.e. a variable reference this validator
// does not expand.
func hasUnresolvedVars(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] != '$' {
			continue
		}
		if i+1 >= len(s) {
			continue
		}
		next := rune(s[i+1])
		if next == '{' || isIdentChar(next) && !(next >= '0' && next <= '9') {
			return true
		}
	}
	return false
}

func isDockerSocket(path string) bool {
	trimmed := strings.TrimRight(path, "/")
	if trimmed == "/var/run/docker.sock" || trimmed == "/run/docker.sock" {
		return true
	}
	return strings.HasSuffix(trimmed, "/docker.sock")
}

// canonicalize resolves path against real filesystem state, following
// symlinks. Returns ok=false when the path cannot be resolved (e.g. it does
// not exist).
func canonicalize(path, cwd string) (string, bool) {
	abs := path
	if !filepath.IsAbs(path) {
		abs = filepath.Join(cwd, path)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", false
	}
	return resolved, true
}

// logicalNormalize resolves "." and ".." components and collapses repeated
// separators without touching the filesystem and without ever escaping the
// root. Used when real canonicalisation is unavailable (the path does not
// exist yet, e.g. a bind-mount target under creation).
func logicalNormalize(path, cwd string) string {
	abs := path
	if !filepath.IsAbs(path) {
		abs = filepath.Join(cwd, path)
	}
	return filepath.Clean(abs)
}
