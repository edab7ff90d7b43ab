// Package verdict defines the three-way decision every component above the
// policy engine ultimately produces, and the rendering/aggregation rules
// shared between a single invocation's policy evaluation and the
// whole-command aggregation across shell segments.
package verdict

import "strings"

// Kind is the three-way decision, ordered Allow < Ask < Deny.
type Kind string

const (
	Allow Kind = "allow"
	Ask   Kind = "ask"
	Deny  Kind = "deny"
)

// Verdict is a decision with its rendered human-readable reason. Reason is
// empty for Allow.
type Verdict struct {
	Kind   Kind
	Reason string
}

// AllowVerdict is the zero-reason Allow verdict.
func AllowVerdict() Verdict { return Verdict{Kind: Allow} }

// Render formats a non-empty reason list the way the policy engine's
// single-invocation evaluation does: one reason is rendered inline, more
// than one is grouped under a "Multiple issues found:" header with "  - "
// bullets. The result always begins "[safe-docker] ".
func Render(reasons []string) string {
	if len(reasons) == 1 {
		return "[safe-docker] " + reasons[0]
	}
	var b strings.Builder
	b.WriteString("[safe-docker] Multiple issues found:")
	for _, r := range reasons {
		b.WriteString("\n  - ")
		b.WriteString(r)
	}
	return b.String()
}

// FromReasons aggregates one invocation's accumulated deny/ask reasons into
// a single Verdict: deny takes priority over ask, which takes priority over
// allow.
func FromReasons(denyReasons, askReasons []string) Verdict {
	if len(denyReasons) > 0 {
		return Verdict{Kind: Deny, Reason: Render(denyReasons)}
	}
	if len(askReasons) > 0 {
		return Verdict{Kind: Ask, Reason: Render(askReasons)}
	}
	return AllowVerdict()
}

// Indirection is the fixed verdict for a shell segment that reaches docker
// through eval/sh -c/bash -c/xargs indirection.
func Indirection() Verdict {
	return Verdict{
		Kind: Deny,
		Reason: "[safe-docker] Shell wrapper detected: indirect docker execution via " +
			"eval/sh -c/bash -c is not allowed for security reasons",
	}
}

// Merge aggregates the verdicts of a whole command's shell segments, each
// already rendered by a prior call to FromReasons or Indirection. Segments
// that classified as Allow (including non-docker segments, which never
// produce a Verdict at all) contribute nothing. Multiple contributing
// reasons are newline-joined rather than re-wrapped in another "Multiple
// issues found:" header, mirroring the per-segment join at the top of the
// command pipeline.
func Merge(verdicts ...Verdict) Verdict {
	var denies, asks []string
	for _, v := range verdicts {
		switch v.Kind {
		case Deny:
			denies = append(denies, v.Reason)
		case Ask:
			asks = append(asks, v.Reason)
		}
	}
	if len(denies) > 0 {
		return Verdict{Kind: Deny, Reason: strings.Join(denies, "\n")}
	}
	if len(asks) > 0 {
		return Verdict{Kind: Ask, Reason: strings.Join(asks, "\n")}
	}
	return AllowVerdict()
}
