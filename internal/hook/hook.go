// Package hook implements the Claude Code PreToolUse hook protocol: decode
// a tool-invocation JSON object from stdin, pull the Bash command out of
// it, and encode a permission decision back to stdout. Non-Bash tool calls
// and calls with no command produce no output at all (silent allow).
package hook

import (
	"encoding/json"
	"io"
	"strings"

	"github.com/chis/safe-docker/internal/guarderr"
	"github.com/chis/safe-docker/internal/verdict"
)

// MaxInputBytes is the hook input size cap; anything larger is rejected
// rather than parsed.
const MaxInputBytes = 256 * 1024

// Input is the JSON shape Claude Code sends on stdin for a PreToolUse hook.
type Input struct {
	SessionID     string    `json:"session_id,omitempty"`
	HookEventName string    `json:"hook_event_name,omitempty"`
	ToolName      string    `json:"tool_name,omitempty"`
	ToolInput     ToolInput `json:"tool_input,omitempty"`
	Cwd           string    `json:"cwd,omitempty"`
}

// ToolInput is the tool-specific payload; only Command matters here.
type ToolInput struct {
	Command     string `json:"command,omitempty"`
	Description string `json:"description,omitempty"`
}

// output is the JSON shape written back to stdout for a deny/ask decision.
type output struct {
	HookSpecificOutput hookSpecificOutput `json:"hookSpecificOutput"`
}

type hookSpecificOutput struct {
	HookEventName            string `json:"hookEventName"`
	PermissionDecision       string `json:"permissionDecision"`
	PermissionDecisionReason string `json:"permissionDecisionReason"`
}

// ReadInput reads and decodes a hook Input from r, rejecting any payload
// larger than MaxInputBytes. It over-reads by one byte (mirroring the
// original's take(MAX_INPUT_BYTES + 1) pattern) so an exactly-sized payload
// is not falsely rejected.
func ReadInput(r io.Reader) (Input, error) {
	limited := io.LimitReader(r, MaxInputBytes+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return Input{}, guarderr.NewIO(err, "reading hook input")
	}
	if len(data) > MaxInputBytes {
		return Input{}, guarderr.NewInputTooLarge(len(data))
	}

	var in Input
	if err := json.Unmarshal(data, &in); err != nil {
		return Input{}, guarderr.NewJSONParse(err)
	}
	return in, nil
}

// ExtractCommand returns the Bash command string from in, or ("", false)
// when the tool isn't Bash (case-insensitively) or carries no command.
func ExtractCommand(in Input) (string, bool) {
	if !strings.EqualFold(in.ToolName, "bash") {
		return "", false
	}
	if in.ToolInput.Command == "" {
		return "", false
	}
	return in.ToolInput.Command, true
}

// WriteDecision encodes v to w. An Allow verdict produces no output at all.
func WriteDecision(w io.Writer, v verdict.Verdict) error {
	if v.Kind == verdict.Allow {
		return nil
	}
	out := output{
		HookSpecificOutput: hookSpecificOutput{
			HookEventName:            "PreToolUse",
			PermissionDecision:       string(v.Kind),
			PermissionDecisionReason: v.Reason,
		},
	}
	enc := json.NewEncoder(w)
	return enc.Encode(out)
}

// WriteDeny is the fail-safe output path used when something goes wrong
// before a verdict can be computed at all (oversized input, JSON parse
// failure, internal panic).
func WriteDeny(w io.Writer, reason string) error {
	return WriteDecision(w, verdict.Verdict{Kind: verdict.Deny, Reason: reason})
}
