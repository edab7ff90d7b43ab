// Command safe-docker is a Docker-invocation guard. It runs in three
// modes depending on how it's invoked: as a Claude Code PreToolUse hook
// (reading a JSON tool call from stdin), as a `docker` wrapper shim
// (symlinked onto PATH, process-replacing into the real engine on
// Allow), or as the `setup`/`check` CLI for installing and inspecting
// that configuration.
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/chis/safe-docker/internal/config"
	"github.com/chis/safe-docker/internal/hook"
	"github.com/chis/safe-docker/internal/logging"
	"github.com/chis/safe-docker/internal/shell"
	"github.com/chis/safe-docker/internal/verdict"
	"github.com/chis/safe-docker/internal/wrapper"
)

func main() {
	log := logging.New()

	// Fail-safe for the wrapper/setup/check paths and for dispatch itself:
	// a panic still produces a deny decision on stdout before exiting
	// non-zero. Hook mode has its own recover (runHook/recoverToHookDeny)
	// that never exits non-zero, since the PreToolUse protocol's exit code
	// must always be 0 regardless of outcome — so this one only fires for
	// panics outside runHook's scope.
	defer func() {
		if r := recover(); r != nil {
			log.Error("internal error (panic), blocking for safety: %v", r)
			hook.WriteDeny(os.Stdout, fmt.Sprintf("[safe-docker] Internal error (panic). Blocking for safety: %v", r))
			os.Exit(1)
		}
	}()

	// Invoked as `docker` via the setup-installed symlink: run wrapper
	// mode directly over the full argument list, no subcommand prefix.
	if filepath.Base(os.Args[0]) == "docker" {
		runWrapper(os.Args[1:], log)
		return
	}

	if len(os.Args) < 2 {
		runHook(log)
		return
	}

	switch os.Args[1] {
	case "hook":
		runHook(log)
	case "wrapper":
		runWrapper(os.Args[2:], log)
	case "setup":
		os.Exit(wrapper.RunSetup(os.Args[2:], log))
	case "check":
		os.Exit(runCheck(log))
	case "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "safe-docker: unknown command %q\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "safe-docker - Docker invocation guard")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "USAGE:")
	fmt.Fprintln(os.Stderr, "  safe-docker hook             Read a PreToolUse hook payload from stdin")
	fmt.Fprintln(os.Stderr, "  safe-docker wrapper ARGS...  Evaluate and exec a docker invocation")
	fmt.Fprintln(os.Stderr, "  safe-docker setup [OPTIONS]  Install the docker wrapper symlink")
	fmt.Fprintln(os.Stderr, "  safe-docker check            Print the effective configuration")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Symlinking this binary to a PATH entry named 'docker' runs wrapper mode")
	fmt.Fprintln(os.Stderr, "directly, with no subcommand required.")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "WRAPPER OPTIONS (stripped before args are evaluated or forwarded):")
	fmt.Fprintln(os.Stderr, "  --dry-run             Report the decision without executing docker")
	fmt.Fprintln(os.Stderr, "  --verbose             Print extra diagnostics to stderr")
	fmt.Fprintln(os.Stderr, "  --docker-path PATH    Use PATH as the real docker binary for this invocation")
}

func loadConfig(log *logging.Logger) *config.Config {
	cfg, err := config.Load()
	if err != nil {
		log.Warn("failed to load config, using defaults: %v", err)
		return config.Default()
	}
	return cfg
}

// recoverToHookDeny is runHook's panic fail-safe. The PreToolUse protocol's
// exit code must always be 0 — the verdict lives in the JSON body written
// to w, not the process exit status (spec: "never aborts with a non-zero
// exit code") — so unlike main's own top-level recover (which does exit 1,
// for the wrapper/setup/check modes where that's the normal error
// convention), this one only logs and writes a deny decision.
func recoverToHookDeny(log *logging.Logger, w io.Writer) {
	if r := recover(); r != nil {
		log.Error("internal error (panic) in hook mode, blocking for safety: %v", r)
		hook.WriteDeny(w, fmt.Sprintf("[safe-docker] Internal error (panic). Blocking for safety: %v", r))
	}
}

// runHook implements the PreToolUse hook entrypoint: decode stdin, extract
// the Bash command, split it into shell segments, evaluate each docker
// segment through the policy engine, and aggregate the per-segment
// verdicts the way process_command does — deny beats ask beats allow,
// with already-rendered reasons simply newline-joined rather than
// re-wrapped in a second "Multiple issues found:" header.
func runHook(log *logging.Logger) {
	defer recoverToHookDeny(log, os.Stdout)

	input, err := hook.ReadInput(os.Stdin)
	if err != nil {
		hook.WriteDeny(os.Stdout, fmt.Sprintf("[safe-docker] Failed to read input: %v. Blocking for safety.", err))
		return
	}

	command, ok := hook.ExtractCommand(input)
	if !ok {
		return // non-Bash tool or no command: silent allow
	}

	cwd := input.Cwd
	if cwd == "" {
		if wd, err := os.Getwd(); err == nil {
			cwd = wd
		} else {
			cwd = "."
		}
	}

	cfg := loadConfig(log)
	v := processCommand(command, cfg, cwd)
	hook.WriteDecision(os.Stdout, v)
}

// processCommand mirrors the original's process_command: split command
// into shell segments, detect indirection, skip non-docker segments,
// evaluate the rest, and merge.
func processCommand(command string, cfg *config.Config, cwd string) verdict.Verdict {
	segments := shell.SplitCommands(command)

	var verdicts []verdict.Verdict
	for _, segment := range segments {
		if shell.DetectShellWrapper(segment) {
			verdicts = append(verdicts, verdict.Indirection())
			continue
		}
		if !shell.IsDockerCommand(segment) {
			continue
		}
		args := shell.ExtractDockerArgs(segment)
		if len(args) == 0 {
			continue
		}
		v := wrapper.EvaluateDockerArgs(args, cfg, cwd, nil)
		if v.Kind != verdict.Allow {
			verdicts = append(verdicts, v)
		}
	}

	return verdict.Merge(verdicts...)
}

func runWrapper(args []string, log *logging.Logger) {
	cfg := loadConfig(log)
	os.Exit(wrapper.Run(args, cfg, log))
}

func runCheck(log *logging.Logger) int {
	path := config.DefaultPath()
	cfg, err := config.LoadFrom(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[safe-docker] ERROR: failed to load %s: %v\n", path, err)
		return 1
	}

	fmt.Printf("Config file: %s\n", path)
	fmt.Printf("Allowed paths: %v\n", cfg.AllowedPaths)
	fmt.Printf("Sensitive paths: %v\n", cfg.SensitivePaths)
	fmt.Printf("Allowed images: %v\n", cfg.AllowedImages)
	fmt.Printf("Audit: enabled=%v format=%s jsonl_path=%s otlp_path=%s\n",
		cfg.Audit.Enabled, cfg.Audit.Format, cfg.Audit.JSONLPath, cfg.Audit.OTLPPath)

	if res, err := wrapper.FindRealDockerDetailed(cfg, "", log); err == nil {
		fmt.Printf("Real docker binary: %s (via %s)\n", res.Path, res.Source)
	} else {
		fmt.Println("Real docker binary: NOT FOUND")
	}

	return 0
}
