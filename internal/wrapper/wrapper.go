// Package wrapper implements safe-docker's shim mode: a binary symlinked to
// "docker" on PATH that evaluates the incoming arguments against the
// policy engine before either exec-replacing itself with the real docker
// binary or refusing/asking about the command.
package wrapper

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"github.com/chis/safe-docker/internal/audit"
	"github.com/chis/safe-docker/internal/config"
	"github.com/chis/safe-docker/internal/dockerargs"
	"github.com/chis/safe-docker/internal/logging"
	"github.com/chis/safe-docker/internal/policy"
	"github.com/chis/safe-docker/internal/verdict"
)

// Run is the wrapper mode entrypoint: it evaluates args (the argv a real
// `docker` invocation received, without the program name) and either execs
// the real docker binary or returns a process exit code. On an Allow (and
// non-dry-run) path this never returns at all, since Exec replaces the
// current process image.
func Run(args []string, cfg *config.Config, log *logging.Logger) int {
	cliDockerPath, args := extractDockerPathFlag(args)

	if os.Getenv("SAFE_DOCKER_ACTIVE") == "1" || os.Getenv("SAFE_DOCKER_BYPASS") == "1" {
		dockerPath, ok := FindRealDocker(cfg, cliDockerPath, log)
		if !ok {
			fmt.Fprintln(os.Stderr, "[safe-docker] Error: could not find the real docker binary")
			return 1
		}
		ExecDocker(dockerPath, args)
		return 1
	}

	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}

	dryRun := containsFlag(args, "--dry-run")
	verbose := containsFlag(args, "--verbose")

	dockerArgs := make([]string, 0, len(args))
	for _, a := range args {
		if a != "--dry-run" && a != "--verbose" {
			dockerArgs = append(dockerArgs, a)
		}
	}

	auditEnabled := audit.IsEnabled(cfg.Audit)
	var collector *audit.Collector
	if auditEnabled {
		collector = audit.NewCollector()
	}

	v := EvaluateDockerArgs(dockerArgs, cfg, cwd, collector)

	if auditEnabled {
		commandStr := "docker " + strings.Join(dockerArgs, " ")
		event := audit.BuildEvent(commandStr, string(v.Kind), v.Reason, collector, "", cwd, "wrapper")
		audit.Emit(event, cfg.Audit, log)
	}

	switch v.Kind {
	case verdict.Allow:
		if dryRun {
			dockerPath, ok := FindRealDocker(cfg, cliDockerPath, log)
			path := "docker"
			if ok {
				path = dockerPath
			}
			fmt.Fprintf(os.Stderr, "[safe-docker] Decision: allow (would execute: %s %s)\n", path, strings.Join(dockerArgs, " "))
			return 0
		}
		dockerPath, ok := FindRealDocker(cfg, cliDockerPath, log)
		if !ok {
			fmt.Fprintln(os.Stderr, "[safe-docker] Error: could not find the real docker binary")
			return 1
		}
		ExecDocker(dockerPath, dockerArgs)
		return 1

	case verdict.Deny:
		fmt.Fprintln(os.Stderr, v.Reason)
		if verbose {
			fmt.Fprintln(os.Stderr, "  Tip: Check ~/.config/safe-docker/config.toml to adjust allowed paths or flags")
		}
		if dryRun {
			fmt.Fprintln(os.Stderr, "[safe-docker] Decision: deny")
		}
		return 1

	default: // verdict.Ask
		if dryRun {
			fmt.Fprintln(os.Stderr, v.Reason)
			fmt.Fprintln(os.Stderr, "[safe-docker] Decision: ask")
			return 0
		}
		return handleAsk(v.Reason, dockerArgs, cfg, cliDockerPath, verbose, log)
	}
}

// EvaluateDockerArgs parses args as a docker invocation and runs it through
// the policy engine, folding its metadata into collector when non-nil.
func EvaluateDockerArgs(args []string, cfg *config.Config, cwd string, collector *audit.Collector) verdict.Verdict {
	inv := dockerargs.Parse(args)
	if collector != nil {
		collector.RecordInvocation(inv)
	}
	return policy.Evaluate(inv, cfg, cwd)
}

func handleAsk(reason string, dockerArgs []string, cfg *config.Config, cliDockerPath string, verbose bool, log *logging.Logger) int {
	fmt.Fprintln(os.Stderr, reason)

	isTTY := term.IsTerminal(int(os.Stderr.Fd()))

	if !isTTY {
		askPolicy := os.Getenv("SAFE_DOCKER_ASK")
		if askPolicy != "allow" && askPolicy != "deny" {
			askPolicy = cfg.Wrapper.NonInteractiveAsk
		}

		if askPolicy == "allow" {
			fmt.Fprintln(os.Stderr, "[safe-docker] Non-interactive: proceeding (SAFE_DOCKER_ASK=allow)")
			dockerPath, ok := FindRealDocker(cfg, cliDockerPath, log)
			if !ok {
				fmt.Fprintln(os.Stderr, "[safe-docker] Error: could not find the real docker binary")
				return 1
			}
			ExecDocker(dockerPath, dockerArgs)
			return 1
		}
		fmt.Fprintln(os.Stderr, "[safe-docker] Non-interactive: blocked (set SAFE_DOCKER_ASK=allow to override)")
		return 1
	}

	fmt.Fprint(os.Stderr, "[safe-docker] Proceed? [y/N] ")
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		fmt.Fprintln(os.Stderr, "[safe-docker] Failed to read input, blocking for safety")
		return 1
	}

	answer := strings.ToLower(strings.TrimSpace(line))
	if answer == "y" || answer == "yes" {
		dockerPath, ok := FindRealDocker(cfg, cliDockerPath, log)
		if !ok {
			fmt.Fprintln(os.Stderr, "[safe-docker] Error: could not find the real docker binary")
			return 1
		}
		ExecDocker(dockerPath, dockerArgs)
		return 1
	}
	if verbose {
		fmt.Fprintln(os.Stderr, "[safe-docker] Aborted by user")
	}
	return 1
}

// RealDockerSource names where FindRealDockerDetailed found the docker
// binary, for the setup subcommand's diagnostic output.
type RealDockerSource string

const (
	SourceEnvVar  RealDockerSource = "SAFE_DOCKER_DOCKER_PATH"
	SourceCLIFlag RealDockerSource = "--docker-path"
	SourceConfig  RealDockerSource = "wrapper.docker_path"
	SourcePath    RealDockerSource = "PATH"
)

// RealDockerResult is FindRealDockerDetailed's result.
type RealDockerResult struct {
	Path   string
	Source RealDockerSource
}

// FindRealDocker resolves the real docker binary: the SAFE_DOCKER_DOCKER_PATH
// env var, then the --docker-path CLI flag (if any), then
// config.wrapper.docker_path, then a PATH scan excluding safe-docker's own
// executable. Falling entries that don't exist are logged and skipped
// rather than treated as fatal. Pass "" for cliDockerPath when no CLI flag
// is in scope (e.g. from `setup`/`check`).
func FindRealDocker(cfg *config.Config, cliDockerPath string, log *logging.Logger) (string, bool) {
	res, err := FindRealDockerDetailed(cfg, cliDockerPath, log)
	if err != nil {
		return "", false
	}
	return res.Path, true
}

// FindRealDockerDetailed is FindRealDocker plus the source it resolved
// from, used by `safe-docker setup` to report what it found.
func FindRealDockerDetailed(cfg *config.Config, cliDockerPath string, log *logging.Logger) (RealDockerResult, error) {
	if path := os.Getenv("SAFE_DOCKER_DOCKER_PATH"); path != "" {
		if pathExists(path) {
			return RealDockerResult{Path: path, Source: SourceEnvVar}, nil
		}
		log.Warn("SAFE_DOCKER_DOCKER_PATH=%s does not exist, falling back", path)
	}

	if cliDockerPath != "" {
		if pathExists(cliDockerPath) {
			return RealDockerResult{Path: cliDockerPath, Source: SourceCLIFlag}, nil
		}
		log.Warn("--docker-path=%s does not exist, falling back", cliDockerPath)
	}

	if cfg.Wrapper.DockerPath != "" {
		if pathExists(cfg.Wrapper.DockerPath) {
			return RealDockerResult{Path: cfg.Wrapper.DockerPath, Source: SourceConfig}, nil
		}
		log.Warn("wrapper.docker_path=%s does not exist, falling back", cfg.Wrapper.DockerPath)
	}

	if path, ok := findDockerInPath(); ok {
		return RealDockerResult{Path: path, Source: SourcePath}, nil
	}
	return RealDockerResult{}, fmt.Errorf("real docker binary not found")
}

// findDockerInPath scans $PATH for a "docker" binary, skipping any entry
// that resolves to safe-docker's own executable.
func findDockerInPath() (string, bool) {
	selfPath, _ := selfExePath()

	for _, dir := range strings.Split(os.Getenv("PATH"), ":") {
		if dir == "" {
			continue
		}
		candidate := filepath.Join(dir, "docker")
		if !pathExists(candidate) {
			continue
		}
		if selfPath != "" {
			if resolved, err := filepath.EvalSymlinks(candidate); err == nil && resolved == selfPath {
				continue
			}
		}
		return candidate, true
	}
	return "", false
}

func selfExePath() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(exe)
}

func pathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func containsFlag(args []string, flag string) bool {
	for _, a := range args {
		if a == flag {
			return true
		}
	}
	return false
}

// extractDockerPathFlag pulls a "--docker-path PATH" pair out of args,
// returning its value (empty if absent) and the remaining args with both
// the flag and its value removed so neither is evaluated as a docker
// argument or forwarded to the real docker binary.
func extractDockerPathFlag(args []string) (string, []string) {
	var value string
	remaining := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		if args[i] == "--docker-path" && i+1 < len(args) {
			value = args[i+1]
			i++
			continue
		}
		remaining = append(remaining, args[i])
	}
	return value, remaining
}

// ExecDocker replaces the current process image with dockerPath running
// args, marking SAFE_DOCKER_ACTIVE=1 so a recursive invocation (docker
// compose shelling back out to "docker", for instance) skips policy
// evaluation entirely. It never returns on success; on failure it prints an
// error and exits the process itself, matching the original's "exec or
// die" contract.
func ExecDocker(dockerPath string, args []string) {
	argv := append([]string{dockerPath}, args...)
	envp := append(os.Environ(), "SAFE_DOCKER_ACTIVE=1")

	err := unix.Exec(dockerPath, argv, envp)
	fmt.Fprintf(os.Stderr, "[safe-docker] Error: failed to exec %s: %v\n", dockerPath, err)
	os.Exit(1)
}
