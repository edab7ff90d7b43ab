package main

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/chis/safe-docker/internal/config"
	"github.com/chis/safe-docker/internal/logging"
	"github.com/chis/safe-docker/internal/verdict"
)

func defaultConfig() *config.Config {
	return config.Default()
}

func homeDir(t *testing.T) string {
	t.Helper()
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory available")
	}
	return home
}

func TestProcessCommandNonDocker(t *testing.T) {
	v := processCommand("ls -la /tmp", defaultConfig(), "/tmp")
	if v.Kind != verdict.Allow {
		t.Errorf("expected allow, got %+v", v)
	}
}

func TestProcessCommandDockerNoMounts(t *testing.T) {
	v := processCommand("docker run ubuntu echo hello", defaultConfig(), "/tmp")
	if v.Kind != verdict.Allow {
		t.Errorf("expected allow, got %+v", v)
	}
}

func TestProcessCommandDockerAllowedMount(t *testing.T) {
	cmd := "docker run -v " + homeDir(t) + "/projects:/app ubuntu"
	v := processCommand(cmd, defaultConfig(), "/tmp")
	if v.Kind != verdict.Allow {
		t.Errorf("expected allow, got %+v", v)
	}
}

func TestProcessCommandDockerDeniedMount(t *testing.T) {
	v := processCommand("docker run -v /etc:/data ubuntu", defaultConfig(), "/tmp")
	if v.Kind != verdict.Deny {
		t.Errorf("expected deny, got %+v", v)
	}
}

func TestProcessCommandDockerPrivileged(t *testing.T) {
	v := processCommand("docker run --privileged ubuntu", defaultConfig(), "/tmp")
	if v.Kind != verdict.Deny {
		t.Errorf("expected deny, got %+v", v)
	}
}

func TestProcessCommandDockerSensitiveMount(t *testing.T) {
	cmd := "docker run -v " + homeDir(t) + "/.ssh:/keys ubuntu"
	v := processCommand(cmd, defaultConfig(), "/tmp")
	if v.Kind != verdict.Ask {
		t.Errorf("expected ask, got %+v", v)
	}
}

func TestProcessCommandPipedWithDocker(t *testing.T) {
	v := processCommand("echo test | docker run -v /etc:/data ubuntu", defaultConfig(), "/tmp")
	if v.Kind != verdict.Deny {
		t.Errorf("expected deny, got %+v", v)
	}
}

func TestProcessCommandChainedWithDocker(t *testing.T) {
	v := processCommand("cd /tmp && docker run -v /etc:/data ubuntu", defaultConfig(), "/tmp")
	if v.Kind != verdict.Deny {
		t.Errorf("expected deny, got %+v", v)
	}
}

func TestProcessCommandMountEquals(t *testing.T) {
	v := processCommand("docker run --mount type=bind,source=/etc,target=/data ubuntu", defaultConfig(), "/tmp")
	if v.Kind != verdict.Deny {
		t.Errorf("expected deny, got %+v", v)
	}
}

func TestProcessCommandTildeMount(t *testing.T) {
	v := processCommand("docker run -v ~/projects:/app ubuntu", defaultConfig(), "/tmp")
	if v.Kind != verdict.Allow {
		t.Errorf("expected allow, got %+v", v)
	}
}

func TestProcessCommandDockerPs(t *testing.T) {
	v := processCommand("docker ps", defaultConfig(), "/tmp")
	if v.Kind != verdict.Allow {
		t.Errorf("expected allow, got %+v", v)
	}
}

func TestProcessCommandDockerBuild(t *testing.T) {
	// The build context "." resolves to the cwd /tmp, which is outside $HOME.
	v := processCommand("docker build -t myapp .", defaultConfig(), "/tmp")
	if v.Kind != verdict.Deny {
		t.Errorf("expected deny, got %+v", v)
	}
}

func TestProcessCommandCapAddSysAdmin(t *testing.T) {
	v := processCommand("docker run --cap-add SYS_ADMIN ubuntu", defaultConfig(), "/tmp")
	if v.Kind != verdict.Deny {
		t.Errorf("expected deny, got %+v", v)
	}
}

func TestProcessCommandDevice(t *testing.T) {
	v := processCommand("docker run --device /dev/sda ubuntu", defaultConfig(), "/tmp")
	if v.Kind != verdict.Deny {
		t.Errorf("expected deny, got %+v", v)
	}
}

func TestProcessCommandEvalIndirection(t *testing.T) {
	v := processCommand(`eval "docker run --privileged ubuntu"`, defaultConfig(), "/tmp")
	if v.Kind != verdict.Deny {
		t.Errorf("expected deny from shell-wrapper detection, got %+v", v)
	}
}

// The PreToolUse protocol requires exit code 0 regardless of outcome, so a
// panic during hook-mode processing must be swallowed into a deny decision
// rather than propagate to main's exit(1) handler.
func TestRecoverToHookDenySwallowsPanic(t *testing.T) {
	var out bytes.Buffer
	log := logging.New()

	func() {
		defer recoverToHookDeny(log, &out)
		panic("simulated internal error")
	}()

	if !strings.Contains(out.String(), `"permissionDecision":"deny"`) {
		t.Errorf("expected a deny decision on the writer, got %q", out.String())
	}
	if !strings.Contains(out.String(), "simulated internal error") {
		t.Errorf("expected the panic value in the reason, got %q", out.String())
	}
}
