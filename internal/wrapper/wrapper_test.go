package wrapper

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/chis/safe-docker/internal/audit"
	"github.com/chis/safe-docker/internal/config"
	"github.com/chis/safe-docker/internal/logging"
	"github.com/chis/safe-docker/internal/verdict"
)

func homePath(t *testing.T, suffix string) string {
	t.Helper()
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory available")
	}
	return filepath.Join(home, suffix)
}

func defaultConfig() *config.Config {
	return config.Default()
}

func TestEvaluateDockerArgsAllow(t *testing.T) {
	v := EvaluateDockerArgs([]string{"run", "ubuntu"}, defaultConfig(), "/tmp", nil)
	if v.Kind != verdict.Allow {
		t.Errorf("expected allow, got %+v", v)
	}
}

func TestEvaluateDockerArgsDenyMount(t *testing.T) {
	v := EvaluateDockerArgs([]string{"run", "-v", "/etc:/data", "ubuntu"}, defaultConfig(), "/tmp", nil)
	if v.Kind != verdict.Deny {
		t.Errorf("expected deny, got %+v", v)
	}
}

func TestEvaluateDockerArgsDenyPrivileged(t *testing.T) {
	v := EvaluateDockerArgs([]string{"run", "--privileged", "ubuntu"}, defaultConfig(), "/tmp", nil)
	if v.Kind != verdict.Deny {
		t.Errorf("expected deny, got %+v", v)
	}
}

func TestEvaluateDockerArgsAllowHomeMount(t *testing.T) {
	mount := homePath(t, "projects") + ":/app"
	v := EvaluateDockerArgs([]string{"run", "-v", mount, "ubuntu"}, defaultConfig(), "/tmp", nil)
	if v.Kind != verdict.Allow {
		t.Errorf("expected allow, got %+v", v)
	}
}

func TestEvaluateDockerArgsAskSensitive(t *testing.T) {
	mount := homePath(t, ".ssh") + ":/keys"
	v := EvaluateDockerArgs([]string{"run", "-v", mount, "ubuntu"}, defaultConfig(), "/tmp", nil)
	if v.Kind != verdict.Ask {
		t.Errorf("expected ask, got %+v", v)
	}
}

func TestEvaluateDockerArgsComposeExec(t *testing.T) {
	v := EvaluateDockerArgs([]string{"compose", "exec", "web"}, defaultConfig(), "/tmp", nil)
	if v.Kind != verdict.Allow {
		t.Errorf("expected allow, got %+v", v)
	}
}

func TestEvaluateDockerArgsWithCollector(t *testing.T) {
	c := audit.NewCollector()
	EvaluateDockerArgs([]string{"run", "-v", "/etc:/data", "ubuntu"}, defaultConfig(), "/tmp", c)
	if len(c.DockerSubcommands) != 1 || c.DockerSubcommands[0] != "run" {
		t.Errorf("unexpected subcommands: %v", c.DockerSubcommands)
	}
	if len(c.Images) != 1 || c.Images[0] != "ubuntu" {
		t.Errorf("unexpected images: %v", c.Images)
	}
	if len(c.BindMounts) != 1 || c.BindMounts[0] != "/etc" {
		t.Errorf("unexpected bind mounts: %v", c.BindMounts)
	}
}

func TestEvaluatePsAllow(t *testing.T) {
	v := EvaluateDockerArgs([]string{"ps"}, defaultConfig(), "/tmp", nil)
	if v.Kind != verdict.Allow {
		t.Errorf("expected allow, got %+v", v)
	}
}

func TestEvaluateDangerousCapAdd(t *testing.T) {
	v := EvaluateDockerArgs([]string{"run", "--cap-add", "SYS_ADMIN", "ubuntu"}, defaultConfig(), "/tmp", nil)
	if v.Kind != verdict.Deny {
		t.Errorf("expected deny, got %+v", v)
	}
}

func TestEvaluateNetworkHost(t *testing.T) {
	v := EvaluateDockerArgs([]string{"run", "--network=host", "ubuntu"}, defaultConfig(), "/tmp", nil)
	if v.Kind != verdict.Deny {
		t.Errorf("expected deny, got %+v", v)
	}
}

func TestFindRealDockerEnvVar(t *testing.T) {
	if !pathExists("/usr/bin/docker") {
		t.Skip("/usr/bin/docker not present in this environment")
	}
	t.Setenv("SAFE_DOCKER_DOCKER_PATH", "/usr/bin/docker")
	cfg := defaultConfig()
	log := logging.New()
	path, ok := FindRealDocker(cfg, "", log)
	if !ok || path != "/usr/bin/docker" {
		t.Errorf("unexpected result: %q ok=%v", path, ok)
	}
}

func TestFindRealDockerConfig(t *testing.T) {
	if !pathExists("/usr/bin/docker") {
		t.Skip("/usr/bin/docker not present in this environment")
	}
	cfg := defaultConfig()
	cfg.Wrapper.DockerPath = "/usr/bin/docker"
	log := logging.New()
	path, ok := FindRealDocker(cfg, "", log)
	if !ok || path != "/usr/bin/docker" {
		t.Errorf("unexpected result: %q ok=%v", path, ok)
	}
}

func TestFindRealDockerNonexistentFallsBackToPath(t *testing.T) {
	cfg := defaultConfig()
	cfg.Wrapper.DockerPath = "/nonexistent/docker"
	log := logging.New()
	// Whether PATH itself has a docker binary depends on the environment;
	// this only exercises that the fallback doesn't panic or hang.
	FindRealDocker(cfg, "", log)
}

func TestFindRealDockerCLIFlag(t *testing.T) {
	if !pathExists("/usr/bin/docker") {
		t.Skip("/usr/bin/docker not present in this environment")
	}
	cfg := defaultConfig()
	log := logging.New()
	path, ok := FindRealDocker(cfg, "/usr/bin/docker", log)
	if !ok || path != "/usr/bin/docker" {
		t.Errorf("unexpected result: %q ok=%v", path, ok)
	}
}

func TestFindRealDockerEnvVarOverridesCLIFlag(t *testing.T) {
	if !pathExists("/usr/bin/docker") {
		t.Skip("/usr/bin/docker not present in this environment")
	}
	t.Setenv("SAFE_DOCKER_DOCKER_PATH", "/usr/bin/docker")
	cfg := defaultConfig()
	log := logging.New()
	path, ok := FindRealDocker(cfg, "/nonexistent/docker", log)
	if !ok || path != "/usr/bin/docker" {
		t.Errorf("expected env var to win over --docker-path, got %q ok=%v", path, ok)
	}
}

func TestExtractDockerPathFlag(t *testing.T) {
	value, remaining := extractDockerPathFlag([]string{"--docker-path", "/bin/echo", "run", "ubuntu", "hello"})
	if value != "/bin/echo" {
		t.Errorf("expected extracted value /bin/echo, got %q", value)
	}
	want := []string{"run", "ubuntu", "hello"}
	if len(remaining) != len(want) {
		t.Fatalf("expected %v, got %v", want, remaining)
	}
	for i := range want {
		if remaining[i] != want[i] {
			t.Errorf("expected %v, got %v", want, remaining)
		}
	}
}

func TestExtractDockerPathFlagAbsent(t *testing.T) {
	value, remaining := extractDockerPathFlag([]string{"ps"})
	if value != "" {
		t.Errorf("expected no value, got %q", value)
	}
	if len(remaining) != 1 || remaining[0] != "ps" {
		t.Errorf("expected unchanged args, got %v", remaining)
	}
}

func TestContainsFlag(t *testing.T) {
	if !containsFlag([]string{"run", "--dry-run", "ubuntu"}, "--dry-run") {
		t.Error("expected --dry-run to be found")
	}
	if containsFlag([]string{"run", "ubuntu"}, "--dry-run") {
		t.Error("expected --dry-run to be absent")
	}
}
