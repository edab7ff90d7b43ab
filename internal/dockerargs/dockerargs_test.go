package dockerargs

import "testing"

func TestParseVolumeShort(t *testing.T) {
	bm, ok := parseVolumeFlag("/host/path:/container/path")
	if !ok {
		t.Fatal("expected parse success")
	}
	if bm.HostPath != "/host/path" || bm.ContainerPath != "/container/path" || bm.ReadOnly {
		t.Errorf("unexpected bind mount: %+v", bm)
	}
}

func TestParseVolumeReadonly(t *testing.T) {
	bm, ok := parseVolumeFlag("/host:/container:ro")
	if !ok || !bm.ReadOnly {
		t.Errorf("expected read-only bind mount, got %+v ok=%v", bm, ok)
	}
}

func TestParseVolumeNamed(t *testing.T) {
	if _, ok := parseVolumeFlag("myvolume:/container"); ok {
		t.Error("expected named volume to be dropped")
	}
}

func TestParseVolumeHome(t *testing.T) {
	bm, ok := parseVolumeFlag("~/projects:/app")
	if !ok || bm.HostPath != "~/projects" {
		t.Errorf("unexpected: %+v ok=%v", bm, ok)
	}
}

func TestParseMountBind(t *testing.T) {
	bm, ok := parseMountFlag("type=bind,source=/host/path,target=/container/path")
	if !ok || bm.HostPath != "/host/path" || bm.ContainerPath != "/container/path" || bm.ReadOnly {
		t.Errorf("unexpected: %+v ok=%v", bm, ok)
	}
}

func TestParseMountReadonly(t *testing.T) {
	bm, ok := parseMountFlag("type=bind,source=/host,target=/container,readonly")
	if !ok || !bm.ReadOnly {
		t.Errorf("expected readonly, got %+v ok=%v", bm, ok)
	}
}

func TestParseMountVolumeTypeIgnored(t *testing.T) {
	if _, ok := parseMountFlag("type=volume,source=myvol,target=/data"); ok {
		t.Error("expected non-bind mount type to be ignored")
	}
}

func TestParseDockerRunBasic(t *testing.T) {
	inv := Parse([]string{"run", "-v", "/etc:/data", "ubuntu"})
	if inv.Subcommand != Run {
		t.Errorf("expected Run, got %v", inv.Subcommand)
	}
	if len(inv.BindMounts) != 1 || inv.BindMounts[0].HostPath != "/etc" {
		t.Errorf("unexpected bind mounts: %+v", inv.BindMounts)
	}
	if inv.Image != "ubuntu" {
		t.Errorf("expected image ubuntu, got %q", inv.Image)
	}
}

func TestParseDangerousFlags(t *testing.T) {
	inv := Parse([]string{"run", "--privileged", "--cap-add", "SYS_ADMIN", "--security-opt", "apparmor=unconfined", "--pid=host", "ubuntu"})
	if len(inv.RiskyFlags) != 4 {
		t.Fatalf("expected 4 risky flags, got %d: %+v", len(inv.RiskyFlags), inv.RiskyFlags)
	}
	kinds := map[RiskyFlagKind]bool{}
	for _, f := range inv.RiskyFlags {
		kinds[f.Kind] = true
	}
	for _, want := range []RiskyFlagKind{Privileged, CapAdd, SecurityOpt, PidHost} {
		if !kinds[want] {
			t.Errorf("expected flag kind %v present", want)
		}
	}
}

func TestParsePidContainer(t *testing.T) {
	inv := Parse([]string{"run", "--pid", "container:abc123", "ubuntu"})
	if len(inv.RiskyFlags) != 1 || inv.RiskyFlags[0].Kind != PidContainer {
		t.Errorf("expected PidContainer, got %+v", inv.RiskyFlags)
	}
}

func TestParseNetworkContainerEquals(t *testing.T) {
	inv := Parse([]string{"run", "--network=container:abc123", "ubuntu"})
	if len(inv.RiskyFlags) != 1 || inv.RiskyFlags[0].Kind != NetworkContainer {
		t.Errorf("expected NetworkContainer, got %+v", inv.RiskyFlags)
	}
}

func TestParseSysctl(t *testing.T) {
	inv := Parse([]string{"run", "--sysctl", "net.ipv4.ip_forward=1", "ubuntu"})
	if len(inv.RiskyFlags) != 1 {
		t.Fatalf("expected 1 risky flag, got %+v", inv.RiskyFlags)
	}
	f := inv.RiskyFlags[0]
	if f.Kind != Sysctl || f.Key != "net.ipv4.ip_forward" || f.Value != "1" {
		t.Errorf("unexpected sysctl flag: %+v", f)
	}
}

func TestParseAddHost(t *testing.T) {
	inv := Parse([]string{"run", "--add-host", "metadata:169.254.169.254", "ubuntu"})
	if len(inv.RiskyFlags) != 1 {
		t.Fatalf("expected 1 risky flag, got %+v", inv.RiskyFlags)
	}
	f := inv.RiskyFlags[0]
	if f.Kind != AddHost || f.Key != "metadata" || f.Value != "169.254.169.254" {
		t.Errorf("unexpected add-host flag: %+v", f)
	}
}

func TestParseMountPropagation(t *testing.T) {
	inv := Parse([]string{"run", "--mount", "type=bind,source=/host,target=/c,bind-propagation=shared", "ubuntu"})
	found := false
	for _, f := range inv.RiskyFlags {
		if f.Kind == MountPropagation && f.Value == "shared" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected MountPropagation flag, got %+v", inv.RiskyFlags)
	}
}

func TestParseComposeUp(t *testing.T) {
	inv := Parse([]string{"compose", "-f", "custom.yml", "up"})
	if inv.Subcommand != ComposeUp || inv.ComposeFile != "custom.yml" {
		t.Errorf("unexpected: %+v", inv)
	}
}

func TestParseComposeRunWithVolume(t *testing.T) {
	inv := Parse([]string{"compose", "run", "-v", "/etc:/data", "web"})
	if inv.Subcommand != ComposeRun || len(inv.BindMounts) != 1 {
		t.Errorf("unexpected: %+v", inv)
	}
}

func TestParseBuildArgAndSecret(t *testing.T) {
	inv := Parse([]string{"build", "--build-arg", "API_KEY=secret123", "--secret", "id=mysecret,src=/home/user/.secret", "."})
	if inv.Subcommand != Build {
		t.Fatalf("expected Build, got %v", inv.Subcommand)
	}
	foundBuildArg := false
	for _, f := range inv.RiskyFlags {
		if f.Kind == BuildArg && f.Key == "API_KEY" && f.Value == "secret123" {
			foundBuildArg = true
		}
	}
	if !foundBuildArg {
		t.Errorf("expected BuildArg risky flag, got %+v", inv.RiskyFlags)
	}
	foundSrc := false
	for _, p := range inv.HostPaths {
		if p == "/home/user/.secret" {
			foundSrc = true
		}
	}
	if !foundSrc {
		t.Errorf("expected secret src= to be collected as host path, got %+v", inv.HostPaths)
	}
}

func TestParseBuildxBuild(t *testing.T) {
	inv := Parse([]string{"buildx", "build", "-t", "myapp", "."})
	if inv.Subcommand != Build {
		t.Errorf("expected buildx build to collapse to Build, got %v", inv.Subcommand)
	}
	if len(inv.HostPaths) != 1 || inv.HostPaths[0] != "." {
		t.Errorf("expected context path '.', got %+v", inv.HostPaths)
	}
}

func TestParseAttachDoesNotEatImage(t *testing.T) {
	inv := Parse([]string{"run", "-a", "stdout", "--privileged", "ubuntu"})
	found := false
	for _, f := range inv.RiskyFlags {
		if f.Kind == Privileged {
			found = true
		}
	}
	if !found {
		t.Error("expected --privileged to be detected after -a stdout")
	}
	if inv.Image != "ubuntu" {
		t.Errorf("expected image ubuntu, got %q", inv.Image)
	}
}

func TestParseDockerExecPrivileged(t *testing.T) {
	inv := Parse([]string{"exec", "--privileged", "mycontainer", "bash"})
	if inv.Subcommand != Exec {
		t.Fatalf("expected Exec, got %v", inv.Subcommand)
	}
	found := false
	for _, f := range inv.RiskyFlags {
		if f.Kind == Privileged {
			found = true
		}
	}
	if !found {
		t.Error("expected --privileged to be detected in exec")
	}
}

func TestParseCpHostPaths(t *testing.T) {
	inv := Parse([]string{"cp", "/etc/passwd", "mycontainer:/data/passwd"})
	if len(inv.HostPaths) != 1 || inv.HostPaths[0] != "/etc/passwd" {
		t.Errorf("expected host path /etc/passwd, got %+v", inv.HostPaths)
	}
}

func TestParseEmptyArgs(t *testing.T) {
	inv := Parse(nil)
	if inv.Subcommand != Other("unknown") {
		t.Errorf("expected Other(unknown), got %v", inv.Subcommand)
	}
}
