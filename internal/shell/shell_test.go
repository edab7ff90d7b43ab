package shell

import (
	"reflect"
	"testing"
)

func TestSplitSimplePipe(t *testing.T) {
	got := SplitCommands("echo hello | grep world")
	want := []string{"echo hello", "grep world"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestSplitChain(t *testing.T) {
	got := SplitCommands("cd /tmp && docker run ubuntu")
	want := []string{"cd /tmp", "docker run ubuntu"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestSplitSemicolon(t *testing.T) {
	got := SplitCommands("echo hello; docker run ubuntu; echo done")
	want := []string{"echo hello", "docker run ubuntu", "echo done"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestSplitOrChain(t *testing.T) {
	got := SplitCommands("docker run ubuntu || echo failed")
	want := []string{"docker run ubuntu", "echo failed"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestSplitQuotedPipe(t *testing.T) {
	got := SplitCommands(`echo "hello | world" && docker run ubuntu`)
	want := []string{`echo "hello | world"`, "docker run ubuntu"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestSplitSingleQuoted(t *testing.T) {
	got := SplitCommands("echo 'a && b' ; docker run ubuntu")
	want := []string{"echo 'a && b'", "docker run ubuntu"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestSplitSubshell(t *testing.T) {
	got := SplitCommands("echo $(docker ps) && docker run ubuntu")
	want := []string{"echo $(docker ps)", "docker run ubuntu"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestSplitBareAmpersand(t *testing.T) {
	got := SplitCommands("docker run -d ubuntu & echo started")
	want := []string{"docker run -d ubuntu", "echo started"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestSplitEmpty(t *testing.T) {
	got := SplitCommands("")
	if len(got) != 0 {
		t.Errorf("expected empty slice, got %v", got)
	}
}

func TestSplitSingleCommand(t *testing.T) {
	got := SplitCommands("docker run ubuntu")
	want := []string{"docker run ubuntu"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestIsDockerCommand(t *testing.T) {
	cases := map[string]bool{
		"docker run ubuntu":                          true,
		"docker compose up":                           true,
		"docker-compose up":                           true,
		"sudo docker run ubuntu":                      true,
		"DOCKER_HOST=tcp://localhost:2375 docker ps":   true,
		"echo hello":                                   false,
		"ls -la":                                       false,
	}
	for input, want := range cases {
		if got := IsDockerCommand(input); got != want {
			t.Errorf("IsDockerCommand(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestExtractDockerArgs(t *testing.T) {
	got := ExtractDockerArgs("docker run -v /etc:/data ubuntu")
	want := []string{"run", "-v", "/etc:/data", "ubuntu"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestExtractDockerArgsSudo(t *testing.T) {
	got := ExtractDockerArgs("sudo docker run ubuntu")
	want := []string{"run", "ubuntu"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestExtractDockerArgsEnv(t *testing.T) {
	got := ExtractDockerArgs("DOCKER_HOST=tcp://localhost:2375 docker ps")
	want := []string{"ps"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestExtractDockerCompose(t *testing.T) {
	got := ExtractDockerArgs("docker-compose up -d")
	want := []string{"compose", "up", "-d"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestDetectShellWrapperEval(t *testing.T) {
	if !DetectShellWrapper(`eval "docker run ubuntu"`) {
		t.Error("expected eval-with-docker to be detected")
	}
}

func TestDetectShellWrapperBashC(t *testing.T) {
	if !DetectShellWrapper(`bash -c "docker run ubuntu"`) {
		t.Error("expected bash -c with docker to be detected")
	}
}

func TestDetectShellWrapperAbsolutePathShell(t *testing.T) {
	if !DetectShellWrapper(`/bin/sh -c "docker run ubuntu"`) {
		t.Error("expected /bin/sh -c with docker to be detected")
	}
}

func TestDetectShellWrapperSudoBashC(t *testing.T) {
	if !DetectShellWrapper(`sudo bash -c "docker run ubuntu"`) {
		t.Error("expected sudo bash -c with docker to be detected")
	}
}

func TestDetectShellWrapperXargs(t *testing.T) {
	if !DetectShellWrapper(`xargs docker run`) {
		t.Error("expected xargs docker to be detected")
	}
}

func TestDetectShellWrapperNoMatch(t *testing.T) {
	if DetectShellWrapper("echo hello") {
		t.Error("expected plain echo to not be flagged as a shell wrapper")
	}
}
