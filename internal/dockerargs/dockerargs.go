// Package dockerargs reconstructs a docker/docker-compose argument vector
// into an Invocation: subcommand, bind mounts, risky flags, and host paths.
// It never makes an allow/deny decision itself — that is the policy
// engine's job once an Invocation has been built.
package dockerargs

import (
	"regexp"
	"strings"
)

// Subcommand is the normalised tag of a docker invocation.
type Subcommand string

const (
	Run           Subcommand = "run"
	Create        Subcommand = "create"
	Build         Subcommand = "build"
	Cp            Subcommand = "cp"
	Exec          Subcommand = "exec"
	ComposeUp     Subcommand = "compose-up"
	ComposeRun    Subcommand = "compose-run"
	ComposeCreate Subcommand = "compose-create"
	ComposeExec   Subcommand = "compose-exec"
)

// Other wraps an unrecognised or not-security-relevant subcommand name.
func Other(name string) Subcommand { return Subcommand("other:" + name) }

// MountOrigin records which flag form produced a BindMount.
type MountOrigin string

const (
	VolumeFlag     MountOrigin = "volume_flag"
	MountFlagOrig  MountOrigin = "mount_flag"
	ComposeVolumes MountOrigin = "compose"
)

// BindMount is a single host-path/container-path mapping.
type BindMount struct {
	HostPath      string
	ContainerPath string
	Origin        MountOrigin
	ReadOnly      bool
}

// RiskyFlagKind enumerates every flag/setting the policy engine treats as
// security-relevant.
type RiskyFlagKind string

const (
	Privileged       RiskyFlagKind = "privileged"
	CapAdd           RiskyFlagKind = "cap_add"
	SecurityOpt      RiskyFlagKind = "security_opt"
	PidHost          RiskyFlagKind = "pid_host"
	PidContainer     RiskyFlagKind = "pid_container"
	NetworkHost      RiskyFlagKind = "network_host"
	NetworkContainer RiskyFlagKind = "network_container"
	Device           RiskyFlagKind = "device"
	VolumesFrom      RiskyFlagKind = "volumes_from"
	UsernsHost       RiskyFlagKind = "userns_host"
	CgroupnsHost     RiskyFlagKind = "cgroupns_host"
	IpcHost          RiskyFlagKind = "ipc_host"
	IpcContainer     RiskyFlagKind = "ipc_container"
	UtsHost          RiskyFlagKind = "uts_host"
	Sysctl           RiskyFlagKind = "sysctl"
	AddHost          RiskyFlagKind = "add_host"
	BuildArg         RiskyFlagKind = "build_arg"
	MountPropagation RiskyFlagKind = "mount_propagation"
)

// RiskyFlag is one security-relevant setting extracted from an invocation.
// Value carries the primary payload (capability name, device spec,
// namespace target); Key carries the secondary payload for two-part flags
// (Sysctl's key, AddHost's hostname, BuildArg's key).
type RiskyFlag struct {
	Kind  RiskyFlagKind
	Value string
	Key   string
}

// Invocation is the reconstructed shape of one docker/compose command.
type Invocation struct {
	Subcommand  Subcommand
	BindMounts  []BindMount
	RiskyFlags  []RiskyFlag
	ComposeFile string
	Image       string
	HostPaths   []string
}

var (
	mountTypeBindRe = regexp.MustCompile(`(?:^|,)type=bind(?:,|$)`)
	mountSourceRe   = regexp.MustCompile(`(?:^|,)(?:source|src)=([^,]+)`)
	mountTargetRe   = regexp.MustCompile(`(?:^|,)(?:target|dst|destination)=([^,]+)`)
	mountReadonlyRe = regexp.MustCompile(`(?:^|,)(?:readonly|ro)(?:=true)?(?:,|$)`)
	mountPropRe     = regexp.MustCompile(`(?:^|,)bind-propagation=(shared|rshared)(?:,|$)`)
)

func isHostPathLike(s string) bool {
	return strings.HasPrefix(s, "/") || strings.HasPrefix(s, ".") ||
		strings.HasPrefix(s, "~") || strings.HasPrefix(s, "$")
}

func parseVolumeFlag(value string) (BindMount, bool) {
	parts := strings.SplitN(value, ":", 3)
	if len(parts) < 2 {
		return BindMount{}, false
	}
	host := parts[0]
	if !isHostPathLike(host) {
		return BindMount{}, false
	}
	readOnly := false
	if len(parts) == 3 {
		for _, opt := range strings.Split(parts[2], ",") {
			if opt == "ro" {
				readOnly = true
			}
		}
	}
	return BindMount{
		HostPath:      host,
		ContainerPath: parts[1],
		Origin:        VolumeFlag,
		ReadOnly:      readOnly,
	}, true
}

func parseMountFlag(value string) (BindMount, bool) {
	if !mountTypeBindRe.MatchString(value) {
		return BindMount{}, false
	}
	sourceMatch := mountSourceRe.FindStringSubmatch(value)
	if sourceMatch == nil {
		return BindMount{}, false
	}
	target := ""
	if m := mountTargetRe.FindStringSubmatch(value); m != nil {
		target = m[1]
	}
	return BindMount{
		HostPath:      sourceMatch[1],
		ContainerPath: target,
		Origin:        MountFlagOrig,
		ReadOnly:      mountReadonlyRe.MatchString(value),
	}, true
}

func mountPropagationSpec(value string) (string, bool) {
	if m := mountPropRe.FindStringSubmatch(value); m != nil {
		return m[1], true
	}
	return "", false
}

var preSubcommandKeywords = map[string]bool{
	"run": true, "create": true, "build": true, "cp": true, "exec": true,
	"start": true, "stop": true, "pull": true, "push": true, "images": true,
	"ps": true, "logs": true, "inspect": true, "rm": true, "rmi": true,
	"network": true, "volume": true, "buildx": true,
}

// Parse reconstructs args (the token list following the docker/compose
// binary name) into an Invocation.
func Parse(args []string) Invocation {
	inv := Invocation{Subcommand: Other("unknown")}
	if len(args) == 0 {
		return inv
	}

	i := 0
	foundSubcommand := false
	isCompose := false

	for i < len(args) {
		arg := args[i]
		if arg == "compose" || arg == "docker-compose" {
			isCompose = true
			i++
			break
		}
		if preSubcommandKeywords[arg] {
			foundSubcommand = true
			break
		}
		i++
	}

	if isCompose {
		parseComposeArgs(args, i, &inv)
		return inv
	}
	if !foundSubcommand {
		return inv
	}

	switch args[i] {
	case "run":
		inv.Subcommand = Run
	case "create":
		inv.Subcommand = Create
	case "build":
		inv.Subcommand = Build
	case "cp":
		inv.Subcommand = Cp
	case "exec":
		inv.Subcommand = Exec
	case "buildx":
		i++
		if i < len(args) && args[i] == "build" {
			inv.Subcommand = Build
		} else {
			next := "unknown"
			if i < len(args) {
				next = args[i]
			}
			inv.Subcommand = Other("buildx-" + next)
		}
	default:
		inv.Subcommand = Other(args[i])
	}
	i++

	switch inv.Subcommand {
	case Cp:
		parseCpArgs(args, i, &inv)
		return inv
	case Build:
		parseBuildArgs(args, i, &inv)
		return inv
	case Exec:
		parseExecArgs(args, i, &inv)
		return inv
	}

	if inv.Subcommand != Run && inv.Subcommand != Create {
		return inv
	}
	parseRunOrCreateArgs(args, i, &inv)
	return inv
}

func parseRunOrCreateArgs(args []string, start int, inv *Invocation) {
	i := start
	for i < len(args) {
		arg := args[i]

		if arg == "--" {
			if i+1 < len(args) {
				inv.Image = args[i+1]
			}
			break
		}

		if (arg == "-v" || arg == "--volume") && i+1 < len(args) {
			if bm, ok := parseVolumeFlag(args[i+1]); ok {
				inv.BindMounts = append(inv.BindMounts, bm)
			}
			i += 2
			continue
		}
		if value, ok := strings.CutPrefix(arg, "--volume="); ok {
			if bm, ok := parseVolumeFlag(value); ok {
				inv.BindMounts = append(inv.BindMounts, bm)
			}
			i++
			continue
		}
		if value, ok := strings.CutPrefix(arg, "-v="); ok {
			if bm, ok := parseVolumeFlag(value); ok {
				inv.BindMounts = append(inv.BindMounts, bm)
			}
			i++
			continue
		}

		if arg == "--mount" && i+1 < len(args) {
			value := args[i+1]
			if bm, ok := parseMountFlag(value); ok {
				inv.BindMounts = append(inv.BindMounts, bm)
			}
			if spec, ok := mountPropagationSpec(value); ok {
				inv.RiskyFlags = append(inv.RiskyFlags, RiskyFlag{Kind: MountPropagation, Value: spec})
			}
			i += 2
			continue
		}
		if value, ok := strings.CutPrefix(arg, "--mount="); ok {
			if bm, ok := parseMountFlag(value); ok {
				inv.BindMounts = append(inv.BindMounts, bm)
			}
			if spec, ok := mountPropagationSpec(value); ok {
				inv.RiskyFlags = append(inv.RiskyFlags, RiskyFlag{Kind: MountPropagation, Value: spec})
			}
			i++
			continue
		}

		if arg == "--privileged" {
			inv.RiskyFlags = append(inv.RiskyFlags, RiskyFlag{Kind: Privileged})
			i++
			continue
		}

		if arg == "--cap-add" && i+1 < len(args) {
			inv.RiskyFlags = append(inv.RiskyFlags, RiskyFlag{Kind: CapAdd, Value: args[i+1]})
			i += 2
			continue
		}
		if value, ok := strings.CutPrefix(arg, "--cap-add="); ok {
			inv.RiskyFlags = append(inv.RiskyFlags, RiskyFlag{Kind: CapAdd, Value: value})
			i++
			continue
		}

		if arg == "--security-opt" && i+1 < len(args) {
			inv.RiskyFlags = append(inv.RiskyFlags, RiskyFlag{Kind: SecurityOpt, Value: args[i+1]})
			i += 2
			continue
		}
		if value, ok := strings.CutPrefix(arg, "--security-opt="); ok {
			inv.RiskyFlags = append(inv.RiskyFlags, RiskyFlag{Kind: SecurityOpt, Value: value})
			i++
			continue
		}

		if arg == "--pid" && i+1 < len(args) {
			if target, ok := namespaceTarget(args[i+1]); ok {
				inv.RiskyFlags = append(inv.RiskyFlags, pidFlag(target))
				i += 2
				continue
			}
		}
		if value, ok := strings.CutPrefix(arg, "--pid="); ok {
			if target, ok := namespaceTarget(value); ok {
				inv.RiskyFlags = append(inv.RiskyFlags, pidFlag(target))
				i++
				continue
			}
		}

		if (arg == "--network" || arg == "--net") && i+1 < len(args) {
			if target, ok := namespaceTarget(args[i+1]); ok {
				inv.RiskyFlags = append(inv.RiskyFlags, networkFlag(target))
				i += 2
				continue
			}
		}
		if value, ok := cutNetworkEquals(arg); ok {
			if target, ok := namespaceTarget(value); ok {
				inv.RiskyFlags = append(inv.RiskyFlags, networkFlag(target))
				i++
				continue
			}
		}

		if arg == "--ipc" && i+1 < len(args) {
			if target, ok := namespaceTarget(args[i+1]); ok {
				inv.RiskyFlags = append(inv.RiskyFlags, ipcFlag(target))
				i += 2
				continue
			}
		}
		if value, ok := strings.CutPrefix(arg, "--ipc="); ok {
			if target, ok := namespaceTarget(value); ok {
				inv.RiskyFlags = append(inv.RiskyFlags, ipcFlag(target))
				i++
				continue
			}
		}

		if arg == "--uts" && i+1 < len(args) && args[i+1] == "host" {
			inv.RiskyFlags = append(inv.RiskyFlags, RiskyFlag{Kind: UtsHost})
			i += 2
			continue
		}
		if arg == "--uts=host" {
			inv.RiskyFlags = append(inv.RiskyFlags, RiskyFlag{Kind: UtsHost})
			i++
			continue
		}

		if arg == "--userns" && i+1 < len(args) && args[i+1] == "host" {
			inv.RiskyFlags = append(inv.RiskyFlags, RiskyFlag{Kind: UsernsHost})
			i += 2
			continue
		}
		if arg == "--userns=host" {
			inv.RiskyFlags = append(inv.RiskyFlags, RiskyFlag{Kind: UsernsHost})
			i++
			continue
		}

		if arg == "--cgroupns" && i+1 < len(args) && args[i+1] == "host" {
			inv.RiskyFlags = append(inv.RiskyFlags, RiskyFlag{Kind: CgroupnsHost})
			i += 2
			continue
		}
		if arg == "--cgroupns=host" {
			inv.RiskyFlags = append(inv.RiskyFlags, RiskyFlag{Kind: CgroupnsHost})
			i++
			continue
		}

		if arg == "--device" && i+1 < len(args) {
			inv.RiskyFlags = append(inv.RiskyFlags, RiskyFlag{Kind: Device, Value: args[i+1]})
			i += 2
			continue
		}
		if value, ok := strings.CutPrefix(arg, "--device="); ok {
			inv.RiskyFlags = append(inv.RiskyFlags, RiskyFlag{Kind: Device, Value: value})
			i++
			continue
		}

		if arg == "--volumes-from" && i+1 < len(args) {
			inv.RiskyFlags = append(inv.RiskyFlags, RiskyFlag{Kind: VolumesFrom, Value: args[i+1]})
			i += 2
			continue
		}
		if value, ok := strings.CutPrefix(arg, "--volumes-from="); ok {
			inv.RiskyFlags = append(inv.RiskyFlags, RiskyFlag{Kind: VolumesFrom, Value: value})
			i++
			continue
		}

		if arg == "--sysctl" && i+1 < len(args) {
			if k, v, ok := splitKV(args[i+1]); ok {
				inv.RiskyFlags = append(inv.RiskyFlags, RiskyFlag{Kind: Sysctl, Key: k, Value: v})
			}
			i += 2
			continue
		}
		if value, ok := strings.CutPrefix(arg, "--sysctl="); ok {
			if k, v, ok := splitKV(value); ok {
				inv.RiskyFlags = append(inv.RiskyFlags, RiskyFlag{Kind: Sysctl, Key: k, Value: v})
			}
			i++
			continue
		}

		if arg == "--add-host" && i+1 < len(args) {
			if h, ip, ok := splitHostIP(args[i+1]); ok {
				inv.RiskyFlags = append(inv.RiskyFlags, RiskyFlag{Kind: AddHost, Key: h, Value: ip})
			}
			i += 2
			continue
		}
		if value, ok := strings.CutPrefix(arg, "--add-host="); ok {
			if h, ip, ok := splitHostIP(value); ok {
				inv.RiskyFlags = append(inv.RiskyFlags, RiskyFlag{Kind: AddHost, Key: h, Value: ip})
			}
			i++
			continue
		}

		if (arg == "--env-file" || arg == "--label-file") && i+1 < len(args) {
			inv.HostPaths = append(inv.HostPaths, args[i+1])
			i += 2
			continue
		}
		if value, ok := strings.CutPrefix(arg, "--env-file="); ok {
			inv.HostPaths = append(inv.HostPaths, value)
			i++
			continue
		}
		if value, ok := strings.CutPrefix(arg, "--label-file="); ok {
			inv.HostPaths = append(inv.HostPaths, value)
			i++
			continue
		}

		if isFlagWithValue(arg) {
			i += 2
			continue
		}

		if !strings.HasPrefix(arg, "-") && inv.Image == "" {
			inv.Image = arg
			break
		}

		i++
	}
}

// namespaceTarget classifies a --pid/--network/--ipc value: it returns
// "host" for the host namespace, or the value itself for container:N and
// service:N (the two are treated identically).
func namespaceTarget(value string) (string, bool) {
	if value == "host" {
		return "host", true
	}
	if strings.HasPrefix(value, "container:") || strings.HasPrefix(value, "service:") {
		return value, true
	}
	return "", false
}

// namespaceName returns N from a container:N or service:N target.
func namespaceName(target string) string {
	_, name, _ := strings.Cut(target, ":")
	return name
}

func pidFlag(target string) RiskyFlag {
	if target == "host" {
		return RiskyFlag{Kind: PidHost}
	}
	return RiskyFlag{Kind: PidContainer, Value: namespaceName(target)}
}

func networkFlag(target string) RiskyFlag {
	if target == "host" {
		return RiskyFlag{Kind: NetworkHost}
	}
	return RiskyFlag{Kind: NetworkContainer, Value: namespaceName(target)}
}

func ipcFlag(target string) RiskyFlag {
	if target == "host" {
		return RiskyFlag{Kind: IpcHost}
	}
	return RiskyFlag{Kind: IpcContainer, Value: namespaceName(target)}
}

func cutNetworkEquals(arg string) (string, bool) {
	if v, ok := strings.CutPrefix(arg, "--network="); ok {
		return v, true
	}
	if v, ok := strings.CutPrefix(arg, "--net="); ok {
		return v, true
	}
	return "", false
}

func splitKV(s string) (string, string, bool) {
	idx := strings.IndexByte(s, '=')
	if idx < 0 {
		return "", "", false
	}
	return s[:idx], s[idx+1:], true
}

func splitHostIP(s string) (string, string, bool) {
	idx := strings.IndexByte(s, ':')
	if idx < 0 {
		return "", "", false
	}
	return s[:idx], s[idx+1:], true
}

func parseCpArgs(args []string, start int, inv *Invocation) {
	i := start
	var positional []string
	for i < len(args) {
		arg := args[i]
		if strings.HasPrefix(arg, "-") {
			i++
			continue
		}
		positional = append(positional, arg)
		i++
	}
	for _, path := range positional {
		if strings.Contains(path, ":") && !strings.HasPrefix(path, "/") && !strings.HasPrefix(path, ".") {
			continue
		}
		inv.HostPaths = append(inv.HostPaths, path)
	}
}

var buildFlagsWithValue = map[string]bool{
	"-f": true, "--file": true, "-t": true, "--tag": true,
	"--target": true, "--platform": true, "--label": true,
	"--cache-from": true, "--network": true, "--progress": true,
	"--output": true, "-o": true, "--iidfile": true,
}

func parseBuildArgs(args []string, start int, inv *Invocation) {
	i := start
	for i < len(args) {
		arg := args[i]

		if arg == "--" {
			if i+1 < len(args) {
				inv.HostPaths = append(inv.HostPaths, args[i+1])
			}
			break
		}

		if arg == "--build-arg" && i+1 < len(args) {
			if k, v, ok := splitKV(args[i+1]); ok {
				inv.RiskyFlags = append(inv.RiskyFlags, RiskyFlag{Kind: BuildArg, Key: k, Value: v})
			}
			i += 2
			continue
		}
		if value, ok := strings.CutPrefix(arg, "--build-arg="); ok {
			if k, v, ok := splitKV(value); ok {
				inv.RiskyFlags = append(inv.RiskyFlags, RiskyFlag{Kind: BuildArg, Key: k, Value: v})
			}
			i++
			continue
		}

		if (arg == "--secret" || arg == "--ssh") && i+1 < len(args) {
			if src, ok := extractSrcField(args[i+1]); ok {
				inv.HostPaths = append(inv.HostPaths, src)
			}
			i += 2
			continue
		}
		if value, ok := cutSecretOrSSHEquals(arg); ok {
			if src, ok := extractSrcField(value); ok {
				inv.HostPaths = append(inv.HostPaths, src)
			}
			i++
			continue
		}

		if buildFlagsWithValue[arg] {
			i += 2
			continue
		}
		if hasAnyPrefix(arg, "--file=", "-f=", "--tag=", "-t=", "--target=", "--platform=") {
			i++
			continue
		}

		if strings.HasPrefix(arg, "-") {
			i++
			continue
		}

		inv.HostPaths = append(inv.HostPaths, arg)
		break
	}
}

func cutSecretOrSSHEquals(arg string) (string, bool) {
	if v, ok := strings.CutPrefix(arg, "--secret="); ok {
		return v, true
	}
	if v, ok := strings.CutPrefix(arg, "--ssh="); ok {
		return v, true
	}
	return "", false
}

func extractSrcField(value string) (string, bool) {
	for _, part := range strings.Split(value, ",") {
		if k, v, ok := splitKV(part); ok && k == "src" {
			return v, true
		}
	}
	return "", false
}

func hasAnyPrefix(s string, prefixes ...string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

func parseExecArgs(args []string, start int, inv *Invocation) {
	i := start
	for i < len(args) {
		arg := args[i]

		if arg == "--privileged" {
			inv.RiskyFlags = append(inv.RiskyFlags, RiskyFlag{Kind: Privileged})
			i++
			continue
		}

		if arg == "-e" || arg == "--env" || arg == "-u" || arg == "--user" || arg == "-w" || arg == "--workdir" {
			i += 2
			continue
		}
		if hasAnyPrefix(arg, "--env=", "--user=", "--workdir=") {
			i++
			continue
		}

		if strings.HasPrefix(arg, "-") {
			i++
			continue
		}

		break
	}
}

func parseComposeArgs(args []string, start int, inv *Invocation) {
	i := start
	for i < len(args) {
		arg := args[i]

		if arg == "-f" || arg == "--file" {
			if i+1 < len(args) {
				inv.ComposeFile = args[i+1]
				i += 2
				continue
			}
		}
		if value, ok := strings.CutPrefix(arg, "--file="); ok {
			inv.ComposeFile = value
			i++
			continue
		}

		switch arg {
		case "up":
			inv.Subcommand = ComposeUp
			return
		case "run":
			inv.Subcommand = ComposeRun
			i++
			for i < len(args) {
				if (args[i] == "-v" || args[i] == "--volume") && i+1 < len(args) {
					if bm, ok := parseVolumeFlag(args[i+1]); ok {
						inv.BindMounts = append(inv.BindMounts, bm)
					}
					i += 2
					continue
				}
				i++
			}
			return
		case "create":
			inv.Subcommand = ComposeCreate
			return
		case "exec":
			inv.Subcommand = ComposeExec
			return
		default:
			i++
		}
	}
}

var flagsWithValue = map[string]bool{
	"-e": true, "--env": true, "--name": true, "-w": true, "--workdir": true,
	"-p": true, "--publish": true, "--expose": true, "-l": true, "--label": true,
	"--hostname": true, "-h": true, "--user": true, "-u": true,
	"--entrypoint": true, "--restart": true, "--memory": true, "-m": true,
	"--cpus": true, "--log-driver": true, "--log-opt": true,
	"--dns": true, "--tmpfs": true, "--shm-size": true, "--ulimit": true,
	"--stop-signal": true, "--stop-timeout": true, "--health-cmd": true,
	"--health-interval": true, "--health-retries": true,
	"--health-start-period": true, "--health-timeout": true,
	"--platform": true, "--pull": true, "--runtime": true,
	"--cgroup-parent": true, "--cidfile": true, "--mac-address": true,
	"--network-alias": true, "--storage-opt": true, "--gpus": true,
	"--attach": true, "-a": true, "--link": true, "--volume-driver": true,
	// Namespace-sharing flags whose explicit branches above only match
	// "host"/"container:N" values: any other value (e.g. "--pid private")
	// must still be consumed here so it isn't misread as the image name.
	"--pid": true, "--network": true, "--net": true, "--ip": true,
	"--ipc": true, "--uts": true, "--userns": true, "--cgroupns": true,
	"--volumes-from": true, "--sysctl": true, "--add-host": true,
}

// isFlagWithValue reports whether arg is a flag that consumes the next
// argument as its value regardless of that value's shape — the generic
// catch-all table. Missing an entry here is a latent bypass: the value
// would otherwise be misread as the image name or a risky flag argument.
func isFlagWithValue(arg string) bool {
	return flagsWithValue[arg]
}
