// Package policy is the pure decision function at the center of the guard:
// given a parsed Invocation, the active Config, and the working directory,
// it produces a Verdict. It is the only component that consults the
// compose analyser and the path validator together, since a compose
// subcommand's dangerous settings and bind mounts must be folded into the
// same deny/ask accumulation as the invocation's own flags.
package policy

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/distribution/reference"

	"github.com/chis/safe-docker/internal/compose"
	"github.com/chis/safe-docker/internal/config"
	"github.com/chis/safe-docker/internal/dockerargs"
	"github.com/chis/safe-docker/internal/pathvalidator"
	"github.com/chis/safe-docker/internal/verdict"
)

var secretLikeBuildArg = regexp.MustCompile(`(?i)password|secret|token|api_key`)

func isDangerousSecurityOpt(opt string) bool {
	for _, pattern := range []string{
		"apparmor=unconfined", "apparmor:unconfined",
		"seccomp=unconfined", "seccomp:unconfined",
		"systempaths=unconfined", "systempaths:unconfined",
		"no-new-privileges=false", "no-new-privileges:false",
		"label=disable", "label:disable",
	} {
		if strings.Contains(opt, pattern) {
			return true
		}
	}
	return false
}

// securityOptSeccompPath extracts PATH from a "seccomp=PATH" value, unless
// PATH names one of the built-in profile keywords rather than a concrete
// filesystem path.
func securityOptSeccompPath(opt string) (string, bool) {
	const prefix = "seccomp="
	if !strings.HasPrefix(opt, prefix) {
		return "", false
	}
	val := opt[len(prefix):]
	if val == "" || val == "unconfined" || val == "default" {
		return "", false
	}
	return val, true
}

func namespaceDenyReason(kind dockerargs.RiskyFlagKind) string {
	switch kind {
	case dockerargs.PidHost:
		return "pid=host is not allowed"
	case dockerargs.PidContainer:
		return "pid sharing with another container is not allowed"
	case dockerargs.NetworkHost:
		return "network=host is not allowed"
	case dockerargs.NetworkContainer:
		return "network sharing with another container is not allowed"
	case dockerargs.UsernsHost:
		return "userns=host is not allowed"
	case dockerargs.CgroupnsHost:
		return "cgroupns=host is not allowed"
	case dockerargs.IpcHost:
		return "ipc=host is not allowed"
	case dockerargs.IpcContainer:
		return "ipc sharing with another container is not allowed"
	case dockerargs.UtsHost:
		return "uts=host is not allowed"
	default:
		return string(kind) + " is not allowed"
	}
}

// Evaluate is the policy engine's entry point: a pure function of inv, cfg,
// and cwd (plus whatever filesystem state the path validator and compose
// analyser read along the way).
func Evaluate(inv dockerargs.Invocation, cfg *config.Config, cwd string) verdict.Verdict {
	var denyReasons, askReasons []string

	accumulate := func(flags []dockerargs.RiskyFlag, prefix string) {
		for _, f := range flags {
			switch f.Kind {
			case dockerargs.Privileged:
				denyReasons = append(denyReasons, prefix+"privileged is not allowed")
			case dockerargs.CapAdd:
				if cfg.IsCapabilityBlocked(f.Value) {
					denyReasons = append(denyReasons, fmt.Sprintf("%scap_add %s is not allowed", prefix, f.Value))
				}
			case dockerargs.SecurityOpt:
				if isDangerousSecurityOpt(f.Value) {
					denyReasons = append(denyReasons, fmt.Sprintf("%ssecurity_opt %s is not allowed", prefix, f.Value))
				} else if path, ok := securityOptSeccompPath(f.Value); ok {
					propagatePathVerdict(pathvalidator.Validate(path, cfg, cwd), &denyReasons, &askReasons)
				}
			case dockerargs.PidHost, dockerargs.PidContainer,
				dockerargs.NetworkHost, dockerargs.NetworkContainer,
				dockerargs.UsernsHost, dockerargs.CgroupnsHost,
				dockerargs.IpcHost, dockerargs.IpcContainer, dockerargs.UtsHost:
				denyReasons = append(denyReasons, prefix+namespaceDenyReason(f.Kind))
			case dockerargs.Device:
				denyReasons = append(denyReasons, fmt.Sprintf("%sdevice %s is not allowed", prefix, f.Value))
			case dockerargs.VolumesFrom:
				askReasons = append(askReasons, fmt.Sprintf(
					"%svolumes-from %s may inherit dangerous mounts from another container", prefix, f.Value))
			case dockerargs.Sysctl:
				switch {
				case strings.HasPrefix(f.Key, "kernel."):
					denyReasons = append(denyReasons, fmt.Sprintf("%ssysctl %s is not allowed", prefix, f.Key))
				case strings.HasPrefix(f.Key, "net."):
					askReasons = append(askReasons, fmt.Sprintf("%ssysctl %s may affect host networking", prefix, f.Key))
				}
			case dockerargs.AddHost:
				if f.Value == "169.254.169.254" {
					askReasons = append(askReasons, fmt.Sprintf(
						"%sadd-host %s=%s targets the cloud metadata endpoint", prefix, f.Key, f.Value))
				}
			case dockerargs.BuildArg:
				if secretLikeBuildArg.MatchString(f.Key) {
					askReasons = append(askReasons, fmt.Sprintf("%sbuild-arg %s looks like it may carry a secret", prefix, f.Key))
				}
			case dockerargs.MountPropagation:
				if f.Value == "shared" || f.Value == "rshared" {
					denyReasons = append(denyReasons, fmt.Sprintf("%smount propagation %s is not allowed", prefix, f.Value))
				}
			}
		}
	}

	accumulate(inv.RiskyFlags, "")

	allMounts := append([]dockerargs.BindMount(nil), inv.BindMounts...)

	switch inv.Subcommand {
	case dockerargs.ComposeUp, dockerargs.ComposeRun, dockerargs.ComposeCreate:
		composePath := compose.FindComposeFile(inv.ComposeFile, cwd)
		if composePath == "" {
			denyReasons = append(denyReasons, "No compose file found in current directory")
		} else if analysis, err := compose.Analyze(composePath); err != nil {
			denyReasons = append(denyReasons, err.Error())
		} else {
			allMounts = append(allMounts, analysis.BindMounts...)
			accumulate(analysis.RiskyFlags, "Compose: ")
		}
	}

	for _, m := range allMounts {
		propagatePathVerdict(pathvalidator.Validate(m.HostPath, cfg, cwd), &denyReasons, &askReasons)
	}
	for _, p := range inv.HostPaths {
		propagatePathVerdict(pathvalidator.Validate(p, cfg, cwd), &denyReasons, &askReasons)
	}

	if len(cfg.AllowedImages) > 0 && inv.Image != "" {
		if !imageInAllowedList(inv.Image, cfg.AllowedImages) {
			askReasons = append(askReasons, fmt.Sprintf("Image '%s' is not in the allowed list", inv.Image))
		}
	}

	return verdict.FromReasons(denyReasons, askReasons)
}

// propagatePathVerdict folds a single path validator verdict into the
// running deny/ask reason lists. Allowed is silent; Unresolvable becomes
// Ask, matching spec.md's "Unresolvable becomes Ask" rule.
func propagatePathVerdict(v pathvalidator.Verdict, denyReasons, askReasons *[]string) {
	switch v.Kind {
	case pathvalidator.Denied:
		*denyReasons = append(*denyReasons, v.Reason)
	case pathvalidator.Sensitive, pathvalidator.Unresolvable:
		*askReasons = append(*askReasons, v.Reason)
	}
}

// imageInAllowedList reports whether image's repository name (ignoring
// tag/digest) matches one of allowed verbatim. Uses
// github.com/distribution/reference instead of a bare split on the first
// ":" so that digest references and port-qualified registry hostnames
// (registry.example.com:5000/ubuntu) are split correctly.
func imageInAllowedList(image string, allowed []string) bool {
	name := imageRepositoryName(image)
	for _, a := range allowed {
		if name == a {
			return true
		}
	}
	return false
}

func imageRepositoryName(image string) string {
	ref, err := reference.Parse(image)
	if err != nil {
		if i := strings.IndexByte(image, ':'); i >= 0 {
			return image[:i]
		}
		return image
	}
	named, ok := ref.(reference.Named)
	if !ok {
		return image
	}
	return named.Name()
}
