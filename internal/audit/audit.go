// Package audit collects per-invocation metadata during policy evaluation
// and, when enabled, appends one structured event per command to a JSONL
// sink, an OTLP-JSON sink, or both. Nothing here ever blocks a verdict:
// every write failure is logged and swallowed.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chis/safe-docker/internal/config"
	"github.com/chis/safe-docker/internal/dockerargs"
	"github.com/chis/safe-docker/internal/logging"
)

// Event is one audit record, JSONL-serialised with snake_case field names
// to match the sink format an operator's existing log pipeline expects.
type Event struct {
	TimestampUnixNano uint64   `json:"timestamp_unix_nano"`
	SessionID         string   `json:"session_id,omitempty"`
	Command           string   `json:"command"`
	Decision          string   `json:"decision"`
	Reason            string   `json:"reason,omitempty"`
	DockerSubcommand  string   `json:"docker_subcommand,omitempty"`
	DockerImage       string   `json:"docker_image,omitempty"`
	BindMounts        []string `json:"bind_mounts"`
	DangerousFlags    []string `json:"dangerous_flags"`
	Cwd               string   `json:"cwd"`
	PID               int      `json:"pid"`
	HostName          string   `json:"host_name"`
	Environment       string   `json:"environment"`
	Mode              string   `json:"mode"`
}

// Collector accumulates metadata from every Invocation seen while
// processing one command, across however many docker segments it
// contains, so BuildEvent can report the first subcommand/image and the
// full union of mounts and flags.
type Collector struct {
	DockerSubcommands []string
	Images            []string
	BindMounts        []string
	DangerousFlags    []string
}

// NewCollector returns an empty Collector.
func NewCollector() *Collector { return &Collector{} }

// RecordInvocation folds one parsed Invocation's metadata into the
// collector.
func (c *Collector) RecordInvocation(inv dockerargs.Invocation) {
	c.DockerSubcommands = append(c.DockerSubcommands, string(inv.Subcommand))
	if inv.Image != "" {
		c.Images = append(c.Images, inv.Image)
	}
	for _, m := range inv.BindMounts {
		c.BindMounts = append(c.BindMounts, m.HostPath)
	}
	for _, f := range inv.RiskyFlags {
		c.DangerousFlags = append(c.DangerousFlags, flagString(f))
	}
}

// flagString renders a RiskyFlag the way a human would type it on a docker
// command line, mirroring docker_args.rs's Display impl for DangerousFlag
// extended to this spec's larger RiskyFlagKind set.
func flagString(f dockerargs.RiskyFlag) string {
	switch f.Kind {
	case dockerargs.Privileged:
		return "--privileged"
	case dockerargs.CapAdd:
		return "--cap-add=" + f.Value
	case dockerargs.SecurityOpt:
		return "--security-opt " + f.Value
	case dockerargs.PidHost:
		return "--pid=host"
	case dockerargs.PidContainer:
		return "--pid=container:" + f.Value
	case dockerargs.NetworkHost:
		return "--network=host"
	case dockerargs.NetworkContainer:
		return "--network=container:" + f.Value
	case dockerargs.Device:
		return "--device=" + f.Value
	case dockerargs.VolumesFrom:
		return "--volumes-from=" + f.Value
	case dockerargs.UsernsHost:
		return "--userns=host"
	case dockerargs.CgroupnsHost:
		return "--cgroupns=host"
	case dockerargs.IpcHost:
		return "--ipc=host"
	case dockerargs.IpcContainer:
		return "--ipc=container:" + f.Value
	case dockerargs.UtsHost:
		return "--uts=host"
	case dockerargs.Sysctl:
		return fmt.Sprintf("--sysctl %s=%s", f.Key, f.Value)
	case dockerargs.AddHost:
		return fmt.Sprintf("--add-host %s:%s", f.Key, f.Value)
	case dockerargs.BuildArg:
		return fmt.Sprintf("--build-arg %s=%s", f.Key, f.Value)
	case dockerargs.MountPropagation:
		return "bind-propagation=" + f.Value
	default:
		return string(f.Kind)
	}
}

// IsEnabled reports whether audit logging is active: either the config
// turns it on, or the SAFE_DOCKER_AUDIT=1 environment variable does, for a
// one-off trace without touching the config file.
func IsEnabled(cfg config.AuditConfig) bool {
	return cfg.Enabled || os.Getenv("SAFE_DOCKER_AUDIT") == "1"
}

// BuildEvent assembles an Event from the collected metadata and the final
// verdict.
func BuildEvent(command, decision, reason string, collector *Collector, sessionID, cwd, mode string) Event {
	var dockerSubcommand, dockerImage string
	if len(collector.DockerSubcommands) > 0 {
		dockerSubcommand = collector.DockerSubcommands[0]
	}
	if len(collector.Images) > 0 {
		dockerImage = collector.Images[0]
	}

	hostName, _ := os.Hostname()

	environment := os.Getenv("SAFE_DOCKER_ENV")
	if environment == "" {
		environment = "development"
	}

	return Event{
		TimestampUnixNano: uint64(time.Now().UnixNano()),
		SessionID:         sessionID,
		Command:           command,
		Decision:          decision,
		Reason:            reason,
		DockerSubcommand:  dockerSubcommand,
		DockerImage:       dockerImage,
		BindMounts:        collector.BindMounts,
		DangerousFlags:    collector.DangerousFlags,
		Cwd:               cwd,
		PID:               os.Getpid(),
		HostName:          hostName,
		Environment:       environment,
		Mode:              mode,
	}
}

// Emit writes event to whichever sink(s) cfg.Format selects.
func Emit(event Event, cfg config.AuditConfig, log *logging.Logger) {
	switch cfg.Format {
	case config.AuditFormatJSONL:
		writeJSONL(event, cfg.JSONLPath, log)
	case config.AuditFormatOTLP:
		writeOTLP(event, cfg.OTLPPath, log)
	case config.AuditFormatBoth:
		writeJSONL(event, cfg.JSONLPath, log)
		writeOTLP(event, cfg.OTLPPath, log)
	}
}

func writeJSONL(event Event, path string, log *logging.Logger) {
	path = config.ExpandHome(path)
	if err := ensureParentDir(path); err != nil {
		log.Warn("failed to create audit log directory for %s: %v", path, err)
		return
	}

	line, err := json.Marshal(event)
	if err != nil {
		log.Warn("failed to serialize audit event: %v", err)
		return
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		log.Warn("failed to open audit log file %s: %v", path, err)
		return
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		log.Warn("failed to write audit log to %s: %v", path, err)
	}
}

func ensureParentDir(path string) error {
	parent := filepath.Dir(path)
	if _, err := os.Stat(parent); os.IsNotExist(err) {
		return os.MkdirAll(parent, 0755)
	}
	return nil
}
