// Package compose discovers and analyses a docker-compose manifest,
// extracting the same BindMount/RiskyFlag shapes the argument parser
// produces for a plain docker CLI invocation. It is invoked by the policy
// engine only for compose-up/compose-run/compose-create subcommands.
package compose

import (
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/chis/safe-docker/internal/dockerargs"
	"github.com/chis/safe-docker/internal/guarderr"
)

// Analysis is the union of BindMounts and RiskyFlags recovered from a
// compose manifest's service definitions.
type Analysis struct {
	BindMounts []dockerargs.BindMount
	RiskyFlags []dockerargs.RiskyFlag
}

// FindComposeFile resolves the manifest path: the explicit --file value if
// given (absolute as-is, otherwise joined with cwd), or the default probe
// order in cwd. Returns "" when no candidate is found.
func FindComposeFile(specified, cwd string) string {
	if specified != "" {
		if filepath.IsAbs(specified) {
			return specified
		}
		return filepath.Join(cwd, specified)
	}

	for _, candidate := range []string{"compose.yml", "compose.yaml", "docker-compose.yml", "docker-compose.yaml"} {
		path := filepath.Join(cwd, candidate)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// Analyze reads, variable-expands, and parses the manifest at composePath,
// returning the combined bind mounts and risky flags across all services.
func Analyze(composePath string) (Analysis, error) {
	content, err := os.ReadFile(composePath)
	if err != nil {
		return Analysis{}, guarderr.NewComposeParse(err, "cannot read compose file %s: %v", composePath, err)
	}

	composeDir := filepath.Dir(composePath)
	vars := loadEnvFile(composeDir)
	expanded := expandVariables(string(content), vars)

	var doc map[string]any
	if err := yaml.Unmarshal([]byte(expanded), &doc); err != nil {
		return Analysis{}, guarderr.NewComposeParse(err, "cannot parse compose file %s: %v", composePath, err)
	}

	var analysis Analysis
	services, _ := doc["services"].(map[string]any)
	for _, raw := range services {
		service, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		extractServiceVolumes(service, composeDir, &analysis.BindMounts)
		extractServiceDangerousSettings(service, &analysis.RiskyFlags)
		extractServiceEnvFile(service, &analysis.BindMounts)
	}
	if include, ok := doc["include"].([]any); ok {
		for _, entry := range include {
			if s, ok := entry.(string); ok {
				analysis.BindMounts = append(analysis.BindMounts, dockerargs.BindMount{
					HostPath: resolvePath(s, composeDir),
					Origin:   dockerargs.ComposeVolumes,
				})
			}
		}
	}

	return analysis, nil
}

func resolvePath(path, composeDir string) string {
	if strings.HasPrefix(path, "/") || strings.HasPrefix(path, "~") || strings.HasPrefix(path, "$") {
		return path
	}
	return filepath.Join(composeDir, path)
}

func extractServiceVolumes(service map[string]any, composeDir string, mounts *[]dockerargs.BindMount) {
	volumes, ok := service["volumes"].([]any)
	if !ok {
		return
	}
	for _, v := range volumes {
		switch val := v.(type) {
		case string:
			if bm, ok := parseShortVolume(val, composeDir); ok {
				*mounts = append(*mounts, bm)
			}
		case map[string]any:
			if bm, ok := parseLongVolume(val, composeDir); ok {
				*mounts = append(*mounts, bm)
			}
			if bm, ok := parseDriverOptsDevice(val, composeDir); ok {
				*mounts = append(*mounts, bm)
			}
		}
	}
}

func parseShortVolume(spec, composeDir string) (dockerargs.BindMount, bool) {
	parts := strings.SplitN(spec, ":", 3)
	if len(parts) < 2 {
		return dockerargs.BindMount{}, false
	}
	host := parts[0]
	if !strings.HasPrefix(host, "/") && !strings.HasPrefix(host, ".") &&
		!strings.HasPrefix(host, "~") && !strings.HasPrefix(host, "$") {
		return dockerargs.BindMount{}, false
	}
	readOnly := false
	if len(parts) == 3 {
		for _, opt := range strings.Split(parts[2], ",") {
			if opt == "ro" {
				readOnly = true
			}
		}
	}
	return dockerargs.BindMount{
		HostPath:      resolvePath(host, composeDir),
		ContainerPath: parts[1],
		Origin:        dockerargs.ComposeVolumes,
		ReadOnly:      readOnly,
	}, true
}

func parseLongVolume(m map[string]any, composeDir string) (dockerargs.BindMount, bool) {
	volumeType, _ := m["type"].(string)
	if volumeType == "" {
		volumeType = "volume"
	}
	if volumeType != "bind" {
		return dockerargs.BindMount{}, false
	}
	source, ok := m["source"].(string)
	if !ok {
		return dockerargs.BindMount{}, false
	}
	target, _ := m["target"].(string)
	readOnly, _ := m["read_only"].(bool)
	return dockerargs.BindMount{
		HostPath:      resolvePath(source, composeDir),
		ContainerPath: target,
		Origin:        dockerargs.ComposeVolumes,
		ReadOnly:      readOnly,
	}, true
}

// parseDriverOptsDevice catches a known impersonation of bind mounts
// through local volume drivers: a driver_opts.device path is functionally
// a bind mount even though it is declared as a named volume.
func parseDriverOptsDevice(m map[string]any, composeDir string) (dockerargs.BindMount, bool) {
	driverOpts, ok := m["driver_opts"].(map[string]any)
	if !ok {
		return dockerargs.BindMount{}, false
	}
	device, ok := driverOpts["device"].(string)
	if !ok {
		return dockerargs.BindMount{}, false
	}
	if !strings.HasPrefix(device, "/") && !strings.HasPrefix(device, ".") {
		return dockerargs.BindMount{}, false
	}
	return dockerargs.BindMount{
		HostPath: resolvePath(device, composeDir),
		Origin:   dockerargs.ComposeVolumes,
	}, true
}

func extractServiceEnvFile(service map[string]any, mounts *[]dockerargs.BindMount) {
	switch v := service["env_file"].(type) {
	case string:
		*mounts = append(*mounts, dockerargs.BindMount{HostPath: v, Origin: dockerargs.ComposeVolumes})
	case []any:
		for _, entry := range v {
			if s, ok := entry.(string); ok {
				*mounts = append(*mounts, dockerargs.BindMount{HostPath: s, Origin: dockerargs.ComposeVolumes})
			}
		}
	}
}

func namespaceName(value string) (string, bool) {
	if rest, ok := strings.CutPrefix(value, "container:"); ok {
		return rest, true
	}
	if rest, ok := strings.CutPrefix(value, "service:"); ok {
		return rest, true
	}
	return "", false
}

func extractServiceDangerousSettings(service map[string]any, flags *[]dockerargs.RiskyFlag) {
	if privileged, _ := service["privileged"].(bool); privileged {
		*flags = append(*flags, dockerargs.RiskyFlag{Kind: dockerargs.Privileged})
	}

	if mode, ok := service["network_mode"].(string); ok {
		if mode == "host" {
			*flags = append(*flags, dockerargs.RiskyFlag{Kind: dockerargs.NetworkHost})
		} else if name, ok := namespaceName(mode); ok {
			*flags = append(*flags, dockerargs.RiskyFlag{Kind: dockerargs.NetworkContainer, Value: name})
		}
	}

	if pid, ok := service["pid"].(string); ok {
		if pid == "host" {
			*flags = append(*flags, dockerargs.RiskyFlag{Kind: dockerargs.PidHost})
		} else if name, ok := namespaceName(pid); ok {
			*flags = append(*flags, dockerargs.RiskyFlag{Kind: dockerargs.PidContainer, Value: name})
		}
	}

	if mode, ok := service["userns_mode"].(string); ok && mode == "host" {
		*flags = append(*flags, dockerargs.RiskyFlag{Kind: dockerargs.UsernsHost})
	}

	if ipc, ok := service["ipc"].(string); ok {
		if ipc == "host" {
			*flags = append(*flags, dockerargs.RiskyFlag{Kind: dockerargs.IpcHost})
		} else if name, ok := namespaceName(ipc); ok {
			*flags = append(*flags, dockerargs.RiskyFlag{Kind: dockerargs.IpcContainer, Value: name})
		}
	}

	if uts, ok := service["uts"].(string); ok && uts == "host" {
		*flags = append(*flags, dockerargs.RiskyFlag{Kind: dockerargs.UtsHost})
	}

	if caps, ok := service["cap_add"].([]any); ok {
		for _, c := range caps {
			if s, ok := c.(string); ok {
				*flags = append(*flags, dockerargs.RiskyFlag{Kind: dockerargs.CapAdd, Value: s})
			}
		}
	}

	if opts, ok := service["security_opt"].([]any); ok {
		for _, o := range opts {
			if s, ok := o.(string); ok {
				*flags = append(*flags, dockerargs.RiskyFlag{Kind: dockerargs.SecurityOpt, Value: s})
			}
		}
	}

	if devices, ok := service["devices"].([]any); ok {
		for _, d := range devices {
			if s, ok := d.(string); ok {
				*flags = append(*flags, dockerargs.RiskyFlag{Kind: dockerargs.Device, Value: s})
			}
		}
	}

	switch sysctls := service["sysctls"].(type) {
	case map[string]any:
		for k, v := range sysctls {
			if s, ok := v.(string); ok {
				*flags = append(*flags, dockerargs.RiskyFlag{Kind: dockerargs.Sysctl, Key: k, Value: s})
			}
		}
	case []any:
		for _, entry := range sysctls {
			s, ok := entry.(string)
			if !ok {
				continue
			}
			if idx := strings.IndexByte(s, '='); idx >= 0 {
				*flags = append(*flags, dockerargs.RiskyFlag{Kind: dockerargs.Sysctl, Key: s[:idx], Value: s[idx+1:]})
			}
		}
	}
}

// loadEnvFile builds the variable map used for manifest expansion: process
// environment first, then a sibling .env file's entries override it.
func loadEnvFile(dir string) map[string]string {
	vars := make(map[string]string)
	for _, kv := range os.Environ() {
		if idx := strings.IndexByte(kv, '='); idx >= 0 {
			vars[kv[:idx]] = kv[idx+1:]
		}
	}

	data, err := os.ReadFile(filepath.Join(dir, ".env"))
	if err != nil {
		return vars
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)
		vars[key] = value
	}
	return vars
}

// expandVariables expands ${NAME}, ${NAME:-default}, and bare $NAME
// references against vars. An unresolved ${NAME} with no default, an
// unresolved bare $NAME, and an empty ${} all expand to empty.
func expandVariables(content string, vars map[string]string) string {
	var result strings.Builder
	runes := []rune(content)

	for i := 0; i < len(runes); i++ {
		ch := runes[i]
		if ch != '$' {
			result.WriteRune(ch)
			continue
		}

		if i+1 < len(runes) && runes[i+1] == '{' {
			j := i + 2
			var inner strings.Builder
			for j < len(runes) && runes[j] != '}' {
				inner.WriteRune(runes[j])
				j++
			}
			i = j // loop's i++ advances past the closing '}'

			innerStr := inner.String()
			varName, defaultValue, hasDefault := strings.Cut(innerStr, ":-")
			if value, ok := vars[varName]; ok {
				result.WriteString(value)
			} else if hasDefault {
				result.WriteString(defaultValue)
			}
			continue
		}

		if i+1 < len(runes) && isIdentRune(runes[i+1]) {
			j := i + 1
			for j < len(runes) && isIdentRune(runes[j]) {
				j++
			}
			varName := string(runes[i+1 : j])
			if value, ok := vars[varName]; ok {
				result.WriteString(value)
			}
			i = j - 1
			continue
		}

		result.WriteRune(ch)
	}

	return result.String()
}

func isIdentRune(r rune) bool {
	return r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}
