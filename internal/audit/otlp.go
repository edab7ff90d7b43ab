package audit

import (
	"encoding/json"
	"os"
	"strconv"

	"github.com/chis/safe-docker/internal/config"
	"github.com/chis/safe-docker/internal/logging"
)

// serviceVersion is reported as the OTLP resource's service.version
// attribute. safe-docker has no release-version scheme of its own yet, so
// this is a fixed placeholder rather than something threaded through from
// a build flag.
const serviceVersion = "dev"

// ExportLogsServiceRequest is the top-level OTLP/JSON logs export payload.
type ExportLogsServiceRequest struct {
	ResourceLogs []ResourceLogs `json:"resourceLogs"`
}

// ResourceLogs groups ScopeLogs under a single Resource.
type ResourceLogs struct {
	Resource   Resource    `json:"resource"`
	ScopeLogs  []ScopeLogs `json:"scopeLogs"`
	SchemaURL  string      `json:"schemaUrl,omitempty"`
}

// ScopeLogs groups LogRecords under a single instrumentation scope.
type ScopeLogs struct {
	Scope      InstrumentationScope `json:"scope"`
	LogRecords []LogRecord          `json:"logRecords"`
	SchemaURL  string               `json:"schemaUrl,omitempty"`
}

// InstrumentationScope names the emitting component; safe-docker never sets
// one, matching the original's use of the ScopeLogs default.
type InstrumentationScope struct {
	Name    string `json:"name,omitempty"`
	Version string `json:"version,omitempty"`
}

// Resource carries the process/host-level attributes common to every
// LogRecord in this export.
type Resource struct {
	Attributes             []KeyValue `json:"attributes"`
	DroppedAttributesCount uint32     `json:"droppedAttributesCount,omitempty"`
}

// LogRecord is one OTLP log entry. TimeUnixNano/ObservedTimeUnixNano are
// fixed64 fields in the protobuf definition, which the JSON mapping
// represents as strings rather than numbers.
type LogRecord struct {
	TimeUnixNano           string     `json:"timeUnixNano"`
	ObservedTimeUnixNano   string     `json:"observedTimeUnixNano"`
	SeverityNumber         int32      `json:"severityNumber"`
	SeverityText           string     `json:"severityText"`
	Body                   *AnyValue  `json:"body,omitempty"`
	Attributes             []KeyValue `json:"attributes"`
	DroppedAttributesCount uint32     `json:"droppedAttributesCount,omitempty"`
	Flags                  uint32     `json:"flags,omitempty"`
	TraceID                string     `json:"traceId,omitempty"`
	SpanID                 string     `json:"spanId,omitempty"`
}

// KeyValue is an OTLP attribute entry.
type KeyValue struct {
	Key   string   `json:"key"`
	Value AnyValue `json:"value"`
}

// AnyValue is OTLP's tagged-union attribute value. Only the String, Int, and
// Array variants are ever produced here, matching what the audit event
// actually carries.
type AnyValue struct {
	kind     anyValueKind
	str      string
	intVal   int64
	arrayVal []AnyValue
}

type anyValueKind int

const (
	anyValueString anyValueKind = iota
	anyValueInt
	anyValueArray
)

func stringValue(s string) AnyValue { return AnyValue{kind: anyValueString, str: s} }
func intValue(i int64) AnyValue     { return AnyValue{kind: anyValueInt, intVal: i} }
func arrayValue(values []AnyValue) AnyValue {
	return AnyValue{kind: anyValueArray, arrayVal: values}
}

// MarshalJSON renders the variant actually set, matching the protobuf JSON
// mapping: string values as "stringValue", ints as "intValue" (itself a
// JSON string, per the int64 fixed-width convention), and arrays nested
// under "arrayValue":{"values":[...]}.
func (v AnyValue) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case anyValueInt:
		return json.Marshal(struct {
			IntValue string `json:"intValue"`
		}{strconv.FormatInt(v.intVal, 10)})
	case anyValueArray:
		return json.Marshal(struct {
			ArrayValue ArrayValue `json:"arrayValue"`
		}{ArrayValue{Values: v.arrayVal}})
	default:
		return json.Marshal(struct {
			StringValue string `json:"stringValue"`
		}{v.str})
	}
}

// ArrayValue wraps a list of AnyValue, OTLP's representation of a
// repeated-string attribute.
type ArrayValue struct {
	Values []AnyValue `json:"values"`
}

func kvString(key, value string) KeyValue          { return KeyValue{Key: key, Value: stringValue(value)} }
func kvInt(key string, value int64) KeyValue       { return KeyValue{Key: key, Value: intValue(value)} }
func kvStringArray(key string, values []string) KeyValue {
	anyValues := make([]AnyValue, len(values))
	for i, s := range values {
		anyValues[i] = stringValue(s)
	}
	return KeyValue{Key: key, Value: arrayValue(anyValues)}
}

func severity(decision string) (int32, string) {
	switch decision {
	case "allow":
		return 9, "INFO"
	case "ask":
		return 13, "WARN"
	case "deny":
		return 17, "ERROR"
	default:
		return 0, "UNSPECIFIED"
	}
}

// writeOTLP appends event to path as one OTLP/JSON ExportLogsServiceRequest
// per line.
func writeOTLP(event Event, path string, log *logging.Logger) {
	path = expandAndEnsure(path, log)
	if path == "" {
		return
	}

	severityNumber, severityText := severity(event.Decision)

	attributes := []KeyValue{
		kvString("decision", event.Decision),
		kvString("command", event.Command),
		kvString("cwd", event.Cwd),
	}
	if event.SessionID != "" {
		attributes = append(attributes, kvString("session_id", event.SessionID))
	}
	if event.DockerSubcommand != "" {
		attributes = append(attributes, kvString("docker.subcommand", event.DockerSubcommand))
	}
	if event.DockerImage != "" {
		attributes = append(attributes, kvString("docker.image", event.DockerImage))
	}
	if len(event.BindMounts) > 0 {
		attributes = append(attributes, kvStringArray("docker.bind_mounts", event.BindMounts))
	}
	if len(event.DangerousFlags) > 0 {
		attributes = append(attributes, kvStringArray("docker.dangerous_flags", event.DangerousFlags))
	}
	attributes = append(attributes, kvInt("process.pid", int64(event.PID)))
	attributes = append(attributes, kvString("safe_docker.mode", event.Mode))

	var body *AnyValue
	if event.Reason != "" {
		v := stringValue(event.Reason)
		body = &v
	}

	timestamp := strconv.FormatUint(event.TimestampUnixNano, 10)
	logRecord := LogRecord{
		TimeUnixNano:         timestamp,
		ObservedTimeUnixNano: timestamp,
		SeverityNumber:       severityNumber,
		SeverityText:         severityText,
		Body:                 body,
		Attributes:           attributes,
	}

	resourceAttributes := []KeyValue{
		kvString("service.name", "safe-docker"),
		kvString("service.version", serviceVersion),
		kvString("deployment.environment.name", event.Environment),
		kvString("host.name", event.HostName),
	}

	request := ExportLogsServiceRequest{
		ResourceLogs: []ResourceLogs{
			{
				Resource: Resource{Attributes: resourceAttributes},
				ScopeLogs: []ScopeLogs{
					{LogRecords: []LogRecord{logRecord}},
				},
			},
		},
	}

	line, err := json.Marshal(request)
	if err != nil {
		log.Warn("failed to serialize OTLP audit event: %v", err)
		return
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		log.Warn("failed to open OTLP audit log file %s: %v", path, err)
		return
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		log.Warn("failed to write OTLP audit log to %s: %v", path, err)
	}
}

// expandAndEnsure expands ~ in path and makes sure its parent directory
// exists, returning "" (and logging a warning) on failure.
func expandAndEnsure(path string, log *logging.Logger) string {
	expanded := config.ExpandHome(path)
	if err := ensureParentDir(expanded); err != nil {
		log.Warn("failed to create audit log directory for %s: %v", expanded, err)
		return ""
	}
	return expanded
}
