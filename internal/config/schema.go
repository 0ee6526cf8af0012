package config

import (
	"fmt"
	"sort"
	"strconv"
	"time"
)

// OptionType describes how an option's string value is parsed.
type OptionType int

const (
	TypeString OptionType = iota
	TypeInt
	TypeBool
	TypeDuration
)

func (t OptionType) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeInt:
		return "int"
	case TypeBool:
		return "bool"
	case TypeDuration:
		return "duration"
	default:
		return "unknown"
	}
}

// Option is one schema entry. NeedsRestart is advisory: it marks options no
// subsystem observes at runtime, surfaced by the apply diagnostics.
type Option struct {
	Name         string
	Type         OptionType
	Default      string
	Description  string
	NeedsRestart bool
}

var schema = []Option{
	{Name: "name", Type: TypeString, Default: "stashd", Description: "instance name used in logs and the liveness file", NeedsRestart: true},
	{Name: "cluster", Type: TypeString, Default: "local", Description: "cluster this instance belongs to", NeedsRestart: true},
	{Name: "data_dir", Type: TypeString, Default: "/var/lib/stashd", Description: "object store root directory", NeedsRestart: true},
	{Name: "runtime_dir", Type: TypeString, Default: "/run/stashd", Description: "directory for sockets and liveness files", NeedsRestart: true},
	{Name: "pid_file", Type: TypeString, Default: "", Description: "exclusive-instance pidfile path; empty disables the guard", NeedsRestart: true},
	{Name: "admin_socket", Type: TypeString, Default: "", Description: "admin control socket path; empty disables the socket", NeedsRestart: true},
	{Name: "admin_socket_mode", Type: TypeString, Default: "", Description: "octal permission mode applied to the admin socket"},
	{Name: "log_file", Type: TypeString, Default: "", Description: "log file path; empty logs to stderr only"},
	{Name: "log_level", Type: TypeString, Default: "info", Description: "minimum level written to the log file"},
	{Name: "log_to_stderr", Type: TypeBool, Default: "false", Description: "mirror log records to stderr"},
	{Name: "log_max_recent", Type: TypeInt, Default: "500", Description: "records retained for the in-memory recent ring"},
	{Name: "log_flush_on_exit", Type: TypeBool, Default: "true", Description: "flush the log file during shutdown"},
	{Name: "heartbeat_interval", Type: TypeDuration, Default: "5s", Description: "maintenance worker wakeup interval; 0 waits for explicit wakes"},
	{Name: "heartbeat_file", Type: TypeString, Default: "", Description: "liveness file touched by the maintenance worker"},
	{Name: "heartbeat_grace", Type: TypeDuration, Default: "20s", Description: "time after which a silent worker counts as unhealthy"},
	{Name: "object_cache_bytes", Type: TypeInt, Default: "134217728", Description: "memory budget for the object cache"},
	{Name: "cache_debug", Type: TypeBool, Default: "false", Description: "enable cache accounting debug output"},
	{Name: "experimental_features", Type: TypeString, Default: "", Description: "comma-separated list of enabled experimental features"},
	{Name: "debug_admin_abort", Type: TypeBool, Default: "false", Description: "allow the assert/abort admin commands to terminate the process"},
}

var schemaByName = func() map[string]Option {
	m := make(map[string]Option, len(schema))
	for _, opt := range schema {
		m[opt.Name] = opt
	}
	return m
}()

// Options returns the full schema sorted by name.
func Options() []Option {
	out := append([]Option(nil), schema...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Lookup returns the schema entry for name.
func Lookup(name string) (Option, bool) {
	opt, ok := schemaByName[name]
	return opt, ok
}

func validateValue(opt Option, value string) error {
	switch opt.Type {
	case TypeInt:
		if _, err := strconv.ParseInt(value, 10, 64); err != nil {
			return fmt.Errorf("option %s expects an integer: %w", opt.Name, err)
		}
	case TypeBool:
		if _, err := strconv.ParseBool(value); err != nil {
			return fmt.Errorf("option %s expects a boolean: %w", opt.Name, err)
		}
	case TypeDuration:
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("option %s expects a duration: %w", opt.Name, err)
		}
	}
	return nil
}
