package runtime

import (
	"fmt"
	"os"
	"strings"

	"stashd/internal/adminsock"
	"stashd/internal/config"
	"stashd/internal/logging"
)

// commandHook serves the context's built-in admin command catalog.
type commandHook struct {
	c *Context
}

func (c *Context) registerCommands() {
	reg := func(name, desc string) {
		mustRegister(c.admin, name, desc, c.hook)
	}
	reg("help", "list available admin commands")
	reg("version", "report daemon module and instance id")
	reg("status", "report daemon runtime status")
	reg("assert", "trigger an assertion failure (requires debug_admin_abort)")
	reg("abort", "abort the process (requires debug_admin_abort)")
	reg("perf dump", "dump current counter values")
	reg("perf schema", "dump counter metadata")
	reg("perf histogram dump", "dump current histogram values")
	reg("perf histogram schema", "dump histogram metadata")
	reg("perf reset", "reset a counter group, or all of them")
	reg("config show", "show the effective value of every option")
	reg("config get", "get one option's effective value")
	reg("config set", "set an option at runtime")
	reg("config unset", "revert an option to its default")
	reg("config diff", "show options changed from their defaults")
	reg("config help", "describe configuration options")
	reg("log flush", "flush buffered log output to disk")
	reg("log dump", "write retained recent log lines to the log file")
	reg("log reopen", "close and reopen the log file")
}

// Call dispatches one built-in command. User-input problems come back inside
// the result's "error" field; reaching the default branch means the registry
// and the handler disagree about the catalog, which is a programming error.
func (h *commandHook) Call(command string, args map[string]string, format string) ([]byte, error) {
	c := h.c
	c.countAdminCommand()

	result := make(map[string]any)
	switch command {
	case "help":
		result["commands"] = c.admin.Commands()

	case "version":
		result["module"] = string(c.module)
		result["instance"] = c.id.String()

	case "status":
		result["module"] = string(c.module)
		result["instance"] = c.id.String()
		result["name"] = c.cfg.GetString("name")
		result["cluster"] = c.cfg.GetString("cluster")
		result["service_worker"] = c.ServiceWorkerStarted()
		result["total_workers"] = c.heartbeats.TotalWorkers()
		result["unhealthy_workers"] = c.heartbeats.UnhealthyWorkers()
		result["log_file"] = c.log.FilePath()
		result["admin_socket"] = c.admin.Path()

	case "assert":
		if !c.cfg.GetBool("debug_admin_abort") {
			result["error"] = "assert requires debug_admin_abort=true"
			break
		}
		c.logger.Error("assertion requested over admin socket")
		_ = c.log.Flush()
		panic("assertion requested over admin socket")

	case "abort":
		if !c.cfg.GetBool("debug_admin_abort") {
			result["error"] = "abort requires debug_admin_abort=true"
			break
		}
		c.logger.Error("abort requested over admin socket")
		_ = c.log.Flush()
		os.Exit(134)

	case "perf dump":
		result["counters"] = c.perfColl.Dump(args["group"], args["counter"], false)

	case "perf schema":
		result["schema"] = c.perfColl.SchemaDump(args["group"], false)

	case "perf histogram dump":
		result["histograms"] = c.perfColl.Dump(args["group"], args["counter"], true)

	case "perf histogram schema":
		result["schema"] = c.perfColl.SchemaDump(args["group"], true)

	case "perf reset":
		target := args["var"]
		if target == "" {
			result["error"] = "perf reset requires var=<group> or var=all"
			break
		}
		if !c.perfColl.Reset(target) {
			result["error"] = fmt.Sprintf("no counter group named %q", target)
			break
		}
		result["success"] = fmt.Sprintf("reset %s", target)

	case "config show":
		result["config"] = c.cfg.Show()

	case "config get":
		name := args["var"]
		if name == "" {
			result["error"] = "config get requires var=<option>"
			break
		}
		value, err := c.cfg.GetVal(name)
		if err != nil {
			result["error"] = err.Error()
			break
		}
		result[name] = value

	case "config set":
		name := args["var"]
		if name == "" {
			result["error"] = "config set requires var=<option> and val=<value>"
			break
		}
		value, ok := args["val"]
		if !ok {
			result["error"] = "config set requires val=<value>"
			break
		}
		if err := c.cfg.SetVal(name, value); err != nil {
			result["error"] = err.Error()
			break
		}
		var diag strings.Builder
		changed := c.cfg.ApplyChanges(&diag)
		c.countConfigChanges(len(changed))
		result["success"] = fmt.Sprintf("%s = '%s'", name, value)
		if msg := strings.TrimSpace(diag.String()); msg != "" {
			result["applied"] = msg
		}

	case "config unset":
		name := args["var"]
		if name == "" {
			result["error"] = "config unset requires var=<option>"
			break
		}
		if err := c.cfg.UnsetVal(name); err != nil {
			result["error"] = err.Error()
			break
		}
		var diag strings.Builder
		changed := c.cfg.ApplyChanges(&diag)
		c.countConfigChanges(len(changed))
		result["success"] = fmt.Sprintf("unset %s", name)
		if msg := strings.TrimSpace(diag.String()); msg != "" {
			result["applied"] = msg
		}

	case "config diff":
		diff := make(map[string]any)
		for name, entry := range c.cfg.Diff() {
			diff[name] = map[string]string{
				"default": entry.Default,
				"current": entry.Current,
			}
		}
		result["diff"] = diff

	case "config help":
		if name := args["var"]; name != "" {
			opt, ok := config.Lookup(name)
			if !ok {
				result["error"] = fmt.Sprintf("unknown configuration option %q", name)
				break
			}
			result[opt.Name] = describeOption(opt)
		} else {
			all := make(map[string]any)
			for _, opt := range config.Options() {
				all[opt.Name] = describeOption(opt)
			}
			result["options"] = all
		}

	case "log flush":
		if err := c.log.Flush(); err != nil {
			result["error"] = err.Error()
			break
		}
		result["success"] = "flushed"

	case "log dump":
		n, err := c.log.DumpRecent()
		if err != nil {
			result["error"] = err.Error()
			break
		}
		result["lines"] = n

	case "log reopen":
		c.ReopenLogs()
		result["success"] = "reopen requested"

	default:
		panic(fmt.Sprintf("runtime: registered admin command %q has no handler", command))
	}

	out, err := adminsock.MarshalResult(result, format)
	if err != nil {
		return nil, fmt.Errorf("encode %q result: %w", command, err)
	}
	if command != "log flush" && command != "log dump" {
		c.logger.Debug("admin command executed", logging.String("command", command))
	}
	return out, nil
}

func describeOption(opt config.Option) map[string]any {
	return map[string]any{
		"type":          opt.Type.String(),
		"default":       opt.Default,
		"description":   opt.Description,
		"needs_restart": opt.NeedsRestart,
	}
}
