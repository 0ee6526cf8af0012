package runtime

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"stashd/internal/perf"
)

func doJSON(t *testing.T, c *Context, command string, args map[string]string) map[string]any {
	t.Helper()
	raw, err := c.DoCommand(command, args, "json")
	if err != nil {
		t.Fatalf("DoCommand %s: %v", command, err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("DoCommand %s result not JSON: %v", command, err)
	}
	return out
}

func TestConfigCommandRoundTrip(t *testing.T) {
	c := newTestContext(t)
	defer c.Release()

	out := doJSON(t, c, "config set", map[string]string{"var": "cluster", "val": "prod"})
	if _, ok := out["success"]; !ok {
		t.Fatalf("config set result = %v", out)
	}
	out = doJSON(t, c, "config get", map[string]string{"var": "cluster"})
	if out["cluster"] != "prod" {
		t.Fatalf("config get result = %v", out)
	}

	out = doJSON(t, c, "config diff", nil)
	diff := out["diff"].(map[string]any)
	if _, ok := diff["cluster"]; !ok {
		t.Fatalf("config diff missing cluster: %v", diff)
	}

	out = doJSON(t, c, "config unset", map[string]string{"var": "cluster"})
	if _, ok := out["success"]; !ok {
		t.Fatalf("config unset result = %v", out)
	}
	out = doJSON(t, c, "config get", map[string]string{"var": "cluster"})
	if out["cluster"] != "local" {
		t.Fatalf("cluster after unset = %v", out)
	}
}

func TestConfigCommandUserErrors(t *testing.T) {
	c := newTestContext(t)
	defer c.Release()

	out := doJSON(t, c, "config get", map[string]string{"var": "bogus"})
	if _, ok := out["error"]; !ok {
		t.Fatalf("unknown option produced no error field: %v", out)
	}
	out = doJSON(t, c, "config set", map[string]string{"var": "log_max_recent", "val": "lots"})
	if _, ok := out["error"]; !ok {
		t.Fatalf("type mismatch produced no error field: %v", out)
	}
	out = doJSON(t, c, "config get", nil)
	if _, ok := out["error"]; !ok {
		t.Fatalf("missing var produced no error field: %v", out)
	}
}

func TestConfigSetReportsApplyDiagnostics(t *testing.T) {
	c := newTestContext(t)
	defer c.Release()

	// Nothing observes data_dir, so the client must be told a restart may
	// be needed.
	out := doJSON(t, c, "config set", map[string]string{"var": "data_dir", "val": "/srv/stash"})
	applied, ok := out["applied"].(string)
	if !ok {
		t.Fatalf("config set result carries no applied field: %v", out)
	}
	if !strings.Contains(applied, "data_dir = '/srv/stash'") {
		t.Fatalf("applied = %q, missing key report", applied)
	}
	if !strings.Contains(applied, "(not observed, change may require restart)") {
		t.Fatalf("applied = %q, missing restart note", applied)
	}

	// An observed option reports the change without the restart note.
	out = doJSON(t, c, "config set", map[string]string{"var": "log_level", "val": "debug"})
	applied, ok = out["applied"].(string)
	if !ok {
		t.Fatalf("config set result carries no applied field: %v", out)
	}
	if strings.Contains(applied, "may require restart") {
		t.Fatalf("observed option flagged for restart: %q", applied)
	}

	out = doJSON(t, c, "config unset", map[string]string{"var": "data_dir"})
	applied, ok = out["applied"].(string)
	if !ok {
		t.Fatalf("config unset result carries no applied field: %v", out)
	}
	if !strings.Contains(applied, "not observed") {
		t.Fatalf("unset applied = %q, missing restart note", applied)
	}
}

func TestConfigShowAndHelp(t *testing.T) {
	c := newTestContext(t)
	defer c.Release()

	out := doJSON(t, c, "config show", nil)
	shown := out["config"].(map[string]any)
	if shown["name"] != "stashd" {
		t.Fatalf("config show name = %v", shown["name"])
	}

	out = doJSON(t, c, "config help", map[string]string{"var": "log_level"})
	entry := out["log_level"].(map[string]any)
	if entry["type"] != "string" {
		t.Fatalf("config help entry = %v", entry)
	}

	out = doJSON(t, c, "config help", nil)
	all := out["options"].(map[string]any)
	if _, ok := all["heartbeat_interval"]; !ok {
		t.Fatalf("config help missing options: %v", all)
	}
}

func TestPerfCommands(t *testing.T) {
	c := newTestContext(t)
	defer c.Release()

	g := perf.NewGroup("store")
	g.AddCounter("reads", "object reads")
	g.AddHistogram("read_latency", "read latency seconds", []float64{0.1, 1})
	if err := c.Perf().Register(g); err != nil {
		t.Fatalf("Register: %v", err)
	}
	g.Add("reads", 4)
	g.Observe("read_latency", 0.05)

	out := doJSON(t, c, "perf dump", nil)
	counters := out["counters"].(map[string]any)
	section := counters["store"].(map[string]any)
	if section["reads"] != float64(4) {
		t.Fatalf("perf dump reads = %v", section["reads"])
	}

	out = doJSON(t, c, "perf histogram dump", nil)
	hists := out["histograms"].(map[string]any)
	if _, ok := hists["store"]; !ok {
		t.Fatalf("perf histogram dump = %v", hists)
	}

	out = doJSON(t, c, "perf schema", nil)
	if _, ok := out["schema"].(map[string]any)["store"]; !ok {
		t.Fatalf("perf schema = %v", out)
	}

	out = doJSON(t, c, "perf reset", map[string]string{"var": "store"})
	if _, ok := out["success"]; !ok {
		t.Fatalf("perf reset result = %v", out)
	}
	if got := g.Get("reads"); got != 0 {
		t.Fatalf("reads = %d after reset", got)
	}

	out = doJSON(t, c, "perf reset", map[string]string{"var": "bogus"})
	if _, ok := out["error"]; !ok {
		t.Fatalf("reset of unknown group produced no error field: %v", out)
	}
	out = doJSON(t, c, "perf reset", nil)
	if _, ok := out["error"]; !ok {
		t.Fatalf("reset without target produced no error field: %v", out)
	}
}

func TestLogCommands(t *testing.T) {
	c := newTestContext(t)
	defer c.Release()

	path := filepath.Join(t.TempDir(), "stashd.log")
	if err := c.Config().SetVal("log_file", path); err != nil {
		t.Fatalf("SetVal: %v", err)
	}
	c.Config().ApplyChanges(nil)
	if err := c.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	c.Logger().Info("before dump")
	out := doJSON(t, c, "log flush", nil)
	if _, ok := out["success"]; !ok {
		t.Fatalf("log flush result = %v", out)
	}
	out = doJSON(t, c, "log dump", nil)
	if out["lines"].(float64) < 1 {
		t.Fatalf("log dump wrote no lines: %v", out)
	}
	out = doJSON(t, c, "log reopen", nil)
	if _, ok := out["success"]; !ok {
		t.Fatalf("log reopen result = %v", out)
	}
}

func TestAssertAndAbortGated(t *testing.T) {
	c := newTestContext(t)
	defer c.Release()

	out := doJSON(t, c, "assert", nil)
	if msg, ok := out["error"].(string); !ok || !strings.Contains(msg, "debug_admin_abort") {
		t.Fatalf("gated assert result = %v", out)
	}
	out = doJSON(t, c, "abort", nil)
	if msg, ok := out["error"].(string); !ok || !strings.Contains(msg, "debug_admin_abort") {
		t.Fatalf("gated abort result = %v", out)
	}
}

func TestAssertPanicsWhenEnabled(t *testing.T) {
	c := newTestContext(t)
	defer c.Release()

	if err := c.Config().SetVal("debug_admin_abort", "true"); err != nil {
		t.Fatalf("SetVal: %v", err)
	}
	c.Config().ApplyChanges(nil)

	defer func() {
		if recover() == nil {
			t.Fatal("assert did not panic with debug_admin_abort enabled")
		}
	}()
	_, _ = c.DoCommand("assert", nil, "json")
}

func TestUnhandledCatalogCommandPanics(t *testing.T) {
	c := newTestContext(t)
	defer c.Release()

	defer func() {
		if recover() == nil {
			t.Fatal("hook accepted a command outside the catalog")
		}
	}()
	_, _ = c.hook.Call("not registered", nil, "json")
}

func TestHelpAndVersion(t *testing.T) {
	c := newTestContext(t)
	defer c.Release()

	out := doJSON(t, c, "help", nil)
	commands := out["commands"].([]any)
	found := false
	for _, entry := range commands {
		if entry.(map[string]any)["name"] == "perf dump" {
			found = true
		}
	}
	if !found {
		t.Fatalf("help missing perf dump: %v", commands)
	}

	out = doJSON(t, c, "version", nil)
	if out["module"] != "store" {
		t.Fatalf("version module = %v", out["module"])
	}
	if out["instance"] == "" {
		t.Fatal("version missing instance id")
	}
}

func TestStatusCommand(t *testing.T) {
	c := newTestContext(t)
	defer c.Release()

	w := c.Heartbeats().Register("flusher", time.Minute)
	defer c.Heartbeats().Unregister(w)

	out := doJSON(t, c, "status", nil)
	if out["name"] != "stashd" || out["cluster"] != "local" {
		t.Fatalf("status identity = %v", out)
	}
	if out["service_worker"] != false {
		t.Fatalf("status service_worker = %v, want false", out["service_worker"])
	}
	if out["total_workers"] != float64(1) || out["unhealthy_workers"] != float64(0) {
		t.Fatalf("status worker counts = %v", out)
	}
}

func TestCacheDumpCommand(t *testing.T) {
	c := newTestContext(t)
	defer c.Release()

	cache := ObjectCacheOf(c)
	cache.Put("obj-1", make([]byte, 64))
	cache.Get("obj-1")
	cache.Get("missing")

	out := doJSON(t, c, "cache dump", nil)
	if out["objects"] != float64(1) {
		t.Fatalf("cache dump objects = %v", out["objects"])
	}
	if out["bytes"] != float64(64) {
		t.Fatalf("cache dump bytes = %v", out["bytes"])
	}
	if out["hits"] != float64(1) || out["misses"] != float64(1) {
		t.Fatalf("cache dump stats = %v", out)
	}
}
