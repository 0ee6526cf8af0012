package runtime

import (
	"log/slog"
	"strings"
	"sync"

	"stashd/internal/config"
	"stashd/internal/logging"
)

// logObserver applies logging-related option changes to the running back
// end. A changed log_file takes effect on the next reopen, matching SIGHUP
// driven rotation.
type logObserver struct {
	log *logging.Log
}

func (o *logObserver) TrackedKeys() []string {
	return []string{"log_file", "log_level", "log_to_stderr", "log_max_recent"}
}

func (o *logObserver) HandleConfigChange(store *config.Store, changed map[string]struct{}) {
	if _, ok := changed["log_file"]; ok {
		o.log.SetFile(store.GetString("log_file"))
	}
	if _, ok := changed["log_level"]; ok {
		o.log.SetLevel(logging.ParseLevel(store.GetString("log_level")))
	}
	if _, ok := changed["log_to_stderr"]; ok {
		if store.GetBool("log_to_stderr") {
			o.log.SetStderrLevel(o.log.Level())
		} else {
			o.log.SetStderrLevel(slog.LevelError + 4)
		}
	}
	if _, ok := changed["log_max_recent"]; ok {
		o.log.SetMaxRecent(int(store.GetInt("log_max_recent")))
	}
}

// contextObserver maintains the enabled experimental feature set.
type contextObserver struct {
	c *Context

	mu       sync.Mutex
	features map[string]struct{}
}

func newContextObserver(c *Context) *contextObserver {
	return &contextObserver{c: c, features: make(map[string]struct{})}
}

func (o *contextObserver) TrackedKeys() []string {
	return []string{"experimental_features"}
}

func (o *contextObserver) HandleConfigChange(store *config.Store, changed map[string]struct{}) {
	if _, ok := changed["experimental_features"]; !ok {
		return
	}
	features := make(map[string]struct{})
	for _, name := range strings.Split(store.GetString("experimental_features"), ",") {
		name = strings.TrimSpace(name)
		if name != "" {
			features[name] = struct{}{}
		}
	}
	o.mu.Lock()
	o.features = features
	o.mu.Unlock()
	for name := range features {
		o.c.logger.Warn("experimental feature enabled, data loss is possible",
			logging.String("feature", name))
	}
}

func (o *contextObserver) enabled(name string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.features["*"]; ok {
		return true
	}
	_, ok := o.features[name]
	return ok
}

// CheckExperimentalFeature reports whether the named feature has been
// explicitly enabled. "*" enables everything.
func (c *Context) CheckExperimentalFeature(name string) bool {
	return c.ctxObs.enabled(name)
}
