// Package runtime ties the daemon's shared services together.
//
// A Context owns the configuration store, the logging back end, performance
// counters, worker liveness tracking, and the admin socket. Components share
// one Context through reference counting; the last Release tears everything
// down in dependency order. The package also hosts the typed singleton
// registry and the fork protocol used when the process daemonizes.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"stashd/internal/adminsock"
	"stashd/internal/config"
	"stashd/internal/heartbeat"
	"stashd/internal/logging"
	"stashd/internal/perf"
)

// Module identifies which daemon personality owns the context.
type Module string

const (
	// ModuleStore is the object storage daemon.
	ModuleStore Module = "store"
	// ModuleGateway is the client-facing gateway daemon.
	ModuleGateway Module = "gateway"
	// ModuleClient is library or tool usage without daemon behavior.
	ModuleClient Module = "client"
)

// InitFlags adjust context construction and startup.
type InitFlags uint32

const (
	// FlagNoDaemonActions suppresses the service worker and admin socket;
	// used by short-lived tools sharing daemon code.
	FlagNoDaemonActions InitFlags = 1 << iota
	// FlagNoContextPerfCounters skips the context's own counter group.
	FlagNoContextPerfCounters
	// FlagDeferDropPrivileges delays socket and log ownership handoff
	// until the caller invokes ApplyPrivilegeDrop.
	FlagDeferDropPrivileges
	// FlagUnprivilegedDaemonDefaults marks a daemon started without root;
	// privileged-only startup steps are skipped.
	FlagUnprivilegedDaemonDefaults
)

type singletonKey struct {
	name string
	typ  reflect.Type
}

func reflectTypeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

type singletonEntry struct {
	value      any
	dropOnFork bool
}

// ForkWatcher is notified around fork boundaries so subsystems can quiesce
// file descriptors and threads that must not cross into the child.
type ForkWatcher interface {
	HandlePreFork()
	HandlePostFork()
}

// Context is the process-wide service hub. Obtain one from New, share it
// with Acquire, and drop it with Release.
type Context struct {
	module Module
	flags  InitFlags
	id     uuid.UUID

	nref atomic.Int64

	cfg        *config.Store
	log        *logging.Log
	logger     *slog.Logger
	heartbeats *heartbeat.Map
	perfColl   *perf.Collection
	admin      *adminsock.Server

	hook     *commandHook
	logObs   *logObserver
	ctxObs   *contextObserver
	cacheObs *cacheObserver

	singletonMu  sync.Mutex
	singletons   map[singletonKey]*singletonEntry
	forkWatchers []ForkWatcher

	startMu     sync.Mutex
	started     bool
	finished    bool
	worker      *serviceWorker
	perfGroup   *perf.Group
	perfEnabled bool

	ownerMu   sync.Mutex
	ownerSet  bool
	uid       int
	gid       int
	userName  string
	groupName string

	crypto cryptoState

	peerAddrs atomic.Pointer[[]netip.AddrPort]
}

// New creates a context for the given module with a default configuration
// store and an idle logging back end. The reference count starts at one.
func New(module Module, flags InitFlags) *Context {
	cfg := config.NewStore()
	log := logging.New(logging.Options{
		Level:     cfg.GetString("log_level"),
		FilePath:  cfg.GetString("log_file"),
		ToStderr:  cfg.GetBool("log_to_stderr"),
		MaxRecent: int(cfg.GetInt("log_max_recent")),
	})
	logger := log.Logger()

	c := &Context{
		module:     module,
		flags:      flags,
		id:         uuid.New(),
		cfg:        cfg,
		log:        log,
		logger:     logger,
		heartbeats: heartbeat.NewMap(logger),
		perfColl:   perf.NewCollection(),
		admin:      adminsock.NewServer(logger),
		singletons: make(map[singletonKey]*singletonEntry),
	}
	c.nref.Store(1)

	c.hook = &commandHook{c: c}
	c.registerCommands()

	c.logObs = &logObserver{log: log}
	cfg.AddObserver(c.logObs)

	c.ctxObs = newContextObserver(c)
	cfg.AddObserver(c.ctxObs)

	c.cacheObs = newCacheObserver(c)
	cfg.AddObserver(c.cacheObs)
	mustRegister(c.admin, "cache dump", "dump object cache statistics", c.cacheObs)

	return c
}

// Module returns the daemon personality.
func (c *Context) Module() Module { return c.module }

// InitFlags returns the current flags bitmask.
func (c *Context) InitFlags() InitFlags {
	c.startMu.Lock()
	defer c.startMu.Unlock()
	return c.flags
}

// SetInitFlags replaces the flags bitmask. Only meaningful before Finish.
func (c *Context) SetInitFlags(flags InitFlags) {
	c.startMu.Lock()
	c.flags = flags
	c.startMu.Unlock()
}

// ID returns the context's unique instance id.
func (c *Context) ID() uuid.UUID { return c.id }

// Config returns the configuration store.
func (c *Context) Config() *config.Store { return c.cfg }

// Log returns the logging back end.
func (c *Context) Log() *logging.Log { return c.log }

// Logger returns the shared structured logger.
func (c *Context) Logger() *slog.Logger { return c.logger }

// Heartbeats returns the worker liveness registry.
func (c *Context) Heartbeats() *heartbeat.Map { return c.heartbeats }

// Perf returns the performance counter collection.
func (c *Context) Perf() *perf.Collection { return c.perfColl }

// Admin returns the admin socket server.
func (c *Context) Admin() *adminsock.Server { return c.admin }

// Acquire takes an additional reference. The context must still be alive.
func (c *Context) Acquire() *Context {
	if n := c.nref.Add(1); n <= 1 {
		panic(fmt.Sprintf("runtime: acquire on destroyed context (refs=%d)", n))
	}
	return c
}

// Refs returns the current reference count.
func (c *Context) Refs() int64 { return c.nref.Load() }

// Release drops one reference, tearing the context down when the count
// reaches zero. Releasing past zero is a programming error.
func (c *Context) Release() {
	n := c.nref.Add(-1)
	if n < 0 {
		panic("runtime: release on destroyed context")
	}
	if n == 0 {
		c.destroy()
	}
}

// destroy dismantles services in reverse dependency order: the worker stops
// first so nothing touches subsystems mid-teardown, the admin surface goes
// next so no new commands arrive, then observers, then the log itself.
func (c *Context) destroy() {
	c.startMu.Lock()
	worker := c.worker
	c.worker = nil
	c.startMu.Unlock()
	if worker != nil {
		worker.join()
	}

	c.disableContextPerf()

	c.admin.Close()
	c.admin.UnregisterAll(c.hook)
	c.admin.UnregisterAll(c.cacheObs)

	c.cfg.RemoveObserver(c.cacheObs)
	c.cfg.RemoveObserver(c.ctxObs)
	c.cfg.RemoveObserver(c.logObs)

	if c.cfg.GetBool("log_flush_on_exit") {
		_ = c.log.Flush()
	}
	c.log.Stop()

	c.crypto.shutdown()
}

// Singleton returns the value registered in c under (name, T), constructing
// it with ctor on first use. Construction happens under the registry lock,
// so concurrent callers observe exactly one construction. Values registered
// with dropOnFork are discarded by NotifyPreFork.
func Singleton[T any](c *Context, name string, dropOnFork bool, ctor func(*Context) T) T {
	key := singletonKey{name: name, typ: reflectTypeOf[T]()}
	c.singletonMu.Lock()
	defer c.singletonMu.Unlock()
	if e, ok := c.singletons[key]; ok {
		return e.value.(T)
	}
	v := ctor(c)
	c.singletons[key] = &singletonEntry{value: v, dropOnFork: dropOnFork}
	return v
}

// RegisterForkWatcher adds a watcher for future fork notifications.
func (c *Context) RegisterForkWatcher(w ForkWatcher) {
	c.singletonMu.Lock()
	c.forkWatchers = append(c.forkWatchers, w)
	c.singletonMu.Unlock()
}

// NotifyPreFork runs every fork watcher's pre-fork hook and discards
// drop-on-fork singletons. Singletons registered without the flag survive.
func (c *Context) NotifyPreFork() {
	c.singletonMu.Lock()
	watchers := append([]ForkWatcher(nil), c.forkWatchers...)
	dropped := make([]any, 0)
	for key, e := range c.singletons {
		if e.dropOnFork {
			dropped = append(dropped, e.value)
			delete(c.singletons, key)
		}
	}
	c.singletonMu.Unlock()

	for _, w := range watchers {
		w.HandlePreFork()
	}
	for _, v := range dropped {
		if closer, ok := v.(interface{ Close() error }); ok {
			_ = closer.Close()
		}
	}
}

// NotifyPostFork runs every fork watcher's post-fork hook in the surviving
// process. The singleton registry is left untouched.
func (c *Context) NotifyPostFork() {
	c.singletonMu.Lock()
	watchers := append([]ForkWatcher(nil), c.forkWatchers...)
	c.singletonMu.Unlock()
	for _, w := range watchers {
		w.HandlePostFork()
	}
}

// SetPeerAddrs publishes the addresses peers should use to reach this
// instance. The slice is copied; readers never see partial updates.
func (c *Context) SetPeerAddrs(addrs []netip.AddrPort) {
	cp := append([]netip.AddrPort(nil), addrs...)
	c.peerAddrs.Store(&cp)
}

// PeerAddrs returns the most recently published peer addresses.
func (c *Context) PeerAddrs() []netip.AddrPort {
	p := c.peerAddrs.Load()
	if p == nil {
		return nil
	}
	return append([]netip.AddrPort(nil), *p...)
}

// SetOwner records the uid/gid the daemon will run as after dropping
// privileges. Socket and file ownership handoff uses these.
func (c *Context) SetOwner(uid, gid int) {
	c.ownerMu.Lock()
	c.ownerSet = true
	c.uid = uid
	c.gid = gid
	c.ownerMu.Unlock()
}

// SetOwnerNames records the symbolic user and group for the privilege-drop
// target, used in logs alongside the numeric ids.
func (c *Context) SetOwnerNames(user, group string) {
	c.ownerMu.Lock()
	c.userName = user
	c.groupName = group
	c.ownerMu.Unlock()
}

// OwnerNames returns the symbolic privilege-drop target, if recorded.
func (c *Context) OwnerNames() (string, string) {
	c.ownerMu.Lock()
	defer c.ownerMu.Unlock()
	return c.userName, c.groupName
}

func (c *Context) owner() (int, int, bool) {
	c.ownerMu.Lock()
	defer c.ownerMu.Unlock()
	return c.uid, c.gid, c.ownerSet
}

// ApplyPrivilegeDrop hands the admin socket and the log file to the owner
// recorded with SetOwner. Callers that start privileged use
// FlagDeferDropPrivileges and invoke this once their privileged setup is
// done. Without a recorded owner it is a no-op.
func (c *Context) ApplyPrivilegeDrop() error {
	uid, gid, ok := c.owner()
	if !ok {
		return nil
	}
	if err := c.admin.Chown(uid, gid); err != nil {
		return err
	}
	if path := c.log.FilePath(); path != "" {
		if err := os.Chown(path, uid, gid); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("chown log file: %w", err)
		}
	}
	user, group := c.OwnerNames()
	if user != "" || group != "" {
		c.logger.Info("dropped file ownership",
			logging.String("user", user), logging.String("group", group))
	}
	return nil
}

// StartServiceWorker launches the background maintenance worker and, when
// configured, the admin socket. Safe to call more than once; only the first
// call acts.
func (c *Context) StartServiceWorker() {
	c.startMu.Lock()
	defer c.startMu.Unlock()
	if c.started {
		return
	}
	c.started = true

	if c.flags&FlagNoContextPerfCounters == 0 {
		c.enableContextPerfLocked()
	}

	c.cfg.SetSafeToStartThreads()
	c.cfg.CallAllObservers()

	c.worker = newServiceWorker(c, clock.New())
	c.worker.start()

	if path := c.cfg.GetString("admin_socket"); path != "" {
		if err := c.admin.Serve(context.Background(), path); err != nil {
			c.logger.Error("failed to start admin socket", logging.Error(err))
		} else {
			if err := c.admin.Chmod(c.cfg.GetString("admin_socket_mode")); err != nil {
				c.logger.Warn("failed to set admin socket mode", logging.Error(err))
			}
			if uid, gid, ok := c.owner(); ok && c.flags&FlagDeferDropPrivileges == 0 {
				if err := c.admin.Chown(uid, gid); err != nil {
					c.logger.Warn("failed to chown admin socket", logging.Error(err))
				}
			}
		}
	}
}

// ServiceWorkerStarted reports whether StartServiceWorker has run.
func (c *Context) ServiceWorkerStarted() bool {
	c.startMu.Lock()
	defer c.startMu.Unlock()
	return c.started
}

// Finish completes initialization after configuration is loaded: entropy is
// primed, the log sink opens, and daemon services start unless suppressed.
// Repeat calls are no-ops.
func (c *Context) Finish() error {
	c.startMu.Lock()
	if c.finished {
		c.startMu.Unlock()
		return nil
	}
	c.finished = true
	flags := c.flags
	c.startMu.Unlock()

	if err := c.crypto.init(); err != nil {
		return err
	}
	if err := c.log.Start(); err != nil {
		return err
	}
	if flags&FlagNoDaemonActions == 0 {
		c.StartServiceWorker()
	}
	c.logger.Info("runtime context ready",
		logging.String("module", string(c.module)),
		logging.String("instance", c.id.String()))
	return nil
}

// ReopenLogs requests a log file reopen. When the service worker runs, the
// reopen happens on its next cycle; otherwise it happens inline.
func (c *Context) ReopenLogs() {
	c.startMu.Lock()
	worker := c.worker
	c.startMu.Unlock()
	if worker != nil {
		worker.requestReopenLogs()
		return
	}
	if err := c.log.Reopen(); err != nil {
		c.logger.Error("failed to reopen log file", logging.Error(err))
	}
}

// DoCommand executes an admin command in-process, without the socket.
func (c *Context) DoCommand(command string, args map[string]string, format string) ([]byte, error) {
	return c.hook.Call(command, args, format)
}

const contextPerfGroup = "context"

func (c *Context) enableContextPerfLocked() {
	if c.perfEnabled {
		return
	}
	g := perf.NewGroup(contextPerfGroup)
	g.AddGauge("total_workers", "registered liveness handles")
	g.AddGauge("unhealthy_workers", "liveness handles past their grace period")
	g.AddCounter("admin_commands", "admin commands executed")
	g.AddCounter("config_changes", "configuration keys changed at runtime")
	if err := c.perfColl.Register(g); err != nil {
		panic(err)
	}
	c.perfGroup = g
	c.perfEnabled = true
}

func (c *Context) disableContextPerf() {
	c.startMu.Lock()
	defer c.startMu.Unlock()
	if !c.perfEnabled {
		return
	}
	c.perfColl.Remove(contextPerfGroup)
	c.perfGroup = nil
	c.perfEnabled = false
}

func (c *Context) refreshContextPerf() {
	c.startMu.Lock()
	g := c.perfGroup
	c.startMu.Unlock()
	if g == nil {
		return
	}
	g.Set("total_workers", int64(c.heartbeats.TotalWorkers()))
	g.Set("unhealthy_workers", int64(c.heartbeats.UnhealthyWorkers()))
}

func (c *Context) countAdminCommand() {
	c.startMu.Lock()
	g := c.perfGroup
	c.startMu.Unlock()
	if g != nil {
		g.Inc("admin_commands")
	}
}

func (c *Context) countConfigChanges(n int) {
	c.startMu.Lock()
	g := c.perfGroup
	c.startMu.Unlock()
	if g != nil && n > 0 {
		g.Add("config_changes", int64(n))
	}
}

func mustRegister(srv *adminsock.Server, name, desc string, hook adminsock.Hook) {
	if err := srv.Register(name, desc, hook); err != nil {
		panic(err)
	}
}
