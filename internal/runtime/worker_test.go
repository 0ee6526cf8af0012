package runtime

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func joinWithin(t *testing.T, w *serviceWorker) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		w.join()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not exit")
	}
}

func setOption(t *testing.T, c *Context, name, value string) {
	t.Helper()
	if err := c.Config().SetVal(name, value); err != nil {
		t.Fatalf("SetVal %s: %v", name, err)
	}
	c.Config().ApplyChanges(nil)
}

func TestWorkerTouchesLivenessFileAndParks(t *testing.T) {
	c := newTestContext(t)
	defer c.Release()

	alive := filepath.Join(t.TempDir(), "alive")
	setOption(t, c, "heartbeat_interval", "0s")
	setOption(t, c, "heartbeat_file", alive)

	w := newServiceWorker(c, clock.New())
	w.start()
	defer joinWithin(t, w)

	// The first cycle runs before the loop parks on its wake channel.
	waitFor(t, func() bool {
		_, err := os.Stat(alive)
		return err == nil
	}, "liveness file never touched")

	// A parked loop only moves when poked.
	stale := time.Now().Add(-time.Hour)
	if err := os.Chtimes(alive, stale, stale); err != nil {
		t.Fatalf("age liveness file: %v", err)
	}
	w.poke()
	waitFor(t, func() bool {
		info, err := os.Stat(alive)
		return err == nil && time.Since(info.ModTime()) < time.Minute
	}, "poked worker did not refresh the liveness file")
}

func TestWorkerCyclesOnTimer(t *testing.T) {
	c := newTestContext(t)
	defer c.Release()

	alive := filepath.Join(t.TempDir(), "alive")
	setOption(t, c, "heartbeat_interval", "1h")
	setOption(t, c, "heartbeat_file", alive)

	clk := clock.NewMock()
	w := newServiceWorker(c, clk)
	w.start()
	defer joinWithin(t, w)

	waitFor(t, func() bool {
		_, err := os.Stat(alive)
		return err == nil
	}, "liveness file never touched")

	stale := time.Now().Add(-time.Hour)
	if err := os.Chtimes(alive, stale, stale); err != nil {
		t.Fatalf("age liveness file: %v", err)
	}
	waitFor(t, func() bool {
		clk.Add(time.Hour)
		info, err := os.Stat(alive)
		return err == nil && time.Since(info.ModTime()) < time.Minute
	}, "timer expiry did not drive an upkeep cycle")
}

func TestWorkerReopensLogsOnRequest(t *testing.T) {
	c := newTestContext(t)
	defer c.Release()

	dir := t.TempDir()
	logPath := filepath.Join(dir, "stashd.log")
	setOption(t, c, "heartbeat_interval", "0s")
	setOption(t, c, "log_file", logPath)
	if err := c.log.Start(); err != nil {
		t.Fatalf("start log: %v", err)
	}

	c.Logger().Info("pre-rotation record")
	_ = c.log.Flush()

	w := newServiceWorker(c, clock.New())
	w.start()
	defer joinWithin(t, w)

	rotated := filepath.Join(dir, "stashd.log.1")
	if err := os.Rename(logPath, rotated); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	w.requestReopenLogs()

	waitFor(t, func() bool {
		_, err := os.Stat(logPath)
		return err == nil
	}, "worker never recreated the log file")

	c.Logger().Info("post-rotation record")
	_ = c.log.Flush()
	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read fresh log: %v", err)
	}
	if !strings.Contains(string(data), "post-rotation record") {
		t.Fatalf("fresh log missing record: %q", data)
	}
}

func TestWorkerExitsCleanlyWhileParked(t *testing.T) {
	c := newTestContext(t)
	defer c.Release()

	setOption(t, c, "heartbeat_interval", "0s")
	w := newServiceWorker(c, clock.New())
	w.start()
	joinWithin(t, w)
}

func TestWorkerExitsCleanlyWhileWaiting(t *testing.T) {
	c := newTestContext(t)
	defer c.Release()

	setOption(t, c, "heartbeat_interval", "1h")
	w := newServiceWorker(c, clock.NewMock())
	w.start()
	joinWithin(t, w)
}
