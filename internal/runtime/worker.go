package runtime

import (
	"sync"

	"github.com/benbjohnson/clock"

	"stashd/internal/logging"
)

// serviceWorker is the context's background maintenance loop. Each cycle it
// honors a pending log-reopen request, refreshes worker liveness state and
// the on-disk liveness file, and updates the context counter group. The
// interval is re-read from configuration every cycle so changes take effect
// without a restart; an interval of zero parks the loop until woken.
type serviceWorker struct {
	c   *Context
	clk clock.Clock

	mu         sync.Mutex
	reopenLogs bool
	exit       bool

	wake chan struct{}
	done chan struct{}
}

func newServiceWorker(c *Context, clk clock.Clock) *serviceWorker {
	return &serviceWorker{
		c:    c,
		clk:  clk,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

func (w *serviceWorker) start() {
	go w.run()
}

func (w *serviceWorker) run() {
	defer close(w.done)
	for {
		w.mu.Lock()
		if w.exit {
			w.mu.Unlock()
			return
		}
		reopen := w.reopenLogs
		w.reopenLogs = false
		w.mu.Unlock()

		if reopen {
			if err := w.c.log.Reopen(); err != nil {
				w.c.logger.Error("failed to reopen log file", logging.Error(err))
			}
		}

		w.upkeep()

		interval := w.c.cfg.GetDuration("heartbeat_interval")
		if interval > 0 {
			timer := w.clk.Timer(interval)
			select {
			case <-timer.C:
			case <-w.wake:
				timer.Stop()
			}
		} else {
			<-w.wake
		}
	}
}

func (w *serviceWorker) upkeep() {
	path := w.c.cfg.GetString("heartbeat_file")
	if err := w.c.heartbeats.CheckTouchFile(path); err != nil {
		w.c.logger.Warn("liveness file refresh failed", logging.Error(err))
	}
	w.c.refreshContextPerf()
}

// poke wakes the loop without changing any flag. Sends never block; one
// pending wakeup is enough.
func (w *serviceWorker) poke() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *serviceWorker) requestReopenLogs() {
	w.mu.Lock()
	w.reopenLogs = true
	w.mu.Unlock()
	w.poke()
}

// join asks the loop to exit and waits for it. The exit flag is only
// examined at the top of the loop, so an in-flight cycle always completes.
func (w *serviceWorker) join() {
	w.mu.Lock()
	w.exit = true
	w.mu.Unlock()
	w.poke()
	<-w.done
}
