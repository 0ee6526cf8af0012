// Package heartbeat tracks liveness of the daemon's long-running workers.
//
// Each worker registers once and touches its handle from inside its loop.
// The maintenance worker periodically calls CheckTouchFile, which counts
// workers that have gone silent past their grace period and refreshes the
// on-disk liveness file external watchdogs stat.
package heartbeat

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"stashd/internal/logging"
)

// Worker is one registered liveness handle.
type Worker struct {
	name  string
	grace time.Duration

	mu       sync.Mutex
	deadline time.Time
}

// Name returns the worker's registered name.
func (w *Worker) Name() string { return w.name }

// Touch pushes the worker's deadline forward by its grace period.
func (w *Worker) Touch() {
	w.mu.Lock()
	w.deadline = time.Now().Add(w.grace)
	w.mu.Unlock()
}

func (w *Worker) healthy(now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return now.Before(w.deadline)
}

// Map is the process-wide registry of liveness handles.
type Map struct {
	logger *slog.Logger

	mu      sync.Mutex
	workers map[*Worker]struct{}
}

// NewMap creates an empty registry.
func NewMap(logger *slog.Logger) *Map {
	return &Map{
		logger:  logging.NewComponentLogger(logger, "heartbeat"),
		workers: make(map[*Worker]struct{}),
	}
}

// Register adds a named worker with the given grace period and returns its
// handle, already touched.
func (m *Map) Register(name string, grace time.Duration) *Worker {
	w := &Worker{name: name, grace: grace}
	w.Touch()
	m.mu.Lock()
	m.workers[w] = struct{}{}
	m.mu.Unlock()
	return w
}

// Unregister forgets a worker handle.
func (m *Map) Unregister(w *Worker) {
	m.mu.Lock()
	delete(m.workers, w)
	m.mu.Unlock()
}

// TotalWorkers returns the number of registered handles.
func (m *Map) TotalWorkers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.workers)
}

// UnhealthyWorkers returns the number of handles past their deadline.
func (m *Map) UnhealthyWorkers() int {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	unhealthy := 0
	for w := range m.workers {
		if !w.healthy(now) {
			unhealthy++
		}
	}
	return unhealthy
}

// IsHealthy reports whether every registered worker is inside its grace
// period, logging each overdue worker.
func (m *Map) IsHealthy() bool {
	now := time.Now()
	m.mu.Lock()
	overdue := make([]*Worker, 0)
	for w := range m.workers {
		if !w.healthy(now) {
			overdue = append(overdue, w)
		}
	}
	m.mu.Unlock()

	for _, w := range overdue {
		m.logger.Warn("worker missed its heartbeat", logging.String("worker", w.name))
	}
	return len(overdue) == 0
}

// CheckTouchFile refreshes the liveness file if every worker is healthy.
// An empty path disables the file. The file's mtime is the signal; content
// is irrelevant.
func (m *Map) CheckTouchFile(path string) error {
	if path == "" {
		return nil
	}
	if !m.IsHealthy() {
		return nil
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open liveness file: %w", err)
	}
	if err := file.Close(); err != nil {
		return err
	}
	now := time.Now()
	if err := os.Chtimes(path, now, now); err != nil {
		return fmt.Errorf("touch liveness file: %w", err)
	}
	return nil
}
