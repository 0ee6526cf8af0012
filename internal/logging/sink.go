package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileSink is an append-only log file writer whose backing file can be
// swapped out underneath running writers. Reopen is the hook log rotation
// uses: after an external tool renames the current file, Reopen recreates
// the configured path and subsequent writes land in the fresh file.
type FileSink struct {
	mu   sync.Mutex
	path string
	file *os.File
}

// NewFileSink prepares a sink for the given path without opening it.
// An empty path yields a sink that discards writes.
func NewFileSink(path string) *FileSink {
	return &FileSink{path: path}
}

// Open creates or appends to the configured file. Opening an already open
// sink is a no-op.
func (s *FileSink) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.path == "" || s.file != nil {
		return nil
	}
	return s.openLocked()
}

func (s *FileSink) openLocked() error {
	if dir := filepath.Dir(s.path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("ensure log directory: %w", err)
		}
	}
	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file %s: %w", s.path, err)
	}
	s.file = file
	return nil
}

// SetPath switches the sink to a new path. The old file stays open until the
// next Reopen.
func (s *FileSink) SetPath(path string) {
	s.mu.Lock()
	s.path = path
	s.mu.Unlock()
}

// Path returns the configured file path.
func (s *FileSink) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

// Reopen closes the current file and opens the configured path again.
func (s *FileSink) Reopen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}
	if s.path == "" {
		return nil
	}
	return s.openLocked()
}

// Write appends to the current file. Writes against a closed or pathless
// sink are discarded so logging never blocks daemon progress.
func (s *FileSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return len(p), nil
	}
	return s.file.Write(p)
}

// Sync flushes file contents to stable storage.
func (s *FileSink) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	return s.file.Sync()
}

// Close releases the file handle. The sink can be reopened later.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
