package logging

import (
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Options describes Log construction parameters.
type Options struct {
	Level     string
	FilePath  string
	ToStderr  bool
	MaxRecent int
}

// Log is the daemon's logging back end. It owns a reopenable file sink, an
// optional stderr mirror, and a ring of recent records, all fed from one
// *slog.Logger. Nothing is written until Start is called; Stop flushes and
// closes the sink. Both are idempotent.
type Log struct {
	mu      sync.Mutex
	started bool

	sink        *FileSink
	ring        *recentRing
	level       *slog.LevelVar
	stderrLevel *slog.LevelVar
	logger      *slog.Logger
}

// New assembles a Log from options. The returned Log accepts records
// immediately but discards file output until Start opens the sink.
func New(opts Options) *Log {
	level := new(slog.LevelVar)
	level.Set(ParseLevel(opts.Level))

	stderrLevel := new(slog.LevelVar)
	if opts.ToStderr {
		stderrLevel.Set(level.Level())
	} else {
		stderrLevel.Set(slog.LevelError + 4)
	}

	sink := NewFileSink(opts.FilePath)
	ring := newRecentRing(opts.MaxRecent)

	handler := newFanoutHandler(
		newLineHandler(sink, level),
		newLineHandler(os.Stderr, stderrLevel),
		newRecentHandler(ring),
	)

	return &Log{
		sink:        sink,
		ring:        ring,
		level:       level,
		stderrLevel: stderrLevel,
		logger:      slog.New(handler),
	}
}

// Logger returns the slog entry point shared by all subsystems.
func (l *Log) Logger() *slog.Logger {
	return l.logger
}

// Start opens the file sink. Safe to call more than once.
func (l *Log) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started {
		return nil
	}
	if err := l.sink.Open(); err != nil {
		return err
	}
	l.started = true
	return nil
}

// Started reports whether Start has run.
func (l *Log) Started() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.started
}

// Stop flushes and closes the file sink.
func (l *Log) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.started {
		return
	}
	_ = l.sink.Sync()
	_ = l.sink.Close()
	l.started = false
}

// Reopen closes and reopens the log file at the configured path.
func (l *Log) Reopen() error {
	return l.sink.Reopen()
}

// SetFile switches the log file path. Takes effect on the next Reopen.
func (l *Log) SetFile(path string) {
	l.sink.SetPath(path)
}

// FilePath returns the current log file path.
func (l *Log) FilePath() string {
	return l.sink.Path()
}

// Flush forces buffered file contents to stable storage.
func (l *Log) Flush() error {
	return l.sink.Sync()
}

// SetLevel adjusts the file threshold at runtime.
func (l *Log) SetLevel(level slog.Level) {
	l.level.Set(level)
}

// Level returns the current file threshold.
func (l *Log) Level() slog.Level {
	return l.level.Level()
}

// SetStderrLevel adjusts the stderr mirror threshold. Passing a level above
// Error effectively silences stderr.
func (l *Log) SetStderrLevel(level slog.Level) {
	l.stderrLevel.Set(level)
}

// SetMaxRecent resizes the recent-record ring.
func (l *Log) SetMaxRecent(max int) {
	l.ring.setMax(max)
}

// Recent returns a copy of the retained recent lines, oldest first.
func (l *Log) Recent() []string {
	return l.ring.snapshot()
}

// DumpRecent writes every retained recent line to the log file and returns
// the number of lines written.
func (l *Log) DumpRecent() (int, error) {
	lines := l.ring.snapshot()
	for _, line := range lines {
		if _, err := l.sink.Write([]byte(line)); err != nil {
			return 0, err
		}
	}
	return len(lines), l.sink.Sync()
}

// ParseLevel maps a config string onto a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "info", "":
		return slog.LevelInfo
	default:
		return slog.LevelInfo
	}
}
