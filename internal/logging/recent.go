package logging

import (
	"context"
	"log/slog"
	"sync"
)

// recentRing retains the most recent formatted log lines regardless of the
// active level threshold, so a crash or an admin "log dump" can surface
// debug context that was suppressed from the file.
type recentRing struct {
	mu    sync.Mutex
	max   int
	lines []string
}

const defaultMaxRecent = 500

func newRecentRing(max int) *recentRing {
	if max <= 0 {
		max = defaultMaxRecent
	}
	return &recentRing{max: max}
}

func (r *recentRing) append(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, line)
	if overflow := len(r.lines) - r.max; overflow > 0 {
		r.lines = append(r.lines[:0], r.lines[overflow:]...)
	}
}

func (r *recentRing) setMax(max int) {
	if max <= 0 {
		max = defaultMaxRecent
	}
	r.mu.Lock()
	r.max = max
	if overflow := len(r.lines) - r.max; overflow > 0 {
		r.lines = append(r.lines[:0], r.lines[overflow:]...)
	}
	r.mu.Unlock()
}

func (r *recentRing) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}

// recentHandler feeds one logger's records into the shared ring. Derived
// handlers carry their own attrs and groups, so a child logger's bound
// attributes never bleed into lines other loggers retain; the buffer itself
// stays shared so every subsystem lands in one dump.
type recentHandler struct {
	ring   *recentRing
	attrs  []slog.Attr
	groups []string
}

func newRecentHandler(ring *recentRing) *recentHandler {
	return &recentHandler{ring: ring}
}

func (h *recentHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *recentHandler) Handle(_ context.Context, record slog.Record) error {
	h.ring.append(string(formatRecord(record, h.groups, h.attrs)))
	return nil
}

func (h *recentHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := h.clone()
	clone.attrs = append(clone.attrs, attrs...)
	return clone
}

func (h *recentHandler) WithGroup(name string) slog.Handler {
	clone := h.clone()
	clone.groups = append(clone.groups, name)
	return clone
}

func (h *recentHandler) clone() *recentHandler {
	clone := &recentHandler{ring: h.ring}
	if len(h.attrs) > 0 {
		clone.attrs = append([]slog.Attr(nil), h.attrs...)
	}
	if len(h.groups) > 0 {
		clone.groups = append([]string(nil), h.groups...)
	}
	return clone
}
