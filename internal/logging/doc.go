// Package logging owns the daemon's structured log pipeline.
//
// A Log bundles a reopenable file sink, optional stderr mirroring, a bounded
// ring of recent records, and a dynamic level threshold behind a single
// *slog.Logger. Records below the threshold are rejected before any
// formatting happens. The file sink can be reopened in place, which is how
// log rotation is coordinated with external tooling.
//
// The package also provides attribute helpers and a no-op logger for tests
// and wiring code that cannot fail.
package logging
