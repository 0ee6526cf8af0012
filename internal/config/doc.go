// Package config implements the daemon's live key/value configuration store.
//
// Options are declared in a fixed schema with a type, a default, and a
// description. Mutations are staged with SetVal/UnsetVal and become visible
// atomically when ApplyChanges commits them; the commit computes the set of
// changed keys and notifies registered observers. Only the goroutine applying
// a change dispatches notifications.
//
// The on-disk format is a flat TOML document keyed by option name.
package config
