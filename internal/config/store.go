package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// MaxValueLen bounds a single configuration value. Oversized values are an
// environmental error, not a contract violation.
const MaxValueLen = 4096

var (
	// ErrUnknownOption reports a key absent from the schema.
	ErrUnknownOption = errors.New("unknown configuration option")
	// ErrValueTooLong reports a value exceeding MaxValueLen.
	ErrValueTooLong = errors.New("configuration value too long")
)

// Store holds the committed configuration plus staged, not-yet-applied
// mutations. Reads see only committed values; ApplyChanges publishes staged
// values and notifies observers with the exact changed-key set.
type Store struct {
	mu     sync.Mutex
	values map[string]string  // committed non-default values
	staged map[string]*string // pending mutations; nil means revert to default

	observers   ObserverRegistry
	safeToStart atomic.Bool
}

// NewStore returns a store where every option holds its schema default.
func NewStore() *Store {
	return &Store{
		values: make(map[string]string),
		staged: make(map[string]*string),
	}
}

// GetVal returns the committed value for name.
func (s *Store) GetVal(name string) (string, error) {
	opt, ok := Lookup(name)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownOption, name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.values[name]; ok {
		return v, nil
	}
	return opt.Default, nil
}

func (s *Store) mustGet(name string) string {
	v, err := s.GetVal(name)
	if err != nil {
		panic(fmt.Sprintf("config option %q missing from schema", name))
	}
	return v
}

// GetString returns the committed string value for a schema option. The name
// must exist in the schema; unknown names are a programming error.
func (s *Store) GetString(name string) string {
	return s.mustGet(name)
}

// GetInt returns the committed integer value for a schema option.
func (s *Store) GetInt(name string) int64 {
	v, err := strconv.ParseInt(s.mustGet(name), 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// GetBool returns the committed boolean value for a schema option.
func (s *Store) GetBool(name string) bool {
	v, err := strconv.ParseBool(s.mustGet(name))
	if err != nil {
		return false
	}
	return v
}

// GetDuration returns the committed duration value for a schema option.
func (s *Store) GetDuration(name string) time.Duration {
	v, err := time.ParseDuration(s.mustGet(name))
	if err != nil {
		return 0
	}
	return v
}

// SetVal stages a new value for name. The change is invisible until
// ApplyChanges commits it.
func (s *Store) SetVal(name, value string) error {
	opt, ok := Lookup(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownOption, name)
	}
	if len(value) > MaxValueLen {
		return fmt.Errorf("%w: %s is %d bytes (max %d)", ErrValueTooLong, name, len(value), MaxValueLen)
	}
	if err := validateValue(opt, value); err != nil {
		return err
	}
	s.mu.Lock()
	v := value
	s.staged[name] = &v
	s.mu.Unlock()
	return nil
}

// UnsetVal stages a revert to the schema default.
func (s *Store) UnsetVal(name string) error {
	if _, ok := Lookup(name); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownOption, name)
	}
	s.mu.Lock()
	s.staged[name] = nil
	s.mu.Unlock()
	return nil
}

// ApplyChanges commits staged mutations, computes the changed-key set, and
// dispatches observers. Per-key diagnostics, including "changed but not
// observed" notes, are written to diag when non-nil. The caller's goroutine
// performs all observer callbacks.
func (s *Store) ApplyChanges(diag io.Writer) []string {
	s.mu.Lock()
	changed := make(map[string]struct{})
	for name, staged := range s.staged {
		opt, ok := Lookup(name)
		if !ok {
			continue
		}
		current, has := s.values[name]
		if !has {
			current = opt.Default
		}
		next := opt.Default
		if staged != nil {
			next = *staged
		}
		if next == current {
			continue
		}
		if staged == nil || next == opt.Default {
			delete(s.values, name)
		} else {
			s.values[name] = next
		}
		changed[name] = struct{}{}
	}
	s.staged = make(map[string]*string)
	s.mu.Unlock()

	if len(changed) == 0 {
		return nil
	}
	s.observers.Dispatch(s, changed, diag)

	keys := make([]string, 0, len(changed))
	for k := range changed {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// LoadFile reads a flat TOML document and applies it over the defaults.
// Unknown keys and malformed values fail the load; nothing is committed on
// error.
func (s *Store) LoadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	var doc map[string]any
	if err := toml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	staged := make(map[string]string, len(doc))
	for key, value := range doc {
		opt, ok := Lookup(key)
		if !ok {
			return fmt.Errorf("%w: %q in %s", ErrUnknownOption, key, path)
		}
		str, err := stringifyTOMLValue(opt, value)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if err := validateValue(opt, str); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		staged[key] = str
	}
	for key, value := range staged {
		if err := s.SetVal(key, value); err != nil {
			return err
		}
	}
	s.ApplyChanges(nil)
	return nil
}

func stringifyTOMLValue(opt Option, value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case bool:
		return strconv.FormatBool(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	default:
		return "", fmt.Errorf("option %s has unsupported TOML type %T", opt.Name, value)
	}
}

// DiffEntry pairs an option's default with its committed value.
type DiffEntry struct {
	Default string
	Current string
}

// Diff returns every option whose committed value differs from its default.
func (s *Store) Diff() map[string]DiffEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]DiffEntry, len(s.values))
	for name, value := range s.values {
		opt, ok := Lookup(name)
		if !ok {
			continue
		}
		out[name] = DiffEntry{Default: opt.Default, Current: value}
	}
	return out
}

// Show returns the effective value of every schema option.
func (s *Store) Show() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(schema))
	for _, opt := range schema {
		if v, ok := s.values[opt.Name]; ok {
			out[opt.Name] = v
		} else {
			out[opt.Name] = opt.Default
		}
	}
	return out
}

// AddObserver registers an observer under each of its tracked keys.
func (s *Store) AddObserver(o Observer) {
	s.observers.Add(o)
}

// RemoveObserver removes every registration for o. Removing an observer that
// was never added is a programming error and panics.
func (s *Store) RemoveObserver(o Observer) {
	s.observers.Remove(o)
}

// CallAllObservers fires every registered (observer, key) pair. Used once
// when the process declares itself ready to start threads.
func (s *Store) CallAllObservers() {
	s.observers.CallAll(s)
}

// SetSafeToStartThreads marks the point after which subsystems may spawn
// goroutines in response to configuration callbacks.
func (s *Store) SetSafeToStartThreads() {
	s.safeToStart.Store(true)
}

// SafeToStartThreads reports whether the thread-start latch is set.
func (s *Store) SafeToStartThreads() bool {
	return s.safeToStart.Load()
}
