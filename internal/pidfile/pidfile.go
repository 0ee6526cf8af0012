// Package pidfile enforces the exclusive-instance guarantee for the daemon.
//
// The mutual exclusion mechanism is an advisory whole-file lock; the file
// content (the decimal pid plus newline) exists for operators and init
// scripts, not for locking. Removal is doubly verified: the on-disk identity
// must still match the device/inode captured at open time, and the stored pid
// must be our own. A guard never deletes a pidfile that does not represent
// this process's own lock.
package pidfile

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/gofrs/flock"
	"golang.org/x/sys/unix"
)

var (
	// ErrAlreadyRunning reports that another process holds the lock.
	ErrAlreadyRunning = errors.New("pidfile locked by another process")
	// ErrStale reports that the on-disk file no longer matches the one we
	// locked; someone replaced it underneath us.
	ErrStale = errors.New("pidfile was replaced on disk")
	// ErrForeignPid reports that the file's content names a different
	// process.
	ErrForeignPid = errors.New("pidfile contains another process's pid")
)

// File is a held exclusive-instance guard.
type File struct {
	path string
	lock *flock.Flock
	dev  uint64
	ino  uint64
}

// Write creates (or opens) the pidfile, takes the advisory write lock
// without blocking, and records this process's pid in it. A lock held
// elsewhere surfaces as ErrAlreadyRunning; any other failure is the
// underlying OS error.
func Write(path string) (*File, error) {
	// Pre-create so the file carries 0644 rather than the locker's default.
	handle, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open pidfile %s: %w", path, err)
	}
	if err := handle.Close(); err != nil {
		return nil, fmt.Errorf("open pidfile %s: %w", path, err)
	}

	lock := flock.New(path)
	held, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock pidfile %s: %w", path, err)
	}
	if !held {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRunning, path)
	}

	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("stat pidfile %s: %w", path, err)
	}

	f := &File{path: path, lock: lock, dev: uint64(st.Dev), ino: uint64(st.Ino)}
	if err := f.writePid(); err != nil {
		_ = lock.Unlock()
		return nil, err
	}
	return f, nil
}

func (f *File) writePid() error {
	handle, err := os.OpenFile(f.path, os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("truncate pidfile %s: %w", f.path, err)
	}
	defer handle.Close()
	if _, err := fmt.Fprintf(handle, "%d\n", os.Getpid()); err != nil {
		return fmt.Errorf("write pidfile %s: %w", f.path, err)
	}
	return nil
}

// Path returns the pidfile location.
func (f *File) Path() string { return f.path }

// verify checks that the path still resolves to the file we locked.
func (f *File) verify() error {
	var st unix.Stat_t
	if err := unix.Stat(f.path, &st); err != nil {
		return fmt.Errorf("stat pidfile %s: %w", f.path, err)
	}
	if uint64(st.Dev) != f.dev || uint64(st.Ino) != f.ino {
		return fmt.Errorf("%w: %s", ErrStale, f.path)
	}
	return nil
}

// Remove verifies identity and content, then unlinks the pidfile and drops
// the lock. A staleness or pid mismatch leaves the file in place: a newer
// instance may legitimately own it by now.
func (f *File) Remove() error {
	if f == nil {
		return nil
	}
	defer func() {
		_ = f.lock.Unlock()
	}()

	if err := f.verify(); err != nil {
		return err
	}

	raw, err := os.ReadFile(f.path)
	if err != nil {
		return fmt.Errorf("read pidfile %s: %w", f.path, err)
	}
	stored, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return fmt.Errorf("%w: %s holds %q", ErrForeignPid, f.path, strings.TrimSpace(string(raw)))
	}
	if stored != os.Getpid() {
		return fmt.Errorf("%w: %s holds %d, we are %d", ErrForeignPid, f.path, stored, os.Getpid())
	}

	if err := os.Remove(f.path); err != nil {
		return fmt.Errorf("unlink pidfile %s: %w", f.path, err)
	}
	return nil
}
