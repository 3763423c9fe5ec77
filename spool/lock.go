package spool

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/probectl/probectl/errors"
)

// Lock is the controller-wide advisory lock. It is held for the duration of
// one invocation and prevents two invocations from mutating the same
// spool/config state concurrently. A second invocation finding the lock held
// fails fast instead of blocking.
type Lock struct {
	path string
	held bool
}

// NewLock creates a lock persisted at the given path
func NewLock(path string) *Lock {
	return &Lock{path: path}
}

// Acquire takes the lock or fails with a concurrent-invocation error. A lock
// file left behind by a dead process is reclaimed.
func (l *Lock) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			f.Close()
			l.held = true
			return nil
		}
		if !os.IsExist(err) {
			return fmt.Errorf("failed to create lock file: %w", err)
		}

		holder, stale := l.holder()
		if !stale {
			return errors.Newf(errors.ErrConcurrentInvocation,
				"another invocation (pid %d) holds the lock at %s", holder, l.path)
		}

		// Stale lock from a dead process; reclaim and retry once.
		if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove stale lock: %w", err)
		}
	}

	return errors.Newf(errors.ErrConcurrentInvocation, "could not acquire lock at %s", l.path)
}

// holder reads the lock file's pid and reports whether that process is gone
func (l *Lock) holder() (int, bool) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return 0, true
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, true
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return pid, true
	}
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		return pid, true
	}
	return pid, false
}

// Release drops the lock
func (l *Lock) Release() error {
	if !l.held {
		return nil
	}
	l.held = false

	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}
