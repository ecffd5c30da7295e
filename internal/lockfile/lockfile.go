// Package lockfile guards the engine's single-threaded, cooperatively
// sequenced invariant against a second invocation racing it on the same
// host, using flock(2) rather than a pidfile so a crashed process's lock
// is released automatically by the kernel.
package lockfile

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Lock holds an open, flock'd file descriptor.
type Lock struct {
	f *os.File
}

// Acquire opens (creating if needed) path and takes an exclusive,
// non-blocking flock. A unix.EWOULDBLOCK failure is wrapped with %w like
// every other error, so callers can tell "another run is already in
// progress" apart from other I/O errors with errors.Is.
func Acquire(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("lockfile: open %s: %w", path, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("lockfile: flock %s: %w", path, err)
	}

	return &Lock{f: f}, nil
}

// Release unlocks and closes the underlying file.
func (l *Lock) Release() error {
	if err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN); err != nil {
		l.f.Close()
		return fmt.Errorf("lockfile: unlock: %w", err)
	}
	return l.f.Close()
}
