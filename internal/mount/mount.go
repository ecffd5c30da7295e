// Package mount provides a thin mount(2)/umount(2) wrapper for the rare
// cases where shelling to /bin/mount (the default path every executor
// takes through internal/toolrunner) isn't appropriate, such as bind
// mounts. No executor calls it; every mount the engine makes goes through
// /bin/mount.
//
// mount(2) here and flock(2) in internal/lockfile are the only syscalls
// this module wraps directly rather than through a shelled tool; golang.org/x/sys/unix is
// the one low-level syscall dependency this module needs, reused here
// instead of adding a second syscall package.
package mount

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Bind bind-mounts source onto target, creating no intermediate
// directories (the caller is expected to have created target already).
func Bind(source, target string) error {
	if err := unix.Mount(source, target, "", unix.MS_BIND, ""); err != nil {
		return fmt.Errorf("mount: bind %s -> %s: %w", source, target, err)
	}
	return nil
}

// Unmount detaches target. force uses MNT_FORCE.
func Unmount(target string, force bool) error {
	flags := 0
	if force {
		flags = unix.MNT_FORCE
	}
	if err := unix.Unmount(target, flags); err != nil {
		return fmt.Errorf("mount: unmount %s: %w", target, err)
	}
	return nil
}
