// Package platform isolates the raw syscall surface needed by the builder:
// the effective-UID privilege check and filesystem synchronization. Everything
// else in the tree goes through this seam instead of calling unix directly.
package platform

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// EffectiveUserIsPrivileged reports whether the process runs with an effective
// UID of root. Table writes and loop device management require it.
func EffectiveUserIsPrivileged() bool {
	return unix.Geteuid() == 0
}

// SyncFilesystem flushes the filesystem behind path to stable storage.
// A formatting step observing the device right after a table rewrite must not
// see stale pages, so builders call this after committing a table.
func SyncFilesystem(path string) error {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		return fmt.Errorf("cannot open %q for syncfs: %w", path, err)
	}
	defer unix.Close(fd) //nolint:errcheck

	if err := unix.Syncfs(fd); err != nil {
		return fmt.Errorf("cannot sync filesystem behind %q: %w", path, err)
	}
	return nil
}
