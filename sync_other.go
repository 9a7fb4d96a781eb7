//go:build !linux

package bptree

import "os"

// fdatasync falls back to a full fsync on platforms without a distinct
// data-only sync syscall exposed by golang.org/x/sys/unix.
func fdatasync(f *os.File) error {
	return f.Sync()
}
