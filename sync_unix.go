//go:build linux

package bptree

import (
	"os"

	"golang.org/x/sys/unix"
)

// fdatasync flushes f's data (and, on platforms where the distinction
// exists, not its metadata) to stable storage.
func fdatasync(f *os.File) error {
	for {
		err := unix.Fdatasync(int(f.Fd()))
		if err != unix.EINTR {
			return err
		}
	}
}
