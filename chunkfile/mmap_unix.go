//go:build unix

package chunkfile

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

func mapFile(f *os.File, size int) ([]byte, func() error, error) {
	b, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, nil, fmt.Errorf("mmap: %w", err)
	}
	err = unix.Madvise(b, unix.MADV_SEQUENTIAL)
	if err != nil && err != unix.ENOSYS {
		unix.Munmap(b)
		return nil, nil, fmt.Errorf("madvise(MADV_SEQUENTIAL): %w", err)
	}
	return b, func() error { return unix.Munmap(b) }, nil
}
