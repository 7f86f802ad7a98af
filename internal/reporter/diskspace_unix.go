//go:build !windows

package reporter

import (
	"fmt"

	"golang.org/x/sys/unix"
)

func diskFreeBytes(path string) (uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, err
	}
	if stat.Bsize <= 0 {
		return 0, fmt.Errorf("reporter: invalid block size %d from filesystem", stat.Bsize)
	}
	bsize := uint64(stat.Bsize)
	return stat.Bavail * bsize, nil
}
