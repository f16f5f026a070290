package btrfs

import (
	"fmt"

	"github.com/runningman84/btrfs-backup/pkg/models"
	"golang.org/x/sys/unix"
)

// DiskSpace returns the capacity of the filesystem containing path
func DiskSpace(path string) (*models.DiskSpace, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return nil, fmt.Errorf("statfs %s: %w", path, err)
	}

	bsize := uint64(stat.Bsize)
	return &models.DiskSpace{
		TotalBytes:     stat.Blocks * bsize,
		AvailableBytes: stat.Bavail * bsize,
	}, nil
}
