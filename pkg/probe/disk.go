// Package probe samples host state: free space on a filesystem and the
// presence of processes matching a command-line pattern.
package probe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shirou/gopsutil/v3/disk"
)

// BytesPerGB is the divisor used to express byte counts in GB (2^30).
const BytesPerGB = 1 << 30

// DiskUsage is one free-space sample.
type DiskUsage struct {
	Path       string
	TotalBytes uint64
	FreeBytes  uint64
}

// FreeGB returns the free space in GB.
func (u DiskUsage) FreeGB() float64 {
	return float64(u.FreeBytes) / BytesPerGB
}

// DiskProber reports free space for a path.
type DiskProber interface {
	Usage(ctx context.Context, path string) (DiskUsage, error)
}

// DiskStat samples free space with statfs through gopsutil. FreeBytes is the
// space available to unprivileged users.
type DiskStat struct {
	usage func(context.Context, string) (*disk.UsageStat, error)
}

// NewDiskStat returns a DiskProber backed by the host filesystem.
func NewDiskStat() *DiskStat {
	return &DiskStat{usage: disk.UsageWithContext}
}

// Usage implements DiskProber.
func (d *DiskStat) Usage(ctx context.Context, path string) (DiskUsage, error) {
	if strings.TrimSpace(path) == "" {
		return DiskUsage{}, errors.New("disk path must not be empty")
	}
	stat, err := d.usage(ctx, path)
	if err != nil {
		return DiskUsage{}, fmt.Errorf("disk usage for %s: %w", path, err)
	}
	if stat == nil {
		return DiskUsage{}, fmt.Errorf("disk usage for %s: no data returned", path)
	}
	return DiskUsage{Path: path, TotalBytes: stat.Total, FreeBytes: stat.Free}, nil
}

var _ DiskProber = (*DiskStat)(nil)
