package preflight

import (
	"fmt"
	"syscall"

	"github.com/Aman-CERP/amankb/internal/store"
	"github.com/Aman-CERP/amankb/internal/ui"
)

// MinFreeBytes is the free space required before the first import.
const MinFreeBytes = 64 * 1024 * 1024

// freeBytes reports the space available to unprivileged writers on the file
// system holding path.
var freeBytes = func(path string) (int64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return 0, err
	}
	return int64(stat.Bavail) * int64(stat.Bsize), nil
}

// RequiredFreeBytes is the free space an import needs next to a store of
// storeBytes: a full-text rebuild rewrites the index through the WAL, so the
// store can transiently double.
func RequiredFreeBytes(storeBytes int64) int64 {
	return max(MinFreeBytes, 2*storeBytes)
}

// CheckDiskSpace compares the free space in dataDir with the size of the
// knowledge store in it. Below the requirement it fails; below twice the
// requirement it warns that a re-import of similar size may not fit.
func (c *Checker) CheckDiskSpace(dataDir string) CheckResult {
	result := CheckResult{Name: "disk_space", Required: true}

	free, err := freeBytes(dataDir)
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("failed to check disk space: %v", err)
		return result
	}

	used := store.DiskUsage(store.StorePath(dataDir))
	need := RequiredFreeBytes(used)
	result.Message = fmt.Sprintf("%s free, store uses %s (import needs %s)",
		ui.FormatBytes(free), ui.FormatBytes(used), ui.FormatBytes(need))

	switch {
	case free < need:
		result.Status = StatusFail
		result.Details = "Imports stop with a store write error when the disk fills up; free space or move --data-dir"
	case free < 2*need:
		result.Status = StatusWarn
		result.Details = "A re-import of similar size may not fit"
	default:
		result.Status = StatusPass
	}
	return result
}
