package preflight

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"
)

// GiB is the unit free-space floors are configured in.
const GiB = 1 << 30

// sysinfo load averages are fixed point with 16 fractional bits.
const loadScale = 1 << 16

// SpaceChecker reports free bytes available to unprivileged writers on the
// volume holding path.
type SpaceChecker interface {
	FreeBytes(path string) (uint64, error)
}

// StatfsChecker reads free space with statfs(2).
type StatfsChecker struct{}

// FreeBytes implements SpaceChecker. When path does not exist yet the
// nearest existing parent is measured instead.
func (StatfsChecker) FreeBytes(path string) (uint64, error) {
	target := nearestExisting(path)
	var st unix.Statfs_t
	if err := unix.Statfs(target, &st); err != nil {
		return 0, fmt.Errorf("statfs %s: %w", target, err)
	}
	return st.Bavail * uint64(st.Bsize), nil
}

func nearestExisting(path string) string {
	current := filepath.Clean(path)
	for {
		if _, err := os.Stat(current); err == nil || !errors.Is(err, os.ErrNotExist) {
			return current
		}
		parent := filepath.Dir(current)
		if parent == current {
			return current
		}
		current = parent
	}
}

// FloorBytes converts a floor in GiB to bytes. Negative floors disable the check.
func FloorBytes(floorGB float64) uint64 {
	if floorGB <= 0 {
		return 0
	}
	return uint64(floorGB * GiB)
}

// CheckFreeSpace reports whether path has at least floorGB free.
func CheckFreeSpace(space SpaceChecker, name, path string, floorGB float64) Result {
	free, err := space.FreeBytes(path)
	if err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	floor := FloorBytes(floorGB)
	detail := fmt.Sprintf("%s free, floor %s", humanize.IBytes(free), humanize.IBytes(floor))
	if free < floor {
		return Result{Name: name, Detail: detail}
	}
	return Result{Name: name, Passed: true, Detail: detail}
}

// LoadAverage returns the one-minute load average of the host.
func LoadAverage() (float64, error) {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0, fmt.Errorf("sysinfo: %w", err)
	}
	return float64(info.Loads[0]) / loadScale, nil
}
