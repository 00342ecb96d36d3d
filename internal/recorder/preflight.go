package recorder

import (
	"errors"
	"fmt"
	"os"

	"github.com/shirou/gopsutil/v3/disk"
)

var (
	// ErrOutputNotWritable is returned when the output directory cannot be
	// written by this process.
	ErrOutputNotWritable = errors.New("output directory not writable")

	// ErrInsufficientSpace is returned when the output volume is below the
	// configured free space floor.
	ErrInsufficientSpace = errors.New("insufficient free disk space")
)

// PreflightReport describes the output volume.
type PreflightReport struct {
	Dir        string
	FreeBytes  uint64
	TotalBytes uint64
	Fstype     string
}

// Preflight makes sure dir exists and is writable and that its volume has
// at least minFreeMB megabytes free. A minFreeMB of zero skips the space
// check but still reports usage.
func Preflight(dir string, minFreeMB int) (PreflightReport, error) {
	report := PreflightReport{Dir: dir}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return report, fmt.Errorf("%w: %v", ErrOutputNotWritable, err)
	}
	if err := checkWritable(dir); err != nil {
		return report, fmt.Errorf("%w: %s: %v", ErrOutputNotWritable, dir, err)
	}

	usage, err := disk.Usage(dir)
	if err != nil {
		return report, fmt.Errorf("disk usage for %s: %w", dir, err)
	}
	report.FreeBytes = usage.Free
	report.TotalBytes = usage.Total
	report.Fstype = usage.Fstype

	need := uint64(minFreeMB) * 1024 * 1024
	if minFreeMB > 0 && usage.Free < need {
		return report, fmt.Errorf("%w: %d MB free on %s, need %d MB",
			ErrInsufficientSpace, usage.Free/(1024*1024), dir, minFreeMB)
	}
	return report, nil
}
