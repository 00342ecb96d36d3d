package recorder

import (
	"path/filepath"
	"time"

	"github.com/breeze-rmm/screenrec/internal/container"
)

// TimestampLayout is the timestamp embedded in output file names.
const TimestampLayout = "2006-01-02_15-04-05"

// OutputPaths are the files one session produces.
type OutputPaths struct {
	Main     string
	Aux      string
	Manifest string
}

// NameOutputs returns <prefix>_<timestamp>.<ext>, the matching _mic file
// and the manifest path inside dir.
func NameOutputs(dir, prefix string, format container.Format, at time.Time) OutputPaths {
	base := prefix + "_" + at.Format(TimestampLayout)
	ext := "." + string(format)
	return OutputPaths{
		Main:     filepath.Join(dir, base+ext),
		Aux:      filepath.Join(dir, base+"_mic"+ext),
		Manifest: filepath.Join(dir, base+".yaml"),
	}
}
