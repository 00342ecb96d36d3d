package recorder

import (
	"errors"
	"fmt"
	"strings"

	"github.com/samber/lo"
)

// Quality names a capture preset.
type Quality string

const (
	QualityLow    Quality = "low"
	QualityMedium Quality = "medium"
	QualityHigh   Quality = "high"
	QualityUltra  Quality = "ultra"
)

// DefaultQuality is used when none is configured.
const DefaultQuality = QualityMedium

var ErrInvalidQuality = errors.New("invalid quality preset")

// Preset is the fixed capture geometry and rate of a Quality.
type Preset struct {
	Quality Quality
	Width   int
	Height  int
	FPS     int
	Bitrate int // bits per second
}

var presets = []Preset{
	{Quality: QualityLow, Width: 960, Height: 540, FPS: 5, Bitrate: 1_000_000},
	{Quality: QualityMedium, Width: 1280, Height: 720, FPS: 10, Bitrate: 3_000_000},
	{Quality: QualityHigh, Width: 1920, Height: 1080, FPS: 30, Bitrate: 8_000_000},
	{Quality: QualityUltra, Width: 2560, Height: 1440, FPS: 60, Bitrate: 25_000_000},
}

// Presets returns all presets from lowest to highest.
func Presets() []Preset {
	return append([]Preset(nil), presets...)
}

// ParseQuality accepts a preset name in any letter case.
func ParseQuality(s string) (Quality, error) {
	q := Quality(strings.ToLower(strings.TrimSpace(s)))
	if _, err := PresetFor(q); err != nil {
		return "", err
	}
	return q, nil
}

// PresetFor returns the preset for q. An empty q selects DefaultQuality.
func PresetFor(q Quality) (Preset, error) {
	if q == "" {
		q = DefaultQuality
	}
	p, ok := lo.Find(presets, func(p Preset) bool { return p.Quality == q })
	if !ok {
		return Preset{}, fmt.Errorf("%w: %s", ErrInvalidQuality, q)
	}
	return p, nil
}

func (p Preset) String() string {
	return fmt.Sprintf("%s %dx%d@%dfps %.1f Mbps", p.Quality, p.Width, p.Height, p.FPS, float64(p.Bitrate)/1e6)
}
