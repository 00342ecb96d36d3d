package recorder

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/breeze-rmm/screenrec/internal/capture"
	"github.com/breeze-rmm/screenrec/internal/container"
)

// Manifest is the YAML sidecar written next to the outputs once a session
// has finished. Downstream processing uses it to find the microphone file
// and to tell a silent Aux track from a missing one.
type Manifest struct {
	SessionID          string           `yaml:"sessionId"`
	State              string           `yaml:"state"`
	Quality            string           `yaml:"quality"`
	Width              int              `yaml:"width"`
	Height             int              `yaml:"height"`
	FPS                int              `yaml:"fps"`
	Bitrate            int              `yaml:"bitrate"`
	StartedAt          time.Time        `yaml:"startedAt,omitempty"`
	StoppedAt          time.Time        `yaml:"stoppedAt,omitempty"`
	MicrophoneDegraded string           `yaml:"microphoneDegraded,omitempty"`
	Failure            string           `yaml:"failure,omitempty"`
	Outputs            []ManifestOutput `yaml:"outputs"`
	UnknownSamples     uint64           `yaml:"unknownSamples,omitempty"`
}

// ManifestOutput describes one container file.
type ManifestOutput struct {
	Role       string          `yaml:"role"`
	Path       string          `yaml:"path"`
	Anchored   bool            `yaml:"anchored"`
	DurationMs int64           `yaml:"durationMs"`
	Tracks     []ManifestTrack `yaml:"tracks"`
}

// ManifestTrack carries a track's write and drop counters.
type ManifestTrack struct {
	Kind                string `yaml:"kind"`
	Codec               string `yaml:"codec"`
	Received            uint64 `yaml:"received"`
	Written             uint64 `yaml:"written"`
	WriteErrors         uint64 `yaml:"writeErrors,omitempty"`
	DroppedBeforeAnchor uint64 `yaml:"droppedBeforeAnchor,omitempty"`
	DroppedEarly        uint64 `yaml:"droppedEarly,omitempty"`
	DroppedNotReady     uint64 `yaml:"droppedNotReady,omitempty"`
	DroppedFinished     uint64 `yaml:"droppedFinished,omitempty"`
}

// NewManifest builds a manifest from a session snapshot.
func NewManifest(info SessionInfo) Manifest {
	m := Manifest{
		SessionID:          info.ID,
		State:              info.State.String(),
		Quality:            string(info.Preset.Quality),
		Width:              info.Preset.Width,
		Height:             info.Preset.Height,
		FPS:                info.Preset.FPS,
		Bitrate:            info.Preset.Bitrate,
		StartedAt:          info.StartedAt,
		StoppedAt:          info.StoppedAt,
		MicrophoneDegraded: info.MicDegraded,
		UnknownSamples:     info.Metrics.Unknown,
	}
	if info.Cause != nil {
		m.Failure = info.Cause.Error()
	}
	for _, st := range info.Containers {
		out := ManifestOutput{
			Role:       st.Name,
			Path:       st.Path,
			Anchored:   st.Anchored,
			DurationMs: st.Duration.Milliseconds(),
		}
		for _, ts := range st.Tracks {
			out.Tracks = append(out.Tracks, manifestTrack(ts, info.Metrics.Track(ts.Kind)))
		}
		m.Outputs = append(m.Outputs, out)
	}
	return m
}

func manifestTrack(ts container.TrackStats, tm TrackMetrics) ManifestTrack {
	return ManifestTrack{
		Kind:                ts.Kind.String(),
		Codec:               ts.Codec,
		Received:            tm.Received,
		Written:             ts.Written,
		WriteErrors:         ts.WriteErrors,
		DroppedBeforeAnchor: tm.DroppedBeforeAnchor,
		DroppedEarly:        tm.DroppedEarly,
		DroppedNotReady:     tm.DroppedNotReady,
		DroppedFinished:     tm.DroppedFinished,
	}
}

// Output returns the output with the given role.
func (m Manifest) Output(role string) (ManifestOutput, bool) {
	for _, o := range m.Outputs {
		if o.Role == role {
			return o, true
		}
	}
	return ManifestOutput{}, false
}

// Track returns the track of the given kind.
func (o ManifestOutput) Track(kind capture.TrackKind) (ManifestTrack, bool) {
	for _, t := range o.Tracks {
		if t.Kind == kind.String() {
			return t, true
		}
	}
	return ManifestTrack{}, false
}

// WriteManifest writes m to path through a temporary file so readers never
// see a partial document.
func WriteManifest(path string, m Manifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".manifest-*")
	if err != nil {
		return fmt.Errorf("create manifest: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close manifest: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename manifest: %w", err)
	}
	return nil
}

// ReadManifest loads a manifest written by WriteManifest.
func ReadManifest(path string) (Manifest, error) {
	var m Manifest
	data, err := os.ReadFile(path)
	if err != nil {
		return m, err
	}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	return m, nil
}
