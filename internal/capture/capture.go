package capture

import (
	"context"
	"errors"
	"time"
)

// TrackKind identifies which live source a sample came from.
type TrackKind int

const (
	TrackVideo TrackKind = iota + 1
	TrackSystemAudio
	TrackMicAudio
)

func (k TrackKind) String() string {
	switch k {
	case TrackVideo:
		return "video"
	case TrackSystemAudio:
		return "system-audio"
	case TrackMicAudio:
		return "mic-audio"
	default:
		return "unknown"
	}
}

// IsAudio reports whether the kind carries audio.
func (k TrackKind) IsAudio() bool {
	return k == TrackSystemAudio || k == TrackMicAudio
}

// Valid reports whether k is one of the defined kinds.
func (k TrackKind) Valid() bool {
	return k >= TrackVideo && k <= TrackMicAudio
}

// Sample is one unit of timestamped media handed over by a source. PTS is
// on the source's host clock. Sources never mutate Data after delivery.
type Sample struct {
	Kind     TrackKind
	PTS      time.Duration
	Duration time.Duration
	Keyframe bool
	Data     []byte
}

// PixelFormat of raw frames requested from the screen source.
type PixelFormat string

const PixelFormatBGRA PixelFormat = "BGRA"

// DefaultQueueDepth is the number of frames the screen source may hold
// before it starts discarding.
const DefaultQueueDepth = 6

// Target is an opaque capture target handle (a display).
type Target struct {
	ID     string
	Name   string
	Width  int
	Height int
}

// Device is an opaque microphone handle.
type Device struct {
	ID   string
	Name string
}

// StreamConfig is what the controller asks the screen source for.
type StreamConfig struct {
	Width        int
	Height       int
	FPS          int
	Bitrate      int
	PixelFormat  PixelFormat
	QueueDepth   int
	CaptureAudio bool
}

// MinFrameInterval is the shortest interval between two video frames.
func (c StreamConfig) MinFrameInterval() time.Duration {
	if c.FPS <= 0 {
		return time.Second
	}
	return time.Second / time.Duration(c.FPS)
}

// Stream is a running capture stream.
//
// Samples delivers in order on a single serial channel; it is closed when
// the stream has fully stopped. Started yields exactly one value: nil once
// the source confirmed start, or the start failure. Errors yields
// mid-stream failures. Stop is asynchronous, best effort and idempotent.
type Stream interface {
	Samples() <-chan Sample
	Started() <-chan error
	Errors() <-chan error
	Stop()
}

// ScreenSource captures a display together with system audio. Video and
// system audio share the stream's sample channel.
type ScreenSource interface {
	Targets(ctx context.Context) ([]Target, error)
	OpenScreen(target Target, cfg StreamConfig) (Stream, error)
}

// MicSource captures the default input device.
type MicSource interface {
	DefaultDevice() (Device, error)
	OpenMic(device Device) (Stream, error)
}

var (
	// ErrNoTargetsAvailable is returned when there is nothing to capture.
	ErrNoTargetsAvailable = errors.New("no capture targets available")

	// ErrDeviceUnavailable is returned when a capture device is absent or
	// cannot be opened.
	ErrDeviceUnavailable = errors.New("capture device unavailable")

	// ErrStreamFailed wraps failures a stream reports after it started.
	ErrStreamFailed = errors.New("capture stream failed")
)

var hostEpoch = time.Now()

// HostTime returns the shared monotonic clock all local sources stamp
// samples with.
func HostTime() time.Duration {
	return time.Since(hostEpoch)
}
