package container

import (
	"fmt"
	"time"

	"github.com/breeze-rmm/screenrec/internal/capture"
)

// Format is an output container format.
type Format string

const FormatWebM Format = "webm"

// Codec identifiers understood by the WebM sink.
const (
	CodecVP8    = "V_VP8"
	CodecVP9    = "V_VP9"
	CodecAV1    = "V_AV1"
	CodecOpus   = "A_OPUS"
	CodecVorbis = "A_VORBIS"
)

// TrackSpec describes one track to register before writing begins.
type TrackSpec struct {
	Kind  capture.TrackKind
	Codec string

	// video
	Width  int
	Height int
	FPS    int

	// audio
	SampleRate int
	Channels   int

	Bitrate int

	// Buffer is how many accepted samples may wait for the sink.
	Buffer int
}

// Sink is the file-level muxer a Container drives. AddTrack and Begin are
// called during setup; WriteSample and Close only from the container's
// writer goroutine. Timestamps passed to WriteSample are relative to the
// container's anchor.
type Sink interface {
	AddTrack(spec TrackSpec) (int, error)
	Begin() error
	WriteSample(track int, at time.Duration, keyframe bool, data []byte) error
	Close() error
}

// SinkFactory creates a sink writing to path in the given format.
type SinkFactory func(path string, format Format) (Sink, error)

// DefaultSinks creates the sink for a supported format.
func DefaultSinks(path string, format Format) (Sink, error) {
	switch format {
	case FormatWebM:
		return newWebMSink(path)
	default:
		return nil, fmt.Errorf("unsupported container format %q", format)
	}
}
