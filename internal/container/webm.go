package container

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/at-wat/ebml-go/webm"
	"github.com/google/uuid"

	"github.com/breeze-rmm/screenrec/internal/capture"
)

const (
	trackTypeVideo = 1
	trackTypeAudio = 2

	// webmCloseTimeout bounds how long Close waits for the muxer to flush
	// and release the file.
	webmCloseTimeout = 5 * time.Second

	opusPreSkip = 312
)

// webmSink writes a Matroska/WebM file with ebml-go. The header and track
// entries are written on Begin; each track gets its own block writer.
type webmSink struct {
	file    *notifyFile
	entries []webm.TrackEntry
	writers []webm.BlockWriteCloser
}

func newWebMSink(path string) (*webmSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &webmSink{file: newNotifyFile(f)}, nil
}

func (s *webmSink) AddTrack(spec TrackSpec) (int, error) {
	if s.writers != nil {
		return 0, errors.New("tracks must be added before writing begins")
	}
	entry := webm.TrackEntry{
		Name:        spec.Kind.String(),
		TrackNumber: uint64(len(s.entries) + 1),
		TrackUID:    newTrackUID(),
		CodecID:     spec.Codec,
	}

	switch spec.Kind {
	case capture.TrackVideo:
		switch spec.Codec {
		case CodecVP8, CodecVP9, CodecAV1:
		default:
			return 0, fmt.Errorf("video codec %q not supported in webm", spec.Codec)
		}
		if spec.Width <= 0 || spec.Height <= 0 {
			return 0, fmt.Errorf("invalid video size %dx%d", spec.Width, spec.Height)
		}
		entry.TrackType = trackTypeVideo
		entry.Video = &webm.Video{
			PixelWidth:  uint64(spec.Width),
			PixelHeight: uint64(spec.Height),
		}
		if spec.FPS > 0 {
			entry.DefaultDuration = uint64(time.Second / time.Duration(spec.FPS))
		}
	case capture.TrackSystemAudio, capture.TrackMicAudio:
		if spec.SampleRate <= 0 || spec.Channels <= 0 {
			return 0, fmt.Errorf("invalid audio format %d Hz x %d", spec.SampleRate, spec.Channels)
		}
		switch spec.Codec {
		case CodecOpus:
			entry.CodecPrivate = opusHead(spec.Channels, spec.SampleRate)
		case CodecVorbis:
		default:
			return 0, fmt.Errorf("audio codec %q not supported in webm", spec.Codec)
		}
		entry.TrackType = trackTypeAudio
		entry.Audio = &webm.Audio{
			SamplingFrequency: float64(spec.SampleRate),
			Channels:          uint64(spec.Channels),
		}
	default:
		return 0, fmt.Errorf("track kind %s not supported", spec.Kind)
	}

	s.entries = append(s.entries, entry)
	return len(s.entries) - 1, nil
}

func (s *webmSink) Begin() error {
	if len(s.entries) == 0 {
		return errors.New("no tracks")
	}
	ws, err := webm.NewSimpleBlockWriter(s.file, s.entries)
	if err != nil {
		return err
	}
	s.writers = ws
	return nil
}

func (s *webmSink) WriteSample(track int, at time.Duration, keyframe bool, data []byte) error {
	if track < 0 || track >= len(s.writers) {
		return fmt.Errorf("track %d out of range", track)
	}
	_, err := s.writers[track].Write(keyframe, at.Milliseconds(), data)
	return err
}

// Close closes every block writer. The muxer closes the file once the last
// track is closed; if that does not happen in time the file is closed here.
func (s *webmSink) Close() error {
	if s.writers == nil {
		return s.file.Close()
	}

	var errs []error
	for _, w := range s.writers {
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	select {
	case <-s.file.closed:
	case <-time.After(webmCloseTimeout):
		errs = append(errs, errors.New("webm muxer did not release the file"))
		_ = s.file.Close()
	}
	if err := s.file.err; err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// opusHead builds the OpusHead identification header carried as
// CodecPrivate for A_OPUS tracks.
func opusHead(channels, sampleRate int) []byte {
	head := make([]byte, 19)
	copy(head, "OpusHead")
	head[8] = 1
	head[9] = byte(channels)
	binary.LittleEndian.PutUint16(head[10:], opusPreSkip)
	binary.LittleEndian.PutUint32(head[12:], uint32(sampleRate))
	return head
}

func newTrackUID() uint64 {
	id := uuid.New()
	uid := binary.BigEndian.Uint64(id[:8])
	if uid == 0 {
		uid = 1
	}
	return uid
}

// notifyFile signals when the file has been closed, whoever closed it.
type notifyFile struct {
	*os.File
	once   sync.Once
	closed chan struct{}
	err    error
}

func newNotifyFile(f *os.File) *notifyFile {
	return &notifyFile{File: f, closed: make(chan struct{})}
}

func (f *notifyFile) Close() error {
	f.once.Do(func() {
		if err := f.File.Sync(); err != nil && !errors.Is(err, os.ErrClosed) {
			f.err = err
		}
		if err := f.File.Close(); err != nil {
			f.err = errors.Join(f.err, err)
		}
		close(f.closed)
	})
	return f.err
}
