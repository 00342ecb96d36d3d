package capture

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/breeze-rmm/screenrec/internal/logging"
)

var log = logging.L("capture")

// audioFrame is the duration of one synthetic audio packet.
const audioFrame = 20 * time.Millisecond

// opusSilence is a complete 20 ms Opus packet (CELT fullband, mono) that
// decodes to silence.
var opusSilence = []byte{0xF8, 0xFF, 0xFE}

// SyntheticVideoMagic starts every synthetic video payload. The payload is
// a placeholder, not an encoded VP9 frame: players show no picture for it.
const SyntheticVideoMagic = "SRSYNTH1"

// SyntheticScreen produces paced placeholder video frames and silent system
// audio. It stands in for the platform capture layer when none is linked
// in, so the container timing and file structure can be exercised end to
// end; the video track of its recordings is not decodable.
type SyntheticScreen struct {
	Displays int
}

func (s SyntheticScreen) Targets(ctx context.Context) ([]Target, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n := s.Displays
	if n <= 0 {
		n = 1
	}
	targets := make([]Target, 0, n)
	for i := 0; i < n; i++ {
		targets = append(targets, Target{
			ID:     fmt.Sprintf("synthetic-%d", i),
			Name:   fmt.Sprintf("Synthetic Display %d", i+1),
			Width:  1920,
			Height: 1080,
		})
	}
	return targets, nil
}

func (s SyntheticScreen) OpenScreen(target Target, cfg StreamConfig) (Stream, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: invalid frame size %dx%d", ErrDeviceUnavailable, cfg.Width, cfg.Height)
	}
	depth := cfg.QueueDepth
	if depth <= 0 {
		depth = DefaultQueueDepth
	}
	st := newPacedStream(depth * 4)
	log.Info("synthetic screen stream opened",
		"target", target.ID,
		"width", cfg.Width,
		"height", cfg.Height,
		"fps", cfg.FPS,
		"audio", cfg.CaptureAudio,
	)
	audio := &audioClock{kind: TrackSystemAudio}
	go st.run(cfg.MinFrameInterval(), func(tick uint64, now time.Duration) []Sample {
		frame := make([]byte, len(SyntheticVideoMagic)+16)
		n := copy(frame, SyntheticVideoMagic)
		binary.BigEndian.PutUint64(frame[n:], tick)
		binary.BigEndian.PutUint32(frame[n+8:], uint32(cfg.Width))
		binary.BigEndian.PutUint32(frame[n+12:], uint32(cfg.Height))
		out := []Sample{{
			Kind:     TrackVideo,
			PTS:      now,
			Duration: cfg.MinFrameInterval(),
			Keyframe: tick%uint64(max(cfg.FPS, 1)) == 0,
			Data:     frame,
		}}
		if cfg.CaptureAudio {
			out = append(out, audio.until(now)...)
		}
		return out
	})
	return st, nil
}

// SyntheticMic produces silent microphone audio. Unavailable simulates a
// machine without an input device.
type SyntheticMic struct {
	Unavailable bool
}

func (m SyntheticMic) DefaultDevice() (Device, error) {
	if m.Unavailable {
		return Device{}, fmt.Errorf("%w: no input device", ErrDeviceUnavailable)
	}
	return Device{ID: "synthetic-mic", Name: "Synthetic Microphone"}, nil
}

func (m SyntheticMic) OpenMic(device Device) (Stream, error) {
	if m.Unavailable {
		return nil, fmt.Errorf("%w: %s", ErrDeviceUnavailable, device.ID)
	}
	st := newPacedStream(64)
	audio := &audioClock{kind: TrackMicAudio}
	go st.run(audioFrame, func(_ uint64, now time.Duration) []Sample {
		return audio.until(now)
	})
	return st, nil
}

// audioClock emits back-to-back silent packets covering the time elapsed
// since its first call.
type audioClock struct {
	kind    TrackKind
	next    time.Duration
	started bool
}

func (c *audioClock) until(now time.Duration) []Sample {
	if !c.started {
		c.next = now
		c.started = true
	}
	var out []Sample
	for c.next+audioFrame <= now {
		out = append(out, Sample{
			Kind:     c.kind,
			PTS:      c.next,
			Duration: audioFrame,
			Keyframe: true,
			Data:     opusSilence,
		})
		c.next += audioFrame
	}
	return out
}

// pacedStream is a ticker-driven Stream. Deliveries that find the sample
// channel full are discarded, like a platform source with a bounded queue.
type pacedStream struct {
	samples  chan Sample
	started  chan error
	errs     chan error
	quit     chan struct{}
	stopOnce sync.Once
}

func newPacedStream(buffer int) *pacedStream {
	return &pacedStream{
		samples: make(chan Sample, buffer),
		started: make(chan error, 1),
		errs:    make(chan error, 1),
		quit:    make(chan struct{}),
	}
}

func (p *pacedStream) Samples() <-chan Sample { return p.samples }
func (p *pacedStream) Started() <-chan error  { return p.started }
func (p *pacedStream) Errors() <-chan error   { return p.errs }

func (p *pacedStream) Stop() {
	p.stopOnce.Do(func() { close(p.quit) })
}

func (p *pacedStream) run(interval time.Duration, next func(tick uint64, now time.Duration) []Sample) {
	defer close(p.samples)
	p.started <- nil

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var tick, discarded uint64
	for {
		select {
		case <-p.quit:
			if discarded > 0 {
				log.Debug("synthetic stream discarded samples", "count", discarded)
			}
			return
		case <-ticker.C:
		}
		for _, s := range next(tick, HostTime()) {
			select {
			case p.samples <- s:
			default:
				discarded++
			}
		}
		tick++
	}
}
