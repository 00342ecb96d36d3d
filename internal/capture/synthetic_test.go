package capture

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackKindString(t *testing.T) {
	assert.Equal(t, "video", TrackVideo.String())
	assert.Equal(t, "system-audio", TrackSystemAudio.String())
	assert.Equal(t, "mic-audio", TrackMicAudio.String())
	assert.Equal(t, "unknown", TrackKind(0).String())
	assert.True(t, TrackMicAudio.IsAudio())
	assert.False(t, TrackVideo.IsAudio())
	assert.False(t, TrackKind(9).Valid())
}

func TestMinFrameInterval(t *testing.T) {
	assert.Equal(t, 100*time.Millisecond, StreamConfig{FPS: 10}.MinFrameInterval())
	assert.Equal(t, time.Second, StreamConfig{}.MinFrameInterval())
}

func TestSyntheticScreenDeliversVideoAndAudio(t *testing.T) {
	src := SyntheticScreen{}
	targets, err := src.Targets(context.Background())
	require.NoError(t, err)
	require.Len(t, targets, 1)

	st, err := src.OpenScreen(targets[0], StreamConfig{Width: 320, Height: 240, FPS: 50, QueueDepth: 6, CaptureAudio: true})
	require.NoError(t, err)

	select {
	case err := <-st.Started():
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not confirm start")
	}

	var video, audio int
	var lastVideo time.Duration
	deadline := time.After(5 * time.Second)
	for video < 3 || audio < 3 {
		select {
		case s := <-st.Samples():
			switch s.Kind {
			case TrackVideo:
				assert.GreaterOrEqual(t, s.PTS, lastVideo)
				assert.Equal(t, SyntheticVideoMagic, string(s.Data[:len(SyntheticVideoMagic)]), "placeholder frames carry the marker")
				assert.Len(t, s.Data, len(SyntheticVideoMagic)+16)
				lastVideo = s.PTS
				video++
			case TrackSystemAudio:
				assert.Equal(t, opusSilence, s.Data)
				audio++
			default:
				t.Fatalf("unexpected kind %v", s.Kind)
			}
		case <-deadline:
			t.Fatalf("timed out: video=%d audio=%d", video, audio)
		}
	}

	st.Stop()
	st.Stop()
	for range st.Samples() {
	}
}

func TestSyntheticMicUnavailable(t *testing.T) {
	_, err := SyntheticMic{Unavailable: true}.DefaultDevice()
	assert.True(t, errors.Is(err, ErrDeviceUnavailable))
}

func TestAudioClockCoversElapsedTime(t *testing.T) {
	c := &audioClock{kind: TrackMicAudio}
	assert.Empty(t, c.until(time.Second))

	out := c.until(time.Second + 65*time.Millisecond)
	require.Len(t, out, 3)
	assert.Equal(t, time.Second, out[0].PTS)
	assert.Equal(t, time.Second+40*time.Millisecond, out[2].PTS)

	out = c.until(time.Second + 80*time.Millisecond)
	require.Len(t, out, 1)
	assert.Equal(t, time.Second+60*time.Millisecond, out[0].PTS)
}
