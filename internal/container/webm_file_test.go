package container_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breeze-rmm/screenrec/internal/capture"
	"github.com/breeze-rmm/screenrec/internal/container"
	"github.com/breeze-rmm/screenrec/internal/container/containertest"
)

// stalledSink holds every WriteSample of the real WebM sink until release
// is closed, so a track's slots stay occupied.
type stalledSink struct {
	container.Sink
	release chan struct{}
}

func (s *stalledSink) WriteSample(track int, at time.Duration, keyframe bool, data []byte) error {
	<-s.release
	return s.Sink.WriteSample(track, at, keyframe, data)
}

func stalledWebM(release chan struct{}) container.SinkFactory {
	return func(path string, format container.Format) (container.Sink, error) {
		s, err := container.DefaultSinks(path, format)
		if err != nil {
			return nil, err
		}
		return &stalledSink{Sink: s, release: release}, nil
	}
}

func finalizeFile(t *testing.T, c *container.Container) {
	t.Helper()
	c.FinishTracks()
	done := make(chan error, 1)
	require.NoError(t, c.Finalize(func(err error) { done <- err }))
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("finalize did not complete")
	}
}

func sample(kind capture.TrackKind, pts time.Duration, tag byte) capture.Sample {
	return capture.Sample{Kind: kind, PTS: pts, Duration: 100 * time.Millisecond, Keyframe: true, Data: []byte{0x82, 0x49, 0x83, tag}}
}

func TestMainFileTracksAndAnchorRelativeTimestamps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Meet_test.webm")
	c, err := container.Open(mainSpec(path), container.Options{})
	require.NoError(t, err)
	require.NoError(t, c.BeginWriting())
	require.True(t, c.Anchor().TrySet(7*time.Second))

	v := c.Track(capture.TrackVideo)
	a := c.Track(capture.TrackSystemAudio)
	assert.False(t, a.Write(sample(capture.TrackSystemAudio, 6900*time.Millisecond, 0xEE)), "sample before the anchor")
	for i := 0; i < 4; i++ {
		pts := 7*time.Second + time.Duration(i)*100*time.Millisecond
		require.True(t, v.Write(sample(capture.TrackVideo, pts, byte(i))))
		require.True(t, a.Write(sample(capture.TrackSystemAudio, pts+20*time.Millisecond, byte(0x10+i))))
		time.Sleep(time.Millisecond)
	}
	finalizeFile(t, c)

	f, err := containertest.ReadWebM(path)
	require.NoError(t, err)
	require.Len(t, f.Tracks, 2)

	video, ok := f.TrackNamed(capture.TrackVideo.String())
	require.True(t, ok)
	assert.Equal(t, container.CodecVP9, video.CodecID)
	require.NotNil(t, video.Video)
	assert.Equal(t, uint64(1280), video.Video.PixelWidth)

	audio, ok := f.TrackNamed(capture.TrackSystemAudio.String())
	require.True(t, ok)
	assert.Equal(t, container.CodecOpus, audio.CodecID)
	assert.Equal(t, "OpusHead", string(audio.CodecPrivate[:8]))

	vb := f.BlocksFor(video.TrackNumber)
	require.Len(t, vb, 4)
	for i, b := range vb {
		assert.Equal(t, time.Duration(i)*100*time.Millisecond, b.At, "video block %d", i)
		assert.Equal(t, byte(i), b.Data[len(b.Data)-1])
	}
	ab := f.BlocksFor(audio.TrackNumber)
	require.Len(t, ab, 4)
	assert.Equal(t, 20*time.Millisecond, ab[0].At)
	for _, b := range ab {
		assert.NotEqual(t, byte(0xEE), b.Data[len(b.Data)-1], "pre-anchor sample reached the file")
	}
}

func TestNotReadySamplesAreAbsentFromFile(t *testing.T) {
	release := make(chan struct{})
	path := filepath.Join(t.TempDir(), "Meet_test_mic.webm")
	spec := container.Spec{
		Name:       "aux",
		Path:       path,
		Format:     container.FormatWebM,
		AnchorKind: capture.TrackMicAudio,
		Tracks: []container.TrackSpec{
			{Kind: capture.TrackMicAudio, Codec: container.CodecOpus, SampleRate: 48000, Channels: 2, Buffer: 2},
		},
	}
	c, err := container.Open(spec, container.Options{Sinks: stalledWebM(release)})
	require.NoError(t, err)
	require.NoError(t, c.BeginWriting())
	require.True(t, c.Anchor().TrySet(time.Second))

	mic := c.Track(capture.TrackMicAudio)
	require.True(t, mic.Write(sample(capture.TrackMicAudio, time.Second, 1)))
	require.True(t, mic.Write(sample(capture.TrackMicAudio, time.Second+20*time.Millisecond, 2)))
	assert.False(t, mic.CanAccept())
	assert.False(t, mic.Write(sample(capture.TrackMicAudio, time.Second+40*time.Millisecond, 3)))

	close(release)
	require.Eventually(t, mic.CanAccept, 5*time.Second, time.Millisecond)
	require.True(t, mic.Write(sample(capture.TrackMicAudio, time.Second+60*time.Millisecond, 4)))
	finalizeFile(t, c)

	f, err := containertest.ReadWebM(path)
	require.NoError(t, err)
	require.Len(t, f.Tracks, 1)
	assert.Equal(t, container.CodecOpus, f.Tracks[0].CodecID)

	var tags []byte
	var ats []time.Duration
	for _, b := range f.BlocksFor(f.Tracks[0].TrackNumber) {
		tags = append(tags, b.Data[len(b.Data)-1])
		ats = append(ats, b.At)
	}
	assert.Equal(t, []byte{1, 2, 4}, tags)
	assert.Equal(t, []time.Duration{0, 20 * time.Millisecond, 60 * time.Millisecond}, ats)
}

func TestAnchorlessAuxHoldsTrackEntryAndNoBlocks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Meet_test_mic.webm")
	c, err := container.Open(container.Spec{
		Name:       "aux",
		Path:       path,
		Format:     container.FormatWebM,
		AnchorKind: capture.TrackMicAudio,
		Tracks: []container.TrackSpec{
			{Kind: capture.TrackMicAudio, Codec: container.CodecOpus, SampleRate: 48000, Channels: 2},
		},
	}, container.Options{})
	require.NoError(t, err)
	require.NoError(t, c.BeginWriting())
	finalizeFile(t, c)

	f, err := containertest.ReadWebM(path)
	require.NoError(t, err)
	require.Len(t, f.Tracks, 1)
	assert.Equal(t, capture.TrackMicAudio.String(), f.Tracks[0].Name)
	assert.Empty(t, f.Blocks)
	// the muxer closes the segment with one empty cluster
	assert.Equal(t, 1, f.Clusters)
}
