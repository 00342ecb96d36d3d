package container

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breeze-rmm/screenrec/internal/capture"
)

var ebmlMagic = []byte{0x1A, 0x45, 0xDF, 0xA3}

func finalizeWait(t *testing.T, c *Container) error {
	t.Helper()
	done := make(chan error, 1)
	require.NoError(t, c.Finalize(func(err error) { done <- err }))
	select {
	case err := <-done:
		return err
	case <-time.After(15 * time.Second):
		t.Fatal("finalize did not complete")
		return nil
	}
}

func micSpec(path string) Spec {
	return Spec{
		Name:       "aux",
		Path:       path,
		Format:     FormatWebM,
		AnchorKind: capture.TrackMicAudio,
		Tracks: []TrackSpec{
			{Kind: capture.TrackMicAudio, Codec: CodecOpus, SampleRate: 48000, Channels: 2, Buffer: 16},
		},
	}
}

func TestWebMWritesAnchoredFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Meet_test.webm")
	c, err := Open(Spec{
		Name:       "main",
		Path:       path,
		Format:     FormatWebM,
		AnchorKind: capture.TrackVideo,
		Tracks: []TrackSpec{
			{Kind: capture.TrackVideo, Codec: CodecVP9, Width: 640, Height: 360, FPS: 10, Buffer: 16},
			{Kind: capture.TrackSystemAudio, Codec: CodecOpus, SampleRate: 48000, Channels: 2, Buffer: 16},
		},
	}, Options{})
	require.NoError(t, err)
	require.NoError(t, c.BeginWriting())
	require.True(t, c.Anchor().TrySet(5*time.Second))

	v := c.Track(capture.TrackVideo)
	a := c.Track(capture.TrackSystemAudio)
	for i := 0; i < 5; i++ {
		pts := 5*time.Second + time.Duration(i)*100*time.Millisecond
		require.True(t, v.Write(capture.Sample{Kind: capture.TrackVideo, PTS: pts, Duration: 100 * time.Millisecond, Keyframe: i == 0, Data: []byte{0x82, 0x49, 0x83, byte(i)}}))
		require.True(t, a.Write(capture.Sample{Kind: capture.TrackSystemAudio, PTS: pts, Duration: 20 * time.Millisecond, Keyframe: true, Data: []byte{0xF8, 0xFF, 0xFE}}))
		time.Sleep(time.Millisecond)
	}

	c.FinishTracks()
	require.NoError(t, finalizeWait(t, c))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Greater(t, len(data), 4)
	assert.Equal(t, ebmlMagic, data[:4])

	st := c.Stats()
	assert.True(t, st.Anchored)
	assert.Equal(t, 500*time.Millisecond, st.Duration)
	assert.Equal(t, uint64(5), st.Tracks[0].Written)
	assert.Equal(t, uint64(5), st.Tracks[1].Written)
	assert.Zero(t, st.Tracks[0].WriteErrors)
}

func TestWebMAnchorlessFinalizeProducesBlocklessFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Meet_test_mic.webm")
	c, err := Open(micSpec(path), Options{})
	require.NoError(t, err)
	require.NoError(t, c.BeginWriting())

	c.FinishTracks()
	require.NoError(t, finalizeWait(t, c))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Greater(t, len(data), 4)
	assert.Equal(t, ebmlMagic, data[:4])

	st := c.Stats()
	assert.False(t, st.Anchored)
	assert.Zero(t, st.Duration)
	assert.Equal(t, StateClosed, st.State)
}

func TestWebMRejectsUnsupportedTracks(t *testing.T) {
	cases := []TrackSpec{
		{Kind: capture.TrackVideo, Codec: "V_MPEG4/ISO/AVC", Width: 640, Height: 360},
		{Kind: capture.TrackVideo, Codec: CodecVP8},
		{Kind: capture.TrackMicAudio, Codec: "A_AAC", SampleRate: 44100, Channels: 2},
		{Kind: capture.TrackMicAudio, Codec: CodecOpus},
		{Kind: capture.TrackKind(0), Codec: CodecOpus, SampleRate: 48000, Channels: 2},
	}
	for _, ts := range cases {
		s, err := newWebMSink(filepath.Join(t.TempDir(), "x.webm"))
		require.NoError(t, err)
		_, err = s.AddTrack(ts)
		assert.Error(t, err, "%+v", ts)
		require.NoError(t, s.Close())
	}
}

func TestWebMSinkRefusesExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.webm")
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	_, err := newWebMSink(path)
	assert.Error(t, err)
}

func TestOpusHead(t *testing.T) {
	head := opusHead(2, 48000)
	require.Len(t, head, 19)
	assert.Equal(t, "OpusHead", string(head[:8]))
	assert.Equal(t, byte(1), head[8])
	assert.Equal(t, byte(2), head[9])
	assert.Equal(t, uint16(opusPreSkip), binary.LittleEndian.Uint16(head[10:]))
	assert.Equal(t, uint32(48000), binary.LittleEndian.Uint32(head[12:]))
}
