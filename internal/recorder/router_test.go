package recorder

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breeze-rmm/screenrec/internal/capture"
	"github.com/breeze-rmm/screenrec/internal/container"
	"github.com/breeze-rmm/screenrec/internal/container/containertest"
)

type routerFixture struct {
	router *Router
	main   *container.Container
	aux    *container.Container
	sinks  *containertest.Factory
}

func newRouterFixture(t *testing.T, buffer int, prepare func(path string, s *containertest.Sink)) routerFixture {
	t.Helper()
	f := &containertest.Factory{Prepare: prepare}
	cfg := SessionConfig{MainPath: "main.webm", AuxPath: "aux.webm", TrackBuffer: buffer}
	preset, err := PresetFor(QualityLow)
	require.NoError(t, err)

	main, err := container.Open(mainSpec(cfg, preset), container.Options{Sinks: f.New})
	require.NoError(t, err)
	aux, err := container.Open(auxSpec(cfg), container.Options{Sinks: f.New})
	require.NoError(t, err)
	require.NoError(t, main.BeginWriting())
	require.NoError(t, aux.BeginWriting())

	t.Cleanup(func() {
		main.Abort()
		aux.Abort()
	})
	return routerFixture{router: NewRouter(nil, nil, main, aux), main: main, aux: aux, sinks: f}
}

func sample(kind capture.TrackKind, pts time.Duration) capture.Sample {
	return capture.Sample{Kind: kind, PTS: pts, Duration: 10 * time.Millisecond, Keyframe: true, Data: []byte{byte(kind)}}
}

func TestRouteDropsUntilAnchorTrackArrives(t *testing.T) {
	fx := newRouterFixture(t, 8, nil)
	r := fx.router

	assert.False(t, r.Route(sample(capture.TrackSystemAudio, 900*time.Millisecond)))
	assert.False(t, fx.main.Anchor().IsSet())

	assert.True(t, r.Route(sample(capture.TrackVideo, time.Second)))
	anchor, ok := fx.main.Anchor().Get()
	require.True(t, ok)
	assert.Equal(t, time.Second, anchor)

	assert.False(t, r.Route(sample(capture.TrackSystemAudio, 950*time.Millisecond)), "older than anchor")
	assert.True(t, r.Route(sample(capture.TrackSystemAudio, 1010*time.Millisecond)))

	assert.False(t, fx.aux.Anchor().IsSet(), "aux has its own anchor")
	assert.True(t, r.Route(sample(capture.TrackMicAudio, 700*time.Millisecond)))
	micAnchor, _ := fx.aux.Anchor().Get()
	assert.Equal(t, 700*time.Millisecond, micAnchor)

	snap := r.Metrics().Snapshot()
	sys := snap.Track(capture.TrackSystemAudio)
	assert.Equal(t, uint64(3), sys.Received)
	assert.Equal(t, uint64(1), sys.Accepted)
	assert.Equal(t, uint64(1), sys.DroppedBeforeAnchor)
	assert.Equal(t, uint64(1), sys.DroppedEarly)
	assert.Equal(t, uint64(2), sys.Dropped())
	assert.Equal(t, uint64(1), snap.Track(capture.TrackVideo).Accepted)
	assert.Equal(t, uint64(1), snap.Track(capture.TrackMicAudio).Accepted)
}

func TestRouteAnchorSetOnceUnderConcurrentDelivery(t *testing.T) {
	fx := newRouterFixture(t, 1024, nil)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			<-start
			for i := 0; i < 50; i++ {
				fx.router.Route(sample(capture.TrackVideo, time.Duration(g*50+i)*time.Millisecond))
			}
		}(g)
	}
	close(start)
	wg.Wait()

	fx.main.FinishTracks()
	done := make(chan error, 1)
	require.NoError(t, fx.main.Finalize(func(err error) { done <- err }))
	require.NoError(t, <-done)

	snap := fx.router.Metrics().Snapshot().Track(capture.TrackVideo)
	assert.Equal(t, uint64(400), snap.Received)
	assert.Equal(t, snap.Received, snap.Accepted+snap.DroppedEarly)

	writes := fx.sinks.Sink("main.webm").Writes()
	assert.Len(t, writes, int(snap.Accepted))
	for _, w := range writes {
		assert.GreaterOrEqual(t, w.At, time.Duration(0))
	}
}

func TestRouteDropsWhenTrackNotReady(t *testing.T) {
	gate := make(chan struct{})
	fx := newRouterFixture(t, 1, func(path string, s *containertest.Sink) {
		if path == "main.webm" {
			s.Gate = gate
		}
	})

	require.True(t, fx.router.Route(sample(capture.TrackVideo, 0)))
	const n = 30
	for i := 1; i <= n; i++ {
		assert.False(t, fx.router.Route(sample(capture.TrackVideo, time.Duration(i)*time.Millisecond)))
	}
	close(gate)

	snap := fx.router.Metrics().Snapshot().Track(capture.TrackVideo)
	assert.Equal(t, uint64(n), snap.DroppedNotReady)
	assert.Equal(t, uint64(1), snap.Accepted)
}

func TestRouteAfterFinishIsDropped(t *testing.T) {
	fx := newRouterFixture(t, 8, nil)
	require.True(t, fx.router.Route(sample(capture.TrackMicAudio, 0)))

	fx.aux.FinishTracks()
	assert.False(t, fx.router.Route(sample(capture.TrackMicAudio, time.Second)))
	assert.Equal(t, uint64(1), fx.router.Metrics().Snapshot().Track(capture.TrackMicAudio).DroppedFinished)
}

func TestRouteUnknownKind(t *testing.T) {
	fx := newRouterFixture(t, 8, nil)
	assert.False(t, fx.router.Route(sample(capture.TrackKind(0), 0)))
	assert.False(t, fx.router.Route(sample(capture.TrackKind(7), 0)))
	assert.Equal(t, uint64(2), fx.router.Metrics().Snapshot().Unknown)
}
