package container

import (
	"sync/atomic"
	"time"
)

// Anchor is a container's set-once timeline origin. The first TrySet wins;
// every later call observes the winner's value.
type Anchor struct {
	pts atomic.Pointer[time.Duration]
}

// TrySet sets the anchor to pts if it is unset and reports whether this
// call set it.
func (a *Anchor) TrySet(pts time.Duration) bool {
	return a.pts.CompareAndSwap(nil, &pts)
}

// Get returns the anchor and whether it has been set.
func (a *Anchor) Get() (time.Duration, bool) {
	p := a.pts.Load()
	if p == nil {
		return 0, false
	}
	return *p, true
}

// IsSet reports whether the anchor has been established.
func (a *Anchor) IsSet() bool {
	return a.pts.Load() != nil
}
