package lifecycle

import "sync/atomic"

// Lifecycle holds process-wide state shared by the bot endpoint and the
// readiness probe. Once draining, new bot connections are refused.
type Lifecycle struct {
	draining atomic.Bool
}

func (l *Lifecycle) SetDraining(draining bool) {
	if l == nil {
		return
	}
	l.draining.Store(draining)
}

// BeginDrain switches to draining and reports whether this call made the
// transition.
func (l *Lifecycle) BeginDrain() bool {
	if l == nil {
		return false
	}
	return l.draining.CompareAndSwap(false, true)
}

func (l *Lifecycle) IsDraining() bool {
	if l == nil {
		return false
	}
	return l.draining.Load()
}
