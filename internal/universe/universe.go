package universe

import (
	"fmt"
	"math"
)

// Layer identifies a scene's position in the compositing stack. Layers are
// ordered by priority first and activation time second.
type Layer struct {
	Priority int
	Started  float64
}

// Bottom is the layer below every scene.
var Bottom = Layer{Priority: math.MinInt, Started: math.Inf(-1)}

// Less reports whether l composites below o.
func (l Layer) Less(o Layer) bool {
	if l.Priority != o.Priority {
		return l.Priority < o.Priority
	}
	return l.Started < o.Started
}

// AtMost reports whether l composites at or below o.
func (l Layer) AtMost(o Layer) bool {
	return l == o || l.Less(o)
}

func (l Layer) String() string {
	return fmt.Sprintf("(%d, %.6f)", l.Priority, l.Started)
}

// Sink receives finished frames for one universe.
//
// OnFrame is called from the compositor goroutine after the state lock is
// released. Implementations must not block on network round trips.
type Sink interface {
	PreFrame()
	OnFrame(values []float32) error
}

// Universe is a fixed-length channel buffer plus the caching state the
// compositor uses to skip static lower layers.
//
// Universe has no locking of its own. Every field is read and written under
// the show state lock.
type Universe struct {
	name string

	// Values is the current output snapshot.
	Values []float32

	// TopLayer is the highest layer already baked into Values this tick.
	TopLayer Layer

	// PrerenderedLayer is the highest layer contained in the cached baseline.
	PrerenderedLayer Layer

	// SaveBeforeLayer is the layer at which the next baseline is taken.
	SaveBeforeLayer Layer

	// AllStatic is true while no layer since the last reset asked for rerender.
	AllStatic bool

	// FullRerender forces a reset to zero on the next tick.
	FullRerender bool

	prerendered []float32
	changed     bool
	owners      []string

	sink Sink

	// refresh is the keepalive resend interval in seconds; zero sends only on change.
	refresh  float64
	lastSent float64
}

// New creates a universe of the given channel count.
func New(name string, channels int, sink Sink) (*Universe, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidUniverse)
	}
	if channels < 1 {
		return nil, fmt.Errorf("%w: %s: channel count must be positive", ErrInvalidUniverse, name)
	}
	return &Universe{
		name:             name,
		Values:           make([]float32, channels),
		owners:           make([]string, channels),
		TopLayer:         Bottom,
		PrerenderedLayer: Bottom,
		SaveBeforeLayer:  Bottom,
		AllStatic:        true,
		changed:          true,
		sink:             sink,
	}, nil
}

// Name returns the universe name.
func (u *Universe) Name() string { return u.name }

// Len returns the channel count.
func (u *Universe) Len() int { return len(u.Values) }

// Sink returns the output sink, which may be nil.
func (u *Universe) Sink() Sink { return u.sink }

// SetRefreshRate sets the keepalive rate in frames per second. Zero disables keepalive.
func (u *Universe) SetRefreshRate(fps int) {
	if fps <= 0 {
		u.refresh = 0
		return
	}
	u.refresh = 1 / float64(fps)
}

// Reset zeroes the buffer and drops the cached baseline.
func (u *Universe) Reset() {
	clear(u.Values)
	u.TopLayer = Bottom
	u.PrerenderedLayer = Bottom
	u.SaveBeforeLayer = Bottom
	u.prerendered = u.prerendered[:0]
	u.AllStatic = true
	u.changed = true
}

// ResetToCache restores the buffer from the cached baseline so compositing
// resumes above PrerenderedLayer. Without a baseline the buffer is zeroed,
// but SaveBeforeLayer is kept so the baseline is taken during this tick.
func (u *Universe) ResetToCache() {
	if len(u.prerendered) != len(u.Values) {
		clear(u.Values)
		u.TopLayer = Bottom
		u.PrerenderedLayer = Bottom
	} else {
		copy(u.Values, u.prerendered)
		u.TopLayer = u.PrerenderedLayer
	}
	u.AllStatic = true
	u.changed = true
}

// SavePrerendered snapshots the buffer as the baseline for layers above l.
func (u *Universe) SavePrerendered(l Layer) {
	if cap(u.prerendered) < len(u.Values) {
		u.prerendered = make([]float32, len(u.Values))
	}
	u.prerendered = u.prerendered[:len(u.Values)]
	copy(u.prerendered, u.Values)
	u.PrerenderedLayer = l
}

// HasBaseline reports whether a prerendered snapshot is cached.
func (u *Universe) HasBaseline() bool {
	return len(u.prerendered) == len(u.Values)
}

// MarkChanged flags the universe for output this tick.
func (u *Universe) MarkChanged() { u.changed = true }

// Changed reports whether the universe was modified since the last frame was taken.
func (u *Universe) Changed() bool { return u.changed }

// TakeFrame returns a copy of the buffer when the universe changed or its
// keepalive is due, clearing the change flag. It returns nil otherwise.
func (u *Universe) TakeFrame(now float64) []float32 {
	due := u.refresh > 0 && now-u.lastSent >= u.refresh
	if !u.changed && !due {
		return nil
	}
	u.changed = false
	u.lastSent = now
	frame := make([]float32, len(u.Values))
	copy(frame, u.Values)
	return frame
}

// Owner returns the fixture that owns channel ch, or "".
func (u *Universe) Owner(ch int) string {
	if ch < 0 || ch >= len(u.owners) {
		return ""
	}
	return u.owners[ch]
}
