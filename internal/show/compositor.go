package show

import (
	"context"
	"slices"
	"time"

	"github.com/nerrad567/gray-logic-show/internal/blend"
	"github.com/nerrad567/gray-logic-show/internal/universe"
)

// staleAdvance is how far behind an auto-advance may be scheduled before it
// is applied at the current time instead of the exact cue boundary.
const staleAdvance = 1.0

type frame struct {
	universe string
	sink     universe.Sink
	values   []float32
}

type renderStats struct {
	ticks       uint64
	total       time.Duration
	worst       time.Duration
	frames      int
	blendErrors int
	scratch     []float32
}

// Run drives the render loop every interval and the sound worker until ctx
// is cancelled.
func (b *Board) Run(ctx context.Context, interval time.Duration) {
	go b.RunSound(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.Tick()
		}
	}
}

// Tick renders one frame at the current board time.
func (b *Board) Tick() {
	b.RenderAt(b.now())
}

// RenderAt renders one frame at time now.
//
// The tick runs three passes under the state lock: scene updates (auto
// advance and canvas painting) in ascending layer order, universe resets in
// descending order, then compositing in ascending order. Frames are copied
// under the lock and handed to sinks after it is released.
func (b *Board) RenderAt(now float64) {
	start := time.Now()

	b.mu.Lock()
	b.updateScenesLocked(now)
	b.preRenderLocked()
	b.compositeLocked()
	b.readMonitorsLocked()
	frames := b.takeFramesLocked(now)
	point := b.recordTickLocked(time.Since(start), len(frames))
	b.mu.Unlock()

	for _, f := range frames {
		if f.sink == nil {
			continue
		}
		f.sink.PreFrame()
		if err := f.sink.OnFrame(f.values); err != nil && b.limiter.Allow("sink:"+f.universe) {
			b.logger.Error("universe output failed", "universe", f.universe, "error", err)
		}
	}
	if len(frames) > 0 && b.observer != nil {
		values := make(map[string][]float32, len(frames))
		for _, f := range frames {
			values[f.universe] = f.values
		}
		b.broadcast(ChannelValues, values)
	}
	if point != nil && b.metrics != nil {
		b.metrics.WritePoint("show_render", map[string]string{}, point)
	}
}

// updateScenesLocked auto-advances expired cues and repaints dirty canvases.
func (b *Board) updateScenesLocked(now float64) {
	for _, s := range slices.Clone(b.active) {
		if !s.active || s.cue == nil {
			continue
		}

		length := s.cue.ResolveLength(s.bpm, s.jitter, s.soundSeconds)
		if length > 0 && now-s.enteredCue > length {
			at := s.enteredCue + length
			if now-at > staleAdvance {
				at = now
			}
			if err := s.nextLocked(GotoOptions{At: at}); err != nil && b.limiter.Allow("advance:"+s.id) {
				b.logger.Warn("auto advance failed", "scene", s.name, "cue", s.cue.Name, "error", err)
			}
			if !s.active {
				continue
			}
		}

		if s.blend.Kind == blend.Monitor {
			s.dirty = false
			continue
		}
		s.dirty = s.rerender || !s.fadeInCompleted
		if s.dirty {
			s.paintLocked(now)
		}
	}
}

func (s *Scene) paintLocked(now float64) {
	fade := float32(1)
	if s.cue.FadeIn > 0 {
		fadeSeconds := s.cue.FadeIn * 60 / s.bpm
		fade = float32(min(max((now-s.enteredCue)/fadeSeconds, 0), 1))
	}
	s.canvas.Paint(fade, s.cachedValues, s.cachedAlphas)
	if fade >= 1 {
		s.fadeInCompleted = true
		keep := make(map[string]bool, len(s.affect))
		for _, name := range s.affect {
			keep[name] = true
		}
		// Universes dropped from the canvas are no longer targets, so they
		// must be rebuilt from zero without this scene's last values.
		for _, name := range s.canvas.Universes() {
			if keep[name] {
				continue
			}
			if u, ok := s.board.patch.Universe(name); ok {
				u.FullRerender = true
			}
		}
		s.canvas.Clean(keep)
	}
	s.rerender = false
}

// preRenderLocked decides, per universe, between a full reset and a reset
// to the cached baseline. Higher layers are scanned first so their full
// reset requests win.
func (b *Board) preRenderLocked() {
	marks := make(map[*universe.Universe]bool) // true: full reset
	for i := len(b.active) - 1; i >= 0; i-- {
		s := b.active[i]
		if !s.dirty || s.blend.Kind == blend.Monitor {
			continue
		}
		layer := s.layer()
		for _, name := range s.targetsLocked() {
			u, ok := b.patch.Universe(name)
			if !ok {
				continue
			}
			if layer.AtMost(u.PrerenderedLayer) {
				marks[u] = true
			} else if _, marked := marks[u]; !marked {
				marks[u] = false
			}
		}
	}
	for _, u := range b.patch.Universes() {
		if u.FullRerender {
			marks[u] = true
		}
	}
	for u, full := range marks {
		if full {
			u.Reset()
		} else {
			u.ResetToCache()
		}
	}
}

// compositeLocked blends every active scene onto the universes it targets,
// skipping layers already contained in the buffer.
func (b *Board) compositeLocked() {
	var top *Scene
	for _, s := range b.active {
		if s.blend.Kind != blend.Monitor {
			top = s
		}
	}

	for _, s := range b.active {
		if s.blend.Kind == blend.Monitor || s.canvas == nil {
			continue
		}
		layer := s.layer()
		for _, name := range s.targetsLocked() {
			u, ok := b.patch.Universe(name)
			if !ok || !u.TopLayer.Less(layer) {
				continue
			}
			values, alphas, ok := s.canvas.Blended(name)
			if !ok || len(values) != u.Len() {
				continue
			}

			if u.SaveBeforeLayer == layer && layer != universe.Bottom {
				u.SavePrerendered(u.TopLayer)
			}
			if err := s.blend.Apply(u.Values, values, alphas, s.alpha, b.scratchLocked(u.Len())); err != nil {
				b.stats.blendErrors++
				s.rerender = true
				if b.limiter.Allow("blend:" + s.id) {
					b.logger.Error("custom blend failed", "scene", s.name, "universe", name, "error", err)
				}
			}
			u.TopLayer = layer
			u.MarkChanged()

			if (s.dirty || s == top) && u.AllStatic {
				u.AllStatic = false
				u.SaveBeforeLayer = u.TopLayer
			}
		}
	}
}

func (b *Board) scratchLocked(n int) []float32 {
	if cap(b.stats.scratch) < n {
		b.stats.scratch = make([]float32, n)
	}
	return b.stats.scratch[:n]
}

// readMonitorsLocked copies the composited output into the current cue of
// every monitor scene.
func (b *Board) readMonitorsLocked() {
	for _, s := range b.active {
		if s.blend.Kind != blend.Monitor || s.cue == nil {
			continue
		}
		for key, channels := range s.cue.Values {
			for ch := range channels {
				u, idx, err := b.patch.Resolve(key, ch)
				if err != nil {
					continue
				}
				channels[ch] = float64(u.Values[idx])
			}
		}
	}
}

func (b *Board) takeFramesLocked(now float64) []frame {
	var frames []frame
	for _, u := range b.patch.Universes() {
		u.FullRerender = false
		if values := u.TakeFrame(now); values != nil {
			frames = append(frames, frame{universe: u.Name(), sink: u.Sink(), values: values})
		}
	}
	return frames
}

// recordTickLocked accumulates timing and returns a metrics point every
// metricsInterval ticks.
func (b *Board) recordTickLocked(d time.Duration, frames int) map[string]interface{} {
	st := &b.stats
	st.ticks++
	st.total += d
	st.worst = max(st.worst, d)
	st.frames += frames

	if st.ticks%uint64(b.metricsInterval) != 0 {
		return nil
	}
	point := map[string]interface{}{
		"tick_avg_ms":   float64(st.total.Microseconds()) / 1000 / float64(b.metricsInterval),
		"tick_max_ms":   float64(st.worst.Microseconds()) / 1000,
		"frames":        st.frames,
		"blend_errors":  st.blendErrors,
		"active_scenes": len(b.active),
	}
	st.total, st.worst, st.frames, st.blendErrors = 0, 0, 0, 0
	return point
}
