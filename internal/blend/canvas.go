package blend

import "sort"

// Canvas is a scene's fade state. It blends the previous cue's output
// toward the new cue's values over the fade-in window.
//
// Canvas is not safe for concurrent use; the owning scene guards it with
// the show state lock.
type Canvas struct {
	layers map[string]*canvasLayer
}

type canvasLayer struct {
	oldV, oldA []float32
	v, a       []float32
}

func newCanvasLayer(n int) *canvasLayer {
	buf := make([]float32, 4*n)
	return &canvasLayer{
		oldV: buf[0:n:n],
		oldA: buf[n : 2*n : 2*n],
		v:    buf[2*n : 3*n : 3*n],
		a:    buf[3*n : 4*n : 4*n],
	}
}

// NewCanvas returns an empty canvas.
func NewCanvas() *Canvas {
	return &Canvas{layers: make(map[string]*canvasLayer)}
}

// Paint computes the blended state at fade position fade in [0,1].
//
// Channels whose old alpha is 0 take the new value directly: alpha 0 means
// the channel was not driven, so there is nothing to fade from. Alphas
// always interpolate, so universes missing from values fade out.
func (c *Canvas) Paint(fade float32, values, alphas map[string][]float32) {
	fade = min(max(fade, 0), 1)
	inv := 1 - fade

	for name, nv := range values {
		na := alphas[name]
		l := c.layers[name]
		if l == nil || len(l.v) != len(nv) {
			l = newCanvasLayer(len(nv))
			c.layers[name] = l
		}
		for i := range nv {
			var newA float32
			if i < len(na) {
				newA = na[i]
			}
			if l.oldA[i] == 0 {
				l.v[i] = nv[i]
			} else {
				l.v[i] = l.oldV[i]*inv + nv[i]*fade
			}
			l.a[i] = l.oldA[i]*inv + newA*fade
		}
	}

	for name, l := range c.layers {
		if _, ok := values[name]; ok {
			continue
		}
		copy(l.v, l.oldV)
		for i := range l.a {
			l.a[i] = l.oldA[i] * inv
		}
	}
}

// Save makes the current blended state the baseline for the next transition.
func (c *Canvas) Save() {
	for _, l := range c.layers {
		copy(l.oldV, l.v)
		copy(l.oldA, l.a)
	}
}

// Clean drops buffers for universes not in keep.
func (c *Canvas) Clean(keep map[string]bool) {
	for name := range c.layers {
		if !keep[name] {
			delete(c.layers, name)
		}
	}
}

// Blended returns the blended values and alphas for a universe. The slices
// alias canvas storage and are valid until the next Paint.
func (c *Canvas) Blended(name string) (values, alphas []float32, ok bool) {
	l, ok := c.layers[name]
	if !ok {
		return nil, nil, false
	}
	return l.v, l.a, true
}

// Universes returns the universes the canvas holds buffers for, sorted.
func (c *Canvas) Universes() []string {
	out := make([]string, 0, len(c.layers))
	for name := range c.layers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
