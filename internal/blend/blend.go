package blend

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	// ErrUnknownBlend is returned when a blend name is neither built in nor registered.
	ErrUnknownBlend = errors.New("blend: unknown blend mode")

	// ErrCustomFailed wraps an error or panic raised by a custom blend.
	// The layer is skipped for the tick; nothing in bg is modified.
	ErrCustomFailed = errors.New("blend: custom blend failed")
)

// Kind selects a compositing function.
type Kind int

// Blend kinds.
const (
	Normal Kind = iota
	HTP
	Inhibit
	Gel
	Monitor
	Custom
)

var kindNames = map[Kind]string{
	Normal:  "normal",
	HTP:     "HTP",
	Inhibit: "inhibit",
	Gel:     "gel",
	Monitor: "monitor",
	Custom:  "custom",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Func is a pluggable compositing function. It composites values/alphas onto
// bg in place. Returning an error leaves the layer out of this tick.
type Func interface {
	Blend(bg, values, alphas []float32, sceneAlpha float32) error
}

// FuncOf adapts an ordinary function to Func.
type FuncOf func(bg, values, alphas []float32, sceneAlpha float32) error

// Blend calls f.
func (f FuncOf) Blend(bg, values, alphas []float32, sceneAlpha float32) error {
	return f(bg, values, alphas, sceneAlpha)
}

// Factory builds a custom blend from the scene's blend arguments.
type Factory func(args map[string]float64) (Func, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register adds a named custom blend. Registering a built-in name panics.
func Register(name string, factory Factory) {
	if _, builtin := builtinKind(name); builtin {
		panic("blend: cannot register built-in name " + name)
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// Names returns the built-in and registered blend names.
func Names() []string {
	names := []string{"normal", "HTP", "inhibit", "gel", "multiply", "monitor"}
	registryMu.RLock()
	custom := make([]string, 0, len(registry))
	for n := range registry {
		custom = append(custom, n)
	}
	registryMu.RUnlock()
	sort.Strings(custom)
	return append(names, custom...)
}

func builtinKind(name string) (Kind, bool) {
	switch strings.ToLower(name) {
	case "", "normal":
		return Normal, true
	case "htp":
		return HTP, true
	case "inhibit":
		return Inhibit, true
	case "gel", "multiply":
		return Gel, true
	case "monitor":
		return Monitor, true
	}
	return 0, false
}

// Mode is a resolved blend: a built-in kind, or Custom with its function.
type Mode struct {
	Kind   Kind
	Name   string
	Custom Func
}

// Parse resolves a blend name. Built-in names are case-insensitive; custom
// names are looked up in the registry and built with args.
func Parse(name string, args map[string]float64) (Mode, error) {
	if k, ok := builtinKind(name); ok {
		if name == "" {
			name = "normal"
		}
		return Mode{Kind: k, Name: name}, nil
	}

	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return Mode{}, fmt.Errorf("%w: %q", ErrUnknownBlend, name)
	}
	fn, err := factory(args)
	if err != nil {
		return Mode{}, fmt.Errorf("building blend %q: %w", name, err)
	}
	return Mode{Kind: Custom, Name: name, Custom: fn}, nil
}

// String returns the name the mode was parsed from.
func (m Mode) String() string {
	if m.Name != "" {
		return m.Name
	}
	return m.Kind.String()
}

// Apply composites values/alphas onto bg at sceneAlpha. scratch must be at
// least len(bg) long; it is used to isolate custom blends so a failing one
// leaves bg untouched. Monitor layers are not composited.
func (m Mode) Apply(bg, values, alphas []float32, sceneAlpha float32, scratch []float32) (err error) {
	n := min(len(bg), len(values), len(alphas))
	switch m.Kind {
	case Normal:
		for i := 0; i < n; i++ {
			a := alphas[i] * sceneAlpha
			bg[i] = bg[i]*(1-a) + values[i]*a
		}
	case HTP:
		for i := 0; i < n; i++ {
			bg[i] = max(bg[i], values[i]*alphas[i]*sceneAlpha)
		}
	case Inhibit:
		for i := 0; i < n; i++ {
			bg[i] = min(bg[i], values[i]*alphas[i]*sceneAlpha)
		}
	case Gel:
		if sceneAlpha == 0 {
			return nil
		}
		for i := 0; i < n; i++ {
			bg[i] = bg[i]*(1-alphas[i]*sceneAlpha) + (bg[i]*values[i])/(255/sceneAlpha)
		}
	case Monitor:
		return nil
	case Custom:
		return m.applyCustom(bg, values, alphas, sceneAlpha, scratch)
	}
	return nil
}

func (m Mode) applyCustom(bg, values, alphas []float32, sceneAlpha float32, scratch []float32) (err error) {
	if m.Custom == nil {
		return fmt.Errorf("%w: %s has no function", ErrCustomFailed, m.Name)
	}
	work := scratch[:len(bg)]
	copy(work, bg)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s: panic: %v", ErrCustomFailed, m.Name, r)
		}
	}()
	if err := m.Custom.Blend(work, values, alphas, sceneAlpha); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrCustomFailed, m.Name, err)
	}
	copy(bg, work)
	return nil
}
