package show

import (
	"fmt"
	"maps"
	"math"
	"math/rand/v2"
	"regexp"
	"strconv"
	"strings"

	"github.com/nerrad567/gray-logic-show/internal/rules"
)

// Reserved cue names and selectors.
const (
	DefaultCueName = "default"
	stopSelector   = "__stop__"
	randomSelector = "__random__"
)

// Cue numbers are fixed point with three decimals: 1.5 is stored as 1500.
const numberScale = 1000

var cueNameRegex = regexp.MustCompile(`^[\p{L}\p{N}_][\p{L}\p{N}_\-. ]{0,63}$`)

// ValidateCueName rejects names that would collide with selectors:
// anything containing "|" or "*", or starting with "__".
func ValidateCueName(name string) error {
	if strings.HasPrefix(name, "__") || !cueNameRegex.MatchString(name) {
		return fmt.Errorf("%w: cue name %q", ErrInvalidName, name)
	}
	return nil
}

// FormatNumber renders a fixed-point cue number ("1.5", "10").
func FormatNumber(n int64) string {
	return strconv.FormatFloat(float64(n)/numberScale, 'f', -1, 64)
}

// ParseNumber parses a decimal cue number into fixed point.
func ParseNumber(s string) (int64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: cue number %q", ErrInvalidName, s)
	}
	return int64(math.Round(f * numberScale)), nil
}

// Cue is a named bag of channel values with timing and branching metadata.
//
// Cues are owned by a scene. Every field is read and written under the show
// state lock; code outside the package works on CueData copies.
type Cue struct {
	ID     string
	Name   string
	Number int64

	// Values maps a universe name or "@fixture" to channel references and values.
	Values map[string]map[string]float64

	// Variables are assigned to scripting state on entry; values are expressions.
	Variables map[string]string

	FadeIn          float64 // beats
	Length          float64 // beats; zero never auto-advances
	LengthRandomize float64 // beats
	RelLength       bool

	NextCue string
	Inherit string

	Track     bool
	Reentrant bool

	Shortcut    string
	Sound       string
	SoundVolume float64
	SoundOutput string

	Rules []rules.Rule

	scene *Scene
	next  *Cue
	index int
}

func newCue(id, name string, number int64) *Cue {
	return &Cue{
		ID:          id,
		Name:        name,
		Number:      number,
		Values:      make(map[string]map[string]float64),
		Track:       true,
		SoundVolume: 1,
	}
}

// NextSorted returns the default-next cue, or nil for the last cue.
func (c *Cue) NextSorted() *Cue { return c.next }

// setValueLocked sets or clears (value == nil) one raw value.
//
// The owning scene is marked for rerender. When c is the active cue the
// scene caches are patched in place: alpha 1 for a value, 0 for a clear.
// Keys that do not resolve stay in Values and are skipped for caching.
func (c *Cue) setValueLocked(key, channel string, value *float64) {
	if value == nil {
		if ch, ok := c.Values[key]; ok {
			delete(ch, channel)
			if len(ch) == 0 {
				delete(c.Values, key)
			}
		}
	} else {
		if c.Values[key] == nil {
			c.Values[key] = make(map[string]float64)
		}
		c.Values[key][channel] = *value
	}

	s := c.scene
	if s == nil {
		return
	}
	s.rerender = true
	if s.cue != c || !s.active {
		return
	}

	var v, a float32
	if value != nil {
		v, a = float32(*value), 1
	}
	s.cacheValueLocked(key, channel, v, a)
}

// lengthJitter samples the per-entry random length offset from a triangular
// distribution on [-r, r].
func lengthJitter(rng *rand.Rand, r float64) float64 {
	if r <= 0 {
		return 0
	}
	// The sum of two uniforms on [0, r] minus r is triangular on [-r, r].
	return rng.Float64()*r + rng.Float64()*r - r
}

// ResolveLength returns the cue duration in seconds for this entry.
// Fixed lengths scale by 60/bpm; relative lengths add the sound duration
// (soundSeconds, negative when unknown). Zero means no auto-advance.
func (c *Cue) ResolveLength(bpm, jitter, soundSeconds float64) float64 {
	if bpm <= 0 {
		bpm = defaultBPM
	}
	beat := 60 / bpm
	if c.RelLength {
		if soundSeconds < 0 {
			return 0
		}
		return max(soundSeconds+(c.Length+jitter)*beat, 0)
	}
	if c.Length <= 0 {
		return 0
	}
	return max((c.Length+jitter)*beat, 0)
}

func cloneValues(in map[string]map[string]float64) map[string]map[string]float64 {
	out := make(map[string]map[string]float64, len(in))
	for k, ch := range in {
		out[k] = maps.Clone(ch)
	}
	return out
}
