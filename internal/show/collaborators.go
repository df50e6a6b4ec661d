package show

import (
	"github.com/nerrad567/gray-logic-show/internal/rules"
)

// Logger defines the logging interface used by the show package.
// This allows for easy mocking in tests and decouples from specific logging implementations.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// RuleEngine evaluates expressions and runs cue rules. FireEvent must not
// block: it is called with the state lock held, and actions come back into
// the board through exported methods on another goroutine.
type RuleEngine interface {
	BindRules(scope string, rs []rules.Rule)
	FireEvent(scope, name string, value any)
	Evaluate(text string, vars map[string]any) (any, error)
	SetVariable(name string, value any)
}

// SoundPlayer plays cue sounds. It is only called from the board's sound
// worker, never from the render tick.
type SoundPlayer interface {
	Play(file, handle string, volume float64, output string) error
	Stop(handle string)
	IsPlaying(handle string) bool
	Preload(file, output string)
	ResolveDuration(file string) (float64, bool)
}

// Observer receives metadata pushes for UIs. Broadcast must return quickly;
// the board calls it holding the push lock.
type Observer interface {
	Broadcast(channel string, payload any)
}

// CueSync publishes cue entries to other nodes. Implementations must not
// wait on the network.
type CueSync interface {
	PublishCue(scene, cue string, at float64)
}

// MetricsWriter receives compositor statistics.
type MetricsWriter interface {
	WritePoint(measurement string, tags map[string]string, fields map[string]interface{})
}

// Event is the payload pushed to observers.
type Event struct {
	Type  string         `json:"type"`
	Scene string         `json:"scene"`
	Cue   string         `json:"cue,omitempty"`
	Data  map[string]any `json:"data,omitempty"`
}

// Observer channels.
const (
	ChannelScenes = "scenes"
	ChannelValues = "values"
)

type nopRules struct{}

func (nopRules) BindRules(string, []rules.Rule) {}
func (nopRules) FireEvent(string, string, any)  {}
func (nopRules) SetVariable(string, any)        {}

func (nopRules) Evaluate(text string, _ map[string]any) (any, error) {
	return text, nil
}
