package trigger

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"

	"github.com/nerrad567/gray-logic-show/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-show/internal/infrastructure/logging"
)

// MIDI maps MIDI input to shortcuts and scene faders.
type MIDI struct {
	target  Target
	channel int
	faders  map[uint8]string

	mu      sync.Mutex
	stop    func()
	logger  Logger
	limiter *logging.RateLimiter
}

// NewMIDI returns a MIDI input for target. Nothing is opened until Start.
func NewMIDI(cfg config.MIDIConfig, target Target) *MIDI {
	faders := make(map[uint8]string, len(cfg.Faders))
	for cc, scene := range cfg.Faders {
		if cc >= 0 && cc < 128 {
			faders[uint8(cc)] = scene //nolint:gosec // range checked
		}
	}
	return &MIDI{
		target:  target,
		channel: cfg.Channel,
		faders:  faders,
		logger:  noopLogger{},
		limiter: logging.NewRateLimiter(defaultLogInterval),
	}
}

// SetLogger sets the logger.
func (m *MIDI) SetLogger(l Logger) {
	if l == nil {
		l = noopLogger{}
	}
	m.logger = l
}

// Start opens the first input port whose name contains port (case
// insensitive; empty takes the first port) and listens on it.
func (m *MIDI) Start(port string) error {
	in, err := FindInPort(port)
	if err != nil {
		return err
	}
	stop, err := midi.ListenTo(in, m.Handle)
	if err != nil {
		return fmt.Errorf("listening on MIDI port %s: %w", in, err)
	}

	m.mu.Lock()
	m.stop = stop
	m.mu.Unlock()
	m.logger.Info("MIDI input started", "port", in.String())
	return nil
}

// Stop stops listening.
func (m *MIDI) Stop() {
	m.mu.Lock()
	stop := m.stop
	m.stop = nil
	m.mu.Unlock()
	if stop != nil {
		stop()
	}
}

// Handle processes one MIDI message. It is the midi.ListenTo callback.
func (m *MIDI) Handle(msg midi.Message, _ int32) {
	var channel, key, value uint8
	switch {
	case msg.GetNoteOn(&channel, &key, &value):
		if value == 0 || !m.accepts(channel) {
			return
		}
		code := strconv.Itoa(int(key))
		n := m.target.ShortcutCode(code)
		m.logger.Debug("MIDI shortcut", "code", code, "scenes", n)

	case msg.GetControlChange(&channel, &key, &value):
		if !m.accepts(channel) {
			return
		}
		scene, ok := m.faders[key]
		if !ok {
			return
		}
		alpha := strconv.FormatFloat(float64(value)/127, 'f', -1, 64)
		if err := sceneCommand(context.Background(), m.target, scene, "alpha", alpha); err != nil {
			if m.limiter.Allow("cc:" + scene) {
				m.logger.Warn("MIDI fader failed", "controller", key, "scene", scene, "error", err)
			}
		}
	}
}

func (m *MIDI) accepts(channel uint8) bool {
	return m.channel < 0 || int(channel) == m.channel
}

// FindInPort returns the first MIDI input whose name contains substr.
func FindInPort(substr string) (drivers.In, error) {
	lower := strings.ToLower(substr)
	for _, port := range midi.GetInPorts() {
		if strings.Contains(strings.ToLower(port.String()), lower) {
			return port, nil
		}
	}
	return nil, fmt.Errorf("no MIDI input port matching %q", substr)
}
