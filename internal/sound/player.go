package sound

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/effects"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/speaker"
	"github.com/faiface/beep/wav"

	"github.com/nerrad567/gray-logic-show/internal/infrastructure/config"
)

// DefaultOutput is the output used when a cue names none.
const DefaultOutput = "default"

// resampleQuality is the beep resampler quality (1-64).
const resampleQuality = 4

// Output is an audio device that mixes streamers.
type Output interface {
	Play(s ...beep.Streamer)
	Lock()
	Unlock()
}

// Logger defines the logging interface used by the player.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

type speakerOutput struct{}

func (speakerOutput) Play(s ...beep.Streamer) { speaker.Play(s...) }
func (speakerOutput) Lock()                   { speaker.Lock() }
func (speakerOutput) Unlock()                 { speaker.Unlock() }

// voice is one playing sound.
type voice struct {
	ctrl    *beep.Ctrl
	out     Output
	stopped bool
}

// Player plays sounds by handle.
type Player struct {
	dir    string
	format beep.Format

	mu      sync.Mutex
	outputs map[string]Output
	cache   map[string]*beep.Buffer
	playing map[string]*voice
	onEnd   func(handle string)
	logger  Logger
}

// NewSpeakerPlayer initialises the system speaker and returns a player on it.
func NewSpeakerPlayer(cfg config.SoundConfig) (*Player, error) {
	p := NewPlayer(cfg)
	if err := speaker.Init(p.format.SampleRate, p.format.SampleRate.N(time.Second/10)); err != nil {
		return nil, fmt.Errorf("initialising speaker: %w", err)
	}
	p.AddOutput(DefaultOutput, speakerOutput{})
	return p, nil
}

// NewPlayer returns a player with no outputs. Sounds are decoded relative to
// cfg.Directory and resampled to cfg.SampleRate.
func NewPlayer(cfg config.SoundConfig) *Player {
	rate := cfg.SampleRate
	if rate <= 0 {
		rate = 44100
	}
	return &Player{
		dir:     cfg.Directory,
		format:  beep.Format{SampleRate: beep.SampleRate(rate), NumChannels: 2, Precision: 2},
		outputs: make(map[string]Output),
		cache:   make(map[string]*beep.Buffer),
		playing: make(map[string]*voice),
		logger:  noopLogger{},
	}
}

// AddOutput registers an output device under name.
func (p *Player) AddOutput(name string, out Output) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.outputs[name] = out
}

// SetOnEnd sets the callback run when a sound finishes on its own.
// Stopped or replaced sounds do not call it.
func (p *Player) SetOnEnd(fn func(handle string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onEnd = fn
}

// SetLogger sets the logger.
func (p *Player) SetLogger(l Logger) {
	if l == nil {
		l = noopLogger{}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.logger = l
}

// Play starts file on handle at a linear volume (1 is unity), replacing any
// sound already playing on that handle.
func (p *Player) Play(file, handle string, volume float64, output string) error {
	out, err := p.output(output)
	if err != nil {
		return err
	}
	buf, err := p.load(file)
	if err != nil {
		return err
	}

	v := &voice{ctrl: &beep.Ctrl{Streamer: buf.Streamer(0, buf.Len())}, out: out}
	vol := &effects.Volume{Streamer: v.ctrl, Base: 2}
	if volume <= 0 {
		vol.Silent = true
	} else {
		vol.Volume = math.Log2(volume)
	}

	p.Stop(handle)
	p.mu.Lock()
	p.playing[handle] = v
	p.mu.Unlock()

	out.Play(beep.Seq(vol, beep.Callback(func() { p.finished(handle, v) })))
	return nil
}

// Stop silences the sound on handle.
func (p *Player) Stop(handle string) {
	p.mu.Lock()
	v, ok := p.playing[handle]
	if ok {
		v.stopped = true
		delete(p.playing, handle)
	}
	p.mu.Unlock()
	if !ok {
		return
	}

	v.out.Lock()
	v.ctrl.Streamer = nil
	v.out.Unlock()
}

// IsPlaying reports whether a sound is playing on handle.
func (p *Player) IsPlaying(handle string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.playing[handle]
	return ok
}

// Preload decodes file into the cache. Failures are logged; Play reports
// them again when the cue is entered.
func (p *Player) Preload(file, output string) {
	if _, err := p.output(output); err != nil {
		p.log().Warn("preload skipped", "file", file, "output", output, "error", err)
		return
	}
	if _, err := p.load(file); err != nil {
		p.log().Warn("preload failed", "file", file, "error", err)
	}
}

// ResolveDuration returns the length of file in seconds.
func (p *Player) ResolveDuration(file string) (float64, bool) {
	buf, err := p.load(file)
	if err != nil {
		return 0, false
	}
	return p.format.SampleRate.D(buf.Len()).Seconds(), true
}

// Purge drops every cached buffer.
func (p *Player) Purge() {
	p.mu.Lock()
	defer p.mu.Unlock()
	clear(p.cache)
}

func (p *Player) finished(handle string, v *voice) {
	p.mu.Lock()
	if p.playing[handle] == v {
		delete(p.playing, handle)
	}
	stopped, onEnd := v.stopped, p.onEnd
	p.mu.Unlock()

	// Runs on the audio goroutine with the output locked.
	if !stopped && onEnd != nil {
		go onEnd(handle)
	}
}

func (p *Player) output(name string) (Output, error) {
	if name == "" {
		name = DefaultOutput
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	out, ok := p.outputs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownOutput, name)
	}
	return out, nil
}

func (p *Player) log() Logger {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.logger
}

// load returns the decoded buffer for file, decoding it on first use.
func (p *Player) load(file string) (*beep.Buffer, error) {
	path := p.path(file)

	p.mu.Lock()
	buf, ok := p.cache[path]
	p.mu.Unlock()
	if ok {
		return buf, nil
	}

	stream, format, err := decodeAudio(path)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	var s beep.Streamer = stream
	if format.SampleRate != p.format.SampleRate {
		s = beep.Resample(resampleQuality, format.SampleRate, p.format.SampleRate, stream)
	}
	buf = beep.NewBuffer(p.format)
	buf.Append(s)
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDecode, file, err)
	}

	p.mu.Lock()
	p.cache[path] = buf
	p.mu.Unlock()
	p.log().Debug("sound decoded", "file", file, "seconds", p.format.SampleRate.D(buf.Len()).Seconds())
	return buf, nil
}

func (p *Player) path(file string) string {
	if filepath.IsAbs(file) || p.dir == "" {
		return filepath.Clean(file)
	}
	return filepath.Join(p.dir, file)
}

// decodeAudio opens and decodes an mp3 or wav file.
func decodeAudio(path string) (beep.StreamSeekCloser, beep.Format, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".mp3" && ext != ".wav" {
		return nil, beep.Format{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}

	file, err := os.Open(path) //nolint:gosec // path comes from show configuration
	if err != nil {
		return nil, beep.Format{}, fmt.Errorf("%w: %w", ErrDecode, err)
	}

	var (
		stream beep.StreamSeekCloser
		format beep.Format
	)
	if ext == ".mp3" {
		stream, format, err = mp3.Decode(file)
	} else {
		stream, format, err = wav.Decode(file)
	}
	if err != nil {
		file.Close()
		return nil, beep.Format{}, fmt.Errorf("%w: %s: %w", ErrDecode, path, err)
	}
	return stream, format, nil
}
