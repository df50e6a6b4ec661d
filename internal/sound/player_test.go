package sound

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/wav"

	"github.com/nerrad567/gray-logic-show/internal/infrastructure/config"
)

// ─── Mock Dependencies ───

// fakeOutput mixes nothing; drain pulls every queued streamer to its end.
type fakeOutput struct {
	mu        sync.Mutex
	streamers []beep.Streamer
}

func (o *fakeOutput) Play(s ...beep.Streamer) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.streamers = append(o.streamers, s...)
}

func (o *fakeOutput) Lock()   { o.mu.Lock() }
func (o *fakeOutput) Unlock() { o.mu.Unlock() }

func (o *fakeOutput) drain() {
	o.mu.Lock()
	defer o.mu.Unlock()
	samples := make([][2]float64, 512)
	for _, s := range o.streamers {
		for {
			if _, ok := s.Stream(samples); !ok {
				break
			}
		}
	}
	o.streamers = nil
}

type mockLogger struct {
	mu    sync.Mutex
	warns []string
}

func (l *mockLogger) Debug(string, ...any) {}
func (l *mockLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}

// writeSilence writes a WAV file of n silent samples at rate.
func writeSilence(t *testing.T, dir, name string, rate, n int) {
	t.Helper()
	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()
	format := beep.Format{SampleRate: beep.SampleRate(rate), NumChannels: 2, Precision: 2}
	if err := wav.Encode(f, beep.Silence(n), format); err != nil {
		t.Fatalf("wav.Encode: %v", err)
	}
}

func newTestPlayer(t *testing.T) (*Player, *fakeOutput, string) {
	t.Helper()
	dir := t.TempDir()
	p := NewPlayer(config.SoundConfig{Directory: dir, SampleRate: 44100})
	out := &fakeOutput{}
	p.AddOutput(DefaultOutput, out)
	return p, out, dir
}

// =============================================================================
// Playback Tests
// =============================================================================

func TestPlay_EndCallback(t *testing.T) {
	p, out, dir := newTestPlayer(t)
	writeSilence(t, dir, "hit.wav", 44100, 4410)

	ended := make(chan string, 1)
	p.SetOnEnd(func(handle string) { ended <- handle })

	if err := p.Play("hit.wav", "scene-1", 1, ""); err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	if !p.IsPlaying("scene-1") {
		t.Fatal("IsPlaying() = false after Play()")
	}

	out.drain()
	select {
	case h := <-ended:
		if h != "scene-1" {
			t.Errorf("ended handle = %q, want scene-1", h)
		}
	case <-time.After(time.Second):
		t.Fatal("end callback not called")
	}
	if p.IsPlaying("scene-1") {
		t.Error("IsPlaying() = true after sound ended")
	}
}

func TestStop_SuppressesEndCallback(t *testing.T) {
	p, out, dir := newTestPlayer(t)
	writeSilence(t, dir, "bed.wav", 44100, 44100)

	ended := make(chan string, 1)
	p.SetOnEnd(func(handle string) { ended <- handle })

	if err := p.Play("bed.wav", "scene-1", 0.5, DefaultOutput); err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	p.Stop("scene-1")
	if p.IsPlaying("scene-1") {
		t.Error("IsPlaying() = true after Stop()")
	}

	out.drain()
	select {
	case h := <-ended:
		t.Errorf("end callback called for stopped sound %q", h)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPlay_ReplacesHandle(t *testing.T) {
	p, out, dir := newTestPlayer(t)
	writeSilence(t, dir, "a.wav", 44100, 4410)
	writeSilence(t, dir, "b.wav", 44100, 4410)

	ended := make(chan string, 2)
	p.SetOnEnd(func(handle string) { ended <- handle })

	_ = p.Play("a.wav", "h", 1, "")
	_ = p.Play("b.wav", "h", 1, "")
	out.drain()

	select {
	case <-ended:
	case <-time.After(time.Second):
		t.Fatal("end callback not called for replacement")
	}
	select {
	case <-ended:
		t.Error("replaced sound also reported an end")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPlay_Errors(t *testing.T) {
	p, _, dir := newTestPlayer(t)
	writeSilence(t, dir, "ok.wav", 44100, 100)
	if err := os.WriteFile(filepath.Join(dir, "junk.wav"), []byte("not audio"), 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		file   string
		output string
		want   error
	}{
		{"missing file", "nope.wav", "", ErrDecode},
		{"corrupt file", "junk.wav", "", ErrDecode},
		{"unsupported", "song.flac", "", ErrUnsupportedFormat},
		{"unknown output", "ok.wav", "booth", ErrUnknownOutput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := p.Play(tt.file, "h", 1, tt.output); !errors.Is(err, tt.want) {
				t.Errorf("Play() error = %v, want %v", err, tt.want)
			}
			if p.IsPlaying("h") {
				t.Error("IsPlaying() = true after failed Play()")
			}
		})
	}
}

// =============================================================================
// Cache and Duration Tests
// =============================================================================

func TestResolveDuration(t *testing.T) {
	p, _, dir := newTestPlayer(t)
	writeSilence(t, dir, "half.wav", 44100, 22050)

	d, ok := p.ResolveDuration("half.wav")
	if !ok || math.Abs(d-0.5) > 1e-6 {
		t.Errorf("ResolveDuration() = %v, %v, want 0.5, true", d, ok)
	}
	if _, ok := p.ResolveDuration("missing.wav"); ok {
		t.Error("ResolveDuration(missing) ok = true")
	}
}

func TestResolveDuration_Resampled(t *testing.T) {
	p, _, dir := newTestPlayer(t)
	writeSilence(t, dir, "low.wav", 22050, 22050)

	d, ok := p.ResolveDuration("low.wav")
	if !ok || math.Abs(d-1) > 0.01 {
		t.Errorf("ResolveDuration() = %v, %v, want about 1s", d, ok)
	}
}

func TestPreload_CachesBuffer(t *testing.T) {
	p, _, dir := newTestPlayer(t)
	writeSilence(t, dir, "next.wav", 44100, 4410)

	p.Preload("next.wav", "")
	if err := os.Remove(filepath.Join(dir, "next.wav")); err != nil {
		t.Fatal(err)
	}
	if err := p.Play("next.wav", "h", 1, ""); err != nil {
		t.Errorf("Play() of preloaded file error = %v", err)
	}

	p.Purge()
	if _, ok := p.ResolveDuration("next.wav"); ok {
		t.Error("ResolveDuration() ok after Purge() and file removal")
	}
}

func TestPreload_FailureIsLogged(t *testing.T) {
	p, _, _ := newTestPlayer(t)
	logger := &mockLogger{}
	p.SetLogger(logger)

	p.Preload("missing.wav", "")
	p.Preload("missing.wav", "booth")
	if len(logger.warns) != 2 {
		t.Errorf("warns = %v, want 2", logger.warns)
	}
}

func TestPath(t *testing.T) {
	p := NewPlayer(config.SoundConfig{Directory: "/srv/sounds"})
	if got := p.path("a/b.wav"); got != "/srv/sounds/a/b.wav" {
		t.Errorf("path(relative) = %q", got)
	}
	if got := p.path("/tmp/x.wav"); got != "/tmp/x.wav" {
		t.Errorf("path(absolute) = %q", got)
	}
	if p.format.SampleRate != 44100 {
		t.Errorf("default sample rate = %d, want 44100", p.format.SampleRate)
	}
}
