package show

import (
	"fmt"
	"sync"
	"testing"

	"github.com/nerrad567/gray-logic-show/internal/rules"
	"github.com/nerrad567/gray-logic-show/internal/universe"
)

// ─── Mock Dependencies ───

type fakeClock struct {
	t float64
}

func (c *fakeClock) now() float64      { return c.t }
func (c *fakeClock) advance(d float64) { c.t += d }

type captureSink struct {
	frames [][]float32
}

func (s *captureSink) PreFrame() {}

func (s *captureSink) OnFrame(values []float32) error {
	s.frames = append(s.frames, values)
	return nil
}

func (s *captureSink) last() []float32 {
	if len(s.frames) == 0 {
		return nil
	}
	return s.frames[len(s.frames)-1]
}

type recordingObserver struct {
	mu     sync.Mutex
	events []Event
}

func (o *recordingObserver) Broadcast(_ string, payload any) {
	ev, ok := payload.(Event)
	if !ok {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, ev)
}

func (o *recordingObserver) types() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, len(o.events))
	for i, ev := range o.events {
		out[i] = ev.Type
	}
	return out
}

type mockSync struct {
	mu   sync.Mutex
	cues []string
}

func (m *mockSync) PublishCue(scene, cue string, _ float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cues = append(m.cues, scene+"/"+cue)
}

type mockRules struct {
	mu     sync.Mutex
	bound  map[string][]rules.Rule
	events []string
	vars   map[string]any
}

func newMockRules() *mockRules {
	return &mockRules{bound: make(map[string][]rules.Rule), vars: make(map[string]any)}
}

func (m *mockRules) BindRules(scope string, rs []rules.Rule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bound[scope] = rs
}

func (m *mockRules) FireEvent(_ string, name string, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, fmt.Sprintf("%s:%v", name, value))
}

func (m *mockRules) Evaluate(text string, _ map[string]any) (any, error) {
	return "eval(" + text + ")", nil
}

func (m *mockRules) SetVariable(name string, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vars[name] = value
}

type mockSound struct {
	mu        sync.Mutex
	playing   map[string]bool
	played    []string
	preloaded []string
	failFile  string
	duration  float64
}

func newMockSound() *mockSound {
	return &mockSound{playing: make(map[string]bool)}
}

func (m *mockSound) Play(file, handle string, _ float64, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if file == m.failFile {
		return fmt.Errorf("open %s: no such file", file)
	}
	m.playing[handle] = true
	m.played = append(m.played, file)
	return nil
}

func (m *mockSound) Stop(handle string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.playing, handle)
}

func (m *mockSound) IsPlaying(handle string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.playing[handle]
}

func (m *mockSound) Preload(file, _ string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.preloaded = append(m.preloaded, file)
}

func (m *mockSound) ResolveDuration(string) (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.duration, m.duration > 0
}

type mockMetrics struct {
	points []map[string]interface{}
}

func (m *mockMetrics) WritePoint(_ string, _ map[string]string, fields map[string]interface{}) {
	m.points = append(m.points, fields)
}

// ─── Fixtures ───

// testRig is a board over universe "U" (16 channels) with fixture "F"
// (3 channels) patched at address 5.
type testRig struct {
	board    *Board
	clock    *fakeClock
	sink     *captureSink
	universe *universe.Universe
	rules    *mockRules
	observer *recordingObserver
	sync     *mockSync
}

func newTestRig(t *testing.T, mutate ...func(*Deps)) *testRig {
	t.Helper()
	sink := &captureSink{}
	u, err := universe.New("U", 16, sink)
	if err != nil {
		t.Fatalf("universe.New() error = %v", err)
	}
	f, err := universe.NewFixture("F", []universe.Channel{{}, {}, {}})
	if err != nil {
		t.Fatalf("NewFixture() error = %v", err)
	}
	patch, err := universe.NewPatch([]*universe.Universe{u},
		[]universe.Placement{{Fixture: f, Universe: "U", Start: 5}}, nil)
	if err != nil {
		t.Fatalf("NewPatch() error = %v", err)
	}

	rig := &testRig{
		clock:    &fakeClock{t: 1},
		sink:     sink,
		universe: u,
		rules:    newMockRules(),
		observer: &recordingObserver{},
		sync:     &mockSync{},
	}
	deps := Deps{
		Patch:    patch,
		Rules:    rig.rules,
		Observer: rig.observer,
		Sync:     rig.sync,
		Clock:    rig.clock.now,
	}
	for _, m := range mutate {
		m(&deps)
	}
	rig.board = NewBoard(deps)
	return rig
}

// importScene installs a scene or fails the test. Zero BPM and alpha take
// the decoding defaults and backtracking is always on.
func (r *testRig) importScene(t *testing.T, d SceneData) *Scene {
	t.Helper()
	d.Backtrack = true
	if d.BPM == 0 {
		d.BPM = 60
	}
	if d.Alpha == 0 {
		d.Alpha = 1
	}
	s, err := r.board.Import(d)
	if err != nil {
		t.Fatalf("Import(%q) error = %v", d.Name, err)
	}
	return s
}

// cue builds CueData with the decoding defaults (tracked, full volume).
func cue(name string, number float64, values map[string]map[string]float64) CueData {
	return CueData{Name: name, Number: number, Values: values, Track: true, SoundVolume: 1}
}

func vals(key string, kv ...any) map[string]map[string]float64 {
	m := map[string]float64{}
	for i := 0; i+1 < len(kv); i += 2 {
		m[kv[i].(string)] = toFloat(kv[i+1])
	}
	return map[string]map[string]float64{key: m}
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case float64:
		return n
	}
	panic(fmt.Sprintf("unsupported value %T", v))
}

func ptr(v float64) *float64 { return &v }

func mustGo(t *testing.T, s *Scene) {
	t.Helper()
	if err := s.Go(); err != nil {
		t.Fatalf("Go() error = %v", err)
	}
}

func mustGoto(t *testing.T, s *Scene, ref string) {
	t.Helper()
	if err := s.Goto(ref, GotoOptions{}); err != nil {
		t.Fatalf("Goto(%q) error = %v", ref, err)
	}
}
