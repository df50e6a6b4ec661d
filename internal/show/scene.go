package show

import (
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
	"sort"

	"github.com/nerrad567/gray-logic-show/internal/blend"
	"github.com/nerrad567/gray-logic-show/internal/universe"
)

const (
	defaultBPM      = 60
	defaultPriority = 50
	historyLimit    = 100
)

// Scene is a prioritized sequencer over an ordered cue list.
//
// All fields are guarded by the board state lock. Exported methods take the
// lock; methods ending in Locked expect it held.
type Scene struct {
	board *Board

	id   string
	name string

	cues        map[string]*Cue
	cuesOrdered []*Cue
	cue         *Cue
	cuePointer  int

	priority     int
	alpha        float32
	defaultAlpha float32
	blend        blend.Mode
	blendArgs    map[string]float64
	bpm          float64
	backtrack    bool

	active     bool
	started    float64
	enteredCue float64
	entrySeq   uint64

	affect       []string
	history      []string
	cachedValues map[string][]float32
	cachedAlphas map[string][]float32
	canvas       *blend.Canvas

	rerender        bool
	fadeInCompleted bool
	dirty           bool

	jitter       float64
	soundSeconds float64

	// claim is the cue forced by an external tag binding; cueTag names the tag.
	claim  string
	cueTag string

	tapSeq  int
	lastTap float64

	rng *rand.Rand
}

func newScene(b *Board, id, name string) *Scene {
	s := &Scene{
		board:        b,
		id:           id,
		name:         name,
		cues:         make(map[string]*Cue),
		priority:     defaultPriority,
		alpha:        1,
		defaultAlpha: 1,
		blend:        blend.Mode{Kind: blend.Normal, Name: "normal"},
		bpm:          defaultBPM,
		backtrack:    true,
		cachedValues: make(map[string][]float32),
		cachedAlphas: make(map[string][]float32),
		soundSeconds: -1,
		rng:          rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	return s
}

// ID returns the stable scene id.
func (s *Scene) ID() string { return s.id }

// Name returns the scene name.
func (s *Scene) Name() string {
	s.board.mu.Lock()
	defer s.board.mu.Unlock()
	return s.name
}

func (s *Scene) layer() universe.Layer {
	return universe.Layer{Priority: s.priority, Started: s.started}
}

// ─── Cue list ───

// sortCuesLocked rebuilds cuesOrdered and the next_sorted links. It is
// O(n log n) per mutation, which is fine for cue lists in the hundreds.
func (s *Scene) sortCuesLocked() {
	s.cuesOrdered = s.cuesOrdered[:0]
	for _, c := range s.cues {
		s.cuesOrdered = append(s.cuesOrdered, c)
	}
	sort.Slice(s.cuesOrdered, func(i, j int) bool {
		a, b := s.cuesOrdered[i], s.cuesOrdered[j]
		if a.Number != b.Number {
			return a.Number < b.Number
		}
		return a.Name < b.Name
	})
	for i, c := range s.cuesOrdered {
		c.index = i
		c.next = nil
		if i+1 < len(s.cuesOrdered) {
			c.next = s.cuesOrdered[i+1]
		}
	}
	if s.cue != nil {
		s.cuePointer = s.cue.index
	}
}

func (s *Scene) cueByID(id string) *Cue {
	for _, c := range s.cues {
		if c.ID == id {
			return c
		}
	}
	return nil
}

// addCueLocked inserts a validated cue.
func (s *Scene) addCueLocked(c *Cue) error {
	if err := ValidateCueName(c.Name); err != nil {
		return err
	}
	if _, exists := s.cues[c.Name]; exists {
		return fmt.Errorf("%w: cue %q in scene %s", ErrDuplicateName, c.Name, s.name)
	}
	for _, other := range s.cues {
		if other.Number == c.Number {
			return fmt.Errorf("%w: %s used by %q and %q", ErrDuplicateNumber, FormatNumber(c.Number), other.Name, c.Name)
		}
	}
	c.scene = s
	s.cues[c.Name] = c
	s.sortCuesLocked()
	if c.Shortcut != "" && s.board.scenes[s.id] == s {
		s.board.shortcuts.register(c.Shortcut, s.id, c.ID)
	}
	return nil
}

// defaultCueLocked returns the "default" cue, or the first cue when the
// scene has none by that name.
func (s *Scene) defaultCueLocked() *Cue {
	if c, ok := s.cues[DefaultCueName]; ok {
		return c
	}
	if len(s.cuesOrdered) > 0 {
		return s.cuesOrdered[0]
	}
	return nil
}

// nextFreeNumber returns a number five above the highest cue.
func (s *Scene) nextFreeNumber() int64 {
	if len(s.cuesOrdered) == 0 {
		return 0
	}
	return s.cuesOrdered[len(s.cuesOrdered)-1].Number + 5*numberScale
}

// defaultCueNumber returns 0, or a number ahead of the first cue when 0 is
// taken, so an inserted default cue always sorts first.
func (s *Scene) defaultCueNumber() int64 {
	if len(s.cuesOrdered) == 0 || s.cuesOrdered[0].Number > 0 {
		return 0
	}
	return s.cuesOrdered[0].Number - 5*numberScale
}

// AddCue adds a cue built from data. A zero number is replaced by the next
// free number after the last cue.
func (s *Scene) AddCue(data CueData) error {
	s.board.mu.Lock()
	defer s.board.mu.Unlock()

	c, err := data.toCue()
	if err != nil {
		return err
	}
	if c.Number == 0 && len(s.cues) > 0 {
		c.Number = s.nextFreeNumber()
	}
	if err := s.addCueLocked(c); err != nil {
		return err
	}
	s.board.pushLocked(Event{Type: "cue.added", Scene: s.name, Cue: c.Name})
	return nil
}

// RemoveCue deletes a cue. The default cue and the last remaining cue
// cannot be removed. Removing the current cue moves an active scene to the
// default cue.
func (s *Scene) RemoveCue(name string) error {
	s.board.mu.Lock()
	defer s.board.mu.Unlock()

	c, ok := s.cues[name]
	if !ok {
		return fmt.Errorf("%w: %q in scene %s", ErrNoSuchCue, name, s.name)
	}
	if name == DefaultCueName || len(s.cues) <= 1 {
		return fmt.Errorf("%w: %q", ErrCannotRemoveCue, name)
	}

	delete(s.cues, name)
	c.scene = nil
	wasCurrent := s.cue == c
	if wasCurrent {
		s.cue = nil
	}
	s.sortCuesLocked()

	if wasCurrent && s.active {
		if err := s.enterCueLocked(s.defaultCueLocked(), GotoOptions{}); err != nil {
			return err
		}
	}
	s.board.pushLocked(Event{Type: "cue.removed", Scene: s.name, Cue: name})
	return nil
}

// SetValue sets (value non-nil) or clears a value in the named cue.
func (s *Scene) SetValue(cueName, key, channel string, value *float64) error {
	s.board.mu.Lock()
	defer s.board.mu.Unlock()

	c, ok := s.cues[cueName]
	if !ok {
		return fmt.Errorf("%w: %q in scene %s", ErrNoSuchCue, cueName, s.name)
	}
	c.setValueLocked(key, channel, value)

	data := map[string]any{"key": key, "channel": channel, "value": nil}
	if value != nil {
		data["value"] = *value
	}
	s.board.pushLocked(Event{Type: "cue.value", Scene: s.name, Cue: cueName, Data: data})
	return nil
}

// ─── Caches ───

func (s *Scene) resetCachesLocked() {
	clear(s.cachedValues)
	clear(s.cachedAlphas)
	s.affect = s.affect[:0]
}

// cacheValueLocked resolves one raw value and writes it into the flattened
// caches, adding the universe to affect.
func (s *Scene) cacheValueLocked(key, channel string, v, a float32) {
	u, ch, err := s.board.patch.Resolve(key, channel)
	if err != nil {
		if s.board.limiter.Allow("resolve:" + s.id + ":" + key + ":" + channel) {
			s.board.logger.Debug("cue value unrouted",
				"scene", s.name, "key", key, "channel", channel, "error", err)
		}
		return
	}
	name := u.Name()
	vals, ok := s.cachedValues[name]
	if !ok || len(vals) != u.Len() {
		vals = make([]float32, u.Len())
		s.cachedValues[name] = vals
		s.cachedAlphas[name] = make([]float32, u.Len())
	}
	vals[ch] = v
	s.cachedAlphas[name][ch] = a
	if !slices.Contains(s.affect, name) {
		s.affect = append(s.affect, name)
	}
	s.rerender = true
}

func (s *Scene) applyCueToCachesLocked(c *Cue) {
	for key, channels := range c.Values {
		for ch, v := range channels {
			s.cacheValueLocked(key, ch, float32(v), 1)
		}
	}
}

// recacheLocked rebuilds the caches for the current cue from scratch, used
// after a patch swap changes where fixtures live.
func (s *Scene) recacheLocked() {
	if !s.active || s.cue == nil {
		return
	}
	s.resetCachesLocked()
	if s.cue.Track && s.backtrack {
		chain, _ := s.backtrackChain(s.cue, nil)
		for i := len(chain) - 1; i >= 0; i-- {
			s.applyCueToCachesLocked(chain[i])
		}
	}
	s.applyCueToCachesLocked(s.cue)
	s.rerender = true
}

// targetsLocked returns every universe the scene composites onto this tick:
// affect plus universes still fading out of the canvas.
func (s *Scene) targetsLocked() []string {
	if s.canvas == nil {
		return s.affect
	}
	targets := slices.Clone(s.affect)
	for _, name := range s.canvas.Universes() {
		if !slices.Contains(targets, name) {
			targets = append(targets, name)
		}
	}
	return targets
}

// ─── Activation ───

// Go activates the scene, entering the remembered cue, the claimed cue or
// the default cue. It is a no-op when already active.
func (s *Scene) Go() error {
	s.board.mu.Lock()
	defer s.board.mu.Unlock()
	return s.goLocked()
}

func (s *Scene) goLocked() error {
	if s.active {
		return nil
	}

	target := s.cue
	if s.claim != "" {
		if c, ok := s.cues[s.claim]; ok {
			target = c
		}
	}
	if target == nil {
		target = s.defaultCueLocked()
	}
	if target == nil {
		return fmt.Errorf("%w: scene %s has no cues", ErrInvalidScene, s.name)
	}

	s.active = true
	s.started = s.board.nextStartedLocked()
	s.canvas = blend.NewCanvas()
	s.cue = nil
	s.resetCachesLocked()
	s.board.addActiveLocked(s)

	s.board.rules.BindRules(s.id, target.Rules)
	s.board.rules.FireEvent(s.id, "scene.go", s.name)
	s.board.pushLocked(Event{Type: "scene.go", Scene: s.name})
	return s.enterCueLocked(target, GotoOptions{})
}

// Stop deactivates the scene. It is safe from any goroutine and a no-op
// when already stopped. Pending sound work for the scene is abandoned.
func (s *Scene) Stop() {
	s.board.mu.Lock()
	defer s.board.mu.Unlock()
	s.stopLocked()
}

func (s *Scene) stopLocked() {
	if !s.active {
		return
	}
	for _, name := range s.targetsLocked() {
		if u, ok := s.board.patch.Universe(name); ok {
			u.FullRerender = true
		}
	}

	s.active = false
	s.entrySeq++
	s.board.removeActiveLocked(s)
	s.board.queueSound(soundJob{scene: s, seq: s.entrySeq, stop: true})

	s.resetCachesLocked()
	s.canvas = nil
	s.dirty = false
	s.rerender = false
	s.soundSeconds = -1

	// The event takes the current cue's rules with it, so fire before unbinding.
	s.board.rules.FireEvent(s.id, "scene.stop", s.name)
	s.board.rules.BindRules(s.id, nil)
	s.board.pushLocked(Event{Type: "scene.stop", Scene: s.name})
}

// Active reports whether the scene is running.
func (s *Scene) Active() bool {
	s.board.mu.Lock()
	defer s.board.mu.Unlock()
	return s.active
}

// ─── Parameters ───

// SetAlpha sets the scene alpha, clamped to [0,1]. NaN is treated as 0.
func (s *Scene) SetAlpha(alpha float64) {
	s.board.mu.Lock()
	defer s.board.mu.Unlock()
	s.setAlphaLocked(alpha)
}

func (s *Scene) setAlphaLocked(alpha float64) {
	if math.IsNaN(alpha) {
		alpha = 0
	}
	s.alpha = float32(min(max(alpha, 0), 1))
	s.rerender = true
	s.board.pushLocked(Event{Type: "scene.alpha", Scene: s.name, Data: map[string]any{"alpha": s.alpha}})
}

// Alpha returns the current alpha.
func (s *Scene) Alpha() float32 {
	s.board.mu.Lock()
	defer s.board.mu.Unlock()
	return s.alpha
}

// SetPriority moves the scene in the compositing stack.
func (s *Scene) SetPriority(priority int) {
	s.board.mu.Lock()
	defer s.board.mu.Unlock()

	s.priority = priority
	if s.active {
		s.invalidateTargetsLocked()
		s.board.sortActiveLocked()
	}
	s.board.pushLocked(Event{Type: "scene.priority", Scene: s.name, Data: map[string]any{"priority": priority}})
}

// SetBlend selects the blend mode by name.
func (s *Scene) SetBlend(name string, args map[string]float64) error {
	s.board.mu.Lock()
	defer s.board.mu.Unlock()

	mode, err := blend.Parse(name, args)
	if err != nil {
		return err
	}
	s.blend = mode
	s.blendArgs = args
	if s.active {
		s.invalidateTargetsLocked()
	}
	s.board.pushLocked(Event{Type: "scene.blend", Scene: s.name, Data: map[string]any{"blend": mode.String()}})
	return nil
}

// SetBPM sets the tempo. Non-positive values are rejected.
func (s *Scene) SetBPM(bpm float64) error {
	if bpm <= 0 || math.IsNaN(bpm) || math.IsInf(bpm, 0) {
		return fmt.Errorf("%w: bpm must be positive", ErrInvalidScene)
	}
	s.board.mu.Lock()
	defer s.board.mu.Unlock()
	s.bpm = bpm
	s.rerender = true
	return nil
}

// BPM returns the tempo.
func (s *Scene) BPM() float64 {
	s.board.mu.Lock()
	defer s.board.mu.Unlock()
	return s.bpm
}

// invalidateTargetsLocked forces a full reset of every universe the scene
// touches, used when its layer position or blend changes.
func (s *Scene) invalidateTargetsLocked() {
	for _, name := range s.targetsLocked() {
		if u, ok := s.board.patch.Universe(name); ok {
			u.FullRerender = true
		}
	}
	s.rerender = true
}

// CurrentCue returns the current cue name, or "" when there is none.
func (s *Scene) CurrentCue() string {
	s.board.mu.Lock()
	defer s.board.mu.Unlock()
	if s.cue == nil {
		return ""
	}
	return s.cue.Name
}

// History returns the names of recently entered cues, oldest first.
func (s *Scene) History() []string {
	s.board.mu.Lock()
	defer s.board.mu.Unlock()
	return slices.Clone(s.history)
}

// CueTag returns the tag whose value claims the scene's cue, or "".
func (s *Scene) CueTag() string {
	s.board.mu.Lock()
	defer s.board.mu.Unlock()
	return s.cueTag
}
