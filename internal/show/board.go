package show

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/nerrad567/gray-logic-show/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-show/internal/universe"
)

// Default tuning values.
const (
	DefaultPushTimeout     = 50 * time.Millisecond
	DefaultMetricsInterval = 400

	soundQueueSize  = 64
	soundStopPolls  = 50
	soundStopPeriod = 17 * time.Millisecond
)

// Deps holds the board's collaborators. Only Patch is required; missing
// collaborators are replaced by no-ops.
type Deps struct {
	Patch    *universe.Patch
	Rules    RuleEngine
	Sound    SoundPlayer
	Observer Observer
	Sync     CueSync
	Metrics  MetricsWriter
	Logger   Logger

	// PushTimeout bounds how long a push waits for the observer lock.
	PushTimeout time.Duration

	// MetricsInterval is the number of ticks between metric points.
	MetricsInterval int

	// Clock returns seconds on a monotonic timeline. Defaults to time since NewBoard.
	Clock func() float64
}

// Board owns the scenes, the active stack and the patch. It is the single
// entry point for UIs, triggers, rules and the render loop.
//
// Lock order: mu (state) before push. The push lock is never held while
// taking mu.
type Board struct {
	mu sync.Mutex

	patch     *universe.Patch
	scenes    map[string]*Scene // by id
	byName    map[string]*Scene
	active    []*Scene // ascending layer
	shortcuts *shortcutIndex

	lastStarted float64

	rules    RuleEngine
	sound    SoundPlayer
	observer Observer
	sync     CueSync
	metrics  MetricsWriter
	logger   Logger
	limiter  *logging.RateLimiter
	now      func() float64

	push        *semaphore.Weighted
	pushTimeout time.Duration

	soundJobs chan soundJob

	metricsInterval int
	stats           renderStats
}

// NewBoard creates a board with no scenes.
func NewBoard(deps Deps) *Board {
	b := &Board{
		patch:           deps.Patch,
		scenes:          make(map[string]*Scene),
		byName:          make(map[string]*Scene),
		rules:           deps.Rules,
		sound:           deps.Sound,
		observer:        deps.Observer,
		sync:            deps.Sync,
		metrics:         deps.Metrics,
		logger:          deps.Logger,
		limiter:         logging.NewRateLimiter(5 * time.Second),
		now:             deps.Clock,
		push:            semaphore.NewWeighted(1),
		pushTimeout:     deps.PushTimeout,
		soundJobs:       make(chan soundJob, soundQueueSize),
		metricsInterval: deps.MetricsInterval,
	}
	b.shortcuts = newShortcutIndex(b)

	if b.patch == nil {
		b.patch, _ = universe.NewPatch(nil, nil, nil) //nolint:errcheck // empty patch cannot fail
	}
	if b.rules == nil {
		b.rules = nopRules{}
	}
	if b.logger == nil {
		b.logger = noopLogger{}
	}
	if b.now == nil {
		start := time.Now()
		b.now = func() float64 { return time.Since(start).Seconds() }
	}
	if b.pushTimeout <= 0 {
		b.pushTimeout = DefaultPushTimeout
	}
	if b.metricsInterval <= 0 {
		b.metricsInterval = DefaultMetricsInterval
	}
	return b
}

// Now returns the board clock in seconds.
func (b *Board) Now() float64 { return b.now() }

// Patch returns the current patch.
func (b *Board) Patch() *universe.Patch {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.patch
}

// UniverseValues returns a copy of a universe's current output.
func (b *Board) UniverseValues(name string) ([]float32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	u, ok := b.patch.Universe(name)
	if !ok {
		return nil, fmt.Errorf("%w: universe %q", universe.ErrUnknownUniverse, name)
	}
	return slices.Clone(u.Values), nil
}

// Configure swaps in a new patch and rebuilds every active scene's caches
// against it. The patch must have been built and validated already.
func (b *Board) Configure(p *universe.Patch) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.patch = p
	b.recacheAllLocked()
	b.logger.Info("patch configured", "universes", len(p.Universes()))
}

// Recache rebuilds every active scene's caches against the current patch.
// Call it when fixture indirection changes where a fixture resolves to.
func (b *Board) Recache() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recacheAllLocked()
}

func (b *Board) recacheAllLocked() {
	for _, u := range b.patch.Universes() {
		u.FullRerender = true
	}
	for _, s := range b.active {
		s.recacheLocked()
	}
}

// ─── Scene registry ───

// CreateScene adds an empty scene holding only a "default" cue.
func (b *Board) CreateScene(name string) (*Scene, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkSceneNameLocked(name, nil); err != nil {
		return nil, err
	}
	s := newScene(b, uuid.NewString(), name)
	if err := s.addCueLocked(newCue(uuid.NewString(), DefaultCueName, 0)); err != nil {
		return nil, err
	}
	b.scenes[s.id] = s
	b.byName[name] = s
	b.pushLocked(Event{Type: "scene.created", Scene: name})
	return s, nil
}

func (b *Board) checkSceneNameLocked(name string, self *Scene) error {
	if strings.TrimSpace(name) == "" || strings.ContainsAny(name, "/#+") {
		return fmt.Errorf("%w: scene name %q", ErrInvalidName, name)
	}
	if other, ok := b.byName[name]; ok && other != self {
		return fmt.Errorf("%w: scene %q", ErrDuplicateName, name)
	}
	return nil
}

// RemoveScene stops and forgets a scene. Its shortcuts die with it.
func (b *Board) RemoveScene(name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.byName[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrSceneNotFound, name)
	}
	s.stopLocked()
	delete(b.byName, name)
	delete(b.scenes, s.id)
	b.pushLocked(Event{Type: "scene.removed", Scene: name})
	return nil
}

// Scene looks up a scene by name.
func (b *Board) Scene(name string) (*Scene, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrSceneNotFound, name)
	}
	return s, nil
}

// Scenes returns all scenes sorted by name.
func (b *Board) Scenes() []*Scene {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]*Scene, 0, len(b.byName))
	for _, s := range b.byName {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// ActiveScenes returns the names of running scenes, lowest layer first.
func (b *Board) ActiveScenes() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]string, len(b.active))
	for i, s := range b.active {
		out[i] = s.name
	}
	return out
}

// SetName renames the scene. Names are unique per board.
func (s *Scene) SetName(name string) error {
	b := s.board
	b.mu.Lock()
	defer b.mu.Unlock()

	if name == s.name {
		return nil
	}
	if err := b.checkSceneNameLocked(name, s); err != nil {
		return err
	}
	old := s.name
	delete(b.byName, old)
	b.byName[name] = s
	s.name = name
	b.pushLocked(Event{Type: "scene.renamed", Scene: name, Data: map[string]any{"old": old}})
	return nil
}

// ─── Active stack ───

func (b *Board) nextStartedLocked() float64 {
	t := b.now()
	if t <= b.lastStarted {
		t = b.lastStarted + 1e-6
	}
	b.lastStarted = t
	return t
}

func (b *Board) addActiveLocked(s *Scene) {
	b.active = append(b.active, s)
	b.sortActiveLocked()
}

func (b *Board) removeActiveLocked(s *Scene) {
	for i, a := range b.active {
		if a == s {
			b.active = append(b.active[:i], b.active[i+1:]...)
			return
		}
	}
}

func (b *Board) sortActiveLocked() {
	sort.SliceStable(b.active, func(i, j int) bool {
		return b.active[i].layer().Less(b.active[j].layer())
	})
}

// ─── Claims ───

// ClaimCue forces a scene onto a cue, blocking other transitions until the
// claim is released with an empty cue. The scene jumps immediately when
// active, or enters the claimed cue on its next Go.
func (b *Board) ClaimCue(sceneName, cue string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.byName[sceneName]
	if !ok {
		return fmt.Errorf("%w: %q", ErrSceneNotFound, sceneName)
	}
	if cue == "" {
		s.claim = ""
		return nil
	}
	target, stop, err := s.parseCueName(cue)
	if err != nil {
		return err
	}
	if stop {
		s.claim = ""
		s.stopLocked()
		return nil
	}
	s.claim = target.Name
	if !s.active {
		return nil
	}
	return s.transitionLocked(target, GotoOptions{NoSync: true}, true)
}

// ApplyCueTag claims value as the cue of every scene whose cue tag is tag.
// An empty value releases the claims.
func (b *Board) ApplyCueTag(tag, value string) error {
	b.mu.Lock()
	var names []string
	for _, s := range b.scenes {
		if s.cueTag != "" && s.cueTag == tag {
			names = append(names, s.name)
		}
	}
	b.mu.Unlock()
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		if err := b.ClaimCue(name, value); err != nil {
			errs = append(errs, fmt.Errorf("scene %q: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// ApplyRemoteCue enters a cue published by another node. It never publishes
// back, so nodes do not echo entries to each other.
func (b *Board) ApplyRemoteCue(sceneName, cue string, at float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.byName[sceneName]
	if !ok {
		return fmt.Errorf("%w: %q", ErrSceneNotFound, sceneName)
	}
	return s.gotoLocked(cue, GotoOptions{At: at, NoSync: true}, false)
}

// ─── Rule commands ───

// Execute runs a rule action. Scene commands default to the scene that
// bound the rule (scope is its id) when no scene argument is given.
//
// Commands: go, stop, next, goto <cue>, alpha <value>, bpm <value>,
// tap, shortcut <code>. A scene name may precede the command arguments
// as "scene=<name>".
func (b *Board) Execute(_ context.Context, scope, command string, args []string) error {
	if command == "shortcut" {
		if len(args) != 1 {
			return fmt.Errorf("shortcut: want 1 argument, got %d", len(args))
		}
		b.ShortcutCode(args[0])
		return nil
	}

	s, args, err := b.commandTarget(scope, args)
	if err != nil {
		return err
	}

	switch command {
	case "go":
		return s.Go()
	case "stop":
		s.Stop()
		return nil
	case "next":
		return s.Next(GotoOptions{})
	case "goto":
		if len(args) != 1 {
			return fmt.Errorf("goto: want 1 argument, got %d", len(args))
		}
		return s.Goto(args[0], GotoOptions{})
	case "alpha", "bpm":
		if len(args) != 1 {
			return fmt.Errorf("%s: want 1 argument, got %d", command, len(args))
		}
		v, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return fmt.Errorf("%s: parsing %q: %w", command, args[0], err)
		}
		if command == "alpha" {
			s.SetAlpha(v)
			return nil
		}
		return s.SetBPM(v)
	case "tap":
		s.Tap(0)
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, command)
	}
}

func (b *Board) commandTarget(scope string, args []string) (*Scene, []string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(args) > 0 {
		if name, ok := strings.CutPrefix(args[0], "scene="); ok {
			s, found := b.byName[name]
			if !found {
				return nil, nil, fmt.Errorf("%w: %q", ErrSceneNotFound, name)
			}
			return s, args[1:], nil
		}
	}
	s, ok := b.scenes[scope]
	if !ok {
		return nil, nil, fmt.Errorf("%w: rule scope %q", ErrSceneNotFound, scope)
	}
	return s, args, nil
}

// ─── Observer push ───

// pushLocked sends an event to the observer. It waits at most pushTimeout
// for the push lock; on timeout the event is dropped.
func (b *Board) pushLocked(ev Event) {
	b.broadcast(ChannelScenes, ev)
}

func (b *Board) broadcast(channel string, payload any) {
	if b.observer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), b.pushTimeout)
	defer cancel()
	if err := b.push.Acquire(ctx, 1); err != nil {
		if b.limiter.Allow("push:" + channel) {
			b.logger.Error("observer push timed out", "channel", channel, "timeout", b.pushTimeout)
		}
		return
	}
	defer b.push.Release(1)
	b.observer.Broadcast(channel, payload)
}

// ─── Sound ───

type soundJob struct {
	scene *Scene
	seq   uint64
	stop  bool

	file         string
	volume       float64
	output       string
	wantDuration bool

	preload       string
	preloadOutput string
}

func (b *Board) queueSound(j soundJob) {
	if b.sound == nil {
		return
	}
	select {
	case b.soundJobs <- j:
	default:
		if b.limiter.Allow("sound-queue") {
			b.logger.Error("sound queue full, dropping job", "scene", j.scene.name)
		}
	}
}

// RunSound processes sound jobs until ctx is cancelled. Sound I/O never
// runs on the render goroutine or under the state lock.
func (b *Board) RunSound(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-b.soundJobs:
			b.runSoundJob(j)
		}
	}
}

func (b *Board) runSoundJob(j soundJob) {
	handle := j.scene.id
	if b.sound.IsPlaying(handle) {
		b.sound.Stop(handle)
		for i := 0; i < soundStopPolls && b.sound.IsPlaying(handle); i++ {
			time.Sleep(soundStopPeriod)
		}
	}
	if j.stop || !b.soundCurrent(j) {
		return
	}

	if err := b.sound.Play(j.file, handle, j.volume, j.output); err != nil {
		b.soundFailed(j, err)
	} else if j.wantDuration {
		if d, ok := b.sound.ResolveDuration(j.file); ok {
			b.setSoundDuration(j, d)
		}
	}
	if j.preload != "" {
		b.sound.Preload(j.preload, j.preloadOutput)
	}
}

// soundCurrent reports whether the job's cue entry is still the latest.
func (b *Board) soundCurrent(j soundJob) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return j.scene.active && j.scene.entrySeq == j.seq
}

func (b *Board) setSoundDuration(j soundJob, seconds float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if j.scene.active && j.scene.entrySeq == j.seq {
		j.scene.soundSeconds = seconds
	}
}

func (b *Board) soundFailed(j soundJob, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := j.scene
	if !s.active || s.entrySeq != j.seq {
		return
	}
	msg := fmt.Errorf("%w: %s: %w", ErrPlayback, j.file, err).Error()
	if b.limiter.Allow("sound:" + s.id) {
		b.logger.Error("cue sound failed", "scene", s.name, "file", j.file, "error", err)
	}
	b.rules.FireEvent(s.id, "error", msg)
	b.pushLocked(Event{Type: "error", Scene: s.name, Data: map[string]any{"error": msg}})
}

// SoundEnded is called by the sound player when the sound for handle (a
// scene id) finishes. It fires a sound.end rule event.
func (b *Board) SoundEnded(handle string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.scenes[handle]
	if !ok || !s.active {
		return
	}
	cue := ""
	if s.cue != nil {
		cue = s.cue.Name
	}
	b.rules.FireEvent(s.id, "sound.end", cue)
}
