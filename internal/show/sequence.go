package show

import (
	"fmt"
	"math"
	"path"
	"slices"
	"strconv"
	"strings"
)

// maxBacktrack bounds the parent walk on malformed cue lists.
const maxBacktrack = 10000

// GotoOptions adjusts a cue transition.
type GotoOptions struct {
	// At is the entry time on the board clock. Zero means now.
	At float64

	// NoSync suppresses publishing the entry to other nodes.
	NoSync bool

	// NoEvents suppresses cue.exit and cue.enter rule events.
	NoEvents bool
}

// Goto jumps to a cue by name, number, "a|b|c" alternatives, glob pattern,
// "__random__" or "__stop__". It is a no-op on an inactive scene.
func (s *Scene) Goto(ref string, opts GotoOptions) error {
	s.board.mu.Lock()
	defer s.board.mu.Unlock()
	return s.gotoLocked(ref, opts, false)
}

// Next follows the current cue's next_cue when it resolves, else the
// following cue in number order. It does nothing after the last cue.
func (s *Scene) Next(opts GotoOptions) error {
	s.board.mu.Lock()
	defer s.board.mu.Unlock()
	return s.nextLocked(opts)
}

func (s *Scene) nextLocked(opts GotoOptions) error {
	if !s.active || s.cue == nil {
		return nil
	}
	if s.cue.NextCue != "" {
		err := s.gotoLocked(s.cue.NextCue, opts, false)
		if err == nil || !IsResolutionError(err) {
			return err
		}
		if s.board.limiter.Allow("next:" + s.id) {
			s.board.logger.Warn("next_cue does not resolve, using cue order",
				"scene", s.name, "cue", s.cue.Name, "next_cue", s.cue.NextCue, "error", err)
		}
	}
	if s.cue.next == nil {
		return nil
	}
	return s.transitionLocked(s.cue.next, opts, false)
}

func (s *Scene) gotoLocked(ref string, opts GotoOptions, claimed bool) error {
	if !s.active {
		return nil
	}
	target, stop, err := s.parseCueName(ref)
	if err != nil {
		return err
	}
	if stop {
		s.stopLocked()
		return nil
	}
	return s.transitionLocked(target, opts, claimed)
}

// transitionLocked applies the claim and reentrancy rules, then enters target.
func (s *Scene) transitionLocked(target *Cue, opts GotoOptions, claimed bool) error {
	if !claimed && s.claim != "" && target.Name != s.claim {
		if s.cue == nil {
			return fmt.Errorf("%w: scene %s, claimed cue %q", ErrClaimWithoutCue, s.name, s.claim)
		}
		if s.board.limiter.Allow("claim:" + s.id) {
			s.board.logger.Debug("transition blocked by cue claim",
				"scene", s.name, "requested", target.Name, "claim", s.claim)
		}
		return nil
	}
	if target == s.cue && !target.Reentrant {
		return nil
	}
	return s.enterCueLocked(target, opts)
}

// enterCueLocked makes target the current cue and rebuilds the scene caches.
func (s *Scene) enterCueLocked(target *Cue, opts GotoOptions) error {
	b := s.board
	at := opts.At
	if at == 0 {
		at = b.now()
	}

	prev := s.cue
	s.enteredCue = at
	s.entrySeq++

	if prev != nil && !opts.NoEvents {
		b.rules.FireEvent(s.id, "cue.exit", prev.Name)
	}
	s.cue = target
	s.cuePointer = target.index

	b.rules.BindRules(s.id, target.Rules)
	if !opts.NoEvents {
		b.rules.FireEvent(s.id, "cue.enter", target.Name)
	}
	s.applyVariablesLocked(target)

	if s.canvas != nil {
		s.canvas.Save()
	}

	sequential := prev != nil && (prev.next == target || prev == target)
	switch {
	case !target.Track:
		s.resetCachesLocked()
	case sequential:
		// Tracked values carry over from the previous cue.
	case s.backtrack:
		chain, reached := s.backtrackChain(target, prev)
		if !reached {
			s.resetCachesLocked()
		}
		for i := len(chain) - 1; i >= 0; i-- {
			s.applyCueToCachesLocked(chain[i])
		}
	}
	s.applyCueToCachesLocked(target)

	s.soundSeconds = -1
	job := soundJob{scene: s, seq: s.entrySeq, stop: target.Sound == ""}
	if target.Sound != "" {
		job.file = target.Sound
		job.volume = target.SoundVolume
		job.output = target.SoundOutput
		job.wantDuration = target.RelLength
	}
	if target.next != nil && target.next.Sound != "" {
		job.preload = target.next.Sound
		job.preloadOutput = target.next.SoundOutput
	}
	b.queueSound(job)

	s.jitter = lengthJitter(s.rng, target.LengthRandomize)
	s.fadeInCompleted = false
	s.rerender = true

	s.history = append(s.history, target.Name)
	if len(s.history) > historyLimit {
		s.history = slices.Delete(s.history, 0, len(s.history)-historyLimit)
	}

	if !opts.NoSync && b.sync != nil {
		b.sync.PublishCue(s.name, target.Name, at)
	}
	b.pushLocked(Event{Type: "cue.enter", Scene: s.name, Cue: target.Name,
		Data: map[string]any{"number": FormatNumber(target.Number), "at": at}})
	return nil
}

// applyVariablesLocked evaluates the cue's variable expressions into the
// scripting state. Failed expressions keep their last good value.
func (s *Scene) applyVariablesLocked(c *Cue) {
	if len(c.Variables) == 0 {
		return
	}
	vars := map[string]any{"scene": s.name, "cue": c.Name, "bpm": s.bpm}
	for name, expr := range c.Variables {
		v, err := s.board.rules.Evaluate(expr, vars)
		if err != nil && s.board.limiter.Allow("var:"+s.id+":"+name) {
			s.board.logger.Warn("cue variable expression failed",
				"scene", s.name, "cue", c.Name, "variable", name, "error", err)
		}
		if v != nil {
			s.board.rules.SetVariable(name, v)
		}
	}
}

// parentOf returns the cue c inherits tracked values from: its explicit
// Inherit cue, or the previous cue in order when that cue flows into c.
func (s *Scene) parentOf(c *Cue) *Cue {
	if c.Inherit != "" {
		p, ok := s.cues[c.Inherit]
		if !ok || p == c {
			return nil
		}
		return p
	}
	if c.index <= 0 || c.index >= len(s.cuesOrdered) || s.cuesOrdered[c.index] != c {
		return nil
	}
	prev := s.cuesOrdered[c.index-1]
	if prev.NextCue == "" || prev.NextCue == c.Name {
		return prev
	}
	return nil
}

// backtrackChain collects target's ancestors, nearest first. The walk stops
// at current (reachedCurrent is then true), at a cycle, at a cue without a
// parent, after an untracked ancestor, or after maxBacktrack steps.
func (s *Scene) backtrackChain(target, current *Cue) (chain []*Cue, reachedCurrent bool) {
	seen := map[*Cue]bool{target: true}
	for p := s.parentOf(target); p != nil && len(chain) < maxBacktrack; p = s.parentOf(p) {
		if current != nil && p == current {
			return chain, true
		}
		if seen[p] {
			break
		}
		seen[p] = true
		chain = append(chain, p)
		if !p.Track {
			break
		}
	}
	return chain, false
}

// parseCueName resolves a cue reference. stop is true for "__stop__".
func (s *Scene) parseCueName(ref string) (target *Cue, stop bool, err error) {
	ref = strings.TrimSpace(ref)

	switch {
	case ref == stopSelector:
		return nil, true, nil

	case ref == randomSelector:
		if len(s.cuesOrdered) == 0 {
			return nil, false, fmt.Errorf("%w: scene %s has no cues", ErrNoSuchCue, s.name)
		}
		return s.pickAvoidingHistory(s.cuesOrdered, 3), false, nil

	case strings.Contains(ref, "|"):
		var candidates []*Cue
		for _, alt := range strings.Split(ref, "|") {
			if c := s.lookupCue(strings.TrimSpace(alt)); c != nil && !slices.Contains(candidates, c) {
				candidates = append(candidates, c)
			}
		}
		if len(candidates) == 0 {
			return nil, false, fmt.Errorf("%w: %q in scene %s", ErrNoSuchCue, ref, s.name)
		}
		return s.pickAvoidingHistory(candidates, 3), false, nil

	case strings.Contains(ref, "*"):
		var candidates []*Cue
		for _, c := range s.cuesOrdered {
			if ok, _ := path.Match(ref, c.Name); ok {
				candidates = append(candidates, c)
			}
		}
		if len(candidates) == 0 {
			return nil, false, fmt.Errorf("%w: %q in scene %s", ErrNoMatch, ref, s.name)
		}
		return s.pickAvoidingHistory(candidates, 2), false, nil
	}

	if c := s.lookupCue(ref); c != nil {
		return c, false, nil
	}
	return nil, false, fmt.Errorf("%w: %q in scene %s", ErrNoSuchCue, ref, s.name)
}

// lookupCue finds a cue by literal name, then by number.
func (s *Scene) lookupCue(ref string) *Cue {
	if c, ok := s.cues[ref]; ok {
		return c
	}
	v, err := strconv.ParseFloat(ref, 64)
	if err != nil {
		return nil
	}
	for _, c := range s.cuesOrdered {
		if math.Abs(float64(c.Number)-v*numberScale) < 0.001 {
			return c
		}
	}
	return nil
}

// pickAvoidingHistory picks a random candidate, excluding recently played
// cues. The exclusion window starts at the whole history and shrinks until
// at least minCandidates remain. With three or more candidates the current
// cue is avoided where possible.
func (s *Scene) pickAvoidingHistory(candidates []*Cue, minCandidates int) *Cue {
	var pool []*Cue
	for window := len(s.history); window > 0; window-- {
		recent := s.history[len(s.history)-window:]
		pool = pool[:0]
		for _, c := range candidates {
			if !slices.Contains(recent, c.Name) {
				pool = append(pool, c)
			}
		}
		if len(pool) >= minCandidates {
			break
		}
	}
	if len(pool) < minCandidates {
		pool = candidates
	}

	pick := pool[s.rng.IntN(len(pool))]
	if len(candidates) >= 3 {
		for i := 0; i < 100 && pick == s.cue; i++ {
			pick = pool[s.rng.IntN(len(pool))]
		}
	}
	return pick
}
