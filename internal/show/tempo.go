package show

import "math"

// Tap-tempo tuning.
const (
	tapTimeout    = 8.0    // seconds of silence that start a new tap sequence
	tapTolerance  = 0.25   // fraction of a beat a tap may deviate before resetting
	tapMinWeight  = 0.0025 // floor of the moving-average weight
	tapPhaseFrame = 0.1    // fraction of a beat within which phase is resynced
)

// Tap registers a tempo tap at time at (zero means now). The BPM estimate is
// a moving average whose weight decays with the number of taps. From the
// third tap on, a tap landing close to a beat also realigns the cue phase.
func (s *Scene) Tap(at float64) {
	s.board.mu.Lock()
	defer s.board.mu.Unlock()

	if at == 0 {
		at = s.board.now()
	}
	x := at - s.lastTap
	beat := 60 / s.bpm

	if s.tapSeq > 0 && (x > tapTimeout || x <= 0) {
		s.tapSeq = 0
	}
	if s.tapSeq > 1 && math.Abs(x-beat) > tapTolerance*beat {
		s.tapSeq = 0
	}
	if s.tapSeq >= 1 {
		f := max(1/float64(s.tapSeq*s.tapSeq), tapMinWeight)
		s.bpm = s.bpm*(1-f) + (60/x)*f
	}
	s.lastTap = at
	s.tapSeq++

	if s.tapSeq > 2 && s.active && s.cue != nil {
		s.resyncPhaseLocked(at)
	}
	s.board.pushLocked(Event{Type: "scene.bpm", Scene: s.name, Data: map[string]any{"bpm": s.bpm}})
}

// resyncPhaseLocked shifts the cue entry time so the beat grid lands on at,
// provided at is already within tapPhaseFrame of a predicted beat.
func (s *Scene) resyncPhaseLocked(at float64) {
	beat := 60 / s.bpm
	elapsed := at - s.enteredCue
	if elapsed < 0 {
		return
	}
	offset := elapsed - math.Round(elapsed/beat)*beat
	if math.Abs(offset) < tapPhaseFrame*beat {
		s.enteredCue += offset
	}
}
