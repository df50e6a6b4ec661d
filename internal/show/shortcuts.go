package show

import "slices"

// cueRef identifies a cue by ids so the index never keeps scenes alive.
type cueRef struct {
	sceneID string
	cueID   string
}

// shortcutIndex maps trigger codes to the cues registered under them.
// Entries whose scene, cue or shortcut changed are skipped on lookup and
// pruned on the next registration.
type shortcutIndex struct {
	board *Board
	codes map[string][]cueRef
}

func newShortcutIndex(b *Board) *shortcutIndex {
	return &shortcutIndex{board: b, codes: make(map[string][]cueRef)}
}

// register adds a cue under code and prunes dead entries. Caller holds the
// state lock.
func (x *shortcutIndex) register(code, sceneID, cueID string) {
	for c, refs := range x.codes {
		refs = slices.DeleteFunc(refs, func(r cueRef) bool {
			_, ok := x.resolve(c, r)
			return !ok
		})
		if len(refs) == 0 {
			delete(x.codes, c)
		} else {
			x.codes[c] = refs
		}
	}
	ref := cueRef{sceneID: sceneID, cueID: cueID}
	if !slices.Contains(x.codes[code], ref) {
		x.codes[code] = append(x.codes[code], ref)
	}
}

// resolve returns the live cue behind r, if it still carries code.
func (x *shortcutIndex) resolve(code string, r cueRef) (*Cue, bool) {
	s, ok := x.board.scenes[r.sceneID]
	if !ok {
		return nil, false
	}
	c := s.cueByID(r.cueID)
	if c == nil || c.Shortcut != code {
		return nil, false
	}
	return c, true
}

// lookup returns the live cues registered under code.
func (x *shortcutIndex) lookup(code string) []*Cue {
	var out []*Cue
	for _, r := range x.codes[code] {
		if c, ok := x.resolve(code, r); ok {
			out = append(out, c)
		}
	}
	return out
}

// ShortcutCode jumps every scene owning a cue with this shortcut to that
// cue. Inactive scenes are left alone. It returns the number of scenes that
// accepted the jump.
func (b *Board) ShortcutCode(code string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for _, c := range b.shortcuts.lookup(code) {
		s := c.scene
		if s == nil || !s.active {
			continue
		}
		if err := s.transitionLocked(c, GotoOptions{}, false); err != nil {
			if b.limiter.Allow("shortcut:" + s.id) {
				b.logger.Warn("shortcut transition failed", "code", code, "scene", s.name, "error", err)
			}
			continue
		}
		n++
	}
	return n
}
