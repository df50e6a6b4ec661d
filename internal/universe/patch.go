package universe

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// FixturePrefix marks a cue value key as a fixture reference ("@par1").
const FixturePrefix = "@"

// Indirection resolves fixtures that are not patched locally, for example
// virtual fixtures published on the tag bus. The returned channel is the
// fixture's start address.
type Indirection interface {
	ResolveFixtureIndirection(name string) (universe string, start int, ok bool)
}

// Placement describes where a fixture is patched.
type Placement struct {
	Fixture  *Fixture
	Universe string
	Start    int
}

// Patch is an immutable-after-build set of universes and fixtures. A new
// Patch is built on every configuration reload and swapped in whole.
type Patch struct {
	universes map[string]*Universe
	fixtures  map[string]*Fixture
	indirect  Indirection
}

// NewPatch builds a patch, assigning every placement. The universes must be
// freshly created; on error they are discarded by the caller, so a failed
// reload leaves the running patch untouched.
func NewPatch(universes []*Universe, placements []Placement, indirect Indirection) (*Patch, error) {
	p := &Patch{
		universes: make(map[string]*Universe, len(universes)),
		fixtures:  make(map[string]*Fixture, len(placements)),
		indirect:  indirect,
	}
	for _, u := range universes {
		if _, dup := p.universes[u.name]; dup {
			return nil, fmt.Errorf("%w: duplicate universe %q", ErrInvalidUniverse, u.name)
		}
		p.universes[u.name] = u
	}

	var errs []error
	for _, pl := range placements {
		f := pl.Fixture
		if _, dup := p.fixtures[f.name]; dup {
			return nil, fmt.Errorf("%w: duplicate fixture %q", ErrInvalidFixture, f.name)
		}
		p.fixtures[f.name] = f
		if pl.Universe == "" {
			continue
		}
		u, ok := p.universes[pl.Universe]
		if !ok {
			return nil, fmt.Errorf("%w: fixture %s references %q", ErrUnknownUniverse, f.name, pl.Universe)
		}
		// Keep going so the operator sees every overlap at once.
		if err := f.Assign(u, pl.Start); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return p, nil
}

// Universe returns a universe by name.
func (p *Patch) Universe(name string) (*Universe, bool) {
	u, ok := p.universes[name]
	return u, ok
}

// Universes returns all universes sorted by name.
func (p *Patch) Universes() []*Universe {
	out := make([]*Universe, 0, len(p.universes))
	for _, u := range p.universes {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// Fixture returns a fixture by name.
func (p *Patch) Fixture(name string) (*Fixture, bool) {
	f, ok := p.fixtures[name]
	return f, ok
}

// Resolve maps a cue value key and channel reference to a universe and an
// absolute channel. Keys starting with "@" are fixture references; anything
// else names a universe and the channel must be a decimal index.
func (p *Patch) Resolve(key, channel string) (*Universe, int, error) {
	if name, ok := strings.CutPrefix(key, FixturePrefix); ok {
		return p.resolveFixture(name, channel)
	}

	u, ok := p.universes[key]
	if !ok {
		return nil, 0, fmt.Errorf("%w: %q", ErrUnknownUniverse, key)
	}
	ch, err := strconv.Atoi(channel)
	if err != nil || ch < 0 || ch >= u.Len() {
		return nil, 0, fmt.Errorf("%w: %s:%s", ErrUnknownChannel, key, channel)
	}
	return u, ch, nil
}

func (p *Patch) resolveFixture(name, channel string) (*Universe, int, error) {
	if f, ok := p.fixtures[name]; ok {
		uname, ch, err := f.ResolveChannel(channel)
		if err != nil {
			return nil, 0, err
		}
		return p.universes[uname], ch, nil
	}

	if p.indirect != nil {
		if uname, start, ok := p.indirect.ResolveFixtureIndirection(name); ok {
			u, ok := p.universes[uname]
			if !ok {
				return nil, 0, fmt.Errorf("%w: %q via fixture %s", ErrUnknownUniverse, uname, name)
			}
			offset, err := strconv.Atoi(channel)
			if err != nil || offset < 0 || start+offset >= u.Len() {
				return nil, 0, fmt.Errorf("%w: %s:%s", ErrUnknownChannel, name, channel)
			}
			return u, start + offset, nil
		}
	}
	return nil, 0, fmt.Errorf("%w: %q", ErrUnknownFixture, name)
}
