package universe

import (
	"fmt"
	"strconv"
	"strings"
)

// Role describes what a fixture channel controls.
type Role string

// Channel roles.
const (
	RoleRed    Role = "red"
	RoleGreen  Role = "green"
	RoleBlue   Role = "blue"
	RoleValue  Role = "value"
	RoleDim    Role = "dim"
	RoleCustom Role = "custom"
	RoleFine   Role = "fine"
)

// ParseRole accepts the role names used in fixture definitions.
// "intensity" is an alias for value.
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleRed, RoleGreen, RoleBlue, RoleValue, RoleDim, RoleCustom, RoleFine:
		return r, nil
	case "intensity":
		return RoleValue, nil
	case "":
		return RoleCustom, nil
	default:
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidFixture, s)
	}
}

// Channel is one channel descriptor of a fixture.
type Channel struct {
	Name string
	Role Role

	// Args holds role arguments. For RoleFine, Args[0] is the index of the
	// coarse channel this one refines.
	Args []int
}

// Fixture is a named contiguous channel range that may be assigned to a
// universe at a start address.
type Fixture struct {
	name     string
	channels []Channel
	byName   map[string]int

	universe *Universe
	start    int
}

// NewFixture validates a channel list and returns an unassigned fixture.
func NewFixture(name string, channels []Channel) (*Fixture, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidFixture)
	}
	if len(channels) == 0 {
		return nil, fmt.Errorf("%w: %s has no channels", ErrInvalidFixture, name)
	}

	f := &Fixture{
		name:     name,
		channels: make([]Channel, len(channels)),
		byName:   make(map[string]int, len(channels)),
	}
	for i, ch := range channels {
		if ch.Name == "" {
			ch.Name = "channel" + strconv.Itoa(i)
		}
		if _, dup := f.byName[ch.Name]; dup {
			return nil, fmt.Errorf("%w: %s: duplicate channel name %q", ErrInvalidFixture, name, ch.Name)
		}
		if ch.Role == RoleFine {
			if len(ch.Args) == 0 || ch.Args[0] < 0 || ch.Args[0] >= len(channels) || ch.Args[0] == i {
				return nil, fmt.Errorf("%w: %s: fine channel %q needs a valid coarse index", ErrInvalidFixture, name, ch.Name)
			}
		}
		f.byName[ch.Name] = i
		f.channels[i] = ch
	}
	return f, nil
}

// Name returns the fixture name.
func (f *Fixture) Name() string { return f.name }

// Channels returns a copy of the channel descriptors.
func (f *Fixture) Channels() []Channel {
	out := make([]Channel, len(f.channels))
	copy(out, f.channels)
	return out
}

// Assignment returns the universe name and start address, if assigned.
func (f *Fixture) Assignment() (universe string, start int, ok bool) {
	if f.universe == nil {
		return "", 0, false
	}
	return f.universe.name, f.start, true
}

// Assign maps the fixture onto u starting at start. Any previous ownership
// is released first. On conflict the fixture is left unassigned and the
// error names the fixture already holding the channel.
func (f *Fixture) Assign(u *Universe, start int) error {
	f.Unassign()

	end := start + len(f.channels)
	if start < 0 || end > u.Len() {
		return fmt.Errorf("%w: %s needs channels %d-%d but %s has %d",
			ErrOutOfRange, f.name, start, end-1, u.name, u.Len())
	}
	for ch := start; ch < end; ch++ {
		if owner := u.owners[ch]; owner != "" && owner != f.name {
			return fmt.Errorf("%w: %s overlaps fixture %s at %s:%d",
				ErrConflict, f.name, owner, u.name, ch)
		}
	}
	for ch := start; ch < end; ch++ {
		u.owners[ch] = f.name
	}
	f.universe = u
	f.start = start
	return nil
}

// Unassign releases the fixture's channels.
func (f *Fixture) Unassign() {
	if f.universe == nil {
		return
	}
	for ch := f.start; ch < f.start+len(f.channels) && ch < len(f.universe.owners); ch++ {
		if f.universe.owners[ch] == f.name {
			f.universe.owners[ch] = ""
		}
	}
	f.universe = nil
	f.start = 0
}

// ChannelIndex finds a channel by name, falling back to a decimal index.
func (f *Fixture) ChannelIndex(ref string) (int, error) {
	if i, ok := f.byName[ref]; ok {
		return i, nil
	}
	if i, err := strconv.Atoi(ref); err == nil && i >= 0 && i < len(f.channels) {
		return i, nil
	}
	return 0, fmt.Errorf("%w: %s has no channel %q", ErrUnknownChannel, f.name, ref)
}

// ResolveChannel maps a channel reference to (universe, absolute channel).
func (f *Fixture) ResolveChannel(ref string) (string, int, error) {
	i, err := f.ChannelIndex(ref)
	if err != nil {
		return "", 0, err
	}
	if f.universe == nil {
		return "", 0, fmt.Errorf("%w: %s", ErrUnassigned, f.name)
	}
	return f.universe.name, f.start + i, nil
}
