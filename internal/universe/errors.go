package universe

import "errors"

// Configuration errors. These abort the patch being built; nothing already
// installed is modified.
var (
	// ErrConflict is returned when a fixture would overlap channels owned by another fixture.
	ErrConflict = errors.New("universe: channel conflict")

	// ErrOutOfRange is returned when a fixture does not fit inside its universe.
	ErrOutOfRange = errors.New("universe: channel out of range")

	// ErrInvalidFixture is returned when a fixture definition is malformed.
	ErrInvalidFixture = errors.New("universe: invalid fixture")

	// ErrInvalidUniverse is returned when a universe definition is malformed.
	ErrInvalidUniverse = errors.New("universe: invalid universe")
)

// Resolution errors. Callers treat these as "value currently unrouted".
var (
	// ErrUnknownUniverse is returned when a value key names no universe.
	ErrUnknownUniverse = errors.New("universe: unknown universe")

	// ErrUnknownFixture is returned when a fixture reference names no fixture.
	ErrUnknownFixture = errors.New("universe: unknown fixture")

	// ErrUnknownChannel is returned when a channel reference does not exist.
	ErrUnknownChannel = errors.New("universe: unknown channel")

	// ErrUnassigned is returned when resolving a channel of a fixture with no assignment.
	ErrUnassigned = errors.New("universe: fixture not assigned")
)
