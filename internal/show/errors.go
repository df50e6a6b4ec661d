package show

import (
	"errors"

	"github.com/nerrad567/gray-logic-show/internal/blend"
	"github.com/nerrad567/gray-logic-show/internal/rules"
	"github.com/nerrad567/gray-logic-show/internal/universe"
)

// Configuration errors: the operation is refused and nothing is changed.
var (
	// ErrDuplicateName is returned when a scene or cue name is already taken.
	ErrDuplicateName = errors.New("show: name already in use")

	// ErrInvalidName is returned when a cue or scene name uses reserved or illegal characters.
	ErrInvalidName = errors.New("show: invalid name")

	// ErrDuplicateNumber is returned when two cues in a scene share a number.
	ErrDuplicateNumber = errors.New("show: duplicate cue number")

	// ErrInvalidScene is returned when scene data fails validation.
	ErrInvalidScene = errors.New("show: invalid scene")

	// ErrCannotRemoveCue is returned when removing the default or the last cue.
	ErrCannotRemoveCue = errors.New("show: cue cannot be removed")
)

// Resolution errors: the single lookup fails, the scene otherwise proceeds.
var (
	// ErrSceneNotFound is returned when no scene has the given name or id.
	ErrSceneNotFound = errors.New("show: scene not found")

	// ErrNoSuchCue is returned when a cue name or number matches nothing.
	ErrNoSuchCue = errors.New("show: no such cue")

	// ErrNoMatch is returned when a glob matches no cue.
	ErrNoMatch = errors.New("show: no cue matches pattern")
)

// Runtime errors.
var (
	// ErrClaimWithoutCue is returned when an external cue claim blocks a
	// transition on a scene that has no current cue.
	ErrClaimWithoutCue = errors.New("show: cue claimed externally and scene has no current cue")

	// ErrPlayback is fired (as an "error" event) when a cue sound cannot play.
	ErrPlayback = errors.New("show: sound playback failed")

	// ErrStorage wraps failures reading from a scene repository.
	ErrStorage = errors.New("show: scene storage failed")

	// ErrUnknownCommand is returned by Execute for unsupported rule commands.
	ErrUnknownCommand = rules.ErrUnknownCommand
)

// IsConfigError reports whether err is a configuration-time error, which
// prevents the offending universe, fixture, scene or cue from being installed.
func IsConfigError(err error) bool {
	for _, target := range []error{
		ErrDuplicateName, ErrInvalidName, ErrDuplicateNumber, ErrInvalidScene, ErrCannotRemoveCue,
		universe.ErrConflict, universe.ErrOutOfRange, universe.ErrInvalidFixture, universe.ErrInvalidUniverse,
		blend.ErrUnknownBlend,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsResolutionError reports whether err means a name could not be resolved.
func IsResolutionError(err error) bool {
	for _, target := range []error{
		ErrSceneNotFound, ErrNoSuchCue, ErrNoMatch,
		universe.ErrUnknownUniverse, universe.ErrUnknownFixture, universe.ErrUnknownChannel, universe.ErrUnassigned,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
