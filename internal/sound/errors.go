package sound

import "errors"

var (
	// ErrUnsupportedFormat is returned for files that are neither WAV nor MP3.
	ErrUnsupportedFormat = errors.New("sound: unsupported audio format")

	// ErrUnknownOutput is returned when a cue names an output the player does not have.
	ErrUnknownOutput = errors.New("sound: unknown output")

	// ErrDecode is returned when a file cannot be opened or decoded.
	ErrDecode = errors.New("sound: decode failed")
)
