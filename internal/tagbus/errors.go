package tagbus

import "errors"

var (
	// ErrInvalidTag is returned for an empty tag name or one containing MQTT wildcards.
	ErrInvalidTag = errors.New("tagbus: invalid tag name")

	// ErrBadIndirection is returned when a fixture tag is not "<universe>:<start>".
	ErrBadIndirection = errors.New("tagbus: malformed fixture indirection")

	// ErrBadMessage is returned when a cue sync message cannot be decoded.
	ErrBadMessage = errors.New("tagbus: malformed message")
)
