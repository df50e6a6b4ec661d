package output

import "errors"

var (
	// ErrUnknownType is returned for an output type other than artnet, tag or none.
	ErrUnknownType = errors.New("output: unknown output type")

	// ErrBadAddress is returned when an Art-Net address cannot be resolved.
	ErrBadAddress = errors.New("output: invalid address")

	// ErrBadUniverse is returned for an Art-Net port address outside 0-32767.
	ErrBadUniverse = errors.New("output: invalid art-net universe")

	// ErrNoPublisher is returned for a tag output when the tag bus is disabled.
	ErrNoPublisher = errors.New("output: tag output needs the tag bus")
)
