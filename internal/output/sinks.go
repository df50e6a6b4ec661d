package output

import (
	"fmt"

	"github.com/nerrad567/gray-logic-show/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-show/internal/universe"
)

// Output types accepted in configuration.
const (
	TypeArtNet = "artnet"
	TypeTag    = "tag"
	TypeNone   = "none"
)

// FramePublisher sends frames of tag-backed universes. The tag bus
// implements it.
type FramePublisher interface {
	PublishFrame(universe string, values []float32) error
}

// Tag publishes frames on the tag bus.
type Tag struct {
	universe string
	pub      FramePublisher
}

// NewTag returns a sink publishing frames of the named universe.
func NewTag(universeName string, pub FramePublisher) *Tag {
	return &Tag{universe: universeName, pub: pub}
}

// PreFrame does nothing.
func (t *Tag) PreFrame() {}

// OnFrame publishes values without waiting for the broker.
func (t *Tag) OnFrame(values []float32) error {
	return t.pub.PublishFrame(t.universe, values)
}

// Null drops frames. It counts them for diagnostics.
type Null struct {
	Frames int
}

// PreFrame does nothing.
func (n *Null) PreFrame() {}

// OnFrame drops values.
func (n *Null) OnFrame([]float32) error {
	n.Frames++
	return nil
}

// New builds the sink configured for a universe. pub may be nil when no
// universe uses a tag output.
func New(cfg config.UniverseConfig, pub FramePublisher) (universe.Sink, error) {
	switch cfg.Output.Type {
	case TypeArtNet:
		return NewArtNet(cfg.Output.Address, cfg.Output.Universe)
	case TypeTag:
		if pub == nil {
			return nil, fmt.Errorf("%w: universe %s", ErrNoPublisher, cfg.Name)
		}
		return NewTag(cfg.Name, pub), nil
	case TypeNone, "":
		return &Null{}, nil
	default:
		return nil, fmt.Errorf("%w: %q for universe %s", ErrUnknownType, cfg.Output.Type, cfg.Name)
	}
}
