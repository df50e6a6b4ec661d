package main

import (
	"fmt"
	"io"

	"github.com/nerrad567/gray-logic-show/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-show/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-show/internal/output"
	"github.com/nerrad567/gray-logic-show/internal/show"
	"github.com/nerrad567/gray-logic-show/internal/tagbus"
	"github.com/nerrad567/gray-logic-show/internal/universe"
)

// buildPatch creates every configured universe with its output sink and
// places the configured fixtures. With a tag bus, unpatched fixtures resolve
// through fixture/ tags and tag-output universes publish on the bus.
//
// The sinks are returned so the caller can close the ones holding sockets.
func buildPatch(cfg *config.Config, bus *tagbus.Bus) (*universe.Patch, []universe.Sink, error) {
	var pub output.FramePublisher
	var indirect universe.Indirection
	if bus != nil {
		pub = bus
		indirect = bus
	}

	universes := make([]*universe.Universe, 0, len(cfg.Universes))
	sinks := make([]universe.Sink, 0, len(cfg.Universes))
	for _, uc := range cfg.Universes {
		sink, err := output.New(uc, pub)
		if err != nil {
			closeSinksQuiet(sinks)
			return nil, nil, fmt.Errorf("universe %s: %w", uc.Name, err)
		}
		sinks = append(sinks, sink)

		u, err := universe.New(uc.Name, uc.Channels, sink)
		if err != nil {
			closeSinksQuiet(sinks)
			return nil, nil, err
		}
		u.SetRefreshRate(uc.FPS)
		universes = append(universes, u)
	}

	placements := make([]universe.Placement, 0, len(cfg.Fixtures))
	for _, fc := range cfg.Fixtures {
		f, err := buildFixture(fc)
		if err != nil {
			closeSinksQuiet(sinks)
			return nil, nil, err
		}
		placements = append(placements, universe.Placement{Fixture: f, Universe: fc.Universe, Start: fc.Address})
	}

	patch, err := universe.NewPatch(universes, placements, indirect)
	if err != nil {
		closeSinksQuiet(sinks)
		return nil, nil, err
	}
	return patch, sinks, nil
}

func buildFixture(fc config.FixtureConfig) (*universe.Fixture, error) {
	channels := make([]universe.Channel, 0, len(fc.Channels))
	for _, cc := range fc.Channels {
		role, err := universe.ParseRole(cc.Role)
		if err != nil {
			return nil, fmt.Errorf("fixture %s channel %s: %w", fc.Name, cc.Name, err)
		}
		channels = append(channels, universe.Channel{Name: cc.Name, Role: role, Args: cc.Args})
	}
	return universe.NewFixture(fc.Name, channels)
}

func closeSinksQuiet(sinks []universe.Sink) {
	for _, s := range sinks {
		if c, ok := s.(io.Closer); ok {
			c.Close() //nolint:errcheck // already failing
		}
	}
}

// ─── Observer fan-out ───

// cueRecorder stores cue entries for later analysis.
type cueRecorder interface {
	WriteCueEntry(scene, cue string)
}

// cueWriter returns c as a cueRecorder, or nil when InfluxDB is disabled.
func cueWriter(c *influxdb.Client) cueRecorder {
	if c == nil {
		return nil
	}
	return c
}

// broadcaster is the WebSocket hub as seen by the observer.
type broadcaster interface {
	Broadcast(channel string, payload any)
}

// showObserver forwards board pushes to WebSocket clients and records cue
// entries in the time-series database.
type showObserver struct {
	hub  broadcaster
	cues cueRecorder
}

func (o *showObserver) Broadcast(channel string, payload any) {
	o.hub.Broadcast(channel, payload)

	if o.cues == nil || channel != show.ChannelScenes {
		return
	}
	if ev, ok := payload.(show.Event); ok && ev.Type == "cue.enter" {
		o.cues.WriteCueEntry(ev.Scene, ev.Cue)
	}
}
