package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/nerrad567/gray-logic-show/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-show/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-show/internal/tagbus"
	"github.com/nerrad567/gray-logic-show/internal/universe"
)

// patchTarget is the board as seen by the reloader.
type patchTarget interface {
	Configure(p *universe.Patch)
}

// patchReloader rebuilds the patch from the configuration file and swaps it
// into board. It owns the output sinks of the current patch from the moment
// they are built, so they are closed on every exit path.
type patchReloader struct {
	mu    sync.Mutex
	path  string
	bus   *tagbus.Bus
	board patchTarget
	sinks []universe.Sink
	log   *logging.Logger
}

func newPatchReloader(path string, bus *tagbus.Bus, sinks []universe.Sink, log *logging.Logger) *patchReloader {
	return &patchReloader{path: path, bus: bus, sinks: sinks, log: log}
}

// Reload re-reads the universes and fixtures from the configuration file.
// On any error the running patch and its outputs are left untouched. Other
// settings are only read at startup.
func (r *patchReloader) Reload() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cfg, err := config.Load(r.path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	patch, sinks, err := buildPatch(cfg, r.bus)
	if err != nil {
		return fmt.Errorf("building patch: %w", err)
	}

	r.board.Configure(patch)
	old := r.sinks
	r.sinks = sinks
	closeSinks(old, r.log)

	r.log.Info("patch reloaded", "path", r.path, "universes", len(cfg.Universes), "fixtures", len(cfg.Fixtures))
	return nil
}

// Close closes the outputs of the current patch.
func (r *patchReloader) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	closeSinks(r.sinks, r.log)
	r.sinks = nil
}

// watch reloads on every SIGHUP until ctx is cancelled.
func (r *patchReloader) watch(ctx context.Context) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := r.Reload(); err != nil {
				r.log.Error("patch reload failed, keeping current patch", "error", err)
			}
		}
	}
}
