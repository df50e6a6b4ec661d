// Gray Logic Show - real-time lighting and show control core
//
// This is the main entry point for the Gray Logic Show application. It
// composites scenes of cues onto DMX universes and drives them from:
//   - the REST/WebSocket control API
//   - MIDI notes and faders, and OSC messages
//   - the MQTT tag bus (cue tags, cue sync between nodes, fixture indirection)
//   - per-cue rules
//
// Art-Net and tag-bus universes are sent at the render rate; cue sounds play
// through the local audio device.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
	"golang.org/x/sync/errgroup"

	_ "github.com/nerrad567/gray-logic-show/migrations"

	"github.com/nerrad567/gray-logic-show/internal/api"
	"github.com/nerrad567/gray-logic-show/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-show/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-show/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-show/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-show/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-show/internal/rules"
	"github.com/nerrad567/gray-logic-show/internal/show"
	"github.com/nerrad567/gray-logic-show/internal/sound"
	"github.com/nerrad567/gray-logic-show/internal/tagbus"
	"github.com/nerrad567/gray-logic-show/internal/trigger"
	"github.com/nerrad567/gray-logic-show/internal/universe"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// shutdownSaveTimeout bounds the final scene save on shutdown.
const shutdownSaveTimeout = 5 * time.Second

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // composition root: each block wires one subsystem
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Gray Logic Show",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")
	repo := show.NewSQLiteRepository(db.DB)

	// Connect to MQTT broker and build the tag bus (optional)
	var mqttClient *mqtt.Client
	var bus *tagbus.Bus
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		bus = tagbus.New(mqttClient, cfg.MQTT.Broker.ClientID, byte(cfg.MQTT.QoS)) //nolint:gosec // qos validated 0-2
		bus.SetLogger(log)
	} else {
		log.Info("MQTT disabled, tag bus unavailable")
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB, cfg.Site.ID)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Patch universes and fixtures
	patch, sinks, err := buildPatch(cfg, bus)
	if err != nil {
		return fmt.Errorf("building patch: %w", err)
	}
	reloader := newPatchReloader(configPath, bus, sinks, log)
	defer reloader.Close()
	log.Info("patch built", "universes", len(cfg.Universes), "fixtures", len(cfg.Fixtures))

	// Sound (optional)
	var player *sound.Player
	if cfg.Sound.Enabled {
		player, err = sound.NewSpeakerPlayer(cfg.Sound)
		if err != nil {
			return fmt.Errorf("starting sound output: %w", err)
		}
		player.SetLogger(log)
		log.Info("sound output started", "directory", cfg.Sound.Directory, "sample_rate", cfg.Sound.SampleRate)
	}

	// Board and its collaborators
	engine := rules.NewEngine(nil, log)
	hub := api.NewHub(cfg.WebSocket, log)
	deps := show.Deps{
		Patch:           patch,
		Rules:           engine,
		Observer:        &showObserver{hub: hub, cues: cueWriter(influxClient)},
		Logger:          log,
		PushTimeout:     time.Duration(cfg.Render.PushTimeoutMS) * time.Millisecond,
		MetricsInterval: cfg.Render.MetricsInterval,
	}
	if player != nil {
		deps.Sound = player
	}
	if bus != nil {
		deps.Sync = bus
	}
	if influxClient != nil {
		deps.Metrics = influxClient
	}
	board := show.NewBoard(deps)
	reloader.board = board

	var commander rules.Commander = board
	if bus != nil {
		commander = bus.Commander(board)
		bus.SetShow(board)
		bus.SetVariables(engine)
	}
	engine.SetCommander(commander)
	if player != nil {
		player.SetOnEnd(board.SoundEnded)
	}

	// Load scenes: database first, scene files when the database is empty
	if loadErr := loadScenes(ctx, board, repo, cfg.Scenes, log); loadErr != nil {
		return fmt.Errorf("loading scenes: %w", loadErr)
	}
	autoStart(board, cfg.Scenes.AutoStart, log)

	// Save scene state on the way out, after the render loop has stopped.
	defer func() {
		saveCtx, cancel := context.WithTimeout(context.Background(), shutdownSaveTimeout)
		defer cancel()
		if saveErr := board.SaveAll(saveCtx, repo); saveErr != nil {
			log.Error("error saving scenes", "error", saveErr)
		} else {
			log.Info("scenes saved", "count", len(board.Scenes()))
		}
	}()

	// Render loop and rule dispatch
	loopCtx, stopLoops := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(loopCtx)
	g.Go(func() error {
		board.Run(gctx, time.Second/time.Duration(cfg.Render.FPS))
		return nil
	})
	g.Go(func() error {
		engine.Run(gctx)
		return nil
	})
	g.Go(func() error {
		reloader.watch(gctx)
		return nil
	})
	defer func() {
		stopLoops()
		if waitErr := g.Wait(); waitErr != nil {
			log.Error("background loop error", "error", waitErr)
		}
		log.Info("render loop stopped")
	}()
	log.Info("render loop started", "fps", cfg.Render.FPS)

	// Tag bus: subscribe after scenes exist so retained cue tags find them
	if bus != nil {
		if startErr := bus.Start(); startErr != nil {
			return fmt.Errorf("starting tag bus: %w", startErr)
		}
		defer func() {
			if stopErr := bus.Stop(); stopErr != nil {
				log.Error("error stopping tag bus", "error", stopErr)
			}
		}()
		log.Info("tag bus started")
	}

	// Triggers
	if cfg.MIDI.Enabled {
		m := trigger.NewMIDI(cfg.MIDI, board)
		m.SetLogger(log)
		if startErr := m.Start(cfg.MIDI.Port); startErr != nil {
			log.Warn("MIDI input unavailable", "port", cfg.MIDI.Port, "error", startErr)
		} else {
			defer m.Stop()
			log.Info("MIDI input started", "port", cfg.MIDI.Port)
		}
	}
	if cfg.OSC.Enabled {
		o := trigger.NewOSC(board)
		o.SetLogger(log)
		if startErr := o.Start(ctx, cfg.OSC.Listen); startErr != nil {
			return fmt.Errorf("starting OSC listener: %w", startErr)
		}
		defer o.Stop()
	}

	// API server
	apiDeps := api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Security: cfg.Security,
		Logger:   log,
		Board:    board,
		Repo:     repo,
		DB:       db.DB,
		Hub:      hub,
		Reloader: reloader,
		Version:  version,
	}
	if bus != nil {
		apiDeps.Tags = bus
	}
	if mqttClient != nil {
		apiDeps.MQTT = mqttClient
	}
	apiServer, err := api.New(apiDeps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := apiServer.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order: API, triggers, tag bus, render
	// loop, scene save, sinks, InfluxDB, MQTT, database.

	log.Info("Gray Logic Show stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses GRAYSHOW_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("GRAYSHOW_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
// mqttClient and influxClient may be nil when disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}

// loadScenes imports stored scenes. When the database holds none, scene
// files from the configured directory are imported instead. A scene that
// fails to import is logged and skipped.
func loadScenes(ctx context.Context, board *show.Board, repo show.Repository, cfg config.ScenesConfig, log *logging.Logger) error {
	source := "database"
	loaded, err := board.LoadAll(ctx, repo)
	if errors.Is(err, show.ErrStorage) {
		return err
	}

	if loaded == 0 && err == nil && cfg.Directory != "" {
		source = cfg.Directory
		scenes, readErr := show.LoadSceneDir(cfg.Directory)
		if readErr != nil && !errors.Is(readErr, os.ErrNotExist) {
			log.Warn("some scene files could not be read", "directory", cfg.Directory, "error", readErr)
		}
		loaded, err = board.ImportAll(scenes)
	}
	if err != nil {
		log.Warn("scenes skipped", "source", source, "error", err)
	}

	log.Info("scenes loaded", "source", source, "count", loaded, "active", board.ActiveScenes())
	return nil
}

// autoStart activates the configured scenes that are not already running.
func autoStart(board *show.Board, names []string, log *logging.Logger) {
	for _, name := range names {
		sc, err := board.Scene(name)
		if err != nil {
			log.Warn("auto-start scene not found", "scene", name)
			continue
		}
		if sc.Active() {
			continue
		}
		if err := sc.Go(); err != nil {
			log.Warn("auto-start failed", "scene", name, "error", err)
		}
	}
}

// closeSinks closes every output that holds a socket.
func closeSinks(sinks []universe.Sink, log *logging.Logger) {
	for _, s := range sinks {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil {
				log.Error("error closing output", "error", err)
			}
		}
	}
}
