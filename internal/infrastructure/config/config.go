package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Gray Logic Show.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site      SiteConfig       `yaml:"site"`
	Database  DatabaseConfig   `yaml:"database"`
	MQTT      MQTTConfig       `yaml:"mqtt"`
	API       APIConfig        `yaml:"api"`
	WebSocket WebSocketConfig  `yaml:"websocket"`
	InfluxDB  InfluxDBConfig   `yaml:"influxdb"`
	Logging   LoggingConfig    `yaml:"logging"`
	Security  SecurityConfig   `yaml:"security"`
	Render    RenderConfig     `yaml:"render"`
	Universes []UniverseConfig `yaml:"universes"`
	Fixtures  []FixtureConfig  `yaml:"fixtures"`
	Scenes    ScenesConfig     `yaml:"scenes"`
	Sound     SoundConfig      `yaml:"sound"`
	MIDI      MIDIConfig       `yaml:"midi"`
	OSC       OSCConfig        `yaml:"osc"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT token settings.
// An empty secret disables bearer token checks on the control API.
type JWTConfig struct {
	Secret string `yaml:"secret"`
}

// RenderConfig contains compositor loop settings.
type RenderConfig struct {
	// FPS is the tick rate of the compositor loop.
	// Default: 40
	FPS int `yaml:"fps"`

	// MetricsInterval is the number of ticks between metric points.
	// Zero disables render metrics.
	MetricsInterval int `yaml:"metrics_interval"`

	// PushTimeoutMS bounds how long an observer push may wait for the push lock.
	// Default: 250
	PushTimeoutMS int `yaml:"push_timeout_ms"`
}

// UniverseConfig describes one output universe.
type UniverseConfig struct {
	Name string `yaml:"name"`

	// Channels is the buffer length. Slot 0 is the DMX start code, so a full
	// DMX universe is 513 channels.
	Channels int `yaml:"channels"`

	// FPS is the keepalive refresh rate for unchanged frames. Zero sends only on change.
	FPS int `yaml:"fps"`

	Output OutputConfig `yaml:"output"`
}

// OutputConfig selects the physical or virtual sink behind a universe.
type OutputConfig struct {
	// Type is one of "artnet", "tag" or "none".
	Type string `yaml:"type"`

	// Address is the Art-Net destination (host:port).
	Address string `yaml:"address"`

	// Universe is the 15-bit Art-Net port address.
	Universe int `yaml:"universe"`
}

// FixtureConfig patches a fixture onto a universe.
type FixtureConfig struct {
	Name     string                 `yaml:"name"`
	Universe string                 `yaml:"universe"`
	Address  int                    `yaml:"address"`
	Channels []FixtureChannelConfig `yaml:"channels"`
}

// FixtureChannelConfig is one channel descriptor of a fixture.
type FixtureChannelConfig struct {
	Name string `yaml:"name"`
	Role string `yaml:"role"`
	Args []int  `yaml:"args,omitempty"`
}

// ScenesConfig controls scene loading at boot.
type ScenesConfig struct {
	// Directory holds YAML scene files imported when the database has no scenes.
	Directory string `yaml:"directory"`

	// AutoStart lists scene names to activate after loading.
	AutoStart []string `yaml:"auto_start"`
}

// SoundConfig contains sound playback settings.
type SoundConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Directory  string `yaml:"directory"`
	SampleRate int    `yaml:"sample_rate"`
}

// MIDIConfig contains MIDI trigger input settings.
type MIDIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    string `yaml:"port"`

	// Channel filters input to one MIDI channel (0-15). -1 accepts all channels.
	Channel int `yaml:"channel"`

	// Faders maps controller numbers to scene names driven by CC alpha.
	Faders map[int]string `yaml:"faders"`
}

// OSCConfig contains OSC trigger listener settings.
type OSCConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: GRAYSHOW_SECTION_KEY
// For example: GRAYSHOW_DATABASE_PATH, GRAYSHOW_API_PORT
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)
	cfg.applyUniverseDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "show-001",
			Name: "Gray Logic Show",
		},
		Database: DatabaseConfig{
			Path:        "./data/grayshow.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "grayshow-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Render: RenderConfig{
			FPS:             40,
			MetricsInterval: 400,
			PushTimeoutMS:   250,
		},
		Sound: SoundConfig{
			Directory:  "./sounds",
			SampleRate: 44100,
		},
		MIDI: MIDIConfig{
			Channel: -1,
		},
		OSC: OSCConfig{
			Listen: ":9000",
		},
	}
}

// applyUniverseDefaults fills per-universe defaults that YAML cannot express
// for list elements.
func (c *Config) applyUniverseDefaults() {
	for i := range c.Universes {
		u := &c.Universes[i]
		if u.Channels == 0 {
			u.Channels = 513
		}
		if u.Output.Type == "" {
			u.Output.Type = "none"
		}
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: GRAYSHOW_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GRAYSHOW_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("GRAYSHOW_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("GRAYSHOW_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GRAYSHOW_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("GRAYSHOW_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("GRAYSHOW_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	if v := os.Getenv("GRAYSHOW_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("GRAYSHOW_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}

	if v := os.Getenv("GRAYSHOW_RENDER_FPS"); v != "" {
		if fps, err := strconv.Atoi(v); err == nil {
			cfg.Render.FPS = fps
		}
	}
}

// Validate checks the configuration for errors.
//
// Every problem is collected so an operator sees the whole list at once.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	const minJWTSecretLength = 32
	if c.Security.JWT.Secret != "" && len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters when set")
	}

	if c.Render.FPS < 1 || c.Render.FPS > 200 {
		errs = append(errs, "render.fps must be between 1 and 200")
	}

	errs = append(errs, c.validateUniverses()...)
	errs = append(errs, c.validateFixtures()...)

	if c.MIDI.Channel < -1 || c.MIDI.Channel > 15 {
		errs = append(errs, "midi.channel must be between -1 and 15")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (c *Config) validateUniverses() []string {
	var errs []string
	seen := make(map[string]bool, len(c.Universes))
	for i, u := range c.Universes {
		switch {
		case u.Name == "":
			errs = append(errs, fmt.Sprintf("universes[%d].name is required", i))
		case strings.HasPrefix(u.Name, "@"):
			errs = append(errs, fmt.Sprintf("universes[%d].name %q must not start with @", i, u.Name))
		case seen[u.Name]:
			errs = append(errs, fmt.Sprintf("universes[%d].name %q is duplicated", i, u.Name))
		}
		seen[u.Name] = true

		if u.Channels < 1 || u.Channels > 65536 {
			errs = append(errs, fmt.Sprintf("universes[%d].channels must be between 1 and 65536", i))
		}
		switch u.Output.Type {
		case "none", "tag":
		case "artnet":
			if u.Output.Address == "" {
				errs = append(errs, fmt.Sprintf("universes[%d].output.address is required for artnet", i))
			}
			if u.Output.Universe < 0 || u.Output.Universe > 0x7FFF {
				errs = append(errs, fmt.Sprintf("universes[%d].output.universe must be between 0 and 32767", i))
			}
		default:
			errs = append(errs, fmt.Sprintf("universes[%d].output.type %q is not one of artnet, tag, none", i, u.Output.Type))
		}
	}
	return errs
}

// validateFixtures checks structural fields only. Channel overlap is checked
// by the universe package when fixtures are assigned.
func (c *Config) validateFixtures() []string {
	var errs []string
	seen := make(map[string]bool, len(c.Fixtures))
	for i, f := range c.Fixtures {
		if f.Name == "" {
			errs = append(errs, fmt.Sprintf("fixtures[%d].name is required", i))
		} else if seen[f.Name] {
			errs = append(errs, fmt.Sprintf("fixtures[%d].name %q is duplicated", i, f.Name))
		}
		seen[f.Name] = true

		if len(f.Channels) == 0 {
			errs = append(errs, fmt.Sprintf("fixtures[%d].channels must not be empty", i))
		}
		if f.Universe != "" && f.Address < 0 {
			errs = append(errs, fmt.Sprintf("fixtures[%d].address must not be negative", i))
		}
	}
	return errs
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// RenderInterval returns the compositor tick interval.
func (c *Config) RenderInterval() time.Duration {
	return time.Second / time.Duration(c.Render.FPS)
}

// PushTimeout returns the observer push lock timeout.
func (c *Config) PushTimeout() time.Duration {
	return time.Duration(c.Render.PushTimeoutMS) * time.Millisecond
}
