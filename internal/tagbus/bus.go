package tagbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-show/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-show/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-show/internal/rules"
)

// FixtureTagPrefix marks tags that patch virtual fixtures.
const FixtureTagPrefix = "fixture/"

// VariablePrefix prefixes tag names when they are mirrored into the rule engine.
const VariablePrefix = "tag/"

// Client is the subset of the MQTT client the bus needs.
type Client interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	Publish(topic string, payload []byte, qos byte, retained bool) error
	PublishAsync(topic string, payload []byte, qos byte, retained bool) error
}

// Show is the part of the show board driven by the bus.
type Show interface {
	ApplyCueTag(tag, value string) error
	ApplyRemoteCue(scene, cue string, at float64) error
	Recache()
	Now() float64
}

// Variables receives tag values as scripting variables.
type Variables interface {
	SetVariable(name string, value any)
}

// Logger defines the logging interface used by the bus.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// cueMessage is the payload of a cue sync topic.
type cueMessage struct {
	Node string  `json:"node"`
	Cue  string  `json:"cue"`
	Sent float64 `json:"sent"` // unix seconds at publish
	Age  float64 `json:"age"`  // seconds between cue entry and publish
}

// Bus caches tag values and bridges them to the show.
type Bus struct {
	client Client
	node   string
	qos    byte

	mu   sync.RWMutex
	tags map[string]any
	show Show
	vars Variables

	logger  Logger
	limiter *logging.RateLimiter
	wall    func() time.Time
}

// New creates a bus on client. nodeID identifies this show node in cue
// sync messages so it can ignore its own.
func New(client Client, nodeID string, qos byte) *Bus {
	return &Bus{
		client:  client,
		node:    nodeID,
		qos:     qos,
		tags:    make(map[string]any),
		logger:  noopLogger{},
		limiter: logging.NewRateLimiter(5 * time.Second),
		wall:    time.Now,
	}
}

// SetShow sets the show driven by tag changes and remote cues. The show
// usually depends on the bus for indirection and cue sync, so it is set
// after both exist and before Start.
func (b *Bus) SetShow(s Show) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.show = s
}

// SetVariables sets where tag values are mirrored.
func (b *Bus) SetVariables(v Variables) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.vars = v
}

// SetLogger sets the logger.
func (b *Bus) SetLogger(l Logger) {
	if l == nil {
		l = noopLogger{}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logger = l
}

// Start subscribes to tags and cue sync. Retained tag values arrive
// immediately after, so scenes should be loaded before Start.
func (b *Bus) Start() error {
	topics := mqtt.Topics{}
	if err := b.client.Subscribe(topics.AllTags(), b.qos, b.handleTag); err != nil {
		return fmt.Errorf("subscribing to tags: %w", err)
	}
	if err := b.client.Subscribe(topics.AllSceneCues(), b.qos, b.handleCue); err != nil {
		return fmt.Errorf("subscribing to cue sync: %w", err)
	}
	return nil
}

// Stop unsubscribes from the bus.
func (b *Bus) Stop() error {
	topics := mqtt.Topics{}
	return errors.Join(
		b.client.Unsubscribe(topics.AllTags()),
		b.client.Unsubscribe(topics.AllSceneCues()),
	)
}

// ─── Tags ───

// Tag returns the cached value of a tag.
func (b *Bus) Tag(name string) (any, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.tags[name]
	return v, ok
}

// Tags returns a snapshot of every cached tag.
func (b *Bus) Tags() map[string]any {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return maps.Clone(b.tags)
}

// SetTag publishes a retained tag value. The cache is updated when the
// broker echoes the value back. A nil value clears the tag.
func (b *Bus) SetTag(name string, value any) error {
	if err := validateTagName(name); err != nil {
		return err
	}
	var payload []byte
	if value != nil {
		var err error
		if payload, err = json.Marshal(value); err != nil {
			return fmt.Errorf("encoding tag %s: %w", name, err)
		}
	}
	if err := b.client.Publish(mqtt.Topics{}.Tag(name), payload, b.qos, true); err != nil {
		return fmt.Errorf("publishing tag %s: %w", name, err)
	}
	return nil
}

func (b *Bus) handleTag(topic string, payload []byte) error {
	name, ok := mqtt.Topics{}.TagName(topic)
	if !ok {
		return nil
	}
	value := decodeValue(payload)

	b.mu.Lock()
	if value == nil {
		delete(b.tags, name)
	} else {
		b.tags[name] = value
	}
	show, vars, logger := b.show, b.vars, b.logger
	b.mu.Unlock()

	if vars != nil {
		vars.SetVariable(VariablePrefix+name, value)
	}
	if show == nil {
		return nil
	}

	if strings.HasPrefix(name, FixtureTagPrefix) {
		if value != nil {
			if _, _, err := parseIndirection(valueString(value)); err != nil {
				logger.Warn("ignoring fixture tag", "tag", name, "error", err)
			}
		}
		show.Recache()
		return nil
	}

	if err := show.ApplyCueTag(name, valueString(value)); err != nil {
		if b.limiter.Allow("claim:" + name) {
			logger.Error("cue claim from tag failed", "tag", name, "value", value, "error", err)
		}
	}
	return nil
}

// ResolveFixtureIndirection looks up fixture/<name>. It is called with the
// show state lock held and only takes the bus read lock.
func (b *Bus) ResolveFixtureIndirection(name string) (string, int, bool) {
	b.mu.RLock()
	v, ok := b.tags[FixtureTagPrefix+name]
	b.mu.RUnlock()
	if !ok {
		return "", 0, false
	}
	universe, start, err := parseIndirection(valueString(v))
	if err != nil {
		return "", 0, false
	}
	return universe, start, true
}

// ─── Cue sync ───

// PublishCue announces a cue entry to other nodes. It is called with the
// show state lock held and never waits on the network.
func (b *Bus) PublishCue(scene, cue string, at float64) {
	b.mu.RLock()
	show, logger := b.show, b.logger
	b.mu.RUnlock()

	msg := cueMessage{Node: b.node, Cue: cue, Sent: unixSeconds(b.wall())}
	if show != nil {
		msg.Age = max(show.Now()-at, 0)
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if err := b.client.PublishAsync(mqtt.Topics{}.SceneCue(scene), payload, b.qos, false); err != nil {
		if b.limiter.Allow("cue-sync") {
			logger.Warn("cue sync publish failed", "scene", scene, "cue", cue, "error", err)
		}
	}
}

func (b *Bus) handleCue(topic string, payload []byte) error {
	scene, ok := mqtt.Topics{}.SceneFromCueTopic(topic)
	if !ok {
		return nil
	}
	var msg cueMessage
	if err := json.Unmarshal(payload, &msg); err != nil || msg.Cue == "" {
		return fmt.Errorf("%w: cue sync for %s", ErrBadMessage, scene)
	}
	if msg.Node == b.node {
		return nil
	}

	b.mu.RLock()
	show, logger := b.show, b.logger
	b.mu.RUnlock()
	if show == nil {
		return nil
	}

	transit := max(unixSeconds(b.wall())-msg.Sent, 0)
	at := show.Now() - msg.Age - transit
	if err := show.ApplyRemoteCue(scene, msg.Cue, at); err != nil {
		logger.Debug("remote cue not applied", "scene", scene, "cue", msg.Cue, "node", msg.Node, "error", err)
	}
	return nil
}

// ─── Frames ───

// PublishFrame sends the values of a tag-backed universe. It never waits
// on the network.
func (b *Bus) PublishFrame(universe string, values []float32) error {
	payload, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("encoding frame: %w", err)
	}
	return b.client.PublishAsync(mqtt.Topics{}.UniverseFrame(universe), payload, 0, true)
}

// ─── Rule commands ───

// Commander returns a rule commander that handles "tag <name> <value>" on
// the bus and passes every other command to next.
func (b *Bus) Commander(next rules.Commander) rules.Commander {
	return commander{bus: b, next: next}
}

type commander struct {
	bus  *Bus
	next rules.Commander
}

func (c commander) Execute(ctx context.Context, scope, command string, args []string) error {
	if command != "tag" {
		return c.next.Execute(ctx, scope, command, args)
	}
	if len(args) != 2 {
		return fmt.Errorf("tag: want 2 arguments, got %d", len(args))
	}
	return c.bus.SetTag(args[0], decodeValue([]byte(args[1])))
}

// ─── Helpers ───

func validateTagName(name string) error {
	if name == "" || strings.ContainsAny(name, "+#") ||
		strings.HasPrefix(name, "/") || strings.HasSuffix(name, "/") {
		return fmt.Errorf("%w: %q", ErrInvalidTag, name)
	}
	return nil
}

// decodeValue reads a tag payload as JSON, falling back to the raw string.
// An empty payload is a cleared tag.
func decodeValue(payload []byte) any {
	if len(payload) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(payload, &v); err != nil {
		return string(payload)
	}
	return v
}

func valueString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	default:
		return rules.FormatValue(x)
	}
}

func parseIndirection(s string) (string, int, error) {
	i := strings.LastIndex(s, ":")
	if i <= 0 {
		return "", 0, fmt.Errorf("%w: %q", ErrBadIndirection, s)
	}
	start, err := strconv.Atoi(s[i+1:])
	if err != nil || start < 0 {
		return "", 0, fmt.Errorf("%w: %q", ErrBadIndirection, s)
	}
	return s[:i], start, nil
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
