package tagbus

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-show/internal/infrastructure/mqtt"
)

// ─── Mock Dependencies ───

type published struct {
	topic    string
	payload  []byte
	retained bool
	async    bool
}

// fakeClient is an in-memory broker that delivers publishes to matching
// subscriptions synchronously.
type fakeClient struct {
	mu       sync.Mutex
	subs     map[string]mqtt.MessageHandler
	sent     []published
	failWith error
}

func newFakeClient() *fakeClient {
	return &fakeClient{subs: make(map[string]mqtt.MessageHandler)}
}

func (c *fakeClient) Subscribe(topic string, _ byte, h mqtt.MessageHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs[topic] = h
	return nil
}

func (c *fakeClient) Unsubscribe(topic string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subs, topic)
	return nil
}

func (c *fakeClient) Publish(topic string, payload []byte, _ byte, retained bool) error {
	return c.publish(published{topic: topic, payload: payload, retained: retained})
}

func (c *fakeClient) PublishAsync(topic string, payload []byte, _ byte, retained bool) error {
	return c.publish(published{topic: topic, payload: payload, retained: retained, async: true})
}

func (c *fakeClient) publish(p published) error {
	c.mu.Lock()
	if c.failWith != nil {
		c.mu.Unlock()
		return c.failWith
	}
	c.sent = append(c.sent, p)
	var handlers []mqtt.MessageHandler
	for pattern, h := range c.subs {
		if topicMatches(pattern, p.topic) {
			handlers = append(handlers, h)
		}
	}
	c.mu.Unlock()

	for _, h := range handlers {
		_ = h(p.topic, p.payload)
	}
	return nil
}

// deliver simulates a message from another publisher.
func (c *fakeClient) deliver(t *testing.T, topic string, payload []byte) error {
	t.Helper()
	c.mu.Lock()
	var handler mqtt.MessageHandler
	for pattern, h := range c.subs {
		if topicMatches(pattern, topic) {
			handler = h
		}
	}
	c.mu.Unlock()
	if handler == nil {
		t.Fatalf("no subscription matches %s", topic)
	}
	return handler(topic, payload)
}

func (c *fakeClient) last() published {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sent) == 0 {
		return published{}
	}
	return c.sent[len(c.sent)-1]
}

func topicMatches(pattern, topic string) bool {
	p := strings.Split(pattern, "/")
	s := strings.Split(topic, "/")
	for i, part := range p {
		if part == "#" {
			return true
		}
		if i >= len(s) {
			return false
		}
		if part != "+" && part != s[i] {
			return false
		}
	}
	return len(p) == len(s)
}

type claim struct{ tag, value string }

type remoteCue struct {
	scene, cue string
	at         float64
}

type mockShow struct {
	mu       sync.Mutex
	now      float64
	claims   []claim
	remote   []remoteCue
	recaches int
	claimErr error
}

func (s *mockShow) ApplyCueTag(tag, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.claims = append(s.claims, claim{tag, value})
	return s.claimErr
}

func (s *mockShow) ApplyRemoteCue(scene, cue string, at float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remote = append(s.remote, remoteCue{scene, cue, at})
	return nil
}

func (s *mockShow) Recache() {
	s.mu.Lock()
	s.recaches++
	s.mu.Unlock()
}

func (s *mockShow) Now() float64 { return s.now }

type mockVars struct {
	mu   sync.Mutex
	vars map[string]any
}

func (v *mockVars) SetVariable(name string, value any) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.vars == nil {
		v.vars = make(map[string]any)
	}
	v.vars[name] = value
}

type mockLogger struct {
	mu     sync.Mutex
	errors []string
	warns  []string
}

func (l *mockLogger) Debug(string, ...any) {}
func (l *mockLogger) Info(string, ...any)  {}
func (l *mockLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}
func (l *mockLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	l.errors = append(l.errors, msg)
	l.mu.Unlock()
}

type mockCommander struct {
	calls []string
}

func (c *mockCommander) Execute(_ context.Context, scope, command string, args []string) error {
	c.calls = append(c.calls, scope+":"+command+" "+strings.Join(args, " "))
	return nil
}

func newTestBus(t *testing.T) (*Bus, *fakeClient, *mockShow, *mockVars) {
	t.Helper()
	client := newFakeClient()
	show := &mockShow{now: 100}
	vars := &mockVars{}
	bus := New(client, "node-a", 1)
	bus.SetShow(show)
	bus.SetVariables(vars)
	if err := bus.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	return bus, client, show, vars
}

// =============================================================================
// Tag Tests
// =============================================================================

func TestSetTag_RoundTripsThroughBroker(t *testing.T) {
	bus, client, show, vars := newTestBus(t)

	if err := bus.SetTag("house", "blue"); err != nil {
		t.Fatalf("SetTag() error = %v", err)
	}
	sent := client.last()
	if sent.topic != "graylogic/show/tag/house" || !sent.retained || string(sent.payload) != `"blue"` {
		t.Errorf("published %+v", sent)
	}
	if v, ok := bus.Tag("house"); !ok || v != "blue" {
		t.Errorf("Tag(house) = %v, %v, want blue", v, ok)
	}
	if vars.vars["tag/house"] != "blue" {
		t.Errorf("variable tag/house = %v, want blue", vars.vars["tag/house"])
	}
	if len(show.claims) != 1 || show.claims[0] != (claim{"house", "blue"}) {
		t.Errorf("claims = %v, want [{house blue}]", show.claims)
	}
}

func TestHandleTag_Values(t *testing.T) {
	tests := []struct {
		name      string
		payload   string
		wantValue any
		wantClaim string
	}{
		{"json string", `"intro"`, "intro", "intro"},
		{"json number", `3`, 3.0, "3"},
		{"raw text", `intro`, "intro", "intro"},
		{"json bool", `true`, true, "true"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus, client, show, _ := newTestBus(t)
			if err := client.deliver(t, "graylogic/show/tag/look", []byte(tt.payload)); err != nil {
				t.Fatalf("handler error = %v", err)
			}
			if v, _ := bus.Tag("look"); v != tt.wantValue {
				t.Errorf("Tag(look) = %#v, want %#v", v, tt.wantValue)
			}
			if show.claims[0].value != tt.wantClaim {
				t.Errorf("claim value = %q, want %q", show.claims[0].value, tt.wantClaim)
			}
		})
	}
}

func TestHandleTag_EmptyPayloadReleases(t *testing.T) {
	bus, client, show, vars := newTestBus(t)

	_ = client.deliver(t, "graylogic/show/tag/look", []byte(`"a"`))
	_ = client.deliver(t, "graylogic/show/tag/look", nil)

	if _, ok := bus.Tag("look"); ok {
		t.Error("Tag(look) still cached after empty payload")
	}
	if got := show.claims[len(show.claims)-1]; got != (claim{"look", ""}) {
		t.Errorf("last claim = %v, want release", got)
	}
	if v, ok := vars.vars["tag/look"]; !ok || v != nil {
		t.Errorf("variable tag/look = %v, %v, want nil", v, ok)
	}
}

func TestHandleTag_ClaimErrorIsLogged(t *testing.T) {
	bus, client, show, _ := newTestBus(t)
	logger := &mockLogger{}
	bus.SetLogger(logger)
	show.claimErr = errors.New("no current cue")

	if err := client.deliver(t, "graylogic/show/tag/look", []byte(`"a"`)); err != nil {
		t.Errorf("handler error = %v, want nil", err)
	}
	_ = client.deliver(t, "graylogic/show/tag/look", []byte(`"b"`))
	if len(logger.errors) != 1 {
		t.Errorf("logged errors = %v, want one (rate limited)", logger.errors)
	}
}

func TestSetTag_InvalidName(t *testing.T) {
	bus, _, _, _ := newTestBus(t)
	for _, name := range []string{"", "a/#", "+", "/lead", "trail/"} {
		if err := bus.SetTag(name, 1); !errors.Is(err, ErrInvalidTag) {
			t.Errorf("SetTag(%q) error = %v, want ErrInvalidTag", name, err)
		}
	}
}

func TestTags_Snapshot(t *testing.T) {
	bus, client, _, _ := newTestBus(t)
	_ = client.deliver(t, "graylogic/show/tag/a", []byte(`1`))

	snap := bus.Tags()
	snap["a"] = 99.0
	if v, _ := bus.Tag("a"); v != 1.0 {
		t.Errorf("Tag(a) = %v after mutating snapshot, want 1", v)
	}
}

// =============================================================================
// Fixture Indirection Tests
// =============================================================================

func TestFixtureIndirection(t *testing.T) {
	bus, client, show, _ := newTestBus(t)

	if _, _, ok := bus.ResolveFixtureIndirection("spot"); ok {
		t.Fatal("ResolveFixtureIndirection(spot) ok before tag")
	}

	_ = client.deliver(t, "graylogic/show/tag/fixture/spot", []byte(`"stage:12"`))
	universe, start, ok := bus.ResolveFixtureIndirection("spot")
	if !ok || universe != "stage" || start != 12 {
		t.Errorf("ResolveFixtureIndirection(spot) = %q, %d, %v, want stage, 12, true", universe, start, ok)
	}
	if show.recaches != 1 {
		t.Errorf("recaches = %d, want 1", show.recaches)
	}
	if len(show.claims) != 0 {
		t.Errorf("fixture tag claimed cues: %v", show.claims)
	}
}

func TestParseIndirection(t *testing.T) {
	tests := []struct {
		in       string
		universe string
		start    int
		wantErr  bool
	}{
		{"stage:0", "stage", 0, false},
		{"house:left:5", "house:left", 5, false},
		{"stage", "", 0, true},
		{":4", "", 0, true},
		{"stage:-1", "", 0, true},
		{"stage:x", "", 0, true},
	}
	for _, tt := range tests {
		u, s, err := parseIndirection(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseIndirection(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if err != nil && !errors.Is(err, ErrBadIndirection) {
			t.Errorf("parseIndirection(%q) error = %v, want ErrBadIndirection", tt.in, err)
		}
		if u != tt.universe || s != tt.start {
			t.Errorf("parseIndirection(%q) = %q, %d, want %q, %d", tt.in, u, s, tt.universe, tt.start)
		}
	}
}

func TestFixtureIndirection_BadValueWarns(t *testing.T) {
	bus, client, show, _ := newTestBus(t)
	logger := &mockLogger{}
	bus.SetLogger(logger)

	_ = client.deliver(t, "graylogic/show/tag/fixture/spot", []byte(`"nowhere"`))
	if _, _, ok := bus.ResolveFixtureIndirection("spot"); ok {
		t.Error("ResolveFixtureIndirection ok for bad value")
	}
	if len(logger.warns) != 1 || show.recaches != 1 {
		t.Errorf("warns = %v, recaches = %d", logger.warns, show.recaches)
	}
}

// =============================================================================
// Cue Sync Tests
// =============================================================================

func TestPublishCue_IgnoresOwnEcho(t *testing.T) {
	bus, client, show, _ := newTestBus(t)
	bus.wall = func() time.Time { return time.Unix(1000, 0) }

	bus.PublishCue("chase", "two", 99.5)

	sent := client.last()
	if sent.topic != "graylogic/show/scene/chase/cue" || !sent.async || sent.retained {
		t.Errorf("published %+v", sent)
	}
	var msg cueMessage
	if err := json.Unmarshal(sent.payload, &msg); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if msg.Node != "node-a" || msg.Cue != "two" || msg.Age != 0.5 || msg.Sent != 1000 {
		t.Errorf("message = %+v", msg)
	}
	if len(show.remote) != 0 {
		t.Errorf("own cue was applied: %v", show.remote)
	}
}

func TestHandleCue_AppliesRemote(t *testing.T) {
	bus, client, show, _ := newTestBus(t)
	bus.wall = func() time.Time { return time.Unix(1000, 0) }

	payload, _ := json.Marshal(cueMessage{Node: "node-b", Cue: "three", Sent: 999.75, Age: 1})
	if err := client.deliver(t, "graylogic/show/scene/chase/cue", payload); err != nil {
		t.Fatalf("handler error = %v", err)
	}
	if len(show.remote) != 1 {
		t.Fatalf("remote cues = %v, want 1", show.remote)
	}
	got := show.remote[0]
	if got.scene != "chase" || got.cue != "three" || got.at != 98.75 {
		t.Errorf("remote cue = %+v, want chase/three at 98.75", got)
	}
}

func TestHandleCue_ClockSkewIgnored(t *testing.T) {
	bus, client, show, _ := newTestBus(t)
	bus.wall = func() time.Time { return time.Unix(1000, 0) }

	// Sender clock ahead of ours: transit clamps to zero.
	payload, _ := json.Marshal(cueMessage{Node: "node-b", Cue: "x", Sent: 1005})
	_ = client.deliver(t, "graylogic/show/scene/chase/cue", payload)
	if show.remote[0].at != 100 {
		t.Errorf("at = %v, want 100", show.remote[0].at)
	}
}

func TestHandleCue_BadPayload(t *testing.T) {
	_, client, show, _ := newTestBus(t)
	for _, p := range []string{`nope`, `{"node":"b"}`} {
		if err := client.deliver(t, "graylogic/show/scene/chase/cue", []byte(p)); !errors.Is(err, ErrBadMessage) {
			t.Errorf("payload %s error = %v, want ErrBadMessage", p, err)
		}
	}
	if len(show.remote) != 0 {
		t.Errorf("remote cues = %v, want none", show.remote)
	}
}

func TestPublishCue_FailureIsRateLimited(t *testing.T) {
	bus, client, _, _ := newTestBus(t)
	logger := &mockLogger{}
	bus.SetLogger(logger)
	client.failWith = mqtt.ErrNotConnected

	bus.PublishCue("chase", "one", 100)
	bus.PublishCue("chase", "two", 100)
	if len(logger.warns) != 1 {
		t.Errorf("warns = %v, want 1", logger.warns)
	}
}

// =============================================================================
// Frames and Commands
// =============================================================================

func TestPublishFrame(t *testing.T) {
	bus, client, _, _ := newTestBus(t)

	if err := bus.PublishFrame("house", []float32{0, 127.5, 255}); err != nil {
		t.Fatalf("PublishFrame() error = %v", err)
	}
	sent := client.last()
	if sent.topic != "graylogic/show/universe/house" || string(sent.payload) != "[0,127.5,255]" || !sent.async {
		t.Errorf("published %+v (%s)", sent, sent.payload)
	}
}

func TestCommander(t *testing.T) {
	bus, client, _, _ := newTestBus(t)
	next := &mockCommander{}
	cmd := bus.Commander(next)
	ctx := context.Background()

	if err := cmd.Execute(ctx, "chase", "tag", []string{"house", "7"}); err != nil {
		t.Fatalf("Execute(tag) error = %v", err)
	}
	if sent := client.last(); sent.topic != "graylogic/show/tag/house" || string(sent.payload) != "7" {
		t.Errorf("published %+v", sent)
	}
	if v, _ := bus.Tag("house"); v != 7.0 {
		t.Errorf("Tag(house) = %#v, want 7", v)
	}

	if err := cmd.Execute(ctx, "chase", "tag", []string{"house"}); err == nil {
		t.Error("Execute(tag) with one arg should fail")
	}

	if err := cmd.Execute(ctx, "chase", "go", nil); err != nil {
		t.Fatalf("Execute(go) error = %v", err)
	}
	if len(next.calls) != 1 || next.calls[0] != "chase:go " {
		t.Errorf("delegated calls = %v", next.calls)
	}
}

func TestStop_Unsubscribes(t *testing.T) {
	bus, client, _, _ := newTestBus(t)
	if err := bus.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if len(client.subs) != 0 {
		t.Errorf("subscriptions left: %v", client.subs)
	}
}
