package trigger

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"gitlab.com/gomidi/midi/v2"

	"github.com/nerrad567/gray-logic-show/internal/infrastructure/config"
)

// ─── Mock Dependencies ───

type mockTarget struct {
	mu        sync.Mutex
	shortcuts []string
	commands  []string
	err       error
	called    chan struct{}
}

func newMockTarget() *mockTarget {
	return &mockTarget{called: make(chan struct{}, 16)}
}

func (t *mockTarget) ShortcutCode(code string) int {
	t.mu.Lock()
	t.shortcuts = append(t.shortcuts, code)
	t.mu.Unlock()
	t.called <- struct{}{}
	return 1
}

func (t *mockTarget) Execute(_ context.Context, scope, command string, args []string) error {
	t.mu.Lock()
	t.commands = append(t.commands, strings.TrimSpace(scope+" "+command+" "+strings.Join(args, " ")))
	t.mu.Unlock()
	t.called <- struct{}{}
	return t.err
}

type mockLogger struct {
	mu    sync.Mutex
	warns []string
}

func (l *mockLogger) Debug(string, ...any) {}
func (l *mockLogger) Info(string, ...any)  {}
func (l *mockLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}

// buildOSC encodes a message with int32, float32 and string arguments.
func buildOSC(addr string, args ...any) []byte {
	buf := appendOSCString(nil, addr)
	typetag := ","
	for _, a := range args {
		switch a.(type) {
		case int32:
			typetag += "i"
		case float32:
			typetag += "f"
		case string:
			typetag += "s"
		}
	}
	buf = appendOSCString(buf, typetag)
	for _, a := range args {
		switch v := a.(type) {
		case int32:
			buf = binary.BigEndian.AppendUint32(buf, uint32(v))
		case float32:
			buf = binary.BigEndian.AppendUint32(buf, math.Float32bits(v))
		case string:
			buf = appendOSCString(buf, v)
		}
	}
	return buf
}

func appendOSCString(buf []byte, s string) []byte {
	buf = append(buf, s...)
	buf = append(buf, 0)
	for range oscPad(len(s) + 1) {
		buf = append(buf, 0)
	}
	return buf
}

func buildBundle(elements ...[]byte) []byte {
	buf := appendOSCString(nil, oscBundleTag)
	buf = binary.BigEndian.AppendUint64(buf, 1) // immediately
	for _, e := range elements {
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(e)))
		buf = append(buf, e...)
	}
	return buf
}

// =============================================================================
// MIDI Tests
// =============================================================================

func TestMIDI_Handle(t *testing.T) {
	tests := []struct {
		name      string
		channel   int
		msg       midi.Message
		shortcuts []string
		commands  []string
	}{
		{"note on fires shortcut", -1, midi.NoteOn(0, 60, 100), []string{"60"}, nil},
		{"zero velocity ignored", -1, midi.NoteOn(0, 60, 0), nil, nil},
		{"note off ignored", -1, midi.NoteOff(0, 60), nil, nil},
		{"other channel ignored", 2, midi.NoteOn(0, 60, 100), nil, nil},
		{"matching channel", 2, midi.NoteOn(2, 61, 1), []string{"61"}, nil},
		{"mapped fader", -1, midi.ControlChange(0, 7, 127), nil, []string{"alpha scene=wash 1"}},
		{"unmapped fader", -1, midi.ControlChange(0, 8, 64), nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := newMockTarget()
			m := NewMIDI(config.MIDIConfig{Channel: tt.channel, Faders: map[int]string{7: "wash", 300: "bad"}}, target)
			m.Handle(tt.msg, 0)

			if strings.Join(target.shortcuts, ",") != strings.Join(tt.shortcuts, ",") {
				t.Errorf("shortcuts = %v, want %v", target.shortcuts, tt.shortcuts)
			}
			if strings.Join(target.commands, ",") != strings.Join(tt.commands, ",") {
				t.Errorf("commands = %v, want %v", target.commands, tt.commands)
			}
		})
	}
}

func TestMIDI_FaderScaling(t *testing.T) {
	target := newMockTarget()
	m := NewMIDI(config.MIDIConfig{Channel: -1, Faders: map[int]string{1: "wash"}}, target)

	m.Handle(midi.ControlChange(0, 1, 0), 0)
	if target.commands[0] != "alpha scene=wash 0" {
		t.Errorf("command = %q", target.commands[0])
	}
}

func TestMIDI_FaderErrorIsLogged(t *testing.T) {
	target := newMockTarget()
	target.err = errors.New("scene not found")
	logger := &mockLogger{}
	m := NewMIDI(config.MIDIConfig{Channel: -1, Faders: map[int]string{1: "gone"}}, target)
	m.SetLogger(logger)

	m.Handle(midi.ControlChange(0, 1, 10), 0)
	m.Handle(midi.ControlChange(0, 1, 11), 0)
	if len(logger.warns) != 1 {
		t.Errorf("warns = %v, want 1 (rate limited)", logger.warns)
	}
}

// =============================================================================
// OSC Codec Tests
// =============================================================================

func TestParseOSCMessage(t *testing.T) {
	msgs, err := parseOSCPacket(buildOSC("/scene/wash/alpha", float32(0.5)), 0)
	if err != nil {
		t.Fatalf("parse error = %v", err)
	}
	if len(msgs) != 1 || msgs[0].Address != "/scene/wash/alpha" || msgs[0].Args[0] != float32(0.5) {
		t.Errorf("parsed %+v", msgs)
	}

	msgs, err = parseOSCPacket(buildOSC("/x", int32(-3), "abc", "defg"), 0)
	if err != nil {
		t.Fatalf("parse error = %v", err)
	}
	args := msgs[0].Args
	if len(args) != 3 || args[0] != int32(-3) || args[1] != "abc" || args[2] != "defg" {
		t.Errorf("args = %#v", args)
	}

	// Messages without a type tag string are valid.
	msgs, err = parseOSCPacket(appendOSCString(nil, "/scene/a/go"), 0)
	if err != nil || len(msgs[0].Args) != 0 {
		t.Errorf("no-typetag parse = %+v, %v", msgs, err)
	}
}

func TestParseOSCBundle(t *testing.T) {
	inner := buildBundle(buildOSC("/scene/b/stop"))
	msgs, err := parseOSCPacket(buildBundle(buildOSC("/scene/a/go"), inner), 0)
	if err != nil {
		t.Fatalf("parse error = %v", err)
	}
	if len(msgs) != 2 || msgs[0].Address != "/scene/a/go" || msgs[1].Address != "/scene/b/stop" {
		t.Errorf("messages = %+v", msgs)
	}
}

func TestParseOSC_Malformed(t *testing.T) {
	valid := buildOSC("/x", int32(1))
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"unaligned", []byte("/ab")},
		{"unterminated", []byte("/abc")},
		{"no slash", buildOSC("x")},
		{"truncated int", valid[:len(valid)-4]},
		{"unknown type", append(appendOSCString(appendOSCString(nil, "/x"), ",z"), 0, 0, 0, 0)},
		{"bad bundle size", append(buildBundle(), 0, 0, 0, 99)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseOSCPacket(tt.data, 0); !errors.Is(err, ErrBadMessage) {
				t.Errorf("error = %v, want ErrBadMessage", err)
			}
		})
	}
}

// =============================================================================
// OSC Routing Tests
// =============================================================================

func TestOSC_HandlePacket(t *testing.T) {
	tests := []struct {
		name     string
		packet   []byte
		shortcut string
		command  string
		wantErr  bool
	}{
		{"shortcut string", buildOSC("/shortcut", "A1"), "A1", "", false},
		{"shortcut int", buildOSC("/shortcut", int32(12)), "12", "", false},
		{"go", buildOSC("/scene/wash/go"), "", "go scene=wash", false},
		{"stop", buildOSC("/scene/wash/stop"), "", "stop scene=wash", false},
		{"next", buildOSC("/scene/wash/next"), "", "next scene=wash", false},
		{"tap", buildOSC("/scene/wash/tap"), "", "tap scene=wash", false},
		{"goto", buildOSC("/scene/wash/goto", "blue"), "", "goto scene=wash blue", false},
		{"alpha", buildOSC("/scene/wash/alpha", float32(0.25)), "", "alpha scene=wash 0.25", false},
		{"bpm", buildOSC("/scene/wash/bpm", int32(128)), "", "bpm scene=wash 128", false},
		{"goto without cue", buildOSC("/scene/wash/goto"), "", "", true},
		{"unknown route", buildOSC("/lights/on"), "", "", true},
		{"unknown scene command", buildOSC("/scene/wash/explode"), "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := newMockTarget()
			o := NewOSC(target)
			err := o.HandlePacket(context.Background(), tt.packet)
			if (err != nil) != tt.wantErr {
				t.Fatalf("HandlePacket() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.shortcut != "" && (len(target.shortcuts) != 1 || target.shortcuts[0] != tt.shortcut) {
				t.Errorf("shortcuts = %v, want [%s]", target.shortcuts, tt.shortcut)
			}
			if tt.command != "" && (len(target.commands) != 1 || target.commands[0] != tt.command) {
				t.Errorf("commands = %v, want [%s]", target.commands, tt.command)
			}
		})
	}
}

func TestOSC_BundleRunsAll(t *testing.T) {
	target := newMockTarget()
	o := NewOSC(target)
	packet := buildBundle(buildOSC("/scene/a/go"), buildOSC("/bogus"), buildOSC("/scene/b/go"))

	if err := o.HandlePacket(context.Background(), packet); err == nil {
		t.Error("HandlePacket() error = nil, want error for /bogus")
	}
	if len(target.commands) != 2 {
		t.Errorf("commands = %v, want both valid messages run", target.commands)
	}
}

func TestOSC_UDPListener(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	target := newMockTarget()
	o := NewOSC(target)
	if err := o.Start(ctx, "127.0.0.1:0"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer o.Stop()

	conn, err := net.Dial("udp", o.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if _, err := conn.Write(buildOSC("/shortcut", "7")); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case <-target.called:
	case <-time.After(2 * time.Second):
		t.Fatal("shortcut not received")
	}
	target.mu.Lock()
	defer target.mu.Unlock()
	if len(target.shortcuts) != 1 || target.shortcuts[0] != "7" {
		t.Errorf("shortcuts = %v", target.shortcuts)
	}
}

func TestOSC_StopBeforeStart(t *testing.T) {
	o := NewOSC(newMockTarget())
	o.Stop()
	if o.Addr() != nil {
		t.Error("Addr() before Start should be nil")
	}
}
