package trigger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/nerrad567/gray-logic-show/internal/infrastructure/logging"
)

const (
	oscBundleTag  = "#bundle"
	maxOSCPacket  = 65507
	maxBundleDeep = 8
)

// oscMessage is one decoded OSC message.
type oscMessage struct {
	Address string
	Args    []any
}

// OSC listens for OSC packets on UDP.
type OSC struct {
	target Target

	mu      sync.Mutex
	conn    net.PacketConn
	done    chan struct{}
	logger  Logger
	limiter *logging.RateLimiter
}

// NewOSC returns an OSC input for target.
func NewOSC(target Target) *OSC {
	return &OSC{
		target:  target,
		logger:  noopLogger{},
		limiter: logging.NewRateLimiter(defaultLogInterval),
	}
}

// SetLogger sets the logger.
func (o *OSC) SetLogger(l Logger) {
	if l == nil {
		l = noopLogger{}
	}
	o.logger = l
}

// Start binds addr and serves packets until ctx is cancelled or Stop.
func (o *OSC) Start(ctx context.Context, addr string) error {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return fmt.Errorf("binding OSC listener %s: %w", addr, err)
	}

	o.mu.Lock()
	o.conn = conn
	o.done = make(chan struct{})
	o.mu.Unlock()

	go o.serve(ctx, conn, o.done)
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	o.logger.Info("OSC listener started", "address", conn.LocalAddr().String())
	return nil
}

// Addr returns the bound address, or nil before Start.
func (o *OSC) Addr() net.Addr {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.conn == nil {
		return nil
	}
	return o.conn.LocalAddr()
}

// Stop closes the listener and waits for the read loop to exit.
func (o *OSC) Stop() {
	o.mu.Lock()
	conn, done := o.conn, o.done
	o.mu.Unlock()
	if conn == nil {
		return
	}
	conn.Close()
	<-done
}

func (o *OSC) serve(ctx context.Context, conn net.PacketConn, done chan struct{}) {
	defer close(done)
	buf := make([]byte, maxOSCPacket)
	for {
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return
			}
			o.logger.Warn("OSC read failed", "error", err)
			continue
		}
		if err := o.HandlePacket(ctx, buf[:n]); err != nil && o.limiter.Allow("osc:"+from.String()) {
			o.logger.Warn("OSC packet rejected", "from", from.String(), "error", err)
		}
	}
}

// HandlePacket decodes a message or bundle and runs every message in it.
func (o *OSC) HandlePacket(ctx context.Context, data []byte) error {
	msgs, err := parseOSCPacket(data, 0)
	if err != nil {
		return err
	}
	var errs []error
	for _, m := range msgs {
		if err := o.dispatch(ctx, m); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", m.Address, err))
		}
	}
	return errors.Join(errs...)
}

func (o *OSC) dispatch(ctx context.Context, m oscMessage) error {
	parts := strings.Split(strings.TrimPrefix(m.Address, "/"), "/")

	switch {
	case len(parts) == 1 && parts[0] == "shortcut":
		code, err := stringArg(m.Args)
		if err != nil {
			return err
		}
		o.target.ShortcutCode(code)
		return nil

	case len(parts) == 3 && parts[0] == "scene" && parts[1] != "":
		scene, command := parts[1], parts[2]
		switch command {
		case "go", "stop", "next", "tap":
			return sceneCommand(ctx, o.target, scene, command)
		case "goto", "alpha", "bpm":
			arg, err := stringArg(m.Args)
			if err != nil {
				return err
			}
			return sceneCommand(ctx, o.target, scene, command, arg)
		}
	}
	return fmt.Errorf("%w: no route for %s", ErrBadMessage, m.Address)
}

// stringArg renders the first argument as a command argument.
func stringArg(args []any) (string, error) {
	if len(args) == 0 {
		return "", fmt.Errorf("%w: missing argument", ErrBadMessage)
	}
	switch v := args[0].(type) {
	case string:
		return v, nil
	case int32:
		return strconv.FormatInt(int64(v), 10), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	default:
		return "", fmt.Errorf("%w: unsupported argument %T", ErrBadMessage, v)
	}
}

// ─── Codec ───

func oscPad(n int) int {
	return (4 - n%4) % 4
}

// readOSCString reads a NUL-terminated, 4-byte padded string at pos.
func readOSCString(data []byte, pos int) (string, int, error) {
	end := pos
	for end < len(data) && data[end] != 0 {
		end++
	}
	if end >= len(data) {
		return "", 0, fmt.Errorf("%w: unterminated string", ErrBadMessage)
	}
	next := end + 1 + oscPad(end-pos+1)
	return string(data[pos:end]), min(next, len(data)), nil
}

func parseOSCPacket(data []byte, depth int) ([]oscMessage, error) {
	if len(data) < 4 || len(data)%4 != 0 {
		return nil, fmt.Errorf("%w: packet length %d", ErrBadMessage, len(data))
	}
	if data[0] != '#' {
		m, err := parseOSCMessage(data)
		if err != nil {
			return nil, err
		}
		return []oscMessage{m}, nil
	}

	if depth >= maxBundleDeep {
		return nil, fmt.Errorf("%w: bundle nesting too deep", ErrBadMessage)
	}
	tag, pos, err := readOSCString(data, 0)
	if err != nil || tag != oscBundleTag {
		return nil, fmt.Errorf("%w: bad bundle header", ErrBadMessage)
	}
	pos += 8 // timetag
	if pos > len(data) {
		return nil, fmt.Errorf("%w: truncated bundle timetag", ErrBadMessage)
	}

	var out []oscMessage
	for pos < len(data) {
		if pos+4 > len(data) {
			return nil, fmt.Errorf("%w: truncated bundle element size", ErrBadMessage)
		}
		size := int(binary.BigEndian.Uint32(data[pos:]))
		pos += 4
		if size < 0 || pos+size > len(data) {
			return nil, fmt.Errorf("%w: truncated bundle element", ErrBadMessage)
		}
		msgs, err := parseOSCPacket(data[pos:pos+size], depth+1)
		if err != nil {
			return nil, err
		}
		out = append(out, msgs...)
		pos += size
	}
	return out, nil
}

func parseOSCMessage(data []byte) (oscMessage, error) {
	addr, pos, err := readOSCString(data, 0)
	if err != nil {
		return oscMessage{}, err
	}
	if !strings.HasPrefix(addr, "/") {
		return oscMessage{}, fmt.Errorf("%w: address %q", ErrBadMessage, addr)
	}
	m := oscMessage{Address: addr}
	if pos >= len(data) || data[pos] != ',' {
		return m, nil
	}

	typetag, pos, err := readOSCString(data, pos)
	if err != nil {
		return oscMessage{}, err
	}
	for _, t := range typetag[1:] {
		switch t {
		case 'i', 'f':
			if pos+4 > len(data) {
				return oscMessage{}, fmt.Errorf("%w: truncated %c argument", ErrBadMessage, t)
			}
			bits := binary.BigEndian.Uint32(data[pos:])
			if t == 'i' {
				m.Args = append(m.Args, int32(bits)) //nolint:gosec // OSC int32
			} else {
				m.Args = append(m.Args, math.Float32frombits(bits))
			}
			pos += 4
		case 'h', 'd':
			if pos+8 > len(data) {
				return oscMessage{}, fmt.Errorf("%w: truncated %c argument", ErrBadMessage, t)
			}
			bits := binary.BigEndian.Uint64(data[pos:])
			if t == 'h' {
				m.Args = append(m.Args, int64(bits)) //nolint:gosec // OSC int64
			} else {
				m.Args = append(m.Args, math.Float64frombits(bits))
			}
			pos += 8
		case 's':
			var s string
			if s, pos, err = readOSCString(data, pos); err != nil {
				return oscMessage{}, err
			}
			m.Args = append(m.Args, s)
		case 'T':
			m.Args = append(m.Args, true)
		case 'F':
			m.Args = append(m.Args, false)
		case 'N':
			m.Args = append(m.Args, nil)
		default:
			return oscMessage{}, fmt.Errorf("%w: unsupported type %c", ErrBadMessage, t)
		}
	}
	return m, nil
}
