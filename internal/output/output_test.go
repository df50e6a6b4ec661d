package output

import (
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-show/internal/infrastructure/config"
)

// ─── Mock Dependencies ───

type mockPublisher struct {
	universe string
	values   []float32
	err      error
}

func (p *mockPublisher) PublishFrame(universe string, values []float32) error {
	p.universe, p.values = universe, values
	return p.err
}

// =============================================================================
// ArtDMX Encoding Tests
// =============================================================================

func TestBuildArtDMX_Header(t *testing.T) {
	buf := make([]byte, artHeaderLen+maxDMXChannels)
	pkt := buildArtDMX(buf, 7, 0x0123, []float32{10, 20, 30, 40})

	if string(pkt[:8]) != "Art-Net\x00" {
		t.Errorf("ID = %q", pkt[:8])
	}
	if pkt[8] != 0x00 || pkt[9] != 0x50 {
		t.Errorf("OpCode = %#x %#x, want 0x00 0x50", pkt[8], pkt[9])
	}
	if pkt[11] != 14 {
		t.Errorf("protocol version = %d, want 14", pkt[11])
	}
	if pkt[12] != 7 {
		t.Errorf("sequence = %d, want 7", pkt[12])
	}
	if pkt[14] != 0x23 || pkt[15] != 0x01 {
		t.Errorf("SubUni/Net = %#x/%#x, want 0x23/0x01", pkt[14], pkt[15])
	}
	if pkt[16] != 0 || pkt[17] != 4 || len(pkt) != artHeaderLen+4 {
		t.Errorf("length = %d (packet %d bytes)", int(pkt[16])<<8|int(pkt[17]), len(pkt))
	}
}

func TestBuildArtDMX_Payload(t *testing.T) {
	tests := []struct {
		name    string
		values  []float32
		wantLen int
		want    []byte
	}{
		{"empty pads to two", nil, 2, []byte{0, 0}},
		{"odd pads to even", []float32{1, 2, 3}, 4, []byte{1, 2, 3, 0}},
		{"clamp and round", []float32{-5, 127.5, 300, 254.4}, 4, []byte{0, 128, 255, 254}},
		{"truncate to 512", make([]float32, 600), 512, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := make([]byte, artHeaderLen+maxDMXChannels)
			// Dirty the buffer to prove padding is cleared.
			for i := range buf {
				buf[i] = 0xAA
			}
			pkt := buildArtDMX(buf, 1, 0, tt.values)
			data := pkt[artHeaderLen:]
			if len(data) != tt.wantLen {
				t.Fatalf("payload length = %d, want %d", len(data), tt.wantLen)
			}
			for i, b := range tt.want {
				if data[i] != b {
					t.Errorf("data[%d] = %d, want %d", i, data[i], b)
				}
			}
		})
	}
}

// =============================================================================
// ArtNet Sink Tests
// =============================================================================

func TestArtNet_SendsFrames(t *testing.T) {
	recv, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer recv.Close()

	sink, err := NewArtNet(recv.LocalAddr().String(), 3)
	if err != nil {
		t.Fatalf("NewArtNet() error = %v", err)
	}
	defer sink.Close()

	frame := []float32{0, 255, 128, 0}
	for i := 0; i < 2; i++ {
		sink.PreFrame()
		if err := sink.OnFrame(frame); err != nil {
			t.Fatalf("OnFrame() error = %v", err)
		}
	}

	buf := make([]byte, 1024)
	for want := byte(1); want <= 2; want++ {
		_ = recv.SetReadDeadline(time.Now().Add(2 * time.Second))
		n, _, err := recv.ReadFromUDP(buf)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		pkt := buf[:n]
		if pkt[12] != want {
			t.Errorf("sequence = %d, want %d", pkt[12], want)
		}
		if pkt[14] != 3 {
			t.Errorf("universe = %d, want 3", pkt[14])
		}
		// Slot 0 is the start code and is not sent.
		if got := pkt[artHeaderLen : artHeaderLen+3]; got[0] != 255 || got[1] != 128 || got[2] != 0 {
			t.Errorf("payload = %v", got)
		}
	}
}

func TestArtNet_SequenceSkipsZero(t *testing.T) {
	a := &ArtNet{seq: 255, packet: make([]byte, artHeaderLen+maxDMXChannels)}
	a.conn, _ = net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	defer a.conn.Close()
	a.addr = a.conn.LocalAddr().(*net.UDPAddr)

	_ = a.OnFrame([]float32{0, 1})
	if a.seq != 1 {
		t.Errorf("seq after 255 = %d, want 1", a.seq)
	}
}

func TestNewArtNet_Validation(t *testing.T) {
	if _, err := NewArtNet("127.0.0.1", -1); !errors.Is(err, ErrBadUniverse) {
		t.Errorf("universe -1 error = %v, want ErrBadUniverse", err)
	}
	if _, err := NewArtNet("127.0.0.1", 0x8000); !errors.Is(err, ErrBadUniverse) {
		t.Errorf("universe 0x8000 error = %v, want ErrBadUniverse", err)
	}
	if _, err := NewArtNet("no-such-host.invalid:6454", 0); !errors.Is(err, ErrBadAddress) {
		t.Errorf("bad host error = %v, want ErrBadAddress", err)
	}
}

func TestResolveArtNet(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"10.0.0.5", "10.0.0.5:6454"},
		{"10.0.0.5:7000", "10.0.0.5:7000"},
		{"", "255.255.255.255:6454"},
	}
	for _, tt := range tests {
		addr, err := resolveArtNet(tt.in)
		if err != nil {
			t.Errorf("resolveArtNet(%q) error = %v", tt.in, err)
			continue
		}
		if addr.String() != tt.want {
			t.Errorf("resolveArtNet(%q) = %s, want %s", tt.in, addr, tt.want)
		}
	}
}

// =============================================================================
// Factory Tests
// =============================================================================

func TestNew(t *testing.T) {
	pub := &mockPublisher{}

	tagSink, err := New(config.UniverseConfig{Name: "house", Output: config.OutputConfig{Type: TypeTag}}, pub)
	if err != nil {
		t.Fatalf("New(tag) error = %v", err)
	}
	if err := tagSink.OnFrame([]float32{1, 2}); err != nil {
		t.Fatalf("OnFrame() error = %v", err)
	}
	if pub.universe != "house" || len(pub.values) != 2 {
		t.Errorf("published %q %v", pub.universe, pub.values)
	}

	if _, err := New(config.UniverseConfig{Name: "house", Output: config.OutputConfig{Type: TypeTag}}, nil); !errors.Is(err, ErrNoPublisher) {
		t.Errorf("New(tag, nil) error = %v, want ErrNoPublisher", err)
	}

	null, err := New(config.UniverseConfig{Name: "spare"}, nil)
	if err != nil {
		t.Fatalf("New(none) error = %v", err)
	}
	_ = null.OnFrame(nil)
	if n, ok := null.(*Null); !ok || n.Frames != 1 {
		t.Errorf("New(none) = %T", null)
	}

	if _, err := New(config.UniverseConfig{Name: "x", Output: config.OutputConfig{Type: "sacn"}}, nil); !errors.Is(err, ErrUnknownType) {
		t.Errorf("New(sacn) error = %v, want ErrUnknownType", err)
	}

	art, err := New(config.UniverseConfig{Name: "stage", Output: config.OutputConfig{Type: TypeArtNet, Address: "127.0.0.1"}}, nil)
	if err != nil {
		t.Fatalf("New(artnet) error = %v", err)
	}
	if c, ok := art.(io.Closer); !ok {
		t.Error("art-net sink is not an io.Closer")
	} else {
		c.Close()
	}
}

func TestTag_PropagatesError(t *testing.T) {
	pub := &mockPublisher{err: errors.New("not connected")}
	if err := NewTag("house", pub).OnFrame([]float32{1}); err == nil {
		t.Error("OnFrame() error = nil, want publisher error")
	}
}
