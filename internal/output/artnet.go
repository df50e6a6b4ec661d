package output

import (
	"fmt"
	"math"
	"net"
	"strconv"
)

// ArtNetPort is the UDP port Art-Net nodes listen on.
const ArtNetPort = 6454

// Art-Net packet layout.
const (
	artHeaderLen     = 18
	artOpDMX         = 0x5000
	artProtocolVer   = 14
	maxDMXChannels   = 512
	maxPortAddress   = 0x7FFF
	artNetIdentifier = "Art-Net\x00"
)

// ArtNet sends universe frames as ArtDMX packets.
type ArtNet struct {
	conn     *net.UDPConn
	addr     *net.UDPAddr
	universe uint16
	seq      uint8
	packet   []byte
}

// NewArtNet opens a UDP socket for sending to address ("host" or
// "host:port"; an empty host broadcasts) on the given port address.
func NewArtNet(address string, universe int) (*ArtNet, error) {
	if universe < 0 || universe > maxPortAddress {
		return nil, fmt.Errorf("%w: %d", ErrBadUniverse, universe)
	}
	addr, err := resolveArtNet(address)
	if err != nil {
		return nil, err
	}

	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return nil, fmt.Errorf("opening art-net socket: %w", err)
	}
	if addr.IP.Equal(net.IPv4bcast) || addr.IP[len(addr.IP)-1] == 0xFF {
		if err := enableBroadcast(conn); err != nil {
			conn.Close()
			return nil, fmt.Errorf("enabling broadcast: %w", err)
		}
	}

	return &ArtNet{
		conn:     conn,
		addr:     addr,
		universe: uint16(universe), //nolint:gosec // range checked above
		seq:      1,
		packet:   make([]byte, artHeaderLen+maxDMXChannels),
	}, nil
}

func resolveArtNet(address string) (*net.UDPAddr, error) {
	host, port := address, strconv.Itoa(ArtNetPort)
	if h, p, err := net.SplitHostPort(address); err == nil {
		host, port = h, p
	}
	if host == "" {
		host = net.IPv4bcast.String()
	}
	addr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(host, port))
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrBadAddress, address, err)
	}
	return addr, nil
}

// PreFrame does nothing; ArtDMX needs no preparation.
func (a *ArtNet) PreFrame() {}

// OnFrame sends one ArtDMX packet. values[0] is the DMX start code slot
// and is not sent.
func (a *ArtNet) OnFrame(values []float32) error {
	var dmx []float32
	if len(values) > 1 {
		dmx = values[1:]
	}
	pkt := buildArtDMX(a.packet, a.seq, a.universe, dmx)
	a.seq++
	if a.seq == 0 {
		// Zero disables sequencing on the receiver.
		a.seq = 1
	}
	if _, err := a.conn.WriteToUDP(pkt, a.addr); err != nil {
		return fmt.Errorf("sending art-net to %s: %w", a.addr, err)
	}
	return nil
}

// Close releases the socket.
func (a *ArtNet) Close() error {
	return a.conn.Close()
}

// buildArtDMX writes an ArtDMX packet into buf and returns the used slice.
// Channel values are clamped to 0-255 and rounded. The payload is padded
// to an even length of at least two as the protocol requires.
func buildArtDMX(buf []byte, seq uint8, universe uint16, values []float32) []byte {
	n := min(len(values), maxDMXChannels)
	dataLen := max(n+n%2, 2)

	pkt := buf[:artHeaderLen+dataLen]
	copy(pkt, artNetIdentifier)
	pkt[8], pkt[9] = byte(artOpDMX&0xFF), byte(artOpDMX>>8) // OpCode, little endian
	pkt[10], pkt[11] = 0x00, artProtocolVer
	pkt[12], pkt[13] = seq, 0x00
	pkt[14], pkt[15] = byte(universe&0xFF), byte((universe>>8)&0x7F) // SubUni, Net
	pkt[16], pkt[17] = byte(dataLen>>8), byte(dataLen&0xFF)

	data := pkt[artHeaderLen:]
	for i := range data {
		data[i] = 0
	}
	for i := 0; i < n; i++ {
		data[i] = dmxByte(values[i])
	}
	return pkt
}

func dmxByte(v float32) byte {
	switch {
	case v <= 0 || math.IsNaN(float64(v)):
		return 0
	case v >= 255:
		return 255
	default:
		return byte(math.Round(float64(v)))
	}
}
