package sonar

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Ping protocol framing: "BR", payload length, message id, source and destination
// device ids, payload, then a checksum over everything before it.
const (
	packetHeaderLen = 8
	checksumLen     = 2
)

// Distance message ids.
const (
	IDDistanceSimple uint16 = 1211
	IDDistance       uint16 = 1212
	IDProfile        uint16 = 1300
)

var (
	ErrBadPacket   = errors.New("malformed ping packet")
	ErrBadChecksum = errors.New("ping packet checksum mismatch")
)

// Packet is one Ping protocol message.
type Packet struct {
	ID      uint16
	Src     uint8
	Dst     uint8
	Payload []byte
}

// Marshal encodes the packet with its checksum.
func (p Packet) Marshal() []byte {
	b := make([]byte, packetHeaderLen, packetHeaderLen+len(p.Payload)+checksumLen)
	b[0], b[1] = 'B', 'R'
	binary.LittleEndian.PutUint16(b[2:], uint16(len(p.Payload)))
	binary.LittleEndian.PutUint16(b[4:], p.ID)
	b[6], b[7] = p.Src, p.Dst
	b = append(b, p.Payload...)
	return binary.LittleEndian.AppendUint16(b, checksum(b))
}

func checksum(b []byte) uint16 {
	var sum uint16
	for _, c := range b {
		sum += uint16(c)
	}
	return sum
}

// DecodePacket parses one complete packet.
func DecodePacket(b []byte) (Packet, error) {
	if len(b) < packetHeaderLen+checksumLen || b[0] != 'B' || b[1] != 'R' {
		return Packet{}, ErrBadPacket
	}
	n := int(binary.LittleEndian.Uint16(b[2:]))
	if len(b) != packetHeaderLen+n+checksumLen {
		return Packet{}, fmt.Errorf("%w: payload length %d in %d bytes", ErrBadPacket, n, len(b))
	}
	body := b[:packetHeaderLen+n]
	if got, want := binary.LittleEndian.Uint16(b[len(body):]), checksum(body); got != want {
		return Packet{}, fmt.Errorf("%w: %#04x != %#04x", ErrBadChecksum, got, want)
	}
	return Packet{
		ID:      binary.LittleEndian.Uint16(b[4:]),
		Src:     b[6],
		Dst:     b[7],
		Payload: body[packetHeaderLen:],
	}, nil
}

// IsDistance reports whether the packet carries a distance estimate.
func (p Packet) IsDistance() bool {
	switch p.ID {
	case IDDistanceSimple, IDDistance, IDProfile:
		return true
	}
	return false
}

// Distance extracts the distance in millimetres and its confidence in percent.
func (p Packet) Distance() (distance uint32, confidence uint16, err error) {
	switch p.ID {
	case IDDistanceSimple:
		if len(p.Payload) < 5 {
			return 0, 0, fmt.Errorf("%w: distance_simple payload of %d bytes", ErrBadPacket, len(p.Payload))
		}
		return binary.LittleEndian.Uint32(p.Payload), uint16(p.Payload[4]), nil
	case IDDistance, IDProfile:
		if len(p.Payload) < 6 {
			return 0, 0, fmt.Errorf("%w: message %d payload of %d bytes", ErrBadPacket, p.ID, len(p.Payload))
		}
		return binary.LittleEndian.Uint32(p.Payload), binary.LittleEndian.Uint16(p.Payload[4:]), nil
	}
	return 0, 0, fmt.Errorf("%w: message %d has no distance", ErrBadPacket, p.ID)
}
