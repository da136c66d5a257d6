// Package wireformat encodes and decodes ARA packets for transports that
// need bytes on the wire: a fixed-width binary packet encoding, and an
// RS232 frame (magic + length + Fletcher-16 checksum) for transports that
// need explicit delimiting over a byte stream such as a serial link.
package wireformat

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ara-mesh/ara-go/core"
	"github.com/ara-mesh/ara-go/core/packet"
)

// fixedFieldsSize is the encoded size of every Packet field except Payload:
// Source(32) + Destination(32) + Type(1) + SequenceNumber(4) + Sender(32) +
// PreviousHop(32) + TTL(1) + PayloadLen(2).
const fixedFieldsSize = 32 + 32 + 1 + 4 + 32 + 32 + 1 + 2

// MaxPayloadSize bounds the payload length field (uint16).
const MaxPayloadSize = 65535

var (
	// ErrPacketTooShort is returned when a buffer is too small to hold the
	// fixed fields of an encoded packet.
	ErrPacketTooShort = errors.New("wireformat: packet too short")
	// ErrPayloadTooLarge is returned when a payload exceeds MaxPayloadSize.
	ErrPayloadTooLarge = errors.New("wireformat: payload exceeds maximum size")
	// ErrTruncatedPayload is returned when the declared payload length
	// extends past the end of the buffer.
	ErrTruncatedPayload = errors.New("wireformat: truncated payload")
	// ErrUnknownType is returned when a decoded type byte is not one of
	// the five known packet types.
	ErrUnknownType = errors.New("wireformat: unknown packet type")
)

// EncodePacket serializes pkt into a fixed-layout binary representation.
func EncodePacket(pkt *packet.Packet) ([]byte, error) {
	if len(pkt.Payload) > MaxPayloadSize {
		return nil, ErrPayloadTooLarge
	}

	buf := make([]byte, fixedFieldsSize+len(pkt.Payload))
	offset := 0

	copy(buf[offset:], pkt.Source.Bytes())
	offset += len(pkt.Source)

	copy(buf[offset:], pkt.Destination.Bytes())
	offset += len(pkt.Destination)

	buf[offset] = byte(pkt.Type)
	offset++

	binary.BigEndian.PutUint32(buf[offset:], pkt.SequenceNumber)
	offset += 4

	copy(buf[offset:], pkt.Sender.Bytes())
	offset += len(pkt.Sender)

	copy(buf[offset:], pkt.PreviousHop.Bytes())
	offset += len(pkt.PreviousHop)

	buf[offset] = pkt.TTL
	offset++

	binary.BigEndian.PutUint16(buf[offset:], uint16(len(pkt.Payload)))
	offset += 2

	copy(buf[offset:], pkt.Payload)

	return buf, nil
}

// DecodePacket parses a binary representation produced by EncodePacket.
func DecodePacket(data []byte) (*packet.Packet, error) {
	if len(data) < fixedFieldsSize {
		return nil, ErrPacketTooShort
	}

	pkt := &packet.Packet{}
	offset := 0

	source, err := core.AddressFromBytes(data[offset : offset+32])
	if err != nil {
		return nil, fmt.Errorf("decoding source: %w", err)
	}
	pkt.Source = source
	offset += 32

	destination, err := core.AddressFromBytes(data[offset : offset+32])
	if err != nil {
		return nil, fmt.Errorf("decoding destination: %w", err)
	}
	pkt.Destination = destination
	offset += 32

	typ := packet.Type(data[offset])
	if typ < packet.DATA || typ > packet.RouteFailure {
		return nil, ErrUnknownType
	}
	pkt.Type = typ
	offset++

	pkt.SequenceNumber = binary.BigEndian.Uint32(data[offset:])
	offset += 4

	sender, err := core.AddressFromBytes(data[offset : offset+32])
	if err != nil {
		return nil, fmt.Errorf("decoding sender: %w", err)
	}
	pkt.Sender = sender
	offset += 32

	previousHop, err := core.AddressFromBytes(data[offset : offset+32])
	if err != nil {
		return nil, fmt.Errorf("decoding previous hop: %w", err)
	}
	pkt.PreviousHop = previousHop
	offset += 32

	pkt.TTL = data[offset]
	offset++

	payloadLen := int(binary.BigEndian.Uint16(data[offset:]))
	offset += 2

	if len(data) < offset+payloadLen {
		return nil, ErrTruncatedPayload
	}
	if payloadLen > 0 {
		pkt.Payload = make([]byte, payloadLen)
		copy(pkt.Payload, data[offset:offset+payloadLen])
	}

	return pkt, nil
}
