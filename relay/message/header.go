// Package message implements the wire framing and control-message
// bodies that travel over a Client's Transport: the 24-byte addressing
// header, NaCl nonce derivation, and msgpack-style key/value bodies for
// server-directed control messages. Relay messages are forwarded
// opaquely and never decoded here.
package message

import (
	"encoding/binary"
	"fmt"

	"saltyrelay.io/relay"
)

// HeaderLength is the fixed size of the addressing header that prefixes
// every frame.
const HeaderLength = 1 + 1 + 2 + 4 + relay.CookieLength

// Header is the 24-byte addressing header: source (1) + destination (1)
// + overflow number (2, big-endian) + sequence number (4, big-endian) +
// cookie (16).
type Header struct {
	Source      relay.Address
	Destination relay.Address
	Overflow    uint16
	Sequence    uint32
	Cookie      relay.Cookie
}

// CSN reassembles the header's overflow and sequence fields into one
// combined sequence number.
func (h Header) CSN() relay.CombinedSequenceNumber {
	return relay.CombinedSequenceNumber(uint64(h.Overflow)<<32 | uint64(h.Sequence))
}

// SplitCSN decomposes a combined sequence number into the header's
// overflow and sequence fields.
func SplitCSN(csn relay.CombinedSequenceNumber) (overflow uint16, sequence uint32) {
	return uint16(csn >> 32), uint32(csn)
}

// Encode writes the header to a 24-byte buffer.
func (h Header) Encode() []byte {
	buf := make([]byte, HeaderLength)
	buf[0] = byte(h.Source)
	buf[1] = byte(h.Destination)
	binary.BigEndian.PutUint16(buf[2:4], h.Overflow)
	binary.BigEndian.PutUint32(buf[4:8], h.Sequence)
	copy(buf[8:24], h.Cookie[:])
	return buf
}

// DecodeHeader parses the leading 24 bytes of a frame.
func DecodeHeader(frame []byte) (Header, []byte, error) {
	if len(frame) < HeaderLength {
		return Header{}, nil, fmt.Errorf("message: frame too short for header: %d bytes", len(frame))
	}
	var h Header
	h.Source = relay.Address(frame[0])
	h.Destination = relay.Address(frame[1])
	h.Overflow = binary.BigEndian.Uint16(frame[2:4])
	h.Sequence = binary.BigEndian.Uint32(frame[4:8])
	copy(h.Cookie[:], frame[8:24])
	return h, frame[HeaderLength:], nil
}

// Nonce derives the 24-byte NaCl nonce for a frame from its addressing
// and sequence fields, as required by the wire format: the nonce must
// match the header's source, destination, overflow and sequence or the
// frame is rejected. The header happens to be exactly 24 bytes, so the
// nonce is just its encoding.
func Nonce(h Header) *[24]byte {
	var nonce [24]byte
	copy(nonce[:], h.Encode())
	return &nonce
}
