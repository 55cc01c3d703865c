// Package relay implements the core signaling relay engine: the path
// registry and per-connection protocol state machine that mediate the
// handshake and message relay between a SaltyRTC-style initiator and its
// responders.
package relay

import "fmt"

// PathId is the initiator's long-term public key. It names the path.
type PathId [32]byte

func (id PathId) String() string {
	return fmt.Sprintf("%x", id[:8])
}

// Address is the 1-byte slot identifier on a path.
type Address byte

const (
	// ServerAddress is the server's own logical address.
	ServerAddress Address = 0x00
	// InitiatorAddress is the fixed slot of the path's initiator.
	InitiatorAddress Address = 0x01
	// ResponderAddressMin is the first assignable responder slot.
	ResponderAddressMin Address = 0x02
	// ResponderAddressMax is the last assignable responder slot; 0xff is
	// reserved for broadcast in some message types and never assigned.
	ResponderAddressMax Address = 0xfe
	// BroadcastAddress is reserved for broadcast in some message types.
	BroadcastAddress Address = 0xff
)

// AddressType distinguishes the two peer roles a Client can hold.
type AddressType int

const (
	// UndeterminedType is held by a client before authentication.
	UndeterminedType AddressType = iota
	InitiatorType
	ResponderType
)

func (t AddressType) String() string {
	switch t {
	case InitiatorType:
		return "initiator"
	case ResponderType:
		return "responder"
	default:
		return "undetermined"
	}
}

// ResponderAddress is an Address known to be in the responder range.
type ResponderAddress Address

// responderAddress converts a raw slot number to a ResponderAddress,
// failing if it falls outside 0x02..0xfe.
func responderAddress(slot int) (ResponderAddress, bool) {
	if slot < int(ResponderAddressMin) || slot > int(ResponderAddressMax) {
		return 0, false
	}
	return ResponderAddress(slot), true
}

// CookieLength is the fixed byte length of a Cookie.
const CookieLength = 16

// Cookie is the 16-byte per-peer nonce seed chosen once per connection.
type Cookie [CookieLength]byte
