package message

import (
	"fmt"

	"saltyrelay.io/relay"
)

// Box is the minimal sealing interface a frame needs: relay.MessageBox
// and relay.SignBox both satisfy it via their embedded sealed box.
type Box interface {
	Seal(message []byte, nonce *[24]byte) []byte
	Open(sealed []byte, nonce *[24]byte) ([]byte, bool)
}

// Pack serializes header and body into one frame. If box is non-nil the
// body is sealed under the nonce derived from header (see Nonce);
// otherwise the body is written in the clear, as happens before the
// handshake has established any box.
func Pack(h Header, body []byte, box Box) []byte {
	if box == nil {
		return append(h.Encode(), body...)
	}
	sealed := box.Seal(body, Nonce(h))
	return append(h.Encode(), sealed...)
}

// Unpack parses a frame's header and, if box is non-nil, opens its
// sealed body under the nonce derived from the header. A mismatched
// nonce or failed authentication is reported as a MessageError per the
// wire contract: "the nonce must match the header's addressing+CSN
// fields or the frame is rejected".
func Unpack(frame []byte, box Box) (Header, []byte, error) {
	h, rest, err := DecodeHeader(frame)
	if err != nil {
		return Header{}, nil, &relay.MessageError{Reason: err.Error()}
	}
	if box == nil {
		return h, rest, nil
	}
	body, ok := box.Open(rest, Nonce(h))
	if !ok {
		return Header{}, nil, &relay.MessageError{Reason: "could not decrypt frame"}
	}
	return h, body, nil
}

// DecodeControl unpacks rest as a control-message msgpack body after
// Unpack has already removed the header and decrypted the payload.
func DecodeControl(rest []byte) (Body, error) {
	body, err := UnmarshalBody(rest)
	if err != nil {
		return Body{}, fmt.Errorf("message: %w", err)
	}
	return body, nil
}
