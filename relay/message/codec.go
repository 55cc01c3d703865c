package message

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Kind identifies a control message's type. Any kind not in this list is
// a relay message and is forwarded opaquely without being decoded here.
type Kind string

const (
	KindServerHello   Kind = "server-hello"
	KindClientHello   Kind = "client-hello"
	KindClientAuth    Kind = "client-auth"
	KindServerAuth    Kind = "server-auth"
	KindNewInitiator  Kind = "new-initiator"
	KindNewResponder  Kind = "new-responder"
	KindDropResponder Kind = "drop-responder"
	KindSendError     Kind = "send-error"
	KindDisconnected  Kind = "disconnected"
)

// controlKinds is the set of message types the server itself consumes
// or produces, as opposed to opaque relay payloads.
var controlKinds = map[Kind]bool{
	KindServerHello:   true,
	KindClientHello:   true,
	KindClientAuth:    true,
	KindServerAuth:    true,
	KindNewInitiator:  true,
	KindNewResponder:  true,
	KindDropResponder: true,
	KindSendError:     true,
	KindDisconnected:  true,
}

// IsControlKind reports whether kind is server-directed rather than an
// opaque relay payload.
func IsControlKind(kind Kind) bool {
	return controlKinds[kind]
}

// Body is a control message's msgpack-encoded key/value record. Type
// carries the kind under the "type" key; Fields carries the
// kind-specific keys (key, cookie, tasks, responders, signed_keys,
// reason, id, ...).
type Body struct {
	Type   Kind
	Fields map[string]interface{}
}

// rawBody is the wire shape: a flat map with "type" plus whatever other
// keys the kind defines, matching the "msgpack-style key/value records"
// the protocol uses instead of a tagged union.
type rawBody map[string]interface{}

// MarshalBody packs a control message body into msgpack bytes.
func MarshalBody(b Body) ([]byte, error) {
	raw := make(rawBody, len(b.Fields)+1)
	for k, v := range b.Fields {
		raw[k] = v
	}
	raw["type"] = string(b.Type)
	return msgpack.Marshal(raw)
}

// UnmarshalBody decodes a control message body from msgpack bytes.
func UnmarshalBody(data []byte) (Body, error) {
	var raw rawBody
	if err := msgpack.Unmarshal(data, &raw); err != nil {
		return Body{}, fmt.Errorf("message: decode body: %w", err)
	}
	typeVal, ok := raw["type"]
	if !ok {
		return Body{}, fmt.Errorf("message: body missing \"type\" key")
	}
	typeStr, ok := typeVal.(string)
	if !ok {
		return Body{}, fmt.Errorf("message: \"type\" key is not a string")
	}
	delete(raw, "type")
	return Body{Type: Kind(typeStr), Fields: raw}, nil
}
