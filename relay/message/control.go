package message

import "saltyrelay.io/relay"

// ServerHello builds the server's first message: its session public
// key.
func ServerHello(sessionPublic relay.PublicKey) Body {
	return Body{Type: KindServerHello, Fields: map[string]interface{}{
		"key": sessionPublic[:],
	}}
}

// ClientHello builds a responder's first message: its (session) public
// key. Initiators never send this; their identity is the path key.
func ClientHello(public relay.PublicKey) Body {
	return Body{Type: KindClientHello, Fields: map[string]interface{}{
		"key": public[:],
	}}
}

// ClientAuth builds the client-auth message: echoes the server's
// cookie, proposes a ping interval, and names the server permanent
// public key it chose. yourKey is optional here, but session's handshake
// rejects a client-auth without it from either role.
func ClientAuth(yourCookie relay.Cookie, pingInterval int, yourKey *relay.PublicKey) Body {
	fields := map[string]interface{}{
		"your_cookie":   yourCookie[:],
		"ping_interval": pingInterval,
	}
	if yourKey != nil {
		fields["your_key"] = yourKey[:]
	}
	return Body{Type: KindClientAuth, Fields: fields}
}

// ServerAuthForInitiator builds the server-auth reply sent to an
// initiator, listing currently-connected responder addresses.
func ServerAuthForInitiator(yourCookie relay.Cookie, signedKeys []byte, responders []relay.ResponderAddress) Body {
	ids := make([]byte, len(responders))
	for i, r := range responders {
		ids[i] = byte(r)
	}
	return Body{Type: KindServerAuth, Fields: map[string]interface{}{
		"your_cookie": yourCookie[:],
		"signed_keys": signedKeys,
		"responders":  ids,
	}}
}

// ServerAuthForResponder builds the server-auth reply sent to a
// responder, reporting whether the initiator is already connected.
func ServerAuthForResponder(yourCookie relay.Cookie, signedKeys []byte, initiatorConnected bool) Body {
	return Body{Type: KindServerAuth, Fields: map[string]interface{}{
		"your_cookie":         yourCookie[:],
		"signed_keys":         signedKeys,
		"initiator_connected": initiatorConnected,
	}}
}

// NewInitiator notifies connected responders that a (new) initiator has
// attached to the path.
func NewInitiator() Body {
	return Body{Type: KindNewInitiator, Fields: nil}
}

// NewResponder notifies the initiator that a responder has attached.
func NewResponder(id relay.ResponderAddress) Body {
	return Body{Type: KindNewResponder, Fields: map[string]interface{}{
		"id": byte(id),
	}}
}

// DropResponder instructs the initiator-driven eviction of a responder
// (or is sent by the server to notify of the drop).
func DropResponder(id relay.ResponderAddress, reason relay.CloseCode) Body {
	return Body{Type: KindDropResponder, Fields: map[string]interface{}{
		"id":     byte(id),
		"reason": int(reason),
	}}
}

// SendError reports to the original sender that a relay frame could not
// be forwarded, identified by its source+destination addresses.
func SendError(source, destination relay.Address) Body {
	return Body{Type: KindSendError, Fields: map[string]interface{}{
		"id": []byte{byte(source), byte(destination)},
	}}
}

// Disconnected notifies a peer that another client on the path has
// disconnected.
func Disconnected(id relay.Address) Body {
	return Body{Type: KindDisconnected, Fields: map[string]interface{}{
		"id": byte(id),
	}}
}
