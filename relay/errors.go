package relay

import "fmt"

// MessageError means a received frame violates a static rule: bad CSN
// top bits, wrong cookie, wrong CSN, non-binary data, bad nonce. The
// client is dropped with CloseProtocolError and the peer is not
// notified.
type MessageError struct {
	Reason string
}

func (e *MessageError) Error() string { return "message: " + e.Reason }

// MessageFlowError means a dynamic relay rule was violated (relay to
// self, relay from an unauthenticated peer, CSN overflow). The server
// replies with a send-error to the sender and continues serving it.
type MessageFlowError struct {
	Reason string
}

func (e *MessageFlowError) Error() string { return "message flow: " + e.Reason }

// DisconnectedError means the transport closed mid-operation.
type DisconnectedError struct {
	Code CloseCode
}

func (e *DisconnectedError) Error() string {
	return fmt.Sprintf("disconnected: close code %d", e.Code)
}

// SlotsFullError means a path already has 253 responders.
type SlotsFullError struct{}

func (e *SlotsFullError) Error() string { return "no free slot on path" }

// InternalError means an invariant was violated: unset cookie, double
// task_done, bad state transition. The client is closed with
// CloseInternalError and the event is logged.
type InternalError struct {
	Reason string
}

func (e *InternalError) Error() string { return "internal: " + e.Reason }
