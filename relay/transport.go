package relay

import (
	"context"

	"nhooyr.io/websocket"
)

// Transport is the duplex binary-frame channel with a close future that
// the core consumes from the WebSocket layer. It is a narrow seam: the
// core never depends on websocket framing or TLS details beyond this
// interface, per spec "Out of scope: the WebSocket transport".
type Transport interface {
	// Send writes one binary frame.
	Send(ctx context.Context, data []byte) error
	// Receive reads one frame, reporting whether it arrived as a binary
	// frame (text frames are a protocol violation at this layer).
	Receive(ctx context.Context) (data []byte, binary bool, err error)
	// Ping sends a WebSocket ping and blocks until the matching pong
	// arrives or ctx is done.
	Ping(ctx context.Context) error
	// Close closes the underlying connection with the given status.
	Close(ctx context.Context, code CloseCode, reason string) error
}

// wsTransport adapts nhooyr.io/websocket to Transport.
type wsTransport struct {
	conn *websocket.Conn
}

// NewWebSocketTransport wraps an already-upgraded WebSocket connection.
func NewWebSocketTransport(conn *websocket.Conn) Transport {
	return &wsTransport{conn: conn}
}

func (t *wsTransport) Send(ctx context.Context, data []byte) error {
	return t.conn.Write(ctx, websocket.MessageBinary, data)
}

func (t *wsTransport) Receive(ctx context.Context) ([]byte, bool, error) {
	typ, data, err := t.conn.Read(ctx)
	if err != nil {
		return nil, false, err
	}
	return data, typ == websocket.MessageBinary, nil
}

func (t *wsTransport) Ping(ctx context.Context) error {
	return t.conn.Ping(ctx)
}

func (t *wsTransport) Close(ctx context.Context, code CloseCode, reason string) error {
	// Reasons are not sent for security reasons; only the code carries
	// information to the peer.
	_ = ctx
	return t.conn.Close(websocket.StatusCode(code), "")
}

// IsDisconnect reports whether err represents the peer having closed
// the connection, as opposed to some other transport failure.
func IsDisconnect(err error) (CloseCode, bool) {
	code := websocket.CloseStatus(err)
	if code == -1 {
		return 0, false
	}
	return CloseCode(code), true
}
