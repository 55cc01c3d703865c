// Package session composes the relay core into one served connection:
// the handshake (server-hello / client-hello / client-auth / server-auth),
// path attachment, and the receive/task/keep-alive loop triad. It is the
// only package that imports both relay and relay/message, since relay
// itself stays codec-agnostic.
package session

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"saltyrelay.io/relay"
	"saltyrelay.io/relay/message"
)

// Config holds the per-daemon settings a served connection needs.
type Config struct {
	// Keyring is the set of server permanent keys advertised out of
	// band; a client names the one it used by public key in client-auth.
	Keyring *relay.Keyring
	// Metrics is optional; when set, connection and drop events are
	// recorded on it.
	Metrics *relay.Metrics
	// KeepAliveInterval and KeepAliveTimeout, when non-zero, override the
	// per-client defaults before the handshake runs. A client's own
	// ping_interval proposal in client-auth still takes precedence.
	KeepAliveInterval time.Duration
	KeepAliveTimeout  time.Duration
}

// Serve drives one accepted transport through the handshake and then
// the full connection lifecycle, returning once the client has been
// fully drained and removed from its path. pathID is the initiator
// public key the caller resolved from the connection (typically from
// the request URL), naming which Path this connection joins.
func Serve(ctx context.Context, transport relay.Transport, registry *relay.Registry, pathID relay.PathId, cfg Config, logger *log.Logger) error {
	if logger == nil {
		logger = log.Default()
	}
	client := relay.NewClient(transport, logger, relay.PublicKey(pathID))
	if cfg.KeepAliveInterval > 0 {
		client.SetKeepAliveInterval(int64(cfg.KeepAliveInterval))
	}
	if cfg.KeepAliveTimeout > 0 {
		client.SetKeepAliveTimeoutValue(int64(cfg.KeepAliveTimeout))
	}

	path, err := handshake(ctx, client, registry, pathID, cfg)
	if err != nil {
		code := closeCodeFor(err)
		client.Close(ctx, code)
		if cfg.Metrics != nil {
			cfg.Metrics.RecordDrop(code)
		}
		return err
	}
	if cfg.Metrics != nil {
		cfg.Metrics.RecordConnection(client.Type())
	}
	return run(ctx, client, path, registry, cfg)
}

// outgoingHeader allocates (without committing) the next outbound
// header for a control frame from the server to destination.
func outgoingHeader(client *relay.Client, destination relay.Address) (message.Header, error) {
	overflow, sequence := message.SplitCSN(client.OutgoingCSN())
	cookie, err := client.CookieOut()
	if err != nil {
		return message.Header{}, err
	}
	return message.Header{
		Source:      relay.ServerAddress,
		Destination: destination,
		Overflow:    overflow,
		Sequence:    sequence,
		Cookie:      cookie,
	}, nil
}

// sendControl packs and writes one control frame, then commits the CSN
// advance. Used directly during the handshake, and via enqueueControl
// once a client has its own task queue draining.
func sendControl(ctx context.Context, client *relay.Client, h message.Header, body message.Body, box message.Box) error {
	data, err := message.MarshalBody(body)
	if err != nil {
		return err
	}
	if err := client.Send(ctx, message.Pack(h, data, box)); err != nil {
		return err
	}
	client.IncrementOutgoingCSN()
	return nil
}

// enqueueControl schedules a control message to target through its own
// task queue, so it is ordered correctly against any relay traffic
// already queued for delivery.
func enqueueControl(target *relay.Client, body message.Body) {
	target.Queue().Enqueue(relay.Item{
		Run: func() error {
			h, err := outgoingHeader(target, relay.ServerAddress)
			if err != nil {
				return err
			}
			box, err := target.MessageBox()
			if err != nil {
				return err
			}
			return sendControl(context.Background(), target, h, body, box)
		},
		Cancel: func() {},
	}, false)
}

// handshake runs server-hello, then either (client-hello, client-auth)
// for a responder or (client-auth) directly for an initiator, attaches
// the client to its path, and replies with server-auth.
func handshake(ctx context.Context, client *relay.Client, registry *relay.Registry, pathID relay.PathId, cfg Config) (*relay.Path, error) {
	sessionKey, err := client.ServerSessionKey()
	if err != nil {
		return nil, err
	}
	helloHeader, err := outgoingHeader(client, relay.ServerAddress)
	if err != nil {
		return nil, err
	}
	if err := sendControl(ctx, client, helloHeader, message.ServerHello(sessionKey.Public), nil); err != nil {
		return nil, err
	}

	_, body, err := readControl(ctx, client, nil)
	if err != nil {
		return nil, err
	}

	var role relay.AddressType
	switch body.Type {
	case message.KindClientHello:
		role = relay.ResponderType
		keyBytes, ok := bytesField(body, "key")
		if !ok || len(keyBytes) != 32 {
			return nil, &relay.MessageError{Reason: "client-hello: missing or malformed key"}
		}
		var pub relay.PublicKey
		copy(pub[:], keyBytes)
		client.SetClientKey(pub)

		_, body, err = readControl(ctx, client, nil)
		if err != nil {
			return nil, err
		}
		if body.Type != message.KindClientAuth {
			return nil, &relay.MessageError{Reason: "expected client-auth after client-hello"}
		}
	case message.KindClientAuth:
		role = relay.InitiatorType
	default:
		return nil, &relay.MessageError{Reason: fmt.Sprintf("expected client-hello or client-auth, got %q", body.Type)}
	}

	if err := validateClientAuth(client, body); err != nil {
		return nil, err
	}

	serverKeyBytes, ok := bytesField(body, "your_key")
	if !ok || len(serverKeyBytes) != 32 {
		return nil, &relay.MessageError{Reason: "client-auth: missing or malformed your_key"}
	}
	var serverPub relay.PublicKey
	copy(serverPub[:], serverKeyBytes)
	serverSecret, ok := cfg.Keyring.Lookup(serverPub)
	if !ok {
		return nil, &relay.MessageError{Reason: "client-auth: unknown server permanent key"}
	}
	client.SetServerPermanentKey(serverSecret)

	if interval, ok := intField(body, "ping_interval"); ok && interval > 0 {
		client.SetKeepAliveInterval(int64(interval) * int64(time.Second))
	}

	signBox, err := client.SignBox()
	if err != nil {
		return nil, err
	}
	msgBox, err := client.MessageBox()
	if err != nil {
		return nil, err
	}
	clientCookie, err := client.CookieIn()
	if err != nil {
		return nil, err
	}

	path := registry.GetOrCreate(pathID)

	var authBody message.Body
	switch role {
	case relay.InitiatorType:
		previous, err := path.SetInitiator(client)
		if err != nil {
			return nil, err
		}
		if previous != nil {
			previous.Drop(relay.CloseDroppedByInitiator)
		}
		authHeader, err := outgoingHeader(client, relay.ServerAddress)
		if err != nil {
			return nil, err
		}
		signed := signBox.Seal(concatKeys(sessionKey.Public, serverPub), message.Nonce(authHeader))
		authBody = message.ServerAuthForInitiator(clientCookie, signed, path.ResponderIDs())
		if err := sendControl(ctx, client, authHeader, authBody, msgBox); err != nil {
			return nil, err
		}
		notifyNewInitiator(path)
	case relay.ResponderType:
		addr, err := path.AddResponder(client)
		if err != nil {
			return nil, err
		}
		authHeader, err := outgoingHeader(client, relay.ServerAddress)
		if err != nil {
			return nil, err
		}
		signed := signBox.Seal(concatKeys(sessionKey.Public, serverPub), message.Nonce(authHeader))
		_, hasInitiator := path.GetInitiator()
		authBody = message.ServerAuthForResponder(clientCookie, signed, hasInitiator)
		if err := sendControl(ctx, client, authHeader, authBody, msgBox); err != nil {
			return nil, err
		}
		notifyNewResponder(path, addr)
	}
	return path, nil
}

// run spawns the receive and keep-alive loops and blocks on the task
// loop, which is the last to exit: it keeps draining queued writes
// (including the client's own scheduled close) after the other two
// have been cancelled.
func run(ctx context.Context, client *relay.Client, path *relay.Path, registry *relay.Registry, cfg Config) error {
	auxCtx, cancelAux := context.WithCancel(ctx)
	client.Tasks().Set(cancelAux, cancelAux)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		runReceiveLoop(auxCtx, client, path, registry, cfg)
	}()
	go func() {
		defer wg.Done()
		client.RunKeepAlive(auxCtx)
	}()

	client.RunTaskLoop(ctx)
	wg.Wait()
	client.Queue().Join()

	path.RemoveClient(client)
	registry.DropIfEmpty(path)
	return nil
}

// runReceiveLoop reads and dispatches frames until a terminating error
// is hit, then drops the client with the appropriate close code.
func runReceiveLoop(ctx context.Context, client *relay.Client, path *relay.Path, registry *relay.Registry, cfg Config) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if err := receiveOnce(ctx, client, path, registry); err != nil {
			code := closeCodeFor(err)
			client.Drop(code)
			if cfg.Metrics != nil {
				cfg.Metrics.RecordDrop(code)
			}
			return
		}
	}
}

// receiveOnce reads one frame and either dispatches it as a
// server-directed control message or forwards it opaquely to the
// addressed peer. A dynamic relay-flow violation (unknown destination,
// same-role relay) is reported to the sender with send-error rather
// than treated as fatal; only a MessageError, InternalError or
// DisconnectedError terminates the loop.
func receiveOnce(ctx context.Context, client *relay.Client, path *relay.Path, registry *relay.Registry) error {
	raw, err := client.Receive(ctx)
	if err != nil {
		return err
	}

	h, rest, err := message.DecodeHeader(raw)
	if err != nil {
		return &relay.MessageError{Reason: err.Error()}
	}
	if err := client.ValidateIncomingCookie(h.Cookie); err != nil {
		return err
	}
	if err := client.ValidateIncomingCSN(h.CSN()); err != nil {
		if _, ok := err.(*relay.MessageFlowError); ok {
			enqueueControl(client, message.SendError(h.Source, h.Destination))
			return nil
		}
		return err
	}
	client.IncrementIncomingCSN()

	if h.Destination == relay.ServerAddress {
		box, err := client.MessageBox()
		if err != nil {
			return err
		}
		body, ok := box.Open(rest, message.Nonce(h))
		if !ok {
			return &relay.MessageError{Reason: "could not decrypt frame"}
		}
		ctrl, err := message.DecodeControl(body)
		if err != nil {
			return &relay.MessageError{Reason: err.Error()}
		}
		return handleControl(client, path, ctrl)
	}

	destType := addressType(h.Destination)
	if !client.P2PAllowed(destType) {
		enqueueControl(client, message.SendError(h.Source, h.Destination))
		return nil
	}
	dest, ok := lookupPeer(path, h.Destination)
	if !ok {
		enqueueControl(client, message.SendError(h.Source, h.Destination))
		return nil
	}
	frame := raw
	dest.Queue().Enqueue(relay.Item{
		Run:    func() error { return dest.Send(context.Background(), frame) },
		Cancel: func() {},
	}, false)
	return nil
}

// handleControl dispatches a server-directed control message received
// after the handshake. Only drop-responder is legal at this point.
func handleControl(client *relay.Client, path *relay.Path, body message.Body) error {
	switch body.Type {
	case message.KindDropResponder:
		if client.Type() != relay.InitiatorType {
			return &relay.MessageError{Reason: "drop-responder: sender is not the initiator"}
		}
		idVal, ok := intField(body, "id")
		if !ok {
			return &relay.MessageError{Reason: "drop-responder: missing id"}
		}
		reason := relay.CloseNormal
		if r, ok := intField(body, "reason"); ok {
			reason = relay.CloseCode(r)
		}
		if target, ok := path.GetResponder(relay.ResponderAddress(byte(idVal))); ok {
			target.Drop(reason)
		}
		return nil
	default:
		return &relay.MessageError{Reason: fmt.Sprintf("unexpected control message %q", body.Type)}
	}
}

func notifyNewInitiator(path *relay.Path) {
	for _, addr := range path.ResponderIDs() {
		if r, ok := path.GetResponder(addr); ok {
			enqueueControl(r, message.NewInitiator())
		}
	}
}

func notifyNewResponder(path *relay.Path, addr relay.ResponderAddress) {
	if init, ok := path.GetInitiator(); ok {
		enqueueControl(init, message.NewResponder(addr))
	}
}

func addressType(addr relay.Address) relay.AddressType {
	switch {
	case addr == relay.InitiatorAddress:
		return relay.InitiatorType
	case addr >= relay.ResponderAddressMin && addr <= relay.ResponderAddressMax:
		return relay.ResponderType
	default:
		return relay.UndeterminedType
	}
}

func lookupPeer(path *relay.Path, addr relay.Address) (*relay.Client, bool) {
	if addr == relay.InitiatorAddress {
		return path.GetInitiator()
	}
	if addr >= relay.ResponderAddressMin && addr <= relay.ResponderAddressMax {
		return path.GetResponder(relay.ResponderAddress(addr))
	}
	return nil, false
}

func validateClientAuth(client *relay.Client, body message.Body) error {
	want, err := client.CookieOut()
	if err != nil {
		return err
	}
	got, ok := bytesField(body, "your_cookie")
	if !ok || len(got) != relay.CookieLength {
		return &relay.MessageError{Reason: "client-auth: missing or malformed your_cookie"}
	}
	var gotCookie relay.Cookie
	copy(gotCookie[:], got)
	if gotCookie != want {
		return &relay.MessageError{Reason: "client-auth: your_cookie does not match"}
	}
	return nil
}

func concatKeys(a, b relay.PublicKey) []byte {
	out := make([]byte, 0, 64)
	out = append(out, a[:]...)
	out = append(out, b[:]...)
	return out
}

// readControl reads one frame and decodes it as a control body, for use
// during the handshake before a MessageBox may be ready (box may be nil
// for the plaintext opening exchange).
func readControl(ctx context.Context, client *relay.Client, box message.Box) (message.Header, message.Body, error) {
	raw, err := client.Receive(ctx)
	if err != nil {
		return message.Header{}, message.Body{}, err
	}
	h, rest, err := message.Unpack(raw, box)
	if err != nil {
		return message.Header{}, message.Body{}, err
	}
	if err := client.ValidateIncomingCookie(h.Cookie); err != nil {
		return message.Header{}, message.Body{}, err
	}
	if err := client.ValidateIncomingCSN(h.CSN()); err != nil {
		return message.Header{}, message.Body{}, err
	}
	client.IncrementIncomingCSN()
	body, err := message.DecodeControl(rest)
	if err != nil {
		return message.Header{}, message.Body{}, &relay.MessageError{Reason: err.Error()}
	}
	return h, body, nil
}

func bytesField(b message.Body, key string) ([]byte, bool) {
	v, ok := b.Fields[key]
	if !ok {
		return nil, false
	}
	switch x := v.(type) {
	case []byte:
		return x, true
	case string:
		return []byte(x), true
	}
	return nil, false
}

func intField(b message.Body, key string) (int64, bool) {
	v, ok := b.Fields[key]
	if !ok {
		return 0, false
	}
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case int8:
		return int64(x), true
	case uint8:
		return int64(x), true
	case uint64:
		return int64(x), true
	}
	return 0, false
}

func closeCodeFor(err error) relay.CloseCode {
	switch e := err.(type) {
	case *relay.DisconnectedError:
		return e.Code
	case *relay.SlotsFullError:
		return relay.ClosePathFullError
	case *relay.InternalError:
		return relay.CloseInternalError
	case *relay.MessageError:
		return relay.CloseProtocolError
	case *relay.MessageFlowError:
		return relay.CloseProtocolError
	default:
		return relay.CloseProtocolError
	}
}
