package relay

import (
	"context"
	crand "crypto/rand"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
)

// Client is the per-connection protocol actor: it holds crypto state,
// cookies, sequence numbers, the task queue, keep-alive bookkeeping, and
// the drop/close lifecycle. This is the core's largest component.
type Client struct {
	log *log.Logger

	transport Transport
	queue     *TaskQueue
	tasks     ClientTasks

	mu sync.Mutex

	state ClientState
	id    Address
	kind  AddressType

	clientKey         PublicKey
	clientKeySet      bool
	serverPermanent   *SecretKey
	serverSession     *KeyPair
	messageBox        *MessageBox
	signBox           *SignBox

	cookieOut    *Cookie
	cookieIn     *Cookie
	csnOut       csnState
	csnOutInit   bool
	csnIn        csnState
	csnInInit    bool

	keepAliveInterval int64 // nanoseconds, time.Duration
	keepAliveTimeout  int64 // nanoseconds, time.Duration
	keepAlivePings    uint64
}

// NewClient creates a Client around a freshly-accepted transport. It
// begins in the Restricted state with the server's logical address.
func NewClient(transport Transport, logger *log.Logger, clientKey PublicKey) *Client {
	if logger == nil {
		logger = log.Default()
	}
	return &Client{
		log:               logger,
		transport:         transport,
		queue:             NewTaskQueue(),
		state:             Restricted,
		id:                ServerAddress,
		clientKey:         clientKey,
		clientKeySet:      true,
		keepAliveInterval: int64(KeepAliveIntervalDefault),
		keepAliveTimeout:  int64(KeepAliveTimeout),
	}
}

func (c *Client) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return fmt.Sprintf("Client(role=%s, id=0x%02x)", c.kind, byte(c.id))
}

// State returns the client's current lifecycle state.
func (c *Client) State() ClientState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Address returns the client's assigned slot address.
func (c *Client) Address() Address {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// Type returns the client's address type (initiator/responder), valid
// only once authenticated.
func (c *Client) Type() AddressType {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.kind
}

// Tasks returns the client's activity-triad coordinator.
func (c *Client) Tasks() *ClientTasks { return &c.tasks }

// Queue returns the client's outbound task queue.
func (c *Client) Queue() *TaskQueue { return c.queue }

// authenticate transitions Restricted -> Authenticated and assigns the
// given slot address. Only a Path may call this (from SetInitiator or
// AddResponder).
func (c *Client) authenticate(id Address, kind AddressType) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	next, ok := c.state.next()
	if !ok || next != Authenticated {
		return &InternalError{Reason: fmt.Sprintf("state %s cannot advance to authenticated", c.state)}
	}
	c.state = Authenticated
	c.id = id
	c.kind = kind
	return nil
}

// setDropped transitions Authenticated -> Dropped. Called only from
// Drop.
func (c *Client) setDropped() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Dropped {
		return
	}
	c.state = Dropped
}

// ClientKey returns the client's current public key: initially its
// permanent key, optionally replaced by a responder session key via
// SetClientKey.
func (c *Client) ClientKey() PublicKey {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientKey
}

// SetClientKey replaces the client's current public key (the responder
// session-key switch during token/auth exchange) and invalidates the
// memoized MessageBox so it is recomputed lazily against the new key.
func (c *Client) SetClientKey(pub PublicKey) {
	c.mu.Lock()
	c.clientKey = pub
	c.messageBox = nil
	c.mu.Unlock()
}

// ServerSessionKey returns the server's per-connection session keypair,
// generating it on first access so a connection that fails before
// crypto is needed does not waste entropy.
func (c *Client) ServerSessionKey() (KeyPair, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.serverSession == nil {
		kp, err := GenerateKeyPair()
		if err != nil {
			return KeyPair{}, err
		}
		c.serverSession = &kp
	}
	return *c.serverSession, nil
}

// SetServerPermanentKey records the server permanent secret key the
// client selected from the advertised set during the handshake.
func (c *Client) SetServerPermanentKey(key SecretKey) {
	c.mu.Lock()
	c.serverPermanent = &key
	c.signBox = nil
	c.mu.Unlock()
}

// ServerPermanentKey returns the server permanent secret key chosen by
// the client. It is an InternalError to call this before the handshake
// has set it.
func (c *Client) ServerPermanentKey() (SecretKey, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.serverPermanent == nil {
		return SecretKey{}, &InternalError{Reason: "server permanent key not set"}
	}
	return *c.serverPermanent, nil
}

// MessageBox returns the memoized server-session <-> client-current box
// used for all encrypted traffic after the handshake.
func (c *Client) MessageBox() (*MessageBox, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.messageBox == nil {
		if c.serverSession == nil {
			kp, err := GenerateKeyPair()
			if err != nil {
				return nil, err
			}
			c.serverSession = &kp
		}
		c.messageBox = &MessageBox{newSealedBox(c.serverSession.Secret, c.clientKey)}
	}
	return c.messageBox, nil
}

// SignBox returns the memoized server-permanent <-> client-current box
// used only to sign the keys in the server-auth reply.
func (c *Client) SignBox() (*SignBox, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.signBox == nil {
		if c.serverPermanent == nil {
			return nil, &InternalError{Reason: "server permanent key not set"}
		}
		c.signBox = &SignBox{newSealedBox(*c.serverPermanent, c.clientKey)}
	}
	return c.signBox, nil
}

// CookieOut returns the server's own outbound cookie, generated
// randomly on first access.
func (c *Client) CookieOut() (Cookie, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cookieOut == nil {
		var ck Cookie
		if _, err := crand.Read(ck[:]); err != nil {
			return Cookie{}, err
		}
		c.cookieOut = &ck
	}
	return *c.cookieOut, nil
}

// ValidateIncomingCookie records the client's cookie on first sight
// (rejecting a collision with the server's own outbound cookie), or
// requires byte-equality with the previously recorded cookie.
func (c *Client) ValidateIncomingCookie(cookie Cookie) error {
	out, err := c.CookieOut()
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cookieIn == nil {
		if cookie == out {
			return &MessageError{Reason: "server and client cookies are the same"}
		}
		c.cookieIn = &cookie
		return nil
	}
	if cookie != *c.cookieIn {
		return &MessageError{Reason: "client sent wrong cookie"}
	}
	return nil
}

// CookieIn returns the client's own cookie, as recorded by the first
// call to ValidateIncomingCookie. It is an InternalError to call this
// before any frame has been validated.
func (c *Client) CookieIn() (Cookie, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cookieIn == nil {
		return Cookie{}, &InternalError{Reason: "client cookie not yet recorded"}
	}
	return *c.cookieIn, nil
}

// OutgoingCSN returns the pending combined sequence number for outbound
// messages, initializing it (zero overflow number, random sequence
// number) on first use.
func (c *Client) OutgoingCSN() CombinedSequenceNumber {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.csnOutInit {
		c.csnOut = newOutgoingCSN()
		c.csnOutInit = true
	}
	return c.csnOut.value
}

// IncrementOutgoingCSN advances the outgoing CSN, transitioning to the
// Overflow sentinel if it would exceed 48 bits.
func (c *Client) IncrementOutgoingCSN() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.csnOut = c.csnOut.increment()
}

// ValidateIncomingCSN enforces the first-message and strict-successor
// rules for inbound sequence numbers.
func (c *Client) ValidateIncomingCSN(csn CombinedSequenceNumber) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.csnInInit {
		if csn&firstMessageMask != 0 {
			return &MessageError{Reason: "invalid sequence number, leading 16 bits are not 0"}
		}
		c.csnIn = csnState{value: csn}
		c.csnInInit = true
		return nil
	}
	if c.csnIn.overflowed {
		return &MessageFlowError{Reason: "cannot receive any more messages, sequence number counter overflowed"}
	}
	if csn != c.csnIn.value {
		return &MessageError{Reason: fmt.Sprintf("invalid sequence number, expected %d, got %d", c.csnIn.value, csn)}
	}
	return nil
}

// IncrementIncomingCSN advances the incoming CSN after a message has
// been fully processed, transitioning to Overflow if needed.
func (c *Client) IncrementIncomingCSN() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.csnIn = c.csnIn.increment()
}

// KeepAliveInterval returns the currently configured interval.
func (c *Client) KeepAliveInterval() int64 {
	return atomic.LoadInt64(&c.keepAliveInterval)
}

// SetKeepAliveInterval assigns a new keep-alive interval, ignoring
// values below KeepAliveIntervalMin.
func (c *Client) SetKeepAliveInterval(d int64) {
	if d >= int64(KeepAliveIntervalMin) {
		atomic.StoreInt64(&c.keepAliveInterval, d)
	}
}

// KeepAliveTimeoutValue returns the currently configured pong timeout.
func (c *Client) KeepAliveTimeoutValue() int64 {
	return atomic.LoadInt64(&c.keepAliveTimeout)
}

// SetKeepAliveTimeoutValue overrides the daemon-wide default pong
// timeout for this client.
func (c *Client) SetKeepAliveTimeoutValue(d int64) {
	if d > 0 {
		atomic.StoreInt64(&c.keepAliveTimeout, d)
	}
}

// RecordKeepAlivePing increments the observability-only ping counter.
func (c *Client) RecordKeepAlivePing() {
	atomic.AddUint64(&c.keepAlivePings, 1)
}

// KeepAlivePings returns the number of successful keep-alive round
// trips observed so far.
func (c *Client) KeepAlivePings() uint64 {
	return atomic.LoadUint64(&c.keepAlivePings)
}

// P2PAllowed reports whether a relay frame may be sent from this client
// to a peer of destType: the client must be authenticated and the
// destination type must differ from this client's own type.
func (c *Client) P2PAllowed(destType AddressType) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == Authenticated && c.kind != destType
}

// Send writes one already-packed frame, closing the task queue and
// surfacing DisconnectedError if the transport has gone away.
func (c *Client) Send(ctx context.Context, data []byte) error {
	if err := c.transport.Send(ctx, data); err != nil {
		c.queue.Close()
		if code, ok := IsDisconnect(err); ok {
			return &DisconnectedError{Code: code}
		}
		return err
	}
	return nil
}

// Receive reads and returns one raw binary frame, enforcing that data
// must be bytes (binary frame) and surfacing DisconnectedError on
// transport loss.
func (c *Client) Receive(ctx context.Context) ([]byte, error) {
	data, binary, err := c.transport.Receive(ctx)
	if err != nil {
		c.queue.Close()
		if code, ok := IsDisconnect(err); ok {
			return nil, &DisconnectedError{Code: code}
		}
		return nil, err
	}
	if !binary {
		return nil, &MessageError{Reason: "data must be bytes"}
	}
	return data, nil
}

// Ping sends a WebSocket ping and awaits the pong, surfacing
// DisconnectedError on transport loss.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.transport.Ping(ctx); err != nil {
		c.queue.Close()
		if code, ok := IsDisconnect(err); ok {
			return &DisconnectedError{Code: code}
		}
		return err
	}
	c.RecordKeepAlivePing()
	return nil
}

// Close closes the task queue (admitting no further writes) and then
// closes the underlying transport with the given code, waiting for the
// close to complete.
func (c *Client) Close(ctx context.Context, code CloseCode) error {
	c.queue.Close()
	return c.transport.Close(ctx, code, "")
}

// Drop is the hard eviction path: invoked by a peer displacing this
// client or by the server on a policy violation. It schedules the
// client's own close behind any already-queued work, freezes the task
// queue against new enqueues, cancels the receive and keep-alive loops
// (leaving the task loop running to drain), and advances the client's
// state to Dropped.
func (c *Client) Drop(code CloseCode) {
	c.log.Printf("dropping client %s, close code %d", c, code)

	c.queue.Enqueue(Item{
		Run: func() error {
			return c.Close(context.Background(), code)
		},
		Cancel: func() {},
	}, true)

	c.queue.Close()
	c.tasks.CancelAllButTaskLoop()
	c.setDropped()
}
