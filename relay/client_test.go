package relay

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
)

// fakeTransport is an in-memory Transport double good enough to drive
// Client's cookie/CSN/drop behaviour without a real WebSocket.
type fakeTransport struct {
	sent   [][]byte
	closed bool
	code   CloseCode
}

func (f *fakeTransport) Send(ctx context.Context, data []byte) error {
	f.sent = append(f.sent, data)
	return nil
}

func (f *fakeTransport) Receive(ctx context.Context) ([]byte, bool, error) {
	return nil, false, errors.New("fakeTransport: no data queued")
}

func (f *fakeTransport) Ping(ctx context.Context) error { return nil }

func (f *fakeTransport) Close(ctx context.Context, code CloseCode, reason string) error {
	f.closed = true
	f.code = code
	return nil
}

func testLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func newTestClient() (*Client, *fakeTransport) {
	ft := &fakeTransport{}
	return NewClient(ft, testLogger(), PublicKey{}), ft
}

func TestClientCookieValidation(t *testing.T) {
	c, _ := newTestClient()

	var first Cookie
	first[0] = 1
	if err := c.ValidateIncomingCookie(first); err != nil {
		t.Fatalf("first cookie should be accepted: %v", err)
	}
	if err := c.ValidateIncomingCookie(first); err != nil {
		t.Fatalf("repeating the same cookie should be accepted: %v", err)
	}

	var other Cookie
	other[0] = 2
	if err := c.ValidateIncomingCookie(other); err == nil {
		t.Fatal("a changed cookie should be rejected")
	}
}

func TestClientCookieCannotMatchServer(t *testing.T) {
	c, _ := newTestClient()
	out, err := c.CookieOut()
	if err != nil {
		t.Fatal(err)
	}
	if err := c.ValidateIncomingCookie(out); err == nil {
		t.Fatal("client cookie equal to server cookie should be rejected")
	}
}

func TestClientCSNFirstMessageMustHaveZeroOverflow(t *testing.T) {
	c, _ := newTestClient()
	if err := c.ValidateIncomingCSN(CombinedSequenceNumber(1) << 32); err == nil {
		t.Fatal("nonzero overflow bits on the first message should be rejected")
	}
}

func TestClientCSNStrictSuccessor(t *testing.T) {
	c, _ := newTestClient()
	if err := c.ValidateIncomingCSN(42); err != nil {
		t.Fatal(err)
	}
	c.IncrementIncomingCSN()
	if err := c.ValidateIncomingCSN(43); err != nil {
		t.Fatalf("the immediate successor should be accepted: %v", err)
	}
	c.IncrementIncomingCSN()
	if err := c.ValidateIncomingCSN(100); err == nil {
		t.Fatal("a skipped sequence number should be rejected")
	}
}

func TestClientKeepAliveIntervalFloor(t *testing.T) {
	c, _ := newTestClient()
	c.SetKeepAliveInterval(int64(KeepAliveIntervalMin) / 2)
	if c.KeepAliveInterval() != int64(KeepAliveIntervalDefault) {
		t.Fatal("an interval below the floor should be ignored")
	}
	c.SetKeepAliveInterval(int64(KeepAliveIntervalMin))
	if c.KeepAliveInterval() != int64(KeepAliveIntervalMin) {
		t.Fatal("an interval at the floor should be accepted")
	}
}

func TestClientDropOrdering(t *testing.T) {
	c, ft := newTestClient()
	path := NewPath(PathId{}, testLogger())
	if _, err := path.SetInitiator(c); err != nil {
		t.Fatal(err)
	}

	var auxCancelled int
	c.Tasks().Set(func() { auxCancelled++ }, func() { auxCancelled++ })

	c.Drop(CloseProtocolError)

	if c.State() != Dropped {
		t.Fatal("Drop should transition the client to Dropped")
	}
	if auxCancelled != 2 {
		t.Fatalf("Drop should cancel both the receive and keep-alive loops, got %d cancellations", auxCancelled)
	}
	if c.Queue().State() != QueueClosed {
		t.Fatal("Drop should close the task queue")
	}

	stop := make(chan struct{})
	item, ok := c.Queue().Dequeue(stop)
	if !ok {
		t.Fatal("Drop should have queued the client's own close behind any prior work")
	}
	if err := item.Run(); err != nil {
		t.Fatal(err)
	}
	if !ft.closed || ft.code != CloseProtocolError {
		t.Fatalf("close item should close the transport with the drop code, got closed=%v code=%v", ft.closed, ft.code)
	}
}

func TestClientP2PAllowed(t *testing.T) {
	c, _ := newTestClient()
	if c.P2PAllowed(ResponderType) {
		t.Fatal("a Restricted client should never be allowed to relay")
	}
	path := NewPath(PathId{}, testLogger())
	path.SetInitiator(c)
	if !c.P2PAllowed(ResponderType) {
		t.Fatal("an authenticated initiator should be allowed to relay to a responder")
	}
	if c.P2PAllowed(InitiatorType) {
		t.Fatal("relaying to the same role should not be allowed")
	}
}
