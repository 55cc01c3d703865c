package session

import (
	"bytes"
	"context"
	"crypto/rand"
	"io"
	"log"
	"testing"
	"time"

	naclbox "golang.org/x/crypto/nacl/box"

	"saltyrelay.io/relay"
	"saltyrelay.io/relay/message"
)

// pipeTransport is an in-memory relay.Transport: two instances sharing
// crossed-over channels stand in for the two ends of a WebSocket.
type pipeTransport struct {
	in  chan []byte
	out chan []byte
}

func newPipe() (server, peer relay.Transport) {
	a := make(chan []byte, 8)
	b := make(chan []byte, 8)
	return &pipeTransport{in: a, out: b}, &pipeTransport{in: b, out: a}
}

func (p *pipeTransport) Send(ctx context.Context, data []byte) error {
	select {
	case p.out <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipeTransport) Receive(ctx context.Context) ([]byte, bool, error) {
	select {
	case data := <-p.in:
		return data, true, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

func (p *pipeTransport) Ping(ctx context.Context) error { return nil }

func (p *pipeTransport) Close(ctx context.Context, code relay.CloseCode, reason string) error {
	return nil
}

// peerBox implements message.Box directly against nacl/box, independent
// of relay's unexported sealedBox, to decrypt what the server encrypts
// with the mirror-image key pair.
type peerBox struct {
	shared [32]byte
}

func newPeerBox(ours relay.SecretKey, theirs relay.PublicKey) *peerBox {
	b := &peerBox{}
	s := [32]byte(ours)
	p := [32]byte(theirs)
	naclbox.Precompute(&b.shared, &p, &s)
	return b
}

func (b *peerBox) Seal(msg []byte, nonce *[24]byte) []byte {
	return naclbox.SealAfterPrecomputation(nil, msg, nonce, &b.shared)
}

func (b *peerBox) Open(sealed []byte, nonce *[24]byte) ([]byte, bool) {
	return naclbox.OpenAfterPrecomputation(nil, sealed, nonce, &b.shared)
}

func testLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func TestServeInitiatorHandshake(t *testing.T) {
	initiatorKP, err := relay.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	serverKP, err := relay.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	pathID := relay.PathId(initiatorKP.Public)
	keyring := relay.NewKeyring(serverKP)
	registry := relay.NewRegistry(testLogger())

	serverSide, peerSide := newPipe()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- Serve(ctx, serverSide, registry, pathID, Config{Keyring: keyring}, testLogger())
	}()

	// 1. Receive server-hello in the clear.
	helloFrame, _, err := peerSide.Receive(ctx)
	if err != nil {
		t.Fatal(err)
	}
	helloHeader, helloBody, err := message.Unpack(helloFrame, nil)
	if err != nil {
		t.Fatal(err)
	}
	hello, err := message.DecodeControl(helloBody)
	if err != nil {
		t.Fatal(err)
	}
	if hello.Type != message.KindServerHello {
		t.Fatalf("got kind %q, want server-hello", hello.Type)
	}
	keyBytes := hello.Fields["key"].([]byte)
	var serverSessionPub relay.PublicKey
	copy(serverSessionPub[:], keyBytes)

	// 2. Send client-auth in the clear, echoing the server's cookie.
	clientCookie := relay.Cookie{}
	if _, err := rand.Read(clientCookie[:]); err != nil {
		t.Fatal(err)
	}
	authHeader := message.Header{
		Source:      relay.ServerAddress,
		Destination: relay.ServerAddress,
		Sequence:    1,
		Cookie:      clientCookie,
	}
	authBody := message.ClientAuth(helloHeader.Cookie, 20, &serverKP.Public)
	authData, err := message.MarshalBody(authBody)
	if err != nil {
		t.Fatal(err)
	}
	if err := peerSide.Send(ctx, message.Pack(authHeader, authData, nil)); err != nil {
		t.Fatal(err)
	}

	// 3. Receive and decrypt server-auth.
	replyFrame, _, err := peerSide.Receive(ctx)
	if err != nil {
		t.Fatal(err)
	}
	box := newPeerBox(initiatorKP.Secret, serverSessionPub)
	replyHeader, replyBody, err := message.Unpack(replyFrame, box)
	if err != nil {
		t.Fatal(err)
	}
	if replyHeader.Destination != relay.ServerAddress {
		t.Fatalf("server-auth destination = %v, want ServerAddress", replyHeader.Destination)
	}
	reply, err := message.DecodeControl(replyBody)
	if err != nil {
		t.Fatal(err)
	}
	if reply.Type != message.KindServerAuth {
		t.Fatalf("got kind %q, want server-auth", reply.Type)
	}
	yourCookie, ok := reply.Fields["your_cookie"].([]byte)
	if !ok || !bytes.Equal(yourCookie, clientCookie[:]) {
		t.Fatalf("server-auth your_cookie = %v, want %v", yourCookie, clientCookie[:])
	}

	path := registry.GetOrCreate(pathID)
	init, ok := path.GetInitiator()
	if !ok {
		t.Fatal("path should have an attached initiator after the handshake")
	}
	if init.Address() != relay.InitiatorAddress {
		t.Fatal("attached client should be authenticated at the initiator slot")
	}

	cancel()
	<-done
}
