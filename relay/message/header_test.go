package message

import (
	"bytes"
	"testing"

	"saltyrelay.io/relay"
)

func TestHeaderEncodeDecodeRoundTrip(t *testing.T) {
	var cookie relay.Cookie
	copy(cookie[:], []byte("0123456789abcdef"))

	h := Header{
		Source:      relay.Address(0x01),
		Destination: relay.Address(0x02),
		Overflow:    0x1234,
		Sequence:    0xdeadbeef,
		Cookie:      cookie,
	}

	encoded := h.Encode()
	if len(encoded) != HeaderLength {
		t.Fatalf("got %d bytes, want %d", len(encoded), HeaderLength)
	}

	rest := append(encoded, []byte("payload")...)
	decoded, body, err := DecodeHeader(rest)
	if err != nil {
		t.Fatal(err)
	}
	if decoded != h {
		t.Fatalf("got %+v, want %+v", decoded, h)
	}
	if !bytes.Equal(body, []byte("payload")) {
		t.Fatalf("got body %q, want %q", body, "payload")
	}
}

func TestHeaderCSNRoundTrip(t *testing.T) {
	csn := relay.CombinedSequenceNumber(0x1234_5678_9abc)
	overflow, sequence := SplitCSN(csn)
	h := Header{Overflow: overflow, Sequence: sequence}
	if h.CSN() != csn {
		t.Fatalf("got %#x, want %#x", h.CSN(), csn)
	}
}

func TestDecodeHeaderTooShort(t *testing.T) {
	if _, _, err := DecodeHeader(make([]byte, HeaderLength-1)); err == nil {
		t.Fatal("a frame shorter than the header should fail to decode")
	}
}

func TestNonceIsHeaderEncoding(t *testing.T) {
	h := Header{Source: relay.ServerAddress, Destination: relay.InitiatorAddress}
	nonce := Nonce(h)
	if !bytes.Equal(nonce[:], h.Encode()) {
		t.Fatal("the nonce should be exactly the header's encoding")
	}
}
