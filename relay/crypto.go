package relay

import (
	crand "crypto/rand"

	"golang.org/x/crypto/nacl/box"
)

// PublicKey and SecretKey are NaCl box (curve25519) keys.
type PublicKey [32]byte
type SecretKey [32]byte

// KeyPair is a NaCl box keypair, either the server's permanent identity
// or its per-connection session key.
type KeyPair struct {
	Public PublicKey
	Secret SecretKey
}

// GenerateKeyPair creates a fresh NaCl box keypair.
func GenerateKeyPair() (KeyPair, error) {
	pub, sec, err := box.GenerateKey(crand.Reader)
	if err != nil {
		return KeyPair{}, err
	}
	return KeyPair{Public: PublicKey(*pub), Secret: SecretKey(*sec)}, nil
}

// Keyring holds the set of permanent keypairs a daemon advertises to
// incoming clients during the handshake.
type Keyring struct {
	pairs map[PublicKey]SecretKey
}

// NewKeyring builds a Keyring from a set of permanent keypairs.
func NewKeyring(pairs ...KeyPair) *Keyring {
	k := &Keyring{pairs: make(map[PublicKey]SecretKey, len(pairs))}
	for _, p := range pairs {
		k.pairs[p.Public] = p.Secret
	}
	return k
}

// Lookup returns the secret half of an advertised permanent public key.
func (k *Keyring) Lookup(pub PublicKey) (SecretKey, bool) {
	sec, ok := k.pairs[pub]
	return sec, ok
}

// Publics returns the set of advertised permanent public keys, in no
// particular order.
func (k *Keyring) Publics() []PublicKey {
	out := make([]PublicKey, 0, len(k.pairs))
	for pub := range k.pairs {
		out = append(out, pub)
	}
	return out
}

// sealedBox is a memoized NaCl box keypair-pair used to seal and open
// messages between one of the server's keys and the client's current
// public key. It mirrors libnacl.public.Box from the source
// implementation: a precomputed shared key derived once from a secret
// and a peer public key.
type sealedBox struct {
	shared [32]byte
}

func newSealedBox(ours SecretKey, theirs PublicKey) *sealedBox {
	b := &sealedBox{}
	s := [32]byte(ours)
	p := [32]byte(theirs)
	box.Precompute(&b.shared, &p, &s)
	return b
}

// Seal encrypts message under nonce, appending the authentication tag.
func (b *sealedBox) Seal(message []byte, nonce *[24]byte) []byte {
	return box.SealAfterPrecomputation(nil, message, nonce, &b.shared)
}

// Open decrypts and authenticates a sealed message.
func (b *sealedBox) Open(sealed []byte, nonce *[24]byte) ([]byte, bool) {
	return box.OpenAfterPrecomputation(nil, sealed, nonce, &b.shared)
}

// MessageBox is the box used for all encrypted traffic after the
// handshake: server-session key <-> client's current public key.
type MessageBox struct{ *sealedBox }

// SignBox is the box used only to sign the keys disclosed in
// server-auth: server-permanent key <-> client's current public key.
type SignBox struct{ *sealedBox }
