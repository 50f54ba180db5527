package netio

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/subtle"
	"crypto/x509"
	"fmt"
)

// Keypair is the server's long-lived RSA keypair used for the
// application-layer encryption handshake (distinct from the TLS
// certificate). It is shared-immutable across every connection; nothing
// ever mutates it after construction.
type Keypair struct {
	Private   *rsa.PrivateKey
	PublicDER []byte
}

// NewKeypair generates a fresh 2048-bit RSA keypair. A 1024-bit key would
// leave OAEP/SHA-256 no room for the 64-byte verify nonce (modulus bytes
// must be at least 2*hashLen+2+plaintextLen = 130); the key is
// regenerated per server start — see DESIGN.md for why this
// implementation chose ephemeral-per-run over loading persistent key
// material.
func NewKeypair() (*Keypair, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("netio: generating RSA keypair: %w", err)
	}
	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("netio: marshaling RSA public key: %w", err)
	}
	return &Keypair{Private: priv, PublicDER: der}, nil
}

// ErrVerifyMismatch is returned by VerifyAndDecryptSecret when the
// decrypted verify nonce does not match the one the receiver generated,
// i.e. the peer failed to prove it holds the matching private-key
// counterpart's trust (it decrypted with the wrong key, or is replaying).
var ErrVerifyMismatch = fmt.Errorf("netio: verify nonce mismatch")

// VerifyAndDecryptSecret RSA-OAEP-decrypts verifyCT and compares it against
// expectedVerify in constant time, then decrypts secretCT and returns the
// resulting shared secret. It returns ErrVerifyMismatch (and never
// decrypts secretCT) if the verify nonce does not match.
func (k *Keypair) VerifyAndDecryptSecret(verifyCT, secretCT, expectedVerify []byte) ([]byte, error) {
	verify, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, k.Private, verifyCT, nil)
	if err != nil {
		return nil, fmt.Errorf("netio: decrypting verify nonce: %w", err)
	}
	if subtle.ConstantTimeCompare(verify, expectedVerify) != 1 {
		return nil, ErrVerifyMismatch
	}
	secret, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, k.Private, secretCT, nil)
	if err != nil {
		return nil, fmt.Errorf("netio: decrypting shared secret: %w", err)
	}
	return secret, nil
}
