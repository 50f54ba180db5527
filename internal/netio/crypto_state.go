package netio

import (
	"crypto/aes"
	"fmt"
)

// cipherState is a per-direction encryption slot: either unencrypted (the
// zero value) or encrypted with AES-128-CFB8. It is exclusively owned by
// whichever actor (receiver or sender) holds it — never shared between
// the two directions of a connection, even though both are upgraded with
// the same key material.
type cipherState struct {
	stream *cfb8
}

// upgrade keys the cipher with secret, used as both the AES-128 key and
// the CFB8 feedback register's initial value (IV = key). decrypt selects
// which direction's feedback rule applies during XORKeyStream.
func (c *cipherState) upgrade(secret []byte, decrypt bool) error {
	if len(secret) != 16 {
		return fmt.Errorf("netio: shared secret must be 16 bytes for AES-128, got %d", len(secret))
	}
	block, err := aes.NewCipher(secret)
	if err != nil {
		return fmt.Errorf("netio: constructing AES cipher: %w", err)
	}
	c.stream = newCFB8(block, secret, decrypt)
	return nil
}

// encrypted reports whether upgrade has been called.
func (c *cipherState) encrypted() bool { return c.stream != nil }

// transform encrypts or decrypts buf in place, depending on which
// direction the cipher was upgraded for. It is a no-op before upgrade.
func (c *cipherState) transform(buf []byte) {
	if c.stream != nil {
		c.stream.XORKeyStream(buf, buf)
	}
}
