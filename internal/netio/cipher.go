package netio

import "crypto/cipher"

// cfb8 implements AES-128-CFB8: 8-bit (byte-at-a-time) cipher feedback
// mode. Go's standard library only exposes CFB with a segment size equal
// to the block's, so this mode is hand-rolled directly on top of the
// block cipher, the same way the original implementation builds it on
// OpenSSL's raw block primitive instead of a higher-level stream type. No
// library in the retrieved corpus implements byte-granular CFB.
//
// The register always holds exactly one block's worth of feedback state;
// after each byte it shifts left by one and appends the byte that just
// went onto the wire (the ciphertext byte, for both directions).
type cfb8 struct {
	block   cipher.Block
	decrypt bool
	reg     []byte
	scratch []byte
}

// newCFB8 constructs a cfb8 stream keyed by block, seeded with iv as the
// initial feedback register. iv must be exactly block.BlockSize() bytes.
func newCFB8(block cipher.Block, iv []byte, decrypt bool) *cfb8 {
	reg := make([]byte, block.BlockSize())
	copy(reg, iv)
	return &cfb8{
		block:   block,
		decrypt: decrypt,
		reg:     reg,
		scratch: make([]byte, block.BlockSize()),
	}
}

// XORKeyStream transforms src into dst in place, byte by byte. dst and src
// may be the same slice. Both directions advance the shared feedback
// register identically, which is why the receiver's decryption and the
// sender's encryption stay in lockstep frame for frame.
func (c *cfb8) XORKeyStream(dst, src []byte) {
	for i, b := range src {
		c.block.Encrypt(c.scratch, c.reg)
		out := c.scratch[0] ^ b

		var feedback byte
		if c.decrypt {
			feedback = b
		} else {
			feedback = out
		}

		copy(c.reg, c.reg[1:])
		c.reg[len(c.reg)-1] = feedback

		dst[i] = out
	}
}
