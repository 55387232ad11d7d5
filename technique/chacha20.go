package technique

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// KeyDerivationIterations is the PBKDF2 iteration count for passphrase keys.
	KeyDerivationIterations = 100_000

	// chachaBlockSize is the number of keystream bytes per counter step.
	chachaBlockSize = 64

	// maxKeystreamOffset is the largest offset the 32-bit block counter can address.
	maxKeystreamOffset = uint64(1<<32) * chachaBlockSize
)

// keyDerivationSalt is fixed so the same passphrase always yields the same
// keystream; the transform is size-preserving and stores no header.
var keyDerivationSalt = []byte("cryptcore/chacha20/v1")

// ErrOffsetOutOfRange indicates a chunk beyond the addressable keystream.
var ErrOffsetOutOfRange = errors.New("offset beyond keystream range")

// ChaCha20 XORs chunks with a ChaCha20 keystream positioned at the chunk's
// file offset, so chunks can be processed independently and in any order.
type ChaCha20 struct {
	key   [chacha20.KeySize]byte
	nonce [chacha20.NonceSize]byte
}

// NewChaCha20 derives a key and nonce from passphrase.
func NewChaCha20(passphrase string) (*ChaCha20, error) {
	if passphrase == "" {
		return nil, ErrPassphraseRequired
	}
	secret := []byte(passphrase)
	material := pbkdf2.Key(secret, keyDerivationSalt, KeyDerivationIterations,
		chacha20.KeySize+chacha20.NonceSize, sha256.New)
	defer wipeBytes(material)
	defer wipeBytes(secret)

	c := &ChaCha20{}
	copy(c.key[:], material[:chacha20.KeySize])
	copy(c.nonce[:], material[chacha20.KeySize:])
	return c, nil
}

// Wipe implements Wiper.
func (c *ChaCha20) Wipe() {
	wipeBytes(c.key[:])
	wipeBytes(c.nonce[:])
}

// Type implements Technique.
func (c *ChaCha20) Type() Type { return TypeChaCha20 }

// EncryptChunk implements Technique for a buffer starting at offset zero.
// It panics with ErrOffsetOutOfRange if buf is longer than the addressable
// keystream (256 GiB); EncryptChunkAt returns that error instead.
func (c *ChaCha20) EncryptChunk(buf []byte) {
	if err := c.xorAt(buf, 0); err != nil {
		panic(err)
	}
}

// DecryptChunk implements Technique for a buffer starting at offset zero.
// It panics under the same condition as EncryptChunk.
func (c *ChaCha20) DecryptChunk(buf []byte) {
	c.EncryptChunk(buf)
}

// EncryptChunkAt implements PositionalTechnique.
func (c *ChaCha20) EncryptChunkAt(buf []byte, offset uint64) error {
	return c.xorAt(buf, offset)
}

// DecryptChunkAt implements PositionalTechnique.
func (c *ChaCha20) DecryptChunkAt(buf []byte, offset uint64) error {
	return c.xorAt(buf, offset)
}

func (c *ChaCha20) xorAt(buf []byte, offset uint64) error {
	if len(buf) == 0 {
		return nil
	}
	end := offset + uint64(len(buf))
	if end < offset || end > maxKeystreamOffset {
		return fmt.Errorf("%w: [%d, %d)", ErrOffsetOutOfRange, offset, end)
	}

	stream, err := chacha20.NewUnauthenticatedCipher(c.key[:], c.nonce[:])
	if err != nil {
		return fmt.Errorf("chacha20 setup: %w", err)
	}
	stream.SetCounter(uint32(offset / chachaBlockSize))
	if skip := offset % chachaBlockSize; skip > 0 {
		var discard [chachaBlockSize]byte
		stream.XORKeyStream(discard[:skip], discard[:skip])
	}
	stream.XORKeyStream(buf, buf)
	return nil
}
