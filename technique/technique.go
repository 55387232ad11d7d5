package technique

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownTechnique indicates an unrecognised technique name or tag.
var ErrUnknownTechnique = errors.New("unknown technique")

// ErrUnknownDirection indicates an unrecognised direction name.
var ErrUnknownDirection = errors.New("unknown direction")

// ErrPassphraseRequired indicates a keyed technique was requested without a passphrase.
var ErrPassphraseRequired = errors.New("passphrase required")

// Type tags a concrete technique.
type Type uint8

const (
	// TypeXOR is the single-byte XOR technique.
	TypeXOR Type = iota
	// TypeChaCha20 is the passphrase-keyed ChaCha20 keystream technique.
	TypeChaCha20
)

// DefaultType is the technique used when none is configured.
const DefaultType = TypeXOR

// String implements fmt.Stringer.
func (t Type) String() string {
	switch t {
	case TypeXOR:
		return "xor"
	case TypeChaCha20:
		return "chacha20"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// Parse converts a technique name into its Type.
func Parse(name string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "xor":
		return TypeXOR, nil
	case "chacha20", "chacha":
		return TypeChaCha20, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownTechnique, name)
	}
}

// Direction selects whether a chunk is encrypted or decrypted.
type Direction uint8

const (
	// Encrypt transforms plaintext into ciphertext.
	Encrypt Direction = iota
	// Decrypt transforms ciphertext back into plaintext.
	Decrypt
)

// String implements fmt.Stringer.
func (d Direction) String() string {
	switch d {
	case Encrypt:
		return "encrypt"
	case Decrypt:
		return "decrypt"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(d))
	}
}

// ParseDirection converts "encrypt"/"decrypt" (or "enc"/"dec") into a Direction.
func ParseDirection(name string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "encrypt", "enc", "e":
		return Encrypt, nil
	case "decrypt", "dec", "d":
		return Decrypt, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownDirection, name)
	}
}

// Technique transforms a buffer in place.
type Technique interface {
	// Type returns the tag of the concrete technique.
	Type() Type
	// EncryptChunk encrypts buf in place.
	EncryptChunk(buf []byte)
	// DecryptChunk decrypts buf in place.
	DecryptChunk(buf []byte)
}

// PositionalTechnique is implemented by techniques whose output depends on
// the position of the buffer within the file.
type PositionalTechnique interface {
	Technique
	// EncryptChunkAt encrypts buf, which starts at offset in the file.
	EncryptChunkAt(buf []byte, offset uint64) error
	// DecryptChunkAt decrypts buf, which starts at offset in the file.
	DecryptChunkAt(buf []byte, offset uint64) error
}

// Apply transforms buf, located at offset in the file, in the given direction.
func Apply(t Technique, buf []byte, offset uint64, dir Direction) error {
	if t == nil {
		t = NewXOR()
	}
	if p, ok := t.(PositionalTechnique); ok {
		if dir == Decrypt {
			return p.DecryptChunkAt(buf, offset)
		}
		return p.EncryptChunkAt(buf, offset)
	}
	if dir == Decrypt {
		t.DecryptChunk(buf)
	} else {
		t.EncryptChunk(buf)
	}
	return nil
}

// New constructs a technique of the given type. The passphrase is only used
// by keyed techniques.
func New(t Type, passphrase string) (Technique, error) {
	switch t {
	case TypeXOR:
		return NewXOR(), nil
	case TypeChaCha20:
		return NewChaCha20(passphrase)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownTechnique, t)
	}
}
