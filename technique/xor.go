package technique

// DefaultXORKey is the key used by NewXOR and by process-mode children.
const DefaultXORKey byte = 0x2A

// XOR flips every byte with a fixed single-byte key. It is its own inverse.
type XOR struct {
	Key byte
}

// NewXOR returns an XOR technique using DefaultXORKey.
func NewXOR() *XOR {
	return &XOR{Key: DefaultXORKey}
}

// Type implements Technique.
func (x *XOR) Type() Type { return TypeXOR }

// EncryptChunk implements Technique.
func (x *XOR) EncryptChunk(buf []byte) {
	for i := range buf {
		buf[i] ^= x.Key
	}
}

// DecryptChunk implements Technique.
func (x *XOR) DecryptChunk(buf []byte) {
	x.EncryptChunk(buf)
}
