package technique

import (
	"crypto/subtle"
	"runtime"
)

// Wiper is implemented by techniques that hold key material.
type Wiper interface {
	Wipe()
}

// wipeBytes overwrites data with zeros.
func wipeBytes(data []byte) {
	if len(data) == 0 {
		return
	}
	zeros := make([]byte, len(data))
	// The compare keeps the compiler from treating the copy as a dead store.
	subtle.ConstantTimeCompare(data, zeros)
	copy(data, zeros)
	runtime.KeepAlive(data)
}

// Destroy erases the key material of t when it holds any. The technique must
// not be used afterwards.
func Destroy(t Technique) {
	if w, ok := t.(Wiper); ok {
		w.Wipe()
	}
}
