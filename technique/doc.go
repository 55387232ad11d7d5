// Package technique defines the byte-transform strategies applied to file
// chunks.
//
// A Technique transforms a buffer in place. Implementations hold no mutable
// state shared between calls, so one value may be used concurrently by many
// workers on disjoint buffers.
//
//	t := technique.NewXOR()
//	t.EncryptChunk(buf)
//	t.DecryptChunk(buf) // buf is back to its original bytes
//
// Keystream ciphers whose output depends on the absolute position in the file
// also implement PositionalTechnique. Apply picks the right entry point:
//
//	c, err := technique.NewChaCha20("correct horse battery staple")
//	if err != nil {
//	    return err
//	}
//	err = technique.Apply(c, buf, spec.Offset, technique.Encrypt)
//
// # Available Techniques
//
//   - TypeXOR: single-byte XOR with key 0x2A. This is the default and the only
//     technique process-mode children can use.
//   - TypeChaCha20: ChaCha20 keystream keyed from a passphrase with PBKDF2.
//
// Neither technique authenticates data and the transform is size-preserving.
// They protect against casual inspection, not against an attacker.
package technique
