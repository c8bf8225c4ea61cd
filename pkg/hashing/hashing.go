// Package hashing implements component B: the single SHA-256 primitive the
// rest of the core builds tensor_hash and map_hash on top of.
package hashing

import "crypto/sha256"

// Hash is hash(buf) = SHA-256(buf).
func Hash(buf []byte) [32]byte {
	return sha256.Sum256(buf)
}

// HashConcat hashes the concatenation of parts without an intermediate
// allocation beyond what sha256.New streaming requires — used by
// pkg/merkle's node compression and anywhere else two commitments are
// chained.
func HashConcat(parts ...[]byte) [32]byte {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
