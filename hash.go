package wikibag

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// HashSize is the size of a BLAKE3 hash in bytes (256 bits).
const HashSize = 32

// Hash is a BLAKE3 256-bit digest.
type Hash [HashSize]byte

// String returns the hex-encoded representation of the hash.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// HashName digests a user-controlled name (a tiddler title or an upload
// filename) into a stable identifier safe to use as a filename or object
// key. Hashing is keyed to the name, not the content, so re-uploading under
// the same name overwrites the same backing file.
func HashName(name string) Hash {
	return Hash(blake3.Sum256([]byte(name)))
}
