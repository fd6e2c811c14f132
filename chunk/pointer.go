package chunk

import (
	"github.com/symmetree-labs/zerostash-sub000/crypto"
	"github.com/symmetree-labs/zerostash-sub000/object"
)

// Pointer is the immutable, MessagePack-serializable record that lets a
// chunk be located and decrypted later: which object holds it, where,
// how long the encrypted form is, its convergent content hash (doubling
// as the dedup key), and its AEAD tag.
type Pointer struct {
	ObjectID     object.ID `msgpack:"o"`
	Offset       uint32    `msgpack:"p"`
	EncryptedLen uint32    `msgpack:"l"`
	ContentHash  [32]byte  `msgpack:"h"`
	Tag          [crypto.TagSize]byte `msgpack:"t"`
}

// Key returns the content hash, the value chunks are deduplicated and
// looked up by.
func (p Pointer) Key() [32]byte { return p.ContentHash }
