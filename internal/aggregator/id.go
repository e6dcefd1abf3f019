package aggregator

import (
	"bytes"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/zeebo/blake3"
	"golang.org/x/crypto/sha3"
)

const (
	// DefaultKeyWidth is the number of digest bytes used for a key (128-bit keys).
	DefaultKeyWidth = 16

	// maxKeyWidth is the widest key a 32-byte digest can produce.
	maxKeyWidth = 32
)

// ID identifies one aggregator instance.
type ID struct {
	Handle uint256.Int // Handle identifies the owning collection
	Key    uint256.Int // Key identifies the instance within the handle
}

// NewID creates an ID from a handle and a key.
func NewID(handle, key uint256.Int) ID {
	return ID{Handle: handle, Key: key}
}

// String returns a short hex form of the ID for logs.
func (id ID) String() string {
	return fmt.Sprintf("%s/%s", id.Handle.Hex(), id.Key.Hex())
}

// Compare orders IDs by handle, then key.
func (id ID) Compare(other ID) int {
	if c := id.Handle.Cmp(&other.Handle); c != 0 {
		return c
	}

	return id.Key.Cmp(&other.Key)
}

// Bytes returns the 64-byte big-endian encoding handle || key.
func (id ID) Bytes() []byte {
	h := id.Handle.Bytes32()
	k := id.Key.Bytes32()

	return bytes.Join([][]byte{h[:], k[:]}, nil)
}

// IDFromBytes decodes an ID produced by Bytes.
func IDFromBytes(b []byte) (ID, error) {
	if len(b) != 64 {
		return ID{}, fmt.Errorf("invalid id length: got %d, want 64", len(b))
	}

	var id ID
	id.Handle.SetBytes32(b[:32])
	id.Key.SetBytes32(b[32:])

	return id, nil
}

// Digest computes a 32-byte digest of data.
type Digest func(data []byte) [32]byte

// Blake3 is the default key derivation digest.
func Blake3(data []byte) [32]byte {
	return blake3.Sum256(data)
}

// SHA3 is the SHA3-256 key derivation digest.
func SHA3(data []byte) [32]byte {
	return sha3.Sum256(data)
}

// Deriver derives aggregator keys from the creating transaction and its creation sequence.
// Keys are truncated digests; with the default 16-byte width two keys collide with
// probability about n^2/2^129. Raising the width is a versioned change, since stored IDs
// derived with one width never match IDs derived with another.
type Deriver struct {
	digest   Digest // digest hashes txn_hash || seq
	keyWidth int    // keyWidth is the number of digest bytes kept
}

// NewDeriver creates a deriver with the given digest and key width in bytes.
func NewDeriver(digest Digest, keyWidth int) (*Deriver, error) {
	if keyWidth < 1 || keyWidth > maxKeyWidth {
		return nil, fmt.Errorf("key width %d not in [1, %d]:\n%w", keyWidth, maxKeyWidth, ErrInvalidKeyWidth)
	}

	if digest == nil {
		digest = Blake3
	}

	return &Deriver{digest: digest, keyWidth: keyWidth}, nil
}

// DefaultDeriver returns a blake3 deriver producing 128-bit keys.
func DefaultDeriver() *Deriver {
	return &Deriver{digest: Blake3, keyWidth: DefaultKeyWidth}
}

// KeyWidth returns the key width in bytes.
func (d *Deriver) KeyWidth() int {
	return d.keyWidth
}

// Key computes the key for the seq-th aggregator created by txnHash.
func (d *Deriver) Key(txnHash *uint256.Int, seq uint64) uint256.Int {
	var buf [2 * u128Bytes]byte
	putU128(buf[:u128Bytes], txnHash)

	s := FromUint64(seq)
	putU128(buf[u128Bytes:], &s)

	sum := d.digest(buf[:])

	var key uint256.Int
	key.SetBytes(sum[:d.keyWidth])

	return key
}

// Derive returns the ID of the seq-th aggregator created by txnHash under handle.
func (d *Deriver) Derive(handle, txnHash *uint256.Int, seq uint64) ID {
	return ID{Handle: *handle, Key: d.Key(txnHash, seq)}
}
