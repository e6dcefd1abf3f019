package state

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"

	"deltavm/internal/aggregator"
)

const (
	// snapshotVersion is the current snapshot format version.
	snapshotVersion = 1

	// entrySize is the encoded size of one entry: 64-byte ID + 32-byte value.
	entrySize = idSize + 32

	// headerSize is magic (4) + version (4) + count (8).
	headerSize = 16

	// checksumSize is the blake3 checksum trailer size.
	checksumSize = 32
)

// snapshotMagic prefixes every snapshot.
var snapshotMagic = []byte("DVSN")

// ErrChecksumMismatch is returned when a snapshot fails verification.
var ErrChecksumMismatch = errors.New("snapshot checksum mismatch")

// Snapshot encodes every stored value and compresses the result with zstd.
// Entries are in ID order, so equal states produce equal snapshots.
func (s *Store) Snapshot() ([]byte, error) {
	entries, err := s.Export()
	if err != nil {
		return nil, fmt.Errorf("export values:\n%w", err)
	}

	return compress(encodeSnapshot(entries))
}

// Restore verifies a compressed snapshot and imports its entries.
// Returns the number of entries loaded.
func (s *Store) Restore(data []byte) (int, error) {
	raw, err := decompress(data)
	if err != nil {
		return 0, fmt.Errorf("decompress snapshot:\n%w", err)
	}

	entries, err := decodeSnapshot(raw)
	if err != nil {
		return 0, err
	}

	if err := s.Import(entries); err != nil {
		return 0, fmt.Errorf("import entries:\n%w", err)
	}

	return len(entries), nil
}

// encodeSnapshot builds header || entries || blake3(header || entries).
func encodeSnapshot(entries []Entry) []byte {
	buf := make([]byte, headerSize, headerSize+len(entries)*entrySize+checksumSize)
	copy(buf, snapshotMagic)
	binary.BigEndian.PutUint32(buf[4:8], snapshotVersion)
	binary.BigEndian.PutUint64(buf[8:16], uint64(len(entries)))

	for i := range entries {
		buf = append(buf, entries[i].ID.Bytes()...)
		v := entries[i].Value.Bytes32()
		buf = append(buf, v[:]...)
	}

	sum := blake3.Sum256(buf)

	return append(buf, sum[:]...)
}

// decodeSnapshot verifies and parses an uncompressed snapshot.
func decodeSnapshot(data []byte) ([]Entry, error) {
	if len(data) < headerSize+checksumSize {
		return nil, fmt.Errorf("snapshot too short: %d bytes", len(data))
	}

	if !bytes.Equal(data[:4], snapshotMagic) {
		return nil, fmt.Errorf("invalid snapshot magic %q", data[:4])
	}

	if v := binary.BigEndian.Uint32(data[4:8]); v != snapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", v)
	}

	body := data[:len(data)-checksumSize]
	sum := blake3.Sum256(body)
	if !bytes.Equal(sum[:], data[len(body):]) {
		return nil, ErrChecksumMismatch
	}

	count := binary.BigEndian.Uint64(data[8:16])
	size := len(body) - headerSize
	if size%entrySize != 0 || count != uint64(size/entrySize) {
		return nil, fmt.Errorf("snapshot declares %d entries but holds %d bytes", count, size)
	}

	entries := make([]Entry, 0, count)
	for off := headerSize; off < len(body); off += entrySize {
		id, err := aggregator.IDFromBytes(body[off : off+idSize])
		if err != nil {
			return nil, err
		}

		var e Entry
		e.ID = id
		e.Value.SetBytes32(body[off+idSize : off+entrySize])
		entries = append(entries, e)
	}

	return entries, nil
}

// compress compresses snapshot data using zstd.
func compress(data []byte) ([]byte, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create encoder:\n%w", err)
	}
	defer encoder.Close()

	return encoder.EncodeAll(data, nil), nil
}

// decompress decompresses zstd-compressed snapshot data.
func decompress(data []byte) ([]byte, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create decoder:\n%w", err)
	}
	defer decoder.Close()

	return decoder.DecodeAll(data, nil)
}
