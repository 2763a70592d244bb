package catalog

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

const hashChunkSize = 64 * 1024

// FileHash computes the OpenSubtitles-style 64-bit video hash (§4.2): the
// file size plus the sum of the first and last 64 KB of the file read as
// little-endian uint64s, with wrapping 64-bit addition.
func FileHash(path string) (hash uint64, size int64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("opening %s for hashing: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, 0, fmt.Errorf("stat %s: %w", path, err)
	}
	size = info.Size()

	hash = uint64(size)

	head, err := foldChunk(f, 0)
	if err != nil {
		return 0, 0, fmt.Errorf("hashing head of %s: %w", path, err)
	}
	hash += head

	tailOffset := size - hashChunkSize
	if tailOffset < 0 {
		tailOffset = 0
	}
	tail, err := foldChunk(f, tailOffset)
	if err != nil {
		return 0, 0, fmt.Errorf("hashing tail of %s: %w", path, err)
	}
	hash += tail

	return hash, size, nil
}

// foldChunk reads up to hashChunkSize bytes at offset and sums them as
// little-endian uint64s (wrapping on overflow). Files shorter than one chunk are hashed as-is;
// files shorter than 64 KB total use the same bytes for both head and tail,
// matching the reference algorithm's behavior for small files.
func foldChunk(r io.ReaderAt, offset int64) (uint64, error) {
	buf := make([]byte, hashChunkSize)
	n, err := r.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return 0, err
	}
	buf = buf[:n]

	// pad to a multiple of 8 bytes so the final partial word still folds in.
	if rem := len(buf) % 8; rem != 0 {
		buf = append(buf, make([]byte, 8-rem)...)
	}

	var folded uint64
	for i := 0; i < len(buf); i += 8 {
		folded += binary.LittleEndian.Uint64(buf[i : i+8])
	}
	return folded, nil
}

// HashHex formats a hash the way the catalog's search-by-hash endpoint
// expects: lowercase, zero-padded 16 hex digits.
func HashHex(hash uint64) string {
	return fmt.Sprintf("%016x", hash)
}
