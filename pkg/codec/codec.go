// Package codec provides the shared binary framing lynxdb's persistence
// formats build on: a magic + version header, validated before any
// header-derived value is used to size an allocation, plus an xxhash64
// trailer over the framed body so a short or corrupted write is caught
// before a caller's prior state is discarded. The trailer is purely
// additive, appended after each format's last declared field.
package codec

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/cespare/xxhash/v2"
	"github.com/lynxvec/lynxdb/pkg/lynxerr"
)

// WriteHeader writes magic followed by a little-endian version.
func WriteHeader(w io.Writer, magic [4]byte, version uint32) error {
	if _, err := w.Write(magic[:]); err != nil {
		return fmt.Errorf("write magic: %w: %v", lynxerr.ErrIOError, err)
	}
	if err := binary.Write(w, binary.LittleEndian, version); err != nil {
		return fmt.Errorf("write version: %w: %v", lynxerr.ErrIOError, err)
	}
	return nil
}

// ReadHeader reads and validates the magic against want, returning the
// stored version. A mismatched magic, a version of zero, or a short read
// all return an error wrapping lynxerr.ErrIOError.
func ReadHeader(r io.Reader, want [4]byte) (uint32, error) {
	var got [4]byte
	if _, err := io.ReadFull(r, got[:]); err != nil {
		return 0, fmt.Errorf("read magic: %w: %v", lynxerr.ErrIOError, err)
	}
	if got != want {
		return 0, fmt.Errorf("%w: bad magic %q, want %q", lynxerr.ErrIOError, got, want)
	}
	var version uint32
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return 0, fmt.Errorf("read version: %w: %v", lynxerr.ErrIOError, err)
	}
	if version == 0 {
		return 0, fmt.Errorf("%w: invalid version 0", lynxerr.ErrIOError)
	}
	return version, nil
}

// HashingWriter tees every write through an xxhash64 digest so the body
// written after a header can be checksummed without buffering it.
type HashingWriter struct {
	w io.Writer
	h *xxhash.Digest
}

// NewHashingWriter wraps w, accumulating an xxhash64 digest over
// everything subsequently written.
func NewHashingWriter(w io.Writer) *HashingWriter {
	return &HashingWriter{w: w, h: xxhash.New()}
}

func (hw *HashingWriter) Write(p []byte) (int, error) {
	n, err := hw.w.Write(p)
	if n > 0 {
		_, _ = hw.h.Write(p[:n])
	}
	return n, err
}

// Sum64 returns the running digest of everything written so far.
func (hw *HashingWriter) Sum64() uint64 {
	return hw.h.Sum64()
}

// WriteTrailer appends the running checksum as 8 little-endian bytes,
// written directly to the underlying writer (not hashed itself).
func (hw *HashingWriter) WriteTrailer() error {
	if err := binary.Write(hw.w, binary.LittleEndian, hw.Sum64()); err != nil {
		return fmt.Errorf("write checksum trailer: %w: %v", lynxerr.ErrIOError, err)
	}
	return nil
}

// HashingReader is the read-side counterpart of HashingWriter.
type HashingReader struct {
	r io.Reader
	h *xxhash.Digest
}

// NewHashingReader wraps r, accumulating an xxhash64 digest over
// everything subsequently read.
func NewHashingReader(r io.Reader) *HashingReader {
	return &HashingReader{r: r, h: xxhash.New()}
}

func (hr *HashingReader) Read(p []byte) (int, error) {
	n, err := hr.r.Read(p)
	if n > 0 {
		_, _ = hr.h.Write(p[:n])
	}
	return n, err
}

// VerifyTrailer reads 8 little-endian bytes directly from the underlying
// reader (bypassing the digest) and compares them against the running
// checksum of everything read through hr so far.
func (hr *HashingReader) VerifyTrailer() error {
	var want uint64
	if err := binary.Read(hr.r, binary.LittleEndian, &want); err != nil {
		return fmt.Errorf("read checksum trailer: %w: %v", lynxerr.ErrIOError, err)
	}
	if got := hr.h.Sum64(); got != want {
		return fmt.Errorf("%w: checksum mismatch (got %x, want %x)", lynxerr.ErrIOError, got, want)
	}
	return nil
}

// WriteBytesWithLen writes a uint32 length prefix followed by b, used for
// variable-length metadata fields.
func WriteBytesWithLen(w io.Writer, b []byte) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(b))); err != nil {
		return fmt.Errorf("write length prefix: %w: %v", lynxerr.ErrIOError, err)
	}
	if len(b) == 0 {
		return nil
	}
	if _, err := w.Write(b); err != nil {
		return fmt.Errorf("write bytes: %w: %v", lynxerr.ErrIOError, err)
	}
	return nil
}

// MaxReasonableLen bounds length-prefixed reads against a corrupted or
// hostile header value before it's used to size an allocation.
const MaxReasonableLen = 1 << 28 // 256 MiB

// ReadBytesWithLen reads a uint32 length prefix followed by that many
// bytes, rejecting unreasonable lengths before allocating.
func ReadBytesWithLen(r io.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, fmt.Errorf("read length prefix: %w: %v", lynxerr.ErrIOError, err)
	}
	if n > MaxReasonableLen {
		return nil, fmt.Errorf("%w: unreasonable length %d", lynxerr.ErrIOError, n)
	}
	if n == 0 {
		return nil, nil
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, fmt.Errorf("read bytes: %w: %v", lynxerr.ErrIOError, err)
	}
	return b, nil
}
