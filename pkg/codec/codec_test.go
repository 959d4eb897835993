package codec

import (
	"bytes"
	"errors"
	"testing"

	"github.com/lynxvec/lynxdb/pkg/lynxerr"
)

var testMagic = [4]byte{'T', 'E', 'S', 'T'}

func TestHeaderRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteHeader(&buf, testMagic, 3); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}
	version, err := ReadHeader(&buf, testMagic)
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	if version != 3 {
		t.Fatalf("version = %d, want 3", version)
	}
}

func TestReadHeaderRejectsBadMagic(t *testing.T) {
	var buf bytes.Buffer
	_ = WriteHeader(&buf, [4]byte{'X', 'X', 'X', 'X'}, 1)
	if _, err := ReadHeader(&buf, testMagic); !errors.Is(err, lynxerr.ErrIOError) {
		t.Fatalf("expected ErrIOError, got %v", err)
	}
}

func TestReadHeaderRejectsZeroVersion(t *testing.T) {
	var buf bytes.Buffer
	_ = WriteHeader(&buf, testMagic, 0)
	if _, err := ReadHeader(&buf, testMagic); !errors.Is(err, lynxerr.ErrIOError) {
		t.Fatalf("expected ErrIOError for zero version, got %v", err)
	}
}

func TestHashingWriterReaderRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	hw := NewHashingWriter(&buf)
	if _, err := hw.Write([]byte("hello world")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := hw.WriteTrailer(); err != nil {
		t.Fatalf("WriteTrailer: %v", err)
	}

	hr := NewHashingReader(&buf)
	payload := make([]byte, len("hello world"))
	if _, err := hr.Read(payload); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(payload) != "hello world" {
		t.Fatalf("payload = %q", payload)
	}
	if err := hr.VerifyTrailer(); err != nil {
		t.Fatalf("VerifyTrailer: %v", err)
	}
}

func TestVerifyTrailerRejectsCorruption(t *testing.T) {
	var buf bytes.Buffer
	hw := NewHashingWriter(&buf)
	_, _ = hw.Write([]byte("payload"))
	_ = hw.WriteTrailer()

	data := buf.Bytes()
	data[0] ^= 0xFF // corrupt the payload, not the trailer

	hr := NewHashingReader(bytes.NewReader(data))
	payload := make([]byte, len("payload"))
	_, _ = hr.Read(payload)
	if err := hr.VerifyTrailer(); !errors.Is(err, lynxerr.ErrIOError) {
		t.Fatalf("expected ErrIOError on checksum mismatch, got %v", err)
	}
}

func TestBytesWithLenRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	want := []byte("some metadata")
	if err := WriteBytesWithLen(&buf, want); err != nil {
		t.Fatalf("WriteBytesWithLen: %v", err)
	}
	got, err := ReadBytesWithLen(&buf)
	if err != nil {
		t.Fatalf("ReadBytesWithLen: %v", err)
	}
	if string(got) != string(want) {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestBytesWithLenEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteBytesWithLen(&buf, nil); err != nil {
		t.Fatalf("WriteBytesWithLen: %v", err)
	}
	got, err := ReadBytesWithLen(&buf)
	if err != nil {
		t.Fatalf("ReadBytesWithLen: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty, got %v", got)
	}
}

func TestReadBytesWithLenRejectsUnreasonableLength(t *testing.T) {
	var buf bytes.Buffer
	_ = writeRawUint32(&buf, MaxReasonableLen+1)
	if _, err := ReadBytesWithLen(&buf); !errors.Is(err, lynxerr.ErrIOError) {
		t.Fatalf("expected ErrIOError for oversized length, got %v", err)
	}
}

func writeRawUint32(buf *bytes.Buffer, v uint32) error {
	b := []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
	_, err := buf.Write(b)
	return err
}
