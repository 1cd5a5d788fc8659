package codec

import (
	"bytes"
	"compress/zlib"
	"testing"

	"github.com/deploymenttheory/go-dmgpkg/pkg/dmgerr"
)

func TestDecodeAllZlib(t *testing.T) {
	want := []byte("the quick brown fox jumps over the lazy dog, repeated, repeated, repeated")

	var compressed bytes.Buffer
	w := zlib.NewWriter(&compressed)
	if _, err := w.Write(want); err != nil {
		t.Fatalf("compress: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	got, err := DecodeAll(Zlib, compressed.Bytes(), len(want))
	if err != nil {
		t.Fatalf("DecodeAll: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestDecodeAllAdcPlainRun(t *testing.T) {
	// Control byte 0x83 => plain run of 4 literal bytes.
	src := []byte{0x83, 'a', 'b', 'c', 'd'}
	got, err := DecodeAll(Adc, src, 4)
	if err != nil {
		t.Fatalf("DecodeAll: %v", err)
	}
	if !bytes.Equal(got, []byte("abcd")) {
		t.Fatalf("got %q, want abcd", got)
	}
}

func TestDecodeAllAdcShortMatch(t *testing.T) {
	// Plain run "ab", then a short match copying back 2 bytes for length 3:
	// offset field 1 (distance 2), producing "ababa".
	src := []byte{0x81, 'a', 'b', 0x00, 0x01}
	got, err := DecodeAll(Adc, src, 5)
	if err != nil {
		t.Fatalf("DecodeAll: %v", err)
	}
	if string(got) != "ababa" {
		t.Fatalf("got %q, want ababa", got)
	}
}

func TestDecodeLzfseUnsupported(t *testing.T) {
	err := DecodeTo(Lzfse, bytes.NewReader(nil), &bytes.Buffer{})
	if !dmgerr.Is(err, dmgerr.UnsupportedCompression) {
		t.Fatalf("expected UnsupportedCompression, got %v", err)
	}
}

func TestCRC32KnownValue(t *testing.T) {
	if got := CRC32([]byte("123456789")); got != 0xCBF43926 {
		t.Fatalf("CRC32(\"123456789\") = %#x, want 0xcbf43926", got)
	}
}

func TestFletcher64Deterministic(t *testing.T) {
	data := bytes.Repeat([]byte{0x01, 0x02, 0x03, 0x04}, 16)
	a := Fletcher64(data)
	b := Fletcher64(data)
	if a != b {
		t.Fatalf("Fletcher64 not deterministic: %d != %d", a, b)
	}
	if a == 0 {
		t.Fatalf("Fletcher64 of non-zero data should not be zero")
	}
}
