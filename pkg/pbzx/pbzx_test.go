package pbzx

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/deploymenttheory/go-dmgpkg/pkg/source"
	"github.com/ulikunitz/xz"
)

// buildCpioNewc encodes a minimal newc CPIO stream: one regular file entry
// plus the TRAILER!!! terminator, 4-byte aligned throughout (§3 "CPIO
// entry").
func buildCpioNewc(name string, body []byte) []byte {
	var buf bytes.Buffer
	writeNewc := func(name string, mode uint32, size int) {
		header := make([]byte, 0, 110)
		header = append(header, magicNewc...)
		field := func(v uint32) {
			h := []byte("00000000")
			for i := 7; i >= 0; i-- {
				h[i] = "0123456789abcdef"[v&0xf]
				v >>= 4
			}
			header = append(header, h...)
		}
		field(0)                 // ino
		field(mode)              // mode
		field(0)                 // uid
		field(0)                 // gid
		field(1)                 // nlink
		field(0)                 // mtime
		field(uint32(size))      // filesize
		field(0)                 // devmajor
		field(0)                 // devminor
		field(0)                 // rdevmajor
		field(0)                 // rdevminor
		field(uint32(len(name) + 1)) // namesize
		field(0)                 // checksum
		buf.Write(header)
		buf.WriteString(name)
		buf.WriteByte(0)
		for (buf.Len() % 4) != 0 {
			buf.WriteByte(0)
		}
	}

	writeNewc(name, modeFile|0644, len(body))
	buf.Write(body)
	for (buf.Len() % 4) != 0 {
		buf.WriteByte(0)
	}
	writeNewc(TrailerName, 0, 0)
	for (buf.Len() % 4) != 0 {
		buf.WriteByte(0)
	}
	return buf.Bytes()
}

// buildPbzx wraps cpioData in two PBZX chunks: the first stored raw, the
// second XZ-compressed, matching §4.5's "compressed_len == decompressed_len
// means raw" rule.
func buildPbzx(t *testing.T, cpioData []byte) []byte {
	t.Helper()
	split := len(cpioData) / 2
	rawPart, xzPart := cpioData[:split], cpioData[split:]

	var xzBuf bytes.Buffer
	xw, err := xz.NewWriter(&xzBuf)
	if err != nil {
		t.Fatalf("xz.NewWriter: %v", err)
	}
	if _, err := xw.Write(xzPart); err != nil {
		t.Fatalf("xz write: %v", err)
	}
	if err := xw.Close(); err != nil {
		t.Fatalf("xz close: %v", err)
	}

	var buf bytes.Buffer
	buf.WriteString(magic)
	var flags [8]byte
	binary.BigEndian.PutUint64(flags[:], 0)
	buf.Write(flags[:])

	writeChunk := func(outLen, inLen int, payload []byte) {
		var hdr [16]byte
		binary.BigEndian.PutUint64(hdr[0:8], uint64(outLen))
		binary.BigEndian.PutUint64(hdr[8:16], uint64(inLen))
		buf.Write(hdr[:])
		buf.Write(payload)
	}
	writeChunk(len(rawPart), len(rawPart), rawPart)
	writeChunk(len(xzPart), xzBuf.Len(), xzBuf.Bytes())

	var end [16]byte
	buf.Write(end[:])
	return buf.Bytes()
}

func openTestReader(t *testing.T, cpioData []byte) *Reader {
	t.Helper()
	raw := buildPbzx(t, cpioData)
	src := source.New(bytes.NewReader(raw), int64(len(raw)), nil)
	r, err := Open(src)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return r
}

func TestDecodeSerialAndParallelAgree(t *testing.T) {
	cpioData := buildCpioNewc("payload/file.txt", bytes.Repeat([]byte("x"), 300))

	serial, err := openTestReader(t, cpioData).Decode(false)
	if err != nil {
		t.Fatalf("serial decode: %v", err)
	}
	parallel, err := openTestReader(t, cpioData).Decode(true)
	if err != nil {
		t.Fatalf("parallel decode: %v", err)
	}
	if !bytes.Equal(serial, parallel) {
		t.Fatalf("serial and parallel decode diverged: %d vs %d bytes", len(serial), len(parallel))
	}
	if !bytes.Equal(serial, cpioData) {
		t.Fatalf("decoded bytes did not round-trip the original CPIO stream")
	}
}

func TestListAndExtractFile(t *testing.T) {
	body := bytes.Repeat([]byte("y"), 150)
	cpioData := buildCpioNewc("payload/file.txt", body)
	r := openTestReader(t, cpioData)

	entries, err := r.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "payload/file.txt" {
		t.Fatalf("unexpected listing: %+v", entries)
	}

	got, err := openTestReader(t, cpioData).ExtractFile("payload/file.txt")
	if err != nil {
		t.Fatalf("ExtractFile: %v", err)
	}
	if !bytes.Equal(got, body) {
		t.Fatalf("extracted body mismatch: got %d bytes, want %d", len(got), len(body))
	}
}

func TestExtractAllVisitsFileEntries(t *testing.T) {
	body := bytes.Repeat([]byte("z"), 64)
	cpioData := buildCpioNewc("payload/file.txt", body)
	r := openTestReader(t, cpioData)

	var visited []string
	err := r.ExtractAll(func(name string, mode uint32, rd io.Reader) error {
		visited = append(visited, name)
		got, err := io.ReadAll(rd)
		if err != nil {
			return err
		}
		if !bytes.Equal(got, body) {
			t.Fatalf("ExtractAll body mismatch for %s", name)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("ExtractAll: %v", err)
	}
	if len(visited) != 1 || visited[0] != "payload/file.txt" {
		t.Fatalf("unexpected ExtractAll visit set: %v", visited)
	}
}
