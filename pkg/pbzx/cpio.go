package pbzx

import (
	"io"
	"strconv"
	"time"

	"github.com/deploymenttheory/go-dmgpkg/pkg/dmgerr"
)

// CpioDialect identifies which of the three header formats a CPIO stream
// is encoded with (§3 "CPIO entry", §4.5).
type CpioDialect int

const (
	DialectOdc  CpioDialect = iota // 070707, octal ASCII, 76-byte header
	DialectNewc                    // 070701, hex ASCII, 110-byte header, 4-byte alignment
	DialectCrc                     // 070702, same layout as newc plus a checksum field
)

const (
	magicOdc  = "070707"
	magicNewc = "070701"
	magicCrc  = "070702"

	// TrailerName is the entry name that terminates every CPIO stream
	// (§3 "CPIO entry", §8 "listing terminates at the first entry whose
	// name equals TRAILER!!!, never sooner").
	TrailerName = "TRAILER!!!"
)

// CpioEntry is one decoded CPIO header, plus enough bookkeeping to read or
// skip its file data.
type CpioEntry struct {
	Name     string
	Mode     uint32
	UID      uint32
	GID      uint32
	NLink    uint32
	MTime    time.Time
	Size     uint64
	DevMajor uint32
	DevMinor uint32

	dataPad int64 // bytes of alignment padding following the file data
}

// POSIX file-type bits within CpioEntry.Mode (man 7 inode, "The file
// type... is encoded in the file mode").
const (
	modeTypeMask uint32 = 0o170000
	modeFile     uint32 = 0o100000
	modeDir      uint32 = 0o040000
	modeSymlink  uint32 = 0o120000
	modeBlock    uint32 = 0o060000
	modeChar     uint32 = 0o020000
	modeFifo     uint32 = 0o010000
)

// Kind classifies the file-type bits of Mode.
func (e *CpioEntry) Kind() string {
	switch e.Mode & modeTypeMask {
	case modeFile:
		return "file"
	case modeDir:
		return "dir"
	case modeSymlink:
		return "symlink"
	case modeBlock:
		return "block"
	case modeChar:
		return "char"
	case modeFifo:
		return "fifo"
	default:
		return "other"
	}
}

// IsTrailer reports whether this entry is the CPIO stream's terminator.
func (e *CpioEntry) IsTrailer() bool { return e.Name == TrailerName }

// CpioReader sequentially decodes CPIO entries from a single dialect,
// auto-detected from the first entry's magic (§4.5 "CPIO parsing").
type CpioReader struct {
	r        io.Reader
	dialect  CpioDialect
	// remaining and pad track the unread portion (data + alignment pad) of the
	// entry most recently returned by Next, so the next Next call can
	// skip past it without the caller having to drain Read themselves.
	remaining int64
	pad       int64
}

// NewCpioReader constructs a reader over a CPIO entry stream. The dialect
// is detected from the first header read.
func NewCpioReader(r io.Reader) *CpioReader {
	return &CpioReader{r: r}
}

// Dialect reports which header format the stream was last found to use.
// It is only meaningful after the first call to Next.
func (cr *CpioReader) Dialect() CpioDialect { return cr.dialect }

func align4(n int64) int64 {
	if rem := n % 4; rem != 0 {
		return 4 - rem
	}
	return 0
}

// skipCurrent discards any unread file data and alignment padding left
// over from the previous Next call.
func (cr *CpioReader) skipCurrent() error {
	leftover := cr.remaining + cr.pad
	cr.remaining = 0
	cr.pad = 0
	if leftover == 0 {
		return nil
	}
	_, err := io.CopyN(io.Discard, cr.r, leftover)
	if err != nil {
		return dmgerr.Wrap(dmgerr.Cpio, "pbzx.CpioReader.skipCurrent", err)
	}
	return nil
}

// Next advances to the next entry's header. It returns (nil, nil) once the
// TRAILER!!! entry is consumed — callers stop there, never sooner (§8).
func (cr *CpioReader) Next() (*CpioEntry, error) {
	if err := cr.skipCurrent(); err != nil {
		return nil, err
	}

	var magic [6]byte
	if _, err := io.ReadFull(cr.r, magic[:]); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, dmgerr.Wrap(dmgerr.Cpio, "pbzx.CpioReader.Next", err)
	}

	var entry *CpioEntry
	var err error
	switch string(magic[:]) {
	case magicOdc:
		cr.dialect = DialectOdc
		entry, err = cr.readOdcHeader()
	case magicNewc:
		cr.dialect = DialectNewc
		entry, err = cr.readNewcHeader()
	case magicCrc:
		cr.dialect = DialectCrc
		entry, err = cr.readNewcHeader()
	default:
		return nil, dmgerr.New(dmgerr.Cpio, "pbzx.CpioReader.Next")
	}
	if err != nil {
		return nil, err
	}
	if entry.IsTrailer() {
		return nil, nil
	}

	cr.remaining = int64(entry.Size)
	cr.pad = entry.dataPad
	return entry, nil
}

// Read reads from the current entry's file data, stopping at its
// declared size. Call Next to advance once Read returns io.EOF.
func (cr *CpioReader) Read(p []byte) (int, error) {
	if cr.remaining == 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > cr.remaining {
		p = p[:cr.remaining]
	}
	n, err := cr.r.Read(p)
	cr.remaining -= int64(n)
	if err != nil {
		return n, dmgerr.Wrap(dmgerr.Io, "pbzx.CpioReader.Read", err)
	}
	return n, nil
}

// odc header layout: 6-byte magic (already consumed) + 70 more bytes of
// 6-char octal fields, ending with an 11-char octal filesize, followed by
// the filename (namesize bytes, including its trailing NUL). No
// alignment padding anywhere in odc (§4.5).
func (cr *CpioReader) readOdcHeader() (*CpioEntry, error) {
	var buf [70]byte
	if _, err := io.ReadFull(cr.r, buf[:]); err != nil {
		return nil, dmgerr.Wrap(dmgerr.Cpio, "pbzx.readOdcHeader", err)
	}

	octal := func(s string) (uint64, error) {
		return strconv.ParseUint(trimOctal(s), 8, 64)
	}

	dev, err := octal(string(buf[0:6]))
	if err != nil {
		return nil, dmgerr.Wrap(dmgerr.Cpio, "pbzx.readOdcHeader", err)
	}
	mode, err := octal(string(buf[12:18]))
	if err != nil {
		return nil, dmgerr.Wrap(dmgerr.Cpio, "pbzx.readOdcHeader", err)
	}
	uid, _ := octal(string(buf[18:24]))
	gid, _ := octal(string(buf[24:30]))
	nlink, _ := octal(string(buf[30:36]))
	rdev, _ := octal(string(buf[36:42]))
	mtime, _ := octal(string(buf[42:53]))
	namesize, err := octal(string(buf[53:59]))
	if err != nil {
		return nil, dmgerr.Wrap(dmgerr.Cpio, "pbzx.readOdcHeader", err)
	}
	filesize, err := octal(string(buf[59:70]))
	if err != nil {
		return nil, dmgerr.Wrap(dmgerr.Cpio, "pbzx.readOdcHeader", err)
	}

	name, err := cr.readName(int(namesize))
	if err != nil {
		return nil, err
	}
	_ = rdev // carried on-disk, not surfaced: only regular files and dirs matter for payload extraction

	return &CpioEntry{
		Name:     name,
		Mode:     uint32(mode),
		UID:      uint32(uid),
		GID:      uint32(gid),
		NLink:    uint32(nlink),
		MTime:    time.Unix(int64(mtime), 0).UTC(),
		Size:     filesize,
		DevMajor: uint32(dev >> 8),
		DevMinor: uint32(dev & 0xff),
	}, nil
}

func trimOctal(s string) string {
	start := 0
	for start < len(s) && s[start] == ' ' {
		start++
	}
	if start == len(s) {
		return "0"
	}
	return s[start:]
}

// readName reads a NUL-terminated filename of exactly n bytes (including
// its NUL) and strips the terminator.
func (cr *CpioReader) readName(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(cr.r, buf); err != nil {
		return "", dmgerr.Wrap(dmgerr.Cpio, "pbzx.CpioReader.readName", err)
	}
	if n > 0 && buf[n-1] == 0 {
		buf = buf[:n-1]
	}
	return string(buf), nil
}

// newc/crc header layout: 6-byte magic (consumed) + 104 bytes of 8-char
// hex fields, then the filename (namesize bytes including NUL), then
// padding so the header-plus-name is 4-byte aligned (§4.5).
func (cr *CpioReader) readNewcHeader() (*CpioEntry, error) {
	var buf [104]byte
	if _, err := io.ReadFull(cr.r, buf[:]); err != nil {
		return nil, dmgerr.Wrap(dmgerr.Cpio, "pbzx.readNewcHeader", err)
	}

	hex := func(start int) (uint64, error) {
		return strconv.ParseUint(string(buf[start:start+8]), 16, 32)
	}

	mode, err := hex(8)
	if err != nil {
		return nil, dmgerr.Wrap(dmgerr.Cpio, "pbzx.readNewcHeader", err)
	}
	uid, _ := hex(16)
	gid, _ := hex(24)
	nlink, _ := hex(32)
	mtime, _ := hex(40)
	filesize, err := hex(48)
	if err != nil {
		return nil, dmgerr.Wrap(dmgerr.Cpio, "pbzx.readNewcHeader", err)
	}
	devmajor, _ := hex(56)
	devminor, _ := hex(64)
	namesize, err := hex(88)
	if err != nil {
		return nil, dmgerr.Wrap(dmgerr.Cpio, "pbzx.readNewcHeader", err)
	}

	name, err := cr.readName(int(namesize))
	if err != nil {
		return nil, err
	}

	// header (110 bytes total, including the 6-byte magic) + name must
	// land on a 4-byte boundary; consume the remaining pad now.
	headerPlusName := int64(110 + int(namesize))
	if pad := align4(headerPlusName); pad > 0 {
		if _, err := io.CopyN(io.Discard, cr.r, pad); err != nil {
			return nil, dmgerr.Wrap(dmgerr.Cpio, "pbzx.readNewcHeader", err)
		}
	}

	return &CpioEntry{
		Name:     name,
		Mode:     uint32(mode),
		UID:      uint32(uid),
		GID:      uint32(gid),
		NLink:    uint32(nlink),
		MTime:    time.Unix(int64(mtime), 0).UTC(),
		Size:     filesize,
		DevMajor: uint32(devmajor),
		DevMinor: uint32(devminor),
		dataPad:  align4(int64(filesize)),
	}, nil
}
