// Package codec adapts the external compression libraries used by every
// layer of the stack behind one shape: decode_all / decode_to (§9 "Codec
// abstraction"). No layer above this package imports a compression library
// directly.
package codec

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"io"

	"github.com/deploymenttheory/go-dmgpkg/pkg/dmgerr"
	"github.com/dsnet/compress/bzip2"
	"github.com/ulikunitz/xz"
)

// Kind identifies which codec a block of compressed bytes was encoded with.
// The members mirror the UDIF block-run kinds and XAR heap encodings that
// actually need decompression; framing-only kinds (ZeroFill, Raw, Ignore,
// Comment, End) never reach this package.
type Kind int

const (
	Zlib Kind = iota
	Bzip2
	Xz
	Adc
	Lzfse
	Gzip
)

func (k Kind) String() string {
	switch k {
	case Zlib:
		return "zlib"
	case Bzip2:
		return "bzip2"
	case Xz:
		return "xz"
	case Adc:
		return "adc"
	case Lzfse:
		return "lzfse"
	case Gzip:
		return "gzip"
	default:
		return "unknown"
	}
}

// DecodeAll decodes src fully and returns the decompressed bytes. hint, when
// positive, is the expected decompressed length and is used to presize the
// output buffer; it is never relied on for correctness.
func DecodeAll(kind Kind, src []byte, hint int) ([]byte, error) {
	var buf bytes.Buffer
	if hint > 0 {
		buf.Grow(hint)
	}
	if err := DecodeTo(kind, bytes.NewReader(src), &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeTo streams the decompressed form of src into dst. This is the
// streaming half of the codec contract (§9): callers that only need a
// writer-side sink never pay for an intermediate buffer.
func DecodeTo(kind Kind, src io.Reader, dst io.Writer) error {
	switch kind {
	case Zlib:
		r, err := zlib.NewReader(src)
		if err != nil {
			return dmgerr.Wrap(dmgerr.Codec, "codec.zlib", err)
		}
		defer r.Close()
		if _, err := io.Copy(dst, r); err != nil {
			return dmgerr.Wrap(dmgerr.Codec, "codec.zlib", err)
		}
		return nil
	case Bzip2:
		r, err := bzip2.NewReader(src, nil)
		if err != nil {
			return dmgerr.Wrap(dmgerr.Codec, "codec.bzip2", err)
		}
		defer r.Close()
		if _, err := io.Copy(dst, r); err != nil {
			return dmgerr.Wrap(dmgerr.Codec, "codec.bzip2", err)
		}
		return nil
	case Xz:
		r, err := xz.NewReader(src)
		if err != nil {
			return dmgerr.Wrap(dmgerr.Codec, "codec.xz", err)
		}
		if _, err := io.Copy(dst, r); err != nil {
			return dmgerr.Wrap(dmgerr.Codec, "codec.xz", err)
		}
		return nil
	case Gzip:
		r, err := gzip.NewReader(src)
		if err != nil {
			return dmgerr.Wrap(dmgerr.Codec, "codec.gzip", err)
		}
		defer r.Close()
		if _, err := io.Copy(dst, r); err != nil {
			return dmgerr.Wrap(dmgerr.Codec, "codec.gzip", err)
		}
		return nil
	case Adc:
		return decodeAdc(src, dst)
	case Lzfse:
		return decodeLzfse(src, dst)
	default:
		return dmgerr.New(dmgerr.UnsupportedCompression, "codec.DecodeTo")
	}
}
