package codec

import (
	"io"

	"github.com/deploymenttheory/go-dmgpkg/pkg/dmgerr"
)

// decodeLzfse is intentionally unimplemented. Every Go LZFSE decoder
// in the retrieval pack is a cgo binding over Apple's reference C library,
// which would reintroduce exactly the native-runtime dependency this
// module exists to avoid (§1 "without any native Apple runtime"). Callers
// see a tagged UnsupportedCompression error instead of a silent wrong
// answer; see DESIGN.md for the considered alternatives.
func decodeLzfse(_ io.Reader, _ io.Writer) error {
	return dmgerr.New(dmgerr.UnsupportedCompression, "codec.lzfse")
}
