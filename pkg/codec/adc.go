package codec

import (
	"bufio"
	"io"

	"github.com/deploymenttheory/go-dmgpkg/pkg/dmgerr"
)

// decodeAdc implements Apple Data Compression, the LZ77 variant UDIF uses
// for the historical "Adc" block-run kind. There is no streaming form of
// the algorithm worth having — matches can reference any earlier byte of
// the same output, so the whole block is decoded into memory first and
// then copied to dst.
func decodeAdc(src io.Reader, dst io.Writer) error {
	in, err := io.ReadAll(src)
	if err != nil {
		return dmgerr.Wrap(dmgerr.Io, "codec.adc", err)
	}

	out, err := adcExpand(in)
	if err != nil {
		return err
	}

	w := bufio.NewWriter(dst)
	if _, err := w.Write(out); err != nil {
		return dmgerr.Wrap(dmgerr.Io, "codec.adc", err)
	}
	return w.Flush()
}

// adcExpand decodes a complete ADC stream. Three chunk types, selected by
// the top two bits of the control byte:
//
//	1xxxxxxx           plain run: (control&0x7f)+1 literal bytes follow.
//	01xxxxxx oo oo      medium match: length (control&0x3f)+4, 16-bit offset.
//	00xxxxxx oo         short match: length ((control&0x3f)>>2)+3, 10-bit offset.
//
// Offsets are "distance back from the current output position, minus one"
// and matches may overlap the bytes they're copying (run-length expansion),
// so the copy must proceed byte-by-byte rather than via a bulk memmove.
func adcExpand(src []byte) ([]byte, error) {
	out := make([]byte, 0, len(src)*3)
	i := 0
	for i < len(src) {
		control := src[i]
		switch {
		case control&0x80 != 0:
			length := int(control&0x7f) + 1
			i++
			if i+length > len(src) {
				return nil, dmgerr.New(dmgerr.Truncated, "codec.adc")
			}
			out = append(out, src[i:i+length]...)
			i += length

		case control&0x40 != 0:
			if i+2 >= len(src) {
				return nil, dmgerr.New(dmgerr.Truncated, "codec.adc")
			}
			length := int(control&0x3f) + 4
			offset := int(src[i+1])<<8 | int(src[i+2])
			i += 3
			if err := adcBackCopy(&out, offset+1, length); err != nil {
				return nil, err
			}

		default:
			if i+1 >= len(src) {
				return nil, dmgerr.New(dmgerr.Truncated, "codec.adc")
			}
			length := int(control&0x3f)>>2 + 3
			offset := int(control&0x03)<<8 | int(src[i+1])
			i += 2
			if err := adcBackCopy(&out, offset+1, length); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// adcBackCopy appends length bytes to out, each copied from distance bytes
// behind the current write position, one at a time (distance can be
// smaller than length, producing a repeating pattern).
func adcBackCopy(out *[]byte, distance, length int) error {
	start := len(*out) - distance
	if start < 0 {
		return dmgerr.New(dmgerr.Truncated, "codec.adc")
	}
	for n := 0; n < length; n++ {
		*out = append(*out, (*out)[start+n])
	}
	return nil
}
