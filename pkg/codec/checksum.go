package codec

import (
	"encoding/binary"
	"hash/crc32"
)

// CRC32 computes the standard IEEE CRC-32 used by UDIF's mish/data-fork
// checksums (§4.1, §8).
func CRC32(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

// Fletcher64 computes the Fletcher-64 checksum APFS stores in every object
// header (§3 "APFS object", §4.3). data must already exclude the 8-byte
// checksum field the caller is verifying against — the caller passes
// bytes[8:] of the object.
//
// Ported from the teacher's two competing implementations
// (internal/utils/apfs/pkg/checksum and .../util), which disagreed on word
// width; this follows the container's actual definition: the input is
// processed as little-endian 32-bit words accumulated into two 64-bit sums
// modulo 2**32-1, padding a short final word with zero bytes.
func Fletcher64(data []byte) uint64 {
	var sum1, sum2 uint64
	const mod = 0xFFFFFFFF

	words := len(data) / 4
	rem := len(data) % 4

	for i := 0; i < words; i++ {
		w := uint64(binary.LittleEndian.Uint32(data[i*4:]))
		sum1 = (sum1 + w) % mod
		sum2 = (sum2 + sum1) % mod
	}
	if rem != 0 {
		var last [4]byte
		copy(last[:], data[words*4:])
		w := uint64(binary.LittleEndian.Uint32(last[:]))
		sum1 = (sum1 + w) % mod
		sum2 = (sum2 + sum1) % mod
	}

	ck1 := mod - (sum1+sum2)%mod
	ck2 := mod - (sum1+ck1)%mod
	return (ck2 << 32) | ck1
}
