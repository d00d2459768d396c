// Package checksum computes the CRC32C (Castagnoli) checksums carried in frames.
package checksum

import (
	"hash"
	"hash/crc32"
)

var table = crc32.MakeTable(crc32.Castagnoli)

// Compute returns the CRC32C of b.
func Compute(b []byte) uint32 {
	return crc32.Checksum(b, table)
}

// New returns a streaming CRC32C digest, for checksumming regions that are
// not contiguous in memory.
func New() hash.Hash32 {
	return crc32.New(table)
}
