// Package checksum guards spilled slots against silent corruption.
package checksum

import (
	"hash/crc32"
)

// CRC32C computes Castagnoli checksums, which have hardware support on amd64 and arm64.
type CRC32C struct {
	table *crc32.Table
}

func NewCRC32C() *CRC32C {
	return &CRC32C{table: crc32.MakeTable(crc32.Castagnoli)}
}

func (c *CRC32C) Calculate(data []byte) uint32 {
	return crc32.Checksum(data, c.table)
}

func (c *CRC32C) Verify(data []byte, expected uint32) bool {
	return crc32.Checksum(data, c.table) == expected
}
