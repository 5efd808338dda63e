// Package ekmcrc implements the checksum used by EKM Omnimeter frames.
package ekmcrc

import (
	"github.com/sigurn/crc16"
)

// The meter CRC is CRC-16/MODBUS with the two result bytes swapped
// and the top bit of each byte cleared.
var table = crc16.MakeTable(crc16.CRC16_MODBUS)

// Checksum returns the vendor CRC over data.
func Checksum(data []byte) uint16 {
	crc := crc16.Checksum(data, table)
	crc = crc<<8 | crc>>8
	return crc & 0x7f7f
}

// ValidateCRC computes the CRC over buf[:n] and compares it against the
// big endian value stored in buf[n] and buf[n+1].
func ValidateCRC(buf []byte, n int) bool {
	if n < 0 || len(buf) < n+2 {
		return false
	}
	msgCRC := uint16(buf[n])<<8 | uint16(buf[n+1])
	return Checksum(buf[:n]) == msgCRC
}

// Append writes the CRC of buf as two big endian bytes after it.
func Append(buf []byte) []byte {
	crc := Checksum(buf)
	return append(buf, byte(crc>>8), byte(crc))
}
