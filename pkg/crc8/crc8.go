// Package crc8 provides the CRC-8 used for Amfiprot header and payload
// checksums: polynomial 0x12F (0x2F in 8-bit form), initial value 0,
// no reflection, no final XOR.
package crc8

import (
	sigurn "github.com/sigurn/crc8"
)

var params = sigurn.Params{
	Poly:   0x2F,
	Init:   0x00,
	RefIn:  false,
	RefOut: false,
	XorOut: 0x00,
	Check:  0x3E,
	Name:   "CRC-8/AMFIPROT",
}

var table = sigurn.MakeTable(params)

// Checksum returns the CRC-8 of data.
func Checksum(data []byte) uint8 {
	return sigurn.Checksum(data, table)
}
