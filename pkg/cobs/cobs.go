// Package cobs implements Consistent-Overhead Byte Stuffing, the framing
// used by Amfiprot UART transports. Encoded frames contain no zero bytes;
// the transport appends a single 0x00 terminator after each frame.
package cobs

import "errors"

// ErrCorrupt is returned when encoded data is not valid COBS.
var ErrCorrupt = errors.New("cobs: corrupt encoded data")

// Encode stuffs src so that the result contains no zero bytes. The frame
// terminator is not appended here.
func Encode(src []byte) []byte {
	dst := make([]byte, 1, len(src)+1+len(src)/254)
	codeIdx := 0
	code := byte(1)

	for _, b := range src {
		if b == 0 {
			dst[codeIdx] = code
			codeIdx = len(dst)
			dst = append(dst, 0)
			code = 1
			continue
		}
		dst = append(dst, b)
		code++
		if code == 0xFF {
			dst[codeIdx] = code
			codeIdx = len(dst)
			dst = append(dst, 0)
			code = 1
		}
	}

	dst[codeIdx] = code
	return dst
}

// Decode unstuffs a COBS frame. The input must not include the 0x00
// terminator.
func Decode(src []byte) ([]byte, error) {
	dst := make([]byte, 0, len(src))

	for i := 0; i < len(src); {
		code := src[i]
		if code == 0 {
			return nil, ErrCorrupt
		}
		i++

		n := int(code) - 1
		if i+n > len(src) {
			return nil, ErrCorrupt
		}
		for j := 0; j < n; j++ {
			if src[i+j] == 0 {
				return nil, ErrCorrupt
			}
			dst = append(dst, src[i+j])
		}
		i += n

		// A group of 0xFF carries no implicit zero; neither does the
		// final group.
		if code != 0xFF && i < len(src) {
			dst = append(dst, 0)
		}
	}

	return dst, nil
}
