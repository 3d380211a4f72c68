package v4l2

import "fmt"

// FourCC is a V4L2 four-character pixel format code, packed little-endian
// the way the kernel stores it in v4l2_pix_format.pixelformat.
type FourCC uint32

// MakeFourCC packs four characters into a FourCC code.
func MakeFourCC(a, b, c, d byte) FourCC {
	return FourCC(uint32(a) | uint32(b)<<8 | uint32(c)<<16 | uint32(d)<<24)
}

// ParseFourCC converts a four-character string such as "YUYV" into its
// packed code.
func ParseFourCC(s string) (FourCC, error) {
	if len(s) != 4 {
		return 0, fmt.Errorf("v4l2: fourcc %q must be exactly 4 characters", s)
	}
	return MakeFourCC(s[0], s[1], s[2], s[3]), nil
}

// String returns the four characters of the code. Non-printable bytes are
// replaced with '.' so unknown formats stay readable in logs.
func (f FourCC) String() string {
	b := [4]byte{byte(f), byte(f >> 8), byte(f >> 16), byte(f >> 24)}
	for i, c := range b {
		if c < 0x20 || c > 0x7e {
			b[i] = '.'
		}
	}
	return string(b[:])
}
