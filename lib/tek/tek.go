package tek

import (
	"errors"
	"fmt"
)

// Errors returned by Unpack.
var (
	ErrShort    = errors.New("tek: pack block too short")
	ErrHeader   = errors.New("tek: invalid pack header")
	ErrTrailer  = errors.New("tek: invalid pack trailer")
	ErrLength   = errors.New("tek: pack length disagrees with byte count")
	ErrChecksum = errors.New("tek: bad pack checksum")
)

// Unpack decodes a Tektronix GPIB "pack" block into 16-bit samples.
//
// 3 bytes: '%', count hi, count low
// count bytes: data as hi,low pairs, then a checksum byte
// trailer: ';'
//
// The checksum is the 8-bit two's complement of the modulo-256 sum of the
// count and data bytes.
func Unpack(pack []byte) ([]uint16, error) {
	if len(pack) < 5 {
		return nil, ErrShort
	}
	if pack[0] != '%' {
		return nil, fmt.Errorf("%w: want %% got %q", ErrHeader, pack[0])
	}
	if end := pack[len(pack)-1]; end != ';' {
		return nil, fmt.Errorf("%w: want ; got %q", ErrTrailer, end)
	}
	count := int(pack[1])<<8 | int(pack[2])
	if len(pack) != count+4 {
		return nil, fmt.Errorf("%w: expect %d, got %d", ErrLength, count+4, len(pack))
	}
	dataEnd := len(pack) - 2
	if err := checksum(pack[1:dataEnd], pack[dataEnd]); err != nil {
		return nil, err
	}
	data := pack[3:dataEnd]
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("%w: odd data length %d", ErrLength, len(data))
	}

	ints := make([]uint16, 0, len(data)/2)
	for ; len(data) > 1; data = data[2:] {
		ints = append(ints, uint16(data[0])<<8|uint16(data[1]))
	}
	return ints, nil
}

// Pack encodes samples as a pack block. It is the inverse of Unpack.
func Pack(samples []uint16) []byte {
	count := 2*len(samples) + 1
	pack := make([]byte, 0, count+4)
	pack = append(pack, '%', byte(count>>8), byte(count))
	for _, s := range samples {
		pack = append(pack, byte(s>>8), byte(s))
	}
	var sum byte
	for _, c := range pack[1:] {
		sum += c
	}
	return append(pack, -sum, ';')
}

func checksum(data []byte, expect byte) error {
	s := expect
	for _, c := range data {
		s += c
	}
	if s != 0 {
		return fmt.Errorf("%w: residue %#02x", ErrChecksum, s)
	}
	return nil
}
