package proxy_router

import (
	"errors"
	"io"

	"golang.org/x/crypto/cryptobyte"
)

const (
	segmentBits  = 0x7F
	continueBit  = 0x80
	MaxVarIntLen = 5
)

var (
	ErrVarIntTooLong = errors.New("varint too long")
	ErrTruncated     = errors.New("frame truncated")
)

// decodeVarInt pulls bytes from next until one has the continuation bit clear.
// A fifth byte that still asks for more is rejected, since the value would not
// fit in 32 bits.
func decodeVarInt(next func() (byte, error)) (int32, error) {
	var val uint32
	for pos := 0; ; pos += 7 {
		if pos >= 7*MaxVarIntLen {
			return 0, ErrVarIntTooLong
		}
		b, err := next()
		if err != nil {
			return 0, err
		}
		val |= uint32(b&segmentBits) << pos
		if b&continueBit == 0 {
			return int32(val), nil
		}
	}
}

// ReadVarInt decodes a single VarInt from r, one byte at a time, so that no
// byte past the VarInt is consumed.
func ReadVarInt(r io.Reader) (int32, error) {
	if br, ok := r.(io.ByteReader); ok {
		return decodeVarInt(func() (byte, error) {
			b, err := br.ReadByte()
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return b, err
		})
	}

	var one [1]byte
	return decodeVarInt(func() (byte, error) {
		if _, err := io.ReadFull(r, one[:]); err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return 0, err
		}
		return one[0], nil
	})
}

// readVarInt decodes a VarInt from the front of s and advances s past it.
func readVarInt(s *cryptobyte.String, out *int32) error {
	v, err := decodeVarInt(func() (byte, error) {
		var b uint8
		if !s.ReadUint8(&b) {
			return 0, ErrTruncated
		}
		return b, nil
	})
	if err != nil {
		return err
	}
	*out = v
	return nil
}

// AppendVarInt appends the VarInt encoding of v to b. Negative values are
// encoded from their unsigned bit pattern and always take five bytes.
func AppendVarInt(b []byte, v int32) []byte {
	u := uint32(v)
	for u&^segmentBits != 0 {
		b = append(b, byte(u&segmentBits)|continueBit)
		u >>= 7
	}
	return append(b, byte(u))
}

// WriteVarInt writes the VarInt encoding of v to w.
func WriteVarInt(w io.Writer, v int32) error {
	var buf [MaxVarIntLen]byte
	_, err := w.Write(AppendVarInt(buf[:0], v))
	return err
}
