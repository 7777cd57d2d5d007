package smf

import "github.com/pkg/errors"

// cursor reads big-endian fields from a bounded window of the file. base is
// the absolute file offset of data[0] so errors and warnings can report
// positions in the file rather than in the chunk.
type cursor struct {
	data []byte
	pos  int
	base int
}

func (c *cursor) offset() int { return c.base + c.pos }

func (c *cursor) remaining() int { return len(c.data) - c.pos }

func (c *cursor) need(n int) error {
	if n < 0 || c.remaining() < n {
		return errors.Wrapf(ErrShortBuffer, "need %d bytes at offset %d, have %d", n, c.offset(), c.remaining())
	}
	return nil
}

func (c *cursor) u8() (byte, error) {
	if err := c.need(1); err != nil {
		return 0, err
	}
	b := c.data[c.pos]
	c.pos++
	return b, nil
}

func (c *cursor) peek() (byte, error) {
	if err := c.need(1); err != nil {
		return 0, err
	}
	return c.data[c.pos], nil
}

func (c *cursor) u16() (uint16, error) {
	if err := c.need(2); err != nil {
		return 0, err
	}
	v := uint16(c.data[c.pos])<<8 | uint16(c.data[c.pos+1])
	c.pos += 2
	return v, nil
}

func (c *cursor) u32() (uint32, error) {
	if err := c.need(4); err != nil {
		return 0, err
	}
	d := c.data[c.pos:]
	v := uint32(d[0])<<24 | uint32(d[1])<<16 | uint32(d[2])<<8 | uint32(d[3])
	c.pos += 4
	return v, nil
}

func (c *cursor) bytes(n int) ([]byte, error) {
	if err := c.need(n); err != nil {
		return nil, err
	}
	b := c.data[c.pos : c.pos+n]
	c.pos += n
	return b, nil
}

func (c *cursor) tag() (string, error) {
	b, err := c.bytes(4)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (c *cursor) skip(n int) error {
	if err := c.need(n); err != nil {
		return err
	}
	c.pos += n
	return nil
}

// vlq reads a variable-length quantity of at most 4 bytes.
func (c *cursor) vlq() (uint32, error) {
	v, n, err := DecodeVLQ(c.data[c.pos:])
	if err != nil {
		return 0, errors.Wrapf(err, "vlq at offset %d", c.offset())
	}
	c.pos += n
	return v, nil
}

// DecodeVLQ decodes a big-endian base-128 quantity from the start of b and
// returns the value and the number of bytes consumed.
func DecodeVLQ(b []byte) (uint32, int, error) {
	var v uint32
	for i := 0; i < 4; i++ {
		if i >= len(b) {
			return 0, i, ErrShortBuffer
		}
		v = v<<7 | uint32(b[i]&0x7f)
		if b[i]&0x80 == 0 {
			return v, i + 1, nil
		}
	}
	return 0, 4, ErrVLQTooLong
}

// MaxVLQ is the largest value representable in a 4-byte VLQ.
const MaxVLQ = 1<<28 - 1

// EncodeVLQ returns the canonical (shortest) encoding of v. Values above
// MaxVLQ are truncated to their low 28 bits.
func EncodeVLQ(v uint32) []byte {
	v &= MaxVLQ
	var buf [4]byte
	i := len(buf) - 1
	buf[i] = byte(v & 0x7f)
	for v >>= 7; v > 0; v >>= 7 {
		i--
		buf[i] = byte(v&0x7f) | 0x80
	}
	return append([]byte(nil), buf[i:]...)
}
