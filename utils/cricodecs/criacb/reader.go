package criacb

import (
	"bytes"
	"encoding/binary"
)

// Reader does bounds-checked positional reads over an in-memory buffer.
// Every out-of-range read wraps ErrFormat.
type Reader struct {
	buf   []byte
	order binary.ByteOrder
}

// NewReader creates a new Reader
func NewReader(buf []byte, order binary.ByteOrder) *Reader {
	return &Reader{buf: buf, order: order}
}

func (r *Reader) Len() int {
	return len(r.buf)
}

func (r *Reader) span(offset, n int) ([]byte, error) {
	if offset < 0 || n < 0 || offset > len(r.buf) || n > len(r.buf)-offset {
		return nil, formatErrorf("read of %d bytes at 0x%X past end of %d-byte buffer", n, offset, len(r.buf))
	}
	return r.buf[offset : offset+n], nil
}

func (r *Reader) Uint8At(offset int) (uint8, error) {
	b, err := r.span(offset, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *Reader) Uint16At(offset int) (uint16, error) {
	b, err := r.span(offset, 2)
	if err != nil {
		return 0, err
	}
	return r.order.Uint16(b), nil
}

func (r *Reader) Uint32At(offset int) (uint32, error) {
	b, err := r.span(offset, 4)
	if err != nil {
		return 0, err
	}
	return r.order.Uint32(b), nil
}

func (r *Reader) Uint64At(offset int) (uint64, error) {
	b, err := r.span(offset, 8)
	if err != nil {
		return 0, err
	}
	return r.order.Uint64(b), nil
}

// UintAt reads an unsigned integer of width 1, 2, 4 or 8 bytes.
func (r *Reader) UintAt(offset, width int) (uint64, error) {
	switch width {
	case 1:
		v, err := r.Uint8At(offset)
		return uint64(v), err
	case 2:
		v, err := r.Uint16At(offset)
		return uint64(v), err
	case 4:
		v, err := r.Uint32At(offset)
		return uint64(v), err
	case 8:
		return r.Uint64At(offset)
	}
	return 0, formatErrorf("unsupported integer width %d", width)
}

// BytesAt returns a view of n bytes at offset. The slice aliases the
// underlying buffer.
func (r *Reader) BytesAt(offset, n int) ([]byte, error) {
	b, err := r.span(offset, n)
	if err != nil {
		return nil, err
	}
	return b[:n:n], nil
}

// String0At returns the bytes from offset up to (not including) the next
// zero byte.
func (r *Reader) String0At(offset int) ([]byte, error) {
	if offset < 0 || offset > len(r.buf) {
		return nil, formatErrorf("string offset 0x%X outside %d-byte buffer", offset, len(r.buf))
	}
	end := bytes.IndexByte(r.buf[offset:], 0)
	if end < 0 {
		return nil, formatErrorf("unterminated string at 0x%X", offset)
	}
	return r.buf[offset : offset+end], nil
}
