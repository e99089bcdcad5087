// Package wire provides the binary framing primitives used by the
// snapshot protocol: a variable-length ("packed") signed-integer encoding,
// little-endian fixed-width fields, and the section sentinels that detect
// framing corruption.
//
// All multi-byte integers are little-endian unless otherwise noted, per
// the wire format in the snapshot protocol's external interface.
package wire

import (
	"encoding/binary"
	"io"
	"math"

	"github.com/pkg/errors"
)

// Sentinel values delimit the four sections of a snapshot message body.
const (
	Sentinel0 uint16 = 0x4246 // after the header
	Sentinel1 uint16 = 0x4247 // after the index section
	Sentinel2 uint16 = 0x4248 // after the spawn section
	Sentinel3 uint16 = 0x4249 // after the ack section
)

// ErrSentinelMismatch is reported when a section sentinel doesn't match
// its expected value: a framing-corruption integrity error.
var ErrSentinelMismatch = errors.New("wire: sentinel mismatch")

// Writer accumulates an outbound message body. It supports writing a
// placeholder count and overwriting it later (used by the spawn section,
// whose count isn't known until after the spawns that pass the recipient
// filter have been written).
type Writer struct {
	buf []byte
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer { return &Writer{} }

// Bytes returns the accumulated body.
func (w *Writer) Bytes() []byte { return w.buf }

// Len returns the number of bytes written so far.
func (w *Writer) Len() int { return len(w.buf) }

func (w *Writer) WriteByte(b byte) error {
	w.buf = append(w.buf, b)
	return nil
}

func (w *Writer) WriteBytes(b []byte) error {
	w.buf = append(w.buf, b...)
	return nil
}

func (w *Writer) WriteUint16(v uint16) error {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	return w.WriteBytes(tmp[:])
}

func (w *Writer) WriteInt16(v int16) error {
	return w.WriteUint16(uint16(v))
}

func (w *Writer) WriteUint32(v uint32) error {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return w.WriteBytes(tmp[:])
}

func (w *Writer) WriteUint64(v uint64) error {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return w.WriteBytes(tmp[:])
}

func (w *Writer) WriteFloat32(v float32) error {
	return w.WriteUint32(float32bits(v))
}

func (w *Writer) WriteBool(v bool) error {
	if v {
		return w.WriteByte(1)
	}
	return w.WriteByte(0)
}

// WritePackedInt32 writes v using zig-zag + 7-bit continuation encoding,
// matching the transport's variable-length integer encoding referenced by
// the protocol as "packed i32".
func (w *Writer) WritePackedInt32(v int32) error {
	u := zigZagEncode(v)
	for {
		b := byte(u & 0x7f)
		u >>= 7
		if u != 0 {
			b |= 0x80
		}
		if err := w.WriteByte(b); err != nil {
			return err
		}
		if u == 0 {
			return nil
		}
	}
}

// Placeholder reserves n bytes at the current position, returning an
// index that can later be passed to PatchInt16 to overwrite
// them without disturbing subsequent writes. Used for the spawn
// section's write-count-then-backfill pattern.
func (w *Writer) Placeholder(n int) int {
	idx := len(w.buf)
	w.buf = append(w.buf, make([]byte, n)...)
	return idx
}

// PatchInt16 overwrites the two bytes at idx (as returned by Placeholder)
// with v, little-endian.
func (w *Writer) PatchInt16(idx int, v int16) {
	binary.LittleEndian.PutUint16(w.buf[idx:idx+2], uint16(v))
}

// Reader consumes a message body written by Writer.
type Reader struct {
	buf []byte
	pos int
}

// NewReader wraps buf for sequential reads.
func NewReader(buf []byte) *Reader { return &Reader{buf: buf} }

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.buf) - r.pos }

// Pos returns the current read offset.
func (r *Reader) Pos() int { return r.pos }

func (r *Reader) need(n int) error {
	if r.Remaining() < n {
		return errors.Errorf("wire: short read, need %d have %d", n, r.Remaining())
	}
	return nil
}

func (r *Reader) ReadByte() (byte, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *Reader) ReadUint16() (uint16, error) {
	b, err := r.ReadBytes(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *Reader) ReadInt16() (int16, error) {
	v, err := r.ReadUint16()
	return int16(v), err
}

func (r *Reader) ReadUint32() (uint32, error) {
	b, err := r.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *Reader) ReadUint64() (uint64, error) {
	b, err := r.ReadBytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *Reader) ReadFloat32() (float32, error) {
	v, err := r.ReadUint32()
	if err != nil {
		return 0, err
	}
	return float32frombits(v), nil
}

func (r *Reader) ReadBool() (bool, error) {
	b, err := r.ReadByte()
	if err != nil {
		return false, err
	}
	return b != 0, nil
}

// ReadPackedInt32 reads a zig-zag + 7-bit continuation encoded int32.
func (r *Reader) ReadPackedInt32() (int32, error) {
	var u uint32
	var shift uint
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		u |= uint32(b&0x7f) << shift
		if b&0x80 == 0 {
			break
		}
		shift += 7
		if shift >= 35 {
			return 0, errors.New("wire: packed int32 too long")
		}
	}
	return zigZagDecode(u), nil
}

// ExpectSentinel reads a uint16 and compares it to want, returning
// ErrSentinelMismatch on mismatch.
func (r *Reader) ExpectSentinel(want uint16) error {
	got, err := r.ReadUint16()
	if err != nil {
		return err
	}
	if got != want {
		return errors.Wrapf(ErrSentinelMismatch, "want 0x%04x got 0x%04x", want, got)
	}
	return nil
}

func zigZagEncode(v int32) uint32 {
	return uint32((v << 1) ^ (v >> 31))
}

func zigZagDecode(u uint32) int32 {
	return int32(u>>1) ^ -int32(u&1)
}

// ReadStream reads a u16-prefixed byte block from r into dst[:n], returning
// n. Used by the snapshot store's read_buffer step to stage the sender's
// arena contents before read_index runs.
func ReadStream(r io.Reader, dst []byte) (int, error) {
	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return 0, errors.Wrap(err, "wire: read buffer length")
	}
	n := int(binary.LittleEndian.Uint16(lenBuf[:]))
	if n > len(dst) {
		return 0, errors.Errorf("wire: buffer section %d exceeds destination capacity %d", n, len(dst))
	}
	if n > 0 {
		if _, err := io.ReadFull(r, dst[:n]); err != nil {
			return 0, errors.Wrap(err, "wire: read buffer body")
		}
	}
	return n, nil
}

func float32bits(f float32) uint32 {
	return math.Float32bits(f)
}

func float32frombits(b uint32) float32 {
	return math.Float32frombits(b)
}
