package wire

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// ByteReader is the read surface both Reader (in-memory) and StreamReader
// (io.Reader-backed) implement, so snapshot.Store's parsing methods work
// identically whether fed a buffered body or a live connection.
type ByteReader interface {
	ReadByte() (byte, error)
	ReadBytes(n int) ([]byte, error)
	ReadUint16() (uint16, error)
	ReadInt16() (int16, error)
	ReadUint32() (uint32, error)
	ReadUint64() (uint64, error)
	ReadFloat32() (float32, error)
	ReadBool() (bool, error)
	ReadPackedInt32() (int32, error)
	ExpectSentinel(want uint16) error
}

// StreamReader reads the same encoding as Reader but directly off an
// io.Reader with no internal buffering, so it can be interleaved with
// raw stream reads (such as the buffer section's ReadStream call)
// without losing bytes.
type StreamReader struct {
	r io.Reader
}

// NewStreamReader wraps r.
func NewStreamReader(r io.Reader) *StreamReader { return &StreamReader{r: r} }

func (s *StreamReader) ReadByte() (byte, error) {
	var b [1]byte
	if _, err := io.ReadFull(s.r, b[:]); err != nil {
		return 0, errors.Wrap(err, "wire: stream read byte")
	}
	return b[0], nil
}

func (s *StreamReader) ReadBytes(n int) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(s.r, b); err != nil {
		return nil, errors.Wrap(err, "wire: stream read bytes")
	}
	return b, nil
}

func (s *StreamReader) ReadUint16() (uint16, error) {
	b, err := s.ReadBytes(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (s *StreamReader) ReadInt16() (int16, error) {
	v, err := s.ReadUint16()
	return int16(v), err
}

func (s *StreamReader) ReadUint32() (uint32, error) {
	b, err := s.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (s *StreamReader) ReadUint64() (uint64, error) {
	b, err := s.ReadBytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (s *StreamReader) ReadFloat32() (float32, error) {
	v, err := s.ReadUint32()
	if err != nil {
		return 0, err
	}
	return float32frombits(v), nil
}

func (s *StreamReader) ReadBool() (bool, error) {
	b, err := s.ReadByte()
	if err != nil {
		return false, err
	}
	return b != 0, nil
}

func (s *StreamReader) ReadPackedInt32() (int32, error) {
	var u uint32
	var shift uint
	for {
		b, err := s.ReadByte()
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

func (s *StreamReader) ExpectSentinel(want uint16) error {
	got, err := s.ReadUint16()
	if err != nil {
		return err
	}
	if got != want {
		return errors.Wrapf(ErrSentinelMismatch, "want 0x%04x got 0x%04x", want, got)
	}
	return nil
}
