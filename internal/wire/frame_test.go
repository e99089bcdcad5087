package wire

import "testing"

func TestPackedInt32RoundTrip(t *testing.T) {
	cases := []int32{0, 1, -1, 127, -127, 128, -128, 1 << 20, -(1 << 20), 2147483647, -2147483648}
	for _, v := range cases {
		w := NewWriter()
		if err := w.WritePackedInt32(v); err != nil {
			t.Fatalf("write %d: %v", v, err)
		}
		r := NewReader(w.Bytes())
		got, err := r.ReadPackedInt32()
		if err != nil {
			t.Fatalf("read %d: %v", v, err)
		}
		if got != v {
			t.Fatalf("roundtrip mismatch: want %d got %d", v, got)
		}
		if r.Remaining() != 0 {
			t.Fatalf("expected reader fully consumed for %d, %d bytes left", v, r.Remaining())
		}
	}
}

func TestSentinelMismatch(t *testing.T) {
	w := NewWriter()
	w.WriteUint16(0x1234)
	r := NewReader(w.Bytes())
	if err := r.ExpectSentinel(Sentinel0); err == nil {
		t.Fatal("expected mismatch error")
	}
}

func TestSentinelMatch(t *testing.T) {
	w := NewWriter()
	w.WriteUint16(Sentinel2)
	r := NewReader(w.Bytes())
	if err := r.ExpectSentinel(Sentinel2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPlaceholderPatch(t *testing.T) {
	w := NewWriter()
	w.WriteUint16(1)
	idx := w.Placeholder(2)
	w.WriteUint16(2)
	w.WriteUint16(3)
	w.PatchInt16(idx, 99)

	r := NewReader(w.Bytes())
	a, _ := r.ReadUint16()
	count, _ := r.ReadInt16()
	b, _ := r.ReadUint16()
	c, _ := r.ReadUint16()
	if a != 1 || count != 99 || b != 2 || c != 3 {
		t.Fatalf("unexpected sequence: %d %d %d %d", a, count, b, c)
	}
}

func TestFloat32RoundTrip(t *testing.T) {
	w := NewWriter()
	w.WriteFloat32(3.5)
	w.WriteFloat32(-1.25)
	r := NewReader(w.Bytes())
	a, _ := r.ReadFloat32()
	b, _ := r.ReadFloat32()
	if a != 3.5 || b != -1.25 {
		t.Fatalf("float roundtrip mismatch: %v %v", a, b)
	}
}
