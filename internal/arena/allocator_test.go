package arena

import "testing"

func TestAllocateBasic(t *testing.T) {
	a := New(1024, 16)

	off, err := a.Allocate(0, 100)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if off != 0 {
		t.Fatalf("expected offset 0, got %d", off)
	}

	off2, err := a.Allocate(1, 50)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if off2 != 100 {
		t.Fatalf("expected offset 100, got %d", off2)
	}

	if got := a.Range(); got != 150 {
		t.Fatalf("expected range 150, got %d", got)
	}
}

func TestAllocateNoOverlap(t *testing.T) {
	a := New(1024, 16)
	offsets := make(map[int]int)
	for h := 0; h < 10; h++ {
		off, err := a.Allocate(h, 10)
		if err != nil {
			t.Fatalf("allocate %d: %v", h, err)
		}
		for oh, ooff := range offsets {
			if overlaps(ooff, 10, off, 10) {
				t.Fatalf("handle %d at %d overlaps handle %d at %d", h, off, oh, ooff)
			}
		}
		offsets[h] = off
	}
}

func overlaps(a0, alen, b0, blen int) bool {
	return a0 < b0+blen && b0 < a0+alen
}

func TestReallocateGrow(t *testing.T) {
	a := New(1024, 16)
	a.Allocate(0, 10)
	off, err := a.Allocate(0, 100)
	if err != nil {
		t.Fatalf("reallocate: %v", err)
	}
	length := 0
	if _, l, ok := a.Lookup(0); ok {
		length = l
	}
	if length != 100 {
		t.Fatalf("expected length 100, got %d", length)
	}
	_ = off
}

func TestDeallocateIsNoOpForMissingOrEmpty(t *testing.T) {
	a := New(1024, 16)
	a.Deallocate(99) // never allocated

	a.Allocate(0, 0) // zero length
	a.Deallocate(0)  // should not panic or corrupt state
	if got := a.Range(); got != 0 {
		t.Fatalf("expected range 0, got %d", got)
	}
}

func TestOutOfSpace(t *testing.T) {
	a := New(100, 4)
	if _, err := a.Allocate(0, 50); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if _, err := a.Allocate(1, 50); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if _, err := a.Allocate(2, 1); err == nil {
		t.Fatal("expected out-of-space error")
	}
}

func TestFreelistReuse(t *testing.T) {
	a := New(100, 4)
	a.Allocate(0, 20)
	a.Allocate(1, 20)
	a.Deallocate(0)

	off, err := a.Allocate(2, 20)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if off != 0 {
		t.Fatalf("expected freelist reuse at offset 0, got %d", off)
	}
}

func TestReset(t *testing.T) {
	a := New(100, 4)
	a.Allocate(0, 20)
	a.Allocate(1, 20)
	a.Reset()

	if got := a.Range(); got != 0 {
		t.Fatalf("expected range 0 after reset, got %d", got)
	}
	if _, _, ok := a.Lookup(0); ok {
		t.Fatal("expected handle 0 to be invalid after reset")
	}

	off, err := a.Allocate(0, 10)
	if err != nil || off != 0 {
		t.Fatalf("expected fresh allocation at 0, got off=%d err=%v", off, err)
	}
}

func TestReallocateTotalFitsCapacity(t *testing.T) {
	// A resize whose total live bytes plus the new size equals capacity
	// must succeed.
	a := New(100, 4)
	a.Allocate(0, 40)
	a.Allocate(1, 40)
	a.Deallocate(1)
	if _, err := a.Allocate(1, 60); err != nil {
		t.Fatalf("expected resize to fit exactly, got %v", err)
	}
	if got := a.Range(); got != 100 {
		t.Fatalf("expected range 100, got %d", got)
	}
}
