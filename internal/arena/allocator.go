// Package arena implements the index allocator: a bijection from a bounded
// set of integer handles to disjoint byte regions inside a fixed-capacity
// arena.
//
// The allocator never moves a live region on its own; callers that need a
// larger region call Allocate again for the same handle, which frees the old
// region (if any) first and places a new one. Placement favors first-fit
// reuse of freed regions over growing the high-water mark, so repeated
// grow/shrink cycles on a busy handle don't monotonically waste space.
package arena

import "github.com/pkg/errors"

// ErrOutOfSpace is returned by Allocate when no placement fits the
// remaining capacity. Callers treat this as fatal for the requested
// operation: there is no graceful degradation at this layer.
var ErrOutOfSpace = errors.New("arena: out of space")

type region struct {
	offset int
	length int
}

// Allocator sub-allocates variable-sized regions of [0, Capacity) keyed by
// caller-supplied integer handles in [0, Handles).
type Allocator struct {
	capacity  int
	regions   map[int]region // handle -> live region
	free      []region       // free regions, unordered
	highWater int
}

// New creates an allocator over [0, capacity) supporting up to handles
// distinct live handles at once (handles is advisory, the map grows on
// demand, but callers should size it to roughly twice the entry table
// capacity).
func New(capacity int, handles int) *Allocator {
	return &Allocator{
		capacity: capacity,
		regions:  make(map[int]region, handles),
	}
}

// Allocate places a region of the given size for handle, evicting any
// existing region for that handle first. Returns the new region's offset.
func (a *Allocator) Allocate(handle int, size int) (int, error) {
	a.Deallocate(handle)
	if size == 0 {
		a.regions[handle] = region{offset: 0, length: 0}
		return 0, nil
	}

	if off, ok := a.takeFree(size); ok {
		a.regions[handle] = region{offset: off, length: size}
		return off, nil
	}

	if a.highWater+size > a.capacity {
		return 0, errors.Wrapf(ErrOutOfSpace, "need %d bytes, have %d of %d free", size, a.capacity-a.highWater, a.capacity)
	}

	off := a.highWater
	a.highWater += size
	a.regions[handle] = region{offset: off, length: size}
	return off, nil
}

// takeFree finds a first-fit free region of at least size, splitting off
// any excess back into the free list.
func (a *Allocator) takeFree(size int) (int, bool) {
	for i, r := range a.free {
		if r.length < size {
			continue
		}
		a.free[i] = a.free[len(a.free)-1]
		a.free = a.free[:len(a.free)-1]
		if r.length > size {
			a.free = append(a.free, region{offset: r.offset + size, length: r.length - size})
		}
		return r.offset, true
	}
	return 0, false
}

// Deallocate releases handle's region, if any. A no-op for a handle with no
// live region or a zero-length allocation.
func (a *Allocator) Deallocate(handle int) {
	r, ok := a.regions[handle]
	if !ok {
		return
	}
	delete(a.regions, handle)
	if r.length == 0 {
		return
	}
	if r.offset+r.length == a.highWater {
		a.highWater = r.offset
		a.reclaimTrailingFree()
		return
	}
	a.free = append(a.free, r)
}

// reclaimTrailingFree pulls free regions adjacent to the new high-water
// mark back into the bump pointer, so repeated shrink-from-the-end doesn't
// leak them into the free list forever.
func (a *Allocator) reclaimTrailingFree() {
	for {
		merged := false
		for i, r := range a.free {
			if r.offset+r.length == a.highWater {
				a.highWater = r.offset
				a.free[i] = a.free[len(a.free)-1]
				a.free = a.free[:len(a.free)-1]
				merged = true
				break
			}
		}
		if !merged {
			return
		}
	}
}

// Reset returns the allocator to the empty state; all handles become
// invalid. The underlying capacity is unchanged.
func (a *Allocator) Reset() {
	a.regions = make(map[int]region, len(a.regions))
	a.free = a.free[:0]
	a.highWater = 0
}

// Range returns the smallest offset R such that every live region lies in
// [0, R).
func (a *Allocator) Range() int {
	return a.highWater
}

// Capacity returns the allocator's total capacity.
func (a *Allocator) Capacity() int {
	return a.capacity
}

// Lookup returns the live (offset, length) for handle, if any.
func (a *Allocator) Lookup(handle int) (offset int, length int, ok bool) {
	r, ok := a.regions[handle]
	return r.offset, r.length, ok
}
