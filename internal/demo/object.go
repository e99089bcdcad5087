// Package demo provides a minimal in-memory replication.Host: a flat
// object table carrying position, velocity, and HP fields, replicated
// through a fixed-width little-endian codec. It exists so the demo binary
// has a real host to drive replication.System against, without depending
// on any particular game engine.
package demo

import (
	"encoding/binary"
	"io"
	"math"

	"netsnap/internal/replication"
	"netsnap/internal/snapshot"
)

// Behaviour/variable indices this demo host replicates. A real host would
// assign these per its own object model; here there is exactly one
// behaviour with three variables.
const (
	BehaviourTransform uint16 = 0

	VariablePosition uint16 = 0
	VariableVelocity uint16 = 1
	VariableHP       uint16 = 2
)

// Vector2 is a plain 2D float pair, independent of snapshot.Vector3.
type Vector2 struct {
	X, Y float32
}

// Object is one replicated entity: a position, a velocity, and a hit
// point count.
type Object struct {
	ID       uint64
	Position Vector2
	Velocity Vector2
	HP       int32
}

// vector2Handle (position, velocity) and hpHandle adapt one field of an Object to
// replication.VariableHandle so System.Store/Receive can read and write it
// without knowing about Object at all.

type vector2Handle struct{ v *Vector2 }

func (h *vector2Handle) WriteDelta(w io.Writer) error {
	var buf [8]byte
	binary.LittleEndian.PutUint32(buf[0:4], math.Float32bits(h.v.X))
	binary.LittleEndian.PutUint32(buf[4:8], math.Float32bits(h.v.Y))
	_, err := w.Write(buf[:])
	return err
}

func (h *vector2Handle) ReadDelta(r io.Reader) error {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return err
	}
	h.v.X = math.Float32frombits(binary.LittleEndian.Uint32(buf[0:4]))
	h.v.Y = math.Float32frombits(binary.LittleEndian.Uint32(buf[4:8]))
	return nil
}

type hpHandle struct{ hp *int32 }

func (h *hpHandle) WriteDelta(w io.Writer) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(*h.hp))
	_, err := w.Write(buf[:])
	return err
}

func (h *hpHandle) ReadDelta(r io.Reader) error {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return err
	}
	*h.hp = int32(binary.LittleEndian.Uint32(buf[:]))
	return nil
}

// VariableHandle resolves one of Object's three replicated fields.
func (o *Object) VariableHandle(variableIndex uint16) (replication.VariableHandle, bool) {
	switch variableIndex {
	case VariablePosition:
		return &vector2Handle{v: &o.Position}, true
	case VariableVelocity:
		return &vector2Handle{v: &o.Velocity}, true
	case VariableHP:
		return &hpHandle{hp: &o.HP}, true
	default:
		return nil, false
	}
}

// ToSpawnCommand builds the spawn wire record for o, targeting recipients.
func (o *Object) ToSpawnCommand(tick uint16, recipients map[uint64]struct{}) snapshot.SpawnCommand {
	return snapshot.SpawnCommand{
		ObjectID:        o.ID,
		ParentNetworkID: o.ID, // self-parented: every demo object is a root.
		Position:        snapshot.Vector3{X: o.Position.X, Y: o.Position.Y},
		TickWritten:     tick,
		TargetClientIDs: recipients,
	}
}
