package snapshot

import (
	"io"

	"github.com/pkg/errors"

	"netsnap/internal/arena"
	"netsnap/internal/wire"
)

// Capacity errors are fatal for the operation that hit them: the update is
// dropped, and the caller is expected to surface this via a metrics hook.
var (
	ErrEntriesFull = errors.New("snapshot: entry table full")
	ErrSpawnsFull  = errors.New("snapshot: spawn table full")
)

// ErrCorrupt wraps a sentinel mismatch detected while parsing a received
// snapshot. The remainder of the message is abandoned; store state already
// applied from earlier sections is left intact.
var ErrCorrupt = errors.New("snapshot: corrupt message")

// Limits bounds the store's tables and arena, mirroring the protocol's
// recommended defaults.
type Limits struct {
	BufSize    int
	MaxEntries int
	MaxSpawns  int

	// MaxVariableSize bounds the scratch buffer used to encode a single
	// variable in StoreVariable. Not part of the wire protocol; purely a
	// local safety cap on one variable's serialized size.
	MaxVariableSize int
}

// DefaultLimits are the protocol's recommended defaults.
var DefaultLimits = Limits{BufSize: 30000, MaxEntries: 2000, MaxSpawns: 100, MaxVariableSize: 4096}

// Store owns the arena, the entry table, the spawn table, and the
// per-object "last tick applied" map. One Store serves every recipient
// of the System that owns it.
type Store struct {
	limits Limits

	mainBuffer []byte
	recvBuffer []byte

	allocator *arena.Allocator

	entries    []Entry
	lastEntry  int

	spawns    []SpawnCommand
	numSpawns int

	tickApplied map[uint64]uint16

	scratch []byte
}

// New creates a store sized per limits.
func New(limits Limits) *Store {
	if limits.MaxVariableSize == 0 {
		limits.MaxVariableSize = DefaultLimits.MaxVariableSize
	}
	return &Store{
		limits:      limits,
		mainBuffer:  make([]byte, limits.BufSize),
		recvBuffer:  make([]byte, limits.BufSize),
		allocator:   arena.New(limits.BufSize, 2*limits.MaxEntries),
		entries:     make([]Entry, limits.MaxEntries),
		spawns:      make([]SpawnCommand, limits.MaxSpawns),
		tickApplied: make(map[uint64]uint16),
		scratch:     make([]byte, limits.MaxVariableSize),
	}
}

// Clear resets the store's logical contents (entries, spawns, allocator,
// applied-tick map) without freeing the underlying arena allocation.
func (s *Store) Clear() {
	s.lastEntry = 0
	s.numSpawns = 0
	s.allocator.Reset()
	s.tickApplied = make(map[uint64]uint16)
}

// Entries returns the live prefix of the entry table. The returned slice
// aliases internal storage and must not be retained across mutating calls.
func (s *Store) Entries() []Entry { return s.entries[:s.lastEntry] }

// Spawns returns the live prefix of the spawn table. The returned slice
// aliases internal storage and must not be retained across mutating calls.
func (s *Store) Spawns() []SpawnCommand { return s.spawns[:s.numSpawns] }

// MainBuffer exposes the arena for serialization. Callers must not resize
// the returned slice.
func (s *Store) MainBuffer() []byte { return s.mainBuffer }

// Limits returns the limits the store was constructed with.
func (s *Store) Limits() Limits { return s.limits }

// AllocatorRange returns the smallest offset bounding all live regions.
func (s *Store) AllocatorRange() int { return s.allocator.Range() }

// Find performs a linear scan for the first entry matching triple,
// returning NotFound if none match.
func (s *Store) Find(triple VariableTriple) int {
	for i := 0; i < s.lastEntry; i++ {
		if s.entries[i].Key.VariableTriple == triple {
			return i
		}
	}
	return NotFound
}

// AddEntry appends an empty entry for key and returns its slot index.
func (s *Store) AddEntry(key VariableKey) (int, error) {
	if s.lastEntry == s.limits.MaxEntries {
		return NotFound, ErrEntriesFull
	}
	slot := s.lastEntry
	s.entries[slot] = Entry{Key: key}
	s.lastEntry++
	return slot, nil
}

// AllocateEntry resizes slot's backing region to size bytes, deallocating
// any existing region first, and updates Position/Length in place.
func (s *Store) AllocateEntry(slot int, size int) error {
	off, err := s.allocator.Allocate(slot, size)
	if err != nil {
		return errors.Wrap(err, "snapshot: allocate entry")
	}
	s.entries[slot].Position = uint16(off)
	s.entries[slot].Length = uint16(size)
	return nil
}

// StoreVariable captures the latest value of a replicated variable at the
// given tick: the slot is found or created, encode fills the scratch
// buffer with the serialized value, the slot's region grows if the value
// no longer fits, and the bytes are copied into the arena.
//
// encode must write into scratch and return the number of bytes written;
// it must not retain scratch past the call.
func (s *Store) StoreVariable(triple VariableTriple, tick int32, encode func(scratch []byte) (int, error)) error {
	slot := s.Find(triple)
	if slot == NotFound {
		var err error
		slot, err = s.AddEntry(VariableKey{VariableTriple: triple, TickWritten: tick})
		if err != nil {
			return err
		}
	} else {
		s.entries[slot].Key.TickWritten = tick
	}

	n, err := encode(s.scratch)
	if err != nil {
		return errors.Wrap(err, "snapshot: encode variable")
	}

	if int(s.entries[slot].Length) < n {
		if err := s.AllocateEntry(slot, n); err != nil {
			return err
		}
	} else {
		s.entries[slot].Length = uint16(n)
	}

	pos := s.entries[slot].Position
	copy(s.mainBuffer[pos:int(pos)+n], s.scratch[:n])
	return nil
}

// AddSpawn appends cmd with the given target set, iff the set is
// non-empty and capacity remains. A spawn with an empty target set is
// never stored.
func (s *Store) AddSpawn(cmd SpawnCommand) error {
	if len(cmd.TargetClientIDs) == 0 {
		return nil
	}
	if s.numSpawns == s.limits.MaxSpawns {
		return ErrSpawnsFull
	}
	s.spawns[s.numSpawns] = cmd
	s.numSpawns++
	return nil
}

// removeSpawnAt removes the spawn at index i via unordered compaction.
func (s *Store) removeSpawnAt(i int) {
	last := s.numSpawns - 1
	s.spawns[i] = s.spawns[last]
	s.numSpawns--
}

// WriteEntry serializes e per the wire format: u64 object_id | u16
// behaviour_index | u16 variable_index | packed_i32 tick_written | u16
// position | u16 length.
func WriteEntry(w *wire.Writer, e Entry) error {
	if err := w.WriteUint64(e.Key.ObjectID); err != nil {
		return err
	}
	if err := w.WriteUint16(e.Key.BehaviourIndex); err != nil {
		return err
	}
	if err := w.WriteUint16(e.Key.VariableIndex); err != nil {
		return err
	}
	if err := w.WritePackedInt32(e.Key.TickWritten); err != nil {
		return err
	}
	if err := w.WriteUint16(e.Position); err != nil {
		return err
	}
	return w.WriteUint16(e.Length)
}

// ReadEntry parses an Entry written by WriteEntry.
func ReadEntry(r wire.ByteReader) (Entry, error) {
	var e Entry
	objectID, err := r.ReadUint64()
	if err != nil {
		return e, err
	}
	behaviour, err := r.ReadUint16()
	if err != nil {
		return e, err
	}
	variable, err := r.ReadUint16()
	if err != nil {
		return e, err
	}
	tick, err := r.ReadPackedInt32()
	if err != nil {
		return e, err
	}
	position, err := r.ReadUint16()
	if err != nil {
		return e, err
	}
	length, err := r.ReadUint16()
	if err != nil {
		return e, err
	}
	e.Key = VariableKey{
		VariableTriple: VariableTriple{ObjectID: objectID, BehaviourIndex: behaviour, VariableIndex: variable},
		TickWritten:    tick,
	}
	e.Position = position
	e.Length = length
	return e, nil
}

// SpawnSentinel terminates a serialized spawn record on the wire.
const SpawnSentinel uint32 = 0x4246

// WriteSpawn serializes cmd's body per the wire format, followed by
// SpawnSentinel. It does not touch per-client bookkeeping; the send path
// (System.sendTo) records the sequence itself via ClientState.RecordSent.
func WriteSpawn(w *wire.Writer, cmd SpawnCommand) error {
	if err := w.WriteUint64(cmd.ObjectID); err != nil {
		return err
	}
	if err := w.WriteUint64(uint64(cmd.ArchetypeHash)); err != nil {
		return err
	}
	if err := w.WriteBool(cmd.IsSceneObject); err != nil {
		return err
	}
	if err := w.WriteBool(cmd.IsPlayerObject); err != nil {
		return err
	}
	if err := w.WriteUint64(cmd.OwnerClientID); err != nil {
		return err
	}
	if err := w.WriteUint64(cmd.ParentNetworkID); err != nil {
		return err
	}
	if err := writeVector3(w, cmd.Position); err != nil {
		return err
	}
	if err := writeQuaternion(w, cmd.Rotation); err != nil {
		return err
	}
	if err := writeVector3(w, cmd.Scale); err != nil {
		return err
	}
	if err := w.WriteUint16(cmd.TickWritten); err != nil {
		return err
	}
	return w.WriteUint32(SpawnSentinel)
}

// ReadSpawn parses a spawn body and verifies its trailing sentinel.
func ReadSpawn(r wire.ByteReader) (SpawnCommand, error) {
	var cmd SpawnCommand
	var err error
	if cmd.ObjectID, err = r.ReadUint64(); err != nil {
		return cmd, err
	}
	var archetype uint64
	if archetype, err = r.ReadUint64(); err != nil {
		return cmd, err
	}
	cmd.ArchetypeHash = uint32(archetype)
	if cmd.IsSceneObject, err = r.ReadBool(); err != nil {
		return cmd, err
	}
	if cmd.IsPlayerObject, err = r.ReadBool(); err != nil {
		return cmd, err
	}
	if cmd.OwnerClientID, err = r.ReadUint64(); err != nil {
		return cmd, err
	}
	if cmd.ParentNetworkID, err = r.ReadUint64(); err != nil {
		return cmd, err
	}
	if cmd.Position, err = readVector3(r); err != nil {
		return cmd, err
	}
	if cmd.Rotation, err = readQuaternion(r); err != nil {
		return cmd, err
	}
	if cmd.Scale, err = readVector3(r); err != nil {
		return cmd, err
	}
	if cmd.TickWritten, err = r.ReadUint16(); err != nil {
		return cmd, err
	}
	sentinel, err := r.ReadUint32()
	if err != nil {
		return cmd, err
	}
	if sentinel != SpawnSentinel {
		return cmd, errors.Wrapf(ErrCorrupt, "spawn sentinel mismatch: got 0x%08x", sentinel)
	}
	return cmd, nil
}

func writeVector3(w *wire.Writer, v Vector3) error {
	if err := w.WriteFloat32(v.X); err != nil {
		return err
	}
	if err := w.WriteFloat32(v.Y); err != nil {
		return err
	}
	return w.WriteFloat32(v.Z)
}

func readVector3(r wire.ByteReader) (Vector3, error) {
	var v Vector3
	var err error
	if v.X, err = r.ReadFloat32(); err != nil {
		return v, err
	}
	if v.Y, err = r.ReadFloat32(); err != nil {
		return v, err
	}
	v.Z, err = r.ReadFloat32()
	return v, err
}

func writeQuaternion(w *wire.Writer, q Quaternion) error {
	if err := w.WriteFloat32(q.X); err != nil {
		return err
	}
	if err := w.WriteFloat32(q.Y); err != nil {
		return err
	}
	if err := w.WriteFloat32(q.Z); err != nil {
		return err
	}
	return w.WriteFloat32(q.W)
}

func readQuaternion(r wire.ByteReader) (Quaternion, error) {
	var q Quaternion
	var err error
	if q.X, err = r.ReadFloat32(); err != nil {
		return q, err
	}
	if q.Y, err = r.ReadFloat32(); err != nil {
		return q, err
	}
	if q.Z, err = r.ReadFloat32(); err != nil {
		return q, err
	}
	q.W, err = r.ReadFloat32()
	return q, err
}

// ReadBuffer reads a u16 byte count followed by that many bytes from
// stream into recvBuffer, staging the sender's arena snapshot for the
// ReadIndex call that must immediately follow.
func (s *Store) ReadBuffer(stream io.Reader) (int, error) {
	return wire.ReadStream(stream, s.recvBuffer)
}

// ReadIndex reads an i16 entry count followed by that many entries,
// applying each against the local table per the protocol: find-or-add the
// slot, grow its backing region if the incoming entry is larger, and copy
// bytes from recvBuffer into the arena only when the slot is new, its
// region had to grow, or the incoming tick is strictly newer
// (last-writer-wins on tick_written).
//
// lookup resolves the decode callback for a freshly-applied variable; a
// miss is not an error, the entry is stored for later application.
func (s *Store) ReadIndex(r wire.ByteReader, lookup VariableLookup) error {
	count, err := r.ReadInt16()
	if err != nil {
		return err
	}
	for i := int16(0); i < count; i++ {
		e, err := ReadEntry(r)
		if err != nil {
			return err
		}
		if err := s.applyEntry(e, lookup); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) applyEntry(e Entry, lookup VariableLookup) error {
	slot := s.Find(e.Key.VariableTriple)
	added := false
	if slot == NotFound {
		var err error
		slot, err = s.AddEntry(e.Key)
		if err != nil {
			// Capacity errors drop the update but do not corrupt
			// the message stream.
			return nil
		}
		added = true
	}

	if s.entries[slot].Length < e.Length {
		if err := s.AllocateEntry(slot, int(e.Length)); err != nil {
			return nil
		}
		added = true
	}

	if !added && e.Key.TickWritten <= s.entries[slot].Key.TickWritten {
		return nil
	}

	localPos := s.entries[slot].Position
	if int(e.Position)+int(e.Length) <= len(s.recvBuffer) {
		copy(s.mainBuffer[localPos:int(localPos)+int(e.Length)], s.recvBuffer[e.Position:int(e.Position)+int(e.Length)])
	}

	// Normalize: the stored record always carries the locally allocated
	// offset, never the sender's. See DESIGN.md for why this resolves the
	// protocol's open question about allocate_entry/read_index ordering.
	e.Position = localPos
	s.entries[slot] = e

	if lookup == nil || e.Length == 0 {
		return nil
	}
	decode, ok := lookup(e.Key.ObjectID, e.Key.BehaviourIndex, e.Key.VariableIndex)
	if !ok {
		return nil
	}
	return decode(s.mainBuffer[localPos : int(localPos)+int(e.Length)])
}

// ReadSpawns reads an i16 spawn count followed by that many spawns,
// applying the monotone tick_applied filter per object and dispatching
// root-vs-parented spawns to apply.
func (s *Store) ReadSpawns(r wire.ByteReader, apply SpawnApplier) error {
	count, err := r.ReadInt16()
	if err != nil {
		return err
	}
	for i := int16(0); i < count; i++ {
		cmd, err := ReadSpawn(r)
		if err != nil {
			return errors.Wrapf(ErrCorrupt, "%v", err)
		}
		s.applySpawn(cmd, apply)
	}
	return nil
}

func (s *Store) applySpawn(cmd SpawnCommand, apply SpawnApplier) {
	if applied, ok := s.tickApplied[cmd.ObjectID]; ok && cmd.TickWritten <= applied {
		return
	}
	s.tickApplied[cmd.ObjectID] = cmd.TickWritten

	if apply == nil {
		return
	}
	if cmd.ParentNetworkID == cmd.ObjectID {
		apply(cmd, nil)
		return
	}
	parent := cmd.ParentNetworkID
	apply(cmd, &parent)
}

// AckSentSpawn describes one previously-sent, not-yet-pruned spawn
// transmission awaiting acknowledgement.
type AckSentSpawn struct {
	Sequence uint64
	ObjectID uint64
	Tick     uint16
}

// ReconcileAck processes one client's acknowledgement of sequence: every
// matching sent-spawn record is marked acknowledged for its object, and
// clientID is removed from the live spawn's target set. A spawn whose
// target set becomes empty is removed from the table.
func (s *Store) ReconcileAck(clientID uint64, sequence uint16, sent []AckSentSpawn, recordAck func(objectID uint64, tick uint16)) {
	for _, rec := range sent {
		if uint16(rec.Sequence) != sequence {
			continue
		}
		if recordAck != nil {
			recordAck(rec.ObjectID, rec.Tick)
		}
		for i := 0; i < s.numSpawns; i++ {
			sp := &s.spawns[i]
			if sp.ObjectID != rec.ObjectID || uint16(sp.TickWritten) != rec.Tick {
				continue
			}
			delete(sp.TargetClientIDs, clientID)
			if len(sp.TargetClientIDs) == 0 {
				s.removeSpawnAt(i)
			}
			break
		}
	}
}

// TickApplied returns the highest spawn tick already applied for
// objectID, and whether any spawn has been applied for it at all.
func (s *Store) TickApplied(objectID uint64) (uint16, bool) {
	v, ok := s.tickApplied[objectID]
	return v, ok
}
