// Package snapshot implements the snapshot store: the arena of serialized
// variable values, the entry table addressing it, the spawn table, and the
// per-object "last tick applied" map described by the snapshot replication
// protocol.
package snapshot

// NotFound is returned by Find when no entry matches the requested triple.
const NotFound = -1

// VariableTriple identifies a replicated variable. Equality for table
// lookup uses the triple only.
type VariableTriple struct {
	ObjectID        uint64
	BehaviourIndex  uint16
	VariableIndex   uint16
}

// VariableKey is the triple plus the tick at which the currently stored
// value was captured.
type VariableKey struct {
	VariableTriple
	TickWritten int32
}

// Entry locates a variable's serialized bytes inside the arena.
// Length == 0 means the slot exists but has no payload yet.
type Entry struct {
	Key      VariableKey
	Position uint16
	Length   uint16
}

// Vector3 is a 3-float payload (position or scale) inside a spawn command.
type Vector3 struct {
	X, Y, Z float32
}

// Quaternion is a 4-float rotation payload inside a spawn command.
type Quaternion struct {
	X, Y, Z, W float32
}

// SpawnCommand describes one object to be created on a peer.
type SpawnCommand struct {
	ObjectID        uint64
	ArchetypeHash   uint32
	IsSceneObject   bool
	IsPlayerObject  bool
	OwnerClientID   uint64
	ParentNetworkID uint64
	Position        Vector3
	Rotation        Quaternion
	Scale           Vector3
	TickWritten     uint16

	// TargetClientIDs is the mutable set of recipients that have not yet
	// acknowledged this spawn. A spawn whose set becomes empty is removed
	// from the spawn table.
	TargetClientIDs map[uint64]struct{}
}

// Clone returns a deep copy of cmd, including an independent
// TargetClientIDs set.
func (cmd SpawnCommand) Clone() SpawnCommand {
	out := cmd
	out.TargetClientIDs = make(map[uint64]struct{}, len(cmd.TargetClientIDs))
	for id := range cmd.TargetClientIDs {
		out.TargetClientIDs[id] = struct{}{}
	}
	return out
}

// VariableDecoder decodes a variable's freshly-applied bytes. The host
// runtime owns what "decode" means; the store only guarantees that data is
// exactly the bytes read from the sender's arena for that variable.
type VariableDecoder func(data []byte) error

// VariableLookup resolves a replicated variable to a decoder during
// ReadIndex. A missing lookup is not an error: the entry is stored so it
// can be applied later when the object spawns.
type VariableLookup func(objectID uint64, behaviourIndex, variableIndex uint16) (VariableDecoder, bool)

// SpawnApplier instantiates a locally-received spawn command. parent is
// nil when the spawn should be rooted (including the self-parent case
// from ParentNetworkID == ObjectID).
type SpawnApplier func(cmd SpawnCommand, parent *uint64)
