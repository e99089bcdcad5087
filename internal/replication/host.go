// Package replication owns the tick hook that turns a snapshot store and
// a set of per-client states into framed outbound messages, and the
// receive path that turns an inbound byte stream back into store updates,
// spawn effects, and ack reconciliation.
package replication

import (
	"io"

	"netsnap/internal/snapshot"
)

// MessageClass names the kind of framed message being requested from the
// transport. The core only ever asks for one class; it is carried through
// so a transport multiplexing several kinds of traffic over one
// connection can route correctly.
type MessageClass string

// ClassSnapshotData is the message class used for every snapshot the
// system sends.
const ClassSnapshotData MessageClass = "SnapshotData"

// SnapshotChannel is the logical channel snapshots are sent on.
const SnapshotChannel = "snapshot"

// VariableHandle bridges a replicated variable to its host-defined wire
// representation. The host resolves one of these per (object, behaviour,
// variable) triple; the core only ever calls ReadDelta/WriteDelta.
type VariableHandle interface {
	ReadDelta(r io.Reader) error
	WriteDelta(w io.Writer) error
}

// Host is the boundary the snapshot system calls out through. Everything
// about object lifetime, peer identity, and the transport is owned by the
// host; the core never reaches around it.
type Host interface {
	LookupVariable(objectID uint64, behaviourIndex, variableIndex uint16) (VariableHandle, bool)
	ApplySpawn(cmd snapshot.SpawnCommand, parent *uint64)

	ListPeers() []uint64
	IsServer() bool
	LocalClientID() uint64
	ServerClientID() uint64

	CurrentTick() int32

	// EnterMessageContext acquires a framed transport buffer for one
	// outbound message. The returned WriteCloser's Close flushes the
	// frame; ok is false if acquisition failed (rate limited, peer gone,
	// connection not ready) and the recipient is skipped for this tick.
	EnterMessageContext(class MessageClass, channel string, recipient uint64) (w io.WriteCloser, ok bool)
}
