package replication

import (
	"io"
	"log"

	"github.com/pkg/errors"

	"netsnap/internal/arena"
	"netsnap/internal/netstate"
	"netsnap/internal/snapshot"
	"netsnap/internal/wire"
)

// Config toggles the two global features gating the tick hook, per the
// protocol's USE_SNAPSHOT_DELTA / USE_SNAPSHOT_SPAWN options.
type Config struct {
	UseSnapshotDelta bool
	UseSnapshotSpawn bool
}

// System owns one snapshot store and the per-client state map for every
// recipient it has exchanged messages with, and implements the tick hook
// and receive path described by the protocol.
type System struct {
	host    Host
	store   *snapshot.Store
	config  Config
	metrics MetricsSink

	clients  map[uint64]*netstate.ClientState
	lastTick int32
	seenTick bool
}

// NewSystem constructs a System over store, dispatching through host.
// A nil metrics sink discards every capacity/integrity/traffic event.
func NewSystem(host Host, store *snapshot.Store, config Config, metrics MetricsSink) *System {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &System{
		host:    host,
		store:   store,
		config:  config,
		metrics: metrics,
		clients: make(map[uint64]*netstate.ClientState),
	}
}

// Store captures handle's current value for the given replicated
// variable into the snapshot store at the current tick.
func (sys *System) Store(objectID uint64, behaviourIndex, variableIndex uint16, handle VariableHandle) error {
	triple := snapshot.VariableTriple{ObjectID: objectID, BehaviourIndex: behaviourIndex, VariableIndex: variableIndex}
	tick := sys.host.CurrentTick()
	err := sys.store.StoreVariable(triple, tick, func(scratch []byte) (int, error) {
		sw := &sliceWriter{buf: scratch}
		if err := handle.WriteDelta(sw); err != nil {
			return 0, err
		}
		return sw.n, nil
	})
	if errors.Is(err, snapshot.ErrEntriesFull) {
		sys.metrics.CapacityError("entries")
	} else if isAllocatorFull(err) {
		sys.metrics.CapacityError("allocator")
	}
	return err
}

// Spawn stamps cmd with the current tick, computes its recipient set
// from the host's server/client role, and adds it to the spawn table.
func (sys *System) Spawn(cmd snapshot.SpawnCommand) error {
	cmd.TickWritten = uint16(sys.host.CurrentTick())
	cmd.TargetClientIDs = sys.computeTargets()
	if err := sys.store.AddSpawn(cmd); err != nil {
		sys.metrics.CapacityError("spawns")
		return err
	}
	return nil
}

func (sys *System) computeTargets() map[uint64]struct{} {
	targets := make(map[uint64]struct{})
	if sys.host.IsServer() {
		local := sys.host.LocalClientID()
		for _, p := range sys.host.ListPeers() {
			if p != local {
				targets[p] = struct{}{}
			}
		}
	} else {
		targets[sys.host.ServerClientID()] = struct{}{}
	}
	return targets
}

// Tick drives the send path. It is a no-op unless the host's currently
// observed tick differs from the last one processed, and unless at
// least one of the two snapshot features is enabled.
func (sys *System) Tick() {
	t := sys.host.CurrentTick()
	if sys.seenTick && t == sys.lastTick {
		return
	}
	sys.seenTick = true
	sys.lastTick = t

	if !sys.config.UseSnapshotDelta && !sys.config.UseSnapshotSpawn {
		return
	}

	recipients := sys.recipientsForTick()
	for _, recipient := range recipients {
		if err := sys.sendTo(recipient, t); err != nil {
			log.Printf("replication: send to client %d failed: %v", recipient, err)
		}
	}
}

func (sys *System) recipientsForTick() []uint64 {
	if sys.host.IsServer() {
		local := sys.host.LocalClientID()
		var out []uint64
		for _, p := range sys.host.ListPeers() {
			if p != local {
				out = append(out, p)
			}
		}
		return out
	}
	return []uint64{sys.host.ServerClientID()}
}

// clientState returns the bookkeeping for clientID, creating it on first
// reference. This tracks protocol-level state, not connection lifetime;
// the transport is the sole source of PeerConnected/PeerDisconnected
// events on the shared metrics sink.
func (sys *System) clientState(clientID uint64) *netstate.ClientState {
	c, ok := sys.clients[clientID]
	if !ok {
		c = netstate.NewClientState(clientID)
		sys.clients[clientID] = c
	}
	return c
}

func (sys *System) sendTo(recipient uint64, tick int32) error {
	client := sys.clientState(recipient)

	w, ok := sys.host.EnterMessageContext(ClassSnapshotData, SnapshotChannel, recipient)
	if !ok {
		return nil // transport failure: skip this recipient for this tick, no retry.
	}
	defer w.Close()

	sequence := client.NextMessageSequence()

	out := wire.NewWriter()
	if err := out.WritePackedInt32(tick); err != nil {
		return err
	}
	if err := out.WriteUint16(uint16(sequence)); err != nil {
		return err
	}
	if err := out.WriteUint16(wire.Sentinel0); err != nil {
		return err
	}

	rng := sys.store.AllocatorRange()
	if err := out.WriteUint16(uint16(rng)); err != nil {
		return err
	}
	if err := out.WriteBytes(sys.store.MainBuffer()[:rng]); err != nil {
		return err
	}

	entries := sys.store.Entries()
	if err := out.WriteInt16(int16(len(entries))); err != nil {
		return err
	}
	for _, e := range entries {
		if err := snapshot.WriteEntry(out, e); err != nil {
			return err
		}
	}
	if err := out.WriteUint16(wire.Sentinel1); err != nil {
		return err
	}

	countIdx := out.Placeholder(2)
	var written int16
	for _, sp := range sys.store.Spawns() {
		if ackedTick, ok := client.SpawnAck[sp.ObjectID]; ok && ackedTick == sp.TickWritten {
			continue
		}
		if _, targeted := sp.TargetClientIDs[recipient]; !targeted {
			continue
		}
		if err := snapshot.WriteSpawn(out, sp); err != nil {
			return err
		}
		client.RecordSent(sequence, sp.ObjectID, sp.TickWritten)
		written++
	}
	out.PatchInt16(countIdx, written)
	if err := out.WriteUint16(wire.Sentinel2); err != nil {
		return err
	}

	if err := out.WriteUint16(client.LastReceivedSequence); err != nil {
		return err
	}

	if err := out.WriteUint16(wire.Sentinel3); err != nil {
		return err
	}

	n, err := w.Write(out.Bytes())
	if err != nil {
		return errors.Wrap(err, "replication: write snapshot")
	}
	sys.metrics.BytesSent(n)
	return nil
}

// Receive parses one snapshot message from stream, sent by clientID,
// applying it against the store in the fixed section order the
// protocol requires: buffer, index, spawns, acks. A sentinel mismatch
// is a critical integrity error; the remainder of the message is
// abandoned but sections already applied stand.
func (sys *System) Receive(clientID uint64, stream io.Reader) error {
	client := sys.clientState(clientID)
	sr := wire.NewStreamReader(stream)

	if _, err := sr.ReadPackedInt32(); err != nil { // current_tick
		return errors.Wrap(err, "replication: read header tick")
	}
	sequence, err := sr.ReadUint16()
	if err != nil {
		return errors.Wrap(err, "replication: read header sequence")
	}
	client.LastReceivedSequence = sequence

	if err := sr.ExpectSentinel(wire.Sentinel0); err != nil {
		sys.metrics.IntegrityError("sentinel0")
		log.Printf("replication: sentinel0 mismatch from client %d: %v", clientID, err)
		return err
	}

	if _, err := sys.store.ReadBuffer(stream); err != nil {
		return errors.Wrap(err, "replication: read buffer section")
	}

	lookup := func(objectID uint64, behaviourIndex, variableIndex uint16) (snapshot.VariableDecoder, bool) {
		handle, ok := sys.host.LookupVariable(objectID, behaviourIndex, variableIndex)
		if !ok {
			return nil, false
		}
		return func(data []byte) error {
			return handle.ReadDelta(&sliceReader{buf: data})
		}, true
	}
	if err := sys.store.ReadIndex(sr, lookup); err != nil {
		return errors.Wrap(err, "replication: read index section")
	}

	if err := sr.ExpectSentinel(wire.Sentinel1); err != nil {
		sys.metrics.IntegrityError("sentinel1")
		log.Printf("replication: sentinel1 mismatch from client %d: %v", clientID, err)
		return err
	}

	if err := sys.store.ReadSpawns(sr, sys.host.ApplySpawn); err != nil {
		return errors.Wrap(err, "replication: read spawn section")
	}

	if err := sr.ExpectSentinel(wire.Sentinel2); err != nil {
		sys.metrics.IntegrityError("sentinel2")
		log.Printf("replication: sentinel2 mismatch from client %d: %v", clientID, err)
		return err
	}

	ackSequence, err := sr.ReadUint16()
	if err != nil {
		return errors.Wrap(err, "replication: read ack section")
	}

	if err := sr.ExpectSentinel(wire.Sentinel3); err != nil {
		sys.metrics.IntegrityError("sentinel3")
		log.Printf("replication: sentinel3 mismatch from client %d: %v", clientID, err)
		return err
	}

	acked := client.Acknowledge(ackSequence)
	sys.store.ReconcileAck(clientID, ackSequence, acked, client.RecordAck)
	return nil
}

// ClientSnapshot summarizes one client's replication bookkeeping, for
// surfacing through an admin/stats endpoint.
type ClientSnapshot struct {
	ClientID     uint64
	NextSequence uint64
	LastAcked    uint64
	Pending      int
}

// Snapshot returns a point-in-time view of every client System currently
// holds state for.
func (sys *System) Snapshot() []ClientSnapshot {
	out := make([]ClientSnapshot, 0, len(sys.clients))
	for id, c := range sys.clients {
		out = append(out, ClientSnapshot{
			ClientID:     id,
			NextSequence: c.NextSequence,
			LastAcked:    c.LastAckedSequence,
			Pending:      c.PendingCount(),
		})
	}
	return out
}

// SnapshotStore returns the underlying snapshot store, for read-only inspection
// (e.g. by an admin/stats endpoint). Callers must not mutate it directly.
func (sys *System) SnapshotStore() *snapshot.Store { return sys.store }

// Disconnect drops clientID's per-client state. The spawn table is left
// untouched: any spawn still targeting clientID simply never gets
// acknowledged by it again.
func (sys *System) Disconnect(clientID uint64) {
	delete(sys.clients, clientID)
}

func isAllocatorFull(err error) bool {
	return errors.Is(err, arena.ErrOutOfSpace)
}
