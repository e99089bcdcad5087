package netstate

import "netsnap/internal/snapshot"

// AckWindow bounds how many in-flight sequences a client's unacknowledged
// spawn bookkeeping may span: each time an ack arrives, records sent more
// than this many sequences before the acked one are pruned without
// waiting for their own ack. Pruning only runs when an ack is processed,
// so a client that sends nothing keeps its records until it disconnects.
const AckWindow = 256

// ClientState is one connected peer's replication bookkeeping: the
// sequence counter for messages sent to it, the highest sequence it has
// acknowledged, and the spawns sent but not yet confirmed delivered.
//
// The wire only ever carries a u16 sequence number, so NextSequence is
// kept as a monotonic uint64 internally and truncated to u16 on the wire
// by the caller; ReconcileAck compares against that truncated form.
type ClientState struct {
	ClientID uint64

	NextSequence         uint64
	LastReceivedSequence uint16
	LastAckedSequence    uint64
	HasAckedAnySequence  bool

	// SpawnAck records, per object, the tick of the most recently
	// processed ack from this client, consulted when composing a spawn section so an
	// already-acked spawn isn't retransmitted to this recipient.
	SpawnAck map[uint64]uint16

	sent *SeqIndex
}

// NewClientState returns a fresh ClientState for clientID. The sequence
// counter starts at 0, matching a freshly connected peer with nothing
// sent yet.
func NewClientState(clientID uint64) *ClientState {
	return &ClientState{
		ClientID: clientID,
		SpawnAck: make(map[uint64]uint16),
		sent:     NewSeqIndex(int64(clientID) + 1),
	}
}

// RecordAck sets the acknowledged tick for objectID, overwriting any
// previous value whether it was lower or higher.
func (c *ClientState) RecordAck(objectID uint64, tick uint16) {
	c.SpawnAck[objectID] = tick
}

// NextMessageSequence returns the sequence to stamp on the next message
// to this client and advances the counter.
func (c *ClientState) NextMessageSequence() uint64 {
	seq := c.NextSequence
	c.NextSequence++
	return seq
}

// RecordSent remembers that objectID's spawn at tick was transmitted
// under sequence, so a later ack (or ack-window expiry) can resolve it.
func (c *ClientState) RecordSent(sequence uint64, objectID uint64, tick uint16) {
	c.sent.Insert(sequence, SentSpawn{ObjectID: objectID, Tick: tick})
}

// Acknowledge resolves every spawn sent under the wire sequence value
// seq (the truncated u16 the client actually echoed), returning the
// matching AckSentSpawn records for the caller to reconcile against the
// snapshot store's spawn table. It also prunes anything older than the
// ack window relative to the newly confirmed sequence.
func (c *ClientState) Acknowledge(seq uint16) []snapshot.AckSentSpawn {
	full := c.resolveFullSequence(seq)
	if !c.HasAckedAnySequence || full > c.LastAckedSequence {
		c.LastAckedSequence = full
	}
	c.HasAckedAnySequence = true

	matched := c.sent.RemoveSequence(full)
	out := make([]snapshot.AckSentSpawn, 0, len(matched))
	for _, m := range matched {
		out = append(out, snapshot.AckSentSpawn{Sequence: full, ObjectID: m.ObjectID, Tick: m.Tick})
	}

	if full >= AckWindow {
		c.sent.PruneBelow(full - AckWindow)
	}
	return out
}

// resolveFullSequence reconstructs the monotonic sequence a wire-level
// u16 most likely refers to, by picking the largest value congruent to
// seq mod 65536 that does not exceed NextSequence (or seq itself while
// NextSequence is still below 65536). This tolerates sequence wraparound
// without the wire format needing to carry more than two bytes per
// message.
func (c *ClientState) resolveFullSequence(seq uint16) uint64 {
	base := c.NextSequence &^ 0xFFFF
	candidate := base | uint64(seq)
	if candidate > c.NextSequence && candidate >= 0x10000 {
		candidate -= 0x10000
	}
	return candidate
}

// PendingCount returns the number of unacknowledged spawn transmissions
// currently tracked for this client.
func (c *ClientState) PendingCount() int { return c.sent.Len() }
