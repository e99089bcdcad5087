// Package netstate holds per-client replication state: the sequence
// counter used to number outbound messages, the set of spawns sent but
// not yet acknowledged, and the ack-driven retransmission bookkeeping.
package netstate

import "math/rand"

const (
	maxLevel         = 24
	levelProbability = 0.25
)

// seqEntry is one record awaiting acknowledgement, indexed by the
// sequence number under which it was sent.
type seqEntry struct {
	sequence uint64
	record   SentSpawn
}

type seqNode struct {
	entry seqEntry
	next  []*seqNode
	span  []int
}

// SeqIndex keeps SentSpawn records ordered by sequence number so the ack
// window can be pruned in O(log n) instead of rescanning every
// outstanding record on every tick. Adapted from a leaderboard rank
// structure: here the "score" is the sequence number and rank queries
// become "everything older than the low-water mark of the ack window".
//
// Not safe for concurrent use. The replication system serializes all
// per-client access to a single goroutine.
type SeqIndex struct {
	head   *seqNode
	level  int
	length int
	rng    *rand.Rand
}

// SentSpawn records a spawn command transmitted to a client, kept around
// until the client acknowledges the sequence it went out on or the ack
// window prunes it unacknowledged.
type SentSpawn struct {
	ObjectID uint64
	Tick     uint16
}

// NewSeqIndex returns an empty index. seed should vary per client to
// avoid correlated level heights across a host's many per-client
// indexes; NewClientState derives it from the client ID.
func NewSeqIndex(seed int64) *SeqIndex {
	head := &seqNode{
		next: make([]*seqNode, maxLevel),
		span: make([]int, maxLevel),
	}
	return &SeqIndex{
		head:  head,
		level: 1,
		rng:   rand.New(rand.NewSource(seed)),
	}
}

func (s *SeqIndex) randomLevel() int {
	level := 1
	for level < maxLevel && s.rng.Float64() < levelProbability {
		level++
	}
	return level
}

// Insert records rec as sent under sequence. It walks the levels to find
// the insertion point; a record is placed after every existing record
// with the same or a lower sequence, so records sharing a sequence keep
// their insertion order.
func (s *SeqIndex) Insert(sequence uint64, rec SentSpawn) {
	update := make([]*seqNode, maxLevel)
	rank := make([]int, maxLevel)

	x := s.head
	for i := s.level - 1; i >= 0; i-- {
		if i == s.level-1 {
			rank[i] = 0
		} else {
			rank[i] = rank[i+1]
		}
		for x.next[i] != nil && x.next[i].entry.sequence <= sequence {
			rank[i] += x.span[i]
			x = x.next[i]
		}
		update[i] = x
	}

	newLevel := s.randomLevel()
	if newLevel > s.level {
		for i := s.level; i < newLevel; i++ {
			rank[i] = 0
			update[i] = s.head
			update[i].span[i] = s.length
		}
		s.level = newLevel
	}

	node := &seqNode{
		entry: seqEntry{sequence: sequence, record: rec},
		next:  make([]*seqNode, newLevel),
		span:  make([]int, newLevel),
	}

	for i := 0; i < newLevel; i++ {
		node.next[i] = update[i].next[i]
		update[i].next[i] = node
		node.span[i] = update[i].span[i] - (rank[0] - rank[i])
		update[i].span[i] = (rank[0] - rank[i]) + 1
	}
	for i := newLevel; i < s.level; i++ {
		update[i].span[i]++
	}
	s.length++
}

// PruneBelow removes and returns every record whose sequence is
// strictly less than floor, in ascending sequence order. Used to
// enforce the ack window: once a client's low-water mark advances past
// floor, anything older is assumed lost or superseded and is dropped
// from retransmission bookkeeping without waiting for an explicit ack.
func (s *SeqIndex) PruneBelow(floor uint64) []SentSpawn {
	var removed []SentSpawn
	update := make([]*seqNode, maxLevel)

	x := s.head
	for i := s.level - 1; i >= 0; i-- {
		for x.next[i] != nil && x.next[i].entry.sequence < floor {
			x = x.next[i]
		}
		update[i] = x
	}

	node := x.next[0]
	for node != nil && node.entry.sequence < floor {
		removed = append(removed, node.entry.record)
		next := node.next[0]
		for i := 0; i < s.level; i++ {
			if update[i].next[i] == node {
				update[i].next[i] = node.next[i]
				update[i].span[i] += node.span[i] - 1
			} else {
				update[i].span[i]--
			}
		}
		s.length--
		node = next
	}
	for s.level > 1 && s.head.next[s.level-1] == nil {
		s.level--
	}
	return removed
}

// RemoveSequence removes and returns every record stored under exactly
// sequence (a client may have multiple spawns batched into one tick's
// transmission, all sharing that tick's sequence number).
func (s *SeqIndex) RemoveSequence(sequence uint64) []SentSpawn {
	var removed []SentSpawn
	update := make([]*seqNode, maxLevel)

	x := s.head
	for i := s.level - 1; i >= 0; i-- {
		for x.next[i] != nil && x.next[i].entry.sequence < sequence {
			x = x.next[i]
		}
		update[i] = x
	}

	node := x.next[0]
	for node != nil && node.entry.sequence == sequence {
		removed = append(removed, node.entry.record)
		next := node.next[0]
		for i := 0; i < s.level; i++ {
			if update[i].next[i] == node {
				update[i].next[i] = node.next[i]
				update[i].span[i] += node.span[i] - 1
			} else {
				update[i].span[i]--
			}
		}
		s.length--
		node = next
	}
	for s.level > 1 && s.head.next[s.level-1] == nil {
		s.level--
	}
	return removed
}

// Len returns the number of outstanding records.
func (s *SeqIndex) Len() int { return s.length }
