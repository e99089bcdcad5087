package netstate

import "testing"

func TestNextMessageSequenceMonotonic(t *testing.T) {
	c := NewClientState(1)
	if c.NextMessageSequence() != 0 {
		t.Fatal("expected first sequence to be 0")
	}
	if c.NextMessageSequence() != 1 {
		t.Fatal("expected second sequence to be 1")
	}
}

func TestAcknowledgeResolvesSentSpawns(t *testing.T) {
	c := NewClientState(1)
	seq := c.NextMessageSequence()
	c.RecordSent(seq, 42, 5)
	c.RecordSent(seq, 43, 5)

	acked := c.Acknowledge(uint16(seq))
	if len(acked) != 2 {
		t.Fatalf("expected 2 acked spawns, got %d", len(acked))
	}
	if c.PendingCount() != 0 {
		t.Fatalf("expected no pending spawns left, got %d", c.PendingCount())
	}
}

func TestAcknowledgeDoesNotTouchOtherSequences(t *testing.T) {
	c := NewClientState(1)
	s1 := c.NextMessageSequence()
	c.RecordSent(s1, 1, 1)
	s2 := c.NextMessageSequence()
	c.RecordSent(s2, 2, 2)

	c.Acknowledge(uint16(s1))
	if c.PendingCount() != 1 {
		t.Fatalf("expected 1 pending spawn remaining, got %d", c.PendingCount())
	}
}

func TestAckWindowPrunesStaleEntries(t *testing.T) {
	c := NewClientState(1)
	for i := 0; i < AckWindow*2; i++ {
		seq := c.NextMessageSequence()
		c.RecordSent(seq, uint64(i), uint16(i))
	}
	c.Acknowledge(uint16(c.NextSequence - 1))
	if c.PendingCount() > AckWindow {
		t.Fatalf("expected ack window to bound pending count, got %d", c.PendingCount())
	}
}

func TestSeqIndexPruneBelowOrdersRemoval(t *testing.T) {
	idx := NewSeqIndex(7)
	for i := uint64(0); i < 10; i++ {
		idx.Insert(i, SentSpawn{ObjectID: i})
	}
	removed := idx.PruneBelow(5)
	if len(removed) != 5 {
		t.Fatalf("expected 5 removed, got %d", len(removed))
	}
	for i, rec := range removed {
		if rec.ObjectID != uint64(i) {
			t.Fatalf("expected removal %d to be object %d, got %d", i, i, rec.ObjectID)
		}
	}
	if idx.Len() != 5 {
		t.Fatalf("expected 5 remaining, got %d", idx.Len())
	}
}

func TestSeqIndexRemoveSequenceBatch(t *testing.T) {
	idx := NewSeqIndex(3)
	idx.Insert(1, SentSpawn{ObjectID: 1})
	idx.Insert(1, SentSpawn{ObjectID: 2})
	idx.Insert(2, SentSpawn{ObjectID: 3})

	removed := idx.RemoveSequence(1)
	if len(removed) != 2 {
		t.Fatalf("expected 2 records for sequence 1, got %d", len(removed))
	}
	if idx.Len() != 1 {
		t.Fatalf("expected 1 remaining, got %d", idx.Len())
	}
}
