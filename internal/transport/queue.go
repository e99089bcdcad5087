package transport

import "sync/atomic"

// inboundQueue is a single-producer/single-consumer ring buffer carrying
// raw frames from one connection's read goroutine to the dispatch loop.
// The read goroutine is the sole producer, the dispatch loop the sole
// consumer, so plain atomic loads/stores on head/tail are enough without
// a CAS.
type inboundQueue struct {
	head uint64
	tail uint64
	mask uint64
	data [][]byte
}

func newInboundQueue(capacity int) *inboundQueue {
	cap := 1
	for cap < capacity {
		cap <<= 1
	}
	return &inboundQueue{
		mask: uint64(cap - 1),
		data: make([][]byte, cap),
	}
}

// TryPush is called only from the connection's read goroutine.
func (q *inboundQueue) TryPush(frame []byte) bool {
	head := atomic.LoadUint64(&q.head)
	tail := atomic.LoadUint64(&q.tail)
	if head-tail > q.mask {
		return false
	}
	q.data[head&q.mask] = frame
	atomic.StoreUint64(&q.head, head+1)
	return true
}

// TryPop is called only from the dispatch loop.
func (q *inboundQueue) TryPop() ([]byte, bool) {
	tail := atomic.LoadUint64(&q.tail)
	head := atomic.LoadUint64(&q.head)
	if tail >= head {
		return nil, false
	}
	frame := q.data[tail&q.mask]
	q.data[tail&q.mask] = nil
	atomic.StoreUint64(&q.tail, tail+1)
	return frame, true
}
