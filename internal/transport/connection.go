package transport

import (
	"io"
	"sync"

	"github.com/gorilla/websocket"
)

// connection tracks one peer's socket alongside the inbound queue its read
// goroutine feeds and the write mutex guarding gorilla's one-writer-at-a-time
// requirement.
type connection struct {
	clientID uint64
	ip       string
	conn     *websocket.Conn

	writeMu sync.Mutex
	inbound *inboundQueue
}

func newConnection(clientID uint64, ip string, conn *websocket.Conn, inboundCapacity int) *connection {
	return &connection{
		clientID: clientID,
		ip:       ip,
		conn:     conn,
		inbound:  newInboundQueue(inboundCapacity),
	}
}

// lockedWriter wraps the io.WriteCloser gorilla hands back from NextWriter
// so the connection's write lock, taken for the duration of the message,
// is released exactly once on Close regardless of how the caller exits.
type lockedWriter struct {
	c      *connection
	inner  io.WriteCloser
	closed bool
}

func (w *lockedWriter) Write(p []byte) (int, error) {
	return w.inner.Write(p)
}

func (w *lockedWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	err := w.inner.Close()
	w.c.writeMu.Unlock()
	return err
}
