// Package ws adapts gorilla websocket connections to the hub: one session
// per connection, with a bounded outbound queue so a stalled client never
// blocks fan-out to anyone else.
package ws

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// writeWait bounds a single websocket write.
	writeWait = 10 * time.Second

	// maxMessageSize bounds inbound payloads.
	maxMessageSize = 4096
)

// conn is the subset of *websocket.Conn the session writes through.
type conn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

type outbound struct {
	payload  []byte
	critical bool
}

// Session is the outbound half of one connection. Send queues without
// blocking; a dedicated writer goroutine drains the queue. When the queue
// is full the oldest non-critical entry is evicted first. Critical
// payloads (init, join, leave, health changes) are always queued.
type Session struct {
	conn conn

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []outbound
	limit  int
	closed bool

	closeOnce sync.Once
	dropped   atomic.Uint64
}

// NewSession wraps a connection with a queue of the given size (<= 0
// selects 128) and starts the writer.
func NewSession(c conn, queueSize int) *Session {
	if queueSize <= 0 {
		queueSize = 128
	}
	s := &Session{conn: c, limit: queueSize}
	s.cond = sync.NewCond(&s.mu)
	go s.writeLoop()
	return s
}

// Send queues a payload. Returns false when the payload was dropped, which
// only happens for non-critical traffic on a saturated queue.
func (s *Session) Send(payload []byte, critical bool) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	if len(s.queue) >= s.limit {
		if !s.evictOldestDroppable() {
			// Every queued entry is critical. Critical payloads still
			// get through; droppable ones are shed.
			if !critical {
				s.mu.Unlock()
				s.dropped.Add(1)
				return false
			}
		}
	}
	s.queue = append(s.queue, outbound{payload: payload, critical: critical})
	s.cond.Signal()
	s.mu.Unlock()
	return true
}

// evictOldestDroppable removes the first non-critical queued entry.
// Callers must hold mu.
func (s *Session) evictOldestDroppable() bool {
	for i := range s.queue {
		if !s.queue[i].critical {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			s.dropped.Add(1)
			return true
		}
	}
	return false
}

// Dropped reports how many payloads were shed from the queue.
func (s *Session) Dropped() uint64 { return s.dropped.Load() }

// QueueLen reports the current backlog.
func (s *Session) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Close stops the writer and closes the underlying connection. Queued
// payloads that have not been written yet are discarded. Safe to call
// multiple times and concurrently with Send.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.queue = nil
		s.cond.Broadcast()
		s.mu.Unlock()
		s.conn.Close()
	})
}

func (s *Session) writeLoop() {
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			s.mu.Unlock()
			return
		}
		next := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := s.conn.WriteMessage(websocket.TextMessage, next.payload); err != nil {
			s.Close()
			return
		}
	}
}
