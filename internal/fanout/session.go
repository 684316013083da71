package fanout

import (
	"log"
	"net"
	"sync"
	"time"

	"github.com/technosupport/falcon/internal/metrics"
)

// Session is one connected TCP client. Writes go through a buffered queue
// drained by a dedicated goroutine so one slow client never blocks the
// broadcaster. A full queue closes the session: a control client that cannot
// keep up is disconnected rather than given stale events.
type Session struct {
	hub  *Hub
	conn net.Conn

	out  chan []byte
	done chan struct{}
	once sync.Once
}

func newSession(h *Hub, conn net.Conn) *Session {
	return &Session{
		hub:  h,
		conn: conn,
		out:  make(chan []byte, h.queueDepth),
		done: make(chan struct{}),
	}
}

// RemoteAddr returns the peer address.
func (s *Session) RemoteAddr() string {
	return s.conn.RemoteAddr().String()
}

// Send queues a message. Returns false when the session is closing or its
// queue overflowed, in which case the session is torn down.
func (s *Session) Send(msg []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.out <- msg:
		metrics.FanoutMessagesTotal.WithLabelValues(s.hub.name, "queued").Inc()
		return true
	default:
		metrics.FanoutDropsTotal.WithLabelValues(s.hub.name).Inc()
		log.Printf("[WARNING] Fanout[%s]: %s queue overflow, closing session", s.hub.name, s.RemoteAddr())
		s.Close()
		return false
	}
}

// Close shuts the session down once. Safe from any goroutine.
func (s *Session) Close() {
	s.once.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

func (s *Session) writeLoop() {
	for {
		select {
		case <-s.done:
			return
		case msg := <-s.out:
			s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if _, err := s.conn.Write(msg); err != nil {
				log.Printf("[WARNING] Fanout[%s]: write to %s: %v", s.hub.name, s.RemoteAddr(), err)
				s.Close()
				return
			}
			metrics.FanoutMessagesTotal.WithLabelValues(s.hub.name, "sent").Inc()
		}
	}
}
