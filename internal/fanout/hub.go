package fanout

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"net"
	"sync"

	"github.com/technosupport/falcon/internal/metrics"
)

// Hub accepts TCP clients on one protocol channel and fans messages out to
// them. Inbound traffic is line-oriented on every channel; the line handler
// runs on the session's read goroutine.
type Hub struct {
	name       string
	queueDepth int
	maxLine    int

	onConnect    func(*Session)
	onLine       func(*Session, []byte)
	onDisconnect func(*Session)

	mu       sync.RWMutex
	sessions map[*Session]struct{}
}

type Config struct {
	Name       string // metric and log label
	QueueDepth int    // per-session outbound queue, default 256
	MaxLine    int    // scanner limit, default 64 KiB

	OnConnect    func(*Session)
	OnLine       func(*Session, []byte)
	OnDisconnect func(*Session)
}

func NewHub(cfg Config) *Hub {
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 256
	}
	if cfg.MaxLine <= 0 {
		cfg.MaxLine = 64 * 1024
	}
	return &Hub{
		name:         cfg.Name,
		queueDepth:   cfg.QueueDepth,
		maxLine:      cfg.MaxLine,
		onConnect:    cfg.OnConnect,
		onLine:       cfg.OnLine,
		onDisconnect: cfg.OnDisconnect,
		sessions:     make(map[*Session]struct{}),
	}
}

// Serve accepts clients until ctx is cancelled.
func (h *Hub) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	log.Printf("[INFO] Fanout[%s]: listening on %s", h.name, ln.Addr())
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				h.closeAll()
				return ctx.Err()
			}
			return fmt.Errorf("fanout %s accept: %w", h.name, err)
		}
		go h.handle(conn)
	}
}

func (h *Hub) handle(conn net.Conn) {
	s := newSession(h, conn)

	h.mu.Lock()
	h.sessions[s] = struct{}{}
	n := len(h.sessions)
	h.mu.Unlock()
	metrics.ConnectedSessions.WithLabelValues(h.name).Set(float64(n))
	log.Printf("[INFO] Fanout[%s]: %s connected (%d total)", h.name, s.RemoteAddr(), n)

	go s.writeLoop()
	if h.onConnect != nil {
		h.onConnect(s)
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 4096), h.maxLine)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if h.onLine != nil {
			// Copy: the scanner reuses its buffer across lines.
			h.onLine(s, append([]byte(nil), line...))
		}
	}

	s.Close()
	h.mu.Lock()
	delete(h.sessions, s)
	n = len(h.sessions)
	h.mu.Unlock()
	metrics.ConnectedSessions.WithLabelValues(h.name).Set(float64(n))
	log.Printf("[INFO] Fanout[%s]: %s disconnected (%d total)", h.name, s.RemoteAddr(), n)

	if h.onDisconnect != nil {
		h.onDisconnect(s)
	}
}

// Broadcast queues a message on every session.
func (h *Hub) Broadcast(msg []byte) {
	for _, s := range h.snapshot() {
		s.Send(msg)
	}
}

// Each visits every connected session.
func (h *Hub) Each(fn func(*Session)) {
	for _, s := range h.snapshot() {
		fn(s)
	}
}

// Count returns the number of connected sessions.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

func (h *Hub) snapshot() []*Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Session, 0, len(h.sessions))
	for s := range h.sessions {
		out = append(out, s)
	}
	return out
}

func (h *Hub) closeAll() {
	for _, s := range h.snapshot() {
		s.Close()
	}
}
