package ws

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/technosupport/falcon/internal/data"
	"github.com/technosupport/falcon/internal/protocol"
)

const clientQueueDepth = 64

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The admin surface sits on an operations network; origin filtering is
	// left to the reverse proxy.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Hub pushes pipeline events to dashboard websockets. Implements
// pipeline.Sink; slow clients are dropped, mirroring the TCP fan-out policy.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*client]struct{})}
}

// ServeHTTP upgrades the request and streams events until the peer leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WARNING] WS: upgrade %s: %v", r.RemoteAddr, err)
		return
	}
	c := &client{conn: conn, send: make(chan []byte, clientQueueDepth)}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	log.Printf("[INFO] WS: %s connected (%d total)", r.RemoteAddr, n)

	go c.writeLoop()

	// Drain control frames; inbound data is ignored.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.drop(c)
	log.Printf("[INFO] WS: %s disconnected", r.RemoteAddr)
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	c.conn.Close()
}

func (c *client) writeLoop() {
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
}

func (h *Hub) broadcast(kind string, payload any) {
	msg, err := json.Marshal(map[string]any{"kind": kind, "payload": payload})
	if err != nil {
		return
	}

	h.mu.Lock()
	var stale []*client
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			stale = append(stale, c)
		}
	}
	h.mu.Unlock()

	for _, c := range stale {
		h.drop(c)
	}
}

// DetectionEvents streams one tick's detections.
func (h *Hub) DetectionEvents(events []protocol.ObjectEvent, ts time.Time) {
	h.broadcast("detections", map[string]any{"timestamp": ts.UTC(), "events": events})
}

// FirstDetection streams a persisted first detection.
func (h *Hub) FirstDetection(e data.DetectEvent) {
	h.broadcast("first_detection", map[string]any{
		"object_id": e.ObjectID,
		"class":     string(e.Class),
		"area":      e.AreaName,
		"timestamp": e.DetectedAt.UTC(),
	})
}

// BirdRisk streams a risk-level change.
func (h *Hub) BirdRisk(level protocol.BirdRisk, ts time.Time) {
	h.broadcast("bird_risk", map[string]any{"level": int(level), "code": level.Code()})
}

// ZoneStatus streams a zone transition.
func (h *Hub) ZoneStatus(zone string, hazard bool) {
	state := "NORMAL"
	if hazard {
		state = "HAZARD"
	}
	h.broadcast("zone_status", map[string]string{"zone": zone, "state": state})
}
