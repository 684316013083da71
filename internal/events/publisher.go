package events

import (
	"encoding/json"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/technosupport/falcon/internal/data"
	"github.com/technosupport/falcon/internal/protocol"
)

// Publisher mirrors pipeline events onto a NATS subject so off-box consumers
// (recorders, analytics) get the same stream the controllers do, without a
// TCP session against the server. Implements pipeline.Sink; NATS publishes
// are fire-and-forget.
type Publisher struct {
	nc      *nats.Conn
	subject string
}

func New(url, subject string) (*Publisher, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Printf("[WARNING] Events: NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[INFO] Events: NATS reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, err
	}
	return &Publisher{nc: nc, subject: subject}, nil
}

func (p *Publisher) Close() {
	p.nc.Drain()
}

type envelope struct {
	Kind      string    `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

func (p *Publisher) publish(kind string, ts time.Time, payload any) {
	msg, err := json.Marshal(envelope{Kind: kind, Timestamp: ts.UTC(), Payload: payload})
	if err != nil {
		return
	}
	if err := p.nc.Publish(p.subject, msg); err != nil {
		log.Printf("[WARNING] Events: publish %s: %v", kind, err)
	}
}

// DetectionEvents mirrors one tick's detections.
func (p *Publisher) DetectionEvents(events []protocol.ObjectEvent, ts time.Time) {
	p.publish("detections", ts, events)
}

// FirstDetection mirrors a persisted first detection, image path only.
func (p *Publisher) FirstDetection(e data.DetectEvent) {
	p.publish("first_detection", e.DetectedAt, map[string]any{
		"object_id":  e.ObjectID,
		"event_type": int(e.EventType),
		"class":      string(e.Class),
		"map_x":      e.MapX,
		"map_y":      e.MapY,
		"area":       e.AreaName,
		"image_path": e.ImagePath,
	})
}

// BirdRisk mirrors a risk-level change.
func (p *Publisher) BirdRisk(level protocol.BirdRisk, ts time.Time) {
	p.publish("bird_risk", ts, map[string]any{"level": int(level), "code": level.Code()})
}

// ZoneStatus mirrors a zone transition.
func (p *Publisher) ZoneStatus(zone string, hazard bool) {
	state := "NORMAL"
	if hazard {
		state = "HAZARD"
	}
	p.publish("zone_status", time.Now(), map[string]string{"zone": zone, "state": state})
}
