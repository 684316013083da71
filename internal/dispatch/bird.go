package dispatch

import (
	"context"
	"log"
	"time"

	"github.com/technosupport/falcon/internal/fanout"
	"github.com/technosupport/falcon/internal/metrics"
	"github.com/technosupport/falcon/internal/protocol"
)

// OnBirdLine applies one risk-level update: remember it for pilot inquiries,
// persist the change, and push ME_BR to the controllers.
func (d *Dispatcher) OnBirdLine(s *fanout.Session, line []byte) {
	event, err := protocol.DecodeBirdEvent(line)
	if err != nil {
		log.Printf("[WARNING] Dispatch: bird %s: %v", s.RemoteAddr(), err)
		return
	}

	d.birdMu.Lock()
	prev := d.birdLevel
	changed := prev != event.Level
	d.birdLevel = event.Level
	d.birdMu.Unlock()
	if !changed {
		return
	}

	now := time.Now()
	log.Printf("[INFO] Dispatch: bird risk changed to %s", event.Level.Code())

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), d.dbTimeout)
		defer cancel()
		if err := d.models.BirdRisks.Insert(ctx, prev, event.Level, now); err != nil {
			metrics.RepositoryErrorsTotal.WithLabelValues("insert_bird_risk").Inc()
			log.Printf("[ERROR] Dispatch: persist bird risk: %v", err)
		}
	}()

	d.controller.Broadcast(protocol.EncodeBirdRisk(event.Level))
	for _, sink := range d.sinks {
		sink.BirdRisk(event.Level, now)
	}
}
