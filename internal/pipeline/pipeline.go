package pipeline

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/technosupport/falcon/internal/access"
	"github.com/technosupport/falcon/internal/data"
	"github.com/technosupport/falcon/internal/detbuf"
	"github.com/technosupport/falcon/internal/fanout"
	"github.com/technosupport/falcon/internal/framebus"
	"github.com/technosupport/falcon/internal/imaging"
	"github.com/technosupport/falcon/internal/metrics"
	"github.com/technosupport/falcon/internal/protocol"
	"github.com/technosupport/falcon/internal/transform"
	"github.com/technosupport/falcon/internal/zones"
)

// Sink receives processed events for secondary consumers (event mirror, live
// cache, dashboard). Implementations must not block.
type Sink interface {
	DetectionEvents(events []protocol.ObjectEvent, ts time.Time)
	FirstDetection(e data.DetectEvent)
	BirdRisk(level protocol.BirdRisk, ts time.Time)
	ZoneStatus(zone string, hazard bool)
}

// Pipeline turns inference results into controller events. One worker drains
// a bounded queue; producers never block on a slow database.
type Pipeline struct {
	queue chan protocol.ObjectDetected

	frames      *framebus.Bus
	detections  *detbuf.Buffer
	transformer *transform.Transformer
	accessCache *access.Cache
	zoneMgr     *zones.Manager
	models      data.Models
	images      *data.ImageStore
	controller  *fanout.Hub
	sinks       []Sink

	alerted   *alertedSet
	dbTimeout time.Duration
	frameW    float64
	frameH    float64
}

type Config struct {
	QueueDepth  int     // default 1024
	DBTimeout   time.Duration
	FrameWidth  float64 // camera frame px, identity-fallback divisor
	FrameHeight float64
}

func New(cfg Config, frames *framebus.Bus, detections *detbuf.Buffer,
	transformer *transform.Transformer, accessCache *access.Cache,
	zoneMgr *zones.Manager, models data.Models, images *data.ImageStore,
	controller *fanout.Hub, sinks ...Sink) (*Pipeline, error) {

	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 1024
	}
	if cfg.DBTimeout <= 0 {
		cfg.DBTimeout = 2 * time.Second
	}
	if cfg.FrameWidth <= 0 {
		cfg.FrameWidth = 960
	}
	if cfg.FrameHeight <= 0 {
		cfg.FrameHeight = 720
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DBTimeout)
	defer cancel()
	seed, err := models.DetectEvents.MaxObjectID(ctx)
	if err != nil {
		return nil, fmt.Errorf("seed alerted set: %w", err)
	}
	log.Printf("[INFO] Pipeline: alerted set seeded at object id %d", seed)

	return &Pipeline{
		queue:       make(chan protocol.ObjectDetected, cfg.QueueDepth),
		frames:      frames,
		detections:  detections,
		transformer: transformer,
		accessCache: accessCache,
		zoneMgr:     zoneMgr,
		models:      models,
		images:      images,
		controller:  controller,
		sinks:       sinks,
		alerted:     newAlertedSet(seed),
		dbTimeout:   cfg.DBTimeout,
		frameW:      cfg.FrameWidth,
		frameH:      cfg.FrameHeight,
	}, nil
}

// Submit queues one inference result. Never blocks: when the queue is full
// the result is dropped and counted, keeping the worker socket drained.
func (p *Pipeline) Submit(msg protocol.ObjectDetected) {
	select {
	case p.queue <- msg:
	default:
		metrics.DetectionsFilteredTotal.WithLabelValues("queue_full").Inc()
	}
}

// Run processes queued results until ctx is cancelled, then drains what is
// already queued.
func (p *Pipeline) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case msg := <-p.queue:
					p.process(msg)
				default:
					return
				}
			}
		case msg := <-p.queue:
			p.process(msg)
		}
	}
}

func (p *Pipeline) process(msg protocol.ObjectDetected) {
	now := time.Now()
	p.detections.Put(msg.CameraID, msg.ImgID, msg.Detections)

	var events []protocol.ObjectEvent
	type firstDet struct {
		event protocol.ObjectEvent
		det   protocol.Detection
	}
	var firsts []firstDet

	for _, d := range msg.Detections {
		if d.Class.IsAircraft() {
			metrics.DetectionsFilteredTotal.WithLabelValues("aircraft").Inc()
			continue
		}

		cx, cy := d.Centroid()
		pt := p.transformer.Apply(msg.CameraID, cx, cy, p.frameW, p.frameH)
		verdict := access.Classify(d, pt.AreaID, p.accessCache.Level(pt.AreaID))
		if verdict.Drop {
			metrics.DetectionsFilteredTotal.WithLabelValues("allowed").Inc()
			continue
		}

		// The zone transition fires synchronously here, so a runway status
		// message always precedes the detection events that caused it.
		p.zoneMgr.Mark(pt.AreaID, now)

		ev := protocol.ObjectEvent{
			EventType:   verdict.EventType,
			ObjectID:    d.ObjectID,
			Class:       d.Class,
			MapX:        int(pt.MapX),
			MapY:        int(pt.MapY),
			AreaName:    p.transformer.AreaName(pt.AreaID),
			RescueLevel: verdict.RescueLevel,
			HasRescue:   verdict.HasRescue,
		}
		events = append(events, ev)
		metrics.DetectionsProcessedTotal.WithLabelValues(fmt.Sprint(int(verdict.EventType))).Inc()

		if p.alerted.firstSeen(d.ObjectID) {
			firsts = append(firsts, firstDet{event: ev, det: d})
		}
	}

	if len(events) == 0 {
		return
	}
	p.controller.Broadcast(protocol.EncodeObjectEvents(events))
	for _, s := range p.sinks {
		s.DetectionEvents(events, now)
	}

	for _, f := range firsts {
		p.firstDetection(msg, f.event, f.det, now)
	}
}

// firstDetection crops the object from the triggering frame, persists the
// record, and only then announces ME_FD. Persistence failures suppress the
// announcement so clients never see an event that cannot be queried later.
func (p *Pipeline) firstDetection(msg protocol.ObjectDetected, ev protocol.ObjectEvent, d protocol.Detection, now time.Time) {
	var crop []byte
	frame, ok := p.frames.Get(msg.CameraID, msg.ImgID)
	if !ok {
		frame, ok = p.frames.Latest(msg.CameraID)
	}
	if ok {
		var err error
		crop, err = imaging.CropDetection(frame.JPEG, d.BBox)
		if err != nil {
			log.Printf("[WARNING] Pipeline: crop object %d: %v", d.ObjectID, err)
			crop = nil
		}
	}

	var imagePath string
	if len(crop) > 0 {
		path, err := p.images.Save(d.ObjectID, now, crop)
		if err != nil {
			log.Printf("[ERROR] Pipeline: save image for object %d: %v", d.ObjectID, err)
		} else {
			imagePath = path
		}
	}

	record := data.DetectEvent{
		ObjectID:    ev.ObjectID,
		EventType:   ev.EventType,
		Class:       ev.Class,
		MapX:        ev.MapX,
		MapY:        ev.MapY,
		AreaID:      p.areaID(ev.AreaName),
		AreaName:    ev.AreaName,
		RescueLevel: ev.RescueLevel,
		ImagePath:   imagePath,
		DetectedAt:  now,
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.dbTimeout)
	defer cancel()
	inserted, err := p.models.DetectEvents.Insert(ctx, record)
	if err != nil {
		metrics.RepositoryErrorsTotal.WithLabelValues("insert_detect_event").Inc()
		log.Printf("[ERROR] Pipeline: persist object %d: %v", ev.ObjectID, err)
		return
	}
	if !inserted {
		// Recorded by a previous run; nothing new to announce.
		return
	}
	metrics.FirstDetectionsTotal.Inc()
	if len(crop) == 0 {
		// Record kept with an empty path; an image-less ME_FD is worse than
		// none, the controller still sees the object through ME_OD.
		return
	}

	p.controller.Broadcast(protocol.EncodeFirstDetection(ev, now, crop))
	for _, s := range p.sinks {
		s.FirstDetection(record)
	}
}

func (p *Pipeline) areaID(name string) int {
	for _, a := range p.transformer.Areas() {
		if a.Name == name {
			return a.ID
		}
	}
	return 0
}
