package dispatch

import (
	"context"
	"log"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/technosupport/falcon/internal/access"
	"github.com/technosupport/falcon/internal/data"
	"github.com/technosupport/falcon/internal/fanout"
	"github.com/technosupport/falcon/internal/metrics"
	"github.com/technosupport/falcon/internal/pipeline"
	"github.com/technosupport/falcon/internal/protocol"
	"github.com/technosupport/falcon/internal/relay"
	"github.com/technosupport/falcon/internal/transform"
	"github.com/technosupport/falcon/internal/zones"
)

// Worker states, exported through the inference state gauge.
const (
	stateDisconnected = 0
	stateCalibrating  = 1
	stateAwaitingAck  = 2
	stateOperating    = 3
)

const detailCacheSize = 128

// Dispatcher owns the protocol conversations: controller commands, pilot
// queries, the inference worker lifecycle, and bird-risk updates. It glues the
// fan-out hubs to the pipeline and the repositories.
type Dispatcher struct {
	cameras        []string
	commandTimeout time.Duration
	dbTimeout      time.Duration

	controller *fanout.Hub
	pilot      *fanout.Hub

	videoRelay  *relay.Relay
	zoneMgr     *zones.Manager
	accessCache *access.Cache
	transformer *transform.Transformer
	models      data.Models
	images      *data.ImageStore
	pipe        *pipeline.Pipeline
	sinks       []pipeline.Sink

	detailCache *lru.Cache[int64, []byte]

	birdMu    sync.RWMutex
	birdLevel protocol.BirdRisk // zero until the first update or DB seed

	workerMu   sync.Mutex
	worker     *fanout.Session
	state      int
	calibrated map[string]bool
	ackTimer   *time.Timer
}

type Config struct {
	Cameras        []string
	CommandTimeout time.Duration
	DBTimeout      time.Duration
}

func New(cfg Config, videoRelay *relay.Relay, zoneMgr *zones.Manager,
	accessCache *access.Cache, transformer *transform.Transformer,
	models data.Models, images *data.ImageStore, pipe *pipeline.Pipeline,
	sinks ...pipeline.Sink) *Dispatcher {

	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 5 * time.Second
	}
	if cfg.DBTimeout <= 0 {
		cfg.DBTimeout = 2 * time.Second
	}
	cache, _ := lru.New[int64, []byte](detailCacheSize)

	d := &Dispatcher{
		cameras:        cfg.Cameras,
		commandTimeout: cfg.CommandTimeout,
		dbTimeout:      cfg.DBTimeout,
		videoRelay:     videoRelay,
		zoneMgr:        zoneMgr,
		accessCache:    accessCache,
		transformer:    transformer,
		models:         models,
		images:         images,
		pipe:           pipe,
		sinks:          sinks,
		detailCache:    cache,
		calibrated:     make(map[string]bool),
	}
	d.seedBirdRisk()
	return d
}

// SetHubs attaches the fan-out hubs. Called once during wiring, before any
// listener starts.
func (d *Dispatcher) SetHubs(controller, pilot *fanout.Hub) {
	d.controller = controller
	d.pilot = pilot
}

// OnZoneTransition broadcasts runway status changes. Wired as the zone
// manager's transition callback, so it runs before the triggering detection's
// events reach the controllers.
func (d *Dispatcher) OnZoneTransition(zoneID int, zoneName string, hazard bool) {
	if msg, ok := protocol.EncodeZoneStatus(zoneName, hazard); ok {
		d.controller.Broadcast(msg)
	}
	for _, s := range d.sinks {
		s.ZoneStatus(zoneName, hazard)
	}
}

// seedBirdRisk restores the last persisted level so BR_INQ works right after
// a restart.
func (d *Dispatcher) seedBirdRisk() {
	ctx, cancel := context.WithTimeout(context.Background(), d.dbTimeout)
	defer cancel()
	rec, err := d.models.BirdRisks.Latest(ctx)
	if err == data.ErrRecordNotFound {
		return
	}
	if err != nil {
		log.Printf("[WARNING] Dispatch: seed bird risk: %v", err)
		return
	}
	d.birdMu.Lock()
	d.birdLevel = rec.Level
	d.birdMu.Unlock()
	log.Printf("[INFO] Dispatch: bird risk restored to %s", rec.Level.Code())
}

func (d *Dispatcher) currentBirdRisk() protocol.BirdRisk {
	d.birdMu.RLock()
	defer d.birdMu.RUnlock()
	if d.birdLevel == 0 {
		return protocol.BirdRiskLow
	}
	return d.birdLevel
}

// logInteraction records one exchange asynchronously; audit writes never sit
// on a protocol goroutine.
func (d *Dispatcher) logInteraction(channel, remote, direction, message string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), d.dbTimeout)
		defer cancel()
		if err := d.models.Interactions.Log(ctx, channel, remote, direction, message); err != nil {
			metrics.RepositoryErrorsTotal.WithLabelValues("log_interaction").Inc()
		}
	}()
}
