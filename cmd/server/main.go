package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/technosupport/falcon/internal/access"
	"github.com/technosupport/falcon/internal/api"
	"github.com/technosupport/falcon/internal/config"
	"github.com/technosupport/falcon/internal/data"
	"github.com/technosupport/falcon/internal/detbuf"
	"github.com/technosupport/falcon/internal/dispatch"
	"github.com/technosupport/falcon/internal/events"
	"github.com/technosupport/falcon/internal/fanout"
	"github.com/technosupport/falcon/internal/framebus"
	"github.com/technosupport/falcon/internal/live"
	"github.com/technosupport/falcon/internal/pipeline"
	"github.com/technosupport/falcon/internal/protocol"
	"github.com/technosupport/falcon/internal/relay"
	"github.com/technosupport/falcon/internal/transform"
	"github.com/technosupport/falcon/internal/ws"
	"github.com/technosupport/falcon/internal/zones"
)

func main() {
	configPath := flag.String("config", "config/default.yaml", "Path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil && err != context.Canceled {
		log.Fatalf("[FATAL] Server: %v", err)
	}
	log.Printf("[INFO] Server: shutdown complete")
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log.Printf("[INFO] Server: starting (video in :%d, control :%d, inference :%d, bird :%d, pilot :%d)",
		cfg.Network.UDPVideoInPort, cfg.Network.TCPControlPort,
		cfg.Network.TCPInferencePort, cfg.Network.TCPBirdPort, cfg.Network.TCPPilotPort)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Storage.
	db, err := data.Open(cfg.DSN())
	if err != nil {
		return err
	}
	defer db.Close()
	models := data.NewModels(db)

	images, err := data.NewImageStore(cfg.ImageDir)
	if err != nil {
		return err
	}

	// Static area table and stored access conditions.
	startCtx, cancel := context.WithTimeout(ctx, cfg.Tuning.DBTimeout)
	areaRows, err := models.Areas.GetAll(startCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("load areas: %w", err)
	}
	if len(areaRows) != protocol.ZoneCount {
		return fmt.Errorf("expected %d areas, got %d (run the migrator)", protocol.ZoneCount, len(areaRows))
	}
	areas := make([]transform.Area, len(areaRows))
	var zoneNames [protocol.ZoneCount]string
	for i, a := range areaRows {
		areas[i] = transform.Area{ID: a.ID, Name: a.Name, X1: a.X1, Y1: a.Y1, X2: a.X2, Y2: a.Y2}
		zoneNames[i] = a.Name
	}

	transformer := transform.New(transform.Config{
		MapWidth:   float64(cfg.Map.Width),
		MapHeight:  float64(cfg.Map.Height),
		RealWidth:  cfg.Map.RealWidth,
		RealHeight: cfg.Map.RealHeight,
	}, areas)

	accessCache := access.NewCache()
	startCtx, cancel = context.WithTimeout(ctx, cfg.Tuning.DBTimeout)
	conds, err := models.Access.GetAll(startCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("load access conditions: %w", err)
	}
	var levels [protocol.ZoneCount]protocol.AuthorityLevel
	for i := range levels {
		levels[i] = protocol.AuthorityAuthOnly
	}
	for _, c := range conds {
		if c.AreaID >= 1 && c.AreaID <= protocol.ZoneCount {
			levels[c.AreaID-1] = c.Authority
		}
	}
	accessCache.Replace(levels)

	// Frame and detection buffers.
	frames := framebus.New(framebus.Config{
		BufferSize: cfg.Tuning.FrameBufferSize,
		AgeCap:     cfg.Tuning.FrameAgeCap,
		ReadBuffer: cfg.Network.UDPBufferSize,
	})
	detections := detbuf.New(cfg.Tuning.DetectionWindow)

	// Zone state machines. The transition callback reaches the dispatcher,
	// which is built afterwards; the indirection breaks the construction cycle.
	var dispatcher *dispatch.Dispatcher
	zoneMgr := zones.NewManager(zones.Config{ClearAfter: cfg.Tuning.HazardClear}, zoneNames,
		func(zoneID int, zoneName string, hazard bool) {
			if dispatcher != nil {
				dispatcher.OnZoneTransition(zoneID, zoneName, hazard)
			}
		})

	// Secondary sinks.
	var sinks []pipeline.Sink
	wsHub := ws.NewHub()
	sinks = append(sinks, wsHub)

	var liveCache *live.Cache
	if cfg.Redis.Addr != "" {
		liveCache, err = live.New(cfg.Redis.Addr)
		if err != nil {
			log.Printf("[WARNING] Server: live cache disabled: %v", err)
		} else {
			defer liveCache.Close()
			sinks = append(sinks, liveCache)
			log.Printf("[INFO] Server: live cache at %s", cfg.Redis.Addr)
		}
	}
	if cfg.NATS.URL != "" {
		publisher, err := events.New(cfg.NATS.URL, cfg.NATS.Subject)
		if err != nil {
			log.Printf("[WARNING] Server: event mirror disabled: %v", err)
		} else {
			defer publisher.Close()
			sinks = append(sinks, publisher)
			log.Printf("[INFO] Server: event mirror on %s", cfg.NATS.Subject)
		}
	}

	// Video relay.
	videoRelay, err := relay.New(relay.Config{
		ClientPort: cfg.Network.UDPVideoOutPort,
		QueueDepth: cfg.Tuning.RelayQueueDepth,
	})
	if err != nil {
		return err
	}

	// Fan-out hubs. Handlers close over the dispatcher pointer set below; no
	// listener starts before the dispatcher exists.
	controllerHub := fanout.NewHub(fanout.Config{
		Name:         "control",
		QueueDepth:   cfg.Tuning.SessionQueueDepth,
		MaxLine:      cfg.Network.TCPBufferSize,
		OnLine:       func(s *fanout.Session, l []byte) { dispatcher.OnControllerLine(s, l) },
		OnDisconnect: func(s *fanout.Session) { dispatcher.OnControllerDisconnect(s) },
	})
	pilotHub := fanout.NewHub(fanout.Config{
		Name:       "pilot",
		QueueDepth: cfg.Tuning.SessionQueueDepth,
		OnLine:     func(s *fanout.Session, l []byte) { dispatcher.OnPilotLine(s, l) },
	})
	inferenceHub := fanout.NewHub(fanout.Config{
		Name:         "inference",
		QueueDepth:   cfg.Tuning.SessionQueueDepth,
		MaxLine:      cfg.Network.TCPBufferSize,
		OnConnect:    func(s *fanout.Session) { dispatcher.OnInferenceConnect(s) },
		OnLine:       func(s *fanout.Session, l []byte) { dispatcher.OnInferenceLine(s, l) },
		OnDisconnect: func(s *fanout.Session) { dispatcher.OnInferenceDisconnect(s) },
	})
	birdHub := fanout.NewHub(fanout.Config{
		Name:   "bird",
		OnLine: func(s *fanout.Session, l []byte) { dispatcher.OnBirdLine(s, l) },
	})

	// Detection pipeline.
	pipe, err := pipeline.New(pipeline.Config{
		QueueDepth:  cfg.Tuning.PipelineQueueDepth,
		DBTimeout:   cfg.Tuning.DBTimeout,
		FrameWidth:  float64(cfg.Map.FrameWidth),
		FrameHeight: float64(cfg.Map.FrameHeight),
	}, frames, detections, transformer, accessCache, zoneMgr, models, images, controllerHub, sinks...)
	if err != nil {
		return err
	}

	dispatcher = dispatch.New(dispatch.Config{
		Cameras:        cfg.Cameras.IDs(),
		CommandTimeout: cfg.Tuning.CommandTimeout,
		DBTimeout:      cfg.Tuning.DBTimeout,
	}, videoRelay, zoneMgr, accessCache, transformer, models, images, pipe, sinks...)
	dispatcher.SetHubs(controllerHub, pilotHub)

	// Tunables hot-reload. Durations and the relay queue depth take effect
	// immediately; buffer sizes are fixed at construction and need a restart.
	watcher := config.NewWatcher(configPath, cfg.Tuning, func(t config.Tuning) {
		zoneMgr.SetClearAfter(t.HazardClear)
		detections.SetWindow(t.DetectionWindow)
		videoRelay.SetQueueDepth(t.RelayQueueDepth)
		log.Printf("[INFO] Server: tuning updated (buffer sizes need a restart): %+v", t)
	})
	if err := watcher.Start(); err != nil {
		log.Printf("[WARNING] Server: config watcher disabled: %v", err)
	} else {
		defer watcher.Stop()
	}

	// Sockets.
	udpConn, err := net.ListenUDP("udp", &net.UDPAddr{Port: cfg.Network.UDPVideoInPort})
	if err != nil {
		return fmt.Errorf("listen udp %d: %w", cfg.Network.UDPVideoInPort, err)
	}
	listen := func(port int) (net.Listener, error) {
		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err != nil {
			return nil, fmt.Errorf("listen tcp %d: %w", port, err)
		}
		return ln, nil
	}
	controlLn, err := listen(cfg.Network.TCPControlPort)
	if err != nil {
		return err
	}
	inferenceLn, err := listen(cfg.Network.TCPInferencePort)
	if err != nil {
		return err
	}
	birdLn, err := listen(cfg.Network.TCPBirdPort)
	if err != nil {
		return err
	}
	pilotLn, err := listen(cfg.Network.TCPPilotPort)
	if err != nil {
		return err
	}

	relayFrames, cancelWatch := frames.Watch(cfg.Tuning.FrameBufferSize)
	defer cancelWatch()

	adminSrv := &http.Server{
		Addr: cfg.Admin.Addr,
		Handler: api.New(models, accessCache, transformer, zoneMgr,
			liveCache, wsHub, cfg.Tuning.DBTimeout).Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return frames.Serve(gctx, udpConn) })
	g.Go(func() error { return controllerHub.Serve(gctx, controlLn) })
	g.Go(func() error { return inferenceHub.Serve(gctx, inferenceLn) })
	g.Go(func() error { return birdHub.Serve(gctx, birdLn) })
	g.Go(func() error { return pilotHub.Serve(gctx, pilotLn) })
	g.Go(func() error { videoRelay.Run(gctx, relayFrames); return nil })
	g.Go(func() error { zoneMgr.Run(gctx); return nil })
	g.Go(func() error { pipe.Run(gctx); return nil })
	g.Go(func() error {
		log.Printf("[INFO] Server: admin HTTP on %s", cfg.Admin.Addr)
		if err := adminSrv.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Tuning.ShutdownDrainTimeout)
		defer cancel()
		return adminSrv.Shutdown(shutdownCtx)
	})

	log.Printf("[INFO] Server: running")
	if err := g.Wait(); err != nil && err != context.Canceled {
		return err
	}
	return nil
}
