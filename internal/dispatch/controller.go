package dispatch

import (
	"context"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/technosupport/falcon/internal/data"
	"github.com/technosupport/falcon/internal/fanout"
	"github.com/technosupport/falcon/internal/metrics"
	"github.com/technosupport/falcon/internal/protocol"
)

// OnControllerLine handles one controller command.
func (d *Dispatcher) OnControllerLine(s *fanout.Session, line []byte) {
	start := time.Now()
	d.logInteraction("control", s.RemoteAddr(), data.DirectionIn, string(line))

	cmd, err := protocol.ParseCommand(string(line))
	if err != nil {
		log.Printf("[WARNING] Dispatch: %s: %v", s.RemoteAddr(), err)
		return
	}
	defer func() {
		metrics.CommandLatency.WithLabelValues("control", cmd.Name).Observe(time.Since(start).Seconds() * 1000)
	}()

	switch cmd.Name {
	case "MC_CA":
		d.handleVideoToggle(s, cmd, d.cameraA(), d.cameraB())
	case "MC_CB":
		d.handleVideoToggle(s, cmd, d.cameraB(), d.cameraA())
	case "MC_MP":
		// Map display is a client-side toggle; detection events always go to
		// every connected controller.
		d.reply(s, protocol.EncodeSubscribeOK(cmd.Name))
	case "MC_OD":
		d.handleObjectDetail(s, cmd.Data)
	case "AC_AC":
		d.reply(s, protocol.EncodeAccessLevels(d.accessCache.Levels()))
	case "AC_UA":
		d.handleAccessUpdate(s, cmd.Data)
	}
}

// OnControllerDisconnect drops the client's video subscriptions.
func (d *Dispatcher) OnControllerDisconnect(s *fanout.Session) {
	d.videoRelay.UnsubscribeAll(s.RemoteAddr())
}

// handleVideoToggle switches the client between the two camera feeds. A client
// watches at most one camera, so subscribing one always drops the other.
func (d *Dispatcher) handleVideoToggle(s *fanout.Session, cmd protocol.Command, camera, other string) {
	if cmd.Data == "0" {
		d.videoRelay.Unsubscribe(s.RemoteAddr(), camera)
	} else {
		d.videoRelay.Unsubscribe(s.RemoteAddr(), other)
		if err := d.videoRelay.Subscribe(s.RemoteAddr(), camera); err != nil {
			log.Printf("[ERROR] Dispatch: video subscribe %s: %v", s.RemoteAddr(), err)
			return
		}
	}
	d.reply(s, protocol.EncodeSubscribeOK(cmd.Name))
}

// handleObjectDetail answers MC_OD with the stored first-detection record and
// image. Encoded responses are cached because controllers re-request the same
// object while an operator inspects it.
func (d *Dispatcher) handleObjectDetail(s *fanout.Session, idText string) {
	objectID, err := strconv.ParseInt(strings.TrimSpace(idText), 10, 64)
	if err != nil || objectID <= 0 {
		d.reply(s, protocol.EncodeObjectDetailError(protocol.DetailErrBadID))
		return
	}

	if cached, ok := d.detailCache.Get(objectID); ok {
		d.replyRaw(s, cached, "MC_OD cache hit")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.dbTimeout)
	defer cancel()
	event, err := d.models.DetectEvents.GetByObjectID(ctx, objectID)
	if err == data.ErrRecordNotFound {
		d.reply(s, protocol.EncodeObjectDetailError(protocol.DetailErrNoRecord))
		return
	}
	if err != nil {
		metrics.RepositoryErrorsTotal.WithLabelValues("get_detect_event").Inc()
		d.reply(s, protocol.EncodeObjectDetailError(protocol.DetailErrRepository))
		return
	}
	if event.ImagePath == "" {
		d.reply(s, protocol.EncodeObjectDetailError(protocol.DetailErrNoImage))
		return
	}
	image, err := d.images.Read(event.ImagePath)
	if err != nil {
		log.Printf("[ERROR] Dispatch: read image %s: %v", event.ImagePath, err)
		d.reply(s, protocol.EncodeObjectDetailError(protocol.DetailErrImageRead))
		return
	}

	msg := protocol.EncodeObjectDetail(event.ObjectID, event.Class, event.AreaName, event.DetectedAt, image)
	d.detailCache.Add(objectID, msg)
	d.replyRaw(s, msg, "MC_OD response")
}

// handleAccessUpdate persists all eight zone authorities in one transaction,
// then refreshes the cache and pushes the new levels to every controller.
func (d *Dispatcher) handleAccessUpdate(s *fanout.Session, payload string) {
	levels, err := protocol.ParseAccessLevels(payload)
	if err != nil {
		log.Printf("[WARNING] Dispatch: AC_UA from %s: %v", s.RemoteAddr(), err)
		d.reply(s, protocol.EncodeAccessUpdateResult(false))
		return
	}

	conds := make([]data.AccessCondition, protocol.ZoneCount)
	for i, l := range levels {
		conds[i] = data.AccessCondition{AreaID: i + 1, Authority: l}
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.dbTimeout)
	defer cancel()
	if err := d.models.ReplaceAccess(ctx, conds); err != nil {
		metrics.RepositoryErrorsTotal.WithLabelValues("replace_access").Inc()
		log.Printf("[ERROR] Dispatch: persist access update: %v", err)
		d.reply(s, protocol.EncodeAccessUpdateResult(false))
		return
	}

	d.accessCache.Replace(levels)
	d.reply(s, protocol.EncodeAccessUpdateResult(true))
	d.controller.Broadcast(protocol.EncodeAccessLevels(levels))
}

func (d *Dispatcher) reply(s *fanout.Session, msg []byte) {
	d.logInteraction("control", s.RemoteAddr(), data.DirectionOut, strings.TrimRight(string(msg), "\n"))
	s.Send(msg)
}

// replyRaw sends without logging the body; detail responses carry image bytes.
func (d *Dispatcher) replyRaw(s *fanout.Session, msg []byte, summary string) {
	d.logInteraction("control", s.RemoteAddr(), data.DirectionOut, summary)
	s.Send(msg)
}

func (d *Dispatcher) cameraA() string {
	if len(d.cameras) > 0 {
		return d.cameras[0]
	}
	return "A"
}

func (d *Dispatcher) cameraB() string {
	if len(d.cameras) > 1 {
		return d.cameras[1]
	}
	return "B"
}
