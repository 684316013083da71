package dispatch

import (
	"log"
	"time"

	"github.com/technosupport/falcon/internal/fanout"
	"github.com/technosupport/falcon/internal/metrics"
	"github.com/technosupport/falcon/internal/protocol"
)

// OnInferenceConnect starts a new worker session. Only one worker is served;
// a newly connecting worker replaces the old session, which covers worker
// restarts where the old TCP connection lingers.
func (d *Dispatcher) OnInferenceConnect(s *fanout.Session) {
	d.workerMu.Lock()
	if d.worker != nil {
		log.Printf("[WARNING] Dispatch: replacing inference worker %s with %s",
			d.worker.RemoteAddr(), s.RemoteAddr())
		d.worker.Close()
	}
	d.worker = s
	d.state = stateCalibrating
	d.calibrated = make(map[string]bool)
	d.stopAckTimerLocked()
	d.workerMu.Unlock()

	d.transformer.ClearCalibrations()
	metrics.InferenceState.Set(stateCalibrating)
	log.Printf("[INFO] Dispatch: inference worker %s connected, calibrating", s.RemoteAddr())
}

// OnInferenceDisconnect resets the lifecycle. The next connection starts a
// fresh calibration round.
func (d *Dispatcher) OnInferenceDisconnect(s *fanout.Session) {
	d.workerMu.Lock()
	if d.worker != s {
		d.workerMu.Unlock()
		return
	}
	d.worker = nil
	d.state = stateDisconnected
	d.stopAckTimerLocked()
	d.workerMu.Unlock()

	d.transformer.ClearCalibrations()
	metrics.InferenceState.Set(stateDisconnected)
	log.Printf("[INFO] Dispatch: inference worker %s disconnected", s.RemoteAddr())
}

// OnInferenceLine handles one worker message.
func (d *Dispatcher) OnInferenceLine(s *fanout.Session, line []byte) {
	msg, err := protocol.DecodeInference(line)
	if err != nil {
		log.Printf("[WARNING] Dispatch: inference %s: %v", s.RemoteAddr(), err)
		return
	}

	switch m := msg.(type) {
	case protocol.MapCalibration:
		d.handleCalibration(s, m)
	case protocol.InferenceResponse:
		d.handleWorkerResponse(s, m)
	case protocol.ObjectDetected:
		d.handleObjectDetected(m)
	case protocol.MarkerDetected:
		log.Printf("[DEBUG] Dispatch: marker event from %s during calibration", m.CameraID)
	}
}

func (d *Dispatcher) handleCalibration(s *fanout.Session, m protocol.MapCalibration) {
	if !d.transformer.SetCalibration(m.CameraID, m.Matrix, m.Scale) {
		return
	}

	d.workerMu.Lock()
	d.calibrated[m.CameraID] = true
	allDone := true
	for _, cam := range d.cameras {
		if !d.calibrated[cam] {
			allDone = false
			break
		}
	}
	fire := allDone && d.state == stateCalibrating
	if fire {
		d.state = stateAwaitingAck
		d.armAckTimerLocked(s)
	}
	d.workerMu.Unlock()

	if fire {
		metrics.InferenceState.Set(stateAwaitingAck)
		log.Printf("[INFO] Dispatch: all cameras calibrated, switching worker to object mode")
		s.Send(protocol.EncodeCommand(protocol.CommandSetModeObject))
	}
}

func (d *Dispatcher) handleWorkerResponse(s *fanout.Session, m protocol.InferenceResponse) {
	if m.Command != protocol.CommandSetModeObject {
		log.Printf("[WARNING] Dispatch: unexpected worker response for %q", m.Command)
		return
	}
	if m.Result != "ok" && m.Result != "success" {
		log.Printf("[ERROR] Dispatch: worker rejected %s: %q", m.Command, m.Result)
		s.Close()
		return
	}

	d.workerMu.Lock()
	if d.state != stateAwaitingAck {
		d.workerMu.Unlock()
		return
	}
	d.state = stateOperating
	d.stopAckTimerLocked()
	d.workerMu.Unlock()

	metrics.InferenceState.Set(stateOperating)
	log.Printf("[INFO] Dispatch: inference worker operating")
	d.controller.Broadcast(protocol.EncodeMapCalibrated())
}

func (d *Dispatcher) handleObjectDetected(m protocol.ObjectDetected) {
	d.workerMu.Lock()
	operating := d.state == stateOperating
	d.workerMu.Unlock()
	if !operating {
		metrics.DetectionsFilteredTotal.WithLabelValues("not_operating").Inc()
		return
	}
	d.pipe.Submit(m)
}

// armAckTimerLocked starts the command timeout. A worker that never answers
// set_mode_object is disconnected so it reconnects and recalibrates.
func (d *Dispatcher) armAckTimerLocked(s *fanout.Session) {
	d.stopAckTimerLocked()
	d.ackTimer = time.AfterFunc(d.commandTimeout, func() {
		d.workerMu.Lock()
		stale := d.worker == s && d.state == stateAwaitingAck
		d.workerMu.Unlock()
		if stale {
			log.Printf("[ERROR] Dispatch: worker did not acknowledge %s within %s, closing",
				protocol.CommandSetModeObject, d.commandTimeout)
			s.Close()
		}
	})
}

func (d *Dispatcher) stopAckTimerLocked() {
	if d.ackTimer != nil {
		d.ackTimer.Stop()
		d.ackTimer = nil
	}
}
