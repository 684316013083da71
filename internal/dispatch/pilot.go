package dispatch

import (
	"log"
	"strings"

	"github.com/technosupport/falcon/internal/data"
	"github.com/technosupport/falcon/internal/fanout"
	"github.com/technosupport/falcon/internal/protocol"
)

// OnPilotLine answers one pilot query. Every request gets a reply; malformed
// requests get an error response so the voice gateway never hangs waiting.
func (d *Dispatcher) OnPilotLine(s *fanout.Session, line []byte) {
	d.logInteraction("pilot", s.RemoteAddr(), data.DirectionIn, string(line))

	req, err := protocol.DecodePilotRequest(line)
	if err != nil {
		log.Printf("[WARNING] Dispatch: pilot %s: %v", s.RemoteAddr(), err)
		d.pilotReply(s, protocol.EncodePilotError(req.RequestCode))
		return
	}

	var code string
	switch req.RequestCode {
	case protocol.PilotBirdInquiry:
		code = d.currentBirdRisk().Code()
	case protocol.PilotRunwayA:
		code = runwayCode(d.zoneMgr.HazardByName("RWY_A"))
	case protocol.PilotRunwayB:
		code = runwayCode(d.zoneMgr.HazardByName("RWY_B"))
	case protocol.PilotRunwayAvail:
		code = availCode(d.zoneMgr.HazardByName("RWY_A"), d.zoneMgr.HazardByName("RWY_B"))
	}
	d.pilotReply(s, protocol.EncodePilotResponse(req.RequestCode, code))
}

func (d *Dispatcher) pilotReply(s *fanout.Session, msg []byte) {
	d.logInteraction("pilot", s.RemoteAddr(), data.DirectionOut, strings.TrimRight(string(msg), "\n"))
	s.Send(msg)
}

func runwayCode(hazard bool) string {
	if hazard {
		return protocol.RunwayBlocked
	}
	return protocol.RunwayClear
}

func availCode(aHazard, bHazard bool) string {
	switch {
	case !aHazard && !bHazard:
		return protocol.RunwayAvailAll
	case !aHazard:
		return protocol.RunwayAvailAOnly
	case !bHazard:
		return protocol.RunwayAvailBOnly
	}
	return protocol.RunwayAvailNone
}
