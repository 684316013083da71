package protocol

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Controller channel grammar. Commands are newline-terminated ASCII
// `XX_YY[:data]`; event and response messages may carry raw image bytes after
// the textual header.

// ZoneCount is the number of fixed airfield areas.
const ZoneCount = 8

// Command is an inbound controller command.
type Command struct {
	Name string // "MC_CA", "MC_OD", "AC_UA", ...
	Data string // text after the first ':', may be empty
}

var knownCommands = map[string]bool{
	"MC_CA": true, "MC_CB": true, "MC_MP": true, "MC_OD": true,
	"AC_AC": true, "AC_UA": true,
}

// ParseCommand parses one controller line.
func ParseCommand(line string) (Command, error) {
	line = strings.TrimRight(line, "\r\n")
	name, data, _ := strings.Cut(line, ":")
	name = strings.TrimSpace(name)
	if !knownCommands[name] {
		return Command{}, fmt.Errorf("unknown controller command %q", name)
	}
	return Command{Name: name, Data: data}, nil
}

// ParseAccessLevels parses the AC_UA payload: exactly eight levels in {1,2,3}.
func ParseAccessLevels(data string) ([ZoneCount]AuthorityLevel, error) {
	var levels [ZoneCount]AuthorityLevel
	parts := strings.Split(data, ",")
	if len(parts) != ZoneCount {
		return levels, fmt.Errorf("expected %d levels, got %d", ZoneCount, len(parts))
	}
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return levels, fmt.Errorf("level %d: %w", i+1, err)
		}
		l := AuthorityLevel(n)
		if !l.Valid() {
			return levels, fmt.Errorf("level %d out of range: %d", i+1, n)
		}
		levels[i] = l
	}
	return levels, nil
}

// ObjectEvent is one detection as it appears on the controller wire.
type ObjectEvent struct {
	EventType   EventType
	ObjectID    int64
	Class       Class
	MapX, MapY  int
	AreaName    string
	RescueLevel int  // meaningful only when HasRescue
	HasRescue   bool // set iff Class == PERSON
}

func (e ObjectEvent) entry() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d,%s,%d,%d,%s", e.ObjectID, e.Class, e.MapX, e.MapY, e.AreaName)
	if e.HasRescue {
		fmt.Fprintf(&b, ",%d", e.RescueLevel)
	}
	return b.String()
}

// EncodeObjectEvents builds an ME_OD line from a non-empty tick result.
func EncodeObjectEvents(events []ObjectEvent) []byte {
	entries := make([]string, len(events))
	for i, e := range events {
		entries[i] = e.entry()
	}
	return []byte("ME_OD:" + strings.Join(entries, ";") + "\n")
}

// EncodeFirstDetection builds an ME_FD message: textual header, a comma, then
// the raw JPEG bytes. PERSON headers carry the rescue level before the size.
func EncodeFirstDetection(e ObjectEvent, ts time.Time, image []byte) []byte {
	stamp := ts.UTC().Format("2006-01-02T15:04:05Z")
	var hdr string
	if e.HasRescue {
		hdr = fmt.Sprintf("ME_FD:%d,%d,%s,%d,%d,%s,%s,%d,%d",
			e.EventType, e.ObjectID, e.Class, e.MapX, e.MapY, e.AreaName, stamp, e.RescueLevel, len(image))
	} else {
		hdr = fmt.Sprintf("ME_FD:%d,%d,%s,%d,%d,%s,%s,%d",
			e.EventType, e.ObjectID, e.Class, e.MapX, e.MapY, e.AreaName, stamp, len(image))
	}
	out := make([]byte, 0, len(hdr)+1+len(image))
	out = append(out, hdr...)
	out = append(out, ',')
	out = append(out, image...)
	return out
}

// EncodeZoneStatus builds ME_RA / ME_RB (1 = HAZARD, 0 = NORMAL). Only the two
// runways have wire status messages; ok=false means the area has none.
func EncodeZoneStatus(areaName string, hazard bool) (msg []byte, ok bool) {
	var prefix string
	switch areaName {
	case "RWY_A":
		prefix = "ME_RA"
	case "RWY_B":
		prefix = "ME_RB"
	default:
		return nil, false
	}
	v := "0"
	if hazard {
		v = "1"
	}
	return []byte(prefix + ":" + v + "\n"), true
}

// EncodeBirdRisk builds ME_BR.
func EncodeBirdRisk(level BirdRisk) []byte {
	return []byte(fmt.Sprintf("ME_BR:%d\n", level))
}

// EncodeMapCalibrated builds ME_MC, sent once both cameras are calibrated and
// the worker has acknowledged object mode.
func EncodeMapCalibrated() []byte {
	return []byte("ME_MC\n")
}

// EncodeAccessLevels builds the AH_AC response.
func EncodeAccessLevels(levels [ZoneCount]AuthorityLevel) []byte {
	parts := make([]string, ZoneCount)
	for i, l := range levels {
		parts[i] = strconv.Itoa(int(l))
	}
	return []byte("AH_AC:" + strings.Join(parts, ",") + "\n")
}

// EncodeAccessUpdateResult builds the AH_UA response.
func EncodeAccessUpdateResult(ok bool) []byte {
	if ok {
		return []byte("AH_UA:OK\n")
	}
	return []byte("AH_UA:ERROR\n")
}

// EncodeSubscribeOK builds MR_CA:OK / MR_CB:OK / MR_MP:OK for the given
// command name.
func EncodeSubscribeOK(commandName string) []byte {
	return []byte("MR" + strings.TrimPrefix(commandName, "MC") + ":OK\n")
}

// detailSeparator splits the MR_OD textual header from the image bytes.
const detailSeparator = "$$"

// EncodeObjectDetail builds the MR_OD:OK response: header, "$$", image bytes.
func EncodeObjectDetail(objectID int64, class Class, areaName string, ts time.Time, image []byte) []byte {
	stamp := ts.UTC().Format("2006-01-02T15:04:05Z")
	hdr := fmt.Sprintf("MR_OD:OK,%d,%s,%s,%s,%d", objectID, class, areaName, stamp, len(image))
	out := make([]byte, 0, len(hdr)+len(detailSeparator)+len(image))
	out = append(out, hdr...)
	out = append(out, detailSeparator...)
	out = append(out, image...)
	return out
}

// Object-detail error codes.
const (
	DetailErrBadID      = 1
	DetailErrNoRecord   = 3
	DetailErrNoImage    = 4
	DetailErrImageRead  = 5
	DetailErrRepository = 2
)

// EncodeObjectDetailError builds MR_OD:ERR,<code>.
func EncodeObjectDetailError(code int) []byte {
	return []byte(fmt.Sprintf("MR_OD:ERR,%d\n", code))
}
