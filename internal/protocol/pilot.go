package protocol

import (
	"encoding/json"
	"fmt"
)

// Pilot channel: JSON request/response, one object per line.

// Pilot request codes.
const (
	PilotBirdInquiry = "BR_INQ"
	PilotRunwayA     = "RWY_A_STATUS"
	PilotRunwayB     = "RWY_B_STATUS"
	PilotRunwayAvail = "RWY_AVAIL_IN"
)

// Runway status response codes.
const (
	RunwayClear   = "CLEAR"
	RunwayBlocked = "BLOCKED"
)

// Runway availability response codes.
const (
	RunwayAvailAll   = "ALL"
	RunwayAvailAOnly = "A_ONLY"
	RunwayAvailBOnly = "B_ONLY"
	RunwayAvailNone  = "NONE"
)

// PilotRequest is an inbound pilot query.
type PilotRequest struct {
	Type        string `json:"type"`
	Command     string `json:"command"`
	RequestCode string `json:"request_code"`
}

// PilotResponse is the reply to a pilot query.
type PilotResponse struct {
	Type         string `json:"type"`
	Status       string `json:"status"`
	RequestCode  string `json:"request_code,omitempty"`
	ResponseCode string `json:"response_code,omitempty"`
}

// DecodePilotRequest parses one JSON line from a pilot client.
func DecodePilotRequest(line []byte) (PilotRequest, error) {
	var req PilotRequest
	if err := json.Unmarshal(line, &req); err != nil {
		return req, fmt.Errorf("pilot json: %w", err)
	}
	if req.Type != "command" || req.Command != "query_information" {
		return req, fmt.Errorf("unknown pilot command %q/%q", req.Type, req.Command)
	}
	switch req.RequestCode {
	case PilotBirdInquiry, PilotRunwayA, PilotRunwayB, PilotRunwayAvail:
		return req, nil
	}
	return req, fmt.Errorf("unknown pilot request code %q", req.RequestCode)
}

// EncodePilotResponse builds a success reply line.
func EncodePilotResponse(requestCode, responseCode string) []byte {
	b, _ := json.Marshal(PilotResponse{
		Type:         "response",
		Status:       "success",
		RequestCode:  requestCode,
		ResponseCode: responseCode,
	})
	return append(b, '\n')
}

// EncodePilotError builds an error reply line.
func EncodePilotError(requestCode string) []byte {
	b, _ := json.Marshal(PilotResponse{
		Type:        "response",
		Status:      "error",
		RequestCode: requestCode,
	})
	return append(b, '\n')
}
