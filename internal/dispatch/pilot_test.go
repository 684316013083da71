package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/technosupport/falcon/internal/protocol"
)

func TestRunwayCode(t *testing.T) {
	assert.Equal(t, protocol.RunwayClear, runwayCode(false))
	assert.Equal(t, protocol.RunwayBlocked, runwayCode(true))
}

func TestAvailCode(t *testing.T) {
	tests := []struct {
		name    string
		aHazard bool
		bHazard bool
		want    string
	}{
		{name: "both clear", want: protocol.RunwayAvailAll},
		{name: "b blocked", bHazard: true, want: protocol.RunwayAvailAOnly},
		{name: "a blocked", aHazard: true, want: protocol.RunwayAvailBOnly},
		{name: "both blocked", aHazard: true, bHazard: true, want: protocol.RunwayAvailNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, availCode(tt.aHazard, tt.bHazard))
		})
	}
}
