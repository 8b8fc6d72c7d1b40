package mumble

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gomumble/gomumble/pkg/mumbleproto"
)

func TestEnforceableBandwidth(t *testing.T) {
	testcases := []struct {
		Desc             string
		Bitrate          int
		SamplesPerPacket int
		HasPosition      bool
		Expected         int
	}{
		{
			Desc:             "10ms packets, overhead only",
			Bitrate:          0,
			SamplesPerPacket: 480,
			Expected:         (20 + 8 + 4 + 1 + 4 + 4) * 8 * 100,
		},
		{
			Desc:             "10ms packets at 40kbit",
			Bitrate:          40000,
			SamplesPerPacket: 480,
			Expected:         (20+8+4+1+4+4)*8*100 + 40000,
		},
		{
			Desc:             "60ms packets scale the codec header",
			Bitrate:          40000,
			SamplesPerPacket: 2880,
			Expected:         int(float64((20+8+4+1+4+6)*8)*(48000.0/2880.0)) + 40000,
		},
		{
			Desc:             "short packets keep the minimum header",
			Bitrate:          0,
			SamplesPerPacket: 240,
			Expected:         (20 + 8 + 4 + 1 + 4 + 4) * 8 * 200,
		},
		{
			Desc:             "positional audio adds twelve bytes",
			Bitrate:          0,
			SamplesPerPacket: 480,
			HasPosition:      true,
			Expected:         (20 + 8 + 4 + 1 + 4 + 4 + 12) * 8 * 100,
		},
	}

	for _, tc := range testcases {
		t.Run(tc.Desc, func(t *testing.T) {
			got := enforceableBandwidth(tc.Bitrate, tc.SamplesPerPacket, tc.HasPosition)
			assert.Equal(t, tc.Expected, got)
		})
	}
}

func TestMaxBitrate(t *testing.T) {
	c, _ := connect(t, nil) // server cap 72000

	overhead := enforceableBandwidth(0, 480, false)
	assert.Equal(t, 72000-overhead, c.MaxBitrate(480, false))
}

func TestActualBitratePreferredFits(t *testing.T) {
	cfg := &Config{Username: "tester", PreferredBitrate: 16000}
	c, _ := connect(t, cfg)

	assert.Equal(t, 16000, c.PreferredBitrate(480, false))
	assert.Equal(t, 16000, c.ActualBitrate(480, false))
}

func TestActualBitrateClampedToServerCap(t *testing.T) {
	cfg := &Config{Username: "tester", PreferredBitrate: 300000}
	c, _ := connect(t, cfg)

	assert.Equal(t, c.MaxBitrate(480, false), c.ActualBitrate(480, false))
}

func TestActualBitrateNoPreference(t *testing.T) {
	c, _ := connect(t, nil)
	assert.Equal(t, c.MaxBitrate(480, false), c.ActualBitrate(480, false))
}

func TestBandwidthUpdatedByServer(t *testing.T) {
	c, _ := connect(t, nil)
	assert.Equal(t, 72000, c.MaxBandwidth())

	// A later ServerSync may revise the cap.
	bw := uint32(128000)
	onDispatcher(t, c, func() {
		c.handleServerSync(&mumbleproto.ServerSync{MaxBandwidth: &bw})
	})
	assert.Equal(t, 128000, c.MaxBandwidth())
}
