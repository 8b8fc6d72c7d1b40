package mumble

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomumble/gomumble/pkg/mumbleproto"
)

func TestPingStats(t *testing.T) {
	testcases := []struct {
		Desc     string
		Samples  []float64
		Mean     float64
		Variance float64
	}{
		{
			Desc: "empty",
		},
		{
			Desc:    "single sample has no variance",
			Samples: []float64{42},
			Mean:    42,
		},
		{
			Desc:     "constant samples",
			Samples:  []float64{10, 10, 10, 10},
			Mean:     10,
			Variance: 0,
		},
		{
			Desc:     "spread samples",
			Samples:  []float64{2, 4, 4, 4, 5, 5, 7, 9},
			Mean:     5,
			Variance: 4,
		},
	}

	for _, tc := range testcases {
		t.Run(tc.Desc, func(t *testing.T) {
			var s pingStats
			for _, v := range tc.Samples {
				s.add(v)
			}
			snap := s.snapshot()
			assert.Equal(t, uint32(len(tc.Samples)), snap.Count)
			assert.InDelta(t, tc.Mean, snap.Mean, 1e-9)
			assert.InDelta(t, tc.Variance, snap.Variance, 1e-9)
		})
	}
}

func TestPingEcho(t *testing.T) {
	c, _ := connect(t, nil)

	rtts := make(chan time.Duration, 1)
	c.Attach(&Listener{
		OnDataPing: func(rtt time.Duration) { rtts <- rtt },
	})

	onDispatcher(t, c, func() { c.inFlightPings = 1 })

	ts := uint64(time.Now().Add(-5 * time.Millisecond).UnixMilli())
	dispatchMsg(t, c, &mumbleproto.Ping{Timestamp: &ts})

	select {
	case rtt := <-rtts:
		assert.GreaterOrEqual(t, rtt, 5*time.Millisecond)
	case <-time.After(time.Second):
		t.Fatal("no ping event")
	}

	stats := c.DataStats()
	assert.Equal(t, uint32(1), stats.Count)
	assert.GreaterOrEqual(t, stats.Mean, 5.0)

	var inFlight int
	onDispatcher(t, c, func() { inFlight = c.inFlightPings })
	assert.Equal(t, 0, inFlight)
}

func TestPingWithNoneInFlightIgnored(t *testing.T) {
	c, _ := connect(t, nil)

	ts := uint64(time.Now().UnixMilli())
	dispatchMsg(t, c, &mumbleproto.Ping{Timestamp: &ts})

	assert.Equal(t, StateConnected, c.State())
	assert.Equal(t, uint32(0), c.DataStats().Count)
}

func TestPingTimestampInFuture(t *testing.T) {
	// Clock skew must not produce a negative round-trip time.
	c, _ := connect(t, nil)
	onDispatcher(t, c, func() { c.inFlightPings = 1 })

	ts := uint64(time.Now().Add(time.Hour).UnixMilli())
	dispatchMsg(t, c, &mumbleproto.Ping{Timestamp: &ts})

	stats := c.DataStats()
	require.Equal(t, uint32(1), stats.Count)
	assert.Equal(t, 0.0, stats.Mean)
}

func TestPingCarriesStatistics(t *testing.T) {
	c, fc := connect(t, nil)

	onDispatcher(t, c, func() {
		c.mu.Lock()
		c.dataStats.add(10)
		c.dataStats.add(20)
		c.voiceStats.add(5)
		c.mu.Unlock()
		c.sendPing()
	})

	msg := fc.next(t).(*mumbleproto.Ping)
	require.NotNil(t, msg.Timestamp)
	require.NotNil(t, msg.TCPPackets)
	assert.Equal(t, uint32(2), *msg.TCPPackets)
	require.NotNil(t, msg.TCPPingAvg)
	assert.InDelta(t, 15, *msg.TCPPingAvg, 1e-6)
	require.NotNil(t, msg.TCPPingVar)
	require.NotNil(t, msg.UDPPackets)
	assert.Equal(t, uint32(1), *msg.UDPPackets)
}

func TestPingOmitsEmptyStatistics(t *testing.T) {
	c, fc := connect(t, nil)

	onDispatcher(t, c, func() { c.sendPing() })

	msg := fc.next(t).(*mumbleproto.Ping)
	require.NotNil(t, msg.Timestamp)
	assert.Nil(t, msg.TCPPackets)
	assert.Nil(t, msg.UDPPackets)
}

func TestPingTimeoutDisconnects(t *testing.T) {
	c, _ := connect(t, nil)

	errC := make(chan error, 1)
	c.Attach(&Listener{
		OnError: func(err error) { errC <- err },
	})

	// Two unanswered pings are tolerated; the third attempt declares the
	// connection dead.
	onDispatcher(t, c, func() {
		c.sendPing()
		c.sendPing()
		c.sendPing()
	})

	select {
	case err := <-errC:
		assert.ErrorIs(t, err, ErrTimeout)
	case <-time.After(time.Second):
		t.Fatal("no timeout surfaced")
	}
	require.Eventually(t, func() bool {
		return c.State() == StateDisconnected
	}, time.Second, 5*time.Millisecond)
}

func TestPingRecoveryResetsBudget(t *testing.T) {
	c, _ := connect(t, nil)

	onDispatcher(t, c, func() {
		c.sendPing()
		c.sendPing()
	})

	// An answer frees one slot of the in-flight budget, so one more
	// unanswered ping fits again.
	ts := uint64(time.Now().UnixMilli())
	dispatchMsg(t, c, &mumbleproto.Ping{Timestamp: &ts})

	onDispatcher(t, c, func() { c.sendPing() })
	assert.Equal(t, StateConnected, c.State())
}

func TestPingIntervalStartsAfterSync(t *testing.T) {
	cfg := &Config{
		Username:         "tester",
		DataPingInterval: 30 * time.Millisecond,
	}
	c, fc := connect(t, cfg)

	msg := fc.next(t)
	ping, ok := msg.(*mumbleproto.Ping)
	require.True(t, ok, "expected a scheduled ping, got %s", msg.ProtoType())
	require.NotNil(t, ping.Timestamp)

	// Answer it so the next interval does not trip the in-flight cap.
	dispatchMsg(t, c, &mumbleproto.Ping{Timestamp: ping.Timestamp})
	assert.Equal(t, StateConnected, c.State())
}
