package mumble

import (
	"fmt"
	"time"

	"github.com/gomumble/gomumble/pkg/mumbleproto"
)

// pingStats keeps an incremental mean/variance of round-trip times so a
// long-running connection does not accumulate per-sample storage.
type pingStats struct {
	n    uint32
	mean float64
	m2   float64
}

func (s *pingStats) add(ms float64) {
	s.n++
	delta := ms - s.mean
	s.mean += delta / float64(s.n)
	s.m2 += delta * (ms - s.mean)
}

func (s *pingStats) variance() float64 {
	if s.n < 2 {
		return 0
	}
	return s.m2 / float64(s.n)
}

func (s *pingStats) snapshot() PingStats {
	return PingStats{Count: s.n, Mean: s.mean, Variance: s.variance()}
}

// PingStats is a snapshot of the running RTT statistics in milliseconds.
type PingStats struct {
	Count    uint32
	Mean     float64
	Variance float64
}

// DataStats returns the RTT statistics of the data channel.
func (c *Client) DataStats() PingStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dataStats.snapshot()
}

// VoiceStats returns the RTT statistics of the voice channel.
func (c *Client) VoiceStats() PingStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.voiceStats.snapshot()
}

// sendPing emits one liveness ping. Runs on the dispatch goroutine.
func (c *Client) sendPing() {
	if c.inFlightPings >= c.config.MaxInFlightDataPings {
		c.fail(fmt.Errorf("%w: %d pings in flight", ErrTimeout, c.inFlightPings))
		return
	}
	c.inFlightPings++

	ts := uint64(time.Now().UnixMilli())
	msg := &mumbleproto.Ping{Timestamp: &ts}

	c.mu.RLock()
	if c.dataStats.n > 0 {
		count := c.dataStats.n
		avg := float32(c.dataStats.mean)
		variance := float32(c.dataStats.variance())
		msg.TCPPackets = &count
		msg.TCPPingAvg = &avg
		msg.TCPPingVar = &variance
	}
	if c.voiceStats.n > 0 {
		count := c.voiceStats.n
		avg := float32(c.voiceStats.mean)
		variance := float32(c.voiceStats.variance())
		msg.UDPPackets = &count
		msg.UDPPingAvg = &avg
		msg.UDPPingVar = &variance
	}
	c.mu.RUnlock()

	if err := c.WriteMessage(msg); err != nil {
		logger.Debugf("ping write failed: %s", err)
	}

	c.sendVoicePing()
}

// handlePing processes a ping echoed back by the server.
func (c *Client) handlePing(msg *mumbleproto.Ping) {
	if c.inFlightPings == 0 {
		logger.Warn("received ping with none in flight, ignoring")
		return
	}
	c.inFlightPings--

	if msg.Timestamp == nil {
		return
	}
	rtt := time.Now().UnixMilli() - int64(*msg.Timestamp)
	if rtt < 0 {
		rtt = 0
	}

	c.mu.Lock()
	c.dataStats.add(float64(rtt))
	c.mu.Unlock()

	c.fireDataPing(time.Duration(rtt) * time.Millisecond)
}
