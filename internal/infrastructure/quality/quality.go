// Package quality implements the periodic WebRTC stats collector (Component
// E): it samples every publisher's PeerConnection.GetStats() on a fixed
// interval, turns the deltas into a QualityMetrics snapshot, estimates a MOS
// score via a simplified ITU-T G.107 E-model, and emits quality.degraded
// events through the bus when a metric crosses its configured threshold.
package quality

import (
	"time"

	"rillnet/internal/core/domain"

	pion "github.com/pion/webrtc/v3"
)

// Metrics is a snapshot of quality metrics for a single peer connection.
type Metrics struct {
	RoomID          string
	PeerID          string
	RoundTripTimeMs float64
	PacketLossPct   float64
	BitrateKbps     float64
	JitterMs        float64
	MOSScore        float64
	SampledAt       time.Time
}

// Thresholds configure when a Metrics sample triggers a quality.degraded
// event.
type Thresholds struct {
	MaxRTTMs          float64
	MaxPacketLossPct  float64
	MinMOS            float64
	MaxJitterMs       float64
}

// DefaultThresholds matches the reference implementation's defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MaxRTTMs:         300.0,
		MaxPacketLossPct: 5.0,
		MinMOS:           3.0,
		MaxJitterMs:      50.0,
	}
}

// RawStats is the normalized set of counters this package needs out of a
// pion StatsReport, cumulative since the connection was established.
type RawStats struct {
	RoomID           string
	PeerID           string
	BytesSent        uint64
	BytesReceived    uint64
	PacketsLost      uint64
	PacketsReceived  uint64
	CurrentRTTSecs   float64
	JitterSecs       float64
}

// EstimateMOS computes a Mean Opinion Score (1.0-5.0) from delay and packet
// loss using the E-model simplified for VoIP, with Opus defaults
// (codec_ie=0, bpl=25.1).
func EstimateMOS(delayMs, packetLossPct float64) float64 {
	d := delayMs
	h := 0.0
	if d > 177.3 {
		h = 1.0
	}
	id := 0.024*d + 0.11*(d-177.3)*h

	const codecIe = 0.0
	const bpl = 25.1
	ppl := packetLossPct
	ie := codecIe + (95.0-codecIe)*ppl/(ppl+bpl)

	r := 93.2 - id - ie
	if r < 0 {
		r = 0
	}
	if r > 100 {
		r = 100
	}

	if r < 6.5 {
		return 1.0
	}
	mos := 1.0 + 0.035*r + r*(r-60.0)*(100.0-r)*7.0e-6
	if mos < 1.0 {
		return 1.0
	}
	if mos > 5.0 {
		return 5.0
	}
	return mos
}

// ComputeMetrics derives a Metrics snapshot from the current and (optional)
// previous RawStats, turning cumulative counters into per-interval rates.
func ComputeMetrics(current RawStats, previous *RawStats, interval time.Duration) Metrics {
	intervalSecs := interval.Seconds()
	if intervalSecs <= 0 {
		intervalSecs = 1
	}

	var bytesDelta uint64
	if previous != nil {
		bytesDelta = satSub(current.BytesSent, previous.BytesSent) + satSub(current.BytesReceived, previous.BytesReceived)
	} else {
		bytesDelta = current.BytesSent + current.BytesReceived
	}
	bitrateKbps := (float64(bytesDelta) * 8.0) / (intervalSecs * 1000.0)

	var lostDelta, receivedDelta uint64
	if previous != nil {
		lostDelta = satSub(current.PacketsLost, previous.PacketsLost)
		receivedDelta = satSub(current.PacketsReceived, previous.PacketsReceived)
	} else {
		lostDelta = current.PacketsLost
		receivedDelta = current.PacketsReceived
	}
	total := lostDelta + receivedDelta
	packetLossPct := 0.0
	if total > 0 {
		packetLossPct = (float64(lostDelta) / float64(total)) * 100.0
	}

	rttMs := current.CurrentRTTSecs * 1000.0
	jitterMs := current.JitterSecs * 1000.0
	mos := EstimateMOS(rttMs, packetLossPct)

	return Metrics{
		RoomID:          current.RoomID,
		PeerID:          current.PeerID,
		RoundTripTimeMs: rttMs,
		PacketLossPct:   packetLossPct,
		BitrateKbps:     bitrateKbps,
		JitterMs:        jitterMs,
		MOSScore:        mos,
		SampledAt:       time.Now(),
	}
}

func satSub(a, b uint64) uint64 {
	if a < b {
		return 0
	}
	return a - b
}

// Degradation describes one metric that crossed its threshold.
type Degradation struct {
	Metric    string
	Value     float64
	Threshold float64
	Direction domain.DegradationDirection
}

// CheckThresholds returns every metric in m that has crossed its configured
// threshold.
func CheckThresholds(m Metrics, t Thresholds) []Degradation {
	var out []Degradation

	if m.RoundTripTimeMs > t.MaxRTTMs {
		out = append(out, Degradation{"round_trip_time_ms", m.RoundTripTimeMs, t.MaxRTTMs, domain.DirectionAbove})
	}
	if m.PacketLossPct > t.MaxPacketLossPct {
		out = append(out, Degradation{"packet_loss_pct", m.PacketLossPct, t.MaxPacketLossPct, domain.DirectionAbove})
	}
	if m.JitterMs > t.MaxJitterMs {
		out = append(out, Degradation{"jitter_ms", m.JitterMs, t.MaxJitterMs, domain.DirectionAbove})
	}
	if m.MOSScore < t.MinMOS {
		out = append(out, Degradation{"mos_score", m.MOSScore, t.MinMOS, domain.DirectionBelow})
	}

	return out
}

// extractRawStats normalizes a pion StatsReport into the counters this
// package tracks. Candidate-pair stats give us RTT and cumulative
// bytes; inbound/outbound RTP stats give us packet counts and jitter.
func extractRawStats(roomID, peerID string, report pion.StatsReport) RawStats {
	raw := RawStats{RoomID: roomID, PeerID: peerID}

	for _, stat := range report {
		switch s := stat.(type) {
		case pion.ICECandidatePairStats:
			if s.Nominated {
				raw.CurrentRTTSecs = s.CurrentRoundTripTime
				raw.BytesSent += s.BytesSent
				raw.BytesReceived += s.BytesReceived
			}
		case pion.InboundRTPStreamStats:
			raw.PacketsReceived += uint64(s.PacketsReceived)
			raw.PacketsLost += uint64(s.PacketsLost)
			raw.JitterSecs = s.Jitter
		case pion.OutboundRTPStreamStats:
			raw.PacketsReceived += uint64(s.PacketsSent)
		}
	}

	return raw
}
