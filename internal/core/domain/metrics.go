package domain

import "time"

// QualityMetrics is a per (room, peer) snapshot produced by the Quality Collector.
type QualityMetrics struct {
	RoomID    string    `json:"room_id"`
	PeerID    string    `json:"peer_id"`
	RTTMs     float64   `json:"rtt_ms"`
	LossPct   float64   `json:"loss_pct"`
	BitrateKb float64   `json:"bitrate_kbps"`
	JitterMs  float64   `json:"jitter_ms"`
	MOS       float64   `json:"mos"`
	Timestamp time.Time `json:"timestamp"`
}

// RawStatSample is the cumulative counters read from a peer connection's stats
// report on one collection tick; deltas against the previous sample drive the
// derived metrics above.
type RawStatSample struct {
	BytesSent       uint64
	BytesReceived   uint64
	PacketsLost     uint64
	PacketsReceived uint64
	RTTSeconds      float64
	JitterSeconds   float64
	SampledAt       time.Time
}

// DegradationDirection describes which way a metric crossed its threshold.
type DegradationDirection string

const (
	DirectionAbove DegradationDirection = "above"
	DirectionBelow DegradationDirection = "below"
)

// Quality thresholds, per spec.
const (
	ThresholdRTTMs    = 300.0
	ThresholdLossPct  = 5.0
	ThresholdJitterMs = 50.0
	ThresholdMOS      = 3.0
)
