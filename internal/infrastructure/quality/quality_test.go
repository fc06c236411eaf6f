package quality

import (
	"testing"
	"time"

	"rillnet/internal/core/domain"

	"github.com/stretchr/testify/assert"
)

func TestEstimateMOS_PerfectConditions(t *testing.T) {
	mos := EstimateMOS(0.0, 0.0)
	assert.Greater(t, mos, 4.3)
}

func TestEstimateMOS_DegradedByLoss(t *testing.T) {
	good := EstimateMOS(50.0, 0.0)
	bad := EstimateMOS(50.0, 10.0)
	assert.Greater(t, good, bad)
}

func TestEstimateMOS_DegradedByDelay(t *testing.T) {
	good := EstimateMOS(50.0, 0.0)
	bad := EstimateMOS(500.0, 0.0)
	assert.Greater(t, good, bad)
}

func TestEstimateMOS_AlwaysWithinRange(t *testing.T) {
	mos := EstimateMOS(2000.0, 50.0)
	assert.GreaterOrEqual(t, mos, 1.0)
	assert.LessOrEqual(t, mos, 5.0)
}

func TestComputeMetrics_FirstSampleUsesAbsoluteCounters(t *testing.T) {
	current := RawStats{
		RoomID: "r1", PeerID: "p1",
		BytesSent: 100_000, BytesReceived: 200_000,
		PacketsLost: 5, PacketsReceived: 995,
		CurrentRTTSecs: 0.05, JitterSecs: 0.01,
	}

	m := ComputeMetrics(current, nil, 5*time.Second)

	assert.Equal(t, "r1", m.RoomID)
	assert.Equal(t, 50.0, m.RoundTripTimeMs)
	assert.InDelta(t, 10.0, m.JitterMs, 0.001)
	assert.Greater(t, m.PacketLossPct, 0.0)
	assert.Less(t, m.PacketLossPct, 1.0)
	assert.Greater(t, m.BitrateKbps, 0.0)
}

func TestComputeMetrics_UsesDeltaAgainstPrevious(t *testing.T) {
	prev := RawStats{
		RoomID: "r1", PeerID: "p1",
		BytesSent: 50_000, BytesReceived: 100_000,
		PacketsLost: 2, PacketsReceived: 500,
		CurrentRTTSecs: 0.04, JitterSecs: 0.008,
	}
	current := RawStats{
		RoomID: "r1", PeerID: "p1",
		BytesSent: 100_000, BytesReceived: 200_000,
		PacketsLost: 5, PacketsReceived: 995,
		CurrentRTTSecs: 0.05, JitterSecs: 0.01,
	}

	m := ComputeMetrics(current, &prev, 5*time.Second)

	assert.InDelta(t, 240.0, m.BitrateKbps, 0.1)
	assert.Greater(t, m.PacketLossPct, 0.5)
	assert.Less(t, m.PacketLossPct, 0.7)
}

func TestCheckThresholds_FlagsEachBreachedMetric(t *testing.T) {
	thresholds := DefaultThresholds()
	m := Metrics{
		RoomID: "r1", PeerID: "p1",
		RoundTripTimeMs: 400, PacketLossPct: 10, JitterMs: 80, MOSScore: 2.0,
	}

	degradations := CheckThresholds(m, thresholds)

	assert.Len(t, degradations, 4)
	for _, d := range degradations {
		if d.Metric == "mos_score" {
			assert.Equal(t, domain.DirectionBelow, d.Direction)
		} else {
			assert.Equal(t, domain.DirectionAbove, d.Direction)
		}
	}
}

func TestCheckThresholds_CleanMetricsReportNothing(t *testing.T) {
	thresholds := DefaultThresholds()
	m := Metrics{RoomID: "r1", PeerID: "p1", RoundTripTimeMs: 20, PacketLossPct: 0, JitterMs: 5, MOSScore: 4.5}

	assert.Empty(t, CheckThresholds(m, thresholds))
}
