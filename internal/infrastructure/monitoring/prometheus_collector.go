package monitoring

import (
	"rillnet/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector exposes the re-scoped metric surface for the SFU core,
// matching engine, and webhook dispatcher (gauges for live counts,
// histograms for sampled distributions, counters for cumulative totals).
type PrometheusCollector struct {
	roomsActiveTotal       prometheus.Gauge
	publishersActiveTotal  *prometheus.GaugeVec
	subscribersActiveTotal *prometheus.GaugeVec

	rtpPacketsForwardedTotal *prometheus.CounterVec
	rtpPacketsDroppedTotal   *prometheus.CounterVec

	mosScore      *prometheus.GaugeVec
	rttSeconds    *prometheus.HistogramVec
	packetLossPct *prometheus.GaugeVec
	qualityDegradedTotal *prometheus.CounterVec

	matchQueueSize        prometheus.Gauge
	matchesCreatedTotal    prometheus.Counter
	matchDurationSeconds   prometheus.Histogram

	webhookDeliveredTotal prometheus.Counter
	webhookFailedTotal    prometheus.Counter
}

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		roomsActiveTotal: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "rillnet_rooms_active_total",
			Help: "Total number of active SFU rooms",
		}),
		publishersActiveTotal: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rillnet_publishers_active_total",
			Help: "Number of active publishers per room",
		}, []string{"room_id"}),
		subscribersActiveTotal: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rillnet_subscribers_active_total",
			Help: "Number of active subscribers per room",
		}, []string{"room_id"}),

		rtpPacketsForwardedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "rillnet_rtp_packets_forwarded_total",
			Help: "Total RTP packets fanned out to subscribers",
		}, []string{"room_id", "track_kind"}),
		rtpPacketsDroppedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "rillnet_rtp_packets_dropped_total",
			Help: "Total RTP packets dropped because a subscriber's bounded channel was full",
		}, []string{"room_id", "track_kind"}),

		mosScore: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rillnet_quality_mos_score",
			Help: "Latest estimated MOS score per publisher",
		}, []string{"room_id", "peer_id"}),
		rttSeconds: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rillnet_quality_rtt_seconds",
			Help:    "Sampled round-trip time per publisher",
			Buckets: []float64{0.01, 0.05, 0.1, 0.2, 0.5, 1},
		}, []string{"room_id"}),
		packetLossPct: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rillnet_quality_packet_loss_pct",
			Help: "Latest estimated packet loss percentage per publisher",
		}, []string{"room_id", "peer_id"}),
		qualityDegradedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "rillnet_quality_degraded_events_total",
			Help: "Total quality.degraded events emitted, by metric",
		}, []string{"metric"}),

		matchQueueSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "rillnet_match_queue_size",
			Help: "Current number of users waiting in the matching queue",
		}),
		matchesCreatedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rillnet_matches_created_total",
			Help: "Total match sessions created",
		}),
		matchDurationSeconds: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "rillnet_match_duration_seconds",
			Help:    "Duration of completed match sessions",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1800},
		}),

		webhookDeliveredTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rillnet_webhook_delivered_total",
			Help: "Total webhook deliveries that succeeded",
		}),
		webhookFailedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rillnet_webhook_failed_total",
			Help: "Total webhook deliveries that exhausted retries",
		}),
	}
}

// SetRoomsActive sets the live room-count gauge, driven by a periodic scrape
// of webrtc.SFU.Rooms() rather than incremental events — the SFU's
// RoomEventSink only reports deletions, not creations.
func (p *PrometheusCollector) SetRoomsActive(n int) { p.roomsActiveTotal.Set(float64(n)) }

func (p *PrometheusCollector) RecordRoomDeleted(roomID string) {
	p.publishersActiveTotal.DeleteLabelValues(roomID)
	p.subscribersActiveTotal.DeleteLabelValues(roomID)
}

func (p *PrometheusCollector) SetPublisherCount(roomID string, n int) {
	p.publishersActiveTotal.WithLabelValues(roomID).Set(float64(n))
}

func (p *PrometheusCollector) SetSubscriberCount(roomID string, n int) {
	p.subscribersActiveTotal.WithLabelValues(roomID).Set(float64(n))
}

func (p *PrometheusCollector) RecordRTPForwarded(roomID string, kind domain.TrackKind) {
	p.rtpPacketsForwardedTotal.WithLabelValues(roomID, trackKindLabel(kind)).Inc()
}

func (p *PrometheusCollector) RecordRTPDropped(roomID string, kind domain.TrackKind) {
	p.rtpPacketsDroppedTotal.WithLabelValues(roomID, trackKindLabel(kind)).Inc()
}

func trackKindLabel(kind domain.TrackKind) string {
	switch kind {
	case domain.TrackAudio:
		return "audio"
	case domain.TrackScreen:
		return "screen"
	default:
		return "video"
	}
}

// RecordQualitySample updates the per-publisher quality gauges on each
// collector tick.
func (p *PrometheusCollector) RecordQualitySample(roomID, peerID string, mos, rttSeconds, packetLossPct float64) {
	p.mosScore.WithLabelValues(roomID, peerID).Set(mos)
	p.rttSeconds.WithLabelValues(roomID).Observe(rttSeconds)
	p.packetLossPct.WithLabelValues(roomID, peerID).Set(packetLossPct)
}

func (p *PrometheusCollector) RecordQualityDegraded(metric string) {
	p.qualityDegradedTotal.WithLabelValues(metric).Inc()
}

func (p *PrometheusCollector) SetMatchQueueSize(n int64) { p.matchQueueSize.Set(float64(n)) }
func (p *PrometheusCollector) RecordMatchCreated()       { p.matchesCreatedTotal.Inc() }
func (p *PrometheusCollector) RecordMatchEnded(durationSecs int64) {
	p.matchDurationSeconds.Observe(float64(durationSecs))
}

func (p *PrometheusCollector) RecordWebhookDelivered() { p.webhookDeliveredTotal.Inc() }
func (p *PrometheusCollector) RecordWebhookFailed()    { p.webhookFailedTotal.Inc() }
