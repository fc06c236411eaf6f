package quality

import (
	"context"
	"sync"
	"time"

	"rillnet/internal/infrastructure/eventbus"
	"rillnet/internal/infrastructure/webrtc"

	"go.uber.org/zap"
)

// peerKey identifies one publisher's connection across sampling ticks.
type peerKey struct {
	roomID string
	peerID string
}

// ConnLister is whatever can enumerate the publishers currently forwarding
// media; webrtc.SFU satisfies it.
type ConnLister interface {
	PublisherConnections() []webrtc.RoomPublisher
}

// Store holds the latest metrics snapshot per peer, serving GET /v1/analytics.
type Store struct {
	mu      sync.RWMutex
	metrics map[peerKey]Metrics
}

func NewStore() *Store { return &Store{metrics: map[peerKey]Metrics{}} }

func (s *Store) upsert(m Metrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics[peerKey{m.RoomID, m.PeerID}] = m
}

func (s *Store) Remove(roomID, peerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.metrics, peerKey{roomID, peerID})
}

// List returns every stored snapshot, optionally filtered to one room.
func (s *Store) List(roomID string) []Metrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Metrics, 0, len(s.metrics))
	for k, m := range s.metrics {
		if roomID != "" && k.roomID != roomID {
			continue
		}
		out = append(out, m)
	}
	return out
}

// SampleRecorder receives each sampled Metrics snapshot; monitoring.PrometheusCollector
// satisfies this.
type SampleRecorder interface {
	RecordQualitySample(roomID, peerID string, mos, rttSeconds, packetLossPct float64)
}

// Collector runs the periodic stats-sampling loop: every Interval, it walks
// every publisher the lister exposes, pulls GetStats(), computes deltas
// against the previous sample, stores the result, and emits quality.degraded
// through the bus for anything past threshold.
type Collector struct {
	Lister     ConnLister
	Bus        *eventbus.Bus
	Store      *Store
	Interval   time.Duration
	Thresholds Thresholds
	Logger     *zap.SugaredLogger
	Metrics    SampleRecorder

	prevMu sync.Mutex
	prev   map[peerKey]RawStats
}

func NewCollector(lister ConnLister, bus *eventbus.Bus, interval time.Duration, logger *zap.SugaredLogger) *Collector {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Collector{
		Lister:     lister,
		Bus:        bus,
		Store:      NewStore(),
		Interval:   interval,
		Thresholds: DefaultThresholds(),
		Logger:     logger,
		prev:       map[peerKey]RawStats{},
	}
}

// Run blocks, sampling on a ticker until ctx is cancelled.
func (c *Collector) Run(ctx context.Context) {
	c.Logger.Infow("quality collector started", "interval", c.Interval)
	ticker := time.NewTicker(c.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sampleOnce(ctx)
		}
	}
}

func (c *Collector) sampleOnce(ctx context.Context) {
	conns := c.Lister.PublisherConnections()
	seen := make(map[peerKey]struct{}, len(conns))

	for _, conn := range conns {
		if conn.PC == nil {
			continue
		}
		key := peerKey{conn.RoomID, conn.PeerID}
		seen[key] = struct{}{}

		report := conn.PC.GetStats()
		raw := extractRawStats(conn.RoomID, conn.PeerID, report)

		c.prevMu.Lock()
		prev, hadPrev := c.prev[key]
		c.prev[key] = raw
		c.prevMu.Unlock()

		var prevPtr *RawStats
		if hadPrev {
			prevPtr = &prev
		}

		metrics := ComputeMetrics(raw, prevPtr, c.Interval)
		c.Store.upsert(metrics)
		if c.Metrics != nil {
			c.Metrics.RecordQualitySample(conn.RoomID, conn.PeerID, metrics.MOSScore, metrics.RoundTripTimeMs/1000, metrics.PacketLossPct)
		}

		for _, d := range CheckThresholds(metrics, c.Thresholds) {
			if c.Bus != nil {
				c.Bus.Emit(eventbus.QualityDegraded(conn.RoomID, conn.PeerID, d.Metric, d.Value, d.Threshold, d.Direction))
			}
		}
	}

	c.prevMu.Lock()
	for key := range c.prev {
		if _, ok := seen[key]; !ok {
			delete(c.prev, key)
			c.Store.Remove(key.roomID, key.peerID)
		}
	}
	c.prevMu.Unlock()
}
