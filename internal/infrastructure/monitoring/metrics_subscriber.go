package monitoring

import (
	"context"

	"rillnet/internal/core/domain"
	"rillnet/internal/infrastructure/eventbus"

	"go.uber.org/zap"
)

// MetricsSubscriber drives the PrometheusCollector off the event bus,
// grounded on the webhook package's Dispatcher.Run subscribe-and-drain loop.
type MetricsSubscriber struct {
	Collector *PrometheusCollector
	Bus       *eventbus.Bus
	Logger    *zap.SugaredLogger

	recv *eventbus.Receiver
}

func NewMetricsSubscriber(collector *PrometheusCollector, bus *eventbus.Bus, logger *zap.SugaredLogger) *MetricsSubscriber {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &MetricsSubscriber{Collector: collector, Bus: bus, Logger: logger}
}

// Run subscribes to the bus and updates gauges/counters until ctx is
// cancelled.
func (m *MetricsSubscriber) Run(ctx context.Context) {
	m.recv = m.Bus.Subscribe()
	defer m.recv.Unsubscribe()

	done := ctx.Done()
	for {
		delivery, ok := m.recv.Recv(done)
		if !ok {
			return
		}
		if delivery.Lagged != nil {
			m.Logger.Warnw("metrics subscriber lagged", "skipped", delivery.Lagged.N)
			continue
		}
		m.handle(*delivery.Event)
	}
}

func (m *MetricsSubscriber) handle(evt domain.LiveRelayEvent) {
	switch evt.Type {
	case domain.EventRoomDeleted:
		if evt.Room != nil {
			m.Collector.RecordRoomDeleted(evt.Room.RoomID)
		}
	case domain.EventQualityDegraded:
		if evt.Quality != nil {
			m.Collector.RecordQualityDegraded(evt.Quality.Metric)
		}
	}
}
