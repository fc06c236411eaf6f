// Package eventbus implements the in-process broadcast fabric (Component A)
// that connects SFU/matching lifecycle changes to downstream consumers —
// webhook dispatch, quality analytics, SSE streams.
package eventbus

import (
	"sync"
	"time"

	"rillnet/internal/core/domain"

	"github.com/google/uuid"
)

// DefaultCapacity is the default per-subscriber channel depth.
const DefaultCapacity = 4096

// Lagged is delivered to a subscriber in place of the events it missed,
// reporting exactly how many were dropped while it fell behind.
type Lagged struct {
	N int
}

// Delivery is either a LiveRelayEvent or a Lagged marker; exactly one field
// is non-zero.
type Delivery struct {
	Event  *domain.LiveRelayEvent
	Lagged *Lagged
}

type subscriber struct {
	ch      chan Delivery
	mu      sync.Mutex
	lagging int
}

// Bus is a fixed-capacity, multi-consumer broadcast channel. Publishing with
// zero subscribers is a no-op, never an error; slow consumers are skipped
// forward rather than blocking the producer.
type Bus struct {
	mu          sync.RWMutex
	capacity    int
	subscribers map[int64]*subscriber
	nextID      int64
}

// New constructs a Bus with DefaultCapacity per-subscriber channels.
func New() *Bus {
	return WithCapacity(DefaultCapacity)
}

// WithCapacity constructs a Bus with an explicit per-subscriber channel depth.
func WithCapacity(capacity int) *Bus {
	return &Bus{
		capacity:    capacity,
		subscribers: make(map[int64]*subscriber),
	}
}

// Receiver is an independent receive cursor obtained via Subscribe. Events
// are observed only for emissions strictly after subscription.
type Receiver struct {
	bus *Bus
	id  int64
	sub *subscriber
}

// Subscribe registers a new independent receive cursor.
func (b *Bus) Subscribe() *Receiver {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++

	sub := &subscriber{ch: make(chan Delivery, b.capacity)}
	b.subscribers[id] = sub

	return &Receiver{bus: b, id: id, sub: sub}
}

// Unsubscribe removes the receiver from the bus; subsequent emits will not
// be delivered to it.
func (r *Receiver) Unsubscribe() {
	r.bus.mu.Lock()
	defer r.bus.mu.Unlock()
	delete(r.bus.subscribers, r.id)
}

// Recv blocks until a delivery (event or lag marker) is available, or the
// done channel closes.
func (r *Receiver) Recv(done <-chan struct{}) (Delivery, bool) {
	select {
	case d := <-r.sub.ch:
		return d, true
	case <-done:
		return Delivery{}, false
	}
}

// C exposes the underlying channel for select-based consumption.
func (r *Receiver) C() <-chan Delivery {
	return r.sub.ch
}

// Emit publishes an event to every current subscriber, returning the count
// of receivers delivered to (non-lagged deliveries only).
func (b *Bus) Emit(evt domain.LiveRelayEvent) int {
	if evt.ID == "" {
		evt.ID = "evt_" + uuid.NewString()
	}
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	delivered := 0
	for _, sub := range b.subscribers {
		if sub.send(Delivery{Event: &evt}) {
			delivered++
		}
	}
	return delivered
}

// send attempts a non-blocking delivery; on a full channel it drops the
// oldest queued delivery to make room and increments the lag counter, so the
// subscriber observes a Lagged(n) marker on its next receive instead of ever
// blocking the producer.
func (s *subscriber) send(d Delivery) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case s.ch <- d:
		return true
	default:
	}

	// Channel full: drop the oldest entry to make room, track the loss. A
	// dropped Lagged marker carries its own count forward.
	select {
	case old := <-s.ch:
		if old.Lagged != nil {
			s.lagging += old.Lagged.N
		} else {
			s.lagging++
		}
	default:
	}
	// The incoming event itself is not queued either.
	s.lagging++

	select {
	case s.ch <- Delivery{Lagged: &Lagged{N: s.lagging}}:
		s.lagging = 0
	default:
		// Still full (racing receiver); lag count persists for next attempt.
	}
	return false
}

// SubscriberCount reports the number of currently active receivers, useful
// for tests and for the "publishing with zero subscribers is a no-op" check.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Event constructors, grounded on original_source's events.rs helpers.

func RoomCreated(roomID, roomType string) domain.LiveRelayEvent {
	return domain.LiveRelayEvent{
		Type: domain.EventRoomCreated,
		Room: &domain.RoomEventData{RoomID: roomID, RoomType: roomType},
	}
}

func RoomDeleted(roomID, roomType string) domain.LiveRelayEvent {
	return domain.LiveRelayEvent{
		Type: domain.EventRoomDeleted,
		Room: &domain.RoomEventData{RoomID: roomID, RoomType: roomType},
	}
}

func ParticipantJoined(roomID, peerID, role string) domain.LiveRelayEvent {
	return domain.LiveRelayEvent{
		Type:        domain.EventParticipantJoined,
		Participant: &domain.ParticipantEventData{RoomID: roomID, PeerID: peerID, Role: role},
	}
}

func ParticipantLeft(roomID, peerID, role string) domain.LiveRelayEvent {
	return domain.LiveRelayEvent{
		Type:        domain.EventParticipantLeft,
		Participant: &domain.ParticipantEventData{RoomID: roomID, PeerID: peerID, Role: role},
	}
}

func StreamStarted(roomID, peerID, kind string) domain.LiveRelayEvent {
	return domain.LiveRelayEvent{
		Type:   domain.EventStreamStarted,
		Stream: &domain.StreamEventData{RoomID: roomID, PeerID: peerID, Kind: kind},
	}
}

func StreamStopped(roomID, peerID, kind string) domain.LiveRelayEvent {
	return domain.LiveRelayEvent{
		Type:   domain.EventStreamStopped,
		Stream: &domain.StreamEventData{RoomID: roomID, PeerID: peerID, Kind: kind},
	}
}

func QualityDegraded(roomID, peerID, metric string, value, threshold float64, dir domain.DegradationDirection) domain.LiveRelayEvent {
	return domain.LiveRelayEvent{
		Type: domain.EventQualityDegraded,
		Quality: &domain.QualityEventData{
			RoomID: roomID, PeerID: peerID, Metric: metric,
			Value: value, Threshold: threshold, Direction: dir,
		},
	}
}
