package webrtc

import (
	"sync"
	"time"

	"rillnet/internal/core/domain"

	pion "github.com/pion/webrtc/v3"
)

// RecordingSink receives a copy of every forwarded RTP packet for archival,
// independent of the live fan-out to subscribers.
type RecordingSink interface {
	WriteRTP(roomID, peerID string, kind domain.TrackKind, packet []byte)
}

// Publisher is one inbound peer connection contributing media to a room. A
// camera publisher and its sibling screen-share publisher are tracked as two
// Publisher values sharing a peer ID prefix, matching the reference
// implementation's `-screen`-suffixed peer ID convention.
type Publisher struct {
	PeerID string
	Screen bool

	pc *pion.PeerConnection

	video *trackRelay
	audio *trackRelay

	pliStop chan struct{}

	joinedAt time.Time
}

func newPublisher(peerID string, screen bool, pc *pion.PeerConnection) *Publisher {
	return &Publisher{
		PeerID:   peerID,
		Screen:   screen,
		pc:       pc,
		video:    newTrackRelay(trackKindFor(screen, domain.TrackVideo)),
		audio:    newTrackRelay(domain.TrackAudio),
		pliStop:  make(chan struct{}),
		joinedAt: time.Now(),
	}
}

func trackKindFor(screen bool, base domain.TrackKind) domain.TrackKind {
	if screen && base == domain.TrackVideo {
		return domain.TrackScreen
	}
	return base
}

// PeerConnection exposes the underlying pion connection, for the quality
// collector's periodic GetStats() sampling.
func (p *Publisher) PeerConnection() *pion.PeerConnection { return p.pc }

// VideoRelay exposes the publisher's video (or screen) broadcast relay.
func (p *Publisher) VideoRelay() *trackRelay { return p.video }

// AudioRelay exposes the publisher's audio broadcast relay.
func (p *Publisher) AudioRelay() *trackRelay { return p.audio }

func (p *Publisher) close() {
	close(p.pliStop)
	if p.pc != nil {
		_ = p.pc.Close()
	}
}

// Subscriber is one outbound peer connection receiving media. A Call or
// Conference participant's peer connection doubles as a Publisher and a
// Subscriber on the same underlying pion.PeerConnection (see SFU.Call and
// SFU.Conference).
type Subscriber struct {
	ID     string
	pc     *pion.PeerConnection
	cancel func()
}

// Room is the registry entry for one logical call/broadcast/conference,
// holding every publisher currently contributing media and a live
// subscriber count for observability.
type Room struct {
	ID        string
	Type      domain.RoomType
	CreatedAt time.Time

	mu         sync.RWMutex
	publishers []*Publisher // insertion order, ties broken by index
	subCount   int
}

func newRoom(id string, roomType domain.RoomType) *Room {
	return &Room{ID: id, Type: roomType, CreatedAt: time.Now()}
}

// nonScreenPublisherCount counts publishers that count against the
// topology's capacity; screen-share publishers always bypass the cap.
func (r *Room) nonScreenPublisherCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, p := range r.publishers {
		if !p.Screen {
			n++
		}
	}
	return n
}

func (r *Room) addPublisher(p *Publisher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.publishers = append(r.publishers, p)
}

func (r *Room) removePublisher(peerID string) (*Publisher, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, p := range r.publishers {
		if p.PeerID == peerID {
			r.publishers = append(r.publishers[:i], r.publishers[i+1:]...)
			return p, true
		}
	}
	return nil, false
}

func (r *Room) listPublishers() []*Publisher {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Publisher, len(r.publishers))
	copy(out, r.publishers)
	return out
}

func (r *Room) isEmpty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.publishers) == 0
}

// broadcastSourceFor picks the publisher a new subscriber should receive,
// per the reference rule: Broadcast picks the first non-screen publisher;
// Call picks the publisher whose peer ID differs from the subscriber's own;
// ties broken by insertion order.
func (r *Room) broadcastSourceFor(subscriberID string) (*Publisher, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch r.Type {
	case domain.RoomBroadcast:
		for _, p := range r.publishers {
			if !p.Screen {
				return p, true
			}
		}
	default:
		for _, p := range r.publishers {
			if p.PeerID != subscriberID && !p.Screen {
				return p, true
			}
		}
	}
	return nil, false
}

// otherPublishers returns every non-screen publisher other than
// excludePeerID, in join order — the conference join flow adds one receive
// track pair per entry.
func (r *Room) otherPublishers(excludePeerID string) []*Publisher {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Publisher
	for _, p := range r.publishers {
		if p.PeerID != excludePeerID && !p.Screen {
			out = append(out, p)
		}
	}
	return out
}

// screenSourceFor finds an active screen-share sibling, if any.
func (r *Room) screenSourceFor(excludePeerID string) (*Publisher, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.publishers {
		if p.Screen && p.PeerID != excludePeerID {
			return p, true
		}
	}
	return nil, false
}

func (r *Room) incSubscribers() {
	r.mu.Lock()
	r.subCount++
	r.mu.Unlock()
}

func (r *Room) decSubscribers() {
	r.mu.Lock()
	if r.subCount > 0 {
		r.subCount--
	}
	r.mu.Unlock()
}

func (r *Room) SubscriberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.subCount
}

func (r *Room) Descriptor() domain.RoomDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return domain.RoomDescriptor{ID: r.ID, Type: r.Type, CreatedAt: r.CreatedAt}
}
