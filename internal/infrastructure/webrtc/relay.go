package webrtc

import (
	"sync"

	"rillnet/internal/core/domain"

	"github.com/pion/rtp"
)

// trackRelay fans a single remote track's RTP stream out to every
// subscriber's bounded receive channel, generalized from a plain slice of
// local tracks to drop-oldest bounded channels so one slow subscriber can
// never stall the read loop.
type trackRelay struct {
	mu          sync.RWMutex
	kind        domain.TrackKind
	capacity    int
	subscribers map[string]chan *rtp.Packet
	lagging     map[string]int
	codec       *domain.LearnedCodec
	ssrc        uint32
}

func newTrackRelay(kind domain.TrackKind) *trackRelay {
	capacity := domain.VideoChannelCapacity
	switch kind {
	case domain.TrackAudio:
		capacity = domain.AudioChannelCapacity
	case domain.TrackScreen:
		capacity = domain.ScreenChannelCapacity
	}
	return &trackRelay{
		kind:        kind,
		capacity:    capacity,
		subscribers: make(map[string]chan *rtp.Packet),
		lagging:     make(map[string]int),
	}
}

// Subscribe returns a new bounded receive channel for subscriberID.
func (r *trackRelay) Subscribe(subscriberID string) <-chan *rtp.Packet {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch := make(chan *rtp.Packet, r.capacity)
	r.subscribers[subscriberID] = ch
	return ch
}

// Unsubscribe removes and closes a subscriber's channel.
func (r *trackRelay) Unsubscribe(subscriberID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ch, ok := r.subscribers[subscriberID]; ok {
		delete(r.subscribers, subscriberID)
		delete(r.lagging, subscriberID)
		close(ch)
	}
}

// Send fans a packet out to all subscribers, dropping the oldest queued
// packet for any subscriber whose channel is full rather than blocking the
// publisher's read loop. Takes the full lock, not RLock, because it mutates
// r.lagging.
func (r *trackRelay) Send(pkt *rtp.Packet) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, ch := range r.subscribers {
		select {
		case ch <- pkt:
		default:
			select {
			case <-ch:
				r.lagging[id]++
			default:
			}
			select {
			case ch <- pkt:
			default:
			}
		}
	}
}

func (r *trackRelay) subscriberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subscribers)
}

func (r *trackRelay) setCodec(codec domain.LearnedCodec, ssrc uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codec = &codec
	r.ssrc = ssrc
}

func (r *trackRelay) learnedCodec() (domain.LearnedCodec, uint32, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.codec == nil {
		return domain.LearnedCodec{}, 0, false
	}
	return *r.codec, r.ssrc, true
}
