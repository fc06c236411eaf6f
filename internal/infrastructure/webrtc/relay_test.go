package webrtc

import (
	"testing"
	"time"

	"rillnet/internal/core/domain"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
)

func TestTrackRelay_FansOutToAllSubscribers(t *testing.T) {
	relay := newTrackRelay(domain.TrackVideo)
	a := relay.Subscribe("a")
	b := relay.Subscribe("b")

	pkt := &rtp.Packet{Header: rtp.Header{SequenceNumber: 1}}
	relay.Send(pkt)

	select {
	case got := <-a:
		assert.Equal(t, uint16(1), got.SequenceNumber)
	case <-time.After(time.Second):
		t.Fatal("timed out")
	}
	select {
	case got := <-b:
		assert.Equal(t, uint16(1), got.SequenceNumber)
	case <-time.After(time.Second):
		t.Fatal("timed out")
	}
}

func TestTrackRelay_CapacityMatchesTrackKind(t *testing.T) {
	assert.Equal(t, domain.VideoChannelCapacity, newTrackRelay(domain.TrackVideo).capacity)
	assert.Equal(t, domain.AudioChannelCapacity, newTrackRelay(domain.TrackAudio).capacity)
	assert.Equal(t, domain.ScreenChannelCapacity, newTrackRelay(domain.TrackScreen).capacity)
}

func TestTrackRelay_SlowSubscriberDropsOldestInsteadOfBlocking(t *testing.T) {
	relay := newTrackRelay(domain.TrackAudio)
	relay.capacity = 2
	sub := relay.Subscribe("slow")
	_ = sub

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			relay.Send(&rtp.Packet{Header: rtp.Header{SequenceNumber: uint16(i)}})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Send blocked on a slow subscriber")
	}
}

func TestTrackRelay_UnsubscribeClosesChannel(t *testing.T) {
	relay := newTrackRelay(domain.TrackVideo)
	ch := relay.Subscribe("a")
	relay.Unsubscribe("a")

	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 0, relay.subscriberCount())
}

func TestTrackRelay_LearnedCodecRoundTrips(t *testing.T) {
	relay := newTrackRelay(domain.TrackVideo)
	_, _, ok := relay.learnedCodec()
	assert.False(t, ok)

	relay.setCodec(domain.LearnedCodec{MimeType: "video/VP8", ClockRate: 90000}, 12345)
	codec, ssrc, ok := relay.learnedCodec()
	assert.True(t, ok)
	assert.Equal(t, "video/VP8", codec.MimeType)
	assert.Equal(t, uint32(12345), ssrc)
}
