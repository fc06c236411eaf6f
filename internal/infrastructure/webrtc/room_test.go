package webrtc

import (
	"testing"

	"rillnet/internal/core/domain"

	"github.com/stretchr/testify/assert"
)

func TestRoom_NonScreenPublisherCountIgnoresScreenShare(t *testing.T) {
	room := newRoom("room-1", domain.RoomCall)
	room.addPublisher(&Publisher{PeerID: "p1", video: newTrackRelay(domain.TrackVideo), audio: newTrackRelay(domain.TrackAudio)})
	room.addPublisher(&Publisher{PeerID: "p1-screen", Screen: true, video: newTrackRelay(domain.TrackScreen), audio: newTrackRelay(domain.TrackAudio)})

	assert.Equal(t, 1, room.nonScreenPublisherCount())
}

func TestRoom_BroadcastSourceIsFirstNonScreenPublisher(t *testing.T) {
	room := newRoom("room-1", domain.RoomBroadcast)
	screen := &Publisher{PeerID: "p1-screen", Screen: true, video: newTrackRelay(domain.TrackScreen), audio: newTrackRelay(domain.TrackAudio)}
	cam := &Publisher{PeerID: "p1", video: newTrackRelay(domain.TrackVideo), audio: newTrackRelay(domain.TrackAudio)}
	room.addPublisher(screen)
	room.addPublisher(cam)

	source, ok := room.broadcastSourceFor("subscriber-1")
	assert.True(t, ok)
	assert.Equal(t, "p1", source.PeerID)
}

func TestRoom_CallSourceExcludesSubscribersOwnPublisher(t *testing.T) {
	room := newRoom("room-1", domain.RoomCall)
	room.addPublisher(&Publisher{PeerID: "alice", video: newTrackRelay(domain.TrackVideo), audio: newTrackRelay(domain.TrackAudio)})
	room.addPublisher(&Publisher{PeerID: "bob", video: newTrackRelay(domain.TrackVideo), audio: newTrackRelay(domain.TrackAudio)})

	source, ok := room.broadcastSourceFor("alice")
	assert.True(t, ok)
	assert.Equal(t, "bob", source.PeerID)
}

func TestRoom_ScreenSourceForFindsActiveScreenShare(t *testing.T) {
	room := newRoom("room-1", domain.RoomCall)
	room.addPublisher(&Publisher{PeerID: "alice", video: newTrackRelay(domain.TrackVideo), audio: newTrackRelay(domain.TrackAudio)})
	room.addPublisher(&Publisher{PeerID: "alice-screen", Screen: true, video: newTrackRelay(domain.TrackScreen), audio: newTrackRelay(domain.TrackAudio)})

	source, ok := room.screenSourceFor("bob")
	assert.True(t, ok)
	assert.Equal(t, "alice-screen", source.PeerID)
}

func TestRoom_OtherPublishersExcludesSelfAndScreens(t *testing.T) {
	room := newRoom("room-1", domain.RoomConference)
	room.addPublisher(&Publisher{PeerID: "alice", video: newTrackRelay(domain.TrackVideo), audio: newTrackRelay(domain.TrackAudio)})
	room.addPublisher(&Publisher{PeerID: "bob", video: newTrackRelay(domain.TrackVideo), audio: newTrackRelay(domain.TrackAudio)})
	room.addPublisher(&Publisher{PeerID: "bob-screen", Screen: true, video: newTrackRelay(domain.TrackScreen), audio: newTrackRelay(domain.TrackAudio)})
	room.addPublisher(&Publisher{PeerID: "carol", video: newTrackRelay(domain.TrackVideo), audio: newTrackRelay(domain.TrackAudio)})

	others := room.otherPublishers("alice")

	assert.Len(t, others, 2)
	assert.Equal(t, "bob", others[0].PeerID)
	assert.Equal(t, "carol", others[1].PeerID)
}

func TestRoom_OtherPublishersEmptyWhenAlone(t *testing.T) {
	room := newRoom("room-1", domain.RoomConference)
	room.addPublisher(&Publisher{PeerID: "alice", video: newTrackRelay(domain.TrackVideo), audio: newTrackRelay(domain.TrackAudio)})

	assert.Empty(t, room.otherPublishers("alice"))
}

func TestRoom_SubscriberCountIncDec(t *testing.T) {
	room := newRoom("room-1", domain.RoomBroadcast)
	room.incSubscribers()
	room.incSubscribers()
	assert.Equal(t, 2, room.SubscriberCount())
	room.decSubscribers()
	assert.Equal(t, 1, room.SubscriberCount())
}

func TestRoom_RemovePublisherReturnsFalseWhenAbsent(t *testing.T) {
	room := newRoom("room-1", domain.RoomBroadcast)
	_, ok := room.removePublisher("ghost")
	assert.False(t, ok)
}

func TestRoomType_MaxPublishers(t *testing.T) {
	assert.Equal(t, 1, domain.RoomBroadcast.MaxPublishers())
	assert.Equal(t, 2, domain.RoomCall.MaxPublishers())
	assert.Equal(t, 16, domain.RoomConference.MaxPublishers())
}
