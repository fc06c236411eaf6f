package domain

import "time"

// EventType tags the variant held by a LiveRelayEvent.
type EventType string

const (
	EventRoomCreated        EventType = "room_created"
	EventRoomDeleted        EventType = "room_deleted"
	EventParticipantJoined  EventType = "participant_joined"
	EventParticipantLeft    EventType = "participant_left"
	EventStreamStarted      EventType = "stream_started"
	EventStreamStopped      EventType = "stream_stopped"
	EventQualityDegraded    EventType = "quality_degraded"
)

// RoomEventData backs RoomCreated/RoomDeleted.
type RoomEventData struct {
	RoomID   string `json:"room_id"`
	RoomType string `json:"room_type"`
}

// ParticipantEventData backs ParticipantJoined/ParticipantLeft.
type ParticipantEventData struct {
	RoomID string `json:"room_id"`
	PeerID string `json:"peer_id"`
	Role   string `json:"role"`
}

// StreamEventData backs StreamStarted/StreamStopped.
type StreamEventData struct {
	RoomID string `json:"room_id"`
	PeerID string `json:"peer_id"`
	Kind   string `json:"kind"`
}

// QualityEventData backs QualityDegraded.
type QualityEventData struct {
	RoomID    string               `json:"room_id"`
	PeerID    string               `json:"peer_id"`
	Metric    string               `json:"metric"`
	Value     float64              `json:"value"`
	Threshold float64              `json:"threshold"`
	Direction DegradationDirection `json:"direction"`
}

// LiveRelayEvent is the tagged union of everything the Event Bus carries.
// Exactly one of the Data fields is populated, matching Type.
type LiveRelayEvent struct {
	ID        string                `json:"id"`
	Type      EventType             `json:"type"`
	CreatedAt time.Time             `json:"created_at"`
	Room      *RoomEventData        `json:"room,omitempty"`
	Participant *ParticipantEventData `json:"participant,omitempty"`
	Stream    *StreamEventData      `json:"stream,omitempty"`
	Quality   *QualityEventData     `json:"quality,omitempty"`
}

// RoomID extracts the room identifier present in every variant.
func (e LiveRelayEvent) RoomID() string {
	switch {
	case e.Room != nil:
		return e.Room.RoomID
	case e.Participant != nil:
		return e.Participant.RoomID
	case e.Stream != nil:
		return e.Stream.RoomID
	case e.Quality != nil:
		return e.Quality.RoomID
	default:
		return ""
	}
}
