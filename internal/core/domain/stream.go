package domain

import "time"

// RoomType is the topology of a room: how many publishers it tolerates and
// how subscribers are wired to them.
type RoomType string

const (
	RoomBroadcast  RoomType = "broadcast"
	RoomCall       RoomType = "call"
	RoomConference RoomType = "conference"
)

// MaxPublishers returns the publisher cap for the topology, ignoring
// screen-share publishers which always bypass the cap.
func (t RoomType) MaxPublishers() int {
	switch t {
	case RoomBroadcast:
		return 1
	case RoomCall:
		return 2
	case RoomConference:
		return 16
	default:
		return 1
	}
}

// RoomDescriptor is the plain-data view of a room, independent of the live
// peer-connection state the SFU infrastructure layer tracks separately.
type RoomDescriptor struct {
	ID        string    `json:"id"`
	Type      RoomType  `json:"type"`
	CreatedAt time.Time `json:"created_at"`
}

// TrackKind distinguishes the three broadcast lanes a publisher may carry.
type TrackKind uint8

const (
	TrackVideo TrackKind = iota
	TrackAudio
	TrackScreen
)

func (k TrackKind) String() string {
	switch k {
	case TrackVideo:
		return "video"
	case TrackAudio:
		return "audio"
	case TrackScreen:
		return "screen"
	default:
		return "unknown"
	}
}

// Broadcast channel capacities, per spec: 300 video / 100 audio / 300 screen.
const (
	VideoChannelCapacity  = 300
	AudioChannelCapacity  = 100
	ScreenChannelCapacity = 300
)

// SourceTag distinguishes a camera publisher from its sibling screen-share
// publisher.
type SourceTag string

const (
	SourceCamera SourceTag = "camera"
	SourceScreen SourceTag = "screen"
)

// LearnedCodec captures the codec capability discovered from a publisher's
// first inbound RTP track, so a subscriber's local tracks can be created
// with matching parameters instead of guessing.
type LearnedCodec struct {
	MimeType    string
	ClockRate   uint32
	Channels    uint16
	SDPFmtpLine string
}

// DefaultVideoCodec is the VP8 fallback used when a subscriber's wait for
// the publisher's learned codec times out (never fatal, per spec).
var DefaultVideoCodec = LearnedCodec{MimeType: "video/VP8", ClockRate: 90000}

// DefaultAudioCodec is the Opus fallback used symmetrically for audio.
var DefaultAudioCodec = LearnedCodec{MimeType: "audio/opus", ClockRate: 48000, Channels: 2}

// JWT roles accepted by the SFU signalling surface.
type Role string

const (
	RolePublish    Role = "publish"
	RoleSubscribe  Role = "subscribe"
	RoleCall       Role = "call"
	RoleConference Role = "conference"
)
