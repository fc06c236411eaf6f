package webrtc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"rillnet/internal/core/domain"
	apperrors "rillnet/pkg/errors"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	pion "github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// RoomEventSink receives lifecycle notifications the SFU emits as it
// creates/tears down rooms and publishers; internal/infrastructure/eventbus
// satisfies this through a thin adapter in cmd/sfu's wiring.
type RoomEventSink interface {
	RoomDeleted(roomID string, roomType domain.RoomType)
	ParticipantLeft(roomID, peerID, role string)
}

// SFU is the process-wide room registry and signalling entry point.
type SFU struct {
	cfg      Config
	mu       sync.RWMutex
	rooms    map[string]*Room
	sink     RecordingSink
	events   RoomEventSink
	logger   *zap.SugaredLogger
}

func New(cfg Config, logger *zap.SugaredLogger) *SFU {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &SFU{
		cfg:    cfg,
		rooms:  make(map[string]*Room),
		logger: logger,
	}
}

func (s *SFU) SetRecordingSink(sink RecordingSink) { s.sink = sink }
func (s *SFU) SetEventSink(sink RoomEventSink)      { s.events = sink }

func (s *SFU) getOrCreateRoom(roomID string, roomType domain.RoomType) *Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rooms[roomID]; ok {
		return r
	}
	r := newRoom(roomID, roomType)
	s.rooms[roomID] = r
	return r
}

func (s *SFU) getRoom(roomID string) (*Room, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[roomID]
	return r, ok
}

func (s *SFU) deleteRoomIfEmpty(room *Room) {
	if !room.isEmpty() {
		return
	}
	s.mu.Lock()
	delete(s.rooms, room.ID)
	s.mu.Unlock()
	if s.events != nil {
		s.events.RoomDeleted(room.ID, room.Type)
	}
}

// Rooms returns a point-in-time snapshot of every room's descriptor, for the
// room-listing HTTP endpoint.
func (s *SFU) Rooms() []domain.RoomDescriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.RoomDescriptor, 0, len(s.rooms))
	for _, r := range s.rooms {
		out = append(out, r.Descriptor())
	}
	return out
}

// RoomPublisher is one (roomID, peerID, connection) tuple, returned by
// PublisherConnections for the quality collector's sampling pass.
type RoomPublisher struct {
	RoomID string
	PeerID string
	PC     *pion.PeerConnection
}

// PublisherConnections snapshots every active publisher across every room,
// for periodic stats sampling.
func (s *SFU) PublisherConnections() []RoomPublisher {
	s.mu.RLock()
	rooms := make([]*Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		rooms = append(rooms, r)
	}
	s.mu.RUnlock()

	var out []RoomPublisher
	for _, r := range rooms {
		for _, p := range r.listPublishers() {
			out = append(out, RoomPublisher{RoomID: r.ID, PeerID: p.PeerID, PC: p.PeerConnection()})
		}
	}
	return out
}

// DeleteRoom forcibly closes every publisher in a room and removes it,
// backing the operator-facing DELETE /v1/rooms/:id endpoint.
func (s *SFU) DeleteRoom(roomID string) bool {
	s.mu.Lock()
	room, ok := s.rooms[roomID]
	if ok {
		delete(s.rooms, roomID)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	for _, p := range room.listPublishers() {
		p.close()
	}
	if s.events != nil {
		s.events.RoomDeleted(roomID, room.Type)
	}
	return true
}

func (s *SFU) newPeerConnection() (*pion.PeerConnection, error) {
	mediaEngine := &pion.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	settingEngine := pion.SettingEngine{}
	if s.cfg.PortMin != 0 && s.cfg.PortMax != 0 {
		_ = settingEngine.SetEphemeralUDPPortRange(s.cfg.PortMin, s.cfg.PortMax)
	}

	api := pion.NewAPI(pion.WithMediaEngine(mediaEngine), pion.WithSettingEngine(settingEngine))
	return api.NewPeerConnection(pion.Configuration{ICEServers: s.cfg.iceServers()})
}

// PublishRequest describes one inbound publish attempt.
type PublishRequest struct {
	RoomID   string
	RoomType domain.RoomType
	PeerID   string
	Screen   bool
	Offer    string
}

// Publish implements the publish flow: capacity check, peer connection
// construction, on-track learning, PLI ticking, and SDP exchange.
func (s *SFU) Publish(ctx context.Context, req PublishRequest) (string, error) {
	room := s.getOrCreateRoom(req.RoomID, req.RoomType)

	if !req.Screen && room.nonScreenPublisherCount() >= req.RoomType.MaxPublishers() {
		return "", apperrors.NewRoomFullError(req.RoomID)
	}

	peerID := req.PeerID
	if req.Screen {
		peerID = req.PeerID + "-screen"
	}

	pc, err := s.newPeerConnection()
	if err != nil {
		return "", apperrors.NewPeerConnectionFailedError(err)
	}

	publisher := newPublisher(peerID, req.Screen, pc)

	pc.OnTrack(func(track *pion.TrackRemote, receiver *pion.RTPReceiver) {
		s.handlePublisherTrack(req.RoomID, publisher, track, receiver)
	})

	pc.OnConnectionStateChange(func(state pion.PeerConnectionState) {
		if state == pion.PeerConnectionStateFailed || state == pion.PeerConnectionStateDisconnected || state == pion.PeerConnectionStateClosed {
			s.removePublisher(req.RoomID, room, peerID)
		}
	})

	answerSDP, err := s.exchangeSDP(pc, req.Offer)
	if err != nil {
		_ = pc.Close()
		return "", err
	}

	room.addPublisher(publisher)
	s.startPLI(publisher)

	return answerSDP, nil
}

func (s *SFU) removePublisher(roomID string, room *Room, peerID string) {
	publisher, ok := room.removePublisher(peerID)
	if !ok {
		return
	}
	publisher.close()
	if s.events != nil {
		s.events.ParticipantLeft(roomID, peerID, "publish")
	}
	s.deleteRoomIfEmpty(room)
}

func (s *SFU) handlePublisherTrack(roomID string, publisher *Publisher, track *pion.TrackRemote, _ *pion.RTPReceiver) {
	kind := domain.TrackAudio
	relay := publisher.audio
	if track.Kind() == pion.RTPCodecTypeVideo {
		kind = trackKindFor(publisher.Screen, domain.TrackVideo)
		relay = publisher.video
	}

	codec := track.Codec()
	relay.setCodec(domain.LearnedCodec{
		MimeType:    codec.MimeType,
		ClockRate:   codec.ClockRate,
		Channels:    codec.Channels,
		SDPFmtpLine: codec.SDPFmtpLine,
	}, uint32(track.SSRC()))

	buf := make([]byte, 1500)
	for {
		n, _, err := track.Read(buf)
		if err != nil {
			return
		}
		pkt := &rtp.Packet{}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			continue
		}
		relay.Send(pkt)

		if s.sink != nil {
			cp := make([]byte, n)
			copy(cp, buf[:n])
			s.sink.WriteRTP(roomID, publisher.PeerID, kind, cp)
		}
	}
}

// startPLI spawns a 3s PLI ticker for the publisher's active SSRCs, per
// spec; stops when the publisher closes.
func (s *SFU) startPLI(p *Publisher) {
	interval := s.cfg.PLIInterval
	if interval <= 0 {
		interval = 3 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-p.pliStop:
				return
			case <-ticker.C:
				s.sendPLI(p)
			}
		}
	}()
}

func (s *SFU) sendPLI(p *Publisher) {
	if _, ssrc, ok := p.video.learnedCodec(); ok {
		_ = p.pc.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: ssrc}})
	}
}

// CallRequest describes one inbound call-topology offer.
type CallRequest struct {
	RoomID string
	PeerID string
	Offer  string
}

// Call implements the fused publish+subscribe flow for the two-party call
// topology: the peer's own media is published as usual, and if the other
// call participant is already publishing, this same peer connection also
// receives their video/audio, fed by fanOut from that publisher's relays.
// A peer that calls first still gets an answer with no receive tracks; the
// second peer to call picks up the first one's media immediately.
func (s *SFU) Call(ctx context.Context, req CallRequest) (string, error) {
	room := s.getOrCreateRoom(req.RoomID, domain.RoomCall)

	if room.nonScreenPublisherCount() >= domain.RoomCall.MaxPublishers() {
		return "", apperrors.NewRoomFullError(req.RoomID)
	}

	other, hasOther := room.broadcastSourceFor(req.PeerID)

	pc, err := s.newPeerConnection()
	if err != nil {
		return "", apperrors.NewPeerConnectionFailedError(err)
	}

	publisher := newPublisher(req.PeerID, false, pc)
	pc.OnTrack(func(track *pion.TrackRemote, receiver *pion.RTPReceiver) {
		s.handlePublisherTrack(req.RoomID, publisher, track, receiver)
	})

	var fanCancel context.CancelFunc
	if hasOther {
		var fanCtx context.Context
		fanCtx, fanCancel = context.WithCancel(context.Background())

		videoCodec := s.awaitLearnedCodec(ctx, other.video, domain.DefaultVideoCodec)
		videoTrack, err := pion.NewTrackLocalStaticRTP(pion.RTPCodecCapability{MimeType: videoCodec.MimeType, ClockRate: videoCodec.ClockRate}, "video", "liverelay-cam")
		if err != nil {
			fanCancel()
			_ = pc.Close()
			return "", apperrors.NewPeerConnectionFailedError(err)
		}
		if _, err := pc.AddTrack(videoTrack); err != nil {
			fanCancel()
			_ = pc.Close()
			return "", apperrors.NewPeerConnectionFailedError(err)
		}

		audioCodec := s.awaitLearnedCodec(ctx, other.audio, domain.DefaultAudioCodec)
		audioTrack, err := pion.NewTrackLocalStaticRTP(pion.RTPCodecCapability{MimeType: audioCodec.MimeType, ClockRate: audioCodec.ClockRate, Channels: audioCodec.Channels}, "audio", "liverelay-cam")
		if err != nil {
			fanCancel()
			_ = pc.Close()
			return "", apperrors.NewPeerConnectionFailedError(err)
		}
		if _, err := pc.AddTrack(audioTrack); err != nil {
			fanCancel()
			_ = pc.Close()
			return "", apperrors.NewPeerConnectionFailedError(err)
		}

		go s.fanOut(fanCtx, other.video, videoTrack)
		go s.fanOut(fanCtx, other.audio, audioTrack)
		s.sendPLI(other)
	}

	pc.OnConnectionStateChange(func(state pion.PeerConnectionState) {
		if state == pion.PeerConnectionStateFailed || state == pion.PeerConnectionStateDisconnected || state == pion.PeerConnectionStateClosed {
			if fanCancel != nil {
				fanCancel()
			}
			s.removePublisher(req.RoomID, room, req.PeerID)
		}
	})

	answerSDP, err := s.exchangeSDP(pc, req.Offer)
	if err != nil {
		if fanCancel != nil {
			fanCancel()
		}
		_ = pc.Close()
		return "", err
	}

	room.addPublisher(publisher)
	s.startPLI(publisher)

	return answerSDP, nil
}

// ConferenceRequest describes one inbound conference-topology offer.
type ConferenceRequest struct {
	RoomID string
	PeerID string
	Offer  string
}

// ConferenceJoin is the result of joining a conference room.
type ConferenceJoin struct {
	SDP string
	// Participants holds the peer IDs of every publisher already present at
	// join time, in the same order their receive tracks were added to the
	// answer SDP.
	Participants []string
}

// Conference implements the N-party join flow: the peer's own media is
// published as usual, and one receive track pair is added to the same peer
// connection for every publisher already present, fed by fanOut from each
// one's relays. A newcomer who joins after this peer reaches them instead
// through SFU.Subscribe on a separate subscribe-only connection
// (conferenceSubscribe), avoiding renegotiation of this one.
func (s *SFU) Conference(ctx context.Context, req ConferenceRequest) (ConferenceJoin, error) {
	room := s.getOrCreateRoom(req.RoomID, domain.RoomConference)

	if room.nonScreenPublisherCount() >= domain.RoomConference.MaxPublishers() {
		return ConferenceJoin{}, apperrors.NewRoomFullError(req.RoomID)
	}

	others := room.otherPublishers(req.PeerID)

	pc, err := s.newPeerConnection()
	if err != nil {
		return ConferenceJoin{}, apperrors.NewPeerConnectionFailedError(err)
	}

	publisher := newPublisher(req.PeerID, false, pc)
	pc.OnTrack(func(track *pion.TrackRemote, receiver *pion.RTPReceiver) {
		s.handlePublisherTrack(req.RoomID, publisher, track, receiver)
	})

	fanCtx, fanCancel := context.WithCancel(context.Background())
	participants := make([]string, 0, len(others))
	for _, other := range others {
		streamID := "liverelay-" + shortPeerID(other.PeerID)

		videoCodec := s.awaitLearnedCodec(ctx, other.video, domain.DefaultVideoCodec)
		videoTrack, err := pion.NewTrackLocalStaticRTP(pion.RTPCodecCapability{MimeType: videoCodec.MimeType, ClockRate: videoCodec.ClockRate}, "video-"+other.PeerID, streamID)
		if err != nil {
			s.logger.Warnw("conference: skipping receive track", "room_id", req.RoomID, "peer_id", other.PeerID, "err", err)
			continue
		}
		if _, err := pc.AddTrack(videoTrack); err != nil {
			s.logger.Warnw("conference: skipping receive track", "room_id", req.RoomID, "peer_id", other.PeerID, "err", err)
			continue
		}

		audioCodec := s.awaitLearnedCodec(ctx, other.audio, domain.DefaultAudioCodec)
		audioTrack, err := pion.NewTrackLocalStaticRTP(pion.RTPCodecCapability{MimeType: audioCodec.MimeType, ClockRate: audioCodec.ClockRate, Channels: audioCodec.Channels}, "audio-"+other.PeerID, streamID)
		if err != nil {
			s.logger.Warnw("conference: skipping receive track", "room_id", req.RoomID, "peer_id", other.PeerID, "err", err)
			continue
		}
		if _, err := pc.AddTrack(audioTrack); err != nil {
			s.logger.Warnw("conference: skipping receive track", "room_id", req.RoomID, "peer_id", other.PeerID, "err", err)
			continue
		}

		go s.fanOut(fanCtx, other.video, videoTrack)
		go s.fanOut(fanCtx, other.audio, audioTrack)
		s.sendPLI(other)

		participants = append(participants, other.PeerID)
	}

	pc.OnConnectionStateChange(func(state pion.PeerConnectionState) {
		if state == pion.PeerConnectionStateFailed || state == pion.PeerConnectionStateDisconnected || state == pion.PeerConnectionStateClosed {
			fanCancel()
			s.removePublisher(req.RoomID, room, req.PeerID)
			room.decSubscribers()
		}
	})

	answerSDP, err := s.exchangeSDP(pc, req.Offer)
	if err != nil {
		fanCancel()
		_ = pc.Close()
		return ConferenceJoin{}, err
	}

	room.addPublisher(publisher)
	room.incSubscribers()
	s.startPLI(publisher)

	return ConferenceJoin{SDP: answerSDP, Participants: participants}, nil
}

// shortPeerID supplies the first 8 chars of the "liverelay-{first 8 chars}"
// stream-id scheme so
// every conference participant's receive tracks get a stable, readable
// stream ID without leaking the full peer ID.
func shortPeerID(peerID string) string {
	if len(peerID) <= 8 {
		return peerID
	}
	return peerID[:8]
}

// SubscribeRequest describes one inbound subscribe attempt.
type SubscribeRequest struct {
	RoomID       string
	SubscriberID string
	Offer        string
}

// Subscribe implements the subscribe flow: source selection, publisher-ready
// wait, local-track construction, SDP exchange, per-track fan-out, and an
// immediate keyframe request.
func (s *SFU) Subscribe(ctx context.Context, req SubscribeRequest) (string, error) {
	room, ok := s.getRoom(req.RoomID)
	if !ok || room.isEmpty() {
		return "", apperrors.NewNoPublisherAvailableError(req.RoomID)
	}

	source, ok := room.broadcastSourceFor(req.SubscriberID)
	if !ok {
		return "", apperrors.NewNoPublisherAvailableError(req.RoomID)
	}

	videoCodec := s.awaitLearnedCodec(ctx, source.video, domain.DefaultVideoCodec)

	pc, err := s.newPeerConnection()
	if err != nil {
		return "", apperrors.NewPeerConnectionFailedError(err)
	}

	videoTrack, err := pion.NewTrackLocalStaticRTP(pion.RTPCodecCapability{MimeType: videoCodec.MimeType, ClockRate: videoCodec.ClockRate}, "video", "liverelay-cam")
	if err != nil {
		_ = pc.Close()
		return "", apperrors.NewPeerConnectionFailedError(err)
	}
	if _, err := pc.AddTrack(videoTrack); err != nil {
		_ = pc.Close()
		return "", apperrors.NewPeerConnectionFailedError(err)
	}

	audioCodec := s.awaitLearnedCodec(ctx, source.audio, domain.DefaultAudioCodec)
	audioTrack, err := pion.NewTrackLocalStaticRTP(pion.RTPCodecCapability{MimeType: audioCodec.MimeType, ClockRate: audioCodec.ClockRate, Channels: audioCodec.Channels}, "audio", "liverelay-cam")
	if err != nil {
		_ = pc.Close()
		return "", apperrors.NewPeerConnectionFailedError(err)
	}
	if _, err := pc.AddTrack(audioTrack); err != nil {
		_ = pc.Close()
		return "", apperrors.NewPeerConnectionFailedError(err)
	}

	var screenTrack *pion.TrackLocalStaticRTP
	var screenSource *Publisher
	if screenPub, ok := room.screenSourceFor(source.PeerID); ok {
		screenCodec := s.awaitLearnedCodec(ctx, screenPub.video, domain.DefaultVideoCodec)
		screenTrack, err = pion.NewTrackLocalStaticRTP(pion.RTPCodecCapability{MimeType: screenCodec.MimeType, ClockRate: screenCodec.ClockRate}, "screen", "liverelay-screen")
		if err == nil {
			_, _ = pc.AddTrack(screenTrack)
			screenSource = screenPub
		}
	}

	answerSDP, err := s.exchangeSDP(pc, req.Offer)
	if err != nil {
		_ = pc.Close()
		return "", err
	}

	ctx, cancel := context.WithCancel(context.Background())
	sub := &Subscriber{ID: req.SubscriberID, pc: pc, cancel: cancel}

	go s.fanOut(ctx, source.video, videoTrack)
	go s.fanOut(ctx, source.audio, audioTrack)
	if screenTrack != nil && screenSource != nil {
		go s.fanOut(ctx, screenSource.video, screenTrack)
	}

	pc.OnConnectionStateChange(func(state pion.PeerConnectionState) {
		if state == pion.PeerConnectionStateFailed || state == pion.PeerConnectionStateDisconnected || state == pion.PeerConnectionStateClosed {
			sub.cancel()
			room.decSubscribers()
		}
	})

	room.incSubscribers()
	s.sendPLI(source)

	return answerSDP, nil
}

func (s *SFU) awaitLearnedCodec(ctx context.Context, relay *trackRelay, fallback domain.LearnedCodec) domain.LearnedCodec {
	wait := s.cfg.SubscribeWaitTimeout
	if wait <= 0 {
		wait = 10 * time.Second
	}
	poll := s.cfg.SubscribePollInterval
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}

	deadline := time.Now().Add(wait)
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		if codec, _, ok := relay.learnedCodec(); ok {
			return codec
		}
		select {
		case <-ctx.Done():
			return fallback
		case <-ticker.C:
		}
	}
	return fallback
}

// fanOut relays packets from a publisher's relay to one subscriber's local
// track until the subscriber's context is cancelled or the writer errors.
func (s *SFU) fanOut(ctx context.Context, relay *trackRelay, local *pion.TrackLocalStaticRTP) {
	subscriberID := fmt.Sprintf("%p", local)
	ch := relay.Subscribe(subscriberID)
	defer relay.Unsubscribe(subscriberID)

	for {
		select {
		case <-ctx.Done():
			return
		case pkt, ok := <-ch:
			if !ok {
				return
			}
			if err := local.WriteRTP(pkt); err != nil {
				return
			}
		}
	}
}

// exchangeSDP performs the offer/answer dance and waits (bounded) for ICE
// gathering to finish so the returned SDP carries every candidate.
func (s *SFU) exchangeSDP(pc *pion.PeerConnection, offerSDP string) (string, error) {
	offer := pion.SessionDescription{Type: pion.SDPTypeOffer, SDP: offerSDP}
	if err := pc.SetRemoteDescription(offer); err != nil {
		return "", apperrors.NewInvalidSDPError(err.Error())
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return "", apperrors.NewPeerConnectionFailedError(err)
	}

	gatherComplete := pion.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		return "", apperrors.NewPeerConnectionFailedError(err)
	}

	select {
	case <-gatherComplete:
	case <-time.After(10 * time.Second):
		s.logger.Warnw("ICE gathering timed out, returning partial SDP")
	}

	final := pc.LocalDescription()
	if final == nil {
		return answer.SDP, nil
	}
	return final.SDP, nil
}
