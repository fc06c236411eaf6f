package recording

import (
	"sync"
	"time"

	"rillnet/internal/core/domain"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Config mirrors the recording section of pkg/config.
type Config struct {
	Enabled        bool
	BaseDir        string
	FlushBatchSize int
	MaxDuration    time.Duration
}

// Manager owns one Writer per actively-recorded room and implements
// webrtc.RecordingSink, so it can be handed straight to SFU.SetRecordingSink.
type Manager struct {
	cfg    Config
	logger *zap.SugaredLogger

	mu      sync.Mutex
	writers map[string]*Writer
}

func NewManager(cfg Config, logger *zap.SugaredLogger) *Manager {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Manager{cfg: cfg, logger: logger, writers: map[string]*Writer{}}
}

// WriteRTP satisfies webrtc.RecordingSink. It lazily opens a .lrr file the
// first time a room's media arrives and rolls over onto a fresh file once
// MaxDuration is exceeded.
func (m *Manager) WriteRTP(roomID, peerID string, kind domain.TrackKind, packet []byte) {
	if !m.cfg.Enabled {
		return
	}

	w, err := m.writerFor(roomID)
	if err != nil {
		m.logger.Warnw("recording: failed to open writer", "room_id", roomID, "err", err)
		return
	}

	if err := w.WriteRTP(kind, packet); err != nil {
		m.logger.Warnw("recording: write failed", "room_id", roomID, "peer_id", peerID, "err", err)
	}
}

func (m *Manager) writerFor(roomID string) (*Writer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if w, ok := m.writers[roomID]; ok {
		if !w.ExceedsMaxDuration() {
			return w, nil
		}
		_ = w.Close()
		delete(m.writers, roomID)
	}

	recordingID := "rec_" + uuid.NewString()
	w, err := Open(m.cfg.BaseDir, roomID, recordingID, m.cfg.FlushBatchSize, m.cfg.MaxDuration)
	if err != nil {
		return nil, err
	}
	m.writers[roomID] = w
	m.logger.Infow("recording started", "room_id", roomID, "recording_id", recordingID)
	return w, nil
}

// CloseRoom flushes and closes the active writer for a room, if any, e.g.
// when the SFU tears the room down.
func (m *Manager) CloseRoom(roomID string) {
	m.mu.Lock()
	w, ok := m.writers[roomID]
	if ok {
		delete(m.writers, roomID)
	}
	m.mu.Unlock()

	if !ok {
		return
	}
	if err := w.Close(); err != nil {
		m.logger.Warnw("recording: close failed", "room_id", roomID, "err", err)
	}
}

// CloseAll flushes and closes every open writer, for graceful shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	writers := m.writers
	m.writers = map[string]*Writer{}
	m.mu.Unlock()

	for roomID, w := range writers {
		if err := w.Close(); err != nil {
			m.logger.Warnw("recording: close failed", "room_id", roomID, "err", err)
		}
	}
}
