package matching

import (
	"context"
	"time"

	"rillnet/internal/core/domain"
	"rillnet/internal/core/ports"
	"rillnet/internal/infrastructure/eventbus"
	"rillnet/pkg/utils"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Outcome classifies what TryMatch accomplished on one attempt.
type Outcome int

const (
	// OutcomeNone means the caller should keep waiting: either another
	// attempt already holds this user's lock, the user isn't queued, or no
	// candidate currently clears the phase's minimum score.
	OutcomeNone Outcome = iota
	// OutcomeMatched means a MatchSession was created and persisted; both
	// sides should be notified.
	OutcomeMatched
)

// Result is the outcome of one TryMatch call.
type Result struct {
	Outcome Outcome
	Session domain.MatchSession
	Partner domain.QueueUser
}

// Engine orchestrates the queue, scoring, and pairing, grounded on the
// reference implementation's try_match/try_match_inner handler.
type Engine struct {
	Queue       ports.QueueRepository
	Cooldowns   ports.CooldownRepository
	History     ports.HistoryRepository
	ActivePairs ports.ActivePairRepository
	Sessions    ports.SessionRepository
	Locker      ports.MatchLocker
	Bus         *eventbus.Bus
	CooldownTTL time.Duration
	Logger      *zap.SugaredLogger
}

// Join enqueues a user as a matching candidate.
func (e *Engine) Join(ctx context.Context, user domain.QueueUser) error {
	if user.JoinedAtMs == 0 {
		user.JoinedAtMs = time.Now().UnixMilli()
	}
	return e.Queue.Add(ctx, user)
}

// Leave dequeues a user, e.g. on explicit cancel or disconnect.
func (e *Engine) Leave(ctx context.Context, userID string) (bool, error) {
	return e.Queue.Remove(ctx, userID)
}

// TryMatch attempts to pair userID with the best-scoring available
// candidate. A nil, nil result means "keep waiting" — the caller is
// expected to retry on its own cadence (the matching socket calls this on
// every queue mutation and on a steady heartbeat).
func (e *Engine) TryMatch(ctx context.Context, userID string) (*Result, error) {
	lock := e.Locker.ForUser(userID)
	acquired, err := lock.TryLock(ctx)
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, nil
	}
	defer lock.Unlock(ctx)

	users, err := e.Queue.List(ctx)
	if err != nil {
		return nil, err
	}

	var self domain.QueueUser
	found := false
	candidates := make([]domain.QueueUser, 0, len(users))
	for _, u := range users {
		if u.UserID == userID {
			self = u
			found = true
			continue
		}
		candidates = append(candidates, u)
	}
	if !found || len(candidates) == 0 {
		return nil, nil
	}

	now := time.Now().UnixMilli()
	phaseA := domain.PhaseFromWaitMs(now - self.JoinedAtMs)

	candidateIDs := make([]string, len(candidates))
	for i, c := range candidates {
		candidateIDs[i] = c.UserID
	}

	cooldowns, err := e.Cooldowns.HasBatch(ctx, userID, candidateIDs)
	if err != nil {
		return nil, err
	}
	histories, err := e.History.GetBatch(ctx, userID, candidateIDs)
	if err != nil {
		return nil, err
	}

	var best *domain.QueueUser
	var bestScore float64
	for i := range candidates {
		candidate := candidates[i]
		if cooldowns[candidate.UserID] {
			continue
		}

		phaseB := domain.PhaseFromWaitMs(now - candidate.JoinedAtMs)
		result := Calculate(self, candidate, phaseA, phaseB, histories[candidate.UserID])
		if !result.PassesFilters {
			continue
		}

		minScore := domain.MoreLenient(phaseA, phaseB).MinMatchScore()
		if result.Value < minScore {
			continue
		}
		if best == nil || result.Value > bestScore {
			best = &candidates[i]
			bestScore = result.Value
		}
	}

	if best == nil {
		return nil, nil
	}

	// Atomic-enough double remove: pull both sides out of the queue before
	// committing the pairing. If either side already left (a concurrent
	// attempt raced us to it), roll back and signal the caller to retry.
	selfRemoved, err := e.Queue.Remove(ctx, self.UserID)
	if err != nil {
		return nil, err
	}
	if !selfRemoved {
		return nil, nil
	}
	bestRemoved, err := e.Queue.Remove(ctx, best.UserID)
	if err != nil {
		_ = e.Queue.Add(ctx, self)
		return nil, err
	}
	if !bestRemoved {
		_ = e.Queue.Add(ctx, self)
		return nil, nil
	}

	session := domain.MatchSession{
		ID:          "match_" + uuid.NewString(),
		UserA:       self.UserID,
		UserB:       best.UserID,
		StartedAtMs: now,
	}
	if err := e.Sessions.Create(ctx, session); err != nil {
		return nil, err
	}
	if err := e.ActivePairs.Set(ctx, session.ID, session.UserA, session.UserB); err != nil {
		return nil, err
	}
	if err := e.Cooldowns.Set(ctx, session.UserA, session.UserB, e.CooldownTTL); err != nil {
		e.log().Warnw("failed to set pairing cooldown", "match_id", session.ID, "error", err)
	}

	if e.Bus != nil {
		e.Bus.Emit(domain.LiveRelayEvent{
			Type: domain.EventParticipantJoined,
			Participant: &domain.ParticipantEventData{
				RoomID: session.ID,
				PeerID: session.UserA,
				Role:   "match",
			},
		})
	}

	return &Result{Outcome: OutcomeMatched, Session: session, Partner: *best}, nil
}

// EndMatch resolves the partner of userID within matchID, closes out the
// session with a duration and reason, and rolls the session's engagement
// counters into the pair's durable history.
func (e *Engine) EndMatch(ctx context.Context, matchID, userID, reason string) (domain.MatchSession, string, error) {
	partnerID, ok, err := e.ActivePairs.GetPartner(ctx, matchID, userID)
	if err != nil {
		return domain.MatchSession{}, "", err
	}
	if !ok {
		return domain.MatchSession{}, "", domain.ErrMatchNotFound
	}

	session, err := e.Sessions.End(ctx, matchID, time.Now().UnixMilli(), reason)
	if err != nil {
		return domain.MatchSession{}, "", err
	}

	duration := int64(0)
	if session.DurationSecs != nil {
		duration = *session.DurationSecs
	}
	if err := e.History.RecordMatchEnd(ctx, session.UserA, session.UserB, matchID, duration); err != nil {
		e.log().Warnw("failed to record pair history", "match_id", matchID, "error", err)
	}
	e.log().Infow("match ended", "match_id", matchID, "reason", reason,
		"duration", utils.FormatDuration(time.Duration(duration)*time.Second))

	if err := e.ActivePairs.Remove(ctx, matchID); err != nil {
		e.log().Warnw("failed to clear active pair", "match_id", matchID, "error", err)
	}

	if e.Bus != nil {
		e.Bus.Emit(domain.LiveRelayEvent{
			Type: domain.EventParticipantLeft,
			Participant: &domain.ParticipantEventData{
				RoomID: matchID,
				PeerID: userID,
				Role:   "match",
			},
		})
	}

	return session, partnerID, nil
}

func (e *Engine) log() *zap.SugaredLogger {
	if e.Logger != nil {
		return e.Logger
	}
	return zap.NewNop().Sugar()
}
