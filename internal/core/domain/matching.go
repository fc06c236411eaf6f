package domain

// MatchFilters are the hard-or-soft constraints a QueueUser declares, whose
// strictness is governed by the phase of whichever side is more lenient.
type MatchFilters struct {
	Country *string  `json:"country,omitempty"`
	AgeMin  *int     `json:"age_min,omitempty"`
	AgeMax  *int     `json:"age_max,omitempty"`
	Kinks   []string `json:"kinks,omitempty"`
}

// QueueUser is a matchmaking candidate, held in the ordered queue keyed by
// JoinedAtMs.
type QueueUser struct {
	UserID          string       `json:"user_id"`
	DisplayName     string       `json:"display_name"`
	Bio             string       `json:"bio"`
	Age             int          `json:"age"`
	Country         string       `json:"country"`
	Kinks           []string     `json:"kinks"`
	ProfilePhotoURL string       `json:"profile_photo_url"`
	Filters         MatchFilters `json:"filters"`
	Latitude        *float64     `json:"latitude,omitempty"`
	Longitude       *float64     `json:"longitude,omitempty"`
	JoinedAtMs      int64        `json:"joined_at"`
}

// PairHistory is the 7-day-TTL record of a single unordered user pair's
// shared affinity signal.
type PairHistory struct {
	TimesMatched      int   `json:"times_matched"`
	LastMatchedAtMs   int64 `json:"last_matched_at"`
	TotalDurationSecs int64 `json:"total_duration_secs"`
	Likes             uint8 `json:"likes"`
	Follows           bool  `json:"follows"`
	Messages          int   `json:"messages"`
	Skips             int   `json:"skips"`
}

// MatchPhase is the monotonic relaxation level of matching constraints, a
// function of wait time.
type MatchPhase int

const (
	PhaseStrict MatchPhase = iota
	PhaseNormal
	PhaseRelaxed
	PhaseDesperate
)

// PhaseFromWaitMs maps an elapsed wait duration to the phase it falls in.
func PhaseFromWaitMs(waitMs int64) MatchPhase {
	switch {
	case waitMs < 500:
		return PhaseStrict
	case waitMs < 1000:
		return PhaseNormal
	case waitMs < 3000:
		return PhaseRelaxed
	default:
		return PhaseDesperate
	}
}

// MinMatchScore is the minimum composite score required to accept a candidate
// while in this phase.
func (p MatchPhase) MinMatchScore() float64 {
	switch p {
	case PhaseStrict:
		return 0.10
	case PhaseNormal:
		return 0.05
	case PhaseRelaxed:
		return 0.02
	default:
		return 0.0
	}
}

// MoreLenient returns the more relaxed of the two phases, which governs a
// comparison between two users.
func MoreLenient(a, b MatchPhase) MatchPhase {
	if a >= b {
		return a
	}
	return b
}

// MatchSession is the persistent record of a realized pairing.
type MatchSession struct {
	ID             string  `json:"id"`
	UserA          string  `json:"user_a"`
	UserB          string  `json:"user_b"`
	StartedAtMs    int64   `json:"started_at"`
	EndedAtMs      *int64  `json:"ended_at,omitempty"`
	EndReason      *string `json:"end_reason,omitempty"`
	DurationSecs   *int64  `json:"duration_secs,omitempty"`
}
