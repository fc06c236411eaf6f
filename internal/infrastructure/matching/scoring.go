package matching

import (
	"math"
	"time"

	"rillnet/internal/core/domain"
)

// Scoring weights — liquidity-first, instant-matching. Age is never
// blocking, just a strong scoring signal; country is the only hard filter,
// and only briefly (Strict phase).
const (
	weightCountry   = 0.25
	weightAge       = 0.25
	weightKinks     = 0.20
	weightHistory   = 0.15
	weightFreshness = 0.10
	weightDistance  = 0.05
)

// Score is the outcome of scoring one candidate pair.
type Score struct {
	Value         float64
	PassesFilters bool
}

// Calculate scores a candidate pair under the more lenient of their two
// phases, combining country/age/kink/history/freshness/distance signals
// into a single weighted composite.
func Calculate(userA, userB domain.QueueUser, phaseA, phaseB domain.MatchPhase, history domain.PairHistory) Score {
	phase := domain.MoreLenient(phaseA, phaseB)

	if !passesFilters(userA, userB.Filters, phase) || !passesFilters(userB, userA.Filters, phase) {
		return Score{Value: 0, PassesFilters: false}
	}

	kinksOverlap := kinksOverlapScore(userA.Kinks, userB.Kinks)
	countryMatch := countryMatchScore(userA.Country, userB.Country)
	ageProx := ageScore(userA.Age, userB.Age, userA.Filters, userB.Filters)
	pairMod := pairModifier(history)
	freshness := freshnessScore(averageWaitMs(userA, userB))
	distance := distanceScore(userA, userB)

	value := weightCountry*countryMatch +
		weightAge*ageProx +
		weightKinks*kinksOverlap +
		weightHistory*pairMod +
		weightFreshness*freshness +
		weightDistance*distance

	return Score{Value: value, PassesFilters: true}
}

// passesFilters enforces the only hard block: a mutual country mismatch
// during the Strict phase. Age and kinks never block, only score.
func passesFilters(user domain.QueueUser, filters domain.MatchFilters, phase domain.MatchPhase) bool {
	if phase != domain.PhaseStrict {
		return true
	}
	if filters.Country == nil || user.Country == "" {
		return true
	}
	return *filters.Country == user.Country
}

func kinksOverlapScore(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0.5
	}
	set := make(map[string]struct{}, len(b))
	for _, k := range b {
		set[k] = struct{}{}
	}
	intersection := 0
	for _, k := range a {
		if _, ok := set[k]; ok {
			intersection++
		}
	}
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		maxLen = 1
	}
	return float64(intersection) / float64(maxLen)
}

func countryMatchScore(a, b string) float64 {
	switch {
	case a == "" || b == "":
		return 0.7
	case a == b:
		return 1.0
	default:
		return 0.3
	}
}

// ageScore is a soft proximity signal, never blocking: same age scores 1.0,
// 21 years apart scores 0.5, 40+ years apart floors at 0.05. A preference
// mismatch on either side halves the score per violated bound.
func ageScore(ageA, ageB int, filtersA, filtersB domain.MatchFilters) float64 {
	diff := math.Abs(float64(ageA - ageB))
	base := math.Max(1.0-diff/42.0, 0.05)

	penalty := 1.0
	if filtersB.AgeMin != nil && ageA < *filtersB.AgeMin {
		penalty *= 0.5
	}
	if filtersB.AgeMax != nil && ageA > *filtersB.AgeMax {
		penalty *= 0.5
	}
	if filtersA.AgeMin != nil && ageB < *filtersA.AgeMin {
		penalty *= 0.5
	}
	if filtersA.AgeMax != nil && ageB > *filtersA.AgeMax {
		penalty *= 0.5
	}

	return base * penalty
}

// pairModifier is the FSRS-inspired decay of a pair's shared affinity:
// never-seen pairs get a small novelty bonus, positive-stability pairs
// start at 0.85 and resurface gradually toward 1.05 as recency fades,
// negative-stability pairs (skips, no engagement) start at a low 0.30 and
// the penalty decays toward 1.0 as time passes.
func pairModifier(history domain.PairHistory) float64 {
	if history.TimesMatched == 0 {
		return 1.05
	}

	stability := float64(history.Likes)*2.0 +
		boolToFloat(history.Follows)*3.0 +
		float64(history.Messages)*0.1 +
		boolToFloat(history.TotalDurationSecs > 120)*1.5 -
		float64(history.Skips)*2.0

	nowMs := time.Now().UnixMilli()
	elapsedHours := float64(nowMs-history.LastMatchedAtMs) / 3_600_000.0
	denom := 9.0 * math.Max(math.Abs(stability), 1.0)
	retrievability := 1.0 / (1.0 + elapsedHours/denom)

	if stability > 0 {
		return 0.85 + 0.20*(1.0-retrievability)
	}
	return 0.30 + 0.70*(1.0-retrievability)
}

// freshnessScore rewards users who have waited longer with a small boost:
// 0ms normalizes to 0.5, 3000ms+ caps at 1.0.
func freshnessScore(waitMs int64) float64 {
	return math.Min(0.5+float64(waitMs)/6000.0, 1.0)
}

func averageWaitMs(userA, userB domain.QueueUser) int64 {
	nowMs := time.Now().UnixMilli()
	waitA := nowMs - userA.JoinedAtMs
	if waitA < 0 {
		waitA = 0
	}
	waitB := nowMs - userB.JoinedAtMs
	if waitB < 0 {
		waitB = 0
	}
	return (waitA + waitB) / 2
}

// HaversineKm is the great-circle distance in kilometres between two
// lat/lng points.
func HaversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	const earthRadiusKm = 6371.0
	dLat := toRadians(lat2 - lat1)
	dLng := toRadians(lng2 - lng1)
	a := math.Pow(math.Sin(dLat/2), 2) +
		math.Cos(toRadians(lat1))*math.Cos(toRadians(lat2))*math.Pow(math.Sin(dLng/2), 2)
	c := 2 * math.Asin(math.Sqrt(a))
	return earthRadiusKm * c
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}

// distanceScore favors nearby users, decaying exponentially with distance;
// absent geolocation on either side it returns a neutral 0.5.
func distanceScore(userA, userB domain.QueueUser) float64 {
	if userA.Latitude == nil || userA.Longitude == nil || userB.Latitude == nil || userB.Longitude == nil {
		return 0.5
	}
	km := HaversineKm(*userA.Latitude, *userA.Longitude, *userB.Latitude, *userB.Longitude)
	return math.Max(math.Exp(-km/200.0), 0.05)
}

func boolToFloat(b bool) float64 {
	if b {
		return 1.0
	}
	return 0.0
}
