package rating

import "math"

const (
	// DefaultElo is the rating every player starts from.
	DefaultElo = 1000
	kFactor    = 32
)

// expectedScore is the standard Elo expectation for a player rated `own`
// against an opponent rated `opp`.
func expectedScore(own, opp int) float64 {
	return 1 / (1 + math.Pow(10, float64(opp-own)/400))
}

// eloDelta rounds each side's adjustment independently, so a win and the
// matching loss may differ by one point when the expectation is fractional.
func eloDelta(own, opp int, score float64) int {
	return int(math.Round(kFactor * (score - expectedScore(own, opp))))
}
