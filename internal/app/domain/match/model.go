// Package match defines the scoring record attached to a canonical offer.
package match

import "time"

// Match is the scoring result for a canonical offer; its lifetime is tied to
// the offer it describes and it is recomputed on every persist of a detailed
// offer. Reposts never receive their own match (no new canonical row exists).
type Match struct {
	OfferID    int64
	Score      int // 0-10
	CategoryID *int64
	Detail     string // serialized match detail (category breakdown, matched phrases)
	ComputedAt time.Time
}

// StrongThreshold is the score at and above which an offer is "strong".
const StrongThreshold = 6

// IsStrong reports whether score meets the strong-offer threshold.
func IsStrong(score int) bool {
	return score >= StrongThreshold
}
