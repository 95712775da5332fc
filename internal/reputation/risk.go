// Package reputation derives a seller's average score and risk status from
// its full rating and report history.
package reputation

import (
	"math"

	"legit-bot/internal/storage"
)

// Canonical classification table.
const (
	BlacklistReports = 5
	CountThreshold   = 3
	SafeThreshold    = 4.5
	CautionThreshold = 3.0
)

// Per-criterion weights; they sum to 1.
const (
	weightQuality       = 0.4
	weightDelivery      = 0.25
	weightCommunication = 0.2
	weightSafety        = 0.15
)

// ClassifyRisk is pure: the first matching rule wins and the report
// threshold dominates everything else.
func ClassifyRisk(reportsCount, ratingCount int, avgRating float64) storage.RiskStatus {
	switch {
	case reportsCount >= BlacklistReports:
		return storage.RiskBlacklisted
	case ratingCount < CountThreshold:
		return storage.RiskNewUser
	case avgRating > SafeThreshold:
		return storage.RiskVerifiedSafe
	case avgRating >= CautionThreshold:
		return storage.RiskCaution
	default:
		return storage.RiskHighRisk
	}
}

func WeightedScore(s storage.Scores) float64 {
	return float64(s.Quality)*weightQuality +
		float64(s.Delivery)*weightDelivery +
		float64(s.Communication)*weightCommunication +
		float64(s.Safety)*weightSafety
}

// Average returns the mean weighted score rounded to two decimals, or 0 when
// there are no ratings. It always works from the complete set.
func Average(ratings []storage.Rating) float64 {
	if len(ratings) == 0 {
		return 0
	}
	var sum float64
	for _, r := range ratings {
		sum += WeightedScore(r.Scores)
	}
	return round2(sum / float64(len(ratings)))
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

// ValidScore reports whether v is an accepted per-criterion mark.
func ValidScore(v int) bool { return v >= 1 && v <= 5 }
