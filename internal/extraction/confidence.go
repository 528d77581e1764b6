package extraction

import "math"

// defaultConfidence stands in when the model gives no score.
const defaultConfidence = 0.5

// ScoreConfig holds the heuristic adjustments applied to the model's score
type ScoreConfig struct {
	MissingOwnerPenalty float64
	MissingQuotePenalty float64
}

// Score clamps the model's confidence to [0,1] and lowers it for a
// candidate without an owner or without a supporting quote.
func Score(c Candidate, cfg ScoreConfig) float64 {
	score := defaultConfidence
	if c.RawConfidence != nil {
		score = clamp(*c.RawConfidence)
	}
	if c.Owner == "" {
		score -= cfg.MissingOwnerPenalty
	}
	if c.Quote == "" {
		score -= cfg.MissingQuotePenalty
	}
	return clamp(score)
}

func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
