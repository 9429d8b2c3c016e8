package scoring

import (
	"math"

	"github.com/basket/wolfpack/internal/persistence"
)

// ApplyRating folds a 1..5 score into r. The average is recomputed from the
// running sum so it always equals the arithmetic mean of every score.
func ApplyRating(r *persistence.Rating, score int) error {
	if score < 1 || score > 5 {
		return ErrScoreRange
	}
	if r.Sum == 0 && r.Count > 0 {
		// Documents written before Sum existed.
		r.Sum = int(math.Round(r.Average * float64(r.Count)))
	}
	r.Count++
	r.Sum += score
	r.Average = float64(r.Sum) / float64(r.Count)
	return nil
}
