package ranking

import (
	"fmt"
	"math"
)

// SeasonRule converts a final score into season points.
type SeasonRule struct {
	StartingPoints int
	ReturnPoints   int
	Uma            [Seats]float64
}

func (r SeasonRule) Validate() error {
	if r.StartingPoints <= 0 {
		return fmt.Errorf("starting points must be positive")
	}
	if r.ReturnPoints < r.StartingPoints {
		return fmt.Errorf("return points (%d) below starting points (%d)", r.ReturnPoints, r.StartingPoints)
	}
	if r.StartingPoints%ScoreUnit != 0 || r.ReturnPoints%ScoreUnit != 0 {
		return fmt.Errorf("starting and return points must be multiples of %d", ScoreUnit)
	}
	var sum float64
	for _, u := range r.Uma {
		if math.Abs(round(u, 1)-u) > 1e-9 {
			return fmt.Errorf("uma %v has more than one decimal", u)
		}
		sum += u
	}
	if round(sum, 1) != 0 {
		return fmt.Errorf("uma must sum to zero, got %v", sum)
	}
	return nil
}

// Oka is the bonus the winner collects from the return/starting gap, in thousands.
func (r SeasonRule) Oka() float64 {
	return float64(r.ReturnPoints-r.StartingPoints) * Seats / 1000
}

// TableTotal is the score sum every valid game must have.
func (r SeasonRule) TableTotal() int {
	return r.StartingPoints * Seats
}

func (r SeasonRule) Points(score, placement int) float64 {
	p := float64(score-r.ReturnPoints)/1000 + r.Uma[placement-1]
	if placement == 1 {
		p += r.Oka()
	}
	return round(p, 1)
}

// CheckScores verifies every score is whole sticks and the scores add up to
// the table total.
func (r SeasonRule) CheckScores(results []SeatResult) error {
	sum := 0
	for _, res := range results {
		if res.Score%ScoreUnit != 0 {
			return fmt.Errorf("%w: %d (seat %d)", ErrScoreUnit, res.Score, res.Seat)
		}
		sum += res.Score
	}
	if sum != r.TableTotal() {
		return fmt.Errorf("%w: %d, expected %d", ErrScoreSum, sum, r.TableTotal())
	}
	return nil
}
