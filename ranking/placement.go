// Package ranking derives Dan rank, Rate and Season points from game results.
// Nothing here touches the database; services feed it ordered games and persist
// what it returns.
package ranking

import (
	"errors"
	"fmt"
	"sort"
)

// Seats is the number of players at a table.
const Seats = 4

// ScoreUnit is the smallest score step (one 100-point stick). Season points are
// kept to 0.1, so finer scores could not round to a zero-sum table.
const ScoreUnit = 100

var (
	ErrResultCount   = errors.New("a game needs exactly four results")
	ErrDuplicateSeat = errors.New("seat used twice")
	ErrBadSeat       = errors.New("seat out of range")
	ErrSamePlayer    = errors.New("player listed twice")
	ErrScoreSum      = errors.New("scores do not add up")
	ErrScoreUnit     = errors.New("score is not a multiple of 100")
)

// SeatResult is one player's final score at a table.
type SeatResult struct {
	PlayerID string
	Seat     int
	Score    int
}

// ValidateTable checks structure only: four results, distinct players, distinct seats 0..3.
func ValidateTable(results []SeatResult) error {
	if len(results) != Seats {
		return fmt.Errorf("%w: got %d", ErrResultCount, len(results))
	}
	var seen [Seats]bool
	players := make(map[string]struct{}, Seats)
	for _, r := range results {
		if r.Seat < 0 || r.Seat >= Seats {
			return fmt.Errorf("%w: %d", ErrBadSeat, r.Seat)
		}
		if seen[r.Seat] {
			return fmt.Errorf("%w: %d", ErrDuplicateSeat, r.Seat)
		}
		seen[r.Seat] = true
		if _, ok := players[r.PlayerID]; ok {
			return fmt.Errorf("%w: %s", ErrSamePlayer, r.PlayerID)
		}
		players[r.PlayerID] = struct{}{}
	}
	return nil
}

// Placements returns the 1-based placement of each result, index-aligned with results.
// Higher score places first; equal scores are separated by seat, East first.
func Placements(results []SeatResult) []int {
	order := make([]int, len(results))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ra, rb := results[order[a]], results[order[b]]
		if ra.Score != rb.Score {
			return ra.Score > rb.Score
		}
		return ra.Seat < rb.Seat
	})
	out := make([]int, len(results))
	for place, idx := range order {
		out[idx] = place + 1
	}
	return out
}
