package ranking

import (
	"fmt"
	"math"
	"sort"
)

// RateBracket applies once a player has played at least MinGames games.
type RateBracket struct {
	MinGames   int
	Deltas     [Seats]float64
	Correction float64
}

type RateTable struct {
	Initial  float64
	Divisor  float64
	Brackets []RateBracket // sorted by MinGames ascending, first at 0
}

func NewRateTable(initial, divisor float64, brackets []RateBracket) (RateTable, error) {
	if divisor <= 0 {
		return RateTable{}, fmt.Errorf("rate divisor must be positive, got %v", divisor)
	}
	if len(brackets) == 0 {
		return RateTable{}, fmt.Errorf("rate table has no brackets")
	}
	sorted := make([]RateBracket, len(brackets))
	copy(sorted, brackets)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].MinGames < sorted[j].MinGames })
	if sorted[0].MinGames != 0 {
		return RateTable{}, fmt.Errorf("first rate bracket must start at 0 games, got %d", sorted[0].MinGames)
	}
	for i, b := range sorted {
		if b.Correction <= 0 {
			return RateTable{}, fmt.Errorf("bracket at %d games has non-positive correction", b.MinGames)
		}
		if i > 0 && b.MinGames == sorted[i-1].MinGames {
			return RateTable{}, fmt.Errorf("two brackets start at %d games", b.MinGames)
		}
	}
	return RateTable{Initial: initial, Divisor: divisor, Brackets: sorted}, nil
}

// Bracket returns the bracket for a player who has already played games games.
func (t RateTable) Bracket(games int) RateBracket {
	i := sort.Search(len(t.Brackets), func(i int) bool { return t.Brackets[i].MinGames > games })
	if i == 0 {
		return t.Brackets[0]
	}
	return t.Brackets[i-1]
}

// Change is the rate movement for one game. tableAverage includes the player.
func (t RateTable) Change(rate, tableAverage float64, games, placement int) float64 {
	b := t.Bracket(games)
	return round((b.Deltas[placement-1]+(tableAverage-rate)/t.Divisor)*b.Correction, 2)
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
