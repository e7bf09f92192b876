package ranking

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrOutOfOrder is returned when a game would be applied before one already applied.
// Callers fall back to a full Replay.
var ErrOutOfOrder = errors.New("game is older than the last applied game")

// Tables is the set of point tables a computation runs against.
type Tables struct {
	Dan    DanTable
	Rate   RateTable
	Season func(seasonID string) SeasonRule
}

// Game is a finished table as the aggregator sees it.
type Game struct {
	ID       string
	SeasonID string
	PlayedAt time.Time
	Results  []SeatResult
}

// Before orders games by play time, then by ID.
func (g Game) Before(o Game) bool {
	if !g.PlayedAt.Equal(o.PlayedAt) {
		return g.PlayedAt.Before(o.PlayedAt)
	}
	return g.ID < o.ID
}

// Career is the season-independent state of a player.
type Career struct {
	PlayerID     string
	DanLevel     int
	DanName      string
	DanPoints    int
	MaxDanLevel  int
	Rate         float64
	MaxRate      float64
	Games        int
	Placements   [Seats]int
	LastPlayedAt time.Time
}

// Standing is a player's accumulated result within one season.
type Standing struct {
	PlayerID   string
	SeasonID   string
	Points     float64
	Games      int
	Placements [Seats]int
	ScoreSum   int64
}

// Entry records what one result did; it becomes a row of the points ledger.
type Entry struct {
	GameID          string
	PlayerID        string
	SeasonID        string
	PlayedAt        time.Time
	Placement       int
	Score           int
	DanLevelBefore  int
	DanLevelAfter   int
	DanPointsBefore int
	DanPointsAfter  int
	RateBefore      float64
	RateAfter       float64
	SeasonPoints    float64
}

type standingKey struct{ player, season string }

type Aggregator struct {
	tables    Tables
	careers   map[string]*Career
	standings map[standingKey]*Standing
	last      *Game
}

func NewAggregator(t Tables) *Aggregator {
	return &Aggregator{
		tables:    t,
		careers:   make(map[string]*Career),
		standings: make(map[standingKey]*Standing),
	}
}

// Seed loads a persisted career so that later games continue from it.
func (a *Aggregator) Seed(c Career) {
	cp := c
	a.careers[c.PlayerID] = &cp
}

func (a *Aggregator) SeedStanding(s Standing) {
	cp := s
	a.standings[standingKey{s.PlayerID, s.SeasonID}] = &cp
}

// SetLast marks the most recent game already reflected in the seeded state.
func (a *Aggregator) SetLast(id string, playedAt time.Time) {
	a.last = &Game{ID: id, PlayedAt: playedAt}
}

func (a *Aggregator) career(playerID string) *Career {
	if c, ok := a.careers[playerID]; ok {
		return c
	}
	start := a.tables.Dan.Lookup(0)
	c := &Career{
		PlayerID:    playerID,
		DanLevel:    start.Level,
		DanName:     start.Name,
		MaxDanLevel: start.Level,
		Rate:        a.tables.Rate.Initial,
		MaxRate:     a.tables.Rate.Initial,
	}
	a.careers[playerID] = c
	return c
}

func (a *Aggregator) standing(playerID, seasonID string) *Standing {
	k := standingKey{playerID, seasonID}
	if s, ok := a.standings[k]; ok {
		return s
	}
	s := &Standing{PlayerID: playerID, SeasonID: seasonID}
	a.standings[k] = s
	return s
}

// Apply folds one game into the state. All four players move from their
// pre-game values, so seat order never changes the outcome.
func (a *Aggregator) Apply(g Game) ([]Entry, error) {
	if a.last != nil && g.Before(*a.last) {
		return nil, fmt.Errorf("%w: %s at %s", ErrOutOfOrder, g.ID, g.PlayedAt.Format(time.RFC3339))
	}
	if err := ValidateTable(g.Results); err != nil {
		return nil, fmt.Errorf("game %s: %w", g.ID, err)
	}
	rule := a.tables.Season(g.SeasonID)
	if err := rule.CheckScores(g.Results); err != nil {
		return nil, fmt.Errorf("game %s: %w", g.ID, err)
	}

	placements := Placements(g.Results)
	careers := make([]*Career, len(g.Results))
	var rateSum float64
	for i, r := range g.Results {
		careers[i] = a.career(r.PlayerID)
		rateSum += careers[i].Rate
	}
	tableAverage := rateSum / float64(len(g.Results))

	entries := make([]Entry, len(g.Results))
	rateAfter := make([]float64, len(g.Results))
	for i, r := range g.Results {
		c := careers[i]
		p := placements[i]
		rateAfter[i] = round(c.Rate+a.tables.Rate.Change(c.Rate, tableAverage, c.Games, p), 2)

		danAfter := a.tables.Dan.Apply(c.DanPoints, p)
		entries[i] = Entry{
			GameID:          g.ID,
			PlayerID:        r.PlayerID,
			SeasonID:        g.SeasonID,
			PlayedAt:        g.PlayedAt,
			Placement:       p,
			Score:           r.Score,
			DanLevelBefore:  c.DanLevel,
			DanLevelAfter:   a.tables.Dan.Lookup(danAfter).Level,
			DanPointsBefore: c.DanPoints,
			DanPointsAfter:  danAfter,
			RateBefore:      c.Rate,
			RateAfter:       rateAfter[i],
			SeasonPoints:    rule.Points(r.Score, p),
		}
	}

	for i, e := range entries {
		c := careers[i]
		dan := a.tables.Dan.Lookup(e.DanPointsAfter)
		c.DanPoints = e.DanPointsAfter
		c.DanLevel = dan.Level
		c.DanName = dan.Name
		if dan.Level > c.MaxDanLevel {
			c.MaxDanLevel = dan.Level
		}
		c.Rate = e.RateAfter
		if c.Rate > c.MaxRate {
			c.MaxRate = c.Rate
		}
		c.Games++
		c.Placements[e.Placement-1]++
		c.LastPlayedAt = g.PlayedAt

		s := a.standing(e.PlayerID, g.SeasonID)
		s.Points = round(s.Points+e.SeasonPoints, 1)
		s.Games++
		s.Placements[e.Placement-1]++
		s.ScoreSum += int64(e.Score)
	}

	a.last = &Game{ID: g.ID, PlayedAt: g.PlayedAt}
	return entries, nil
}

// Careers returns every touched or seeded career ordered by player ID.
func (a *Aggregator) Careers() []Career {
	out := make([]Career, 0, len(a.careers))
	for _, c := range a.careers {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PlayerID < out[j].PlayerID })
	return out
}

func (a *Aggregator) Standings() []Standing {
	out := make([]Standing, 0, len(a.standings))
	for _, s := range a.standings {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SeasonID != out[j].SeasonID {
			return out[i].SeasonID < out[j].SeasonID
		}
		return out[i].PlayerID < out[j].PlayerID
	})
	return out
}

// Replay computes everything from scratch. Games may arrive in any order.
func Replay(t Tables, games []Game) (*Aggregator, []Entry, error) {
	ordered := make([]Game, len(games))
	copy(ordered, games)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Before(ordered[j]) })

	agg := NewAggregator(t)
	entries := make([]Entry, 0, len(ordered)*Seats)
	for _, g := range ordered {
		e, err := agg.Apply(g)
		if err != nil {
			return nil, nil, err
		}
		entries = append(entries, e...)
	}
	return agg, entries, nil
}

// ReplayValid is Replay that skips games the current tables reject (for
// example after the starting points changed) instead of failing. Each
// skipped game is reported to onInvalid.
func ReplayValid(t Tables, games []Game, onInvalid func(Game, error)) (*Aggregator, []Entry) {
	ordered := make([]Game, len(games))
	copy(ordered, games)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Before(ordered[j]) })

	agg := NewAggregator(t)
	entries := make([]Entry, 0, len(ordered)*Seats)
	for _, g := range ordered {
		e, err := agg.Apply(g)
		if err != nil {
			if onInvalid != nil {
				onInvalid(g, err)
			}
			continue
		}
		entries = append(entries, e...)
	}
	return agg, entries
}

// Last returns the most recent game reflected in the state.
func (a *Aggregator) Last() (id string, playedAt time.Time, ok bool) {
	if a.last == nil {
		return "", time.Time{}, false
	}
	return a.last.ID, a.last.PlayedAt, true
}
