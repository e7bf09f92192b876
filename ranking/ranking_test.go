package ranking

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDanTable(t *testing.T) DanTable {
	t.Helper()
	table, err := NewDanTable([]DanRule{
		{Level: 2, Name: "Shodan", MinPoints: 200, Deltas: [Seats]int{30, 15, 0, -30}},
		{Level: 0, Name: "Novice", MinPoints: 0, Deltas: [Seats]int{20, 10, 0, 0}, Protected: true},
		{Level: 1, Name: "1 kyu", MinPoints: 100, Deltas: [Seats]int{20, 10, 0, -10}, Protected: true},
	})
	require.NoError(t, err)
	return table
}

func testRateTable(t *testing.T) RateTable {
	t.Helper()
	table, err := NewRateTable(1500, 40, []RateBracket{
		{MinGames: 100, Deltas: [Seats]float64{30, 10, -10, -30}, Correction: 0.5},
		{MinGames: 0, Deltas: [Seats]float64{30, 10, -10, -30}, Correction: 1},
	})
	require.NoError(t, err)
	return table
}

func testSeasonRule() SeasonRule {
	return SeasonRule{StartingPoints: 25000, ReturnPoints: 30000, Uma: [Seats]float64{15, 5, -5, -15}}
}

func testTables(t *testing.T) Tables {
	rule := testSeasonRule()
	return Tables{
		Dan:    testDanTable(t),
		Rate:   testRateTable(t),
		Season: func(string) SeasonRule { return rule },
	}
}

func TestDanTable_Lookup(t *testing.T) {
	table := testDanTable(t)

	assert.Equal(t, "Novice", table.Lookup(0).Name)
	assert.Equal(t, "Novice", table.Lookup(99).Name)
	assert.Equal(t, "1 kyu", table.Lookup(100).Name)
	assert.Equal(t, "Shodan", table.Lookup(250).Name)
	assert.Equal(t, "Shodan", table.Lookup(100000).Name)
	assert.Equal(t, "Novice", table.Lookup(-5).Name)
}

func TestDanTable_Apply(t *testing.T) {
	table := testDanTable(t)

	assert.Equal(t, 115, table.Apply(95, 1), "promotion uses the current rule's delta")
	assert.Equal(t, 100, table.Apply(100, 4), "protected rule keeps its threshold")
	assert.Equal(t, 175, table.Apply(205, 4), "unprotected rule can demote")
	assert.Equal(t, 0, table.Apply(0, 4))
	assert.Equal(t, 200, table.Apply(200, 3))
}

func TestDanTable_Next(t *testing.T) {
	table := testDanTable(t)

	next, ok := table.Next(0)
	require.True(t, ok)
	assert.Equal(t, 100, next.MinPoints)

	_, ok = table.Next(2)
	assert.False(t, ok)
}

func TestNewDanTable_Rejects(t *testing.T) {
	_, err := NewDanTable(nil)
	assert.Error(t, err)

	_, err = NewDanTable([]DanRule{{Level: 0, MinPoints: 10}})
	assert.Error(t, err, "table must start at zero")

	_, err = NewDanTable([]DanRule{{Level: 0, MinPoints: 0}, {Level: 1, MinPoints: 0}})
	assert.Error(t, err, "duplicate threshold")

	_, err = NewDanTable([]DanRule{{Level: 3, MinPoints: 0}, {Level: 1, MinPoints: 50}})
	assert.Error(t, err, "levels must follow thresholds")
}

func TestRateTable_BracketAndChange(t *testing.T) {
	table := testRateTable(t)

	assert.Equal(t, 0, table.Bracket(99).MinGames)
	assert.Equal(t, 100, table.Bracket(100).MinGames)

	assert.InDelta(t, 30.0, table.Change(1500, 1500, 0, 1), 1e-9)
	assert.InDelta(t, 27.5, table.Change(1600, 1500, 0, 1), 1e-9)
	assert.InDelta(t, -27.5, table.Change(1400, 1500, 0, 4), 1e-9)
	assert.InDelta(t, 15.0, table.Change(1500, 1500, 150, 1), 1e-9)
}

func TestNewRateTable_Rejects(t *testing.T) {
	_, err := NewRateTable(1500, 0, []RateBracket{{MinGames: 0, Correction: 1}})
	assert.Error(t, err)

	_, err = NewRateTable(1500, 40, []RateBracket{{MinGames: 10, Correction: 1}})
	assert.Error(t, err)

	_, err = NewRateTable(1500, 40, []RateBracket{{MinGames: 0, Correction: 0}})
	assert.Error(t, err)
}

func TestSeasonRule_PointsAreZeroSum(t *testing.T) {
	rule := testSeasonRule()
	require.NoError(t, rule.Validate())

	assert.InDelta(t, 20.0, rule.Oka(), 1e-9)
	scores := []int{45000, 25000, 20000, 10000}
	var sum float64
	for i, s := range scores {
		sum += rule.Points(s, i+1)
	}
	assert.InDelta(t, 50.0, rule.Points(45000, 1), 1e-9)
	assert.InDelta(t, -35.0, rule.Points(10000, 4), 1e-9)
	assert.InDelta(t, 0, sum, 1e-9)
}

func TestSeasonRule_CheckScoresRejectsOddSticks(t *testing.T) {
	rule := testSeasonRule()
	results := []SeatResult{
		{PlayerID: "a", Seat: 0, Score: 20000},
		{PlayerID: "b", Seat: 1, Score: 25150},
		{PlayerID: "c", Seat: 2, Score: 25000},
		{PlayerID: "d", Seat: 3, Score: 29850},
	}
	assert.ErrorIs(t, rule.CheckScores(results), ErrScoreUnit)

	results[1].Score, results[3].Score = 25100, 29900
	assert.NoError(t, rule.CheckScores(results))
}

func TestSeasonRule_AcceptedScoresAlwaysSumToZero(t *testing.T) {
	rules := []SeasonRule{
		testSeasonRule(),
		{StartingPoints: 30000, ReturnPoints: 30000, Uma: [Seats]float64{20, 10, -10, -20}},
		{StartingPoints: 25000, ReturnPoints: 30000, Uma: [Seats]float64{10.5, 2.3, -2.3, -10.5}},
	}
	for _, rule := range rules {
		require.NoError(t, rule.Validate())
		total := rule.TableTotal()
		for a := -5000; a <= total; a += 2300 {
			for b := -5000; b <= total-a; b += 1700 {
				for c := -5000; c <= total-a-b; c += 2900 {
					results := []SeatResult{
						{PlayerID: "a", Seat: 0, Score: a},
						{PlayerID: "b", Seat: 1, Score: b},
						{PlayerID: "c", Seat: 2, Score: c},
						{PlayerID: "d", Seat: 3, Score: total - a - b - c},
					}
					require.NoError(t, rule.CheckScores(results))
					var sum float64
					for i, p := range Placements(results) {
						sum += rule.Points(results[i].Score, p)
					}
					if !assert.InDelta(t, 0, round(sum, 1), 1e-9, "scores %d %d %d %d", a, b, c, total-a-b-c) {
						return
					}
				}
			}
		}
	}
}

func TestSeasonRule_Validate(t *testing.T) {
	bad := testSeasonRule()
	bad.Uma[0] = 20
	assert.Error(t, bad.Validate())

	bad = testSeasonRule()
	bad.ReturnPoints = 20000
	assert.Error(t, bad.Validate())

	bad = testSeasonRule()
	bad.ReturnPoints = 30050
	assert.Error(t, bad.Validate())

	bad = testSeasonRule()
	bad.Uma = [Seats]float64{15.25, 5, -5, -15.25}
	assert.Error(t, bad.Validate())
}

func TestPlacements_TieBrokenBySeat(t *testing.T) {
	results := []SeatResult{
		{PlayerID: "c", Seat: 2, Score: 25000},
		{PlayerID: "a", Seat: 0, Score: 25000},
		{PlayerID: "b", Seat: 1, Score: 30000},
		{PlayerID: "d", Seat: 3, Score: 20000},
	}
	assert.Equal(t, []int{3, 2, 1, 4}, Placements(results))
}

func TestValidateTable(t *testing.T) {
	ok := []SeatResult{{"a", 0, 0}, {"b", 1, 0}, {"c", 2, 0}, {"d", 3, 0}}
	assert.NoError(t, ValidateTable(ok))

	assert.ErrorIs(t, ValidateTable(ok[:3]), ErrResultCount)
	assert.ErrorIs(t, ValidateTable([]SeatResult{{"a", 0, 0}, {"b", 0, 0}, {"c", 2, 0}, {"d", 3, 0}}), ErrDuplicateSeat)
	assert.ErrorIs(t, ValidateTable([]SeatResult{{"a", 0, 0}, {"a", 1, 0}, {"c", 2, 0}, {"d", 3, 0}}), ErrSamePlayer)
	assert.ErrorIs(t, ValidateTable([]SeatResult{{"a", 0, 0}, {"b", 1, 0}, {"c", 2, 0}, {"d", 4, 0}}), ErrBadSeat)
}

func game(id string, at time.Time, scores ...int) Game {
	players := []string{"a", "b", "c", "d"}
	results := make([]SeatResult, len(scores))
	for i, s := range scores {
		results[i] = SeatResult{PlayerID: players[i], Seat: i, Score: s}
	}
	return Game{ID: id, SeasonID: "s1", PlayedAt: at, Results: results}
}

func TestAggregator_ApplySingleGame(t *testing.T) {
	agg := NewAggregator(testTables(t))
	at := time.Date(2026, 1, 10, 20, 0, 0, 0, time.UTC)

	entries, err := agg.Apply(game("g1", at, 45000, 25000, 20000, 10000))
	require.NoError(t, err)
	require.Len(t, entries, 4)

	byPlayer := map[string]Entry{}
	for _, e := range entries {
		byPlayer[e.PlayerID] = e
	}
	assert.InDelta(t, 1530.0, byPlayer["a"].RateAfter, 1e-9)
	assert.InDelta(t, 1470.0, byPlayer["d"].RateAfter, 1e-9)
	assert.Equal(t, 20, byPlayer["a"].DanPointsAfter)
	assert.Equal(t, 0, byPlayer["d"].DanPointsAfter)
	assert.InDelta(t, 50.0, byPlayer["a"].SeasonPoints, 1e-9)

	careers := agg.Careers()
	require.Len(t, careers, 4)
	assert.Equal(t, "a", careers[0].PlayerID)
	assert.Equal(t, 1, careers[0].Games)
	assert.Equal(t, 1, careers[0].Placements[0])
	assert.Equal(t, at, careers[0].LastPlayedAt)

	standings := agg.Standings()
	var total float64
	for _, s := range standings {
		total += s.Points
	}
	assert.InDelta(t, 0, total, 1e-9)
}

func TestAggregator_ScoreSumMismatch(t *testing.T) {
	agg := NewAggregator(testTables(t))
	_, err := agg.Apply(game("g1", time.Now(), 45000, 25000, 20000, 9000))
	assert.ErrorIs(t, err, ErrScoreSum)
}

func TestAggregator_RejectsOlderGame(t *testing.T) {
	agg := NewAggregator(testTables(t))
	now := time.Now()

	_, err := agg.Apply(game("g2", now, 25000, 25000, 25000, 25000))
	require.NoError(t, err)

	_, err = agg.Apply(game("g1", now.Add(-time.Hour), 25000, 25000, 25000, 25000))
	assert.ErrorIs(t, err, ErrOutOfOrder)
}

func TestAggregator_SeededStateContinues(t *testing.T) {
	agg := NewAggregator(testTables(t))
	agg.Seed(Career{PlayerID: "a", DanPoints: 95, Rate: 1600, MaxRate: 1600, Games: 120})
	agg.SetLast("g0", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	entries, err := agg.Apply(game("g1", time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC), 45000, 25000, 20000, 10000))
	require.NoError(t, err)

	a := entries[0]
	assert.Equal(t, 115, a.DanPointsAfter)
	assert.Equal(t, 1, a.DanLevelAfter)
	// average 1525, bracket correction 0.5: (30 + (1525-1600)/40) * 0.5
	assert.InDelta(t, 1600+14.06, a.RateAfter, 1e-9)
}

func TestReplay_OrderIndependentOfInput(t *testing.T) {
	tables := testTables(t)
	base := time.Date(2026, 2, 1, 19, 0, 0, 0, time.UTC)
	games := []Game{
		game("g1", base, 45000, 25000, 20000, 10000),
		game("g2", base.Add(time.Hour), 10000, 20000, 25000, 45000),
		game("g3", base.Add(2*time.Hour), 30000, 30000, 20000, 20000),
	}
	reversed := []Game{games[2], games[1], games[0]}

	a1, e1, err := Replay(tables, games)
	require.NoError(t, err)
	a2, e2, err := Replay(tables, reversed)
	require.NoError(t, err)

	assert.Equal(t, a1.Careers(), a2.Careers())
	assert.Equal(t, a1.Standings(), a2.Standings())
	assert.Equal(t, e1, e2)
	assert.Len(t, e1, 12)
}

func TestAggregator_SeatOrderDoesNotMatter(t *testing.T) {
	at := time.Now()
	g := game("g1", at, 45000, 25000, 20000, 10000)
	shuffled := g
	shuffled.Results = []SeatResult{g.Results[3], g.Results[1], g.Results[0], g.Results[2]}

	a1 := NewAggregator(testTables(t))
	_, err := a1.Apply(g)
	require.NoError(t, err)
	a2 := NewAggregator(testTables(t))
	_, err = a2.Apply(shuffled)
	require.NoError(t, err)

	assert.Equal(t, a1.Careers(), a2.Careers())
}

func TestReplayValid_SkipsRejectedGames(t *testing.T) {
	base := time.Date(2026, 3, 1, 19, 0, 0, 0, time.UTC)
	games := []Game{
		game("g1", base, 45000, 25000, 20000, 10000),
		game("g2", base.Add(time.Hour), 45000, 25000, 20000, 9000),
		game("g3", base.Add(2*time.Hour), 30000, 30000, 20000, 20000),
	}

	var skipped []string
	agg, entries := ReplayValid(testTables(t), games, func(g Game, err error) {
		assert.ErrorIs(t, err, ErrScoreSum)
		skipped = append(skipped, g.ID)
	})

	assert.Equal(t, []string{"g2"}, skipped)
	assert.Len(t, entries, 8)
	id, at, ok := agg.Last()
	require.True(t, ok)
	assert.Equal(t, "g3", id)
	assert.Equal(t, base.Add(2*time.Hour), at)
}
