package services

import (
	"context"
	"math"
	"os"
	"sync"
	"testing"
	"time"

	"mahjong-league/configcache"
	"mahjong-league/database"
	"mahjong-league/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var (
	testDBOnce sync.Once
	testDB     *gorm.DB
	testDBErr  error
)

// openTestDB connects to TEST_DATABASE_URL, or skips the test.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	testDBOnce.Do(func() { testDB, testDBErr = database.Open(dsn) })
	require.NoError(t, testDBErr)
	return testDB
}

type recordedTriggers struct {
	mu      sync.Mutex
	reasons []string
}

func (r *recordedTriggers) Trigger(reason string) {
	r.mu.Lock()
	r.reasons = append(r.reasons, reason)
	r.mu.Unlock()
}

func suffix() string { return uuid.NewString()[:8] }

func TestPlayers_DuplicateNicknameFails(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	players := NewPlayerService(db, nil)

	name := "Tanaka" + suffix()
	_, err := players.Create(ctx, PlayerInput{Nickname: name})
	require.NoError(t, err)

	_, err = players.Create(ctx, PlayerInput{Nickname: name})
	assert.ErrorIs(t, err, ErrDuplicateNickname)

	// Width and case variants normalize to the same key.
	_, err = players.Create(ctx, PlayerInput{Nickname: " " + toFullWidthUpper(name) + " "})
	assert.ErrorIs(t, err, ErrDuplicateNickname)
}

func toFullWidthUpper(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
			out = append(out, r-'a'+'Ａ')
		case r >= 'A' && r <= 'Z':
			out = append(out, r-'A'+'Ａ')
		case r >= '0' && r <= '9':
			out = append(out, r-'0'+'０')
		default:
			out = append(out, r)
		}
	}
	return string(out)
}

func TestPlayers_SoftDeletedExcludedFromList(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	players := NewPlayerService(db, NewRankingService(db, nil, nil, nil))

	name := "Sato" + suffix()
	p, err := players.Create(ctx, PlayerInput{Nickname: name})
	require.NoError(t, err)

	list, err := players.List(ctx, name, PageRequest{})
	require.NoError(t, err)
	require.Len(t, list.Items, 1)

	require.NoError(t, players.Delete(ctx, p.ID, p.Version))

	list, err = players.List(ctx, name, PageRequest{})
	require.NoError(t, err)
	assert.Empty(t, list.Items)
	assert.Zero(t, list.Total)

	_, err = players.GetBySlug(ctx, p.Slug)
	assert.ErrorIs(t, err, ErrNotFound)

	trash, err := players.Deleted(ctx)
	require.NoError(t, err)
	var found bool
	for _, d := range trash {
		found = found || d.ID == p.ID
	}
	assert.True(t, found)

	// The deleted holder still blocks its nickname.
	_, err = players.Create(ctx, PlayerInput{Nickname: name})
	assert.ErrorIs(t, err, ErrDuplicateNickname)

	restored, err := players.Restore(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, restored.DeletedAt.Valid)
}

func TestPlayers_StaleVersionRejected(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	players := NewPlayerService(db, nil)

	p, err := players.Create(ctx, PlayerInput{Nickname: "Ito" + suffix()})
	require.NoError(t, err)

	updated, err := players.Update(ctx, p.ID, PlayerInput{Nickname: p.Nickname, Bio: "riichi", Version: p.Version})
	require.NoError(t, err)
	assert.Equal(t, p.Version+1, updated.Version)

	_, err = players.Update(ctx, p.ID, PlayerInput{Nickname: p.Nickname, Bio: "tsumo", Version: p.Version})
	assert.ErrorIs(t, err, ErrStaleVersion)
}

func TestGames_RecordedGameUpdatesStandings(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	triggers := &recordedTriggers{}

	tables := configcache.New(TableLoader{DB: db}, 0, nil)
	config := NewConfigService(db, tables, triggers)
	require.NoError(t, config.EnsureDefaults(ctx))

	rankings := NewRankingService(db, tables, nil, nil)
	players := NewPlayerService(db, rankings)
	seasons := NewSeasonService(db, triggers)
	games := NewGameService(db, tables, rankings, triggers)

	season, err := seasons.Create(ctx, SeasonInput{Name: "Season " + suffix(), StartsAt: time.Now().Add(-time.Hour)})
	require.NoError(t, err)

	ids := make([]string, 4)
	for i := range ids {
		p, err := players.Create(ctx, PlayerInput{Nickname: "P" + suffix()})
		require.NoError(t, err)
		ids[i] = p.ID
	}

	_, err = games.Create(ctx, GameInput{
		SeasonID: season.ID,
		PlayedAt: time.Now(),
		Results: []ResultInput{
			{PlayerID: ids[0], Seat: 0, Score: 42000},
			{PlayerID: ids[1], Seat: 1, Score: 31000},
			{PlayerID: ids[2], Seat: 2, Score: 20000},
			{PlayerID: ids[3], Seat: 3, Score: 7000},
		},
	})
	require.NoError(t, err)

	// A game off by one point is rejected.
	_, err = games.Create(ctx, GameInput{
		SeasonID: season.ID,
		PlayedAt: time.Now(),
		Results: []ResultInput{
			{PlayerID: ids[0], Seat: 0, Score: 42000},
			{PlayerID: ids[1], Seat: 1, Score: 31000},
			{PlayerID: ids[2], Seat: 2, Score: 20000},
			{PlayerID: ids[3], Seat: 3, Score: 7001},
		},
	})
	assert.ErrorIs(t, err, ErrInvalidGame)

	// Scores must be whole 100-point sticks, even when they add up.
	_, err = games.Create(ctx, GameInput{
		SeasonID: season.ID,
		PlayedAt: time.Now(),
		Results: []ResultInput{
			{PlayerID: ids[0], Seat: 0, Score: 20000},
			{PlayerID: ids[1], Seat: 1, Score: 25150},
			{PlayerID: ids[2], Seat: 2, Score: 25000},
			{PlayerID: ids[3], Seat: 3, Score: 29850},
		},
	})
	assert.ErrorIs(t, err, ErrInvalidGame)

	// Malformed ids are rejected before they reach the uuid columns.
	_, err = games.Create(ctx, GameInput{
		SeasonID: season.ID,
		PlayedAt: time.Now(),
		Results: []ResultInput{
			{PlayerID: "abc", Seat: 0, Score: 40000},
			{PlayerID: ids[1], Seat: 1, Score: 30000},
			{PlayerID: ids[2], Seat: 2, Score: 20000},
			{PlayerID: ids[3], Seat: 3, Score: 10000},
		},
	})
	assert.ErrorIs(t, err, ErrInvalidGame)

	_, err = rankings.Recompute(ctx, "test")
	require.NoError(t, err)

	var standings []models.SeasonStanding
	require.NoError(t, db.Where("season_id = ?", season.ID).Find(&standings).Error)
	require.Len(t, standings, 4)
	var sum float64
	for _, s := range standings {
		sum += s.Points
		assert.Equal(t, 1, s.Games)
	}
	assert.InDelta(t, 0, sum, 1e-9)

	page, err := rankings.Rankings(ctx, RankingQuery{Kind: KindSeason, SeasonID: season.ID})
	require.NoError(t, err)
	require.Len(t, page.Rows, 4)
	assert.Equal(t, ids[0], page.Rows[0].PlayerID)
	assert.Equal(t, ids[3], page.Rows[3].PlayerID)
	assert.True(t, math.Abs(page.Rows[0].Value) > 0)
}

func TestGames_RestoreRejectsClosedSeason(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	triggers := &recordedTriggers{}

	tables := configcache.New(TableLoader{DB: db}, 0, nil)
	require.NoError(t, NewConfigService(db, tables, triggers).EnsureDefaults(ctx))
	rankings := NewRankingService(db, tables, nil, nil)
	players := NewPlayerService(db, rankings)
	seasons := NewSeasonService(db, triggers)
	games := NewGameService(db, tables, rankings, triggers)

	season, err := seasons.Create(ctx, SeasonInput{Name: "Season " + suffix(), StartsAt: time.Now().Add(-2 * time.Hour)})
	require.NoError(t, err)
	results := make([]ResultInput, 4)
	for i, score := range []int{40000, 30000, 20000, 10000} {
		p, err := players.Create(ctx, PlayerInput{Nickname: "R" + suffix()})
		require.NoError(t, err)
		results[i] = ResultInput{PlayerID: p.ID, Seat: i, Score: score}
	}

	open, err := games.Create(ctx, GameInput{SeasonID: season.ID, PlayedAt: time.Now().Add(-time.Hour), Results: results})
	require.NoError(t, err)
	require.NoError(t, games.Delete(ctx, open.ID, 0))

	restored, err := games.Restore(ctx, open.ID)
	require.NoError(t, err)
	require.NoError(t, games.Delete(ctx, restored.ID, 0))

	// A deleted player blocks the restore.
	require.NoError(t, players.Delete(ctx, results[0].PlayerID, 0))
	_, err = games.Restore(ctx, open.ID)
	assert.ErrorIs(t, err, ErrInvalidGame)
	_, err = players.Restore(ctx, results[0].PlayerID)
	require.NoError(t, err)

	_, err = seasons.Close(ctx, season.ID)
	require.NoError(t, err)
	_, err = games.Restore(ctx, open.ID)
	assert.ErrorIs(t, err, ErrConflict)

	trash, err := games.Deleted(ctx)
	require.NoError(t, err)
	var stillDeleted bool
	for _, g := range trash {
		stillDeleted = stillDeleted || g.ID == open.ID
	}
	assert.True(t, stillDeleted)
}
