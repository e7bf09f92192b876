package services

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"mahjong-league/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// sqlOnlyDB renders statements without a server.
func sqlOnlyDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN: "host=localhost user=league dbname=league sslmode=disable",
	}), &gorm.Config{
		DryRun:                 true,
		DisableAutomaticPing:   true,
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)
	return db
}

func TestNicknameHolders_IncludesDeletedPlayers(t *testing.T) {
	db := sqlOnlyDB(t)

	sql := db.ToSQL(func(tx *gorm.DB) *gorm.DB {
		return nicknameHolders(tx, "taro", "").First(&models.Player{})
	})
	assert.Contains(t, sql, `nickname_key = 'taro'`)
	assert.NotContains(t, sql, "deleted_at")

	sql = db.ToSQL(func(tx *gorm.DB) *gorm.DB {
		return nicknameHolders(tx, "taro", "7c9e6679-7425-40de-944b-e07fc1f90ae7").First(&models.Player{})
	})
	assert.Contains(t, sql, `id <> '7c9e6679-7425-40de-944b-e07fc1f90ae7'`)
}

func TestPlayerSearch_ExcludesDeletedPlayers(t *testing.T) {
	db := sqlOnlyDB(t)

	for _, query := range []string{"", "Ｔａｒｏ"} {
		sql := db.ToSQL(func(tx *gorm.DB) *gorm.DB {
			var out []models.Player
			return playerSearch(tx, query).Find(&out)
		})
		assert.Contains(t, sql, `"players"."deleted_at" IS NULL`, "query %q", query)
	}

	sql := db.ToSQL(func(tx *gorm.DB) *gorm.DB {
		var out []models.Player
		return playerSearch(tx, "Ｔａｒｏ").Find(&out)
	})
	assert.Contains(t, sql, `nickname_key LIKE '%taro%'`)
}

func TestTranslateDuplicate(t *testing.T) {
	err := translateDuplicate(fmt.Errorf("insert: %w", gorm.ErrDuplicatedKey))
	assert.ErrorIs(t, err, ErrDuplicateNickname)

	other := errors.New("timeout")
	assert.Equal(t, other, translateDuplicate(other))
}

func TestIsID(t *testing.T) {
	assert.True(t, IsID("7c9e6679-7425-40de-944b-e07fc1f90ae7"))
	for _, bad := range []string{"", "abc", "7c9e6679742540de944be07fc1f90ae7", "{7c9e6679-7425-40de-944b-e07fc1f90ae7}", "7c9e6679-7425-40de-944b-e07fc1f90aeZ"} {
		assert.False(t, IsID(bad), bad)
	}
	assert.ErrorIs(t, checkID(ErrInvalidGame, "player", "p1"), ErrInvalidGame)
}

func TestRestoreInput_CarriesStoredGame(t *testing.T) {
	tid := "b1a4c2de-0000-4000-8000-000000000001"
	played := time.Date(2026, 3, 1, 19, 0, 0, 0, time.UTC)
	g := models.Game{
		ID:           "g1",
		SeasonID:     "s1",
		TournamentID: &tid,
		PlayedAt:     played,
		Results: []models.GameResult{
			{PlayerID: "a", Seat: 0, Score: 40000, Placement: 1},
			{PlayerID: "b", Seat: 1, Score: 30000, Placement: 2},
			{PlayerID: "c", Seat: 2, Score: 20000, Placement: 3},
			{PlayerID: "d", Seat: 3, Score: 10000, Placement: 4},
		},
	}

	in := restoreInput(g)
	assert.Equal(t, "s1", in.SeasonID)
	assert.Equal(t, &tid, in.TournamentID)
	assert.Equal(t, played, in.PlayedAt)
	require.Len(t, in.Results, 4)
	assert.Equal(t, ResultInput{PlayerID: "d", Seat: 3, Score: 10000}, in.Results[3])
}
