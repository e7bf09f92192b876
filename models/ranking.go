package models

import (
	"time"

	"gorm.io/gorm"
)

// Timestamps adds GORM auto-times and soft delete.
type Timestamps struct {
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

// Versioning carries the optimistic lock counter maintained by database.VersioningPlugin.
type Versioning struct {
	Version int64 `json:"version" gorm:"not null;default:1"`
}

// PlayerRanking is the career row for a player (denormalized, rebuilt by recompute).
type PlayerRanking struct {
	ID       string `json:"id" gorm:"primaryKey;type:uuid"`
	PlayerID string `json:"player_id" gorm:"type:uuid;uniqueIndex;not null"`

	// Dan
	DanLevel    int    `json:"dan_level" gorm:"default:0"`
	DanName     string `json:"dan_name"`
	DanPoints   int    `json:"dan_points" gorm:"default:0"`
	MaxDanLevel int    `json:"max_dan_level" gorm:"default:0"`

	// Rate
	Rate    float64 `json:"rate"`
	MaxRate float64 `json:"max_rate"`

	// Activity counters
	Games   int `json:"games" gorm:"default:0"`
	Firsts  int `json:"firsts" gorm:"default:0"`
	Seconds int `json:"seconds" gorm:"default:0"`
	Thirds  int `json:"thirds" gorm:"default:0"`
	Fourths int `json:"fourths" gorm:"default:0"`

	LastPlayedAt *time.Time `json:"last_played_at,omitempty"`

	Player *Player `json:"player,omitempty" gorm:"foreignKey:PlayerID"`

	Versioning
	Timestamps
}

// AveragePlacement is 0 for players without games.
func (r PlayerRanking) AveragePlacement() float64 {
	if r.Games == 0 {
		return 0
	}
	sum := r.Firsts + 2*r.Seconds + 3*r.Thirds + 4*r.Fourths
	return float64(sum) / float64(r.Games)
}

// SeasonStanding holds a player's accumulated season points for one season.
type SeasonStanding struct {
	ID       string  `json:"id" gorm:"primaryKey;type:uuid"`
	PlayerID string  `json:"player_id" gorm:"type:uuid;not null;uniqueIndex:uk_standing_player_season"`
	SeasonID string  `json:"season_id" gorm:"type:uuid;not null;uniqueIndex:uk_standing_player_season;index"`
	Points   float64 `json:"points"`
	Games    int     `json:"games" gorm:"default:0"`
	Firsts   int     `json:"firsts" gorm:"default:0"`
	Seconds  int     `json:"seconds" gorm:"default:0"`
	Thirds   int     `json:"thirds" gorm:"default:0"`
	Fourths  int     `json:"fourths" gorm:"default:0"`
	ScoreSum int64   `json:"score_sum" gorm:"default:0"`

	Player *Player `json:"player,omitempty" gorm:"foreignKey:PlayerID"`
	Season *Season `json:"season,omitempty" gorm:"foreignKey:SeasonID"`

	Versioning
	Timestamps
}

// PointsEntry is one row of the points ledger: what a single game result did to a player.
type PointsEntry struct {
	ID       string    `json:"id" gorm:"primaryKey;type:uuid"`
	GameID   string    `json:"game_id" gorm:"type:uuid;not null;index"`
	PlayerID string    `json:"player_id" gorm:"type:uuid;not null;index:idx_points_player_played"`
	SeasonID string    `json:"season_id" gorm:"type:uuid;not null;index"`
	PlayedAt time.Time `json:"played_at" gorm:"not null;index:idx_points_player_played"`

	Placement int `json:"placement"`
	Score     int `json:"score"`

	DanLevelBefore  int `json:"dan_level_before"`
	DanLevelAfter   int `json:"dan_level_after"`
	DanPointsBefore int `json:"dan_points_before"`
	DanPointsAfter  int `json:"dan_points_after"`

	RateBefore float64 `json:"rate_before"`
	RateAfter  float64 `json:"rate_after"`

	SeasonPoints float64 `json:"season_points"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

func (PointsEntry) TableName() string {
	return "points"
}

// RankingState is a single row tracking what the derived ranking tables were built from.
type RankingState struct {
	ID           int        `json:"-" gorm:"primaryKey"`
	Generation   int64      `json:"generation" gorm:"not null;default:0"`
	LastPlayedAt *time.Time `json:"last_played_at,omitempty"`
	LastGameID   string     `json:"last_game_id,omitempty"`
	RecomputedAt *time.Time `json:"recomputed_at,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at" gorm:"autoUpdateTime"`
}

// RankingStateID is the primary key of the only RankingState row.
const RankingStateID = 1

// RankingSnapshot is a daily copy of the rate table position for progression charts.
type RankingSnapshot struct {
	ID        uint64    `json:"id" gorm:"primaryKey;autoIncrement"`
	TakenOn   time.Time `json:"taken_on" gorm:"type:date;not null;uniqueIndex:uk_snapshot_player"`
	PlayerID  string    `json:"player_id" gorm:"type:uuid;not null;uniqueIndex:uk_snapshot_player;index"`
	Position  int       `json:"position"`
	Rate      float64   `json:"rate"`
	DanLevel  int       `json:"dan_level"`
	DanPoints int       `json:"dan_points"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}
