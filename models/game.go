// models/game.go
package models

import (
	"time"
)

// Seats, East first. Seat order breaks score ties.
const (
	SeatEast  = 0
	SeatSouth = 1
	SeatWest  = 2
	SeatNorth = 3
)

// PlayersPerGame is fixed: four-player riichi only.
const PlayersPerGame = 4

type Game struct {
	ID           string    `json:"id" gorm:"primaryKey;type:uuid"`
	SeasonID     string    `json:"season_id" gorm:"type:uuid;not null;index"`
	TournamentID *string   `json:"tournament_id,omitempty" gorm:"type:uuid;index"` // nil = regular league game
	PlayedAt     time.Time `json:"played_at" gorm:"not null;index"`
	Note         string    `json:"note,omitempty" gorm:"type:text"`

	// 🔗 Results, always four
	Results []GameResult `json:"results" gorm:"foreignKey:GameID"`

	Season     *Season     `json:"season,omitempty" gorm:"foreignKey:SeasonID"`
	Tournament *Tournament `json:"tournament,omitempty" gorm:"foreignKey:TournamentID"`

	Versioning
	Timestamps
}

type GameResult struct {
	ID        string `json:"id" gorm:"primaryKey;type:uuid"`
	GameID    string `json:"game_id" gorm:"type:uuid;not null;uniqueIndex:uk_result_game_seat;uniqueIndex:uk_result_game_player"`
	PlayerID  string `json:"player_id" gorm:"type:uuid;not null;index;uniqueIndex:uk_result_game_player"`
	Seat      int    `json:"seat" gorm:"not null;uniqueIndex:uk_result_game_seat;check:seat >= 0 and seat <= 3"`
	Score     int    `json:"score" gorm:"not null"`
	Placement int    `json:"placement" gorm:"not null;check:placement >= 1 and placement <= 4"`

	Player *Player `json:"player,omitempty" gorm:"foreignKey:PlayerID"`
}
