package models

import (
	"time"
)

// Tournament groups games played under one event inside (optionally) a season.
type Tournament struct {
	ID          string     `json:"id" gorm:"primaryKey;type:uuid"`
	SeasonID    *string    `json:"season_id,omitempty" gorm:"type:uuid;index"`
	Name        string     `json:"name" gorm:"not null"`
	Slug        string     `json:"slug" gorm:"uniqueIndex;not null"`
	Description string     `json:"description,omitempty" gorm:"type:text"`
	StartsAt    time.Time  `json:"starts_at" gorm:"not null"`
	EndsAt      *time.Time `json:"ends_at,omitempty"`

	Season *Season `json:"season,omitempty" gorm:"foreignKey:SeasonID"`

	// Calculated fields (not stored in DB)
	GamesCount int64 `json:"games_count,omitempty" gorm:"-"`

	Versioning
	Timestamps
}
