package models

// DanConfig is one rule of the Dan table: the rank reached at MinPoints and the
// point change per placement while holding it.
type DanConfig struct {
	ID          string `json:"id" gorm:"primaryKey;type:uuid"`
	Level       int    `json:"level" gorm:"not null;index"`
	Name        string `json:"name" gorm:"not null"`
	MinPoints   int    `json:"min_points" gorm:"not null"`
	FirstDelta  int    `json:"first_delta"`
	SecondDelta int    `json:"second_delta"`
	ThirdDelta  int    `json:"third_delta"`
	FourthDelta int    `json:"fourth_delta"`
	Protected   bool   `json:"protected" gorm:"default:false"` // no demotion below MinPoints

	Versioning
	Timestamps
}

// RateConfig is a games-played bracket of the Rate table.
type RateConfig struct {
	ID          string  `json:"id" gorm:"primaryKey;type:uuid"`
	MinGames    int     `json:"min_games" gorm:"not null;index"`
	FirstDelta  float64 `json:"first_delta"`
	SecondDelta float64 `json:"second_delta"`
	ThirdDelta  float64 `json:"third_delta"`
	FourthDelta float64 `json:"fourth_delta"`
	Correction  float64 `json:"correction" gorm:"not null;default:1"`

	Versioning
	Timestamps
}

// RateSetting holds the table-wide rate parameters (single row).
type RateSetting struct {
	ID          int     `json:"-" gorm:"primaryKey"`
	InitialRate float64 `json:"initial_rate" gorm:"not null;default:1500"`
	Divisor     float64 `json:"divisor" gorm:"not null;default:40"`

	Versioning
	Timestamps
}

const RateSettingID = 1

// SeasonConfig holds the uma/oka rule used to turn final scores into season points.
// A nil SeasonID is the league default.
type SeasonConfig struct {
	ID             string  `json:"id" gorm:"primaryKey;type:uuid"`
	SeasonID       *string `json:"season_id,omitempty" gorm:"type:uuid;index"`
	StartingPoints int     `json:"starting_points" gorm:"not null;default:25000"`
	ReturnPoints   int     `json:"return_points" gorm:"not null;default:30000"`
	Uma1           float64 `json:"uma1"`
	Uma2           float64 `json:"uma2"`
	Uma3           float64 `json:"uma3"`
	Uma4           float64 `json:"uma4"`

	Versioning
	Timestamps
}
