package models

// Player is a league member. Nickname uniqueness is enforced on NicknameKey, the
// width/case folded form of the nickname, so "ＴＡＲＯ" and "taro" collide.
type Player struct {
	ID          string `json:"id" gorm:"primaryKey;type:uuid"`
	Nickname    string `json:"nickname" gorm:"not null"`
	NicknameKey string `json:"-" gorm:"uniqueIndex;not null"`
	Slug        string `json:"slug" gorm:"uniqueIndex;not null"`
	SearchKey   string `json:"-" gorm:"index"` // ascii transliteration used by search
	AvatarURL   string `json:"avatar_url,omitempty"`
	Bio         string `json:"bio,omitempty" gorm:"type:text"`

	Ranking *PlayerRanking `json:"ranking,omitempty" gorm:"foreignKey:PlayerID"`

	Versioning
	Timestamps
}
