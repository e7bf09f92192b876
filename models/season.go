package models

import (
	"time"
)

const (
	SeasonStatusUpcoming = "upcoming"
	SeasonStatusActive   = "active"
	SeasonStatusClosed   = "closed"
)

type Season struct {
	ID         string     `json:"id" gorm:"primaryKey;type:uuid"`
	Name       string     `json:"name" gorm:"not null"`
	StartsAt   time.Time  `json:"starts_at" gorm:"not null"`
	EndsAt     *time.Time `json:"ends_at,omitempty"`
	Status     string     `json:"status" gorm:"type:varchar(16);default:'upcoming';index"` // upcoming | active | closed
	ArchiveURL string     `json:"archive_url,omitempty"`
	ArchivedAt *time.Time `json:"archived_at,omitempty"`

	Versioning
	Timestamps
}

// Contains reports whether t falls inside the season window. Open-ended seasons never end.
func (s Season) Contains(t time.Time) bool {
	if t.Before(s.StartsAt) {
		return false
	}
	return s.EndsAt == nil || t.Before(*s.EndsAt)
}
