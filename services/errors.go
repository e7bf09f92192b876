package services

import (
	"errors"
	"fmt"

	"mahjong-league/database"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrDuplicateNickname = errors.New("nickname already taken")
	ErrStaleVersion      = database.ErrStaleVersion
	ErrInvalidGame       = errors.New("invalid game")
	ErrInvalidConfig     = errors.New("invalid configuration")
	ErrInvalidInput      = errors.New("invalid input")
	ErrConflict          = errors.New("conflict")
)

// notFound maps gorm's record-not-found onto ErrNotFound, naming what was missing.
func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return err
}

func invalid(base error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", base, fmt.Sprintf(format, args...))
}

// checkVersion fails fast when the client edited an outdated copy. The
// versioning plugin repeats the check inside the UPDATE.
func checkVersion(stored, sent int64) error {
	if sent != 0 && sent != stored {
		return fmt.Errorf("%w: have %d, got %d", ErrStaleVersion, stored, sent)
	}
	return nil
}

// IsID reports whether id has the canonical uuid form primary keys use.
func IsID(id string) bool {
	if len(id) != 36 {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}

// checkID rejects ids that would fail the uuid column cast.
func checkID(base error, what, id string) error {
	if !IsID(id) {
		return invalid(base, "%s id %q is not a uuid", what, id)
	}
	return nil
}
