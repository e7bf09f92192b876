package services

import (
	"context"
	"strings"
	"time"

	"mahjong-league/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type TournamentService struct {
	DB *gorm.DB
}

func NewTournamentService(db *gorm.DB) *TournamentService {
	return &TournamentService{DB: db}
}

type TournamentInput struct {
	SeasonID    *string    `json:"season_id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	StartsAt    time.Time  `json:"starts_at"`
	EndsAt      *time.Time `json:"ends_at"`
	Version     int64      `json:"version"`
}

func (in TournamentInput) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return invalid(ErrInvalidInput, "tournament name is required")
	}
	if in.StartsAt.IsZero() {
		return invalid(ErrInvalidInput, "starts_at is required")
	}
	if in.EndsAt != nil && in.EndsAt.Before(in.StartsAt) {
		return invalid(ErrInvalidInput, "ends_at must not be before starts_at")
	}
	return nil
}

func checkSeason(tx *gorm.DB, id *string) error {
	if id == nil {
		return nil
	}
	if err := checkID(ErrInvalidInput, "season", *id); err != nil {
		return err
	}
	var n int64
	if err := tx.Model(&models.Season{}).Where("id = ?", *id).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return invalid(ErrNotFound, "season %s", *id)
	}
	return nil
}

// List returns tournaments with their live game counts.
func (s *TournamentService) List(ctx context.Context, seasonID string) ([]models.Tournament, error) {
	db := s.DB.WithContext(ctx)
	q := db.Model(&models.Tournament{})
	if seasonID != "" {
		q = q.Where("season_id = ?", seasonID)
	}
	out := []models.Tournament{}
	if err := q.Order("starts_at DESC").Find(&out).Error; err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return out, nil
	}

	ids := make([]string, len(out))
	for i, t := range out {
		ids[i] = t.ID
	}
	var counts []struct {
		TournamentID string
		Games        int64
	}
	if err := db.Model(&models.Game{}).Select("tournament_id, COUNT(*) AS games").
		Where("tournament_id IN ?", ids).Group("tournament_id").Scan(&counts).Error; err != nil {
		return nil, err
	}
	byID := make(map[string]int64, len(counts))
	for _, c := range counts {
		byID[c.TournamentID] = c.Games
	}
	for i := range out {
		out[i].GamesCount = byID[out[i].ID]
	}
	return out, nil
}

func (s *TournamentService) Get(ctx context.Context, id string) (*models.Tournament, error) {
	db := s.DB.WithContext(ctx)
	var t models.Tournament
	if err := db.Preload("Season").First(&t, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "tournament")
	}
	if err := db.Model(&models.Game{}).Where("tournament_id = ?", id).Count(&t.GamesCount).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *TournamentService) Create(ctx context.Context, in TournamentInput) (*models.Tournament, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	t := models.Tournament{
		ID:          uuid.NewString(),
		SeasonID:    in.SeasonID,
		Name:        strings.TrimSpace(in.Name),
		Description: strings.TrimSpace(in.Description),
		StartsAt:    in.StartsAt,
		EndsAt:      in.EndsAt,
	}
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := checkSeason(tx, in.SeasonID); err != nil {
			return err
		}
		slug, err := uniqueSlug(tx, &models.Tournament{}, Slugify(t.Name, "tournament"), "")
		if err != nil {
			return err
		}
		t.Slug = slug
		return tx.Create(&t).Error
	})
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *TournamentService) Update(ctx context.Context, id string, in TournamentInput) (*models.Tournament, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	var t models.Tournament
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&t, "id = ?", id).Error; err != nil {
			return notFound(err, "tournament")
		}
		if err := checkVersion(t.Version, in.Version); err != nil {
			return err
		}
		if err := checkSeason(tx, in.SeasonID); err != nil {
			return err
		}
		name := strings.TrimSpace(in.Name)
		if name != t.Name {
			slug, err := uniqueSlug(tx, &models.Tournament{}, Slugify(name, "tournament"), t.ID)
			if err != nil {
				return err
			}
			t.Slug = slug
		}
		t.SeasonID = in.SeasonID
		t.Name = name
		t.Description = strings.TrimSpace(in.Description)
		t.StartsAt = in.StartsAt
		t.EndsAt = in.EndsAt
		return tx.Model(&t).Select("SeasonID", "Name", "Slug", "Description", "StartsAt", "EndsAt").Updates(&t).Error
	})
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Delete refuses while live games still reference the tournament.
func (s *TournamentService) Delete(ctx context.Context, id string, version int64) error {
	db := s.DB.WithContext(ctx)
	var t models.Tournament
	if err := db.First(&t, "id = ?", id).Error; err != nil {
		return notFound(err, "tournament")
	}
	if err := checkVersion(t.Version, version); err != nil {
		return err
	}
	var games int64
	if err := db.Model(&models.Game{}).Where("tournament_id = ?", id).Count(&games).Error; err != nil {
		return err
	}
	if games > 0 {
		return invalid(ErrConflict, "tournament still has %d games", games)
	}
	return db.Delete(&t).Error
}
