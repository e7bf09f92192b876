package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"mahjong-league/logging"
	"mahjong-league/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type SeasonService struct {
	DB        *gorm.DB
	Recompute RecomputeTrigger
	now       func() time.Time
}

func NewSeasonService(db *gorm.DB, recompute RecomputeTrigger) *SeasonService {
	return &SeasonService{DB: db, Recompute: recompute, now: time.Now}
}

type SeasonInput struct {
	Name     string     `json:"name"`
	StartsAt time.Time  `json:"starts_at"`
	EndsAt   *time.Time `json:"ends_at"`
	Version  int64      `json:"version"`
}

func (in SeasonInput) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return invalid(ErrInvalidInput, "season name is required")
	}
	if in.StartsAt.IsZero() {
		return invalid(ErrInvalidInput, "starts_at is required")
	}
	if in.EndsAt != nil && !in.EndsAt.After(in.StartsAt) {
		return invalid(ErrInvalidInput, "ends_at must be after starts_at")
	}
	return nil
}

// statusAt is where the lifecycle job would put a season at time now.
func statusAt(s models.Season, now time.Time) string {
	switch {
	case now.Before(s.StartsAt):
		return models.SeasonStatusUpcoming
	case s.EndsAt != nil && !now.Before(*s.EndsAt):
		return models.SeasonStatusClosed
	default:
		return models.SeasonStatusActive
	}
}

// currentSeasonID picks the active season that started last, falling back
// to the most recently started season.
func currentSeasonID(db *gorm.DB) (string, error) {
	var s models.Season
	err := db.Where("status = ?", models.SeasonStatusActive).Order("starts_at DESC").First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		err = db.Where("status <> ?", models.SeasonStatusUpcoming).Order("starts_at DESC").First(&s).Error
	}
	if err != nil {
		return "", notFound(err, "current season")
	}
	return s.ID, nil
}

func (s *SeasonService) List(ctx context.Context) ([]models.Season, error) {
	out := []models.Season{}
	err := s.DB.WithContext(ctx).Order("starts_at DESC").Find(&out).Error
	return out, err
}

func (s *SeasonService) Get(ctx context.Context, id string) (*models.Season, error) {
	var season models.Season
	if err := s.DB.WithContext(ctx).First(&season, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "season")
	}
	return &season, nil
}

func (s *SeasonService) Create(ctx context.Context, in SeasonInput) (*models.Season, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	season := models.Season{
		ID:       uuid.NewString(),
		Name:     strings.TrimSpace(in.Name),
		StartsAt: in.StartsAt,
		EndsAt:   in.EndsAt,
	}
	season.Status = statusAt(season, s.now())
	if err := s.DB.WithContext(ctx).Create(&season).Error; err != nil {
		return nil, err
	}
	logging.L().Info("[SEASON] created", zap.String("id", season.ID), zap.String("status", season.Status))
	return &season, nil
}

// Update edits the window. Games already recorded must stay inside it.
func (s *SeasonService) Update(ctx context.Context, id string, in SeasonInput) (*models.Season, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	var season models.Season
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&season, "id = ?", id).Error; err != nil {
			return notFound(err, "season")
		}
		if err := checkVersion(season.Version, in.Version); err != nil {
			return err
		}
		q := tx.Model(&models.Game{}).Where("season_id = ?", id)
		if in.EndsAt != nil {
			q = q.Where("(played_at < ? OR played_at >= ?)", in.StartsAt, *in.EndsAt)
		} else {
			q = q.Where("played_at < ?", in.StartsAt)
		}
		var outside int64
		if err := q.Count(&outside).Error; err != nil {
			return err
		}
		if outside > 0 {
			return invalid(ErrConflict, "%d games fall outside the new window", outside)
		}
		season.Name = strings.TrimSpace(in.Name)
		season.StartsAt = in.StartsAt
		season.EndsAt = in.EndsAt
		return tx.Model(&season).Select("Name", "StartsAt", "EndsAt").Updates(&season).Error
	})
	if err != nil {
		return nil, err
	}
	return &season, nil
}

// Delete hides the season; its games drop out of the rankings.
func (s *SeasonService) Delete(ctx context.Context, id string, version int64) error {
	var season models.Season
	db := s.DB.WithContext(ctx)
	if err := db.First(&season, "id = ?", id).Error; err != nil {
		return notFound(err, "season")
	}
	if err := checkVersion(season.Version, version); err != nil {
		return err
	}
	if err := db.Delete(&season).Error; err != nil {
		return err
	}
	s.trigger("season deleted " + id)
	return nil
}

func (s *SeasonService) Restore(ctx context.Context, id string) (*models.Season, error) {
	var season models.Season
	db := s.DB.WithContext(ctx)
	if err := db.Unscoped().First(&season, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "season")
	}
	if !season.DeletedAt.Valid {
		return nil, invalid(ErrConflict, "season is not deleted")
	}
	if err := db.Unscoped().Model(&season).Update("deleted_at", nil).Error; err != nil {
		return nil, err
	}
	season.DeletedAt = gorm.DeletedAt{}
	s.trigger("season restored " + id)
	return &season, nil
}

func (s *SeasonService) Deleted(ctx context.Context) ([]models.Season, error) {
	out := []models.Season{}
	err := s.DB.WithContext(ctx).Unscoped().Where("deleted_at IS NOT NULL").
		Order("deleted_at DESC").Find(&out).Error
	return out, err
}

// Activate opens a season early. Only one season may be active.
func (s *SeasonService) Activate(ctx context.Context, id string) (*models.Season, error) {
	var season models.Season
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&season, "id = ?", id).Error; err != nil {
			return notFound(err, "season")
		}
		if season.Status == models.SeasonStatusActive {
			return nil
		}
		if season.Status == models.SeasonStatusClosed {
			return invalid(ErrConflict, "season %q is closed", season.Name)
		}
		var other int64
		if err := tx.Model(&models.Season{}).Where("status = ? AND id <> ?", models.SeasonStatusActive, id).Count(&other).Error; err != nil {
			return err
		}
		if other > 0 {
			return invalid(ErrConflict, "another season is active")
		}
		now := s.now()
		if season.StartsAt.After(now) {
			season.StartsAt = now
		}
		season.Status = models.SeasonStatusActive
		return tx.Model(&season).Select("Status", "StartsAt").Updates(&season).Error
	})
	if err != nil {
		return nil, err
	}
	logging.L().Info("[SEASON] activated", zap.String("id", season.ID))
	return &season, nil
}

// Close ends a season now (or at its scheduled end if that already passed).
func (s *SeasonService) Close(ctx context.Context, id string) (*models.Season, error) {
	var season models.Season
	db := s.DB.WithContext(ctx)
	if err := db.First(&season, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "season")
	}
	if season.Status == models.SeasonStatusClosed {
		return &season, nil
	}
	now := s.now()
	if season.EndsAt == nil || season.EndsAt.After(now) {
		season.EndsAt = &now
	}
	season.Status = models.SeasonStatusClosed
	if err := db.Model(&season).Select("Status", "EndsAt").Updates(&season).Error; err != nil {
		return nil, err
	}
	logging.L().Info("[SEASON] closed", zap.String("id", season.ID))
	return &season, nil
}

// AdvanceLifecycle moves seasons along upcoming -> active -> closed by their
// windows. Returns how many seasons changed.
func (s *SeasonService) AdvanceLifecycle(ctx context.Context) (int, error) {
	now := s.now()
	var seasons []models.Season
	db := s.DB.WithContext(ctx)
	if err := db.Where("status <> ?", models.SeasonStatusClosed).Order("starts_at ASC").Find(&seasons).Error; err != nil {
		return 0, err
	}
	changed := 0
	for i := range seasons {
		season := &seasons[i]
		next := statusAt(*season, now)
		// Manual activation wins over a start date still in the future.
		if next == models.SeasonStatusUpcoming || next == season.Status {
			continue
		}
		season.Status = next
		if err := db.Model(season).Select("Status").Updates(season).Error; err != nil {
			if errors.Is(err, ErrStaleVersion) {
				continue
			}
			return changed, err
		}
		changed++
		logging.L().Info("[SEASON] status changed", zap.String("id", season.ID), zap.String("status", next))
	}
	return changed, nil
}

// seasonFor finds the live season a game played at t belongs to.
func seasonFor(db *gorm.DB, t time.Time) (*models.Season, error) {
	var season models.Season
	err := db.Where("starts_at <= ? AND (ends_at IS NULL OR ends_at > ?)", t, t).
		Order("starts_at DESC").First(&season).Error
	if err != nil {
		return nil, notFound(err, "season for "+t.Format(time.RFC3339))
	}
	return &season, nil
}

func (s *SeasonService) trigger(reason string) {
	if s.Recompute != nil {
		s.Recompute.Trigger(reason)
	}
}

// SeasonArchive is the final export of a closed season.
type SeasonArchive struct {
	Season     models.Season     `json:"season"`
	Rule       SeasonRuleView    `json:"rule"`
	Standings  []ArchiveStanding `json:"standings"`
	Games      int64             `json:"games"`
	ExportedAt time.Time         `json:"exported_at"`
}

type ArchiveStanding struct {
	Position int     `json:"position"`
	PlayerID string  `json:"player_id"`
	Nickname string  `json:"nickname"`
	Points   float64 `json:"points"`
	Games    int     `json:"games"`
	Firsts   int     `json:"firsts"`
	Seconds  int     `json:"seconds"`
	Thirds   int     `json:"thirds"`
	Fourths  int     `json:"fourths"`
}

// PendingArchives lists closed seasons that have not been exported yet.
func (s *SeasonService) PendingArchives(ctx context.Context) ([]models.Season, error) {
	var out []models.Season
	err := s.DB.WithContext(ctx).
		Where("status = ? AND archived_at IS NULL", models.SeasonStatusClosed).
		Order("ends_at ASC").Find(&out).Error
	return out, err
}

// Export builds the archive document of a season from its final standings.
func (s *SeasonService) Export(ctx context.Context, id string, rule SeasonRuleView) (*SeasonArchive, error) {
	db := s.DB.WithContext(ctx)
	var season models.Season
	if err := db.First(&season, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "season")
	}
	var standings []models.SeasonStanding
	err := db.Preload("Player", func(tx *gorm.DB) *gorm.DB { return tx.Unscoped() }).
		Where("season_id = ?", id).
		Order("points DESC, score_sum DESC, player_id ASC").
		Find(&standings).Error
	if err != nil {
		return nil, err
	}
	out := &SeasonArchive{Season: season, Rule: rule, Standings: make([]ArchiveStanding, len(standings)), ExportedAt: s.now().UTC()}
	for i, st := range standings {
		row := ArchiveStanding{
			Position: i + 1, PlayerID: st.PlayerID, Points: st.Points, Games: st.Games,
			Firsts: st.Firsts, Seconds: st.Seconds, Thirds: st.Thirds, Fourths: st.Fourths,
		}
		if st.Player != nil {
			row.Nickname = st.Player.Nickname
		}
		out.Standings[i] = row
	}
	if err := db.Model(&models.Game{}).Where("season_id = ?", id).Count(&out.Games).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SeasonService) MarkArchived(ctx context.Context, id, url string) error {
	now := s.now()
	return s.DB.WithContext(ctx).Model(&models.Season{}).Where("id = ?", id).
		Updates(map[string]interface{}{"archive_url": url, "archived_at": now}).Error
}
