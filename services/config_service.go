package services

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"mahjong-league/configcache"
	"mahjong-league/logging"
	"mahjong-league/models"
	"mahjong-league/ranking"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

//go:embed defaults.yaml
var defaultTablesYAML []byte

type defaultTables struct {
	Dan []struct {
		Level     int    `yaml:"level"`
		Name      string `yaml:"name"`
		MinPoints int    `yaml:"min_points"`
		Deltas    []int  `yaml:"deltas"`
		Protected bool   `yaml:"protected"`
	} `yaml:"dan"`
	Rate struct {
		Initial  float64 `yaml:"initial"`
		Divisor  float64 `yaml:"divisor"`
		Brackets []struct {
			MinGames   int       `yaml:"min_games"`
			Deltas     []float64 `yaml:"deltas"`
			Correction float64   `yaml:"correction"`
		} `yaml:"brackets"`
	} `yaml:"rate"`
	Season struct {
		StartingPoints int       `yaml:"starting_points"`
		ReturnPoints   int       `yaml:"return_points"`
		Uma            []float64 `yaml:"uma"`
	} `yaml:"season"`
}

// DefaultTables returns the built-in tables as rows ready to insert.
func DefaultTables() ([]models.DanConfig, []models.RateConfig, models.RateSetting, models.SeasonConfig, error) {
	var d defaultTables
	if err := yaml.Unmarshal(defaultTablesYAML, &d); err != nil {
		return nil, nil, models.RateSetting{}, models.SeasonConfig{}, fmt.Errorf("parse default tables: %w", err)
	}

	dan := make([]models.DanConfig, 0, len(d.Dan))
	for _, r := range d.Dan {
		if len(r.Deltas) != ranking.Seats {
			return nil, nil, models.RateSetting{}, models.SeasonConfig{}, fmt.Errorf("default dan %q: need %d deltas", r.Name, ranking.Seats)
		}
		dan = append(dan, models.DanConfig{
			Level: r.Level, Name: r.Name, MinPoints: r.MinPoints,
			FirstDelta: r.Deltas[0], SecondDelta: r.Deltas[1], ThirdDelta: r.Deltas[2], FourthDelta: r.Deltas[3],
			Protected: r.Protected,
		})
	}
	rate := make([]models.RateConfig, 0, len(d.Rate.Brackets))
	for _, b := range d.Rate.Brackets {
		if len(b.Deltas) != ranking.Seats {
			return nil, nil, models.RateSetting{}, models.SeasonConfig{}, fmt.Errorf("default rate bracket %d: need %d deltas", b.MinGames, ranking.Seats)
		}
		rate = append(rate, models.RateConfig{
			MinGames:   b.MinGames,
			FirstDelta: b.Deltas[0], SecondDelta: b.Deltas[1], ThirdDelta: b.Deltas[2], FourthDelta: b.Deltas[3],
			Correction: b.Correction,
		})
	}
	if len(d.Season.Uma) != ranking.Seats {
		return nil, nil, models.RateSetting{}, models.SeasonConfig{}, fmt.Errorf("default season rule: need %d uma values", ranking.Seats)
	}
	setting := models.RateSetting{ID: models.RateSettingID, InitialRate: d.Rate.Initial, Divisor: d.Rate.Divisor}
	season := models.SeasonConfig{
		StartingPoints: d.Season.StartingPoints, ReturnPoints: d.Season.ReturnPoints,
		Uma1: d.Season.Uma[0], Uma2: d.Season.Uma[1], Uma3: d.Season.Uma[2], Uma4: d.Season.Uma[3],
	}
	return dan, rate, setting, season, nil
}

func danRule(r models.DanConfig) ranking.DanRule {
	return ranking.DanRule{
		Level: r.Level, Name: r.Name, MinPoints: r.MinPoints,
		Deltas:    [ranking.Seats]int{r.FirstDelta, r.SecondDelta, r.ThirdDelta, r.FourthDelta},
		Protected: r.Protected,
	}
}

func rateBracket(r models.RateConfig) ranking.RateBracket {
	return ranking.RateBracket{
		MinGames:   r.MinGames,
		Deltas:     [ranking.Seats]float64{r.FirstDelta, r.SecondDelta, r.ThirdDelta, r.FourthDelta},
		Correction: r.Correction,
	}
}

func seasonRule(c models.SeasonConfig) ranking.SeasonRule {
	return ranking.SeasonRule{
		StartingPoints: c.StartingPoints,
		ReturnPoints:   c.ReturnPoints,
		Uma:            [ranking.Seats]float64{c.Uma1, c.Uma2, c.Uma3, c.Uma4},
	}
}

func buildDanTable(rows []models.DanConfig) (ranking.DanTable, error) {
	rules := make([]ranking.DanRule, len(rows))
	for i, r := range rows {
		rules[i] = danRule(r)
	}
	t, err := ranking.NewDanTable(rules)
	if err != nil {
		return ranking.DanTable{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return t, nil
}

func buildRateTable(setting models.RateSetting, rows []models.RateConfig) (ranking.RateTable, error) {
	brackets := make([]ranking.RateBracket, len(rows))
	for i, r := range rows {
		brackets[i] = rateBracket(r)
	}
	t, err := ranking.NewRateTable(setting.InitialRate, setting.Divisor, brackets)
	if err != nil {
		return ranking.RateTable{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return t, nil
}

func validateSeasonConfig(c models.SeasonConfig) error {
	if err := seasonRule(c).Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// TableLoader reads the point tables from the database for configcache.
type TableLoader struct {
	DB *gorm.DB
}

func (l TableLoader) LoadTables(ctx context.Context) (*configcache.Snapshot, error) {
	db := l.DB.WithContext(ctx)
	snap := &configcache.Snapshot{Seasons: make(map[string]ranking.SeasonRule)}

	if err := db.Order("min_points ASC").Find(&snap.DanRows).Error; err != nil {
		return nil, fmt.Errorf("load dan table: %w", err)
	}
	if err := db.Order("min_games ASC").Find(&snap.RateRows).Error; err != nil {
		return nil, fmt.Errorf("load rate table: %w", err)
	}
	if err := db.First(&snap.RateSetting, "id = ?", models.RateSettingID).Error; err != nil {
		return nil, fmt.Errorf("load rate settings: %w", err)
	}
	if err := db.Order("created_at ASC").Find(&snap.SeasonRows).Error; err != nil {
		return nil, fmt.Errorf("load season rules: %w", err)
	}

	var err error
	if snap.Dan, err = buildDanTable(snap.DanRows); err != nil {
		return nil, err
	}
	if snap.Rate, err = buildRateTable(snap.RateSetting, snap.RateRows); err != nil {
		return nil, err
	}
	hasDefault := false
	for _, row := range snap.SeasonRows {
		if row.SeasonID == nil {
			snap.DefaultSeason = seasonRule(row)
			hasDefault = true
			continue
		}
		snap.Seasons[*row.SeasonID] = seasonRule(row)
	}
	if !hasDefault {
		return nil, fmt.Errorf("%w: no default season rule", ErrInvalidConfig)
	}
	return snap, nil
}

// RecomputeTrigger asks for a full ranking rebuild in the background.
type RecomputeTrigger interface {
	Trigger(reason string)
}

type ConfigService struct {
	DB        *gorm.DB
	Cache     *configcache.Cache
	Recompute RecomputeTrigger
}

func NewConfigService(db *gorm.DB, cache *configcache.Cache, recompute RecomputeTrigger) *ConfigService {
	return &ConfigService{DB: db, Cache: cache, Recompute: recompute}
}

// EnsureDefaults seeds every empty table from the built-in defaults.
func (s *ConfigService) EnsureDefaults(ctx context.Context) error {
	dan, rate, setting, season, err := DefaultTables()
	if err != nil {
		return err
	}
	return s.Cache.Write(ctx, func(ctx context.Context) error {
		return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var n int64
			if err := tx.Model(&models.DanConfig{}).Count(&n).Error; err != nil {
				return err
			}
			if n == 0 {
				for i := range dan {
					dan[i].ID = uuid.NewString()
				}
				if err := tx.Create(&dan).Error; err != nil {
					return fmt.Errorf("seed dan table: %w", err)
				}
				logging.L().Info("[CONFIG] seeded default dan table", zap.Int("rules", len(dan)))
			}

			if err := tx.Model(&models.RateConfig{}).Count(&n).Error; err != nil {
				return err
			}
			if n == 0 {
				for i := range rate {
					rate[i].ID = uuid.NewString()
				}
				if err := tx.Create(&rate).Error; err != nil {
					return fmt.Errorf("seed rate table: %w", err)
				}
				logging.L().Info("[CONFIG] seeded default rate table", zap.Int("brackets", len(rate)))
			}

			if err := tx.Model(&models.RateSetting{}).Where("id = ?", models.RateSettingID).Count(&n).Error; err != nil {
				return err
			}
			if n == 0 {
				if err := tx.Create(&setting).Error; err != nil {
					return fmt.Errorf("seed rate settings: %w", err)
				}
			}

			if err := tx.Model(&models.SeasonConfig{}).Where("season_id IS NULL").Count(&n).Error; err != nil {
				return err
			}
			if n == 0 {
				season.ID = uuid.NewString()
				if err := tx.Create(&season).Error; err != nil {
					return fmt.Errorf("seed season rule: %w", err)
				}
			}
			return nil
		})
	})
}

func (s *ConfigService) Tables(ctx context.Context) (*configcache.Snapshot, error) {
	return s.Cache.Get(ctx)
}

// SeasonRuleView is the rule a season plays under and where it comes from.
type SeasonRuleView struct {
	SeasonID       *string   `json:"season_id,omitempty"`
	Inherited      bool      `json:"inherited"`
	StartingPoints int       `json:"starting_points"`
	ReturnPoints   int       `json:"return_points"`
	Uma            []float64 `json:"uma"`
	Oka            float64   `json:"oka"`
}

func (s *ConfigService) SeasonRule(ctx context.Context, seasonID string) (*SeasonRuleView, error) {
	snap, err := s.Cache.Get(ctx)
	if err != nil {
		return nil, err
	}
	rule := snap.SeasonRule(seasonID)
	view := &SeasonRuleView{
		StartingPoints: rule.StartingPoints,
		ReturnPoints:   rule.ReturnPoints,
		Uma:            rule.Uma[:],
		Oka:            rule.Oka(),
	}
	if seasonID != "" {
		view.SeasonID = &seasonID
		_, own := snap.Seasons[seasonID]
		view.Inherited = !own
	}
	return view, nil
}

// write runs a config change under the cache's writer lock and schedules a rebuild.
func (s *ConfigService) write(ctx context.Context, what string, fn func(tx *gorm.DB) error) error {
	err := s.Cache.Write(ctx, func(ctx context.Context) error {
		return s.DB.WithContext(ctx).Transaction(fn)
	})
	if err != nil {
		return err
	}
	logging.L().Info("[CONFIG] tables changed", zap.String("change", what))
	if s.Recompute != nil {
		s.Recompute.Trigger("config: " + what)
	}
	return nil
}

// ReplaceDanTable swaps the whole dan table. Previous rows stay soft-deleted.
func (s *ConfigService) ReplaceDanTable(ctx context.Context, rows []models.DanConfig) ([]models.DanConfig, error) {
	if _, err := buildDanTable(rows); err != nil {
		return nil, err
	}
	fresh := make([]models.DanConfig, len(rows))
	for i, r := range rows {
		fresh[i] = models.DanConfig{
			ID: uuid.NewString(), Level: r.Level, Name: r.Name, MinPoints: r.MinPoints,
			FirstDelta: r.FirstDelta, SecondDelta: r.SecondDelta, ThirdDelta: r.ThirdDelta, FourthDelta: r.FourthDelta,
			Protected: r.Protected,
		}
	}
	err := s.write(ctx, "dan table replaced", func(tx *gorm.DB) error {
		if err := tx.Where("deleted_at IS NULL").Delete(&models.DanConfig{}).Error; err != nil {
			return err
		}
		return tx.Create(&fresh).Error
	})
	if err != nil {
		return nil, err
	}
	return fresh, nil
}

// UpdateDanRule edits one rule; the resulting table must still be valid.
func (s *ConfigService) UpdateDanRule(ctx context.Context, id string, in models.DanConfig) (*models.DanConfig, error) {
	var row models.DanConfig
	err := s.write(ctx, "dan rule "+id, func(tx *gorm.DB) error {
		if err := tx.First(&row, "id = ?", id).Error; err != nil {
			return notFound(err, "dan rule")
		}
		if err := checkVersion(row.Version, in.Version); err != nil {
			return err
		}
		var all []models.DanConfig
		if err := tx.Where("id <> ?", id).Find(&all).Error; err != nil {
			return err
		}
		row.Level, row.Name, row.MinPoints = in.Level, in.Name, in.MinPoints
		row.FirstDelta, row.SecondDelta, row.ThirdDelta, row.FourthDelta = in.FirstDelta, in.SecondDelta, in.ThirdDelta, in.FourthDelta
		row.Protected = in.Protected
		if _, err := buildDanTable(append(all, row)); err != nil {
			return err
		}
		return tx.Model(&row).Select("Level", "Name", "MinPoints", "FirstDelta", "SecondDelta", "ThirdDelta", "FourthDelta", "Protected").Updates(&row).Error
	})
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (s *ConfigService) ReplaceRateTable(ctx context.Context, rows []models.RateConfig) ([]models.RateConfig, error) {
	var setting models.RateSetting
	if err := s.DB.WithContext(ctx).First(&setting, "id = ?", models.RateSettingID).Error; err != nil {
		return nil, notFound(err, "rate settings")
	}
	if _, err := buildRateTable(setting, rows); err != nil {
		return nil, err
	}
	fresh := make([]models.RateConfig, len(rows))
	for i, r := range rows {
		fresh[i] = models.RateConfig{
			ID: uuid.NewString(), MinGames: r.MinGames,
			FirstDelta: r.FirstDelta, SecondDelta: r.SecondDelta, ThirdDelta: r.ThirdDelta, FourthDelta: r.FourthDelta,
			Correction: r.Correction,
		}
	}
	err := s.write(ctx, "rate table replaced", func(tx *gorm.DB) error {
		if err := tx.Where("deleted_at IS NULL").Delete(&models.RateConfig{}).Error; err != nil {
			return err
		}
		return tx.Create(&fresh).Error
	})
	if err != nil {
		return nil, err
	}
	return fresh, nil
}

func (s *ConfigService) UpdateRateBracket(ctx context.Context, id string, in models.RateConfig) (*models.RateConfig, error) {
	var row models.RateConfig
	err := s.write(ctx, "rate bracket "+id, func(tx *gorm.DB) error {
		if err := tx.First(&row, "id = ?", id).Error; err != nil {
			return notFound(err, "rate bracket")
		}
		if err := checkVersion(row.Version, in.Version); err != nil {
			return err
		}
		var setting models.RateSetting
		if err := tx.First(&setting, "id = ?", models.RateSettingID).Error; err != nil {
			return notFound(err, "rate settings")
		}
		var all []models.RateConfig
		if err := tx.Where("id <> ?", id).Find(&all).Error; err != nil {
			return err
		}
		row.MinGames = in.MinGames
		row.FirstDelta, row.SecondDelta, row.ThirdDelta, row.FourthDelta = in.FirstDelta, in.SecondDelta, in.ThirdDelta, in.FourthDelta
		row.Correction = in.Correction
		if _, err := buildRateTable(setting, append(all, row)); err != nil {
			return err
		}
		return tx.Model(&row).Select("MinGames", "FirstDelta", "SecondDelta", "ThirdDelta", "FourthDelta", "Correction").Updates(&row).Error
	})
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (s *ConfigService) UpdateRateSettings(ctx context.Context, in models.RateSetting) (*models.RateSetting, error) {
	if in.Divisor <= 0 {
		return nil, invalid(ErrInvalidConfig, "rate divisor must be positive")
	}
	if in.InitialRate <= 0 {
		return nil, invalid(ErrInvalidConfig, "initial rate must be positive")
	}
	var row models.RateSetting
	err := s.write(ctx, "rate settings", func(tx *gorm.DB) error {
		if err := tx.First(&row, "id = ?", models.RateSettingID).Error; err != nil {
			return notFound(err, "rate settings")
		}
		if err := checkVersion(row.Version, in.Version); err != nil {
			return err
		}
		row.InitialRate, row.Divisor = in.InitialRate, in.Divisor
		return tx.Model(&row).Select("InitialRate", "Divisor").Updates(&row).Error
	})
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// PutSeasonRule sets the league default (nil SeasonID) or a season's own rule.
func (s *ConfigService) PutSeasonRule(ctx context.Context, in models.SeasonConfig) (*models.SeasonConfig, error) {
	if err := validateSeasonConfig(in); err != nil {
		return nil, err
	}
	var row models.SeasonConfig
	err := s.write(ctx, "season rule", func(tx *gorm.DB) error {
		q := tx.Where("season_id IS NULL")
		if in.SeasonID != nil {
			if err := checkID(ErrInvalidInput, "season", *in.SeasonID); err != nil {
				return err
			}
			var season models.Season
			if err := tx.First(&season, "id = ?", *in.SeasonID).Error; err != nil {
				return notFound(err, "season")
			}
			if season.Status == models.SeasonStatusClosed {
				return invalid(ErrConflict, "season %s is closed", season.Name)
			}
			q = tx.Where("season_id = ?", *in.SeasonID)
		}
		err := q.First(&row).Error
		switch {
		case err == nil:
			if err := checkVersion(row.Version, in.Version); err != nil {
				return err
			}
			row.StartingPoints, row.ReturnPoints = in.StartingPoints, in.ReturnPoints
			row.Uma1, row.Uma2, row.Uma3, row.Uma4 = in.Uma1, in.Uma2, in.Uma3, in.Uma4
			return tx.Model(&row).Select("StartingPoints", "ReturnPoints", "Uma1", "Uma2", "Uma3", "Uma4").Updates(&row).Error
		case errors.Is(err, gorm.ErrRecordNotFound):
			row = models.SeasonConfig{
				ID: uuid.NewString(), SeasonID: in.SeasonID,
				StartingPoints: in.StartingPoints, ReturnPoints: in.ReturnPoints,
				Uma1: in.Uma1, Uma2: in.Uma2, Uma3: in.Uma3, Uma4: in.Uma4,
			}
			return tx.Create(&row).Error
		default:
			return err
		}
	})
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// RefreshCache reloads the tables; edits made by another instance show up here.
func (s *ConfigService) RefreshCache(ctx context.Context) error {
	start := time.Now()
	snap, err := s.Cache.Refresh(ctx)
	if err != nil {
		return err
	}
	logging.L().Debug("[CONFIG] cache refreshed",
		zap.Uint64("generation", snap.Generation), zap.Duration("took", time.Since(start)))
	return nil
}
