package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"mahjong-league/configcache"
	"mahjong-league/logging"
	"mahjong-league/models"
	"mahjong-league/ranking"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type GameService struct {
	DB        *gorm.DB
	Tables    *configcache.Cache
	Rankings  *RankingService
	Recompute RecomputeTrigger
}

func NewGameService(db *gorm.DB, tables *configcache.Cache, rankings *RankingService, recompute RecomputeTrigger) *GameService {
	return &GameService{DB: db, Tables: tables, Rankings: rankings, Recompute: recompute}
}

type ResultInput struct {
	PlayerID string `json:"player_id"`
	Seat     int    `json:"seat"`
	Score    int    `json:"score"`
}

type GameInput struct {
	SeasonID     string        `json:"season_id"` // empty = season containing played_at
	TournamentID *string       `json:"tournament_id"`
	PlayedAt     time.Time     `json:"played_at"`
	Note         string        `json:"note"`
	Results      []ResultInput `json:"results"`
	Version      int64         `json:"version"`
}

type GameFilter struct {
	SeasonID     string
	TournamentID string
	PlayerID     string
}

func (s *GameService) List(ctx context.Context, f GameFilter, page PageRequest) (*Paged[models.Game], error) {
	page = page.normalize()
	db := s.DB.WithContext(ctx)
	q := db.Model(&models.Game{})
	if f.SeasonID != "" {
		q = q.Where("season_id = ?", f.SeasonID)
	}
	if f.TournamentID != "" {
		q = q.Where("tournament_id = ?", f.TournamentID)
	}
	if f.PlayerID != "" {
		q = q.Where("id IN (?)", db.Model(&models.GameResult{}).Select("game_id").Where("player_id = ?", f.PlayerID))
	}

	out := &Paged[models.Game]{Items: []models.Game{}, Page: page.Page, Size: page.Size}
	if err := q.Count(&out.Total).Error; err != nil {
		return nil, err
	}
	err := q.Preload("Results", func(db *gorm.DB) *gorm.DB { return db.Order("placement ASC") }).
		Preload("Results.Player").
		Order("played_at DESC, id DESC").
		Offset(page.offset()).Limit(page.Size).
		Find(&out.Items).Error
	return out, err
}

func (s *GameService) Get(ctx context.Context, id string) (*models.Game, error) {
	var game models.Game
	err := s.DB.WithContext(ctx).
		Preload("Results", func(db *gorm.DB) *gorm.DB { return db.Order("placement ASC") }).
		Preload("Results.Player").
		Preload("Season").
		Preload("Tournament").
		First(&game, "id = ?", id).Error
	if err != nil {
		return nil, notFound(err, "game")
	}
	return &game, nil
}

// resolve validates the input against the live data and point tables and
// returns the game's season and placed results.
func (s *GameService) resolve(ctx context.Context, tx *gorm.DB, in GameInput) (*models.Season, []models.GameResult, error) {
	if in.PlayedAt.IsZero() {
		return nil, nil, invalid(ErrInvalidGame, "played_at is required")
	}
	if len(in.Results) != ranking.Seats {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidGame, ranking.ErrResultCount)
	}
	seats := make([]ranking.SeatResult, len(in.Results))
	ids := make([]string, len(in.Results))
	for i, r := range in.Results {
		seats[i] = ranking.SeatResult{PlayerID: strings.TrimSpace(r.PlayerID), Seat: r.Seat, Score: r.Score}
		ids[i] = seats[i].PlayerID
		if err := checkID(ErrInvalidGame, "player", ids[i]); err != nil {
			return nil, nil, err
		}
	}
	if in.SeasonID != "" {
		if err := checkID(ErrInvalidGame, "season", in.SeasonID); err != nil {
			return nil, nil, err
		}
	}
	if tid := tournamentID(in.TournamentID); tid != nil {
		if err := checkID(ErrInvalidGame, "tournament", *tid); err != nil {
			return nil, nil, err
		}
	}
	if err := ranking.ValidateTable(seats); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidGame, err)
	}

	var season *models.Season
	if in.SeasonID != "" {
		season = &models.Season{}
		if err := tx.First(season, "id = ?", in.SeasonID).Error; err != nil {
			return nil, nil, notFound(err, "season")
		}
		if !season.Contains(in.PlayedAt) {
			return nil, nil, invalid(ErrInvalidGame, "played_at is outside season %q", season.Name)
		}
	} else {
		var err error
		if season, err = seasonFor(tx, in.PlayedAt); err != nil {
			return nil, nil, err
		}
	}
	if season.Status == models.SeasonStatusClosed {
		return nil, nil, invalid(ErrConflict, "season %q is closed", season.Name)
	}

	if tid := tournamentID(in.TournamentID); tid != nil {
		var t models.Tournament
		if err := tx.First(&t, "id = ?", *tid).Error; err != nil {
			return nil, nil, notFound(err, "tournament")
		}
		if t.SeasonID != nil && *t.SeasonID != season.ID {
			return nil, nil, invalid(ErrInvalidGame, "tournament %q belongs to another season", t.Name)
		}
	}

	var live int64
	if err := tx.Model(&models.Player{}).Where("id IN ?", ids).Count(&live).Error; err != nil {
		return nil, nil, err
	}
	if live != int64(len(ids)) {
		return nil, nil, invalid(ErrInvalidGame, "unknown or deleted player in results")
	}

	snap, err := s.Tables.Get(ctx)
	if err != nil {
		return nil, nil, err
	}
	if err := snap.SeasonRule(season.ID).CheckScores(seats); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidGame, err)
	}

	placements := ranking.Placements(seats)
	results := make([]models.GameResult, len(seats))
	for i, r := range seats {
		results[i] = models.GameResult{
			ID:        uuid.NewString(),
			PlayerID:  r.PlayerID,
			Seat:      r.Seat,
			Score:     r.Score,
			Placement: placements[i],
		}
	}
	return season, results, nil
}

func tournamentID(in *string) *string {
	if in == nil || strings.TrimSpace(*in) == "" {
		return nil
	}
	id := strings.TrimSpace(*in)
	return &id
}

// Create records a game. A game newer than everything applied so far is
// folded in immediately; anything else goes through a full recompute.
func (s *GameService) Create(ctx context.Context, in GameInput) (*models.Game, error) {
	var game models.Game
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		season, results, err := s.resolve(ctx, tx, in)
		if err != nil {
			return err
		}
		game = models.Game{
			ID:           uuid.NewString(),
			SeasonID:     season.ID,
			TournamentID: tournamentID(in.TournamentID),
			PlayedAt:     in.PlayedAt.UTC(),
			Note:         strings.TrimSpace(in.Note),
		}
		if err := tx.Omit("Results").Create(&game).Error; err != nil {
			return err
		}
		for i := range results {
			results[i].GameID = game.ID
		}
		game.Results = results
		return tx.Create(&game.Results).Error
	})
	if err != nil {
		return nil, err
	}

	if err := s.Rankings.ApplyGame(ctx, game.ID); err != nil {
		if errors.Is(err, ranking.ErrOutOfOrder) {
			logging.L().Info("[GAME] older than last applied game, scheduling recompute", zap.String("game_id", game.ID))
		} else {
			logging.L().Error("[GAME] incremental apply failed, scheduling recompute", zap.String("game_id", game.ID), zap.Error(err))
		}
		s.trigger("game added " + game.ID)
	}
	logging.L().Info("[GAME] created", zap.String("id", game.ID), zap.String("season_id", game.SeasonID))
	return &game, nil
}

// Update replaces a game's fields and results, then rebuilds the rankings.
func (s *GameService) Update(ctx context.Context, id string, in GameInput) (*models.Game, error) {
	var game models.Game
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&game, "id = ?", id).Error; err != nil {
			return notFound(err, "game")
		}
		if err := checkVersion(game.Version, in.Version); err != nil {
			return err
		}
		season, results, err := s.resolve(ctx, tx, in)
		if err != nil {
			return err
		}
		game.SeasonID = season.ID
		game.TournamentID = tournamentID(in.TournamentID)
		game.PlayedAt = in.PlayedAt.UTC()
		game.Note = strings.TrimSpace(in.Note)
		if err := tx.Model(&game).Select("SeasonID", "TournamentID", "PlayedAt", "Note").Updates(&game).Error; err != nil {
			return err
		}
		if err := tx.Where("game_id = ?", game.ID).Delete(&models.GameResult{}).Error; err != nil {
			return err
		}
		for i := range results {
			results[i].GameID = game.ID
		}
		game.Results = results
		return tx.Create(&game.Results).Error
	})
	if err != nil {
		return nil, err
	}
	s.trigger("game updated " + id)
	return &game, nil
}

func (s *GameService) Delete(ctx context.Context, id string, version int64) error {
	var game models.Game
	db := s.DB.WithContext(ctx)
	if err := db.First(&game, "id = ?", id).Error; err != nil {
		return notFound(err, "game")
	}
	if err := checkVersion(game.Version, version); err != nil {
		return err
	}
	if err := db.Delete(&game).Error; err != nil {
		return err
	}
	logging.L().Info("[GAME] soft-deleted", zap.String("id", id))
	s.trigger("game deleted " + id)
	return nil
}

// Restore brings a game back only if it would still be accepted as new: its
// season live and open, its players live and its scores valid under the
// current tables.
func (s *GameService) Restore(ctx context.Context, id string) (*models.Game, error) {
	var game models.Game
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Unscoped().Preload("Results").First(&game, "id = ?", id).Error; err != nil {
			return notFound(err, "game")
		}
		if !game.DeletedAt.Valid {
			return invalid(ErrConflict, "game is not deleted")
		}
		if _, _, err := s.resolve(ctx, tx, restoreInput(game)); err != nil {
			return fmt.Errorf("game %s cannot be restored: %w", game.ID, err)
		}
		return tx.Unscoped().Model(&game).Update("deleted_at", nil).Error
	})
	if err != nil {
		return nil, err
	}
	game.DeletedAt = gorm.DeletedAt{}
	logging.L().Info("[GAME] restored", zap.String("id", id))
	s.trigger("game restored " + id)
	return &game, nil
}

// restoreInput replays a stored game through the same checks as a new one.
func restoreInput(g models.Game) GameInput {
	in := GameInput{
		SeasonID:     g.SeasonID,
		TournamentID: g.TournamentID,
		PlayedAt:     g.PlayedAt,
		Note:         g.Note,
		Results:      make([]ResultInput, len(g.Results)),
	}
	for i, r := range g.Results {
		in.Results[i] = ResultInput{PlayerID: r.PlayerID, Seat: r.Seat, Score: r.Score}
	}
	return in
}

func (s *GameService) Deleted(ctx context.Context) ([]models.Game, error) {
	out := []models.Game{}
	err := s.DB.WithContext(ctx).Unscoped().Preload("Results").
		Where("deleted_at IS NOT NULL").Order("deleted_at DESC").Find(&out).Error
	return out, err
}

func (s *GameService) trigger(reason string) {
	if s.Recompute != nil {
		s.Recompute.Trigger(reason)
	}
}
