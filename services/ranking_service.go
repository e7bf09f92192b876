package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"mahjong-league/cache"
	"mahjong-league/configcache"
	"mahjong-league/logging"
	"mahjong-league/metrics"
	"mahjong-league/models"
	"mahjong-league/ranking"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	KindRate   = "rate"
	KindDan    = "dan"
	KindSeason = "season"

	defaultPageSize = 50
	maxPageSize     = 200
	recentResults   = 10
	batchSize       = 500
)

// RankingService owns the derived tables: player_rankings, season_standings,
// points and ranking_state. Writers are serialized by mu.
type RankingService struct {
	DB      *gorm.DB
	Tables  *configcache.Cache
	Board   *cache.Board // nil when Redis is not configured
	Metrics *metrics.Metrics

	mu  sync.Mutex
	now func() time.Time
}

func NewRankingService(db *gorm.DB, tables *configcache.Cache, board *cache.Board, m *metrics.Metrics) *RankingService {
	return &RankingService{DB: db, Tables: tables, Board: board, Metrics: m, now: time.Now}
}

func careerFromRow(r models.PlayerRanking) ranking.Career {
	c := ranking.Career{
		PlayerID:    r.PlayerID,
		DanLevel:    r.DanLevel,
		DanName:     r.DanName,
		DanPoints:   r.DanPoints,
		MaxDanLevel: r.MaxDanLevel,
		Rate:        r.Rate,
		MaxRate:     r.MaxRate,
		Games:       r.Games,
		Placements:  [ranking.Seats]int{r.Firsts, r.Seconds, r.Thirds, r.Fourths},
	}
	if r.LastPlayedAt != nil {
		c.LastPlayedAt = *r.LastPlayedAt
	}
	return c
}

func rowFromCareer(c ranking.Career) models.PlayerRanking {
	r := models.PlayerRanking{
		PlayerID:    c.PlayerID,
		DanLevel:    c.DanLevel,
		DanName:     c.DanName,
		DanPoints:   c.DanPoints,
		MaxDanLevel: c.MaxDanLevel,
		Rate:        c.Rate,
		MaxRate:     c.MaxRate,
		Games:       c.Games,
		Firsts:      c.Placements[0],
		Seconds:     c.Placements[1],
		Thirds:      c.Placements[2],
		Fourths:     c.Placements[3],
	}
	if !c.LastPlayedAt.IsZero() {
		at := c.LastPlayedAt
		r.LastPlayedAt = &at
	}
	return r
}

func standingFromRow(r models.SeasonStanding) ranking.Standing {
	return ranking.Standing{
		PlayerID:   r.PlayerID,
		SeasonID:   r.SeasonID,
		Points:     r.Points,
		Games:      r.Games,
		Placements: [ranking.Seats]int{r.Firsts, r.Seconds, r.Thirds, r.Fourths},
		ScoreSum:   r.ScoreSum,
	}
}

func rowFromStanding(s ranking.Standing) models.SeasonStanding {
	return models.SeasonStanding{
		PlayerID: s.PlayerID,
		SeasonID: s.SeasonID,
		Points:   s.Points,
		Games:    s.Games,
		Firsts:   s.Placements[0],
		Seconds:  s.Placements[1],
		Thirds:   s.Placements[2],
		Fourths:  s.Placements[3],
		ScoreSum: s.ScoreSum,
	}
}

func rowFromEntry(e ranking.Entry) models.PointsEntry {
	return models.PointsEntry{
		ID:              uuid.NewString(),
		GameID:          e.GameID,
		PlayerID:        e.PlayerID,
		SeasonID:        e.SeasonID,
		PlayedAt:        e.PlayedAt,
		Placement:       e.Placement,
		Score:           e.Score,
		DanLevelBefore:  e.DanLevelBefore,
		DanLevelAfter:   e.DanLevelAfter,
		DanPointsBefore: e.DanPointsBefore,
		DanPointsAfter:  e.DanPointsAfter,
		RateBefore:      e.RateBefore,
		RateAfter:       e.RateAfter,
		SeasonPoints:    e.SeasonPoints,
	}
}

func toRankingGame(g models.Game) ranking.Game {
	results := make([]ranking.SeatResult, len(g.Results))
	for i, r := range g.Results {
		results[i] = ranking.SeatResult{PlayerID: r.PlayerID, Seat: r.Seat, Score: r.Score}
	}
	return ranking.Game{ID: g.ID, SeasonID: g.SeasonID, PlayedAt: g.PlayedAt, Results: results}
}

var careerColumns = []string{
	"dan_level", "dan_name", "dan_points", "max_dan_level", "rate", "max_rate",
	"games", "firsts", "seconds", "thirds", "fourths", "last_played_at", "updated_at",
}

var standingColumns = []string{
	"points", "games", "firsts", "seconds", "thirds", "fourths", "score_sum", "updated_at",
}

// liveGames loads every live game whose season is live, with results.
func liveGames(db *gorm.DB) ([]models.Game, error) {
	var games []models.Game
	err := db.Preload("Results").
		Where("season_id IN (?)", db.Model(&models.Season{}).Select("id")).
		Order("played_at ASC, id ASC").
		Find(&games).Error
	return games, err
}

func lockState(tx *gorm.DB) (models.RankingState, error) {
	var state models.RankingState
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		FirstOrCreate(&state, models.RankingState{ID: models.RankingStateID}).Error
	return state, err
}

// RecomputeResult summarizes a full rebuild.
type RecomputeResult struct {
	Generation int64         `json:"generation"`
	Games      int           `json:"games"`
	Skipped    []string      `json:"skipped,omitempty"`
	Players    int           `json:"players"`
	Took       time.Duration `json:"took"`
}

// Recompute rebuilds every derived table from the live games.
func (s *RankingService) Recompute(ctx context.Context, reason string) (*RecomputeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	start := time.Now()

	snap, err := s.Tables.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("load point tables: %w", err)
	}
	db := s.DB.WithContext(ctx)
	games, err := liveGames(db)
	if err != nil {
		return nil, fmt.Errorf("load games: %w", err)
	}

	input := make([]ranking.Game, len(games))
	for i, g := range games {
		input[i] = toRankingGame(g)
	}
	var skipped []string
	agg, entries := ranking.ReplayValid(snap.Tables(), input, func(g ranking.Game, err error) {
		skipped = append(skipped, g.ID)
		logging.L().Warn("[RANKING] game left out of rankings", zap.String("game_id", g.ID), zap.Error(err))
	})

	careers := agg.Careers()
	var state models.RankingState
	err = db.Transaction(func(tx *gorm.DB) error {
		var err error
		if state, err = lockState(tx); err != nil {
			return err
		}
		for _, m := range []interface{}{&models.PointsEntry{}, &models.SeasonStanding{}, &models.PlayerRanking{}} {
			if err := tx.Unscoped().Where("1 = 1").Delete(m).Error; err != nil {
				return fmt.Errorf("clear derived tables: %w", err)
			}
		}

		rankings := make([]models.PlayerRanking, len(careers))
		for i, c := range careers {
			rankings[i] = rowFromCareer(c)
			rankings[i].ID = uuid.NewString()
		}
		if len(rankings) > 0 {
			if err := tx.CreateInBatches(&rankings, batchSize).Error; err != nil {
				return fmt.Errorf("write rankings: %w", err)
			}
		}

		standings := agg.Standings()
		rows := make([]models.SeasonStanding, len(standings))
		for i, st := range standings {
			rows[i] = rowFromStanding(st)
			rows[i].ID = uuid.NewString()
		}
		if len(rows) > 0 {
			if err := tx.CreateInBatches(&rows, batchSize).Error; err != nil {
				return fmt.Errorf("write standings: %w", err)
			}
		}

		ledger := make([]models.PointsEntry, len(entries))
		for i, e := range entries {
			ledger[i] = rowFromEntry(e)
		}
		if len(ledger) > 0 {
			if err := tx.CreateInBatches(&ledger, batchSize).Error; err != nil {
				return fmt.Errorf("write ledger: %w", err)
			}
		}

		return s.saveState(tx, &state, agg, true)
	})
	if err != nil {
		return nil, err
	}

	took := time.Since(start)
	s.Metrics.RecordRecompute("full", took, state.Generation)
	logging.L().Info("[RANKING] recomputed",
		zap.String("reason", reason),
		zap.Int64("generation", state.Generation),
		zap.Int("games", len(games)-len(skipped)),
		zap.Int("skipped", len(skipped)),
		zap.Int("players", len(careers)),
		zap.Duration("took", took))

	return &RecomputeResult{
		Generation: state.Generation,
		Games:      len(games) - len(skipped),
		Skipped:    skipped,
		Players:    len(careers),
		Took:       took,
	}, nil
}

func (s *RankingService) saveState(tx *gorm.DB, state *models.RankingState, agg *ranking.Aggregator, full bool) error {
	state.Generation++
	if id, at, ok := agg.Last(); ok {
		state.LastGameID = id
		state.LastPlayedAt = &at
	} else {
		state.LastGameID = ""
		state.LastPlayedAt = nil
	}
	if full {
		now := s.now()
		state.RecomputedAt = &now
	}
	return tx.Save(state).Error
}

// ApplyGame folds a newly added game into the derived tables without a full
// rebuild. It returns ranking.ErrOutOfOrder when the game is older than the
// last one applied; callers then schedule Recompute.
func (s *RankingService) ApplyGame(ctx context.Context, gameID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	start := time.Now()

	snap, err := s.Tables.Get(ctx)
	if err != nil {
		return fmt.Errorf("load point tables: %w", err)
	}
	db := s.DB.WithContext(ctx)
	var game models.Game
	if err := db.Preload("Results").First(&game, "id = ?", gameID).Error; err != nil {
		return notFound(err, "game")
	}
	g := toRankingGame(game)
	playerIDs := make([]string, len(g.Results))
	for i, r := range g.Results {
		playerIDs[i] = r.PlayerID
	}

	var state models.RankingState
	err = db.Transaction(func(tx *gorm.DB) error {
		var err error
		if state, err = lockState(tx); err != nil {
			return err
		}
		var applied int64
		if err := tx.Model(&models.PointsEntry{}).Where("game_id = ?", game.ID).Count(&applied).Error; err != nil {
			return err
		}
		if applied > 0 {
			return invalid(ErrConflict, "game %s is already in the rankings", game.ID)
		}

		agg := ranking.NewAggregator(snap.Tables())
		if state.LastPlayedAt != nil {
			agg.SetLast(state.LastGameID, *state.LastPlayedAt)
		}

		var existing []models.PlayerRanking
		if err := tx.Where("player_id IN ?", playerIDs).Find(&existing).Error; err != nil {
			return err
		}
		ids := make(map[string]string, len(existing))
		for _, r := range existing {
			agg.Seed(careerFromRow(r))
			ids[r.PlayerID] = r.ID
		}
		var standings []models.SeasonStanding
		if err := tx.Where("season_id = ? AND player_id IN ?", game.SeasonID, playerIDs).Find(&standings).Error; err != nil {
			return err
		}
		standingIDs := make(map[string]string, len(standings))
		for _, st := range standings {
			agg.SeedStanding(standingFromRow(st))
			standingIDs[st.PlayerID] = st.ID
		}

		entries, err := agg.Apply(g)
		if err != nil {
			if errors.Is(err, ranking.ErrOutOfOrder) {
				return err
			}
			return fmt.Errorf("%w: %v", ErrInvalidGame, err)
		}

		rows := make([]models.PlayerRanking, 0, len(playerIDs))
		for _, c := range agg.Careers() {
			row := rowFromCareer(c)
			if row.ID = ids[c.PlayerID]; row.ID == "" {
				row.ID = uuid.NewString()
			}
			rows = append(rows, row)
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "player_id"}},
			DoUpdates: clause.AssignmentColumns(careerColumns),
		}).Create(&rows).Error; err != nil {
			return fmt.Errorf("write rankings: %w", err)
		}

		srows := make([]models.SeasonStanding, 0, len(playerIDs))
		for _, st := range agg.Standings() {
			row := rowFromStanding(st)
			if row.ID = standingIDs[st.PlayerID]; row.ID == "" {
				row.ID = uuid.NewString()
			}
			srows = append(srows, row)
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "player_id"}, {Name: "season_id"}},
			DoUpdates: clause.AssignmentColumns(standingColumns),
		}).Create(&srows).Error; err != nil {
			return fmt.Errorf("write standings: %w", err)
		}

		ledger := make([]models.PointsEntry, len(entries))
		for i, e := range entries {
			ledger[i] = rowFromEntry(e)
		}
		if err := tx.Create(&ledger).Error; err != nil {
			return fmt.Errorf("write ledger: %w", err)
		}
		return s.saveState(tx, &state, agg, false)
	})
	if err != nil {
		return err
	}

	s.Metrics.RecordRecompute("incremental", time.Since(start), state.Generation)
	logging.L().Info("[RANKING] game applied",
		zap.String("game_id", game.ID), zap.Int64("generation", state.Generation))
	return nil
}

// Touch bumps the generation without changing rankings, e.g. after a player
// is hidden or restored, so cached tables and live streams refresh.
func (s *RankingService) Touch(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		state, err := lockState(tx)
		if err != nil {
			return err
		}
		state.Generation++
		return tx.Save(&state).Error
	})
}

// Generation is the counter bumped by every change to the derived tables.
func (s *RankingService) Generation(ctx context.Context) (int64, error) {
	var state models.RankingState
	err := s.DB.WithContext(ctx).Select("generation").First(&state, "id = ?", models.RankingStateID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	return state.Generation, err
}

// State returns the ranking bookkeeping row.
func (s *RankingService) State(ctx context.Context) (*models.RankingState, error) {
	var state models.RankingState
	err := s.DB.WithContext(ctx).First(&state, "id = ?", models.RankingStateID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.RankingState{ID: models.RankingStateID}, nil
	}
	return &state, err
}

// ===== Ranking tables =====

type RankingQuery struct {
	Kind     string
	SeasonID string
	MinGames int
	Offset   int
	Limit    int
}

type RankingRow struct {
	Position         int     `json:"position"`
	PlayerID         string  `json:"player_id"`
	Nickname         string  `json:"nickname"`
	Slug             string  `json:"slug"`
	AvatarURL        string  `json:"avatar_url,omitempty"`
	Value            float64 `json:"value"`
	Rate             float64 `json:"rate"`
	DanLevel         int     `json:"dan_level"`
	DanName          string  `json:"dan_name"`
	DanPoints        int     `json:"dan_points"`
	Games            int     `json:"games"`
	Firsts           int     `json:"firsts"`
	Seconds          int     `json:"seconds"`
	Thirds           int     `json:"thirds"`
	Fourths          int     `json:"fourths"`
	AveragePlacement float64 `json:"average_placement"`
}

type RankingPage struct {
	Kind       string       `json:"kind"`
	SeasonID   string       `json:"season_id,omitempty"`
	Generation int64        `json:"generation"`
	Total      int64        `json:"total"`
	Offset     int          `json:"offset"`
	Limit      int          `json:"limit"`
	Rows       []RankingRow `json:"rows"`
}

type rankingScan struct {
	PlayerID  string
	Nickname  string
	Slug      string
	AvatarURL string
	Rate      float64
	DanLevel  int
	DanName   string
	DanPoints int
	Points    float64
	Games     int
	Firsts    int
	Seconds   int
	Thirds    int
	Fourths   int
}

func (q *RankingQuery) normalize() error {
	if q.Kind == "" {
		q.Kind = KindRate
	}
	switch q.Kind {
	case KindRate, KindDan, KindSeason:
	default:
		return invalid(ErrInvalidInput, "unknown ranking kind %q", q.Kind)
	}
	if q.Limit <= 0 {
		q.Limit = defaultPageSize
	}
	if q.Limit > maxPageSize {
		q.Limit = maxPageSize
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	if q.MinGames < 0 {
		q.MinGames = 0
	}
	return nil
}

func boardKey(q RankingQuery) cache.BoardKey {
	scope := "all"
	if q.Kind == KindSeason {
		scope = q.SeasonID
	}
	return cache.BoardKey{Kind: q.Kind, Scope: scope}
}

// tableRows loads a full ranking table in display order, or only the given
// players when ids is non-nil.
func (s *RankingService) tableRows(ctx context.Context, q RankingQuery, ids []string) ([]RankingRow, error) {
	db := s.DB.WithContext(ctx)
	var tx *gorm.DB
	minGames := q.MinGames
	if minGames < 1 {
		minGames = 1
	}

	switch q.Kind {
	case KindSeason:
		tx = db.Table("season_standings AS s").
			Select("s.player_id, p.nickname, p.slug, p.avatar_url, s.points, s.games, s.firsts, s.seconds, s.thirds, s.fourths, "+
				"COALESCE(r.rate, 0) AS rate, COALESCE(r.dan_level, 0) AS dan_level, COALESCE(r.dan_name, '') AS dan_name, COALESCE(r.dan_points, 0) AS dan_points").
			Joins("JOIN players p ON p.id = s.player_id AND p.deleted_at IS NULL").
			Joins("LEFT JOIN player_rankings r ON r.player_id = s.player_id AND r.deleted_at IS NULL").
			Where("s.deleted_at IS NULL AND s.season_id = ? AND s.games >= ?", q.SeasonID, minGames).
			Order("s.points DESC, s.score_sum DESC, p.nickname_key ASC")
	default:
		tx = db.Table("player_rankings AS r").
			Select("r.player_id, p.nickname, p.slug, p.avatar_url, r.rate, r.dan_level, r.dan_name, r.dan_points, r.games, r.firsts, r.seconds, r.thirds, r.fourths").
			Joins("JOIN players p ON p.id = r.player_id AND p.deleted_at IS NULL").
			Where("r.deleted_at IS NULL AND r.games >= ?", minGames)
		if q.Kind == KindDan {
			tx = tx.Order("r.dan_level DESC, r.dan_points DESC, r.rate DESC, p.nickname_key ASC")
		} else {
			tx = tx.Order("r.rate DESC, r.games DESC, p.nickname_key ASC")
		}
	}
	if ids != nil {
		tx = tx.Where("p.id IN ?", ids)
	}

	var scans []rankingScan
	if err := tx.Scan(&scans).Error; err != nil {
		return nil, fmt.Errorf("load %s ranking: %w", q.Kind, err)
	}

	rows := make([]RankingRow, len(scans))
	for i, sc := range scans {
		pr := models.PlayerRanking{Games: sc.Games, Firsts: sc.Firsts, Seconds: sc.Seconds, Thirds: sc.Thirds, Fourths: sc.Fourths}
		row := RankingRow{
			Position:         i + 1,
			PlayerID:         sc.PlayerID,
			Nickname:         sc.Nickname,
			Slug:             sc.Slug,
			AvatarURL:        sc.AvatarURL,
			Rate:             sc.Rate,
			DanLevel:         sc.DanLevel,
			DanName:          sc.DanName,
			DanPoints:        sc.DanPoints,
			Games:            sc.Games,
			Firsts:           sc.Firsts,
			Seconds:          sc.Seconds,
			Thirds:           sc.Thirds,
			Fourths:          sc.Fourths,
			AveragePlacement: pr.AveragePlacement(),
		}
		switch q.Kind {
		case KindSeason:
			row.Value = sc.Points
		case KindDan:
			row.Value = float64(sc.DanPoints)
		default:
			row.Value = sc.Rate
		}
		rows[i] = row
	}
	return rows, nil
}

// Rankings serves one page of a ranking table. Unfiltered tables go through
// the Redis board when one is configured.
func (s *RankingService) Rankings(ctx context.Context, q RankingQuery) (*RankingPage, error) {
	if err := q.normalize(); err != nil {
		return nil, err
	}
	if q.Kind == KindSeason && q.SeasonID == "" {
		id, err := currentSeasonID(s.DB.WithContext(ctx))
		if err != nil {
			return nil, err
		}
		q.SeasonID = id
	}
	gen, err := s.Generation(ctx)
	if err != nil {
		return nil, err
	}
	page := &RankingPage{Kind: q.Kind, SeasonID: q.SeasonID, Generation: gen, Offset: q.Offset, Limit: q.Limit}
	useBoard := s.Board != nil && q.MinGames == 0

	if useBoard {
		rows, total, err := s.pageFromBoard(ctx, gen, q)
		if err == nil {
			page.Rows, page.Total = rows, total
			return page, nil
		}
		if !errors.Is(err, cache.ErrBoardMiss) {
			s.Metrics.RecordBoardError("read")
			logging.L().Warn("[RANKING] board read failed, using database", zap.Error(err))
		}
	}

	rows, err := s.tableRows(ctx, q, nil)
	if err != nil {
		return nil, err
	}
	if useBoard {
		s.fillBoard(ctx, gen, q, rows)
	}
	page.Total = int64(len(rows))
	page.Rows = paginate(rows, q.Offset, q.Limit)
	return page, nil
}

func paginate(rows []RankingRow, offset, limit int) []RankingRow {
	if offset >= len(rows) {
		return []RankingRow{}
	}
	end := offset + limit
	if end > len(rows) {
		end = len(rows)
	}
	return rows[offset:end]
}

// fillBoard stores the table order; scores are reversed positions so the
// board keeps the database tie-breaks.
func (s *RankingService) fillBoard(ctx context.Context, gen int64, q RankingQuery, rows []RankingRow) {
	entries := make([]cache.BoardEntry, len(rows))
	for i, r := range rows {
		entries[i] = cache.BoardEntry{PlayerID: r.PlayerID, Score: float64(len(rows) - i)}
	}
	if err := s.Board.Replace(ctx, gen, boardKey(q), entries); err != nil {
		s.Metrics.RecordBoardError("replace")
		logging.L().Warn("[RANKING] board write failed", zap.Error(err))
	}
}

func (s *RankingService) pageFromBoard(ctx context.Context, gen int64, q RankingQuery) ([]RankingRow, int64, error) {
	entries, total, err := s.Board.Top(ctx, gen, boardKey(q), int64(q.Offset), int64(q.Limit))
	if err != nil {
		return nil, 0, err
	}
	if len(entries) == 0 {
		return []RankingRow{}, total, nil
	}
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.PlayerID
	}
	rows, err := s.tableRows(ctx, q, ids)
	if err != nil {
		return nil, 0, err
	}
	byID := make(map[string]RankingRow, len(rows))
	for _, r := range rows {
		byID[r.PlayerID] = r
	}
	out := make([]RankingRow, 0, len(entries))
	for i, id := range ids {
		r, ok := byID[id]
		if !ok {
			// Player vanished within this generation; the board is stale.
			return nil, 0, cache.ErrBoardMiss
		}
		r.Position = q.Offset + i + 1
		out = append(out, r)
	}
	return out, total, nil
}

// position returns a player's 1-based place in a table, 0 when unranked.
func (s *RankingService) position(ctx context.Context, q RankingQuery, playerID string) (int, error) {
	if s.Board != nil && q.MinGames == 0 {
		if gen, err := s.Generation(ctx); err == nil {
			pos, err := s.Board.Position(ctx, gen, boardKey(q), playerID)
			if err == nil {
				return int(pos), nil
			}
			if !errors.Is(err, cache.ErrBoardMiss) {
				s.Metrics.RecordBoardError("position")
			}
		}
	}
	rows, err := s.tableRows(ctx, q, nil)
	if err != nil {
		return 0, err
	}
	for _, r := range rows {
		if r.PlayerID == playerID {
			return r.Position, nil
		}
	}
	return 0, nil
}

// ===== Player views =====

type DanProgress struct {
	Level         int    `json:"level"`
	Name          string `json:"name"`
	Points        int    `json:"points"`
	Protected     bool   `json:"protected"`
	NextName      string `json:"next_name,omitempty"`
	NextMinPoints int    `json:"next_min_points,omitempty"`
	PointsToNext  int    `json:"points_to_next,omitempty"`
}

func danProgress(t ranking.DanTable, points int) *DanProgress {
	rule := t.Lookup(points)
	p := &DanProgress{Level: rule.Level, Name: rule.Name, Points: points, Protected: rule.Protected}
	if next, ok := t.Next(rule.Level); ok {
		p.NextName = next.Name
		p.NextMinPoints = next.MinPoints
		p.PointsToNext = next.MinPoints - points
	}
	return p
}

type Profile struct {
	Player       models.Player           `json:"player"`
	Ranking      *models.PlayerRanking   `json:"ranking,omitempty"`
	RatePosition int                     `json:"rate_position,omitempty"`
	Dan          *DanProgress            `json:"dan"`
	Standings    []models.SeasonStanding `json:"standings"`
	Recent       []models.PointsEntry    `json:"recent"`
}

// Profile loads a player page; the parts are fetched concurrently.
func (s *RankingService) Profile(ctx context.Context, slug string) (*Profile, error) {
	player, err := findPlayerBySlug(s.DB.WithContext(ctx), slug)
	if err != nil {
		return nil, err
	}
	out := &Profile{Player: *player}

	var snap *configcache.Snapshot
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var r models.PlayerRanking
		err := s.DB.WithContext(gctx).First(&r, "player_id = ?", player.ID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err == nil {
			out.Ranking = &r
		}
		return err
	})
	g.Go(func() error {
		return s.DB.WithContext(gctx).Preload("Season").
			Joins("JOIN seasons ON seasons.id = season_standings.season_id AND seasons.deleted_at IS NULL").
			Where("season_standings.player_id = ?", player.ID).
			Order("seasons.starts_at DESC").
			Find(&out.Standings).Error
	})
	g.Go(func() error {
		return s.DB.WithContext(gctx).Where("player_id = ?", player.ID).
			Order("played_at DESC, game_id DESC").Limit(recentResults).
			Find(&out.Recent).Error
	})
	g.Go(func() error {
		pos, err := s.position(gctx, RankingQuery{Kind: KindRate}, player.ID)
		out.RatePosition = pos
		return err
	})
	g.Go(func() error {
		var err error
		snap, err = s.Tables.Get(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	points := 0
	if out.Ranking != nil {
		points = out.Ranking.DanPoints
	}
	out.Dan = danProgress(snap.Dan, points)
	return out, nil
}

// History is the player's ledger in play order, optionally for one season.
func (s *RankingService) History(ctx context.Context, slug, seasonID string) ([]models.PointsEntry, error) {
	db := s.DB.WithContext(ctx)
	player, err := findPlayerBySlug(db, slug)
	if err != nil {
		return nil, err
	}
	q := db.Where("player_id = ?", player.ID)
	if seasonID != "" {
		q = q.Where("season_id = ?", seasonID)
	}
	entries := []models.PointsEntry{}
	if err := q.Order("played_at ASC, game_id ASC").Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// Positions returns daily rate table positions over the last days days.
func (s *RankingService) Positions(ctx context.Context, slug string, days int) ([]models.RankingSnapshot, error) {
	if days <= 0 {
		days = 30
	}
	if days > 366 {
		days = 366
	}
	db := s.DB.WithContext(ctx)
	player, err := findPlayerBySlug(db, slug)
	if err != nil {
		return nil, err
	}
	since := truncateDay(s.now()).AddDate(0, 0, -days)
	out := []models.RankingSnapshot{}
	err = db.Where("player_id = ? AND taken_on >= ?", player.ID, since).
		Order("taken_on ASC").Find(&out).Error
	return out, err
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// TakeSnapshot stores today's rate table positions. Running it twice on one
// day overwrites that day's rows.
func (s *RankingService) TakeSnapshot(ctx context.Context) (int, error) {
	rows, err := s.tableRows(ctx, RankingQuery{Kind: KindRate}, nil)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	day := truncateDay(s.now())
	snaps := make([]models.RankingSnapshot, len(rows))
	for i, r := range rows {
		snaps[i] = models.RankingSnapshot{
			TakenOn:   day,
			PlayerID:  r.PlayerID,
			Position:  r.Position,
			Rate:      r.Rate,
			DanLevel:  r.DanLevel,
			DanPoints: r.DanPoints,
		}
	}
	err = s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "taken_on"}, {Name: "player_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"position", "rate", "dan_level", "dan_points"}),
	}).CreateInBatches(&snaps, batchSize).Error
	if err != nil {
		return 0, fmt.Errorf("store snapshot: %w", err)
	}
	logging.L().Info("[RANKING] daily snapshot stored", zap.Time("day", day), zap.Int("players", len(snaps)))
	return len(snaps), nil
}
