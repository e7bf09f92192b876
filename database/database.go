package database

import (
	"fmt"
	"time"

	"mahjong-league/logging"
	"mahjong-league/models"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Models lists every table the service owns, in migration order.
func Models() []interface{} {
	return []interface{}{
		&models.Player{},
		&models.Season{},
		&models.Tournament{},
		&models.Game{},
		&models.GameResult{},
		&models.PlayerRanking{},
		&models.SeasonStanding{},
		&models.PointsEntry{},
		&models.RankingState{},
		&models.RankingSnapshot{},
		&models.DanConfig{},
		&models.RateConfig{},
		&models.RateSetting{},
		&models.SeasonConfig{},
	}
}

// Open connects to Postgres, installs the versioning plugin and migrates the schema.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := db.Use(VersioningPlugin{}); err != nil {
		return nil, fmt.Errorf("install versioning plugin: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql db: %w", err)
	}
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	if err := db.AutoMigrate(Models()...); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	logging.L().Info("[DB] connected and migrated", zap.Int("tables", len(Models())))
	return db, nil
}
