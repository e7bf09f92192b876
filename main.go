package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"mahjong-league/cache"
	"mahjong-league/config"
	"mahjong-league/configcache"
	"mahjong-league/database"
	"mahjong-league/handlers"
	"mahjong-league/logging"
	"mahjong-league/metrics"
	"mahjong-league/middleware"
	"mahjong-league/services"
	"mahjong-league/utils"
	"mahjong-league/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

const boardTTL = 24 * time.Hour

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}
	if err := logging.InitFromEnv(); err != nil {
		log.Fatal("failed to initialize logger:", err)
	}
	logger := logging.L()
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("❌ invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.NewMetrics()

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("❌ failed to connect to database", zap.Error(err))
	}

	tables := configcache.New(services.TableLoader{DB: db}, cfg.ConfigCacheTTL, m)

	var board *cache.Board
	if cfg.RedisURL != "" {
		board, err = cache.NewBoardFromURL(cfg.RedisURL, boardTTL)
		if err != nil {
			logger.Fatal("❌ invalid REDIS_URL", zap.Error(err))
		}
		defer board.Close()
		if err := board.Ping(ctx); err != nil {
			logger.Warn("⚠️ [BOARD] redis unreachable, rankings will be read from the database until it recovers", zap.Error(err))
		}
	}

	var store utils.ObjectStore
	if cfg.R2Enabled() {
		store, err = utils.NewR2Store(ctx, utils.R2Config{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			AccessKeySecret: cfg.R2AccessKeySecret,
			Bucket:          cfg.R2Bucket,
			CDNBaseURL:      cfg.CDNBaseURL,
		})
	} else {
		prefix := "/uploads"
		if cfg.CDNBaseURL != "" {
			prefix = cfg.CDNBaseURL
		}
		store, err = utils.NewLocalStore(cfg.UploadDir, prefix)
	}
	if err != nil {
		logger.Fatal("❌ failed to initialize object store", zap.Error(err))
	}

	rankingService := services.NewRankingService(db, tables, board, m)
	recomputeWorker := workers.NewRecomputeWorker(rankingService, cfg.RecomputeMinInterval)
	configService := services.NewConfigService(db, tables, recomputeWorker)
	playerService := services.NewPlayerService(db, rankingService)
	seasonService := services.NewSeasonService(db, recomputeWorker)
	tournamentService := services.NewTournamentService(db)
	gameService := services.NewGameService(db, tables, rankingService, recomputeWorker)

	if err := configService.EnsureDefaults(ctx); err != nil {
		logger.Fatal("❌ failed to seed point tables", zap.Error(err))
	}

	recomputeWorker.Start(ctx)
	// Derived tables may predate the current point tables.
	recomputeWorker.Trigger("startup")

	archiveWorker := workers.NewArchiveWorker(seasonService, configService, store)
	go workers.PollArchives(ctx, archiveWorker, cfg.ArchivePollInterval)

	scheduler, err := services.StartScheduler(ctx, services.SchedulerConfig{
		SnapshotHour:    cfg.SnapshotCronHour,
		CacheRefreshTTL: cfg.ConfigCacheTTL,
	}, seasonService, rankingService, configService, m)
	if err != nil {
		logger.Fatal("❌ failed to start scheduler", zap.Error(err))
	}

	app := fiber.New(fiber.Config{
		BodyLimit:    8 * 1024 * 1024,
		ErrorHandler: handlers.ErrorHandler,
	})

	app.Use(middleware.RequestLogger(m))
	app.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(cfg.AllowedOrigins, ","),
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, Cache-Control, X-User-ID, X-User-Roles",
		ExposeHeaders:    "Content-Length, Content-Type, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	if !cfg.R2Enabled() {
		app.Static("/uploads", cfg.UploadDir)
	}

	handlers.Setup(app, handlers.Deps{
		DB:             db,
		Board:          board,
		Players:        playerService,
		Rankings:       rankingService,
		Seasons:        seasonService,
		Tournaments:    tournamentService,
		Games:          gameService,
		Config:         configService,
		Store:          store,
		GatewayToken:   cfg.AdminGatewayToken,
		StreamInterval: 2 * time.Second,
	})

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			logger.Error("server error", zap.Error(err))
			stop()
		}
	}()

	logger.Info("✅ Server running", zap.String("port", cfg.Port))
	logger.Info("✅ CORS configured", zap.Strings("origins", cfg.AllowedOrigins))
	logger.Info("✅ Object store", zap.Bool("r2", cfg.R2Enabled()))
	logger.Info("✅ Ranking board", zap.Bool("redis", board != nil))

	<-ctx.Done()
	logger.Info("Shutting down server...")

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Warn("server shutdown", zap.Error(err))
	}
	if err := scheduler.Shutdown(); err != nil {
		logger.Warn("scheduler shutdown", zap.Error(err))
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
