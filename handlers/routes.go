package handlers

import (
	"time"

	"mahjong-league/cache"
	"mahjong-league/middleware"
	"mahjong-league/services"
	"mahjong-league/utils"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// Deps is everything the HTTP layer talks to.
type Deps struct {
	DB          *gorm.DB
	Board       *cache.Board
	Players     *services.PlayerService
	Rankings    *services.RankingService
	Seasons     *services.SeasonService
	Tournaments *services.TournamentService
	Games       *services.GameService
	Config      *services.ConfigService
	Store       utils.ObjectStore

	GatewayToken   string
	StreamInterval time.Duration
}

// Setup mounts public routes at the root and admin routes under /admin.
func Setup(app *fiber.App, d Deps) {
	admin := app.Group("/admin",
		middleware.GatewayAuth(d.GatewayToken),
		middleware.UserContext(),
		middleware.RequireRole(middleware.RoleAdmin),
	)

	SetupSystemRoutes(app, d.DB, d.Board)
	SetupPlayerRoutes(app, admin, d.Players, d.Rankings, d.Store)
	SetupRankingRoutes(app, admin, d.Rankings, d.StreamInterval)
	SetupSeasonRoutes(app, admin, d.Seasons)
	SetupTournamentRoutes(app, admin, d.Tournaments)
	SetupGameRoutes(app, admin, d.Games)
	SetupConfigRoutes(app, admin, d.Config)
	SetupTrashRoutes(admin, d.Players, d.Games, d.Seasons)
}
