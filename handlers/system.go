package handlers

import (
	"context"
	"time"

	"mahjong-league/cache"
	"mahjong-league/services"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

func SetupSystemRoutes(public fiber.Router, db *gorm.DB, board *cache.Board) {
	public.Get("/healthz", func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()

		checks := fiber.Map{}
		healthy := true
		if db != nil {
			sqlDB, err := db.DB()
			if err == nil {
				err = sqlDB.PingContext(ctx)
			}
			checks["database"] = statusOf(err)
			healthy = healthy && err == nil
		}
		if board != nil {
			// Redis only accelerates reads, so it never fails the check.
			checks["redis"] = statusOf(board.Ping(ctx))
		}

		status := fiber.StatusOK
		if !healthy {
			status = fiber.StatusServiceUnavailable
		}
		return c.Status(status).JSON(fiber.Map{"ok": healthy, "checks": checks})
	})

	public.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
}

func statusOf(err error) string {
	if err != nil {
		return err.Error()
	}
	return "ok"
}

// SetupTrashRoutes lists soft-deleted records for restore.
func SetupTrashRoutes(admin fiber.Router, players *services.PlayerService, games *services.GameService, seasons *services.SeasonService) {
	admin.Get("/trash/:kind", func(c *fiber.Ctx) error {
		ctx := c.UserContext()
		var (
			items interface{}
			err   error
		)
		switch kind := c.Params("kind"); kind {
		case "players":
			items, err = players.Deleted(ctx)
		case "games":
			items, err = games.Deleted(ctx)
		case "seasons":
			items, err = seasons.Deleted(ctx)
		default:
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "unknown trash kind",
				"cause": kind + " (expected players, games or seasons)",
			})
		}
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"items": items})
	})
}
