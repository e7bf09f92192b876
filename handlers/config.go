package handlers

import (
	"mahjong-league/models"
	"mahjong-league/services"

	"github.com/gofiber/fiber/v2"
)

func SetupConfigRoutes(public, admin fiber.Router, config *services.ConfigService) {
	public.Get("/config/dan", func(c *fiber.Ctx) error {
		snap, err := config.Tables(c.UserContext())
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"rules": snap.DanRows})
	})

	public.Get("/config/rate", func(c *fiber.Ctx) error {
		snap, err := config.Tables(c.UserContext())
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"settings": snap.RateSetting, "brackets": snap.RateRows})
	})

	public.Get("/config/season", func(c *fiber.Ctx) error {
		seasonID, err := queryUUID(c, "season")
		if err != nil {
			return err
		}
		view, err := config.SeasonRule(c.UserContext(), seasonID)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(view)
	})

	admin.Put("/config/dan", func(c *fiber.Ctx) error {
		var rows []models.DanConfig
		if err := c.BodyParser(&rows); err != nil {
			return badJSON(c, err)
		}
		out, err := config.ReplaceDanTable(c.UserContext(), rows)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"rules": out})
	})

	admin.Patch("/config/dan/:id", func(c *fiber.Ctx) error {
		id, err := paramUUID(c)
		if err != nil {
			return err
		}
		var in models.DanConfig
		if err := c.BodyParser(&in); err != nil {
			return badJSON(c, err)
		}
		out, err := config.UpdateDanRule(c.UserContext(), id, in)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(out)
	})

	admin.Put("/config/rate", func(c *fiber.Ctx) error {
		var rows []models.RateConfig
		if err := c.BodyParser(&rows); err != nil {
			return badJSON(c, err)
		}
		out, err := config.ReplaceRateTable(c.UserContext(), rows)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"brackets": out})
	})

	admin.Put("/config/rate/settings", func(c *fiber.Ctx) error {
		var in models.RateSetting
		if err := c.BodyParser(&in); err != nil {
			return badJSON(c, err)
		}
		out, err := config.UpdateRateSettings(c.UserContext(), in)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(out)
	})

	admin.Patch("/config/rate/:id", func(c *fiber.Ctx) error {
		id, err := paramUUID(c)
		if err != nil {
			return err
		}
		var in models.RateConfig
		if err := c.BodyParser(&in); err != nil {
			return badJSON(c, err)
		}
		out, err := config.UpdateRateBracket(c.UserContext(), id, in)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(out)
	})

	admin.Put("/config/season", func(c *fiber.Ctx) error {
		var in models.SeasonConfig
		if err := c.BodyParser(&in); err != nil {
			return badJSON(c, err)
		}
		out, err := config.PutSeasonRule(c.UserContext(), in)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(out)
	})

	admin.Post("/config/refresh", func(c *fiber.Ctx) error {
		if err := config.RefreshCache(c.UserContext()); err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"message": "config cache reloaded"})
	})
}
