package handlers

import (
	"mahjong-league/services"

	"github.com/gofiber/fiber/v2"
)

func SetupGameRoutes(public, admin fiber.Router, games *services.GameService) {
	public.Get("/games", func(c *fiber.Ctx) error {
		page, err := pageRequest(c)
		if err != nil {
			return err
		}
		var f services.GameFilter
		if f.SeasonID, err = queryUUID(c, "season"); err != nil {
			return err
		}
		if f.TournamentID, err = queryUUID(c, "tournament"); err != nil {
			return err
		}
		if f.PlayerID, err = queryUUID(c, "player"); err != nil {
			return err
		}
		out, err := games.List(c.UserContext(), f, page)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(out)
	})

	public.Get("/games/:id", func(c *fiber.Ctx) error {
		id, err := paramUUID(c)
		if err != nil {
			return err
		}
		g, err := games.Get(c.UserContext(), id)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(g)
	})

	admin.Post("/games", func(c *fiber.Ctx) error {
		var in services.GameInput
		if err := c.BodyParser(&in); err != nil {
			return badJSON(c, err)
		}
		g, err := games.Create(c.UserContext(), in)
		if err != nil {
			return respondError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(g)
	})

	admin.Put("/games/:id", func(c *fiber.Ctx) error {
		id, err := paramUUID(c)
		if err != nil {
			return err
		}
		var in services.GameInput
		if err := c.BodyParser(&in); err != nil {
			return badJSON(c, err)
		}
		g, err := games.Update(c.UserContext(), id, in)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(g)
	})

	admin.Delete("/games/:id", func(c *fiber.Ctx) error {
		id, err := paramUUID(c)
		if err != nil {
			return err
		}
		version, err := queryVersion(c)
		if err != nil {
			return err
		}
		if err := games.Delete(c.UserContext(), id, version); err != nil {
			return respondError(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	admin.Post("/games/:id/restore", func(c *fiber.Ctx) error {
		id, err := paramUUID(c)
		if err != nil {
			return err
		}
		g, err := games.Restore(c.UserContext(), id)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(g)
	})
}
