package handlers

import (
	"mahjong-league/services"

	"github.com/gofiber/fiber/v2"
)

func SetupSeasonRoutes(public, admin fiber.Router, seasons *services.SeasonService) {
	public.Get("/seasons", func(c *fiber.Ctx) error {
		list, err := seasons.List(c.UserContext())
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"seasons": list})
	})

	public.Get("/seasons/:id", func(c *fiber.Ctx) error {
		id, err := paramUUID(c)
		if err != nil {
			return err
		}
		s, err := seasons.Get(c.UserContext(), id)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(s)
	})

	admin.Post("/seasons", func(c *fiber.Ctx) error {
		var in services.SeasonInput
		if err := c.BodyParser(&in); err != nil {
			return badJSON(c, err)
		}
		s, err := seasons.Create(c.UserContext(), in)
		if err != nil {
			return respondError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(s)
	})

	admin.Put("/seasons/:id", func(c *fiber.Ctx) error {
		id, err := paramUUID(c)
		if err != nil {
			return err
		}
		var in services.SeasonInput
		if err := c.BodyParser(&in); err != nil {
			return badJSON(c, err)
		}
		s, err := seasons.Update(c.UserContext(), id, in)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(s)
	})

	admin.Delete("/seasons/:id", func(c *fiber.Ctx) error {
		id, err := paramUUID(c)
		if err != nil {
			return err
		}
		version, err := queryVersion(c)
		if err != nil {
			return err
		}
		if err := seasons.Delete(c.UserContext(), id, version); err != nil {
			return respondError(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	admin.Post("/seasons/:id/restore", func(c *fiber.Ctx) error {
		id, err := paramUUID(c)
		if err != nil {
			return err
		}
		s, err := seasons.Restore(c.UserContext(), id)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(s)
	})

	admin.Post("/seasons/:id/activate", func(c *fiber.Ctx) error {
		id, err := paramUUID(c)
		if err != nil {
			return err
		}
		s, err := seasons.Activate(c.UserContext(), id)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(s)
	})

	admin.Post("/seasons/:id/close", func(c *fiber.Ctx) error {
		id, err := paramUUID(c)
		if err != nil {
			return err
		}
		s, err := seasons.Close(c.UserContext(), id)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(s)
	})
}
