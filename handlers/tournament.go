package handlers

import (
	"mahjong-league/services"

	"github.com/gofiber/fiber/v2"
)

func SetupTournamentRoutes(public, admin fiber.Router, tournaments *services.TournamentService) {
	public.Get("/tournaments", func(c *fiber.Ctx) error {
		seasonID, err := queryUUID(c, "season")
		if err != nil {
			return err
		}
		list, err := tournaments.List(c.UserContext(), seasonID)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"tournaments": list})
	})

	public.Get("/tournaments/:id", func(c *fiber.Ctx) error {
		id, err := paramUUID(c)
		if err != nil {
			return err
		}
		t, err := tournaments.Get(c.UserContext(), id)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(t)
	})

	admin.Post("/tournaments", func(c *fiber.Ctx) error {
		var in services.TournamentInput
		if err := c.BodyParser(&in); err != nil {
			return badJSON(c, err)
		}
		t, err := tournaments.Create(c.UserContext(), in)
		if err != nil {
			return respondError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(t)
	})

	admin.Put("/tournaments/:id", func(c *fiber.Ctx) error {
		id, err := paramUUID(c)
		if err != nil {
			return err
		}
		var in services.TournamentInput
		if err := c.BodyParser(&in); err != nil {
			return badJSON(c, err)
		}
		t, err := tournaments.Update(c.UserContext(), id, in)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(t)
	})

	admin.Delete("/tournaments/:id", func(c *fiber.Ctx) error {
		id, err := paramUUID(c)
		if err != nil {
			return err
		}
		version, err := queryVersion(c)
		if err != nil {
			return err
		}
		if err := tournaments.Delete(c.UserContext(), id, version); err != nil {
			return respondError(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})
}
