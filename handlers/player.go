package handlers

import (
	"fmt"
	"io"
	"net/http"

	"mahjong-league/services"
	"mahjong-league/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const maxAvatarBytes = 2 << 20

var avatarTypes = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

func SetupPlayerRoutes(public, admin fiber.Router, players *services.PlayerService, rankings *services.RankingService, store utils.ObjectStore) {
	public.Get("/players", func(c *fiber.Ctx) error {
		page, err := pageRequest(c)
		if err != nil {
			return err
		}
		out, err := players.List(c.UserContext(), c.Query("q"), page)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(out)
	})

	public.Get("/players/:slug", func(c *fiber.Ctx) error {
		profile, err := rankings.Profile(c.UserContext(), c.Params("slug"))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(profile)
	})

	public.Get("/players/:slug/history", func(c *fiber.Ctx) error {
		seasonID, err := queryUUID(c, "season")
		if err != nil {
			return err
		}
		entries, err := rankings.History(c.UserContext(), c.Params("slug"), seasonID)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"entries": entries})
	})

	public.Get("/players/:slug/positions", func(c *fiber.Ctx) error {
		days, err := queryInt(c, "days", 30)
		if err != nil {
			return err
		}
		snaps, err := rankings.Positions(c.UserContext(), c.Params("slug"), days)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"positions": snaps})
	})

	admin.Post("/players", func(c *fiber.Ctx) error {
		var in services.PlayerInput
		if err := c.BodyParser(&in); err != nil {
			return badJSON(c, err)
		}
		p, err := players.Create(c.UserContext(), in)
		if err != nil {
			return respondError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(p)
	})

	admin.Put("/players/:id", func(c *fiber.Ctx) error {
		id, err := paramUUID(c)
		if err != nil {
			return err
		}
		var in services.PlayerInput
		if err := c.BodyParser(&in); err != nil {
			return badJSON(c, err)
		}
		p, err := players.Update(c.UserContext(), id, in)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(p)
	})

	admin.Delete("/players/:id", func(c *fiber.Ctx) error {
		id, err := paramUUID(c)
		if err != nil {
			return err
		}
		version, err := queryVersion(c)
		if err != nil {
			return err
		}
		if err := players.Delete(c.UserContext(), id, version); err != nil {
			return respondError(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	admin.Post("/players/:id/restore", func(c *fiber.Ctx) error {
		id, err := paramUUID(c)
		if err != nil {
			return err
		}
		p, err := players.Restore(c.UserContext(), id)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(p)
	})

	admin.Post("/players/:id/avatar", func(c *fiber.Ctx) error {
		return uploadAvatar(c, players, store)
	})
}

func uploadAvatar(c *fiber.Ctx, players *services.PlayerService, store utils.ObjectStore) error {
	id, err := paramUUID(c)
	if err != nil {
		return err
	}
	fh, err := c.FormFile("avatar")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "avatar file is required", "cause": err.Error()})
	}
	if fh.Size > maxAvatarBytes {
		return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{"error": "avatar too large", "cause": fmt.Sprintf("max %d bytes", maxAvatarBytes)})
	}
	f, err := fh.Open()
	if err != nil {
		return respondError(c, err)
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxAvatarBytes+1))
	if err != nil {
		return respondError(c, err)
	}
	if len(data) > maxAvatarBytes {
		return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{"error": "avatar too large", "cause": fmt.Sprintf("max %d bytes", maxAvatarBytes)})
	}

	contentType := http.DetectContentType(data)
	ext, ok := avatarTypes[contentType]
	if !ok {
		return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{"error": "unsupported image type", "cause": contentType})
	}

	key := fmt.Sprintf("avatars/%s/%s%s", id, uuid.NewString(), ext)
	url, err := store.Put(c.UserContext(), key, data, contentType)
	if err != nil {
		return respondError(c, err)
	}
	p, err := players.SetAvatar(c.UserContext(), id, url)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(p)
}
