package handlers

import (
	"errors"
	"strconv"

	"mahjong-league/logging"
	"mahjong-league/services"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// respondError maps service errors to a status and a JSON body.
func respondError(c *fiber.Ctx, err error) error {
	status, msg := classify(err)
	if status >= fiber.StatusInternalServerError {
		logging.L().Error("❌ [HTTP] request failed",
			zap.String("method", c.Method()), zap.String("path", c.Path()), zap.Error(err))
	}
	return c.Status(status).JSON(fiber.Map{
		"error": msg,
		"cause": err.Error(),
	})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, services.ErrNotFound):
		return fiber.StatusNotFound, "not found"
	case errors.Is(err, services.ErrDuplicateNickname):
		return fiber.StatusConflict, "nickname already taken"
	case errors.Is(err, services.ErrStaleVersion):
		return fiber.StatusConflict, "record was modified by someone else, reload and retry"
	case errors.Is(err, services.ErrConflict):
		return fiber.StatusConflict, "conflict"
	case errors.Is(err, services.ErrInvalidGame):
		return fiber.StatusBadRequest, "invalid game"
	case errors.Is(err, services.ErrInvalidConfig):
		return fiber.StatusBadRequest, "invalid configuration"
	case errors.Is(err, services.ErrInvalidInput):
		return fiber.StatusBadRequest, "invalid input"
	default:
		return fiber.StatusInternalServerError, "internal server error"
	}
}

func badJSON(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": "invalid JSON",
		"cause": err.Error(),
	})
}

// queryInt parses an optional integer query parameter.
func queryInt(c *fiber.Ctx, name string, def int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fiber.NewError(fiber.StatusBadRequest, "query parameter "+name+" must be an integer")
	}
	return n, nil
}

// queryVersion reads ?version= for deletes; 0 skips the version check.
func queryVersion(c *fiber.Ctx) (int64, error) {
	raw := c.Query("version")
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, fiber.NewError(fiber.StatusBadRequest, "query parameter version must be a non-negative integer")
	}
	return v, nil
}

// paramUUID reads the :id path parameter. An id that cannot exist is a 404.
func paramUUID(c *fiber.Ctx) (string, error) {
	id := c.Params("id")
	if !services.IsID(id) {
		return "", fiber.NewError(fiber.StatusNotFound, "no record with id "+strconv.Quote(id))
	}
	return id, nil
}

// queryUUID reads an optional id filter. Malformed values are a 400.
func queryUUID(c *fiber.Ctx, name string) (string, error) {
	id := c.Query(name)
	if id != "" && !services.IsID(id) {
		return "", fiber.NewError(fiber.StatusBadRequest, "query parameter "+name+" must be a uuid")
	}
	return id, nil
}

func pageRequest(c *fiber.Ctx) (services.PageRequest, error) {
	page, err := queryInt(c, "page", 1)
	if err != nil {
		return services.PageRequest{}, err
	}
	size, err := queryInt(c, "size", 0)
	if err != nil {
		return services.PageRequest{}, err
	}
	return services.PageRequest{Page: page, Size: size}, nil
}

// ErrorHandler renders errors that escape a handler, including fiber's own.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(fiber.Map{"error": fe.Message})
	}
	return respondError(c, err)
}
