package handlers

import (
	"bufio"
	"context"
	"fmt"
	"time"

	"mahjong-league/logging"
	"mahjong-league/middleware"
	"mahjong-league/services"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const streamKeepAlive = 30 * time.Second

// GenerationSource reports the current ranking generation.
type GenerationSource interface {
	Generation(ctx context.Context) (int64, error)
}

func SetupRankingRoutes(public, admin fiber.Router, rankings *services.RankingService, streamInterval time.Duration) {
	public.Get("/rankings", func(c *fiber.Ctx) error {
		q := services.RankingQuery{Kind: c.Query("kind")}
		var err error
		if q.SeasonID, err = queryUUID(c, "season"); err != nil {
			return err
		}
		if q.MinGames, err = queryInt(c, "min_games", 0); err != nil {
			return err
		}
		if q.Offset, err = queryInt(c, "offset", 0); err != nil {
			return err
		}
		if q.Limit, err = queryInt(c, "limit", 0); err != nil {
			return err
		}
		page, err := rankings.Rankings(c.UserContext(), q)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(page)
	})

	public.Get("/rankings/stream", StreamRankings(rankings, streamInterval))

	admin.Post("/rankings/recompute", func(c *fiber.Ctx) error {
		res, err := rankings.Recompute(c.UserContext(), "admin:"+middleware.UserID(c))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(res)
	})

	admin.Get("/rankings/state", func(c *fiber.Ctx) error {
		state, err := rankings.State(c.UserContext())
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(state)
	})

	admin.Post("/rankings/snapshot", func(c *fiber.Ctx) error {
		n, err := rankings.TakeSnapshot(c.UserContext())
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"players": n})
	})
}

// StreamRankings sends "event: rankings" whenever the ranking generation moves.
func StreamRankings(src GenerationSource, interval time.Duration) fiber.Handler {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return func(c *fiber.Ctx) error {
		c.Set("Content-Type", "text/event-stream")
		c.Set("Cache-Control", "no-cache")
		c.Set("Connection", "keep-alive")
		c.Set("X-Accel-Buffering", "no")

		done := c.Context().Done()
		c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
			writeGenerations(w, src, interval, done)
		})
		return nil
	}
}

func writeGenerations(w *bufio.Writer, src GenerationSource, interval time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := int64(-1)
	lastWrite := time.Now()

	poll := func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		gen, err := src.Generation(ctx)
		cancel()
		if err != nil {
			logging.L().Warn("⚠️ [SSE] generation lookup failed", zap.Error(err))
			return true
		}
		if gen == last {
			if time.Since(lastWrite) < streamKeepAlive {
				return true
			}
			_, _ = w.WriteString(":\n\n")
		} else {
			last = gen
			fmt.Fprintf(w, "event: rankings\ndata: {\"generation\":%d}\n\n", gen)
		}
		lastWrite = time.Now()
		// A failed flush means the client went away.
		return w.Flush() == nil
	}

	// Initial keepalive so proxies open the stream.
	_, _ = w.WriteString(":\n\n")
	if w.Flush() != nil {
		return
	}
	if !poll() {
		return
	}

	for {
		select {
		case <-ticker.C:
			if !poll() {
				return
			}
		case <-done:
			return
		}
	}
}
