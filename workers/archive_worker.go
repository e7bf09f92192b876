// workers/archive_worker.go
package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"mahjong-league/logging"
	"mahjong-league/models"
	"mahjong-league/services"
	"mahjong-league/utils"

	"github.com/gosimple/slug"
	"go.uber.org/zap"
)

type SeasonArchiver interface {
	PendingArchives(ctx context.Context) ([]models.Season, error)
	Export(ctx context.Context, id string, rule services.SeasonRuleView) (*services.SeasonArchive, error)
	MarkArchived(ctx context.Context, id, url string) error
}

type SeasonRules interface {
	SeasonRule(ctx context.Context, seasonID string) (*services.SeasonRuleView, error)
}

// ArchiveWorker exports closed seasons to the object store once.
type ArchiveWorker struct {
	Seasons SeasonArchiver
	Rules   SeasonRules
	Store   utils.ObjectStore
}

func NewArchiveWorker(seasons SeasonArchiver, rules SeasonRules, store utils.ObjectStore) *ArchiveWorker {
	return &ArchiveWorker{Seasons: seasons, Rules: rules, Store: store}
}

func archiveKey(s models.Season) string {
	name := slug.Make(s.Name)
	if name == "" {
		name = "season"
	}
	return fmt.Sprintf("archives/seasons/%s-%s.json", name, s.ID)
}

// RunOnce archives every pending season and returns how many were stored.
// A failing season does not stop the others; it is retried next round.
func (w *ArchiveWorker) RunOnce(ctx context.Context) (int, error) {
	pending, err := w.Seasons.PendingArchives(ctx)
	if err != nil {
		return 0, fmt.Errorf("list pending archives: %w", err)
	}
	stored := 0
	for _, season := range pending {
		if err := w.archive(ctx, season); err != nil {
			logging.L().Error("❌ [ARCHIVE] season export failed", zap.String("season_id", season.ID), zap.Error(err))
			continue
		}
		stored++
	}
	return stored, nil
}

func (w *ArchiveWorker) archive(ctx context.Context, season models.Season) error {
	rule, err := w.Rules.SeasonRule(ctx, season.ID)
	if err != nil {
		return err
	}
	doc, err := w.Seasons.Export(ctx, season.ID, *rule)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	url, err := w.Store.Put(ctx, archiveKey(season), data, "application/json")
	if err != nil {
		return err
	}
	if err := w.Seasons.MarkArchived(ctx, season.ID, url); err != nil {
		return err
	}
	logging.L().Info("📦 [ARCHIVE] season archived", zap.String("season_id", season.ID), zap.String("url", url))
	return nil
}

// PollArchives runs the worker every interval until ctx is done.
func PollArchives(ctx context.Context, w *ArchiveWorker, interval time.Duration) {
	logging.L().Info("Starting season archive polling", zap.Duration("interval", interval))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.L().Info("Season archive polling stopped.")
			return
		case <-ticker.C:
			if n, err := w.RunOnce(ctx); err != nil {
				logging.L().Error("❌ [ARCHIVE] poll failed", zap.Error(err))
			} else if n > 0 {
				logging.L().Info("✅ [ARCHIVE] seasons archived", zap.Int("count", n))
			}
		}
	}
}
