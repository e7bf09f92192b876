package services

import (
	"context"
	"time"

	"mahjong-league/logging"
	"mahjong-league/metrics"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

type SchedulerConfig struct {
	SnapshotHour    int           // UTC hour of the daily ranking snapshot
	CacheRefreshTTL time.Duration // how often point tables are reloaded; 0 disables
}

// StartScheduler runs the periodic jobs until ctx is done. The caller shuts
// the returned scheduler down.
func StartScheduler(ctx context.Context, cfg SchedulerConfig, seasons *SeasonService, rankings *RankingService, config *ConfigService, m *metrics.Metrics) (gocron.Scheduler, error) {
	sched, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, err
	}

	// Every minute: move seasons through upcoming -> active -> closed
	_, err = sched.NewJob(
		gocron.DurationJob(1*time.Minute),
		gocron.NewTask(func() {
			n, err := seasons.AdvanceLifecycle(ctx)
			m.RecordJob("season_lifecycle", err)
			if err != nil {
				logging.L().Error("[SCHEDULER] season lifecycle failed", zap.Error(err))
				return
			}
			if n > 0 {
				logging.L().Info("[SCHEDULER] season statuses updated", zap.Int("changed", n))
			}
		}),
		gocron.WithName("season_lifecycle"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return nil, err
	}

	// Daily: store rate table positions for progression charts
	_, err = sched.NewJob(
		gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(uint(cfg.SnapshotHour), 0, 0))),
		gocron.NewTask(func() {
			n, err := rankings.TakeSnapshot(ctx)
			m.RecordJob("ranking_snapshot", err)
			if err != nil {
				logging.L().Error("[SCHEDULER] ranking snapshot failed", zap.Error(err))
				return
			}
			logging.L().Info("[SCHEDULER] ranking snapshot taken", zap.Int("players", n))
		}),
		gocron.WithName("ranking_snapshot"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return nil, err
	}

	if cfg.CacheRefreshTTL > 0 {
		_, err = sched.NewJob(
			gocron.DurationJob(cfg.CacheRefreshTTL),
			gocron.NewTask(func() {
				err := config.RefreshCache(ctx)
				m.RecordJob("config_refresh", err)
				if err != nil {
					logging.L().Warn("[SCHEDULER] point table refresh failed", zap.Error(err))
				}
			}),
			gocron.WithName("config_refresh"),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return nil, err
		}
	}

	sched.Start()
	logging.L().Info("[SCHEDULER] started",
		zap.Int("snapshot_hour", cfg.SnapshotHour), zap.Duration("config_refresh", cfg.CacheRefreshTTL))
	return sched, nil
}
