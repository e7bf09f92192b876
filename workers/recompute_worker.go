// workers/recompute_worker.go
package workers

import (
	"context"
	"strings"
	"sync"
	"time"

	"mahjong-league/logging"
	"mahjong-league/services"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const maxReasons = 20

type Recomputer interface {
	Recompute(ctx context.Context, reason string) (*services.RecomputeResult, error)
}

// RecomputeWorker runs full ranking rebuilds in the background. Triggers that
// arrive while a rebuild is queued or running fold into one follow-up run,
// and runs are spaced by a rate limiter.
type RecomputeWorker struct {
	recomputer Recomputer
	limiter    *rate.Limiter
	pending    chan struct{}

	mu      sync.Mutex
	reasons []string
	runs    int
}

func NewRecomputeWorker(r Recomputer, minInterval time.Duration) *RecomputeWorker {
	limit := rate.Inf
	if minInterval > 0 {
		limit = rate.Every(minInterval)
	}
	return &RecomputeWorker{
		recomputer: r,
		limiter:    rate.NewLimiter(limit, 1),
		pending:    make(chan struct{}, 1),
	}
}

// Trigger queues a rebuild. It never blocks.
func (w *RecomputeWorker) Trigger(reason string) {
	w.mu.Lock()
	if len(w.reasons) < maxReasons {
		w.reasons = append(w.reasons, reason)
	}
	w.mu.Unlock()

	select {
	case w.pending <- struct{}{}:
	default:
	}
}

func (w *RecomputeWorker) Start(ctx context.Context) {
	logging.L().Info("🔁 [RECOMPUTE] worker started")
	go w.run(ctx)
}

func (w *RecomputeWorker) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			logging.L().Info("⏹️ [RECOMPUTE] worker stopped")
			return
		case <-w.pending:
			if err := w.limiter.Wait(ctx); err != nil {
				return
			}
			w.runOnce(ctx)
		}
	}
}

func (w *RecomputeWorker) runOnce(ctx context.Context) {
	w.mu.Lock()
	reasons := w.reasons
	w.reasons = nil
	w.runs++
	w.mu.Unlock()

	reason := strings.Join(reasons, "; ")
	res, err := w.recomputer.Recompute(ctx, reason)
	if err != nil {
		logging.L().Error("❌ [RECOMPUTE] rebuild failed", zap.String("reason", reason), zap.Error(err))
		return
	}
	logging.L().Info("✅ [RECOMPUTE] rankings rebuilt",
		zap.Int64("generation", res.Generation), zap.Int("games", res.Games), zap.Duration("took", res.Took))
}

// Runs reports how many rebuilds have started.
func (w *RecomputeWorker) Runs() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.runs
}
