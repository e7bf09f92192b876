package workers

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"mahjong-league/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type blockingRecomputer struct {
	started chan string
	release chan struct{}
	calls   atomic.Int32
}

func newBlockingRecomputer() *blockingRecomputer {
	return &blockingRecomputer{started: make(chan string), release: make(chan struct{})}
}

func (b *blockingRecomputer) Recompute(ctx context.Context, reason string) (*services.RecomputeResult, error) {
	b.calls.Add(1)
	b.started <- reason
	<-b.release
	return &services.RecomputeResult{Generation: int64(b.calls.Load())}, nil
}

func waitStarted(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("recompute did not start")
		return ""
	}
}

func TestRecomputeWorker_CoalescesTriggers(t *testing.T) {
	rec := newBlockingRecomputer()
	w := NewRecomputeWorker(rec, 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	w.Trigger("game added g1")
	assert.Equal(t, "game added g1", waitStarted(t, rec.started))

	// These arrive while the first rebuild runs and fold into one follow-up.
	w.Trigger("game added g2")
	w.Trigger("config: dan table replaced")
	w.Trigger("game deleted g3")
	rec.release <- struct{}{}

	assert.Equal(t, "game added g2; config: dan table replaced; game deleted g3", waitStarted(t, rec.started))
	rec.release <- struct{}{}

	select {
	case r := <-rec.started:
		t.Fatalf("unexpected third run: %q", r)
	case <-time.After(100 * time.Millisecond):
	}
	assert.Equal(t, int32(2), rec.calls.Load())
	assert.Equal(t, 2, w.Runs())
}

type countingRecomputer struct {
	at chan time.Time
}

func (c *countingRecomputer) Recompute(ctx context.Context, reason string) (*services.RecomputeResult, error) {
	c.at <- time.Now()
	return &services.RecomputeResult{}, nil
}

func TestRecomputeWorker_SpacesRuns(t *testing.T) {
	rec := &countingRecomputer{at: make(chan time.Time, 4)}
	w := NewRecomputeWorker(rec, 200*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	w.Trigger("one")
	first := <-rec.at
	w.Trigger("two")

	select {
	case second := <-rec.at:
		assert.GreaterOrEqual(t, second.Sub(first), 150*time.Millisecond)
	case <-time.After(2 * time.Second):
		t.Fatal("second run never happened")
	}
}

func TestRecomputeWorker_TriggerNeverBlocks(t *testing.T) {
	w := NewRecomputeWorker(newBlockingRecomputer(), 0)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			w.Trigger("burst")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Trigger blocked without a running worker")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	require.Len(t, w.reasons, maxReasons)
}
