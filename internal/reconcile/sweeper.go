package reconcile

import (
	"context"
	"time"

	"github.com/ariefcatur/storefront-checkout/internal/logging"
	"github.com/ariefcatur/storefront-checkout/internal/orders"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const ReasonExpired = "expired"

// Sweeper fails card orders whose payment never settled, so their stock
// returns to the ledger even when the gateway sends nothing.
type Sweeper struct {
	Engine      *Engine
	TTL         time.Duration
	Interval    time.Duration
	Batch       int
	Concurrency int
	Now         func() time.Time
}

// Run sweeps every Interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	log := logging.FromContext(ctx)
	t := time.NewTicker(s.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := s.SweepOnce(ctx)
			if err != nil {
				log.Error("sweep_failed", zap.Error(err))
				continue
			}
			if n > 0 {
				log.Info("sweep_expired_orders", zap.Int("count", n))
			}
		}
	}
}

// SweepOnce expires one batch and returns how many orders changed.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	batch := s.Batch
	if batch <= 0 {
		batch = 100
	}
	stale, err := s.Engine.Orders.ListStalePending(ctx, orders.MethodCard, s.now().Add(-s.TTL), batch)
	if err != nil {
		return 0, err
	}

	results := make([]bool, len(stale))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(s.Concurrency, 1))
	for i, o := range stale {
		g.Go(func() error {
			changed, err := s.Engine.Fail(gctx, o.ID, ReasonExpired)
			results[i] = changed
			return err
		})
	}
	err = g.Wait()

	n := 0
	for _, changed := range results {
		if changed {
			n++
		}
	}
	return n, err
}

func (s *Sweeper) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
