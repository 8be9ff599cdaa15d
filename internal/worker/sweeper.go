package worker

import (
	"context"
	"fmt"
	"time"

	"academy-checkout/internal/domain"
	"academy-checkout/internal/service"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

const abandonedReason = "abandoned"

// SweepWorker cancels orders that were started but never reached the
// provider: initiated orders and gateway orders without a preference. Bank
// transfers and orders with a live preference are left alone since a payment
// may still arrive for them.
type SweepWorker struct {
	orders       service.OrderService
	abandonAfter time.Duration
	schedule     string
}

func NewSweepWorker(orders service.OrderService, abandonAfter time.Duration, schedule string) *SweepWorker {
	return &SweepWorker{
		orders:       orders,
		abandonAfter: abandonAfter,
		schedule:     schedule,
	}
}

// Run sweeps on the cron schedule until ctx is done.
func (w *SweepWorker) Run(ctx context.Context) error {
	logger := log.With().Str("component", "sweeper").Logger()
	c := cron.New(cron.WithChain(
		cron.Recover(cron.PrintfLogger(&logger)),
		cron.SkipIfStillRunning(cron.PrintfLogger(&logger)),
	))
	if _, err := c.AddFunc(w.schedule, func() {
		if _, err := w.Sweep(ctx); err != nil {
			logger.Error().Err(err).Msg("sweep failed")
		}
	}); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", w.schedule, err)
	}

	c.Start()
	logger.Info().
		Str("schedule", w.schedule).
		Dur("abandon_after", w.abandonAfter).
		Msg("order sweeper started")

	<-ctx.Done()
	<-c.Stop().Done()
	logger.Info().Msg("order sweeper stopped")
	return nil
}

// Sweep runs one pass and reports how many orders it cancelled.
func (w *SweepWorker) Sweep(ctx context.Context) (int, error) {
	stuck, err := w.orders.FindStuckOrders(ctx, w.abandonAfter)
	if err != nil {
		return 0, err
	}
	if len(stuck) == 0 {
		return 0, nil
	}

	cancelled := 0
	for i := range stuck {
		order := &stuck[i]
		reason := abandonedReason
		applied, err := w.orders.UpdateOrderStatus(ctx, order, domain.OrderCancelled, domain.StatusPatch{Reason: &reason})
		if err != nil {
			log.Warn().Err(err).Str("order_id", order.ID.String()).Msg("failed to cancel abandoned order")
			continue
		}
		if applied {
			cancelled++
		}
	}

	log.Info().
		Int("found", len(stuck)).
		Int("cancelled", cancelled).
		Msg("abandoned orders swept")
	return cancelled, nil
}
