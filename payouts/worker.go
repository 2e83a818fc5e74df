package payouts

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Worker runs the queue draw on a fixed interval until its context ends.
type Worker struct {
	svc      *Service
	interval time.Duration
	logger   *zap.Logger
}

func NewWorker(svc *Service, interval time.Duration, logger *zap.Logger) *Worker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Worker{svc: svc, interval: interval, logger: logger}
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	w.logger.Info("payout worker started", zap.Duration("interval", w.interval))
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("payout worker stopped")
			return
		case <-ticker.C:
			if _, err := w.svc.RunBatch(ctx); err != nil && ctx.Err() == nil {
				w.logger.Error("payout batch failed", zap.Error(err))
			}
		}
	}
}
