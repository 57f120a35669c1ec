package main

import (
	"context"
	"time"

	"go.uber.org/zap"

	"tgfilestream/internal/transfer"
)

// runMetrics logs transfer stats every interval until ctx is canceled.
// Intervals with no active streams and no pooled connections are not
// logged.
func runMetrics(ctx context.Context, tr *transfer.Transferrer, log *zap.Logger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			streams := tr.ActiveStreams()
			pools := tr.PoolSizes()
			if streams > 0 || len(pools) > 0 {
				log.Info("transfer stats",
					zap.Int("active_streams", streams),
					zap.Any("connections", pools))
			}
		}
	}
}
