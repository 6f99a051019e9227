package gcsvc

import (
	"context"
	"time"

	"github.com/mkrupp/mediavault/internal/domain"
)

// Schedule runs a garbage collection pass for each mode every interval until
// ctx is cancelled. Runs use the configured dry run default. Retention is
// skipped while it is disabled.
func (svc *GCService) Schedule(ctx context.Context, interval time.Duration, modes ...domain.GCMode) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	svc.log.InfoContext(ctx, "gc scheduled", "interval", interval, "modes", modes)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		for _, mode := range modes {
			if mode == domain.GCModeRetention && svc.cfg.RetentionDays == 0 {
				continue
			}

			svc.Run(ctx, RunOptions{Mode: mode})
		}
	}
}
