package daemon

import (
	"context"
	"log/slog"
	"time"

	"github.com/petscheit/bankai-sub001/internal/clients/beacon"
	"github.com/petscheit/bankai-sub001/internal/core/domain"
	"github.com/petscheit/bankai-sub001/internal/metrics"
)

// HeadListener polls the beacon node and emits each new head slot
// exactly once. Poll failures are logged and skipped; the chain
// produces a new head every 12 seconds regardless.
type HeadListener struct {
	client   beacon.Client
	interval time.Duration
	log      *slog.Logger
}

// NewHeadListener creates a head poller.
func NewHeadListener(client beacon.Client, interval time.Duration) *HeadListener {
	if interval <= 0 {
		interval = 12 * time.Second
	}
	return &HeadListener{client: client, interval: interval, log: slog.Default()}
}

// Run polls until ctx is cancelled, sending deduplicated head events to
// out. Closes out on return.
func (l *HeadListener) Run(ctx context.Context, out chan<- domain.HeadEvent) {
	defer close(out)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	var lastSlot uint64
	for {
		head, err := l.client.Head(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			l.log.Warn("Head poll failed", "error", err)
		} else if head.Slot > lastSlot {
			lastSlot = head.Slot
			metrics.HeadSlot.Set(float64(head.Slot))
			select {
			case out <- head:
			case <-ctx.Done():
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
