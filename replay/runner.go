package replay

import (
	"context"
	"log/slog"

	"golang.org/x/time/rate"

	"github.com/Jakers471/risk-manager/domain"
)

// Sink consumes replayed events; the engine satisfies this.
type Sink interface {
	OnEvent(ctx context.Context, ev domain.Event)
}

// Runner pushes a feed through a sink. Quote updates are throttled so a
// dense tick log replays at a bounded rate instead of hammering the
// rule set; all other events pass through unthrottled, preserving their
// relative order.
type Runner struct {
	feed    *Feed
	sink    Sink
	limiter *rate.Limiter
	log     *slog.Logger

	// Processed counts events delivered to the sink.
	Processed int
}

// NewRunner builds a runner. quotesPerSec <= 0 disables throttling.
func NewRunner(feed *Feed, sink Sink, quotesPerSec float64, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	var limiter *rate.Limiter
	if quotesPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(quotesPerSec), 1)
	}
	return &Runner{
		feed:    feed,
		sink:    sink,
		limiter: limiter,
		log:     log.With("component", "replay"),
	}
}

// Run drains the feed. Stops early when the context ends.
func (r *Runner) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ev, ok, err := r.feed.Next()
		if err != nil {
			return err
		}
		if !ok {
			r.log.Info("replay complete", "events", r.Processed)
			return nil
		}

		if ev.Kind == domain.QuoteUpdate && r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		r.sink.OnEvent(ctx, ev)
		r.Processed++
	}
}
