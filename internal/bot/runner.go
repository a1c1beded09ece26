package bot

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/sync/errgroup"
)

// Runner fans updates out to the dispatcher, one goroutine per event, with
// at most a fixed number in flight. Submit blocks when the limit is reached,
// which pushes back on the poller or the webhook handler.
type Runner struct {
	base       context.Context
	dispatcher *Dispatcher
	dedup      *Deduper
	events     errgroup.Group
}

// NewRunner returns a runner whose handlers run under ctx stripped of its
// cancellation: shutting down stops intake, and Wait lets in-flight events
// finish within their own store timeouts.
func NewRunner(ctx context.Context, d *Dispatcher, dedup *Deduper, maxConcurrent int) *Runner {
	r := &Runner{base: context.WithoutCancel(ctx), dispatcher: d, dedup: dedup}
	if maxConcurrent > 0 {
		r.events.SetLimit(maxConcurrent)
	}
	return r
}

// Submit schedules up. It reports false when the update was a duplicate or
// carries nothing the bot handles.
func (r *Runner) Submit(up tgbotapi.Update) bool {
	seen := r.dedup.Seen(up.UpdateID)
	tracked.WithLabelValues("update_ids").Set(float64(r.dedup.Len()))
	if seen {
		updatesSkipped.WithLabelValues("duplicate").Inc()
		return false
	}
	ev, ok := ToEvent(up)
	if !ok {
		updatesSkipped.WithLabelValues("unsupported").Inc()
		return false
	}
	r.events.Go(func() error {
		r.dispatcher.Handle(r.base, ev)
		return nil
	})
	return true
}

// Wait blocks until every submitted event has been handled.
func (r *Runner) Wait() {
	_ = r.events.Wait()
}
