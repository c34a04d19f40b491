package notifications

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// Delivery records the outcome for one recipient of a fan-out.
type Delivery struct {
	RecipientID string
	Outcome     Outcome
	AttemptedAt time.Time
}

// FanOut delivers ev to every recipient with at most workers concurrent
// deliveries. Results keep the order of recipients. One recipient's
// failure never stops the others.
func FanOut(ctx context.Context, d Dispatcher, recipients []string, ev Event, workers int) []Delivery {
	if workers < 1 {
		workers = DefaultFanOutWorkers
	}
	out := make([]Delivery, len(recipients))

	var g errgroup.Group
	g.SetLimit(workers)
	for i, id := range recipients {
		g.Go(func() error {
			out[i] = Delivery{
				RecipientID: id,
				Outcome:     d.Deliver(ctx, id, ev),
				AttemptedAt: time.Now().UTC(),
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// Summarize counts deliveries by outcome.
func Summarize(ds []Delivery) (ok, noChannel, failed int) {
	for _, d := range ds {
		switch d.Outcome {
		case OutcomeOK:
			ok++
		case OutcomeNoChannel:
			noChannel++
		default:
			failed++
		}
	}
	return ok, noChannel, failed
}

// --------------------------------------------------------------------------
// Composition
// --------------------------------------------------------------------------

type fallback []Dispatcher

// Fallback tries each dispatcher in order and stops at the first OK.
// The result is NoChannel only if every dispatcher had no channel.
func Fallback(ds ...Dispatcher) Dispatcher {
	chain := make(fallback, 0, len(ds))
	for _, d := range ds {
		if d != nil {
			chain = append(chain, d)
		}
	}
	return chain
}

func (f fallback) Deliver(ctx context.Context, recipientID string, ev Event) Outcome {
	result := OutcomeNoChannel
	for _, d := range f {
		switch d.Deliver(ctx, recipientID, ev) {
		case OutcomeOK:
			return OutcomeOK
		case OutcomeFailed:
			result = OutcomeFailed
		}
	}
	return result
}

type timeoutDispatcher struct {
	next    Dispatcher
	timeout time.Duration
}

// WithTimeout bounds every delivery. A delivery still running when the
// timeout fires is reported as failed and left to finish on its own.
func WithTimeout(next Dispatcher, timeout time.Duration) Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &timeoutDispatcher{next: next, timeout: timeout}
}

func (t *timeoutDispatcher) Deliver(ctx context.Context, recipientID string, ev Event) Outcome {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	done := make(chan Outcome, 1)
	go func() { done <- t.next.Deliver(ctx, recipientID, ev) }()

	select {
	case out := <-done:
		return out
	case <-ctx.Done():
		return OutcomeFailed
	}
}

// Counting logs failed deliveries and keeps per-outcome counters.
type Counting struct {
	next      Dispatcher
	logger    *slog.Logger
	ok        atomic.Int64
	noChannel atomic.Int64
	failed    atomic.Int64
}

// NewCounting wraps next with outcome counters.
func NewCounting(next Dispatcher, logger *slog.Logger) *Counting {
	return &Counting{next: next, logger: logger}
}

func (c *Counting) Deliver(ctx context.Context, recipientID string, ev Event) Outcome {
	out := c.next.Deliver(ctx, recipientID, ev)
	switch out {
	case OutcomeOK:
		c.ok.Add(1)
	case OutcomeNoChannel:
		c.noChannel.Add(1)
		c.logger.Debug("no delivery channel", "user_id", recipientID, "kind", ev.Kind)
	default:
		c.failed.Add(1)
		c.logger.Warn("delivery failed", "user_id", recipientID, "kind", ev.Kind)
	}
	return out
}

// Stats returns delivery counters.
func (c *Counting) Stats() map[string]int64 {
	return map[string]int64{
		"ok":         c.ok.Load(),
		"no_channel": c.noChannel.Load(),
		"failed":     c.failed.Load(),
	}
}
