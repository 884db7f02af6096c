// Package snapshot runs the periodic depth/best-bid-ask publication spec.md
// §4.6 describes, adapted from the teacher's tomb.v2-supervised Server.Run
// lifecycle: a single tomb governs the periodic ticker and a bounded worker
// pool fans each tick out across symbols without blocking on a slow one.
package snapshot

import (
	"context"
	"time"

	"matchcore/internal/concurrency"
	"matchcore/internal/engine"
	"matchcore/internal/money"

	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"
)

const defaultWorkers = 4

// Snapshot is one symbol's published market state at a point in time.
type Snapshot struct {
	Symbol    string
	Bid       money.Price
	HasBid    bool
	Ask       money.Price
	HasAsk    bool
	Bids      []engine.LevelAgg
	Asks      []engine.LevelAgg
	CapturedAt time.Time
}

// Sink receives each symbol's snapshot. Implementations must not block for
// long — the loop calls it inline from a pool worker.
type Sink func(Snapshot)

// Source is the subset of *engine.MatchingEngine the loop depends on.
type Source interface {
	Symbols() []string
	BestPrices(symbol string) (bid money.Price, bidOK bool, ask money.Price, askOK bool)
	Depth(symbol string, n int) (bids, asks []engine.LevelAgg)
}

// Loop periodically captures a depth snapshot of every known symbol and
// hands each to a Sink. A zero Interval disables the loop entirely, per
// spec.md §4.6's "configurable, can be disabled" requirement.
type Loop struct {
	Source   Source
	Sink     Sink
	Interval time.Duration
	Depth    int
	Workers  int

	t *tomb.Tomb
}

// Start launches the loop under a new tomb bound to ctx. Returns
// immediately; call Stop to shut down and wait for exit.
func (l *Loop) Start(ctx context.Context) {
	if l.Interval <= 0 {
		log.Info().Msg("snapshot loop disabled (interval <= 0)")
		return
	}
	if l.Workers <= 0 {
		l.Workers = defaultWorkers
	}
	if l.Depth <= 0 {
		l.Depth = 10
	}

	var t *tomb.Tomb
	t, ctx = tomb.WithContext(ctx)
	l.t = t

	pool := concurrency.NewWorkerPool(l.Workers)
	pool.Start(t, func(_ *tomb.Tomb, task any) error {
		symbol := task.(string)
		l.captureOne(symbol)
		return nil
	})

	t.Go(func() error {
		return l.tick(ctx, pool)
	})

	log.Info().Dur("interval", l.Interval).Int("workers", l.Workers).Msg("snapshot loop started")
}

func (l *Loop) tick(ctx context.Context, pool *concurrency.WorkerPool) error {
	ticker := time.NewTicker(l.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for _, symbol := range l.Source.Symbols() {
				pool.Submit(symbol)
			}
		}
	}
}

func (l *Loop) captureOne(symbol string) {
	bid, bidOK, ask, askOK := l.Source.BestPrices(symbol)
	bids, asks := l.Source.Depth(symbol, l.Depth)
	l.Sink(Snapshot{
		Symbol:     symbol,
		Bid:        bid,
		HasBid:     bidOK,
		Ask:        ask,
		HasAsk:     askOK,
		Bids:       bids,
		Asks:       asks,
		CapturedAt: time.Now(),
	})
}

// Stop signals the loop to exit and waits for it to finish. Safe to call on
// a loop that was never started (interval <= 0).
func (l *Loop) Stop() error {
	if l.t == nil {
		return nil
	}
	l.t.Kill(nil)
	return l.t.Wait()
}

// LogSink is the default Sink, logging at debug level in the teacher's
// zerolog style.
func LogSink(s Snapshot) {
	ev := log.Debug().Str("symbol", s.Symbol)
	if s.HasBid {
		ev = ev.Str("bid", s.Bid.String())
	}
	if s.HasAsk {
		ev = ev.Str("ask", s.Ask.String())
	}
	ev.Int("bid_levels", len(s.Bids)).Int("ask_levels", len(s.Asks)).Msg("market snapshot")
}
