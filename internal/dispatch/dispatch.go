// Package dispatch runs extractions over a candidate set with a fixed number
// of workers, retrying transient failures with exponential backoff.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jun/invoicescout/internal/extract"
	"github.com/jun/invoicescout/internal/logging"
	"github.com/jun/invoicescout/internal/model"
	"github.com/jun/invoicescout/internal/retry"
)

const (
	DefaultConcurrency = 5
	DefaultMaxAttempts = 3
)

// Extractor performs a single extraction attempt.
type Extractor interface {
	Extract(ctx context.Context, doc model.DocumentRef) extract.Result
}

// Outcome is the final result for one document. Result is never retryable.
type Outcome struct {
	Doc      model.DocumentRef
	Result   extract.Result
	Attempts int
	Elapsed  time.Duration
}

// Options configures a Dispatcher.
type Options struct {
	Concurrency int
	MaxAttempts int
	Backoff     retry.Backoff
	Sleep       retry.Sleeper
	Logger      *slog.Logger
}

// Dispatcher fans documents out to a bounded worker pool.
type Dispatcher struct {
	extractor   Extractor
	concurrency int
	maxAttempts int
	backoff     retry.Backoff
	sleep       retry.Sleeper
	logger      *slog.Logger
}

// New creates a Dispatcher. Zero options fall back to 5 workers, 3 attempts
// and a 1s..30s backoff.
func New(extractor Extractor, opts Options) *Dispatcher {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Backoff.Base == 0 && opts.Backoff.Max == 0 {
		opts.Backoff = retry.Backoff{Base: retry.DefaultBaseDelay, Max: retry.DefaultMaxDelay}
	}
	if opts.Sleep == nil {
		opts.Sleep = retry.Sleep
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	return &Dispatcher{
		extractor:   extractor,
		concurrency: opts.Concurrency,
		maxAttempts: opts.MaxAttempts,
		backoff:     opts.Backoff,
		sleep:       opts.Sleep,
		logger:      opts.Logger.With("component", "dispatch"),
	}
}

// Run extracts every document and streams outcomes in completion order. The
// channel is closed once every dispatched document has an outcome. One
// document's failure never stops the others; a fatal outcome, or ctx being
// done, stops feeding new documents and cancels the calls in flight.
func (d *Dispatcher) Run(ctx context.Context, docs []model.DocumentRef) <-chan Outcome {
	out := make(chan Outcome, d.concurrency)
	jobs := make(chan model.DocumentRef)
	workers := min(d.concurrency, len(docs))
	ctx, cancel := context.WithCancel(ctx)

	var wg sync.WaitGroup
	wg.Add(workers)
	for range workers {
		go func() {
			defer wg.Done()
			for doc := range jobs {
				if ctx.Err() != nil {
					continue
				}
				outcome := d.process(ctx, doc)
				if outcome.Result.IsFatal() {
					cancel()
				}
				out <- outcome
			}
		}()
	}
	go func() {
		defer cancel()
	feed:
		for _, doc := range docs {
			select {
			case jobs <- doc:
			case <-ctx.Done():
				break feed
			}
		}
		close(jobs)
		wg.Wait()
		close(out)
	}()
	return out
}

// Collect drains Run into a slice.
func (d *Dispatcher) Collect(ctx context.Context, docs []model.DocumentRef) []Outcome {
	outcomes := make([]Outcome, 0, len(docs))
	for o := range d.Run(ctx, docs) {
		outcomes = append(outcomes, o)
	}
	return outcomes
}

func (d *Dispatcher) process(ctx context.Context, doc model.DocumentRef) Outcome {
	start := time.Now()
	logger := d.logger.With("document_id", doc.ID, "document", doc.Name)
	for attempt := 1; ; attempt++ {
		res := d.extractor.Extract(ctx, doc)
		decision := Decide(res, attempt, d.maxAttempts, d.backoff)
		if !decision.Retry {
			if !decision.Final.OK() {
				logger.Info("extraction failed",
					"attempts", attempt, "reason", string(decision.Final.Failure.Reason), "error", decision.Final.Failure.Message)
			}
			return Outcome{Doc: doc, Result: decision.Final, Attempts: attempt, Elapsed: time.Since(start)}
		}
		logger.Debug("retrying extraction",
			"attempt", attempt, "reason", string(res.Failure.Reason), "delay", decision.Delay)
		if err := d.sleep(ctx, decision.Delay); err != nil {
			final := extract.Permanent(extract.ReasonServiceError, fmt.Sprintf("interrupted before attempt %d: %v", attempt+1, err))
			return Outcome{Doc: doc, Result: final, Attempts: attempt, Elapsed: time.Since(start)}
		}
	}
}
