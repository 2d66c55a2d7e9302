package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jun/invoicescout/internal/adapter"
	"github.com/jun/invoicescout/internal/auth"
	"github.com/jun/invoicescout/internal/dispatch"
	"github.com/jun/invoicescout/internal/extract"
	"github.com/jun/invoicescout/internal/index"
	"github.com/jun/invoicescout/internal/logging"
	"github.com/jun/invoicescout/internal/model"
	"github.com/jun/invoicescout/internal/results"
	"github.com/jun/invoicescout/internal/retry"
	"github.com/jun/invoicescout/internal/runlock"
	"github.com/jun/invoicescout/internal/scan"
	"github.com/jun/invoicescout/internal/state"
)

const leaseReleaseTimeout = 10 * time.Second

// ReasonWriteError marks a record that was extracted but could not be appended.
const ReasonWriteError extract.Reason = "WRITE_ERROR"

// TokenChecker yields a usable access token or a fatal error.
type TokenChecker interface {
	GetValidToken(ctx context.Context) (model.TokenSet, error)
}

// OrchestratorOptions configures a sync run.
type OrchestratorOptions struct {
	RootFolderID string
	SheetPrefix  string
	MIMETypes    []string
	PageSize     int
	Concurrency  int
	MaxAttempts  int
	Backoff      retry.Backoff
	Sleep        retry.Sleeper
	// Tokens, when set, is checked before any store is touched.
	Tokens TokenChecker
	// Lock, when set, holds a lease on the root folder for the whole run.
	Lock   runlock.Locker
	Logger *slog.Logger
	Now    func() time.Time
}

// Orchestrator runs one scan: discover, filter, extract, append.
type Orchestrator struct {
	docs      adapter.DocumentStore
	results   adapter.ResultStore
	extractor dispatch.Extractor
	state     *state.Store
	opts      OrchestratorOptions
}

// NewOrchestrator wires a run over the given stores.
func NewOrchestrator(docs adapter.DocumentStore, resultStore adapter.ResultStore, extractor dispatch.Extractor, st *state.Store, opts OrchestratorOptions) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Orchestrator{docs: docs, results: resultStore, extractor: extractor, state: st, opts: opts}
}

// Failure is one document that produced no row.
type Failure struct {
	Document model.DocumentRef
	Reason   extract.Reason
	Message  string
	Attempts int
}

// Summary reports a finished run.
type Summary struct {
	RunID          string
	StartedAt      time.Time
	Duration       time.Duration
	Candidates     int
	Processed      int
	Skipped        int
	SkippedFolders int
	Failures       []Failure
	Records        []model.ExtractedRecord
	TotalValue     float64
	TotalCount     int
}

// Run performs one sync. Per-document failures are reported in the summary;
// an error means the run itself could not proceed.
func (o *Orchestrator) Run(ctx context.Context) (Summary, error) {
	sum := Summary{RunID: uuid.NewString(), StartedAt: o.opts.Now()}
	logger := o.opts.Logger.With("component", "sync", "run_id", sum.RunID)

	if o.opts.Tokens != nil {
		if _, err := o.opts.Tokens.GetValidToken(ctx); err != nil {
			return sum, err
		}
	}

	if o.opts.Lock != nil {
		hold, err := runlock.Acquire(ctx, o.opts.Lock, runlock.ScanKey(o.opts.RootFolderID), sum.RunID, 0, logger)
		if err != nil {
			return sum, fmt.Errorf("acquire run lease: %w", err)
		}
		defer func() {
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), leaseReleaseTimeout)
			defer cancel()
			if err := hold.Release(releaseCtx); err != nil {
				logger.Warn("release run lease", "error", err)
			}
		}()
	}

	idx, err := index.Load(ctx, o.results, index.Options{
		SheetPrefix: o.opts.SheetPrefix,
		PageSize:    o.opts.PageSize,
		Logger:      logger,
	})
	if err != nil {
		return sum, fmt.Errorf("load result index: %w", err)
	}

	scanner := scan.New(o.docs, scan.Options{
		MIMETypes: o.opts.MIMETypes,
		Logger:    logger,
		OnSkip:    func(string, error) { sum.SkippedFolders++ },
	})
	candidates, err := scan.Collect(scanner.Scan(ctx, o.opts.RootFolderID))
	if err != nil {
		return sum, fmt.Errorf("scan documents: %w", err)
	}
	sum.Candidates = len(candidates)

	pending := idx.Filter(candidates)
	sum.Skipped = len(candidates) - len(pending)
	logger.Info("documents discovered", "candidates", len(candidates), "new", len(pending), "already_recorded", sum.Skipped)

	writer := results.NewWriter(o.results, idx, results.Options{SheetPrefix: o.opts.SheetPrefix, Logger: logger})
	dispatcher := dispatch.New(o.extractor, dispatch.Options{
		Concurrency: o.opts.Concurrency,
		MaxAttempts: o.opts.MaxAttempts,
		Backoff:     o.opts.Backoff,
		Sleep:       o.opts.Sleep,
		Logger:      logger,
	})
	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	var fatal error
	for outcome := range dispatcher.Run(runCtx, pending) {
		if fatal != nil {
			continue
		}
		if fatal = o.record(runCtx, &sum, writer, outcome, logger); fatal != nil {
			stop()
		}
	}
	if fatal != nil {
		logger.Error("sync aborted", "processed", sum.Processed, "error", fatal)
		return sum, fatal
	}

	sum.Duration = o.opts.Now().Sub(sum.StartedAt)
	if err := o.saveRunState(sum); err != nil {
		return sum, err
	}
	logger.Info("sync finished",
		"processed", sum.Processed, "skipped", sum.Skipped, "failed", len(sum.Failures), "duration", sum.Duration)
	return sum, nil
}

// record folds one outcome into sum. A non-nil return is fatal to the run.
func (o *Orchestrator) record(ctx context.Context, sum *Summary, writer *results.Writer, outcome dispatch.Outcome, logger *slog.Logger) error {
	if outcome.Result.IsFatal() {
		return outcome.Result.Failure
	}
	if !outcome.Result.OK() {
		sum.Failures = append(sum.Failures, Failure{
			Document: outcome.Doc,
			Reason:   outcome.Result.Failure.Reason,
			Message:  outcome.Result.Failure.Message,
			Attempts: outcome.Attempts,
		})
		return nil
	}
	rec := outcome.Result.Record
	wo, err := writer.Append(ctx, rec)
	if err != nil {
		if errors.Is(err, auth.ErrReauthorizationRequired) {
			return fmt.Errorf("append %s: %w", rec.DocumentID, err)
		}
		logger.Warn("append failed", "document_id", rec.DocumentID, "error", err)
		sum.Failures = append(sum.Failures, Failure{Document: outcome.Doc, Reason: ReasonWriteError, Message: err.Error(), Attempts: outcome.Attempts})
		return nil
	}
	if wo.Status == results.Skipped {
		sum.Skipped++
		return nil
	}
	sum.Processed++
	sum.Records = append(sum.Records, rec)
	if v, ok := ParseAmount(rec.TotalValue); ok {
		sum.TotalValue += v
		sum.TotalCount++
	}
	return nil
}

func (o *Orchestrator) saveRunState(sum Summary) error {
	if o.state == nil {
		return nil
	}
	finished := sum.StartedAt.Add(sum.Duration).UTC()
	_, err := o.state.Update(func(f *state.File) error {
		f.ProcessedCount += sum.Processed
		f.LastRun = &finished
		return nil
	})
	if err != nil {
		return fmt.Errorf("save run state: %w", err)
	}
	return nil
}

// ParseAmount reads a total such as "1250.50", "1250,50" or "1.250,50".
func ParseAmount(value string) (float64, bool) {
	v := strings.TrimSpace(value)
	if v == "" || strings.EqualFold(v, extract.NotAvailable) {
		return 0, false
	}
	v = strings.ReplaceAll(v, " ", "")
	comma, dot := strings.LastIndex(v, ","), strings.LastIndex(v, ".")
	switch {
	case comma >= 0 && dot >= 0 && comma > dot:
		v = strings.ReplaceAll(v, ".", "")
		v = strings.Replace(v, ",", ".", 1)
	case comma >= 0 && dot >= 0:
		v = strings.ReplaceAll(v, ",", "")
	case comma >= 0:
		v = strings.ReplaceAll(v, ",", ".")
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
