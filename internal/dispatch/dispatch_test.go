package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jun/invoicescout/internal/extract"
	"github.com/jun/invoicescout/internal/model"
	"github.com/jun/invoicescout/internal/retry"
)

// scriptedExtractor returns queued results per document and records calls.
type scriptedExtractor struct {
	mu       sync.Mutex
	script   map[string][]extract.Result
	calls    map[string]int
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	hold     time.Duration
}

func newScriptedExtractor() *scriptedExtractor {
	return &scriptedExtractor{script: map[string][]extract.Result{}, calls: map[string]int{}}
}

func (s *scriptedExtractor) Extract(_ context.Context, doc model.DocumentRef) extract.Result {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		seen := s.maxSeen.Load()
		if n <= seen || s.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	if s.hold > 0 {
		time.Sleep(s.hold)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[doc.ID]++
	queue := s.script[doc.ID]
	if len(queue) == 0 {
		return extract.Success(model.ExtractedRecord{DocumentID: doc.ID})
	}
	res := queue[0]
	s.script[doc.ID] = queue[1:]
	return res
}

func (s *scriptedExtractor) Calls(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[id]
}

type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordingSleeper) Sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
	return nil
}

func docs(ids ...string) []model.DocumentRef {
	out := make([]model.DocumentRef, len(ids))
	for i, id := range ids {
		out[i] = model.DocumentRef{ID: id, Name: id + ".pdf"}
	}
	return out
}

func byID(outcomes []Outcome) map[string]Outcome {
	m := make(map[string]Outcome, len(outcomes))
	for _, o := range outcomes {
		m[o.Doc.ID] = o
	}
	return m
}

func TestRun_ConcurrencyNeverExceedsLimit(t *testing.T) {
	ex := newScriptedExtractor()
	ex.hold = 20 * time.Millisecond
	d := New(ex, Options{Concurrency: 3, Sleep: (&recordingSleeper{}).Sleep})

	ids := make([]string, 20)
	for i := range ids {
		ids[i] = fmt.Sprintf("doc-%02d", i)
	}
	outcomes := d.Collect(context.Background(), docs(ids...))

	if len(outcomes) != len(ids) {
		t.Fatalf("Expected %d outcomes, got %d", len(ids), len(outcomes))
	}
	if got := ex.maxSeen.Load(); got > 3 {
		t.Errorf("Expected at most 3 concurrent extractions, saw %d", got)
	}
	if got := ex.maxSeen.Load(); got < 2 {
		t.Errorf("Expected extractions to overlap, max concurrency was %d", got)
	}
}

func TestRun_TransientTwiceThenSuccess(t *testing.T) {
	ex := newScriptedExtractor()
	ex.script["b"] = []extract.Result{
		extract.Retryable(extract.ReasonRateLimited, "slow down", 0),
		extract.Retryable(extract.ReasonServerError, "503", 0),
	}
	sleeper := &recordingSleeper{}
	d := New(ex, Options{Concurrency: 2, Backoff: retry.Backoff{Base: time.Second, Max: 30 * time.Second}, Sleep: sleeper.Sleep})

	outcomes := byID(d.Collect(context.Background(), docs("a", "b")))

	b := outcomes["b"]
	if !b.Result.OK() {
		t.Fatalf("Expected b to succeed, got %v", b.Result.Failure)
	}
	if got := ex.Calls("b"); got != 3 {
		t.Errorf("Expected 3 calls for b, got %d", got)
	}
	if b.Attempts != 3 {
		t.Errorf("Expected 3 attempts recorded, got %d", b.Attempts)
	}
	want := []time.Duration{time.Second, 2 * time.Second}
	if len(sleeper.delays) != 2 || sleeper.delays[0] != want[0] || sleeper.delays[1] != want[1] {
		t.Errorf("Expected backoff %v, got %v", want, sleeper.delays)
	}
}

func TestRun_ExhaustedRetriesDoNotAbortBatch(t *testing.T) {
	ex := newScriptedExtractor()
	transient := extract.Retryable(extract.ReasonTimeout, "timeout", 0)
	ex.script["b"] = []extract.Result{transient, transient, transient, transient}
	ex.script["c"] = []extract.Result{extract.Permanent(extract.ReasonParseError, "garbage")}
	d := New(ex, Options{Concurrency: 5, MaxAttempts: 3, Sleep: (&recordingSleeper{}).Sleep})

	outcomes := byID(d.Collect(context.Background(), docs("a", "b", "c", "d")))

	if len(outcomes) != 4 {
		t.Fatalf("Expected 4 outcomes, got %d", len(outcomes))
	}
	if !outcomes["a"].Result.OK() || !outcomes["d"].Result.OK() {
		t.Errorf("Expected a and d to succeed")
	}
	b := outcomes["b"].Result
	if b.Kind != extract.KindPermanent || b.Failure.Reason != extract.ReasonRetriesExhausted {
		t.Errorf("Expected b to exhaust retries, got %v/%v", b.Kind, b.Failure)
	}
	if got := ex.Calls("b"); got != 3 {
		t.Errorf("Expected 3 calls for b, got %d", got)
	}
	if got := ex.Calls("c"); got != 1 {
		t.Errorf("Expected permanent failure to be tried once, got %d", got)
	}
}

func TestRun_NoDocuments(t *testing.T) {
	d := New(newScriptedExtractor(), Options{})
	if got := d.Collect(context.Background(), nil); len(got) != 0 {
		t.Fatalf("Expected no outcomes, got %d", len(got))
	}
}

func TestRun_InterruptedSleepEndsDocument(t *testing.T) {
	ex := newScriptedExtractor()
	ex.script["a"] = []extract.Result{extract.Retryable(extract.ReasonRateLimited, "", 0)}
	d := New(ex, Options{Sleep: func(context.Context, time.Duration) error { return context.Canceled }})

	outcomes := d.Collect(context.Background(), docs("a"))
	if len(outcomes) != 1 || outcomes[0].Result.Kind != extract.KindPermanent {
		t.Fatalf("Expected a permanent outcome, got %+v", outcomes)
	}
	if got := ex.Calls("a"); got != 1 {
		t.Errorf("Expected 1 call, got %d", got)
	}
}

func TestRun_FatalOutcomeStopsFeeding(t *testing.T) {
	ex := newScriptedExtractor()
	ex.script["a"] = []extract.Result{extract.Fatal(extract.ReasonReauthorization, errors.New("refresh rejected"))}
	d := New(ex, Options{Concurrency: 1, Sleep: (&recordingSleeper{}).Sleep})

	outcomes := d.Collect(context.Background(), docs("a", "b", "c", "d"))
	if len(outcomes) != 1 {
		t.Fatalf("Expected only the fatal outcome, got %d outcomes", len(outcomes))
	}
	if !outcomes[0].Result.IsFatal() || outcomes[0].Attempts != 1 {
		t.Errorf("Expected a single fatal attempt, got %+v", outcomes[0])
	}
	for _, id := range []string{"b", "c", "d"} {
		if n := ex.Calls(id); n != 0 {
			t.Errorf("Document %s extracted %d times after a fatal outcome", id, n)
		}
	}
}

func TestRun_CancelledContextStopsFeeding(t *testing.T) {
	ex := newScriptedExtractor()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcomes := New(ex, Options{Concurrency: 2}).Collect(ctx, docs("a", "b", "c"))
	if len(outcomes) != 0 {
		t.Errorf("Expected no outcomes for a cancelled run, got %d", len(outcomes))
	}
}
