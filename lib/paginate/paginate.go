// Package paginate drives a caller-supplied fetch capability through a
// cursor-paged upstream, one request at a time, with wall-clock spacing,
// bounded retries with exponential backoff, and cooperative cancellation
// at page boundaries. It never owns the HTTP or browser layer; sources
// inject those as a FetchFunc.
package paginate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"adharvest/lib/record"
	"adharvest/lib/telemetry"

	"github.com/mazen160/go-random"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = telemetry.Tracer("adharvest.lib.paginate")

// Cursor is an opaque continuation token. Start is the sentinel handed to
// the first fetch.
type Cursor string

const Start Cursor = ""

// Page is one fetch result. Next is nil once the upstream is exhausted.
type Page struct {
	Records []record.RawRecord
	Next    *Cursor
}

// FetchFunc fetches one page for a cursor. Implementations classify their
// failures by wrapping ErrThrottled (upstream rate-limit signal) or
// ErrTransient (network/timeout class); anything else is treated as fatal
// and is not retried.
type FetchFunc func(ctx context.Context, cursor Cursor) (Page, error)

var (
	ErrThrottled = errors.New("upstream throttled the request")
	ErrTransient = errors.New("transient fetch failure")
)

// Status describes how a run ended. Callers must branch on it instead of
// inferring completeness from record counts.
type Status string

const (
	StatusComplete         Status = "complete"
	StatusLimitReached     Status = "limit_reached"
	StatusPartialPageLimit Status = "partial_page_limit"
	StatusCancelled        Status = "cancelled"
)

// RateLimitExceededError reports exhausted throttle retries. Cursor is the
// page that kept throttling, so the caller can resume from it later.
type RateLimitExceededError struct {
	Cursor  Cursor
	Retries int
	Last    error
}

func (e *RateLimitExceededError) Error() string {
	return fmt.Sprintf("rate limit still exceeded after %d retries at cursor %q: %v", e.Retries, e.Cursor, e.Last)
}

func (e *RateLimitExceededError) Unwrap() error { return e.Last }

// FatalFetchError reports a non-retryable fetch failure (or exhausted
// transient retries) together with the cursor it happened at.
type FatalFetchError struct {
	Cursor Cursor
	Err    error
}

func (e *FatalFetchError) Error() string {
	return fmt.Sprintf("fatal fetch failure at cursor %q: %v", e.Cursor, e.Err)
}

func (e *FatalFetchError) Unwrap() error { return e.Err }

// DuplicateCursorError guards against buggy upstreams that hand back a
// cursor already visited in this session, which would loop forever.
type DuplicateCursorError struct {
	Cursor Cursor
}

func (e *DuplicateCursorError) Error() string {
	return fmt.Sprintf("upstream repeated cursor %q within one session", e.Cursor)
}

type Options struct {
	// MaxPages caps fetch calls per run; reaching it is not an error.
	MaxPages int
	// MinDelay is the minimum wall-clock spacing between fetches.
	MinDelay time.Duration
	// Limit stops the run once the handler reports this many distinct
	// records. Zero means unbounded.
	Limit int

	// From resumes the run at a cursor returned by an earlier session.
	// The zero value starts from the beginning.
	From Cursor

	// BackoffInitial is the first retry delay, doubling per retry up to
	// BackoffCeiling, for at most MaxRetries attempts.
	BackoffInitial time.Duration
	BackoffCeiling time.Duration
	MaxRetries     int
}

const (
	defaultMaxPages       = 50
	defaultBackoffInitial = time.Second
	defaultBackoffCeiling = time.Minute
	defaultMaxRetries     = 5
)

func (o Options) withDefaults() Options {
	if o.MaxPages <= 0 {
		o.MaxPages = defaultMaxPages
	}
	if o.BackoffInitial <= 0 {
		o.BackoffInitial = defaultBackoffInitial
	}
	if o.BackoffCeiling < o.BackoffInitial {
		o.BackoffCeiling = defaultBackoffCeiling
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = defaultMaxRetries
	}
	return o
}

// PageHandler consumes one fetched page and reports the running count of
// distinct records accumulated so far. A handler error aborts the run.
type PageHandler func(ctx context.Context, page Page) (distinct int, err error)

// Result reports how a run ended. It is valid (pages, cursor) even when
// Run also returns an error, so partial progress stays usable.
type Result struct {
	Status     Status
	Pages      int
	Backoffs   int
	LastCursor Cursor
}

type Paginator struct {
	fetch FetchFunc
	opts  Options
}

func New(fetch FetchFunc, opts Options) *Paginator {
	return &Paginator{fetch: fetch, opts: opts.withDefaults()}
}

// Run pages through the upstream until it is exhausted, the distinct-record
// limit is hit, MaxPages is reached, or the context is cancelled. Requests
// are strictly sequential; cancellation is honored between pages, never
// mid-fetch.
func (p *Paginator) Run(ctx context.Context, handle PageHandler) (Result, error) {
	ctx, span := tracer.Start(ctx, "paginate:Run")
	defer span.End()

	cursor := p.opts.From
	res := Result{LastCursor: cursor}
	seen := map[Cursor]struct{}{cursor: {}}
	var lastFetch time.Time

	for {
		if ctx.Err() != nil {
			res.Status = StatusCancelled
			span.SetStatus(codes.Ok, "cancelled")
			return res, nil
		}
		if res.Pages >= p.opts.MaxPages {
			res.Status = StatusPartialPageLimit
			return res, nil
		}

		if wait := p.opts.MinDelay - time.Since(lastFetch); !lastFetch.IsZero() && wait > 0 {
			if !sleep(ctx, wait) {
				res.Status = StatusCancelled
				return res, nil
			}
		}

		lastFetch = time.Now()
		page, cancelled, err := p.fetchWithRetry(ctx, cursor, &res)
		if cancelled {
			res.Status = StatusCancelled
			return res, nil
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "fetch failed")
			return res, err
		}
		res.Pages++
		res.LastCursor = cursor
		span.SetAttributes(
			attribute.Int("pages", res.Pages),
			attribute.Int("records", len(page.Records)),
		)

		distinct, err := handle(ctx, page)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "page handler failed")
			return res, err
		}

		// termination checks, first match wins
		if page.Next == nil {
			res.Status = StatusComplete
			return res, nil
		}
		if p.opts.Limit > 0 && distinct >= p.opts.Limit {
			res.Status = StatusLimitReached
			return res, nil
		}

		next := *page.Next
		if _, ok := seen[next]; ok {
			err := &DuplicateCursorError{Cursor: next}
			span.RecordError(err)
			span.SetStatus(codes.Error, "duplicate cursor")
			return res, err
		}
		seen[next] = struct{}{}
		cursor = next
	}
}

// fetchWithRetry retries throttled and transient failures with doubling
// backoff. The bool result reports cancellation during a backoff wait.
func (p *Paginator) fetchWithRetry(ctx context.Context, cursor Cursor, res *Result) (Page, bool, error) {
	delay := p.opts.BackoffInitial
	var lastErr error

	for attempt := 0; attempt <= p.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			slog.DebugContext(ctx, "backing off before retry",
				"attempt", attempt,
				"delay", delay,
			)
			res.Backoffs++
			if !sleep(ctx, withJitter(delay)) {
				return Page{}, true, nil
			}
			if delay *= 2; delay > p.opts.BackoffCeiling {
				delay = p.opts.BackoffCeiling
			}
		}

		page, err := p.fetch(ctx, cursor)
		if err == nil {
			return page, false, nil
		}
		if ctx.Err() != nil {
			return Page{}, true, nil
		}
		if !errors.Is(err, ErrThrottled) && !errors.Is(err, ErrTransient) {
			return Page{}, false, &FatalFetchError{Cursor: cursor, Err: err}
		}
		lastErr = err
	}

	if errors.Is(lastErr, ErrThrottled) {
		return Page{}, false, &RateLimitExceededError{
			Cursor:  cursor,
			Retries: p.opts.MaxRetries,
			Last:    lastErr,
		}
	}
	return Page{}, false, &FatalFetchError{Cursor: cursor, Err: lastErr}
}

// withJitter spreads retries out by up to 20% so concurrent sessions do
// not thunder in lockstep.
func withJitter(d time.Duration) time.Duration {
	frac, err := random.IntRange(0, 20)
	if err != nil {
		return d
	}
	return d + d*time.Duration(frac)/100
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
