// Package harvest composes the paginator, the normalizer and the magnitude
// parser into one call: page through a source, flatten every record,
// deduplicate by an identity key, and hand back a session the caller can
// persist or resume from.
package harvest

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"adharvest/lib/magnitude"
	"adharvest/lib/normalize"
	"adharvest/lib/paginate"
	"adharvest/lib/record"
	"adharvest/lib/telemetry"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = telemetry.Tracer("adharvest.lib.harvest")

type Options struct {
	// BreakdownFields are handed to the normalizer; at most one may be
	// present and non-empty on any record.
	BreakdownFields []string
	// IdentityKeys name the scalar field(s) forming the dedup key.
	IdentityKeys []string
	// MagnitudeFields name row columns holding abbreviated counts
	// ("680K") to be parsed into exact integers after flattening.
	MagnitudeFields []string
	// StrictMagnitudes aborts the session on a magnitude parse failure
	// instead of dropping the affected row.
	StrictMagnitudes bool
	// AllowDuplicates keeps rows whose identity key was already seen.
	AllowDuplicates bool

	Limit    int
	MaxPages int
	MinDelay time.Duration
	// Resume continues a run from a stored session's last cursor.
	Resume paginate.Cursor

	Backoff paginate.Options // only the backoff fields are read
}

// Session aggregates everything one harvest produced. A session returned
// alongside an error holds whatever was collected before the failure, so
// partial results are always usable and the run is resumable from
// LastCursor.
type Session struct {
	Rows       []record.FlatRow
	Status     paginate.Status
	Pages      int
	Distinct   int
	LastCursor paginate.Cursor
	StartedAt  time.Time
	FinishedAt time.Time
}

// identity-key tuples joined on a separator that cannot occur in field
// text scraped from the wire
const keySeparator = "\x1f"

func identityKey(row record.FlatRow, fields []string) string {
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = row[f].Render()
	}
	return strings.Join(parts, keySeparator)
}

// Harvest runs one session against the fetch capability. The fetch layer
// (HTTP client, browser driver) is injected; the orchestrator never
// touches credentials or transports itself.
func Harvest(ctx context.Context, fetch paginate.FetchFunc, opts Options) (*Session, error) {
	ctx, span := tracer.Start(ctx, "Harvest")
	defer span.End()

	session := &Session{StartedAt: time.Now()}
	seen := map[string]struct{}{}

	pager := paginate.New(fetch, paginate.Options{
		MaxPages:       opts.MaxPages,
		MinDelay:       opts.MinDelay,
		Limit:          opts.Limit,
		From:           opts.Resume,
		BackoffInitial: opts.Backoff.BackoffInitial,
		BackoffCeiling: opts.Backoff.BackoffCeiling,
		MaxRetries:     opts.Backoff.MaxRetries,
	})

	handle := func(ctx context.Context, page paginate.Page) (int, error) {
		for _, raw := range page.Records {
			rows, err := normalize.Flatten(raw, opts.BreakdownFields)
			if err != nil {
				return 0, err
			}
			for _, row := range rows {
				row, ok, err := parseMagnitudes(ctx, row, opts)
				if err != nil {
					return 0, err
				}
				if !ok {
					continue
				}

				key := identityKey(row, opts.IdentityKeys)
				if !opts.AllowDuplicates {
					if _, dup := seen[key]; dup {
						continue
					}
				}
				seen[key] = struct{}{}
				session.Rows = append(session.Rows, row)
			}
		}
		slog.DebugContext(ctx, "page harvested",
			"records", len(page.Records),
			"distinct", len(seen),
		)
		if opts.AllowDuplicates {
			return len(session.Rows), nil
		}
		return len(seen), nil
	}

	res, err := pager.Run(ctx, handle)
	session.Status = res.Status
	session.Pages = res.Pages
	session.Distinct = len(seen)
	session.LastCursor = res.LastCursor
	session.FinishedAt = time.Now()

	span.SetAttributes(
		attribute.Int("pages", session.Pages),
		attribute.Int("rows", len(session.Rows)),
		attribute.String("status", string(session.Status)),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "harvest aborted")
		// partial session stays attached to the failure
		return session, err
	}
	return session, nil
}

// parseMagnitudes rewrites abbreviated-count columns into exact integers.
// The second result is false when the row should be dropped (lenient mode
// only; a malformed field is local to its row, not to the session).
func parseMagnitudes(ctx context.Context, row record.FlatRow, opts Options) (record.FlatRow, bool, error) {
	for _, field := range opts.MagnitudeFields {
		v, ok := row[field]
		if !ok || v.IsAbsent() {
			continue
		}
		if s, isString := v.Scalar.(string); isString {
			n, err := magnitude.Parse(s)
			if err != nil {
				if opts.StrictMagnitudes {
					return row, false, err
				}
				slog.WarnContext(ctx, "dropping row with malformed count",
					"field", field,
					"value", s,
				)
				return row, false, nil
			}
			row[field] = record.Int(n)
		}
	}
	return row, true, nil
}
