package harvest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"adharvest/lib/normalize"
	"adharvest/lib/paginate"
	"adharvest/lib/record"

	"github.com/stretchr/testify/require"
)

func testOptions() Options {
	return Options{
		IdentityKeys: []string{"id"},
		Limit:        1000,
		MaxPages:     10,
		Backoff: paginate.Options{
			BackoffInitial: time.Millisecond,
			BackoffCeiling: time.Millisecond * 4,
			MaxRetries:     3,
		},
	}
}

// pagedStub serves 3 pages of 25 distinct records each, then signals done.
func pagedStub() paginate.FetchFunc {
	return func(ctx context.Context, cursor paginate.Cursor) (paginate.Page, error) {
		page := 0
		if cursor != paginate.Start {
			fmt.Sscanf(string(cursor), "p%d", &page)
		}
		records := make([]record.RawRecord, 25)
		for i := range records {
			records[i] = record.RawRecord{
				"id":    record.String(fmt.Sprintf("ad-%d-%d", page, i)),
				"title": record.String("creative"),
			}
		}
		out := paginate.Page{Records: records}
		if page < 2 {
			next := paginate.Cursor(fmt.Sprintf("p%d", page+1))
			out.Next = &next
		}
		return out, nil
	}
}

func TestHarvestComplete(t *testing.T) {
	sess, err := Harvest(context.Background(), pagedStub(), testOptions())
	require.NoError(t, err)
	require.Equal(t, paginate.StatusComplete, sess.Status)
	require.Len(t, sess.Rows, 75)
	require.Equal(t, 75, sess.Distinct)
	require.Equal(t, 3, sess.Pages)
}

func TestHarvestLimitReached(t *testing.T) {
	opts := testOptions()
	opts.Limit = 50
	sess, err := Harvest(context.Background(), pagedStub(), opts)
	require.NoError(t, err)
	require.Equal(t, paginate.StatusLimitReached, sess.Status)
	require.Len(t, sess.Rows, 50)
}

func TestHarvestDedup(t *testing.T) {
	fetch := func(ctx context.Context, cursor paginate.Cursor) (paginate.Page, error) {
		page := paginate.Page{Records: []record.RawRecord{
			{"id": record.String("ad-1"), "spend": record.Int(10)},
			{"id": record.String("ad-2"), "spend": record.Int(20)},
			{"id": record.String("ad-1"), "spend": record.Int(99)},
		}}
		if cursor == paginate.Start {
			next := paginate.Cursor("again")
			page.Next = &next
		}
		return page, nil
	}

	sess, err := Harvest(context.Background(), fetch, testOptions())
	require.NoError(t, err)
	require.Len(t, sess.Rows, 2)

	// first seen wins
	require.Equal(t, record.Int(10), sess.Rows[0]["spend"])

	keys := map[string]struct{}{}
	for _, row := range sess.Rows {
		key := row["id"].Render()
		_, dup := keys[key]
		require.False(t, dup, "identity key %q appears twice", key)
		keys[key] = struct{}{}
	}
}

func TestHarvestCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	fetch := func(fctx context.Context, cursor paginate.Cursor) (paginate.Page, error) {
		calls++
		page, err := pagedStub()(fctx, cursor)
		cancel()
		return page, err
	}

	sess, err := Harvest(ctx, fetch, testOptions())
	require.NoError(t, err)
	require.Equal(t, paginate.StatusCancelled, sess.Status)
	require.Equal(t, 1, calls)
	require.Len(t, sess.Rows, 25)
}

func TestHarvestBreakdownRows(t *testing.T) {
	fetch := func(ctx context.Context, cursor paginate.Cursor) (paginate.Page, error) {
		return paginate.Page{Records: []record.RawRecord{{
			"id": record.String("ad-1"),
			"demographic_distribution": record.Seq(
				record.Map(map[string]record.Value{
					"age":        record.String("18-24"),
					"percentage": record.Float(0.4),
				}),
				record.Map(map[string]record.Value{
					"age":        record.String("25-34"),
					"percentage": record.Float(0.6),
				}),
			),
		}}}, nil
	}

	opts := testOptions()
	opts.BreakdownFields = []string{"demographic_distribution"}
	opts.IdentityKeys = []string{"id", "age"}
	sess, err := Harvest(context.Background(), fetch, opts)
	require.NoError(t, err)
	require.Len(t, sess.Rows, 2)
	require.Equal(t, record.String("ad-1"), sess.Rows[0]["id"])
	require.Equal(t, record.String("ad-1"), sess.Rows[1]["id"])
}

func TestHarvestAmbiguousBreakdownAbortsWithPartialSession(t *testing.T) {
	fetch := func(ctx context.Context, cursor paginate.Cursor) (paginate.Page, error) {
		if cursor == paginate.Start {
			next := paginate.Cursor("p1")
			return paginate.Page{
				Records: []record.RawRecord{{"id": record.String("ok-1")}},
				Next:    &next,
			}, nil
		}
		return paginate.Page{Records: []record.RawRecord{{
			"id":      record.String("bad-1"),
			"ages":    record.Seq(record.Map(map[string]record.Value{"age": record.String("18-24")})),
			"regions": record.Seq(record.Map(map[string]record.Value{"region": record.String("CA")})),
		}}}, nil
	}

	opts := testOptions()
	opts.BreakdownFields = []string{"ages", "regions"}
	sess, err := Harvest(context.Background(), fetch, opts)

	var ambiguous *normalize.AmbiguousBreakdownError
	require.ErrorAs(t, err, &ambiguous)
	// page 1 survived the failure
	require.Len(t, sess.Rows, 1)
	require.Equal(t, 2, sess.Pages)
}

func TestHarvestMagnitudeFields(t *testing.T) {
	fetch := func(ctx context.Context, cursor paginate.Cursor) (paginate.Page, error) {
		return paginate.Page{Records: []record.RawRecord{
			{"id": record.String("v-1"), "views": record.String("680K")},
			{"id": record.String("v-2"), "views": record.String("1.2M")},
			{"id": record.String("v-3"), "views": record.String("lots")},
		}}, nil
	}

	opts := testOptions()
	opts.MagnitudeFields = []string{"views"}
	sess, err := Harvest(context.Background(), fetch, opts)
	require.NoError(t, err)
	// malformed count is local to its row
	require.Len(t, sess.Rows, 2)
	require.Equal(t, record.Int(680_000), sess.Rows[0]["views"])
	require.Equal(t, record.Int(1_200_000), sess.Rows[1]["views"])

	opts.StrictMagnitudes = true
	_, err = Harvest(context.Background(), fetch, opts)
	require.Error(t, err)
}
