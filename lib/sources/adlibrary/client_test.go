package adlibrary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"adharvest/lib/paginate"
	"adharvest/lib/record"
	"adharvest/lib/telemetry"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"
)

func archiveServer(t *testing.T, hits *atomic.Int64) *httptest.Server {
	pages := map[string][]map[string]any{
		"": {
			{"id": "ad-1", "page_name": "acme corp", "impressions": "12K"},
			{"id": "ad-2", "page_name": "globex", "impressions": "3.4K"},
		},
		"c2": {
			{"id": "ad-3", "page_name": "acme corp", "impressions": "900"},
		},
	}
	next := map[string]string{"": "c2"}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		require.Equal(t, "/ads/archive", r.URL.Path)
		require.NotEmpty(t, r.URL.Query().Get("access_token"))

		after := r.URL.Query().Get("after")
		data, ok := pages[after]
		require.True(t, ok, "unexpected cursor %q", after)

		payload := map[string]any{"data": data}
		if cursor, ok := next[after]; ok {
			payload["paging"] = map[string]any{
				"cursors": map[string]any{"after": cursor},
				"next":    "https://example.invalid/next",
			}
		}
		json.NewEncoder(w).Encode(payload)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestFetchPagination(t *testing.T) {
	cleanup := telemetry.SetupForTesting("test:adlibrary")
	defer cleanup()
	ctx := context.Background()

	server := archiveServer(t, nil)
	client, err := NewClient(ctx, ClientOptions{
		BaseUrl:     server.URL,
		AccessToken: "secret",
		SearchTerms: "widgets",
		Countries:   []string{"US"},
	})
	require.NoError(t, err)

	page, err := client.Fetch(ctx, paginate.Start)
	require.NoError(t, err)
	require.Len(t, page.Records, 2)
	require.NotNil(t, page.Next)
	require.Equal(t, paginate.Cursor("c2"), *page.Next)
	require.Equal(t, record.String("ad-1"), page.Records[0]["id"])

	page, err = client.Fetch(ctx, *page.Next)
	require.NoError(t, err)
	require.Len(t, page.Records, 1)
	require.Nil(t, page.Next)
}

func TestFetchErrorClassification(t *testing.T) {
	cleanup := telemetry.SetupForTesting("test:adlibrary")
	defer cleanup()
	ctx := context.Background()

	for _, test := range []struct {
		name     string
		status   int
		body     string
		sentinel error
		fatal    bool
	}{
		{
			name:     "http 429 is throttled",
			status:   429,
			sentinel: paginate.ErrThrottled,
		},
		{
			name:     "http 503 is transient",
			status:   503,
			sentinel: paginate.ErrTransient,
		},
		{
			name:   "http 401 is fatal",
			status: 401,
			fatal:  true,
		},
		{
			name:     "payload rate limit code is throttled",
			status:   200,
			body:     `{"error":{"code":17,"message":"User request limit reached"}}`,
			sentinel: paginate.ErrThrottled,
		},
		{
			name:   "payload auth error is fatal",
			status: 200,
			body:   `{"error":{"code":190,"message":"Invalid OAuth access token"}}`,
			fatal:  true,
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(test.status)
				fmt.Fprint(w, test.body)
			}))
			defer server.Close()

			client, err := NewClient(ctx, ClientOptions{
				BaseUrl:     server.URL,
				AccessToken: "secret",
			})
			require.NoError(t, err)

			_, err = client.Fetch(ctx, paginate.Start)
			require.Error(t, err)
			if test.sentinel != nil {
				require.ErrorIs(t, err, test.sentinel)
			}
			if test.fatal {
				require.False(t, errors.Is(err, paginate.ErrThrottled))
				require.False(t, errors.Is(err, paginate.ErrTransient))
			}
		})
	}
}

func TestFetchResponseCache(t *testing.T) {
	cleanup := telemetry.SetupForTesting("test:adlibrary")
	defer cleanup()
	ctx := context.Background()

	var hits atomic.Int64
	server := archiveServer(t, &hits)

	cache, err := badger.Open(
		badger.DefaultOptions("").WithInMemory(true).WithLogger(nil),
	)
	require.NoError(t, err)
	defer cache.Close()

	client, err := NewClient(ctx, ClientOptions{
		BaseUrl:     server.URL,
		AccessToken: "secret",
		Cache:       cache,
	})
	require.NoError(t, err)

	first, err := client.Fetch(ctx, paginate.Start)
	require.NoError(t, err)
	require.EqualValues(t, 1, hits.Load())

	second, err := client.Fetch(ctx, paginate.Start)
	require.NoError(t, err)
	require.EqualValues(t, 1, hits.Load(), "second fetch should replay from cache")
	require.Equal(t, first.Records, second.Records)
}

func TestCanonicalAdvertisers(t *testing.T) {
	cleanup := telemetry.SetupForTesting("test:adlibrary")
	defer cleanup()
	ctx := context.Background()

	server := archiveServer(t, nil)
	client, err := NewClient(ctx, ClientOptions{
		BaseUrl:              server.URL,
		AccessToken:          "secret",
		CanonicalAdvertisers: []string{"Acme Corporation", "Globex"},
	})
	require.NoError(t, err)

	page, err := client.Fetch(ctx, paginate.Start)
	require.NoError(t, err)
	require.Equal(t, record.String("Globex"), page.Records[1]["page_name"])
}

func TestCacheKeyOmitsAccessToken(t *testing.T) {
	ctx := context.Background()
	client, err := NewClient(ctx, ClientOptions{
		BaseUrl:     "https://archive.example.com/v19.0",
		AccessToken: "secret",
	})
	require.NoError(t, err)

	key := client.cacheKey("/ads/archive", map[string]string{
		"search_terms": "widgets",
		"limit":        "100",
	})
	require.NotContains(t, key, "secret")
	require.NotContains(t, key, "access_token")
}
