package videolist

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"adharvest/lib/harvest"
	"adharvest/lib/paginate"
	"adharvest/lib/record"
	"adharvest/lib/telemetry"

	"github.com/stretchr/testify/require"
)

const listingPage1 = `<html><body>
<ul class="videos">
  <li class="video">
    <a href="/watch?v=abc">How to solder</a>
    <span class="meta"><span class="views">680K views</span></span>
  </li>
  <li class="video">
    <a href="/watch?v=def">Workbench tour</a>
    <span class="meta"><span class="views">1.2M views</span></span>
  </li>
  <li class="video">
    <span class="views">no link, skipped</span>
  </li>
</ul>
</body></html>`

const listingPage2 = `<html><body>
<ul class="videos">
  <li class="video">
    <a href="/watch?v=ghi">Shop safety</a>
    <span class="meta"><span class="views">904 views</span></span>
  </li>
</ul>
</body></html>`

const listingEmpty = `<html><body><ul class="videos"></ul></body></html>`

func listingServer(t *testing.T) *httptest.Server {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/videos", r.URL.Path)
		switch r.URL.Query().Get("page") {
		case "", "1":
			fmt.Fprint(w, listingPage1)
		case "2":
			fmt.Fprint(w, listingPage2)
		default:
			fmt.Fprint(w, listingEmpty)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func newTestClient(t *testing.T, baseUrl string) *Client {
	client, err := NewClient(context.Background(), ClientOptions{
		BaseUrl:  baseUrl,
		ListPath: "/videos",
		Selectors: Selectors{
			ItemSelector:  "li.video",
			ViewsSelector: "span.views",
		},
	})
	require.NoError(t, err)
	return client
}

func TestFetchListing(t *testing.T) {
	cleanup := telemetry.SetupForTesting("test:videolist")
	defer cleanup()
	ctx := context.Background()

	server := listingServer(t)
	client := newTestClient(t, server.URL)

	page, err := client.Fetch(ctx, paginate.Start)
	require.NoError(t, err)
	require.Len(t, page.Records, 2, "items without a link are dropped")
	require.NotNil(t, page.Next)
	require.Equal(t, paginate.Cursor("2"), *page.Next)

	require.Equal(t, record.RawRecord{
		"url":   record.String(server.URL + "/watch?v=abc"),
		"title": record.String("How to solder"),
		"views": record.String("680K"),
	}, page.Records[0])

	page, err = client.Fetch(ctx, paginate.Cursor("3"))
	require.NoError(t, err)
	require.Empty(t, page.Records)
	require.Nil(t, page.Next)
}

func TestFetchMalformedCursor(t *testing.T) {
	cleanup := telemetry.SetupForTesting("test:videolist")
	defer cleanup()

	server := listingServer(t)
	client := newTestClient(t, server.URL)

	_, err := client.Fetch(context.Background(), paginate.Cursor("not-a-page"))
	require.Error(t, err)
}

func TestHarvestListing(t *testing.T) {
	cleanup := telemetry.SetupForTesting("test:videolist")
	defer cleanup()
	ctx := context.Background()

	server := listingServer(t)
	client := newTestClient(t, server.URL)

	session, err := harvest.Harvest(ctx, client.Fetch, harvest.Options{
		IdentityKeys:    []string{"url"},
		MagnitudeFields: []string{"views"},
	})
	require.NoError(t, err)
	require.Equal(t, paginate.StatusComplete, session.Status)
	require.Len(t, session.Rows, 3)
	require.Equal(t, record.Int(680000), session.Rows[0]["views"])
	require.Equal(t, record.Int(1200000), session.Rows[1]["views"])
	require.Equal(t, record.Int(904), session.Rows[2]["views"])
}
