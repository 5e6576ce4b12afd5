// Package videolist implements the fetch capability for server-rendered
// HTML listings paginated by page number, such as a channel's video index.
// View counts stay as scraped magnitude strings ("680K"); parsing them is
// the harvester's job.
package videolist

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"adharvest/lib/htmlutil"
	"adharvest/lib/paginate"
	"adharvest/lib/record"
	"adharvest/lib/restyutil"
	"adharvest/lib/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = telemetry.Tracer("adharvest.sources.videolist")

var instrumentOutput restyutil.InstrumentOutput

func SetInstrumentOutput(o restyutil.InstrumentOutput) {
	instrumentOutput = o
}

// Selectors locate the listing's parts inside a page. ItemSelector
// matches one element per video; the others are evaluated relative to it.
type Selectors struct {
	ItemSelector  string
	TitleSelector string
	ViewsSelector string
}

type ClientOptions struct {
	BaseUrl   string
	ListPath  string
	PageParam string
	Selectors Selectors
}

type Client struct {
	BaseUrl *url.URL
	Http    *resty.Client

	opts ClientOptions
}

func NewClient(ctx context.Context, opts ClientOptions) (*Client, error) {
	baseUrl, err := url.Parse(opts.BaseUrl)
	if err != nil {
		return nil, err
	}
	if opts.Selectors.ItemSelector == "" {
		return nil, fmt.Errorf("an item selector is required")
	}
	if opts.PageParam == "" {
		opts.PageParam = "page"
	}

	client := resty.New()
	client.SetBaseURL(opts.BaseUrl)
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	client.SetHeader("user-agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36")
	client.SetTimeout(time.Second * 30)

	telemetry.InstrumentResty(client, "adharvest.sources.videolist.http")
	restyutil.InstrumentClient(client, instrumentOutput)

	return &Client{BaseUrl: baseUrl, Http: client, opts: opts}, nil
}

// Fetch is a paginate.FetchFunc over numbered listing pages. The cursor
// is the 1-based page number; an empty listing page means the run is done.
func (c *Client) Fetch(ctx context.Context, cursor paginate.Cursor) (paginate.Page, error) {
	ctx, span := tracer.Start(ctx, "client:Fetch")
	defer span.End()

	pageNum := 1
	if cursor != paginate.Start {
		parsed, err := strconv.Atoi(string(cursor))
		if err != nil || parsed < 1 {
			return paginate.Page{}, fmt.Errorf("malformed page cursor %q", cursor)
		}
		pageNum = parsed
	}
	span.SetAttributes(attribute.Int("page", pageNum))

	res, err := c.Http.R().
		SetContext(ctx).
		SetQueryParam(c.opts.PageParam, strconv.Itoa(pageNum)).
		Get(c.opts.ListPath)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return paginate.Page{}, fmt.Errorf("%v: %w", err, paginate.ErrTransient)
	}

	switch status := res.StatusCode(); {
	case status == 429:
		return paginate.Page{}, fmt.Errorf("http 429: %w", paginate.ErrThrottled)
	case status >= 500:
		return paginate.Page{}, fmt.Errorf("http %d: %w", status, paginate.ErrTransient)
	case status != 200:
		span.SetStatus(codes.Error, "unexpected status")
		return paginate.Page{}, fmt.Errorf("unexpected http status %d", status)
	}

	records, err := c.parseListing(res.Body())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "bad listing")
		return paginate.Page{}, err
	}

	page := paginate.Page{Records: records}
	if len(records) > 0 {
		next := paginate.Cursor(strconv.Itoa(pageNum + 1))
		page.Next = &next
	}
	return page, nil
}

func (c *Client) parseListing(body []byte) ([]record.RawRecord, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("listing parse: %w", err)
	}

	var records []record.RawRecord
	doc.Find(c.opts.Selectors.ItemSelector).Each(func(_ int, item *goquery.Selection) {
		rec := record.RawRecord{}

		anchors := htmlutil.GetAnchors(item.Find("a"))
		if len(anchors) == 0 {
			return
		}
		rec["url"] = record.String(c.resolveHref(anchors[0].Href))

		title := anchors[0].Name
		if c.opts.Selectors.TitleSelector != "" {
			title = item.Find(c.opts.Selectors.TitleSelector).First().Text()
		}
		rec["title"] = record.String(htmlutil.CompactText(title))

		if c.opts.Selectors.ViewsSelector != "" {
			views := item.Find(c.opts.Selectors.ViewsSelector).First().Text()
			views = htmlutil.CompactText(views)
			views = strings.TrimSuffix(views, " views")
			rec["views"] = record.String(views)
		}

		records = append(records, rec)
	})
	return records, nil
}

func (c *Client) resolveHref(href string) string {
	parsed, err := url.Parse(href)
	if err != nil {
		return href
	}
	return c.BaseUrl.ResolveReference(parsed).String()
}
