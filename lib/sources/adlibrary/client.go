// Package adlibrary implements the fetch capability for ad-archive style
// JSON APIs: cursor pagination, explicit access token, and rate-limit
// classification the paginator understands.
package adlibrary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"adharvest/lib/paginate"
	"adharvest/lib/record"
	"adharvest/lib/restyutil"
	"adharvest/lib/telemetry"
	"adharvest/lib/textutil"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/dgraph-io/badger/v4"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = telemetry.Tracer("adharvest.sources.adlibrary")

var instrumentOutput restyutil.InstrumentOutput

// SetInstrumentOutput enables request/response transcript dumps for
// clients created afterwards. Debug builds only; transcripts contain the
// full request including credentials.
func SetInstrumentOutput(o restyutil.InstrumentOutput) {
	instrumentOutput = o
}

type Client struct {
	BaseUrl *url.URL
	Http    *resty.Client

	opts  ClientOptions
	cache *responseCache
}

type ClientOptions struct {
	BaseUrl string
	// AccessToken is attached to every request and never logged,
	// cached or traced.
	AccessToken string
	SearchTerms string
	Countries   []string
	Fields      []string
	PageSize    int

	// CanonicalAdvertisers rewrites scraped advertiser names onto their
	// closest canonical spelling before records leave the source, so
	// dedup by advertiser holds across formatting variants.
	CanonicalAdvertisers []string

	// Cache enables a response cache for re-runs; entries are keyed by
	// the request URL with the access token stripped.
	Cache         *badger.DB
	CacheLifetime time.Duration
}

func NewClient(ctx context.Context, opts ClientOptions) (*Client, error) {
	baseUrl, err := url.Parse(opts.BaseUrl)
	if err != nil {
		return nil, err
	}
	if opts.AccessToken == "" {
		return nil, errors.New("an access token is required")
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 100
	}

	client := resty.New()
	client.SetBaseURL(opts.BaseUrl)
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	client.SetHeader("accept", "application/json")
	client.SetHeader("user-agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36")
	client.SetTimeout(time.Second * 30)

	telemetry.InstrumentResty(client, "adharvest.sources.adlibrary.http")
	restyutil.InstrumentClient(client, instrumentOutput)

	c := &Client{
		BaseUrl: baseUrl,
		Http:    client,
		opts:    opts,
	}
	if opts.Cache != nil {
		lifetime := opts.CacheLifetime
		if lifetime <= 0 {
			lifetime = time.Hour * 24
		}
		c.cache = &responseCache{db: opts.Cache, lifetime: lifetime}
	}
	return c, nil
}

// payload shape of ad archive endpoints: a data array plus cursor paging,
// or a structured error object
type archivePayload struct {
	Data   []map[string]any `json:"data"`
	Paging struct {
		Cursors struct {
			After string `json:"after"`
		} `json:"cursors"`
		Next string `json:"next"`
	} `json:"paging"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// upstream error codes that mean "slow down" rather than "give up"
var throttleCodes = map[int]bool{4: true, 17: true, 32: true, 613: true}

// Fetch is a paginate.FetchFunc over the /ads/archive endpoint.
func (c *Client) Fetch(ctx context.Context, cursor paginate.Cursor) (paginate.Page, error) {
	ctx, span := tracer.Start(ctx, "client:Fetch")
	defer span.End()
	span.SetAttributes(attribute.String("cursor", string(cursor)))

	query := map[string]string{
		"search_terms": c.opts.SearchTerms,
		"limit":        strconv.Itoa(c.opts.PageSize),
	}
	if len(c.opts.Countries) > 0 {
		query["ad_reached_countries"] = strings.Join(c.opts.Countries, ",")
	}
	if len(c.opts.Fields) > 0 {
		query["fields"] = strings.Join(c.opts.Fields, ",")
	}
	if cursor != paginate.Start {
		query["after"] = string(cursor)
	}

	cacheKey := c.cacheKey("/ads/archive", query)
	if c.cache != nil {
		if body, err := c.cache.get(ctx, cacheKey); err == nil {
			span.SetStatus(codes.Ok, "CACHE HIT")
			return c.parsePage(body)
		}
	}

	// the token is attached last and only to the outgoing request; it is
	// deliberately absent from the cache key and from span attributes
	query["access_token"] = c.opts.AccessToken

	res, err := c.Http.R().
		SetContext(ctx).
		SetQueryParams(query).
		Get("/ads/archive")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return paginate.Page{}, fmt.Errorf("%v: %w", err, paginate.ErrTransient)
	}

	switch status := res.StatusCode(); {
	case status == 429:
		return paginate.Page{}, fmt.Errorf("http 429: %w", paginate.ErrThrottled)
	case status == 401 || status == 403:
		span.SetStatus(codes.Error, "authentication rejected")
		return paginate.Page{}, fmt.Errorf("authentication rejected with http %d", status)
	case status >= 500:
		return paginate.Page{}, fmt.Errorf("http %d: %w", status, paginate.ErrTransient)
	case status != 200:
		span.SetStatus(codes.Error, "unexpected status")
		return paginate.Page{}, fmt.Errorf("unexpected http status %d", status)
	}

	page, err := c.parsePage(res.Body())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "bad payload")
		return paginate.Page{}, err
	}
	if c.cache != nil {
		if err := c.cache.set(ctx, cacheKey, res.Body()); err != nil {
			span.RecordError(err)
		}
	}
	return page, nil
}

func (c *Client) parsePage(body []byte) (paginate.Page, error) {
	var payload archivePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return paginate.Page{}, fmt.Errorf("archive payload parse: %w", err)
	}
	if payload.Error != nil {
		if throttleCodes[payload.Error.Code] {
			return paginate.Page{}, fmt.Errorf(
				"upstream error %d (%s): %w",
				payload.Error.Code, payload.Error.Message, paginate.ErrThrottled,
			)
		}
		return paginate.Page{}, fmt.Errorf(
			"upstream error %d: %s",
			payload.Error.Code, payload.Error.Message,
		)
	}

	records := make([]record.RawRecord, 0, len(payload.Data))
	for _, obj := range payload.Data {
		rec := record.FromJSONObject(obj)
		c.canonicalizeAdvertiser(rec)
		records = append(records, rec)
	}

	page := paginate.Page{Records: records}
	if payload.Paging.Next != "" && payload.Paging.Cursors.After != "" {
		next := paginate.Cursor(payload.Paging.Cursors.After)
		page.Next = &next
	}
	return page, nil
}

func (c *Client) canonicalizeAdvertiser(rec record.RawRecord) {
	if len(c.opts.CanonicalAdvertisers) == 0 {
		return
	}
	v, ok := rec["page_name"]
	if !ok || v.Kind != record.KindScalar {
		return
	}
	name, ok := v.Scalar.(string)
	if !ok {
		return
	}
	if canonical, ok := textutil.ClosestName(name, c.opts.CanonicalAdvertisers); ok {
		rec["page_name"] = record.String(canonical)
	}
}

func (c *Client) cacheKey(endpoint string, query map[string]string) string {
	u := *c.BaseUrl
	u.Path = strings.TrimRight(u.Path, "/") + endpoint
	q := u.Query()
	for k, v := range query {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String()
}
