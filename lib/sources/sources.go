// Package sources turns a harvest config file into a fetch capability,
// so the CLI and the daemon share one way of describing where records
// come from.
package sources

import (
	"context"
	"fmt"
	"time"

	"adharvest/lib/harvest"
	"adharvest/lib/paginate"
	"adharvest/lib/sources/adlibrary"
	"adharvest/lib/sources/videolist"

	"github.com/dgraph-io/badger/v4"
)

type AdLibraryConfig struct {
	BaseUrl              string   `json:"base_url"`
	AccessToken          string   `json:"access_token"`
	SearchTerms          string   `json:"search_terms"`
	Countries            []string `json:"countries"`
	Fields               []string `json:"fields"`
	PageSize             int      `json:"page_size"`
	CanonicalAdvertisers []string `json:"canonical_advertisers"`
	CachePath            string   `json:"cache_path"`
	CacheLifetimeHours   int      `json:"cache_lifetime_hours"`
}

type VideoListConfig struct {
	BaseUrl       string `json:"base_url"`
	ListPath      string `json:"list_path"`
	PageParam     string `json:"page_param"`
	ItemSelector  string `json:"item_selector"`
	TitleSelector string `json:"title_selector"`
	ViewsSelector string `json:"views_selector"`
}

type HarvestConfig struct {
	BreakdownFields  []string `json:"breakdown_fields"`
	IdentityKeys     []string `json:"identity_keys"`
	MagnitudeFields  []string `json:"magnitude_fields"`
	StrictMagnitudes bool     `json:"strict_magnitudes"`
	AllowDuplicates  bool     `json:"allow_duplicates"`
	Limit            int      `json:"limit"`
	MaxPages         int      `json:"max_pages"`
	MinDelayMs       int      `json:"min_delay_ms"`
	BackoffInitialMs int      `json:"backoff_initial_ms"`
	BackoffCeilingMs int      `json:"backoff_ceiling_ms"`
	MaxRetries       int      `json:"max_retries"`
}

func (c HarvestConfig) Options() harvest.Options {
	return harvest.Options{
		BreakdownFields:  c.BreakdownFields,
		IdentityKeys:     c.IdentityKeys,
		MagnitudeFields:  c.MagnitudeFields,
		StrictMagnitudes: c.StrictMagnitudes,
		AllowDuplicates:  c.AllowDuplicates,
		Limit:            c.Limit,
		MaxPages:         c.MaxPages,
		MinDelay:         time.Duration(c.MinDelayMs) * time.Millisecond,
		Backoff: paginate.Options{
			BackoffInitial: time.Duration(c.BackoffInitialMs) * time.Millisecond,
			BackoffCeiling: time.Duration(c.BackoffCeilingMs) * time.Millisecond,
			MaxRetries:     c.MaxRetries,
		},
	}
}

// Config describes one named harvest source. Exactly one of the source
// sections must be set.
type Config struct {
	Name      string           `json:"name"`
	AdLibrary *AdLibraryConfig `json:"ad_library"`
	VideoList *VideoListConfig `json:"video_list"`
	Harvest   HarvestConfig    `json:"harvest"`
}

// Build constructs the fetch capability a config describes. The returned
// close function releases anything the source opened (caches).
func Build(ctx context.Context, cfg Config) (paginate.FetchFunc, func(), error) {
	switch {
	case cfg.AdLibrary != nil && cfg.VideoList != nil:
		return nil, nil, fmt.Errorf("source %q sets more than one source section", cfg.Name)

	case cfg.AdLibrary != nil:
		opts := adlibrary.ClientOptions{
			BaseUrl:              cfg.AdLibrary.BaseUrl,
			AccessToken:          cfg.AdLibrary.AccessToken,
			SearchTerms:          cfg.AdLibrary.SearchTerms,
			Countries:            cfg.AdLibrary.Countries,
			Fields:               cfg.AdLibrary.Fields,
			PageSize:             cfg.AdLibrary.PageSize,
			CanonicalAdvertisers: cfg.AdLibrary.CanonicalAdvertisers,
			CacheLifetime:        time.Duration(cfg.AdLibrary.CacheLifetimeHours) * time.Hour,
		}

		closer := func() {}
		if cfg.AdLibrary.CachePath != "" {
			cache, err := badger.Open(
				badger.DefaultOptions(cfg.AdLibrary.CachePath).WithLogger(nil),
			)
			if err != nil {
				return nil, nil, fmt.Errorf("open response cache: %w", err)
			}
			opts.Cache = cache
			closer = func() { cache.Close() }
		}

		client, err := adlibrary.NewClient(ctx, opts)
		if err != nil {
			closer()
			return nil, nil, err
		}
		return client.Fetch, closer, nil

	case cfg.VideoList != nil:
		client, err := videolist.NewClient(ctx, videolist.ClientOptions{
			BaseUrl:   cfg.VideoList.BaseUrl,
			ListPath:  cfg.VideoList.ListPath,
			PageParam: cfg.VideoList.PageParam,
			Selectors: videolist.Selectors{
				ItemSelector:  cfg.VideoList.ItemSelector,
				TitleSelector: cfg.VideoList.TitleSelector,
				ViewsSelector: cfg.VideoList.ViewsSelector,
			},
		})
		if err != nil {
			return nil, nil, err
		}
		return client.Fetch, func() {}, nil

	default:
		return nil, nil, fmt.Errorf("source %q does not set a source section", cfg.Name)
	}
}
