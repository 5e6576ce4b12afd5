package sources

import (
	"context"
	"testing"
	"time"

	"adharvest/lib/harvest"
	"adharvest/lib/paginate"
	"adharvest/lib/telemetry"

	"github.com/stretchr/testify/require"
)

func adLibrarySection() *AdLibraryConfig {
	return &AdLibraryConfig{
		BaseUrl:     "https://archive.example.com/v19.0",
		AccessToken: "secret",
		SearchTerms: "widgets",
	}
}

func videoListSection() *VideoListConfig {
	return &VideoListConfig{
		BaseUrl:      "https://videos.example.com",
		ListPath:     "/videos",
		ItemSelector: "li.video",
	}
}

func TestBuild(t *testing.T) {
	cleanup := telemetry.SetupForTesting("test:sources")
	defer cleanup()
	ctx := context.Background()

	for _, test := range []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name:    "no source section",
			config:  Config{Name: "empty"},
			wantErr: true,
		},
		{
			name: "more than one source section",
			config: Config{
				Name:      "both",
				AdLibrary: adLibrarySection(),
				VideoList: videoListSection(),
			},
			wantErr: true,
		},
		{
			name:   "ad library",
			config: Config{Name: "ads", AdLibrary: adLibrarySection()},
		},
		{
			name: "ad library requires a token",
			config: Config{
				Name:      "ads",
				AdLibrary: &AdLibraryConfig{BaseUrl: "https://archive.example.com"},
			},
			wantErr: true,
		},
		{
			name:   "video list",
			config: Config{Name: "videos", VideoList: videoListSection()},
		},
		{
			name: "video list requires an item selector",
			config: Config{
				Name:      "videos",
				VideoList: &VideoListConfig{BaseUrl: "https://videos.example.com"},
			},
			wantErr: true,
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			fetch, closer, err := Build(ctx, test.config)
			if test.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, fetch)
			require.NotNil(t, closer)
			closer()
		})
	}
}

func TestBuildOpensResponseCache(t *testing.T) {
	cleanup := telemetry.SetupForTesting("test:sources")
	defer cleanup()

	section := adLibrarySection()
	section.CachePath = t.TempDir()
	section.CacheLifetimeHours = 1

	fetch, closer, err := Build(context.Background(), Config{
		Name:      "ads",
		AdLibrary: section,
	})
	require.NoError(t, err)
	require.NotNil(t, fetch)
	closer()
}

func TestHarvestConfigOptions(t *testing.T) {
	opts := HarvestConfig{
		IdentityKeys:     []string{"id"},
		Limit:            500,
		MaxPages:         20,
		MinDelayMs:       250,
		BackoffInitialMs: 100,
		BackoffCeilingMs: 5000,
		MaxRetries:       4,
	}.Options()

	require.Equal(t, harvest.Options{
		IdentityKeys: []string{"id"},
		Limit:        500,
		MaxPages:     20,
		MinDelay:     time.Millisecond * 250,
		Backoff: paginate.Options{
			BackoffInitial: time.Millisecond * 100,
			BackoffCeiling: time.Second * 5,
			MaxRetries:     4,
		},
	}, opts)
}
