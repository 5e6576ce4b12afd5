package adlibrary

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"time"

	"github.com/PuerkitoBio/purell"
	"github.com/dgraph-io/badger/v4"
	"go.opentelemetry.io/otel/codes"
)

type cachedResponse struct {
	Body      []byte
	ExpiresAt int64
}

// responseCache stores raw response bodies keyed by normalized request
// URL so repeated harvests within the lifetime window replay instead of
// refetch.
type responseCache struct {
	db       *badger.DB
	lifetime time.Duration
}

func normalizeCacheKey(rawUrl string) ([]byte, error) {
	normalized, err := purell.NormalizeURLString(
		rawUrl,
		purell.FlagsUsuallySafeGreedy|purell.FlagSortQuery,
	)
	if err != nil {
		return nil, err
	}
	return []byte(normalized), nil
}

func (c *responseCache) get(ctx context.Context, rawUrl string) ([]byte, error) {
	_, span := tracer.Start(ctx, "responseCache:get")
	defer span.End()

	key, err := normalizeCacheKey(rawUrl)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "normalize url")
		return nil, err
	}

	var cached cachedResponse
	err = c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return gob.NewDecoder(bytes.NewReader(val)).Decode(&cached)
		})
	})
	if err != nil {
		return nil, err
	}

	if time.Now().Unix() >= cached.ExpiresAt {
		err = c.db.Update(func(txn *badger.Txn) error {
			return txn.Delete(key)
		})
		if err != nil {
			span.RecordError(err)
		}
		return nil, fmt.Errorf("cache entry expired")
	}
	return cached.Body, nil
}

func (c *responseCache) set(ctx context.Context, rawUrl string, body []byte) error {
	_, span := tracer.Start(ctx, "responseCache:set")
	defer span.End()

	key, err := normalizeCacheKey(rawUrl)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "normalize url")
		return err
	}

	var buf bytes.Buffer
	err = gob.NewEncoder(&buf).Encode(cachedResponse{
		Body:      body,
		ExpiresAt: time.Now().Add(c.lifetime).Unix(),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "encode entry")
		return err
	}

	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, buf.Bytes())
	})
}
