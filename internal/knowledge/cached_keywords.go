package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/medihim/ippo-platform/pkg/logging"
	"github.com/redis/go-redis/v9"
)

const keywordCacheKey = "classify:keywords"

// CachedKeywordSource fronts a KeywordSource with a Redis snapshot so every
// pipeline run does not hit Postgres for the same dictionary. Cache failures
// fall through to the underlying source.
type CachedKeywordSource struct {
	source KeywordSource
	client *redis.Client
	ttl    time.Duration
	logger *logging.Logger
}

func NewCachedKeywordSource(source KeywordSource, client *redis.Client, ttl time.Duration, logger *logging.Logger) *CachedKeywordSource {
	if source == nil {
		panic("knowledge: keyword source required")
	}
	if client == nil {
		panic("knowledge: redis client required")
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &CachedKeywordSource{source: source, client: client, ttl: ttl, logger: logger}
}

// Load returns the cached dictionary when present, otherwise loads from the
// underlying source and repopulates the cache.
func (c *CachedKeywordSource) Load(ctx context.Context) (*Dictionary, error) {
	data, err := c.client.Get(ctx, keywordCacheKey).Bytes()
	if err == nil {
		var entries map[string][]string
		if jsonErr := json.Unmarshal(data, &entries); jsonErr == nil {
			return NewDictionary(entries), nil
		}
		c.logger.Warn("corrupt keyword cache entry, reloading from source")
	} else if err != redis.Nil {
		c.logger.Warn("keyword cache read failed", "error", err.Error())
	}

	dict, err := c.source.Load(ctx)
	if err != nil {
		return nil, err
	}

	entries := make(map[string][]string, dict.Len())
	for _, cat := range dict.Categories() {
		entries[cat] = dict.KeywordsFor(cat)
	}
	payload, err := json.Marshal(entries)
	if err != nil {
		return nil, fmt.Errorf("knowledge: marshal keyword cache: %w", err)
	}
	if err := c.client.Set(ctx, keywordCacheKey, payload, c.ttl).Err(); err != nil {
		c.logger.Warn("keyword cache write failed", "error", err.Error())
	}
	return dict, nil
}

// Invalidate drops the cached snapshot so the next Load hits the source.
func (c *CachedKeywordSource) Invalidate(ctx context.Context) error {
	if err := c.client.Del(ctx, keywordCacheKey).Err(); err != nil {
		return fmt.Errorf("knowledge: invalidate keyword cache: %w", err)
	}
	return nil
}
