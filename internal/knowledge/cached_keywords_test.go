package knowledge

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type countingSource struct {
	dict  *Dictionary
	err   error
	loads int
}

func (s *countingSource) Load(_ context.Context) (*Dictionary, error) {
	s.loads++
	if s.err != nil {
		return nil, s.err
	}
	return s.dict, nil
}

func TestCachedKeywordSourceCachesSnapshot(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	source := &countingSource{dict: NewDictionary(map[string][]string{"skin": {"acne"}})}
	cached := NewCachedKeywordSource(source, client, time.Minute, nil)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		dict, err := cached.Load(ctx)
		if err != nil {
			t.Fatalf("load %d failed: %v", i, err)
		}
		if !dict.Has("skin") {
			t.Fatalf("load %d missing category", i)
		}
	}
	if source.loads != 1 {
		t.Errorf("expected a single source load, got %d", source.loads)
	}
}

func TestCachedKeywordSourceExpiryRefetches(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	source := &countingSource{dict: NewDictionary(map[string][]string{"hair": {"loss"}})}
	cached := NewCachedKeywordSource(source, client, time.Minute, nil)

	ctx := context.Background()
	if _, err := cached.Load(ctx); err != nil {
		t.Fatalf("first load: %v", err)
	}
	mr.FastForward(2 * time.Minute)
	if _, err := cached.Load(ctx); err != nil {
		t.Fatalf("second load: %v", err)
	}
	if source.loads != 2 {
		t.Errorf("expected reload after expiry, got %d loads", source.loads)
	}
}

func TestCachedKeywordSourceInvalidate(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	source := &countingSource{dict: NewDictionary(map[string][]string{"diet": {"weight"}})}
	cached := NewCachedKeywordSource(source, client, time.Hour, nil)

	ctx := context.Background()
	if _, err := cached.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cached.Invalidate(ctx); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, err := cached.Load(ctx); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if source.loads != 2 {
		t.Errorf("expected reload after invalidate, got %d loads", source.loads)
	}
}

func TestCachedKeywordSourcePropagatesSourceError(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	source := &countingSource{err: errors.New("db down")}
	cached := NewCachedKeywordSource(source, client, time.Minute, nil)

	if _, err := cached.Load(context.Background()); err == nil {
		t.Fatal("expected error from source")
	}
}
