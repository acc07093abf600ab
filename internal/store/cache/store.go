package cache

import (
	"context"
	"fmt"
	"time"

	"push-messenger-backend/internal/model"
	"push-messenger-backend/internal/store"
)

// CachedStore is a read-aside decorator over a store.Store for label lookups.
// Groups are never renamed or deleted, so a cached label->group entry cannot
// go stale. Only hits are cached: an unknown label always reaches the store.
type CachedStore struct {
	store.Store
	cache CacheClient
	ttl   time.Duration
}

// NewCachedStore wraps realStore. Every other Store method passes through.
func NewCachedStore(realStore store.Store, cache CacheClient, ttl time.Duration) *CachedStore {
	return &CachedStore{
		Store: realStore,
		cache: cache,
		ttl:   ttl,
	}
}

// JoinOrCreateGroup serves known labels from the cache.
func (s *CachedStore) JoinOrCreateGroup(ctx context.Context, label string) (*model.Group, error) {
	var cached model.Group
	if err := s.cache.Get(ctx, cacheKey(label), &cached); err == nil {
		return &cached, nil
	}

	group, err := s.Store.JoinOrCreateGroup(ctx, label)
	if err != nil {
		return nil, err
	}
	// Caching is an optimization; a failed write just means another store hit later.
	_ = s.cache.Set(ctx, cacheKey(label), group, s.ttl)
	return group, nil
}

// GroupsByLabels resolves cached labels locally and asks the store for the rest.
func (s *CachedStore) GroupsByLabels(ctx context.Context, labels []string) ([]model.Group, error) {
	groups := make([]model.Group, 0, len(labels))
	seen := make(map[string]struct{}, len(labels))
	var misses []string

	for _, label := range labels {
		if label == "" {
			continue
		}
		if _, ok := seen[label]; ok {
			continue
		}
		seen[label] = struct{}{}

		var cached model.Group
		if err := s.cache.Get(ctx, cacheKey(label), &cached); err == nil {
			groups = append(groups, cached)
			continue
		}
		misses = append(misses, label)
	}

	if len(misses) == 0 {
		return groups, nil
	}

	fresh, err := s.Store.GroupsByLabels(ctx, misses)
	if err != nil {
		return nil, err
	}
	for i := range fresh {
		_ = s.cache.Set(ctx, cacheKey(fresh[i].Label), fresh[i], s.ttl)
	}
	return append(groups, fresh...), nil
}

func cacheKey(label string) string {
	return fmt.Sprintf("push:group:%s", label)
}
