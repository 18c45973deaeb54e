package db

import (
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// Cache keys are tracked per group so that a whole group can be dropped
// when the data behind it changes.
type keyGroup struct {
	sync.RWMutex
	m map[string]struct{}
}

func newKeyGroup() *keyGroup {
	return &keyGroup{m: make(map[string]struct{})}
}

var (
	Cache             *ristretto.Cache[string, any]
	SnapshotCacheKeys = newKeyGroup()
	RateCacheKeys     = newKeyGroup()
)

// SnapshotTTL bounds how stale a dictionary snapshot can get when another
// process edits the dictionaries.
const SnapshotTTL = 5 * time.Minute

func InitCache(maxCost int64) error {
	var err error
	Cache, err = ristretto.NewCache(&ristretto.Config[string, any]{
		NumCounters:        maxCost * 10, // number of keys to track frequency of
		MaxCost:            maxCost,
		BufferItems:        64, // number of keys per Get buffer
		IgnoreInternalCost: true,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	return nil
}

func (g *keyGroup) set(key string, value any, ttl time.Duration) {
	if Cache == nil {
		return
	}
	g.Lock()
	g.m[key] = struct{}{}
	g.Unlock()
	Cache.SetWithTTL(key, value, 1, ttl)
	Cache.Wait()
}

func (g *keyGroup) get(key string) (any, bool) {
	if Cache == nil {
		return nil, false
	}
	return Cache.Get(key)
}

func (g *keyGroup) clear() {
	if Cache == nil {
		return
	}
	g.Lock()
	for key := range g.m {
		Cache.Del(key)
	}
	g.m = make(map[string]struct{})
	g.Unlock()
}

// Snapshot Cache Functions
func SetSnapshotCache(cacheKey string, value any) {
	SnapshotCacheKeys.set(cacheKey, value, SnapshotTTL)
}

func GetSnapshotCache(cacheKey string) (any, bool) {
	return SnapshotCacheKeys.get(cacheKey)
}

func ClearAllSnapshotCaches() {
	SnapshotCacheKeys.clear()
}

// Rate Cache Functions
func SetRateCache(cacheKey string, value any) {
	RateCacheKeys.set(cacheKey, value, SnapshotTTL)
}

func GetRateCache(cacheKey string) (any, bool) {
	return RateCacheKeys.get(cacheKey)
}

func ClearAllRateCaches() {
	RateCacheKeys.clear()
}

func ClearAllCaches() {
	ClearAllSnapshotCaches()
	ClearAllRateCaches()
}
