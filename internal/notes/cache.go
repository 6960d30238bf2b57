package notes

import (
	"crypto/md5"
	"encoding/hex"
	"sort"
	"sync"
	"time"
)

// resultCache caches AI responses to avoid duplicate API calls. Many
// roasters sell several lots with identical tasting copy, so hit rates
// are meaningful in practice.
type resultCache struct {
	mu            sync.RWMutex
	cache         map[string]cachedResult
	ttl           time.Duration
	maxSize       int
	cleanupTicker *time.Ticker
	stopChan      chan bool
}

type cachedResult struct {
	notes     []string
	timestamp time.Time
}

func newResultCache(ttl time.Duration, maxSize int) *resultCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if maxSize <= 0 {
		maxSize = 1000
	}
	c := &resultCache{
		cache:    make(map[string]cachedResult),
		ttl:      ttl,
		maxSize:  maxSize,
		stopChan: make(chan bool, 1),
	}
	c.startCleanup()
	return c
}

func (c *resultCache) startCleanup() {
	c.cleanupTicker = time.NewTicker(30 * time.Minute)
	go func() {
		for {
			select {
			case <-c.cleanupTicker.C:
				c.cleanupExpired()
			case <-c.stopChan:
				c.cleanupTicker.Stop()
				return
			}
		}
	}()
}

// cleanupExpired removes expired entries and evicts the oldest entries
// when the cache grows past maxSize.
func (c *resultCache) cleanupExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, cached := range c.cache {
		if now.Sub(cached.timestamp) > c.ttl {
			delete(c.cache, key)
		}
	}

	if len(c.cache) > c.maxSize {
		type entry struct {
			key       string
			timestamp time.Time
		}
		entries := make([]entry, 0, len(c.cache))
		for key, cached := range c.cache {
			entries = append(entries, entry{key: key, timestamp: cached.timestamp})
		}
		sort.Slice(entries, func(i, j int) bool {
			return entries[i].timestamp.Before(entries[j].timestamp)
		})
		for i := 0; i < len(c.cache)-c.maxSize; i++ {
			delete(c.cache, entries[i].key)
		}
	}
}

func (c *resultCache) Stop() {
	select {
	case c.stopChan <- true:
	default:
	}
}

func (c *resultCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}

func (c *resultCache) Get(key string) ([]string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cached, exists := c.cache[key]
	if !exists || time.Since(cached.timestamp) > c.ttl {
		return nil, false
	}
	out := make([]string, len(cached.notes))
	copy(out, cached.notes)
	return out, true
}

func (c *resultCache) Set(key string, notes []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	stored := make([]string, len(notes))
	copy(stored, notes)
	c.cache[key] = cachedResult{notes: stored, timestamp: time.Now()}
}

// cacheKey hashes the inputs that affect the AI response.
func cacheKey(model, raw string) string {
	hash := md5.Sum([]byte(model + "|" + raw))
	return hex.EncodeToString(hash[:])
}
