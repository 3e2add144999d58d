package ratelimit

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// tokenBucket stores amounts multiplied by precision so partial refills are
// not lost between calls.
type tokenBucket struct {
	tokens     atomic.Int64
	capacity   atomic.Int64
	window     atomic.Int64 // refill period of a full bucket, in nanoseconds
	lastUpdate atomic.Int64
	oldLimit   atomic.Int64
	expireAt   atomic.Int64
}

type rateLimitShard struct {
	buckets        map[string]*tokenBucket
	lastAccessTime map[string]time.Time
	mu             sync.Mutex
}

func (rl *RateLimiter) getShard(key string) *rateLimitShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))

	return rl.shards[h.Sum32()&uint32(rl.numShards-1)]
}

func (rl *RateLimiter) checkBucketLocal(key string, window time.Duration, limit int) (bool, error) {
	shard := rl.getShard(key)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	now := rl.now()
	shard.lastAccessTime[key] = now

	// Buckets outlive their window so a burst right after expiry is still
	// limited.
	ttl := max(maxTTL, window*ttlRate)
	expireAt := now.Add(ttl).UnixNano()

	newCapacity := int64(limit) * precision

	bucket := shard.buckets[key]
	if bucket == nil || now.UnixNano() > bucket.expireAt.Load() {
		bucket = rl.initBucket(shard, key, limit, newCapacity, window, now)
	} else if bucket.oldLimit.Load() != int64(limit) {
		slog.Debug("updating bucket limit", append(rl.logCommonAttrs(), slog.String("key", key), slog.Int64("oldLimit", bucket.oldLimit.Load()), slog.Int("newLimit", limit))...)
		bucket.oldLimit.Store(int64(limit))
		bucket.capacity.Store(newCapacity)
		bucket.window.Store(int64(window))
	}

	bucket.expireAt.Store(expireAt)

	return rl.tryConsume(bucket, now), nil
}

func (rl *RateLimiter) initBucket(shard *rateLimitShard, key string, limit int, capacity int64, window time.Duration, now time.Time) *tokenBucket {
	if _, exists := shard.buckets[key]; !exists && len(shard.buckets) >= maxBucketsPerShard {
		rl.evictOldestBucket(shard, now)
	}

	bucket := &tokenBucket{}
	bucket.capacity.Store(capacity)
	bucket.window.Store(int64(window))
	bucket.tokens.Store(capacity)
	bucket.lastUpdate.Store(now.UnixNano())
	bucket.oldLimit.Store(int64(limit))
	shard.buckets[key] = bucket

	return bucket
}

func (rl *RateLimiter) evictOldestBucket(shard *rateLimitShard, now time.Time) {
	var oldestKey string

	oldestTime := now

	for k, t := range shard.lastAccessTime {
		if t.Before(oldestTime) {
			oldestTime = t
			oldestKey = k
		}
	}

	delete(shard.buckets, oldestKey)
	delete(shard.lastAccessTime, oldestKey)
}

func (rl *RateLimiter) tryConsume(bucket *tokenBucket, now time.Time) bool {
	elapsed := now.UnixNano() - bucket.lastUpdate.Load()
	tokensToAdd := int64(float64(elapsed) / float64(bucket.window.Load()) * float64(bucket.capacity.Load()))

	if tokensToAdd > 0 {
		bucket.tokens.Store(min(bucket.tokens.Load()+tokensToAdd, bucket.capacity.Load()))
		bucket.lastUpdate.Store(now.UnixNano())
	}

	if bucket.tokens.Load() >= precision {
		bucket.tokens.Add(-precision)
		return true
	}

	return false
}

func (rl *RateLimiter) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-ctx.Done():
			return
		}
	}
}

func (rl *RateLimiter) cleanup() {
	now := rl.now().UnixNano()
	removed := 0

	for _, shard := range rl.shards {
		shard.mu.Lock()

		for key, bucket := range shard.buckets {
			if now > bucket.expireAt.Load() {
				delete(shard.buckets, key)
				delete(shard.lastAccessTime, key)

				removed++
			}
		}

		shard.mu.Unlock()
	}

	slog.Debug("cleaned up expired rate limit buckets", append(rl.logCommonAttrs(), slog.Int("removed", removed))...)
}
