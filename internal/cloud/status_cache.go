package cloud

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const DefaultStatusTTL = 30 * time.Second

type statusEntry struct {
	status    string
	fetchedAt time.Time
}

// CachedStatus wraps a StatusSource so each video's status is fetched at
// most once per TTL. A failed fetch falls back to the last known status.
type CachedStatus struct {
	source StatusSource
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time

	mu      sync.RWMutex
	entries map[string]statusEntry
}

var _ StatusSource = (*CachedStatus)(nil)

func NewCachedStatus(source StatusSource, ttl time.Duration, logger *slog.Logger) *CachedStatus {
	if ttl <= 0 {
		ttl = DefaultStatusTTL
	}
	return &CachedStatus{
		source:  source,
		ttl:     ttl,
		logger:  logger,
		now:     time.Now,
		entries: make(map[string]statusEntry),
	}
}

// VideoStatus returns the cached status if fresh, otherwise re-fetches.
func (c *CachedStatus) VideoStatus(ctx context.Context, indexID, videoID string) (string, error) {
	key := indexID + "/" + videoID

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if ok && c.now().Sub(entry.fetchedAt) < c.ttl {
		return entry.status, nil
	}

	status, err := c.source.VideoStatus(ctx, indexID, videoID)
	if err != nil {
		if ok {
			c.logger.Warn("status lookup failed, using stale value",
				"video_id", videoID, "status", entry.status, "error", err)
			return entry.status, nil
		}
		return "", err
	}

	c.mu.Lock()
	c.entries[key] = statusEntry{status: status, fetchedAt: c.now()}
	c.mu.Unlock()
	return status, nil
}

// Invalidate drops the cached status of one video.
func (c *CachedStatus) Invalidate(indexID, videoID string) {
	c.mu.Lock()
	delete(c.entries, indexID+"/"+videoID)
	c.mu.Unlock()
}
