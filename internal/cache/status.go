// Package cache mirrors scan status into Redis for low-latency polling.
// Entries carry their own TTL, independent of the durable record, so a
// processor crash mid-attempt leaves nothing stuck: stale entries expire on
// their own.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tcthien/ada-wacg-compliance-sub012/internal/model"
)

const (
	statusKeyPrefix   = "scan:status:"
	progressKeyPrefix = "scan:progress:"
)

// StatusEntry is the cached view of one scan, consumed by the polling
// status endpoint.
type StatusEntry struct {
	Status       model.ScanStatus `json:"status"`
	URL          string           `json:"url"`
	CreatedAt    time.Time        `json:"createdAt"`
	CompletedAt  *time.Time       `json:"completedAt,omitempty"`
	ErrorMessage string           `json:"errorMessage,omitempty"`
}

// StatusCache stores status entries and progress integers per scan.
type StatusCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func New(rdb *redis.Client, ttl time.Duration) *StatusCache {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &StatusCache{rdb: rdb, ttl: ttl}
}

// SetStatus writes the status entry for a scan, refreshing its TTL.
func (c *StatusCache) SetStatus(ctx context.Context, scanID string, entry StatusEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding status entry: %w", err)
	}
	if err := c.rdb.Set(ctx, statusKeyPrefix+scanID, payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("caching status for scan %s: %w", scanID, err)
	}
	return nil
}

// GetStatus reads the status entry; a nil entry means the key expired or
// was never written.
func (c *StatusCache) GetStatus(ctx context.Context, scanID string) (*StatusEntry, error) {
	raw, err := c.rdb.Get(ctx, statusKeyPrefix+scanID).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading status for scan %s: %w", scanID, err)
	}
	var entry StatusEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("decoding status for scan %s: %w", scanID, err)
	}
	return &entry, nil
}

// SetProgress writes the progress percentage (0-100).
func (c *StatusCache) SetProgress(ctx context.Context, scanID string, pct int) error {
	if pct < 0 {
		pct = 0
	} else if pct > 100 {
		pct = 100
	}
	if err := c.rdb.Set(ctx, progressKeyPrefix+scanID, pct, c.ttl).Err(); err != nil {
		return fmt.Errorf("caching progress for scan %s: %w", scanID, err)
	}
	return nil
}

// GetProgress reads the progress percentage; -1 means no entry.
func (c *StatusCache) GetProgress(ctx context.Context, scanID string) (int, error) {
	raw, err := c.rdb.Get(ctx, progressKeyPrefix+scanID).Result()
	if err == redis.Nil {
		return -1, nil
	}
	if err != nil {
		return -1, fmt.Errorf("reading progress for scan %s: %w", scanID, err)
	}
	pct, err := strconv.Atoi(raw)
	if err != nil {
		return -1, fmt.Errorf("decoding progress for scan %s: %w", scanID, err)
	}
	return pct, nil
}
