package models

import "time"

// CacheEntry stores a cached delegation result.
type CacheEntry struct {
	Key       string    `json:"key"`
	Value     []byte    `json:"value"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the entry is dead at now.
func (e *CacheEntry) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// CacheStats reports cache performance metrics.
type CacheStats struct {
	Enabled     bool    `json:"enabled"`
	Entries     int64   `json:"entries"`
	MaxEntries  int64   `json:"max_entries"`
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	HitRate     float64 `json:"hit_rate"`
	ApproxBytes int64   `json:"approx_bytes"`
}
