package main

// downloadBody is the body of the map download commands
type downloadBody struct {
	URL string `json:"url"`
}

// enqueueResponse is returned with 202 by the enqueue commands
type enqueueResponse struct {
	CacheKey string `json:"cacheKey"`
}

type artifactStatusResponse struct {
	Cached bool `json:"cached"`
}

type errorResponse struct {
	Error          string `json:"error"`
	UpstreamStatus int    `json:"upstreamStatus,omitempty"`
}

// cacheKeysResponse lists stored keys of one bucket in key order
type cacheKeysResponse struct {
	Bucket    string   `json:"bucket"`
	Count     int      `json:"count"`
	Truncated bool     `json:"truncated"`
	Keys      []string `json:"keys"`
}

// CacheStatsResponse is the response format for the /cache endpoint
type CacheStatsResponse struct {
	Buckets     map[string]BucketSummary `json:"buckets"`
	TotalKeys   int                      `json:"total_keys"`
	SizeInKB    int                      `json:"size_kb"`
	SizeInMB    float64                  `json:"size_mb"`
	Performance CachePerformance         `json:"performance"`
}

type BucketSummary struct {
	Keys     int  `json:"keys"`
	SizeKB   int  `json:"size_kb"`
	InMemory bool `json:"in_memory"`
}

// CachePerformance contains cache hit/miss statistics
type CachePerformance struct {
	Hits         int64   `json:"hits"`
	Misses       int64   `json:"misses"`
	NegativeHits int64   `json:"negative_hits"`
	HitRate      float64 `json:"hit_rate_percent"`
}
