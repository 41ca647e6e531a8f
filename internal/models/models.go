package models

import (
	"encoding/json"
	"time"
)

// RequestDescriptor describes one orchestrated call against a content source.
// Zero values for Timeout and Retries mean "use the source defaults".
type RequestDescriptor struct {
	Endpoint string            `json:"endpoint"`
	Method   string            `json:"method"`
	Params   map[string]string `json:"params,omitempty"`
	Headers  map[string]string `json:"headers,omitempty"`
	Body     []byte            `json:"body,omitempty"`
	Timeout  time.Duration     `json:"timeout,omitempty"`
	Retries  int               `json:"retries,omitempty"`
}

// ResponseMetadata describes how a response was obtained.
type ResponseMetadata struct {
	Source       string        `json:"source"`
	RequestID    string        `json:"request_id"`
	Timestamp    time.Time     `json:"timestamp"`
	Duration     time.Duration `json:"duration"`
	QualityScore int           `json:"quality_score"`
	CacheHit     bool          `json:"cache_hit"`
	FallbackUsed bool          `json:"fallback_used"`
}

// ResponseEnvelope is returned to callers for every successful request.
type ResponseEnvelope struct {
	Data     json.RawMessage  `json:"data"`
	Metadata ResponseMetadata `json:"metadata"`
}

// Statistics is a point-in-time snapshot of orchestrator counters.
type Statistics struct {
	TotalRequests      int64 `json:"total_requests"`
	SuccessfulRequests int64 `json:"successful_requests"`
	FailedRequests     int64 `json:"failed_requests"`
	FallbacksUsed      int64 `json:"fallbacks_used"`
	CacheHits          int64 `json:"cache_hits"`
	CacheSize          int   `json:"cache_size"`
	QueueSize          int   `json:"queue_size"`
}
