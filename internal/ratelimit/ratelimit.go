package ratelimit

import (
	"sync"
	"time"
)

// Bucket is a token bucket granting a fixed number of requests per window.
// Tokens refill continuously at requests/window rate.
type Bucket struct {
	mu         sync.Mutex
	capacity   float64
	tokens     float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

// NewBucket creates a bucket allowing requests calls per window. A
// non-positive requests or window disables limiting (Allow always true).
func NewBucket(requests int, window time.Duration) *Bucket {
	if requests <= 0 || window <= 0 {
		return &Bucket{}
	}
	capacity := float64(requests)
	return &Bucket{
		capacity:   capacity,
		tokens:     capacity,
		refillRate: capacity / window.Seconds(),
		lastRefill: time.Now(),
	}
}

// Allow consumes one token if available.
func (b *Bucket) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.capacity == 0 {
		return true
	}

	now := time.Now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * b.refillRate
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
		b.lastRefill = now
	}

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// Remaining returns the number of whole tokens currently available.
func (b *Bucket) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.capacity == 0 {
		return -1
	}
	return int(b.tokens)
}
