package cache

import (
	"sync"
	"sync/atomic"
	"time"
)

// Statistics tracks cache performance counters.
type Statistics struct {
	hits          atomic.Int64
	misses        atomic.Int64
	computations  atomic.Int64
	computeErrors atomic.Int64
	evictions     atomic.Int64
	expirations   atomic.Int64

	// Protected by mutex
	mu          sync.RWMutex
	startTime   time.Time
	currentSize int64
	maxSize     int64
}

// NewStatistics creates a new statistics tracker.
func NewStatistics() *Statistics {
	return &Statistics{
		startTime: time.Now(),
	}
}

// Hit records a lookup served from a live entry.
func (s *Statistics) Hit() {
	s.hits.Add(1)
}

// Miss records a lookup that found no live entry.
func (s *Statistics) Miss() {
	s.misses.Add(1)
}

// Computation records a successful compute whose result was stored.
func (s *Statistics) Computation() {
	s.computations.Add(1)
}

// ComputeError records a compute that failed and stored nothing.
func (s *Statistics) ComputeError() {
	s.computeErrors.Add(1)
}

// Eviction records an entry removed to respect capacity.
func (s *Statistics) Eviction() {
	s.evictions.Add(1)
}

// Expiration records an entry removed after its time-to-live.
func (s *Statistics) Expiration() {
	s.expirations.Add(1)
}

// UpdateSize updates the current cache size.
func (s *Statistics) UpdateSize(size int64) {
	s.mu.Lock()
	s.currentSize = size
	if size > s.maxSize {
		s.maxSize = size
	}
	s.mu.Unlock()
}

// Hits returns the total number of cache hits.
func (s *Statistics) Hits() int64 {
	return s.hits.Load()
}

// Misses returns the total number of cache misses.
func (s *Statistics) Misses() int64 {
	return s.misses.Load()
}

// Computations returns the number of successful computations.
func (s *Statistics) Computations() int64 {
	return s.computations.Load()
}

// ComputeErrors returns the number of failed computations.
func (s *Statistics) ComputeErrors() int64 {
	return s.computeErrors.Load()
}

// Evictions returns the number of capacity evictions.
func (s *Statistics) Evictions() int64 {
	return s.evictions.Load()
}

// Expirations returns the number of entries removed after their time-to-live.
func (s *Statistics) Expirations() int64 {
	return s.expirations.Load()
}

// CurrentSize returns the number of entries after the last mutation.
func (s *Statistics) CurrentSize() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentSize
}

// MaxSize returns the largest number of entries the cache has held.
func (s *Statistics) MaxSize() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maxSize
}

// HitRatio returns hits / (hits + misses), 0 when there were no lookups.
func (s *Statistics) HitRatio() float64 {
	hits := s.Hits()
	total := hits + s.Misses()
	if total == 0 {
		return 0.0
	}
	return float64(hits) / float64(total)
}

// RequestsPerSecond returns the average number of lookups per second since start.
func (s *Statistics) RequestsPerSecond() float64 {
	elapsed := s.Uptime()
	if elapsed == 0 {
		return 0.0
	}
	return float64(s.Hits()+s.Misses()) / elapsed.Seconds()
}

// Uptime returns how long the statistics have been collected.
func (s *Statistics) Uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Since(s.startTime)
}

// Reset resets all statistics to zero.
func (s *Statistics) Reset() {
	s.hits.Store(0)
	s.misses.Store(0)
	s.computations.Store(0)
	s.computeErrors.Store(0)
	s.evictions.Store(0)
	s.expirations.Store(0)

	s.mu.Lock()
	s.startTime = time.Now()
	s.currentSize = 0
	s.maxSize = 0
	s.mu.Unlock()
}

// StatsSummary is a point-in-time copy of Statistics.
type StatsSummary struct {
	Hits              int64         `json:"hits"`
	Misses            int64         `json:"misses"`
	Computations      int64         `json:"computations"`
	ComputeErrors     int64         `json:"compute_errors"`
	Evictions         int64         `json:"evictions"`
	Expirations       int64         `json:"expirations"`
	CurrentSize       int64         `json:"current_size"`
	MaxSize           int64         `json:"max_size"`
	HitRatio          float64       `json:"hit_ratio"`
	RequestsPerSecond float64       `json:"requests_per_second"`
	Uptime            time.Duration `json:"uptime"`
}

// Summary returns a snapshot of all statistics.
func (s *Statistics) Summary() StatsSummary {
	return StatsSummary{
		Hits:              s.Hits(),
		Misses:            s.Misses(),
		Computations:      s.Computations(),
		ComputeErrors:     s.ComputeErrors(),
		Evictions:         s.Evictions(),
		Expirations:       s.Expirations(),
		CurrentSize:       s.CurrentSize(),
		MaxSize:           s.MaxSize(),
		HitRatio:          s.HitRatio(),
		RequestsPerSecond: s.RequestsPerSecond(),
		Uptime:            s.Uptime(),
	}
}
