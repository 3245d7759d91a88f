package resolver

import (
	"sync"
	"time"
)

// Stats accumulates query statistics. All methods are safe for concurrent
// use; reads take the lock briefly and compute derived values on the spot.
type Stats struct {
	mu sync.RWMutex

	totalQueries uint64
	cacheHits    uint64

	fastQueries uint64
	fastErrors  uint64
	fastLatency time.Duration

	authQueries uint64
	authErrors  uint64
	authLatency time.Duration

	consistencyWarnings uint64
}

func newStats() *Stats {
	return &Stats{}
}

func (s *Stats) query() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalQueries++
}

func (s *Stats) cacheHit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cacheHits++
}

func (s *Stats) tier(t Tier, d time.Duration, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch t {
	case TierFast:
		s.fastQueries++
		s.fastLatency += d
		if err != nil {
			s.fastErrors++
		}
	case TierAuthoritative:
		s.authQueries++
		s.authLatency += d
		if err != nil {
			s.authErrors++
		}
	}
}

func (s *Stats) consistencyWarning() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consistencyWarnings++
}

// Snapshot is a point-in-time view of the statistics with the derived
// metrics already computed.
type Snapshot struct {
	TotalQueries        uint64        `json:"total_queries"`
	CacheHits           uint64        `json:"cache_hits"`
	CacheHitRate        float64       `json:"cache_hit_rate_pct"`
	FastQueries         uint64        `json:"fast_queries"`
	FastErrors          uint64        `json:"fast_errors"`
	AvgFastLatency      time.Duration `json:"avg_fast_latency_ns"`
	AuthQueries         uint64        `json:"authoritative_queries"`
	AuthErrors          uint64        `json:"authoritative_errors"`
	AvgAuthLatency      time.Duration `json:"avg_authoritative_latency_ns"`
	SpeedupRatio        float64       `json:"speedup_ratio"`
	ConsistencyWarnings uint64        `json:"consistency_warnings"`
}

func (s *Stats) snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		TotalQueries:        s.totalQueries,
		CacheHits:           s.cacheHits,
		FastQueries:         s.fastQueries,
		FastErrors:          s.fastErrors,
		AuthQueries:         s.authQueries,
		AuthErrors:          s.authErrors,
		ConsistencyWarnings: s.consistencyWarnings,
	}
	if s.totalQueries > 0 {
		snap.CacheHitRate = 100 * float64(s.cacheHits) / float64(s.totalQueries)
	}
	if s.fastQueries > 0 {
		snap.AvgFastLatency = s.fastLatency / time.Duration(s.fastQueries)
	}
	if s.authQueries > 0 {
		snap.AvgAuthLatency = s.authLatency / time.Duration(s.authQueries)
	}
	// The latency-reduction ratio only means something once both tiers
	// have at least one sample.
	if snap.AvgFastLatency > 0 && snap.AvgAuthLatency > 0 {
		snap.SpeedupRatio = float64(snap.AvgAuthLatency) / float64(snap.AvgFastLatency)
	}
	return snap
}
