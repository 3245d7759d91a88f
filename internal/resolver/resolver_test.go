package resolver

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/namesync/namesync/internal/cache"
	"github.com/namesync/namesync/internal/content"
	"github.com/namesync/namesync/internal/ledger"
	"github.com/namesync/namesync/internal/ledger/ledgertest"
)

// refA and refB decode to "sha256:aa" and "sha256:bb".
var (
	refA = []byte{0x01, 0xaa}
	refB = []byte{0x01, 0xbb}
)

type fixture struct {
	l1     *ledgertest.L1
	l2     *ledgertest.L2
	cs     *ledgertest.Store
	cache  *cache.Cache
	engine *Engine
}

func newFixture(t *testing.T, cfg *Config) *fixture {
	t.Helper()

	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.Logger = log.New(io.Discard, "", 0)

	l1 := ledgertest.NewL1()
	l2 := ledgertest.NewL2()
	cs := ledgertest.NewStore()
	c := cache.New()
	cr := content.NewResolver(cs, nil, nil, cfg.Logger)

	e, err := New(l1, l2, cr, c, nil, cfg)
	require.NoError(t, err)
	return &fixture{l1: l1, l2: l2, cs: cs, cache: c, engine: e}
}

// registered installs an unexpired L1 record pointing at refA.
func (f *fixture) registered(key [32]byte) {
	f.l1.SetRecord(key, &ledger.DomainRecord{
		Owner:      [20]byte{0x01},
		ContentRef: refA,
		Expiry:     time.Now().Add(24 * time.Hour),
	})
}

func TestFastTierHappyPath(t *testing.T) {
	f := newFixture(t, nil)
	key := ledger.Namehash("fast.eth")
	f.l2.SetRecord(key, "A", ledger.RecordAnswer{Value: "1.2.3.4", TTL: 600, ContentRef: refA})

	res := f.engine.Resolve(context.Background(), "fast.eth", "A")

	require.NoError(t, res.Err)
	assert.Equal(t, "1.2.3.4", res.Value)
	assert.Equal(t, uint32(600), res.TTL)
	assert.Equal(t, cache.SourceFast, res.Source)
}

func TestCacheHitShortCircuits(t *testing.T) {
	f := newFixture(t, nil)
	key := ledger.Namehash("cached.eth")
	f.l2.SetRecord(key, "A", ledger.RecordAnswer{Value: "1.2.3.4", TTL: 600, ContentRef: refA})

	first := f.engine.Resolve(context.Background(), "cached.eth", "A")
	require.Equal(t, cache.SourceFast, first.Source)
	readsAfterFirst := f.l2.ReadCalls

	second := f.engine.Resolve(context.Background(), "cached.eth", "A")
	assert.Equal(t, cache.SourceCache, second.Source)
	assert.Equal(t, "1.2.3.4", second.Value)
	assert.Equal(t, readsAfterFirst, f.l2.ReadCalls, "cache hit must not touch the fast tier")

	snap := f.engine.Stats()
	assert.Equal(t, uint64(1), snap.CacheHits)
}

func TestSkipCache(t *testing.T) {
	f := newFixture(t, nil)
	key := ledger.Namehash("nocache.eth")
	f.l2.SetRecord(key, "A", ledger.RecordAnswer{Value: "1.2.3.4", TTL: 600})

	f.engine.Resolve(context.Background(), "nocache.eth", "A")
	res := f.engine.Resolve(context.Background(), "nocache.eth", "A", SkipCache())

	assert.Equal(t, cache.SourceFast, res.Source, "SkipCache must bypass the cache lookup")
}

func TestFallbackOnFastTierError(t *testing.T) {
	f := newFixture(t, nil)
	key := ledger.Namehash("failover.eth")
	f.registered(key)
	f.cs.Put("sha256:aa", ledger.RecordSet{"A": {{Value: "9.9.9.9", TTL: 120}}})
	f.l2.ReadErr = errors.New("fast ledger down")

	res := f.engine.Resolve(context.Background(), "failover.eth", "A")

	require.NoError(t, res.Err)
	assert.Equal(t, "9.9.9.9", res.Value, "value must come from the authoritative tier")
	assert.Equal(t, cache.SourceAuthoritative, res.Source)

	snap := f.engine.Stats()
	assert.Equal(t, uint64(1), snap.FastErrors, "fast-tier-error counter must increment exactly once")
}

func TestVerificationTieBreak(t *testing.T) {
	f := newFixture(t, nil)
	key := ledger.Namehash("verify.eth")

	// Fast tier serves stale data written under refA; L1 points at refB.
	f.l2.SetRecord(key, "A", ledger.RecordAnswer{Value: "1.1.1.1", TTL: 600, ContentRef: refA})
	f.l1.SetRecord(key, &ledger.DomainRecord{
		Owner:      [20]byte{0x01},
		ContentRef: refB,
		Expiry:     time.Now().Add(time.Hour),
	})
	f.cs.Put("sha256:bb", ledger.RecordSet{"A": {{Value: "2.2.2.2", TTL: 300}}})

	res := f.engine.Resolve(context.Background(), "verify.eth", "A", WithVerification(true))

	require.NoError(t, res.Err)
	assert.Equal(t, "2.2.2.2", res.Value, "authoritative result supersedes the fast one on ref mismatch")
	assert.Equal(t, cache.SourceAuthoritative, res.Source)

	snap := f.engine.Stats()
	assert.Equal(t, uint64(1), snap.ConsistencyWarnings)
}

func TestVerificationAgreementKeepsFastResult(t *testing.T) {
	f := newFixture(t, nil)
	key := ledger.Namehash("agree.eth")
	f.l2.SetRecord(key, "A", ledger.RecordAnswer{Value: "1.1.1.1", TTL: 600, ContentRef: refA})
	f.registered(key)

	res := f.engine.Resolve(context.Background(), "agree.eth", "A", WithVerification(true))

	assert.Equal(t, "1.1.1.1", res.Value)
	assert.Equal(t, cache.SourceFast, res.Source)
	assert.Zero(t, f.engine.Stats().ConsistencyWarnings)
}

func TestExpiredDomain(t *testing.T) {
	f := newFixture(t, nil)
	key := ledger.Namehash("expired.eth")
	f.l1.SetRecord(key, &ledger.DomainRecord{
		Owner:      [20]byte{0x01},
		ContentRef: refA,
		Expiry:     time.Now().Add(-time.Hour),
	})

	res := f.engine.Resolve(context.Background(), "expired.eth", "A", WithTier(TierAuthoritative))

	assert.True(t, res.Empty())
	assert.ErrorIs(t, res.Err, ErrExpired)
	assert.Equal(t, cache.SourceAuthoritative, res.Source)
	assert.Zero(t, f.cs.FetchCalls, "expired domains must not trigger a content-store call")
}

func TestUnregisteredDomain(t *testing.T) {
	f := newFixture(t, nil)

	res := f.engine.Resolve(context.Background(), "nobody.eth", "A")

	assert.True(t, res.Empty())
	assert.NoError(t, res.Err, "unregistered is a valid empty result, not an error")
	assert.Equal(t, cache.SourceAuthoritative, res.Source)
}

func TestBothTiersFailing(t *testing.T) {
	f := newFixture(t, nil)
	f.l2.ReadErr = errors.New("fast down")
	f.l1.RecordErr = errors.New("authoritative down")

	res := f.engine.Resolve(context.Background(), "dark.eth", "A")

	assert.True(t, res.Empty())
	assert.Equal(t, cache.SourceError, res.Source)
	assert.Error(t, res.Err)
}

func TestUnknownRecordType(t *testing.T) {
	f := newFixture(t, nil)

	res := f.engine.Resolve(context.Background(), "x.eth", "BOGUS")

	assert.Equal(t, cache.SourceError, res.Source)
	assert.ErrorIs(t, res.Err, ErrUnknownType)
	assert.Zero(t, f.l2.ReadCalls, "invalid types are rejected before any tier call")
}

func TestDegradedAuthoritativeTagged(t *testing.T) {
	f := newFixture(t, nil)
	key := ledger.Namehash("shaky.eth")
	f.registered(key)
	// Content store has nothing for refA: the fetch degrades.

	res := f.engine.Resolve(context.Background(), "shaky.eth", "TXT", WithTier(TierAuthoritative))

	assert.Equal(t, cache.SourceFallback, res.Source, "degraded data must be distinguishable")
	assert.Nil(t, res.ContentRef)
	assert.Equal(t, "content unavailable", res.Value)
}

func TestResolvePopulatesCache(t *testing.T) {
	f := newFixture(t, nil)
	key := ledger.Namehash("warm.eth")
	f.registered(key)
	f.cs.Put("sha256:aa", ledger.RecordSet{"A": {{Value: "5.5.5.5"}}})

	res := f.engine.Resolve(context.Background(), "warm.eth", "A", WithTier(TierAuthoritative))
	require.Equal(t, "5.5.5.5", res.Value)
	assert.Equal(t, uint32(3600), res.TTL, "unspecified TTL defaults to 3600")

	entry, ok := f.cache.Get(key, "A")
	require.True(t, ok, "authoritative results populate the cache too")
	assert.Equal(t, "5.5.5.5", entry.Value)
	assert.Equal(t, cache.SourceAuthoritative, entry.Source)
}

func TestResolveBatchFast(t *testing.T) {
	f := newFixture(t, nil)
	key := ledger.Namehash("batch.eth")
	f.l2.SetRecord(key, "A", ledger.RecordAnswer{Value: "1.2.3.4", TTL: 600, ContentRef: refA})
	f.l2.SetRecord(key, "TXT", ledger.RecordAnswer{Value: "hello", TTL: 600, ContentRef: refA})

	results := f.engine.ResolveBatch(context.Background(), "batch.eth", []string{"A", "TXT", "AAAA"})

	require.Len(t, results, 3)
	assert.Equal(t, "1.2.3.4", results[0].Value)
	assert.Equal(t, "hello", results[1].Value)
	assert.True(t, results[2].Empty())
	assert.Equal(t, 1, f.l2.ReadCalls, "batch must use one fast-tier round trip")
}

func TestResolveBatchVerificationTieBreak(t *testing.T) {
	f := newFixture(t, nil)
	key := ledger.Namehash("batchverify.eth")
	f.l2.SetRecord(key, "A", ledger.RecordAnswer{Value: "1.1.1.1", TTL: 600, ContentRef: refA})
	f.l1.SetRecord(key, &ledger.DomainRecord{
		Owner:      [20]byte{0x01},
		ContentRef: refB,
		Expiry:     time.Now().Add(time.Hour),
	})
	f.cs.Put("sha256:bb", ledger.RecordSet{
		"A":   {{Value: "2.2.2.2", TTL: 300}},
		"TXT": {{Value: "fresh"}},
	})

	results := f.engine.ResolveBatch(context.Background(), "batchverify.eth", []string{"A", "TXT"}, WithVerification(true))

	require.Len(t, results, 2)
	assert.Equal(t, "2.2.2.2", results[0].Value)
	assert.Equal(t, "fresh", results[1].Value)
	assert.Equal(t, uint64(1), f.engine.Stats().ConsistencyWarnings)
}

func TestResolveBatchAllCached(t *testing.T) {
	f := newFixture(t, nil)
	key := ledger.Namehash("batchcache.eth")
	f.l2.SetRecord(key, "A", ledger.RecordAnswer{Value: "1.2.3.4", TTL: 600})
	f.l2.SetRecord(key, "TXT", ledger.RecordAnswer{Value: "hi", TTL: 600})

	f.engine.ResolveBatch(context.Background(), "batchcache.eth", []string{"A", "TXT"})
	reads := f.l2.ReadCalls

	results := f.engine.ResolveBatch(context.Background(), "batchcache.eth", []string{"A", "TXT"})

	assert.Equal(t, cache.SourceCache, results[0].Source)
	assert.Equal(t, cache.SourceCache, results[1].Source)
	assert.Equal(t, reads, f.l2.ReadCalls)
}

func TestStatsDerivations(t *testing.T) {
	f := newFixture(t, nil)

	// Stepping clock: every now() call advances 1ms, so each tier call
	// records a positive latency sample.
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	step := 0
	f.engine.now = func() time.Time {
		step++
		return base.Add(time.Duration(step) * time.Millisecond)
	}

	key := ledger.Namehash("stats.eth")
	f.l2.SetRecord(key, "A", ledger.RecordAnswer{Value: "1.2.3.4", TTL: 600})
	f.registered(key)
	f.cs.Put("sha256:aa", ledger.RecordSet{"TXT": {{Value: "t"}}})

	// One fast-tier query, one cache hit, one authoritative query.
	f.engine.Resolve(context.Background(), "stats.eth", "A")
	f.engine.Resolve(context.Background(), "stats.eth", "A")
	f.engine.Resolve(context.Background(), "stats.eth", "TXT", WithTier(TierAuthoritative))

	snap := f.engine.Stats()
	assert.Equal(t, uint64(3), snap.TotalQueries)
	assert.Equal(t, uint64(1), snap.CacheHits)
	assert.InDelta(t, 33.3, snap.CacheHitRate, 0.1)
	assert.Equal(t, uint64(1), snap.FastQueries)
	assert.Equal(t, uint64(1), snap.AuthQueries)
	assert.Positive(t, snap.AvgFastLatency)
	assert.Positive(t, snap.AvgAuthLatency)
	assert.Positive(t, snap.SpeedupRatio, "ratio computable once both tiers have samples")
}

func TestSpeedupRatioZeroWithoutBothTiers(t *testing.T) {
	f := newFixture(t, nil)
	key := ledger.Namehash("onesided.eth")
	f.l2.SetRecord(key, "A", ledger.RecordAnswer{Value: "1.2.3.4", TTL: 600})

	f.engine.Resolve(context.Background(), "onesided.eth", "A")

	assert.Zero(t, f.engine.Stats().SpeedupRatio)
}
