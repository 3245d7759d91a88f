package resolver

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/namesync/namesync/internal/cache"
	"github.com/namesync/namesync/internal/content"
	"github.com/namesync/namesync/internal/event"
	"github.com/namesync/namesync/internal/ledger"
)

// ResolveBatch answers several record types for one domain in one tier
// round trip. Verification compares a single aggregate content reference
// for the whole batch, not per type.
//
// The returned slice has one Result per requested type, in request order.
func (e *Engine) ResolveBatch(ctx context.Context, name string, rtypes []string, opts ...Option) []Result {
	o := e.buildOpts(opts)
	e.stats.query()

	results := make([]Result, len(rtypes))
	normalized := make([]string, len(rtypes))
	for i, rt := range rtypes {
		rt = strings.ToUpper(rt)
		normalized[i] = rt
		results[i] = Result{Domain: name, Type: rt}
		if !validType(rt) {
			results[i].Source = cache.SourceError
			results[i].Err = fmt.Errorf("%w: %q", ErrUnknownType, rt)
		}
	}
	for _, r := range results {
		if r.Err != nil {
			return results
		}
	}

	key := ledger.Namehash(name)

	if !o.skipCache && e.fillFromCache(key, normalized, results) {
		e.stats.cacheHit()
		return results
	}

	switch o.tier {
	case TierAuthoritative:
		e.batchAuthoritative(ctx, name, key, normalized, results)
	case TierFast:
		e.batchFast(ctx, name, key, normalized, results)
	default:
		ok := e.batchFast(ctx, name, key, normalized, results)
		if !ok {
			e.batchAuthoritative(ctx, name, key, normalized, results)
		} else if o.verify {
			e.verifyBatch(ctx, name, key, normalized, results)
		}
	}

	for i, rt := range normalized {
		e.populateCache(key, rt, results[i])
	}
	return results
}

// fillFromCache returns true only when every requested type has a live
// cache entry; a partial hit falls through to the ledgers.
func (e *Engine) fillFromCache(key common.Hash, rtypes []string, results []Result) bool {
	entries := make([]cache.Entry, len(rtypes))
	for i, rt := range rtypes {
		entry, ok := e.cache.Get(key, rt)
		if !ok {
			return false
		}
		entries[i] = entry
	}
	for i, entry := range entries {
		results[i].Value = entry.Value
		results[i].TTL = entry.TTL
		results[i].ContentRef = entry.ContentRef
		results[i].Source = cache.SourceCache
	}
	return true
}

// batchFast fills results from one fast-ledger batch read. It reports
// false when the read failed or returned nothing, which sends the caller
// to the authoritative tier.
func (e *Engine) batchFast(ctx context.Context, name string, key common.Hash, rtypes []string, results []Result) bool {
	tctx, cancel := context.WithTimeout(ctx, e.cfg.TierTimeout)
	defer cancel()

	start := e.now()
	answers, err := e.l2.BatchRecords(tctx, key, rtypes)
	e.stats.tier(TierFast, e.now().Sub(start), err)

	if err != nil {
		e.cfg.Logger.Printf("Fast tier batch read failed for %s: %v", name, err)
		for i := range results {
			results[i].Source = cache.SourceError
			results[i].Err = err
		}
		return false
	}
	if len(answers) != len(rtypes) {
		e.cfg.Logger.Printf("Fast tier batch for %s returned %d answers for %d types", name, len(answers), len(rtypes))
		return false
	}

	any := false
	for i, ans := range answers {
		results[i].Source = cache.SourceFast
		results[i].Err = nil
		if ans.Value == "" {
			continue
		}
		any = true
		results[i].Value = ans.Value
		results[i].TTL = ans.TTL
		if results[i].TTL == 0 {
			results[i].TTL = e.cfg.DefaultTTL
		}
		results[i].ContentRef = ans.ContentRef
	}
	return any
}

// batchAuthoritative fills results from one L1 read plus one content fetch.
func (e *Engine) batchAuthoritative(ctx context.Context, name string, key common.Hash, rtypes []string, results []Result) {
	tctx, cancel := context.WithTimeout(ctx, e.cfg.TierTimeout)
	defer cancel()

	start := e.now()
	rec, err := e.l1.DomainRecord(tctx, key)
	e.stats.tier(TierAuthoritative, e.now().Sub(start), err)

	if err != nil {
		e.cfg.Logger.Printf("Authoritative tier batch read failed for %s: %v", name, err)
		for i := range results {
			results[i].Source = cache.SourceError
			results[i].Err = err
		}
		return
	}

	e.fillBatchFromRecord(ctx, key, rtypes, results, rec)
}

func (e *Engine) fillBatchFromRecord(ctx context.Context, key common.Hash, rtypes []string, results []Result, rec *ledger.DomainRecord) {
	for i := range results {
		results[i].Source = cache.SourceAuthoritative
		results[i].Err = nil
		results[i].Value = ""
		results[i].TTL = 0
		results[i].ContentRef = nil
	}
	if !rec.Registered() {
		return
	}
	if rec.Expired(e.now()) {
		for i := range results {
			results[i].Err = ErrExpired
		}
		return
	}
	if len(rec.ContentRef) == 0 {
		return
	}

	rs, degraded := e.content.Fetch(ctx, rec.ContentRef)
	for i, rt := range rtypes {
		if degraded {
			results[i].Source = cache.SourceFallback
		} else {
			results[i].ContentRef = rec.ContentRef
		}
		values := rs[rt]
		if len(values) == 0 {
			continue
		}
		results[i].Value = content.CanonicalValue(values[0].Value)
		results[i].TTL = values[0].TTL
		if results[i].TTL == 0 {
			results[i].TTL = e.cfg.DefaultTTL
		}
	}
}

// verifyBatch compares the batch's aggregate content reference (the first
// non-empty one among the fast answers) against the authoritative record.
func (e *Engine) verifyBatch(ctx context.Context, name string, key common.Hash, rtypes []string, results []Result) {
	var aggregate []byte
	for _, r := range results {
		if len(r.ContentRef) > 0 {
			aggregate = r.ContentRef
			break
		}
	}

	tctx, cancel := context.WithTimeout(ctx, e.cfg.TierTimeout)
	defer cancel()

	start := e.now()
	rec, err := e.l1.DomainRecord(tctx, key)
	e.stats.tier(TierAuthoritative, e.now().Sub(start), err)

	if err != nil {
		e.cfg.Logger.Printf("Batch verification read failed for %s, keeping fast results: %v", name, err)
		return
	}
	if bytes.Equal(aggregate, rec.ContentRef) {
		return
	}

	e.stats.consistencyWarning()
	e.cfg.Logger.Printf("WARNING: fast tier batch disagrees with authoritative for %s (fast ref %x, auth ref %x)",
		name, aggregate, rec.ContentRef)
	event.Publish(e.sink, event.TypeConsistencyWarning, map[string]string{
		"domain": name,
		"types":  strings.Join(rtypes, ","),
	})

	e.fillBatchFromRecord(ctx, key, rtypes, results, rec)
}
