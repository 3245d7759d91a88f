// Package resolver answers record queries through the tiered trust model:
// cache, then the fast ledger, then the authoritative ledger.
//
// The default policy prefers the fast tier and treats the authoritative
// tier as the fallback and the tie-break winner under verification. No
// error escapes Resolve or ResolveBatch: every path terminates in a
// structured Result, and domain-state conditions (unregistered, expired)
// are empty results, not faults.
package resolver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/miekg/dns"

	"github.com/namesync/namesync/internal/cache"
	"github.com/namesync/namesync/internal/content"
	"github.com/namesync/namesync/internal/event"
	"github.com/namesync/namesync/internal/ledger"
)

// ErrExpired marks a query against a lapsed registration.
var ErrExpired = errors.New("resolver: domain registration expired")

// ErrUnknownType marks a record type tag the engine does not recognize.
var ErrUnknownType = errors.New("resolver: unknown record type")

// Tier selects which ledger a query may consult.
type Tier int

const (
	// TierAuto prefers the fast tier with authoritative fallback.
	TierAuto Tier = iota
	// TierFast restricts the query to the fast ledger.
	TierFast
	// TierAuthoritative restricts the query to the authoritative ledger.
	TierAuthoritative
)

// extraTypes are app-level tags accepted beyond the IANA registry.
var extraTypes = map[string]bool{
	"CONTENT": true,
	"PROFILE": true,
}

// Result is the terminal outcome of one query.
//
// An empty Value with a nil Err means the domain has no such record
// (including the unregistered case). Source tells which tier answered;
// SourceFallback marks degraded placeholder data.
type Result struct {
	Domain     string       `json:"domain"`
	Type       string       `json:"type"`
	Value      string       `json:"value,omitempty"`
	TTL        uint32       `json:"ttl,omitempty"`
	ContentRef []byte       `json:"content_ref,omitempty"`
	Source     cache.Source `json:"source"`
	Err        error        `json:"-"`
}

// Empty reports whether the result carries no value.
func (r Result) Empty() bool { return r.Value == "" }

// Config holds resolution tuning.
type Config struct {
	// DefaultTTL fills in TTLs the source left unset.
	DefaultTTL uint32

	// VerifyByDefault makes every fast-tier answer get checked against the
	// authoritative content reference unless the call says otherwise.
	VerifyByDefault bool

	// TierTimeout bounds each tier call so a stuck fast ledger cannot
	// stall the authoritative fallback indefinitely.
	TierTimeout time.Duration

	// Logger for resolution activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DefaultTTL:  3600,
		TierTimeout: 5 * time.Second,
		Logger:      log.New(os.Stderr, "[resolver] ", log.LstdFlags),
	}
}

// Engine is the tiered resolution engine. It is safe for concurrent use;
// the cache is the only shared mutable state.
type Engine struct {
	l1      ledger.L1Client
	l2      ledger.L2Client
	content *content.Resolver
	cache   *cache.Cache
	cfg     *Config
	sink    event.Sink
	stats   *Stats
	now     func() time.Time
}

// New creates an engine. sink may be nil.
func New(l1 ledger.L1Client, l2 ledger.L2Client, cr *content.Resolver, c *cache.Cache, sink event.Sink, cfg *Config) (*Engine, error) {
	if l1 == nil {
		return nil, fmt.Errorf("l1 client cannot be nil")
	}
	if l2 == nil {
		return nil, fmt.Errorf("l2 client cannot be nil")
	}
	if cr == nil {
		return nil, fmt.Errorf("content resolver cannot be nil")
	}
	if c == nil {
		return nil, fmt.Errorf("cache cannot be nil")
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[resolver] ", log.LstdFlags)
	}
	if cfg.DefaultTTL == 0 {
		cfg.DefaultTTL = 3600
	}
	return &Engine{
		l1:      l1,
		l2:      l2,
		content: cr,
		cache:   c,
		cfg:     cfg,
		sink:    sink,
		stats:   newStats(),
		now:     time.Now,
	}, nil
}

type queryOpts struct {
	skipCache bool
	tier      Tier
	verify    bool
	verifySet bool
}

// Option adjusts a single query.
type Option func(*queryOpts)

// SkipCache bypasses the cache lookup (the result still populates it).
func SkipCache() Option {
	return func(o *queryOpts) { o.skipCache = true }
}

// WithTier restricts the query to one ledger tier.
func WithTier(t Tier) Option {
	return func(o *queryOpts) { o.tier = t }
}

// WithVerification overrides the engine's verification default.
func WithVerification(v bool) Option {
	return func(o *queryOpts) { o.verify = v; o.verifySet = true }
}

func (e *Engine) buildOpts(opts []Option) queryOpts {
	o := queryOpts{verify: e.cfg.VerifyByDefault}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// validType accepts IANA record type tags plus a small app-tag allowlist.
func validType(rtype string) bool {
	if _, ok := dns.StringToType[rtype]; ok {
		return true
	}
	return extraTypes[rtype]
}

// Resolve answers "what is record type rtype for domain name". It never
// returns an error; failures come back as a Result with Source=error.
func (e *Engine) Resolve(ctx context.Context, name, rtype string, opts ...Option) Result {
	o := e.buildOpts(opts)
	e.stats.query()

	rtype = strings.ToUpper(rtype)
	res := Result{Domain: name, Type: rtype}
	if !validType(rtype) {
		res.Source = cache.SourceError
		res.Err = fmt.Errorf("%w: %q", ErrUnknownType, rtype)
		return res
	}

	key := ledger.Namehash(name)

	if !o.skipCache {
		if entry, ok := e.cache.Get(key, rtype); ok {
			e.stats.cacheHit()
			res.Value = entry.Value
			res.TTL = entry.TTL
			res.ContentRef = entry.ContentRef
			res.Source = cache.SourceCache
			return res
		}
	}

	switch o.tier {
	case TierAuthoritative:
		res = e.resolveAuthoritative(ctx, name, key, rtype)
	case TierFast:
		res = e.resolveFast(ctx, name, key, rtype)
	default:
		res = e.resolveFast(ctx, name, key, rtype)
		if res.Source == cache.SourceError || res.Empty() {
			// Fast tier failed or had nothing; the authoritative tier is
			// the fallback, not an error path.
			res = e.resolveAuthoritative(ctx, name, key, rtype)
		} else if o.verify {
			res = e.verify(ctx, name, key, rtype, res)
		}
	}

	e.populateCache(key, rtype, res)
	return res
}

// resolveFast reads (key, rtype) from the fast ledger.
func (e *Engine) resolveFast(ctx context.Context, name string, key common.Hash, rtype string) Result {
	res := Result{Domain: name, Type: rtype, Source: cache.SourceFast}

	tctx, cancel := context.WithTimeout(ctx, e.cfg.TierTimeout)
	defer cancel()

	start := e.now()
	ans, err := e.l2.Record(tctx, key, rtype)
	e.stats.tier(TierFast, e.now().Sub(start), err)

	if err != nil {
		e.cfg.Logger.Printf("Fast tier read failed for %s/%s: %v", name, rtype, err)
		res.Source = cache.SourceError
		res.Err = err
		return res
	}
	if ans == nil || ans.Value == "" {
		return res // no record on the fast tier
	}

	res.Value = ans.Value
	res.TTL = ans.TTL
	if res.TTL == 0 {
		res.TTL = e.cfg.DefaultTTL
	}
	res.ContentRef = ans.ContentRef
	return res
}

// resolveAuthoritative resolves via L1 metadata plus the content store.
//
// Unregistered domains produce a valid empty result. Expired domains
// produce an empty result annotated with ErrExpired, without any content
// lookup.
func (e *Engine) resolveAuthoritative(ctx context.Context, name string, key common.Hash, rtype string) Result {
	res := Result{Domain: name, Type: rtype, Source: cache.SourceAuthoritative}

	tctx, cancel := context.WithTimeout(ctx, e.cfg.TierTimeout)
	defer cancel()

	start := e.now()
	rec, err := e.l1.DomainRecord(tctx, key)
	e.stats.tier(TierAuthoritative, e.now().Sub(start), err)

	if err != nil {
		e.cfg.Logger.Printf("Authoritative tier read failed for %s/%s: %v", name, rtype, err)
		res.Source = cache.SourceError
		res.Err = err
		return res
	}
	if !rec.Registered() {
		return res
	}
	if rec.Expired(e.now()) {
		res.Err = ErrExpired
		return res
	}
	if len(rec.ContentRef) == 0 {
		return res // registered but no content yet
	}

	rs, degraded := e.content.Fetch(ctx, rec.ContentRef)
	if degraded {
		res.Source = cache.SourceFallback
	} else {
		res.ContentRef = rec.ContentRef
	}

	values := rs[rtype]
	if len(values) == 0 {
		return res
	}
	res.Value = content.CanonicalValue(values[0].Value)
	res.TTL = values[0].TTL
	if res.TTL == 0 {
		res.TTL = e.cfg.DefaultTTL
	}
	return res
}

// verify checks a fast-tier result against the authoritative content
// reference. On mismatch the authoritative answer supersedes the fast one
// and a consistency warning is emitted.
func (e *Engine) verify(ctx context.Context, name string, key common.Hash, rtype string, fast Result) Result {
	tctx, cancel := context.WithTimeout(ctx, e.cfg.TierTimeout)
	defer cancel()

	start := e.now()
	rec, err := e.l1.DomainRecord(tctx, key)
	e.stats.tier(TierAuthoritative, e.now().Sub(start), err)

	if err != nil {
		// Verification is best-effort; the fast answer stands.
		e.cfg.Logger.Printf("Verification read failed for %s/%s, keeping fast result: %v", name, rtype, err)
		return fast
	}

	if bytes.Equal(fast.ContentRef, rec.ContentRef) {
		return fast
	}

	e.stats.consistencyWarning()
	e.cfg.Logger.Printf("WARNING: fast tier disagrees with authoritative for %s/%s (fast ref %x, auth ref %x)",
		name, rtype, fast.ContentRef, rec.ContentRef)
	event.Publish(e.sink, event.TypeConsistencyWarning, map[string]string{
		"domain": name,
		"type":   rtype,
	})

	return e.authoritativeFromRecord(ctx, name, key, rtype, rec)
}

// authoritativeFromRecord finishes an authoritative resolution when the L1
// metadata is already in hand (the verification path).
func (e *Engine) authoritativeFromRecord(ctx context.Context, name string, key common.Hash, rtype string, rec *ledger.DomainRecord) Result {
	res := Result{Domain: name, Type: rtype, Source: cache.SourceAuthoritative}

	if !rec.Registered() {
		return res
	}
	if rec.Expired(e.now()) {
		res.Err = ErrExpired
		return res
	}
	if len(rec.ContentRef) == 0 {
		return res
	}

	rs, degraded := e.content.Fetch(ctx, rec.ContentRef)
	if degraded {
		res.Source = cache.SourceFallback
	} else {
		res.ContentRef = rec.ContentRef
	}
	values := rs[rtype]
	if len(values) == 0 {
		return res
	}
	res.Value = content.CanonicalValue(values[0].Value)
	res.TTL = values[0].TTL
	if res.TTL == 0 {
		res.TTL = e.cfg.DefaultTTL
	}
	return res
}

// populateCache writes any tier result carrying a value into the cache.
func (e *Engine) populateCache(key common.Hash, rtype string, res Result) {
	if res.Empty() || res.Source == cache.SourceCache {
		return
	}
	ttl := res.TTL
	if ttl == 0 {
		ttl = e.cfg.DefaultTTL
	}
	e.cache.Put(key, rtype, cache.Entry{
		Value:      res.Value,
		TTL:        ttl,
		ContentRef: res.ContentRef,
		Source:     res.Source,
	})
}

// Stats returns a snapshot of the engine's statistics.
func (e *Engine) Stats() Snapshot {
	return e.stats.snapshot()
}
