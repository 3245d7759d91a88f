// Package content resolves chain content references into full record sets
// and flattens record sets into the parallel arrays the fast ledger accepts.
//
// The chain stores content references in a compact binary encoding; decoding
// is pluggable via RefDecoder so format churn stays out of the engines. When
// decoding or the store fetch fails, the resolver hands back a configured
// fallback set tagged as degraded instead of failing the task, so the fast
// ledger stays populated and consumers can tell placeholders from verified
// data.
package content

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sort"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"

	"github.com/namesync/namesync/internal/ledger"
)

// RefDecoder extracts a content-store locator from a chain content reference.
type RefDecoder interface {
	Decode(ref []byte) (string, error)
}

// Codec prefixes used by the chain's content-reference encoding.
const (
	codecSHA256 = 0x01
	codecIPFS   = 0xe3
)

// ChainDecoder decodes the chain's binary content-reference encoding:
// a one-byte codec prefix followed by the digest.
type ChainDecoder struct{}

// Decode implements RefDecoder.
func (ChainDecoder) Decode(ref []byte) (string, error) {
	if len(ref) < 2 {
		return "", fmt.Errorf("content ref too short: %d bytes", len(ref))
	}
	digest := common.Bytes2Hex(ref[1:])
	switch ref[0] {
	case codecSHA256:
		return "sha256:" + digest, nil
	case codecIPFS:
		return "ipfs://" + digest, nil
	default:
		return "", fmt.Errorf("unknown content ref codec 0x%02x", ref[0])
	}
}

// Resolver fetches record sets by content reference.
type Resolver struct {
	store    ledger.ContentStore
	dec      RefDecoder
	fallback ledger.RecordSet
	logger   *log.Logger

	retrievalErrors atomic.Uint64
}

// NewResolver builds a resolver. A nil decoder means ChainDecoder, a nil
// fallback means DefaultFallback(), a nil logger writes to stderr.
func NewResolver(store ledger.ContentStore, dec RefDecoder, fallback ledger.RecordSet, logger *log.Logger) *Resolver {
	if dec == nil {
		dec = ChainDecoder{}
	}
	if fallback == nil {
		fallback = DefaultFallback()
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[content] ", log.LstdFlags)
	}
	return &Resolver{store: store, dec: dec, fallback: fallback, logger: logger}
}

// Fetch resolves a content reference to a record set.
//
// On decode or store failure it returns the fallback set with degraded=true
// and bumps the retrieval-error counter; it never returns an error, keeping
// the apply path alive.
func (r *Resolver) Fetch(ctx context.Context, ref []byte) (rs ledger.RecordSet, degraded bool) {
	locator, err := r.dec.Decode(ref)
	if err != nil {
		r.retrievalErrors.Add(1)
		r.logger.Printf("WARNING: content ref decode failed, serving fallback: %v", err)
		return r.fallback, true
	}

	set, err := r.store.Fetch(ctx, locator)
	if err != nil {
		r.retrievalErrors.Add(1)
		r.logger.Printf("WARNING: content fetch failed for %s, serving fallback: %v", locator, err)
		return r.fallback, true
	}
	return set, false
}

// RetrievalErrors returns how many fetches fell back to degraded data.
func (r *Resolver) RetrievalErrors() uint64 {
	return r.retrievalErrors.Load()
}

// Flatten expands a record set into parallel (types, values, ttls) arrays
// for a batched fast-ledger write.
//
// Multi-valued record types expand into one entry per value. Structured
// non-string values are serialized to canonical JSON. A zero TTL is replaced
// with defaultTTL. Type order is sorted so the output is deterministic.
func Flatten(rs ledger.RecordSet, defaultTTL uint32) (rtypes, values []string, ttls []uint32) {
	keys := make([]string, 0, len(rs))
	for k := range rs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, rt := range keys {
		for _, rv := range rs[rt] {
			rtypes = append(rtypes, rt)
			values = append(values, CanonicalValue(rv.Value))
			ttl := rv.TTL
			if ttl == 0 {
				ttl = defaultTTL
			}
			ttls = append(ttls, ttl)
		}
	}
	return rtypes, values, ttls
}

// CanonicalValue renders a record value as a string. Strings pass through;
// anything else is serialized as JSON (object keys sorted by encoding/json).
func CanonicalValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

// DefaultFallback is the record set served when content retrieval fails:
// a single TXT marker so consumers can see the degradation.
func DefaultFallback() ledger.RecordSet {
	return ledger.RecordSet{
		"TXT": {{Value: "content unavailable", TTL: 300}},
	}
}
