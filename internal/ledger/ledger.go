// Package ledger defines the contract surfaces namesync consumes from the two
// ledgers and the content store, plus the shared record types that cross them.
//
// The authoritative ledger (L1) is the slow, trusted source of domain ownership
// and content references. The fast ledger (L2) holds flattened DNS-style
// records for low-latency reads. Neither ledger's execution model is part of
// this repository; only the narrow RPC shapes below are.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ErrNotFound is returned by a ContentStore when a locator resolves to nothing.
var ErrNotFound = errors.New("ledger: content not found")

// ErrBadBatch is returned by L2Client.SubmitBatch when the parallel arrays
// disagree in length. This is a contract violation, never retried.
var ErrBadBatch = errors.New("ledger: mismatched batch array lengths")

// DomainRecord is the authoritative snapshot for one domain.
//
// A record with a zero Owner is unregistered and carries no valid records.
type DomainRecord struct {
	Owner       common.Address
	ContentRef  []byte
	LastUpdated time.Time
	Expiry      time.Time
}

// Registered reports whether the domain has an owner.
func (r *DomainRecord) Registered() bool {
	return r != nil && r.Owner != (common.Address{})
}

// Expired reports whether the registration has lapsed at the given instant.
func (r *DomainRecord) Expired(now time.Time) bool {
	return r != nil && !r.Expiry.IsZero() && !now.Before(r.Expiry)
}

// UpdateEvent is emitted by L1 when a domain's content reference changes.
type UpdateEvent struct {
	DomainKey  common.Hash
	ContentRef []byte
	Height     uint64
}

// RegisterEvent is emitted by L1 when a domain is newly registered.
// A registration alone carries no content reference.
type RegisterEvent struct {
	DomainKey common.Hash
	Height    uint64
}

// RecordAnswer is a single flattened record as served by the fast ledger.
//
// ContentRef is the content reference the record was written with, so a
// resolver can verify the fast tier against the authoritative one. A nil
// ContentRef marks data applied from the degraded fallback path.
type RecordAnswer struct {
	Value      string
	TTL        uint32
	Timestamp  time.Time
	ContentRef []byte
}

// L1Client is the read surface of the authoritative ledger.
//
// Event queries cover the half-open height range (from, to].
type L1Client interface {
	CurrentHeight(ctx context.Context) (uint64, error)
	UpdateEvents(ctx context.Context, from, to uint64) ([]UpdateEvent, error)
	RegisterEvents(ctx context.Context, from, to uint64) ([]RegisterEvent, error)
	DomainRecord(ctx context.Context, key common.Hash) (*DomainRecord, error)
}

// L2Client is the read/write surface of the fast ledger.
//
// SubmitBatch writes all record types for one domain atomically and returns
// only after the implementation's configured confirmation depth is reached.
// Implementations must reject mismatched array lengths with ErrBadBatch
// before submitting anything.
type L2Client interface {
	Record(ctx context.Context, key common.Hash, rtype string) (*RecordAnswer, error)
	BatchRecords(ctx context.Context, key common.Hash, rtypes []string) ([]RecordAnswer, error)
	SubmitBatch(ctx context.Context, key common.Hash, rtypes, values []string, ttls []uint32, contentRef []byte) error
}

// ContentStore fetches a full record set by its decoded locator.
type ContentStore interface {
	Fetch(ctx context.Context, locator string) (RecordSet, error)
}

// RecordValue is one value of one record type in a record set.
//
// Value is usually a string; structured values are permitted and are
// serialized to canonical JSON when flattened for the fast ledger.
// A zero TTL means the source did not specify one.
type RecordValue struct {
	Value any
	TTL   uint32
}

// RecordSet is the full set of DNS-style records for one domain at a point in
// time, keyed by record type tag ("A", "TXT", ...). Multi-valued types carry
// one RecordValue per value.
type RecordSet map[string][]RecordValue
