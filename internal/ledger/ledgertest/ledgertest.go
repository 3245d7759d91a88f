// Package ledgertest provides in-memory fakes of the ledger contract surfaces
// for use in engine tests. Every fake is safe for concurrent use and lets a
// test script errors per call site.
package ledgertest

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/namesync/namesync/internal/ledger"
)

// L1 is a scriptable in-memory authoritative ledger.
type L1 struct {
	mu sync.Mutex

	Height    uint64
	Updates   []ledger.UpdateEvent
	Registers []ledger.RegisterEvent
	Records   map[common.Hash]*ledger.DomainRecord

	HeightErr   error
	UpdateErr   error
	RegisterErr error
	RecordErr   error

	UpdateCalls   int
	RegisterCalls int
	RecordCalls   int
}

// NewL1 returns an empty fake authoritative ledger.
func NewL1() *L1 {
	return &L1{Records: make(map[common.Hash]*ledger.DomainRecord)}
}

// SetRecord installs or replaces the authoritative record for a domain.
func (l *L1) SetRecord(key common.Hash, rec *ledger.DomainRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Records[key] = rec
}

// AddUpdate appends an update event and advances the height to cover it.
func (l *L1) AddUpdate(ev ledger.UpdateEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Updates = append(l.Updates, ev)
	if ev.Height > l.Height {
		l.Height = ev.Height
	}
}

// AddRegister appends a register event and advances the height to cover it.
func (l *L1) AddRegister(ev ledger.RegisterEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Registers = append(l.Registers, ev)
	if ev.Height > l.Height {
		l.Height = ev.Height
	}
}

func (l *L1) CurrentHeight(ctx context.Context) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.HeightErr != nil {
		return 0, l.HeightErr
	}
	return l.Height, nil
}

func (l *L1) UpdateEvents(ctx context.Context, from, to uint64) ([]ledger.UpdateEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.UpdateCalls++
	if l.UpdateErr != nil {
		return nil, l.UpdateErr
	}
	var out []ledger.UpdateEvent
	for _, ev := range l.Updates {
		if ev.Height > from && ev.Height <= to {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (l *L1) RegisterEvents(ctx context.Context, from, to uint64) ([]ledger.RegisterEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.RegisterCalls++
	if l.RegisterErr != nil {
		return nil, l.RegisterErr
	}
	var out []ledger.RegisterEvent
	for _, ev := range l.Registers {
		if ev.Height > from && ev.Height <= to {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (l *L1) DomainRecord(ctx context.Context, key common.Hash) (*ledger.DomainRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.RecordCalls++
	if l.RecordErr != nil {
		return nil, l.RecordErr
	}
	rec, ok := l.Records[key]
	if !ok {
		// Unregistered domains read as an empty record, not an error.
		return &ledger.DomainRecord{}, nil
	}
	cp := *rec
	return &cp, nil
}

// L2 is a scriptable in-memory fast ledger.
//
// A set SubmitErr fails every submit. With SubmitFailures = N the error
// clears itself after N failures, which is how retry-then-recover paths
// are exercised.
type L2 struct {
	mu sync.Mutex

	records map[common.Hash]map[string]ledger.RecordAnswer

	ReadErr        error
	SubmitErr      error
	SubmitFailures int

	ReadCalls   int
	SubmitCalls int
}

// NewL2 returns an empty fake fast ledger.
func NewL2() *L2 {
	return &L2{records: make(map[common.Hash]map[string]ledger.RecordAnswer)}
}

func (l *L2) Record(ctx context.Context, key common.Hash, rtype string) (*ledger.RecordAnswer, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ReadCalls++
	if l.ReadErr != nil {
		return nil, l.ReadErr
	}
	ans, ok := l.records[key][rtype]
	if !ok {
		return nil, nil
	}
	cp := ans
	return &cp, nil
}

func (l *L2) BatchRecords(ctx context.Context, key common.Hash, rtypes []string) ([]ledger.RecordAnswer, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ReadCalls++
	if l.ReadErr != nil {
		return nil, l.ReadErr
	}
	out := make([]ledger.RecordAnswer, len(rtypes))
	for i, rt := range rtypes {
		out[i] = l.records[key][rt]
	}
	return out, nil
}

func (l *L2) SubmitBatch(ctx context.Context, key common.Hash, rtypes, values []string, ttls []uint32, contentRef []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.SubmitCalls++
	if len(rtypes) != len(values) || len(rtypes) != len(ttls) {
		return ledger.ErrBadBatch
	}
	if l.SubmitErr != nil {
		err := l.SubmitErr
		if l.SubmitFailures > 0 {
			l.SubmitFailures--
			if l.SubmitFailures == 0 {
				l.SubmitErr = nil
			}
		}
		return err
	}
	if l.records[key] == nil {
		l.records[key] = make(map[string]ledger.RecordAnswer)
	}
	now := time.Now()
	for i, rt := range rtypes {
		// Last write wins per record type, matching the real ledger contract.
		l.records[key][rt] = ledger.RecordAnswer{
			Value:      values[i],
			TTL:        ttls[i],
			Timestamp:  now,
			ContentRef: contentRef,
		}
	}
	return nil
}

// Stored returns the currently stored answer for (key, rtype), if any.
func (l *L2) Stored(key common.Hash, rtype string) (ledger.RecordAnswer, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ans, ok := l.records[key][rtype]
	return ans, ok
}

// SetRecord seeds the fast ledger directly, bypassing SubmitBatch.
func (l *L2) SetRecord(key common.Hash, rtype string, ans ledger.RecordAnswer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.records[key] == nil {
		l.records[key] = make(map[string]ledger.RecordAnswer)
	}
	l.records[key][rtype] = ans
}

// Store is a scriptable in-memory content store keyed by decoded locator.
type Store struct {
	mu sync.Mutex

	Sets map[string]ledger.RecordSet
	Err  error

	FetchCalls int
}

// NewStore returns an empty fake content store.
func NewStore() *Store {
	return &Store{Sets: make(map[string]ledger.RecordSet)}
}

// Put installs a record set under a locator.
func (s *Store) Put(locator string, rs ledger.RecordSet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Sets[locator] = rs
}

func (s *Store) Fetch(ctx context.Context, locator string) (ledger.RecordSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FetchCalls++
	if s.Err != nil {
		return nil, s.Err
	}
	rs, ok := s.Sets[locator]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	return rs, nil
}
