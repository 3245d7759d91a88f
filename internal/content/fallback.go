package content

import (
	"fmt"

	"github.com/BurntSushi/toml"

	"github.com/namesync/namesync/internal/ledger"
)

// fallbackFile is the on-disk shape of a fallback record set:
//
//	[[record]]
//	type = "A"
//	value = "203.0.113.1"
//	ttl = 300
type fallbackFile struct {
	Records []fallbackRecord `toml:"record"`
}

type fallbackRecord struct {
	Type  string `toml:"type"`
	Value string `toml:"value"`
	TTL   uint32 `toml:"ttl"`
}

// LoadFallback reads a fallback record set from a TOML file.
func LoadFallback(path string) (ledger.RecordSet, error) {
	var f fallbackFile
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, fmt.Errorf("failed to load fallback records: %w", err)
	}
	if len(f.Records) == 0 {
		return nil, fmt.Errorf("fallback file %s defines no records", path)
	}

	rs := make(ledger.RecordSet)
	for _, rec := range f.Records {
		if rec.Type == "" {
			return nil, fmt.Errorf("fallback file %s has a record with no type", path)
		}
		rs[rec.Type] = append(rs[rec.Type], ledger.RecordValue{Value: rec.Value, TTL: rec.TTL})
	}
	return rs, nil
}
