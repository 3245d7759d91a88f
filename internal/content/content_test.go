package content

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/namesync/namesync/internal/ledger"
	"github.com/namesync/namesync/internal/ledger/ledgertest"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestChainDecoder(t *testing.T) {
	tests := []struct {
		name    string
		ref     []byte
		want    string
		wantErr bool
	}{
		{"sha256 ref", []byte{0x01, 0xde, 0xad}, "sha256:dead", false},
		{"ipfs ref", []byte{0xe3, 0xbe, 0xef}, "ipfs://beef", false},
		{"unknown codec", []byte{0x7f, 0x00}, "", true},
		{"too short", []byte{0x01}, "", true},
		{"empty", nil, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ChainDecoder{}.Decode(tt.ref)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Decode() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Decode() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFetch(t *testing.T) {
	store := ledgertest.NewStore()
	store.Put("sha256:dead", ledger.RecordSet{
		"A": {{Value: "1.2.3.4", TTL: 600}},
	})

	r := NewResolver(store, nil, nil, testLogger())

	rs, degraded := r.Fetch(context.Background(), []byte{0x01, 0xde, 0xad})
	if degraded {
		t.Fatal("Fetch() degraded for a present record set")
	}
	if got := rs["A"][0].Value; got != "1.2.3.4" {
		t.Errorf("Fetch() A value = %v, want 1.2.3.4", got)
	}
	if got := r.RetrievalErrors(); got != 0 {
		t.Errorf("RetrievalErrors() = %d, want 0", got)
	}
}

func TestFetchFallsBackOnDecodeFailure(t *testing.T) {
	store := ledgertest.NewStore()
	r := NewResolver(store, nil, nil, testLogger())

	rs, degraded := r.Fetch(context.Background(), []byte{0x7f, 0x00})
	if !degraded {
		t.Fatal("Fetch() not degraded on decode failure")
	}
	if !reflect.DeepEqual(rs, DefaultFallback()) {
		t.Errorf("Fetch() = %v, want default fallback", rs)
	}
	if got := r.RetrievalErrors(); got != 1 {
		t.Errorf("RetrievalErrors() = %d, want 1", got)
	}
	if store.FetchCalls != 0 {
		t.Errorf("store fetched %d times after decode failure, want 0", store.FetchCalls)
	}
}

func TestFetchFallsBackOnMissingContent(t *testing.T) {
	store := ledgertest.NewStore()
	fallback := ledger.RecordSet{"A": {{Value: "203.0.113.1", TTL: 300}}}
	r := NewResolver(store, nil, fallback, testLogger())

	rs, degraded := r.Fetch(context.Background(), []byte{0x01, 0xde, 0xad})
	if !degraded {
		t.Fatal("Fetch() not degraded for missing content")
	}
	if !reflect.DeepEqual(rs, fallback) {
		t.Errorf("Fetch() = %v, want configured fallback", rs)
	}
	if got := r.RetrievalErrors(); got != 1 {
		t.Errorf("RetrievalErrors() = %d, want 1", got)
	}
}

func TestFlatten(t *testing.T) {
	rs := ledger.RecordSet{
		"TXT": {{Value: "v=spf1 -all", TTL: 0}},
		"A": {
			{Value: "1.1.1.1", TTL: 600},
			{Value: "2.2.2.2", TTL: 600},
		},
		"SRV": {{Value: map[string]any{"port": 443, "host": "x.eth"}, TTL: 120}},
	}

	rtypes, values, ttls := Flatten(rs, 3600)

	wantTypes := []string{"A", "A", "SRV", "TXT"}
	wantValues := []string{"1.1.1.1", "2.2.2.2", `{"host":"x.eth","port":443}`, "v=spf1 -all"}
	wantTTLs := []uint32{600, 600, 120, 3600}

	if !reflect.DeepEqual(rtypes, wantTypes) {
		t.Errorf("types = %v, want %v", rtypes, wantTypes)
	}
	if !reflect.DeepEqual(values, wantValues) {
		t.Errorf("values = %v, want %v", values, wantValues)
	}
	if !reflect.DeepEqual(ttls, wantTTLs) {
		t.Errorf("ttls = %v, want %v", ttls, wantTTLs)
	}
}

func TestLoadFallback(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fallback.toml")
	data := `
[[record]]
type = "A"
value = "203.0.113.1"
ttl = 300

[[record]]
type = "A"
value = "203.0.113.2"
ttl = 300

[[record]]
type = "TXT"
value = "maintenance"
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	rs, err := LoadFallback(path)
	if err != nil {
		t.Fatalf("LoadFallback() error = %v", err)
	}
	if len(rs["A"]) != 2 {
		t.Errorf("A records = %d, want 2", len(rs["A"]))
	}
	if rs["TXT"][0].TTL != 0 {
		t.Errorf("TXT ttl = %d, want 0 (unset, filled at flatten time)", rs["TXT"][0].TTL)
	}
}

func TestLoadFallbackRejectsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.toml")
	if err := os.WriteFile(path, []byte(""), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFallback(path); err == nil {
		t.Fatal("LoadFallback() accepted an empty file")
	}
}
