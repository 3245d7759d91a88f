// Package rpc provides thin JSON-over-HTTP clients for the ledger and
// content-store surfaces. There is no logic here beyond request/response
// mapping; all retry and fallback policy lives in the engines.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/namesync/namesync/internal/ledger"
)

// call posts one JSON request and decodes the result envelope.
func call(ctx context.Context, hc *http.Client, endpoint, method string, params, result any) error {
	body, err := json.Marshal(map[string]any{
		"method": method,
		"params": params,
	})
	if err != nil {
		return fmt.Errorf("rpc %s: marshal params: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("rpc %s: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("rpc %s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("rpc %s: status %s", method, resp.Status)
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  string          `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("rpc %s: decode response: %w", method, err)
	}
	if envelope.Error != "" {
		return fmt.Errorf("rpc %s: %s", method, envelope.Error)
	}
	if result != nil {
		if err := json.Unmarshal(envelope.Result, result); err != nil {
			return fmt.Errorf("rpc %s: decode result: %w", method, err)
		}
	}
	return nil
}

// L1 talks to the authoritative ledger node.
type L1 struct {
	endpoint string
	hc       *http.Client
}

// NewL1 creates an authoritative ledger client.
func NewL1(endpoint string) *L1 {
	return &L1{endpoint: endpoint, hc: &http.Client{Timeout: 30 * time.Second}}
}

func (c *L1) CurrentHeight(ctx context.Context) (uint64, error) {
	var out struct {
		Height uint64 `json:"height"`
	}
	if err := call(ctx, c.hc, c.endpoint, "currentHeight", nil, &out); err != nil {
		return 0, err
	}
	return out.Height, nil
}

type wireUpdateEvent struct {
	DomainKey  common.Hash   `json:"domain_key"`
	ContentRef hexutil.Bytes `json:"content_ref"`
	Height     uint64        `json:"height"`
}

func (c *L1) UpdateEvents(ctx context.Context, from, to uint64) ([]ledger.UpdateEvent, error) {
	var out []wireUpdateEvent
	params := map[string]uint64{"from": from, "to": to}
	if err := call(ctx, c.hc, c.endpoint, "queryUpdateEvents", params, &out); err != nil {
		return nil, err
	}
	events := make([]ledger.UpdateEvent, len(out))
	for i, ev := range out {
		events[i] = ledger.UpdateEvent{DomainKey: ev.DomainKey, ContentRef: ev.ContentRef, Height: ev.Height}
	}
	return events, nil
}

func (c *L1) RegisterEvents(ctx context.Context, from, to uint64) ([]ledger.RegisterEvent, error) {
	var out []ledger.RegisterEvent
	params := map[string]uint64{"from": from, "to": to}
	if err := call(ctx, c.hc, c.endpoint, "queryRegisterEvents", params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *L1) DomainRecord(ctx context.Context, key common.Hash) (*ledger.DomainRecord, error) {
	var out struct {
		Owner       common.Address `json:"owner"`
		ContentRef  hexutil.Bytes  `json:"content_ref"`
		LastUpdated int64          `json:"last_updated"`
		Expiry      int64          `json:"expiry"`
	}
	params := map[string]string{"domain_key": key.Hex()}
	if err := call(ctx, c.hc, c.endpoint, "getDomainRecord", params, &out); err != nil {
		return nil, err
	}
	rec := &ledger.DomainRecord{
		Owner:      out.Owner,
		ContentRef: out.ContentRef,
	}
	if out.LastUpdated > 0 {
		rec.LastUpdated = time.Unix(out.LastUpdated, 0)
	}
	if out.Expiry > 0 {
		rec.Expiry = time.Unix(out.Expiry, 0)
	}
	return rec, nil
}

// L2 talks to the fast ledger node.
type L2 struct {
	endpoint string
	hc       *http.Client

	// confirmations is how many blocks a batch write must be buried
	// under before SubmitBatch returns.
	confirmations int
}

// NewL2 creates a fast ledger client that waits for the given confirmation
// depth on writes.
func NewL2(endpoint string, confirmations int) *L2 {
	return &L2{
		endpoint:      endpoint,
		hc:            &http.Client{Timeout: 30 * time.Second},
		confirmations: confirmations,
	}
}

type wireAnswer struct {
	Value      string        `json:"value"`
	TTL        uint32        `json:"ttl"`
	Timestamp  int64         `json:"timestamp"`
	ContentRef hexutil.Bytes `json:"content_ref"`
}

func (w wireAnswer) answer() ledger.RecordAnswer {
	ans := ledger.RecordAnswer{Value: w.Value, TTL: w.TTL, ContentRef: w.ContentRef}
	if w.Timestamp > 0 {
		ans.Timestamp = time.Unix(w.Timestamp, 0)
	}
	return ans
}

func (c *L2) Record(ctx context.Context, key common.Hash, rtype string) (*ledger.RecordAnswer, error) {
	var out *wireAnswer
	params := map[string]string{"domain_key": key.Hex(), "type": rtype}
	if err := call(ctx, c.hc, c.endpoint, "getRecord", params, &out); err != nil {
		return nil, err
	}
	if out == nil {
		return nil, nil
	}
	ans := out.answer()
	return &ans, nil
}

func (c *L2) BatchRecords(ctx context.Context, key common.Hash, rtypes []string) ([]ledger.RecordAnswer, error) {
	var out []wireAnswer
	params := map[string]any{"domain_key": key.Hex(), "types": rtypes}
	if err := call(ctx, c.hc, c.endpoint, "getBatchRecords", params, &out); err != nil {
		return nil, err
	}
	answers := make([]ledger.RecordAnswer, len(out))
	for i, w := range out {
		answers[i] = w.answer()
	}
	return answers, nil
}

func (c *L2) SubmitBatch(ctx context.Context, key common.Hash, rtypes, values []string, ttls []uint32, contentRef []byte) error {
	if len(rtypes) != len(values) || len(rtypes) != len(ttls) {
		return ledger.ErrBadBatch
	}
	params := map[string]any{
		"domain_key":        key.Hex(),
		"types":             rtypes,
		"values":            values,
		"ttls":              ttls,
		"content_ref":       hexutil.Bytes(contentRef),
		"min_confirmations": c.confirmations,
	}
	return call(ctx, c.hc, c.endpoint, "submitBatchWrite", params, nil)
}

// Content talks to the content store over plain HTTP GET.
type Content struct {
	endpoint string
	hc       *http.Client
}

// NewContent creates a content store client.
func NewContent(endpoint string) *Content {
	return &Content{endpoint: endpoint, hc: &http.Client{Timeout: 30 * time.Second}}
}

type wireRecordValue struct {
	Value json.RawMessage `json:"value"`
	TTL   uint32          `json:"ttl"`
}

func (c *Content) Fetch(ctx context.Context, locator string) (ledger.RecordSet, error) {
	u := fmt.Sprintf("%s/content/%s", c.endpoint, url.PathEscape(locator))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("content fetch %s: %w", locator, err)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("content fetch %s: %w", locator, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ledger.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("content fetch %s: status %s", locator, resp.Status)
	}

	var wire map[string][]wireRecordValue
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("content fetch %s: decode: %w", locator, err)
	}

	rs := make(ledger.RecordSet, len(wire))
	for rtype, values := range wire {
		for _, wv := range values {
			// Strings arrive JSON-quoted; anything else stays raw and is
			// canonicalized at flatten time.
			var s string
			var v any
			if err := json.Unmarshal(wv.Value, &s); err == nil {
				v = s
			} else {
				var raw any
				if err := json.Unmarshal(wv.Value, &raw); err != nil {
					return nil, fmt.Errorf("content fetch %s: bad %s value: %w", locator, rtype, err)
				}
				v = raw
			}
			rs[rtype] = append(rs[rtype], ledger.RecordValue{Value: v, TTL: wv.TTL})
		}
	}
	return rs, nil
}
