package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/namesync/namesync/internal/cache"
	"github.com/namesync/namesync/internal/content"
	"github.com/namesync/namesync/internal/ledger/rpc"
	"github.com/namesync/namesync/internal/resolver"
)

var (
	resolveTypes         []string
	resolveAuthoritative bool
	resolveFast          bool
	resolveVerify        bool
	resolveNoCache       bool
	resolveFormat        string
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <domain>",
	Short: "Resolve records for a domain name",
	Long: `Resolve one or more record types for a domain, one shot.

By default the fast ledger answers and the authoritative ledger backs it
up. --authoritative forces the slow tier, --fast pins the query to the
cache ledger, and --verify cross-checks a fast answer against the
authoritative content reference.

Example usage:
  namesync resolve alice.ns
  namesync resolve alice.ns --type A --type TXT
  namesync resolve alice.ns --authoritative --format json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.L1Endpoint == "" || cfg.L2Endpoint == "" || cfg.ContentEndpoint == "" {
			return fmt.Errorf("l1_endpoint, l2_endpoint and content_endpoint must be configured")
		}
		if resolveAuthoritative && resolveFast {
			return fmt.Errorf("--authoritative and --fast are mutually exclusive")
		}

		l1 := rpc.NewL1(cfg.L1Endpoint)
		l2 := rpc.NewL2(cfg.L2Endpoint, cfg.ConfirmationDepth)
		cs := rpc.NewContent(cfg.ContentEndpoint)
		cr := content.NewResolver(cs, nil, nil, newLogger("content"))

		rcfg := resolver.DefaultConfig()
		rcfg.DefaultTTL = cfg.DefaultTTL
		rcfg.TierTimeout = cfg.TierTimeout
		rcfg.Logger = newLogger("resolver")

		eng, err := resolver.New(l1, l2, cr, cache.New(), nil, rcfg)
		if err != nil {
			return err
		}

		var opts []resolver.Option
		if resolveAuthoritative {
			opts = append(opts, resolver.WithTier(resolver.TierAuthoritative))
		}
		if resolveFast {
			opts = append(opts, resolver.WithTier(resolver.TierFast))
		}
		if cmd.Flags().Changed("verify") {
			opts = append(opts, resolver.WithVerification(resolveVerify))
		}
		if resolveNoCache {
			opts = append(opts, resolver.SkipCache())
		}

		results := eng.ResolveBatch(context.Background(), args[0], resolveTypes, opts...)
		return printResults(results)
	},
}

func printResults(results []resolver.Result) error {
	switch resolveFormat {
	case "json":
		return printStructured(results, func(v any) ([]byte, error) {
			return json.MarshalIndent(v, "", "  ")
		})
	case "yaml":
		return printStructured(results, yaml.Marshal)
	case "text":
		failed := false
		for _, res := range results {
			switch {
			case res.Err != nil:
				fmt.Fprintf(os.Stderr, "%s %s: %v\n", res.Domain, res.Type, res.Err)
				failed = true
			case res.Empty():
				fmt.Printf("%-24s %-6s (no record)\n", res.Domain, res.Type)
			default:
				fmt.Printf("%-24s %-6s %-30s ttl=%d source=%s\n",
					res.Domain, res.Type, res.Value, res.TTL, res.Source)
			}
		}
		if failed {
			return fmt.Errorf("resolution failed")
		}
		return nil
	default:
		return fmt.Errorf("unknown format %q (want text, json or yaml)", resolveFormat)
	}
}

// resolveOutput mirrors Result with the error flattened to a string so
// structured output can carry it.
type resolveOutput struct {
	Domain     string `json:"domain" yaml:"domain"`
	Type       string `json:"type" yaml:"type"`
	Value      string `json:"value,omitempty" yaml:"value,omitempty"`
	TTL        uint32 `json:"ttl,omitempty" yaml:"ttl,omitempty"`
	ContentRef string `json:"content_ref,omitempty" yaml:"content_ref,omitempty"`
	Source     string `json:"source" yaml:"source"`
	Error      string `json:"error,omitempty" yaml:"error,omitempty"`
}

func printStructured(results []resolver.Result, marshal func(any) ([]byte, error)) error {
	out := make([]resolveOutput, len(results))
	failed := false
	for i, res := range results {
		out[i] = resolveOutput{
			Domain: res.Domain,
			Type:   res.Type,
			Value:  res.Value,
			TTL:    res.TTL,
			Source: string(res.Source),
		}
		if len(res.ContentRef) > 0 {
			out[i].ContentRef = fmt.Sprintf("%x", res.ContentRef)
		}
		if res.Err != nil {
			out[i].Error = res.Err.Error()
			failed = true
		}
	}

	data, err := marshal(out)
	if err != nil {
		return err
	}
	fmt.Println(strings.TrimRight(string(data), "\n"))
	if failed {
		return fmt.Errorf("resolution failed")
	}
	return nil
}

// defaultTypes is what a bare resolve asks for.
var defaultTypes = []string{"A", "AAAA", "TXT"}

func init() {
	resolveCmd.Flags().StringSliceVarP(&resolveTypes, "type", "t", defaultTypes, "record types to resolve")
	resolveCmd.Flags().BoolVar(&resolveAuthoritative, "authoritative", false, "query only the authoritative ledger")
	resolveCmd.Flags().BoolVar(&resolveFast, "fast", false, "query only the fast ledger")
	resolveCmd.Flags().BoolVar(&resolveVerify, "verify", false, "verify fast answers against the authoritative ledger")
	resolveCmd.Flags().BoolVar(&resolveNoCache, "no-cache", false, "bypass the in-process cache")
	resolveCmd.Flags().StringVar(&resolveFormat, "format", "text", "output format: text, json or yaml")
	rootCmd.AddCommand(resolveCmd)
}
