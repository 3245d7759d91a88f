package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/namesync/namesync/internal/config"
)

var (
	configPath string

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "namesync",
	Short: "Sync authoritative ledger domains into a fast cache ledger and resolve them",
	Long: `namesync keeps domain records from the authoritative ledger mirrored
into a fast cache ledger, and answers resolution queries against the
fastest tier that can serve them.

Two pieces:
  - the bridge: polls the authoritative ledger for domain events and
    applies the referenced record sets to the cache ledger
  - the resolver: answers record queries from an in-process cache, the
    cache ledger, or the authoritative ledger, in that order

Run "namesync run" to start the daemon, or "namesync resolve" for a
one-shot query.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		return err
	},
}

// logWriter returns the destination for engine logs: stderr by default,
// or a size-rotated file when log_file is configured.
func logWriter() io.Writer {
	if cfg.LogFile == "" {
		return os.Stderr
	}
	return &lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
	}
}

func newLogger(prefix string) *log.Logger {
	return log.New(logWriter(), fmt.Sprintf("[%s] ", prefix), log.LstdFlags)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: ./namesync.{yaml,toml}, $HOME/.namesync/)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
