// Package cli implements the command-line interface for kotoimi.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/kilupskalvis/kotoimi/internal/config"
	"github.com/kilupskalvis/kotoimi/internal/core"
	"github.com/kilupskalvis/kotoimi/internal/store"
	"github.com/spf13/cobra"
)

var configPath string

// cmdContext holds common resources for CLI commands
type cmdContext struct {
	Config  *config.Config
	Store   store.Store
	Service *core.Service
}

// Close releases resources held by cmdContext
func (c *cmdContext) Close() {
	if c.Store != nil {
		c.Store.Close()
	}
}

// initContext loads config and opens the configured store
func initContext(opts ...core.Option) *cmdContext {
	cfg, err := config.Load(configPath)
	if err != nil {
		exitError("%v", err)
	}
	return openContext(cfg, opts...)
}

// openContext opens the store named by cfg and builds the service over it
func openContext(cfg *config.Config, opts ...core.Option) *cmdContext {
	st, err := store.Open(cfg.Storage.Backend, cfg.Storage.Path)
	if err != nil {
		exitError("failed to open store: %v", err)
	}

	opts = append([]core.Option{core.WithAnalysisConcurrency(cfg.Analysis.Concurrency)}, opts...)
	return &cmdContext{Config: cfg, Store: st, Service: core.NewService(st, opts...)}
}

var rootCmd = &cobra.Command{
	Use:   "kotoimi",
	Short: "Event meaning research logger",
	Long: `kotoimi collects how people interpret everyday events. Participants
submit a short meaning for an event, optionally after seeing what others
wrote, and researchers analyse how varied those meanings are.`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		fmt.Sprintf("Config file (default: ./%s if present)", config.ConfigFile))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(exportCmd)
}

// newLogger builds the process logger from level and format names.
func newLogger(w io.Writer, levelName, format string) *slog.Logger {
	var level slog.Level
	switch levelName {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}
	if format == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}

// exitError prints an error and exits
func exitError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}
