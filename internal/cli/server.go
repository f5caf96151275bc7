package cli

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kilupskalvis/kotoimi/internal/config"
	"github.com/kilupskalvis/kotoimi/internal/core"
	"github.com/kilupskalvis/kotoimi/internal/server"
	"github.com/spf13/cobra"
)

var (
	serveListen        string
	serveBackend       string
	serveDB            string
	serveLogLevel      string
	serveLogFormat     string
	serveResearchToken string
	serveWebhookURLs   string
	serveTLSCert       string
	serveTLSKey        string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the kotoimi HTTP server",
	Long: `Run the kotoimi HTTP server.

Settings come from the config file and KOTOIMI_* environment variables;
flags given here override both. When a research token is set the
/research endpoints require "Authorization: Bearer <token>".

Examples:
  kotoimi serve
  kotoimi serve --listen 0.0.0.0:8000 --db /var/lib/kotoimi/kotoimi.db
  kotoimi serve --backend bbolt --db kotoimi.bolt --log-format text`,
	Args: cobra.NoArgs,
	Run:  runServe,
}

func init() {
	f := serveCmd.Flags()
	f.StringVar(&serveListen, "listen", "", "Listen address (host:port)")
	f.StringVar(&serveBackend, "backend", "", "Storage backend (sqlite|bbolt)")
	f.StringVar(&serveDB, "db", "", "Database file")
	f.StringVar(&serveLogLevel, "log-level", "", "Log level (debug|info|warn|error)")
	f.StringVar(&serveLogFormat, "log-format", "", "Log format (json|text)")
	f.StringVar(&serveResearchToken, "research-token", "", "Bearer token required by /research endpoints")
	f.StringVar(&serveWebhookURLs, "webhook-urls", "", "Comma-separated webhook URLs to notify on submission")
	f.StringVar(&serveTLSCert, "tls-cert", os.Getenv(config.EnvPrefix+"TLS_CERT"), "TLS certificate file")
	f.StringVar(&serveTLSKey, "tls-key", os.Getenv(config.EnvPrefix+"TLS_KEY"), "TLS key file")
}

// applyServeFlags overrides cfg with the flags the user set explicitly.
func applyServeFlags(cmd *cobra.Command, cfg *config.Config) error {
	f := cmd.Flags()
	if f.Changed("listen") {
		cfg.Server.Listen = serveListen
	}
	if f.Changed("backend") {
		cfg.Storage.Backend = serveBackend
	}
	if f.Changed("db") {
		cfg.Storage.Path = serveDB
	}
	if f.Changed("log-level") {
		cfg.Log.Level = serveLogLevel
	}
	if f.Changed("log-format") {
		cfg.Log.Format = serveLogFormat
	}
	if f.Changed("research-token") {
		cfg.Server.ResearchToken = serveResearchToken
	}
	if f.Changed("webhook-urls") {
		cfg.Webhooks.URLs = config.SplitList(serveWebhookURLs)
	}
	return cfg.Validate()
}

func runServe(cmd *cobra.Command, _ []string) {
	cfg, err := config.Load(configPath)
	if err != nil {
		exitError("%v", err)
	}
	if err := applyServeFlags(cmd, cfg); err != nil {
		exitError("%v", err)
	}

	logger := newLogger(os.Stdout, cfg.Log.Level, cfg.Log.Format)

	opts := []core.Option{core.WithLogger(logger)}
	notifier := server.NewWebhookNotifier(cfg.Webhooks.URLs, logger)
	if notifier != nil {
		opts = append(opts, core.WithNotifier(notifier))
		logger.Info("webhooks configured", "count", len(cfg.Webhooks.URLs))
	}

	c := openContext(cfg, opts...)
	defer c.Close()

	h, handlerCleanup := server.Handler(c.Service, &server.ServerConfig{
		MaxRequestBody:    cfg.Server.MaxRequestBody,
		RequestsPerMinute: cfg.Server.RequestsPerMinute,
		ResearchToken:     cfg.Server.ResearchToken,
		AllowedOrigins:    cfg.Server.AllowedOrigins,
	}, logger)
	defer handlerCleanup()

	srv := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return context.Background() },
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("starting kotoimi server",
			"listen", cfg.Server.Listen,
			"backend", cfg.Storage.Backend,
			"db", cfg.Storage.Path,
			"research_auth", cfg.Server.ResearchToken != "",
		)
		var err error
		if serveTLSCert != "" && serveTLSKey != "" {
			err = srv.ListenAndServeTLS(serveTLSCert, serveTLSKey)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	logger.Info("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	notifier.Wait()
	logger.Info("server stopped")
}
