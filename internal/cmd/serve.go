package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dativo-io/cloak/internal/audit"
	"github.com/dativo-io/cloak/internal/config"
	"github.com/dativo-io/cloak/internal/detector"
	"github.com/dativo-io/cloak/internal/redact"
	"github.com/dativo-io/cloak/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Cloak HTTP anonymization service",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 3002, "HTTP server port")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	analyzer, err := detector.New(detector.WithPatternFile(cfg.PatternFile))
	if err != nil {
		return fmt.Errorf("building detector: %w", err)
	}

	engineOpts := []redact.Option{redact.WithDefaultLanguage(cfg.DefaultLanguage)}
	if cfg.RulesFile != "" {
		presets, err := redact.LoadRulesFile(cfg.RulesFile)
		if err != nil {
			return fmt.Errorf("loading preset rules: %w", err)
		}
		log.Info().Int("rules", len(presets)).Str("file", cfg.RulesFile).Msg("preset_rules_loaded")
		engineOpts = append(engineOpts, redact.WithPresetRules(presets))
	}
	engine := redact.NewEngine(analyzer, engineOpts...)

	serverOpts := []server.Option{
		server.WithCORSOrigins(cfg.CORSOrigins),
		server.WithRecognizerInfo(analyzer.Recognizers()),
		server.WithScoreThreshold(cfg.ScoreThreshold),
		server.WithRateLimiter(server.NewRateLimiter(cfg.GlobalRPM, cfg.CallerRPM)),
	}
	if cfg.APIKeys != "" {
		serverOpts = append(serverOpts, server.WithAPIKeys(config.ParseAPIKeys(cfg.APIKeys)))
	}

	var retention *audit.Retention
	if cfg.AuditEnabled {
		if err := cfg.EnsureDataDir(); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}
		store, err := audit.NewStore(cfg.AuditDBPath())
		if err != nil {
			return fmt.Errorf("opening audit store: %w", err)
		}
		defer store.Close()

		retention = audit.NewRetention(store, cfg.AuditRetentionDays)
		if err := retention.Start(); err != nil {
			return fmt.Errorf("starting audit retention: %w", err)
		}
		defer retention.Stop()

		serverOpts = append(serverOpts, server.WithAuditStore(store))
	}

	srv := server.NewServer(engine, serverOpts...)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", servePort),
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", servePort).Msg("server_started")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	log.Info().Msg("shutting_down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
