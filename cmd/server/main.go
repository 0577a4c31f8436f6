package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/r3xsaler/Mi-tienda-pos/internal/closing"
	"github.com/r3xsaler/Mi-tienda-pos/internal/config"
	"github.com/r3xsaler/Mi-tienda-pos/internal/events"
	"github.com/r3xsaler/Mi-tienda-pos/internal/httpapi"
	"github.com/r3xsaler/Mi-tienda-pos/internal/report"
	"github.com/r3xsaler/Mi-tienda-pos/internal/service"
	"github.com/r3xsaler/Mi-tienda-pos/internal/session"
	"github.com/r3xsaler/Mi-tienda-pos/internal/store"
	fsstore "github.com/r3xsaler/Mi-tienda-pos/internal/store/firestore"
	"github.com/r3xsaler/Mi-tienda-pos/internal/store/memory"
	pgstore "github.com/r3xsaler/Mi-tienda-pos/internal/store/postgres"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "mi-tienda-pos",
		Short:        "Dual-currency point of sale backend",
		SilenceUsage: true,
		RunE:         runServe,
	}
	root.PersistentPreRun = func(*cobra.Command, []string) {
		setupLogger(config.Load())
	}

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API (default)",
		RunE:  runServe,
	}

	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the PostgreSQL schema",
		RunE:  runMigrate,
	}

	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "Render a stored daily closing to a PDF file",
		RunE:  runReport,
	}
	reportCmd.Flags().String("operator", "", "operator id that owns the closing")
	reportCmd.Flags().String("closing", "", "closing id")
	reportCmd.Flags().String("out", ".", "output directory")
	_ = reportCmd.MarkFlagRequired("operator")
	_ = reportCmd.MarkFlagRequired("closing")

	root.AddCommand(serve, migrate, reportCmd)
	return root
}

// setupLogger configures the global logger: console output by default, JSON
// when LOG_FORMAT=json.
func setupLogger(cfg config.Config) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.LogFormat == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
}

type backend struct {
	repo    store.Repository
	bus     events.Bus
	closers []func() error
}

func (b *backend) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			log.Warn().Err(err).Msg("close error")
		}
	}
}

// openBackend picks the repository and change bus: Firestore when a Firebase
// project is configured, PostgreSQL when DATABASE_URL is set, memory otherwise.
func openBackend(ctx context.Context, cfg config.Config) (*backend, error) {
	b := &backend{}

	switch {
	case cfg.UsesFirebase():
		fs, err := fsstore.New(ctx, fsstore.Config{
			ProjectID:       cfg.FirebaseProjectID,
			AppID:           cfg.FirestoreAppID,
			CredentialsFile: cfg.FirebaseCredentialsFile,
		}, log.Logger)
		if err != nil {
			return nil, fmt.Errorf("firestore: %w", err)
		}
		b.repo, b.bus = fs, fs
		b.closers = append(b.closers, fs.Close)
		log.Info().Str("project_id", cfg.FirebaseProjectID).Msg("repository: firestore")
		return b, nil
	case cfg.DatabaseURL != "":
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback: %w", err)
		}
		b.repo = pg
		b.closers = append(b.closers, pg.Close)
		log.Info().Msg("repository: postgres")
	case cfg.SeedDemo:
		b.repo = memory.NewSeeded()
		log.Info().Str("demo_operator", memory.DemoOperatorID).Msg("repository: in-memory (seeded)")
	default:
		b.repo = memory.New()
		log.Info().Msg("repository: in-memory")
	}

	b.bus = events.NewLocalBus(log.Logger)
	if cfg.RedisAddr != "" {
		redisBus := events.NewRedisBus(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, log.Logger)
		if err := redisBus.Ping(ctx); err != nil {
			log.Warn().Err(err).Msg("redis unavailable, using in-process change bus")
			_ = redisBus.Close()
		} else {
			b.bus = redisBus
			b.closers = append(b.closers, redisBus.Close)
			log.Info().Msg("change bus: redis")
			return b, nil
		}
	}
	log.Info().Msg("change bus: in-process")
	return b, nil
}

func newAuthenticator(ctx context.Context, cfg config.Config, users store.Users) (httpapi.Authenticator, error) {
	if cfg.UsesFirebase() {
		return httpapi.NewFirebaseAuth(ctx, httpapi.FirebaseConfig{
			ProjectID:       cfg.FirebaseProjectID,
			CredentialsFile: cfg.FirebaseCredentialsFile,
			APIKey:          cfg.FirebaseAPIKey,
		})
	}
	return httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, users), nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg := config.Load()
	if err := validateSecurityConfig(cfg); err != nil {
		return fmt.Errorf("invalid security configuration: %w", err)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
	defer cancel()

	b, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.close()

	if pg, ok := b.repo.(*pgstore.Store); ok {
		if err := pg.Migrate(ctx); err != nil {
			return err
		}
	}

	auth, err := newAuthenticator(ctx, cfg, b.repo)
	if err != nil {
		return err
	}

	sessions := session.NewManager(b.repo, b.bus, log.Logger)
	defer func() {
		if err := sessions.Close(); err != nil {
			log.Warn().Err(err).Msg("close sessions")
		}
	}()
	svc := service.New(b.repo, sessions, b.bus, log.Logger, service.Options{BusinessName: cfg.BusinessName})
	api := httpapi.New(svc, auth, cfg.AllowedOrigin, log.Logger)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Address()).Msg("POS backend listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case s := <-sig:
		log.Info().Str("signal", s.String()).Msg("shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("shutdown error")
	}

	log.Info().Msg("server stopped")
	return nil
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg := config.Load()
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	pg, err := pgstore.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pg.Close()

	if err := pg.Migrate(ctx); err != nil {
		return err
	}
	log.Info().Msg("schema applied")
	return nil
}

func runReport(cmd *cobra.Command, _ []string) error {
	cfg := config.Load()
	operatorID, _ := cmd.Flags().GetString("operator")
	closingID, _ := cmd.Flags().GetString("closing")
	outDir, _ := cmd.Flags().GetString("out")

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	b, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.close()

	path, err := writeClosingReport(ctx, b.repo, report.NewPDFRenderer(cfg.BusinessName), operatorID, closingID, outDir)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), path)
	return nil
}

func writeClosingReport(ctx context.Context, closings store.Closings, renderer *report.PDFRenderer, operatorID, closingID, outDir string) (string, error) {
	operatorID, closingID = strings.TrimSpace(operatorID), strings.TrimSpace(closingID)
	c, err := closings.GetClosing(ctx, operatorID, closingID)
	if err != nil {
		return "", fmt.Errorf("load closing %s: %w", closingID, err)
	}
	doc, err := renderer.RenderClosing(*c, closing.Summarize(c.Sales))
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(outDir, report.FileName(c.CreatedAt.In(time.Local)))
	if err := os.WriteFile(path, doc, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func validateSecurityConfig(cfg config.Config) error {
	if cfg.UsesFirebase() {
		if cfg.FirebaseAPIKey == "" {
			return fmt.Errorf("FIREBASE_API_KEY must be set when FIREBASE_PROJECT_ID is used")
		}
		return nil
	}
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	return nil
}
