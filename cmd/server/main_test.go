package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/r3xsaler/Mi-tienda-pos/internal/config"
	"github.com/r3xsaler/Mi-tienda-pos/internal/domain"
	"github.com/r3xsaler/Mi-tienda-pos/internal/report"
	"github.com/r3xsaler/Mi-tienda-pos/internal/store/memory"
)

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	if err := validateSecurityConfig(config.Config{AuthSecret: "short"}); err == nil {
		t.Fatalf("expected weak security config to be rejected")
	}
	if err := validateSecurityConfig(config.Config{FirebaseProjectID: "mi-tienda"}); err == nil {
		t.Fatalf("expected firebase without api key to be rejected")
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	if err := validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef"}); err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
	if err := validateSecurityConfig(config.Config{FirebaseProjectID: "mi-tienda", FirebaseAPIKey: "key"}); err != nil {
		t.Fatalf("expected firebase config to pass without AUTH_SECRET, got %v", err)
	}
}

func TestSetupLoggerLevels(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	setupLogger(config.Config{LogLevel: "debug", LogFormat: "json"})
	if zerolog.GlobalLevel() != zerolog.DebugLevel {
		t.Fatalf("expected debug level, got %s", zerolog.GlobalLevel())
	}
	setupLogger(config.Config{LogLevel: "nonsense"})
	if zerolog.GlobalLevel() != zerolog.InfoLevel {
		t.Fatalf("expected info fallback, got %s", zerolog.GlobalLevel())
	}
}

func TestOpenBackendDefaultsToMemory(t *testing.T) {
	b, err := openBackend(context.Background(), config.Config{})
	if err != nil {
		t.Fatalf("open backend: %v", err)
	}
	defer b.close()
	if _, ok := b.repo.(*memory.Store); !ok {
		t.Fatalf("expected memory repository, got %T", b.repo)
	}
	if b.bus == nil {
		t.Fatalf("expected a change bus")
	}
}

func TestWriteClosingReport(t *testing.T) {
	repo := memory.New()
	ctx := context.Background()
	created, err := repo.CreateClosing(ctx, "op-1", domain.DailyClosing{
		CreatedAt:  time.Date(2026, 3, 5, 18, 30, 0, 0, time.Local),
		TotalLocal: 50,
		TotalUSD:   1.25,
		SalesCount: 1,
		Sales: []domain.Sale{{
			ID:            "s1",
			Lines:         []domain.SaleLine{{ProductID: "p1", Name: "Harina", Quantity: 1, SalePrice: 50, UnitPrice: 50, Profit: 10}},
			TotalLocal:    50,
			TotalUSD:      1.25,
			PaymentMethod: domain.PaymentZelle,
			CreatedAt:     time.Date(2026, 3, 5, 10, 0, 0, 0, time.Local),
		}},
	})
	if err != nil {
		t.Fatalf("create closing: %v", err)
	}

	dir := filepath.Join(t.TempDir(), "reportes")
	path, err := writeClosingReport(ctx, repo, report.NewPDFRenderer("Mi Tienda"), "op-1", created.ID, dir)
	if err != nil {
		t.Fatalf("write report: %v", err)
	}
	if filepath.Base(path) != "Cierre_05-03-2026,_18.30.00.pdf" {
		t.Fatalf("unexpected file name %q", filepath.Base(path))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("%PDF-")) {
		t.Fatalf("expected a PDF file")
	}

	if _, err := writeClosingReport(ctx, repo, report.NewPDFRenderer("Mi Tienda"), "op-1", "missing", dir); err == nil {
		t.Fatalf("expected missing closing to fail")
	}
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := newRootCmd()
	names := make([]string, 0, len(root.Commands()))
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	joined := strings.Join(names, ",")
	for _, want := range []string{"serve", "migrate", "report"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("expected %q subcommand, got %s", want, joined)
		}
	}
}
