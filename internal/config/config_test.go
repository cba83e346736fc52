package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")
	t.Setenv("MANAGER_PIN", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
	if cfg.ManagerPIN != "" {
		t.Fatalf("expected empty MANAGER_PIN when unset, got %q", cfg.ManagerPIN)
	}
}

func TestLoadBillingDefaults(t *testing.T) {
	t.Setenv("DEFAULT_TAX_RATE", "")
	t.Setenv("INVOICE_PREFIX", "")
	t.Setenv("PAYMENT_TERM_DAYS", "")
	t.Setenv("INVOICE_RESYNC_SECONDS", "")

	cfg := Load()
	if cfg.DefaultTaxRate.String() != "5.5" {
		t.Fatalf("expected default tax rate 5.5, got %s", cfg.DefaultTaxRate)
	}
	if cfg.InvoicePrefix != "FAC" || cfg.PaymentTermDays != 30 {
		t.Fatalf("unexpected invoice defaults %q %d", cfg.InvoicePrefix, cfg.PaymentTermDays)
	}
	if cfg.InvoiceResyncInterval().Seconds() != 30 {
		t.Fatalf("expected 30s resync, got %s", cfg.InvoiceResyncInterval())
	}
}

func TestLoadRejectsInvalidNumbers(t *testing.T) {
	t.Setenv("DEFAULT_TAX_RATE", "150")
	t.Setenv("PAYMENT_TERM_DAYS", "-4")
	t.Setenv("CATALOG_CACHE_TTL_SECONDS", "zero")
	t.Setenv("INVOICE_RESYNC_SECONDS", "0")

	cfg := Load()
	if cfg.DefaultTaxRate.String() != "5.5" {
		t.Fatalf("expected out-of-range rate to fall back, got %s", cfg.DefaultTaxRate)
	}
	if cfg.PaymentTermDays != 30 {
		t.Fatalf("expected negative term days to fall back, got %d", cfg.PaymentTermDays)
	}
	if cfg.CatalogCacheTTLSeconds != 60 {
		t.Fatalf("expected invalid ttl to fall back, got %d", cfg.CatalogCacheTTLSeconds)
	}
	if cfg.InvoiceResyncInterval() != 0 {
		t.Fatalf("expected resync disabled with 0, got %s", cfg.InvoiceResyncInterval())
	}
}

func TestLoadEnvFileKeepsExistingValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("INVOICE_PREFIX=BOUL\nPORT=9090\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("PORT", "8181")
	t.Setenv("INVOICE_PREFIX", "")
	os.Unsetenv("INVOICE_PREFIX")

	if err := LoadEnvFile(path); err != nil {
		t.Fatalf("load env file: %v", err)
	}
	cfg := Load()
	if cfg.Port != "8181" {
		t.Fatalf("expected existing PORT to win, got %s", cfg.Port)
	}
	if cfg.InvoicePrefix != "BOUL" {
		t.Fatalf("expected prefix from file, got %s", cfg.InvoicePrefix)
	}

	if err := LoadEnvFile(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("missing file must be ignored, got %v", err)
	}
}
