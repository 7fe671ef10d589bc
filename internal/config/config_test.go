package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("PAYMENT_CURRENCY", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.PaymentCurrency != "inr" {
		t.Errorf("PaymentCurrency = %q, want inr", cfg.PaymentCurrency)
	}
	if cfg.JWTExpiration().Hours() != 24 {
		t.Errorf("JWTExpiration = %v", cfg.JWTExpiration())
	}
}

func TestYAMLOverlayAndEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	admin := uuid.New()
	yml := "payment_currency: usd\n" +
		"payout_method: payout\n" +
		"reconcile_interval_seconds: 5\n" +
		"minio:\n  bucket: attachments\n  use_ssl: true\n" +
		"admin_user_ids:\n  - " + admin.String() + "\n"
	if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PAYOUT_METHOD", "transfer")
	t.Setenv("MINIO_SSL", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.PaymentCurrency != "usd" {
		t.Errorf("PaymentCurrency = %q, want usd from file", cfg.PaymentCurrency)
	}
	if cfg.PayoutMethod != "transfer" {
		t.Errorf("PayoutMethod = %q, env should win", cfg.PayoutMethod)
	}
	if cfg.ReconcileInterval().Seconds() != 5 {
		t.Errorf("ReconcileInterval = %v", cfg.ReconcileInterval())
	}
	if cfg.MinIO.Bucket != "attachments" || !cfg.MinIO.UseSSL {
		t.Errorf("MinIO = %+v", cfg.MinIO)
	}
	if !cfg.IsAdmin(admin) || cfg.IsAdmin(uuid.New()) {
		t.Error("admin list not applied")
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidateNormalizesUnknownValues(t *testing.T) {
	cfg := defaults()
	cfg.PayoutMethod = "wire"
	cfg.EventsBackend = "kafka"
	cfg.Validate(zap.NewNop())

	if cfg.PayoutMethod != "transfer" {
		t.Errorf("PayoutMethod = %q", cfg.PayoutMethod)
	}
	if cfg.EventsBackend != "redis" {
		t.Errorf("EventsBackend = %q", cfg.EventsBackend)
	}
}

func TestParseIDList(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	ids := parseIDList(a.String() + ", not-a-uuid ," + b.String())
	if len(ids) != 2 || ids[0] != a || ids[1] != b {
		t.Errorf("parseIDList = %v", ids)
	}
	if parseIDList("") != nil {
		t.Error("empty list should be nil")
	}
}
