package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PAYCORE_DB_DSN", "file::memory:?cache=shared")
	t.Setenv("PAYCORE_DB_DRIVER", "sqlite")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.App.IsDev() {
		t.Fatal("default env should be dev")
	}
	if cfg.Engine.InquiryAttempts != 3 {
		t.Fatalf("unexpected inquiry attempts %d", cfg.Engine.InquiryAttempts)
	}
	if cfg.Engine.LeaseTTL != 2*time.Minute {
		t.Fatalf("unexpected lease ttl %s", cfg.Engine.LeaseTTL)
	}
	if cfg.Engine.ResultTTL != 168*time.Hour {
		t.Fatalf("unexpected result ttl %s", cfg.Engine.ResultTTL)
	}
	if cfg.DB.MaxOpenConns != 20 {
		t.Fatalf("unexpected pool size %d", cfg.DB.MaxOpenConns)
	}
}

func TestLoadRejectsMissingDSN(t *testing.T) {
	t.Setenv("PAYCORE_DB_DSN", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing DSN")
	}
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	t.Setenv("PAYCORE_DB_DSN", "some-dsn")
	t.Setenv("PAYCORE_DB_DRIVER", "oracle")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}
