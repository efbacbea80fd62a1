package config

import "testing"

func TestLoadAppliesExposureDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/exposure?sslmode=disable")
	t.Setenv("JWT_ACCESS_SECRET", "secret")
	t.Setenv("CORS_ALLOW_CREDENTIALS", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.GetExposureWorkers() != 8 {
		t.Fatalf("expected 8 workers, got %d", cfg.GetExposureWorkers())
	}
	if cfg.GetExposureFlushEvery() != 150 {
		t.Fatalf("expected flush every 150, got %d", cfg.GetExposureFlushEvery())
	}
	if cfg.GetExposureDefaultOEL() != 0.05 {
		t.Fatalf("expected default OEL 0.05, got %v", cfg.GetExposureDefaultOEL())
	}
	if cfg.IsMinIOEnabled() {
		t.Fatalf("expected MinIO disabled without endpoint")
	}
}

func TestLoadRejectsMissingDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_ACCESS_SECRET", "secret")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error for empty DATABASE_URL")
	}
}

func TestLoadRejectsZeroWorkers(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/exposure")
	t.Setenv("JWT_ACCESS_SECRET", "secret")
	t.Setenv("CORS_ALLOW_CREDENTIALS", "false")
	t.Setenv("EXPOSURE_WORKERS", "0")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error for zero workers")
	}
}
