package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store.Backend != "json" || cfg.Store.Path != "data/tasks.json" {
		t.Errorf("store defaults: %+v", cfg.Store)
	}
	if cfg.Upload.Provider != "onedrive" || cfg.Upload.Folder != "BTDownloads" {
		t.Errorf("upload defaults: %+v", cfg.Upload)
	}
	if cfg.Service.Interval != 300*time.Second {
		t.Errorf("interval = %v, want 5m", cfg.Service.Interval)
	}
	if cfg.Service.MaxRetries != 5 || cfg.Service.PurgeOnComplete {
		t.Errorf("service defaults: %+v", cfg.Service)
	}
	if cfg.Auth.TokenTTL != 12*time.Hour {
		t.Errorf("token ttl = %v, want 12h", cfg.Auth.TokenTTL)
	}
	if cfg.Download.MaxDownloadRate != 0 || cfg.Download.MaxUploadRate != 0 {
		t.Errorf("rate caps must default to unlimited: %+v", cfg.Download)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("BTBRIDGE_STORE_BACKEND", "sqlite")
	t.Setenv("BTBRIDGE_STORE_PATH", "data/tasks.db")
	t.Setenv("BTBRIDGE_SERVICE_INTERVAL", "30s")
	t.Setenv("BTBRIDGE_UPLOAD_PROVIDER", "s3")
	t.Setenv("BTBRIDGE_STORAGE_BUCKET", "my-bucket")
	t.Setenv("BTBRIDGE_DOWNLOAD_MAXDOWNLOADRATE", "1048576")
	t.Setenv("BTBRIDGE_DOWNLOAD_MAXUPLOADRATE", "524288")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store.Backend != "sqlite" || cfg.Store.Path != "data/tasks.db" {
		t.Errorf("store overrides not applied: %+v", cfg.Store)
	}
	if cfg.Service.Interval != 30*time.Second {
		t.Errorf("interval = %v", cfg.Service.Interval)
	}
	if cfg.Upload.Provider != "s3" || cfg.Storage.Bucket != "my-bucket" {
		t.Errorf("upload overrides not applied: %+v / %+v", cfg.Upload, cfg.Storage)
	}
	if cfg.Download.MaxDownloadRate != 1048576 || cfg.Download.MaxUploadRate != 524288 {
		t.Errorf("rate cap overrides not applied: %+v", cfg.Download)
	}
}

func TestLoadRejectsNegativeRateCap(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("BTBRIDGE_DOWNLOAD_MAXDOWNLOADRATE", "-1")

	if _, err := Load(); err == nil {
		t.Error("expected an error for a negative rate cap")
	}
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("BTBRIDGE_STORE_BACKEND", "mongodb")

	if _, err := Load(); err == nil {
		t.Error("expected an error for an unknown store backend")
	}
}

func TestDotEnvDoesNotOverrideProcessEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	env := "BTBRIDGE_UPLOAD_FOLDER=FromFile\n# comment\n\nBTBRIDGE_STORE_BACKEND=json\n"
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(env), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("BTBRIDGE_UPLOAD_FOLDER", "FromProcess")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Upload.Folder != "FromProcess" {
		t.Errorf("folder = %q, process env must win over .env", cfg.Upload.Folder)
	}
}
