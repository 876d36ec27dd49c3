package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"fleet-log-router/internal/config"
	telemetryotel "fleet-log-router/internal/telemetry/otel"
)

func writeFacts(t *testing.T, facts map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, value := range facts {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(value+"\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestRun_ConfigurationFailureFlushesTelemetry(t *testing.T) {
	shutdowns := 0
	orig := newProviders
	newProviders = func(ctx context.Context, opts telemetryotel.ProviderOptions) (*telemetryotel.Providers, error) {
		p, err := orig(ctx, opts)
		if err != nil {
			return nil, err
		}
		inner := p.Shutdown
		p.Shutdown = func(ctx context.Context) error {
			shutdowns++
			return inner(ctx)
		}
		return p, nil
	}
	defer func() { newProviders = orig }()

	dir := writeFacts(t, map[string]string{
		"hosttype": "fatclient",
		"hostname": "kone-1",
		"domain":   "kool.example.org",
	})
	cfg := &config.Config{
		IdentityDir:    dir,
		ImageNameFile:  filepath.Join(dir, "missing-image"),
		ResolveCommand: filepath.Join(dir, "no-such-resolver"),
		LogLevel:       "error",
		RecordTag:      "puavo",
	}

	if code := run(cfg); code != 1 {
		t.Fatalf("run = %d, want 1", code)
	}
	if shutdowns != 1 {
		t.Errorf("telemetry shutdowns = %d, want 1", shutdowns)
	}
}

func TestRun_MissingIdentityFails(t *testing.T) {
	cfg := &config.Config{
		IdentityDir:   t.TempDir(),
		ImageNameFile: filepath.Join(t.TempDir(), "missing-image"),
		LogLevel:      "error",
	}
	if code := run(cfg); code != 1 {
		t.Errorf("run = %d, want 1", code)
	}
}
