package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
)

// clearEnv unsets every key Load reads so ambient variables do not leak into tests.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"PUAVO_HOSTTYPE", "PUAVO_HOSTNAME", "PUAVO_DOMAIN", "PUAVO_LDAP_DN", "PUAVO_LDAP_PASSWORD",
		"REST_HOST", "REST_PORT", "MAX_RECORDS", "FORWARD_HOST", "FORWARD_PORT", "RESOLVE_COMMAND",
		"FLUSH_INTERVAL", "RECORD_TAG", "IDENTITY_DIR", "IMAGE_NAME_FILE", "OVERRIDES_FILE",
		"LOG_LEVEL", "OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_INSECURE",
	} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RestHost != "api.opinsys.fi" {
		t.Errorf("RestHost = %q, want api.opinsys.fi", cfg.RestHost)
	}
	if cfg.RestPort != 443 {
		t.Errorf("RestPort = %d, want 443", cfg.RestPort)
	}
	if cfg.MaxRecords != 20 {
		t.Errorf("MaxRecords = %d, want 20", cfg.MaxRecords)
	}
	if cfg.ForwardPort != 24224 {
		t.Errorf("ForwardPort = %d, want 24224", cfg.ForwardPort)
	}
	if cfg.HostType != "" || cfg.Hostname != "" || cfg.Domain != "" {
		t.Errorf("identity fields should be empty by default, got %q %q %q", cfg.HostType, cfg.Hostname, cfg.Domain)
	}
	if cfg.IdentityDir != "/etc/puavo" {
		t.Errorf("IdentityDir = %q, want /etc/puavo", cfg.IdentityDir)
	}
	if cfg.ResolveCommand != "puavo-resolve-api-server" {
		t.Errorf("ResolveCommand = %q", cfg.ResolveCommand)
	}
	if cfg.RecordTag != "puavo" {
		t.Errorf("RecordTag = %q, want puavo", cfg.RecordTag)
	}
	if cfg.Devices != nil {
		t.Errorf("Devices = %v, want nil", cfg.Devices)
	}
}

func TestLoad_EnvVarOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv("PUAVO_HOSTTYPE", "laptop")
	t.Setenv("REST_HOST", "logs.example.org")
	t.Setenv("REST_PORT", "8080")
	t.Setenv("MAX_RECORDS", "5")

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HostType != "laptop" {
		t.Errorf("HostType = %q, want laptop", cfg.HostType)
	}
	if cfg.RestHost != "logs.example.org" {
		t.Errorf("RestHost = %q", cfg.RestHost)
	}
	if cfg.RestPort != 8080 {
		t.Errorf("RestPort = %d, want 8080", cfg.RestPort)
	}
	if cfg.MaxRecords != 5 {
		t.Errorf("MaxRecords = %d, want 5", cfg.MaxRecords)
	}
}

func TestLoad_FlagsWinOverEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("RECORD_TAG", "from-env")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	if err := fs.Parse([]string{"--tag", "from-flag", "--hosttype", "fatclient"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}

	cfg, err := Load(fs)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RecordTag != "from-flag" {
		t.Errorf("RecordTag = %q, want from-flag", cfg.RecordTag)
	}
	if cfg.HostType != "fatclient" {
		t.Errorf("HostType = %q, want fatclient", cfg.HostType)
	}
}

func TestLoad_UnsetFlagKeepsEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("RECORD_TAG", "from-env")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	if err := fs.Parse(nil); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	cfg, err := Load(fs)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RecordTag != "from-env" {
		t.Errorf("RecordTag = %q, want from-env", cfg.RecordTag)
	}
}

func TestLoad_Validation(t *testing.T) {
	testCases := []struct {
		name  string
		key   string
		value string
	}{
		{"max records zero", "MAX_RECORDS", "0"},
		{"max records negative", "MAX_RECORDS", "-1"},
		{"rest port too high", "REST_PORT", "70000"},
		{"forward port zero", "FORWARD_PORT", "0"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tc.key, tc.value)
			cfg, err := Load(nil)
			if err == nil {
				t.Fatal("Load should return error")
			}
			if cfg != nil {
				t.Error("Load should return nil config on error")
			}
		})
	}
}

func TestLoad_OverridesFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "overrides.yaml")
	doc := "devices:\n  - roles: \"laptop|bootserver\"\n    settings:\n      max_records: \"50\"\n"
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("OVERRIDES_FILE", path)

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Devices) != 1 {
		t.Fatalf("Devices = %d blocks, want 1", len(cfg.Devices))
	}
	if cfg.Devices[0].Roles != "laptop|bootserver" {
		t.Errorf("Roles = %q", cfg.Devices[0].Roles)
	}
}

func TestLoad_OverridesFileMissing(t *testing.T) {
	clearEnv(t)
	t.Setenv("OVERRIDES_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Load(nil); err == nil {
		t.Fatal("Load should fail when the overrides file is missing")
	}
}
