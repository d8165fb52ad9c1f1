package config

import (
	"os"
	"strings"
	"testing"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Server.BasePath != "/v0" || cfg.Logging.Level != "info" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestFromYAMLKeepsDefaultsForMissingKeys(t *testing.T) {
	cfg, err := FromYAML([]byte("progress:\n  round_overall: true\n"))
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Progress.RoundOverall {
		t.Fatalf("expected round_overall true")
	}
	if cfg.Server.Addr != "127.0.0.1:8080" {
		t.Fatalf("expected default addr, got %q", cfg.Server.Addr)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"level":    "logging:\n  level: loud\n",
		"format":   "logging:\n  format: xml\n",
		"basepath": "server:\n  base_path: v0\n",
		"hookurl":  "audit:\n  webhooks:\n    - url: ftp://example.com\n",
		"hookmiss": "audit:\n  webhooks:\n    - enabled: true\n",
	}
	for name, doc := range cases {
		if _, err := FromYAML([]byte(doc)); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestLoadOptionalWithoutFile(t *testing.T) {
	cfg, err := LoadOptional(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if cfg == nil || cfg.Server.BasePath != "/v0" {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestLoadReadsWorkspaceFile(t *testing.T) {
	dir := t.TempDir()
	doc := "audit:\n  webhooks:\n    - url: https://audit.example.com/hook\n      enabled: false\n"
	if err := os.WriteFile(Path(dir), []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Audit.Webhooks) != 1 || cfg.Audit.Webhooks[0].Active() {
		t.Fatalf("expected one disabled webhook, got %+v", cfg.Audit.Webhooks)
	}
	if !strings.HasSuffix(Path(dir), "tracerline.yml") {
		t.Fatalf("unexpected path %s", Path(dir))
	}
}

func TestApplyEnvOverridesFileValues(t *testing.T) {
	t.Setenv("TRACERLINE_LOG_LEVEL", "debug")
	t.Setenv("TRACERLINE_ROUND_OVERALL", "true")
	t.Setenv("TRACERLINE_BASE_PATH", "/api")
	cfg := Default()
	if err := ApplyEnv(cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Logging.Level != "debug" || !cfg.Progress.RoundOverall || cfg.Server.BasePath != "/api" {
		t.Fatalf("env not applied: %+v", cfg)
	}
	if cfg.Server.Addr != "127.0.0.1:8080" {
		t.Fatalf("unset variables must keep file values, got %q", cfg.Server.Addr)
	}
}

func TestApplyEnvRejectsInvalidValues(t *testing.T) {
	t.Setenv("TRACERLINE_ROUND_OVERALL", "sometimes")
	if err := ApplyEnv(Default()); err == nil {
		t.Fatal("expected invalid boolean error")
	}
	t.Setenv("TRACERLINE_ROUND_OVERALL", "")
	t.Setenv("TRACERLINE_LOG_FORMAT", "xml")
	if err := ApplyEnv(Default()); err == nil || !strings.Contains(err.Error(), "format") {
		t.Fatalf("expected validation error, got %v", err)
	}
}
