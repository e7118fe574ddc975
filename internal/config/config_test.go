package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
http:
  timeout_seconds: 45
  headers:
    Accept-Language: en-US
fetch:
  render_hosts: ["toutiao.com", "example.org"]
importer:
  header: block
  on_exists: rename
pipeline:
  concurrency: 6
  page_timeout_seconds: 90
  notebook: Inbox
storage:
  backend: gcs
  gcs_bucket: clips-bucket
notes:
  backend: local
  local_dir: /tmp/notes
rewriter:
  hosts:
    feishu: ["feishu.cn", "feishu.net"]
logging:
  development: false
  level: debug
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if cfg.Importer.Header != "block" || cfg.Importer.OnExists != "rename" {
		t.Fatalf("expected importer overrides, got %+v", cfg.Importer)
	}
	if cfg.Storage.Backend != BackendGCS || cfg.Storage.GCSBucket != "clips-bucket" {
		t.Fatalf("expected gcs storage, got %+v", cfg.Storage)
	}
	if cfg.Notes.Backend != BackendLocal || cfg.Notes.LocalDir != "/tmp/notes" {
		t.Fatalf("expected local notes, got %+v", cfg.Notes)
	}
	if len(cfg.Fetch.RenderHosts) != 2 || cfg.Fetch.RenderHosts[1] != "example.org" {
		t.Fatalf("expected render hosts override, got %v", cfg.Fetch.RenderHosts)
	}
	if hosts := cfg.Rewriter.Hosts["feishu"]; len(hosts) != 2 {
		t.Fatalf("expected feishu hosts override, got %v", cfg.Rewriter.Hosts)
	}
	if cfg.Pipeline.Notebook != "Inbox" || cfg.Pipeline.Concurrency != 6 {
		t.Fatalf("expected pipeline overrides, got %+v", cfg.Pipeline)
	}
	if got := cfg.PageTimeout(); got != 90*time.Second {
		t.Fatalf("expected page timeout 90s, got %v", got)
	}
	if got := cfg.RequestHeaders().Get("Accept-Language"); got != "en-US" {
		t.Fatalf("expected Accept-Language override, got %q", got)
	}
	if cfg.Logging.Development || cfg.Logging.Level != "debug" {
		t.Fatalf("expected logging overrides, got %+v", cfg.Logging)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Storage.Backend != BackendSiYuan || cfg.Notes.Backend != BackendSiYuan {
		t.Fatalf("expected siyuan backends by default, got %q/%q", cfg.Storage.Backend, cfg.Notes.Backend)
	}
	if cfg.Rewriter.Marker != "原文链接" || cfg.Rewriter.ScanLines != 10 {
		t.Fatalf("unexpected rewriter defaults: %+v", cfg.Rewriter)
	}
	if len(cfg.Converter.Strategies) != 3 || cfg.Converter.MinLength != 50 {
		t.Fatalf("unexpected converter defaults: %+v", cfg.Converter)
	}
	if cfg.Media.Prefix != "assets" || cfg.Media.Concurrency != 4 {
		t.Fatalf("unexpected media defaults: %+v", cfg.Media)
	}
	if cfg.Importer.Header != "inline" || cfg.Importer.OnExists != "skip" {
		t.Fatalf("unexpected importer defaults: %+v", cfg.Importer)
	}
	if cfg.DB.Table != "clips" {
		t.Fatalf("expected default table clips, got %q", cfg.DB.Table)
	}
	headers := cfg.RequestHeaders()
	if !strings.HasPrefix(headers.Get("Accept-Language"), "zh-CN") {
		t.Fatalf("expected zh-CN Accept-Language, got %q", headers.Get("Accept-Language"))
	}
	if len(cfg.Fetch.RenderHosts) == 0 || cfg.Fetch.RenderHosts[0] != "toutiao.com" {
		t.Fatalf("expected toutiao render host, got %v", cfg.Fetch.RenderHosts)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("CLIPPER_SIYUAN_TOKEN", "env-token")
	t.Setenv("CLIPPER_PIPELINE_NOTEBOOK", "env-notebook")
	t.Setenv("CLIPPER_DB_DSN", "postgres://localhost/clips")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.SiYuan.Token != "env-token" {
		t.Fatalf("expected token from env, got %q", cfg.SiYuan.Token)
	}
	if cfg.Pipeline.Notebook != "env-notebook" {
		t.Fatalf("expected notebook from env, got %q", cfg.Pipeline.Notebook)
	}
	if cfg.DB.DSN != "postgres://localhost/clips" {
		t.Fatalf("expected dsn from env, got %q", cfg.DB.DSN)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:   ServerConfig{Port: 8080},
		HTTP:     HTTPConfig{TimeoutSeconds: 10},
		Pipeline: PipelineConfig{Concurrency: 1, PageTimeoutSeconds: 30},
		Media:    MediaConfig{Concurrency: 2},
		Importer: ImporterConfig{Header: "inline", OnExists: "skip"},
		Storage:  StorageConfig{Backend: BackendMemory},
		Notes:    NotesConfig{Backend: BackendMemory},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config should validate: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "invalid port", mutate: func(c *Config) { c.Server.Port = 0 }, want: "server.port"},
		{name: "invalid timeout", mutate: func(c *Config) { c.HTTP.TimeoutSeconds = 0 }, want: "http.timeout_seconds"},
		{name: "invalid concurrency", mutate: func(c *Config) { c.Pipeline.Concurrency = 0 }, want: "pipeline.concurrency"},
		{name: "invalid page timeout", mutate: func(c *Config) { c.Pipeline.PageTimeoutSeconds = 0 }, want: "pipeline.page_timeout_seconds"},
		{name: "invalid media concurrency", mutate: func(c *Config) { c.Media.Concurrency = 0 }, want: "media.concurrency"},
		{
			name:   "headless missing max parallel",
			mutate: func(c *Config) { c.Headless.Enabled = true },
			want:   "headless.max_parallel",
		},
		{name: "auth missing api key", mutate: func(c *Config) { c.Auth.Enabled = true }, want: "auth.api_key"},
		{name: "unknown header mode", mutate: func(c *Config) { c.Importer.Header = "footer" }, want: "importer.header"},
		{name: "unknown on_exists", mutate: func(c *Config) { c.Importer.OnExists = "overwrite" }, want: "importer.on_exists"},
		{name: "gcs without bucket", mutate: func(c *Config) { c.Storage.Backend = BackendGCS }, want: "storage.gcs_bucket"},
		{name: "unknown storage backend", mutate: func(c *Config) { c.Storage.Backend = "s3" }, want: "storage.backend"},
		{name: "unknown notes backend", mutate: func(c *Config) { c.Notes.Backend = "gcs" }, want: "notes.backend"},
		{name: "siyuan without base url", mutate: func(c *Config) { c.Notes.Backend = BackendSiYuan }, want: "siyuan.base_url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
