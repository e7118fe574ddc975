// Package config loads and validates clipper configuration via Viper.
package config

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Backend names accepted by storage.backend and notes.backend.
const (
	BackendSiYuan = "siyuan"
	BackendLocal  = "local"
	BackendMemory = "memory"
	BackendGCS    = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Rewriter  RewriterConfig  `mapstructure:"rewriter"`
	Converter ConverterConfig `mapstructure:"converter"`
	Media     MediaConfig     `mapstructure:"media"`
	Importer  ImporterConfig  `mapstructure:"importer"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	SiYuan    SiYuanConfig    `mapstructure:"siyuan"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Notes     NotesConfig     `mapstructure:"notes"`
	DB        DBConfig        `mapstructure:"db"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Progress  ProgressConfig  `mapstructure:"progress"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// HTTPConfig configures the plain page and asset transport.
type HTTPConfig struct {
	UserAgent      string            `mapstructure:"user_agent"`
	TimeoutSeconds int               `mapstructure:"timeout_seconds"`
	MaxBodyBytes   int               `mapstructure:"max_body_bytes"`
	Headers        map[string]string `mapstructure:"headers"`
}

// FetchConfig configures decoding and render routing.
type FetchConfig struct {
	RenderHosts          []string `mapstructure:"render_hosts"`
	ReplacementThreshold float64  `mapstructure:"replacement_threshold"`
	Fallbacks            []string `mapstructure:"fallback_encodings"`
	DetectorThreshold    int      `mapstructure:"detector_threshold"`
	MinVisibleText       int      `mapstructure:"min_visible_text"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	MaxParallel   int    `mapstructure:"max_parallel"`
	NavTimeoutSec int    `mapstructure:"nav_timeout_seconds"`
	SettleMs      int    `mapstructure:"settle_ms"`
	WaitSelector  string `mapstructure:"wait_selector"`
}

// RewriterConfig configures wrapper-page handlers. Hosts maps a handler
// name to the hosts it inspects.
type RewriterConfig struct {
	Marker    string              `mapstructure:"marker"`
	ScanLines int                 `mapstructure:"scan_lines"`
	Hosts     map[string][]string `mapstructure:"hosts"`
}

// ConverterConfig configures markdown conversion.
type ConverterConfig struct {
	MinLength  int      `mapstructure:"min_length"`
	Strategies []string `mapstructure:"strategies"`
}

// MediaConfig configures asset resolution.
type MediaConfig struct {
	Concurrency    int     `mapstructure:"concurrency"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	MinBytes       int     `mapstructure:"min_bytes"`
	Prefix         string  `mapstructure:"prefix"`
	RPS            float64 `mapstructure:"rps"`
	Burst          int     `mapstructure:"burst"`
}

// ImporterConfig configures how documents land in the note store.
type ImporterConfig struct {
	Header     string `mapstructure:"header"`
	OnExists   string `mapstructure:"on_exists"`
	MaxRenames int    `mapstructure:"max_renames"`
}

// PipelineConfig configures orchestration and the default import target.
type PipelineConfig struct {
	Concurrency        int    `mapstructure:"concurrency"`
	PageTimeoutSeconds int    `mapstructure:"page_timeout_seconds"`
	MaxAttempts        int    `mapstructure:"max_attempts"`
	BackoffInitialMs   int    `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs       int    `mapstructure:"backoff_max_ms"`
	Notebook           string `mapstructure:"notebook"`
	Path               string `mapstructure:"path"`
}

// SiYuanConfig holds kernel API connection settings.
type SiYuanConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	Token          string `mapstructure:"token"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	AssetsDir      string `mapstructure:"assets_dir"`
}

// StorageConfig selects the asset backend.
type StorageConfig struct {
	Backend       string `mapstructure:"backend"`
	LocalDir      string `mapstructure:"local_dir"`
	GCSBucket     string `mapstructure:"gcs_bucket"`
	PublicBaseURL string `mapstructure:"public_base_url"`
}

// NotesConfig selects the note store backend.
type NotesConfig struct {
	Backend  string `mapstructure:"backend"`
	LocalDir string `mapstructure:"local_dir"`
}

// DBConfig controls access to the outcome ledger.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// PubSubConfig holds metadata for completion events.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ProgressConfig controls the stage event hub.
type ProgressConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	BufferSize     int  `mapstructure:"buffer_size"`
	MaxBatchWaitMs int  `mapstructure:"max_batch_wait_ms"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CLIPPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("server.port", 8080)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("http.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 "+
		"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.max_body_bytes", 20<<20)
	v.SetDefault("http.headers", map[string]string{
		"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
		"Accept-Language": "zh-CN,zh;q=0.9,en;q=0.8",
		"Accept-Encoding": "gzip, deflate, br",
	})
	v.SetDefault("fetch.render_hosts", []string{"toutiao.com", "m.toutiao.com"})
	v.SetDefault("fetch.replacement_threshold", 0.01)
	v.SetDefault("fetch.fallback_encodings", []string{"utf-8", "gbk", "gb2312"})
	v.SetDefault("fetch.detector_threshold", 2048)
	v.SetDefault("fetch.min_visible_text", 200)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("headless.settle_ms", 2000)
	v.SetDefault("headless.wait_selector", "body")
	v.SetDefault("rewriter.marker", "原文链接")
	v.SetDefault("rewriter.scan_lines", 10)
	v.SetDefault("rewriter.hosts", map[string][]string{
		"feishu": {"feishu.cn"},
		"lark":   {"larksuite.com"},
	})
	v.SetDefault("converter.min_length", 50)
	v.SetDefault("converter.strategies", []string{"html-to-markdown-v2", "html-to-markdown-v1", "builtin-minimal"})
	v.SetDefault("media.concurrency", 4)
	v.SetDefault("media.timeout_seconds", 20)
	v.SetDefault("media.min_bytes", 100)
	v.SetDefault("media.prefix", "assets")
	v.SetDefault("media.rps", 4)
	v.SetDefault("media.burst", 4)
	v.SetDefault("importer.header", "inline")
	v.SetDefault("importer.on_exists", "skip")
	v.SetDefault("importer.max_renames", 50)
	v.SetDefault("pipeline.concurrency", 2)
	v.SetDefault("pipeline.page_timeout_seconds", 60)
	v.SetDefault("pipeline.max_attempts", 3)
	v.SetDefault("pipeline.backoff_initial_ms", 250)
	v.SetDefault("pipeline.backoff_max_ms", 5000)
	v.SetDefault("pipeline.notebook", "剪藏笔记本")
	v.SetDefault("pipeline.path", "/知识点滴")
	v.SetDefault("siyuan.base_url", "http://127.0.0.1:6806")
	v.SetDefault("siyuan.token", "")
	v.SetDefault("siyuan.timeout_seconds", 30)
	v.SetDefault("siyuan.assets_dir", "/assets/")
	v.SetDefault("storage.backend", BackendSiYuan)
	v.SetDefault("storage.local_dir", "output")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.public_base_url", "")
	v.SetDefault("notes.backend", BackendSiYuan)
	v.SetDefault("notes.local_dir", "output")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "clips")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("progress.enabled", true)
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.max_batch_wait_ms", 250)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Pipeline.Concurrency <= 0 {
		return fmt.Errorf("pipeline.concurrency must be > 0")
	}
	if c.Pipeline.PageTimeoutSeconds <= 0 {
		return fmt.Errorf("pipeline.page_timeout_seconds must be > 0")
	}
	if c.Media.Concurrency <= 0 {
		return fmt.Errorf("media.concurrency must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Importer.Header {
	case "inline", "block", "none":
	default:
		return fmt.Errorf("importer.header must be inline, block or none, got %q", c.Importer.Header)
	}
	switch c.Importer.OnExists {
	case "skip", "rename":
	default:
		return fmt.Errorf("importer.on_exists must be skip or rename, got %q", c.Importer.OnExists)
	}
	switch c.Storage.Backend {
	case BackendSiYuan, BackendLocal, BackendMemory:
	case BackendGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	switch c.Notes.Backend {
	case BackendSiYuan, BackendLocal, BackendMemory:
	default:
		return fmt.Errorf("unknown notes.backend %q", c.Notes.Backend)
	}
	if (c.Notes.Backend == BackendSiYuan || c.Storage.Backend == BackendSiYuan) && c.SiYuan.BaseURL == "" {
		return fmt.Errorf("siyuan.base_url must be set for the siyuan backend")
	}
	return nil
}

// PageTimeout bounds fetch, rewrite and conversion of one page.
func (c Config) PageTimeout() time.Duration {
	return time.Duration(c.Pipeline.PageTimeoutSeconds) * time.Second
}

// RequestHeaders returns the configured default request headers.
func (c Config) RequestHeaders() http.Header {
	h := make(http.Header, len(c.HTTP.Headers))
	for k, v := range c.HTTP.Headers {
		h.Set(k, v)
	}
	return h
}
