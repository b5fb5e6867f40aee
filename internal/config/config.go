package config

import (
	"log/slog"
	"time"

	"github.com/creamcroissant/clashforge/internal/support/logging"
)

// Config 汇总应用的全部配置。
type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Sources  SourcesConfig  `mapstructure:"sources"`
	Filter   FilterConfig   `mapstructure:"filter"`
	Precheck PrecheckConfig `mapstructure:"precheck"`
	Output   OutputConfig   `mapstructure:"output"`
	Synth    SynthConfig    `mapstructure:"synth"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Verify   VerifyConfig   `mapstructure:"verify"`
	Report   ReportConfig   `mapstructure:"report"`
	Watch    WatchConfig    `mapstructure:"watch"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// LogConfig 定义日志配置。
type LogConfig struct {
	Level     string `mapstructure:"level"`
	Format    string `mapstructure:"format"`
	AddSource bool   `mapstructure:"add_source"`
}

// SourcesConfig 列出订阅地址与本地文件。
type SourcesConfig struct {
	URLs  []string    `mapstructure:"urls"`
	Files []string    `mapstructure:"files"`
	Fetch FetchConfig `mapstructure:"fetch"`
}

// FetchConfig 定义订阅下载参数。
type FetchConfig struct {
	UserAgent    string        `mapstructure:"user_agent"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxBytes     int64         `mapstructure:"max_bytes"`
	Retries      int           `mapstructure:"retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	Concurrency  int           `mapstructure:"concurrency"`
}

// FilterConfig 定义节点过滤规则。
type FilterConfig struct {
	BannedKeywords []string `mapstructure:"banned_keywords"`
	AllowedKinds   []string `mapstructure:"allowed_kinds"`
}

// PrecheckConfig 定义验证前的 TCP 连通性预检。
type PrecheckConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Concurrency int           `mapstructure:"concurrency"`
	Retries     int           `mapstructure:"retries"`
}

// OutputConfig 定义生成的 Clash 配置写到哪里。
type OutputConfig struct {
	ConfigPath string `mapstructure:"config_path"`
	JSON       bool   `mapstructure:"json"`
	Base64     bool   `mapstructure:"base64"`
	// VerifiedOnly 只把验证通过的节点写进配置。
	VerifiedOnly bool `mapstructure:"verified_only"`
}

// SynthConfig 定义代理组与模板。
type SynthConfig struct {
	SelectGroup   string `mapstructure:"select_group"`
	AutoGroup     string `mapstructure:"auto_group"`
	FallbackGroup string `mapstructure:"fallback_group"`
	TestURL       string `mapstructure:"test_url"`
	Interval      int    `mapstructure:"interval"`
	TemplatePath  string `mapstructure:"template_path"`
}

// EngineConfig 定义验证用的 mihomo 核心。
type EngineConfig struct {
	Binary         string        `mapstructure:"binary"`
	ExtraArgs      []string      `mapstructure:"extra_args"`
	StopTimeout    time.Duration `mapstructure:"stop_timeout"`
	PortRangeStart int           `mapstructure:"port_range_start"`
	PortRangeEnd   int           `mapstructure:"port_range_end"`
}

// VerifyConfig 定义并行验证参数。
type VerifyConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Concurrency     int           `mapstructure:"concurrency"`
	ProbeTimeout    time.Duration `mapstructure:"probe_timeout"`
	MaxRetries      int           `mapstructure:"max_retries"`
	ReadyTimeout    time.Duration `mapstructure:"ready_timeout"`
	ReadyInterval   time.Duration `mapstructure:"ready_interval"`
	SettleDelay     time.Duration `mapstructure:"settle_delay"`
	RetryBackoff    time.Duration `mapstructure:"retry_backoff"`
	ProbeURLs       []string      `mapstructure:"probe_urls"`
	Secret          string        `mapstructure:"secret"`
	WorkDir         string        `mapstructure:"work_dir"`
	ConfirmDataPort bool          `mapstructure:"confirm_data_port"`
	CleanupOrphans  bool          `mapstructure:"cleanup_orphans"`
	CacheTTL        time.Duration `mapstructure:"cache_ttl"`
}

// ReportConfig 定义报告输出。
type ReportConfig struct {
	Dir      string `mapstructure:"dir"`
	Filename string `mapstructure:"filename"`
	Dated    bool   `mapstructure:"dated"`
	Timezone string `mapstructure:"timezone"`
}

// WatchConfig 定义常驻模式的调度与 HTTP 服务。
type WatchConfig struct {
	Schedule        string        `mapstructure:"schedule"`
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RunOnStart      bool          `mapstructure:"run_on_start"`
}

// MetricsConfig 定义 Prometheus 指标配置。
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
	Token     string `mapstructure:"token"`
}

func (c LogConfig) SlogLevel() slog.Level {
	return logging.ParseLevel(c.Level)
}
