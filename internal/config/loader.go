package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/creamcroissant/clashforge/internal/proxy"
)

// Load reads configuration from defaults, an optional config file, a .env
// file and CLASHFORGE_* environment variables, in increasing priority. An
// explicit path must exist; otherwise config.yaml is searched in . and ./config.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("CLASHFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// 没有配置文件时只用默认值与环境变量
	}

	if err := loadDotEnv(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// UsedFile reports the config file Load would read for path, or "" when none exists.
func UsedFile(path string) string {
	if path != "" {
		return path
	}
	for _, dir := range []string{".", "./config"} {
		for _, ext := range []string{"yaml", "yml"} {
			candidate := filepath.Join(dir, "config."+ext)
			if _, err := os.Stat(candidate); err == nil {
				return candidate
			}
		}
	}
	return ""
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.add_source", false)

	v.SetDefault("sources.urls", []string{})
	v.SetDefault("sources.files", []string{})
	v.SetDefault("sources.fetch.user_agent", "Clash Verge/1.7.7")
	v.SetDefault("sources.fetch.timeout", "20s")
	v.SetDefault("sources.fetch.max_bytes", 16<<20)
	v.SetDefault("sources.fetch.retries", 2)
	v.SetDefault("sources.fetch.retry_backoff", "1s")
	v.SetDefault("sources.fetch.concurrency", 4)

	// 例如 ["中国", "China", "CN", "电信", "移动", "联通"]
	v.SetDefault("filter.banned_keywords", []string{})
	v.SetDefault("filter.allowed_kinds", []string{})

	v.SetDefault("precheck.enabled", false)
	v.SetDefault("precheck.timeout", "1s")
	v.SetDefault("precheck.concurrency", 30)
	v.SetDefault("precheck.retries", 1)

	v.SetDefault("output.config_path", "output/clash_config.yaml")
	v.SetDefault("output.json", false)
	v.SetDefault("output.base64", false)
	v.SetDefault("output.verified_only", false)

	v.SetDefault("synth.select_group", "节点选择")
	v.SetDefault("synth.auto_group", "自动选择")
	v.SetDefault("synth.fallback_group", "Fallback")
	v.SetDefault("synth.test_url", "http://www.gstatic.com/generate_204")
	v.SetDefault("synth.interval", 300)
	v.SetDefault("synth.template_path", "")

	v.SetDefault("engine.binary", "mihomo")
	v.SetDefault("engine.extra_args", []string{})
	v.SetDefault("engine.stop_timeout", "2s")
	v.SetDefault("engine.port_range_start", 30000)
	v.SetDefault("engine.port_range_end", 40000)

	v.SetDefault("verify.enabled", true)
	v.SetDefault("verify.concurrency", 8)
	v.SetDefault("verify.probe_timeout", "5s")
	v.SetDefault("verify.max_retries", 2)
	v.SetDefault("verify.ready_timeout", "10s")
	v.SetDefault("verify.ready_interval", "200ms")
	v.SetDefault("verify.settle_delay", "300ms")
	v.SetDefault("verify.retry_backoff", "500ms")
	v.SetDefault("verify.probe_urls", []string{
		"http://www.gstatic.com/generate_204",
		"http://cp.cloudflare.com/generate_204",
	})
	// 留空时每个验证器随机生成
	v.SetDefault("verify.secret", "")
	v.SetDefault("verify.work_dir", "")
	v.SetDefault("verify.confirm_data_port", false)
	v.SetDefault("verify.cleanup_orphans", true)
	v.SetDefault("verify.cache_ttl", "0s")

	v.SetDefault("report.dir", ".")
	v.SetDefault("report.filename", "success-nodes-clash.txt")
	v.SetDefault("report.dated", true)
	v.SetDefault("report.timezone", "Asia/Shanghai")

	v.SetDefault("watch.schedule", "0 */6 * * *")
	v.SetDefault("watch.addr", "127.0.0.1:8090")
	v.SetDefault("watch.shutdown_timeout", "15s")
	v.SetDefault("watch.run_on_start", true)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.namespace", "clashforge")
	v.SetDefault("metrics.token", "")
}

// Validate rejects settings no component can work with.
func (c *Config) Validate() error {
	var errs []error
	for _, kind := range c.Filter.AllowedKinds {
		if _, ok := proxy.ParseKind(kind); !ok {
			errs = append(errs, fmt.Errorf("filter.allowed_kinds: unknown kind %q", kind))
		}
	}
	if c.Engine.PortRangeStart <= 0 || c.Engine.PortRangeEnd > 65535 || c.Engine.PortRangeEnd <= c.Engine.PortRangeStart {
		errs = append(errs, fmt.Errorf("engine port range %d-%d is invalid", c.Engine.PortRangeStart, c.Engine.PortRangeEnd))
	}
	if c.Verify.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("verify.concurrency must be positive"))
	}
	if c.Verify.MaxRetries <= 0 {
		errs = append(errs, fmt.Errorf("verify.max_retries must be positive"))
	}
	// 每个并发任务占用两个端口
	if span := c.Engine.PortRangeEnd - c.Engine.PortRangeStart + 1; span > 0 && span < 2*c.Verify.Concurrency {
		errs = append(errs, fmt.Errorf("engine port range holds %d ports, verify.concurrency %d needs %d", span, c.Verify.Concurrency, 2*c.Verify.Concurrency))
	}
	if strings.TrimSpace(c.Output.ConfigPath) == "" {
		errs = append(errs, fmt.Errorf("output.config_path is required"))
	}
	return errors.Join(errs...)
}

// AllowedKinds returns the parsed filter.allowed_kinds.
func (c *Config) AllowedKinds() []proxy.Kind {
	kinds := make([]proxy.Kind, 0, len(c.Filter.AllowedKinds))
	for _, raw := range c.Filter.AllowedKinds {
		if kind, ok := proxy.ParseKind(raw); ok {
			kinds = append(kinds, kind)
		}
	}
	return kinds
}

func loadDotEnv(v *viper.Viper) error {
	candidates := []string{".", ".."}
	for _, path := range candidates {
		file := filepath.Clean(filepath.Join(path, ".env"))
		if _, err := os.Stat(file); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("stat .env: %w", err)
		}

		envViper := viper.New()
		envViper.SetConfigFile(file)
		envViper.SetConfigType("env")
		if err := envViper.ReadInConfig(); err != nil {
			return fmt.Errorf("read .env: %w", err)
		}
		bindDotEnv(v, envViper)
	}
	return nil
}

// bindDotEnv maps the flat names used by CI workflows onto config keys.
// Real environment variables still win because AutomaticEnv is consulted first.
func bindDotEnv(target *viper.Viper, source *viper.Viper) {
	mappings := map[string]string{
		"LOG_LEVEL":                "log.level",
		"LOG_FORMAT":               "log.format",
		"MIHOMO_BIN":               "engine.binary",
		"CLASH_BIN":                "engine.binary",
		"SUBSCRIPTION_URLS":        "sources.urls",
		"TEST_URL":                 "synth.test_url",
		"MAX_CONCURRENCY":          "verify.concurrency",
		"REPORT_DIR":               "report.dir",
		"ENABLE_CONNECTIVITY_TEST": "precheck.enabled",
		"TZ":                       "report.timezone",
	}
	for oldKey, newKey := range mappings {
		val := source.GetString(oldKey)
		if val == "" {
			continue
		}
		if newKey == "sources.urls" {
			target.Set(newKey, strings.Fields(strings.ReplaceAll(val, ",", " ")))
			continue
		}
		target.Set(newKey, val)
	}
}
