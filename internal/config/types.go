package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"20m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// Config 描述代理进程的全部运行时参数。除 TOML 文件外，
// CacheRoot/OutboundProxy/ListenPort 另支持 CACHE_ROOT/OUTBOUND_PROXY/CACHE_PROXY_PORT
// 环境变量覆盖，兼容历史部署脚本。
type Config struct {
	ListenPort      int      `mapstructure:"ListenPort"`
	LogLevel        string   `mapstructure:"LogLevel"`
	LogFilePath     string   `mapstructure:"LogFilePath"`
	LogMaxSize      int      `mapstructure:"LogMaxSize"`
	LogMaxBackups   int      `mapstructure:"LogMaxBackups"`
	LogCompress     bool     `mapstructure:"LogCompress"`
	CacheRoot       string   `mapstructure:"CacheRoot"`
	OutboundProxy   string   `mapstructure:"OutboundProxy"`
	DownloadHelper  string   `mapstructure:"DownloadHelper"`
	DownloadTimeout Duration `mapstructure:"DownloadTimeout"`
	UpstreamTimeout Duration `mapstructure:"UpstreamTimeout"`
	FastPathHosts   []string `mapstructure:"FastPathHosts"`
}

// OutboundProxyURL 解析出站代理地址，未配置时返回 nil。
func (c *Config) OutboundProxyURL() (*url.URL, error) {
	raw := strings.TrimSpace(c.OutboundProxy)
	if raw == "" {
		return nil, nil
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("解析出站代理失败: %w", err)
	}
	return parsed, nil
}

// IsFastPathHost 判断上游域名是否属于快速通道 blob 后端。
// 命中规则：与配置项完全相等，或以 "."+配置项 结尾（子域名匹配）。
func (c *Config) IsFastPathHost(host string) bool {
	host = strings.ToLower(strings.TrimSpace(host))
	if host == "" {
		return false
	}
	for _, entry := range c.FastPathHosts {
		entry = strings.ToLower(strings.TrimSpace(entry))
		if entry == "" {
			continue
		}
		if host == entry || strings.HasSuffix(host, "."+entry) {
			return true
		}
	}
	return false
}
