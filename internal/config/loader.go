package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"reflect"
	"strconv"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// defaultFastPathHosts 对应 Hugging Face 的 CAS/Xet blob 加速域名。
var defaultFastPathHosts = []string{"cas-bridge.xethub.hf.co"}

// Load 读取并解析 TOML 配置文件，同时注入默认值、环境变量覆盖与校验逻辑。
// 配置文件不存在时仅依赖默认值和环境变量，保持与纯环境变量部署兼容。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)
	bindEnvOverrides(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("读取配置失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absRoot, err := filepath.Abs(cfg.CacheRoot)
	if err != nil {
		return nil, fmt.Errorf("无法解析缓存目录: %w", err)
	}
	cfg.CacheRoot = absRoot

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 50001)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("CacheRoot", "./lfs_cache")
	v.SetDefault("OutboundProxy", "")
	v.SetDefault("DownloadHelper", "curl")
	v.SetDefault("DownloadTimeout", "20m")
	v.SetDefault("UpstreamTimeout", "30s")
	v.SetDefault("FastPathHosts", defaultFastPathHosts)
}

// bindEnvOverrides 绑定历史部署脚本使用的环境变量名。
func bindEnvOverrides(v *viper.Viper) {
	_ = v.BindEnv("CacheRoot", "CACHE_ROOT")
	_ = v.BindEnv("OutboundProxy", "OUTBOUND_PROXY")
	_ = v.BindEnv("ListenPort", "CACHE_PROXY_PORT")
}

func applyDefaults(c *Config) {
	if c.ListenPort == 0 {
		c.ListenPort = 50001
	}
	if c.DownloadHelper == "" {
		c.DownloadHelper = "curl"
	}
	if c.DownloadTimeout.DurationValue() == 0 {
		c.DownloadTimeout = Duration(20 * time.Minute)
	}
	if c.UpstreamTimeout.DurationValue() == 0 {
		c.UpstreamTimeout = Duration(30 * time.Second)
	}
	if len(c.FastPathHosts) == 0 {
		c.FastPathHosts = append([]string(nil), defaultFastPathHosts...)
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
