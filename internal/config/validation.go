package config

import (
	"errors"
	"net/url"
	"strings"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	if c.ListenPort <= 0 || c.ListenPort > 65535 {
		return newFieldError("ListenPort", "必须在 1-65535")
	}
	if strings.TrimSpace(c.CacheRoot) == "" {
		return newFieldError("CacheRoot", "不能为空")
	}
	if strings.TrimSpace(c.DownloadHelper) == "" {
		return newFieldError("DownloadHelper", "不能为空")
	}
	if c.DownloadTimeout.DurationValue() <= 0 {
		return newFieldError("DownloadTimeout", "必须大于 0")
	}
	if c.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("UpstreamTimeout", "必须大于 0")
	}

	if c.OutboundProxy != "" {
		if err := validateProxyURL(c.OutboundProxy); err != nil {
			return newFieldError("OutboundProxy", err.Error())
		}
	}

	for _, host := range c.FastPathHosts {
		host = strings.TrimSpace(host)
		if host == "" {
			return newFieldError("FastPathHosts", "不允许空白条目")
		}
		if strings.Contains(host, "://") || strings.Contains(host, "/") {
			return newFieldError("FastPathHosts", "仅允许域名，不允许携带协议或路径: "+host)
		}
		if strings.Contains(host, " ") {
			return newFieldError("FastPathHosts", "域名不允许包含空格: "+host)
		}
	}

	return nil
}

func validateProxyURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return errors.New("地址无法解析")
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" && parsed.Scheme != "socks5" {
		return errors.New("仅支持 http/https/socks5 代理")
	}
	if parsed.Host == "" {
		return errors.New("缺少主机名")
	}
	return nil
}
