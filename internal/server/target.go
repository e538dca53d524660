package server

import (
	"errors"
	"strings"

	"github.com/lfs-hub/lfs-hub/internal/cache"
)

// proxyPrefix 是唯一的业务路由前缀。
const proxyPrefix = "/proxy/"

// Target 描述一次请求解析出的上游对象位置，在中间件中构建后贯穿整个处理流程。
type Target struct {
	Scheme   string
	Host     string
	Path     string // 不带前导斜杠的对象路径
	RawQuery string // 原样保留的查询串，可能为空

	// FastPath 表示上游属于快速通道 blob 后端，未命中时走 tee 缓存。
	FastPath bool
}

// Locator 返回缓存键。查询串不参与缓存定位：同一对象的签名 URL 查询参数会变化。
func (t *Target) Locator() cache.Locator {
	return cache.Locator{Scheme: t.Scheme, Host: t.Host, Path: t.Path}
}

// UpstreamURL 重建携带原始查询串的完整上游地址。
func (t *Target) UpstreamURL() string {
	u := t.Scheme + "://" + t.Host + "/" + t.Path
	if t.RawQuery != "" {
		u += "?" + t.RawQuery
	}
	return u
}

// ErrBadProxyPath 表示请求路径无法解析为合法的代理目标。
var ErrBadProxyPath = errors.New("bad proxy path")

// ParseTarget 从请求路径解析 /proxy/{scheme}/{host}/{path...}。
// path 必须是未解码的原始 URI 路径，保证缓存键与上游路径逐字节一致。
func ParseTarget(path, rawQuery string) (*Target, error) {
	if !strings.HasPrefix(path, proxyPrefix) {
		return nil, ErrBadProxyPath
	}
	rest := path[len(proxyPrefix):]

	parts := strings.SplitN(rest, "/", 3)
	if len(parts) < 3 {
		return nil, ErrBadProxyPath
	}
	scheme, host, objPath := parts[0], parts[1], parts[2]

	if scheme != "http" && scheme != "https" {
		return nil, ErrBadProxyPath
	}
	if host == "" || strings.ContainsAny(host, " ") {
		return nil, ErrBadProxyPath
	}
	if objPath == "" {
		return nil, ErrBadProxyPath
	}

	return &Target{
		Scheme:   scheme,
		Host:     host,
		Path:     objPath,
		RawQuery: rawQuery,
	}, nil
}
