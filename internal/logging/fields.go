package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供 scheme/host/path/命中状态字段，供代理请求日志复用。
func RequestFields(scheme, host, path string, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"scheme":    scheme,
		"host":      host,
		"path":      path,
		"cache_hit": cacheHit,
	}
}

// FetchFields 构建后台下载任务的日志字段。
func FetchFields(key, upstream string) logrus.Fields {
	return logrus.Fields{
		"action":   "background_fetch",
		"key":      key,
		"upstream": upstream,
	}
}
