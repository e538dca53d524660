package integration

import (
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/lfs-hub/lfs-hub/internal/cache"
	"github.com/lfs-hub/lfs-hub/internal/config"
	"github.com/lfs-hub/lfs-hub/internal/fetch"
	"github.com/lfs-hub/lfs-hub/internal/proxy"
	"github.com/lfs-hub/lfs-hub/internal/server"
	"github.com/lfs-hub/lfs-hub/internal/server/routes"
)

// proxyStack 捆绑一套完整的进程内代理栈，路由、缓存与下载器
// 共享与生产装配相同的依赖关系。
type proxyStack struct {
	app     *fiber.App
	cfg     *config.Config
	store   cache.Store
	fetcher *fetch.Fetcher
}

// newProxyStack 按生产顺序装配代理栈。fastPathHosts 为空时所有
// 上游都走普通透传路径。
func newProxyStack(t *testing.T, helper string, fastPathHosts []string) *proxyStack {
	t.Helper()

	cfg := &config.Config{
		ListenPort:      50001,
		CacheRoot:       t.TempDir(),
		DownloadHelper:  helper,
		DownloadTimeout: config.Duration(10 * time.Second),
		UpstreamTimeout: config.Duration(5 * time.Second),
		FastPathHosts:   fastPathHosts,
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	store, err := cache.NewStore(cfg.CacheRoot)
	if err != nil {
		t.Fatalf("store error: %v", err)
	}

	httpClient, err := server.NewUpstreamClient(cfg)
	if err != nil {
		t.Fatalf("client error: %v", err)
	}

	inflight := fetch.NewInflight()
	fetcher := fetch.NewFetcher(store, logger, inflight, fetch.Options{
		Timeout: cfg.DownloadTimeout.DurationValue(),
		Helper:  cfg.DownloadHelper,
	})

	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Config:     cfg,
		Proxy:      proxy.NewHandler(httpClient, logger, store, fetcher, inflight),
		ListenPort: cfg.ListenPort,
	})
	if err != nil {
		t.Fatalf("app error: %v", err)
	}
	routes.RegisterDiagnostics(app, cfg, fetcher)

	return &proxyStack{app: app, cfg: cfg, store: store, fetcher: fetcher}
}

// stubHost 返回 httptest 服务器的 host:port，用于代理路径与快速通道配置。
func stubHost(ts *httptest.Server) string {
	return strings.TrimPrefix(ts.URL, "http://")
}

// writeHelperScript 生成一个可执行脚本充当下载助手，
// 无视 curl 风格的参数并将 body 写到标准输出。
func writeHelperScript(t *testing.T, body string) string {
	t.Helper()
	script := "#!/bin/sh\nprintf '%s' '" + body + "'\n"
	path := filepath.Join(t.TempDir(), "fake-curl")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("写入助手脚本失败: %v", err)
	}
	return path
}

// failingHelperScript 返回一个先输出部分内容再以非零码退出的助手脚本。
func failingHelperScript(t *testing.T) string {
	t.Helper()
	script := "#!/bin/sh\nprintf 'partial'\nexit 22\n"
	path := filepath.Join(t.TempDir(), "fake-curl-fail")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("写入助手脚本失败: %v", err)
	}
	return path
}

// waitForFetcherIdle 等待所有后台下载结束，返回是否在限期内空闲。
func waitForFetcherIdle(t *testing.T, stack *proxyStack) bool {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if stack.fetcher.Active() == 0 {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

func waitForEntry(t *testing.T, store cache.Store, loc cache.Locator) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := store.Stat(loc); err == nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("缓存条目 %s 未在限期内发布", loc.Key())
}
