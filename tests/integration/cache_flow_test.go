package integration

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/lfs-hub/lfs-hub/internal/cache"
)

func TestFastPathMissTeeCachesThenServesLocally(t *testing.T) {
	payload := strings.Repeat("lfs-object-chunk/", 512)
	var upstreamHits atomic.Int64

	stub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upstreamHits.Add(1)
		w.Header().Set("X-Repo-Commit", "0badc0de")
		w.Header().Set("Etag", `"blob-etag"`)
		fmt.Fprint(w, payload)
	}))
	defer stub.Close()

	host := stubHost(stub)
	stack := newProxyStack(t, "false", []string{host})

	objectPath := "/proxy/http/" + host + "/repos/model/blob.bin"
	resp, err := stack.app.Test(httptest.NewRequest(http.MethodGet, objectPath, nil))
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("首次请求应返回 200，得到 %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Lfs-Hub-Cache-Hit") != "false" {
		t.Fatalf("首次请求应是未命中")
	}
	if string(body) != payload {
		t.Fatalf("首次请求正文与上游不一致")
	}

	loc := cache.Locator{Scheme: "http", Host: host, Path: "repos/model/blob.bin"}
	waitForEntry(t, stack.store, loc)

	sum := sha256.Sum256([]byte(payload))
	hash, err := stack.store.StoredHash(loc)
	if err != nil || hash != hex.EncodeToString(sum[:]) {
		t.Fatalf("摘要副本与正文不符: %q %v", hash, err)
	}
	meta, err := stack.store.Metadata(loc)
	if err != nil || meta == nil || meta.CommitHash != "0badc0de" {
		t.Fatalf("元数据副本缺失: %+v %v", meta, err)
	}

	// 上游下线后再次请求，必须完全由本地缓存服务。
	stub.Close()
	hitsBefore := upstreamHits.Load()

	resp2, err := stack.app.Test(httptest.NewRequest(http.MethodGet, objectPath, nil))
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	body2, _ := io.ReadAll(resp2.Body)
	resp2.Body.Close()

	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("命中请求应返回 200，得到 %d", resp2.StatusCode)
	}
	if resp2.Header.Get("X-Lfs-Hub-Cache-Hit") != "true" {
		t.Fatalf("第二次请求应命中缓存")
	}
	if resp2.Header.Get("X-Repo-Commit") != "0badc0de" {
		t.Fatalf("命中响应应回放上游校验头")
	}
	if resp2.Header.Get("Etag") == "" {
		t.Fatalf("命中响应缺少 ETag")
	}
	if string(body2) != payload {
		t.Fatalf("命中正文与缓存不一致")
	}
	if upstreamHits.Load() != hitsBefore {
		t.Fatalf("命中请求不应触达上游")
	}
}

func TestMissBackgroundFetchPopulatesCache(t *testing.T) {
	payload := "helper-downloaded-bytes"
	helper := writeHelperScript(t, payload)

	stub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "live-upstream-bytes")
	}))
	defer stub.Close()

	host := stubHost(stub)
	// 非快速通道：响应走透传，落盘交给后台下载助手。
	stack := newProxyStack(t, helper, nil)

	objectPath := "/proxy/http/" + host + "/repo/resolve/main/weights.bin"
	resp, err := stack.app.Test(httptest.NewRequest(http.MethodGet, objectPath, nil))
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK || string(body) != "live-upstream-bytes" {
		t.Fatalf("透传失败: %d %q", resp.StatusCode, body)
	}

	loc := cache.Locator{Scheme: "http", Host: host, Path: "repo/resolve/main/weights.bin"}
	waitForEntry(t, stack.store, loc)

	result, err := stack.store.Open(loc)
	if err != nil {
		t.Fatalf("打开缓存失败: %v", err)
	}
	cached, _ := io.ReadAll(result.Reader)
	result.Reader.Close()
	if string(cached) != payload {
		t.Fatalf("缓存内容应来自下载助手，得到 %q", cached)
	}
}

func TestFailedBackgroundFetchLeavesCacheEmpty(t *testing.T) {
	stub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "live-upstream-bytes")
	}))
	defer stub.Close()

	host := stubHost(stub)
	stack := newProxyStack(t, failingHelperScript(t), nil)

	objectPath := "/proxy/http/" + host + "/repo/resolve/main/broken.bin"
	resp, err := stack.app.Test(httptest.NewRequest(http.MethodGet, objectPath, nil))
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("透传应不受助手失败影响，得到 %d", resp.StatusCode)
	}

	loc := cache.Locator{Scheme: "http", Host: host, Path: "repo/resolve/main/broken.bin"}
	deadlineGone := waitForFetcherIdle(t, stack)
	if !deadlineGone {
		t.Fatalf("后台下载未在限期内结束")
	}
	if _, err := stack.store.Stat(loc); err != cache.ErrNotFound {
		t.Fatalf("失败的下载不得发布缓存条目，得到 %v", err)
	}
}
