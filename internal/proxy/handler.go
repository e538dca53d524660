package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/lfs-hub/lfs-hub/internal/cache"
	"github.com/lfs-hub/lfs-hub/internal/fetch"
	"github.com/lfs-hub/lfs-hub/internal/logging"
	"github.com/lfs-hub/lfs-hub/internal/server"
)

const octetStream = "application/octet-stream"

// Handler 负责 orchestrate “缓存命中 → tee 回源 → 后台下载 + 透传” 的全流程，
// 对外暴露 Fiber handler，内部复用共享 http.Client、磁盘缓存与去重集合。
type Handler struct {
	client   *http.Client
	logger   *logrus.Logger
	store    cache.Store
	fetcher  *fetch.Fetcher
	inflight *fetch.Inflight
}

// NewHandler constructs a proxy handler with shared client/logger/store.
// inflight 必须与 fetcher 使用同一实例，tee 写入才能参与全局去重。
func NewHandler(
	client *http.Client,
	logger *logrus.Logger,
	store cache.Store,
	fetcher *fetch.Fetcher,
	inflight *fetch.Inflight,
) *Handler {
	return &Handler{
		client:   client,
		logger:   logger,
		store:    store,
		fetcher:  fetcher,
		inflight: inflight,
	}
}

// Handle 按优先级分派：命中 → 本地 Range 响应；未命中且快速通道整对象 GET
// → tee 缓存；其余 GET → 触发后台下载并透传；其他方法 → 仅透传。
func (h *Handler) Handle(c fiber.Ctx, target *server.Target) error {
	started := time.Now()
	requestID := server.RequestID(c)
	loc := target.Locator()
	method := c.Method()
	rangeHeader := string(c.Request().Header.Peek(fiber.HeaderRange))

	entry, err := h.store.Stat(loc)
	switch {
	case err == nil:
		return h.serveCached(c, target, entry, rangeHeader, requestID, started)
	case errors.Is(err, cache.ErrNotFound):
		// miss, continue
	default:
		h.logger.WithError(err).
			WithFields(logging.RequestFields(target.Scheme, target.Host, target.Path, false)).
			Warn("cache_stat_failed")
	}

	if target.FastPath && method == http.MethodGet && rangeHeader == "" {
		return h.teeFetch(c, target, loc, requestID, started)
	}

	if method == http.MethodGet {
		h.fetcher.TryStart(loc, target.UpstreamURL())
	}

	return h.proxyThrough(c, target, requestID, started)
}

// serveCached 实现 Range 响应：合法窗口 206，非法格式降级 200，
// 不可满足窗口 416，HEAD 只带头部。
func (h *Handler) serveCached(
	c fiber.Ctx,
	target *server.Target,
	entry *cache.Entry,
	rangeHeader string,
	requestID string,
	started time.Time,
) error {
	loc := entry.Locator
	size := entry.SizeBytes

	c.Set(fiber.HeaderAcceptRanges, "bytes")
	c.Set(fiber.HeaderContentType, octetStream)
	c.Set("X-Lfs-Hub-Cache-Hit", "true")
	h.setValidatorHeaders(c, loc)

	method := c.Method()
	if method == http.MethodHead {
		c.Response().Header.SetContentLength(int(size))
		c.Status(fiber.StatusOK)
		h.logResult(target, requestID, fiber.StatusOK, true, started, nil)
		return nil
	}

	window, outcome := resolveRange(rangeHeader, size)
	switch outcome {
	case rangeInvalid:
		c.Set(fiber.HeaderContentRange, fmt.Sprintf("bytes */%d", size))
		c.Status(fiber.StatusRequestedRangeNotSatisfiable)
		h.logResult(target, requestID, fiber.StatusRequestedRangeNotSatisfiable, true, started, nil)
		return nil

	case rangeValid:
		reader, err := h.openWindow(loc, window.start)
		if err != nil {
			h.logResult(target, requestID, 0, true, started, err)
			return h.writeError(c, fiber.StatusInternalServerError, "cache_read_failed")
		}
		c.Set(fiber.HeaderContentRange, fmt.Sprintf("bytes %d-%d/%d", window.start, window.end, size))
		c.Status(fiber.StatusPartialContent)
		c.Response().SetBodyStream(newWindowReader(reader, window.length()), int(window.length()))
		h.logResult(target, requestID, fiber.StatusPartialContent, true, started, nil)
		return nil

	default: // rangeNone / rangeFull
		result, err := h.store.Open(loc)
		if err != nil {
			h.logResult(target, requestID, 0, true, started, err)
			return h.writeError(c, fiber.StatusInternalServerError, "cache_read_failed")
		}
		c.Status(fiber.StatusOK)
		c.Response().SetBodyStream(result.Reader, int(size))
		h.logResult(target, requestID, fiber.StatusOK, true, started, nil)
		return nil
	}
}

// openWindow 打开缓存正文并 seek 到窗口起点。
func (h *Handler) openWindow(loc cache.Locator, start int64) (io.ReadSeekCloser, error) {
	result, err := h.store.Open(loc)
	if err != nil {
		return nil, err
	}
	if _, err := result.Reader.Seek(start, io.SeekStart); err != nil {
		result.Reader.Close()
		return nil, err
	}
	return result.Reader, nil
}

// setValidatorHeaders 输出哈希派生的 ETag 与 .meta side-car 中的上游标识。
func (h *Handler) setValidatorHeaders(c fiber.Ctx, loc cache.Locator) {
	if hash, err := h.store.StoredHash(loc); err == nil && hash != "" {
		c.Set(fiber.HeaderETag, `"`+hash+`"`)
	}
	meta, err := h.store.Metadata(loc)
	if err != nil || meta == nil {
		return
	}
	if meta.CommitHash != "" {
		c.Set("X-Repo-Commit", meta.CommitHash)
	}
	if meta.LinkedETag != "" {
		c.Set("X-Linked-Etag", meta.LinkedETag)
	}
}

// teeFetch 在回源的同时写缓存。拿不到去重键（已有写入方）或上游非 200 时
// 退化为纯透传，避免把部分对象缓存到整对象键下。
func (h *Handler) teeFetch(
	c fiber.Ctx,
	target *server.Target,
	loc cache.Locator,
	requestID string,
	started time.Time,
) error {
	key := loc.Key()
	if !h.inflight.TryAcquire(key) {
		return h.proxyThrough(c, target, requestID, started)
	}

	resp, err := h.executeRequest(c, target)
	if err != nil {
		h.inflight.Release(key)
		h.logResult(target, requestID, 0, false, started, err)
		return h.writeUpstreamError(c, err)
	}

	if resp.StatusCode != http.StatusOK {
		h.inflight.Release(key)
		return h.relayResponse(c, target, resp, requestID, started)
	}

	writer, err := h.store.Create(loc)
	if err != nil {
		h.inflight.Release(key)
		h.logger.WithError(err).
			WithFields(logging.RequestFields(target.Scheme, target.Host, target.Path, false)).
			Warn("tee_cache_create_failed")
		return h.relayResponse(c, target, resp, requestID, started)
	}

	fields := logging.RequestFields(target.Scheme, target.Host, target.Path, false)
	fields["action"] = "tee_cache"
	fields["upstream"] = target.UpstreamURL()
	if requestID != "" {
		fields["request_id"] = requestID
	}

	stream := newTeeCachingReader(
		resp.Body,
		writer,
		metadataFromHeaders(resp.Header),
		h.logger,
		fields,
		func() { h.inflight.Release(key) },
	)

	h.copyResponseHeaders(c, resp.Header)
	c.Set("X-Lfs-Hub-Upstream", target.UpstreamURL())
	c.Set("X-Lfs-Hub-Cache-Hit", "false")
	c.Status(resp.StatusCode)
	c.Response().SetBodyStream(stream, bodySize(resp))
	h.logResult(target, requestID, resp.StatusCode, false, started, nil)
	return nil
}

// proxyThrough 将当前请求原样转发上游并流式回传，不做任何缓存写入。
func (h *Handler) proxyThrough(
	c fiber.Ctx,
	target *server.Target,
	requestID string,
	started time.Time,
) error {
	resp, err := h.executeRequest(c, target)
	if err != nil {
		h.logResult(target, requestID, 0, false, started, err)
		return h.writeUpstreamError(c, err)
	}
	return h.relayResponse(c, target, resp, requestID, started)
}

// relayResponse 透传上游状态码、过滤后的响应头与正文流。
func (h *Handler) relayResponse(
	c fiber.Ctx,
	target *server.Target,
	resp *http.Response,
	requestID string,
	started time.Time,
) error {
	h.copyResponseHeaders(c, resp.Header)
	c.Set("X-Lfs-Hub-Upstream", target.UpstreamURL())
	c.Set("X-Lfs-Hub-Cache-Hit", "false")
	c.Status(resp.StatusCode)

	if c.Method() == http.MethodHead {
		resp.Body.Close()
		h.logResult(target, requestID, resp.StatusCode, false, started, nil)
		return nil
	}

	c.Response().SetBodyStream(resp.Body, bodySize(resp))
	h.logResult(target, requestID, resp.StatusCode, false, started, nil)
	return nil
}

func (h *Handler) executeRequest(c fiber.Ctx, target *server.Target) (*http.Response, error) {
	req, err := h.buildUpstreamRequest(c, target)
	if err != nil {
		return nil, err
	}
	return h.client.Do(req)
}

func (h *Handler) buildUpstreamRequest(c fiber.Ctx, target *server.Target) (*http.Request, error) {
	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	req, err := http.NewRequestWithContext(ctx, c.Method(), target.UpstreamURL(), bytesReader(c.Body()))
	if err != nil {
		return nil, err
	}

	server.CopyHeaders(req.Header, fiberHeadersAsHTTP(c))
	req.Header.Del("Host")
	req.Header.Del("Content-Length")
	req.Header.Del("Accept-Encoding")
	req.Host = target.Host

	return req, nil
}

// copyResponseHeaders 过滤 hop-by-hop 与 Content-Encoding/Content-Length：
// 正文长度由流式写回时重新计算，编码差异由共享 client 透明解压抹平。
func (h *Handler) copyResponseHeaders(c fiber.Ctx, headers http.Header) {
	for key, values := range headers {
		if server.IsHopByHopHeader(key) {
			continue
		}
		canonical := http.CanonicalHeaderKey(key)
		if canonical == "Content-Encoding" || canonical == "Content-Length" {
			continue
		}
		for _, value := range values {
			c.Set(key, value)
		}
	}
}

// writeUpstreamError 是本子系统唯一自造的客户端可见错误。
func (h *Handler) writeUpstreamError(c fiber.Ctx, err error) error {
	return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
		"error":  "upstream_failed",
		"detail": err.Error(),
	})
}

func (h *Handler) writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func (h *Handler) logResult(
	target *server.Target,
	requestID string,
	status int,
	cacheHit bool,
	started time.Time,
	err error,
) {
	fields := logging.RequestFields(target.Scheme, target.Host, target.Path, cacheHit)
	fields["action"] = "proxy"
	fields["upstream"] = target.UpstreamURL()
	fields["upstream_status"] = status
	fields["fast_path"] = target.FastPath
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("proxy_failed")
		return
	}
	h.logger.WithFields(fields).Info("proxy_complete")
}

// metadataFromHeaders 收集上游响应里的仓库标识，用于 .meta side-car。
// 字段来源与既有缓存目录格式保持一致。
func metadataFromHeaders(headers http.Header) *cache.Metadata {
	meta := cache.Metadata{
		CommitHash: headers.Get("X-Repo-Commit"),
		LinkedETag: strings.Trim(headers.Get("X-Linked-Etag"), `"`),
		LinkedSize: headers.Get("X-Linked-Size"),
	}
	if meta.LinkedETag == "" {
		meta.LinkedETag = strings.Trim(headers.Get("Etag"), `"`)
	}
	if meta.LinkedSize == "" {
		if cl := headers.Get("Content-Length"); cl != "" {
			meta.LinkedSize = cl
		}
	}
	if meta.CommitHash == "" && meta.LinkedETag == "" && meta.LinkedSize == "" {
		return nil
	}
	return &meta
}

// bodySize 将上游 ContentLength 转换为 fasthttp 的流长度约定（未知为 -1）。
func bodySize(resp *http.Response) int {
	if resp.ContentLength < 0 {
		return -1
	}
	if resp.ContentLength > int64(^uint(0)>>1) {
		return -1
	}
	return int(resp.ContentLength)
}

// windowReader 限制窗口长度并在流结束时关闭底层文件。
type windowReader struct {
	io.Reader
	closer io.Closer
}

func newWindowReader(r io.ReadSeekCloser, length int64) *windowReader {
	return &windowReader{
		Reader: io.LimitReader(r, length),
		closer: r,
	}
}

func (w *windowReader) Close() error {
	return w.closer.Close()
}

func bytesReader(b []byte) io.Reader {
	if len(b) == 0 {
		return http.NoBody
	}
	return bytes.NewReader(b)
}

func fiberHeadersAsHTTP(c fiber.Ctx) http.Header {
	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	return header
}
