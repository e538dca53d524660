package proxy

import (
	"io"

	"github.com/sirupsen/logrus"

	"github.com/lfs-hub/lfs-hub/internal/cache"
)

// teeCachingReader 在向客户端转发上游正文的同时把字节追加到完整性写入器。
// 缓存侧失败只会放弃写入（Abort），客户端转发不受影响；上游读净 EOF 时
// 通过 Commit 原子发布缓存条目。Close 由 fasthttp 在响应结束或客户端断开
// 时调用，负责关闭上游正文、清理未提交的写入器并释放去重键。
type teeCachingReader struct {
	upstream io.ReadCloser
	writer   *cache.EntryWriter
	meta     *cache.Metadata
	logger   *logrus.Logger
	fields   logrus.Fields
	release  func()

	cacheDead bool
	committed bool
	closed    bool
}

func newTeeCachingReader(
	upstream io.ReadCloser,
	writer *cache.EntryWriter,
	meta *cache.Metadata,
	logger *logrus.Logger,
	fields logrus.Fields,
	release func(),
) *teeCachingReader {
	return &teeCachingReader{
		upstream: upstream,
		writer:   writer,
		meta:     meta,
		logger:   logger,
		fields:   fields,
		release:  release,
	}
}

func (t *teeCachingReader) Read(p []byte) (int, error) {
	n, err := t.upstream.Read(p)
	if n > 0 && !t.cacheDead {
		if _, wErr := t.writer.Write(p[:n]); wErr != nil {
			// 客户端优先：缓存写失败后继续纯转发。
			t.cacheDead = true
			t.writer.Abort()
			t.logger.WithFields(t.fields).WithError(wErr).Warn("tee_cache_write_failed")
		}
	}

	if err == io.EOF && !t.cacheDead && !t.committed {
		t.committed = true
		if entry, cErr := t.writer.Commit(t.meta); cErr != nil {
			t.logger.WithFields(t.fields).WithError(cErr).Warn("tee_cache_commit_failed")
		} else {
			t.fields["size_bytes"] = entry.SizeBytes
			t.logger.WithFields(t.fields).Info("tee_cache_done")
		}
	}
	return n, err
}

func (t *teeCachingReader) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true

	// 客户端中途断开：丢弃未提交的临时文件。
	if !t.committed && !t.cacheDead {
		t.writer.Abort()
		t.logger.WithFields(t.fields).Warn("tee_cache_abandoned")
	}
	t.release()
	return t.upstream.Close()
}
