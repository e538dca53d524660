package cache

import (
	"context"
	"errors"
	"io"
	"time"
)

// Store 负责管理磁盘缓存的读写。磁盘布局遵循：
//
//	<CacheRoot>/<host>/<path>           # 正文（唯一的命中信号）
//	<CacheRoot>/<host>/<path>.tmp       # 写入中的临时文件，对外不可见
//	<CacheRoot>/<host>/<path>.sha256    # 十六进制内容哈希
//	<CacheRoot>/<host>/<path>.meta      # 可选的上游元数据 JSON
type Store interface {
	// Stat 返回条目信息。仅检查正文文件，缺失时返回 ErrNotFound。
	Stat(loc Locator) (*Entry, error)

	// Open 返回条目信息与可 seek 的正文 Reader，便于 Range 读取。
	Open(loc Locator) (*ReadResult, error)

	// Create 返回增量写入器。写入器边写边累计 sha256，Commit 通过
	// rename 原子发布正文并落盘 side-car，Abort 丢弃临时文件。
	Create(loc Locator) (*EntryWriter, error)

	// WriteAtomic 将 body 完整写入缓存：任何错误都不会留下正文文件。
	WriteAtomic(ctx context.Context, loc Locator, body io.Reader, meta *Metadata) (*Entry, error)

	// StoredHash 返回 .sha256 side-car 中记录的十六进制哈希，缺失时返回空串。
	StoredHash(loc Locator) (string, error)

	// Metadata 返回 .meta side-car 内容，缺失时返回 nil。
	Metadata(loc Locator) (*Metadata, error)
}

// Locator 唯一定位一个远端对象（scheme + host + path），同时是缓存键。
type Locator struct {
	Scheme string
	Host   string
	Path   string
}

// Key 返回用于去重集合的字符串键，形如 scheme://host/path。
func (l Locator) Key() string {
	return l.Scheme + "://" + l.Host + "/" + l.Path
}

// Entry 表示一次缓存命中结果，包含绝对文件路径及文件信息。
type Entry struct {
	Locator   Locator `json:"locator"`
	FilePath  string  `json:"file_path"`
	SizeBytes int64   `json:"size_bytes"`
	ModTime   time.Time
}

// ReadResult 组合 Entry 与正文 Reader，便于代理层直接流式返回。
type ReadResult struct {
	Entry  Entry
	Reader io.ReadSeekCloser
}

// Metadata 对应 .meta side-car 的 JSON 结构，字段名与既有缓存目录保持兼容。
type Metadata struct {
	CommitHash string `json:"commit_hash,omitempty"`
	LinkedETag string `json:"linked_etag,omitempty"`
	LinkedSize string `json:"linked_size,omitempty"`
}

// ErrNotFound 表示缓存不存在。
var ErrNotFound = errors.New("cache entry not found")
