package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

const (
	tmpSuffix  = ".tmp"
	hashSuffix = ".sha256"
	metaSuffix = ".meta"

	// copyChunkSize 同时是缓存写入与 Range 读取的分块大小。
	copyChunkSize = 1024 * 1024
)

// NewStore 以 root 为缓存根目录构建磁盘存储，整个进程复用一份实例。
func NewStore(root string) (Store, error) {
	if root == "" {
		return nil, errors.New("cache root required")
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve cache root: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create cache root: %w", err)
	}

	return &fileStore{root: abs}, nil
}

// fileStore 不持有任何锁：同一 Locator 的并发写入由上层去重集合阻止。
type fileStore struct {
	root string
}

func (s *fileStore) Stat(loc Locator) (*Entry, error) {
	filePath, err := s.entryPath(loc)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, ErrNotFound
	}

	return &Entry{
		Locator:   loc,
		FilePath:  filePath,
		SizeBytes: info.Size(),
		ModTime:   info.ModTime(),
	}, nil
}

func (s *fileStore) Open(loc Locator) (*ReadResult, error) {
	entry, err := s.Stat(loc)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(entry.FilePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return &ReadResult{Entry: *entry, Reader: f}, nil
}

func (s *fileStore) Create(loc Locator) (*EntryWriter, error) {
	filePath, err := s.entryPath(loc)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return nil, err
	}

	tempPath := filePath + tmpSuffix
	f, err := os.OpenFile(tempPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}

	return &EntryWriter{
		loc:       loc,
		finalPath: filePath,
		tempPath:  tempPath,
		file:      f,
		hasher:    sha256.New(),
	}, nil
}

func (s *fileStore) WriteAtomic(ctx context.Context, loc Locator, body io.Reader, meta *Metadata) (*Entry, error) {
	writer, err := s.Create(loc)
	if err != nil {
		return nil, err
	}

	if _, err := copyWithContext(ctx, writer, body); err != nil {
		writer.Abort()
		return nil, err
	}

	return writer.Commit(meta)
}

func (s *fileStore) StoredHash(loc Locator) (string, error) {
	filePath, err := s.entryPath(loc)
	if err != nil {
		return "", err
	}
	raw, err := os.ReadFile(filePath + hashSuffix)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(string(raw)), nil
}

func (s *fileStore) Metadata(loc Locator) (*Metadata, error) {
	filePath, err := s.entryPath(loc)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(filePath + metaSuffix)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("decode metadata side-car: %w", err)
	}
	return &meta, nil
}

// entryPath 将 Locator 映射到缓存根目录下的绝对路径，并拒绝目录穿越。
func (s *fileStore) entryPath(loc Locator) (string, error) {
	host := strings.TrimSpace(loc.Host)
	if host == "" {
		return "", errors.New("host required")
	}
	if strings.ContainsAny(host, "/\\") || host == "." || host == ".." {
		return "", errors.New("invalid host")
	}

	rel := path.Clean("/" + loc.Path)
	rel = strings.TrimPrefix(rel, "/")
	if rel == "" || rel == "." {
		return "", errors.New("empty object path")
	}

	filePath := filepath.Join(s.root, host, filepath.FromSlash(rel))
	if !strings.HasPrefix(filePath, filepath.Join(s.root, host)+string(filepath.Separator)) {
		return "", errors.New("invalid cache path")
	}
	return filePath, nil
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, copyChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}
