package cache

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"hash"
	"os"
)

// EntryWriter 是流式完整性写入器：写入落在 <final>.tmp，同步累计 sha256，
// Commit 时通过同目录 rename 原子发布正文，再落盘 side-car。
// 临时文件与正文同目录，避免跨文件系统 rename。
type EntryWriter struct {
	loc       Locator
	finalPath string
	tempPath  string
	file      *os.File
	hasher    hash.Hash
	written   int64
	done      bool
}

// Write 实现 io.Writer，单次失败后写入器不可继续使用，需调用 Abort。
func (w *EntryWriter) Write(p []byte) (int, error) {
	n, err := w.file.Write(p)
	if n > 0 {
		w.hasher.Write(p[:n])
		w.written += int64(n)
	}
	return n, err
}

// Written 返回已写入的字节数。
func (w *EntryWriter) Written() int64 {
	return w.written
}

// Commit 关闭临时文件并 rename 到正文路径（唯一提交点），随后写入
// .sha256 与可选 .meta side-car。side-car 属于快速非持久写，失败时
// 正文仍已发布，仅向调用方返回错误供记录。
func (w *EntryWriter) Commit(meta *Metadata) (*Entry, error) {
	if w.done {
		return nil, errors.New("entry writer already finished")
	}
	w.done = true

	if err := w.file.Close(); err != nil {
		os.Remove(w.tempPath)
		return nil, err
	}

	if err := os.Rename(w.tempPath, w.finalPath); err != nil {
		os.Remove(w.tempPath)
		return nil, err
	}

	entry := &Entry{
		Locator:   w.loc,
		FilePath:  w.finalPath,
		SizeBytes: w.written,
	}
	if info, err := os.Stat(w.finalPath); err == nil {
		entry.SizeBytes = info.Size()
		entry.ModTime = info.ModTime()
	}

	sum := hex.EncodeToString(w.hasher.Sum(nil))
	if err := os.WriteFile(w.finalPath+hashSuffix, []byte(sum), 0o644); err != nil {
		return entry, err
	}

	if meta != nil {
		raw, err := json.Marshal(meta)
		if err != nil {
			return entry, err
		}
		if err := os.WriteFile(w.finalPath+metaSuffix, raw, 0o644); err != nil {
			return entry, err
		}
	}

	return entry, nil
}

// Abort 丢弃临时文件；正文路径保持缺失，下次请求会重新触发下载。
func (w *EntryWriter) Abort() {
	if w.done {
		return
	}
	w.done = true
	w.file.Close()
	_ = os.Remove(w.tempPath)
}

// Hash 返回当前已写入内容的十六进制 sha256，仅在 Commit 前有意义。
func (w *EntryWriter) Hash() string {
	return hex.EncodeToString(w.hasher.Sum(nil))
}
