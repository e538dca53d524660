package fetch

import "sync"

// Inflight 是以缓存键为成员的去重集合，由单把互斥锁保护。
// 临界区内只做集合增删，不做任何 I/O。
type Inflight struct {
	mu     sync.Mutex
	active map[string]struct{}
}

// NewInflight 构建空集合，进程内全局共享一份。
func NewInflight() *Inflight {
	return &Inflight{active: make(map[string]struct{})}
}

// TryAcquire 尝试占用 key；已被占用时返回 false，调用方不得等待。
func (s *Inflight) TryAcquire(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.active[key]; exists {
		return false
	}
	s.active[key] = struct{}{}
	return true
}

// Release 释放 key。无论下载成功与否都必须调用。
func (s *Inflight) Release(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, key)
}

// Len 返回当前在途下载数，供诊断接口使用。
func (s *Inflight) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}
