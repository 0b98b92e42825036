package session

import (
	"context"
	"sync"
	"time"

	xerrors "OllamaBot/internal/errors"
)

// MemoryStore 以内存方式保存会话，进程重启后丢失。
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	ttl      expiry
	now      func() time.Time
}

// NewMemoryStore 创建 MemoryStore；ttl 为 0 表示会话永不过期。
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	m := &MemoryStore{
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
	m.ttl.set(ttl)
	return m
}

// SetTTL 调整空闲过期时间，对已有会话同样生效。
func (m *MemoryStore) SetTTL(ttl time.Duration) {
	m.ttl.set(ttl)
}

// Get 返回会话副本，过期会话会被顺带清理。
func (m *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	if m.expired(s) {
		m.mu.Lock()
		if current, ok := m.sessions[id]; ok && m.expired(current) {
			delete(m.sessions, id)
		}
		m.mu.Unlock()
		return nil, ErrSessionNotFound
	}
	return s.Clone(), nil
}

// Put 保存会话副本。
func (m *MemoryStore) Put(_ context.Context, s *Session) error {
	if s == nil || s.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "会话 ID 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s.Clone()
	return nil
}

// Delete 删除指定会话，不存在时忽略。
func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

// DeleteAll 清空所有会话。
func (m *MemoryStore) DeleteAll(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = make(map[string]*Session)
	return nil
}

// Len 返回当前保存的会话数量，包含尚未清理的过期会话。
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Close 实现 Store 接口。
func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) expired(s *Session) bool {
	return m.ttl.expired(m.now(), s.UpdatedAt)
}
