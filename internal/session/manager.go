package session

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	xerrors "OllamaBot/internal/errors"
	"OllamaBot/pkg/logger"
)

const defaultMaxTokens = 1000

// Manager 在 Store 之上实现会话的查询、回复与清理。
//
// 同一会话的并发调用需要由调用方串行化。
type Manager struct {
	store Store
	now   func() time.Time

	mu           sync.RWMutex
	systemPrompt string
	maxTokens    int
}

// Option 定义可选配置。
type Option func(*Manager)

// WithSystemPrompt 设置新会话的人设。
func WithSystemPrompt(prompt string) Option {
	return func(m *Manager) {
		m.systemPrompt = prompt
	}
}

// WithMaxTokens 设置单个会话保留的最大字符数。
func WithMaxTokens(maxTokens int) Option {
	return func(m *Manager) {
		m.maxTokens = maxTokens
	}
}

// NewManager 构造会话管理器。
func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{store: store, now: time.Now, maxTokens: defaultMaxTokens}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	if m.maxTokens <= 0 {
		m.maxTokens = defaultMaxTokens
	}
	return m
}

// Configure 在配置重载后更新人设与长度上限，只影响之后创建或裁剪的会话。
func (m *Manager) Configure(systemPrompt string, maxTokens int) {
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	m.mu.Lock()
	m.systemPrompt = systemPrompt
	m.maxTokens = maxTokens
	m.mu.Unlock()
}

// SetTTL 调整底层存储的会话过期时间。
func (m *Manager) SetTTL(ttl time.Duration) {
	if m.store != nil {
		m.store.SetTTL(ttl)
	}
}

func (m *Manager) settings() (string, int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.systemPrompt, m.maxTokens
}

// Get 返回指定会话。
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	if m.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "会话存储未初始化")
	}
	return m.store.Get(ctx, id)
}

func (m *Manager) build(ctx context.Context, id string) (*Session, error) {
	if m.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "会话存储未初始化")
	}
	if strings.TrimSpace(id) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "会话 ID 不能为空")
	}
	s, err := m.store.Get(ctx, id)
	if err == nil {
		return s, nil
	}
	if !IsNotFound(err) {
		return nil, err
	}
	prompt, _ := m.settings()
	s = New(id, prompt)
	s.CreatedAt = m.now().Unix()
	return s, nil
}

func (m *Manager) save(ctx context.Context, s *Session) error {
	_, maxTokens := m.settings()
	if _, stuck := s.DiscardExceeding(maxTokens); stuck {
		logger.L().Warn("用户消息超出最大长度，无法继续裁剪",
			slog.String("session_id", s.ID),
			slog.Int("max_tokens", maxTokens),
		)
	}
	s.UpdatedAt = m.now().Unix()
	return m.store.Put(ctx, s)
}

// SessionQuery 取出或创建会话并追加用户消息。
func (m *Manager) SessionQuery(ctx context.Context, query, id string) (*Session, error) {
	s, err := m.build(ctx, id)
	if err != nil {
		return nil, err
	}
	s.AddQuery(query)
	if err := m.save(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// SessionReply 追加模型回复并累计 token 用量。
//
// 会话在等待模型回复期间被清除或过期时不再提交，返回 ErrSessionNotFound。
func (m *Manager) SessionReply(ctx context.Context, reply, id string, totalTokens int) (*Session, error) {
	if m.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "会话存储未初始化")
	}
	s, err := m.store.Get(ctx, id)
	if err != nil {
		if IsNotFound(err) {
			logger.L().Warn("会话已不存在，丢弃模型回复", slog.String("session_id", id))
		}
		return nil, err
	}
	s.AddReply(reply)
	if totalTokens > 0 {
		s.TotalTokens += totalTokens
	}
	if err := m.save(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// ClearSession 删除指定会话。
func (m *Manager) ClearSession(ctx context.Context, id string) error {
	if m.store == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "会话存储未初始化")
	}
	if err := m.store.Delete(ctx, id); err != nil {
		return err
	}
	logger.Audit().Info("会话已清除", slog.String("session_id", id))
	return nil
}

// ClearAllSessions 删除全部会话。
func (m *Manager) ClearAllSessions(ctx context.Context) error {
	if m.store == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "会话存储未初始化")
	}
	if err := m.store.DeleteAll(ctx); err != nil {
		return err
	}
	logger.Audit().Info("所有会话已清除")
	return nil
}

// Close 释放底层存储。
func (m *Manager) Close() error {
	if m.store == nil {
		return nil
	}
	return m.store.Close()
}
