// Package session keeps per-conversation message logs and token usage for the
// bot. Stores are pluggable: an in-process map, Redis, or MySQL.
package session

import (
	"context"
	stdErrors "errors"
	"sync/atomic"
	"time"
	"unicode/utf8"

	xerrors "OllamaBot/internal/errors"
	"OllamaBot/internal/llm"
)

// ErrSessionNotFound 表示会话不存在或已过期。
var ErrSessionNotFound = xerrors.New(xerrors.CodeNotFound, "会话不存在")

// IsNotFound 判断错误是否为会话不存在。
func IsNotFound(err error) bool {
	return stdErrors.Is(err, ErrSessionNotFound)
}

// Session 是单个用户或群聊的会话状态。
type Session struct {
	ID           string        `json:"id"`
	SystemPrompt string        `json:"system_prompt,omitempty"`
	Messages     []llm.Message `json:"messages"`
	TotalTokens  int           `json:"total_tokens"`
	CreatedAt    int64         `json:"created_at"`
	UpdatedAt    int64         `json:"updated_at"`
}

// New 创建一个带人设的新会话。
func New(id, systemPrompt string) *Session {
	s := &Session{ID: id, SystemPrompt: systemPrompt}
	s.Reset()
	return s
}

// Reset 清空消息记录，只保留人设。
func (s *Session) Reset() {
	s.Messages = s.Messages[:0]
	if s.SystemPrompt != "" {
		s.Messages = append(s.Messages, llm.Message{Role: llm.RoleSystem, Content: s.SystemPrompt})
	}
}

// AddQuery 追加用户消息。
func (s *Session) AddQuery(query string) {
	s.Messages = append(s.Messages, llm.Message{Role: llm.RoleUser, Content: query})
}

// AddReply 追加模型回复。
func (s *Session) AddReply(reply string) {
	s.Messages = append(s.Messages, llm.Message{Role: llm.RoleAssistant, Content: reply})
}

// CountTokens 以字符数估算会话当前占用的 token。
func (s *Session) CountTokens() int {
	total := 0
	for _, msg := range s.Messages {
		total += utf8.RuneCountInString(msg.Content)
	}
	return total
}

// DiscardExceeding 从最早的消息开始丢弃，直到字符数不超过 maxTokens。
// 首条消息为人设时始终保留。返回裁剪后的字符数，以及是否因为
// 仅剩一条超长用户消息而无法继续裁剪。
func (s *Session) DiscardExceeding(maxTokens int) (int, bool) {
	current := s.CountTokens()
	if maxTokens <= 0 {
		return current, false
	}
	keep := 0
	if len(s.Messages) > 0 && s.Messages[0].Role == llm.RoleSystem {
		keep = 1
	}
	for current > maxTokens {
		switch rest := len(s.Messages) - keep; {
		case rest > 1:
			s.Messages = append(s.Messages[:keep], s.Messages[keep+1:]...)
		case rest == 1 && s.Messages[keep].Role == llm.RoleAssistant:
			s.Messages = s.Messages[:keep]
			return s.CountTokens(), false
		case rest == 1 && s.Messages[keep].Role == llm.RoleUser:
			return current, true
		default:
			return current, false
		}
		current = s.CountTokens()
	}
	return current, false
}

// Clone 返回会话的深拷贝。
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	clone := *s
	clone.Messages = append([]llm.Message(nil), s.Messages...)
	return &clone
}

// Store 定义了会话的持久化能力。
type Store interface {
	Get(ctx context.Context, id string) (*Session, error)
	Put(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id string) error
	DeleteAll(ctx context.Context) error
	// SetTTL 调整会话空闲过期时间，0 表示永不过期。
	SetTTL(ttl time.Duration)
	Close() error
}

// expiry 保存可在运行时调整的空闲过期时间。
type expiry struct {
	ttl atomic.Int64
}

func (e *expiry) set(ttl time.Duration) {
	if ttl < 0 {
		ttl = 0
	}
	e.ttl.Store(int64(ttl))
}

func (e *expiry) get() time.Duration {
	return time.Duration(e.ttl.Load())
}

// expired 判断最后更新时间为 updatedAt 的会话在 now 时是否已过期。
func (e *expiry) expired(now time.Time, updatedAt int64) bool {
	ttl := e.get()
	return ttl > 0 && now.Sub(time.Unix(updatedAt, 0)) > ttl
}
