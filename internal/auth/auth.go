// Package auth 为 HTTP 接口提供基于静态 Bearer Token 的访问控制。
package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	loggerpkg "OllamaBot/pkg/logger"
)

var (
	// ErrMissingToken 表示请求未携带 Token。
	ErrMissingToken = errors.New("缺少访问令牌")
	// ErrInvalidToken 表示 Token 不在允许列表中。
	ErrInvalidToken = errors.New("访问令牌无效")
)

// Service 校验请求携带的访问令牌。未配置任何令牌时不做校验。
type Service struct {
	mu     sync.RWMutex
	tokens [][]byte
}

// NewService 使用允许的令牌列表创建 Service。
func NewService(tokens []string) *Service {
	s := &Service{}
	s.SetTokens(tokens)
	return s
}

// SetTokens 替换允许的令牌列表，用于配置重载。
func (s *Service) SetTokens(tokens []string) {
	list := make([][]byte, 0, len(tokens))
	for _, token := range tokens {
		token = strings.TrimSpace(token)
		if token != "" {
			list = append(list, []byte(token))
		}
	}
	s.mu.Lock()
	s.tokens = list
	s.mu.Unlock()
}

// Enabled 判断是否启用了访问控制。
func (s *Service) Enabled() bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tokens) > 0
}

// Authenticate 校验 Authorization 头。
func (s *Service) Authenticate(header string) error {
	if !s.Enabled() {
		return nil
	}
	token, ok := strings.CutPrefix(strings.TrimSpace(header), "Bearer ")
	token = strings.TrimSpace(token)
	if !ok || token == "" {
		return ErrMissingToken
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, allowed := range s.tokens {
		if subtle.ConstantTimeCompare(allowed, []byte(token)) == 1 {
			return nil
		}
	}
	return ErrInvalidToken
}

// Middleware 返回一个 HTTP 中间件，拒绝未通过校验的请求并记录审计日志。
func (s *Service) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.Enabled() {
			next.ServeHTTP(w, r)
			return
		}
		if err := s.Authenticate(r.Header.Get("Authorization")); err != nil {
			status := http.StatusUnauthorized
			http.Error(w, http.StatusText(status), status)
			loggerpkg.Audit().Warn("access_denied",
				"path", r.URL.Path,
				"method", r.Method,
				"status", status,
				"error", err.Error(),
			)
			return
		}

		start := time.Now()
		aw := &auditWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(aw, r)
		loggerpkg.Audit().Info("api_request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", aw.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

// auditWriter 包装 http.ResponseWriter 以捕获响应状态码。
type auditWriter struct {
	http.ResponseWriter
	status int
}

func (w *auditWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
