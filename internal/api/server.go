package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"OllamaBot/internal/auth"
	"OllamaBot/internal/bot"
	"OllamaBot/internal/observability/metrics"
	"OllamaBot/internal/session"
	"OllamaBot/pkg/logger"
)

const requestIDHeader = "X-Request-ID"

// Replier 定义了 API 所需的回复能力。
type Replier interface {
	Reply(ctx context.Context, query string, rc bot.Context) bot.Reply
}

// SessionStore 定义了会话查询与清理能力。
type SessionStore interface {
	Get(ctx context.Context, id string) (*session.Session, error)
	ClearSession(ctx context.Context, id string) error
}

// Server 负责暴露 REST 接口，供机器人框架调用。
type Server struct {
	addr     string
	replier  Replier
	sessions SessionStore
	auth     *auth.Service
}

// Option 定义可选配置。
type Option func(*Server)

// WithAuth 为 /api/v1 下的接口启用令牌校验。
func WithAuth(service *auth.Service) Option {
	return func(s *Server) {
		s.auth = service
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, replier Replier, sessions SessionStore, opts ...Option) *Server {
	s := &Server{addr: addr, replier: replier, sessions: sessions}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 返回注册了全部路由的 HTTP 处理器。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/api/v1/reply", instrument("/api/v1/reply", s.auth.Middleware(http.HandlerFunc(s.handleReply))))
	mux.Handle("/api/v1/sessions/", instrument("/api/v1/sessions", s.auth.Middleware(http.HandlerFunc(s.handleSessionDetail))))
	mux.Handle("/healthz", instrument("/healthz", http.HandlerFunc(handleHealth)))
	mux.Handle("/metrics", metrics.Handler())
	return withRequestID(mux)
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logger.L().Info("HTTP 服务已启动", slog.String("address", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

type replyRequest struct {
	SessionID string   `json:"session_id"`
	Kind      bot.Kind `json:"kind,omitempty"`
	Query     string   `json:"query"`
}

// handleReply 处理机器人框架的回复请求。
func (s *Server) handleReply(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	if s.replier == nil {
		http.Error(w, "Bot 未初始化", http.StatusServiceUnavailable)
		return
	}

	var req replyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.SessionID) == "" {
		http.Error(w, "session_id 不能为空", http.StatusBadRequest)
		return
	}
	if req.Kind == "" {
		req.Kind = bot.KindText
	}

	reply := s.replier.Reply(r.Context(), req.Query, bot.Context{Kind: req.Kind, SessionID: req.SessionID})
	writeJSON(w, http.StatusOK, reply)
}

// handleSessionDetail 查询或清除单个会话。
func (s *Server) handleSessionDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodDelete {
		http.Error(w, "仅支持 GET/DELETE", http.StatusMethodNotAllowed)
		return
	}
	if s.sessions == nil {
		http.Error(w, "会话存储未初始化", http.StatusServiceUnavailable)
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/sessions/"), "/")
	if id == "" {
		http.Error(w, "缺少会话 ID", http.StatusBadRequest)
		return
	}

	if r.Method == http.MethodDelete {
		if err := s.sessions.ClearSession(r.Context(), id); err != nil {
			logger.L().Error("清除会话失败", slog.String("session_id", id), slog.Any("error", err))
			http.Error(w, "清除会话失败", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	sess, err := s.sessions.Get(r.Context(), id)
	if err != nil {
		if session.IsNotFound(err) {
			http.Error(w, "会话不存在", http.StatusNotFound)
			return
		}
		logger.L().Error("读取会话失败", slog.String("session_id", id), slog.Any("error", err))
		http.Error(w, "读取会话失败", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument 记录请求次数与耗时。
func instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		metrics.ObserveHTTPRequest(route, r.Method, rec.status, time.Since(start))
	})
}

// withRequestID 为每个请求分配 X-Request-ID，已携带时沿用。
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(requestIDHeader, id)
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
