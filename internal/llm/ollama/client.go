// Package ollama talks to a locally hosted Ollama server through its
// /api/chat endpoint.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	xerrors "OllamaBot/internal/errors"
	"OllamaBot/internal/llm"
)

const (
	defaultBaseURL = "http://127.0.0.1:11434"
	defaultTimeout = 120 * time.Second
	chatPath       = "/api/chat"
)

// Config 描述了调用 Ollama 所需的信息。
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client 通过 HTTP 调用 Ollama 的对话接口。
type Client struct {
	mu         sync.RWMutex
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
}

// NewClient 根据配置创建 Ollama 客户端。
func NewClient(cfg Config) (*Client, error) {
	baseURL, err := normalizeBaseURL(cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	c := &Client{baseURL: baseURL, httpClient: &http.Client{}}
	c.SetTimeout(cfg.Timeout)
	return c, nil
}

// SetTimeout 调整单次请求的超时时间，只影响之后发起的请求。
func (c *Client) SetTimeout(timeout time.Duration) {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	c.mu.Lock()
	c.timeout = timeout
	c.mu.Unlock()
}

// Timeout 返回当前的请求超时时间。
func (c *Client) Timeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.timeout
}

// SetBaseURL 在配置重载后切换服务地址。
func (c *Client) SetBaseURL(raw string) error {
	baseURL, err := normalizeBaseURL(raw)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.baseURL = baseURL
	c.mu.Unlock()
	return nil
}

// BaseURL 返回当前使用的服务地址。
func (c *Client) BaseURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.baseURL
}

func normalizeBaseURL(raw string) (string, error) {
	baseURL := strings.TrimSpace(raw)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		return "", xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("Ollama 地址格式不正确: %s", raw))
	}
	return strings.TrimRight(baseURL, "/"), nil
}

type chatResponse struct {
	Message *struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Error string `json:"error"`
}

// Chat 发送非流式对话请求并返回 message.content。
func (c *Client) Chat(ctx context.Context, req llm.ChatRequest) (string, error) {
	req.Stream = false
	payload, err := json.Marshal(req)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeUnknown, err, "序列化 Ollama 请求失败")
	}

	ctx, cancel := context.WithTimeout(ctx, c.Timeout())
	defer cancel()

	endpoint := c.BaseURL() + chatPath
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeUnknown, err, "构建 Ollama 请求失败")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", classifyStatus(resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		if isTimeout(err) {
			return "", xerrors.Wrap(xerrors.CodeTimeout, err, "读取 Ollama 响应超时")
		}
		return "", xerrors.Wrap(xerrors.CodeUnknown, err, "解析 Ollama 响应失败")
	}
	if decoded.Message == nil {
		msg := "Ollama 响应中没有 message 字段"
		if decoded.Error != "" {
			msg = "Ollama 返回错误: " + decoded.Error
		}
		return "", xerrors.New(xerrors.CodeUnknown, msg)
	}
	return decoded.Message.Content, nil
}

func classifyTransportError(err error) error {
	if isTimeout(err) {
		return xerrors.Wrap(xerrors.CodeTimeout, err, "请求 Ollama 超时")
	}
	return xerrors.Wrap(xerrors.CodeConnectionFailure, err, "无法连接 Ollama")
}

func isTimeout(err error) bool {
	if stdErrors.Is(err, context.DeadlineExceeded) || stdErrors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	return stdErrors.As(err, &netErr) && netErr.Timeout()
}

func classifyStatus(status int, body string) error {
	opt := xerrors.WithMetadata("status", strconv.Itoa(status))
	msg := fmt.Sprintf("Ollama 返回错误状态 %d: %s", status, body)
	switch {
	case status == http.StatusTooManyRequests:
		return xerrors.New(xerrors.CodeRateLimited, msg, opt)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return xerrors.New(xerrors.CodeTimeout, msg, opt)
	case status >= http.StatusInternalServerError:
		return xerrors.New(xerrors.CodeUpstreamFailure, msg, opt)
	default:
		return xerrors.New(xerrors.CodeUnknown, msg, opt)
	}
}
