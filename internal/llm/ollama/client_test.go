package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	xerrors "OllamaBot/internal/errors"
	"OllamaBot/internal/llm"
)

func newTestClient(t *testing.T, srv *httptest.Server, timeout time.Duration) *Client {
	t.Helper()
	client, err := NewClient(Config{BaseURL: srv.URL + "/", Timeout: timeout})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return client
}

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(Config{BaseURL: "ollama:11434"}); err == nil {
		t.Fatalf("expected error for base url without scheme")
	}
	client, err := NewClient(Config{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.BaseURL() != defaultBaseURL {
		t.Fatalf("unexpected default base url: %s", client.BaseURL())
	}
	if err := client.SetBaseURL("http://other:11434/"); err != nil {
		t.Fatalf("SetBaseURL: %v", err)
	}
	if client.BaseURL() != "http://other:11434" {
		t.Fatalf("base url not updated: %s", client.BaseURL())
	}
}

func TestChatSuccess(t *testing.T) {
	var captured struct {
		Path   string
		Method string
		Body   map[string]any
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.Path = r.URL.Path
		captured.Method = r.Method
		defer r.Body.Close()
		if err := json.NewDecoder(r.Body).Decode(&captured.Body); err != nil {
			t.Errorf("failed to decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model":   "qwen2",
			"message": map[string]any{"role": "assistant", "content": "你好"},
			"done":    true,
		})
	}))
	defer srv.Close()

	client := newTestClient(t, srv, time.Second)
	content, err := client.Chat(context.Background(), llm.ChatRequest{
		Model:    "qwen2",
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
		Stream:   true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if content != "你好" {
		t.Fatalf("unexpected content: %q", content)
	}
	if captured.Path != "/api/chat" || captured.Method != http.MethodPost {
		t.Fatalf("unexpected request: %s %s", captured.Method, captured.Path)
	}
	if captured.Body["model"] != "qwen2" {
		t.Fatalf("model missing: %+v", captured.Body)
	}
	if stream, ok := captured.Body["stream"].(bool); !ok || stream {
		t.Fatalf("stream must be sent as false: %+v", captured.Body["stream"])
	}
	msgs, ok := captured.Body["messages"].([]any)
	if !ok || len(msgs) != 1 {
		t.Fatalf("unexpected messages: %+v", captured.Body["messages"])
	}
	first := msgs[0].(map[string]any)
	if first["role"] != "user" || first["content"] != "hi" {
		t.Fatalf("unexpected message: %+v", first)
	}
}

func TestChatStatusClassification(t *testing.T) {
	tests := []struct {
		status int
		want   xerrors.Code
	}{
		{http.StatusTooManyRequests, xerrors.CodeRateLimited},
		{http.StatusBadGateway, xerrors.CodeUpstreamFailure},
		{http.StatusServiceUnavailable, xerrors.CodeUpstreamFailure},
		{http.StatusInternalServerError, xerrors.CodeUpstreamFailure},
		{http.StatusGatewayTimeout, xerrors.CodeTimeout},
		{http.StatusNotFound, xerrors.CodeUnknown},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, `{"error":"boom"}`, tt.status)
			}))
			defer srv.Close()

			_, err := newTestClient(t, srv, time.Second).Chat(context.Background(), llm.ChatRequest{Model: "m"})
			if err == nil {
				t.Fatalf("expected error")
			}
			if got := xerrors.CodeOf(err); got != tt.want {
				t.Fatalf("code = %s, want %s (%v)", got, tt.want, err)
			}
		})
	}
}

func TestChatTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	_, err := newTestClient(t, srv, 20*time.Millisecond).Chat(context.Background(), llm.ChatRequest{Model: "m"})
	if xerrors.CodeOf(err) != xerrors.CodeTimeout {
		t.Fatalf("expected timeout, got %v", err)
	}
}

func TestSetTimeoutAppliesToLaterRequests(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(200 * time.Millisecond):
			_ = json.NewEncoder(w).Encode(map[string]any{"message": map[string]string{"role": "assistant", "content": "ok"}})
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	client := newTestClient(t, srv, 20*time.Millisecond)
	if _, err := client.Chat(context.Background(), llm.ChatRequest{Model: "m"}); xerrors.CodeOf(err) != xerrors.CodeTimeout {
		t.Fatalf("expected timeout, got %v", err)
	}

	client.SetTimeout(5 * time.Second)
	if client.Timeout() != 5*time.Second {
		t.Fatalf("timeout not updated: %v", client.Timeout())
	}
	got, err := client.Chat(context.Background(), llm.ChatRequest{Model: "m"})
	if err != nil || got != "ok" {
		t.Fatalf("Chat() = %q, %v", got, err)
	}

	client.SetTimeout(0)
	if client.Timeout() != defaultTimeout {
		t.Fatalf("expected default timeout, got %v", client.Timeout())
	}
}

func TestChatConnectionFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	client := newTestClient(t, srv, time.Second)
	srv.Close()

	_, err := client.Chat(context.Background(), llm.ChatRequest{Model: "m"})
	if xerrors.CodeOf(err) != xerrors.CodeConnectionFailure {
		t.Fatalf("expected connection failure, got %v", err)
	}
}

func TestChatMalformedResponse(t *testing.T) {
	cases := map[string]string{
		"not-json":   `<html>`,
		"no-message": `{"error":"model not found"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(body))
			}))
			defer srv.Close()

			_, err := newTestClient(t, srv, time.Second).Chat(context.Background(), llm.ChatRequest{Model: "m"})
			if xerrors.CodeOf(err) != xerrors.CodeUnknown {
				t.Fatalf("expected unknown error, got %v", err)
			}
		})
	}
}

func TestChatEmptyContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"message":{"role":"assistant"}}`))
	}))
	defer srv.Close()

	content, err := newTestClient(t, srv, time.Second).Chat(context.Background(), llm.ChatRequest{Model: "m"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if content != "" {
		t.Fatalf("expected empty content, got %q", content)
	}
}
