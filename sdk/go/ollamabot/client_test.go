package ollamabot

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestReplySendsPayloadAndToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bot/api/v1/reply" || r.Method != http.MethodPost {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("expected bearer token, got %q", r.Header.Get("Authorization"))
		}
		var req ReplyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("unexpected body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(Reply{Type: ReplyText, Content: "echo:" + req.Query})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL+"/bot", srv.Client())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	client.SetAccessToken("secret")

	reply, err := client.Reply(context.Background(), ReplyRequest{SessionID: "u1", Query: "你好"})
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if reply.Type != ReplyText || reply.Content != "echo:你好" {
		t.Fatalf("unexpected reply: %+v", reply)
	}
}

func TestReplyRequiresSessionID(t *testing.T) {
	client, err := NewClient("http://127.0.0.1:1", nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if _, err := client.Reply(context.Background(), ReplyRequest{Query: "hi"}); err == nil {
		t.Fatalf("expected error for missing session id")
	}
}

func TestSessionEndpoints(t *testing.T) {
	deleted := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/sessions/u1":
			_ = json.NewEncoder(w).Encode(Session{ID: "u1", Messages: []Message{{Role: "user", Content: "hi"}}})
		case r.Method == http.MethodDelete && r.URL.Path == "/api/v1/sessions/u1":
			deleted = true
			w.WriteHeader(http.StatusNoContent)
		default:
			http.Error(w, "会话不存在", http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	ctx := context.Background()

	s, err := client.GetSession(ctx, "u1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if s.ID != "u1" || len(s.Messages) != 1 {
		t.Fatalf("unexpected session: %+v", s)
	}
	if err := client.ClearSession(ctx, "u1"); err != nil || !deleted {
		t.Fatalf("ClearSession: %v (deleted=%v)", err, deleted)
	}
	_, err = client.GetSession(ctx, "missing")
	if !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestNewClientRejectsInvalidURL(t *testing.T) {
	for _, raw := range []string{"", "not a url", "://missing"} {
		if _, err := NewClient(raw, nil); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}
