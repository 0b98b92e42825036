package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	xerrors "OllamaBot/internal/errors"
)

type recordingNotifier struct {
	channel Channel
	events  []Event
	err     error
}

func (r *recordingNotifier) Channel() Channel { return r.channel }

func (r *recordingNotifier) Notify(_ context.Context, event Event) error {
	r.events = append(r.events, event)
	return r.err
}

func TestFanoutDispatcher(t *testing.T) {
	ok := &recordingNotifier{channel: ChannelLog}
	failing := &recordingNotifier{channel: ChannelDingTalk, err: errors.New("boom")}
	d := NewFanout(ok, nil, failing)

	err := d.Notify(context.Background(), Event{Code: xerrors.CodeUnknown, SessionID: "s1"})
	if err == nil || !strings.Contains(err.Error(), "dingtalk") {
		t.Fatalf("expected joined error naming the channel, got %v", err)
	}
	if len(ok.events) != 1 || len(failing.events) != 1 {
		t.Fatalf("every notifier should receive the event")
	}
	if ok.events[0].OccurredAt.IsZero() {
		t.Fatalf("occurred_at should be filled")
	}

	var nilDispatcher *FanoutDispatcher
	if err := nilDispatcher.Notify(context.Background(), Event{}); err != nil {
		t.Fatalf("nil dispatcher should be a no-op: %v", err)
	}
}

func TestWebhookNotifier(t *testing.T) {
	var payload webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := &WebhookNotifier{URL: srv.URL, Client: srv.Client()}
	err := n.Notify(context.Background(), Event{
		Code:       xerrors.CodeRetriesExhausted,
		Message:    "重试次数已用尽",
		Severity:   xerrors.SeverityWarning,
		SessionID:  "s1",
		Attempts:   3,
		MaxRetries: 2,
		Metadata:   map[string]string{"last_code": "TIMEOUT"},
	})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if payload.MsgType != "text" {
		t.Fatalf("unexpected msgtype: %s", payload.MsgType)
	}
	for _, want := range []string{"RETRIES_EXHAUSTED", "会话: s1", "重试: 3/2", "last_code: TIMEOUT"} {
		if !strings.Contains(payload.Text.Content, want) {
			t.Fatalf("content missing %q: %s", want, payload.Text.Content)
		}
	}
}

func TestWebhookNotifierStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := &WebhookNotifier{URL: srv.URL}
	if err := n.Notify(context.Background(), Event{Code: xerrors.CodeUnknown}); err == nil {
		t.Fatalf("expected error for non-2xx status")
	}
	if err := (&WebhookNotifier{}).Notify(context.Background(), Event{}); err != nil {
		t.Fatalf("unconfigured notifier should skip: %v", err)
	}
}

func TestLogNotifier(t *testing.T) {
	err := LogNotifier{}.Notify(context.Background(), Event{
		Code:     xerrors.CodeConnectionFailure,
		Severity: xerrors.SeverityCritical,
		Message:  "无法连接模型服务",
	})
	if err != nil {
		t.Fatalf("LogNotifier.Notify: %v", err)
	}
}
