package session

import (
	"testing"

	"OllamaBot/internal/llm"
)

func TestNewSessionWithPersona(t *testing.T) {
	s := New("s1", "你需要扮演一只猫")
	if len(s.Messages) != 1 || s.Messages[0].Role != llm.RoleSystem {
		t.Fatalf("expected persona message, got %+v", s.Messages)
	}
	s.AddQuery("你好")
	s.AddReply("喵")
	s.Reset()
	if len(s.Messages) != 1 {
		t.Fatalf("reset should keep only the persona: %+v", s.Messages)
	}
	if len(New("s2", "").Messages) != 0 {
		t.Fatalf("session without persona should start empty")
	}
}

func TestCountTokensUsesCharacters(t *testing.T) {
	s := New("s1", "")
	s.AddQuery("你好")
	s.AddReply("hello")
	if got := s.CountTokens(); got != 7 {
		t.Fatalf("CountTokens() = %d, want 7", got)
	}
}

func TestDiscardExceeding(t *testing.T) {
	t.Run("drops oldest after persona", func(t *testing.T) {
		s := New("s1", "SS")
		s.AddQuery("aaaa")
		s.AddReply("bbbb")
		s.AddQuery("cc")
		tokens, stuck := s.DiscardExceeding(5)
		if stuck {
			t.Fatalf("unexpected stuck result")
		}
		if tokens != 4 || len(s.Messages) != 2 || s.Messages[1].Content != "cc" {
			t.Fatalf("unexpected trim result: %d %+v", tokens, s.Messages)
		}
	})

	t.Run("drops lone assistant reply", func(t *testing.T) {
		s := New("s1", "SS")
		s.AddReply("bbbbbbbb")
		tokens, stuck := s.DiscardExceeding(5)
		if stuck || tokens != 2 || len(s.Messages) != 1 {
			t.Fatalf("unexpected trim result: %d %v %+v", tokens, stuck, s.Messages)
		}
	})

	t.Run("keeps oversized user message", func(t *testing.T) {
		s := New("s1", "SS")
		s.AddQuery("aaaaaaaa")
		tokens, stuck := s.DiscardExceeding(5)
		if !stuck || tokens != 10 || len(s.Messages) != 2 {
			t.Fatalf("unexpected trim result: %d %v %+v", tokens, stuck, s.Messages)
		}
	})

	t.Run("without persona drops oldest query", func(t *testing.T) {
		s := New("s1", "")
		s.AddQuery("aaaa")
		s.AddReply("bbbb")
		s.AddQuery("cccc")
		tokens, stuck := s.DiscardExceeding(8)
		if stuck || tokens != 8 {
			t.Fatalf("unexpected trim result: %d %v %+v", tokens, stuck, s.Messages)
		}
		want := []llm.Message{
			{Role: llm.RoleAssistant, Content: "bbbb"},
			{Role: llm.RoleUser, Content: "cccc"},
		}
		if len(s.Messages) != len(want) || s.Messages[0] != want[0] || s.Messages[1] != want[1] {
			t.Fatalf("unexpected messages: %+v", s.Messages)
		}
	})

	t.Run("without persona keeps oversized query", func(t *testing.T) {
		s := New("s1", "")
		s.AddReply("bb")
		s.AddQuery("aaaaaaaa")
		tokens, stuck := s.DiscardExceeding(5)
		if !stuck || tokens != 8 || len(s.Messages) != 1 || s.Messages[0].Content != "aaaaaaaa" {
			t.Fatalf("unexpected trim result: %d %v %+v", tokens, stuck, s.Messages)
		}
	})

	t.Run("within budget untouched", func(t *testing.T) {
		s := New("s1", "")
		s.AddQuery("a")
		s.AddReply("b")
		if tokens, _ := s.DiscardExceeding(10); tokens != 2 || len(s.Messages) != 2 {
			t.Fatalf("unexpected trim result: %d %+v", tokens, s.Messages)
		}
	})
}

func TestCloneIsDeep(t *testing.T) {
	s := New("s1", "")
	s.AddQuery("a")
	clone := s.Clone()
	clone.Messages[0].Content = "changed"
	clone.AddReply("b")
	if s.Messages[0].Content != "a" || len(s.Messages) != 1 {
		t.Fatalf("clone shares state with original: %+v", s.Messages)
	}
}
