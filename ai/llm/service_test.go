package llm

import (
	"testing"

	"github.com/sashabaranov/go-openai"
)

func TestNewService_DeepSeekDefaults(t *testing.T) {
	cfg := &Config{
		Provider: "deepseek",
		APIKey:   "test-key",
	}

	svc, err := NewService(cfg)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	if svc == nil {
		t.Fatal("NewService() returned nil service")
	}
}

func TestNewService_Explicit(t *testing.T) {
	cfg := &Config{
		Provider:    "openai",
		Model:       "gpt-4o",
		APIKey:      "test-key",
		BaseURL:     "https://api.openai.com/v1",
		MaxTokens:   4096,
		Temperature: 0.5,
		Timeout:     30,
	}

	svc, err := NewService(cfg)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	if svc == nil {
		t.Fatal("NewService() returned nil service")
	}
}

func TestNewService_GenericProvider(t *testing.T) {
	cfg := &Config{
		Provider: "custom-gateway",
		Model:    "test-model",
		APIKey:   "test-key",
		BaseURL:  "http://localhost:8080/v1",
	}

	svc, err := NewService(cfg)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	if svc == nil {
		t.Fatal("NewService() returned nil service")
	}
}

func TestFormatMessages(t *testing.T) {
	history := []Message{
		UserMessage("alice: 昨天的问题"),
		AssistantMessage("昨天的回答"),
	}

	messages := FormatMessages("你是助手", "alice: 今天的问题", history)
	if len(messages) != 4 {
		t.Fatalf("FormatMessages() returned %d messages, want 4", len(messages))
	}
	if messages[0].Role != "system" || messages[0].Content != "你是助手" {
		t.Errorf("messages[0] = %+v, want system prompt first", messages[0])
	}
	if messages[1].Content != "alice: 昨天的问题" || messages[2].Content != "昨天的回答" {
		t.Errorf("history not preserved in order: %+v", messages[1:3])
	}
	last := messages[len(messages)-1]
	if last.Role != "user" || last.Content != "alice: 今天的问题" {
		t.Errorf("messages[last] = %+v, want triggering user message", last)
	}
}

func TestFormatMessages_NoSystemPrompt(t *testing.T) {
	messages := FormatMessages("", "alice: 问题", nil)
	if len(messages) != 1 {
		t.Fatalf("FormatMessages() returned %d messages, want 1", len(messages))
	}
	if messages[0].Role != "user" {
		t.Errorf("messages[0].Role = %q, want user", messages[0].Role)
	}
}

func TestConvertMessages(t *testing.T) {
	tests := []struct {
		role     string
		expected string
	}{
		{"system", openai.ChatMessageRoleSystem},
		{"assistant", openai.ChatMessageRoleAssistant},
		{"user", openai.ChatMessageRoleUser},
		{"", openai.ChatMessageRoleUser},
		{"tool", openai.ChatMessageRoleUser},
	}

	for _, tt := range tests {
		converted := convertMessages([]Message{{Role: tt.role, Content: "x"}})
		if converted[0].Role != tt.expected {
			t.Errorf("convertMessages(role=%q) = %q, want %q", tt.role, converted[0].Role, tt.expected)
		}
	}
}

func TestMessageHelpers(t *testing.T) {
	if m := SystemPrompt("s"); m.Role != "system" || m.Content != "s" {
		t.Errorf("SystemPrompt() = %+v", m)
	}
	if m := UserMessage("u"); m.Role != "user" || m.Content != "u" {
		t.Errorf("UserMessage() = %+v", m)
	}
	if m := AssistantMessage("a"); m.Role != "assistant" || m.Content != "a" {
		t.Errorf("AssistantMessage() = %+v", m)
	}
}
