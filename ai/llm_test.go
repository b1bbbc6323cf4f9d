package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

// completionServer fakes an OpenAI-compatible chat completion endpoint.
func completionServer(t *testing.T, reply string, status int) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if status != http.StatusOK {
			http.Error(w, `{"error":{"message":"boom"}}`, status)
			return
		}
		resp := map[string]any{
			"id":      "chatcmpl-test",
			"object":  "chat.completion",
			"created": 1700000000,
			"model":   "gpt-4o-mini",
			"choices": []map[string]any{
				{
					"index":         0,
					"message":       map[string]any{"role": "assistant", "content": reply},
					"finish_reason": "stop",
				},
			},
			"usage": map[string]any{
				"prompt_tokens":     12,
				"completion_tokens": 7,
				"total_tokens":      19,
			},
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			t.Errorf("encode response: %v", err)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func testLLMConfig(baseURL string) *LLMConfig {
	return &LLMConfig{
		Provider:    "openai",
		Model:       "gpt-4o-mini",
		APIKey:      "test-key",
		BaseURL:     baseURL,
		MaxTokens:   256,
		Temperature: 0.3,
		Timeout:     5,
	}
}

func TestNewLLMServiceProviders(t *testing.T) {
	for _, provider := range []string{"openai", "deepseek", "openrouter", "ollama", "some-compatible"} {
		t.Run(provider, func(t *testing.T) {
			svc, err := NewLLMService(&LLMConfig{Provider: provider, Model: "m", APIKey: "k"})
			if err != nil {
				t.Fatalf("NewLLMService(%s) error = %v", provider, err)
			}
			if svc == nil {
				t.Fatalf("NewLLMService(%s) returned nil service", provider)
			}
		})
	}
}

func TestChatReturnsContentAndStats(t *testing.T) {
	srv, calls := completionServer(t, "the deploy was rolled back", http.StatusOK)

	svc, err := NewLLMService(testLLMConfig(srv.URL))
	if err != nil {
		t.Fatalf("NewLLMService() error = %v", err)
	}

	content, stats, err := svc.Chat(context.Background(), []Message{
		SystemPrompt("answer from context"),
		UserMessage("what happened to the deploy?"),
	})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if content != "the deploy was rolled back" {
		t.Errorf("Chat() content = %q", content)
	}
	if stats == nil {
		t.Fatal("Chat() stats should not be nil on success")
	}
	if stats.PromptTokens != 12 || stats.CompletionTokens != 7 || stats.TotalTokens != 19 {
		t.Errorf("Chat() stats = %+v", stats)
	}
	if stats.Model != "gpt-4o-mini" {
		t.Errorf("Chat() stats.Model = %q, want gpt-4o-mini", stats.Model)
	}
	if stats.TotalDurationMs < 0 {
		t.Errorf("TotalDurationMs = %d, want >= 0", stats.TotalDurationMs)
	}
	if calls.Load() != 1 {
		t.Errorf("server calls = %d, want 1", calls.Load())
	}
}

func TestChatServerErrorSurfaces(t *testing.T) {
	srv, _ := completionServer(t, "", http.StatusInternalServerError)

	svc, err := NewLLMService(testLLMConfig(srv.URL))
	if err != nil {
		t.Fatalf("NewLLMService() error = %v", err)
	}

	_, stats, err := svc.Chat(context.Background(), []Message{UserMessage("hi")})
	if err == nil {
		t.Fatal("Chat() should fail on a 500 response")
	}
	if stats != nil {
		t.Errorf("Chat() stats = %+v, want nil on error", stats)
	}
	if !ShouldRetry(err) {
		t.Errorf("a 500 response should classify as retryable, got %v", err)
	}
}

func TestChatEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"chatcmpl-test","object":"chat.completion","choices":[],"usage":{}}`))
	}))
	t.Cleanup(srv.Close)

	svc, err := NewLLMService(testLLMConfig(srv.URL))
	if err != nil {
		t.Fatalf("NewLLMService() error = %v", err)
	}

	_, _, err = svc.Chat(context.Background(), []Message{UserMessage("hi")})
	if err == nil {
		t.Fatal("Chat() should fail when the response has no choices")
	}
}

func TestConvertMessages(t *testing.T) {
	out := convertMessages([]Message{
		{Role: "system", Content: "a"},
		{Role: "user", Content: "b"},
		{Role: "assistant", Content: "c"},
		{Role: "tool", Content: "d"}, // unknown roles fall back to user
	})

	if len(out) != 4 {
		t.Fatalf("convertMessages() length = %d, want 4", len(out))
	}
	wantRoles := []string{"system", "user", "assistant", "user"}
	for i, want := range wantRoles {
		if out[i].Role != want {
			t.Errorf("out[%d].Role = %s, want %s", i, out[i].Role, want)
		}
	}
}

func TestMessageHelpers(t *testing.T) {
	if m := SystemPrompt("rules"); m.Role != "system" || m.Content != "rules" {
		t.Errorf("SystemPrompt() = %+v", m)
	}
	if m := UserMessage("question"); m.Role != "user" || m.Content != "question" {
		t.Errorf("UserMessage() = %+v", m)
	}
}
