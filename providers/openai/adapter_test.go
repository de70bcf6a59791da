package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/httprunner/AppAgent"
)

func newTestAdapter(t *testing.T, handler http.HandlerFunc) *Adapter {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	adapter, err := New(Config{
		APIKey:  "test-key",
		Model:   "test-model",
		BaseURL: server.URL,
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	return adapter
}

func TestGenerateParsesToolCalls(t *testing.T) {
	var captured chatCompletionRequest
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{
			"choices": [{"message": {
				"role": "assistant",
				"content": "tapping now",
				"tool_calls": [{
					"id": "call-1",
					"type": "function",
					"function": {"name": "tap", "arguments": "{\"x\": 540, \"y\": 1200}"}
				}]
			}}]
		}`))
	})

	turn, err := adapter.Generate(context.Background(), appagent.ModelRequest{
		Messages: []appagent.Message{{Role: appagent.RoleUser, Content: "tap the like button"}},
		Tools: []appagent.ToolSpec{{
			Kind:        appagent.ToolTap,
			Name:        "tap",
			Description: "Tap the screen.",
			Params:      map[string]any{"type": "object"},
		}},
	})
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if turn.Content != "tapping now" {
		t.Fatalf("unexpected content %q", turn.Content)
	}
	if len(turn.ToolCalls) != 1 || turn.ToolCalls[0].Name != "tap" {
		t.Fatalf("unexpected tool calls %#v", turn.ToolCalls)
	}
	if x, _ := turn.ToolCalls[0].Arguments["x"].(float64); x != 540 {
		t.Fatalf("arguments not decoded: %#v", turn.ToolCalls[0].Arguments)
	}

	if captured.Model != "test-model" {
		t.Fatalf("unexpected model %q", captured.Model)
	}
	if len(captured.Tools) != 1 || captured.Tools[0].Function.Name != "tap" {
		t.Fatalf("tool catalogue not forwarded: %#v", captured.Tools)
	}
}

func TestGenerateLiftsScreenshotIntoImageMessage(t *testing.T) {
	var rawBody []byte
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		rawBody, _ = io.ReadAll(r.Body)
		_, _ = w.Write([]byte(`{"choices": [{"message": {"role": "assistant", "content": "ok"}}]}`))
	})

	screenshot := `{"type":"screenshot","data_base64":"aGVsbG8="}`
	_, err := adapter.Generate(context.Background(), appagent.ModelRequest{
		Messages: []appagent.Message{
			{Role: appagent.RoleUser, Content: "look at the screen"},
			{Role: appagent.RoleTool, Name: "screenshot", ToolCallID: "call-1", Content: screenshot},
		},
	})
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}

	var request struct {
		Messages []json.RawMessage `json:"messages"`
	}
	if err := json.Unmarshal(rawBody, &request); err != nil {
		t.Fatalf("decode request: %v", err)
	}
	if len(request.Messages) != 3 {
		t.Fatalf("expected tool message plus image message, got %d messages", len(request.Messages))
	}
	last := string(request.Messages[2])
	if !strings.Contains(last, "image_url") || !strings.Contains(last, "data:image/png;base64,aGVsbG8=") {
		t.Fatalf("image part missing from %s", last)
	}
	tool := string(request.Messages[1])
	if strings.Contains(tool, "data_base64") {
		t.Fatalf("raw screenshot payload must not stay in the tool slot: %s", tool)
	}
}

func TestGenerateNonOKStatusIsError(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": {"message": "rate limited"}}`, http.StatusTooManyRequests)
	})

	_, err := adapter.Generate(context.Background(), appagent.ModelRequest{
		Messages: []appagent.Message{{Role: appagent.RoleUser, Content: "hi"}},
	})
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestNewValidatesConfig(t *testing.T) {
	if _, err := New(Config{Model: "m"}); err == nil {
		t.Fatalf("missing api key must fail")
	}
	if _, err := New(Config{APIKey: "k"}); err == nil {
		t.Fatalf("missing model must fail")
	}
}
