package llm

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/yegors/nudge/internal/config"
	"github.com/yegors/nudge/pkg/logger"
)

func TestOllamaEmbedder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req ollamaEmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if req.Model != "nomic-embed-text" || req.Prompt != "send the report" {
			t.Errorf("request = %+v", req)
		}
		w.Write([]byte(`{"embedding":[0.5,0.25,0]}`))
	}))
	defer srv.Close()

	vec, err := NewOllamaEmbedder(srv.URL+"/", "nomic-embed-text").Embed(context.Background(), "send the report")
	if err != nil {
		t.Fatal(err)
	}
	if len(vec) != 3 || vec[0] != 0.5 {
		t.Errorf("vec = %v", vec)
	}
}

func TestOllamaEmbedderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewOllamaEmbedder(srv.URL, "missing").Embed(context.Background(), "x")
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Errorf("err = %v", err)
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"length mismatch", []float32{1}, []float32{1, 2}, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CosineSimilarity(tt.a, tt.b); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestOpenAIClientComplete(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("path = %s", r.URL.Path)
		}
		data, _ := io.ReadAll(r.Body)
		json.Unmarshal(data, &body)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1,
			"model": "llama3.2:3b",
			"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "  [] \n"}}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 1, "total_tokens": 11}
		}`))
	}))
	defer srv.Close()

	client := NewOpenAIClient(config.LLMConfig{
		Provider:       "ollama",
		BaseURL:        srv.URL + "/v1/",
		APIKey:         "ollama",
		Model:          "llama3.2:3b",
		TimeoutSeconds: 5,
	}, logger.NewNop())

	out, err := client.Complete(context.Background(), Request{System: "be strict", Prompt: "find tasks"})
	if err != nil {
		t.Fatal(err)
	}
	if out != "[]" {
		t.Errorf("out = %q", out)
	}
	if client.Name() != "ollama:llama3.2:3b" {
		t.Errorf("name = %q", client.Name())
	}

	messages, _ := body["messages"].([]any)
	if len(messages) != 2 {
		t.Fatalf("messages = %v", body["messages"])
	}
	first, _ := messages[0].(map[string]any)
	if first["role"] != "system" || first["content"] != "be strict" {
		t.Errorf("system message = %v", first)
	}
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	if _, err := New(context.Background(), config.LLMConfig{Provider: "anthropic"}, logger.NewNop()); err == nil {
		t.Error("expected error")
	}
}
