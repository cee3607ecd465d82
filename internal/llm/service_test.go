package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

func writeCompletion(w http.ResponseWriter, content string) {
	resp := openai.ChatCompletionResponse{
		ID:    "cmpl-1",
		Model: "test-model",
		Choices: []openai.ChatCompletionChoice{
			{Index: 0, Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: content}},
		},
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func TestComplete_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("expected /chat/completions path, got %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("expected Bearer test-key, got %s", r.Header.Get("Authorization"))
		}

		var req openai.ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		if req.Model != "test-model" {
			t.Errorf("expected model test-model, got %s", req.Model)
		}
		if req.MaxTokens != 1024 {
			t.Errorf("expected max_tokens 1024, got %d", req.MaxTokens)
		}
		if len(req.Messages) != 1 || req.Messages[0].Role != openai.ChatMessageRoleUser {
			t.Errorf("expected a single user message, got %+v", req.Messages)
		} else if req.Messages[0].Content != "make slides" {
			t.Errorf("unexpected prompt %q", req.Messages[0].Content)
		}
		writeCompletion(w, `{"slides":[]}`)
	}))
	defer server.Close()

	svc := NewAPILLMService(server.URL, "test-key", "test-model", 0.7, 1024, time.Second)
	var observed time.Duration
	svc.Observe = func(d time.Duration) { observed = d }

	got, err := svc.Complete(context.Background(), "make slides")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != `{"slides":[]}` {
		t.Errorf("unexpected completion: %s", got)
	}
	if observed <= 0 {
		t.Error("Observe should receive the round-trip duration")
	}
}

func TestComplete_NoAPIKey_NoRequest(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeCompletion(w, "ok")
	}))
	defer server.Close()

	svc := NewAPILLMService(server.URL, "  ", "model", 0.7, 100, time.Second)
	_, err := svc.Complete(context.Background(), "q")
	if !errors.Is(err, ErrNoAPIKey) {
		t.Fatalf("expected ErrNoAPIKey, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Error("no request should be made without an API key")
	}
}

func TestComplete_HTTPErrorNoRetry(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":{"message":"server error","type":"server_error"}}`))
	}))
	defer server.Close()

	svc := NewAPILLMService(server.URL, "key", "model", 0.7, 100, time.Second)
	_, err := svc.Complete(context.Background(), "q")
	if err == nil {
		t.Fatal("expected error on HTTP 500")
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("expected exactly 1 API call, got %d", n)
	}
}

func TestComplete_EmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(openai.ChatCompletionResponse{Choices: []openai.ChatCompletionChoice{}})
	}))
	defer server.Close()

	svc := NewAPILLMService(server.URL, "key", "model", 0.7, 100, time.Second)
	_, err := svc.Complete(context.Background(), "q")
	if !errors.Is(err, ErrEmptyCompletion) {
		t.Errorf("expected ErrEmptyCompletion, got %v", err)
	}
}

func TestComplete_BlankContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeCompletion(w, "   ")
	}))
	defer server.Close()

	svc := NewAPILLMService(server.URL, "key", "model", 0.7, 100, time.Second)
	if _, err := svc.Complete(context.Background(), "q"); !errors.Is(err, ErrEmptyCompletion) {
		t.Errorf("expected ErrEmptyCompletion, got %v", err)
	}
}

func TestComplete_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	svc := NewAPILLMService(server.URL, "key", "model", 0.7, 100, 50*time.Millisecond)
	start := time.Now()
	_, err := svc.Complete(context.Background(), "q")
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if time.Since(start) > 5*time.Second {
		t.Error("timeout was not enforced")
	}
}

func TestComplete_EndpointTrailingSlash(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("expected /chat/completions, got %s", r.URL.Path)
		}
		writeCompletion(w, "ok")
	}))
	defer server.Close()

	svc := NewAPILLMService(server.URL+"/", "key", "model", 0.7, 100, time.Second)
	got, err := svc.Complete(context.Background(), "q")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ok" {
		t.Errorf("expected ok, got %s", got)
	}
}

func TestNewAPILLMService_Defaults(t *testing.T) {
	svc := NewAPILLMService("", "k", "", 0.7, 0, 0)
	if svc.Endpoint != DefaultEndpoint {
		t.Errorf("endpoint = %s", svc.Endpoint)
	}
	if svc.ModelName != DefaultModel {
		t.Errorf("model = %s", svc.ModelName)
	}
	if svc.Timeout != DefaultTimeout {
		t.Errorf("timeout = %s", svc.Timeout)
	}
}
