package moderation

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"vidgenie/internal/config"
)

func TestKeywordGate(t *testing.T) {
	gate := NewKeywordGate([]string{" Forbidden ", "forbidden", "", "nsfw"})

	tests := []struct {
		name    string
		prompt  string
		allowed bool
	}{
		{name: "正常提示词", prompt: "a cat surfing a wave", allowed: true},
		{name: "命中关键词", prompt: "something FORBIDDEN here", allowed: false},
		{name: "第二个关键词", prompt: "nsfw art", allowed: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := gate.Moderate(context.Background(), tt.prompt)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result.Allowed != tt.allowed {
				t.Fatalf("allowed = %v, want %v", result.Allowed, tt.allowed)
			}
			if !tt.allowed && result.Reason == "" {
				t.Fatal("rejection should carry a reason")
			}
		})
	}
	if len(gate.terms) != 2 {
		t.Fatalf("expected terms to be deduplicated, got %v", gate.terms)
	}
}

func TestKeywordGateDefaultBlocklist(t *testing.T) {
	gate := NewKeywordGate(nil)
	result, _ := gate.Moderate(context.Background(), "Terrorist Attack on a city")
	if result.Allowed {
		t.Fatal("default blocklist should reject")
	}
}

func TestFakeGate(t *testing.T) {
	gate := &FakeGate{}
	if result, _ := gate.Moderate(context.Background(), "hello"); !result.Allowed {
		t.Fatal("fake gate allows by default")
	}
	gate.RejectWith("not today")
	result, _ := gate.Moderate(context.Background(), "hello")
	if result.Allowed || result.Reason != "not today" {
		t.Fatalf("unexpected result %#v", result)
	}
	gate.FailWith(errors.New("down"))
	if _, err := gate.Moderate(context.Background(), "hello"); err == nil {
		t.Fatal("expected error")
	}
	if len(gate.Prompts()) != 3 {
		t.Fatalf("expected 3 prompts recorded, got %d", len(gate.Prompts()))
	}
}

func TestOpenAIGate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/moderations") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"id":"modr-1","model":"omni-moderation-latest","results":[{"flagged":true,"categories":{"violence":true,"hate":true}}]}`))
	}))
	defer server.Close()

	gate, err := NewOpenAIGate("sk-test", server.URL+"/v1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	result, err := gate.Moderate(context.Background(), "something violent")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Allowed {
		t.Fatal("expected rejection")
	}
	if result.Reason != "prompt flagged for hate, violence" {
		t.Fatalf("unexpected reason %q", result.Reason)
	}

	badGate, _ := NewOpenAIGate("sk-wrong", server.URL+"/v1")
	if _, err := badGate.Moderate(context.Background(), "hi"); err == nil {
		t.Fatal("expected error for rejected key")
	}

	if _, err := NewOpenAIGate(" ", ""); err == nil {
		t.Fatal("expected error without api key")
	}
}

func TestNewGate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.Config
		wantErr bool
	}{
		{name: "默认关键词", cfg: config.Config{}},
		{name: "fake 开发环境", cfg: config.Config{ModerationProvider: "fake", AppEnv: config.EnvDevelopment}},
		{name: "fake 生产环境", cfg: config.Config{ModerationProvider: "fake", AppEnv: config.EnvProduction}, wantErr: true},
		{name: "openai 缺少密钥", cfg: config.Config{ModerationProvider: "openai"}, wantErr: true},
		{name: "未知实现", cfg: config.Config{ModerationProvider: "magic"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewGate(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewGate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
