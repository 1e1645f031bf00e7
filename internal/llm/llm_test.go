package llm

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"vidgenie/internal/auth"
	"vidgenie/internal/entity"
)

func TestMapTaskStatus(t *testing.T) {
	tests := map[string]TaskStatus{
		"queued":    TaskStatusPending,
		"Running":   TaskStatusRunning,
		"SUCCEEDED": TaskStatusSucceeded,
		"failed":    TaskStatusFailed,
		"expired":   TaskStatusFailed,
		"canceled":  TaskStatusCancelled,
		"mystery":   TaskStatusRunning,
	}
	for raw, want := range tests {
		if got := MapTaskStatus(raw); got != want {
			t.Errorf("MapTaskStatus(%q) = %q, want %q", raw, got, want)
		}
	}
	if TaskStatusRunning.IsFinal() || !TaskStatusCancelled.IsFinal() {
		t.Fatal("IsFinal mismatch")
	}
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		size          string
		width, height int
	}{
		{size: "1024x1024", width: 1024, height: 1024},
		{size: " 1792X1024 ", width: 1792, height: 1024},
		{size: "2K", width: 0, height: 0},
		{size: "0x10", width: 0, height: 0},
		{size: "", width: 0, height: 0},
	}
	for _, tt := range tests {
		w, h := parseSize(tt.size)
		if w != tt.width || h != tt.height {
			t.Errorf("parseSize(%q) = %dx%d, want %dx%d", tt.size, w, h, tt.width, tt.height)
		}
	}
}

func TestProviderError(t *testing.T) {
	cause := errors.New("boom")
	err := newProviderError("openai", 429, cause, "rate limited")
	if err.Error() != "openai (status 429): rate limited" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected wrapped cause")
	}
	wrapped := errors.Join(errors.New("outer"), err)
	if !IsProviderError(wrapped) {
		t.Fatal("expected IsProviderError through wrapping")
	}
	if IsProviderError(cause) {
		t.Fatal("plain error is not a provider error")
	}
}

func TestMapOpenAIOptions(t *testing.T) {
	if mapOpenAIQuality("HD") != "hd" || mapOpenAIQuality("low") != "standard" || mapOpenAIQuality("") != "" {
		t.Fatal("quality mapping mismatch")
	}
	if mapOpenAIStyle("photo") != "natural" || mapOpenAIStyle("anime") != "vivid" || mapOpenAIStyle("") != "" {
		t.Fatal("style mapping mismatch")
	}
}

func TestNewGenerators(t *testing.T) {
	fake := &entity.DbProvider{ID: "fake", Driver: entity.ProviderDriverFake, IsActive: true}

	t.Run("fake 驱动", func(t *testing.T) {
		image, err := NewImageGenerator(fake, "", Options{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if image.Name() != "fake" {
			t.Fatalf("unexpected name %q", image.Name())
		}
		video, err := NewVideoGenerator(fake, "", Options{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, ok := video.(TaskPoller); !ok {
			t.Fatal("fake video should support polling")
		}
	})

	t.Run("停用的服务商", func(t *testing.T) {
		disabled := &entity.DbProvider{ID: "fake", Driver: entity.ProviderDriverFake}
		if _, err := NewImageGenerator(disabled, "", Options{}); err == nil {
			t.Fatal("expected error for disabled provider")
		}
	})

	t.Run("缺少密钥", func(t *testing.T) {
		openai := &entity.DbProvider{ID: "openai", Driver: entity.ProviderDriverOpenAI, IsActive: true}
		if _, err := NewImageGenerator(openai, "", Options{}); err == nil {
			t.Fatal("expected error without api key")
		}
	})

	t.Run("openai 不支持视频", func(t *testing.T) {
		openai := &entity.DbProvider{ID: "openai", Driver: entity.ProviderDriverOpenAI, APIKey: "sk-test", IsActive: true}
		if _, err := NewVideoGenerator(openai, "", Options{}); err == nil {
			t.Fatal("expected unsupported driver error")
		}
	})
}

func TestFakeImage(t *testing.T) {
	gen := NewFakeImage("")
	result, err := gen.GenerateImage(context.Background(), ImageRequest{Prompt: "a red fox", Size: "32x16"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(result.ImageURL, "data:image/png;base64,") {
		t.Fatalf("expected png data url, got %q", result.ImageURL[:32])
	}
	if result.Width != 32 || result.Height != 16 {
		t.Fatalf("unexpected size %dx%d", result.Width, result.Height)
	}

	gen.FailWith(errors.New("quota exceeded"))
	_, err = gen.GenerateImage(context.Background(), ImageRequest{Prompt: "a red fox"})
	if !IsProviderError(err) {
		t.Fatalf("expected provider error, got %v", err)
	}
	if gen.Calls() != 2 {
		t.Fatalf("expected 2 calls, got %d", gen.Calls())
	}
}

func TestFakeVideoDeliversSignedCallback(t *testing.T) {
	received := make(chan *http.Request, 1)
	bodies := make(chan []byte, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received <- r
		bodies <- body
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	gen := NewFakeVideo("fake", FakeVideoOptions{Delay: 10 * time.Millisecond, WebhookSecret: "whsec"})
	result, err := gen.GenerateVideo(context.Background(), VideoRequest{
		ImageURL:    "data:image/png;base64,AAAA",
		Prompt:      "zoom in",
		CallbackURL: server.URL,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case req := <-received:
		body := <-bodies
		if !auth.VerifySignature("whsec", body, req.Header.Get(SignatureHeader)) {
			t.Fatal("callback signature should verify")
		}
		task, err := parseVolcengineTask(body)
		if err != nil {
			t.Fatalf("callback body should parse: %v", err)
		}
		if task.ID != result.JobID || task.Status != TaskStatusSucceeded || task.VideoURL == "" {
			t.Fatalf("unexpected callback task %#v", task)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("callback not delivered")
	}

	polled, err := gen.Poll(context.Background(), result.JobID)
	if err != nil {
		t.Fatalf("unexpected poll error: %v", err)
	}
	if polled.Status != TaskStatusSucceeded {
		t.Fatalf("expected succeeded, got %q", polled.Status)
	}
}

func TestFakeVideoCancel(t *testing.T) {
	gen := NewFakeVideo("fake", FakeVideoOptions{Delay: time.Hour})
	result, err := gen.GenerateVideo(context.Background(), VideoRequest{ImageURL: "https://example.com/a.png"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := gen.CancelVideo(context.Background(), result.JobID); err != nil {
		t.Fatalf("unexpected cancel error: %v", err)
	}
	task, err := gen.Poll(context.Background(), result.JobID)
	if err != nil {
		t.Fatalf("unexpected poll error: %v", err)
	}
	if task.Status != TaskStatusCancelled {
		t.Fatalf("expected cancelled, got %q", task.Status)
	}

	if _, err := gen.GenerateVideo(context.Background(), VideoRequest{}); !IsProviderError(err) {
		t.Fatalf("expected provider error without first frame, got %v", err)
	}
	if _, err := gen.Poll(context.Background(), "missing"); err == nil {
		t.Fatal("expected error for unknown task")
	}
}

func TestProviderLoggerCarriesJobID(t *testing.T) {
	entry := providerLogger(WithJobID(context.Background(), " job-42 "), "volcengine", " seedance ")
	if entry.Data["job_id"] != "job-42" || entry.Data["model"] != "seedance" || entry.Data["provider"] != "volcengine" {
		t.Fatalf("unexpected log fields %#v", entry.Data)
	}

	plain := providerLogger(context.Background(), "fake", "")
	if _, ok := plain.Data["job_id"]; ok {
		t.Fatal("job_id should be absent without a job context")
	}
	if _, ok := plain.Data["model"]; ok {
		t.Fatal("empty model should be omitted")
	}
}

func TestLogSnippet(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  string
	}{
		{"空白", "   ", ""},
		{"短文本原样返回", " a harbour ", "a harbour"},
		{"按字符截断", strings.Repeat("港", logSnippetLimit+5), strings.Repeat("港", logSnippetLimit) + "..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := logSnippet(tt.value); got != tt.want {
				t.Fatalf("logSnippet() = %q, want %q", got, tt.want)
			}
		})
	}
}
