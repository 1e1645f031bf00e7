package entity

import (
	"encoding/json"
	"testing"
)

func TestJobStatusProgress(t *testing.T) {
	tests := []struct {
		status   JobStatus
		expected int
	}{
		{JobStatusQueued, 5},
		{JobStatusGeneratingImage, 25},
		{JobStatusImageReady, 50},
		{JobStatusGeneratingVideo, 75},
		{JobStatusVideoReady, 100},
		{JobStatusFailed, 0},
		{JobStatus("UNKNOWN"), 0},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.Progress(); got != tt.expected {
				t.Errorf("expected %d, got %d", tt.expected, got)
			}
		})
	}
}

func TestJobKindCost(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		ok       bool
		expected int64
	}{
		{name: "图片", raw: "image", ok: true, expected: 5},
		{name: "图片加视频", raw: "VIDEO", ok: true, expected: 20},
		{name: "图生视频", raw: " image_to_video ", ok: true, expected: 15},
		{name: "未知类型", raw: "audio", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, ok := ParseJobKind(tt.raw)
			if ok != tt.ok {
				t.Fatalf("expected ok=%v, got %v", tt.ok, ok)
			}
			if ok && kind.Cost() != tt.expected {
				t.Errorf("expected cost %d, got %d", tt.expected, kind.Cost())
			}
		})
	}
}

func TestIsTerminal(t *testing.T) {
	tests := []struct {
		name     string
		kind     JobKind
		status   JobStatus
		terminal bool
	}{
		{name: "图片任务图片就绪为终态", kind: JobKindImage, status: JobStatusImageReady, terminal: true},
		{name: "视频任务图片就绪非终态", kind: JobKindVideo, status: JobStatusImageReady, terminal: false},
		{name: "视频就绪为终态", kind: JobKindVideo, status: JobStatusVideoReady, terminal: true},
		{name: "失败为终态", kind: JobKindImageToVideo, status: JobStatusFailed, terminal: true},
		{name: "排队中非终态", kind: JobKindImage, status: JobStatusQueued, terminal: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := DbGenerationJob{Kind: tt.kind, Status: tt.status}
			if got := job.IsTerminal(); got != tt.terminal {
				t.Errorf("expected %v, got %v", tt.terminal, got)
			}
		})
	}
}

func TestNonTerminalStatusesExcludeTerminal(t *testing.T) {
	for _, kind := range []JobKind{JobKindImage, JobKindVideo, JobKindImageToVideo} {
		for _, status := range NonTerminalStatuses(kind) {
			job := DbGenerationJob{Kind: kind, Status: status}
			if job.IsTerminal() {
				t.Errorf("%s: status %s listed as non-terminal", kind, status)
			}
		}
	}
}

func TestJobUpdatesNeverCarryCost(t *testing.T) {
	status := JobStatusFailed
	msg := "boom"
	retry := 2
	updates := JobUpdates{Status: &status, ErrorMessage: &msg, RetryCount: &retry, ClearProviderJobID: true}
	m := updates.ToMap()
	if _, ok := m["cost_credits"]; ok {
		t.Fatal("cost_credits must not be updatable")
	}
	if v, ok := m["provider_job_id"]; !ok || v != nil {
		t.Fatalf("expected provider_job_id cleared, got %v", v)
	}
	if m["status"] != JobStatusFailed {
		t.Fatalf("unexpected status %v", m["status"])
	}
}

func TestVideoWebhookPayload(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		jobID     string
		resultURL string
		failure   string
	}{
		{
			name:      "扁平格式",
			raw:       `{"provider_job_id":"p-1","status":"succeeded","video_url":"https://cdn/v.mp4"}`,
			jobID:     "p-1",
			resultURL: "https://cdn/v.mp4",
		},
		{
			name:      "任务对象格式",
			raw:       `{"id":"cgt-1","status":"succeeded","content":{"video_url":"https://cdn/x.mp4"}}`,
			jobID:     "cgt-1",
			resultURL: "https://cdn/x.mp4",
		},
		{
			name:    "字符串错误",
			raw:     `{"id":"cgt-2","status":"failed","error":"quota exceeded"}`,
			jobID:   "cgt-2",
			failure: "quota exceeded",
		},
		{
			name:    "对象错误",
			raw:     `{"id":"cgt-3","status":"failed","error":{"code":"InputRejected","message":"sensitive content"}}`,
			jobID:   "cgt-3",
			failure: "sensitive content",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var payload VideoWebhookPayload
			if err := json.Unmarshal([]byte(tt.raw), &payload); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if payload.JobIdentifier() != tt.jobID {
				t.Errorf("expected job id %q, got %q", tt.jobID, payload.JobIdentifier())
			}
			if payload.ResultURL() != tt.resultURL {
				t.Errorf("expected url %q, got %q", tt.resultURL, payload.ResultURL())
			}
			if payload.FailureMessage() != tt.failure {
				t.Errorf("expected failure %q, got %q", tt.failure, payload.FailureMessage())
			}
		})
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name     string
		kind     JobKind
		from     JobStatus
		to       JobStatus
		expected bool
	}{
		{name: "排队到生成图片", kind: JobKindVideo, from: JobStatusQueued, to: JobStatusGeneratingImage, expected: true},
		{name: "图生视频跳过图片生成", kind: JobKindImageToVideo, from: JobStatusQueued, to: JobStatusGeneratingImage, expected: false},
		{name: "图生视频直接图片就绪", kind: JobKindImageToVideo, from: JobStatusQueued, to: JobStatusImageReady, expected: true},
		{name: "纯图片不能生成视频", kind: JobKindImage, from: JobStatusImageReady, to: JobStatusGeneratingVideo, expected: false},
		{name: "视频生成完成", kind: JobKindVideo, from: JobStatusGeneratingVideo, to: JobStatusVideoReady, expected: true},
		{name: "非终态可失败", kind: JobKindVideo, from: JobStatusGeneratingVideo, to: JobStatusFailed, expected: true},
		{name: "终态不可失败", kind: JobKindVideo, from: JobStatusVideoReady, to: JobStatusFailed, expected: false},
		{name: "失败可重新排队", kind: JobKindImage, from: JobStatusFailed, to: JobStatusQueued, expected: true},
		{name: "成功不可重新排队", kind: JobKindImage, from: JobStatusImageReady, to: JobStatusQueued, expected: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := DbGenerationJob{Kind: tt.kind, Status: tt.from}
			if got := job.CanTransition(tt.to); got != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, got)
			}
		})
	}
}
